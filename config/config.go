// Package config holds the recognized server options (§6) and a loader
// that reads them from a TOML file, in the teacher's NewConfig/setDefaults
// style (http/server/config.go) generalized to a file-backed source.
package config

import (
	"fmt"
	"time"

	"github.com/BurntSushi/toml"
)

// Config holds every recognized option from §6.
type Config struct {
	Network string
	Address string

	MaxRequestLineSize   int64 `toml:"max_request_line_size"`
	MaxRequestHeaderSize int64 `toml:"max_request_header_size"`
	MaxActiveRequests    int64 `toml:"max_active_requests"`

	MaxURLEncodedFormSize     int64 `toml:"max_url_encoded_form_size"`
	AutoParseMultipartFormData bool `toml:"auto_parse_multipart_form_data"`
	MaxPostSize               int64 `toml:"max_post_size"`

	AllowHTTPMethodOverride    bool   `toml:"allow_http_method_override"`
	AllowedSourceIPHeaderValue string `toml:"allowed_source_ip_header_value"`

	RequestIdleTimeoutSeconds       int64 `toml:"request_idle_timeout_seconds"`
	RequestHeaderReadTimeoutSeconds int64 `toml:"request_header_read_timeout_seconds"`
	KeepAliveMaxRequests            int64 `toml:"keep_alive_max_requests"`
	KeepAliveTimeoutSeconds         int64 `toml:"keep_alive_timeout_seconds"`
	MaxProcessingTimeSeconds        int64 `toml:"max_processing_time_seconds"`

	SSLRequireClientCert           bool     `toml:"ssl_require_client_cert"`
	SSLCheckCertificateRevocation  bool     `toml:"ssl_check_certificate_revocation"`
	SSLEnabledProtocols            []string `toml:"ssl_enabled_protocols"`
}

// NewConfig returns a Config with the teacher's constructor shape: an
// address argument plus setDefaults for everything else.
func NewConfig(address string) *Config {
	c := &Config{Address: address}
	c.setDefaults()
	return c
}

func (c *Config) setDefaults() {
	if c.Network == "" {
		c.Network = "tcp"
	}
	if c.Address == "" {
		c.Address = "localhost:8080"
	}
	if c.MaxRequestLineSize == 0 {
		c.MaxRequestLineSize = 8 * 1024
	}
	if c.MaxRequestHeaderSize == 0 {
		c.MaxRequestHeaderSize = 1 << 20
	}
	if c.MaxActiveRequests == 0 {
		c.MaxActiveRequests = 10_000
	}
	if c.MaxURLEncodedFormSize == 0 {
		c.MaxURLEncodedFormSize = 2 << 20
	}
	if c.MaxPostSize == 0 {
		c.MaxPostSize = 32 << 20
	}
	if c.RequestIdleTimeoutSeconds == 0 {
		c.RequestIdleTimeoutSeconds = 75
	}
	if c.RequestHeaderReadTimeoutSeconds == 0 {
		c.RequestHeaderReadTimeoutSeconds = 10
	}
	if c.KeepAliveMaxRequests == 0 {
		c.KeepAliveMaxRequests = 1000
	}
	if c.KeepAliveTimeoutSeconds == 0 {
		c.KeepAliveTimeoutSeconds = 75
	}
	if c.MaxProcessingTimeSeconds == 0 {
		c.MaxProcessingTimeSeconds = 30
	}
}

// RequestIdleTimeout is RequestIdleTimeoutSeconds as a time.Duration.
func (c *Config) RequestIdleTimeout() time.Duration {
	return time.Duration(c.RequestIdleTimeoutSeconds) * time.Second
}

// RequestHeaderReadTimeout is RequestHeaderReadTimeoutSeconds as a time.Duration.
func (c *Config) RequestHeaderReadTimeout() time.Duration {
	return time.Duration(c.RequestHeaderReadTimeoutSeconds) * time.Second
}

// MaxProcessingTime is MaxProcessingTimeSeconds as a time.Duration.
func (c *Config) MaxProcessingTime() time.Duration {
	return time.Duration(c.MaxProcessingTimeSeconds) * time.Second
}

// KeepAliveTimeout is KeepAliveTimeoutSeconds as a time.Duration.
func (c *Config) KeepAliveTimeout() time.Duration {
	return time.Duration(c.KeepAliveTimeoutSeconds) * time.Second
}

// Load reads a TOML file at path into a Config, applying defaults for any
// option the file leaves unset.
func Load(path string) (*Config, error) {
	c := &Config{}
	if _, err := toml.DecodeFile(path, c); err != nil {
		return nil, fmt.Errorf("config: could not decode %s: %w", path, err)
	}
	c.setDefaults()
	return c, nil
}

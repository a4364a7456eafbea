// Command httpd is the daemon front-end wiring config, listener, the
// route table, and logging together (§4.13, §6 "CLI surface").
package main

import (
	"context"
	"flag"
	"log"
	"net"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/curol/httpd/bind"
	"github.com/curol/httpd/config"
	"github.com/curol/httpd/conn"
	"github.com/curol/httpd/dispatch"
	"github.com/curol/httpd/handler"
	"github.com/curol/httpd/listener"
	"github.com/curol/httpd/logging"
	"github.com/curol/httpd/rcontext"
	"github.com/curol/httpd/route"
	"github.com/curol/httpd/session"
)

func main() {
	configPath := flag.String("config", "", "path to a TOML config file")
	address := flag.String("address", "localhost:8080", "listen address used when -config is omitted")
	flag.Parse()

	cfg, err := loadConfig(*configPath, *address)
	if err != nil {
		log.Fatal(err)
	}

	zapLogger, err := zap.NewProduction()
	if err != nil {
		log.Fatal(err)
	}
	defer zapLogger.Sync()
	logger := logging.NewZapLogger(zapLogger)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGHUP, syscall.SIGINT, syscall.SIGQUIT)

	for {
		runCtx, cancel := context.WithCancel(context.Background())
		done := make(chan error, 1)
		go func() { done <- run(runCtx, cfg, logger) }()

		select {
		case err := <-done:
			cancel()
			if err != nil {
				log.Fatal(err)
			}
			return
		case sig := <-sigCh:
			cancel()
			<-done
			switch sig {
			case syscall.SIGQUIT:
				return
			case syscall.SIGHUP, syscall.SIGINT:
				reloaded, err := loadConfig(*configPath, *address)
				if err != nil {
					zapLogger.Error("reload failed, keeping previous config", zap.Error(err))
					continue
				}
				cfg = reloaded
				zapLogger.Info("configuration reloaded")
			}
		}
	}
}

func loadConfig(path, fallbackAddress string) (*config.Config, error) {
	if path == "" {
		return config.NewConfig(fallbackAddress), nil
	}
	return config.Load(path)
}

// run builds the route table, handler stack, and listener from cfg and
// serves until ctx is cancelled.
func run(ctx context.Context, cfg *config.Config, logger logging.Logger) error {
	table, err := routes()
	if err != nil {
		return err
	}

	dispatcher := dispatch.New(table, dispatch.Limits{
		MaxURLEncodedFormSize: cfg.MaxURLEncodedFormSize,
		MaxPostSize:           cfg.MaxPostSize,
	})
	stack := handler.NewStack()
	stack.Use("router", dispatcher.AsHandler())

	store := session.NewMemoryStore()

	loopCfg := conn.Config{
		MaxLineBytes:               int(cfg.MaxRequestLineSize),
		MaxHeaderBytes:             int(cfg.MaxRequestHeaderSize),
		MaxPostSize:                cfg.MaxPostSize,
		MaxURLEncodedFormSize:      cfg.MaxURLEncodedFormSize,
		AutoParseMultipartFormData: cfg.AutoParseMultipartFormData,
		RequestIdleTimeout:         cfg.RequestIdleTimeout(),
		RequestHeaderReadTimeout:   cfg.RequestHeaderReadTimeout(),
		MaxProcessingTime:          cfg.MaxProcessingTime(),
		KeepAliveMaxRequests:       cfg.KeepAliveMaxRequests,
		AllowHTTPMethodOverride:    cfg.AllowHTTPMethodOverride,
	}

	lst := listener.New(listener.Config{
		Network:           cfg.Network,
		Address:           cfg.Address,
		MaxActiveRequests: cfg.MaxActiveRequests,
		DrainGracePeriod:  cfg.KeepAliveTimeout(),
	}, func(connCtx context.Context, netConn net.Conn) {
		loop := conn.New(netConn, loopCfg, stack, logger, store)
		loop.Serve(connCtx)
	})
	return lst.Run(ctx)
}

// routes is the application's route table. A real deployment registers
// its controllers here via bind.Builder; this front-end ships a single
// manual health-check route so the daemon is runnable standalone.
func routes() (*route.Table, error) {
	b := bind.NewBuilder()
	b.Handle("GET /healthz", func(ctx *rcontext.Context, args []any) (route.Result, error) {
		return route.Result{StatusCode: 200, Body: []byte("ok"), ContentType: "text/plain"}, nil
	})
	return b.Build()
}

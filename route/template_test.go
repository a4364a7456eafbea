package route

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCompileMatch_RequiredVariable(t *testing.T) {
	c, err := Compile("/api/v1/entry/{id}", false)
	require.NoError(t, err)

	captures, ok := c.Match("/api/v1/entry/7")
	require.True(t, ok)
	assert.Equal(t, "7", captures["id"])

	_, ok = c.Match("/api/v1/entry/")
	assert.False(t, ok)
}

func TestCompileMatch_DefaultAndOptional(t *testing.T) {
	c, err := Compile("/search[/{q=all}]", false)
	require.NoError(t, err)

	captures, ok := c.Match("/search")
	require.True(t, ok)
	_, present := captures["q"]
	assert.False(t, present)
	def, isOptional := c.VariableDefault("q")
	assert.True(t, isOptional)
	assert.Equal(t, "all", def)

	captures, ok = c.Match("/search/books")
	require.True(t, ok)
	assert.Equal(t, "books", captures["q"])
}

func TestCompileMatch_TerminalStar(t *testing.T) {
	c, err := Compile("/assets/{*path}", false)
	require.NoError(t, err)

	captures, ok := c.Match("/assets/css/site.css")
	require.True(t, ok)
	assert.Equal(t, "css/site.css", captures["path"])
}

func TestCompileMatch_CaseInsensitiveByDefault(t *testing.T) {
	c, err := Compile("/Users/{id}", false)
	require.NoError(t, err)

	_, ok := c.Match("/users/1")
	assert.True(t, ok)
}

func TestCompileMatch_CaseSensitive(t *testing.T) {
	c, err := Compile("/Users/{id}", true)
	require.NoError(t, err)

	_, ok := c.Match("/users/1")
	assert.False(t, ok)
	_, ok = c.Match("/Users/1")
	assert.True(t, ok)
}

// Both templates have four literal segments and one capture, so both score
// 4*1000 - 10 = 3990; which of them wins for "/api/v1/entry/detail/7" is
// then decided by table insertion order, not by the score.
func TestPrecedence_EqualLiteralSegmentsScoreEqually(t *testing.T) {
	trailingCapture, err := Compile("/api/v1/entry/detail/{id}", false)
	require.NoError(t, err)
	splitByCapture, err := Compile("/api/v1/entry/{id}/detail", false)
	require.NoError(t, err)

	assert.Equal(t, 3990, trailingCapture.Precedence)
	assert.Equal(t, trailingCapture.Precedence, splitByCapture.Precedence)
}

func TestCompile_UnterminatedCaptureIsError(t *testing.T) {
	_, err := Compile("/entry/{id", false)
	assert.Error(t, err)
}

// A bare {name=default} with no surrounding [...] is itself optional: the
// whole trailing segment, slash included, may be absent and the declared
// default applies (§4.6).
func TestCompileMatch_BareDefaultCaptureIsOptional(t *testing.T) {
	c, err := Compile("/widgets/{id=0}", false)
	require.NoError(t, err)

	captures, ok := c.Match("/widgets")
	require.True(t, ok)
	_, present := captures["id"]
	assert.False(t, present)
	def, isOptional := c.VariableDefault("id")
	assert.True(t, isOptional)
	assert.Equal(t, "0", def)

	captures, ok = c.Match("/widgets/42")
	require.True(t, ok)
	assert.Equal(t, "42", captures["id"])
}

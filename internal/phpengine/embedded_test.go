package phpengine

import (
	"bufio"
	"bytes"
	"log/slog"
	"testing"
	"unsafe"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEmbeddedIdentity(t *testing.T) {
	e := &Embedded{}
	assert.Equal(t, "embed", e.Name())
	assert.Equal(t, "PHP Embedded (phpembed)", e.PrettyName())

	e.SAPIName = "cli"
	assert.Equal(t, "cli", e.Name())

	_, err := e.Stat()
	assert.ErrorIs(t, err, ErrNotImplemented)
	assert.ErrorIs(t, e.TerminateProcess(), ErrNotImplemented)
	assert.Zero(t, e.ReadPost(make([]byte, 8)))
	assert.Empty(t, e.ReadCookies())
}

func TestEmbeddedFlush(t *testing.T) {
	var out bytes.Buffer
	w := bufio.NewWriter(&out)
	e := &Embedded{Output: w}
	env := &EmbeddedEnv{}

	e.UnbufferedWrite([]byte("buffered"))
	assert.Empty(t, out.String())

	e.Flush(env)
	assert.Equal(t, "buffered", out.String())
	assert.Equal(t, 1, env.Flushes)
}

func TestEmbeddedGetenv(t *testing.T) {
	t.Setenv("PHPEMBED_TEST_VAR", "from-process")
	t.Setenv("PHPEMBED_TEST_OVERLAID", "from-process")
	e := &Embedded{Env: map[string]string{"PHPEMBED_TEST_OVERLAID": "from-overlay"}}

	v, ok := e.Getenv("PHPEMBED_TEST_VAR")
	assert.True(t, ok)
	assert.Equal(t, "from-process", v)

	v, ok = e.Getenv("PHPEMBED_TEST_OVERLAID")
	assert.True(t, ok)
	assert.Equal(t, "from-overlay", v)

	_, ok = e.Getenv("PHPEMBED_TEST_UNSET")
	assert.False(t, ok)
}

func TestEmbeddedServerVariables(t *testing.T) {
	t.Setenv("PHPEMBED_TEST_VAR", "from-process")
	t.Setenv("PHPEMBED_TEST_OVERLAID", "from-process")
	f := newFakeEngine()
	e := &Embedded{Env: map[string]string{"PHPEMBED_TEST_OVERLAID": "from-overlay", "APP_ENV": "test"}}

	e.RegisterServerVariables(&TrackVars{abi: f, zv: unsafe.Pointer(&f.track)})
	assert.Equal(t, "from-process", f.server["PHPEMBED_TEST_VAR"])
	assert.Equal(t, "from-overlay", f.server["PHPEMBED_TEST_OVERLAID"])
	assert.Equal(t, "test", f.server["APP_ENV"])
}

func TestEmbeddedRequestTime(t *testing.T) {
	e := &Embedded{}
	assert.Positive(t, e.RequestTime())

	require.Equal(t, resultSuccess, e.Activate())
	first := e.RequestTime()
	assert.Equal(t, first, e.RequestTime(), "request time is fixed at activation")
}

func TestEmbeddedContextFlushes(t *testing.T) {
	ctx, f, out := newTestContext(t)
	f.eval = func(code string, ret *fakeZval) {
		f.echo("partial")
		lookupSession(f.handle).sapi.flush(f.handle)
	}

	v, err := ctx.ResultOf("echo 'partial'; flush();", false)
	require.NoError(t, err)
	defer v.Release()
	assert.Equal(t, "partial", out.String())
	assert.Equal(t, 1, ctx.Env().Flushes)
}

func TestEmbeddedLogMessageUsesContextLogger(t *testing.T) {
	useFakeEngine(t)
	var logs bytes.Buffer
	e := &Embedded{Output: &bytes.Buffer{}}
	ctx := NewContext[EmbeddedEnv](e, nil)
	ctx.SetLogger(slog.New(slog.NewTextHandler(&logs, nil)))
	require.NoError(t, ctx.Init())
	defer ctx.Close()

	e.LogMessage("disk full", 3)
	assert.Contains(t, logs.String(), "disk full")
	assert.Contains(t, logs.String(), "level=ERROR")
}

func TestEmbeddedLogMessageKeepsOwnLogger(t *testing.T) {
	useFakeEngine(t)
	var own, shared bytes.Buffer
	e := &Embedded{Output: &bytes.Buffer{}, Logger: slog.New(slog.NewTextHandler(&own, nil))}
	ctx := NewContext[EmbeddedEnv](e, nil)
	ctx.SetLogger(slog.New(slog.NewTextHandler(&shared, nil)))
	require.NoError(t, ctx.Init())
	defer ctx.Close()

	e.LogMessage("cache warmed", 6)
	assert.Contains(t, own.String(), "cache warmed")
	assert.Empty(t, shared.String())
}

func TestEmbeddedLogMessageFallsBackToDefault(t *testing.T) {
	prev := slog.Default()
	t.Cleanup(func() { slog.SetDefault(prev) })
	var logs bytes.Buffer
	slog.SetDefault(slog.New(slog.NewTextHandler(&logs, nil)))
	SetLogger(nil)

	(&Embedded{}).LogMessage("no logger configured", 4)
	assert.Contains(t, logs.String(), "no logger configured")
}

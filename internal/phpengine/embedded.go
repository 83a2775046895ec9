package phpengine

import (
	"io"
	"log/slog"
	"os"
	"strings"
	"time"
)

// EmbeddedEnv is the server context of the Embedded strategy.
type EmbeddedEnv struct {
	Flushes int
}

// Embedded is the default strategy: output goes to a writer (stdout unless
// set), getenv reads the process environment with Env laid over it, and
// there is no request body or cookies.
type Embedded struct {
	// SAPIName overrides the name php_sapi_name() reports ("embed").
	SAPIName string
	Output   io.Writer
	Env      map[string]string
	Logger   *slog.Logger

	started time.Time
}

// NewEmbedded returns a Context running the Embedded strategy on stdout.
func NewEmbedded() *Context[EmbeddedEnv] {
	return NewContext[EmbeddedEnv](&Embedded{}, nil)
}

func (e *Embedded) Name() string {
	if e.SAPIName != "" {
		return e.SAPIName
	}
	return "embed"
}

func (e *Embedded) PrettyName() string { return "PHP Embedded (phpembed)" }

func (e *Embedded) Startup(m *Module) int  { return m.Startup() }
func (e *Embedded) Shutdown(m *Module) int { return m.Shutdown() }

func (e *Embedded) Activate() int {
	e.started = time.Now()
	return resultSuccess
}

func (e *Embedded) Deactivate() int { return resultSuccess }

func (e *Embedded) out() io.Writer {
	if e.Output == nil {
		return os.Stdout
	}
	return e.Output
}

func (e *Embedded) UnbufferedWrite(p []byte) int {
	n, err := e.out().Write(p)
	if err != nil {
		e.logger().Warn("php output write failed", "error", err)
	}
	return n
}

func (e *Embedded) Flush(env *EmbeddedEnv) {
	switch w := e.out().(type) {
	case interface{ Flush() error }:
		_ = w.Flush()
	case interface{ Sync() error }:
		_ = w.Sync()
	}
	env.Flushes++
}

func (e *Embedded) Stat() (*Stat, error) { return nil, ErrNotImplemented }

func (e *Embedded) Getenv(name string) (string, bool) {
	if v, ok := e.Env[name]; ok {
		return v, true
	}
	return os.LookupEnv(name)
}

// SendHeader discards headers; there is no client to send them to.
func (e *Embedded) SendHeader(string, *EmbeddedEnv) {}

func (e *Embedded) ReadPost([]byte) int { return 0 }
func (e *Embedded) ReadCookies() string { return "" }

// RegisterServerVariables imports the environment into $_SERVER the way
// the CLI SAPI does.
func (e *Embedded) RegisterServerVariables(vars *TrackVars) {
	for _, kv := range os.Environ() {
		k, v, ok := strings.Cut(kv, "=")
		if _, overlaid := e.Env[k]; ok && !overlaid {
			vars.Insert(k, v)
		}
	}
	for k, v := range e.Env {
		vars.Insert(k, v)
	}
}

func (e *Embedded) RequestTime() float64 {
	t := e.started
	if t.IsZero() {
		t = time.Now()
	}
	return float64(t.UnixNano()) / float64(time.Second)
}

func (e *Embedded) TerminateProcess() error { return ErrNotImplemented }

func (e *Embedded) LogMessage(msg string, syslogType int) {
	logPHPMessage(e.logger(), syslogType, msg)
}

func (e *Embedded) inheritLogger(l *slog.Logger) {
	if e.Logger == nil {
		e.Logger = l
	}
}

func (e *Embedded) logger() *slog.Logger {
	if e.Logger != nil {
		return e.Logger
	}
	if l := getLogger(); l != nil {
		return l
	}
	return slog.Default()
}

package worker

import (
	"bytes"
	"fmt"
	"net/http"

	"github.com/sadewadee/phpembed/internal/phpengine"
)

// embeddedSession keeps one engine running across Eval, Call and Run jobs.
type embeddedSession struct {
	ctx *phpengine.Context[phpengine.EmbeddedEnv]
	out *bytes.Buffer
}

func (w *Worker) openEmbedded() (session, error) {
	out := new(bytes.Buffer)
	strategy := &phpengine.Embedded{
		SAPIName: w.cfg.PHP.SAPIName,
		Output:   out,
		Env:      w.cfg.App.Env,
		Logger:   w.logger,
	}
	ctx := phpengine.NewContext[phpengine.EmbeddedEnv](strategy, nil)
	if err := configure(w, ctx); err != nil {
		return nil, err
	}
	if err := ctx.Init(); err != nil {
		return nil, err
	}
	return &embeddedSession{ctx: ctx, out: out}, nil
}

func (s *embeddedSession) run(job Job) (*Result, error) {
	s.out.Reset()

	var (
		v   *phpengine.Value
		err error
	)
	switch job.Kind {
	case KindEval:
		v, err = s.ctx.ResultOf(job.Expr, job.ClearGlobals)
	case KindCall:
		v, err = s.ctx.CallWith(job.Function, job.Args...)
	case KindRun:
		v, err = s.ctx.ExecuteFile(job.Path, job.ResetGlobals)
	default:
		return nil, fmt.Errorf("worker: %s job cannot run in the embedded engine", job.Kind)
	}
	if err != nil {
		return nil, err
	}

	res := resultOf(v)
	res.Output = bytes.Clone(s.out.Bytes())
	return res, nil
}

func (s *embeddedSession) close() { s.ctx.Close() }

// httpSession serves exactly one request.
type httpSession struct {
	ctx      *phpengine.Context[phpengine.RequestEnv]
	strategy *phpengine.HTTP
}

func (w *Worker) openHTTP(req *http.Request) (session, error) {
	strategy, env := phpengine.NewHTTP(req, w.root, w.entry)
	strategy.Env = w.cfg.App.Env
	strategy.Logger = w.logger

	ctx := phpengine.NewContext[phpengine.RequestEnv](strategy, env)
	if err := configure(w, ctx); err != nil {
		return nil, err
	}
	return &httpSession{ctx: ctx, strategy: strategy}, nil
}

func (s *httpSession) run(Job) (*Result, error) {
	v, err := s.ctx.ExecuteFile(s.strategy.ScriptFilename(), false)
	if err != nil {
		return nil, err
	}
	res := resultOf(v)
	res.Response = s.ctx.Env()
	return res, nil
}

func (s *httpSession) close() { s.ctx.Close() }

// configure applies the worker's engine settings to a Context that has not
// started yet.
func configure[E any](w *Worker, ctx *phpengine.Context[E]) error {
	ctx.SetLogger(w.logger)
	for k, v := range w.cfg.PHP.INI {
		ctx.SetINI(k, v)
	}
	if len(w.cfg.PHP.Argv) > 0 {
		ctx.Argv(w.cfg.PHP.Argv...)
	}
	if w.extensions != nil {
		if err := ctx.LoadExtensions(w.extensions); err != nil {
			return err
		}
	}
	if w.bootstrap != "" {
		path, logger := w.bootstrap, w.logger
		ctx.OnInit(func(c *phpengine.Context[E]) {
			v, err := c.ExecuteFile(path, false)
			if err != nil {
				logger.Error("bootstrap script failed", "path", path, "error", err)
				return
			}
			if v.Thrown() {
				logger.Error("bootstrap script threw", "path", path, "exception", v.Dump())
			}
			v.Release()
		})
	}
	return nil
}

// resultOf exports v and releases it.
func resultOf(v *phpengine.Value) *Result {
	defer v.Release()
	res := &Result{Type: v.TypeName(), Value: v.Export(), Exception: v.Thrown()}
	if v.IsArray() || v.IsObject() {
		res.Dump = v.Dump()
	}
	return res
}

package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"path/filepath"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sadewadee/phpembed/internal/config"
	"github.com/sadewadee/phpembed/internal/phpengine"
)

// ErrStopped is returned by Exec once the worker has been stopped.
var ErrStopped = errors.New("worker: stopped")

// WorkerState represents the current state of a worker.
type WorkerState int32

const (
	StateIdle WorkerState = iota
	StateBusy
	StateStopped
)

func (s WorkerState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateBusy:
		return "busy"
	case StateStopped:
		return "stopped"
	}
	return "unknown"
}

// Kind selects what a Job does.
type Kind int

const (
	KindEval Kind = iota
	KindCall
	KindRun
	KindHTTP
)

func (k Kind) String() string {
	switch k {
	case KindEval:
		return "eval"
	case KindCall:
		return "call"
	case KindRun:
		return "run"
	case KindHTTP:
		return "http"
	}
	return "unknown"
}

// Job is one unit of work for the engine.
type Job struct {
	Kind Kind

	Expr         string // KindEval
	ClearGlobals bool

	Function string // KindCall
	Args     []any

	Path         string // KindRun
	ResetGlobals bool

	Request *http.Request // KindHTTP
}

func EvalJob(expr string, clearGlobals bool) Job {
	return Job{Kind: KindEval, Expr: expr, ClearGlobals: clearGlobals}
}

func CallJob(function string, args ...any) Job {
	return Job{Kind: KindCall, Function: function, Args: args}
}

func RunJob(path string, resetGlobals bool) Job {
	return Job{Kind: KindRun, Path: path, ResetGlobals: resetGlobals}
}

func HTTPJob(req *http.Request) Job {
	return Job{Kind: KindHTTP, Request: req}
}

// Result is what a job produced. Value is the PHP value exported to plain
// Go data; Output is what the script printed. HTTP jobs carry their
// response in Response instead of Output. Exception is set when Value is
// an uncaught exception rather than the script's own result.
type Result struct {
	Type      string
	Value     any
	Dump      string
	Exception bool
	Output    []byte
	Response  *phpengine.RequestEnv
	Duration  time.Duration
}

// session runs jobs against one engine Context.
type session interface {
	run(job Job) (*Result, error)
	close()
}

type request struct {
	job   Job
	reply chan reply
}

type reply struct {
	result *Result
	err    error
}

// Worker owns the embedded PHP engine. libphp is bound to the thread that
// started it, so every job runs on one goroutine locked to its OS thread.
type Worker struct {
	cfg        *config.Config
	logger     *slog.Logger
	version    string
	root       string
	entry      string
	bootstrap  string
	extensions *phpengine.ExtensionManager
	maxJobs    int

	state     atomic.Int32
	jobs      atomic.Int64
	total     atomic.Int64
	recycles  atomic.Int64
	reload    atomic.Bool
	lastJobAt atomic.Int64
	startedAt time.Time

	requests chan request
	quit     chan struct{}
	done     chan struct{}
	start    sync.Once
	stop     sync.Once

	// Owned by the run loop.
	current     session
	openSession func() (session, error)
	openRequest func(req *http.Request) (session, error)
}

// New creates a worker for cfg. Call Start before Exec.
func New(cfg *config.Config, logger *slog.Logger) *Worker {
	if logger == nil {
		logger = slog.Default()
	}
	root, err := filepath.Abs(cfg.App.Root)
	if err != nil {
		root = cfg.App.Root
	}
	version := phpengine.SelectVersion(root, cfg.PHP.Version)

	w := &Worker{
		cfg:      cfg,
		logger:   logger,
		version:  version,
		root:     root,
		entry:    phpengine.DetectEntryPoint(root, cfg.App.Entry),
		maxJobs:  cfg.Worker.MaxJobs,
		requests: make(chan request),
		quit:     make(chan struct{}),
		done:     make(chan struct{}),
	}
	if b := cfg.App.Bootstrap; b != "" {
		if !filepath.IsAbs(b) {
			b = filepath.Join(root, b)
		}
		w.bootstrap = b
	}

	// Create extension manager if extensions are configured
	if len(cfg.PHP.Extensions.Required) > 0 || len(cfg.PHP.Extensions.Optional) > 0 {
		w.extensions = phpengine.NewExtensionManager(version, &phpengine.ExtensionConfig{
			Required: cfg.PHP.Extensions.Required,
			Optional: cfg.PHP.Extensions.Optional,
		})
		if cfg.PHP.ExtensionDir != "" {
			w.extensions.SetExtensionDir(cfg.PHP.ExtensionDir)
		}
		w.extensions.SetLogger(logger)
	}

	w.openSession = w.openEmbedded
	w.openRequest = w.openHTTP
	return w
}

// Version is the PHP version selected for the project.
func (w *Worker) Version() string { return w.version }

// Root is the absolute project root.
func (w *Worker) Root() string { return w.root }

// Entry is the script HTTP jobs execute, relative to Root.
func (w *Worker) Entry() string { return w.entry }

// State returns the current worker state.
func (w *Worker) State() WorkerState {
	return WorkerState(w.state.Load())
}

// Start launches the engine thread. The engine itself starts lazily with
// the first job.
func (w *Worker) Start() {
	w.start.Do(func() {
		w.startedAt = time.Now()
		w.state.Store(int32(StateIdle))
		go w.loop()
		w.logger.Info("php worker started",
			"php_version", w.version,
			"root", w.root,
			"entry", w.entry,
			"max_jobs", w.maxJobs,
		)
	})
}

// Stop shuts the engine down after the job in progress and waits for the
// engine thread to exit.
func (w *Worker) Stop() {
	w.stop.Do(func() {
		close(w.quit)
	})
	w.start.Do(func() { close(w.done) })
	<-w.done
	w.state.Store(int32(StateStopped))
}

// Recycle asks for a fresh engine before the next job, e.g. after the
// application's files changed.
func (w *Worker) Recycle() {
	w.reload.Store(true)
}

// Exec runs job on the engine thread and waits for its result. If ctx ends
// first Exec returns ctx.Err(); the engine is not interrupted and the job
// still completes in the background.
func (w *Worker) Exec(ctx context.Context, job Job) (*Result, error) {
	req := request{job: job, reply: make(chan reply, 1)}
	select {
	case w.requests <- req:
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-w.quit:
		return nil, ErrStopped
	}

	select {
	case r := <-req.reply:
		return r.result, r.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (w *Worker) loop() {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()
	defer close(w.done)
	defer w.dropSession()

	for {
		select {
		case req := <-w.requests:
			res, err := w.handle(req.job)
			req.reply <- reply{result: res, err: err}
		case <-w.quit:
			return
		}
	}
}

func (w *Worker) handle(job Job) (res *Result, err error) {
	w.state.Store(int32(StateBusy))
	defer w.state.CompareAndSwap(int32(StateBusy), int32(StateIdle))
	defer func() {
		r := recover()
		if r == nil {
			return
		}
		w.logger.Error("php engine panicked", "job", job.Kind.String(), "panic", r)
		w.abandonSession()
		if e, ok := r.(error); ok && errors.Is(e, phpengine.ErrRequestStartup) {
			// The engine shut itself down; another start in this process
			// is not safe.
			w.state.Store(int32(StateStopped))
			panic(r)
		}
		res, err = nil, fmt.Errorf("worker: engine failure: %v", r)
	}()

	if w.reload.Swap(false) {
		w.recycle("reload")
	}

	start := time.Now()
	if job.Kind == KindHTTP {
		res, err = w.serve(job)
	} else {
		var s session
		if s, err = w.session(); err == nil {
			res, err = s.run(job)
		}
	}
	if res != nil {
		res.Duration = time.Since(start)
	}

	w.jobs.Add(1)
	w.total.Add(1)
	w.lastJobAt.Store(time.Now().UnixNano())

	if w.NeedsRecycle() {
		w.recycle("max_jobs")
	}
	return res, err
}

// session returns the persistent session, opening it on first use.
func (w *Worker) session() (session, error) {
	if w.current != nil {
		return w.current, nil
	}
	s, err := w.openSession()
	if err != nil {
		return nil, fmt.Errorf("starting php engine: %w", err)
	}
	w.current = s
	return s, nil
}

// serve runs an HTTP job in a session of its own. Only one engine can be
// live per process, so the persistent session is closed first.
func (w *Worker) serve(job Job) (*Result, error) {
	if job.Request == nil {
		return nil, fmt.Errorf("worker: http job without a request")
	}
	w.dropSession()

	s, err := w.openRequest(job.Request)
	if err != nil {
		return nil, fmt.Errorf("starting php engine: %w", err)
	}
	defer s.close()
	return s.run(job)
}

// abandonSession closes the session a panic interrupted so the engine is
// released for the next one. A second panic while closing is only logged.
func (w *Worker) abandonSession() {
	s := w.current
	w.current = nil
	if s == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			w.logger.Error("closing php engine after a panic", "panic", r)
		}
	}()
	s.close()
}

func (w *Worker) dropSession() {
	if w.current != nil {
		w.current.close()
		w.current = nil
	}
}

// NeedsRecycle reports whether the job limit has been reached.
func (w *Worker) NeedsRecycle() bool {
	return w.maxJobs > 0 && w.jobs.Load() >= int64(w.maxJobs)
}

// recycle gracefully restarts the engine
func (w *Worker) recycle(reason string) {
	w.logger.Info("recycling php engine", "reason", reason, "jobs", w.jobs.Load())
	w.dropSession()
	if w.extensions != nil {
		w.extensions.Reset()
	}
	w.jobs.Store(0)
	w.recycles.Add(1)
}

// Stats returns worker statistics
func (w *Worker) Stats() WorkerStats {
	s := WorkerStats{
		State:      w.State(),
		Jobs:       w.jobs.Load(),
		TotalJobs:  w.total.Load(),
		Recycles:   w.recycles.Load(),
		MaxJobs:    w.maxJobs,
		PHPVersion: w.version,
		StartedAt:  w.startedAt,
	}
	if !w.startedAt.IsZero() {
		s.Uptime = time.Since(w.startedAt)
	}
	if n := w.lastJobAt.Load(); n != 0 {
		s.LastJobAt = time.Unix(0, n)
	}
	if w.extensions != nil {
		s.Extensions = w.extensions.LoadedExtensions()
	}
	return s
}

// WorkerStats contains worker statistics
type WorkerStats struct {
	State      WorkerState
	Jobs       int64
	TotalJobs  int64
	Recycles   int64
	MaxJobs    int
	PHPVersion string
	StartedAt  time.Time
	LastJobAt  time.Time
	Uptime     time.Duration
	Extensions []string // loaded into the current engine
}

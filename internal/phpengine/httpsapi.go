package phpengine

import (
	"bytes"
	"io"
	"log/slog"
	"maps"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"syscall"
	"time"
)

// RequestEnv collects the response of one HTTP request.
type RequestEnv struct {
	Status  int
	Header  http.Header
	Body    bytes.Buffer
	Flushed bool
}

// WriteTo copies the collected response to w.
func (env *RequestEnv) WriteTo(w http.ResponseWriter) (int64, error) {
	for k, vs := range env.Header {
		for _, v := range vs {
			w.Header().Add(k, v)
		}
	}
	status := env.Status
	if status == 0 {
		status = http.StatusOK
	}
	w.WriteHeader(status)
	return env.Body.WriteTo(w)
}

// HTTP is a strategy that serves a single *http.Request: $_SERVER is built
// CGI-style, the request body feeds php://input and output lands in the
// RequestEnv.
type HTTP struct {
	Request      *http.Request
	DocumentRoot string
	EntryPoint   string
	Env          map[string]string
	Logger       *slog.Logger

	env     *RequestEnv
	started time.Time
}

// NewHTTP prepares a strategy for req along with the RequestEnv it writes
// into. entryPoint is relative to docRoot.
func NewHTTP(req *http.Request, docRoot, entryPoint string) (*HTTP, *RequestEnv) {
	env := &RequestEnv{Header: make(http.Header)}
	return &HTTP{
		Request:      req,
		DocumentRoot: docRoot,
		EntryPoint:   entryPoint,
		env:          env,
	}, env
}

// ScriptFilename is the absolute path of the entry point.
func (h *HTTP) ScriptFilename() string {
	return filepath.Join(h.DocumentRoot, h.EntryPoint)
}

func (h *HTTP) Name() string       { return "phpembed-http" }
func (h *HTTP) PrettyName() string { return "PHP HTTP (phpembed)" }

func (h *HTTP) Startup(m *Module) int  { return m.Startup() }
func (h *HTTP) Shutdown(m *Module) int { return m.Shutdown() }

// BeforeRequest hands the request line to the engine so POST bodies and
// the query string are parsed during request startup.
func (h *HTTP) BeforeRequest(m *Module) {
	req := h.Request
	m.SetRequestInfo(RequestInfo{
		Method:         req.Method,
		URI:            req.URL.RequestURI(),
		Query:          req.URL.RawQuery,
		ContentType:    req.Header.Get("Content-Type"),
		ContentLength:  req.ContentLength,
		PathTranslated: h.ScriptFilename(),
	})
}

func (h *HTTP) Activate() int {
	h.started = time.Now()
	return resultSuccess
}

func (h *HTTP) Deactivate() int { return resultSuccess }

func (h *HTTP) UnbufferedWrite(p []byte) int {
	n, _ := h.env.Body.Write(p)
	return n
}

func (h *HTTP) Flush(env *RequestEnv) {
	env.Flushed = true
}

func (h *HTTP) Stat() (*Stat, error) {
	fi, err := os.Stat(h.ScriptFilename())
	if err != nil {
		return nil, err
	}
	st := &Stat{
		Mode:  uint32(fi.Mode().Perm()) | syscall.S_IFREG,
		Nlink: 1,
		Size:  fi.Size(),
		Atime: fi.ModTime(),
		Mtime: fi.ModTime(),
		Ctime: fi.ModTime(),
	}
	if sys, ok := fi.Sys().(*syscall.Stat_t); ok {
		st.Dev = uint64(sys.Dev)
		st.Ino = sys.Ino
		st.Nlink = uint64(sys.Nlink)
		st.UID = sys.Uid
		st.GID = sys.Gid
	}
	return st, nil
}

func (h *HTTP) Getenv(name string) (string, bool) {
	if v, ok := h.Env[name]; ok {
		return v, true
	}
	return os.LookupEnv(name)
}

// SendHeader records a header line. "HTTP/1.x NNN" status lines and
// "Status:" headers set the response status.
func (h *HTTP) SendHeader(header string, env *RequestEnv) {
	if env == nil {
		return
	}
	if rest, ok := strings.CutPrefix(header, "HTTP/"); ok {
		if _, code, ok := strings.Cut(rest, " "); ok {
			env.Status = parseStatus(code)
		}
		return
	}
	key, value, ok := parseHeaderLine(header)
	if !ok {
		return
	}
	if strings.EqualFold(key, "Status") {
		env.Status = parseStatus(value)
		return
	}
	env.Header.Add(key, value)
}

func (h *HTTP) ReadPost(buf []byte) int {
	if h.Request.Body == nil {
		return 0
	}
	n, err := io.ReadFull(h.Request.Body, buf)
	if err != nil && err != io.EOF && err != io.ErrUnexpectedEOF {
		h.logger().Warn("reading request body failed", "error", err)
	}
	return n
}

func (h *HTTP) ReadCookies() string {
	return strings.Join(h.Request.Header.Values("Cookie"), "; ")
}

func (h *HTTP) RegisterServerVariables(vars *TrackVars) {
	server := serverVars(h.Request, h.DocumentRoot, h.EntryPoint)
	for k, v := range h.Env {
		server[k] = v
	}
	for _, k := range slices.Sorted(maps.Keys(server)) {
		vars.Insert(k, server[k])
	}
	vars.Insert("REQUEST_TIME_FLOAT", strconv.FormatFloat(h.RequestTime(), 'f', 6, 64))
}

func (h *HTTP) RequestTime() float64 {
	t := h.started
	if t.IsZero() {
		t = time.Now()
	}
	return float64(t.UnixNano()) / float64(time.Second)
}

// TerminateProcess refuses: one script must not take the server down.
func (h *HTTP) TerminateProcess() error { return ErrNotImplemented }

func (h *HTTP) LogMessage(msg string, syslogType int) {
	logPHPMessage(h.logger(), syslogType, msg)
}

func (h *HTTP) inheritLogger(l *slog.Logger) {
	if h.Logger == nil {
		h.Logger = l
	}
}

func (h *HTTP) logger() *slog.Logger {
	if h.Logger != nil {
		return h.Logger
	}
	if l := getLogger(); l != nil {
		return l
	}
	return slog.Default()
}

// serverVars builds the CGI-compatible $_SERVER entries for req.
func serverVars(req *http.Request, docRoot, entryPoint string) map[string]string {
	script := "/" + strings.TrimPrefix(entryPoint, "/")
	server := map[string]string{
		"REQUEST_METHOD":    req.Method,
		"REQUEST_URI":       req.URL.RequestURI(),
		"QUERY_STRING":      req.URL.RawQuery,
		"SERVER_PROTOCOL":   req.Proto,
		"SERVER_SOFTWARE":   "phpembed",
		"GATEWAY_INTERFACE": "CGI/1.1",
		"SERVER_NAME":       req.Host,
		"DOCUMENT_ROOT":     docRoot,
		"SCRIPT_NAME":       script,
		"SCRIPT_FILENAME":   filepath.Join(docRoot, entryPoint),
		"PHP_SELF":          script,
		"CONTENT_TYPE":      req.Header.Get("Content-Type"),
		"CONTENT_LENGTH":    req.Header.Get("Content-Length"),
	}
	if server["SERVER_PROTOCOL"] == "" {
		server["SERVER_PROTOCOL"] = "HTTP/1.1"
	}

	if host, port, err := net.SplitHostPort(req.RemoteAddr); err == nil {
		server["REMOTE_ADDR"] = host
		server["REMOTE_PORT"] = port
	} else {
		server["REMOTE_ADDR"] = req.RemoteAddr
	}
	if host, port, err := net.SplitHostPort(req.Host); err == nil {
		server["SERVER_NAME"] = host
		server["SERVER_PORT"] = port
	}

	if req.TLS != nil {
		server["HTTPS"] = "on"
	}

	for key, values := range req.Header {
		httpKey := "HTTP_" + strings.ToUpper(strings.ReplaceAll(key, "-", "_"))
		if httpKey != "HTTP_CONTENT_TYPE" && httpKey != "HTTP_CONTENT_LENGTH" {
			server[httpKey] = strings.Join(values, ", ")
		}
	}
	return server
}

// parseHeaderLine splits "Key: Value".
func parseHeaderLine(line string) (key, value string, ok bool) {
	key, value, ok = strings.Cut(line, ":")
	if !ok || key == "" {
		return "", "", false
	}
	return strings.TrimSpace(key), strings.TrimSpace(value), true
}

func parseStatus(s string) int {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, ' '); i >= 0 {
		s = s[:i]
	}
	code, err := strconv.Atoi(s)
	if err != nil || code < 100 || code > 999 {
		return http.StatusOK
	}
	return code
}

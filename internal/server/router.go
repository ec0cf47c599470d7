package server

import (
	"context"
	"crypto/tls"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/loykin/procdash/internal/history"
	mng "github.com/loykin/procdash/internal/manager"
	"github.com/loykin/procdash/internal/metrics"
	"github.com/loykin/procdash/internal/process"
)

// DefaultBasePath prefixes the process endpoints.
const DefaultBasePath = "/api"

// Manager is the part of the registry the HTTP API needs.
type Manager interface {
	Snapshots() []process.Info
	Get(name string) (*process.Supervisor, error)
	Start(name string) error
	Stop(name string) error
	Restart(name string) error
	History(ctx context.Context, name string, limit int) ([]history.Event, error)
}

// Router provides embeddable HTTP handlers over the process registry.
// Endpoints:
//
//	GET  {basePath}/processes
//	GET  {basePath}/processes/:name
//	GET  {basePath}/processes/:name/logs     query: tail=N (optional)
//	GET  {basePath}/processes/:name/usage
//	GET  {basePath}/processes/:name/history  query: limit=N (optional)
//	POST {basePath}/processes/:name/start|stop|restart
//	GET  /metrics
//	GET  /healthz
//
// Unknown process names yield 404. Stop and restart respond once the stop
// sequence has finished.
type Router struct {
	mgr      Manager
	basePath string
}

func NewRouter(mgr Manager, basePath string) *Router {
	return &Router{mgr: mgr, basePath: sanitizeBase(basePath)}
}

// Handler returns an http.Handler powered by gin that can be mounted in any server/mux.
func (r *Router) Handler() http.Handler {
	g := gin.New()
	g.Use(gin.Recovery())
	g.GET("/metrics", gin.WrapH(metrics.Handler()))
	g.GET("/healthz", func(c *gin.Context) { writeJSON(c, http.StatusOK, okResp{OK: true}) })

	group := g.Group(r.basePath)
	group.GET("/processes", r.handleList)
	group.GET("/processes/:name", r.handleGet)
	group.GET("/processes/:name/logs", r.handleLogs)
	group.GET("/processes/:name/usage", r.handleUsage)
	group.GET("/processes/:name/history", r.handleHistory)
	group.POST("/processes/:name/start", r.action(r.mgr.Start))
	group.POST("/processes/:name/stop", r.action(r.mgr.Stop))
	group.POST("/processes/:name/restart", r.action(r.mgr.Restart))
	return g
}

// NewServer binds addr and serves the router in the background, over TLS
// when tlsCfg is non-nil. Bind errors are returned; the caller shuts the
// server down with Shutdown or Close.
func NewServer(addr, basePath string, mgr Manager, tlsCfg *tls.Config, log *slog.Logger) (*http.Server, error) {
	if log == nil {
		log = slog.Default()
	}
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	server := &http.Server{
		Addr:              ln.Addr().String(),
		Handler:           NewRouter(mgr, basePath).Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
		TLSConfig:         tlsCfg,
	}
	if tlsCfg != nil {
		ln = tls.NewListener(ln, tlsCfg)
	}
	go func() {
		if err := server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("http api stopped", "addr", server.Addr, "error", err)
		}
	}()
	log.Info("http api listening", "addr", server.Addr, "tls", tlsCfg != nil)
	return server, nil
}

// --- Handlers ---

type errorResp struct {
	Error string `json:"error"`
}

type okResp struct {
	OK bool `json:"ok"`
}

type logsResp struct {
	Name  string   `json:"name"`
	Lines []string `json:"lines"`
	Max   int      `json:"max"`
}

func (r *Router) handleList(c *gin.Context) {
	writeJSON(c, http.StatusOK, r.mgr.Snapshots())
}

func (r *Router) handleGet(c *gin.Context) {
	s, ok := r.lookup(c)
	if !ok {
		return
	}
	writeJSON(c, http.StatusOK, s.Snapshot())
}

func (r *Router) handleLogs(c *gin.Context) {
	s, ok := r.lookup(c)
	if !ok {
		return
	}
	tail, ok := positiveQuery(c, "tail")
	if !ok {
		return
	}
	lines := s.Logs()
	if tail > 0 {
		lines = s.Buffer().Tail(tail)
	}
	if lines == nil {
		lines = []string{}
	}
	writeJSON(c, http.StatusOK, logsResp{Name: s.Name(), Lines: lines, Max: s.Buffer().Max()})
}

func (r *Router) handleUsage(c *gin.Context) {
	s, ok := r.lookup(c)
	if !ok {
		return
	}
	u, ok := s.Usage()
	if !ok {
		writeJSON(c, http.StatusConflict, errorResp{Error: "process is not running"})
		return
	}
	writeJSON(c, http.StatusOK, u)
}

func (r *Router) handleHistory(c *gin.Context) {
	limit, ok := positiveQuery(c, "limit")
	if !ok {
		return
	}
	events, err := r.mgr.History(c.Request.Context(), c.Param("name"), limit)
	switch {
	case errors.Is(err, mng.ErrNotFound):
		writeJSON(c, http.StatusNotFound, errorResp{Error: err.Error()})
	case errors.Is(err, mng.ErrNoHistory):
		writeJSON(c, http.StatusNotImplemented, errorResp{Error: err.Error()})
	case err != nil:
		writeJSON(c, http.StatusInternalServerError, errorResp{Error: err.Error()})
	default:
		if events == nil {
			events = []history.Event{}
		}
		writeJSON(c, http.StatusOK, events)
	}
}

func (r *Router) action(fn func(string) error) gin.HandlerFunc {
	return func(c *gin.Context) {
		name := c.Param("name")
		if err := fn(name); err != nil {
			if errors.Is(err, mng.ErrNotFound) {
				writeJSON(c, http.StatusNotFound, errorResp{Error: err.Error()})
				return
			}
			writeJSON(c, http.StatusInternalServerError, errorResp{Error: err.Error()})
			return
		}
		s, err := r.mgr.Get(name)
		if err != nil {
			writeJSON(c, http.StatusNotFound, errorResp{Error: err.Error()})
			return
		}
		writeJSON(c, http.StatusOK, s.Snapshot())
	}
}

func (r *Router) lookup(c *gin.Context) (*process.Supervisor, bool) {
	s, err := r.mgr.Get(c.Param("name"))
	if err != nil {
		writeJSON(c, http.StatusNotFound, errorResp{Error: err.Error()})
		return nil, false
	}
	return s, true
}

// positiveQuery parses an optional positive integer query parameter.
// Absent means 0. Invalid values are answered with 400.
func positiveQuery(c *gin.Context, key string) (int, bool) {
	v := c.Query(key)
	if v == "" {
		return 0, true
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "invalid " + key + ": must be a positive integer"})
		return 0, false
	}
	return n, true
}

// Package server exposes the supervision state over HTTP: the last run
// record, the current failure streak, and manual escalation triggers for
// the external scheduler.
package server

import (
	"net/http"
	"os"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/loykin/vigil/internal/escalation"
	"github.com/loykin/vigil/internal/metrics"
	"github.com/loykin/vigil/internal/pidfile"
	"github.com/loykin/vigil/internal/supervisor"
)

// Router provides embeddable HTTP handlers around one supervised service.
// Endpoints:
//
//	GET  {basePath}/status             last persisted run record + liveness
//	GET  {basePath}/counter            current consecutive-failure count
//	POST {basePath}/escalate/failure   record a failed run
//	POST {basePath}/escalate/success   record a successful run
//	GET  {basePath}/healthz            API liveness
//	GET  {basePath}/metrics            Prometheus exposition
//
// basePath may be empty or start with '/'; no trailing slash.
type Router struct {
	ctrl       *escalation.Controller
	service    string
	statusFile string
	pidFile    string
	basePath   string
}

type Config struct {
	Service    string
	StatusFile string
	PIDFile    string
	BasePath   string
}

func NewRouter(ctrl *escalation.Controller, cfg Config) *Router {
	return &Router{
		ctrl:       ctrl,
		service:    cfg.Service,
		statusFile: cfg.StatusFile,
		pidFile:    cfg.PIDFile,
		basePath:   sanitizeBase(cfg.BasePath),
	}
}

// Handler returns an http.Handler powered by gin that can be mounted in any
// server or mux.
func (r *Router) Handler() http.Handler {
	g := gin.New()
	g.Use(gin.Recovery())
	group := g.Group(r.basePath)
	group.GET("/status", r.handleStatus)
	group.GET("/counter", r.handleCounter)
	group.POST("/escalate/failure", r.handleFailure)
	group.POST("/escalate/success", r.handleSuccess)
	group.GET("/healthz", r.handleHealthz)
	group.GET("/metrics", gin.WrapH(metrics.Handler()))
	return g
}

// NewServer starts a standalone HTTP server on addr using this router.
func NewServer(addr string, r *Router) *http.Server {
	server := &http.Server{
		Addr:              addr,
		Handler:           r.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	go func() { _ = server.ListenAndServe() }()
	return server
}

type errorResp struct {
	Error string `json:"error"`
}

type statusResp struct {
	Service string             `json:"service"`
	Running bool               `json:"running"`
	PID     int                `json:"pid,omitempty"`
	LastRun *supervisor.Status `json:"last_run,omitempty"`
}

type counterResp struct {
	Service  string `json:"service"`
	Failures int    `json:"failures"`
}

type escalateResp struct {
	Service  string `json:"service"`
	Failures int    `json:"failures"`
	Tier     string `json:"tier,omitempty"`
}

func (r *Router) handleStatus(c *gin.Context) {
	resp := statusResp{Service: r.service}
	if r.pidFile != "" {
		if rec, err := pidfile.Read(r.pidFile); err == nil && rec.Alive() {
			resp.Running = true
			resp.PID = rec.PID
		}
	}
	if r.statusFile != "" {
		st, err := supervisor.ReadStatus(r.statusFile)
		switch {
		case err == nil:
			resp.LastRun = &st
		case !os.IsNotExist(err):
			writeJSON(c, http.StatusInternalServerError, errorResp{Error: err.Error()})
			return
		}
	}
	writeJSON(c, http.StatusOK, resp)
}

func (r *Router) handleCounter(c *gin.Context) {
	n, err := r.ctrl.Current()
	if err != nil {
		writeJSON(c, http.StatusInternalServerError, errorResp{Error: err.Error()})
		return
	}
	writeJSON(c, http.StatusOK, counterResp{Service: r.service, Failures: n})
}

func (r *Router) handleFailure(c *gin.Context) {
	res, err := r.ctrl.OnFailure(c.Request.Context(), r.service)
	if err != nil {
		writeJSON(c, http.StatusInternalServerError, errorResp{Error: err.Error()})
		return
	}
	writeJSON(c, http.StatusOK, escalateResp{Service: r.service, Failures: res.Failures, Tier: string(res.Tier)})
}

func (r *Router) handleSuccess(c *gin.Context) {
	cleared, err := r.ctrl.OnSuccess(c.Request.Context(), r.service)
	if err != nil {
		writeJSON(c, http.StatusInternalServerError, errorResp{Error: err.Error()})
		return
	}
	writeJSON(c, http.StatusOK, escalateResp{Service: r.service, Failures: cleared})
}

func (r *Router) handleHealthz(c *gin.Context) {
	writeJSON(c, http.StatusOK, gin.H{"ok": true})
}

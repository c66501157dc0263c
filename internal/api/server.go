// Package api exposes the plugin host over HTTP: registry and instance
// management, the self-description documents, port I/O, lifecycle events,
// and a websocket telemetry stream.
package api

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/goatkit/patchbay/internal/host"
	"github.com/goatkit/patchbay/internal/telemetry"
)

// Server wires the host manager into a gin router.
type Server struct {
	manager   *host.Manager
	runner    *host.Runner
	telemetry *telemetry.Broker
	logger    *slog.Logger
}

// NewServer builds the API server. The telemetry broker may be nil; the
// websocket endpoint then reports the stream as unavailable.
func NewServer(manager *host.Manager, runner *host.Runner, broker *telemetry.Broker, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		manager:   manager,
		runner:    runner,
		telemetry: broker,
		logger:    logger,
	}
}

// Router builds the gin engine with all routes attached.
func (s *Server) Router() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), s.requestID())

	r.GET("/healthz", s.handleHealth)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	r.GET("/ws/telemetry", s.handleTelemetry)

	v1 := r.Group("/api/v1")
	{
		v1.GET("/plugins", s.handleListPlugins)
		v1.GET("/events", s.handleEvents)

		v1.GET("/instances", s.handleListInstances)
		v1.POST("/instances", s.handleSpawn)
		v1.GET("/instances/:id", s.handleGetInstance)
		v1.DELETE("/instances/:id", s.handleDestroy)

		v1.GET("/instances/:id/meta", s.docHandler((*host.Instance).MetaDoc))
		v1.GET("/instances/:id/inputs", s.docHandler((*host.Instance).InputsDoc))
		v1.GET("/instances/:id/outputs", s.docHandler((*host.Instance).OutputsDoc))
		v1.GET("/instances/:id/ui_schema", s.docHandler((*host.Instance).UISchemaDoc))
		v1.GET("/instances/:id/behavior", s.docHandler((*host.Instance).BehaviorDoc))

		v1.PUT("/instances/:id/config", s.handleConfigure)
		v1.POST("/instances/:id/start", s.lifecycleHandler((*host.Instance).Start))
		v1.POST("/instances/:id/stop", s.lifecycleHandler((*host.Instance).Stop))
		v1.POST("/instances/:id/restart", s.lifecycleHandler((*host.Instance).Restart))

		v1.POST("/instances/:id/connections", s.handleConnect)
		v1.DELETE("/instances/:id/connections/:port", s.handleDisconnect)
		v1.PUT("/instances/:id/ports/:port", s.handleSetInput)
		v1.GET("/instances/:id/ports/:port", s.handleGetOutput)
	}

	return r
}

// requestID tags every request with an id for log correlation, honoring a
// caller-provided X-Request-ID.
func (s *Server) requestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader("X-Request-ID")
		if id == "" {
			id = uuid.NewString()
		}
		c.Set("request_id", id)
		c.Header("X-Request-ID", id)
		c.Next()
	}
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "ok",
		"tick":      s.runner.Tick(),
		"instances": len(s.manager.List()),
	})
}

func (s *Server) handleListPlugins(c *gin.Context) {
	reg := s.manager.Registry()
	type pluginInfo struct {
		Name       string `json:"name"`
		Capability int    `json:"capability"`
	}
	out := make([]pluginInfo, 0)
	for _, name := range reg.Names() {
		p, ok := reg.Get(name)
		if !ok {
			continue
		}
		out = append(out, pluginInfo{Name: p.Name(), Capability: p.CapabilityVersion()})
	}
	c.JSON(http.StatusOK, out)
}

func (s *Server) handleEvents(c *gin.Context) {
	limit := 0
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid limit"})
			return
		}
		limit = n
	}
	c.JSON(http.StatusOK, s.manager.Events().Recent(limit))
}

type instanceSummary struct {
	ID              uint64 `json:"id"`
	Plugin          string `json:"plugin"`
	State           string `json:"state"`
	ConnectedInputs int    `json:"connected_inputs"`
}

func summarize(inst *host.Instance) instanceSummary {
	return instanceSummary{
		ID:              inst.ID(),
		Plugin:          inst.Plugin(),
		State:           inst.State().String(),
		ConnectedInputs: inst.ConnectedInputs(),
	}
}

func (s *Server) handleListInstances(c *gin.Context) {
	instances := s.manager.List()
	out := make([]instanceSummary, 0, len(instances))
	for _, inst := range instances {
		out = append(out, summarize(inst))
	}
	c.JSON(http.StatusOK, out)
}

func (s *Server) handleSpawn(c *gin.Context) {
	var req struct {
		Plugin string  `json:"plugin" binding:"required"`
		ID     *uint64 `json:"id"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	id := uint64(0)
	if req.ID != nil {
		id = *req.ID
	} else {
		id = s.manager.NextID()
	}

	inst, err := s.manager.Spawn(c.Request.Context(), req.Plugin, id)
	if err != nil {
		s.renderError(c, err)
		return
	}
	c.JSON(http.StatusCreated, summarize(inst))
}

func (s *Server) instance(c *gin.Context) (*host.Instance, bool) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid instance id"})
		return nil, false
	}
	inst, err := s.manager.Get(id)
	if err != nil {
		s.renderError(c, err)
		return nil, false
	}
	return inst, true
}

func (s *Server) handleGetInstance(c *gin.Context) {
	inst, ok := s.instance(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, summarize(inst))
}

func (s *Server) handleDestroy(c *gin.Context) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid instance id"})
		return
	}
	if err := s.manager.Destroy(id); err != nil {
		s.renderError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// docHandler serves one of the self-description documents verbatim.
func (s *Server) docHandler(doc func(*host.Instance) (json.RawMessage, error)) gin.HandlerFunc {
	return func(c *gin.Context) {
		inst, ok := s.instance(c)
		if !ok {
			return
		}
		raw, err := doc(inst)
		if err != nil {
			s.renderError(c, err)
			return
		}
		c.Data(http.StatusOK, "application/json", raw)
	}
}

func (s *Server) lifecycleHandler(op func(*host.Instance) error) gin.HandlerFunc {
	return func(c *gin.Context) {
		inst, ok := s.instance(c)
		if !ok {
			return
		}
		if err := op(inst); err != nil {
			s.renderError(c, err)
			return
		}
		c.JSON(http.StatusOK, summarize(inst))
	}
}

func (s *Server) handleConfigure(c *gin.Context) {
	inst, ok := s.instance(c)
	if !ok {
		return
	}
	doc, err := io.ReadAll(c.Request.Body)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "read body failed"})
		return
	}
	if !json.Valid(doc) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "body is not valid JSON"})
		return
	}
	if err := s.manager.Configure(c.Request.Context(), inst.ID(), doc); err != nil {
		s.renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, summarize(inst))
}

func (s *Server) handleConnect(c *gin.Context) {
	inst, ok := s.instance(c)
	if !ok {
		return
	}
	var req struct {
		Port string `json:"port"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	port := req.Port
	if port == "" {
		// Auto mode: the host names the new input from the pattern.
		var err error
		port, err = inst.ConnectAuto()
		if err != nil {
			s.renderError(c, err)
			return
		}
	} else if err := inst.Connect(port); err != nil {
		s.renderError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"port": port})
}

func (s *Server) handleDisconnect(c *gin.Context) {
	inst, ok := s.instance(c)
	if !ok {
		return
	}
	if err := inst.Disconnect(c.Param("port")); err != nil {
		s.renderError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) handleSetInput(c *gin.Context) {
	inst, ok := s.instance(c)
	if !ok {
		return
	}
	var req struct {
		Value float64 `json:"value"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := inst.SetInput(c.Param("port"), req.Value); err != nil {
		s.renderError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) handleGetOutput(c *gin.Context) {
	inst, ok := s.instance(c)
	if !ok {
		return
	}
	value, err := inst.GetOutput(c.Param("port"))
	if err != nil {
		s.renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"port": c.Param("port"), "value": value})
}

// renderError maps host errors to HTTP statuses. Anything unmapped is a 500
// and gets logged with the request id.
func (s *Server) renderError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, host.ErrUnknownPlugin), errors.Is(err, host.ErrInstanceNotFound):
		status = http.StatusNotFound
	case errors.Is(err, host.ErrDuplicateID):
		status = http.StatusConflict
	case errors.Is(err, host.ErrDestroyed):
		status = http.StatusGone
	case errors.Is(err, host.ErrConfigRejected):
		status = http.StatusUnprocessableEntity
	case errors.Is(err, host.ErrStartStopUnsupported),
		errors.Is(err, host.ErrRestartUnsupported),
		errors.Is(err, host.ErrInputsNotExtendable):
		status = http.StatusConflict
	}
	if status == http.StatusInternalServerError {
		s.logger.Error("request failed",
			"request_id", c.GetString("request_id"),
			"path", c.FullPath(),
			"error", err,
		)
	}
	c.JSON(status, gin.H{"error": err.Error()})
}

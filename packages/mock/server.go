// Package mock provides an in-memory AI-DB query server for exercising the
// smoke scenario without a real deployment.
package mock

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/abdul-hamid-achik/aidb-smoke/packages/core/runner"
	"github.com/abdul-hamid-achik/aidb-smoke/packages/logging"
	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Server is a mock AI-DB server. It keeps data sources and sessions in
// memory and answers every request of the smoke scenario.
type Server struct {
	engine          *gin.Engine
	port            int
	delay           time.Duration
	introspectDelay time.Duration
	failures        map[string]int
	columns         []string
	rows            [][]any
	logger          *zap.Logger

	mu          sync.Mutex
	dataSources map[string]*dataSource
	sessions    map[string]*session
}

type dataSource struct {
	ID            string
	Name          string
	DBType        string
	ConnectionRef string
	ReadyAt       time.Time
	Introspected  bool
}

type session struct {
	ID           string
	DataSourceID string
	Question     string
	Rows         [][]any
}

// Option is a functional option for Server
type Option func(*Server)

// WithPort sets the server port
func WithPort(port int) Option {
	return func(s *Server) {
		s.port = port
	}
}

// WithDelay adds a delay to all responses
func WithDelay(delay time.Duration) Option {
	return func(s *Server) {
		s.delay = delay
	}
}

// WithIntrospectionDelay sets how long after introspection starts schema
// objects become visible
func WithIntrospectionDelay(d time.Duration) Option {
	return func(s *Server) {
		s.introspectDelay = d
	}
}

// WithFailure makes the request of the named step answer with status
func WithFailure(step string, status int) Option {
	return func(s *Server) {
		s.failures[step] = status
	}
}

// WithResult sets the rows returned by session runs
func WithResult(columns []string, rows [][]any) Option {
	return func(s *Server) {
		s.columns = columns
		s.rows = rows
	}
}

// WithLogger sets the request logger
func WithLogger(l *zap.Logger) Option {
	return func(s *Server) {
		s.logger = logging.OrNop(l)
	}
}

// NewServer creates a new mock server
func NewServer(opts ...Option) *Server {
	s := &Server{
		port:        8080,
		failures:    make(map[string]int),
		columns:     []string{"test_col"},
		rows:        [][]any{{1}},
		logger:      zap.NewNop(),
		dataSources: make(map[string]*dataSource),
		sessions:    make(map[string]*session),
	}
	for _, opt := range opts {
		opt(s)
	}

	gin.SetMode(gin.ReleaseMode)
	e := gin.New()
	e.HandleMethodNotAllowed = true
	e.Use(gin.Recovery(), s.logRequests, s.applyDelay)
	e.NoRoute(func(c *gin.Context) { respondError(c, http.StatusNotFound, "not found") })
	e.NoMethod(func(c *gin.Context) { respondError(c, http.StatusMethodNotAllowed, "method not allowed") })

	v1 := e.Group("/v1")
	v1.POST("/data-sources", s.inject(runner.StepCreateDataSource), s.createDataSource)
	v1.POST("/data-sources/:id/introspect", s.inject(runner.StepIntrospect), s.introspect)
	v1.GET("/schema-objects", s.schemaObjects)
	v1.POST("/query/sessions", s.inject(runner.StepCreateSession), s.createSession)
	v1.POST("/query/sessions/:sid/run", s.inject(runner.StepRunSession), s.runSession)
	v1.POST("/query/sessions/:sid/export", s.injectExport, s.export)

	s.engine = e
	return s
}

// Routes returns all registered routes
func (s *Server) Routes() gin.RoutesInfo {
	return s.engine.Routes()
}

// Handler returns the server as an http.Handler
func (s *Server) Handler() http.Handler {
	return s.engine
}

// StartWithContext serves until ctx is done, then shuts down gracefully
func (s *Server) StartWithContext(ctx context.Context) error {
	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", s.port),
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	s.logger.Info("mock AI-DB server starting",
		zap.String("url", fmt.Sprintf("http://localhost:%d", s.port)),
		zap.Int("routes", len(s.engine.Routes())))

	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) logRequests(c *gin.Context) {
	start := time.Now()
	c.Next()
	s.logger.Info("request",
		zap.String("method", c.Request.Method),
		zap.String("path", c.Request.URL.Path),
		zap.String("route", c.FullPath()),
		zap.Int("status", c.Writer.Status()),
		zap.Duration("duration", time.Since(start)))
}

func (s *Server) applyDelay(c *gin.Context) {
	if s.delay <= 0 {
		return
	}
	select {
	case <-time.After(s.delay):
	case <-c.Request.Context().Done():
		c.Abort()
	}
}

// inject answers with the configured failure status for step, if any
func (s *Server) inject(step string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if status, ok := s.failures[step]; ok {
			respondError(c, status, "injected failure")
			c.Abort()
		}
	}
}

// injectExport picks the export step by the requested format. The body is
// cached for the export handler.
func (s *Server) injectExport(c *gin.Context) {
	var req exportRequest
	if err := c.ShouldBindBodyWith(&req, binding.JSON); err != nil {
		return
	}
	step := runner.StepExportJSON
	if req.Format == "csv" {
		step = runner.StepExportCSV
	}
	s.inject(step)(c)
}

type createDataSourceRequest struct {
	Name          string `json:"name" binding:"required"`
	DBType        string `json:"db_type" binding:"required"`
	ConnectionRef string `json:"connection_ref"`
}

type createSessionRequest struct {
	DataSourceID string `json:"data_source_id" binding:"required"`
	Question     string `json:"question"`
}

type runRequest struct {
	MaxRows     int    `json:"max_rows"`
	TimeoutMs   int    `json:"timeout_ms"`
	LLMProvider string `json:"llm_provider"`
	Model       string `json:"model"`
}

type exportRequest struct {
	Format string `json:"format"`
}

func (s *Server) createDataSource(c *gin.Context) {
	var req createDataSourceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBindError(c, "invalid data source", err)
		return
	}

	ds := &dataSource{
		ID:            uuid.NewString(),
		Name:          req.Name,
		DBType:        req.DBType,
		ConnectionRef: req.ConnectionRef,
	}
	s.mu.Lock()
	s.dataSources[ds.ID] = ds
	s.mu.Unlock()

	c.JSON(http.StatusCreated, gin.H{"id": ds.ID, "name": ds.Name, "db_type": ds.DBType})
}

func (s *Server) introspect(c *gin.Context) {
	s.mu.Lock()
	ds, ok := s.dataSources[c.Param("id")]
	if ok {
		ds.Introspected = true
		ds.ReadyAt = time.Now().Add(s.introspectDelay)
	}
	s.mu.Unlock()

	if !ok {
		respondError(c, http.StatusNotFound, "data source not found")
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"data_source_id": ds.ID, "status": "started"})
}

func (s *Server) schemaObjects(c *gin.Context) {
	s.mu.Lock()
	ds, ok := s.dataSources[c.Query("data_source_id")]
	ready := ok && ds.Introspected && !time.Now().Before(ds.ReadyAt)
	s.mu.Unlock()

	if !ok {
		respondError(c, http.StatusNotFound, "data source not found")
		return
	}

	items := []gin.H{}
	if ready {
		items = append(items, gin.H{"name": "smoke_table", "kind": "table", "columns": s.columns})
	}
	c.JSON(http.StatusOK, gin.H{"items": items})
}

func (s *Server) createSession(c *gin.Context) {
	var req createSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBindError(c, "invalid session", err)
		return
	}

	s.mu.Lock()
	_, ok := s.dataSources[req.DataSourceID]
	var sess *session
	if ok {
		sess = &session{ID: uuid.NewString(), DataSourceID: req.DataSourceID, Question: req.Question}
		s.sessions[sess.ID] = sess
	}
	s.mu.Unlock()

	if !ok {
		respondError(c, http.StatusNotFound, "data source not found")
		return
	}
	c.JSON(http.StatusCreated, gin.H{"session_id": sess.ID, "status": "created"})
}

func (s *Server) runSession(c *gin.Context) {
	var req runRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "invalid run request: "+err.Error())
		return
	}

	rows := s.rows
	if req.MaxRows > 0 && len(rows) > req.MaxRows {
		rows = rows[:req.MaxRows]
	}

	s.mu.Lock()
	sess, ok := s.sessions[c.Param("sid")]
	if ok {
		sess.Rows = rows
	}
	s.mu.Unlock()

	if !ok {
		respondError(c, http.StatusNotFound, "session not found")
		return
	}

	resp := gin.H{
		"session_id": sess.ID,
		"status":     "ok",
		"columns":    s.columns,
		"rows":       rowObjects(s.columns, rows),
	}
	if req.LLMProvider != "" {
		resp["llm_provider"] = req.LLMProvider
	}
	if req.Model != "" {
		resp["model"] = req.Model
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) export(c *gin.Context) {
	var req exportRequest
	if err := c.ShouldBindBodyWith(&req, binding.JSON); err != nil {
		respondError(c, http.StatusBadRequest, "invalid export request: "+err.Error())
		return
	}

	s.mu.Lock()
	sess, ok := s.sessions[c.Param("sid")]
	var rows [][]any
	if ok {
		rows = sess.Rows
	}
	s.mu.Unlock()

	if !ok {
		respondError(c, http.StatusNotFound, "session not found")
		return
	}

	switch req.Format {
	case "csv":
		c.Header("Content-Type", "text/csv; charset=utf-8")
		c.Status(http.StatusOK)
		w := csv.NewWriter(c.Writer)
		_ = w.Write(s.columns)
		for _, row := range rows {
			record := make([]string, len(row))
			for i, v := range row {
				record[i] = fmt.Sprint(v)
			}
			_ = w.Write(record)
		}
		w.Flush()
	case "json":
		c.JSON(http.StatusOK, rowObjects(s.columns, rows))
	default:
		respondError(c, http.StatusBadRequest, "unsupported export format "+strconv.Quote(req.Format))
	}
}

// respondError answers with the {"detail": ...} error shape of the AI-DB API
func respondError(c *gin.Context, status int, detail string) {
	c.JSON(status, gin.H{"detail": detail})
}

// respondBindError answers 422 for failed field validation and 400 for a body
// that is not JSON
func respondBindError(c *gin.Context, msg string, err error) {
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) {
		respondError(c, http.StatusUnprocessableEntity, msg+": "+err.Error())
		return
	}
	respondError(c, http.StatusBadRequest, msg+": "+err.Error())
}

func rowObjects(columns []string, rows [][]any) []gin.H {
	out := make([]gin.H, 0, len(rows))
	for _, row := range rows {
		obj := make(gin.H, len(columns))
		for i, col := range columns {
			if i < len(row) {
				obj[col] = row[i]
			}
		}
		out = append(out, obj)
	}
	return out
}

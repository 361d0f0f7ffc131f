package main

import (
	"context"
	stderrors "errors"
	"net/http"
	"slices"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/octerm/octerm-hub/internal"
	"github.com/octerm/octerm-hub/pkg/broadcast"
	"github.com/octerm/octerm-hub/pkg/store"
	"go.uber.org/zap"
)

const recentLogLimit = 50

type ClientLogReader interface {
	Recent(ctx context.Context, clientId int64, limit int) ([]store.ClientLog, error)
}

type ServerParams struct {
	ListenAddress string
	WsEndpoint    string

	UpgradeHandler gin.HandlerFunc
	Store          *internal.ClientStore
	Gateway        *broadcast.Gateway
	// Logs and MetricsHandler are optional.
	Logs           ClientLogReader
	MetricsHandler http.Handler

	Logger *zap.Logger
}

type hubServer struct {
	params ServerParams
	engine *gin.Engine
	log    *zap.Logger
}

func CreateServer(params ServerParams) *hubServer {
	logger := params.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	if params.WsEndpoint == "" {
		params.WsEndpoint = "/api/ws"
	}

	s := &hubServer{
		params: params,
		engine: gin.New(),
		log:    logger.With(zap.String("component", "http")),
	}
	s.routes()
	return s
}

func (s *hubServer) routes() {
	r := s.engine
	r.Use(gin.Recovery())

	r.GET("/healthz", func(c *gin.Context) { c.String(http.StatusOK, "ok") })
	r.GET(s.params.WsEndpoint, s.params.UpgradeHandler)

	clients := r.Group("/clients")
	clients.POST("/broadcast", s.handleBroadcast)
	clients.GET("/active", s.handleActive)
	if s.params.Logs != nil {
		clients.GET("/:id/logs", s.handleLogs)
	}

	if s.params.MetricsHandler != nil {
		r.GET("/metrics", gin.WrapH(s.params.MetricsHandler))
	}
}

func (s *hubServer) handleBroadcast(c *gin.Context) {
	query := c.PostForm("query")
	if query == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing query"})
		return
	}

	result := s.params.Gateway.Broadcast(c.Request.Context(), query)
	s.log.Info("Broadcast sent", zap.Int("sent", result.Sent), zap.Int("failed", result.Failed))
	c.JSON(http.StatusOK, result)
}

func (s *hubServer) handleActive(c *gin.Context) {
	ids := s.params.Store.ClientIds()
	slices.Sort(ids)
	c.JSON(http.StatusOK, gin.H{"clients": ids})
}

func (s *hubServer) handleLogs(c *gin.Context) {
	clientId, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid client id"})
		return
	}

	logs, err := s.params.Logs.Recent(c.Request.Context(), clientId, recentLogLimit)
	if err != nil {
		s.log.Error("Failed to read client logs", zap.Int64("clientId", clientId), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to read logs"})
		return
	}

	out := make([]gin.H, 0, len(logs))
	for _, l := range logs {
		out = append(out, gin.H{"time": l.LogTime, "message": l.Message})
	}
	c.JSON(http.StatusOK, gin.H{"client_id": clientId, "logs": out})
}

// Start serves HTTP until ctx is cancelled, then shuts the server down.
func (s *hubServer) Start(ctx context.Context) {
	server := &http.Server{
		Addr:              s.params.ListenAddress,
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	wg := sync.WaitGroup{}
	wg.Add(1)
	go func() {
		defer wg.Done()

		s.log.Sugar().Infof("Starting HTTP server at %s", s.params.ListenAddress)
		if err := server.ListenAndServe(); !stderrors.Is(err, http.ErrServerClosed) {
			s.log.Error("Unexpected HTTP server close!", zap.Error(err))
		}
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()

		<-ctx.Done()

		shutdownCtx, shutdownRelease := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownRelease()
		s.log.Info("Attempting to trigger shutdown of HTTP server")

		if err := server.Shutdown(shutdownCtx); err != nil {
			s.log.Error("Failed to gracefully shut down HTTP server", zap.Error(err))
			return
		}
		s.log.Info("Successfully shutdown HTTP server")
	}()

	wg.Wait()
}

package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"FaceVerify/history"
	iface "FaceVerify/interface"
	"FaceVerify/logger"
	"FaceVerify/verify"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

type Verifier interface {
	Verify(ctx context.Context) (*verify.Result, error)
	State() verify.State
	Last() (*verify.Result, error)
	Model() iface.Model
}

type HistoryStore interface {
	Recent(limit int) ([]history.Record, error)
	Get(id string) (history.Record, error)
}

type FrameSource interface {
	SnapshotJPEG() ([]byte, error)
}

// Server holds what the routes need. History, Frames, Hub and Metrics are
// optional; their routes answer 404 or 503 when unset.
type Server struct {
	Verifier Verifier
	History  HistoryStore
	Frames   FrameSource
	Hub      *Hub
	Metrics  http.Handler
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

const maxHistoryLimit = 500

func NewRouter(s *Server) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), requestLogger())

	r.GET("/api/ping", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"message": "pong"})
	})
	r.POST("/api/verify", s.handleVerify)
	r.GET("/api/status", s.handleStatus)
	r.GET("/api/history", s.handleHistory)
	r.GET("/api/history/:id", s.handleHistoryItem)
	r.GET("/api/frame.jpg", s.handleFrame)
	r.GET("/ws/events", s.handleEvents)
	if s.Metrics != nil {
		r.GET("/metrics", gin.WrapH(s.Metrics))
	}
	return r
}

func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.Log().Debug("http request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)))
	}
}

func (s *Server) handleVerify(c *gin.Context) {
	res, err := s.Verifier.Verify(c.Request.Context())
	if err != nil {
		code := http.StatusInternalServerError
		switch {
		case errors.Is(err, verify.ErrBusy):
			code = http.StatusConflict
		case errors.Is(err, verify.ErrEmptyReferenceSet):
			code = http.StatusUnprocessableEntity
		}
		c.JSON(code, gin.H{"error": err.Error(), "label": verify.Label(res, err), "data": res})
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": res, "label": verify.Label(res, nil)})
}

func (s *Server) handleStatus(c *gin.Context) {
	last, lastErr := s.Verifier.Last()
	data := gin.H{
		"state": s.Verifier.State().String(),
		"label": verify.Label(last, lastErr),
		"last":  last,
	}
	if m := s.Verifier.Model(); m != nil {
		data["model"] = m.CheckConfig()
	}
	if s.Hub != nil {
		data["clients"] = s.Hub.ClientCount()
	}
	c.JSON(http.StatusOK, gin.H{"data": data})
}

func (s *Server) handleHistory(c *gin.Context) {
	if s.History == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "history disabled"})
		return
	}
	limit := 20
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 || n > maxHistoryLimit {
			c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("limit must be between 1 and %d", maxHistoryLimit)})
			return
		}
		limit = n
	}
	records, err := s.History.Recent(limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": records})
}

func (s *Server) handleHistoryItem(c *gin.Context) {
	if s.History == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "history disabled"})
		return
	}
	rec, err := s.History.Get(c.Param("id"))
	if errors.Is(err, history.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": rec})
}

func (s *Server) handleFrame(c *gin.Context) {
	if s.Frames == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "no camera"})
		return
	}
	buf, err := s.Frames.SnapshotJPEG()
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
		return
	}
	c.Header("Cache-Control", "no-store")
	c.Data(http.StatusOK, "image/jpeg", buf)
}

func (s *Server) handleEvents(c *gin.Context) {
	if s.Hub == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "events disabled"})
		return
	}
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// the upgrader already wrote the error response
		return
	}
	s.Hub.Register(conn)
	for {
		// clients only listen; reading detects the close
		if _, _, err := conn.ReadMessage(); err != nil {
			s.Hub.Unregister(conn)
			return
		}
	}
}

// Run serves the router on port until ctx is done.
func Run(ctx context.Context, port int, handler http.Handler) error {
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		logger.Log().Info("http server listening", zap.Int("port", port))
		errCh <- srv.ListenAndServe()
	}()
	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

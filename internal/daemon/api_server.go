package daemon

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"camwatch/internal/api"
	"camwatch/internal/framebuffer"
	"camwatch/internal/logging"
	"camwatch/internal/supervisor"
)

const mjpegBoundary = "frame"

type apiServer struct {
	bind    string
	token   string
	logger  *slog.Logger
	daemon  *Daemon
	handler http.Handler

	listener net.Listener
	server   *http.Server
}

// newAPIServer returns nil when bind is empty. A non-empty token requires
// "Authorization: Bearer <token>" on every request.
func newAPIServer(bind, token string, d *Daemon, logger *slog.Logger) *apiServer {
	bind = strings.TrimSpace(bind)
	if bind == "" || d == nil {
		return nil
	}
	s := &apiServer{
		bind:   bind,
		token:  strings.TrimSpace(token),
		logger: logging.NewComponentLogger(logger, "api"),
		daemon: d,
	}
	s.handler = s.routes()
	return s
}

func (s *apiServer) routes() http.Handler {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery(), s.requestLogger())
	if s.token != "" {
		r.Use(bearerAuth(s.token))
	}

	r.GET("/api/health", s.handleHealth)
	r.GET("/api/status", s.handleStatus)
	r.GET("/api/slots", s.handleSlots)
	r.GET("/api/slots/:index", s.handleSlot)
	r.GET("/api/slots/:index/frame", s.handleFrame)
	r.GET("/api/slots/:index/stream", s.handleStream)
	r.POST("/api/slots/:index/reset", s.handleReset)
	r.GET("/api/devices", s.handleDevices)
	r.POST("/api/rescan", s.handleRescan)
	return r
}

func (s *apiServer) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.logger.Debug("api request",
			logging.String(logging.FieldEventType, "api_request"),
			logging.String("method", c.Request.Method),
			logging.String("path", c.FullPath()),
			logging.Int("status", c.Writer.Status()),
			logging.Duration("elapsed", time.Since(start)),
		)
	}
}

func bearerAuth(token string) gin.HandlerFunc {
	want := []byte(token)
	return func(c *gin.Context) {
		got, ok := strings.CutPrefix(c.GetHeader("Authorization"), "Bearer ")
		if !ok || subtle.ConstantTimeCompare([]byte(got), want) != 1 {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		c.Next()
	}
}

// start serves on a fresh http.Server each time; a shut down server cannot
// be reused after the daemon is stopped and started again.
func (s *apiServer) start(ctx context.Context) error {
	if s == nil {
		return nil
	}
	listener, err := net.Listen("tcp", s.bind)
	if err != nil {
		return fmt.Errorf("api listen: %w", err)
	}
	server := &http.Server{
		Handler:           s.handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		// No write timeout: MJPEG streams stay open until the client leaves.
		IdleTimeout: 60 * time.Second,
	}
	s.listener = listener
	s.server = server

	go func() {
		if err := server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logging.ErrorWithContext(s.logger, "api server error", "api_server_failed", logging.Error(err))
		}
	}()

	go func() {
		<-ctx.Done()
		shutdownServer(server)
	}()

	s.logger.Info("api server listening",
		logging.String(logging.FieldEventType, "api_listening"),
		logging.String("address", listener.Addr().String()),
	)
	return nil
}

func (s *apiServer) stop() {
	if s == nil || s.server == nil {
		return
	}
	shutdownServer(s.server)
	if s.listener != nil {
		_ = s.listener.Close()
		s.listener = nil
	}
	s.server = nil
}

func shutdownServer(server *http.Server) {
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		// Open streams outlive the deadline; drop them.
		_ = server.Close()
	}
}

func (s *apiServer) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, api.FromSnapshot(s.daemon.sup.Snapshot()))
}

func (s *apiServer) handleStatus(c *gin.Context) {
	c.JSON(http.StatusOK, s.daemon.StatusView())
}

func (s *apiServer) handleSlots(c *gin.Context) {
	c.JSON(http.StatusOK, api.FromSnapshot(s.daemon.sup.Snapshot()).Slots)
}

func (s *apiServer) handleSlot(c *gin.Context) {
	index, ok := s.slotIndex(c)
	if !ok {
		return
	}
	view := api.FromSnapshot(s.daemon.sup.Snapshot())
	c.JSON(http.StatusOK, view.Slots[index])
}

func (s *apiServer) handleFrame(c *gin.Context) {
	index, ok := s.slotIndex(c)
	if !ok || s.unavailable(c, index) {
		return
	}
	latest, err := s.daemon.frames.Latest(index)
	if err != nil {
		if errors.Is(err, framebuffer.ErrNoFrame) {
			writeError(c, http.StatusNotFound, err.Error())
			return
		}
		writeError(c, http.StatusInternalServerError, err.Error())
		return
	}
	c.Header("Cache-Control", "no-store")
	c.Header("X-Camwatch-Generation", strconv.FormatUint(latest.Generation, 10))
	c.Data(http.StatusOK, "image/jpeg", latest.Frame.Data)
}

func (s *apiServer) handleStream(c *gin.Context) {
	index, ok := s.slotIndex(c)
	if !ok || s.unavailable(c, index) {
		return
	}
	w := c.Writer
	w.Header().Set("Content-Type", "multipart/x-mixed-replace; boundary="+mjpegBoundary)
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(http.StatusOK)

	ctx := c.Request.Context()
	var seq uint64
	for {
		latest, err := s.daemon.frames.Next(ctx, index, seq)
		if err != nil {
			return
		}
		seq = latest.Seq
		if _, err := fmt.Fprintf(w, "--%s\r\nContent-Type: image/jpeg\r\nContent-Length: %d\r\n\r\n",
			mjpegBoundary, len(latest.Frame.Data)); err != nil {
			return
		}
		if _, err := w.Write(latest.Frame.Data); err != nil {
			return
		}
		if _, err := w.Write([]byte("\r\n")); err != nil {
			return
		}
		w.Flush()
	}
}

func (s *apiServer) handleReset(c *gin.Context) {
	index, ok := s.slotIndex(c)
	if !ok {
		return
	}
	if err := s.daemon.ResetSlot(index); err != nil {
		writeError(c, http.StatusConflict, err.Error())
		return
	}
	view := api.FromSnapshot(s.daemon.sup.Snapshot())
	c.JSON(http.StatusOK, view.Slots[index])
}

func (s *apiServer) handleDevices(c *gin.Context) {
	devices, err := s.daemon.Devices(c.Request.Context())
	if err != nil {
		writeError(c, http.StatusServiceUnavailable, err.Error())
		return
	}
	c.JSON(http.StatusOK, devices)
}

func (s *apiServer) handleRescan(c *gin.Context) {
	n, err := s.daemon.Rescan(c.Request.Context())
	resp := api.RescanResponse{Transitions: n}
	if err != nil {
		resp.Error = err.Error()
		c.JSON(http.StatusServiceUnavailable, resp)
		return
	}
	c.JSON(http.StatusOK, resp)
}

func (s *apiServer) slotIndex(c *gin.Context) (int, bool) {
	index, err := strconv.Atoi(c.Param("index"))
	if err != nil || index < 0 || index >= len(s.daemon.sup.Slots()) {
		writeError(c, http.StatusNotFound, "unknown slot "+c.Param("index"))
		return 0, false
	}
	return index, true
}

// unavailable answers 503 for a slot that gave up on its camera, so clients
// never see a frame from before the failure.
func (s *apiServer) unavailable(c *gin.Context, index int) bool {
	state, _ := s.daemon.sup.Slots()[index].State()
	if state != supervisor.StateFailedPermanent {
		return false
	}
	writeError(c, http.StatusServiceUnavailable, "unavailable")
	return true
}

func writeError(c *gin.Context, status int, message string) {
	c.AbortWithStatusJSON(status, gin.H{"error": message})
}

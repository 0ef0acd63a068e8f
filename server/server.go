// Package server exposes the proxy's local HTTP API: auth control, channel
// and EPG lookups, stream resolution, playlist/XMLTV generation and cache
// administration.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"magioproxy/cache"
	"magioproxy/magio"
	"magioproxy/magio/auth"
	"magioproxy/metrics"
	"magioproxy/playlist"
)

type Opts struct {
	Auth      *auth.Manager
	Client    *magio.Client
	Cache     *cache.Cache
	ServerURL string
	Debug     bool
}

type Server struct {
	engine    *gin.Engine
	auth      *auth.Manager
	client    *magio.Client
	cache     *cache.Cache
	serverURL string
}

func New(opts Opts) *Server {
	if !opts.Debug {
		gin.SetMode(gin.ReleaseMode)
	}

	s := &Server{
		auth:      opts.Auth,
		client:    opts.Client,
		cache:     opts.Cache,
		serverURL: strings.TrimRight(opts.ServerURL, "/"),
	}

	engine := gin.New()
	engine.Use(gin.Recovery(), requestLogger(), cors.Default())

	engine.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	engine.GET("/metrics", gin.WrapH(promhttp.HandlerFor(metrics.Registry, promhttp.HandlerOpts{})))

	api := engine.Group("/api")
	{
		api.GET("/status", s.handleStatus)
		api.POST("/login", s.handleLogin)
		api.POST("/logout", s.handleLogout)

		api.GET("/channels", s.handleChannels)
		api.GET("/channels/groups", s.handleChannelGroups)
		api.GET("/channels/:id", s.handleChannelByID)

		api.GET("/epg", s.handleEPG)

		api.GET("/stream/:id", s.handleStream)
		api.GET("/catchup/:id/:range", s.handleCatchup)

		api.GET("/devices", s.handleDevices)
		api.DELETE("/devices/:id", s.handleDeleteDevice)

		api.GET("/playlist.m3u", s.handlePlaylist)
		api.GET("/epg.xml", s.handleEPGXML)

		api.GET("/cache/info", s.handleCacheInfo)
		api.POST("/cache/clear", s.handleCacheClear)
	}

	s.engine = engine
	return s
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:    addr,
		Handler: s.engine,
	}

	errc := make(chan error, 1)
	go func() {
		log.Info().Str("addr", addr).Msg("http server listening")
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
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

// Handler exposes the gin engine for tests.
func (s *Server) Handler() http.Handler {
	return s.engine
}

func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		status := c.Writer.Status()
		metrics.HTTPRequests.WithLabelValues(c.FullPath(), strconv.Itoa(status)).Inc()

		event := log.Debug()
		if status >= 500 {
			event = log.Error()
		}
		event.
			Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Int("status", status).
			Dur("duration", time.Since(start)).
			Msg("request")
	}
}

// upstreamError maps client failures to a JSON error response. A missing
// session gets 401, everything else a 502.
func upstreamError(c *gin.Context, err error) {
	status := http.StatusBadGateway
	if errors.Is(err, magio.ErrNotAuthenticated) {
		status = http.StatusUnauthorized
	}
	c.JSON(status, gin.H{"success": false, "error": err.Error()})
}

func (s *Server) handleStatus(c *gin.Context) {
	c.JSON(http.StatusOK, s.auth.Status())
}

func (s *Server) handleLogin(c *gin.Context) {
	if !s.auth.Login(c.Request.Context()) {
		c.JSON(http.StatusUnauthorized, gin.H{"success": false, "error": "login failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "status": s.auth.Status()})
}

func (s *Server) handleLogout(c *gin.Context) {
	if !s.auth.Logout() {
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": "logout failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

func (s *Server) handleChannels(c *gin.Context) {
	if group := c.Query("group"); group != "" {
		channels, err := s.client.ChannelsByGroup(c.Request.Context(), group)
		if err != nil {
			upstreamError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"channels": channels})
		return
	}
	if term := c.Query("search"); term != "" {
		channels, err := s.client.SearchChannels(c.Request.Context(), term)
		if err != nil {
			upstreamError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"channels": channels})
		return
	}

	channels, err := s.client.Channels(c.Request.Context())
	if err != nil {
		upstreamError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"channels": channels})
}

func (s *Server) handleChannelGroups(c *gin.Context) {
	groups, err := s.client.ChannelGroups(c.Request.Context())
	if err != nil {
		upstreamError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"groups": groups})
}

func (s *Server) handleChannelByID(c *gin.Context) {
	id, err := strconv.Atoi(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "invalid channel id"})
		return
	}

	channel, err := s.client.ChannelByID(c.Request.Context(), id)
	if err != nil {
		upstreamError(c, err)
		return
	}
	if channel == nil {
		c.JSON(http.StatusNotFound, gin.H{"success": false, "error": "channel not found"})
		return
	}
	c.JSON(http.StatusOK, channel)
}

func (s *Server) handleEPG(c *gin.Context) {
	channelID, _ := strconv.Atoi(c.Query("channel_id"))
	daysBack := intQuery(c, "days_back", 1)
	daysForward := intQuery(c, "days_forward", 1)

	guide, err := s.client.EPG(c.Request.Context(), channelID, daysBack, daysForward)
	if err != nil {
		upstreamError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"epg": guide})
}

func (s *Server) handleStream(c *gin.Context) {
	id, err := strconv.Atoi(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "invalid channel id"})
		return
	}

	stream, err := s.client.LiveStream(c.Request.Context(), id)
	if err != nil {
		upstreamError(c, err)
		return
	}
	if stream == nil {
		c.JSON(http.StatusNotFound, gin.H{"success": false, "error": "stream not available"})
		return
	}

	if c.Query("redirect") == "1" {
		c.Redirect(http.StatusFound, stream.URL)
		return
	}
	c.JSON(http.StatusOK, stream)
}

// handleCatchup serves /api/catchup/:id/:range where range is
// <start>-<end> in unix seconds, matching the catchup-source attribute in
// generated playlists.
func (s *Server) handleCatchup(c *gin.Context) {
	id, err := strconv.Atoi(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "invalid channel id"})
		return
	}

	start, end, err := parseTimeRange(c.Param("range"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": err.Error()})
		return
	}

	stream, err := s.client.CatchupStreamByTime(c.Request.Context(), id, start, end)
	if err != nil {
		upstreamError(c, err)
		return
	}

	if c.Query("redirect") == "1" {
		c.Redirect(http.StatusFound, stream.URL)
		return
	}
	c.JSON(http.StatusOK, stream)
}

func (s *Server) handleDevices(c *gin.Context) {
	devices, err := s.client.Devices(c.Request.Context())
	if err != nil {
		upstreamError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"devices": devices})
}

func (s *Server) handleDeleteDevice(c *gin.Context) {
	if err := s.client.DeleteDevice(c.Request.Context(), c.Param("id")); err != nil {
		upstreamError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

func (s *Server) handlePlaylist(c *gin.Context) {
	channels, err := s.client.Channels(c.Request.Context())
	if err != nil {
		upstreamError(c, err)
		return
	}

	c.Header("Content-Disposition", `attachment; filename="playlist.m3u"`)
	c.Data(http.StatusOK, "audio/x-mpegurl", []byte(playlist.M3U(channels, s.serverURL)))
}

func (s *Server) handleEPGXML(c *gin.Context) {
	ctx := c.Request.Context()

	channels, err := s.client.Channels(ctx)
	if err != nil {
		upstreamError(c, err)
		return
	}

	days := intQuery(c, "days", 3)
	guide, err := s.client.EPG(ctx, 0, 0, days)
	if err != nil {
		upstreamError(c, err)
		return
	}

	out, err := playlist.XMLTV(channels, guide)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": err.Error()})
		return
	}
	c.Data(http.StatusOK, "application/xml", out)
}

func (s *Server) handleCacheInfo(c *gin.Context) {
	c.JSON(http.StatusOK, s.cache.Info())
}

func (s *Server) handleCacheClear(c *gin.Context) {
	removed := s.cache.Clear(c.Query("key"))
	c.JSON(http.StatusOK, gin.H{"success": true, "removed": removed})
}

func intQuery(c *gin.Context, name string, fallback int) int {
	v := c.Query(name)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func parseTimeRange(raw string) (int64, int64, error) {
	parts := strings.SplitN(raw, "-", 2)
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("invalid time range %q, want <start>-<end>", raw)
	}
	start, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		return 0, 0, fmt.Errorf("invalid range start: %w", err)
	}
	end, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil {
		return 0, 0, fmt.Errorf("invalid range end: %w", err)
	}
	if end <= start {
		return 0, 0, fmt.Errorf("range end must be after start")
	}
	return start, end, nil
}

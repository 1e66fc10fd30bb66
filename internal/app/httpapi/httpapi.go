package httpapi

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	"webrtc-rendezvous/internal/app/rooms"
)

// Rooms is the open-room surface of the coordinator.
type Rooms interface {
	Join(ctx context.Context, ref rooms.Ref, clientID string, opts rooms.JoinOptions) (rooms.JoinResult, error)
	Leave(ctx context.Context, ref rooms.Ref, clientID string) (rooms.LeaveResult, error)
	QueryRoomState(ctx context.Context, ref rooms.Ref) (rooms.Snapshot, error)
}

// Calls is the device-level direct call flow.
type Calls interface {
	Call(ctx context.Context, ref rooms.Ref, callerDeviceID, calleeUserID string) (rooms.JoinResult, error)
	Accept(ctx context.Context, ref rooms.Ref, calleeDeviceID string) (rooms.JoinResult, error)
	Decline(ctx context.Context, ref rooms.Ref, calleeDeviceID string) (string, error)
}

// Messages posts a signaling message and forwards it when the peer is present.
type Messages interface {
	Send(ctx context.Context, ref rooms.Ref, from, payload string) (rooms.MessageResult, error)
}

// ICE hands out the ICE server list for a session.
type ICE interface {
	Mode() string
	Servers(sessionID string) []webrtc.ICEServer
}

type Hub interface {
	HTTPHandler() http.Handler
}

type Settings struct {
	// PublicWSURL overrides the WebSocket URL derived from the request.
	PublicWSURL string
	// PostURL overrides the base for message posts (an external collider).
	PostURL string
}

type Options struct {
	Rooms    Rooms
	Calls    Calls
	Messages Messages
	ICE      ICE
	Hub      Hub
	Settings Settings

	StaticDir string
	// RateLimit is requests per second per client IP; zero disables limiting.
	RateLimit float64
	Logger    *zerolog.Logger
}

type handler struct {
	rooms    Rooms
	calls    Calls
	messages Messages
	ice      ICE
	settings Settings
	logger   zerolog.Logger
}

// New builds the public HTTP server.
func New(opts Options) *echo.Echo {
	logger := log.Logger
	if opts.Logger != nil {
		logger = *opts.Logger
	}
	h := &handler{
		rooms:    opts.Rooms,
		calls:    opts.Calls,
		messages: opts.Messages,
		ice:      opts.ICE,
		settings: opts.Settings,
		logger:   logger.With().Str("component", "http").Logger(),
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recover())
	e.Use(RequestLogger(h.logger))
	e.Use(PrometheusMiddleware())

	var limit []echo.MiddlewareFunc
	if opts.RateLimit > 0 {
		limit = append(limit, middleware.RateLimiter(middleware.NewRateLimiterMemoryStore(rate.Limit(opts.RateLimit))))
	}

	e.POST("/join/:room_id", h.join, limit...)
	e.POST("/call/:room_id", h.call, limit...)
	e.POST("/accept/:room_id", h.accept, limit...)
	e.POST("/decline/:room_id", h.decline, limit...)
	e.POST("/leave/:room_id/:client_id", h.leave, limit...)
	e.POST("/message/:room_id/:client_id", h.message, limit...)
	e.GET("/api/rooms/:room_id", h.roomState, limit...)

	if opts.Hub != nil {
		e.GET("/ws", echo.WrapHandler(opts.Hub.HTTPHandler()))
	}
	e.GET("/settings", h.settingsHandler)
	e.GET("/debug/ice", h.debugICE)

	if opts.StaticDir != "" {
		e.GET("/*", echo.WrapHandler(SPAHandler(opts.StaticDir)))
	}

	return e
}

func SPAHandler(staticDir string) http.Handler {
	fs := http.FileServer(http.Dir(staticDir))

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/ws" {
			w.WriteHeader(http.StatusNotFound)
			return
		}

		path := filepath.Join(staticDir, filepath.Clean(r.URL.Path))
		if info, err := os.Stat(path); err == nil && !info.IsDir() {
			fs.ServeHTTP(w, r)
			return
		}

		index := filepath.Join(staticDir, "index.html")
		http.ServeFile(w, r, index)
	})
}

func (h *handler) debugICE(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]any{
		"mode":       h.ice.Mode(),
		"iceServers": h.ice.Servers(""),
	})
}

func (h *handler) settingsHandler(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]any{
		"wsURL":      resolveWSURL(h.settings, c.Request()),
		"postURL":    resolvePostURL(h.settings, c.Request()),
		"iceMode":    h.ice.Mode(),
		"iceServers": h.ice.Servers(""),
	})
}

func secure(r *http.Request) bool {
	return r.TLS != nil || strings.EqualFold(r.Header.Get("X-Forwarded-Proto"), "https")
}

func requestHost(r *http.Request) string {
	if r.Host == "" {
		return "localhost:8080"
	}
	return r.Host
}

func resolveWSURL(settings Settings, r *http.Request) string {
	if settings.PublicWSURL != "" {
		return settings.PublicWSURL
	}

	proto := "ws"
	if secure(r) {
		proto = "wss"
	}
	return fmt.Sprintf("%s://%s/ws", proto, requestHost(r))
}

func resolvePostURL(settings Settings, r *http.Request) string {
	if settings.PostURL != "" {
		return strings.TrimRight(settings.PostURL, "/")
	}
	return HostURL(r) + "/message"
}

// HostURL is the origin rooms are scoped to, e.g. "https://example.org".
func HostURL(r *http.Request) string {
	proto := "http"
	if secure(r) {
		proto = "https"
	}
	return fmt.Sprintf("%s://%s", proto, requestHost(r))
}

func roomURL(r *http.Request, roomID string) string {
	return fmt.Sprintf("%s/r/%s", HostURL(r), roomID)
}

package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/sourcegraph/conc/pool"

	"webrtc-rendezvous/internal/app/calls"
	"webrtc-rendezvous/internal/app/directory"
	"webrtc-rendezvous/internal/app/httpapi"
	"webrtc-rendezvous/internal/app/metrics"
	"webrtc-rendezvous/internal/app/relay"
	"webrtc-rendezvous/internal/app/rooms"
	"webrtc-rendezvous/internal/config"
	"webrtc-rendezvous/internal/logging"
	"webrtc-rendezvous/pkg/presence"
	"webrtc-rendezvous/pkg/roomstore"
	"webrtc-rendezvous/pkg/signaling"
	"webrtc-rendezvous/pkg/webrtc/ice"
)

const (
	startupTimeout  = 5 * time.Second
	shutdownTimeout = 5 * time.Second
)

func runServe(ctx context.Context) error {
	cfg, err := config.New()
	if err != nil {
		return fmt.Errorf("could not load config: %w", err)
	}

	logger := logging.Setup(cfg.LogLevel, cfg.LogFormat)
	if cfg.Debug {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}
	logConfig(logger, cfg)

	var rdb *redis.Client
	if cfg.Rooms.Store == config.StoreRedis {
		rdb = newRedisClient(cfg)
		defer rdb.Close()

		pingCtx, cancel := context.WithTimeout(ctx, startupTimeout)
		err := rdb.Ping(pingCtx).Err()
		cancel()
		if err != nil {
			return fmt.Errorf("redis ping failed: %w", err)
		}
	}

	var store roomstore.Store = roomstore.NewMemoryStore()
	if rdb != nil {
		store = roomstore.NewRedisStore(rdb, cfg.Redis.Prefix)
	}

	coord := rooms.NewCoordinator(store, rooms.Options{
		MaxAttempts: cfg.Rooms.MaxAttempts,
		Backoff:     cfg.Rooms.Backoff,
		TTL:         cfg.Rooms.TTL,
		Logger:      &logger,
		Observer:    metrics.Recorder{},
	})

	dir, closeDir, err := openDirectory(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeDir()

	callService := calls.NewService(dir, rooms.NewInvitations(coord), &logger)

	iceProvider := ice.NewProvider(ice.Config{
		Mode:         cfg.ICE.Mode,
		STUNURLs:     cfg.ICE.STUNURLs,
		TURNURLs:     cfg.ICE.TURNURLs,
		TURNUsername: cfg.ICE.TURNUsername,
		TURNPassword: cfg.ICE.TURNPassword,
		TURNSecret:   cfg.ICE.TURNSecret,
		TURNTTL:      cfg.ICE.TURNTTL,
	}, &logger)

	var (
		hub       *signaling.Hub
		transport relay.Transport
		messages  *relay.Relay
		settings  = httpapi.Settings{PublicWSURL: cfg.PublicWSURL}
	)
	switch cfg.Relay.Mode {
	case config.RelayCollider:
		transport = relay.NewColliderTransport(cfg.Relay.ColliderURL, nil)
		settings.PostURL = cfg.Relay.ColliderURL
	default:
		hub = newHub(cfg, rdb, &logger, coord, func() *relay.Relay { return messages })
		transport = relay.TransportFunc(func(ctx context.Context, d relay.Delivery) error {
			return hub.Send(ctx, d.RoomID, d.From, d.To, d.Payload)
		})
		metrics.RegisterConnectionGauge(hub.Len)
	}
	messages = relay.New(coord, transport, relay.Options{Logger: &logger, Observer: metrics.Recorder{}})

	opts := httpapi.Options{
		Rooms:     coord,
		Calls:     callService,
		Messages:  messages,
		ICE:       iceProvider,
		Settings:  settings,
		StaticDir: cfg.StaticDir,
		RateLimit: cfg.RateLimit,
		Logger:    &logger,
	}
	if hub != nil {
		opts.Hub = hub
	}
	apiSrv := httpapi.New(opts)
	metricsSrv := metrics.NewServer()

	p := pool.New().WithContext(ctx).WithCancelOnError()
	p.Go(func(ctx context.Context) error {
		return runEcho(ctx, logger, "http", apiSrv, cfg.Addr)
	})
	p.Go(func(ctx context.Context) error {
		return runEcho(ctx, logger, "metrics", metricsSrv, cfg.MetricsAddr)
	})
	if hub != nil {
		p.Go(hub.Run)
	}
	return p.Wait()
}

// newHub wires the signaling hub back into room state: a socket message is
// posted through the relay and a dropped socket leaves its room.
func newHub(cfg *config.Config, rdb *redis.Client, logger *zerolog.Logger, coord *rooms.Coordinator, messages func() *relay.Relay) *signaling.Hub {
	var pres presence.Store = presence.NewMemoryStore(cfg.InstanceID)
	if rdb != nil {
		pres = presence.NewRedisStore(rdb, cfg.Redis.Prefix, cfg.InstanceID)
	}

	return signaling.NewHub(signaling.HubOptions{
		Logger:     logger,
		Presence:   pres,
		PubSub:     rdb,
		Prefix:     cfg.Redis.Prefix,
		InstanceID: cfg.InstanceID,
		Origin:     httpapi.HostURL,
		OnMessage: func(ctx context.Context, origin, roomID, clientID, msg string) error {
			_, err := messages().Send(ctx, rooms.Ref{Host: origin, ID: roomID}, clientID, msg)
			return err
		},
		OnDisconnect: func(ctx context.Context, origin, roomID, clientID string) {
			ref := rooms.Ref{Host: origin, ID: roomID}
			_, err := coord.Leave(ctx, ref, clientID)
			switch {
			case err == nil:
			case errors.Is(err, rooms.ErrUnknownClient), errors.Is(err, rooms.ErrUnknownRoom):
				logger.Debug().Str("room", ref.String()).Str("client", clientID).Msg("socket closed after leave")
			default:
				logger.Warn().Err(err).Str("room", ref.String()).Str("client", clientID).Msg("leave on disconnect failed")
			}
		},
	})
}

func openDirectory(ctx context.Context, cfg *config.Config) (directory.Directory, func(), error) {
	if cfg.Directory.Backend == config.DirectoryPostgres {
		connectCtx, cancel := context.WithTimeout(ctx, startupTimeout)
		defer cancel()
		db, err := directory.Connect(connectCtx, cfg.Postgres.DSN())
		if err != nil {
			return nil, nil, err
		}
		return directory.NewPostgres(db), func() { _ = db.Close() }, nil
	}

	dir, err := directory.ParseStatic(cfg.Directory.Devices)
	if err != nil {
		return nil, nil, fmt.Errorf("parse DIRECTORY_DEVICES: %w", err)
	}
	return dir, func() {}, nil
}

func runEcho(ctx context.Context, logger zerolog.Logger, name string, e *echo.Echo, addr string) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- e.Start(addr)
	}()
	logger.Info().Str("server", name).Str("addr", addr).Msg("listening")

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("%s server failed: %w", name, err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown %s server: %w", name, err)
	}
	logger.Info().Str("server", name).Msg("stopped")
	return nil
}

func logConfig(logger zerolog.Logger, cfg *config.Config) {
	logger.Info().
		Str("addr", cfg.Addr).
		Str("metrics_addr", cfg.MetricsAddr).
		Str("static_dir", cfg.StaticDir).
		Str("room_store", cfg.Rooms.Store).
		Str("redis_addr", cfg.Redis.Addr).
		Str("relay", cfg.Relay.Mode).
		Str("directory", cfg.Directory.Backend).
		Str("instance", cfg.InstanceID).
		Int("cas_max_attempts", cfg.Rooms.MaxAttempts).
		Dur("room_ttl", cfg.Rooms.TTL).
		Msg("config")
}

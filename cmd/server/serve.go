package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/ralmosara/NetSuiteClone-sub003/internal/api"
	"github.com/ralmosara/NetSuiteClone-sub003/internal/config"
	"github.com/ralmosara/NetSuiteClone-sub003/internal/events"
	"github.com/ralmosara/NetSuiteClone-sub003/internal/logging"
	"github.com/ralmosara/NetSuiteClone-sub003/internal/mock"
	"github.com/ralmosara/NetSuiteClone-sub003/internal/outbox"
	"github.com/ralmosara/NetSuiteClone-sub003/internal/ws"
)

const apiTimeout = 15 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the realtime server",
	RunE:  runServe,
}

func init() {
	f := serveCmd.Flags()
	f.StringP("config", "c", "config.yaml", "Path to config file")
	f.String("host", "", "Override server host")
	f.IntP("port", "p", 0, "Override server port")
	f.String("token", "", "Override server auth token")
	f.StringSlice("allowed-origin", nil, "Additional allowed WebSocket origin (repeatable)")
	f.String("outbox", "", "Enable the durable outbox at this bbolt file")
	f.String("log-level", "", "Log level (debug, info, warn, error)")
	f.Bool("log-json", false, "Log as JSON instead of console output")
	f.Bool("mock", false, "Generate demo ERP activity")
	f.Duration("mock-interval", 2*time.Second, "Delay between demo activity ticks")
}

// loadConfig reads the config file and applies flags the user set.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	flags := cmd.Flags()
	path, _ := flags.GetString("config")

	cfg, err := config.LoadOrDefault(path)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	if flags.Changed("host") {
		cfg.Server.Host, _ = flags.GetString("host")
	}
	if flags.Changed("port") {
		cfg.Server.Port, _ = flags.GetInt("port")
	}
	if flags.Changed("token") {
		cfg.Server.AuthToken, _ = flags.GetString("token")
	}
	if flags.Changed("allowed-origin") {
		extra, _ := flags.GetStringSlice("allowed-origin")
		cfg.Server.AllowedOrigins = append(cfg.Server.AllowedOrigins, extra...)
	}
	if flags.Changed("outbox") {
		cfg.Outbox.Path, _ = flags.GetString("outbox")
	}
	if flags.Changed("log-level") {
		cfg.Log.Level, _ = flags.GetString("log-level")
	}
	if flags.Changed("log-json") {
		cfg.Log.JSON, _ = flags.GetBool("log-json")
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	logging.Init(logging.Config{
		Level:      logging.Level(cfg.Log.Level),
		JSONOutput: cfg.Log.JSON,
	})
	log := logging.WithComponent("main")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(cfg)
	if err != nil {
		return err
	}
	defer a.close()

	a.start(ctx)

	if mockMode, _ := cmd.Flags().GetBool("mock"); mockMode {
		interval, _ := cmd.Flags().GetDuration("mock-interval")
		log.Info().Dur("interval", interval).Msg("starting in mock mode")
		mock.NewGenerator(a.emitter, interval, logging.WithComponent("mock")).Start(ctx)
	}

	if cfg.Server.AuthToken == "" {
		log.Warn().Msg("server.auth_token is empty; publish API and connections are unauthenticated")
	}

	err = ws.ListenAndServe(ctx, cfg.Addr(), a.handler(), log, a.stop)
	log.Info().Msg("shutting down")
	return err
}

// app wires the registry, transports, emitter and publish API together.
type app struct {
	registry *ws.Registry
	server   *ws.Server
	emitter  *events.Emitter
	api      *api.Handler
	store    *outbox.Store
	relay    *outbox.Relay
	log      zerolog.Logger

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func newApp(cfg *config.Config) (*app, error) {
	registry := ws.NewRegistry(ws.RegistryOptions{
		MaxSessions: cfg.Realtime.MaxSessions,
		Logger:      logging.WithComponent("registry"),
	})
	server := ws.NewServer(registry, ws.Options{
		AuthToken:       cfg.Server.AuthToken,
		AllowedOrigins:  cfg.Server.AllowedOrigins,
		SendBuffer:      cfg.Realtime.SendBuffer,
		PingInterval:    cfg.Realtime.PingInterval,
		PongTimeout:     cfg.Realtime.PongTimeout,
		WriteTimeout:    cfg.Realtime.WriteTimeout,
		MaxMessageBytes: cfg.Realtime.MaxMessageBytes,
		PollWait:        cfg.Realtime.PollWait,
		PollIdleTimeout: cfg.Realtime.PollIdleTimeout,
		Logger:          logging.WithComponent("transport"),
	})
	emitter := events.NewEmitter(registry, events.WithLogger(logging.WithComponent("events")))

	a := &app{
		registry: registry,
		server:   server,
		emitter:  emitter,
		log:      logging.WithComponent("main"),
		cancel:   func() {},
	}

	if cfg.Outbox.Path != "" {
		store, err := outbox.Open(cfg.Outbox.Path)
		if err != nil {
			return nil, fmt.Errorf("open outbox: %w", err)
		}
		a.store = store
		a.relay = outbox.NewRelay(store, emitter, outbox.RelayOptions{
			Interval: cfg.Outbox.Interval,
			Batch:    cfg.Outbox.Batch,
			Logger:   logging.WithComponent("outbox"),
		})
	}

	a.api = api.NewHandler(emitter, registry, api.Options{
		AuthToken: cfg.Server.AuthToken,
		Outbox:    a.store,
		Logger:    logging.WithComponent("api"),
	})
	return a, nil
}

// start launches background work that stops with ctx.
func (a *app) start(ctx context.Context) {
	ctx, a.cancel = context.WithCancel(ctx)
	a.server.Start(ctx)
	if a.relay != nil {
		a.wg.Add(1)
		go func() {
			defer a.wg.Done()
			a.relay.Run(ctx)
		}()
	}
}

func (a *app) handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	a.server.SetupRoutes(r)
	// Long-lived transport routes must not be cut off; only the API is.
	r.Group(func(r chi.Router) {
		r.Use(middleware.Timeout(apiTimeout))
		a.api.RegisterRoutes(r)
	})

	return ws.SecurityHeaders(r)
}

// stop halts background work and lets the relay finish its final drain
// before every session is disconnected. It runs when HTTP shutdown starts
// and again from close, and is safe to call more than once.
func (a *app) stop() {
	a.cancel()
	a.wg.Wait()
	a.server.Shutdown()
}

func (a *app) close() {
	a.stop()
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			a.log.Error().Err(err).Msg("close outbox")
		}
	}
}

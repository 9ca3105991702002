// Command gateway runs one delta-sync gateway process: the HTTP/WebSocket
// surface, the in-memory per-gateway session buffers, and the background
// flush-alarm and usage-drain loops.
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

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	_ "go.uber.org/automaxprocs"

	"github.com/adred-codev/ws_poc/internal/auth"
	"github.com/adred-codev/ws_poc/internal/buffer"
	"github.com/adred-codev/ws_poc/internal/config"
	"github.com/adred-codev/ws_poc/internal/gateway"
	"github.com/adred-codev/ws_poc/internal/httpapi"
	"github.com/adred-codev/ws_poc/internal/logging"
	"github.com/adred-codev/ws_poc/internal/objectstore"
	"github.com/adred-codev/ws_poc/internal/usage"
	"github.com/adred-codev/ws_poc/internal/wsproto"
)

var (
	version = "dev"
	commit  = "none"
)

var rootCmd = &cobra.Command{
	Use:   "gateway",
	Short: "Delta-sync gateway: HTTP/WebSocket ingress and per-client buffering",
	RunE:  run,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("gateway %s (commit: %s)\n", version, commit)
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// sessionRegistry lazily creates and holds one gateway.Session per
// gatewayId this process owns, satisfying httpapi.GatewayLookup and
// wsproto.GatewayLookup.
type sessionRegistry struct {
	mu       sync.Mutex
	sessions map[string]*gateway.Session
	bufCfg   buffer.Config
	store    objectstore.Adapter
	agg      *usage.Aggregator
}

func newSessionRegistry(bufCfg buffer.Config, store objectstore.Adapter, agg *usage.Aggregator) *sessionRegistry {
	return &sessionRegistry{
		sessions: make(map[string]*gateway.Session),
		bufCfg:   bufCfg,
		store:    store,
		agg:      agg,
	}
}

func (r *sessionRegistry) Lookup(gatewayID string) *gateway.Session {
	r.mu.Lock()
	defer r.mu.Unlock()

	if s, ok := r.sessions[gatewayID]; ok {
		return s
	}
	s := gateway.New(gatewayID, r.bufCfg, r.store, r.agg)
	r.sessions[gatewayID] = s
	return s
}

func (r *sessionRegistry) all() []*gateway.Session {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]*gateway.Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		out = append(out, s)
	}
	return out
}

// runFlushAlarmLoop fires each session's scheduled flush when its alarm
// time has passed, grounded in the per-connection timer loops the
// teacher runs for WebSocket heartbeats.
func runFlushAlarmLoop(ctx context.Context, registry *sessionRegistry, logger zerolog.Logger) {
	ticker := time.NewTicker(250 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			for _, s := range registry.all() {
				if at, pending := s.PendingAlarm(); pending && !now.Before(at) {
					s.FireAlarm(ctx)
				}
			}
		}
	}
}

// logSink drains usage events to structured logs. No control-plane
// billing service is named anywhere in the spec or the example corpus,
// so usage stays observable via logs until a real sink exists.
type logSink struct {
	logger zerolog.Logger
}

func (s logSink) Record(ctx context.Context, events []usage.Event) error {
	for _, e := range events {
		s.logger.Info().
			Str("gateway_id", e.GatewayID).
			Str("event_type", string(e.EventType)).
			Int64("count", e.Count).
			Time("bucket", e.Timestamp).
			Msg("usage event")
	}
	return nil
}

func run(cmd *cobra.Command, args []string) error {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer cancel()

	cfg, err := config.LoadGateway(nil)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger := logging.New(cfg.LoggingConfig())
	cfg.LogConfig(logger)

	verifier := auth.NewVerifier(cfg.JWTSecret, cfg.JWTPreviousSecret)

	var store objectstore.Adapter
	if cfg.UsesObjectStore() {
		s3, err := objectstore.NewS3Adapter(objectstore.S3Config{
			Endpoint:  cfg.S3Endpoint,
			Bucket:    cfg.S3Bucket,
			Region:    cfg.S3Region,
			AccessKey: cfg.S3AccessKey,
			SecretKey: cfg.S3SecretKey,
			UseSSL:    cfg.S3UseSSL,
		})
		if err != nil {
			return fmt.Errorf("dial object store: %w", err)
		}
		store = s3
		logger.Info().Str("bucket", cfg.S3Bucket).Msg("object store: s3")
	} else {
		store = objectstore.NewMemStore()
		logger.Warn().Msg("object store: in-memory (no S3_* configured, durability is process-lifetime only)")
	}

	bufCfg := buffer.DefaultConfig()
	if cfg.MaxBufferBytes > 0 {
		bufCfg.MaxBufferBytes = cfg.MaxBufferBytes
	}

	agg := usage.NewAggregator()
	var wg sync.WaitGroup
	startBackground(ctx, &wg, logger, "usage-drain", func() { agg.RunDrainLoop(ctx, logSink{logger: logger}, 30*time.Second) })

	registry := newSessionRegistry(bufCfg, store, agg)
	startBackground(ctx, &wg, logger, "flush-alarm", func() { runFlushAlarmLoop(ctx, registry, logger) })

	// Shard fan-out is the router process's job (cmd/router); a
	// gateway always serves its own session directly regardless of
	// whether a SHARD_CONFIG document exists elsewhere in the fleet.
	upgrader := &wsproto.Upgrader{Lookup: registry.Lookup, Logger: logger}

	server := &httpapi.Server{
		Lookup:   registry.Lookup,
		Verifier: verifier,
		Logger:   logger,
		WS:       upgrader,
	}

	httpSrv := &http.Server{
		Addr:    cfg.Addr,
		Handler: httpapi.NewRouter(server),
	}

	go func() {
		logger.Info().Str("addr", cfg.Addr).Msg("gateway listening")
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error().Err(err).Msg("http server error")
			cancel()
		}
	}()

	<-ctx.Done()
	logger.Info().Msg("shutdown initiated")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("http server shutdown error")
	}

	for _, s := range registry.all() {
		if _, err := s.Flush(shutdownCtx); err != nil {
			logger.Error().Err(err).Str("gateway_id", s.GatewayID()).Msg("final flush failed")
		}
	}

	wg.Wait()
	return nil
}

func startBackground(ctx context.Context, wg *sync.WaitGroup, logger zerolog.Logger, name string, fn func()) {
	wg.Add(1)
	go func() {
		defer wg.Done()
		defer logging.RecoverPanic(&logger, name, nil)
		fn()
	}()
}

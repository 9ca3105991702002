// Command router runs the shard-fanout process: it holds no gateway
// sessions itself and instead forwards every sync/admin request across
// the gateways named in SHARD_CONFIG, merging their responses.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	_ "go.uber.org/automaxprocs"

	"github.com/adred-codev/ws_poc/internal/auth"
	"github.com/adred-codev/ws_poc/internal/config"
	"github.com/adred-codev/ws_poc/internal/gateway"
	"github.com/adred-codev/ws_poc/internal/httpapi"
	"github.com/adred-codev/ws_poc/internal/logging"
	"github.com/adred-codev/ws_poc/internal/shard"
)

// noLocalSessions satisfies httpapi.GatewayLookup for the router, which
// always has Shard set and so never actually calls Lookup.
func noLocalSessions(gatewayID string) *gateway.Session { return nil }

var (
	version = "dev"
	commit  = "none"
)

var rootCmd = &cobra.Command{
	Use:   "router",
	Short: "Delta-sync shard router: fans requests out across gateways",
	RunE:  run,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("router %s (commit: %s)\n", version, commit)
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

func run(cmd *cobra.Command, args []string) error {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer cancel()

	cfg, err := config.LoadRouter(nil)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger := logging.New(cfg.LoggingConfig())
	cfg.LogConfig(logger)

	shardCfg, ok := shard.ParseShardConfig([]byte(cfg.ShardConfigJSON))
	if !ok {
		return fmt.Errorf("invalid SHARD_CONFIG")
	}

	resolve, err := cfg.Resolver()
	if err != nil {
		return fmt.Errorf("build gateway address resolver: %w", err)
	}

	shardRouter := shard.NewRouter(shardCfg, resolve, logger)
	verifier := auth.NewVerifier(cfg.JWTSecret, cfg.JWTPreviousSecret)

	server := &httpapi.Server{
		Lookup:   noLocalSessions,
		Verifier: verifier,
		Shard:    shardRouter,
		Logger:   logger,
	}

	httpSrv := &http.Server{
		Addr:    cfg.Addr,
		Handler: httpapi.NewRouter(server),
	}

	go func() {
		logger.Info().Str("addr", cfg.Addr).Int("shards", len(shardCfg.Shards)).Msg("router listening")
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
	return nil
}

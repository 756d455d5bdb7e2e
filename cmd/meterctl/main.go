// Command meterctl administers the token catalog, balances and API keys
// against the same database the API server uses.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/thesisflow/thesisflow/internal/cache"
	"github.com/thesisflow/thesisflow/internal/config"
	"github.com/thesisflow/thesisflow/internal/repository"
)

var (
	timeout time.Duration
	verbose bool
)

// rootCmd is the base command.
var rootCmd = &cobra.Command{
	Use:   "meterctl",
	Short: "Administer ThesisFlow metering",
	Long: `meterctl manages the ThesisFlow token catalog, user balances and API keys.

It reads the same environment as the API server (DATABASE_URL, REDIS_URL, ...).`,
	SilenceUsage: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		level := slog.LevelWarn
		if verbose {
			level = slog.LevelDebug
		}
		slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
	},
}

func init() {
	rootCmd.PersistentFlags().DurationVar(&timeout, "timeout", 30*time.Second, "Operation timeout")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")

	rootCmd.AddCommand(migrateCmd)
	rootCmd.AddCommand(featuresCmd)
	rootCmd.AddCommand(tokensCmd)
	rootCmd.AddCommand(apikeyCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// env bundles the stores a command needs.
type env struct {
	cfg   *config.Config
	repo  *repository.Repository
	cache *cache.Cache
}

func (e *env) Close() {
	if e.cache != nil {
		_ = e.cache.Close()
	}
	if e.repo != nil {
		e.repo.Close()
	}
}

// connect loads config and opens the database. Redis is opened only when
// withCache is set.
func connect(ctx context.Context, withCache bool) (*env, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	repo, err := repository.New(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect database: %w", err)
	}
	e := &env{cfg: cfg, repo: repo}

	if withCache {
		c, err := cache.New(ctx, cfg.RedisURL)
		if err != nil {
			e.Close()
			return nil, fmt.Errorf("connect redis: %w", err)
		}
		e.cache = c
	}
	return e, nil
}

func commandContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	return context.WithTimeout(cmd.Context(), timeout)
}

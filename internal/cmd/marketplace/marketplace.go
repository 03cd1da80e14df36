// Package marketplace parses marketplace command flags and composes transport
// entrypoints.
package marketplace

import (
	"context"
	"flag"
	"fmt"
	"time"

	entrypoint "github.com/campuswork/campuswork/internal/platform/cmd"
	server "github.com/campuswork/campuswork/internal/services/marketplace/app"
)

// Config holds marketplace command configuration.
type Config struct {
	HTTPAddr    string        `env:"CAMPUSWORK_MARKETPLACE_HTTP_ADDR" envDefault:":8080"`
	DBDir       string        `env:"CAMPUSWORK_MARKETPLACE_DB_DIR"    envDefault:"data"`
	TokenSecret string        `env:"CAMPUSWORK_TOKEN_SECRET"`
	TokenTTL    time.Duration `env:"CAMPUSWORK_TOKEN_TTL"             envDefault:"24h"`
}

// ParseConfig parses environment and flags into a Config.
func ParseConfig(fs *flag.FlagSet, args []string) (Config, error) {
	var cfg Config
	if err := entrypoint.ParseConfig(&cfg); err != nil {
		return Config{}, err
	}

	fs.StringVar(&cfg.HTTPAddr, "http-addr", cfg.HTTPAddr, "marketplace HTTP listen address")
	fs.StringVar(&cfg.DBDir, "db-dir", cfg.DBDir, "directory for sqlite databases")
	fs.StringVar(&cfg.TokenSecret, "token-secret", cfg.TokenSecret, "identity token signing secret; header identity is accepted when empty")
	fs.DurationVar(&cfg.TokenTTL, "token-ttl", cfg.TokenTTL, "identity token lifetime")
	if err := entrypoint.ParseArgs(fs, args); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Run builds the marketplace app and serves it until the context ends.
func Run(ctx context.Context, cfg Config) error {
	return entrypoint.RunWithTelemetry(ctx, entrypoint.ServiceMarketplace, func(context.Context) error {
		if err := server.Run(ctx, server.Config{
			HTTPAddr:    cfg.HTTPAddr,
			DBDir:       cfg.DBDir,
			TokenSecret: cfg.TokenSecret,
			TokenTTL:    cfg.TokenTTL,
		}); err != nil {
			return fmt.Errorf("serve marketplace: %w", err)
		}
		return nil
	})
}

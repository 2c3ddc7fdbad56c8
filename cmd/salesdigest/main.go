package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"cloud.google.com/go/civil"
	"github.com/alecthomas/kong"

	"salesdigest/internal/appstore"
	"salesdigest/internal/auth"
	"salesdigest/internal/config"
	"salesdigest/internal/digest"
	"salesdigest/internal/logging"
	"salesdigest/internal/notify"
	"salesdigest/internal/observability"
	"salesdigest/internal/report"
)

const serviceName = "salesdigest"

// CLI holds the command-line flags. Everything else comes from the environment.
type CLI struct {
	Interval time.Duration `help:"Repeat the digest at this interval instead of running once (overrides RUN_INTERVAL)"`
	DryRun   bool          `help:"Print the summary to stdout instead of sending it"`
	Today    string        `help:"Treat this date (YYYY-MM-DD) as today"`
	EnvFile  string        `help:"Dotenv file to load before reading the environment" type:"path" default:".env"`
}

func main() {
	var cli CLI
	kong.Parse(&cli,
		kong.Name(serviceName),
		kong.Description("Post App Store download totals to a chat webhook."),
		kong.UsageOnError(),
	)

	if err := config.LoadDotEnv(cli.EnvFile); err != nil {
		logging.New(serviceName, logging.Config{}).Fatalf("loading env file: %v", err)
	}
	cfg, err := config.Load()
	if err != nil {
		logging.New(serviceName, logging.Config{}).Fatalf("invalid configuration: %v", err)
	}
	logger := logging.New(serviceName, logging.Config{Level: cfg.LogLevel, Format: cfg.LogFormat, Debug: cfg.Debug})

	var today civil.Date
	if cli.Today != "" {
		today, err = civil.ParseDate(cli.Today)
		if err != nil {
			logger.Fatalf("invalid --today %q: %v", cli.Today, err)
		}
	}

	issuer, err := auth.NewIssuer(cfg.AppStore.IssuerID, cfg.AppStore.KeyID, cfg.AppStore.PrivateKey)
	if err != nil {
		logger.Fatalf("init credentials: %v", err)
	}

	metrics := observability.NewMetrics(nil)
	client := appstore.NewClient(appstore.Config{
		BaseURL:   cfg.AppStore.BaseURL,
		Timeout:   cfg.AppStore.Timeout,
		RateLimit: cfg.AppStore.RateLimit,
	}, logger, metrics)
	discord := notify.NewDiscord(notify.Config{
		URL:      cfg.Webhook.URL,
		Username: cfg.Webhook.Username,
		Timeout:  cfg.Webhook.Timeout,
	})

	runner := digest.NewRunner(client.Daily(cfg.AppStore.VendorNumber, issuer), issuer, discord, logger, metrics, digest.Config{
		Resolver: report.ResolverConfig{
			LagDays:      cfg.AppStore.LagDays,
			AutoLatest:   cfg.AppStore.AutoLatest,
			MaxProbeDays: cfg.AppStore.MaxProbeDays,
		},
		Windows:  report.DefaultWindows,
		Location: cfg.Location,
		Today:    today,
		DryRun:   cli.DryRun,
		Out:      os.Stdout,
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	interval := cfg.RunInterval
	if cli.Interval > 0 {
		interval = cli.Interval
	}
	if interval <= 0 {
		if _, err := runner.RunOnce(ctx, time.Now()); err != nil {
			stop()
			logger.Fatalf("digest run failed: %v", err)
		}
		return
	}

	if cfg.MetricsAddr != "" {
		srv := observability.Start(ctx, cfg.MetricsAddr, logger, metrics.Registry(), runner.Ready)
		logger.Debug("observability server started", "addr", srv.Addr())
	}
	logger.Info("running on interval", "interval", interval.String())

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if _, err := runner.RunOnce(ctx, time.Now()); err != nil {
			logger.Printf("digest tick error: %v", err)
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

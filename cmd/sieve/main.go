package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/commonsforum/sieve/automod"
	"github.com/commonsforum/sieve/automod/queue"
	"github.com/commonsforum/sieve/automod/risk"
	"github.com/commonsforum/sieve/util/cliutil"

	"github.com/carlmjohnson/versioninfo"
	_ "github.com/joho/godotenv/autoload"
	cli "github.com/urfave/cli/v2"
	_ "go.uber.org/automaxprocs"
)

func main() {
	if err := run(os.Args); err != nil {
		slog.Error("exiting", "err", err)
		os.Exit(-1)
	}
}

func run(args []string) error {

	app := cli.App{
		Name:    "sieve",
		Usage:   "content-risk scoring and moderation queue daemon",
		Version: versioninfo.Short(),
	}

	app.Flags = []cli.Flag{
		&cli.StringFlag{
			Name:    "log-level",
			Usage:   "log verbosity level (eg: warn, info, debug)",
			Value:   "info",
			EnvVars: []string{"SIEVE_LOG_LEVEL", "LOG_LEVEL"},
		},
		&cli.StringFlag{
			Name:    "log-format",
			Usage:   "log output format (json or text)",
			Value:   "json",
			EnvVars: []string{"SIEVE_LOG_FORMAT"},
		},
		&cli.StringFlag{
			Name:    "rules-file",
			Usage:   "JSON rule catalog, replacing the built-in catalog",
			EnvVars: []string{"SIEVE_RULES_FILE"},
		},
		&cli.StringFlag{
			Name:    "sets-file",
			Usage:   "JSON file of named sets (eg, host deny-lists), merged over the built-in sets",
			EnvVars: []string{"SIEVE_SETS_FILE"},
		},
		&cli.IntFlag{
			Name:    "publish-threshold",
			Usage:   "risk scores below this may be published immediately",
			Value:   risk.DefaultThresholds().PublishBelow,
			EnvVars: []string{"SIEVE_PUBLISH_THRESHOLD"},
		},
		&cli.IntFlag{
			Name:    "limited-threshold",
			Usage:   "risk scores at or above this are quarantined",
			Value:   risk.DefaultThresholds().LimitedBelow,
			EnvVars: []string{"SIEVE_LIMITED_THRESHOLD"},
		},
	}

	app.Commands = []*cli.Command{
		runCmd,
		scoreCmd,
	}

	return app.Run(args)
}

var runCmd = &cli.Command{
	Name:  "run",
	Usage: "run the service",
	Flags: []cli.Flag{
		&cli.StringFlag{
			Name:    "bind",
			Usage:   "IP or address, and port, to listen on for HTTP APIs",
			Value:   ":3999",
			EnvVars: []string{"SIEVE_BIND"},
		},
		&cli.StringFlag{
			Name:    "metrics-listen",
			Usage:   "IP or address, and port, to listen on for metrics APIs",
			Value:   ":3998",
			EnvVars: []string{"SIEVE_METRICS_LISTEN"},
		},
		&cli.StringFlag{
			Name:    "redis-url",
			Usage:   "redis connection URL; used for counters and caching, and for content storage when no database is configured",
			EnvVars: []string{"SIEVE_REDIS_URL"},
		},
		&cli.StringFlag{
			Name:    "database-url",
			Usage:   "database connection string for content storage (sqlite or postgres)",
			EnvVars: []string{"DATABASE_URL"},
		},
		&cli.IntFlag{
			Name:    "max-db-connections",
			EnvVars: []string{"SIEVE_MAX_DB_CONNECTIONS"},
			Value:   40,
		},
		&cli.StringFlag{
			Name:    "mod-token",
			Usage:   "bearer token required for reviewer endpoints",
			EnvVars: []string{"MOD_TOKEN"},
		},
		&cli.BoolFlag{
			Name:    "require-mod-token",
			Usage:   "refuse reviewer requests when no mod token is configured, instead of allowing open access",
			EnvVars: []string{"SIEVE_REQUIRE_MOD_TOKEN"},
		},
		&cli.IntFlag{
			Name:    "queue-ttl-days",
			Usage:   "how long held-back items stay in the moderation queue",
			Value:   14,
			EnvVars: []string{"MOD_QUEUE_TTL_DAYS"},
		},
		&cli.IntFlag{
			Name:    "queue-max-list",
			Usage:   "maximum number of queue records returned by a listing",
			Value:   queue.DefaultMaxList,
			EnvVars: []string{"SIEVE_QUEUE_MAX_LIST"},
		},
		&cli.BoolFlag{
			Name:    "enable-db-tracing",
			Usage:   "trace SQL queries with OpenTelemetry",
			EnvVars: []string{"SIEVE_ENABLE_DB_TRACING"},
		},
		&cli.Float64Flag{
			Name:    "forum-rate-limit",
			Usage:   "forum post and reply creation limit, per client IP, in requests per second (0 to disable)",
			Value:   2,
			EnvVars: []string{"SIEVE_FORUM_RATE_LIMIT"},
		},
		&cli.DurationFlag{
			Name:    "feed-cache-ttl",
			Usage:   "how long forum feed pages are cached",
			Value:   30 * time.Second,
			EnvVars: []string{"SIEVE_FEED_CACHE_TTL"},
		},
	},
	Action: func(cctx *cli.Context) error {
		ctx := context.Background()
		logger, err := configLogger(cctx, os.Stdout)
		if err != nil {
			return err
		}

		shutdownOTEL, err := configOTEL(ctx, "sieve")
		if err != nil {
			return err
		}
		defer func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := shutdownOTEL(ctx); err != nil {
				logger.Error("failed to shutdown trace exporter", "err", err)
			}
		}()

		ttlDays := cctx.Int("queue-ttl-days")
		if ttlDays <= 0 {
			ttlDays = 14
		}
		srv, err := NewServer(ctx, Config{
			Logger:           logger,
			Bind:             cctx.String("bind"),
			RedisURL:         cctx.String("redis-url"),
			DatabaseURL:      cctx.String("database-url"),
			MaxDBConnections: cctx.Int("max-db-connections"),
			ModToken:         cctx.String("mod-token"),
			RequireModToken:  cctx.Bool("require-mod-token"),
			QueueTTL:         time.Duration(ttlDays) * 24 * time.Hour,
			QueueMaxList:     cctx.Int("queue-max-list"),
			FeedCacheTTL:     cctx.Duration("feed-cache-ttl"),
			RulesFile:        cctx.String("rules-file"),
			SetsFile:         cctx.String("sets-file"),
			EnableDBTracing:  cctx.Bool("enable-db-tracing"),
			ForumRateLimit:   cctx.Float64("forum-rate-limit"),
			Thresholds: risk.Thresholds{
				PublishBelow: cctx.Int("publish-threshold"),
				LimitedBelow: cctx.Int("limited-threshold"),
			},
		})
		if err != nil {
			return fmt.Errorf("failed to construct server: %v", err)
		}

		// prometheus HTTP endpoint: /metrics
		go func() {
			if err := srv.RunMetrics(cctx.String("metrics-listen")); err != nil {
				slog.Error("failed to start metrics endpoint", "error", err)
				panic(fmt.Errorf("failed to start metrics endpoint: %w", err))
			}
		}()

		return srv.RunAPI()
	},
}

var scoreCmd = &cli.Command{
	Name:      "score",
	Usage:     "score text offline, with the same rules as the service, and print the result as JSON",
	ArgsUsage: "[text]",
	Flags: []cli.Flag{
		&cli.StringFlag{
			Name:  "tier",
			Usage: "submitter trust tier (T0, T1, T2)",
			Value: string(risk.TierT0),
		},
		&cli.IntFlag{
			Name:  "posts-last-hour",
			Usage: "submitter velocity",
		},
		&cli.StringSliceFlag{
			Name:  "tag",
			Usage: "content tag (may be repeated)",
		},
		&cli.StringSliceFlag{
			Name:  "link",
			Usage: "link URL (may be repeated)",
		},
	},
	Action: func(cctx *cli.Context) error {
		ctx := context.Background()
		logger, err := configLogger(cctx, os.Stderr)
		if err != nil {
			return err
		}

		text := strings.Join(cctx.Args().Slice(), " ")
		if text == "" {
			raw, err := io.ReadAll(os.Stdin)
			if err != nil {
				return err
			}
			text = string(raw)
		}

		det, links, err := loadDetection(cctx.String("rules-file"), cctx.String("sets-file"))
		if err != nil {
			return err
		}
		eng := automod.Engine{
			Logger:   logger,
			Detector: det,
			Links:    links,
			Thresholds: automod.Thresholds{
				PublishBelow: cctx.Int("publish-threshold"),
				LimitedBelow: cctx.Int("limited-threshold"),
			},
		}
		res, err := eng.Evaluate(ctx, &automod.Submission{
			Text:      text,
			Tags:      cctx.StringSlice("tag"),
			Links:     cctx.StringSlice("link"),
			TrustTier: cctx.String("tier"),
			Velocity:  &automod.Velocity{PostsLastHour: cctx.Int("posts-last-hour")},
		})
		if err != nil {
			return err
		}
		b, err := json.MarshalIndent(res, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(b))
		return nil
	},
}

func configLogger(cctx *cli.Context, out io.Writer) (*slog.Logger, error) {
	return cliutil.SetupSlog(out, cctx.String("log-level"), cctx.String("log-format"))
}

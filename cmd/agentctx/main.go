// Command agentctx inspects and maintains the context state of agent threads.
//
//	agentctx --database-url postgres://... inspect <thread-id>
//	agentctx --redis-url redis://localhost:6379/0 render-handoff --html <thread-id>
//	agentctx --database-url postgres://... watch
package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/lib/pq"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"github.com/youssefsiam38/agentctx"
	"github.com/youssefsiam38/agentctx/driver"
	"github.com/youssefsiam38/agentctx/driver/databasesql"
	"github.com/youssefsiam38/agentctx/driver/pgxv5"
	"github.com/youssefsiam38/agentctx/driver/redisstore"
	"github.com/youssefsiam38/agentctx/driver/sqlstore"
)

// Version information (set via ldflags)
var Version = "dev"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCommand(os.Stdout).ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

// app holds the flags and connections shared by every subcommand.
type app struct {
	out    io.Writer
	logger *slog.Logger

	configPath  string
	databaseURL string
	sqlDriver   string
	redisURL    string
	redisPrefix string

	cfg      *agentctx.Config
	store    driver.Store
	executor driver.Executor
	listen   func(ctx context.Context) (driver.Listener, error)
	closers  []func()
}

func newRootCommand(out io.Writer) *cobra.Command {
	a := &app{out: out, logger: slog.New(slog.NewTextHandler(os.Stderr, nil))}

	root := &cobra.Command{
		Use:           "agentctx",
		Short:         "Inspect and maintain agent conversation context",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.open(cmd.Context())
		},
		PersistentPostRun: func(*cobra.Command, []string) {
			a.close()
		},
	}
	root.SetOut(out)

	flags := root.PersistentFlags()
	flags.StringVar(&a.configPath, "config", os.Getenv("AGENTCTX_CONFIG"), "YAML configuration file")
	flags.StringVar(&a.databaseURL, "database-url", os.Getenv("DATABASE_URL"), "PostgreSQL connection string")
	flags.StringVar(&a.sqlDriver, "sql-driver", "pgx", "PostgreSQL driver: pgx or pq")
	flags.StringVar(&a.redisURL, "redis-url", os.Getenv("REDIS_URL"), "Redis URL; takes precedence over --database-url")
	flags.StringVar(&a.redisPrefix, "redis-prefix", redisstore.DefaultPrefix, "Redis key prefix")

	root.AddCommand(
		a.inspectCommand(),
		a.prunePlanCommand(),
		a.summarizeCommand(),
		a.renderHandoffCommand(),
		a.watchCommand(),
		a.migrateCommand(),
	)
	return root
}

func (a *app) open(ctx context.Context) error {
	a.cfg = agentctx.DefaultConfig()
	if a.configPath != "" {
		cfg, err := agentctx.LoadConfig(a.configPath)
		if err != nil {
			return err
		}
		a.cfg = cfg
	}

	switch {
	case a.redisURL != "":
		opts, err := redis.ParseURL(a.redisURL)
		if err != nil {
			return fmt.Errorf("parse redis url: %w", err)
		}
		client := redis.NewClient(opts)
		a.closers = append(a.closers, func() { _ = client.Close() })
		store := redisstore.New(client, redisstore.Options{Prefix: a.redisPrefix, Logger: a.logger})
		a.store = store
		a.listen = func(ctx context.Context) (driver.Listener, error) {
			return store.Listener(ctx), nil
		}

	case a.databaseURL != "":
		switch a.sqlDriver {
		case "pgx":
			pool, err := pgxpool.New(ctx, a.databaseURL)
			if err != nil {
				return fmt.Errorf("connect to database: %w", err)
			}
			a.closers = append(a.closers, pool.Close)
			drv := pgxv5.New(pool).WithLogger(a.logger)
			a.store = drv.GetStore()
			a.executor = drv.GetExecutor()
			a.listen = drv.GetListener
		case "pq":
			db, err := sql.Open("postgres", a.databaseURL)
			if err != nil {
				return fmt.Errorf("connect to database: %w", err)
			}
			a.closers = append(a.closers, func() { _ = db.Close() })
			drv := databasesql.New(db).WithLogger(a.logger)
			a.store = drv.GetStore()
			a.executor = drv.GetExecutor()
		default:
			return fmt.Errorf("unknown --sql-driver %q", a.sqlDriver)
		}

	default:
		return errors.New("one of --database-url or --redis-url is required")
	}
	return nil
}

func (a *app) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}

func (a *app) migrateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create the PostgreSQL tables",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if a.executor == nil {
				return errors.New("migrate requires --database-url")
			}
			if err := sqlstore.Migrate(cmd.Context(), a.executor); err != nil {
				return err
			}
			fmt.Fprintln(a.out, "schema is up to date")
			return nil
		},
	}
}

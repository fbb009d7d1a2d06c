package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/go-mizu/sqlmap"
	"github.com/spf13/cobra"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"
)

// Version information set via ldflags at build time
var Version = "dev"

var rootCmd = &cobra.Command{
	Use:     "sqlmap",
	Short:   "Run parameterized SQL and print the results",
	Long:    `Runs SQL with @name parameters against sqlite, postgres (lib/pq) or pgx and prints rows as JSON lines.`,
	Version: Version,

	SilenceUsage: true,
}

func init() {
	rootCmd.SetVersionTemplate("sqlmap version {{.Version}}\n")

	pf := rootCmd.PersistentFlags()
	pf.String("driver", "sqlite", "database/sql driver name (sqlite, postgres, pgx)")
	pf.String("dsn", "", "data source name, e.g. a sqlite file path")
	pf.StringArrayP("param", "p", nil, "named parameter as name=value (repeatable)")
	pf.Duration("timeout", 30*time.Second, "command timeout (0 disables)")
	pf.String("log-level", "", "log level: debug, info, warn, error (default $LOG_LEVEL or info)")
	pf.Bool("strict-nulls", false, "reset destinations to zero on NULL")
	pf.Bool("underscores", false, "match columns to fields ignoring underscores")
	pf.Bool("native-arrays", false, "bind list parameters as one postgres array (write = ANY(@ids)) instead of expanding IN lists")
}

// session is what every subcommand needs: the pool, the mapper and the
// command template built from the flags.
type session struct {
	db     *sql.DB
	mapper *sqlmap.Mapper
	logger *slog.Logger
	cmd    sqlmap.Command
}

func openSession(cmd *cobra.Command, query string) (*session, error) {
	driver, _ := cmd.Flags().GetString("driver")
	dsn, _ := cmd.Flags().GetString("dsn")
	rawParams, _ := cmd.Flags().GetStringArray("param")
	timeout, _ := cmd.Flags().GetDuration("timeout")
	level, _ := cmd.Flags().GetString("log-level")
	strict, _ := cmd.Flags().GetBool("strict-nulls")
	underscores, _ := cmd.Flags().GetBool("underscores")
	nativeArrays, _ := cmd.Flags().GetBool("native-arrays")

	if dsn == "" {
		return nil, fmt.Errorf("--dsn is required")
	}
	if level == "" {
		level = os.Getenv("LOG_LEVEL")
	}
	logger := newLogger(level)

	params, err := parseParams(rawParams)
	if err != nil {
		return nil, err
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	m := sqlmap.NewMapper(
		sqlmap.WithLogger(logger),
		sqlmap.WithDialect(dialectFor(driver, nativeArrays)),
		sqlmap.WithStrictNulls(strict),
		sqlmap.WithUnderscoreMatching(underscores),
	)
	var p any
	if len(params) > 0 {
		p = params
	}
	logger.Debug("opened database", "driver", driver, "params", len(params))
	return &session{
		db:     db,
		mapper: m,
		logger: logger,
		cmd: sqlmap.Command{
			SQL:     query,
			Params:  p,
			Timeout: timeout,
			Flags:   sqlmap.FlagBuffered,
			Mapper:  m,
		},
	}, nil
}

func (s *session) Close() error { return s.db.Close() }

// dialectFor keeps the driver's placeholder style. Lists expand into IN
// (...) unless nativeArrays is set and the driver takes postgres arrays.
func dialectFor(driver string, nativeArrays bool) sqlmap.Dialect {
	d := sqlmap.DialectFor(driver)
	d.Arrays = d.Arrays && nativeArrays
	return d
}

func newLogger(level string) *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: parseLevel(level)}))
}

func parseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}

package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/lalithlochan/medreminder/internal/observ"
)

// migration pairs the up and down scripts sharing a version prefix, e.g.
// 0001_schedule_overrides.up.sql and 0001_schedule_overrides.down.sql.
type migration struct {
	Version string
	Up      string
	Down    string
}

// loadMigrations reads dir and returns its migrations in version order.
// A down script without a matching up script is an error.
func loadMigrations(dir string) ([]migration, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read migrations dir %s: %w", dir, err)
	}

	byVersion := map[string]*migration{}
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		var version string
		var up bool
		switch {
		case strings.HasSuffix(name, ".up.sql"):
			version, up = strings.TrimSuffix(name, ".up.sql"), true
		case strings.HasSuffix(name, ".down.sql"):
			version = strings.TrimSuffix(name, ".down.sql")
		default:
			continue
		}

		m, ok := byVersion[version]
		if !ok {
			m = &migration{Version: version}
			byVersion[version] = m
		}
		if up {
			m.Up = filepath.Join(dir, name)
		} else {
			m.Down = filepath.Join(dir, name)
		}
	}

	out := make([]migration, 0, len(byVersion))
	for _, m := range byVersion {
		if m.Up == "" {
			return nil, fmt.Errorf("migration %s has a down script but no up script", m.Version)
		}
		out = append(out, *m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Version < out[j].Version })
	return out, nil
}

// planUp returns the migrations not yet applied, oldest first.
func planUp(all []migration, applied map[string]bool) []migration {
	var plan []migration
	for _, m := range all {
		if !applied[m.Version] {
			plan = append(plan, m)
		}
	}
	return plan
}

// planDown returns the last steps applied migrations, newest first. Every
// one of them must ship a down script.
func planDown(all []migration, applied []string, steps int) ([]migration, error) {
	if steps <= 0 {
		return nil, fmt.Errorf("steps must be positive, got %d", steps)
	}
	known := make(map[string]migration, len(all))
	for _, m := range all {
		known[m.Version] = m
	}

	var plan []migration
	for i := len(applied) - 1; i >= 0 && len(plan) < steps; i-- {
		m, ok := known[applied[i]]
		if !ok {
			return nil, fmt.Errorf("applied migration %s not found on disk", applied[i])
		}
		if m.Down == "" {
			return nil, fmt.Errorf("migration %s has no down script", m.Version)
		}
		plan = append(plan, m)
	}
	return plan, nil
}

type migrator struct {
	pool   *pgxpool.Pool
	dir    string
	logger *zap.Logger
}

func (m *migrator) ensureSchemaTable(ctx context.Context) error {
	_, err := m.pool.Exec(ctx, `
        CREATE TABLE IF NOT EXISTS schema_migrations (
            version TEXT PRIMARY KEY,
            applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
        );
    `)
	return err
}

// applied returns the applied versions in version order.
func (m *migrator) applied(ctx context.Context) ([]string, error) {
	rows, err := m.pool.Query(ctx, "SELECT version FROM schema_migrations ORDER BY version")
	if err != nil {
		return nil, fmt.Errorf("list applied migrations: %w", err)
	}
	versions, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("scan applied migrations: %w", err)
	}
	return versions, nil
}

// run executes script and the bookkeeping statement in one transaction.
func (m *migrator) run(ctx context.Context, script, bookkeeping, version string) error {
	contents, err := os.ReadFile(script)
	if err != nil {
		return fmt.Errorf("read %s: %w", script, err)
	}
	return pgx.BeginFunc(ctx, m.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, string(contents)); err != nil {
			return fmt.Errorf("execute %s: %w", filepath.Base(script), err)
		}
		if _, err := tx.Exec(ctx, bookkeeping, version); err != nil {
			return fmt.Errorf("record %s: %w", version, err)
		}
		return nil
	})
}

func (m *migrator) up(ctx context.Context) (int, error) {
	all, err := loadMigrations(m.dir)
	if err != nil {
		return 0, err
	}
	versions, err := m.applied(ctx)
	if err != nil {
		return 0, err
	}
	applied := make(map[string]bool, len(versions))
	for _, v := range versions {
		applied[v] = true
	}

	n := 0
	for _, mig := range planUp(all, applied) {
		start := time.Now()
		if err := m.run(ctx, mig.Up, "INSERT INTO schema_migrations(version) VALUES($1)", mig.Version); err != nil {
			return n, err
		}
		n++
		m.logger.Info("applied migration",
			zap.String("version", mig.Version),
			zap.Duration("took", time.Since(start).Round(time.Millisecond)),
		)
	}
	return n, nil
}

func (m *migrator) down(ctx context.Context, steps int) (int, error) {
	all, err := loadMigrations(m.dir)
	if err != nil {
		return 0, err
	}
	versions, err := m.applied(ctx)
	if err != nil {
		return 0, err
	}
	plan, err := planDown(all, versions, steps)
	if err != nil {
		return 0, err
	}

	n := 0
	for _, mig := range plan {
		if err := m.run(ctx, mig.Down, "DELETE FROM schema_migrations WHERE version = $1", mig.Version); err != nil {
			return n, err
		}
		n++
		m.logger.Info("rolled back migration", zap.String("version", mig.Version))
	}
	return n, nil
}

func (m *migrator) status(ctx context.Context, out io.Writer) error {
	all, err := loadMigrations(m.dir)
	if err != nil {
		return err
	}
	versions, err := m.applied(ctx)
	if err != nil {
		return err
	}
	applied := make(map[string]bool, len(versions))
	for _, v := range versions {
		applied[v] = true
	}
	printStatus(out, all, applied)
	return nil
}

func printStatus(out io.Writer, all []migration, applied map[string]bool) {
	for _, mig := range all {
		state := "pending"
		if applied[mig.Version] {
			state = "applied"
		}
		fmt.Fprintf(out, "%-8s %s\n", state, mig.Version)
	}
}

func connect(ctx context.Context, databaseURL string) (*pgxpool.Pool, error) {
	if databaseURL == "" {
		return nil, errors.New("DATABASE_URL is required")
	}
	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse DATABASE_URL: %w", err)
	}
	cfg.ConnConfig.DefaultQueryExecMode = pgx.QueryExecModeSimpleProtocol // multi-statement scripts
	cfg.ConnConfig.RuntimeParams["application_name"] = "medreminder-migrator"

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}
	return pool, nil
}

func newRootCmd(logger *zap.Logger) *cobra.Command {
	var dir string
	root := &cobra.Command{
		Use:           "migrator",
		Short:         "Apply or roll back the Postgres schema migrations",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&dir, "dir", envOr("MIGRATIONS_DIR", "migrations"), "Directory holding *.up.sql and *.down.sql")

	withMigrator := func(fn func(ctx context.Context, m *migrator, cmd *cobra.Command) error) func(*cobra.Command, []string) error {
		return func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			pool, err := connect(ctx, os.Getenv("DATABASE_URL"))
			if err != nil {
				return err
			}
			defer pool.Close()

			m := &migrator{pool: pool, dir: dir, logger: logger}
			if err := m.ensureSchemaTable(ctx); err != nil {
				return fmt.Errorf("ensure schema_migrations: %w", err)
			}
			return fn(ctx, m, cmd)
		}
	}

	upCmd := &cobra.Command{
		Use:   "up",
		Short: "Apply every pending migration",
		RunE: withMigrator(func(ctx context.Context, m *migrator, cmd *cobra.Command) error {
			n, err := m.up(ctx)
			if err != nil {
				return err
			}
			logger.Info("migrations complete", zap.Int("applied", n))
			return nil
		}),
	}

	var steps int
	downCmd := &cobra.Command{
		Use:   "down",
		Short: "Roll back the most recent migrations",
		RunE: withMigrator(func(ctx context.Context, m *migrator, cmd *cobra.Command) error {
			n, err := m.down(ctx, steps)
			if err != nil {
				return err
			}
			logger.Info("rollback complete", zap.Int("rolled_back", n))
			return nil
		}),
	}
	downCmd.Flags().IntVar(&steps, "steps", 1, "Number of migrations to roll back")

	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "List migrations and whether each is applied",
		RunE: withMigrator(func(ctx context.Context, m *migrator, cmd *cobra.Command) error {
			return m.status(ctx, cmd.OutOrStdout())
		}),
	}

	root.AddCommand(upCmd, downCmd, statusCmd)
	return root
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func main() {
	logger, err := observ.NewLogger(os.Getenv("ENV"), "info")
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	if err := newRootCmd(logger).Execute(); err != nil {
		logger.Error("migrator failed", zap.Error(err))
		os.Exit(1)
	}
}

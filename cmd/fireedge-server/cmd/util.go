package cmd

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"fireedge.io/gateway/internal/config"
	"fireedge.io/gateway/internal/provision"
	"fireedge.io/gateway/internal/store"
	"fireedge.io/gateway/pkg/token"
)

var utilCmd = &cobra.Command{
	Use:   "util",
	Short: "Maintenance utilities",
	Long:  "Maintenance utilities that operate on the gateway database and provision logs while the server is stopped.",
}

var (
	pruneSessionsFlag bool
	pruneJobsFlag     bool
	pruneOlderThan    time.Duration
	pruneDryRun       bool
	compactAnalyze    bool
)

var pruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Remove expired sessions and old provision jobs",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withDatabase(cmd, func(ctx context.Context, cfg *config.Config, db *sql.DB, logger *zap.Logger) error {
			return runPrune(ctx, cmd.OutOrStdout(), cfg, db, logger)
		})
	},
}

var compactCmd = &cobra.Command{
	Use:   "compact-db",
	Short: "Compact and optimize the database",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withDatabase(cmd, func(ctx context.Context, _ *config.Config, db *sql.DB, logger *zap.Logger) error {
			return compactDatabase(ctx, cmd.OutOrStdout(), db, compactAnalyze, logger)
		})
	},
}

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Generate a random secret suitable for auth.hmac_secret",
	RunE: func(cmd *cobra.Command, args []string) error {
		tok, err := token.Generate()
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), tok)
		return nil
	},
}

func init() {
	pruneCmd.Flags().BoolVar(&pruneSessionsFlag, "sessions", true, "Remove expired sessions")
	pruneCmd.Flags().BoolVar(&pruneJobsFlag, "jobs", true, "Remove finished provision jobs and their logs")
	pruneCmd.Flags().DurationVar(&pruneOlderThan, "older-than", 30*24*time.Hour, "Minimum age of finished jobs to remove")
	pruneCmd.Flags().BoolVar(&pruneDryRun, "dry-run", false, "Only report expired sessions")
	compactCmd.Flags().BoolVar(&compactAnalyze, "analyze", true, "Run ANALYZE after VACUUM")

	utilCmd.AddCommand(pruneCmd, compactCmd, tokenCmd)
	rootCmd.AddCommand(utilCmd)
}

// withDatabase loads the configuration, opens the database and runs fn.
func withDatabase(cmd *cobra.Command, fn func(ctx context.Context, cfg *config.Config, db *sql.DB, logger *zap.Logger) error) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	logger, err := newLogger(cfg)
	if err != nil {
		return err
	}
	defer logger.Sync()

	db, err := store.Open(cfg.Database.Path)
	if err != nil {
		return err
	}
	defer db.Close()

	return fn(cmd.Context(), cfg, db, logger)
}

func runPrune(ctx context.Context, out io.Writer, cfg *config.Config, db *sql.DB, logger *zap.Logger) error {
	if ctx == nil {
		ctx = context.Background()
	}
	clock := clockwork.NewRealClock()

	if pruneSessionsFlag {
		if pruneDryRun {
			active, err := store.NewSessionStore(db, clock).CountActive(ctx)
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "Active sessions: %d (dry run, nothing removed)\n", active)
		} else {
			n, err := store.NewSessionStore(db, clock).PruneExpired(ctx)
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "Removed %d expired sessions\n", n)
			logger.Info("expired sessions pruned", zap.Int64("count", n))
		}
	}

	if !pruneJobsFlag || pruneDryRun {
		return nil
	}

	jobs, err := store.NewJobStore(db, clock).PruneFinished(ctx, pruneOlderThan)
	if err != nil {
		return err
	}

	uuids := make([]string, 0, len(jobs))
	for _, job := range jobs {
		if job.LogPath == "" {
			continue
		}
		if err := os.Remove(job.LogPath); err != nil && !errors.Is(err, os.ErrNotExist) {
			logger.Warn("failed to remove provision log", zap.String("path", job.LogPath), zap.Error(err))
		}
		uuids = append(uuids, strings.TrimSuffix(filepath.Base(job.LogPath), ".log"))
	}

	if len(uuids) > 0 && cfg.Provision.MappingFile != "" {
		if err := provision.NewMapping(cfg.Provision.MappingFile).DeleteUUIDs(ctx, uuids...); err != nil {
			return fmt.Errorf("failed to update provision mapping: %w", err)
		}
	}

	fmt.Fprintf(out, "Removed %d provision jobs older than %s\n", len(jobs), pruneOlderThan)
	logger.Info("provision jobs pruned",
		zap.Int("count", len(jobs)),
		zap.Duration("older_than", pruneOlderThan),
		zap.String("log_dir", cfg.Provision.LogDir))
	return nil
}

func compactDatabase(ctx context.Context, out io.Writer, db *sql.DB, analyze bool, logger *zap.Logger) error {
	if ctx == nil {
		ctx = context.Background()
	}

	sizeBefore, err := databaseSize(ctx, db)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "Database size before: %.2f MB\n", float64(sizeBefore)/(1024*1024))

	if _, err := db.ExecContext(ctx, "VACUUM"); err != nil {
		return fmt.Errorf("VACUUM failed: %w", err)
	}

	sizeAfter, err := databaseSize(ctx, db)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "Database size after:  %.2f MB\n", float64(sizeAfter)/(1024*1024))
	logger.Info("VACUUM completed",
		zap.Int64("size_before", sizeBefore),
		zap.Int64("size_after", sizeAfter))

	if analyze {
		if _, err := db.ExecContext(ctx, "ANALYZE"); err != nil {
			return fmt.Errorf("ANALYZE failed: %w", err)
		}
		logger.Info("ANALYZE completed")
	}

	fmt.Fprintln(out, "\nTable Statistics:")
	for _, table := range store.Tables() {
		var count int64
		query := fmt.Sprintf("SELECT COUNT(*) FROM %s", table)
		if err := db.QueryRowContext(ctx, query).Scan(&count); err != nil {
			logger.Warn("failed to count table rows", zap.String("table", table), zap.Error(err))
			continue
		}
		fmt.Fprintf(out, "  %-20s %d rows\n", table+":", count)
	}
	return nil
}

func databaseSize(ctx context.Context, db *sql.DB) (int64, error) {
	var pageCount, pageSize int64
	if err := db.QueryRowContext(ctx, "PRAGMA page_count").Scan(&pageCount); err != nil {
		return 0, fmt.Errorf("failed to get page count: %w", err)
	}
	if err := db.QueryRowContext(ctx, "PRAGMA page_size").Scan(&pageSize); err != nil {
		return 0, fmt.Errorf("failed to get page size: %w", err)
	}
	return pageCount * pageSize, nil
}

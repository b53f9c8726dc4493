// File: cmd/history.go
package cmd

import (
	"context"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/xkilldash9x/automate-cli/api/schemas"
	"github.com/xkilldash9x/automate-cli/internal/config"
	"github.com/xkilldash9x/automate-cli/internal/observability"
	"github.com/xkilldash9x/automate-cli/internal/store"
)

// historyStore is the part of store.Store the commands use.
type historyStore interface {
	store.EventPersister
	EnsureSchema(ctx context.Context) error
	ListRuns(ctx context.Context, limit int) ([]store.RunSummary, error)
	RunEvents(ctx context.Context, runID string) ([]schemas.RunEvent, error)
}

// storeProvider creates the run history store. Tests inject a fake instead of
// a live database connection.
type storeProvider interface {
	// Create returns the store and a cleanup function that releases its resources.
	Create(ctx context.Context, cfg config.Interface) (historyStore, func(), error)
}

// defaultStoreProvider connects to PostgreSQL.
type defaultStoreProvider struct{}

// NewStoreProvider returns the production store provider.
func NewStoreProvider() storeProvider {
	return &defaultStoreProvider{}
}

func (p *defaultStoreProvider) Create(ctx context.Context, cfg config.Interface) (historyStore, func(), error) {
	logger := observability.GetLogger()
	if cfg.Database().URL == "" {
		return nil, nil, fmt.Errorf("database URL is not configured (AUTOMATE_DATABASE_URL)")
	}

	pool, err := pgxpool.New(ctx, cfg.Database().URL)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	st, err := store.New(ctx, pool, logger)
	if err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("failed to initialize store: %w", err)
	}

	cleanup := func() {
		logger.Debug("Closing database connection pool.")
		pool.Close()
	}
	return st, cleanup, nil
}

func newHistoryCmd(stores storeProvider) *cobra.Command {
	var limit int

	historyCmd := &cobra.Command{
		Use:   "history",
		Short: "Lists recorded automation runs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := getConfigFromContext(cmd.Context())
			if err != nil {
				return err
			}
			return runHistoryList(cmd.Context(), cfg, stores, limit, cmd.OutOrStdout())
		},
	}
	historyCmd.Flags().IntVarP(&limit, "limit", "n", 20, "Maximum number of runs to list")

	showCmd := &cobra.Command{
		Use:   "show <run-id>",
		Short: "Prints the recorded events of one run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := getConfigFromContext(cmd.Context())
			if err != nil {
				return err
			}
			return runHistoryShow(cmd.Context(), cfg, stores, args[0], cmd.OutOrStdout())
		},
	}
	historyCmd.AddCommand(showCmd)
	return historyCmd
}

func runHistoryList(ctx context.Context, cfg config.Interface, stores storeProvider, limit int, out io.Writer) error {
	if limit <= 0 {
		return fmt.Errorf("limit must be positive, got %d", limit)
	}
	st, cleanup, err := stores.Create(ctx, cfg)
	if err != nil {
		return err
	}
	defer cleanup()

	runs, err := st.ListRuns(ctx, limit)
	if err != nil {
		return err
	}
	if len(runs) == 0 {
		fmt.Fprintln(out, "No runs recorded.")
		return nil
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "RUN ID\tSTARTED\tRESULT\tTASK")
	for _, r := range runs {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", r.RunID, r.StartedAt.Local().Format(time.DateTime), runResult(r), r.Task)
	}
	return w.Flush()
}

func runResult(r store.RunSummary) string {
	switch {
	case !r.Finished:
		return "incomplete"
	case r.Succeeded:
		return "succeeded"
	default:
		return "failed"
	}
}

func runHistoryShow(ctx context.Context, cfg config.Interface, stores storeProvider, runID string, out io.Writer) error {
	st, cleanup, err := stores.Create(ctx, cfg)
	if err != nil {
		return err
	}
	defer cleanup()

	events, err := st.RunEvents(ctx, runID)
	if err != nil {
		return err
	}
	if len(events) == 0 {
		return fmt.Errorf("no events recorded for run %s", runID)
	}

	observability.GetLogger().Debug("Loaded run events", zap.String("run_id", runID), zap.Int("count", len(events)))
	for _, ev := range events {
		fmt.Fprintf(out, "%s  %-12s %s\n", ev.Timestamp.Local().Format(time.TimeOnly), ev.Kind, describeEvent(ev))
	}
	return nil
}

func describeEvent(ev schemas.RunEvent) string {
	switch ev.Kind {
	case schemas.EventPlan:
		lines := make([]string, len(ev.Plan))
		for i, s := range ev.Plan {
			lines[i] = fmt.Sprintf("%d. %s", i+1, s)
		}
		return strings.Join(lines, "; ")
	case schemas.EventAttempt:
		result := "failed"
		if ev.Success {
			result = "succeeded"
		}
		desc := fmt.Sprintf("%q attempt %d %s", ev.Subtask, ev.Attempt, result)
		if ev.Message != "" {
			desc += ": " + ev.Message
		}
		return desc
	case schemas.EventRunFinished:
		if ev.Success {
			return "succeeded"
		}
		return "failed: " + ev.Message
	default:
		return ev.Message
	}
}

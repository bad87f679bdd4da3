package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/lalithlochan/medreminder/internal/app"
	"github.com/lalithlochan/medreminder/internal/config"
	"github.com/lalithlochan/medreminder/internal/medication"
	"github.com/lalithlochan/medreminder/internal/observ"
)

// appLoader builds the wired engine. Tests substitute one sharing a store.
type appLoader func(ctx context.Context) (*app.App, error)

func defaultLoader(ctx context.Context) (*app.App, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	logger, err := observ.NewLogger(cfg.Env, cfg.LogLevel)
	if err != nil {
		return nil, err
	}
	return app.New(ctx, cfg, logger)
}

func newRootCmd(load appLoader) *cobra.Command {
	root := &cobra.Command{
		Use:           "medctl",
		Short:         "medctl - operate the medication reminder engine",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	// withApp runs fn against a freshly wired engine and closes it afterwards.
	withApp := func(fn func(ctx context.Context, a *app.App, out io.Writer) error) func(*cobra.Command, []string) error {
		return func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			a, err := load(ctx)
			if err != nil {
				return err
			}
			defer a.Close(ctx)
			return fn(ctx, a, cmd.OutOrStdout())
		}
	}

	tickCmd := &cobra.Command{
		Use:   "tick",
		Short: "Run one trigger tick: resend stale reminders and dispatch the active slot",
		RunE: withApp(func(ctx context.Context, a *app.App, out io.Writer) error {
			res, err := a.Runner.Tick(ctx)
			if err != nil {
				return fmt.Errorf("tick: %w", err)
			}
			return printJSON(out, res)
		}),
	}

	pendingCmd := &cobra.Command{
		Use:   "pending",
		Short: "List reminders awaiting confirmation",
		RunE: withApp(func(ctx context.Context, a *app.App, out io.Writer) error {
			pending, err := a.Store.GetPending(ctx)
			if err != nil {
				return err
			}
			return printJSON(out, pending)
		}),
	}

	confirmCmd := &cobra.Command{
		Use:   "confirm <reminder-id>",
		Short: "Mark one pending reminder as given",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(func(ctx context.Context, a *app.App, out io.Writer) error {
				res := a.Confirm.ConfirmByID(ctx, args[0])
				if err := printJSON(out, res); err != nil {
					return err
				}
				if !res.Confirmed {
					return fmt.Errorf("not confirmed: %s", res.Reason)
				}
				return nil
			})(cmd, args)
		},
	}

	dedupeCmd := &cobra.Command{
		Use:   "dedupe",
		Short: "Collapse pending reminders sharing a slot and medication",
		RunE: withApp(func(ctx context.Context, a *app.App, out io.Writer) error {
			res, err := a.Store.DedupePending(ctx)
			if err != nil {
				return err
			}
			return printJSON(out, res)
		}),
	}

	var yes bool
	clearCmd := &cobra.Command{
		Use:   "clear",
		Short: "Drop every pending reminder",
		RunE: func(cmd *cobra.Command, args []string) error {
			if !yes {
				return errors.New("refusing to clear the pending set without --yes")
			}
			return withApp(func(ctx context.Context, a *app.App, out io.Writer) error {
				if err := a.Store.ClearPending(ctx); err != nil {
					return err
				}
				fmt.Fprintln(out, "pending set cleared")
				return nil
			})(cmd, args)
		},
	}
	clearCmd.Flags().BoolVar(&yes, "yes", false, "Confirm clearing the pending set")

	var date string
	historyCmd := &cobra.Command{
		Use:   "history",
		Short: "Show the confirmations recorded for a day",
		RunE: withApp(func(ctx context.Context, a *app.App, out io.Writer) error {
			d := a.Resolver.LocalDate(time.Now())
			if date != "" {
				parsed, err := medication.ParseDate(date)
				if err != nil {
					return fmt.Errorf("invalid --date: %w", err)
				}
				d = parsed
			}
			history, err := a.Store.GetConfirmationHistory(ctx, d)
			if err != nil {
				return err
			}
			return printJSON(out, history)
		}),
	}
	historyCmd.Flags().StringVar(&date, "date", "", "Day to show as YYYY-MM-DD (default today)")

	validateCmd := &cobra.Command{
		Use:   "validate-catalog [path]",
		Short: "Load and validate a medication catalog",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := os.Getenv("CATALOG_PATH")
			if len(args) == 1 {
				path = args[0]
			}
			if path == "" {
				path = "config/medications.yaml"
			}
			catalog, err := medication.Load(path)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: ok (%d medications, %d slots, anchor %s)\n",
				path, len(catalog.Medications), len(catalog.Slots), catalog.AnchorDate)
			return nil
		},
	}

	root.AddCommand(tickCmd, pendingCmd, confirmCmd, dedupeCmd, clearCmd, historyCmd, validateCmd)
	return root
}

func printJSON(out io.Writer, v interface{}) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func main() {
	if err := newRootCmd(defaultLoader).Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

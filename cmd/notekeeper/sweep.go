package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/notexe/notekeeper/internal/app"
	"github.com/notexe/notekeeper/internal/lifecycle"
	"github.com/notexe/notekeeper/internal/ui"
)

var (
	sweepJSON bool

	sweepCmd = &cobra.Command{
		Use:       "sweep <missed|completed|dispatch|all>",
		Short:     "Run reconciliation passes once against the database",
		Args:      cobra.ExactArgs(1),
		ValidArgs: []string{"missed", "completed", "dispatch", "all"},
		RunE:      runSweep,
	}
)

func init() {
	sweepCmd.Flags().BoolVar(&sweepJSON, "json", false, "print results as JSON")
}

// sweepOrder lists the passes for a sweep argument. "all" follows the
// status cycle and then the dispatch cycle.
func sweepOrder(name string) ([]string, error) {
	switch name {
	case lifecycle.SweepMissed, lifecycle.SweepCompleted, lifecycle.SweepDispatch:
		return []string{name}, nil
	case "all":
		return []string{lifecycle.SweepMissed, lifecycle.SweepDispatch, lifecycle.SweepCompleted}, nil
	}
	return nil, fmt.Errorf("unknown sweep %q (missed, completed, dispatch or all)", name)
}

func runSweep(cmd *cobra.Command, args []string) error {
	names, err := sweepOrder(args[0])
	if err != nil {
		return err
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	log := cfg.Log.NewLogger(os.Stderr)

	a, err := app.Build(cmd.Context(), cfg, log)
	if err != nil {
		return err
	}
	defer a.Close()

	results, err := runSweeps(cmd.Context(), a.Engine, names)
	if perr := printResults(cmd.OutOrStdout(), results, sweepJSON); perr != nil {
		return perr
	}
	return err
}

func runSweeps(ctx context.Context, e *lifecycle.Engine, names []string) ([]lifecycle.SweepResult, error) {
	passes := map[string]func(context.Context) (lifecycle.SweepResult, error){
		lifecycle.SweepMissed:    e.SweepMissed,
		lifecycle.SweepCompleted: e.SweepCompleted,
		lifecycle.SweepDispatch:  e.DispatchDue,
	}

	var (
		results []lifecycle.SweepResult
		errs    []error
	)
	for _, name := range names {
		res, err := passes[name](ctx)
		results = append(results, res)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s sweep: %w", name, err))
		}
	}
	return results, errors.Join(errs...)
}

func printResults(w io.Writer, results []lifecycle.SweepResult, asJSON bool) error {
	if asJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(results)
	}

	f := ui.NewFormatter(true)
	for _, res := range results {
		fmt.Fprintln(w, f.FormatSweepResult(res))
	}
	return nil
}

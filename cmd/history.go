package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/urfave/cli"
	cmdcommon "github.com/warpdl/warpload/cmd/common"
	"github.com/warpdl/warpload/common"
	hist "github.com/warpdl/warpload/internal/history"
)

var (
	historyLimit int
	historyRun   string

	historyFlags = []cli.Flag{
		cli.StringFlag{
			Name:        "history",
			Usage:       "SQLite database written by \"warpload run --history\"",
			EnvVar:      common.HistoryDBEnv,
			Destination: &historyDB,
		},
		cli.IntFlag{
			Name:        "limit, n",
			Usage:       "number of runs to list, 0 for all",
			Value:       DEF_HISTORY_LIMIT,
			Destination: &historyLimit,
		},
		cli.StringFlag{
			Name:        "run, r",
			Usage:       "list the resources of this run",
			Destination: &historyRun,
		},
	}
)

func history(ctx *cli.Context) error {
	if ctx.Args().First() == "help" {
		return cli.ShowCommandHelp(ctx, ctx.Command.Name)
	}
	if historyDB == "" {
		return cmdcommon.PrintErrWithCmdHelp(
			ctx,
			errors.New("no history database provided"),
		)
	}
	if err := showHistory(context.Background(), historyDB, historyRun, historyLimit, os.Stdout); err != nil {
		cmdcommon.PrintRuntimeErr(ctx, "history", "query", err)
		return cli.NewExitError("", 1)
	}
	return nil
}

func showHistory(ctx context.Context, path, runID string, limit int, w io.Writer) error {
	if _, err := os.Stat(path); err != nil {
		return fmt.Errorf("failed to open history: %w", err)
	}
	store, err := hist.Open(path, nil)
	if err != nil {
		return err
	}
	defer store.Close()

	if runID != "" {
		outcomes, err := store.Outcomes(ctx, runID)
		if err != nil {
			return err
		}
		printOutcomes(w, runID, outcomes)
		return nil
	}
	runs, err := store.Runs(ctx, limit)
	if err != nil {
		return err
	}
	printRuns(w, runs)
	return nil
}

func printRuns(w io.Writer, runs []hist.Run) {
	if len(runs) == 0 {
		fmt.Fprintln(w, "warpload: no runs recorded")
		return
	}
	txt := "Recorded runs:"
	txt += "\n\n--------------------------------------------------------------------------"
	txt += "\n|Num|        Run Id        |       Started       | Duration | Loaded | Failed |"
	txt += "\n|---|----------------------|---------------------|----------|--------|--------|"
	for i, r := range runs {
		txt += fmt.Sprintf("\n|%s| %s | %s | %s | %s | %s |",
			fitColumn(fmt.Sprint(i+1), 3),
			fitColumn(r.ID, 20),
			r.StartedAt.Local().Format(time.DateTime),
			fitColumn(r.Duration.Round(time.Millisecond).String(), 8),
			fitColumn(fmt.Sprint(r.Loaded), 6),
			fitColumn(fmt.Sprint(r.Failed), 6),
		)
	}
	txt += "\n--------------------------------------------------------------------------"
	fmt.Fprintln(w, txt)
}

func printOutcomes(w io.Writer, runID string, outcomes []hist.Outcome) {
	txt := fmt.Sprintf("Resources of run %s:", runID)
	txt += "\n\n------------------------------------------------------------------"
	txt += "\n|         Id          | Kind  | Priority | Status | Attempts |"
	txt += "\n|---------------------|-------|----------|--------|----------|"
	var failed []hist.Outcome
	for _, o := range outcomes {
		txt += fmt.Sprintf("\n| %s | %s | %s | %s | %s |",
			fitColumn(o.ResourceID, 19),
			fitColumn(o.Kind, 5),
			fitColumn(o.Priority, 8),
			fitColumn(o.Status, 6),
			fitColumn(fmt.Sprint(o.Attempts), 8),
		)
		if o.Status == hist.StatusFailed {
			failed = append(failed, o)
		}
	}
	txt += "\n------------------------------------------------------------------"
	for _, o := range failed {
		txt += fmt.Sprintf("\n%s: %s", o.ResourceID, o.Reason)
	}
	fmt.Fprintln(w, txt)
}

// fitColumn truncates or centers s to exactly n bytes.
func fitColumn(s string, n int) string {
	switch {
	case len(s) > n && n > 3:
		return s[:n-3] + "..."
	case len(s) < n:
		return cmdcommon.Beaut(s, n)
	}
	return s
}

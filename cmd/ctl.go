package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"

	"github.com/urfave/cli"
	cmdcommon "github.com/warpdl/warpload/cmd/common"
	"github.com/warpdl/warpload/common"
	"github.com/warpdl/warpload/pkg/loadctl"
	"github.com/warpdl/warpload/pkg/loadsched"
)

var errUnknownAction = errors.New("unknown action, expected status, pause, resume or watch")

var (
	ctlURL    string
	ctlSecret string

	ctlFlags = []cli.Flag{
		cli.StringFlag{
			Name:        "rpc",
			Usage:       "control endpoint of the run",
			Value:       "ws://" + common.Getenv(common.RPCListenEnv, common.DefaultRPCListen),
			Destination: &ctlURL,
		},
		cli.StringFlag{
			Name:        "rpc-secret",
			Usage:       "bearer token passed to \"warpload run --rpc-secret\"",
			EnvVar:      common.RPCSecretEnv,
			Destination: &ctlSecret,
		},
	}
)

func ctl(ctx *cli.Context) error {
	action := ctx.Args().First()
	if action == "" {
		return cmdcommon.PrintErrWithCmdHelp(
			ctx,
			errors.New("no action provided"),
		)
	} else if action == "help" {
		return cli.ShowCommandHelp(ctx, ctx.Command.Name)
	}

	sigCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := ctlAction(sigCtx, ctlURL, ctlSecret, action, os.Stdout); err != nil {
		if errors.Is(err, errUnknownAction) {
			return cmdcommon.PrintErrWithCmdHelp(ctx, err)
		}
		cmdcommon.PrintRuntimeErr(ctx, "ctl", action, err)
		return cli.NewExitError("", 1)
	}
	return nil
}

func ctlAction(ctx context.Context, url, secret, action string, w io.Writer) error {
	switch action {
	case "status", "pause", "resume":
	case "watch":
		return watchRun(ctx, url, secret, w)
	default:
		return fmt.Errorf("%w: %q", errUnknownAction, action)
	}

	dctx, cancel := context.WithTimeout(ctx, DEF_RPC_TIMEOUT)
	defer cancel()
	client, err := loadctl.Dial(dctx, url, &loadctl.Options{Secret: secret})
	if err != nil {
		return err
	}
	defer client.Close()
	client.CheckVersionMismatch(dctx, currentBuildArgs.Version, os.Stderr)

	switch action {
	case "pause":
		if err := client.Pause(dctx); err != nil {
			return ctlErr(err)
		}
		fmt.Fprintln(w, "Run paused.")
	case "resume":
		if err := client.Resume(dctx); err != nil {
			return ctlErr(err)
		}
		fmt.Fprintln(w, "Run resumed.")
	default:
		st, err := client.Status(dctx)
		if err != nil {
			return err
		}
		printStatus(w, st)
	}
	return nil
}

func ctlErr(err error) error {
	if loadctl.IsRunNotActive(err) {
		return errors.New("no run is active")
	}
	return err
}

// watchRun prints pushed events until the run completes or ctx ends.
func watchRun(ctx context.Context, url, secret string, w io.Writer) error {
	events := make(chan *common.EventNotification, 64)
	stopped := make(chan struct{})
	dctx, cancel := context.WithTimeout(ctx, DEF_RPC_TIMEOUT)
	client, err := loadctl.Dial(dctx, url, &loadctl.Options{
		Secret: secret,
		OnEvent: func(ev *common.EventNotification) {
			select {
			case events <- ev:
			case <-stopped:
			}
		},
	})
	cancel()
	if err != nil {
		return err
	}
	defer client.Close()
	defer close(stopped)

	for {
		select {
		case ev := <-events:
			fmt.Fprintln(w, formatEvent(ev))
			if ev.Kind == loadsched.EventComplete.String() {
				return nil
			}
		case <-ctx.Done():
			return nil
		}
	}
}

func formatEvent(ev *common.EventNotification) string {
	ts := ev.Time.Local().Format("15:04:05.000")
	switch ev.Kind {
	case "load":
		return fmt.Sprintf("%s load     %s (%s, %d attempt(s))", ts, ev.ID, ev.Priority, ev.Attempt)
	case "error":
		return fmt.Sprintf("%s error    %s (%s, %d attempt(s)): %s", ts, ev.ID, ev.Priority, ev.Attempt, ev.Error)
	case "retry":
		return fmt.Sprintf("%s retry    %s attempt %d: %s", ts, ev.ID, ev.Attempt, ev.Error)
	case "progress":
		p := ev.Progress
		return fmt.Sprintf("%s progress %d/%d (%.0f%%), eta %s", ts, p.Loaded+p.Failed, p.Total, p.Percentage, p.ETA())
	case "complete":
		s := ev.Summary
		return fmt.Sprintf("%s complete %d loaded, %d failed in %dms", ts, len(s.Success), len(s.Failed), s.DurationMillis)
	}
	return fmt.Sprintf("%s %s", ts, ev.Kind)
}

func printStatus(w io.Writer, st *common.StatusResult) {
	state := "idle"
	switch {
	case st.Running && st.Paused:
		state = "paused"
	case st.Running:
		state = "running"
	}
	txt := fmt.Sprintf("Run:       %s", state)
	if p := st.Progress; p != nil {
		txt += fmt.Sprintf("\nProgress:  %d/%d settled (%.0f%%), eta %s", p.Loaded+p.Failed, p.Total, p.Percentage, p.ETA())
	}
	for _, prio := range loadsched.Priorities() {
		name := prio.String()
		txt += fmt.Sprintf("\nQueued %-7s%s", name+":", joinIDs(st.Queued[name]))
	}
	txt += "\nIn flight: " + joinIDs(st.InFlight)
	txt += "\nLoaded:    " + joinIDs(st.Loaded)
	txt += "\nFailed:    " + joinIDs(st.Failed)
	if len(st.Blocked) > 0 {
		ids := make([]string, 0, len(st.Blocked))
		for id := range st.Blocked {
			ids = append(ids, id)
		}
		sort.Strings(ids)
		txt += "\nBlocked:"
		for _, id := range ids {
			txt += fmt.Sprintf("\n  %s waits for %s", id, joinIDs(st.Blocked[id]))
		}
	}
	fmt.Fprintln(w, txt)
}

func joinIDs(ids []string) string {
	if len(ids) == 0 {
		return "-"
	}
	return strings.Join(ids, ", ")
}

package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
)

var (
	flagCrankOnly    bool
	flagOpenDuration time.Duration
	flagHistoryLimit int
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Close expired rounds and resolve every closed unprocessed round once",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(appOptions{needSigner: true})
		if err != nil {
			return err
		}
		defer a.Close()

		ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer cancel()
		ctx = withRequestID(ctx, "run")

		if flagCrankOnly {
			s := a.pipeline.Crank(ctx)
			if err := printJSON(s); err != nil {
				return err
			}
			return outcome(s.Success, s.Message)
		}
		rep := a.pipeline.Tick(ctx)
		if err := printJSON(rep); err != nil {
			return err
		}
		return outcome(rep.Success, rep.Message)
	},
}

var closeAllCmd = &cobra.Command{
	Use:   "close-all",
	Short: "Close every active round regardless of its end time",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runClose(cmd.Context(), "close-all", true)
	},
}

var closeExpiredCmd = &cobra.Command{
	Use:   "close-expired",
	Short: "Close the active rounds whose end time has passed",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runClose(cmd.Context(), "close-expired", false)
	},
}

func runClose(ctx context.Context, name string, all bool) error {
	a, err := newApp(appOptions{needSigner: true})
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()
	ctx = withRequestID(ctx, name)

	closer := a.pipeline.Closer()
	rep := closer.CloseExpired
	if all {
		rep = closer.CloseAll
	}
	r := rep(ctx)
	if err := printJSON(r); err != nil {
		return err
	}
	return outcome(r.Success, r.Message)
}

var openRoundCmd = &cobra.Command{
	Use:   "open-round",
	Short: "Open a new round starting now",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(appOptions{needSigner: true})
		if err != nil {
			return err
		}
		defer a.Close()

		opened, err := a.pipeline.OpenRound(withRequestID(cmd.Context(), "open"), flagOpenDuration)
		if err != nil {
			return err
		}
		return printJSON(opened)
	},
}

var pendingCmd = &cobra.Command{
	Use:   "pending",
	Short: "List the closed rounds still waiting to be resolved",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(appOptions{})
		if err != nil {
			return err
		}
		defer a.Close()

		candidates, err := a.pipeline.Orchestrator().Pending(cmd.Context())
		if err != nil {
			return err
		}
		for _, c := range candidates {
			fmt.Printf("round %d: ended %s, %d active proposal(s) of %d\n",
				c.Round.ID, c.Round.End().Format(time.RFC3339), len(c.Active), len(c.Proposals))
		}
		if len(candidates) == 0 {
			fmt.Println("no closed unprocessed rounds")
		}
		return nil
	},
}

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Show the most recent recorded crank runs",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(appOptions{})
		if err != nil {
			return err
		}
		defer a.Close()

		if !a.recorder.Enabled() {
			return fmt.Errorf("run history needs DATABASE_URL")
		}
		runs, err := a.recorder.Recent(cmd.Context(), flagHistoryLimit)
		if err != nil {
			return err
		}
		return printJSON(runs)
	},
}

func init() {
	runCmd.Flags().BoolVar(&flagCrankOnly, "crank-only", false,
		"skip closing expired rounds and only resolve")
	openRoundCmd.Flags().DurationVar(&flagOpenDuration, "duration", 48*time.Hour,
		"length of the new round")
	historyCmd.Flags().IntVar(&flagHistoryLimit, "limit", 20,
		"number of runs to show")
}

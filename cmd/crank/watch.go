package main

import (
	"fmt"
	"io"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"epoch-crank/internal/tui"
)

const (
	tuiBufferSize = 256
	// tuiCloseDelay gives the dashboard a moment to quit after its feed closes.
	tuiCloseDelay = 100 * time.Millisecond
)

var (
	flagWatchInterval time.Duration
	flagWatchCrank    bool
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Show a live dashboard of the ledger rounds, optionally cranking in process",
	RunE: func(cmd *cobra.Command, args []string) error {
		if flagWatchInterval <= 0 {
			return fmt.Errorf("--interval must be positive, got %s", flagWatchInterval)
		}

		// Debug logs go to a file so they do not interfere with the TUI
		var logWriter io.Writer = io.Discard
		if cfg.Debug {
			logFile, err := os.OpenFile("crank.log", os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
			if err == nil {
				defer logFile.Close()
				logWriter = logFile
				fmt.Fprintf(os.Stderr, "Debug logs written to crank.log\n")
			}
		}

		feed := tui.NewFeed(tuiBufferSize)
		a, err := newApp(appOptions{needSigner: flagWatchCrank, logWriter: logWriter, observer: feed})
		if err != nil {
			return err
		}
		defer a.Close()

		ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer cancel()

		tuiDone := make(chan error, 1)
		go func() {
			tuiDone <- tui.Run(feed.Updates())
			// TUI exited, cancel context to trigger shutdown
			cancel()
		}()

		header := tui.HeaderInfo{Endpoint: cfg.RPCURL}
		if s := a.client.Signer(); s != nil {
			header.Signer = s.Identity()
		}
		if authority, err := a.remote.Authority(ctx); err == nil {
			header.Authority = authority
		}

		// Both producers must stop before the feed closes.
		var wg sync.WaitGroup
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := feed.Poll(ctx, a.remote, header, flagWatchInterval, a.log); err != nil {
				a.log.Error().Err(err).Msg("dashboard poller stopped")
				cancel()
			}
		}()
		if flagWatchCrank {
			wg.Add(1)
			go func() {
				defer wg.Done()
				if err := a.pipeline.Run(ctx, flagWatchInterval); err != nil {
					a.log.Error().Err(err).Msg("scheduler stopped")
					cancel()
				}
			}()
		}

		<-ctx.Done()
		wg.Wait()
		feed.Close()
		time.Sleep(tuiCloseDelay)
		select {
		case err := <-tuiDone:
			return err
		default:
			return nil
		}
	},
}

func init() {
	watchCmd.Flags().DurationVar(&flagWatchInterval, "interval", time.Minute,
		"how often to poll the ledger and, with --crank, tick")
	watchCmd.Flags().BoolVar(&flagWatchCrank, "crank", false,
		"also close and resolve rounds in process")
}

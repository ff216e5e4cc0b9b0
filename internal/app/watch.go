package app

import (
	"context"
	"errors"
	"os/signal"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/blackwell-systems/ciwarden/internal/watcher"
)

var (
	watchDebounce time.Duration
	watchPoll     time.Duration
	watchNow      bool
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Run a maintenance cycle after every new commit",
	Long: `Watch the repository's git directory and run one full cycle each time
HEAD moves. Bursts of ref updates (rebase, pull) are debounced into a single
cycle. A failed cycle is reported and watching continues.

Examples:
  ciwarden watch                   # run in foreground (ctrl-c to stop)
  ciwarden watch --debounce 10s    # wait longer for git to settle
  ciwarden watch --now             # run one cycle before watching`,
	Args: cobra.NoArgs,
	RunE: runWatch,
}

func init() {
	watchCmd.Flags().DurationVar(&watchDebounce, "debounce", watcher.DefaultDebounce, "Quiet period after a ref update before running")
	watchCmd.Flags().DurationVar(&watchPoll, "poll", watcher.DefaultPollInterval, "Re-read HEAD at this interval even without file events")
	watchCmd.Flags().BoolVar(&watchNow, "now", false, "Run one cycle immediately before watching")
	rootCmd.AddCommand(watchCmd)
}

func runWatch(cmd *cobra.Command, args []string) error {
	s, err := openSession(cmd, true)
	if err != nil {
		return err
	}
	defer s.Close()

	wf, err := s.workflow(true)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), shutdownSignals...)
	defer stop()

	runOnce := func(ctx context.Context) {
		if err := cycle(ctx, s, wf); err != nil && !errors.Is(err, errRunFailed) {
			s.out.Error("%v", err)
			s.log.Warn("watch cycle", zap.Error(err))
		}
	}

	if watchNow {
		runOnce(ctx)
	}

	w := watcher.New(s.cfg.WorkDir, watchDebounce, func(ctx context.Context, ev watcher.Event) {
		s.out.Info("new commit %s", shortHash(ev.Head))
		runOnce(ctx)
	}, s.log)
	w.SetPollInterval(watchPoll)

	s.out.Info("watching %s (ctrl-c to stop)", s.cfg.WorkDir)
	err = w.Run(ctx)
	if errors.Is(err, context.Canceled) {
		s.out.Info("stopped")
		return nil
	}
	return err
}

package main

import (
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/legamerdc/evbase"
)

func newTimerCommand(opts *rootOptions) *cobra.Command {
	var (
		interval float64
		count    int
	)
	cmd := &cobra.Command{
		Use:   "timer",
		Short: "Run a named heartbeat timer",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Flags().Changed("interval") {
				opts.cfg.Timer.Interval = interval
			}
			if cmd.Flags().Changed("count") {
				opts.cfg.Timer.Count = count
			}
			return runTimer(opts)
		},
	}
	cmd.Flags().Float64Var(&interval, "interval", 1, "seconds between ticks")
	cmd.Flags().IntVar(&count, "count", 5, "ticks before exit")
	return cmd
}

func runTimer(opts *rootOptions) error {
	b, err := opts.newBase()
	if err != nil {
		return err
	}
	defer b.Free()
	if err := stopOnInterrupt(b, opts.log); err != nil {
		return err
	}

	tc := opts.cfg.Timer
	err = b.TimerAdd(tc.Name, tc.Interval, func(f *evbase.TimerFiring) evbase.TimerAction {
		opts.log.Info("tick", zap.String("timer", f.Name), zap.Uint64("iteration", f.Iteration))
		if int(f.Iteration) >= tc.Count {
			_ = f.Base.LoopExit(evbase.Forever)
			return evbase.TimerStop
		}
		return evbase.TimerContinue
	})
	if err != nil {
		return err
	}
	_, err = b.Loop(0)
	return err
}

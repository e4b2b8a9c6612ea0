package main

import (
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/legamerdc/evbase"
)

type rootOptions struct {
	configPath string
	debug      bool

	cfg demoConfig
	log *zap.Logger
}

func newRootCommand() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:           "evdemo",
		Short:         "evbase examples",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(opts.configPath)
			if err != nil {
				return err
			}
			opts.cfg = cfg
			if opts.debug {
				opts.log, err = zap.NewDevelopment()
			} else {
				opts.log, err = zap.NewProduction()
			}
			return err
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			_ = opts.log.Sync()
		},
	}

	cmd.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "", "yaml config file")
	cmd.PersistentFlags().BoolVar(&opts.debug, "debug", false, "development logging")

	cmd.AddCommand(newStdinCommand(opts))
	cmd.AddCommand(newBufferCommand(opts))
	cmd.AddCommand(newTimerCommand(opts))
	cmd.AddCommand(newEchoCommand(opts))
	cmd.AddCommand(newPingCommand(opts))

	return cmd
}

func (o *rootOptions) newBase() (*evbase.Base, error) {
	cfg := o.cfg.Base
	cfg.Logger = o.log
	return evbase.NewBase(cfg)
}

// stopOnInterrupt 在 SIGINT/SIGTERM 时结束循环
func stopOnInterrupt(b *evbase.Base, log *zap.Logger) error {
	for _, sig := range []syscall.Signal{syscall.SIGINT, syscall.SIGTERM} {
		ev, err := evbase.NewEvent()
		if err != nil {
			return err
		}
		err = ev.SetSignal(sig, func(e *evbase.Event, sig syscall.Signal, _ evbase.What, _ any) {
			log.Info("signal received, stopping", zap.String("signal", evbase.SignalName(sig)))
			_ = e.Base().LoopBreak()
		}, true, nil)
		if err != nil {
			return err
		}
		if err := b.SetEvent(ev); err != nil {
			return err
		}
		if err := ev.Add(evbase.Forever); err != nil {
			return err
		}
	}
	return nil
}

package main

import (
	"errors"
	"io"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sys/unix"

	"github.com/legamerdc/evbase"
)

func newStdinCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "stdin",
		Short: "Echo stdin with a raw persistent read event",
		Long: `Registers a persistent read event on stdin and prints what it reads.
The loop exits after the configured number of reads (stdin.lines) or at EOF.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStdin(opts, int(os.Stdin.Fd()), cmd.OutOrStdout())
		},
	}
}

func runStdin(opts *rootOptions, fd int, out io.Writer) error {
	b, err := opts.newBase()
	if err != nil {
		return err
	}
	defer b.Free()
	if err := stopOnInterrupt(b, opts.log); err != nil {
		return err
	}

	reads := 0
	buf := make([]byte, 4096)
	ev, err := evbase.NewEvent()
	if err != nil {
		return err
	}
	err = ev.Set(fd, evbase.Read|evbase.Persist, func(e *evbase.Event, fd int, _ evbase.What, arg any) {
		base := arg.(*evbase.Base)
		n, rerr := unix.Read(fd, buf)
		if rerr != nil && errors.Is(rerr, unix.EAGAIN) {
			return
		}
		if n <= 0 {
			opts.log.Debug("stdin closed", zap.Error(rerr))
			_ = base.LoopExit(evbase.Forever)
			return
		}
		reads++
		if reads == opts.cfg.Stdin.Lines {
			_ = base.LoopExit(evbase.Forever)
		}
		_, _ = out.Write(buf[:n])
	}, b)
	if err != nil {
		return err
	}
	if err := ev.SetBase(b); err != nil {
		return err
	}
	if err := ev.Add(evbase.Forever); err != nil {
		return err
	}
	_, err = b.Loop(0)
	return err
}

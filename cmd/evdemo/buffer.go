package main

import (
	"io"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/legamerdc/evbase"
)

func newBufferCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "buffer",
		Short: "Echo stdin through a BufferEvent",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBuffer(opts, int(os.Stdin.Fd()), cmd.OutOrStdout())
		},
	}
}

func runBuffer(opts *rootOptions, fd int, out io.Writer) error {
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
	be, err := evbase.NewBufferEvent(fd,
		func(be *evbase.BufferEvent, arg any) {
			reads++
			if reads == opts.cfg.Stdin.Lines {
				_ = arg.(*evbase.Base).LoopExit(evbase.Forever)
			}
			for be.Len() > 0 {
				n := be.Read(buf)
				_, _ = out.Write(buf[:n])
			}
		},
		nil,
		func(be *evbase.BufferEvent, reason evbase.BufferReason, err error, arg any) {
			opts.log.Debug("stdin buffer stopped", zap.Stringer("reason", reason), zap.Error(err))
			_ = arg.(*evbase.Base).LoopExit(evbase.Forever)
		},
		b)
	if err != nil {
		return err
	}
	if err := be.SetBase(b); err != nil {
		return err
	}
	if err := be.Enable(evbase.Read); err != nil {
		return err
	}
	_, err = b.Loop(0)
	return err
}

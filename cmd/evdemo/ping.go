package main

import (
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/legamerdc/evbase/frame"
)

const apiEcho uint16 = 1

func newPingCommand(opts *rootOptions) *cobra.Command {
	var (
		addr    string
		count   int
		timeout time.Duration
	)
	cmd := &cobra.Command{
		Use:   "ping [message]",
		Short: "Send framed messages to an echo server and wait for the replies",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if addr == "" {
				addr = opts.cfg.Echo.Address
			}
			msg := "hello"
			if len(args) == 1 {
				msg = args[0]
			}
			replies, err := ping(addr, []byte(msg), count, opts.cfg.Echo.Compress, timeout)
			for i, r := range replies {
				opts.log.Info("reply", zap.Int("seq", i+1), zap.Uint16("kind", r.Kind), zap.ByteString("payload", r.Payload))
			}
			return err
		},
	}
	cmd.Flags().StringVarP(&addr, "addr", "a", "", "server address (defaults to echo.address)")
	cmd.Flags().IntVarP(&count, "count", "n", 3, "messages to send")
	cmd.Flags().DurationVar(&timeout, "timeout", 5*time.Second, "overall deadline")
	return cmd
}

// ping 发送 count 帧并收齐同样数量的回包
func ping(addr string, msg []byte, count int, compress bool, timeout time.Duration) ([]frame.Frame, error) {
	conn, err := net.DialTimeout("tcp", addr, timeout)
	if err != nil {
		return nil, err
	}
	defer conn.Close()
	if err := conn.SetDeadline(time.Now().Add(timeout)); err != nil {
		return nil, err
	}

	var out []byte
	for i := 0; i < count; i++ {
		if out, err = frame.Append(out, apiEcho, msg, compress); err != nil {
			return nil, err
		}
	}
	if _, err := conn.Write(out); err != nil {
		return nil, err
	}

	replies := make([]frame.Frame, 0, count)
	var in []byte
	buf := make([]byte, 4096)
	for len(replies) < count {
		n, err := conn.Read(buf)
		if err != nil {
			return replies, fmt.Errorf("read reply %d: %w", len(replies)+1, err)
		}
		in = append(in, buf[:n]...)
		for {
			f, used, err := frame.Next(in)
			if errors.Is(err, frame.ErrIncomplete) {
				break
			}
			if err != nil {
				return replies, err
			}
			f.Payload = append([]byte(nil), f.Payload...)
			replies = append(replies, f)
			in = in[used:]
		}
	}
	return replies, nil
}

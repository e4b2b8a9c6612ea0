package main

import (
	"context"
	"errors"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sys/unix"

	"github.com/legamerdc/evbase"
	"github.com/legamerdc/evbase/frame"
	"github.com/legamerdc/evbase/internal/netutil"
)

func newEchoCommand(opts *rootOptions) *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "echo",
		Short: "TCP echo server on one event loop",
		Long: `Accepts connections with a listener event and serves each one with a
BufferEvent. By default every frame is echoed back with the same kind;
with echo.raw the bytes are echoed unframed.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if addr != "" {
				opts.cfg.Echo.Address = addr
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runEcho(ctx, opts)
		},
	}
	cmd.Flags().StringVarP(&addr, "addr", "a", "", "listen address (overrides echo.address)")
	return cmd
}

func runEcho(ctx context.Context, opts *rootOptions) error {
	b, err := opts.newBase()
	if err != nil {
		return err
	}
	defer b.Free()

	lfd, err := netutil.Listen("tcp", opts.cfg.Echo.Address, opts.cfg.Echo.ReusePort)
	if err != nil {
		return err
	}
	s, err := newEchoServer(b, lfd, opts.cfg.Echo, opts.log)
	if err != nil {
		unix.Close(lfd)
		return err
	}
	defer s.Close()

	port, _ := netutil.LocalPort(lfd)
	opts.log.Info("echo server listening", zap.String("addr", opts.cfg.Echo.Address), zap.Int("port", port))
	_, err = b.Dispatch(ctx)
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// echoServer 在一个 Base 上服务所有连接
type echoServer struct {
	base     *evbase.Base
	log      *zap.Logger
	cfg      echoConfig
	lfd      int
	listener *evbase.Event
	conns    map[int]*evbase.BufferEvent
	scratch  []byte
}

func newEchoServer(b *evbase.Base, lfd int, cfg echoConfig, log *zap.Logger) (*echoServer, error) {
	s := &echoServer{
		base:    b,
		log:     log,
		cfg:     cfg,
		lfd:     lfd,
		conns:   make(map[int]*evbase.BufferEvent),
		scratch: make([]byte, 4096),
	}
	ev, err := evbase.NewEvent()
	if err != nil {
		return nil, err
	}
	if err := ev.Set(lfd, evbase.Read|evbase.Persist, s.onAccept, nil); err != nil {
		return nil, err
	}
	if err := ev.SetBase(b); err != nil {
		return nil, err
	}
	// 监听事件优先于连接事件
	if err := ev.SetPriority(0); err != nil {
		_ = ev.Free()
		return nil, err
	}
	if err := ev.Add(evbase.Forever); err != nil {
		_ = ev.Free()
		return nil, err
	}
	s.listener = ev
	return s, nil
}

func (s *echoServer) onAccept(_ *evbase.Event, lfd int, _ evbase.What, _ any) {
	for {
		fd, err := netutil.Accept(lfd)
		if err != nil {
			if !errors.Is(err, unix.EAGAIN) && !errors.Is(err, unix.EINTR) {
				s.log.Warn("accept failed", zap.Error(err))
			}
			return
		}
		if err := s.open(fd); err != nil {
			s.log.Warn("open connection failed", zap.Int("fd", fd), zap.Error(err))
			unix.Close(fd)
		}
	}
}

func (s *echoServer) open(fd int) error {
	be, err := evbase.NewBufferEvent(fd, s.onRead, nil, s.onError, nil)
	if err != nil {
		return err
	}
	if err := be.SetBase(s.base); err != nil {
		return err
	}
	idle := evbase.Forever
	if s.cfg.IdleTimeout > 0 {
		idle = s.cfg.IdleTimeout
	}
	if err := be.SetTimeouts(idle, evbase.Forever); err != nil {
		_ = be.Free()
		return err
	}
	if err := be.Enable(evbase.Read | evbase.Write); err != nil {
		_ = be.Free()
		return err
	}
	be.SetCloseOnFree(true)
	s.conns[fd] = be
	s.log.Debug("connection open", zap.Int("fd", fd))
	return nil
}

func (s *echoServer) onRead(be *evbase.BufferEvent, _ any) {
	if s.cfg.Raw {
		for be.Len() > 0 {
			n := be.Read(s.scratch)
			if err := be.Write(s.scratch[:n]); err != nil {
				s.close(be, err)
				return
			}
		}
		return
	}
	_, err := be.ReadFrames(func(f frame.Frame) error {
		return be.WriteFrame(f.Kind, f.Payload, s.cfg.Compress)
	})
	if err != nil {
		s.close(be, err)
	}
}

func (s *echoServer) onError(be *evbase.BufferEvent, reason evbase.BufferReason, err error, _ any) {
	s.log.Debug("connection error", zap.Int("fd", be.Fd()), zap.Stringer("reason", reason), zap.Error(err))
	s.close(be, err)
}

func (s *echoServer) close(be *evbase.BufferEvent, err error) {
	delete(s.conns, be.Fd())
	if ferr := be.Free(); ferr != nil {
		s.log.Warn("free connection failed", zap.Int("fd", be.Fd()), zap.Error(ferr))
	}
	s.log.Debug("connection closed", zap.Int("fd", be.Fd()), zap.NamedError("cause", err))
}

// Close 释放所有连接与监听 socket
func (s *echoServer) Close() error {
	for _, be := range s.conns {
		_ = be.Free()
	}
	clear(s.conns)
	err := s.listener.Free()
	if cerr := unix.Close(s.lfd); err == nil {
		err = cerr
	}
	return err
}

package ipc

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/rpc"
	"net/rpc/jsonrpc"
	"os"
	"sync"
	"time"

	"camwatch/internal/api"
	"camwatch/internal/daemon"
	"camwatch/internal/logging"
	"camwatch/internal/logs"
)

const (
	serviceName        = "Camwatch"
	defaultHistory     = 20
	maxLogFollowWait   = 30 * time.Second
	defaultLogTailSize = 50
)

// Server exposes daemon control via JSON-RPC over a Unix domain socket.
type Server struct {
	path      string
	logger    *slog.Logger
	listener  net.Listener
	rpcServer *rpc.Server

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewServer listens on path, replacing any stale socket file.
func NewServer(ctx context.Context, path string, d *daemon.Daemon, logger *slog.Logger) (*Server, error) {
	if d == nil {
		return nil, errors.New("ipc server requires daemon")
	}
	logger = logging.NewComponentLogger(logger, "ipc")

	if err := os.RemoveAll(path); err != nil {
		return nil, fmt.Errorf("remove existing socket: %w", err)
	}
	listener, err := net.Listen("unix", path)
	if err != nil {
		return nil, fmt.Errorf("listen on socket: %w", err)
	}

	serverCtx, cancel := context.WithCancel(ctx)
	rpcServer := rpc.NewServer()
	if err := rpcServer.RegisterName(serviceName, &service{daemon: d, logger: logger, ctx: serverCtx}); err != nil {
		cancel()
		listener.Close()
		return nil, fmt.Errorf("register rpc service: %w", err)
	}

	return &Server{
		path:      path,
		logger:    logger,
		listener:  listener,
		rpcServer: rpcServer,
		ctx:       serverCtx,
		cancel:    cancel,
	}, nil
}

// Serve accepts connections in the background until Close.
func (s *Server) Serve() {
	s.logger.Debug("IPC server listening", logging.String("socket", s.path))
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		for {
			conn, err := s.listener.Accept()
			if err != nil {
				if s.ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
					return
				}
				logging.WarnWithContext(s.logger, "accept failed", "ipc_accept_failed",
					logging.Error(err),
					logging.String(logging.FieldImpact, "CLI commands may fail to connect"),
					logging.String(logging.FieldErrorHint, "check socket permissions and restart the daemon if needed"),
				)
				continue
			}
			s.wg.Add(1)
			go func(c net.Conn) {
				defer s.wg.Done()
				s.rpcServer.ServeCodec(jsonrpc.NewServerCodec(c))
			}(conn)
		}
	}()
}

// Close stops accepting connections and removes the socket file.
func (s *Server) Close() {
	s.cancel()
	if s.listener != nil {
		_ = s.listener.Close()
	}
	s.wg.Wait()
	if err := os.RemoveAll(s.path); err != nil {
		logging.WarnWithContext(s.logger, "failed to remove socket", "ipc_socket_cleanup_failed",
			logging.String("socket", s.path),
			logging.Error(err),
			logging.String(logging.FieldImpact, "stale socket may block future starts"),
			logging.String(logging.FieldErrorHint, "remove the socket file manually"),
		)
	}
}

type service struct {
	daemon *daemon.Daemon
	logger *slog.Logger
	ctx    context.Context
}

func (s *service) Start(_ StartRequest, resp *StartResponse) error {
	if err := s.daemon.Start(s.ctx); err != nil {
		resp.Message = err.Error()
		return nil
	}
	resp.Started = true
	resp.Message = "supervision started"
	s.logger.Info("supervision started via IPC", logging.String(logging.FieldEventType, "ipc_start"))
	return nil
}

func (s *service) Stop(_ StopRequest, resp *StopResponse) error {
	s.daemon.Stop()
	resp.Stopped = true
	s.logger.Info("supervision stopped via IPC", logging.String(logging.FieldEventType, "ipc_stop"))
	return nil
}

func (s *service) Status(_ StatusRequest, resp *StatusResponse) error {
	*resp = s.daemon.StatusView()
	return nil
}

func (s *service) Rescan(_ RescanRequest, resp *RescanResponse) error {
	n, err := s.daemon.Rescan(s.ctx)
	if err != nil {
		return err
	}
	resp.Transitions = n
	return nil
}

func (s *service) Reset(req ResetRequest, resp *ResetResponse) error {
	if err := s.daemon.ResetSlot(req.Slot); err != nil {
		return err
	}
	s.logger.Info("slot reset via IPC",
		logging.String(logging.FieldEventType, "ipc_reset"),
		logging.Slot(req.Slot),
	)
	view := api.FromSnapshot(s.daemon.Supervisor().Snapshot())
	resp.Slot = view.Slots[req.Slot]
	return nil
}

func (s *service) Devices(_ DevicesRequest, resp *DevicesResponse) error {
	devices, err := s.daemon.Devices(s.ctx)
	if err != nil {
		return err
	}
	resp.Devices = devices
	return nil
}

func (s *service) History(req HistoryRequest, resp *HistoryResponse) error {
	limit := req.Limit
	if limit <= 0 {
		limit = defaultHistory
	}
	snaps, err := s.daemon.History(s.ctx, limit)
	if err != nil {
		return err
	}
	resp.Snapshots = make([]api.HealthView, 0, len(snaps))
	for _, snap := range snaps {
		resp.Snapshots = append(resp.Snapshots, api.FromSnapshot(snap))
	}
	return nil
}

func (s *service) TestNotification(_ TestNotificationRequest, resp *TestNotificationResponse) error {
	sent, err := s.daemon.TestNotification(s.ctx)
	if err != nil {
		resp.Message = err.Error()
		return err
	}
	resp.Sent = sent
	if !sent {
		resp.Message = "Notifications disabled (set notifications.ntfy_topic)"
	}
	return nil
}

func (s *service) LogTail(req LogTailRequest, resp *LogTailResponse) error {
	path := s.daemon.LogPath()
	if path == "" {
		return errors.New("daemon is not writing a log file")
	}
	limit := req.Limit
	if limit <= 0 {
		limit = defaultLogTailSize
	}
	wait := time.Duration(req.WaitMillis) * time.Millisecond
	if wait > maxLogFollowWait {
		wait = maxLogFollowWait
	}
	opts := logs.TailOptions{Offset: req.Offset, Limit: limit, Follow: req.Follow, Wait: wait}
	if req.Slot != nil {
		opts.Match = logs.SlotMatcher(*req.Slot)
	}
	res, err := logs.Tail(s.ctx, path, opts)
	if err != nil {
		return err
	}
	resp.Lines = res.Lines
	resp.Offset = res.Offset
	return nil
}

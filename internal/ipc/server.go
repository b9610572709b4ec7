package ipc

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/rpc"
	"net/rpc/jsonrpc"
	"os"
	"sync"
	"time"

	"log/slog"

	"vigil/internal/api"
	"vigil/internal/daemon"
	"vigil/internal/logging"
	"vigil/internal/signals"
)

// Server exposes daemon control via JSON-RPC over a Unix domain socket.
type Server struct {
	path      string
	daemon    *daemon.Daemon
	logger    *slog.Logger
	listener  net.Listener
	rpcServer *rpc.Server

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewServer configures the IPC server at the given socket path.
func NewServer(ctx context.Context, path string, d *daemon.Daemon, logger *slog.Logger) (*Server, error) {
	if d == nil {
		return nil, errors.New("ipc server requires daemon")
	}
	if logger == nil {
		logger = logging.NewNop()
	}

	if err := os.RemoveAll(path); err != nil {
		return nil, fmt.Errorf("remove existing socket: %w", err)
	}

	listener, err := net.Listen("unix", path)
	if err != nil {
		return nil, fmt.Errorf("listen on socket: %w", err)
	}

	rpcServer := rpc.NewServer()
	srv := &service{daemon: d, logger: logger, ctx: ctx}
	if err := rpcServer.RegisterName("Vigil", srv); err != nil {
		listener.Close()
		return nil, fmt.Errorf("register rpc service: %w", err)
	}

	serverCtx, cancel := context.WithCancel(ctx)
	return &Server{
		path:      path,
		daemon:    d,
		logger:    logger,
		listener:  listener,
		rpcServer: rpcServer,
		ctx:       serverCtx,
		cancel:    cancel,
	}, nil
}

// Serve starts accepting RPC connections until the context is canceled.
func (s *Server) Serve() {
	s.logger.Debug("IPC server listening", logging.String("socket", s.path))
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		for {
			conn, err := s.listener.Accept()
			if err != nil {
				select {
				case <-s.ctx.Done():
					return
				default:
				}
				s.logger.Warn("accept failed",
					logging.Error(err),
					logging.String(logging.FieldEventType, "ipc_accept_failed"),
					logging.String(logging.FieldImpact, "IPC clients may fail to connect"),
					logging.String(logging.FieldErrorHint, "Check socket permissions and restart the daemon if needed"))
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

// Close stops the server and removes the socket file.
func (s *Server) Close() {
	s.cancel()
	if s.listener != nil {
		_ = s.listener.Close()
	}
	s.wg.Wait()
	if err := os.RemoveAll(s.path); err != nil {
		s.logger.Warn("failed to remove socket",
			logging.String("socket", s.path),
			logging.Error(err),
			logging.String(logging.FieldEventType, "ipc_socket_cleanup_failed"),
			logging.String(logging.FieldImpact, "stale IPC socket may block future starts"),
			logging.String(logging.FieldErrorHint, "Remove the socket file manually or rerun vigil stop"))
	}
}

type service struct {
	daemon *daemon.Daemon
	logger *slog.Logger
	ctx    context.Context
}

func (s *service) log() *slog.Logger {
	if s.logger == nil {
		return logging.NewNop()
	}
	return logging.NewComponentLogger(s.logger, "ipc")
}

func (s *service) Start(_ StartRequest, resp *StartResponse) error {
	s.log().Debug("daemon start requested")
	if err := s.daemon.Start(s.ctx); err != nil {
		resp.Started = false
		resp.Message = err.Error()
		return nil
	}
	resp.Started = true
	resp.Message = "daemon started"
	s.log().Info("daemon started via IPC",
		logging.String(logging.FieldEventType, "daemon_start"))
	return nil
}

func (s *service) Stop(_ StopRequest, resp *StopResponse) error {
	s.log().Debug("daemon stop requested")
	s.daemon.Stop()
	resp.Stopped = true
	s.log().Info("daemon stopped via IPC",
		logging.String(logging.FieldEventType, "daemon_stop"))
	return nil
}

func (s *service) Status(_ StatusRequest, resp *StatusResponse) error {
	status := s.daemon.Status(s.ctx)
	resp.Running = status.Running
	resp.PID = status.PID
	resp.DatabasePath = status.DatabasePath
	resp.LockPath = status.LockFilePath
	resp.Engine = api.FromEngineStatus(status.Engine)
	return nil
}

func (s *service) SignalSend(req SignalSendRequest, resp *SignalSendResponse) error {
	source, _ := signals.ParseSource(req.Signal.Source)
	sig := signals.Signal{
		UserID:        req.Signal.UserID,
		Source:        source,
		Timestamp:     req.Signal.Timestamp,
		Features:      req.Signal.Features,
		RawConfidence: req.Signal.RawConfidence,
	}
	if err := s.daemon.Ingest(s.ctx, sig); err != nil {
		return err
	}
	resp.Accepted = true
	return nil
}

func (s *service) CaseList(req CaseListRequest, resp *CaseListResponse) error {
	cases, err := s.daemon.ListCases(s.ctx, req.Status)
	if err != nil {
		return err
	}
	resp.Cases = cases
	return nil
}

func (s *service) CaseDescribe(req CaseDescribeRequest, resp *CaseDescribeResponse) error {
	var (
		detail *api.CaseDetail
		err    error
	)
	switch {
	case req.CaseID != "":
		detail, err = s.daemon.CaseByID(s.ctx, req.CaseID)
	case req.UserID != "":
		detail, err = s.daemon.CaseForUser(s.ctx, req.UserID)
	default:
		return errors.New("case describe requires a case_id or user_id")
	}
	if err != nil {
		return err
	}
	if detail == nil {
		return errors.New("case not found")
	}
	resp.Detail = *detail
	return nil
}

func (s *service) Acknowledge(req AcknowledgeRequest, resp *AcknowledgeResponse) error {
	if req.CaseID == "" {
		return errors.New("acknowledge requires a case_id")
	}
	ack, err := s.daemon.Acknowledge(s.ctx, req.CaseID, req.Actor)
	if err != nil {
		return err
	}
	resp.Case = ack.Case
	resp.Resolved = ack.Resolved
	s.log().Info("case acknowledged via IPC",
		logging.String(logging.FieldEventType, "case_acknowledged"),
		logging.String(logging.FieldCaseID, req.CaseID))
	return nil
}

func (s *service) PlanGet(req PlanGetRequest, resp *PlanGetResponse) error {
	if req.UserID == "" {
		return errors.New("plan get requires a user_id")
	}
	plan, err := s.daemon.PlanGet(s.ctx, req.UserID)
	if err != nil {
		return err
	}
	if plan == nil {
		resp.Found = false
		return nil
	}
	resp.Found = true
	resp.Plan = *plan
	return nil
}

func (s *service) PlanSet(req PlanSetRequest, resp *PlanSetResponse) error {
	if req.UserID == "" {
		return errors.New("plan set requires a user_id")
	}
	plan, err := s.daemon.PlanSet(s.ctx, req.UserID, req.Plan)
	if err != nil {
		return err
	}
	resp.Plan = *plan
	s.log().Info("safety plan updated via IPC",
		logging.String(logging.FieldEventType, "plan_updated"),
		logging.String(logging.FieldUserID, req.UserID),
		logging.Int("version", plan.Version))
	return nil
}

func (s *service) AuditExport(req AuditExportRequest, resp *AuditExportResponse) error {
	records, err := s.daemon.AuditExport(s.ctx, req.UserID, req.CaseID, req.Limit)
	if err != nil {
		return err
	}
	resp.Records = records
	return nil
}

func (s *service) LogTail(req LogTailRequest, resp *LogTailResponse) error {
	hub := s.daemon.LogStream()
	if hub == nil {
		return nil
	}
	limit := req.Limit
	if limit <= 0 {
		limit = 200
	}
	ctx := s.ctx
	if req.Follow {
		wait := time.Duration(req.WaitMillis) * time.Millisecond
		if wait <= 0 {
			wait = time.Second
		}
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(s.ctx, wait)
		defer cancel()
	}
	if req.Since == 0 && !req.Follow {
		raw, cursor := hub.Tail(limit)
		resp.Events = api.FromLogEvents(raw)
		resp.Next = cursor
		return nil
	}
	raw, cursor, err := hub.Fetch(ctx, req.Since, limit, req.Follow)
	if err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	resp.Events = api.FromLogEvents(raw)
	resp.Next = cursor
	return nil
}

func (s *service) DatabaseHealth(_ DatabaseHealthRequest, resp *DatabaseHealthResponse) error {
	health, err := s.daemon.DatabaseHealth(s.ctx)
	if err != nil && health.Error == "" {
		return err
	}
	resp.Health = api.FromDatabaseHealth(health)
	return err
}

func (s *service) TestNotification(_ TestNotificationRequest, resp *TestNotificationResponse) error {
	sent, message, err := s.daemon.TestNotification(s.ctx)
	resp.Sent = sent
	resp.Message = message
	return err
}

func (s *service) Reload(_ ReloadRequest, resp *ReloadResponse) error {
	if err := s.daemon.Reload(s.ctx); err != nil {
		resp.Reloaded = false
		resp.Message = err.Error()
		return nil
	}
	resp.Reloaded = true
	resp.Message = "configuration reloaded"
	return nil
}

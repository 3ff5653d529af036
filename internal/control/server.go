// Package control exposes a running monitor over a unix domain socket.
// The CLI's stop, suspend, resume, status, and report commands talk to
// the daemon through this surface; the protocol is one JSON request and
// one JSON response per connection.
package control

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/compwatch/compwatch/internal/monitor"
	"github.com/compwatch/compwatch/internal/types"
)

// Command names accepted over the socket.
const (
	CommandStatus  = "status"
	CommandReport  = "report"
	CommandStop    = "stop"
	CommandSuspend = "suspend"
	CommandResume  = "resume"
)

// requestTimeout bounds how long one control request may run. Stop can
// wait for an in-flight cycle, so the bound is generous.
const requestTimeout = 30 * time.Second

// Request is one control command.
type Request struct {
	Command string `json:"command"`
}

// Response is the result of one control command. Stop responses carry
// the final metrics snapshot alongside the status.
type Response struct {
	OK      bool                     `json:"ok"`
	Error   string                   `json:"error,omitempty"`
	Status  *monitor.Status          `json:"status,omitempty"`
	Report  *monitor.Report          `json:"report,omitempty"`
	Metrics *types.ComplianceMetrics `json:"metrics,omitempty"`
}

// Server serves control requests for one monitor.
type Server struct {
	socketPath string
	monitor    *monitor.Monitor
	log        *zap.Logger

	mu       sync.Mutex
	listener net.Listener
	wg       sync.WaitGroup
	closed   bool
}

// NewServer creates a control server. Start must be called before the
// socket accepts connections.
func NewServer(socketPath string, m *monitor.Monitor, log *zap.Logger) *Server {
	if log == nil {
		log = zap.NewNop()
	}
	return &Server{socketPath: socketPath, monitor: m, log: log}
}

// Start binds the socket and begins accepting requests. A stale socket
// file from a crashed previous instance is removed first.
func (s *Server) Start() error {
	if err := os.MkdirAll(filepath.Dir(s.socketPath), 0o755); err != nil {
		return fmt.Errorf("create socket directory: %w", err)
	}
	if err := os.Remove(s.socketPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove stale socket: %w", err)
	}

	listener, err := net.Listen("unix", s.socketPath)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", s.socketPath, err)
	}

	s.mu.Lock()
	s.listener = listener
	s.mu.Unlock()

	s.wg.Add(1)
	go s.acceptLoop(listener)
	s.log.Info("control socket listening", zap.String("path", s.socketPath))
	return nil
}

func (s *Server) acceptLoop(listener net.Listener) {
	defer s.wg.Done()
	for {
		conn, err := listener.Accept()
		if err != nil {
			s.mu.Lock()
			closed := s.closed
			s.mu.Unlock()
			if closed || errors.Is(err, net.ErrClosed) {
				return
			}
			s.log.Warn("control accept failed", zap.Error(err))
			continue
		}
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.handleConn(conn)
		}()
	}
}

// handleConn serves exactly one request on the connection.
func (s *Server) handleConn(conn net.Conn) {
	defer conn.Close()
	conn.SetDeadline(time.Now().Add(requestTimeout))

	var req Request
	if err := json.NewDecoder(conn).Decode(&req); err != nil {
		json.NewEncoder(conn).Encode(Response{Error: "malformed request: " + err.Error()})
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()

	resp := s.execute(ctx, req)
	if err := json.NewEncoder(conn).Encode(resp); err != nil {
		s.log.Warn("control response write failed", zap.Error(err))
	}
}

func (s *Server) execute(ctx context.Context, req Request) Response {
	s.log.Debug("control command received", zap.String("command", req.Command))

	switch req.Command {
	case CommandStatus:
		status := s.monitor.Status()
		return Response{OK: true, Status: &status}

	case CommandReport:
		report, err := s.monitor.Report(ctx)
		if err != nil {
			return Response{Error: err.Error()}
		}
		return Response{OK: true, Report: report}

	case CommandStop:
		if err := s.monitor.Stop(ctx); err != nil {
			return Response{Error: err.Error()}
		}
		status := s.monitor.Status()
		return Response{OK: true, Status: &status, Metrics: s.monitor.LatestMetrics()}

	case CommandSuspend:
		if err := s.monitor.Suspend(ctx); err != nil {
			return Response{Error: err.Error()}
		}
		status := s.monitor.Status()
		return Response{OK: true, Status: &status}

	case CommandResume:
		if err := s.monitor.Resume(ctx); err != nil {
			return Response{Error: err.Error()}
		}
		status := s.monitor.Status()
		return Response{OK: true, Status: &status}
	}
	return Response{Error: fmt.Sprintf("unknown command %q", req.Command)}
}

// Close stops accepting requests and removes the socket file.
func (s *Server) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	listener := s.listener
	s.mu.Unlock()

	var err error
	if listener != nil {
		err = listener.Close()
	}
	s.wg.Wait()
	os.Remove(s.socketPath)
	return err
}

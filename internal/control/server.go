// Package control exposes the kernel's external tick-driver interface over
// a Unix domain socket: newline-delimited JSON requests in, newline
// delimited JSON responses out, one request per connection. An external
// caller drives the kernel by periodically sending {"cmd":"tick"}; the
// coordinator's TickComplete result is returned as the response and also
// fanned out to any other registered driver.
package control

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"github.com/pressurefield/kernel/internal/coordinator"
)

const (
	maxConcurrentConns = 8
	maxRequestBytes    = 1 << 20
	connTimeout        = 30 * time.Second
)

// Ticker is the slice of *coordinator.Coordinator the control server
// drives: one logical tick.
type Ticker interface {
	Tick(nowMs int64) coordinator.Result
}

// Request is the JSON structure for a control command.
type Request struct {
	Cmd   string `json:"cmd"`    // only "tick" is recognised
	NowMs int64  `json:"now_ms"` // required for "tick"
}

// Response is the JSON structure for a control command's reply.
type Response struct {
	OK     bool                `json:"ok"`
	Error  string              `json:"error,omitempty"`
	Result *coordinator.Result `json:"result,omitempty"`
}

// Server is the control-socket server: the kernel's exposed tick-driver
// interface.
type Server struct {
	socketPath string
	ticker     Ticker
	log        *zap.Logger
	sem        chan struct{}
}

// NewServer creates a control Server bound to the coordinator it drives.
func NewServer(socketPath string, ticker Ticker, log *zap.Logger) *Server {
	return &Server{
		socketPath: socketPath,
		ticker:     ticker,
		log:        log,
		sem:        make(chan struct{}, maxConcurrentConns),
	}
}

// ListenAndServe binds the control socket and serves connections until ctx
// is cancelled. Any stale socket file at the same path is removed first.
func (s *Server) ListenAndServe(ctx context.Context) error {
	if err := os.Remove(s.socketPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("control: remove stale socket %q: %w", s.socketPath, err)
	}
	if dir := filepath.Dir(s.socketPath); dir != "." {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return fmt.Errorf("control: mkdir %q: %w", dir, err)
		}
	}

	lis, err := net.Listen("unix", s.socketPath)
	if err != nil {
		return fmt.Errorf("control: listen %q: %w", s.socketPath, err)
	}
	defer lis.Close()

	if err := os.Chmod(s.socketPath, 0o600); err != nil {
		return fmt.Errorf("control: chmod %q: %w", s.socketPath, err)
	}

	s.log.Info("control socket listening", zap.String("path", s.socketPath))

	go func() {
		<-ctx.Done()
		lis.Close()
	}()

	for {
		conn, err := lis.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return nil
			default:
				s.log.Error("control: accept error", zap.Error(err))
				continue
			}
		}

		select {
		case s.sem <- struct{}{}:
		default:
			s.log.Warn("control: max connections reached, rejecting")
			_ = conn.Close()
			continue
		}

		go func(c net.Conn) {
			defer func() { <-s.sem }()
			defer c.Close()
			s.handleConn(c)
		}(conn)
	}
}

func (s *Server) handleConn(conn net.Conn) {
	_ = conn.SetDeadline(time.Now().Add(connTimeout))

	reader := bufio.NewReaderSize(io.LimitReader(conn, maxRequestBytes), 4096)
	line, err := reader.ReadBytes('\n')
	if err != nil && len(line) == 0 {
		if err != io.EOF {
			s.log.Warn("control: read error", zap.Error(err))
		}
		return
	}

	var req Request
	if err := json.Unmarshal(line, &req); err != nil {
		s.writeResponse(conn, Response{OK: false, Error: "invalid JSON: " + err.Error()})
		return
	}

	s.writeResponse(conn, s.dispatch(req))
}

func (s *Server) dispatch(req Request) Response {
	switch req.Cmd {
	case "tick":
		result := s.ticker.Tick(req.NowMs)
		return Response{OK: true, Result: &result}
	default:
		return Response{OK: false, Error: fmt.Sprintf("unknown command %q", req.Cmd)}
	}
}

func (s *Server) writeResponse(conn net.Conn, resp Response) {
	data, err := json.Marshal(resp)
	if err != nil {
		s.log.Error("control: encode response", zap.Error(err))
		return
	}
	data = append(data, '\n')
	_, _ = conn.Write(data)
}

// DialTick sends a single {"cmd":"tick"} request over socketPath and
// returns the decoded response, for use by kernelctl and tests.
func DialTick(socketPath string, nowMs int64) (Response, error) {
	return dial(socketPath, Request{Cmd: "tick", NowMs: nowMs})
}

// dial sends a single control request over socketPath and decodes its
// response.
func dial(socketPath string, req Request) (Response, error) {
	conn, err := net.DialTimeout("unix", socketPath, 5*time.Second)
	if err != nil {
		return Response{}, fmt.Errorf("control: dial %q: %w", socketPath, err)
	}
	defer conn.Close()

	_ = conn.SetDeadline(time.Now().Add(connTimeout))

	data, err := json.Marshal(req)
	if err != nil {
		return Response{}, fmt.Errorf("control: encode request: %w", err)
	}
	data = append(data, '\n')
	if _, err := conn.Write(data); err != nil {
		return Response{}, fmt.Errorf("control: write request: %w", err)
	}

	reader := bufio.NewReader(conn)
	line, err := reader.ReadBytes('\n')
	if err != nil && len(line) == 0 {
		return Response{}, fmt.Errorf("control: read response: %w", err)
	}

	var resp Response
	if err := json.Unmarshal(line, &resp); err != nil {
		return Response{}, fmt.Errorf("control: decode response: %w", err)
	}
	return resp, nil
}

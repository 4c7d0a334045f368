package ingest

import (
	"bufio"
	"context"
	"crypto/tls"
	"encoding/json"
	"io"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"socwatch/internal/queue"
	"socwatch/internal/schema"
)

// TCPServerConfig holds configuration for the NDJSON TCP listener.
type TCPServerConfig struct {
	Address        string
	TLSEnabled     bool
	TLSCertFile    string
	TLSKeyFile     string
	MaxConnections int
	IdleTimeout    time.Duration
	MaxLineLength  int
}

// DefaultTCPServerConfig returns the default TCP listener configuration.
func DefaultTCPServerConfig() TCPServerConfig {
	return TCPServerConfig{
		Address:        ":5517",
		TLSEnabled:     false,
		MaxConnections: 1000,
		IdleTimeout:    5 * time.Minute,
		MaxLineLength:  65535,
	}
}

// TCPServerMetrics holds counters for the TCP listener.
type TCPServerMetrics struct {
	Connections uint64
	Received    uint64
	Queued      uint64
	Errors      uint64
}

// TCPServer receives newline-delimited JSON events over TCP. Each line is
// one EventInput; malformed or invalid lines are counted and dropped
// without closing the connection.
type TCPServer struct {
	config    TCPServerConfig
	listener  net.Listener
	validator *schema.Validator
	queue     *queue.RingBuffer

	connCount int32
	wg        sync.WaitGroup
	done      chan struct{}

	connections uint64
	received    uint64
	queued      uint64
	errors      uint64
}

// NewTCPServer creates a TCP listener for NDJSON ingestion.
func NewTCPServer(cfg TCPServerConfig, validator *schema.Validator, q *queue.RingBuffer) *TCPServer {
	return &TCPServer{
		config:    cfg,
		validator: validator,
		queue:     q,
		done:      make(chan struct{}),
	}
}

// Start starts accepting connections.
func (s *TCPServer) Start(ctx context.Context) error {
	var listener net.Listener
	var err error

	if s.config.TLSEnabled {
		cert, err := tls.LoadX509KeyPair(s.config.TLSCertFile, s.config.TLSKeyFile)
		if err != nil {
			return err
		}

		tlsConfig := &tls.Config{
			Certificates: []tls.Certificate{cert},
			MinVersion:   tls.VersionTLS12,
		}

		listener, err = tls.Listen("tcp", s.config.Address, tlsConfig)
		if err != nil {
			return err
		}
	} else {
		listener, err = net.Listen("tcp", s.config.Address)
		if err != nil {
			return err
		}
	}

	s.listener = listener

	slog.Info("TCP listener started",
		"address", s.config.Address,
		"tls", s.config.TLSEnabled,
	)

	s.wg.Add(1)
	go s.acceptLoop(ctx)

	return nil
}

func (s *TCPServer) acceptLoop(ctx context.Context) {
	defer s.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.done:
			return
		default:
		}

		// Accept deadline allows periodic context checks
		if tcpListener, ok := s.listener.(*net.TCPListener); ok {
			tcpListener.SetDeadline(time.Now().Add(100 * time.Millisecond))
		}

		conn, err := s.listener.Accept()
		if err != nil {
			if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
				continue
			}
			select {
			case <-s.done:
				return
			default:
				slog.Debug("TCP accept error", "error", err)
				continue
			}
		}

		if atomic.LoadInt32(&s.connCount) >= int32(s.config.MaxConnections) {
			slog.Warn("max connections reached, rejecting")
			conn.Close()
			continue
		}

		atomic.AddInt32(&s.connCount, 1)
		atomic.AddUint64(&s.connections, 1)

		s.wg.Add(1)
		go s.handleConnection(ctx, conn)
	}
}

func (s *TCPServer) handleConnection(ctx context.Context, conn net.Conn) {
	defer s.wg.Done()
	defer atomic.AddInt32(&s.connCount, -1)
	defer conn.Close()

	slog.Debug("new TCP connection", "remote", conn.RemoteAddr())

	reader := bufio.NewReaderSize(conn, s.config.MaxLineLength)

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.done:
			return
		default:
		}

		conn.SetReadDeadline(time.Now().Add(s.config.IdleTimeout))

		line, err := reader.ReadBytes('\n')
		if err != nil {
			if err == io.EOF {
				return
			}
			if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
				return // Idle timeout
			}
			slog.Debug("TCP read error", "error", err)
			return
		}

		atomic.AddUint64(&s.received, 1)
		s.processLine(line, conn.RemoteAddr())
	}
}

func (s *TCPServer) processLine(line []byte, remote net.Addr) {
	var input EventInput
	if err := json.Unmarshal(line, &input); err != nil {
		atomic.AddUint64(&s.errors, 1)
		slog.Debug("NDJSON parse error", "error", err, "remote", remote)
		return
	}

	event := convertInput(input)

	if err := s.validator.Validate(event); err != nil {
		atomic.AddUint64(&s.errors, 1)
		slog.Debug("NDJSON validation error",
			"error", err,
			"event_id", event.ID,
			"remote", remote,
		)
		return
	}

	if err := s.queue.Push(event); err != nil {
		atomic.AddUint64(&s.errors, 1)
		return
	}

	atomic.AddUint64(&s.queued, 1)
}

// Stop stops the listener gracefully.
func (s *TCPServer) Stop() {
	close(s.done)
	if s.listener != nil {
		s.listener.Close()
	}
	s.wg.Wait()
	slog.Info("TCP listener stopped",
		"connections", atomic.LoadUint64(&s.connections),
		"received", atomic.LoadUint64(&s.received),
		"queued", atomic.LoadUint64(&s.queued),
		"errors", atomic.LoadUint64(&s.errors),
	)
}

// Metrics returns the current listener counters.
func (s *TCPServer) Metrics() TCPServerMetrics {
	return TCPServerMetrics{
		Connections: atomic.LoadUint64(&s.connections),
		Received:    atomic.LoadUint64(&s.received),
		Queued:      atomic.LoadUint64(&s.queued),
		Errors:      atomic.LoadUint64(&s.errors),
	}
}

// ActiveConnections returns the number of currently open connections.
func (s *TCPServer) ActiveConnections() int {
	return int(atomic.LoadInt32(&s.connCount))
}

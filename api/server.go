package api

import (
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// ErrServerRunning is returned when Start is called twice.
var ErrServerRunning = errors.New("server is already running")

// ServerConfig holds configuration for the TCP, ZeroMQ and gRPC servers.
type ServerConfig struct {
	// Address is the TCP listen address (e.g., ":50051")
	Address string

	// ZmqEndpoint is the ZeroMQ REP endpoint; empty disables it
	ZmqEndpoint string

	// GrpcAddress is the gRPC listen address; empty disables it
	GrpcAddress string

	// MetricsAddress serves /metrics and /health; empty disables it
	MetricsAddress string

	// IdleTimeout closes connections with no request for this long (0 = never)
	IdleTimeout time.Duration

	// MaxMessageSize caps request and response frames (0 = MaxMessageSize)
	MaxMessageSize int

	// Auth configures the token handshake
	Auth AuthConfig
}

// DefaultServerConfig returns a ServerConfig with sensible defaults.
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		Address:        ":50051",
		ZmqEndpoint:    "tcp://*:50052",
		GrpcAddress:    ":50053",
		MetricsAddress: ":9090",
		IdleTimeout:    5 * time.Minute,
	}
}

// Server accepts length-prefixed Arrow IPC requests over TCP.
type Server struct {
	config  ServerConfig
	handler *Handler
	auth    *Authenticator
	log     logrus.FieldLogger
	metrics *Metrics

	listener net.Listener
	running  bool
	mu       sync.Mutex
	quit     chan struct{}
	wg       sync.WaitGroup
}

// NewServer creates a Server around handler.
func NewServer(config ServerConfig, handler *Handler, log logrus.FieldLogger, metrics *Metrics) *Server {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Server{
		config:  config,
		handler: handler,
		auth:    NewAuthenticator(config.Auth),
		log:     log.WithField("transport", "tcp"),
		metrics: metrics,
		quit:    make(chan struct{}),
	}
}

// Authenticator returns the server's authenticator.
func (s *Server) Authenticator() *Authenticator {
	return s.auth
}

// Addr returns the bound address, or nil before Start.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

func (s *Server) listen() (net.Listener, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return nil, ErrServerRunning
	}

	lis, err := net.Listen("tcp", s.config.Address)
	if err != nil {
		return nil, fmt.Errorf("failed to listen on %s: %w", s.config.Address, err)
	}
	s.listener = lis
	s.running = true
	return lis, nil
}

// Start serves until Stop is called. It returns nil after a clean stop.
func (s *Server) Start() error {
	lis, err := s.listen()
	if err != nil {
		return err
	}
	s.serve(lis)
	return nil
}

// StartAsync binds the listener and serves in a background goroutine.
func (s *Server) StartAsync() error {
	lis, err := s.listen()
	if err != nil {
		return err
	}
	go s.serve(lis)
	return nil
}

func (s *Server) serve(lis net.Listener) {
	s.log.WithField("address", lis.Addr().String()).Info("kernel server listening")
	retry := newRetrier()
	for {
		conn, err := lis.Accept()
		if err != nil {
			select {
			case <-s.quit:
				return
			default:
			}
			s.log.WithError(err).Warn("accept failed")
			if !retry.wait(s.quit) {
				return
			}
			continue
		}
		retry.reset()

		s.wg.Add(1)
		go s.handleConnection(conn)
	}
}

// Stop closes the listener and waits for open connections to finish their
// current request.
func (s *Server) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	close(s.quit)
	if err := s.listener.Close(); err != nil {
		s.log.WithError(err).Debug("listener close")
	}
	s.mu.Unlock()

	s.wg.Wait()
	s.log.Info("kernel server stopped")
}

func (s *Server) handleConnection(conn net.Conn) {
	defer s.wg.Done()
	defer conn.Close()

	s.metrics.connOpened()
	defer s.metrics.connClosed()

	frames := Framer{Max: s.config.MaxMessageSize}
	log := s.log.WithField("remote", conn.RemoteAddr().String())
	log.Debug("connection opened")

	// Unblock reads on shutdown.
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-s.quit:
			_ = conn.SetReadDeadline(time.Now())
		case <-done:
		}
	}()

	if err := s.auth.Handshake(conn); err != nil {
		s.metrics.authFailed()
		log.WithError(err).Warn("handshake rejected")
		return
	}

	for {
		select {
		case <-s.quit:
			return
		default:
		}
		if s.config.IdleTimeout > 0 {
			_ = conn.SetReadDeadline(time.Now().Add(s.config.IdleTimeout))
		}

		data, err := frames.Read(conn)
		if err != nil {
			if !errors.Is(err, io.EOF) {
				log.WithError(err).Debug("read failed")
			}
			return
		}

		response, err := s.handler.Process(data, "tcp")
		if err != nil {
			log.WithError(err).Error("no response")
			return
		}

		if err := frames.Write(conn, response); err != nil {
			log.WithError(err).Debug("write failed")
			return
		}
	}
}

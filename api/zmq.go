package api

import (
	"context"
	"errors"
	"net"
	"sync"

	"github.com/go-zeromq/zmq4"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// ErrServerNotRunning is returned by operations that need a started server.
var ErrServerNotRunning = errors.New("server is not running")

// ZmqServer answers Arrow IPC requests on a ZeroMQ REP socket. Each request
// is one message: the payload frame, preceded by a token frame when
// authentication is enabled.
type ZmqServer struct {
	endpoint string
	handler  *Handler
	auth     *Authenticator
	log      logrus.FieldLogger
	metrics  *Metrics

	ctx    context.Context
	cancel context.CancelFunc
	rep    zmq4.Socket

	running bool
	mu      sync.Mutex
	wg      sync.WaitGroup
}

// NewZmqServer creates a REP server bound to endpoint on Start.
func NewZmqServer(endpoint string, handler *Handler, auth AuthConfig, log logrus.FieldLogger, metrics *Metrics) *ZmqServer {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &ZmqServer{
		endpoint: endpoint,
		handler:  handler,
		auth:     NewAuthenticator(auth),
		log:      log.WithField("transport", "zmq"),
		metrics:  metrics,
	}
}

// Start binds the socket and serves in a background goroutine.
func (z *ZmqServer) Start() error {
	z.mu.Lock()
	defer z.mu.Unlock()
	if z.running {
		return ErrServerRunning
	}

	z.ctx, z.cancel = context.WithCancel(context.Background())
	z.rep = zmq4.NewRep(z.ctx)
	if err := z.rep.Listen(z.endpoint); err != nil {
		z.cancel()
		return err
	}
	z.running = true

	z.wg.Add(1)
	go z.loop()

	z.log.WithField("endpoint", z.endpoint).Info("kernel server listening")
	return nil
}

// Addr returns the bound address.
func (z *ZmqServer) Addr() net.Addr {
	z.mu.Lock()
	defer z.mu.Unlock()
	if !z.running {
		return nil
	}
	return z.rep.Addr()
}

// Stop cancels the receive loop and closes the socket.
func (z *ZmqServer) Stop() {
	z.mu.Lock()
	if !z.running {
		z.mu.Unlock()
		return
	}
	z.running = false
	z.mu.Unlock()

	z.cancel()
	if err := z.rep.Close(); err != nil {
		z.log.WithError(err).Debug("socket close")
	}
	z.wg.Wait()
	z.log.Info("kernel server stopped")
}

func (z *ZmqServer) loop() {
	defer z.wg.Done()

	retry := newRetrier()
	for {
		msg, err := z.rep.Recv()
		if err != nil {
			select {
			case <-z.ctx.Done():
				return
			default:
			}
			z.log.WithError(err).Warn("receive failed")
			if !retry.wait(z.ctx.Done()) {
				return
			}
			continue
		}
		retry.reset()

		resp, err := z.respond(msg)
		if err != nil {
			z.log.WithError(err).Error("no response")
			return
		}
		if err := z.rep.Send(zmq4.NewMsg(resp)); err != nil {
			select {
			case <-z.ctx.Done():
				return
			default:
				z.log.WithError(err).Warn("send failed")
			}
		}
	}
}

func (z *ZmqServer) respond(msg zmq4.Msg) ([]byte, error) {
	frames := msg.Frames
	if z.auth.IsEnabled() {
		var token string
		if len(frames) == 2 {
			token = string(frames[0])
		}
		if err := z.auth.ValidateToken(token); err != nil {
			z.metrics.authFailed()
			rec := errorRecord(Request{ID: uuid.NewString(), Op: "unknown"}, err)
			defer rec.Release()
			return z.handler.codec.Encode(rec)
		}
		frames = frames[1:]
	}

	var payload []byte
	if len(frames) > 0 {
		payload = frames[len(frames)-1]
	}
	return z.handler.Process(payload, "zmq")
}

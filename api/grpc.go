package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/sirupsen/logrus"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	arrowipc "github.com/VanDung-dev/H3Arrow-Engine/arrow"
	"github.com/VanDung-dev/H3Arrow-Engine/cellarray"
)

const (
	grpcService = "h3arrow.Kernels"
	grpcProcess = "/" + grpcService + "/Process"

	// TokenMetadataKey carries the auth token on gRPC calls.
	TokenMetadataKey = "x-h3arrow-token"
)

// ipcCodec passes Arrow IPC payloads through gRPC untouched. Requests and
// responses are already encoded by arrowipc.Codec, so there is no protobuf
// message in between.
type ipcCodec struct{}

func (ipcCodec) Name() string { return "arrow-ipc" }

func (ipcCodec) Marshal(v any) ([]byte, error) {
	switch b := v.(type) {
	case []byte:
		return b, nil
	case *[]byte:
		return *b, nil
	}
	return nil, fmt.Errorf("arrow-ipc codec: cannot marshal %T", v)
}

func (ipcCodec) Unmarshal(data []byte, v any) error {
	b, ok := v.(*[]byte)
	if !ok {
		return fmt.Errorf("arrow-ipc codec: cannot unmarshal into %T", v)
	}
	// gRPC may reuse data after Unmarshal returns.
	*b = append((*b)[:0], data...)
	return nil
}

// KernelService is the gRPC face of the kernel service: one unary method
// taking a request payload and returning a response payload.
type KernelService interface {
	Process(ctx context.Context, payload []byte) ([]byte, error)
}

var kernelServiceDesc = grpc.ServiceDesc{
	ServiceName: grpcService,
	HandlerType: (*KernelService)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Process", Handler: processHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "h3arrow/kernels",
}

func processHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	var in []byte
	if err := dec(&in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(KernelService).Process(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: grpcProcess}
	return interceptor(ctx, in, info, func(ctx context.Context, req any) (any, error) {
		return srv.(KernelService).Process(ctx, req.([]byte))
	})
}

// GrpcServer serves the kernel service over gRPC.
type GrpcServer struct {
	config  ServerConfig
	handler *Handler
	auth    *Authenticator
	log     logrus.FieldLogger
	metrics *Metrics

	grpcServer *grpc.Server
	listener   net.Listener
	running    bool
	mu         sync.Mutex
}

// NewGrpcServer creates a gRPC server bound to config.GrpcAddress on Start.
func NewGrpcServer(config ServerConfig, handler *Handler, log logrus.FieldLogger, metrics *Metrics) *GrpcServer {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &GrpcServer{
		config:  config,
		handler: handler,
		auth:    NewAuthenticator(config.Auth),
		log:     log.WithField("transport", "grpc"),
		metrics: metrics,
	}
}

func (g *GrpcServer) maxMessage() int {
	return Framer{Max: g.config.MaxMessageSize}.limit()
}

func (g *GrpcServer) listen() (net.Listener, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.running {
		return nil, ErrServerRunning
	}

	lis, err := net.Listen("tcp", g.config.GrpcAddress)
	if err != nil {
		return nil, fmt.Errorf("failed to listen on %s: %w", g.config.GrpcAddress, err)
	}

	g.grpcServer = grpc.NewServer(
		grpc.ForceServerCodec(ipcCodec{}),
		grpc.MaxRecvMsgSize(g.maxMessage()),
		grpc.MaxSendMsgSize(g.maxMessage()),
		grpc.UnaryInterceptor(g.authorize),
	)
	g.grpcServer.RegisterService(&kernelServiceDesc, g)
	g.listener = lis
	g.running = true
	return lis, nil
}

// Start serves until Stop is called.
func (g *GrpcServer) Start() error {
	lis, err := g.listen()
	if err != nil {
		return err
	}
	g.log.WithField("address", lis.Addr().String()).Info("kernel server listening")
	return g.serve(lis)
}

// StartAsync binds the listener and serves in a background goroutine.
func (g *GrpcServer) StartAsync() error {
	lis, err := g.listen()
	if err != nil {
		return err
	}
	g.log.WithField("address", lis.Addr().String()).Info("kernel server listening")
	go func() {
		if err := g.serve(lis); err != nil {
			g.log.WithError(err).Error("grpc server failed")
		}
	}()
	return nil
}

// serve treats a Stop that lands before Serve as a clean stop.
func (g *GrpcServer) serve(lis net.Listener) error {
	g.mu.Lock()
	srv := g.grpcServer
	g.mu.Unlock()
	if err := srv.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
		return err
	}
	return nil
}

// Addr returns the bound address, or nil before Start.
func (g *GrpcServer) Addr() net.Addr {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.listener == nil {
		return nil
	}
	return g.listener.Addr()
}

// Authenticator returns the server's authenticator.
func (g *GrpcServer) Authenticator() *Authenticator {
	return g.auth
}

// Stop waits for in-flight calls and shuts the server down.
func (g *GrpcServer) Stop() {
	g.mu.Lock()
	if !g.running {
		g.mu.Unlock()
		return
	}
	g.running = false
	srv := g.grpcServer
	g.mu.Unlock()

	srv.GracefulStop()
	g.log.Info("kernel server stopped")
}

func (g *GrpcServer) authorize(ctx context.Context, req any, _ *grpc.UnaryServerInfo, next grpc.UnaryHandler) (any, error) {
	if !g.auth.IsEnabled() {
		return next(ctx, req)
	}
	var token string
	if md, ok := metadata.FromIncomingContext(ctx); ok {
		if vals := md.Get(TokenMetadataKey); len(vals) > 0 {
			token = vals[0]
		}
	}
	if err := g.auth.ValidateToken(token); err != nil {
		g.metrics.authFailed()
		return nil, status.Error(codes.Unauthenticated, err.Error())
	}
	return next(ctx, req)
}

// Process runs one request through the handler. Kernel failures come back
// as error records, not gRPC errors.
func (g *GrpcServer) Process(ctx context.Context, payload []byte) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, status.FromContextError(err).Err()
	}
	resp, err := g.handler.Process(payload, "grpc")
	if err != nil {
		return nil, status.Error(codes.Internal, err.Error())
	}
	return resp, nil
}

// GrpcClient calls the kernel service over gRPC.
type GrpcClient struct {
	conn  *grpc.ClientConn
	codec *arrowipc.Codec
	token string
}

// DialGrpc creates a client for target. The connection is established
// lazily on the first call.
func DialGrpc(target, token string, codec *arrowipc.Codec) (*GrpcClient, error) {
	if codec == nil {
		codec = arrowipc.NewCodec()
	}
	conn, err := grpc.NewClient(target,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithDefaultCallOptions(
			grpc.ForceCodec(ipcCodec{}),
			grpc.MaxCallRecvMsgSize(MaxMessageSize),
			grpc.MaxCallSendMsgSize(MaxMessageSize),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create grpc client for %s: %w", target, err)
	}
	return &GrpcClient{conn: conn, codec: codec, token: token}, nil
}

// RoundTrip sends one payload and returns the response payload.
func (c *GrpcClient) RoundTrip(ctx context.Context, payload []byte) ([]byte, error) {
	if c.token != "" {
		ctx = metadata.AppendToOutgoingContext(ctx, TokenMetadataKey, c.token)
	}
	var out []byte
	if err := c.conn.Invoke(ctx, grpcProcess, payload, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Call runs req over cells and returns the response record.
func (c *GrpcClient) Call(ctx context.Context, req Request, cells *cellarray.CellArray) (arrow.Record, error) {
	payload, err := EncodeRequest(c.codec, req, cells)
	if err != nil {
		return nil, err
	}
	data, err := c.RoundTrip(ctx, payload)
	if err != nil {
		return nil, err
	}
	return DecodeResponse(c.codec, data)
}

// Close closes the connection.
func (c *GrpcClient) Close() error {
	return c.conn.Close()
}

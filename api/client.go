package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"time"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/go-zeromq/zmq4"

	arrowipc "github.com/VanDung-dev/H3Arrow-Engine/arrow"
	"github.com/VanDung-dev/H3Arrow-Engine/cellarray"
)

// RemoteError is a failure reported by the service in an error record.
type RemoteError struct {
	RequestID string
	Op        string
	Message   string
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("request %s (%s): %s", e.RequestID, e.Op, e.Message)
}

// EncodeRequest builds the request record for req over cells and encodes it.
func EncodeRequest(codec *arrowipc.Codec, req Request, cells *cellarray.CellArray) ([]byte, error) {
	name := req.Column
	if name == "" {
		name = cellarray.DefaultColumnName
	}
	md := req.Metadata()
	col := cells.Arrow()
	defer col.Release()
	rec := array.NewRecord(arrow.NewSchema([]arrow.Field{cellarray.Field(name)}, &md), []arrow.Array{col}, int64(col.Len()))
	defer rec.Release()
	return codec.Encode(rec)
}

// DecodeResponse decodes a response stream. Error records become a
// *RemoteError; otherwise the caller owns the returned record.
func DecodeResponse(codec *arrowipc.Codec, data []byte) (arrow.Record, error) {
	rec, err := codec.Decode(data)
	if err != nil {
		return nil, err
	}
	md := rec.Schema().Metadata()
	if status, _ := md.GetValue(MetaStatus); status != StatusOK {
		id, _ := md.GetValue(MetaRequestID)
		op, _ := md.GetValue(MetaOp)
		msg, _ := md.GetValue(MetaError)
		rec.Release()
		return nil, &RemoteError{RequestID: id, Op: op, Message: msg}
	}
	return rec, nil
}

// Client is a TCP client of the kernel service. It is not safe for
// concurrent use.
type Client struct {
	conn    net.Conn
	codec   *arrowipc.Codec
	timeout time.Duration
}

// Dial connects to addr and performs the handshake when token is not empty.
func Dial(addr, token string, timeout time.Duration, codec *arrowipc.Codec) (*Client, error) {
	if codec == nil {
		codec = arrowipc.NewCodec()
	}
	conn, err := net.DialTimeout("tcp", addr, timeout)
	if err != nil {
		return nil, err
	}
	c := &Client{conn: conn, codec: codec, timeout: timeout}

	if token != "" {
		if err := c.handshake(token); err != nil {
			conn.Close()
			return nil, err
		}
	}
	return c, nil
}

func (c *Client) deadline() {
	if c.timeout > 0 {
		_ = c.conn.SetDeadline(time.Now().Add(c.timeout))
	}
}

func (c *Client) handshake(token string) error {
	c.deadline()
	data, err := json.Marshal(AuthMessage{Type: "auth", Token: token})
	if err != nil {
		return err
	}
	if err := WriteMessage(c.conn, data); err != nil {
		return err
	}
	data, err = ReadMessage(c.conn)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrAuthFailed, err)
	}
	var resp AuthResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return fmt.Errorf("%w: %v", ErrAuthFailed, err)
	}
	if !resp.Success {
		return fmt.Errorf("%w: %s", ErrAuthFailed, resp.Error)
	}
	return nil
}

// RoundTrip sends an encoded request and returns the raw response.
func (c *Client) RoundTrip(payload []byte) ([]byte, error) {
	c.deadline()
	if err := WriteMessage(c.conn, payload); err != nil {
		return nil, err
	}
	return ReadMessage(c.conn)
}

// Call runs req over cells and returns the response record.
func (c *Client) Call(req Request, cells *cellarray.CellArray) (arrow.Record, error) {
	payload, err := EncodeRequest(c.codec, req, cells)
	if err != nil {
		return nil, err
	}
	data, err := c.RoundTrip(payload)
	if err != nil {
		return nil, err
	}
	return DecodeResponse(c.codec, data)
}

// Close closes the connection.
func (c *Client) Close() error {
	return c.conn.Close()
}

// ZmqClient is a REQ client of the ZeroMQ transport.
type ZmqClient struct {
	req   zmq4.Socket
	codec *arrowipc.Codec
	token string
}

// DialZmq connects a REQ socket to endpoint.
func DialZmq(ctx context.Context, endpoint, token string, codec *arrowipc.Codec) (*ZmqClient, error) {
	if codec == nil {
		codec = arrowipc.NewCodec()
	}
	req := zmq4.NewReq(ctx)
	if err := req.Dial(endpoint); err != nil {
		return nil, err
	}
	return &ZmqClient{req: req, codec: codec, token: token}, nil
}

// Call runs req over cells and returns the response record.
func (c *ZmqClient) Call(req Request, cells *cellarray.CellArray) (arrow.Record, error) {
	payload, err := EncodeRequest(c.codec, req, cells)
	if err != nil {
		return nil, err
	}
	msg := zmq4.NewMsg(payload)
	if c.token != "" {
		msg = zmq4.NewMsgFrom([]byte(c.token), payload)
	}
	if err := c.req.Send(msg); err != nil {
		return nil, err
	}
	reply, err := c.req.Recv()
	if err != nil {
		return nil, err
	}
	return DecodeResponse(c.codec, reply.Bytes())
}

// Close closes the socket.
func (c *ZmqClient) Close() error {
	return c.req.Close()
}

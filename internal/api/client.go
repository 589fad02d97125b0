package api

import (
	"context"
	"fmt"
	"io"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// Client is a typed client for the control service.
type Client struct {
	conn *grpc.ClientConn
}

// Dial connects to the daemon's Unix domain socket.
func Dial(socketPath string) (*Client, error) {
	conn, err := grpc.NewClient(
		"unix://"+socketPath,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	if err != nil {
		return nil, fmt.Errorf("dial daemon: %w", err)
	}
	return &Client{conn: conn}, nil
}

// NewClient wraps an existing connection.
func NewClient(conn *grpc.ClientConn) *Client {
	return &Client{conn: conn}
}

// Close closes the gRPC connection.
func (c *Client) Close() error {
	return c.conn.Close()
}

func call[Resp any](ctx context.Context, c *Client, name string, in any) (*Resp, error) {
	out := new(Resp)
	if err := c.conn.Invoke(ctx, method(name), in, out, grpc.CallContentSubtype(codecName)); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) Status(ctx context.Context) (*StatusResponse, error) {
	return call[StatusResponse](ctx, c, "Status", &StatusRequest{})
}

func (c *Client) Connect(ctx context.Context, req *ConnectRequest) (*ConnectResponse, error) {
	return call[ConnectResponse](ctx, c, "Connect", req)
}

func (c *Client) Disconnect(ctx context.Context) error {
	_, err := call[Empty](ctx, c, "Disconnect", &Empty{})
	return err
}

func (c *Client) Send(ctx context.Context, contact, text string) (*Message, error) {
	resp, err := call[SendResponse](ctx, c, "Send", &SendRequest{Contact: contact, Text: text})
	if err != nil {
		return nil, err
	}
	return &resp.Message, nil
}

func (c *Client) SendFile(ctx context.Context, contact, path string) (*Message, error) {
	resp, err := call[SendResponse](ctx, c, "SendFile", &SendFileRequest{Contact: contact, Path: path})
	if err != nil {
		return nil, err
	}
	return &resp.Message, nil
}

func (c *Client) SetTyping(ctx context.Context, contact string, composing bool) error {
	_, err := call[Empty](ctx, c, "SetTyping", &TypingRequest{Contact: contact, Composing: composing})
	return err
}

func (c *Client) Retract(ctx context.Context, req *RetractRequest) error {
	_, err := call[Empty](ctx, c, "Retract", req)
	return err
}

func (c *Client) Edit(ctx context.Context, id int64, body string) (bool, error) {
	resp, err := call[ChangedResponse](ctx, c, "Edit", &EditRequest{ID: id, Body: body})
	if err != nil {
		return false, err
	}
	return resp.Changed, nil
}

func (c *Client) Delete(ctx context.Context, id int64) (bool, error) {
	resp, err := call[ChangedResponse](ctx, c, "Delete", &DeleteRequest{ID: id})
	if err != nil {
		return false, err
	}
	return resp.Changed, nil
}

func (c *Client) ClearConversation(ctx context.Context, contact string) (int64, error) {
	resp, err := call[CountResponse](ctx, c, "ClearConversation", &ContactRequest{Contact: contact})
	if err != nil {
		return 0, err
	}
	return resp.Count, nil
}

func (c *Client) History(ctx context.Context, contact string, limit int) ([]Message, error) {
	resp, err := call[MessagesResponse](ctx, c, "History", &HistoryRequest{Contact: contact, Limit: limit})
	if err != nil {
		return nil, err
	}
	return resp.Messages, nil
}

func (c *Client) Search(ctx context.Context, req *SearchRequest) ([]Message, error) {
	resp, err := call[MessagesResponse](ctx, c, "Search", req)
	if err != nil {
		return nil, err
	}
	return resp.Messages, nil
}

func (c *Client) Conversations(ctx context.Context) ([]Conversation, error) {
	resp, err := call[ConversationsResponse](ctx, c, "Conversations", &Empty{})
	if err != nil {
		return nil, err
	}
	return resp.Conversations, nil
}

func (c *Client) MarkRead(ctx context.Context, contact string) (int64, error) {
	resp, err := call[CountResponse](ctx, c, "MarkRead", &ContactRequest{Contact: contact})
	if err != nil {
		return 0, err
	}
	return resp.Count, nil
}

func (c *Client) SetActive(ctx context.Context, contact string) error {
	_, err := call[Empty](ctx, c, "SetActive", &ContactRequest{Contact: contact})
	return err
}

func (c *Client) SetNotifications(ctx context.Context, enabled bool) error {
	_, err := call[Empty](ctx, c, "SetNotifications", &NotificationsRequest{Enabled: enabled})
	return err
}

func (c *Client) RelocateStorage(ctx context.Context, location, customPath string) (*RelocateResponse, error) {
	return call[RelocateResponse](ctx, c, "RelocateStorage", &RelocateRequest{Location: location, CustomPath: customPath})
}

func (c *Client) StorageLocations(ctx context.Context) ([]StorageLocation, error) {
	resp, err := call[StorageLocationsResponse](ctx, c, "StorageLocations", &Empty{})
	if err != nil {
		return nil, err
	}
	return resp.Locations, nil
}

func (c *Client) GatewayCommands(ctx context.Context) (*GatewayCommandsResponse, error) {
	return call[GatewayCommandsResponse](ctx, c, "GatewayCommands", &Empty{})
}

func (c *Client) GatewayPair(ctx context.Context) (string, error) {
	resp, err := call[GatewayPairResponse](ctx, c, "GatewayPair", &Empty{})
	if err != nil {
		return "", err
	}
	return resp.QR, nil
}

func (c *Client) GatewayRegister(ctx context.Context) (*GatewayRegisterResponse, error) {
	return call[GatewayRegisterResponse](ctx, c, "GatewayRegister", &Empty{})
}

func (c *Client) GatewayLogin(ctx context.Context) error {
	_, err := call[Empty](ctx, c, "GatewayLogin", &Empty{})
	return err
}

func (c *Client) GatewayLogout(ctx context.Context) error {
	_, err := call[Empty](ctx, c, "GatewayLogout", &Empty{})
	return err
}

// Watch streams bus events whose kind starts with prefix to fn until ctx
// ends, the stream fails or fn returns an error.
func (c *Client) Watch(ctx context.Context, prefix string, fn func(*Event) error) error {
	stream, err := c.conn.NewStream(ctx, &serviceDesc.Streams[0], method("Watch"), grpc.CallContentSubtype(codecName))
	if err != nil {
		return err
	}
	if err := stream.SendMsg(&WatchRequest{Prefix: prefix}); err != nil {
		return err
	}
	if err := stream.CloseSend(); err != nil {
		return err
	}
	for {
		evt := new(Event)
		if err := stream.RecvMsg(evt); err != nil {
			if err == io.EOF {
				return nil
			}
			return err
		}
		if err := fn(evt); err != nil {
			return err
		}
	}
}

// Health reports the standard health status of the control service.
func (c *Client) Health(ctx context.Context) (healthpb.HealthCheckResponse_ServingStatus, error) {
	resp, err := healthpb.NewHealthClient(c.conn).Check(ctx, &healthpb.HealthCheckRequest{Service: ServiceName})
	if err != nil {
		return healthpb.HealthCheckResponse_UNKNOWN, err
	}
	return resp.GetStatus(), nil
}

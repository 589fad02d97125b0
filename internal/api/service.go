// Package api serves the berry.v1.Control gRPC service over the daemon's
// Unix socket. Messages are plain structs carried by a JSON codec, so the
// service descriptor is declared by hand.
package api

import (
	"context"

	"google.golang.org/grpc"
)

// ServiceName is the fully-qualified gRPC service name.
const ServiceName = "berry.v1.Control"

// Control is the daemon control surface.
type Control interface {
	Status(context.Context, *StatusRequest) (*StatusResponse, error)
	Connect(context.Context, *ConnectRequest) (*ConnectResponse, error)
	Disconnect(context.Context, *Empty) (*Empty, error)
	Send(context.Context, *SendRequest) (*SendResponse, error)
	SendFile(context.Context, *SendFileRequest) (*SendResponse, error)
	SetTyping(context.Context, *TypingRequest) (*Empty, error)
	Retract(context.Context, *RetractRequest) (*Empty, error)
	Edit(context.Context, *EditRequest) (*ChangedResponse, error)
	Delete(context.Context, *DeleteRequest) (*ChangedResponse, error)
	ClearConversation(context.Context, *ContactRequest) (*CountResponse, error)
	History(context.Context, *HistoryRequest) (*MessagesResponse, error)
	Search(context.Context, *SearchRequest) (*MessagesResponse, error)
	Conversations(context.Context, *Empty) (*ConversationsResponse, error)
	MarkRead(context.Context, *ContactRequest) (*CountResponse, error)
	SetActive(context.Context, *ContactRequest) (*Empty, error)
	SetNotifications(context.Context, *NotificationsRequest) (*Empty, error)
	RelocateStorage(context.Context, *RelocateRequest) (*RelocateResponse, error)
	StorageLocations(context.Context, *Empty) (*StorageLocationsResponse, error)
	GatewayCommands(context.Context, *Empty) (*GatewayCommandsResponse, error)
	GatewayPair(context.Context, *Empty) (*GatewayPairResponse, error)
	GatewayRegister(context.Context, *Empty) (*GatewayRegisterResponse, error)
	GatewayLogin(context.Context, *Empty) (*Empty, error)
	GatewayLogout(context.Context, *Empty) (*Empty, error)
	Watch(*WatchRequest, WatchStream) error
}

// WatchStream is the server side of the Watch stream.
type WatchStream interface {
	Send(*Event) error
	Context() context.Context
}

type watchStream struct {
	grpc.ServerStream
}

func (s *watchStream) Send(e *Event) error {
	return s.ServerStream.SendMsg(e)
}

// Register adds the control service to srv.
func Register(srv *grpc.Server, c Control) {
	srv.RegisterService(&serviceDesc, c)
}

var serviceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*Control)(nil),
	Methods: []grpc.MethodDesc{
		unary("Status", Control.Status),
		unary("Connect", Control.Connect),
		unary("Disconnect", Control.Disconnect),
		unary("Send", Control.Send),
		unary("SendFile", Control.SendFile),
		unary("SetTyping", Control.SetTyping),
		unary("Retract", Control.Retract),
		unary("Edit", Control.Edit),
		unary("Delete", Control.Delete),
		unary("ClearConversation", Control.ClearConversation),
		unary("History", Control.History),
		unary("Search", Control.Search),
		unary("Conversations", Control.Conversations),
		unary("MarkRead", Control.MarkRead),
		unary("SetActive", Control.SetActive),
		unary("SetNotifications", Control.SetNotifications),
		unary("RelocateStorage", Control.RelocateStorage),
		unary("StorageLocations", Control.StorageLocations),
		unary("GatewayCommands", Control.GatewayCommands),
		unary("GatewayPair", Control.GatewayPair),
		unary("GatewayRegister", Control.GatewayRegister),
		unary("GatewayLogin", Control.GatewayLogin),
		unary("GatewayLogout", Control.GatewayLogout),
	},
	Streams: []grpc.StreamDesc{
		{
			StreamName:    "Watch",
			Handler:       watchHandler,
			ServerStreams: true,
		},
	},
}

func method(name string) string {
	return "/" + ServiceName + "/" + name
}

func unary[Req, Resp any](name string, call func(Control, context.Context, *Req) (*Resp, error)) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := new(Req)
			if err := dec(in); err != nil {
				return nil, err
			}
			c := srv.(Control)
			if interceptor == nil {
				return call(c, ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: method(name)}
			return interceptor(ctx, in, info, func(ctx context.Context, req any) (any, error) {
				return call(c, ctx, req.(*Req))
			})
		},
	}
}

func watchHandler(srv any, stream grpc.ServerStream) error {
	in := new(WatchRequest)
	if err := stream.RecvMsg(in); err != nil {
		return err
	}
	return srv.(Control).Watch(in, &watchStream{stream})
}

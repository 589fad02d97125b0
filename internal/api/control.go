package api

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/matheus3301/berry/internal/bus"
	"github.com/matheus3301/berry/internal/config"
	"github.com/matheus3301/berry/internal/conversation"
	"github.com/matheus3301/berry/internal/gateway"
	"github.com/matheus3301/berry/internal/ingest"
	"github.com/matheus3301/berry/internal/jid"
	"github.com/matheus3301/berry/internal/notify"
	"github.com/matheus3301/berry/internal/outbox"
	"github.com/matheus3301/berry/internal/session"
	"github.com/matheus3301/berry/internal/status"
	"github.com/matheus3301/berry/internal/store"
	"go.uber.org/zap"
	"google.golang.org/grpc/codes"
	grpcstatus "google.golang.org/grpc/status"
)

// Deps are the components the control service drives.
type Deps struct {
	Session       *session.Manager
	Store         *store.DB
	Sender        *outbox.Sender
	Index         *conversation.Index
	Tracker       *notify.Tracker
	Notifications *notify.Switch
	Gateway       *gateway.Client
	Config        *config.File
	Resolver      store.Resolver
	Bus           *bus.Bus
	Logger        *zap.Logger
}

// EditedEvent is the payload of message.edited events.
type EditedEvent struct {
	ID   int64
	Body string
}

// DeletedEvent is the payload of message.deleted events. Contact is set
// when a whole conversation was cleared.
type DeletedEvent struct {
	ID      int64
	Contact string
	Count   int64
}

// Service implements Control.
type Service struct {
	d         Deps
	startedAt time.Time
}

var _ Control = (*Service)(nil)

// NewService creates the control service.
func NewService(d Deps) *Service {
	return &Service{d: d, startedAt: time.Now()}
}

func (s *Service) Status(ctx context.Context, _ *StatusRequest) (*StatusResponse, error) {
	resp := &StatusResponse{
		State:                string(s.d.Session.State()),
		UptimeMs:             time.Since(s.startedAt).Milliseconds(),
		StoragePath:          s.d.Store.Path(),
		NotificationsEnabled: s.d.Notifications.Enabled(),
		ActiveContact:        s.d.Tracker.Active(),
	}
	if s.d.Session.Ready() {
		resp.JID = s.d.Session.JID()
	}
	if st, err := s.d.Store.Stats(ctx); err == nil {
		resp.Messages, resp.Contacts, resp.Unread = st.Messages, st.Contacts, st.Unread
	} else {
		s.d.Logger.Warn("stats unavailable", zap.Error(err))
	}
	if desc, err := s.d.Config.LoadStorage(); err == nil {
		resp.StorageLocation = string(desc.Location)
	}
	return resp, nil
}

func (s *Service) Connect(ctx context.Context, req *ConnectRequest) (*ConnectResponse, error) {
	cfg, err := s.d.Config.Load()
	if err != nil {
		return nil, grpcstatus.Errorf(codes.FailedPrecondition, "load config: %v", err)
	}
	srv, acct := cfg.Server, cfg.Account
	if req.Host != "" {
		srv.Host = req.Host
	}
	if req.Port != 0 {
		srv.Port = req.Port
	}
	if req.Domain != "" {
		srv.Domain = req.Domain
	}
	if req.User != "" {
		acct.User = req.User
	}
	if req.Password != "" {
		acct.Password = req.Password
	}
	if srv.Host == "" || srv.Domain == "" || acct.User == "" || acct.Password == "" {
		return nil, grpcstatus.Error(codes.InvalidArgument, "connect: host, domain, user and password are required")
	}

	switch s.d.Session.State() {
	case status.Authenticated:
		return &ConnectResponse{State: string(status.Authenticated), JID: s.d.Session.JID()}, nil
	case status.Disconnected, status.Closed:
		if err := s.d.Session.Connect(ctx, srv.Host, srv.Port, srv.Domain); err != nil {
			return nil, toStatus("connect", err)
		}
	}

	if req.Register {
		err = s.d.Session.Register(ctx, acct.User, acct.Password)
	} else {
		err = s.d.Session.Login(ctx, acct.User, acct.Password)
	}
	if err != nil {
		return nil, toStatus("authenticate", err)
	}

	if req.Save {
		if err := s.d.Config.Update(func(c *config.Config) error {
			c.Server.Host, c.Server.Port, c.Server.Domain = srv.Host, srv.Port, srv.Domain
			c.Account = acct
			return nil
		}); err != nil {
			s.d.Logger.Warn("failed to save credentials", zap.Error(err))
		}
	}
	return &ConnectResponse{State: string(s.d.Session.State()), JID: s.d.Session.JID()}, nil
}

func (s *Service) Disconnect(_ context.Context, _ *Empty) (*Empty, error) {
	if err := s.d.Session.Disconnect(); err != nil {
		return nil, toStatus("disconnect", err)
	}
	return &Empty{}, nil
}

func (s *Service) Send(ctx context.Context, req *SendRequest) (*SendResponse, error) {
	m, err := s.d.Sender.SendMessage(ctx, req.Contact, req.Text)
	if err != nil {
		return nil, toStatus("send", err)
	}
	return &SendResponse{Message: messageToWire(m)}, nil
}

func (s *Service) SendFile(ctx context.Context, req *SendFileRequest) (*SendResponse, error) {
	m, err := s.d.Sender.SendFile(ctx, req.Contact, req.Path)
	if err != nil {
		return nil, toStatus("send file", err)
	}
	return &SendResponse{Message: messageToWire(m)}, nil
}

func (s *Service) SetTyping(ctx context.Context, req *TypingRequest) (*Empty, error) {
	if err := s.d.Session.SendTyping(ctx, req.Contact, req.Composing); err != nil {
		return nil, toStatus("typing", err)
	}
	return &Empty{}, nil
}

func (s *Service) Retract(ctx context.Context, req *RetractRequest) (*Empty, error) {
	if err := s.d.Sender.Retract(ctx, req.Contact, req.ProtocolID); err != nil {
		return nil, toStatus("retract", err)
	}
	if !req.DeleteLocal {
		return &Empty{}, nil
	}
	m, err := s.d.Store.DeleteByProtocolID(ctx, req.ProtocolID)
	if errors.Is(err, store.ErrNotFound) {
		return &Empty{}, nil
	}
	if err != nil {
		return nil, toStatus("retract", err)
	}
	s.d.Bus.Publish(bus.NewEvent(bus.KindMessageRetracted, ingest.RetractedEvent{
		Contact:    m.ContactID,
		Sender:     jid.Normalize(s.d.Session.JID()),
		ProtocolID: req.ProtocolID,
	}))
	return &Empty{}, nil
}

func (s *Service) Edit(ctx context.Context, req *EditRequest) (*ChangedResponse, error) {
	ok, err := s.d.Store.Update(ctx, req.ID, req.Body)
	if err != nil {
		return nil, toStatus("edit", err)
	}
	if ok {
		s.d.Bus.Publish(bus.NewEvent(bus.KindMessageEdited, EditedEvent{ID: req.ID, Body: req.Body}))
	}
	return &ChangedResponse{Changed: ok}, nil
}

func (s *Service) Delete(ctx context.Context, req *DeleteRequest) (*ChangedResponse, error) {
	ok, err := s.d.Store.Delete(ctx, req.ID)
	if err != nil {
		return nil, toStatus("delete", err)
	}
	if ok {
		s.d.Bus.Publish(bus.NewEvent(bus.KindMessageDeleted, DeletedEvent{ID: req.ID, Count: 1}))
	}
	return &ChangedResponse{Changed: ok}, nil
}

func (s *Service) ClearConversation(ctx context.Context, req *ContactRequest) (*CountResponse, error) {
	contact := jid.Normalize(req.Contact)
	if contact == "" {
		return nil, grpcstatus.Error(codes.InvalidArgument, "clear: contact is required")
	}
	n, err := s.d.Store.DeleteAll(ctx, contact)
	if err != nil {
		return nil, toStatus("clear", err)
	}
	if n > 0 {
		s.d.Bus.Publish(bus.NewEvent(bus.KindMessageDeleted, DeletedEvent{Contact: contact, Count: n}))
	}
	return &CountResponse{Count: n}, nil
}

func (s *Service) History(ctx context.Context, req *HistoryRequest) (*MessagesResponse, error) {
	msgs, err := s.d.Store.ListByContact(ctx, req.Contact, req.Limit)
	if err != nil {
		return nil, toStatus("history", err)
	}
	return &MessagesResponse{Messages: messagesToWire(msgs)}, nil
}

func (s *Service) Search(ctx context.Context, req *SearchRequest) (*MessagesResponse, error) {
	msgs, err := s.d.Store.Search(ctx, req.Query, req.Contact, req.Limit)
	if err != nil {
		return nil, toStatus("search", err)
	}
	return &MessagesResponse{Messages: messagesToWire(msgs)}, nil
}

func (s *Service) Conversations(ctx context.Context, _ *Empty) (*ConversationsResponse, error) {
	sums, err := s.d.Index.Sorted(ctx)
	if err != nil {
		return nil, toStatus("conversations", err)
	}
	out := make([]Conversation, 0, len(sums))
	for i := range sums {
		out = append(out, Conversation{
			Contact: sums[i].ContactID,
			Name:    jid.Local(sums[i].ContactID),
			Last:    messageToWire(&sums[i].Last),
			Unread:  sums[i].Unread,
		})
	}
	return &ConversationsResponse{Conversations: out}, nil
}

func (s *Service) MarkRead(ctx context.Context, req *ContactRequest) (*CountResponse, error) {
	n, err := s.d.Index.MarkAllRead(ctx, req.Contact)
	if err != nil {
		return nil, toStatus("mark read", err)
	}
	return &CountResponse{Count: n}, nil
}

// SetActive records the conversation the user has open and marks it read.
// An empty contact clears it.
func (s *Service) SetActive(ctx context.Context, req *ContactRequest) (*Empty, error) {
	s.d.Tracker.SetActive(req.Contact)
	if jid.Normalize(req.Contact) == "" {
		return &Empty{}, nil
	}
	if _, err := s.d.Index.MarkAllRead(ctx, req.Contact); err != nil {
		return nil, toStatus("set active", err)
	}
	return &Empty{}, nil
}

func (s *Service) SetNotifications(_ context.Context, req *NotificationsRequest) (*Empty, error) {
	s.d.Notifications.SetEnabled(req.Enabled)
	if err := s.d.Config.Update(func(c *config.Config) error {
		c.Notifications.Enabled = req.Enabled
		return nil
	}); err != nil {
		return nil, toStatus("notifications", err)
	}
	return &Empty{}, nil
}

func (s *Service) RelocateStorage(ctx context.Context, req *RelocateRequest) (*RelocateResponse, error) {
	desc, err := config.Descriptor(config.Storage{Location: req.Location, CustomPath: req.CustomPath})
	if err != nil {
		return nil, grpcstatus.Errorf(codes.InvalidArgument, "relocate: %v", err)
	}
	res, err := s.d.Store.Relocate(ctx, s.d.Config, s.d.Resolver, desc)
	if err != nil {
		return nil, toStatus("relocate", err)
	}
	s.d.Logger.Info("storage relocated",
		zap.String("from", res.OldPath), zap.String("to", res.NewPath), zap.Bool("copied", res.Copied))
	s.d.Bus.Publish(bus.NewEvent(bus.KindStorageRelocated, *res))
	return &RelocateResponse{OldPath: res.OldPath, NewPath: res.NewPath, Copied: res.Copied}, nil
}

func (s *Service) StorageLocations(_ context.Context, _ *Empty) (*StorageLocationsResponse, error) {
	current, err := s.d.Config.LoadStorage()
	if err != nil {
		return nil, toStatus("storage locations", err)
	}
	out := make([]StorageLocation, 0, len(store.Locations))
	for _, l := range store.Locations {
		d := store.Descriptor{Location: l}
		if l == store.Custom {
			d.CustomPath = current.CustomPath
		}
		out = append(out, StorageLocation{
			Name:    string(l),
			Path:    s.d.Resolver.Path(d),
			Current: l == current.Location,
		})
	}
	return &StorageLocationsResponse{Locations: out}, nil
}

func (s *Service) GatewayCommands(ctx context.Context, _ *Empty) (*GatewayCommandsResponse, error) {
	cmds, err := s.d.Gateway.Commands(ctx)
	if err != nil {
		return nil, toStatus("gateway commands", err)
	}
	resp := &GatewayCommandsResponse{Gateway: s.d.Gateway.JID(), Commands: make([]GatewayCommand, 0, len(cmds))}
	for _, c := range cmds {
		resp.Commands = append(resp.Commands, GatewayCommand{Node: c.Node, Name: c.Name})
	}
	return resp, nil
}

func (s *Service) GatewayPair(ctx context.Context, _ *Empty) (*GatewayPairResponse, error) {
	qr, err := s.d.Gateway.PairQR(ctx)
	if err != nil {
		return nil, toStatus("gateway pair", err)
	}
	return &GatewayPairResponse{QR: qr}, nil
}

func (s *Service) GatewayRegister(ctx context.Context, _ *Empty) (*GatewayRegisterResponse, error) {
	res, err := s.d.Gateway.Register(ctx)
	if err != nil {
		return nil, toStatus("gateway register", err)
	}
	return &GatewayRegisterResponse{Status: res.Status, Note: res.Note}, nil
}

func (s *Service) GatewayLogin(ctx context.Context, _ *Empty) (*Empty, error) {
	if err := s.d.Gateway.Login(ctx); err != nil {
		return nil, toStatus("gateway login", err)
	}
	return &Empty{}, nil
}

func (s *Service) GatewayLogout(ctx context.Context, _ *Empty) (*Empty, error) {
	if err := s.d.Gateway.Logout(ctx); err != nil {
		return nil, toStatus("gateway logout", err)
	}
	return &Empty{}, nil
}

func (s *Service) Watch(req *WatchRequest, stream WatchStream) error {
	ch, unsub := s.d.Bus.Subscribe(req.Prefix, 256)
	defer unsub()

	for {
		select {
		case evt := <-ch:
			payload, err := encodePayload(evt.Payload)
			if err != nil {
				s.d.Logger.Warn("unencodable event payload", zap.String("kind", evt.Kind), zap.Error(err))
			}
			if err := stream.Send(&Event{
				ID:           uuid.New().String(),
				Kind:         evt.Kind,
				OccurredAtMs: evt.Timestamp.UnixMilli(),
				Payload:      payload,
			}); err != nil {
				return err
			}
		case <-stream.Context().Done():
			return nil
		}
	}
}

type messagePayload struct {
	Message Message `json:"message"`
	Sent    bool    `json:"sent"`
}

type configPayload struct {
	NotificationsEnabled bool `json:"notifications_enabled"`
}

// encodePayload renders bus payloads for clients. Config payloads are
// reduced so credentials never leave the daemon.
func encodePayload(p any) (json.RawMessage, error) {
	switch v := p.(type) {
	case nil:
		return nil, nil
	case ingest.MessageEvent:
		p = messagePayload{Message: messageToWire(&v.Message), Sent: v.Sent}
	case *config.Config:
		p = configPayload{NotificationsEnabled: v.Notifications.Enabled}
	case error:
		p = map[string]string{"error": v.Error()}
	}
	return json.Marshal(p)
}

package api

import (
	"context"
	"errors"

	"github.com/matheus3301/berry/internal/gateway"
	"github.com/matheus3301/berry/internal/outbox"
	"github.com/matheus3301/berry/internal/session"
	"github.com/matheus3301/berry/internal/store"
	"github.com/matheus3301/berry/internal/upload"
	"google.golang.org/grpc/codes"
	grpcstatus "google.golang.org/grpc/status"
)

// toStatus maps domain errors to gRPC status codes.
func toStatus(op string, err error) error {
	if err == nil {
		return nil
	}
	if _, ok := grpcstatus.FromError(err); ok {
		return err
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return grpcstatus.FromContextError(err).Err()
	}

	var (
		terr *session.TransportError
		serr *store.Error
	)
	code := codes.Internal
	switch {
	case errors.Is(err, session.ErrNotReady), errors.Is(err, gateway.ErrNotReady), errors.Is(err, outbox.ErrNoUploader):
		code = codes.FailedPrecondition
	case errors.Is(err, store.ErrNotFound), errors.Is(err, gateway.ErrCommandNotFound), errors.Is(err, gateway.ErrNoQR):
		code = codes.NotFound
	case errors.Is(err, store.ErrEmptyBody), errors.Is(err, store.ErrEmptyContact),
		errors.Is(err, outbox.ErrEmptyBody), errors.Is(err, outbox.ErrEmptyContact),
		errors.Is(err, upload.ErrTooLarge), errors.Is(err, session.ErrInvalidUsername):
		code = codes.InvalidArgument
	case errors.As(err, &terr):
		code = codes.Unavailable
	case errors.As(err, &serr):
		code = codes.Internal
	}
	return grpcstatus.Errorf(code, "%s: %v", op, err)
}

package api

import (
	"context"

	"github.com/matheus3301/berry/internal/bus"
	"github.com/matheus3301/berry/internal/status"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// TrackHealth keeps hs in step with the session: SERVING while
// AUTHENTICATED, NOT_SERVING otherwise. It returns when ctx ends.
func TrackHealth(ctx context.Context, b *bus.Bus, hs *health.Server, current func() status.State) {
	ch, unsub := b.Subscribe(bus.KindStatusChanged, 16)
	defer unsub()

	setHealth(hs, current())
	for {
		select {
		case evt := <-ch:
			if sc, ok := evt.Payload.(status.StatusChange); ok {
				setHealth(hs, sc.To)
			}
		case <-ctx.Done():
			return
		}
	}
}

func setHealth(hs *health.Server, s status.State) {
	st := healthpb.HealthCheckResponse_NOT_SERVING
	if s == status.Authenticated {
		st = healthpb.HealthCheckResponse_SERVING
	}
	hs.SetServingStatus(ServiceName, st)
	hs.SetServingStatus("", st)
}

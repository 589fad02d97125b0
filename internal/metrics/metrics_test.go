package metrics

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/matheus3301/berry/internal/bus"
	"github.com/matheus3301/berry/internal/status"
)

func scrape(t *testing.T, m *Metrics) string {
	t.Helper()
	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	if rec.Code != 200 {
		t.Fatalf("scrape status = %d", rec.Code)
	}
	return rec.Body.String()
}

func assertContains(t *testing.T, body string, lines ...string) {
	t.Helper()
	for _, want := range lines {
		if !strings.Contains(body, want+"\n") {
			t.Errorf("metrics output missing %q", want)
		}
	}
}

func TestObserverCounters(t *testing.T) {
	m := New(nil)
	m.Ingested("message")
	m.Ingested("message")
	m.Ingested("typing")
	m.Duplicate()
	m.Failed("decode")

	assertContains(t, scrape(t, m),
		`berry_ingested_total{kind="message"} 2`,
		`berry_ingested_total{kind="typing"} 1`,
		`berry_dedup_dropped_total 1`,
		`berry_ingest_failures_total{kind="decode"} 1`,
		`berry_session_state{state="DISCONNECTED"} 1`,
	)
}

func TestFollowsSessionEvents(t *testing.T) {
	b := bus.New()
	m := New(b.Dropped)
	m.Start(context.Background(), b)
	defer m.Stop()

	machine := status.NewMachine(b)
	if err := machine.Transition(status.Connecting); err != nil {
		t.Fatal(err)
	}
	b.Publish(bus.NewEvent(bus.KindReconnecting, nil))

	want := []string{
		`berry_session_state{state="CONNECTING"} 1`,
		`berry_session_state{state="DISCONNECTED"} 0`,
		`berry_reconnect_attempts_total 1`,
	}
	deadline := time.Now().Add(2 * time.Second)
	for {
		body := scrape(t, m)
		ok := true
		for _, w := range want {
			if !strings.Contains(body, w+"\n") {
				ok = false
			}
		}
		if ok {
			break
		}
		if time.Now().After(deadline) {
			assertContains(t, body, want...)
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestBusDropped(t *testing.T) {
	m := New(func() uint64 { return 7 })
	assertContains(t, scrape(t, m), `berry_bus_dropped_total 7`)
}

func TestServer(t *testing.T) {
	m := New(nil)
	s := NewServer("127.0.0.1:0", m, nil)
	if s.srv.Handler == nil {
		t.Fatal("server has no handler")
	}
	rec := httptest.NewRecorder()
	s.srv.Handler.ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	if rec.Code != 200 || !strings.Contains(rec.Body.String(), "berry_session_state") {
		t.Errorf("status = %d", rec.Code)
	}
}

package engine

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/meshprotocol/agent/pkg/coordinator"
	"github.com/meshprotocol/agent/pkg/httpapi"
	"github.com/meshprotocol/agent/pkg/rank"
	"github.com/meshprotocol/agent/pkg/reputation"
	"github.com/meshprotocol/agent/pkg/store/memstore"
	"github.com/meshprotocol/agent/pkg/transport"
)

type nopSender struct{}

func (nopSender) Send(ctx context.Context, channelID, text string) error { return nil }

type fakeSource struct {
	ch chan transport.Event
}

func (f *fakeSource) Events() <-chan transport.Event { return f.ch }

func TestEngineStartAutoRegistersAndStop(t *testing.T) {
	st := memstore.New()
	rep := reputation.New(reputation.Options{Mode: "local", AllowLocalReputationFallback: true})
	coord := coordinator.New(coordinator.Config{OwnAddress: "alice", MeshGroupID: "g", Weights: rank.DefaultWeights(), TieWindow: rank.DefaultTieWindow},
		st, rep, nopSender{})
	facade := transport.New(nopSender{}, nil, transport.Config{})

	e := New(Config{AutoRegisterOnStart: true, Register: RegisterArgs{Skills: []string{"translate"}, Stake: "5"}},
		Handle{Store: st, Coordinator: coord, Transport: facade}, nil)

	ctx := context.Background()
	if err := e.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if _, err := st.GetPeer(ctx, "alice"); err != nil {
		t.Fatalf("expected self-peer after auto-register, got %v", err)
	}
	if err := e.Stop(ctx); err != nil {
		t.Fatalf("Stop: %v", err)
	}
}

func TestEnginePumpsInboundEvents(t *testing.T) {
	st := memstore.New()
	rep := reputation.New(reputation.Options{Mode: "local", AllowLocalReputationFallback: true})
	coord := coordinator.New(coordinator.Config{OwnAddress: "alice", MeshGroupID: "g", Weights: rank.DefaultWeights(), TieWindow: rank.DefaultTieWindow},
		st, rep, nopSender{})
	src := &fakeSource{ch: make(chan transport.Event, 1)}
	facade := transport.New(nopSender{}, src, transport.Config{})

	e := New(Config{}, Handle{Store: st, Coordinator: coord, Transport: facade}, nil)
	ctx := context.Background()
	if err := e.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer e.Stop(ctx)

	src.ch <- transport.Event{ChatID: "c1", MessageID: "m1", Text: `MESH: {"v":"1.0","type":"beacon","from":"bob","skills":["translate"]}`}
	time.Sleep(50 * time.Millisecond)

	if _, err := st.GetPeer(ctx, "bob"); err == nil {
		t.Fatalf("expected unstaked beacon sender to be ignored, but a peer row was created")
	}
}

func TestEngineSchedulerRecordsTickMetric(t *testing.T) {
	st := memstore.New()
	rep := reputation.New(reputation.Options{Mode: "local", AllowLocalReputationFallback: true})
	coord := coordinator.New(coordinator.Config{OwnAddress: "alice", MeshGroupID: "g", Weights: rank.DefaultWeights(), TieWindow: rank.DefaultTieWindow},
		st, rep, nopSender{})
	facade := transport.New(nopSender{}, nil, transport.Config{})
	metrics := httpapi.NewMetrics()

	e := New(Config{EnableScheduler: true, SchedulerIntervalMs: 250},
		Handle{Store: st, Coordinator: coord, Transport: facade, Metrics: metrics}, nil)

	ctx := context.Background()
	if err := e.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer e.Stop(ctx)

	time.Sleep(350 * time.Millisecond)

	srv := httpapi.NewServer(metrics)
	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)
	if !strings.Contains(w.Body.String(), "mesh_scheduler_tick_duration_seconds_count") {
		t.Fatalf("expected at least one recorded tick in metrics output, got:\n%s", w.Body.String())
	}
}

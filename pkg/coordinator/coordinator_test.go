package coordinator

import (
	"context"
	"strings"
	"sync"
	"testing"

	"github.com/meshprotocol/agent/pkg/meshtypes"
	"github.com/meshprotocol/agent/pkg/rank"
	"github.com/meshprotocol/agent/pkg/reputation"
	"github.com/meshprotocol/agent/pkg/store"
	"github.com/meshprotocol/agent/pkg/store/memstore"
)

type fakeSender struct {
	mu  sync.Mutex
	out []string
}

func (f *fakeSender) Send(ctx context.Context, channelID, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.out = append(f.out, text)
	return nil
}

func (f *fakeSender) last() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.out) == 0 {
		return ""
	}
	return f.out[len(f.out)-1]
}

func newTestCoordinator(t *testing.T, own string, clock int64) (*Coordinator, store.Store, *reputation.Client, *fakeSender) {
	t.Helper()
	st := memstore.New()
	rep := reputation.New(reputation.Options{Mode: "local", AllowLocalReputationFallback: true})
	sender := &fakeSender{}
	cfg := Config{OwnAddress: own, MeshGroupID: "group1", MinFee: "1", WaitForDeadline: true,
		Weights: rank.DefaultWeights(), TieWindow: rank.DefaultTieWindow}
	now := clock
	c := New(cfg, st, rep, sender, WithClock(func() int64 { return now }), WithSkills("translate"))
	return c, st, rep, sender
}

func TestRegisterUpsertsPeerAndBroadcastsBeacon(t *testing.T) {
	c, st, _, sender := newTestCoordinator(t, "alice", 1000)
	ctx := context.Background()
	if err := c.Register(ctx, []string{"translate"}, "1.0", "10", "5s", ""); err != nil {
		t.Fatalf("Register: %v", err)
	}
	p, err := st.GetPeer(ctx, "alice")
	if err != nil {
		t.Fatalf("GetPeer: %v", err)
	}
	if p.Stake != "10" {
		t.Fatalf("expected stake 10, got %s", p.Stake)
	}
	if !strings.Contains(sender.last(), `"type":"beacon"`) {
		t.Fatalf("expected beacon broadcast, got %q", sender.last())
	}
}

func TestBroadcastRejectsPastDeadline(t *testing.T) {
	c, _, _, _ := newTestCoordinator(t, "alice", 1000)
	ctx := context.Background()
	_, err := c.Broadcast(ctx, "translate", nil, "5", 500, 0)
	if !meshtypes.IsCategory(err, meshtypes.CategoryValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestOfferRequiresMatchingSkill(t *testing.T) {
	c, st, _, _ := newTestCoordinator(t, "bob", 1000)
	ctx := context.Background()
	in := &meshtypes.Intent{ID: "i1", FromAddress: "alice", Skill: "cook", Budget: "10", Deadline: 2000, Status: meshtypes.IntentPending}
	if err := st.SaveIntent(ctx, in); err != nil {
		t.Fatalf("SaveIntent: %v", err)
	}
	_, err := c.Offer(ctx, "i1", "5", "5s", "")
	if !meshtypes.IsCategory(err, meshtypes.CategoryPrecondition) {
		t.Fatalf("expected precondition error, got %v", err)
	}
}

func TestFullLifecycleRegisterBroadcastOfferSelectSettle(t *testing.T) {
	ctx := context.Background()
	clockVal := int64(1000)
	clock := func() int64 { return clockVal }

	st := memstore.New()
	rep := reputation.New(reputation.Options{Mode: "local", AllowLocalReputationFallback: true})
	senderA, senderB := &fakeSender{}, &fakeSender{}
	cfgA := Config{OwnAddress: "alice", MeshGroupID: "g", WaitForDeadline: false, Weights: rank.DefaultWeights(), TieWindow: rank.DefaultTieWindow}
	cfgB := Config{OwnAddress: "bob", MeshGroupID: "g", MinFee: "1", WaitForDeadline: false, Weights: rank.DefaultWeights(), TieWindow: rank.DefaultTieWindow}
	alice := New(cfgA, st, rep, senderA, WithClock(clock))
	bob := New(cfgB, st, rep, senderB, WithClock(clock), WithSkills("translate"))

	if err := bob.Register(ctx, []string{"translate"}, "1", "100", "5s", ""); err != nil {
		t.Fatalf("bob.Register: %v", err)
	}

	in, err := alice.Broadcast(ctx, "translate", map[string]any{"doc": "x"}, "10", 2000, 0)
	if err != nil {
		t.Fatalf("Broadcast: %v", err)
	}

	if _, err := bob.Offer(ctx, in.ID, "5", "5s", "bobEscrow"); err != nil {
		t.Fatalf("bob.Offer: %v", err)
	}

	got, err := alice.SelectWinner(ctx, in.ID)
	if err != nil {
		t.Fatalf("SelectWinner: %v", err)
	}
	if got == nil || got.FromAddress != "bob" {
		t.Fatalf("expected bob to win, got %+v", got)
	}

	updated, err := st.GetIntent(ctx, in.ID)
	if err != nil {
		t.Fatalf("GetIntent: %v", err)
	}
	if updated.Status != meshtypes.IntentAccepted || updated.SelectedExecutor != "bob" {
		t.Fatalf("expected accepted/bob, got %+v", updated)
	}

	rep.Local().RecordTx(reputation.Tx{Hash: "0xabc", Sender: "alice", Recipient: "bob", Amount: 5, Timestamp: clockVal})
	clockVal += 10
	if err := alice.Settle(ctx, in.ID, "0xabc", meshtypes.OutcomeSuccess, 9); err != nil {
		t.Fatalf("Settle: %v", err)
	}

	deal, err := st.GetDeal(ctx, in.ID)
	if err != nil {
		t.Fatalf("GetDeal: %v", err)
	}
	if deal.Outcome != meshtypes.OutcomeSuccess || deal.Rating != 9 {
		t.Fatalf("unexpected deal: %+v", deal)
	}
	final, err := st.GetIntent(ctx, in.ID)
	if err != nil {
		t.Fatalf("GetIntent: %v", err)
	}
	if final.Status != meshtypes.IntentSettled {
		t.Fatalf("expected settled, got %s", final.Status)
	}
}

func TestIngestDropsDuplicateMessage(t *testing.T) {
	c, _, _, _ := newTestCoordinator(t, "alice", 1000)
	ctx := context.Background()
	text := `MESH: {"v":"1.0","type":"beacon","from":"bob","skills":["translate"]}`
	if err := c.Ingest(ctx, "chat1", "msg1", text); err != nil {
		t.Fatalf("first Ingest: %v", err)
	}
	if err := c.Ingest(ctx, "chat1", "msg1", text); err != nil {
		t.Fatalf("duplicate Ingest: %v", err)
	}
}

func TestIngestDropsUnparsableMessage(t *testing.T) {
	c, _, _, _ := newTestCoordinator(t, "alice", 1000)
	ctx := context.Background()
	if err := c.Ingest(ctx, "chat1", "msg1", "not a mesh message"); err != nil {
		t.Fatalf("expected nil (silent drop), got %v", err)
	}
}

type fakeAuditMirror struct {
	mu      sync.Mutex
	peers   int
	intents []string
	deals   int
}

func (f *fakeAuditMirror) OnPeerUpserted(ctx context.Context, p *meshtypes.Peer) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.peers++
}

func (f *fakeAuditMirror) OnIntentChanged(ctx context.Context, in *meshtypes.Intent, phase, action string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.intents = append(f.intents, phase)
}

func (f *fakeAuditMirror) OnDealSettled(ctx context.Context, d *meshtypes.Deal) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deals++
}

func TestAuditMirrorReceivesLifecycleEvents(t *testing.T) {
	ctx := context.Background()
	clockVal := int64(1000)
	clock := func() int64 { return clockVal }

	st := memstore.New()
	rep := reputation.New(reputation.Options{Mode: "local", AllowLocalReputationFallback: true})
	sender := &fakeSender{}
	mirror := &fakeAuditMirror{}
	cfg := Config{OwnAddress: "alice", MeshGroupID: "g", WaitForDeadline: false, Weights: rank.DefaultWeights(), TieWindow: rank.DefaultTieWindow}
	c := New(cfg, st, rep, sender, WithClock(clock), WithSkills("translate"), WithAudit(mirror))

	if err := c.Register(ctx, []string{"translate"}, "1", "10", "5s", ""); err != nil {
		t.Fatalf("Register: %v", err)
	}
	mirror.mu.Lock()
	if mirror.peers != 1 {
		t.Fatalf("expected 1 peer mirror call, got %d", mirror.peers)
	}
	mirror.mu.Unlock()

	in, err := c.Broadcast(ctx, "translate", nil, "10", 2000, 0)
	if err != nil {
		t.Fatalf("Broadcast: %v", err)
	}
	mirror.mu.Lock()
	if len(mirror.intents) != 1 || mirror.intents[0] != "created" {
		t.Fatalf("expected one 'created' intent mirror call, got %v", mirror.intents)
	}
	mirror.mu.Unlock()

	if _, err := c.Offer(ctx, in.ID, "5", "5s", "escrow"); err != nil {
		t.Fatalf("Offer: %v", err)
	}
	if _, err := c.SelectWinner(ctx, in.ID); err != nil {
		t.Fatalf("SelectWinner: %v", err)
	}
	mirror.mu.Lock()
	if len(mirror.intents) != 2 || mirror.intents[1] != "accepted" {
		t.Fatalf("expected an 'accepted' intent mirror call, got %v", mirror.intents)
	}
	mirror.mu.Unlock()

	rep.Local().RecordTx(reputation.Tx{Hash: "0xabc", Sender: "alice", Recipient: "alice", Amount: 5, Timestamp: clockVal})
	clockVal += 10
	if err := c.Settle(ctx, in.ID, "0xabc", meshtypes.OutcomeSuccess, 9); err != nil {
		t.Fatalf("Settle: %v", err)
	}
	mirror.mu.Lock()
	defer mirror.mu.Unlock()
	if mirror.deals != 1 {
		t.Fatalf("expected 1 deal mirror call, got %d", mirror.deals)
	}
	if len(mirror.intents) != 3 || mirror.intents[2] != "settled" {
		t.Fatalf("expected a 'settled' intent mirror call, got %v", mirror.intents)
	}
}

func TestHandleBeaconIgnoresUnstakedPeer(t *testing.T) {
	c, st, _, _ := newTestCoordinator(t, "alice", 1000)
	ctx := context.Background()
	text := `MESH: {"v":"1.0","type":"beacon","from":"ghost","skills":["translate"]}`
	if err := c.Ingest(ctx, "chat1", "msg2", text); err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	if _, err := st.GetPeer(ctx, "ghost"); err != meshtypes.ErrPeerNotFound {
		t.Fatalf("expected ErrPeerNotFound for unstaked beacon sender, got %v", err)
	}
}

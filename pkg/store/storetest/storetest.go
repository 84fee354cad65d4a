// Package storetest is the Store conformance suite: the behavioral
// contract from spec.md section 4.B. The memstore and kvstore tests run
// it; sqlstore and reststore are not run against it.
package storetest

import (
	"context"
	"sync"
	"testing"

	"github.com/meshprotocol/agent/pkg/meshtypes"
	"github.com/meshprotocol/agent/pkg/store"
)

// Run exercises every Store method against a freshly constructed, empty
// backend. newStore is called once per subtest so backends with
// persistent state (a real database) should point each subtest at its
// own schema/prefix if they intend to share a process-wide connection.
func Run(t *testing.T, newStore func(t *testing.T) store.Store) {
	t.Run("PeerRoundTrip", func(t *testing.T) { testPeerRoundTrip(t, newStore(t)) })
	t.Run("IntentRoundTrip", func(t *testing.T) { testIntentRoundTrip(t, newStore(t)) })
	t.Run("AcceptIntentOfferExactlyOneWinner", func(t *testing.T) { testAcceptExactlyOneWinner(t, newStore(t)) })
	t.Run("AcceptIntentOfferNotFound", func(t *testing.T) { testAcceptNotFound(t, newStore(t)) })
	t.Run("AcceptIntentOfferNotPending", func(t *testing.T) { testAcceptNotPending(t, newStore(t)) })
	t.Run("OfferOrdering", func(t *testing.T) { testOfferOrdering(t, newStore(t)) })
	t.Run("ExpireIntents", func(t *testing.T) { testExpireIntents(t, newStore(t)) })
	t.Run("MarkProcessedMessageDedup", func(t *testing.T) { testMarkProcessedMessageDedup(t, newStore(t)) })
	t.Run("DealRoundTrip", func(t *testing.T) { testDealRoundTrip(t, newStore(t)) })
}

func testPeerRoundTrip(t *testing.T, s store.Store) {
	ctx := context.Background()
	p := &meshtypes.Peer{Address: "A", Skills: []string{"x"}, LastSeen: 5, CreatedAt: 1, UpdatedAt: 1}
	if err := s.UpsertPeer(ctx, p); err != nil {
		t.Fatalf("UpsertPeer: %v", err)
	}
	got, err := s.GetPeer(ctx, "A")
	if err != nil {
		t.Fatalf("GetPeer: %v", err)
	}
	if got.Address != "A" || len(got.Skills) != 1 {
		t.Fatalf("GetPeer() = %+v, want matching round trip", got)
	}
	if _, err := s.GetPeer(ctx, "missing"); err == nil {
		t.Fatalf("expected error for missing peer")
	}
	list, err := s.ListPeers(ctx)
	if err != nil || len(list) != 1 {
		t.Fatalf("ListPeers() = %v, %v; want 1 peer", list, err)
	}
}

func testIntentRoundTrip(t *testing.T, s store.Store) {
	ctx := context.Background()
	in := &meshtypes.Intent{ID: "i1", Skill: "analytics", Budget: "1.0", Deadline: 100, Status: meshtypes.IntentPending, CreatedAt: 1}
	if err := s.SaveIntent(ctx, in); err != nil {
		t.Fatalf("SaveIntent: %v", err)
	}
	got, err := s.GetIntent(ctx, "i1")
	if err != nil || got.Skill != "analytics" {
		t.Fatalf("GetIntent() = %+v, %v", got, err)
	}
	executor := "ex"
	offerID := "off1"
	if err := s.UpdateIntentStatus(ctx, "i1", store.IntentUpdate{Status: meshtypes.IntentSettled, AcceptedOfferID: &offerID, SelectedExecutor: &executor}); err != nil {
		t.Fatalf("UpdateIntentStatus: %v", err)
	}
	got, _ = s.GetIntent(ctx, "i1")
	if got.Status != meshtypes.IntentSettled || got.AcceptedOfferID != offerID || got.SelectedExecutor != executor {
		t.Fatalf("GetIntent() after update = %+v", got)
	}
	if _, err := s.GetIntent(ctx, "missing"); err == nil {
		t.Fatalf("expected error for missing intent")
	}
}

func testAcceptExactlyOneWinner(t *testing.T, s store.Store) {
	ctx := context.Background()
	in := &meshtypes.Intent{ID: "i1", Status: meshtypes.IntentPending, CreatedAt: 1}
	if err := s.SaveIntent(ctx, in); err != nil {
		t.Fatalf("SaveIntent: %v", err)
	}

	const n = 20
	var wg sync.WaitGroup
	results := make([]store.AcceptResult, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			res, err := s.AcceptIntentOffer(ctx, "i1", "off", "executor", int64(i))
			if err != nil {
				t.Errorf("AcceptIntentOffer: %v", err)
				return
			}
			results[i] = res
		}(i)
	}
	wg.Wait()

	wins := 0
	for _, r := range results {
		if r.OK {
			wins++
		}
	}
	if wins != 1 {
		t.Fatalf("got %d concurrent winners, want exactly 1", wins)
	}
}

func testAcceptNotFound(t *testing.T, s store.Store) {
	res, err := s.AcceptIntentOffer(context.Background(), "missing", "off", "ex", 1)
	if err != nil {
		t.Fatalf("AcceptIntentOffer: %v", err)
	}
	if res.OK || res.Reason != "intent_not_found" {
		t.Fatalf("AcceptIntentOffer() = %+v, want intent_not_found", res)
	}
}

func testAcceptNotPending(t *testing.T, s store.Store) {
	ctx := context.Background()
	in := &meshtypes.Intent{ID: "i1", Status: meshtypes.IntentAccepted, CreatedAt: 1}
	if err := s.SaveIntent(ctx, in); err != nil {
		t.Fatalf("SaveIntent: %v", err)
	}
	res, err := s.AcceptIntentOffer(ctx, "i1", "off", "ex", 1)
	if err != nil {
		t.Fatalf("AcceptIntentOffer: %v", err)
	}
	if res.OK || res.Reason != "intent_not_pending" {
		t.Fatalf("AcceptIntentOffer() = %+v, want intent_not_pending", res)
	}
}

func testOfferOrdering(t *testing.T, s store.Store) {
	ctx := context.Background()
	in := &meshtypes.Intent{ID: "i1", Status: meshtypes.IntentPending}
	if err := s.SaveIntent(ctx, in); err != nil {
		t.Fatalf("SaveIntent: %v", err)
	}
	offers := []*meshtypes.Offer{
		{ID: "i1:B:30", IntentID: "i1", FromAddress: "B", CreatedAt: 30},
		{ID: "i1:A:10", IntentID: "i1", FromAddress: "A", CreatedAt: 10},
		{ID: "i1:C:20", IntentID: "i1", FromAddress: "C", CreatedAt: 20},
	}
	for _, o := range offers {
		if err := s.RecordOffer(ctx, o); err != nil {
			t.Fatalf("RecordOffer: %v", err)
		}
	}
	list, err := s.ListOffersForIntent(ctx, "i1")
	if err != nil || len(list) != 3 {
		t.Fatalf("ListOffersForIntent() = %v, %v", list, err)
	}
	for i := 1; i < len(list); i++ {
		if list[i-1].CreatedAt > list[i].CreatedAt {
			t.Fatalf("offers not ordered by createdAt asc: %+v", list)
		}
	}
}

func testExpireIntents(t *testing.T, s store.Store) {
	ctx := context.Background()
	stale := &meshtypes.Intent{ID: "stale", Status: meshtypes.IntentPending, Deadline: 100}
	fresh := &meshtypes.Intent{ID: "fresh", Status: meshtypes.IntentPending, Deadline: 1000}
	settled := &meshtypes.Intent{ID: "settled", Status: meshtypes.IntentSettled, Deadline: 1}
	for _, in := range []*meshtypes.Intent{stale, fresh, settled} {
		if err := s.SaveIntent(ctx, in); err != nil {
			t.Fatalf("SaveIntent: %v", err)
		}
	}
	updated, err := s.ExpireIntents(ctx, 500)
	if err != nil {
		t.Fatalf("ExpireIntents: %v", err)
	}
	if len(updated) != 1 || updated[0].ID != "stale" {
		t.Fatalf("ExpireIntents() = %+v, want only 'stale'", updated)
	}
	got, _ := s.GetIntent(ctx, "fresh")
	if got.Status != meshtypes.IntentPending {
		t.Fatalf("fresh intent should remain pending, got %s", got.Status)
	}
	got, _ = s.GetIntent(ctx, "settled")
	if got.Status != meshtypes.IntentSettled {
		t.Fatalf("settled intent must not be touched by ExpireIntents, got %s", got.Status)
	}
}

func testMarkProcessedMessageDedup(t *testing.T, s store.Store) {
	ctx := context.Background()
	meta := store.ProcessedMessageMeta{Key: "k1", MessageType: "beacon", PayloadHash: "h1"}
	inserted, err := s.MarkProcessedMessage(ctx, meta, 1)
	if err != nil || !inserted {
		t.Fatalf("MarkProcessedMessage() = %v, %v, want (true, nil)", inserted, err)
	}
	inserted, err = s.MarkProcessedMessage(ctx, meta, 2)
	if err != nil || inserted {
		t.Fatalf("MarkProcessedMessage() duplicate = %v, %v, want (false, nil)", inserted, err)
	}
}

func testDealRoundTrip(t *testing.T, s store.Store) {
	ctx := context.Background()
	d := &meshtypes.Deal{IntentID: "i1", ExecutorAddress: "ex", Fee: "0.5", Outcome: meshtypes.OutcomeSuccess, Rating: 9, SettledAt: 10}
	if err := s.SettleDeal(ctx, d); err != nil {
		t.Fatalf("SettleDeal: %v", err)
	}
	got, err := s.GetDeal(ctx, "i1")
	if err != nil || got.ExecutorAddress != "ex" {
		t.Fatalf("GetDeal() = %+v, %v", got, err)
	}
	if _, err := s.GetDeal(ctx, "missing"); err == nil {
		t.Fatalf("expected error for missing deal")
	}
	list, err := s.ListDeals(ctx)
	if err != nil || len(list) != 1 {
		t.Fatalf("ListDeals() = %v, %v", list, err)
	}
}

// Package memstore is an in-process Store implementation (spec.md section
// 4.B), guarded by a single mutex and returning shallow copies on every
// read so callers can never mutate state behind the store's back.
package memstore

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/meshprotocol/agent/pkg/meshtypes"
	"github.com/meshprotocol/agent/pkg/store"
)

// Store is an in-memory implementation, suitable for tests and for a
// single-process local/dev deployment.
type Store struct {
	mu      sync.Mutex
	peers   map[string]*meshtypes.Peer
	intents map[string]*meshtypes.Intent
	offers  map[string]*meshtypes.Offer // keyed by Offer.ID
	deals   map[string]*meshtypes.Deal  // keyed by intentID
	seen    map[string]*meshtypes.ProcessedMessage
}

// New returns an empty memstore.
func New() *Store {
	return &Store{
		peers:   make(map[string]*meshtypes.Peer),
		intents: make(map[string]*meshtypes.Intent),
		offers:  make(map[string]*meshtypes.Offer),
		deals:   make(map[string]*meshtypes.Deal),
		seen:    make(map[string]*meshtypes.ProcessedMessage),
	}
}

func copyPeer(p *meshtypes.Peer) *meshtypes.Peer {
	cp := *p
	cp.Skills = append([]string(nil), p.Skills...)
	return &cp
}

func copyIntent(in *meshtypes.Intent) *meshtypes.Intent {
	cp := *in
	if in.Payload != nil {
		cp.Payload = make(map[string]any, len(in.Payload))
		for k, v := range in.Payload {
			cp.Payload[k] = v
		}
	}
	return &cp
}

func copyOffer(o *meshtypes.Offer) *meshtypes.Offer {
	cp := *o
	if o.Reputation != nil {
		r := *o.Reputation
		cp.Reputation = &r
	}
	return &cp
}

func copyDeal(d *meshtypes.Deal) *meshtypes.Deal {
	cp := *d
	return &cp
}

func (s *Store) UpsertPeer(ctx context.Context, p *meshtypes.Peer) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.peers[p.Address] = copyPeer(p)
	return nil
}

func (s *Store) GetPeer(ctx context.Context, address string) (*meshtypes.Peer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.peers[address]
	if !ok {
		return nil, meshtypes.ErrPeerNotFound
	}
	return copyPeer(p), nil
}

func (s *Store) ListPeers(ctx context.Context) ([]*meshtypes.Peer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*meshtypes.Peer, 0, len(s.peers))
	for _, p := range s.peers {
		out = append(out, copyPeer(p))
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].LastSeen > out[j].LastSeen })
	return out, nil
}

func (s *Store) SaveIntent(ctx context.Context, in *meshtypes.Intent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.intents[in.ID] = copyIntent(in)
	return nil
}

func (s *Store) GetIntent(ctx context.Context, id string) (*meshtypes.Intent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	in, ok := s.intents[id]
	if !ok {
		return nil, meshtypes.ErrIntentNotFound
	}
	return copyIntent(in), nil
}

func (s *Store) ListIntents(ctx context.Context, filter store.ListIntentsFilter) ([]*meshtypes.Intent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*meshtypes.Intent, 0, len(s.intents))
	for _, in := range s.intents {
		if filter.Status != "" && in.Status != filter.Status {
			continue
		}
		out = append(out, copyIntent(in))
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt < out[j].CreatedAt })
	return out, nil
}

func (s *Store) UpdateIntentStatus(ctx context.Context, id string, update store.IntentUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	in, ok := s.intents[id]
	if !ok {
		return meshtypes.ErrIntentNotFound
	}
	in.Status = update.Status
	if update.AcceptedOfferID != nil {
		in.AcceptedOfferID = *update.AcceptedOfferID
	}
	if update.SelectedExecutor != nil {
		in.SelectedExecutor = *update.SelectedExecutor
	}
	return nil
}

// AcceptIntentOffer is the only multi-field conditional update in the
// system. The store-wide mutex already serializes every call, so "exactly
// one concurrent winner" falls out of the check-then-set being inside the
// same critical section — no separate per-intent lock is needed here the
// way a SQL backend needs SELECT ... FOR UPDATE.
func (s *Store) AcceptIntentOffer(ctx context.Context, intentID, offerID, executor string, now int64) (store.AcceptResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	in, ok := s.intents[intentID]
	if !ok {
		return store.AcceptResult{OK: false, Reason: "intent_not_found"}, nil
	}
	if in.Status != meshtypes.IntentPending {
		return store.AcceptResult{OK: false, Reason: "intent_not_pending"}, nil
	}
	in.Status = meshtypes.IntentAccepted
	in.AcceptedOfferID = offerID
	in.SelectedExecutor = executor
	in.UpdatedAt = now
	return store.AcceptResult{OK: true}, nil
}

func (s *Store) RecordOffer(ctx context.Context, o *meshtypes.Offer) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.offers[o.ID] = copyOffer(o)
	return nil
}

func (s *Store) ListOffersForIntent(ctx context.Context, intentID string) ([]*meshtypes.Offer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*meshtypes.Offer, 0)
	for _, o := range s.offers {
		if o.IntentID == intentID {
			out = append(out, copyOffer(o))
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt < out[j].CreatedAt })
	return out, nil
}

func (s *Store) SettleDeal(ctx context.Context, d *meshtypes.Deal) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deals[d.IntentID] = copyDeal(d)
	return nil
}

func (s *Store) GetDeal(ctx context.Context, intentID string) (*meshtypes.Deal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.deals[intentID]
	if !ok {
		return nil, meshtypes.ErrDealNotFound
	}
	return copyDeal(d), nil
}

func (s *Store) ListDeals(ctx context.Context) ([]*meshtypes.Deal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*meshtypes.Deal, 0, len(s.deals))
	for _, d := range s.deals {
		out = append(out, copyDeal(d))
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].SettledAt < out[j].SettledAt })
	return out, nil
}

func (s *Store) ExpireIntents(ctx context.Context, now int64) ([]*meshtypes.Intent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var updated []*meshtypes.Intent
	for _, in := range s.intents {
		if in.Status == meshtypes.IntentPending && in.Deadline < now {
			in.Status = meshtypes.IntentExpired
			in.UpdatedAt = now
			updated = append(updated, copyIntent(in))
		}
	}
	sort.SliceStable(updated, func(i, j int) bool { return updated[i].ID < updated[j].ID })
	return updated, nil
}

func (s *Store) MarkProcessedMessage(ctx context.Context, meta store.ProcessedMessageMeta, firstSeenAt int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.seen[meta.Key]; exists {
		return false, nil
	}
	s.seen[meta.Key] = &meshtypes.ProcessedMessage{
		Key:             meta.Key,
		MessageType:     meta.MessageType,
		SourceChatID:    meta.SourceChatID,
		SourceMessageID: meta.SourceMessageID,
		PayloadHash:     meta.PayloadHash,
		FirstSeenAt:     time.Unix(firstSeenAt, 0).UTC(),
	}
	return true, nil
}

func (s *Store) Close() error { return nil }

var _ store.Store = (*Store)(nil)

// Package kvstore implements the Store contract (spec.md section 4.B) on
// top of CometBFT's embedded dbm.DB, for single-process deployments that
// want persistence without a PostgreSQL dependency. Every operation is
// serialized by a single mutex: dbm.DB's Batch gives atomic multi-key
// writes but not a conditional read-then-write transaction, so
// acceptIntentOffer's "exactly one winner" guarantee comes from the lock
// rather than from the storage engine the way sqlstore's FOR UPDATE does.
package kvstore

import (
	"context"
	"encoding/json"
	"sort"
	"sync"

	dbm "github.com/cometbft/cometbft-db"

	"github.com/meshprotocol/agent/pkg/meshtypes"
	"github.com/meshprotocol/agent/pkg/store"
)

const (
	prefixPeer      = "peer:"
	prefixIntent    = "intent:"
	prefixOffer     = "offer:"
	prefixDeal      = "deal:"
	prefixProcessed = "seen:"
)

// Store is a dbm.DB-backed Store implementation.
type Store struct {
	mu sync.Mutex
	db dbm.DB
}

// New wraps an already-opened CometBFT DB (e.g. goleveldb, memdb, boltdb).
func New(db dbm.DB) *Store {
	return &Store{db: db}
}

func (s *Store) getJSON(key string, v any) (bool, error) {
	b, err := s.db.Get([]byte(key))
	if err != nil {
		return false, err
	}
	if b == nil {
		return false, nil
	}
	return true, json.Unmarshal(b, v)
}

func (s *Store) setJSON(key string, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return s.db.SetSync([]byte(key), b)
}

func (s *Store) scanPrefix(prefix string, fn func(key string, val []byte) error) error {
	it, err := s.db.Iterator([]byte(prefix), dbm.PrefixEndBytes([]byte(prefix)))
	if err != nil {
		return err
	}
	defer it.Close()
	for ; it.Valid(); it.Next() {
		if err := fn(string(it.Key()), it.Value()); err != nil {
			return err
		}
	}
	return it.Error()
}

func (s *Store) UpsertPeer(ctx context.Context, p *meshtypes.Peer) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.setJSON(prefixPeer+p.Address, p); err != nil {
		return meshtypes.BackendError(err)
	}
	return nil
}

func (s *Store) GetPeer(ctx context.Context, address string) (*meshtypes.Peer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p := &meshtypes.Peer{}
	found, err := s.getJSON(prefixPeer+address, p)
	if err != nil {
		return nil, meshtypes.BackendError(err)
	}
	if !found {
		return nil, meshtypes.ErrPeerNotFound
	}
	return p, nil
}

func (s *Store) ListPeers(ctx context.Context) ([]*meshtypes.Peer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*meshtypes.Peer
	err := s.scanPrefix(prefixPeer, func(key string, val []byte) error {
		p := &meshtypes.Peer{}
		if err := json.Unmarshal(val, p); err != nil {
			return err
		}
		out = append(out, p)
		return nil
	})
	if err != nil {
		return nil, meshtypes.BackendError(err)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].LastSeen > out[j].LastSeen })
	return out, nil
}

func (s *Store) SaveIntent(ctx context.Context, in *meshtypes.Intent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.setJSON(prefixIntent+in.ID, in); err != nil {
		return meshtypes.BackendError(err)
	}
	return nil
}

func (s *Store) GetIntent(ctx context.Context, id string) (*meshtypes.Intent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.getIntentLocked(id)
}

func (s *Store) getIntentLocked(id string) (*meshtypes.Intent, error) {
	in := &meshtypes.Intent{}
	found, err := s.getJSON(prefixIntent+id, in)
	if err != nil {
		return nil, meshtypes.BackendError(err)
	}
	if !found {
		return nil, meshtypes.ErrIntentNotFound
	}
	return in, nil
}

func (s *Store) ListIntents(ctx context.Context, filter store.ListIntentsFilter) ([]*meshtypes.Intent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*meshtypes.Intent
	err := s.scanPrefix(prefixIntent, func(key string, val []byte) error {
		in := &meshtypes.Intent{}
		if err := json.Unmarshal(val, in); err != nil {
			return err
		}
		if filter.Status == "" || in.Status == filter.Status {
			out = append(out, in)
		}
		return nil
	})
	if err != nil {
		return nil, meshtypes.BackendError(err)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt < out[j].CreatedAt })
	return out, nil
}

func (s *Store) UpdateIntentStatus(ctx context.Context, id string, update store.IntentUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	in, err := s.getIntentLocked(id)
	if err != nil {
		return err
	}
	in.Status = update.Status
	if update.AcceptedOfferID != nil {
		in.AcceptedOfferID = *update.AcceptedOfferID
	}
	if update.SelectedExecutor != nil {
		in.SelectedExecutor = *update.SelectedExecutor
	}
	if err := s.setJSON(prefixIntent+id, in); err != nil {
		return meshtypes.BackendError(err)
	}
	return nil
}

func (s *Store) AcceptIntentOffer(ctx context.Context, intentID, offerID, executor string, now int64) (store.AcceptResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	in, err := s.getIntentLocked(intentID)
	if err != nil {
		if err == meshtypes.ErrIntentNotFound {
			return store.AcceptResult{OK: false, Reason: "intent_not_found"}, nil
		}
		return store.AcceptResult{}, err
	}
	if in.Status != meshtypes.IntentPending {
		return store.AcceptResult{OK: false, Reason: "intent_not_pending"}, nil
	}
	in.Status = meshtypes.IntentAccepted
	in.AcceptedOfferID = offerID
	in.SelectedExecutor = executor
	in.UpdatedAt = now
	if err := s.setJSON(prefixIntent+intentID, in); err != nil {
		return store.AcceptResult{}, meshtypes.BackendError(err)
	}
	return store.AcceptResult{OK: true}, nil
}

func (s *Store) RecordOffer(ctx context.Context, o *meshtypes.Offer) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.setJSON(prefixOffer+o.ID, o); err != nil {
		return meshtypes.BackendError(err)
	}
	return nil
}

func (s *Store) ListOffersForIntent(ctx context.Context, intentID string) ([]*meshtypes.Offer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*meshtypes.Offer
	err := s.scanPrefix(prefixOffer, func(key string, val []byte) error {
		o := &meshtypes.Offer{}
		if err := json.Unmarshal(val, o); err != nil {
			return err
		}
		if o.IntentID == intentID {
			out = append(out, o)
		}
		return nil
	})
	if err != nil {
		return nil, meshtypes.BackendError(err)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt < out[j].CreatedAt })
	return out, nil
}

func (s *Store) SettleDeal(ctx context.Context, d *meshtypes.Deal) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.setJSON(prefixDeal+d.IntentID, d); err != nil {
		return meshtypes.BackendError(err)
	}
	return nil
}

func (s *Store) GetDeal(ctx context.Context, intentID string) (*meshtypes.Deal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d := &meshtypes.Deal{}
	found, err := s.getJSON(prefixDeal+intentID, d)
	if err != nil {
		return nil, meshtypes.BackendError(err)
	}
	if !found {
		return nil, meshtypes.ErrDealNotFound
	}
	return d, nil
}

func (s *Store) ListDeals(ctx context.Context) ([]*meshtypes.Deal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*meshtypes.Deal
	err := s.scanPrefix(prefixDeal, func(key string, val []byte) error {
		d := &meshtypes.Deal{}
		if err := json.Unmarshal(val, d); err != nil {
			return err
		}
		out = append(out, d)
		return nil
	})
	if err != nil {
		return nil, meshtypes.BackendError(err)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].SettledAt < out[j].SettledAt })
	return out, nil
}

func (s *Store) ExpireIntents(ctx context.Context, now int64) ([]*meshtypes.Intent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var stale []*meshtypes.Intent
	err := s.scanPrefix(prefixIntent, func(key string, val []byte) error {
		in := &meshtypes.Intent{}
		if err := json.Unmarshal(val, in); err != nil {
			return err
		}
		if in.Status == meshtypes.IntentPending && in.Deadline < now {
			stale = append(stale, in)
		}
		return nil
	})
	if err != nil {
		return nil, meshtypes.BackendError(err)
	}
	for _, in := range stale {
		in.Status = meshtypes.IntentExpired
		in.UpdatedAt = now
		if err := s.setJSON(prefixIntent+in.ID, in); err != nil {
			return nil, meshtypes.BackendError(err)
		}
	}
	sort.SliceStable(stale, func(i, j int) bool { return stale[i].ID < stale[j].ID })
	return stale, nil
}

func (s *Store) MarkProcessedMessage(ctx context.Context, meta store.ProcessedMessageMeta, firstSeenAt int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := prefixProcessed + meta.Key
	existing, err := s.db.Get([]byte(key))
	if err != nil {
		return false, meshtypes.BackendError(err)
	}
	if existing != nil {
		return false, nil
	}
	pm := meshtypes.ProcessedMessage{
		Key: meta.Key, MessageType: meta.MessageType, SourceChatID: meta.SourceChatID,
		SourceMessageID: meta.SourceMessageID, PayloadHash: meta.PayloadHash,
	}
	if err := s.setJSON(key, pm); err != nil {
		return false, meshtypes.BackendError(err)
	}
	return true, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

var _ store.Store = (*Store)(nil)

// Package store defines the Store contract (spec.md section 4.B): the
// persistence boundary every other MESH component talks to. memstore,
// sqlstore, kvstore and reststore are interchangeable implementations;
// storetest holds the conformance suite, which the memstore and kvstore
// tests run.
package store

import (
	"context"

	"github.com/meshprotocol/agent/pkg/meshtypes"
)

// AcceptResult is acceptIntentOffer's outcome.
type AcceptResult struct {
	OK     bool
	Reason string // "intent_not_pending" | "intent_not_found", set when !OK
}

// ListIntentsFilter narrows listIntents by status; an empty Status lists all.
type ListIntentsFilter struct {
	Status meshtypes.IntentStatus
}

// IntentUpdate carries updateIntentStatus's optional extra fields.
type IntentUpdate struct {
	Status           meshtypes.IntentStatus
	AcceptedOfferID  *string
	SelectedExecutor *string
}

// ProcessedMessageMeta is markProcessedMessage's input.
type ProcessedMessageMeta struct {
	Key             string
	MessageType     string
	SourceChatID    string
	SourceMessageID string
	PayloadHash     string
}

// Store is the full persistence contract of spec.md section 4.B.
// Every method surfaces backend errors directly; callers do not get
// implicit retries.
type Store interface {
	UpsertPeer(ctx context.Context, p *meshtypes.Peer) error
	GetPeer(ctx context.Context, address string) (*meshtypes.Peer, error)
	ListPeers(ctx context.Context) ([]*meshtypes.Peer, error)

	SaveIntent(ctx context.Context, in *meshtypes.Intent) error
	GetIntent(ctx context.Context, id string) (*meshtypes.Intent, error)
	ListIntents(ctx context.Context, filter ListIntentsFilter) ([]*meshtypes.Intent, error)
	UpdateIntentStatus(ctx context.Context, id string, update IntentUpdate) error

	// AcceptIntentOffer is the system's sole atomic multi-field conditional
	// update: exactly one concurrent caller for the same intent observes
	// AcceptResult.OK == true.
	AcceptIntentOffer(ctx context.Context, intentID, offerID, executor string, now int64) (AcceptResult, error)

	RecordOffer(ctx context.Context, o *meshtypes.Offer) error
	ListOffersForIntent(ctx context.Context, intentID string) ([]*meshtypes.Offer, error)

	SettleDeal(ctx context.Context, d *meshtypes.Deal) error
	GetDeal(ctx context.Context, intentID string) (*meshtypes.Deal, error)
	ListDeals(ctx context.Context) ([]*meshtypes.Deal, error)

	// ExpireIntents conditionally updates every pending intent whose deadline
	// is before now to expired, and returns the updated intents.
	ExpireIntents(ctx context.Context, now int64) ([]*meshtypes.Intent, error)

	// MarkProcessedMessage inserts meta, ignoring a duplicate primary key.
	// Inserted is false when the key was already present; callers MUST treat
	// that as "already processed, drop".
	MarkProcessedMessage(ctx context.Context, meta ProcessedMessageMeta, firstSeenAt int64) (inserted bool, err error)

	Close() error
}

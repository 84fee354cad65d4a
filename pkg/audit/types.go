package audit

import "time"

// PeerSnapshot mirrors a meshtypes.Peer write.
type PeerSnapshot struct {
	Address         string   `firestore:"address"`
	Skills          []string `firestore:"skills"`
	MinFee          string   `firestore:"minFee"`
	ResponseTime    string   `firestore:"responseTime"`
	Reputation      int64    `firestore:"reputation"`
	Stake           string   `firestore:"stake"`
	StakeAgeSeconds int64    `firestore:"stakeAgeSeconds"`
	LastSeen        int64    `firestore:"lastSeen"`
	UpdatedAt       int64    `firestore:"updatedAt"`
}

// IntentSnapshot mirrors a meshtypes.Intent write.
type IntentSnapshot struct {
	ID               string `firestore:"id"`
	FromAddress      string `firestore:"fromAddress"`
	Skill            string `firestore:"skill"`
	Budget           string `firestore:"budget"`
	Deadline         int64  `firestore:"deadline"`
	Status           string `firestore:"status"`
	AcceptedOfferID  string `firestore:"acceptedOfferId,omitempty"`
	SelectedExecutor string `firestore:"selectedExecutor,omitempty"`
	UpdatedAt        int64  `firestore:"updatedAt"`
}

// DealSnapshot mirrors a meshtypes.Deal write.
type DealSnapshot struct {
	IntentID        string `firestore:"intentId"`
	ExecutorAddress string `firestore:"executorAddress"`
	Fee             string `firestore:"fee"`
	TxHash          string `firestore:"txHash,omitempty"`
	Outcome         string `firestore:"outcome,omitempty"`
	Rating          int64  `firestore:"rating,omitempty"`
	SettledAt       int64  `firestore:"settledAt,omitempty"`
	UpdatedAt       int64  `firestore:"updatedAt"`
}

// Entry is one hash-chained audit trail record, the MESH analogue of the
// teacher's AuditTrailEntry: an append-only log of state-changing events,
// each entry's hash folding in the previous entry's hash so the chain as a
// whole can be validated for tampering.
type Entry struct {
	EntryID      string         `firestore:"-"`
	IntentID     string         `firestore:"intentId,omitempty"`
	Phase        string         `firestore:"phase"`
	Action       string         `firestore:"action"`
	Actor        string         `firestore:"actor"`
	Timestamp    time.Time      `firestore:"timestamp"`
	PreviousHash string         `firestore:"previousHash"`
	EntryHash    string         `firestore:"entryHash"`
	Details      map[string]any `firestore:"details,omitempty"`
}

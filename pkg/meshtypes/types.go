// Package meshtypes holds the MESH coordination engine's data model: peers,
// intents, offers, deals and the processed-message dedup record. Every other
// package imports these types rather than redefining them.
package meshtypes

import (
	"strconv"
	"time"
)

// IntentStatus is the lifecycle state of an Intent. The only legal
// transitions are pending->accepted, pending->expired and accepted->settled.
type IntentStatus string

const (
	IntentPending  IntentStatus = "pending"
	IntentAccepted IntentStatus = "accepted"
	IntentExpired  IntentStatus = "expired"
	IntentSettled  IntentStatus = "settled"
)

// Outcome is the settlement result reported by the executor.
type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	OutcomeFailure Outcome = "failure"
)

// Peer is a known participant, created/refreshed by beacon ingest or by the
// local agent's own register path. Peers are never deleted.
type Peer struct {
	Address         string    `json:"address" db:"address"`
	Skills          []string  `json:"skills" db:"skills"`
	MinFee          string    `json:"minFee" db:"min_fee"`
	ResponseTime    string    `json:"responseTime" db:"response_time"`
	Reputation      int64     `json:"reputation" db:"reputation"`
	Stake           string    `json:"stake" db:"stake"`
	StakeAgeSeconds int64     `json:"stakeAgeSeconds" db:"stake_age_seconds"`
	ReplyChat       string    `json:"replyChat,omitempty" db:"reply_chat"`
	LastSeen        int64     `json:"lastSeen" db:"last_seen"`
	CreatedAt       int64     `json:"createdAt" db:"created_at"`
	UpdatedAt       int64     `json:"updatedAt" db:"updated_at"`
}

// Intent is a request for work, the atomic unit of coordination.
type Intent struct {
	ID               string         `json:"id" db:"id"`
	FromAddress      string         `json:"fromAddress" db:"from_address"`
	Skill            string         `json:"skill" db:"skill"`
	Payload          map[string]any `json:"payload" db:"payload"`
	Budget           string         `json:"budget" db:"budget"`
	Deadline         int64          `json:"deadline" db:"deadline"`
	MinReputation    int64          `json:"minReputation" db:"min_reputation"`
	Status           IntentStatus   `json:"status" db:"status"`
	AcceptedOfferID  string         `json:"acceptedOfferId,omitempty" db:"accepted_offer_id"`
	SelectedExecutor string         `json:"selectedExecutor,omitempty" db:"selected_executor"`
	CreatedAt        int64          `json:"createdAt" db:"created_at"`
	UpdatedAt        int64          `json:"updatedAt" db:"updated_at"`
}

// Offer is a bid against an intent. Its ID is derived, never chosen by the
// caller: intentId:fromAddress:createdAt.
type Offer struct {
	ID              string `json:"id" db:"id"`
	IntentID        string `json:"intentId" db:"intent_id"`
	FromAddress     string `json:"fromAddress" db:"from_address"`
	Fee             string `json:"fee" db:"fee"`
	Eta             string `json:"eta" db:"eta"`
	Reputation      *int64 `json:"reputation,omitempty" db:"reputation"`
	StakeAgeSeconds int64  `json:"stakeAgeSeconds" db:"stake_age_seconds"`
	EscrowAddress   string `json:"escrowAddress,omitempty" db:"escrow_address"`
	CreatedAt       int64  `json:"createdAt" db:"created_at"`
}

// OfferID derives an Offer's primary key per spec.md 4.A/3: intentId:fromAddress:createdAt.
func OfferID(intentID, fromAddress string, createdAt int64) string {
	return intentID + ":" + fromAddress + ":" + strconv.FormatInt(createdAt, 10)
}

// Deal is the post-accept, post-settle record tying an intent to its
// executor and payment. One deal per intent.
type Deal struct {
	IntentID        string  `json:"intentId" db:"intent_id"`
	ExecutorAddress string  `json:"executorAddress" db:"executor_address"`
	Fee             string  `json:"fee" db:"fee"`
	TxHash          string  `json:"txHash,omitempty" db:"tx_hash"`
	Outcome         Outcome `json:"outcome,omitempty" db:"outcome"`
	Rating          int64   `json:"rating,omitempty" db:"rating"`
	SettledAt       int64   `json:"settledAt,omitempty" db:"settled_at"`
	UpdatedAt       int64   `json:"updatedAt" db:"updated_at"`
}

// ProcessedMessage is the ingest dedup record. Its Key is either
// consumer:<ownAddress>:tg:<chatId>:<messageId> or, when no messageId is
// present, consumer:<ownAddress>:hash:<sha256(rawText)>.
type ProcessedMessage struct {
	Key             string    `json:"key" db:"key"`
	MessageType     string    `json:"messageType" db:"message_type"`
	SourceChatID    string    `json:"sourceChatId,omitempty" db:"source_chat_id"`
	SourceMessageID string    `json:"sourceMessageId,omitempty" db:"source_message_id"`
	PayloadHash     string    `json:"payloadHash" db:"payload_hash"`
	FirstSeenAt     time.Time `json:"firstSeenAt" db:"first_seen_at"`
}

package audit

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/meshprotocol/agent/pkg/meshtypes"
)

// Clock overrides time.Now, for tests.
type Clock func() time.Time

// Mirror fans Store mutations out to Firestore for dashboards. Every method
// is fire-and-forget from its caller's point of view: a Firestore failure is
// logged by the underlying Client and never returned up to the coordination
// path, since Store remains sole authority over coordination state.
type Mirror struct {
	client      *Client
	meshGroupID string
	now         Clock

	mu       sync.Mutex
	lastHash string
}

// NewMirror wraps a Client with the MESH collection layout. meshGroupID
// scopes all paths, so multiple MESH deployments can share one Firestore
// project without collisions.
func NewMirror(client *Client, meshGroupID string) *Mirror {
	return &Mirror{client: client, meshGroupID: meshGroupID, now: time.Now}
}

// WithClock overrides the Mirror's clock, for tests.
func (m *Mirror) WithClock(now Clock) *Mirror {
	m.now = now
	return m
}

func (m *Mirror) peerPath(address string) string {
	return fmt.Sprintf("mesh/%s/peers/%s", m.meshGroupID, address)
}

func (m *Mirror) intentPath(id string) string {
	return fmt.Sprintf("mesh/%s/intents/%s", m.meshGroupID, id)
}

func (m *Mirror) dealPath(intentID string) string {
	return fmt.Sprintf("mesh/%s/deals/%s", m.meshGroupID, intentID)
}

func (m *Mirror) auditPath(entryID string) string {
	return fmt.Sprintf("mesh/%s/auditTrail/%s", m.meshGroupID, entryID)
}

// OnPeerUpserted mirrors a register/beacon write.
func (m *Mirror) OnPeerUpserted(ctx context.Context, p *meshtypes.Peer) {
	if !m.client.IsEnabled() {
		return
	}
	err := m.client.setDoc(ctx, m.peerPath(p.Address), map[string]any{
		"address":         p.Address,
		"skills":          p.Skills,
		"minFee":          p.MinFee,
		"responseTime":    p.ResponseTime,
		"reputation":      p.Reputation,
		"stake":           p.Stake,
		"stakeAgeSeconds": p.StakeAgeSeconds,
		"lastSeen":        p.LastSeen,
		"updatedAt":       p.UpdatedAt,
	})
	if err != nil {
		m.client.logger.Printf("mirror peer %s: %v", p.Address, err)
	}
}

// OnIntentChanged mirrors an intent save/status transition and appends an
// audit trail entry for the transition.
func (m *Mirror) OnIntentChanged(ctx context.Context, in *meshtypes.Intent, phase, action string) {
	if !m.client.IsEnabled() {
		return
	}
	err := m.client.setDoc(ctx, m.intentPath(in.ID), map[string]any{
		"id":               in.ID,
		"fromAddress":      in.FromAddress,
		"skill":            in.Skill,
		"budget":           in.Budget,
		"deadline":         in.Deadline,
		"status":           string(in.Status),
		"acceptedOfferId":  in.AcceptedOfferID,
		"selectedExecutor": in.SelectedExecutor,
		"updatedAt":        in.UpdatedAt,
	})
	if err != nil {
		m.client.logger.Printf("mirror intent %s: %v", in.ID, err)
		return
	}
	m.appendAuditEntry(ctx, in.ID, phase, action, map[string]any{"status": string(in.Status)})
}

// OnDealSettled mirrors a settle write.
func (m *Mirror) OnDealSettled(ctx context.Context, d *meshtypes.Deal) {
	if !m.client.IsEnabled() {
		return
	}
	err := m.client.setDoc(ctx, m.dealPath(d.IntentID), map[string]any{
		"intentId":        d.IntentID,
		"executorAddress": d.ExecutorAddress,
		"fee":             d.Fee,
		"txHash":          d.TxHash,
		"outcome":         string(d.Outcome),
		"rating":          d.Rating,
		"settledAt":       d.SettledAt,
		"updatedAt":       d.UpdatedAt,
	})
	if err != nil {
		m.client.logger.Printf("mirror deal %s: %v", d.IntentID, err)
		return
	}
	m.appendAuditEntry(ctx, d.IntentID, "settled", fmt.Sprintf("settled with outcome %s", d.Outcome),
		map[string]any{"txHash": d.TxHash, "rating": d.Rating})
}

// appendAuditEntry writes one hash-chained entry. The chain root is cached
// in-process (lastHash) rather than re-read from Firestore on every write,
// trading a cold-start gap (the first entry after a restart has no prior
// hash) for not needing a read-before-write on the mirror's hot path.
func (m *Mirror) appendAuditEntry(ctx context.Context, intentID, phase, action string, details map[string]any) {
	m.mu.Lock()
	previousHash := m.lastHash
	m.mu.Unlock()

	entry := Entry{
		EntryID:      uuid.New().String(),
		IntentID:     intentID,
		Phase:        phase,
		Action:       action,
		Actor:        "mesh-agent",
		Timestamp:    m.now(),
		PreviousHash: previousHash,
		Details:      details,
	}
	entry.EntryHash = computeEntryHash(entry)

	err := m.client.setDoc(ctx, m.auditPath(entry.EntryID), map[string]any{
		"intentId":     entry.IntentID,
		"phase":        entry.Phase,
		"action":       entry.Action,
		"actor":        entry.Actor,
		"timestamp":    entry.Timestamp,
		"previousHash": entry.PreviousHash,
		"entryHash":    entry.EntryHash,
		"details":      entry.Details,
	})
	if err != nil {
		m.client.logger.Printf("mirror audit entry for intent %s: %v", intentID, err)
		return
	}

	m.mu.Lock()
	m.lastHash = entry.EntryHash
	m.mu.Unlock()
}

func computeEntryHash(e Entry) string {
	data := map[string]any{
		"intentId":     e.IntentID,
		"phase":        e.Phase,
		"action":       e.Action,
		"actor":        e.Actor,
		"timestamp":    e.Timestamp.Unix(),
		"previousHash": e.PreviousHash,
		"details":      e.Details,
	}
	b, err := json.Marshal(data)
	if err != nil {
		return ""
	}
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

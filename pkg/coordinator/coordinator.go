// Package coordinator implements the Coordinator (spec.md section 4.E): the
// tool surface (register/broadcast/offer/settle/peers) and the inbound
// dispatch pipeline every transport event passes through, including
// auto-offer and auto-accept selection.
package coordinator

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log"
	"math"
	"os"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/meshprotocol/agent/pkg/meshtypes"
	"github.com/meshprotocol/agent/pkg/rank"
	"github.com/meshprotocol/agent/pkg/reputation"
	"github.com/meshprotocol/agent/pkg/store"
	"github.com/meshprotocol/agent/pkg/wire"
)

// Config holds the coordinator-boundary knobs of spec.md section 4.E/6.
type Config struct {
	OwnAddress               string
	MeshGroupID              string
	MinFee                   string
	MaxIntentDeadlineSeconds int64
	MaxPayloadBytes          int
	WaitForDeadline          bool
	Weights                  rank.Weights
	TieWindow                float64
}

func (c Config) withDefaults() Config {
	if c.MaxIntentDeadlineSeconds == 0 {
		c.MaxIntentDeadlineSeconds = meshtypes.DefaultMaxIntentDeadlineSeconds
	}
	if c.MaxPayloadBytes == 0 {
		c.MaxPayloadBytes = meshtypes.DefaultMaxPayloadBytes
	}
	if c.Weights == (rank.Weights{}) {
		c.Weights = rank.DefaultWeights()
	}
	if c.TieWindow == 0 {
		c.TieWindow = rank.DefaultTieWindow
	}
	return c
}

// Sender is the outbound capability the coordinator needs; transport.Facade
// satisfies it.
type Sender interface {
	Send(ctx context.Context, channelID, text string) error
}

// Clock abstracts time.Now for deterministic tests.
type Clock func() int64

// AuditMirror is the optional downstream-of-Store dashboard mirror
// (pkg/audit.Mirror satisfies this). A nil AuditMirror disables every call
// site below; a configured one never affects the outcome of the call it's
// attached to since it's invoked only after the Store write it mirrors
// already succeeded.
type AuditMirror interface {
	OnPeerUpserted(ctx context.Context, p *meshtypes.Peer)
	OnIntentChanged(ctx context.Context, in *meshtypes.Intent, phase, action string)
	OnDealSettled(ctx context.Context, d *meshtypes.Deal)
}

// MetricsSink is the optional Prometheus counter/histogram surface
// (pkg/httpapi.Metrics satisfies this). Like AuditMirror, a nil sink
// disables every call site and a configured one is invoked only after its
// corresponding Store write has already succeeded.
type MetricsSink interface {
	IntentCreated()
	IntentAccepted()
	IntentSettled()
	IntentExpired()
	OfferRecorded()
	AcceptRace()
}

// Coordinator wires the Store, Ranker and Reputation client together behind
// the tool surface and the inbound dispatch pipeline.
type Coordinator struct {
	cfg    Config
	store  store.Store
	rep    *reputation.Client
	sender Sender
	now    Clock
	logger *log.Logger
	skills  map[string]bool
	audit   AuditMirror
	metrics MetricsSink
}

// Option configures a Coordinator at construction.
type Option func(*Coordinator)

// WithLogger overrides the default stderr logger.
func WithLogger(logger *log.Logger) Option {
	return func(c *Coordinator) { c.logger = logger }
}

// WithClock overrides time.Now, for tests.
func WithClock(now Clock) Option {
	return func(c *Coordinator) { c.now = now }
}

// WithSkills declares the skills this agent can fulfill, used for auto-offer
// matching against inbound intents.
func WithSkills(skills ...string) Option {
	return func(c *Coordinator) {
		for _, s := range skills {
			c.skills[s] = true
		}
	}
}

// WithAudit attaches an optional dashboard mirror. Every mirror call happens
// after the corresponding Store write has already succeeded, so a nil (the
// default) or misbehaving mirror never affects coordination outcomes.
func WithAudit(m AuditMirror) Option {
	return func(c *Coordinator) { c.audit = m }
}

// WithMetrics attaches an optional Prometheus counter/histogram sink.
func WithMetrics(m MetricsSink) Option {
	return func(c *Coordinator) { c.metrics = m }
}

// New constructs a Coordinator.
func New(cfg Config, st store.Store, rep *reputation.Client, sender Sender, opts ...Option) *Coordinator {
	c := &Coordinator{
		cfg:    cfg.withDefaults(),
		store:  st,
		rep:    rep,
		sender: sender,
		logger: log.New(os.Stderr, "[coordinator] ", log.LstdFlags),
		skills: make(map[string]bool),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.now == nil {
		c.now = func() int64 { return time.Now().Unix() }
	}
	return c
}

func (c *Coordinator) liveReputation(addr string) (int64, bool) {
	v, ok, err := c.rep.GetReputation(context.Background(), addr)
	if err != nil {
		return 0, false
	}
	return v, ok
}

// ---- Tool surface ----

// Register implements the register tool: registers stake on-chain (or the
// local fallback), upserts the self-peer row, and broadcasts a beacon.
func (c *Coordinator) Register(ctx context.Context, skills []string, minFee, stake, responseTime, replyChat string) error {
	stakeAmt, err := meshtypes.ParseDecimal(stake)
	if err != nil || stakeAmt < 0 {
		return meshtypes.ValidationError("stake must be a finite non-negative decimal")
	}
	if err := c.rep.RegisterAgent(ctx, c.cfg.OwnAddress, stakeAmt); err != nil {
		return err
	}
	for _, s := range skills {
		c.skills[s] = true
	}
	now := c.now()
	peer := &meshtypes.Peer{
		Address: c.cfg.OwnAddress, Skills: skills, MinFee: minFee, ResponseTime: responseTime,
		Stake: stake, ReplyChat: replyChat, LastSeen: now, CreatedAt: now, UpdatedAt: now,
	}
	if rep, ok := c.liveReputation(c.cfg.OwnAddress); ok {
		peer.Reputation = rep
	}
	if err := c.store.UpsertPeer(ctx, peer); err != nil {
		return err
	}
	if c.audit != nil {
		c.audit.OnPeerUpserted(ctx, peer)
	}
	return c.broadcastBeacon(ctx, skills, minFee, responseTime, stake, replyChat)
}

func (c *Coordinator) broadcastBeacon(ctx context.Context, skills []string, minFee, responseTime, stake, replyChat string) error {
	msg := &wire.Beacon{V: wire.DefaultVersion, From: c.cfg.OwnAddress, Skills: skills,
		MinFee: minFee, ResponseTime: responseTime, Stake: stake, ReplyChat: replyChat}
	return c.sender.Send(ctx, c.cfg.MeshGroupID, wire.Serialize(msg))
}

// Beacon re-broadcasts the self-peer's current beacon, using whatever was
// last stored by Register. It is the Lifecycle's "initial beacon broadcast"
// step (spec.md section 4.H) and is a no-op if no self-peer row exists yet
// (e.g. autoRegisterOnStart is false and the operator registers later
// through the tool surface instead).
func (c *Coordinator) Beacon(ctx context.Context) error {
	self, err := c.store.GetPeer(ctx, c.cfg.OwnAddress)
	if err != nil {
		if err == meshtypes.ErrPeerNotFound {
			return nil
		}
		return err
	}
	return c.broadcastBeacon(ctx, self.Skills, self.MinFee, self.ResponseTime, self.Stake, self.ReplyChat)
}

// Broadcast implements the broadcast tool: validates, persists a pending
// intent, and broadcasts the intent message.
func (c *Coordinator) Broadcast(ctx context.Context, skill string, payload map[string]any, budget string, deadline int64, minReputation int64) (*meshtypes.Intent, error) {
	now := c.now()
	in := &meshtypes.Intent{
		ID: uuid.New().String(), FromAddress: c.cfg.OwnAddress,
		Skill: skill, Payload: payload, Budget: budget, Deadline: deadline,
		MinReputation: minReputation, Status: meshtypes.IntentPending,
		CreatedAt: now, UpdatedAt: now,
	}
	if err := in.ValidateNew(now, c.cfg.MaxIntentDeadlineSeconds, c.cfg.MaxPayloadBytes); err != nil {
		return nil, meshtypes.ValidationError(err.Error())
	}
	if err := c.store.SaveIntent(ctx, in); err != nil {
		return nil, err
	}
	if c.audit != nil {
		c.audit.OnIntentChanged(ctx, in, "created", "intent broadcast")
	}
	if c.metrics != nil {
		c.metrics.IntentCreated()
	}
	msg := &wire.IntentMsg{V: wire.DefaultVersion, ID: in.ID, From: in.FromAddress, Skill: skill,
		Budget: budget, Deadline: deadline, MinReputation: minReputation, Payload: payload}
	if err := c.sender.Send(ctx, c.cfg.MeshGroupID, wire.Serialize(msg)); err != nil {
		return nil, err
	}
	return in, nil
}

// Offer implements the offer tool: checks self-skill/reputation/budget
// eligibility against the named intent, records the offer, and broadcasts it.
func (c *Coordinator) Offer(ctx context.Context, intentID, fee, eta, escrowAddress string) (*meshtypes.Offer, error) {
	in, err := c.store.GetIntent(ctx, intentID)
	if err != nil {
		return nil, err
	}
	if !c.skills[in.Skill] {
		return nil, meshtypes.PreconditionError("skill_mismatch", "self does not have skill "+in.Skill)
	}
	selfRep, _ := c.liveReputation(c.cfg.OwnAddress)
	if selfRep < in.MinReputation {
		return nil, meshtypes.PreconditionError("reputation_too_low", "self reputation below intent.minReputation")
	}
	if err := in.ValidateOffer(fee); err != nil {
		return nil, meshtypes.ValidationError(err.Error())
	}
	return c.recordAndBroadcastOffer(ctx, in, c.cfg.OwnAddress, fee, eta, escrowAddress, selfRep)
}

func (c *Coordinator) recordAndBroadcastOffer(ctx context.Context, in *meshtypes.Intent, from, fee, eta, escrowAddress string, rep int64) (*meshtypes.Offer, error) {
	now := c.now()
	peer, err := c.store.GetPeer(ctx, from)
	stakeAge := int64(0)
	if err == nil {
		stakeAge = now - peer.UpdatedAt + peer.StakeAgeSeconds
	}
	o := &meshtypes.Offer{
		ID: meshtypes.OfferID(in.ID, from, now), IntentID: in.ID, FromAddress: from,
		Fee: fee, Eta: eta, Reputation: &rep, StakeAgeSeconds: stakeAge,
		EscrowAddress: escrowAddress, CreatedAt: now,
	}
	if err := c.store.RecordOffer(ctx, o); err != nil {
		return nil, err
	}
	if c.metrics != nil {
		c.metrics.OfferRecorded()
	}
	msg := &wire.OfferMsg{V: wire.DefaultVersion, IntentID: in.ID, From: from, Fee: fee, Eta: eta,
		Reputation: &rep, EscrowAddress: escrowAddress}
	if err := c.sender.Send(ctx, c.cfg.MeshGroupID, wire.Serialize(msg)); err != nil {
		return nil, err
	}
	if in.FromAddress == c.cfg.OwnAddress && !c.cfg.WaitForDeadline {
		if _, err := c.selectWinner(ctx, in.ID, false); err != nil {
			c.logger.Printf("auto-select after own offer for intent %s: %v", in.ID, err)
		}
	}
	return o, nil
}

// Settle implements the settle tool: verifies payment, records the outcome,
// broadcasts settle, and transitions the intent/deal.
func (c *Coordinator) Settle(ctx context.Context, intentID, txHash string, outcome meshtypes.Outcome, rating int64) error {
	if err := meshtypes.ValidateRating(rating); err != nil {
		return meshtypes.ValidationError(err.Error())
	}
	if outcome != meshtypes.OutcomeSuccess && outcome != meshtypes.OutcomeFailure {
		return meshtypes.ValidationError("outcome must be success or failure")
	}
	in, err := c.store.GetIntent(ctx, intentID)
	if err != nil {
		return err
	}
	if in.Status != meshtypes.IntentAccepted {
		return meshtypes.PreconditionError("intent_not_accepted", "intent is not in accepted status")
	}

	result, err := c.rep.VerifyPayment(ctx, reputation.PaymentCheck{
		TxHash: txHash, ExpectedRecipient: in.SelectedExecutor, ExpectedSender: in.FromAddress, IntentID: intentID,
	})
	if err != nil {
		return err
	}
	if !result.OK {
		return &meshtypes.MeshError{Category: meshtypes.CategoryVerification, Reason: result.Reason, Message: "payment verification failed"}
	}

	if err := c.rep.RecordOutcome(ctx, in.SelectedExecutor, txHash, rating); err != nil {
		return err
	}

	now := c.now()
	fee := ""
	if offers, err := c.store.ListOffersForIntent(ctx, intentID); err == nil {
		for _, o := range offers {
			if o.ID == in.AcceptedOfferID {
				fee = o.Fee
			}
		}
	}
	deal := &meshtypes.Deal{
		IntentID: intentID, ExecutorAddress: in.SelectedExecutor, Fee: fee, TxHash: txHash,
		Outcome: outcome, Rating: rating, SettledAt: now, UpdatedAt: now,
	}
	if err := c.store.SettleDeal(ctx, deal); err != nil {
		return err
	}
	status := meshtypes.IntentSettled
	if err := c.store.UpdateIntentStatus(ctx, intentID, store.IntentUpdate{Status: status}); err != nil {
		return err
	}
	if c.audit != nil {
		c.audit.OnDealSettled(ctx, deal)
		in.Status = status
		c.audit.OnIntentChanged(ctx, in, "settled", "settle tool invoked")
	}
	if c.metrics != nil {
		c.metrics.IntentSettled()
	}
	msg := &wire.SettleMsg{V: wire.DefaultVersion, IntentID: intentID, From: c.cfg.OwnAddress,
		TxHash: txHash, Outcome: string(outcome), Rating: rating}
	return c.sender.Send(ctx, c.cfg.MeshGroupID, wire.Serialize(msg))
}

// Peers implements the peers tool.
func (c *Coordinator) Peers(ctx context.Context) ([]*meshtypes.Peer, error) {
	return c.store.ListPeers(ctx)
}

// ---- Inbound dispatch ----

// Ingest implements the inbound dispatch pipeline of spec.md section 4.E: it
// derives the dedup key, parses the wire message, checks for a duplicate,
// and dispatches by kind. A protocol reject or duplicate is a silent no-op,
// matching the "the protocol must tolerate noise" policy of section 7.
func (c *Coordinator) Ingest(ctx context.Context, chatID, messageID, text string) error {
	key := dedupKey(c.cfg.OwnAddress, chatID, messageID, text)
	msg, ok := wire.Parse(text)
	if !ok {
		return nil
	}
	inserted, err := c.store.MarkProcessedMessage(ctx, store.ProcessedMessageMeta{
		Key: key, MessageType: string(msg.Kind()), SourceChatID: chatID, SourceMessageID: messageID,
		PayloadHash: hashText(text),
	}, c.now())
	if err != nil {
		return err
	}
	if !inserted {
		return nil
	}

	switch m := msg.(type) {
	case *wire.Beacon:
		return c.handleBeacon(ctx, m)
	case *wire.IntentMsg:
		return c.handleIntent(ctx, m)
	case *wire.OfferMsg:
		return c.handleOffer(ctx, m)
	case *wire.AcceptMsg:
		return c.handleAccept(ctx, m)
	case *wire.SettleMsg:
		return c.handleSettle(ctx, m)
	default:
		return nil
	}
}

func dedupKey(ownAddress, chatID, messageID, text string) string {
	if messageID != "" {
		return fmt.Sprintf("consumer:%s:tg:%s:%s", ownAddress, chatID, messageID)
	}
	return fmt.Sprintf("consumer:%s:hash:%s", ownAddress, hashText(text))
}

func hashText(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}

func (c *Coordinator) handleBeacon(ctx context.Context, m *wire.Beacon) error {
	rep, ok := c.liveReputation(m.From)
	if !ok || rep <= 0 {
		return nil
	}
	stakeInfo, err := c.rep.GetStakeInfo(ctx, m.From)
	if err != nil {
		c.logger.Printf("getStakeInfo(%s): %v", m.From, err)
	}
	now := c.now()
	peer := &meshtypes.Peer{
		Address: m.From, Skills: m.Skills, MinFee: m.MinFee, ResponseTime: m.ResponseTime,
		Reputation: rep, Stake: m.Stake, StakeAgeSeconds: stakeInfo.AgeSeconds, ReplyChat: m.ReplyChat,
		LastSeen: now, CreatedAt: now, UpdatedAt: now,
	}
	if existing, err := c.store.GetPeer(ctx, m.From); err == nil {
		peer.CreatedAt = existing.CreatedAt
	}
	if err := c.store.UpsertPeer(ctx, peer); err != nil {
		return err
	}
	if c.audit != nil {
		c.audit.OnPeerUpserted(ctx, peer)
	}
	return nil
}

func (c *Coordinator) handleIntent(ctx context.Context, m *wire.IntentMsg) error {
	payload, _ := m.Payload.(map[string]any)
	now := c.now()
	in := &meshtypes.Intent{
		ID: m.ID, FromAddress: m.From, Skill: m.Skill, Payload: payload, Budget: m.Budget,
		Deadline: m.Deadline, MinReputation: m.MinReputation, Status: meshtypes.IntentPending,
		CreatedAt: now, UpdatedAt: now,
	}
	if err := c.store.SaveIntent(ctx, in); err != nil {
		return err
	}
	if c.audit != nil {
		c.audit.OnIntentChanged(ctx, in, "created", "intent received")
	}
	if c.metrics != nil {
		c.metrics.IntentCreated()
	}
	if m.From == c.cfg.OwnAddress {
		return nil
	}
	return c.maybeAutoOffer(ctx, in)
}

func (c *Coordinator) maybeAutoOffer(ctx context.Context, in *meshtypes.Intent) error {
	if !c.skills[in.Skill] {
		return nil
	}
	selfRep, _ := c.liveReputation(c.cfg.OwnAddress)
	if selfRep < in.MinReputation {
		return nil
	}
	budget, err := meshtypes.ParseDecimal(in.Budget)
	if err != nil {
		return nil
	}
	minFee, err := meshtypes.ParseDecimal(c.cfg.MinFee)
	if err != nil {
		minFee = 0
	}
	suggested := clamp(minFee, 0.75*budget, budget)
	if suggested > budget {
		return nil
	}
	_, err = c.recordAndBroadcastOffer(ctx, in, c.cfg.OwnAddress, formatDecimal(suggested), "", "", selfRep)
	return err
}

func formatDecimal(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(v, hi))
}

func (c *Coordinator) handleOffer(ctx context.Context, m *wire.OfferMsg) error {
	in, err := c.store.GetIntent(ctx, m.IntentID)
	if err != nil {
		return nil
	}
	now := c.now()
	stakeAge := int64(0)
	if peer, err := c.store.GetPeer(ctx, m.From); err == nil {
		stakeAge = now - peer.UpdatedAt + peer.StakeAgeSeconds
	}
	o := &meshtypes.Offer{
		ID: meshtypes.OfferID(m.IntentID, m.From, now), IntentID: m.IntentID, FromAddress: m.From,
		Fee: m.Fee, Eta: m.Eta, Reputation: m.Reputation, StakeAgeSeconds: stakeAge,
		EscrowAddress: m.EscrowAddress, CreatedAt: now,
	}
	if err := c.store.RecordOffer(ctx, o); err != nil {
		return err
	}
	if c.metrics != nil {
		c.metrics.OfferRecorded()
	}
	if in.FromAddress != c.cfg.OwnAddress || c.cfg.WaitForDeadline {
		return nil
	}
	_, err = c.selectWinner(ctx, in.ID, false)
	return err
}

func (c *Coordinator) handleAccept(ctx context.Context, m *wire.AcceptMsg) error {
	in, err := c.store.GetIntent(ctx, m.IntentID)
	if err != nil || in.Status != meshtypes.IntentPending {
		return nil
	}
	to := m.To
	return c.store.UpdateIntentStatus(ctx, m.IntentID, store.IntentUpdate{
		Status: meshtypes.IntentAccepted, SelectedExecutor: &to,
	})
}

func (c *Coordinator) handleSettle(ctx context.Context, m *wire.SettleMsg) error {
	in, err := c.store.GetIntent(ctx, m.IntentID)
	if err != nil {
		return nil
	}
	now := c.now()
	deal := &meshtypes.Deal{
		IntentID: m.IntentID, ExecutorAddress: in.SelectedExecutor, TxHash: m.TxHash,
		Outcome: meshtypes.Outcome(m.Outcome), Rating: m.Rating, SettledAt: now, UpdatedAt: now,
	}
	if err := c.store.SettleDeal(ctx, deal); err != nil {
		return err
	}
	if err := c.rep.RecordOutcome(ctx, in.SelectedExecutor, m.TxHash, m.Rating); err != nil {
		c.logger.Printf("recordOutcome on inbound settle for %s: %v", m.IntentID, err)
	}
	if err := c.store.UpdateIntentStatus(ctx, m.IntentID, store.IntentUpdate{Status: meshtypes.IntentSettled}); err != nil {
		return err
	}
	if c.audit != nil {
		c.audit.OnDealSettled(ctx, deal)
		in.Status = meshtypes.IntentSettled
		c.audit.OnIntentChanged(ctx, in, "settled", "settle message received")
	}
	if c.metrics != nil {
		c.metrics.IntentSettled()
	}
	return nil
}

// ---- Selection ----

// selectWinner implements auto-accept selection of spec.md section 4.E: it
// fetches all offers, ranks them with live reputation, and attempts the
// atomic accept. The scheduler (via SelectWinner) passes forceNow=true once
// the deadline has passed; the tool/ingest paths pass false and call it only
// when cfg.WaitForDeadline is false.
func (c *Coordinator) selectWinner(ctx context.Context, intentID string, forceNow bool) (*meshtypes.Offer, error) {
	in, err := c.store.GetIntent(ctx, intentID)
	if err != nil {
		return nil, err
	}
	if in.Status != meshtypes.IntentPending {
		return nil, nil
	}
	if c.cfg.WaitForDeadline && !forceNow && c.now() < in.Deadline {
		return nil, nil
	}
	offers, err := c.store.ListOffersForIntent(ctx, intentID)
	if err != nil {
		return nil, err
	}
	if len(offers) == 0 {
		return nil, nil
	}
	best := rank.SelectBest(offers, c.liveReputation, c.cfg.Weights, c.cfg.TieWindow)
	if best == nil {
		return nil, nil
	}
	result, err := c.store.AcceptIntentOffer(ctx, intentID, best.ID, best.FromAddress, c.now())
	if err != nil {
		return nil, err
	}
	if !result.OK {
		if c.metrics != nil {
			c.metrics.AcceptRace()
		}
		return nil, nil
	}
	if c.audit != nil {
		in.Status = meshtypes.IntentAccepted
		in.AcceptedOfferID = best.ID
		in.SelectedExecutor = best.FromAddress
		c.audit.OnIntentChanged(ctx, in, "accepted", "offer "+best.ID+" selected")
	}
	if c.metrics != nil {
		c.metrics.IntentAccepted()
	}

	now := c.now()
	deal := &meshtypes.Deal{IntentID: intentID, ExecutorAddress: best.FromAddress, Fee: best.Fee, UpdatedAt: now}
	if err := c.store.SettleDeal(ctx, deal); err != nil {
		c.logger.Printf("pre-seed deal for %s: %v", intentID, err)
	}
	msg := &wire.AcceptMsg{V: wire.DefaultVersion, IntentID: intentID, From: c.cfg.OwnAddress,
		To: best.FromAddress, Fee: best.Fee, SelectedAt: now}
	if err := c.sender.Send(ctx, c.cfg.MeshGroupID, wire.Serialize(msg)); err != nil {
		return best, err
	}
	return best, nil
}

// SelectWinner is the scheduler's entry point into selection: it always
// forces the decision (the scheduler only calls this once the deadline has
// passed), regardless of cfg.WaitForDeadline.
func (c *Coordinator) SelectWinner(ctx context.Context, intentID string) (*meshtypes.Offer, error) {
	return c.selectWinner(ctx, intentID, true)
}

// ExpireStale transitions every still-pending, past-deadline intent with no
// viable winner to expired. Called by the scheduler each tick.
func (c *Coordinator) ExpireStale(ctx context.Context) ([]*meshtypes.Intent, error) {
	now := c.now()
	pending, err := c.store.ListIntents(ctx, store.ListIntentsFilter{Status: meshtypes.IntentPending})
	if err != nil {
		return nil, err
	}
	var expired []*meshtypes.Intent
	for _, in := range pending {
		if in.Deadline > now {
			continue
		}
		winner, err := c.SelectWinner(ctx, in.ID)
		if err != nil {
			c.logger.Printf("select at expiry for %s: %v", in.ID, err)
			continue
		}
		if winner != nil {
			continue
		}
		if err := c.store.UpdateIntentStatus(ctx, in.ID, store.IntentUpdate{Status: meshtypes.IntentExpired}); err != nil {
			c.logger.Printf("expire %s: %v", in.ID, err)
			continue
		}
		in.Status = meshtypes.IntentExpired
		if c.audit != nil {
			c.audit.OnIntentChanged(ctx, in, "expired", "no viable offer at deadline")
		}
		if c.metrics != nil {
			c.metrics.IntentExpired()
		}
		expired = append(expired, in)
	}
	return expired, nil
}

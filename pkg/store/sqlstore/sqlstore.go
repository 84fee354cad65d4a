package sqlstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"

	"github.com/lib/pq"

	"github.com/meshprotocol/agent/pkg/meshtypes"
	"github.com/meshprotocol/agent/pkg/store"
)

// wrapErr wraps a non-nil error as a BackendError; a nil err passes through
// as nil rather than becoming a non-nil *MeshError wrapping nothing.
func wrapErr(err error) error {
	if err == nil {
		return nil
	}
	return meshtypes.BackendError(err)
}

func (s *Store) UpsertPeer(ctx context.Context, p *meshtypes.Peer) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO peers (address, skills, min_fee, response_time, reputation, stake,
			stake_age_seconds, reply_chat, last_seen, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
		ON CONFLICT (address) DO UPDATE SET
			skills=$2, min_fee=$3, response_time=$4, reputation=$5, stake=$6,
			stake_age_seconds=$7, reply_chat=$8, last_seen=$9, updated_at=$11`,
		p.Address, pq.Array(p.Skills), p.MinFee, p.ResponseTime, p.Reputation, p.Stake,
		p.StakeAgeSeconds, p.ReplyChat, p.LastSeen, p.CreatedAt, p.UpdatedAt,
	)
	if err != nil {
		return meshtypes.BackendError(err)
	}
	return nil
}

func scanPeer(row interface{ Scan(...any) error }) (*meshtypes.Peer, error) {
	p := &meshtypes.Peer{}
	err := row.Scan(&p.Address, pq.Array(&p.Skills), &p.MinFee, &p.ResponseTime, &p.Reputation,
		&p.Stake, &p.StakeAgeSeconds, &p.ReplyChat, &p.LastSeen, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return p, nil
}

const peerColumns = `address, skills, min_fee, response_time, reputation, stake, stake_age_seconds, reply_chat, last_seen, created_at, updated_at`

func (s *Store) GetPeer(ctx context.Context, address string) (*meshtypes.Peer, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+peerColumns+` FROM peers WHERE address=$1`, address)
	p, err := scanPeer(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, meshtypes.ErrPeerNotFound
	}
	if err != nil {
		return nil, meshtypes.BackendError(err)
	}
	return p, nil
}

func (s *Store) ListPeers(ctx context.Context) ([]*meshtypes.Peer, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+peerColumns+` FROM peers ORDER BY last_seen DESC`)
	if err != nil {
		return nil, meshtypes.BackendError(err)
	}
	defer rows.Close()
	var out []*meshtypes.Peer
	for rows.Next() {
		p, err := scanPeer(rows)
		if err != nil {
			return nil, meshtypes.BackendError(err)
		}
		out = append(out, p)
	}
	return out, wrapErr(rows.Err())
}

func (s *Store) SaveIntent(ctx context.Context, in *meshtypes.Intent) error {
	payload, err := json.Marshal(in.Payload)
	if err != nil {
		return meshtypes.ValidationError("payload not JSON-serializable")
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO intents (id, from_address, skill, payload, budget, deadline, min_reputation,
			status, accepted_offer_id, selected_executor, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
		ON CONFLICT (id) DO UPDATE SET
			status=$8, accepted_offer_id=$9, selected_executor=$10, updated_at=$12`,
		in.ID, in.FromAddress, in.Skill, payload, in.Budget, in.Deadline, in.MinReputation,
		in.Status, in.AcceptedOfferID, in.SelectedExecutor, in.CreatedAt, in.UpdatedAt,
	)
	if err != nil {
		return meshtypes.BackendError(err)
	}
	return nil
}

const intentColumns = `id, from_address, skill, payload, budget, deadline, min_reputation, status, accepted_offer_id, selected_executor, created_at, updated_at`

func scanIntent(row interface{ Scan(...any) error }) (*meshtypes.Intent, error) {
	in := &meshtypes.Intent{}
	var payload []byte
	err := row.Scan(&in.ID, &in.FromAddress, &in.Skill, &payload, &in.Budget, &in.Deadline,
		&in.MinReputation, &in.Status, &in.AcceptedOfferID, &in.SelectedExecutor, &in.CreatedAt, &in.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if len(payload) > 0 {
		if err := json.Unmarshal(payload, &in.Payload); err != nil {
			return nil, err
		}
	}
	return in, nil
}

func (s *Store) GetIntent(ctx context.Context, id string) (*meshtypes.Intent, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+intentColumns+` FROM intents WHERE id=$1`, id)
	in, err := scanIntent(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, meshtypes.ErrIntentNotFound
	}
	if err != nil {
		return nil, meshtypes.BackendError(err)
	}
	return in, nil
}

func (s *Store) ListIntents(ctx context.Context, filter store.ListIntentsFilter) ([]*meshtypes.Intent, error) {
	query := `SELECT ` + intentColumns + ` FROM intents`
	var args []any
	if filter.Status != "" {
		query += ` WHERE status=$1`
		args = append(args, filter.Status)
	}
	query += ` ORDER BY created_at ASC`
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, meshtypes.BackendError(err)
	}
	defer rows.Close()
	var out []*meshtypes.Intent
	for rows.Next() {
		in, err := scanIntent(rows)
		if err != nil {
			return nil, meshtypes.BackendError(err)
		}
		out = append(out, in)
	}
	return out, wrapErr(rows.Err())
}

func (s *Store) UpdateIntentStatus(ctx context.Context, id string, update store.IntentUpdate) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE intents SET status=$1,
			accepted_offer_id = COALESCE($2, accepted_offer_id),
			selected_executor = COALESCE($3, selected_executor)
		WHERE id=$4`,
		update.Status, update.AcceptedOfferID, update.SelectedExecutor, id,
	)
	if err != nil {
		return meshtypes.BackendError(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return meshtypes.BackendError(err)
	}
	if n == 0 {
		return meshtypes.ErrIntentNotFound
	}
	return nil
}

// AcceptIntentOffer implements spec.md section 4.B's sole atomic multi-field
// write as a transaction: SELECT ... FOR UPDATE to serialize concurrent
// callers against the same row, then a conditional UPDATE whose RowsAffected
// tells us whether this call was the one winner.
func (s *Store) AcceptIntentOffer(ctx context.Context, intentID, offerID, executor string, now int64) (store.AcceptResult, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return store.AcceptResult{}, meshtypes.BackendError(err)
	}
	defer tx.Rollback()

	var status meshtypes.IntentStatus
	err = tx.QueryRowContext(ctx, `SELECT status FROM intents WHERE id=$1 FOR UPDATE`, intentID).Scan(&status)
	if errors.Is(err, sql.ErrNoRows) {
		return store.AcceptResult{OK: false, Reason: "intent_not_found"}, nil
	}
	if err != nil {
		return store.AcceptResult{}, meshtypes.BackendError(err)
	}
	if status != meshtypes.IntentPending {
		return store.AcceptResult{OK: false, Reason: "intent_not_pending"}, nil
	}

	res, err := tx.ExecContext(ctx, `
		UPDATE intents SET status='accepted', accepted_offer_id=$1, selected_executor=$2, updated_at=$3
		WHERE id=$4 AND status='pending'`,
		offerID, executor, now, intentID,
	)
	if err != nil {
		return store.AcceptResult{}, meshtypes.BackendError(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return store.AcceptResult{}, meshtypes.BackendError(err)
	}
	if n == 0 {
		return store.AcceptResult{OK: false, Reason: "intent_not_pending"}, nil
	}
	if err := tx.Commit(); err != nil {
		return store.AcceptResult{}, meshtypes.BackendError(err)
	}
	return store.AcceptResult{OK: true}, nil
}

func (s *Store) RecordOffer(ctx context.Context, o *meshtypes.Offer) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO offers (id, intent_id, from_address, fee, eta, reputation, stake_age_seconds, escrow_address, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
		ON CONFLICT (id) DO NOTHING`,
		o.ID, o.IntentID, o.FromAddress, o.Fee, o.Eta, o.Reputation, o.StakeAgeSeconds, o.EscrowAddress, o.CreatedAt,
	)
	if err != nil {
		return meshtypes.BackendError(err)
	}
	return nil
}

func (s *Store) ListOffersForIntent(ctx context.Context, intentID string) ([]*meshtypes.Offer, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, intent_id, from_address, fee, eta, reputation, stake_age_seconds, escrow_address, created_at
		FROM offers WHERE intent_id=$1 ORDER BY created_at ASC`, intentID)
	if err != nil {
		return nil, meshtypes.BackendError(err)
	}
	defer rows.Close()
	var out []*meshtypes.Offer
	for rows.Next() {
		o := &meshtypes.Offer{}
		if err := rows.Scan(&o.ID, &o.IntentID, &o.FromAddress, &o.Fee, &o.Eta, &o.Reputation,
			&o.StakeAgeSeconds, &o.EscrowAddress, &o.CreatedAt); err != nil {
			return nil, meshtypes.BackendError(err)
		}
		out = append(out, o)
	}
	return out, wrapErr(rows.Err())
}

func (s *Store) SettleDeal(ctx context.Context, d *meshtypes.Deal) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO deals (intent_id, executor_address, fee, tx_hash, outcome, rating, settled_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
		ON CONFLICT (intent_id) DO UPDATE SET
			tx_hash=$4, outcome=$5, rating=$6, settled_at=$7, updated_at=$8`,
		d.IntentID, d.ExecutorAddress, d.Fee, d.TxHash, d.Outcome, d.Rating, d.SettledAt, d.UpdatedAt,
	)
	if err != nil {
		return meshtypes.BackendError(err)
	}
	return nil
}

func (s *Store) GetDeal(ctx context.Context, intentID string) (*meshtypes.Deal, error) {
	d := &meshtypes.Deal{}
	err := s.db.QueryRowContext(ctx, `
		SELECT intent_id, executor_address, fee, tx_hash, outcome, rating, settled_at, updated_at
		FROM deals WHERE intent_id=$1`, intentID).Scan(
		&d.IntentID, &d.ExecutorAddress, &d.Fee, &d.TxHash, &d.Outcome, &d.Rating, &d.SettledAt, &d.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, meshtypes.ErrDealNotFound
	}
	if err != nil {
		return nil, meshtypes.BackendError(err)
	}
	return d, nil
}

func (s *Store) ListDeals(ctx context.Context) ([]*meshtypes.Deal, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT intent_id, executor_address, fee, tx_hash, outcome, rating, settled_at, updated_at
		FROM deals ORDER BY settled_at ASC`)
	if err != nil {
		return nil, meshtypes.BackendError(err)
	}
	defer rows.Close()
	var out []*meshtypes.Deal
	for rows.Next() {
		d := &meshtypes.Deal{}
		if err := rows.Scan(&d.IntentID, &d.ExecutorAddress, &d.Fee, &d.TxHash, &d.Outcome,
			&d.Rating, &d.SettledAt, &d.UpdatedAt); err != nil {
			return nil, meshtypes.BackendError(err)
		}
		out = append(out, d)
	}
	return out, wrapErr(rows.Err())
}

func (s *Store) ExpireIntents(ctx context.Context, now int64) ([]*meshtypes.Intent, error) {
	rows, err := s.db.QueryContext(ctx, `
		UPDATE intents SET status='expired', updated_at=$1
		WHERE status='pending' AND deadline < $1
		RETURNING `+intentColumns, now)
	if err != nil {
		return nil, meshtypes.BackendError(err)
	}
	defer rows.Close()
	var out []*meshtypes.Intent
	for rows.Next() {
		in, err := scanIntent(rows)
		if err != nil {
			return nil, meshtypes.BackendError(err)
		}
		out = append(out, in)
	}
	return out, wrapErr(rows.Err())
}

func (s *Store) MarkProcessedMessage(ctx context.Context, meta store.ProcessedMessageMeta, firstSeenAt int64) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO processed_messages (key, message_type, source_chat_id, source_message_id, payload_hash, first_seen_at)
		VALUES ($1,$2,$3,$4,$5, to_timestamp($6))
		ON CONFLICT (key) DO NOTHING`,
		meta.Key, meta.MessageType, meta.SourceChatID, meta.SourceMessageID, meta.PayloadHash, firstSeenAt,
	)
	if err != nil {
		return false, meshtypes.BackendError(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, meshtypes.BackendError(err)
	}
	return n == 1, nil
}

var _ store.Store = (*Store)(nil)

// Package reststore implements the Store contract (spec.md section 4.B)
// against a PostgREST-compatible HTTP backend (e.g. Supabase), for
// deployments that keep their peer/intent/offer/deal tables behind a
// managed REST layer instead of a direct database connection. It is built
// on a plain net/http + encoding/json transport since no PostgREST SDK is
// available in the retrieved dependency corpus. It has no disabled/no-op
// mode: New rejects an empty BaseURL.
package reststore

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"os"
	"sort"
	"time"

	"github.com/meshprotocol/agent/pkg/meshtypes"
	"github.com/meshprotocol/agent/pkg/store"
)

// Config configures a reststore client.
type Config struct {
	// BaseURL is the REST endpoint root, e.g. https://project.supabase.co/rest/v1
	BaseURL string
	// APIKey is sent as both apikey and Authorization: Bearer headers.
	APIKey string
	// HTTPClient overrides the default client (useful for tests).
	HTTPClient *http.Client
	Logger     *log.Logger
}

// DefaultConfig reads connection settings from the environment.
func DefaultConfig() Config {
	return Config{
		BaseURL: os.Getenv("MESH_REST_STORE_URL"),
		APIKey:  os.Getenv("MESH_REST_STORE_KEY"),
		Logger:  log.New(os.Stderr, "[reststore] ", log.LstdFlags),
	}
}

// Store is an HTTP-backed Store implementation.
type Store struct {
	baseURL string
	apiKey  string
	client  *http.Client
	logger  *log.Logger
}

// New constructs a Store. It does not dial anything eagerly; the first
// request surfaces any connectivity problem.
func New(cfg Config) (*Store, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("reststore: BaseURL cannot be empty")
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: 15 * time.Second}
	}
	if cfg.Logger == nil {
		cfg.Logger = log.New(os.Stderr, "[reststore] ", log.LstdFlags)
	}
	return &Store{baseURL: cfg.BaseURL, apiKey: cfg.APIKey, client: cfg.HTTPClient, logger: cfg.Logger}, nil
}

func (s *Store) do(ctx context.Context, method, path string, query url.Values, body any, out any) (int, error) {
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return 0, err
		}
		reader = bytes.NewReader(b)
	}
	u := s.baseURL + path
	if query != nil {
		u += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, method, u, reader)
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	if s.apiKey != "" {
		req.Header.Set("apikey", s.apiKey)
		req.Header.Set("Authorization", "Bearer "+s.apiKey)
	}
	if method == http.MethodPatch || method == http.MethodPost {
		req.Header.Set("Prefer", "return=representation")
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, err
	}
	if out != nil && len(respBody) > 0 {
		if err := json.Unmarshal(respBody, out); err != nil {
			return resp.StatusCode, fmt.Errorf("reststore: decode %s %s: %w", method, path, err)
		}
	}
	if resp.StatusCode >= 400 {
		return resp.StatusCode, fmt.Errorf("reststore: %s %s: status %d: %s", method, path, resp.StatusCode, string(respBody))
	}
	return resp.StatusCode, nil
}

func (s *Store) UpsertPeer(ctx context.Context, p *meshtypes.Peer) error {
	q := url.Values{}
	_, err := s.do(ctx, http.MethodPost, "/peers", q, []*meshtypes.Peer{p}, nil)
	if err != nil {
		return meshtypes.BackendError(err)
	}
	return nil
}

func (s *Store) GetPeer(ctx context.Context, address string) (*meshtypes.Peer, error) {
	q := url.Values{"address": {"eq." + address}, "limit": {"1"}}
	var rows []*meshtypes.Peer
	_, err := s.do(ctx, http.MethodGet, "/peers", q, nil, &rows)
	if err != nil {
		return nil, meshtypes.BackendError(err)
	}
	if len(rows) == 0 {
		return nil, meshtypes.ErrPeerNotFound
	}
	return rows[0], nil
}

func (s *Store) ListPeers(ctx context.Context) ([]*meshtypes.Peer, error) {
	q := url.Values{"order": {"last_seen.desc"}}
	var rows []*meshtypes.Peer
	if _, err := s.do(ctx, http.MethodGet, "/peers", q, nil, &rows); err != nil {
		return nil, meshtypes.BackendError(err)
	}
	return rows, nil
}

func (s *Store) SaveIntent(ctx context.Context, in *meshtypes.Intent) error {
	q := url.Values{}
	if _, err := s.do(ctx, http.MethodPost, "/intents", q, []*meshtypes.Intent{in}, nil); err != nil {
		return meshtypes.BackendError(err)
	}
	return nil
}

func (s *Store) GetIntent(ctx context.Context, id string) (*meshtypes.Intent, error) {
	q := url.Values{"id": {"eq." + id}, "limit": {"1"}}
	var rows []*meshtypes.Intent
	if _, err := s.do(ctx, http.MethodGet, "/intents", q, nil, &rows); err != nil {
		return nil, meshtypes.BackendError(err)
	}
	if len(rows) == 0 {
		return nil, meshtypes.ErrIntentNotFound
	}
	return rows[0], nil
}

func (s *Store) ListIntents(ctx context.Context, filter store.ListIntentsFilter) ([]*meshtypes.Intent, error) {
	q := url.Values{"order": {"created_at.asc"}}
	if filter.Status != "" {
		q.Set("status", "eq."+string(filter.Status))
	}
	var rows []*meshtypes.Intent
	if _, err := s.do(ctx, http.MethodGet, "/intents", q, nil, &rows); err != nil {
		return nil, meshtypes.BackendError(err)
	}
	return rows, nil
}

func (s *Store) UpdateIntentStatus(ctx context.Context, id string, update store.IntentUpdate) error {
	patch := map[string]any{"status": update.Status}
	if update.AcceptedOfferID != nil {
		patch["accepted_offer_id"] = *update.AcceptedOfferID
	}
	if update.SelectedExecutor != nil {
		patch["selected_executor"] = *update.SelectedExecutor
	}
	q := url.Values{"id": {"eq." + id}}
	if _, err := s.do(ctx, http.MethodPatch, "/intents", q, patch, nil); err != nil {
		return meshtypes.BackendError(err)
	}
	return nil
}

// AcceptIntentOffer uses PostgREST's compound filter to encode the
// conditional update atomically: the PATCH targets id=<intentID> AND
// status=eq.pending in a single request, so a concurrent second caller's
// PATCH matches zero rows once the first has landed. PostgREST executes
// each request inside its own transaction, giving the same single-winner
// guarantee sqlstore gets from FOR UPDATE without requiring a lock query.
func (s *Store) AcceptIntentOffer(ctx context.Context, intentID, offerID, executor string, now int64) (store.AcceptResult, error) {
	existing, err := s.GetIntent(ctx, intentID)
	if err != nil {
		if err == meshtypes.ErrIntentNotFound {
			return store.AcceptResult{OK: false, Reason: "intent_not_found"}, nil
		}
		return store.AcceptResult{}, err
	}
	if existing.Status != meshtypes.IntentPending {
		return store.AcceptResult{OK: false, Reason: "intent_not_pending"}, nil
	}

	patch := map[string]any{
		"status":            meshtypes.IntentAccepted,
		"accepted_offer_id": offerID,
		"selected_executor": executor,
		"updated_at":        now,
	}
	q := url.Values{"id": {"eq." + intentID}, "status": {"eq.pending"}}
	var rows []*meshtypes.Intent
	if _, err := s.do(ctx, http.MethodPatch, "/intents", q, patch, &rows); err != nil {
		return store.AcceptResult{}, meshtypes.BackendError(err)
	}
	if len(rows) == 0 {
		return store.AcceptResult{OK: false, Reason: "intent_not_pending"}, nil
	}
	return store.AcceptResult{OK: true}, nil
}

func (s *Store) RecordOffer(ctx context.Context, o *meshtypes.Offer) error {
	q := url.Values{}
	if _, err := s.do(ctx, http.MethodPost, "/offers", q, []*meshtypes.Offer{o}, nil); err != nil {
		return meshtypes.BackendError(err)
	}
	return nil
}

func (s *Store) ListOffersForIntent(ctx context.Context, intentID string) ([]*meshtypes.Offer, error) {
	q := url.Values{"intent_id": {"eq." + intentID}, "order": {"created_at.asc"}}
	var rows []*meshtypes.Offer
	if _, err := s.do(ctx, http.MethodGet, "/offers", q, nil, &rows); err != nil {
		return nil, meshtypes.BackendError(err)
	}
	return rows, nil
}

func (s *Store) SettleDeal(ctx context.Context, d *meshtypes.Deal) error {
	q := url.Values{}
	if _, err := s.do(ctx, http.MethodPost, "/deals", q, []*meshtypes.Deal{d}, nil); err != nil {
		return meshtypes.BackendError(err)
	}
	return nil
}

func (s *Store) GetDeal(ctx context.Context, intentID string) (*meshtypes.Deal, error) {
	q := url.Values{"intent_id": {"eq." + intentID}, "limit": {"1"}}
	var rows []*meshtypes.Deal
	if _, err := s.do(ctx, http.MethodGet, "/deals", q, nil, &rows); err != nil {
		return nil, meshtypes.BackendError(err)
	}
	if len(rows) == 0 {
		return nil, meshtypes.ErrDealNotFound
	}
	return rows[0], nil
}

func (s *Store) ListDeals(ctx context.Context) ([]*meshtypes.Deal, error) {
	q := url.Values{"order": {"settled_at.asc"}}
	var rows []*meshtypes.Deal
	if _, err := s.do(ctx, http.MethodGet, "/deals", q, nil, &rows); err != nil {
		return nil, meshtypes.BackendError(err)
	}
	return rows, nil
}

func (s *Store) ExpireIntents(ctx context.Context, now int64) ([]*meshtypes.Intent, error) {
	q := url.Values{"status": {"eq.pending"}, "deadline": {fmt.Sprintf("lt.%d", now)}}
	patch := map[string]any{"status": meshtypes.IntentExpired, "updated_at": now}
	var rows []*meshtypes.Intent
	if _, err := s.do(ctx, http.MethodPatch, "/intents", q, patch, &rows); err != nil {
		return nil, meshtypes.BackendError(err)
	}
	sort.SliceStable(rows, func(i, j int) bool { return rows[i].ID < rows[j].ID })
	return rows, nil
}

func (s *Store) MarkProcessedMessage(ctx context.Context, meta store.ProcessedMessageMeta, firstSeenAt int64) (bool, error) {
	body := []map[string]any{{
		"key":               meta.Key,
		"message_type":      meta.MessageType,
		"source_chat_id":    meta.SourceChatID,
		"source_message_id": meta.SourceMessageID,
		"payload_hash":      meta.PayloadHash,
	}}
	q := url.Values{"on_conflict": {"key"}}
	status, err := s.do(ctx, http.MethodPost, "/processed_messages", q, body, nil)
	if err != nil {
		if status == http.StatusConflict {
			return false, nil
		}
		return false, meshtypes.BackendError(err)
	}
	return status == http.StatusCreated, nil
}

func (s *Store) Close() error { return nil }

var _ store.Store = (*Store)(nil)

// Package wire implements the MESH protocol codec (spec.md section 4.A): a
// single text line "MESH: <json>" carrying one of six tagged message kinds.
// Parse returns (nil, false) for anything that doesn't satisfy the wire
// contract exactly — the ingest path is expected to silently drop those
// (spec.md section 7: ProtocolReject is "never logged above debug; the
// protocol must tolerate noise").
package wire

import (
	"encoding/json"
	"strings"
)

// Kind identifies one of the six MESH message types.
type Kind string

const (
	KindBeacon  Kind = "beacon"
	KindIntent  Kind = "intent"
	KindOffer   Kind = "offer"
	KindAccept  Kind = "accept"
	KindSettle  Kind = "settle"
	KindDispute Kind = "dispute"
)

// DefaultVersion is used whenever a message is constructed without an
// explicit v, and is substituted for an absent v field on parse.
const DefaultVersion = "1.0"

const wirePrefix = "MESH:"

// Message is implemented by the six concrete message types below. It exists
// so callers (the Coordinator's dispatch) can type-switch on the kind.
type Message interface {
	Kind() Kind
	version() string
}

type Beacon struct {
	V            string
	From         string
	Skills       []string
	MinFee       string
	ResponseTime string
	Stake        string
	ReplyChat    string
}

func (b *Beacon) Kind() Kind      { return KindBeacon }
func (b *Beacon) version() string { return b.V }

type IntentMsg struct {
	V             string
	ID            string
	From          string
	Skill         string
	Budget        string
	Deadline      int64
	MinReputation int64
	Payload       any
}

func (m *IntentMsg) Kind() Kind      { return KindIntent }
func (m *IntentMsg) version() string { return m.V }

type OfferMsg struct {
	V             string
	IntentID      string
	From          string
	Fee           string
	Eta           string
	Reputation    *int64
	EscrowAddress string
}

func (m *OfferMsg) Kind() Kind      { return KindOffer }
func (m *OfferMsg) version() string { return m.V }

type AcceptMsg struct {
	V          string
	IntentID   string
	From       string
	To         string
	Fee        string
	SelectedAt int64
}

func (m *AcceptMsg) Kind() Kind      { return KindAccept }
func (m *AcceptMsg) version() string { return m.V }

type SettleMsg struct {
	V        string
	IntentID string
	From     string
	TxHash   string
	Outcome  string
	Rating   int64
}

func (m *SettleMsg) Kind() Kind      { return KindSettle }
func (m *SettleMsg) version() string { return m.V }

type DisputeMsg struct {
	V          string
	IntentID   string
	From       string
	Against    string
	Reason     string
	EvidenceTx string
}

func (m *DisputeMsg) Kind() Kind      { return KindDispute }
func (m *DisputeMsg) version() string { return m.V }

// Parse implements the parse contract of spec.md section 4.A. It returns
// (nil, false) whenever the prefix doesn't match, the JSON doesn't parse,
// a required field is missing or mistyped, or a type-specific range check
// fails. Unknown type values also yield (nil, false).
func Parse(text string) (Message, bool) {
	rest, ok := stripPrefix(text)
	if !ok {
		return nil, false
	}

	var raw map[string]any
	if err := json.Unmarshal([]byte(rest), &raw); err != nil {
		return nil, false
	}

	typ, ok := str(raw, "type")
	if !ok {
		return nil, false
	}
	v, hasV := str(raw, "v")
	if !hasV {
		v = DefaultVersion
	} else if v == "" {
		return nil, false
	}

	switch Kind(typ) {
	case KindBeacon:
		return parseBeacon(raw, v)
	case KindIntent:
		return parseIntent(raw, v)
	case KindOffer:
		return parseOffer(raw, v)
	case KindAccept:
		return parseAccept(raw, v)
	case KindSettle:
		return parseSettle(raw, v)
	case KindDispute:
		return parseDispute(raw, v)
	default:
		return nil, false
	}
}

// stripPrefix enforces "MESH:" literal, case-sensitive, with at most one
// space before the JSON body.
func stripPrefix(text string) (string, bool) {
	if !strings.HasPrefix(text, wirePrefix) {
		return "", false
	}
	rest := text[len(wirePrefix):]
	if strings.HasPrefix(rest, " ") {
		rest = rest[1:]
	}
	if rest == "" || rest[0] != '{' {
		return "", false
	}
	return rest, true
}

func parseBeacon(raw map[string]any, v string) (Message, bool) {
	from, ok := str(raw, "from")
	if !ok {
		return nil, false
	}
	skills, ok := strSlice(raw, "skills")
	if !ok {
		return nil, false
	}
	b := &Beacon{V: v, From: from, Skills: skills}
	if mf, present := raw["minFee"]; present {
		s, ok := mf.(string)
		if !ok {
			return nil, false
		}
		b.MinFee = s
	}
	if rt, present := raw["responseTime"]; present {
		s, ok := rt.(string)
		if !ok {
			return nil, false
		}
		b.ResponseTime = s
	}
	if stk, present := raw["stake"]; present {
		s, ok := stk.(string)
		if !ok {
			return nil, false
		}
		b.Stake = s
	}
	if rc, present := raw["replyChat"]; present {
		s, ok := rc.(string)
		if !ok {
			return nil, false
		}
		b.ReplyChat = s
	}
	return b, true
}

func parseIntent(raw map[string]any, v string) (Message, bool) {
	id, ok := str(raw, "id")
	if !ok {
		return nil, false
	}
	from, ok := str(raw, "from")
	if !ok {
		return nil, false
	}
	skill, ok := str(raw, "skill")
	if !ok {
		return nil, false
	}
	budget, ok := str(raw, "budget")
	if !ok {
		return nil, false
	}
	deadline, ok := integer(raw, "deadline")
	if !ok || deadline <= 0 {
		return nil, false
	}
	minRep, ok := integer(raw, "minReputation")
	if !ok || minRep < 0 {
		return nil, false
	}
	m := &IntentMsg{V: v, ID: id, From: from, Skill: skill, Budget: budget, Deadline: deadline, MinReputation: minRep}
	if p, present := raw["payload"]; present {
		switch p.(type) {
		case map[string]any, []any:
			m.Payload = p
		default:
			return nil, false
		}
	} else {
		m.Payload = map[string]any{}
	}
	return m, true
}

func parseOffer(raw map[string]any, v string) (Message, bool) {
	intentID, ok := str(raw, "intentId")
	if !ok {
		return nil, false
	}
	from, ok := str(raw, "from")
	if !ok {
		return nil, false
	}
	fee, ok := str(raw, "fee")
	if !ok {
		return nil, false
	}
	eta, ok := str(raw, "eta")
	if !ok {
		return nil, false
	}
	m := &OfferMsg{V: v, IntentID: intentID, From: from, Fee: fee, Eta: eta}
	if _, present := raw["reputation"]; present {
		n, ok := integer(raw, "reputation")
		if !ok {
			return nil, false
		}
		m.Reputation = &n
	}
	if e, present := raw["escrowAddress"]; present {
		s, ok := e.(string)
		if !ok {
			return nil, false
		}
		m.EscrowAddress = s
	}
	return m, true
}

func parseAccept(raw map[string]any, v string) (Message, bool) {
	intentID, ok := str(raw, "intentId")
	if !ok {
		return nil, false
	}
	from, ok := str(raw, "from")
	if !ok {
		return nil, false
	}
	to, ok := str(raw, "to")
	if !ok {
		return nil, false
	}
	fee, ok := str(raw, "fee")
	if !ok {
		return nil, false
	}
	m := &AcceptMsg{V: v, IntentID: intentID, From: from, To: to, Fee: fee}
	if _, present := raw["selectedAt"]; present {
		n, ok := integer(raw, "selectedAt")
		if !ok {
			return nil, false
		}
		m.SelectedAt = n
	}
	return m, true
}

func parseSettle(raw map[string]any, v string) (Message, bool) {
	intentID, ok := str(raw, "intentId")
	if !ok {
		return nil, false
	}
	from, ok := str(raw, "from")
	if !ok {
		return nil, false
	}
	txHash, ok := str(raw, "txHash")
	if !ok {
		return nil, false
	}
	outcome, ok := str(raw, "outcome")
	if !ok || (outcome != "success" && outcome != "failure") {
		return nil, false
	}
	rating, ok := integer(raw, "rating")
	if !ok || rating < 1 || rating > 10 {
		return nil, false
	}
	return &SettleMsg{V: v, IntentID: intentID, From: from, TxHash: txHash, Outcome: outcome, Rating: rating}, true
}

func parseDispute(raw map[string]any, v string) (Message, bool) {
	intentID, ok := str(raw, "intentId")
	if !ok {
		return nil, false
	}
	from, ok := str(raw, "from")
	if !ok {
		return nil, false
	}
	against, ok := str(raw, "against")
	if !ok {
		return nil, false
	}
	d := &DisputeMsg{V: v, IntentID: intentID, From: from, Against: against}
	if r, present := raw["reason"]; present {
		s, ok := r.(string)
		if !ok {
			return nil, false
		}
		d.Reason = s
	}
	if e, present := raw["evidenceTx"]; present {
		s, ok := e.(string)
		if !ok {
			return nil, false
		}
		d.EvidenceTx = s
	}
	return d, true
}

func str(raw map[string]any, key string) (string, bool) {
	v, ok := raw[key]
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	if !ok || s == "" {
		return "", false
	}
	return s, true
}

func strSlice(raw map[string]any, key string) ([]string, bool) {
	v, ok := raw[key]
	if !ok {
		return nil, false
	}
	arr, ok := v.([]any)
	if !ok {
		return nil, false
	}
	out := make([]string, 0, len(arr))
	for _, e := range arr {
		s, ok := e.(string)
		if !ok {
			return nil, false
		}
		out = append(out, s)
	}
	return out, true
}

// integer extracts a JSON number as an int64, rejecting non-integral values
// (json.Unmarshal into any decodes numbers as float64).
func integer(raw map[string]any, key string) (int64, bool) {
	v, ok := raw[key]
	if !ok {
		return 0, false
	}
	f, ok := v.(float64)
	if !ok {
		return 0, false
	}
	if f != float64(int64(f)) {
		return 0, false
	}
	return int64(f), true
}

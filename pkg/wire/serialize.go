package wire

import (
	"encoding/json"
	"fmt"
)

// Serialize renders m as a "MESH: <json>" line. Only the fields recognized
// for m's kind are emitted — the sanitized reconstruction of spec.md section
// 4.A that drops any extra fields a loosely-typed sender might have sent.
func Serialize(m Message) string {
	body, err := json.Marshal(toWire(m))
	if err != nil {
		// toWire only ever produces marshalable maps; a failure here means a
		// caller constructed a Message with a non-JSON-able Payload.
		panic(fmt.Sprintf("wire: serialize: %v", err))
	}
	return wirePrefix + " " + string(body)
}

func toWire(m Message) map[string]any {
	v := m.version()
	if v == "" {
		v = DefaultVersion
	}
	switch msg := m.(type) {
	case *Beacon:
		out := map[string]any{"v": v, "type": string(KindBeacon), "from": msg.From, "skills": msg.Skills}
		setIfNonEmpty(out, "minFee", msg.MinFee)
		setIfNonEmpty(out, "responseTime", msg.ResponseTime)
		setIfNonEmpty(out, "stake", msg.Stake)
		setIfNonEmpty(out, "replyChat", msg.ReplyChat)
		return out
	case *IntentMsg:
		out := map[string]any{
			"v": v, "type": string(KindIntent),
			"id": msg.ID, "from": msg.From, "skill": msg.Skill,
			"budget": msg.Budget, "deadline": msg.Deadline, "minReputation": msg.MinReputation,
		}
		if msg.Payload != nil {
			out["payload"] = msg.Payload
		} else {
			out["payload"] = map[string]any{}
		}
		return out
	case *OfferMsg:
		out := map[string]any{
			"v": v, "type": string(KindOffer),
			"intentId": msg.IntentID, "from": msg.From, "fee": msg.Fee, "eta": msg.Eta,
		}
		if msg.Reputation != nil {
			out["reputation"] = *msg.Reputation
		}
		setIfNonEmpty(out, "escrowAddress", msg.EscrowAddress)
		return out
	case *AcceptMsg:
		out := map[string]any{
			"v": v, "type": string(KindAccept),
			"intentId": msg.IntentID, "from": msg.From, "to": msg.To, "fee": msg.Fee,
		}
		if msg.SelectedAt != 0 {
			out["selectedAt"] = msg.SelectedAt
		}
		return out
	case *SettleMsg:
		return map[string]any{
			"v": v, "type": string(KindSettle),
			"intentId": msg.IntentID, "from": msg.From, "txHash": msg.TxHash,
			"outcome": msg.Outcome, "rating": msg.Rating,
		}
	case *DisputeMsg:
		out := map[string]any{
			"v": v, "type": string(KindDispute),
			"intentId": msg.IntentID, "from": msg.From, "against": msg.Against,
		}
		setIfNonEmpty(out, "reason", msg.Reason)
		setIfNonEmpty(out, "evidenceTx", msg.EvidenceTx)
		return out
	default:
		panic(fmt.Sprintf("wire: serialize: unknown message type %T", m))
	}
}

func setIfNonEmpty(m map[string]any, key, val string) {
	if val != "" {
		m[key] = val
	}
}

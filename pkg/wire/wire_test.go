package wire

import (
	"reflect"
	"strings"
	"testing"
)

func mustParse(t *testing.T, text string) Message {
	t.Helper()
	m, ok := Parse(text)
	if !ok {
		t.Fatalf("Parse(%q) failed, expected success", text)
	}
	return m
}

func TestRoundTripAllKinds(t *testing.T) {
	rep := int64(87)
	cases := []Message{
		&Beacon{V: "1.0", From: "EQX", Skills: []string{"analytics", "defi"}, MinFee: "0.1", Stake: "2"},
		&IntentMsg{V: "1.0", ID: "i1", From: "EQX", Skill: "analytics", Budget: "1.0", Deadline: 1000, MinReputation: 50, Payload: map[string]any{}},
		&OfferMsg{V: "1.0", IntentID: "i1", From: "EQY", Fee: "0.75", Eta: "5s", Reputation: &rep},
		&AcceptMsg{V: "1.0", IntentID: "i1", From: "EQX", To: "EQY", Fee: "0.75"},
		&SettleMsg{V: "1.0", IntentID: "i1", From: "EQY", TxHash: "0xabc", Outcome: "success", Rating: 9},
		&DisputeMsg{V: "1.0", IntentID: "i1", From: "EQZ", Against: "EQY", Reason: "no-show"},
	}
	for _, m := range cases {
		text := Serialize(m)
		got := mustParse(t, text)
		if !reflect.DeepEqual(got, m) {
			t.Fatalf("round trip mismatch:\n  in:  %#v\n  out: %#v\n  wire: %s", m, got, text)
		}
		// parse(serialize(parse(t))) == parse(t)
		text2 := Serialize(got)
		got2 := mustParse(t, text2)
		if !reflect.DeepEqual(got, got2) {
			t.Fatalf("second round trip mismatch for %s", text)
		}
	}
}

func TestParsePrefixStrict(t *testing.T) {
	cases := []string{
		`mesh: {"type":"beacon","from":"EQX","skills":[]}`,
		`MESH:{"type":"beacon","from":"EQX","skills":[]}`,  // no space: valid
		`MESH: {"type":"beacon","from":"EQX","skills":[]}`, // one space: valid
		`not a mesh message`,
		``,
	}
	wantOK := []bool{false, true, true, false, false}
	for i, c := range cases {
		_, ok := Parse(c)
		if ok != wantOK[i] {
			t.Errorf("Parse(%q) ok=%v, want %v", c, ok, wantOK[i])
		}
	}
}

func TestParseTwoSpacesRejected(t *testing.T) {
	if _, ok := Parse(`MESH:  {"type":"beacon","from":"EQX","skills":[]}`); ok {
		t.Fatalf("expected two-space prefix to be rejected")
	}
}

func TestParseUnknownTypeRejected(t *testing.T) {
	if _, ok := Parse(`MESH: {"type":"flerp","from":"EQX"}`); ok {
		t.Fatalf("expected unknown type to be rejected")
	}
}

func TestParseMissingRequiredField(t *testing.T) {
	if _, ok := Parse(`MESH: {"type":"beacon","skills":["analytics"]}`); ok {
		t.Fatalf("expected missing 'from' to be rejected")
	}
}

func TestParseIntentRangeChecks(t *testing.T) {
	base := `{"type":"intent","id":"i1","from":"EQX","skill":"analytics","budget":"1.0"`
	if _, ok := Parse("MESH: " + base + `,"deadline":0,"minReputation":0}`); ok {
		t.Fatalf("expected deadline<=0 to be rejected")
	}
	if _, ok := Parse("MESH: " + base + `,"deadline":100,"minReputation":-1}`); ok {
		t.Fatalf("expected negative minReputation to be rejected")
	}
	if _, ok := Parse("MESH: " + base + `,"deadline":100,"minReputation":0}`); !ok {
		t.Fatalf("expected valid intent to parse")
	}
}

func TestParseSettleRatingRange(t *testing.T) {
	base := `{"type":"settle","intentId":"i1","from":"EQY","txHash":"0xabc","outcome":"success"`
	if _, ok := Parse("MESH: " + base + `,"rating":0}`); ok {
		t.Fatalf("expected rating 0 rejected")
	}
	if _, ok := Parse("MESH: " + base + `,"rating":11}`); ok {
		t.Fatalf("expected rating 11 rejected")
	}
	if _, ok := Parse("MESH: " + base + `,"rating":10}`); !ok {
		t.Fatalf("expected rating 10 accepted")
	}
}

func TestParseExtraFieldsDropped(t *testing.T) {
	m, ok := Parse(`MESH: {"type":"beacon","from":"EQX","skills":["a"],"bogusField":"x"}`)
	if !ok {
		t.Fatalf("expected parse to succeed")
	}
	text := Serialize(m)
	if strings.Contains(text, "bogusField") {
		t.Fatalf("expected serialized output to drop unknown fields, got %s", text)
	}
}

func TestVersionDefault(t *testing.T) {
	m, ok := Parse(`MESH: {"type":"beacon","from":"EQX","skills":[]}`)
	if !ok {
		t.Fatalf("expected parse to succeed")
	}
	b := m.(*Beacon)
	if b.V != DefaultVersion {
		t.Fatalf("V = %q, want default %q", b.V, DefaultVersion)
	}
}

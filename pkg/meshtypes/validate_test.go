package meshtypes

import "testing"

func TestValidateNewIntent(t *testing.T) {
	now := int64(1000)
	in := &Intent{Skill: "analytics", Budget: "1.0", Deadline: now + 60, MinReputation: 50}
	if err := in.ValidateNew(now, DefaultMaxIntentDeadlineSeconds, DefaultMaxPayloadBytes); err != nil {
		t.Fatalf("expected valid intent, got %v", err)
	}
}

func TestValidateNewIntentPastDeadline(t *testing.T) {
	now := int64(1000)
	in := &Intent{Skill: "analytics", Budget: "1.0", Deadline: now - 1, MinReputation: 0}
	if err := in.ValidateNew(now, DefaultMaxIntentDeadlineSeconds, DefaultMaxPayloadBytes); err == nil {
		t.Fatalf("expected error for past deadline")
	}
}

func TestValidateNewIntentBeyondHorizon(t *testing.T) {
	now := int64(1000)
	in := &Intent{Skill: "analytics", Budget: "1.0", Deadline: now + 99999, MinReputation: 0}
	if err := in.ValidateNew(now, DefaultMaxIntentDeadlineSeconds, DefaultMaxPayloadBytes); err == nil {
		t.Fatalf("expected error for deadline beyond horizon")
	}
}

func TestValidateOfferFeeExceedsBudget(t *testing.T) {
	in := &Intent{Budget: "1.0"}
	if err := in.ValidateOffer("1.5"); err == nil {
		t.Fatalf("expected error for fee > budget")
	}
	if err := in.ValidateOffer("0.5"); err != nil {
		t.Fatalf("expected valid offer, got %v", err)
	}
}

func TestValidateRating(t *testing.T) {
	for _, r := range []int64{0, 11, -1} {
		if err := ValidateRating(r); err == nil {
			t.Fatalf("expected error for rating %d", r)
		}
	}
	for _, r := range []int64{1, 5, 10} {
		if err := ValidateRating(r); err != nil {
			t.Fatalf("expected valid rating %d, got %v", r, err)
		}
	}
}

func TestOfferID(t *testing.T) {
	got := OfferID("i1", "EQY", 12345)
	want := "i1:EQY:12345"
	if got != want {
		t.Fatalf("OfferID() = %q, want %q", got, want)
	}
}

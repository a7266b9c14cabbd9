package trade

import (
	"errors"
	"strings"
	"testing"
	"time"
)

var base = time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

func TestTouchInitializesMissingSession(t *testing.T) {
	s, initialized := Touch(nil, "alice", base, DefaultTTL)
	if !initialized {
		t.Fatal("expected a new session")
	}
	if s.Player != "alice" || s.Target != "" || s.Accepted || len(s.Offer) != 0 || s.Offer == nil {
		t.Fatalf("unexpected defaults: %+v", s)
	}
	if !s.UpdatedAt.Equal(base) {
		t.Fatalf("expected updatedAt %v, got %v", base, s.UpdatedAt)
	}
}

func TestTouchRefreshesLiveSession(t *testing.T) {
	s := NewSession("alice", base)
	s.Target = "bob"
	id := s.ID

	got, initialized := Touch(s, "alice", base.Add(29*time.Minute), DefaultTTL)
	if initialized {
		t.Fatal("live session must not be reset")
	}
	if got.Target != "bob" || got.ID != id {
		t.Fatalf("expected the same session, got %+v", got)
	}
	if !got.UpdatedAt.Equal(base.Add(29 * time.Minute)) {
		t.Fatalf("timestamp not refreshed: %v", got.UpdatedAt)
	}
}

func TestTouchResetsExpiredSession(t *testing.T) {
	s := NewSession("alice", base)
	s.Target = "bob"
	s.Accepted = true
	s.Offer = []string{"sword"}

	got, initialized := Touch(s, "alice", base.Add(31*time.Minute), DefaultTTL)
	if !initialized {
		t.Fatal("expired session must be replaced")
	}
	if got.Target != "" || got.Accepted || len(got.Offer) != 0 {
		t.Fatalf("stale data leaked: %+v", got)
	}
	if got.ID == s.ID {
		t.Fatal("expected a new session id")
	}
}

func TestOfferIsASet(t *testing.T) {
	s := NewSession("alice", base)
	p := DefaultPolicy()
	if !s.AddOfferItem("sword", p) {
		t.Fatal("first add must change the offer")
	}
	if s.AddOfferItem("sword", p) {
		t.Fatal("second add must be a no-op")
	}
	if len(s.Offer) != 1 || s.Offer[0] != "sword" {
		t.Fatalf("unexpected offer: %v", s.Offer)
	}
	if s.RemoveOfferItem("shield", p) {
		t.Fatal("removing an absent item must be a no-op")
	}
	if len(s.Offer) != 1 {
		t.Fatalf("offer changed by no-op remove: %v", s.Offer)
	}
	if !s.RemoveOfferItem("sword", p) || len(s.Offer) != 0 {
		t.Fatalf("expected empty offer, got %v", s.Offer)
	}
}

func TestDefaultPolicyKeepsAcceptanceOnChange(t *testing.T) {
	s := NewSession("alice", base)
	s.Accept()
	s.AddOfferItem("sword", DefaultPolicy())
	s.SetTarget("carol", DefaultPolicy())
	if !s.Accepted {
		t.Fatal("default policy must not clear acceptance")
	}
}

func TestStrictPolicyClearsAcceptanceOnChange(t *testing.T) {
	p := Policy{TTL: DefaultTTL, ResetAcceptOnChange: true}

	s := NewSession("alice", base)
	s.AddOfferItem("sword", p)
	s.Accept()
	s.AddOfferItem("sword", p)
	if !s.Accepted {
		t.Fatal("a no-op add must not clear acceptance")
	}
	s.RemoveOfferItem("sword", p)
	if s.Accepted {
		t.Fatal("removing an item must clear acceptance")
	}

	s.Accept()
	s.SetTarget("bob", p)
	if s.Accepted {
		t.Fatal("retargeting must clear acceptance")
	}
}

func TestCloneDoesNotShareOffer(t *testing.T) {
	s := NewSession("alice", base)
	s.AddOfferItem("sword", DefaultPolicy())
	c := s.Clone()
	c.Offer[0] = "axe"
	if s.Offer[0] != "sword" {
		t.Fatal("clone shares the offer slice")
	}
}

func TestValidatePlayer(t *testing.T) {
	if err := ValidatePlayer("user", "alice"); err != nil {
		t.Fatalf("expected valid player: %v", err)
	}
	bad := []string{"", "   ", strings.Repeat("a", MaxPlayerLength+1)}
	for _, v := range bad {
		err := ValidatePlayer("user", v)
		if !errors.Is(err, ErrInvalidInput) {
			t.Fatalf("expected ErrInvalidInput for %q, got %v", v, err)
		}
	}
}

func TestValidateItem(t *testing.T) {
	if err := ValidateItem("sword"); err != nil {
		t.Fatalf("expected valid item: %v", err)
	}
	if err := ValidateItem(""); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
	if err := ValidateItem(strings.Repeat("x", MaxItemLength+1)); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
}

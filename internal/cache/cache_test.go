package cache

import (
	"context"
	"testing"
	"time"
)

func TestDisabledCache(t *testing.T) {
	c, err := New("", false)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if c.IsEnabled() {
		t.Error("expected disabled cache")
	}

	ctx := context.Background()
	if err := c.Set(ctx, "k", "v", time.Minute); err != nil {
		t.Errorf("Set on disabled cache: %v", err)
	}

	var got string
	err = c.Get(ctx, "k", &got)
	if !IsMiss(err) {
		t.Errorf("expected miss from disabled cache, got %v", err)
	}

	if err := c.Delete(ctx, "k"); err != nil {
		t.Errorf("Delete on disabled cache: %v", err)
	}
	if err := c.Close(); err != nil {
		t.Errorf("Close on disabled cache: %v", err)
	}
}

func TestDisabledCache_Roster(t *testing.T) {
	c, _ := New("", false)
	ctx := context.Background()

	if err := c.SetRoster(ctx, "patient", []string{"0xabc"}, time.Minute); err != nil {
		t.Errorf("SetRoster: %v", err)
	}
	if _, err := c.GetRoster(ctx, "patient"); !IsMiss(err) {
		t.Errorf("expected roster miss, got %v", err)
	}
	if err := c.InvalidateRoster(ctx, "patient"); err != nil {
		t.Errorf("InvalidateRoster: %v", err)
	}
}

// With the cache disabled a denied token still reads as valid, so
// logout degrades to a client-side token discard.
func TestDisabledCache_TokenDenylist(t *testing.T) {
	c, _ := New("", false)
	ctx := context.Background()

	if err := c.DenyToken(ctx, "some.jwt.token", time.Hour); err != nil {
		t.Errorf("DenyToken: %v", err)
	}
	denied, err := c.IsTokenDenied(ctx, "some.jwt.token")
	if err != nil {
		t.Errorf("IsTokenDenied: %v", err)
	}
	if denied {
		t.Error("disabled cache should never report a token as denied")
	}
}

func TestHashToken(t *testing.T) {
	a := hashToken("token-a")
	b := hashToken("token-b")
	if a == b {
		t.Error("distinct tokens must hash differently")
	}
	if a != hashToken("token-a") {
		t.Error("hash must be deterministic")
	}
	if len(a) != 64 {
		t.Errorf("expected 64 hex chars, got %d", len(a))
	}
}

func TestKeyBuilding(t *testing.T) {
	c := &Cache{keyPrefix: "careledger"}
	if got := c.key("roster", "patient"); got != "careledger:roster:patient" {
		t.Errorf("unexpected key: %q", got)
	}
}

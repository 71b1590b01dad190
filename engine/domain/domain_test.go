package domain

import (
	"context"
	"errors"
	"fmt"
	"math"
	"testing"
	"time"
)

func TestStatusTransitions(t *testing.T) {
	tests := []struct {
		from, to InteractionStatus
		ok       bool
	}{
		{StatusNew, StatusScheduled, true},
		{StatusNew, StatusIgnored, true},
		{StatusScheduled, StatusPosted, true},
		{StatusNew, StatusPosted, false},
		{StatusPosted, StatusNew, false},
		{StatusIgnored, StatusScheduled, false},
	}
	for _, tt := range tests {
		if got := tt.from.CanTransition(tt.to); got != tt.ok {
			t.Errorf("%s -> %s = %v, want %v", tt.from, tt.to, got, tt.ok)
		}
	}
	if !StatusPosted.Terminal() || !StatusIgnored.Terminal() || StatusScheduled.Terminal() {
		t.Fatal("terminal states wrong")
	}
}

func TestCredentialTokenValidAt(t *testing.T) {
	now := time.Now()
	tok := CredentialToken{AccessToken: "a", Expiry: now.Add(10 * time.Minute)}
	if !tok.ValidAt(now, 5*time.Minute) {
		t.Fatal("expected valid")
	}
	if tok.ValidAt(now.Add(6*time.Minute), 5*time.Minute) {
		t.Fatal("expected expired inside margin")
	}
	if (CredentialToken{AccessToken: "a"}).ValidAt(now, 0) {
		t.Fatal("unknown expiry must not be valid")
	}
}

func TestValidateItem(t *testing.T) {
	ok := DiscoveredItem{ID: "t3_x", SourceID: "golang", CreatedAt: time.Now()}
	if err := ValidateItem(ok); err != nil {
		t.Fatal(err)
	}
	bad := ok
	bad.SourceID = " "
	err := ValidateItem(bad)
	var ve *ValidationError
	if !errors.As(err, &ve) || ve.Field != "source_id" || !errors.Is(err, ErrInvalid) {
		t.Fatalf("unexpected error %v", err)
	}
}

func TestValidateVector(t *testing.T) {
	tests := []struct {
		name string
		v    []float32
		dims int
		ok   bool
	}{
		{"good", []float32{0.1, 0.2, 0.3}, 3, true},
		{"any length", []float32{1}, 0, true},
		{"empty", nil, 3, false},
		{"short", []float32{1, 2}, 3, false},
		{"nan", []float32{1, float32(math.NaN()), 3}, 3, false},
		{"inf", []float32{float32(math.Inf(1))}, 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateVector(tt.v, tt.dims)
			if (err == nil) != tt.ok {
				t.Fatalf("err = %v", err)
			}
			if err != nil && !errors.Is(err, ErrMalformed) {
				t.Fatalf("expected ErrMalformed, got %v", err)
			}
		})
	}
}

func TestKind(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{nil, "ok"},
		{fmt.Errorf("x: %w", context.DeadlineExceeded), "timeout"},
		{&CredentialError{TenantID: "t1", Err: errors.New("invalid_grant")}, "credential"},
		{Malformed("classification", "bad json"), "malformed"},
		{fmt.Errorf("bob: %w", ErrMissingActor), "malformed"},
		{fmt.Errorf("429: %w", ErrRateLimited), "rate_limited"},
		{ErrTransient, "transient"},
		{errors.New("other"), "error"},
	}
	for _, tt := range tests {
		if got := Kind(tt.err); got != tt.want {
			t.Errorf("Kind(%v) = %q, want %q", tt.err, got, tt.want)
		}
	}
}

func TestClampScore(t *testing.T) {
	if ClampScore(-5) != 0 || ClampScore(150) != 100 || ClampScore(42) != 42 {
		t.Fatal("clamp wrong")
	}
}

func TestEventKeyNormalizesActor(t *testing.T) {
	tests := []struct{ actor, want string }{
		{"alice", "alice"},
		{"Alice", "alice"},
		{"  BOB ", "bob"},
		{"", ""},
	}
	for _, tt := range tests {
		got := InteractionEvent{TenantID: "T", Actor: tt.actor}.Key()
		if got != (ActorKey{TenantID: "T", Actor: tt.want}) {
			t.Errorf("Key(%q) = %v", tt.actor, got)
		}
	}
}

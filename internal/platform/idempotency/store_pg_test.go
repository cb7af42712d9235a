package idempotency

import (
	"testing"
	"time"
)

func TestNewPGStore_HonorsConfiguredTTL(t *testing.T) {
	s := NewPGStore(nil, 2*time.Hour)
	if s.ttl != 2*time.Hour {
		t.Errorf("expected configured ttl 2h, got %s", s.ttl)
	}
}

func TestNewPGStore_DefaultsTTL(t *testing.T) {
	for _, ttl := range []time.Duration{0, -time.Minute} {
		s := NewPGStore(nil, ttl)
		if s.ttl != DefaultTTL {
			t.Errorf("ttl %s: expected DefaultTTL %s, got %s", ttl, DefaultTTL, s.ttl)
		}
	}
}

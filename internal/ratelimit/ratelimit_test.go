package ratelimit

import (
	"errors"
	"testing"
)

func TestLimiter_Unlimited(t *testing.T) {
	l := NewLimiter(Config{})
	for i := 0; i < 100; i++ {
		if err := l.Allow("anyone"); err != nil {
			t.Fatalf("Allow in unlimited mode = %v", err)
		}
	}
}

func TestLimiter_BurstExhaustion(t *testing.T) {
	l := NewLimiter(Config{RequestsPerMinute: 60, BurstSize: 3})

	for i := 0; i < 3; i++ {
		if err := l.Allow("client-a"); err != nil {
			t.Fatalf("Allow %d = %v, want nil", i, err)
		}
	}
	if err := l.Allow("client-a"); !errors.Is(err, ErrRateLimited) {
		t.Errorf("Allow after burst = %v, want ErrRateLimited", err)
	}
}

func TestLimiter_IndependentBuckets(t *testing.T) {
	l := NewLimiter(Config{RequestsPerMinute: 60, BurstSize: 1})

	if err := l.Allow("client-a"); err != nil {
		t.Fatalf("Allow = %v", err)
	}
	if err := l.Allow("client-a"); !errors.Is(err, ErrRateLimited) {
		t.Fatalf("Allow = %v, want ErrRateLimited", err)
	}
	// A different client still has a full bucket.
	if err := l.Allow("client-b"); err != nil {
		t.Errorf("Allow for fresh client = %v, want nil", err)
	}
}

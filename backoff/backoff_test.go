package backoff_test

import (
	"testing"
	"time"

	"github.com/spoolq/spool/backoff"
)

func TestConstant_ReturnsFixedDelay(t *testing.T) {
	c := backoff.NewConstant(5 * time.Second)
	for attempt := 1; attempt <= 10; attempt++ {
		if got := c.Delay(attempt); got != 5*time.Second {
			t.Errorf("Delay(%d) = %v, want %v", attempt, got, 5*time.Second)
		}
	}
}

func TestLinear_GrowsLinearly(t *testing.T) {
	l := backoff.NewLinear(time.Second, time.Minute)

	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{1, 1 * time.Second},
		{2, 2 * time.Second},
		{3, 3 * time.Second},
		{10, 10 * time.Second},
	}
	for _, tt := range tests {
		if got := l.Delay(tt.attempt); got != tt.want {
			t.Errorf("Delay(%d) = %v, want %v", tt.attempt, got, tt.want)
		}
	}
}

func TestLinear_CapsAtMax(t *testing.T) {
	l := backoff.NewLinear(time.Second, 5*time.Second)

	if got := l.Delay(100); got != 5*time.Second {
		t.Errorf("Delay(100) = %v, want %v (capped at Max)", got, 5*time.Second)
	}
}

func TestExponential_DoublesEachAttempt(t *testing.T) {
	e := backoff.NewExponential(time.Second, 30*time.Second)

	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{1, 1 * time.Second},  // 1 * 2^0
		{2, 2 * time.Second},  // 1 * 2^1
		{3, 4 * time.Second},  // 1 * 2^2
		{4, 8 * time.Second},  // 1 * 2^3
		{5, 16 * time.Second}, // 1 * 2^4
	}
	for _, tt := range tests {
		if got := e.Delay(tt.attempt); got != tt.want {
			t.Errorf("Delay(%d) = %v, want %v", tt.attempt, got, tt.want)
		}
	}
}

func TestExponential_CapsAtMax(t *testing.T) {
	e := backoff.NewExponential(time.Second, 30*time.Second)

	// 2^5 = 32s and every attempt after must cap at 30s.
	for _, attempt := range []int{6, 7, 20} {
		if got := e.Delay(attempt); got != 30*time.Second {
			t.Errorf("Delay(%d) = %v, want %v (capped at Max)", attempt, got, 30*time.Second)
		}
	}
}

func TestExponentialWithJitter_StaysWithinCeiling(t *testing.T) {
	e := backoff.NewExponentialWithJitter(time.Second, 30*time.Second)

	for attempt := 1; attempt <= 10; attempt++ {
		ceiling := 30 * time.Second
		if attempt <= 5 {
			ceiling = time.Second << (attempt - 1)
		}
		for range 50 {
			got := e.Delay(attempt)
			if got < 0 || got > ceiling {
				t.Fatalf("Delay(%d) = %v, want within [0, %v]", attempt, got, ceiling)
			}
		}
	}
}

func TestDefaultStrategy_MatchesDocumentedCurve(t *testing.T) {
	s := backoff.DefaultStrategy()

	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{1, 1 * time.Second},
		{2, 2 * time.Second},
		{3, 4 * time.Second},
		{6, 30 * time.Second},
		{12, 30 * time.Second},
	}
	for _, tt := range tests {
		if got := s.Delay(tt.attempt); got != tt.want {
			t.Errorf("Delay(%d) = %v, want %v", tt.attempt, got, tt.want)
		}
	}
}

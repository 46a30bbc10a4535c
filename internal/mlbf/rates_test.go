package mlbf

import (
	"math"
	"testing"
)

func TestErrorRates(t *testing.T) {
	t.Parallel()

	rates := ErrorRates(10, 100)

	if len(rates) != 2 {
		t.Fatalf("expected 2 rates, got %d", len(rates))
	}

	want := 10.0 / (math.Sqrt2 * 100.0)
	if rates[0] != want {
		t.Errorf("first rate = %v, want %v", rates[0], want)
	}

	if rates[1] != 0.5 {
		t.Errorf("second rate = %v, want 0.5", rates[1])
	}
}

func TestErrorRatesZeroRevoked(t *testing.T) {
	t.Parallel()

	rates := ErrorRates(0, 100)

	if rates[0] != 0 {
		t.Errorf("first rate = %v, want 0", rates[0])
	}
}

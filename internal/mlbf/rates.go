package mlbf

import "math"

// ErrorRates returns the per-layer false-positive-rate schedule for a
// cascade covering revoked included certs against valid excluded certs.
//
// The first layer is tuned against the full valid population; every layer
// after it only has to correct the previous layer's false positives, so a
// flat 0.5 suffices. The sqrt(2) divisor is load-bearing: prior builds were
// sized with it, and structural comparability with them depends on
// reproducing it exactly.
//
// Undefined when valid is zero; callers must guard.
func ErrorRates(revoked, valid int) []float64 {
	return []float64{float64(revoked) / (math.Sqrt2 * float64(valid)), 0.5}
}

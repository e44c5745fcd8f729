package metrics

import "time"

// Counter and latency names emitted by the verifier.
const (
	// Verifications counts finished verifications, labelled by outcome.
	Verifications = "verifications"
	// LedgerDegraded counts ledger reads that fell back to their safe default,
	// labelled by outcome ("claim" or "balance").
	LedgerDegraded = "ledger_degraded"

	// VerifyLatency times one full pipeline run.
	VerifyLatency = "verify"
)

type Recorder interface {
	IncCounter(name string, labels map[string]string)
	ObserveLatency(name string, duration time.Duration, labels map[string]string)
}

package metrics

import (
	"strings"
	"time"
)

type verificationCollector struct {
	evaluations *counterVec
	verdicts    *counterVec
	submissions *counterVec
	fallbacks   *counterVec
	rounds      *histogramVec
}

func newVerificationCollector() *verificationCollector {
	return &verificationCollector{
		evaluations: newCounterVec("dvn_evaluations_total",
			"Verifier evaluations by specialization and decision.", "specialization", "decision"),
		verdicts: newCounterVec("dvn_verdicts_total",
			"Consensus verdicts by state.", "state"),
		submissions: newCounterVec("dvn_chain_submissions_total",
			"Chain submissions by kind and outcome.", "kind", "outcome"),
		fallbacks: newCounterVec("dvn_contentstore_fallbacks_total",
			"Packages addressed by hash after the content store failed."),
		rounds: newHistogramVec("dvn_round_duration_seconds",
			"Verification round duration in seconds.", defaultBuckets),
	}
}

var verification = newVerificationCollector()

// ObserveEvaluation counts one verifier decision.
func ObserveEvaluation(specialization string, approved bool) {
	decision := "rejected"
	if approved {
		decision = "approved"
	}
	verification.evaluations.inc(specialization, decision)
}

// ObserveVerdict counts a consensus verdict by state and records how long the
// round took.
func ObserveVerdict(state string, duration time.Duration) {
	verification.verdicts.inc(state)
	verification.rounds.observe(duration.Seconds())
}

// ObserveChainSubmission counts a chain submission. kind is "poa" or
// "attestation"; outcome is the submission status.
func ObserveChainSubmission(kind, outcome string) {
	verification.submissions.inc(kind, outcome)
}

// ObserveContentStoreFallback counts a package whose content address fell
// back to its hash.
func ObserveContentStoreFallback() {
	verification.fallbacks.inc()
}

func (c *verificationCollector) render(b *strings.Builder) {
	c.evaluations.write(b)
	c.verdicts.write(b)
	c.submissions.write(b)
	c.fallbacks.write(b)
	c.rounds.write(b)
}

package surveillance

import (
	"fmt"

	"vigil/internal/biometric"
)

// Anomaly is a higher-order pattern the detector classified from the
// ordered stream of check outcomes.
type Anomaly struct {
	Kind   ViolationKind
	Detail string
}

// Detector consumes one session's face-check outcomes in initiation order
// and classifies the patterns a single verdict cannot show: absence runs,
// sharp identity changes, and evasion by repeated short dips. It is not
// safe for concurrent use; the owning session serializes all calls.
type Detector struct {
	policy Policy

	// absence episode tracking
	absentRun     int
	absenceRaised bool

	// trailing fused scores of accepted checks
	accepted []float64

	// isolated-dip bookkeeping for pattern evasion
	checkIndex  int
	prevOutcome biometric.Decision
	prevPrevOK  bool
	dipIndexes  []int
}

func NewDetector(policy Policy) *Detector {
	return &Detector{policy: policy, prevPrevOK: true}
}

// ObserveInconclusive records a face check that produced no usable signal.
// A run reaching the absence threshold raises exactly one absence anomaly;
// the episode re-arms only after a conclusive check.
func (d *Detector) ObserveInconclusive() []Anomaly {
	d.absentRun++
	d.prevOutcome = ""
	if d.absentRun >= d.policy.AbsenceThreshold && !d.absenceRaised {
		d.absenceRaised = true
		return []Anomaly{{
			Kind:   ViolationAbsence,
			Detail: fmt.Sprintf("%d consecutive checks with no usable signal", d.absentRun),
		}}
	}
	return nil
}

// ObserveVerdict records a conclusive face verdict and returns any
// anomalies it completes.
func (d *Detector) ObserveVerdict(v biometric.Verdict) []Anomaly {
	d.absentRun = 0
	d.absenceRaised = false
	d.checkIndex++

	var out []Anomaly
	if a := d.identityChange(v); a != nil {
		out = append(out, *a)
	}
	if a := d.patternEvasion(v); a != nil {
		out = append(out, *a)
	}

	if v.Decision == biometric.DecisionAccept {
		d.accepted = append(d.accepted, v.FusedScore)
		if len(d.accepted) > d.policy.IdentityChangeWindow {
			d.accepted = d.accepted[1:]
		}
	}
	return out
}

// identityChange flags a fused score dropping sharply below the trailing
// mean of recent accepted checks: a different person, not a bad frame. The
// trailing window resets after a hit so the new baseline forms cleanly.
func (d *Detector) identityChange(v biometric.Verdict) *Anomaly {
	if len(d.accepted) < d.policy.IdentityChangeWindow {
		return nil
	}
	var sum float64
	for _, s := range d.accepted {
		sum += s
	}
	mean := sum / float64(len(d.accepted))
	if mean-v.FusedScore <= d.policy.IdentityChangeDelta {
		return nil
	}
	d.accepted = d.accepted[:0]
	return &Anomaly{
		Kind:   ViolationIdentityChange,
		Detail: fmt.Sprintf("fused score %.2f dropped %.2f below trailing mean %.2f", v.FusedScore, mean-v.FusedScore, mean),
	}
}

// patternEvasion counts isolated dips: a single reject bracketed by
// accepts, each individually recovered. Enough of them inside the
// inspection window is deliberate probing, not noise.
func (d *Detector) patternEvasion(v biometric.Verdict) *Anomaly {
	// An isolated dip is only confirmed once the following accept lands.
	if v.Decision == biometric.DecisionAccept && d.prevOutcome == biometric.DecisionReject && d.prevPrevOK {
		d.dipIndexes = append(d.dipIndexes, d.checkIndex-1)
	}
	d.prevPrevOK = d.prevOutcome == biometric.DecisionAccept || d.prevOutcome == ""
	d.prevOutcome = v.Decision

	cutoff := d.checkIndex - d.policy.EvasionWindow
	kept := d.dipIndexes[:0]
	for _, idx := range d.dipIndexes {
		if idx > cutoff {
			kept = append(kept, idx)
		}
	}
	d.dipIndexes = kept

	if len(d.dipIndexes) < d.policy.EvasionDipCount {
		return nil
	}
	n := len(d.dipIndexes)
	d.dipIndexes = d.dipIndexes[:0]
	return &Anomaly{
		Kind:   ViolationPatternEvasion,
		Detail: fmt.Sprintf("%d isolated score dips within the last %d checks", n, d.policy.EvasionWindow),
	}
}

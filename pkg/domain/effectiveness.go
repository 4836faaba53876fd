package domain

import (
	"fmt"
	"strings"
	"time"
)

// Mode selects how an outcome is folded into an effectiveness record.
// The zero value is deliberately invalid so callers always choose.
type Mode int

const (
	ModeUnspecified Mode = iota
	// ModeAccumulate adds the outcome to the running statistics.
	ModeAccumulate
	// ModeOverwrite replaces the statistics with the single outcome.
	ModeOverwrite
)

func (m Mode) String() string {
	switch m {
	case ModeAccumulate:
		return "accumulate"
	case ModeOverwrite:
		return "overwrite"
	default:
		return "unspecified"
	}
}

// Validate returns ErrModeRequired unless m is accumulate or overwrite.
func (m Mode) Validate() error {
	if m != ModeAccumulate && m != ModeOverwrite {
		return ErrModeRequired
	}
	return nil
}

// ParseMode maps "accumulate" / "overwrite" to a Mode.
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "accumulate":
		return ModeAccumulate, nil
	case "overwrite":
		return ModeOverwrite, nil
	}
	return ModeUnspecified, fmt.Errorf("%w: got %q", ErrModeRequired, s)
}

// Outcome is one observed application of a rule.
type Outcome struct {
	Success     bool
	Improvement float64
}

// NewOutcome derives an outcome from a before/after metric where lower is
// better. Success requires the caller's claim and a strictly positive
// improvement; unsuccessful outcomes carry zero improvement.
func NewOutcome(previous, current float64, claimedSuccess bool) Outcome {
	improvement := previous - current
	if !claimedSuccess || improvement <= 0 {
		return Outcome{}
	}
	return Outcome{Success: true, Improvement: improvement}
}

func (o Outcome) successDelta() int {
	if o.Success {
		return 1
	}
	return 0
}

func (o Outcome) contribution() float64 {
	if o.Success {
		return o.Improvement
	}
	return 0
}

// Fold applies an outcome to prev. When prev is nil a new record is seeded.
// The returned record carries prev's identity and at as its LastAppliedAt.
func Fold(prev *RuleEffectiveness, o Outcome, mode Mode, at time.Time) (RuleEffectiveness, error) {
	if err := mode.Validate(); err != nil {
		return RuleEffectiveness{}, err
	}
	seed := RuleEffectiveness{
		TimesApplied:   1,
		SuccessCount:   o.successDelta(),
		AvgImprovement: o.contribution(),
		LastAppliedAt:  at,
	}
	if prev == nil {
		return seed, nil
	}
	next := *prev
	next.LastAppliedAt = at
	if mode == ModeOverwrite {
		next.TimesApplied = seed.TimesApplied
		next.SuccessCount = seed.SuccessCount
		next.AvgImprovement = seed.AvgImprovement
		return next, nil
	}
	newSuccess := prev.SuccessCount + o.successDelta()
	if newSuccess > 0 {
		next.AvgImprovement = (prev.AvgImprovement*float64(prev.SuccessCount) + o.contribution()) / float64(newSuccess)
	}
	next.TimesApplied = prev.TimesApplied + 1
	next.SuccessCount = newSuccess
	return next, nil
}

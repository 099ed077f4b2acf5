package pipeline

import (
	"encoding/json"

	"github.com/stepsnap/stepsnap/internal/session"
)

// Outcome says what became of a submitted interaction event.
type Outcome int

const (
	OutcomeProduced     Outcome = iota // a step was committed
	OutcomeNotCapturing                // no session, or not in capturing
	OutcomeLimitReached                // session is at its step cap
	OutcomeSuppressed                  // collapsed into the previous step
	OutcomeQueued                      // a run is in flight; parked in the slot
	OutcomeFailed                      // capture or image processing failed
	OutcomeWrongTab                    // event came from another tab
)

var outcomeNames = map[Outcome]string{
	OutcomeProduced:     "produced",
	OutcomeNotCapturing: "not_capturing",
	OutcomeLimitReached: "limit_reached",
	OutcomeSuppressed:   "suppressed",
	OutcomeQueued:       "queued",
	OutcomeFailed:       "failed",
	OutcomeWrongTab:     "wrong_tab",
}

func (o Outcome) String() string {
	if n, ok := outcomeNames[o]; ok {
		return n
	}
	return "unknown"
}

func (o Outcome) MarshalJSON() ([]byte, error) {
	return json.Marshal(o.String())
}

// SubmitResult is the immediate resolution of Submit. Step is set only for
// OutcomeProduced and Err only for OutcomeFailed.
type SubmitResult struct {
	Outcome Outcome       `json:"outcome"`
	Step    *session.Step `json:"step,omitempty"`
	Err     error         `json:"-"`
}

// Produced reports whether the submit resulted in a new step.
func (r SubmitResult) Produced() bool {
	return r.Outcome == OutcomeProduced
}

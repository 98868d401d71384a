package rules

// EffectKind classifies an entry of the effect log
type EffectKind string

const (
	EffectKindLog          EffectKind = "log"
	EffectKindUpdate       EffectKind = "update"
	EffectKindExternalCall EffectKind = "external_call"
	EffectKindEvent        EffectKind = "event"
	EffectKindFailed       EffectKind = "failed"
)

// Effect records the outcome of one applied action.
// External calls and events are intents for the host to carry out.
type Effect struct {
	RuleID    string
	Kind      EffectKind
	Message   string
	Field     string
	Value     Value
	Endpoint  string
	EventType string
	Payload   map[string]Value
	Err       error
}

// Failed reports whether the effect records an action failure
func (e Effect) Failed() bool {
	return e.Kind == EffectKindFailed
}

// EffectLog is the ordered record of action outcomes for one evaluation.
// Entries follow rule priority order, then action order within a rule.
type EffectLog struct {
	entries []Effect
}

func (l *EffectLog) record(e Effect) {
	l.entries = append(l.entries, e)
}

// Entries returns a copy of the recorded effects in order
func (l *EffectLog) Entries() []Effect {
	out := make([]Effect, len(l.entries))
	copy(out, l.entries)
	return out
}

// Len returns the number of recorded effects
func (l *EffectLog) Len() int {
	return len(l.entries)
}

// Failures returns only the failed entries
func (l *EffectLog) Failures() []Effect {
	return failedEffects(l.entries)
}

func failedEffects(entries []Effect) []Effect {
	var failed []Effect
	for _, e := range entries {
		if e.Failed() {
			failed = append(failed, e)
		}
	}
	return failed
}

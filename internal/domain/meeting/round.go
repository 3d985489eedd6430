package meeting

// RoundMode is the policy phase of a review round.
type RoundMode string

const (
	ModeParallelRemediation RoundMode = "parallel_remediation"
	ModeMergeSynthesis      RoundMode = "merge_synthesis"
	ModeFinalDecision       RoundMode = "final_decision"
)

// ModeFor maps a round number to its mode.
func ModeFor(round int) RoundMode {
	switch {
	case round <= 1:
		return ModeParallelRemediation
	case round == 2:
		return ModeMergeSynthesis
	default:
		return ModeFinalDecision
	}
}

// AllowsRemediation reports whether a blocking hold may pause the round.
func (m RoundMode) AllowsRemediation() bool {
	return m == ModeParallelRemediation || m == ModeMergeSynthesis
}

// Outcome is the decision a completed review round recorded in its
// transcript as a system entry.
type Outcome string

const (
	OutcomeFinalize    Outcome = "finalize"
	OutcomeNextRound   Outcome = "next_round"
	OutcomeRemediation Outcome = "remediation"
)

// outcomeRole marks the system entry that carries a round outcome.
const outcomeRole = "outcome"

// OutcomeEntry builds the system entry recording o.
func OutcomeEntry(o Outcome) Entry {
	return Entry{Kind: EntrySystem, Role: outcomeRole, Text: string(o)}
}

// LastOutcome returns the latest outcome recorded in entries.
func LastOutcome(entries []Entry) (Outcome, bool) {
	for i := len(entries) - 1; i >= 0; i-- {
		if e := entries[i]; e.Kind == EntrySystem && e.Role == outcomeRole {
			return Outcome(e.Text), true
		}
	}
	return "", false
}

// OutcomeFor infers the outcome of a completed round that recorded none.
// Consolidation rounds always continue.
func OutcomeFor(round int) Outcome {
	if ModeFor(round) == ModeMergeSynthesis {
		return OutcomeNextRound
	}
	return OutcomeFinalize
}

package schedule

import "fmt"

// DecisionCompute maps evaluated facts to exactly one scheduling action:
//
//   - RetryAt when the failure is retryable and budget remains
//   - Fail when retry is not allowed and the retry budget is exhausted
//   - Wait when retry is not allowed but budget remains (pause, no progress)
func DecisionCompute(f Facts, in Input) Decision {
	switch {
	case f.RetryAllowed:
		return Decision{
			Action:           ActionRetryAt,
			AttemptIndex:     in.AttemptIndex,
			AttemptNextIndex: in.AttemptIndex + 1,
			NextDueAtNs:      in.NowNs + in.BackoffMs*int64(1_000_000),
		}
	case f.MaxRetriesReached:
		return Decision{
			Action:           ActionFail,
			AttemptIndex:     in.AttemptIndex,
			AttemptNextIndex: in.AttemptIndex,
		}
	default:
		return Decision{
			Action:           ActionWait,
			AttemptIndex:     in.AttemptIndex,
			AttemptNextIndex: in.AttemptIndex,
		}
	}
}

// ValidateDecision rejects decisions that violate the pause-only contract:
// a Wait that advances the attempt index is itself a contract violation and
// callers must refuse to act on it.
func ValidateDecision(d Decision) error {
	if d.Action == ActionWait && d.AttemptNextIndex != d.AttemptIndex {
		return fmt.Errorf("%w: wait advanced attempt index %d -> %d", ErrContract, d.AttemptIndex, d.AttemptNextIndex)
	}
	return nil
}

// Evaluate runs PolicyEvaluate and DecisionCompute as the pair callers use.
func Evaluate(in Input) (Facts, Decision, error) {
	facts, err := PolicyEvaluate(in)
	if err != nil {
		return Facts{}, Decision{}, err
	}
	return facts, DecisionCompute(facts, in), nil
}

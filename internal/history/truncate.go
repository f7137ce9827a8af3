package history

import (
	"strings"

	"github.com/suPer8Hu/ai-relay/internal/tokens"
)

// Result is the outcome of fitting a history into a token budget.
type Result struct {
	Turns      []Turn
	Transcript string
	// UsedTokens is the token cost of the retained transcript, as seen by
	// the counter that produced it.
	UsedTokens int
	// Truncated is set whenever the budget forced the eviction path, even
	// if nothing could be dropped.
	Truncated bool
	// BudgetExceeded is set when the retained history plus the incoming
	// query still does not fit.
	BudgetExceeded bool
	Evicted        int
}

// Truncator drops the oldest turns until a prompt fits its budget.
type Truncator struct {
	Counter tokens.Counter
}

// Fit trims turns so that used+incoming stays below limit.
//
// Evicted turns are accumulated into one evicted transcript and each
// eviction is charged the marginal cost of growing it, so the evicted text
// as a whole is subtracted exactly once. The newest turn is kept verbatim
// when it alone is larger than limit; the incoming query is never dropped.
func (t Truncator) Fit(turns []Turn, limit, used, incoming int) Result {
	if used < 0 {
		used = 0
	}
	if used+incoming < limit {
		return Result{
			Turns:      turns,
			Transcript: Transcript(turns),
			UsedTokens: used,
		}
	}

	retained := make([]Turn, len(turns))
	copy(retained, turns)
	res := Result{Truncated: true}

	// The client-reported total is a starting point; never trust it below
	// the real cost of what we are about to send.
	if actual := t.Counter.Count(Transcript(retained)); actual > used {
		used = actual
	}

	var evicted strings.Builder
	evictedCost := 0
	for len(retained) > 0 {
		if used+incoming < limit {
			actual := t.Counter.Count(Transcript(retained))
			if actual <= used {
				break
			}
			used = actual
			if used+incoming < limit {
				break
			}
		}
		if len(retained) == 1 && t.Counter.Count(retained[0].Line()) > limit {
			break
		}

		evicted.WriteString(retained[0].Line())
		total := t.Counter.Count(evicted.String())
		used -= total - evictedCost
		evictedCost = total
		retained = retained[1:]
		res.Evicted++
	}

	if len(retained) == 0 || used < 0 {
		used = 0
	}
	if len(retained) == 0 {
		retained = []Turn{}
	}

	res.Turns = retained
	res.Transcript = Transcript(retained)
	res.UsedTokens = used
	res.BudgetExceeded = used+incoming >= limit
	return res
}

package history

import (
	"fmt"
	"math/rand"
	"strings"
	"testing"

	"github.com/suPer8Hu/ai-relay/internal/tokens"
)

// wordCounter charges one token per whitespace-separated field, which makes
// turn costs easy to construct: a Line has 2 fields plus its words.
var wordCounter = tokens.CounterFunc(func(s string) int { return len(strings.Fields(s)) })

func words(n int, tag string) string {
	w := make([]string, n)
	for i := range w {
		w[i] = tag
	}
	return strings.Join(w, " ")
}

// turnOf builds a turn whose rendered Line costs exactly cost tokens.
func turnOf(cost int, tag string) Turn {
	u := (cost - 2) / 2
	b := cost - 2 - u
	return Turn{User: words(u, tag+"u"), Bot: words(b, tag+"b")}
}

func TestFit_UnderBudgetKeepsEverything(t *testing.T) {
	turns := []Turn{turnOf(10, "a"), turnOf(10, "b")}
	res := Truncator{Counter: wordCounter}.Fit(turns, 100, 20, 5)

	if res.Truncated || res.BudgetExceeded || res.Evicted != 0 {
		t.Fatalf("unexpected truncation: %+v", res)
	}
	if res.UsedTokens != 20 {
		t.Fatalf("UsedTokens = %d, want 20", res.UsedTokens)
	}
	if res.Transcript != turns[0].Line()+turns[1].Line() {
		t.Fatalf("unexpected transcript: %q", res.Transcript)
	}
}

func TestFit_EvictsOldestUntilUnderLimit(t *testing.T) {
	turns := []Turn{turnOf(100, "a"), turnOf(100, "b"), turnOf(100, "c")}
	res := Truncator{Counter: wordCounter}.Fit(turns, 350, 300, 80)

	if !res.Truncated {
		t.Fatalf("expected Truncated")
	}
	if res.Evicted < 1 {
		t.Fatalf("expected at least one eviction, got %d", res.Evicted)
	}
	if res.UsedTokens+80 >= 350 {
		t.Fatalf("used %d + 80 not below 350", res.UsedTokens)
	}
	if len(res.Turns) != 2 || res.Turns[0] != turns[1] || res.Turns[1] != turns[2] {
		t.Fatalf("expected the two newest turns to survive in order, got %d turns", len(res.Turns))
	}
	if res.BudgetExceeded {
		t.Fatalf("budget should be satisfied")
	}
	if want := turns[1].Line() + turns[2].Line(); res.Transcript != want {
		t.Fatalf("transcript not rebuilt chronologically")
	}
}

func TestFit_OversizedSingleTurnIsRetained(t *testing.T) {
	big := turnOf(500, "x")
	res := Truncator{Counter: wordCounter}.Fit([]Turn{big}, 400, 500, 10)

	if !res.Truncated || !res.BudgetExceeded {
		t.Fatalf("expected truncated and exceeded, got %+v", res)
	}
	if len(res.Turns) != 1 || res.Turns[0] != big {
		t.Fatalf("oversized turn should be retained verbatim")
	}
	if res.Transcript != big.Line() {
		t.Fatalf("transcript altered")
	}
}

func TestFit_OversizedNewestTurnSurvivesOlderEvictions(t *testing.T) {
	turns := []Turn{turnOf(50, "a"), turnOf(50, "b"), turnOf(500, "c")}
	res := Truncator{Counter: wordCounter}.Fit(turns, 400, 600, 10)

	if res.Evicted != 2 {
		t.Fatalf("Evicted = %d, want 2", res.Evicted)
	}
	if len(res.Turns) != 1 || res.Turns[0] != turns[2] {
		t.Fatalf("newest turn should be retained")
	}
	if !res.BudgetExceeded {
		t.Fatalf("expected BudgetExceeded")
	}
}

func TestFit_ExhaustsHistoryWhenQueryAloneIsTooBig(t *testing.T) {
	turns := []Turn{turnOf(20, "a"), turnOf(20, "b")}
	res := Truncator{Counter: wordCounter}.Fit(turns, 100, 40, 120)

	if len(res.Turns) != 0 || res.Transcript != "" {
		t.Fatalf("expected empty history, got %d turns", len(res.Turns))
	}
	if !res.Truncated || !res.BudgetExceeded {
		t.Fatalf("expected truncated and exceeded: %+v", res)
	}
	if res.UsedTokens != 0 {
		t.Fatalf("UsedTokens = %d, want 0", res.UsedTokens)
	}
}

func TestFit_UnderReportedUsageIsCorrected(t *testing.T) {
	turns := []Turn{turnOf(100, "a"), turnOf(100, "b"), turnOf(100, "c")}
	// client claims 250 but the transcript really costs 300
	res := Truncator{Counter: wordCounter}.Fit(turns, 260, 250, 20)

	if res.UsedTokens != 200 {
		t.Fatalf("UsedTokens = %d, want 200", res.UsedTokens)
	}
	if res.Evicted != 1 {
		t.Fatalf("Evicted = %d, want 1", res.Evicted)
	}
}

func TestFit_DoesNotMutateInput(t *testing.T) {
	turns := []Turn{turnOf(100, "a"), turnOf(100, "b")}
	orig := append([]Turn(nil), turns...)
	Truncator{Counter: wordCounter}.Fit(turns, 50, 200, 10)
	for i := range turns {
		if turns[i] != orig[i] {
			t.Fatalf("input mutated at %d", i)
		}
	}
}

func TestFit_BudgetPropertyRandomized(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	tr := Truncator{Counter: wordCounter}
	for i := 0; i < 500; i++ {
		n := rng.Intn(8)
		turns := make([]Turn, n)
		total := 0
		for j := range turns {
			c := 2 + rng.Intn(120)
			turns[j] = turnOf(c, fmt.Sprintf("t%d", j))
			total += c
		}
		limit := 1 + rng.Intn(400)
		incoming := rng.Intn(100)
		res := tr.Fit(turns, limit, total, incoming)

		retained := wordCounter.Count(res.Transcript)
		oversizedSingle := len(res.Turns) == 1 && retained > limit
		switch {
		case retained+incoming <= limit:
		case len(res.Turns) == 0 && res.Truncated:
		case oversizedSingle && res.Truncated && res.BudgetExceeded:
		default:
			t.Fatalf("case %d: retained=%d incoming=%d limit=%d turns=%d truncated=%v",
				i, retained, incoming, limit, len(res.Turns), res.Truncated)
		}
		if res.UsedTokens != retained && res.Truncated {
			t.Fatalf("case %d: UsedTokens=%d but retained transcript costs %d", i, res.UsedTokens, retained)
		}
	}
}

func TestNormalizeDropsDanglingUserMessage(t *testing.T) {
	h := &History{User: []string{"q1", "q2", "q3"}, Bot: []string{"a1", "a2"}}
	n := h.Normalize()
	if n.Len() != 2 || len(n.User) != 2 || len(n.Bot) != 2 {
		t.Fatalf("unexpected normalized history: %+v", n)
	}

	var nilHist *History
	empty := nilHist.Normalize()
	if empty.User == nil || empty.Bot == nil || empty.Len() != 0 {
		t.Fatalf("nil history should normalize to empty lists: %+v", empty)
	}

	turns := n.Turns()
	if turns[1] != (Turn{User: "q2", Bot: "a2"}) {
		t.Fatalf("unexpected turn: %+v", turns[1])
	}
	back := FromTurns(turns)
	if back.User[0] != "q1" || back.Bot[1] != "a2" {
		t.Fatalf("FromTurns mismatch: %+v", back)
	}
}

func TestTranscriptFormat(t *testing.T) {
	got := Transcript([]Turn{{User: "hi", Bot: "hello"}, {User: "bye", Bot: "ciao"}})
	want := "User: hi\nBot: hello\nUser: bye\nBot: ciao\n"
	if got != want {
		t.Fatalf("Transcript = %q, want %q", got, want)
	}
}

package history

import "strings"

// Turn is one user message and the assistant reply to it.
type Turn struct {
	User string `json:"user" cbor:"u"`
	Bot  string `json:"bot" cbor:"b"`
}

// Line renders the turn the way it appears in the prompt transcript.
func (t Turn) Line() string {
	return "User: " + t.User + "\nBot: " + t.Bot + "\n"
}

// History is the wire shape exchanged with clients: parallel user and bot
// lists in chronological order.
type History struct {
	User []string `json:"user"`
	Bot  []string `json:"bot"`
}

// Normalize returns a copy whose lists have equal length. A trailing user
// message with no reply is dropped; a nil receiver yields an empty history.
func (h *History) Normalize() History {
	if h == nil {
		return History{User: []string{}, Bot: []string{}}
	}
	n := len(h.User)
	if len(h.Bot) < n {
		n = len(h.Bot)
	}
	out := History{User: make([]string, n), Bot: make([]string, n)}
	copy(out.User, h.User[:n])
	copy(out.Bot, h.Bot[:n])
	return out
}

func (h History) Len() int {
	n := len(h.User)
	if len(h.Bot) < n {
		n = len(h.Bot)
	}
	return n
}

func (h History) Turns() []Turn {
	n := h.Len()
	out := make([]Turn, n)
	for i := 0; i < n; i++ {
		out[i] = Turn{User: h.User[i], Bot: h.Bot[i]}
	}
	return out
}

func FromTurns(turns []Turn) History {
	out := History{User: make([]string, len(turns)), Bot: make([]string, len(turns))}
	for i, t := range turns {
		out.User[i] = t.User
		out.Bot[i] = t.Bot
	}
	return out
}

// Transcript renders turns oldest first.
func Transcript(turns []Turn) string {
	var b strings.Builder
	for _, t := range turns {
		b.WriteString(t.Line())
	}
	return b.String()
}

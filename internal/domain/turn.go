package domain

// Role identifies the speaker of a Turn.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Turn is the provider-agnostic chat message shape shared by the history
// stores and the generation backend.
type Turn struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// History is the ordered sequence of turns stored for a session. It never
// contains the system turn.
type History []Turn

// Append returns a new History with turns added after the existing ones.
// The receiver is never modified.
func (h History) Append(turns ...Turn) History {
	out := make(History, 0, len(h)+len(turns))
	out = append(out, h...)
	return append(out, turns...)
}

// Truncate keeps the most recent max turns. A non-positive max keeps
// everything.
func (h History) Truncate(max int) History {
	if max <= 0 || len(h) <= max {
		return h
	}
	out := make(History, max)
	copy(out, h[len(h)-max:])
	return out
}

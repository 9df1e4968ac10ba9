package llm

// Role constants
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Metadata keys attached to messages by the agent loop.
const (
	// MetaTurn holds the round index that produced the message.
	MetaTurn = "turn"
	// MetaObservation marks a user turn that carries tool responses.
	MetaObservation = "observation"
	// MetaSummary marks an orchestrator summary turn.
	MetaSummary = "summarized"
	// MetaNudge marks a continuation prompt after a reasoning-only round.
	MetaNudge = "nudge"
	// MetaFinalize marks the forced-finalization prompt.
	MetaFinalize = "finalize"
)

// Message represents a chat message
type Message struct {
	Role     string         `json:"role"`
	Content  string         `json:"content"`
	Name     string         `json:"name,omitempty"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// Usage represents token usage statistics
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Add accumulates other into u.
func (u *Usage) Add(other Usage) {
	u.PromptTokens += other.PromptTokens
	u.CompletionTokens += other.CompletionTokens
	u.TotalTokens += other.TotalTokens
}

// IsZero reports whether no tokens were recorded.
func (u Usage) IsZero() bool {
	return u.PromptTokens == 0 && u.CompletionTokens == 0 && u.TotalTokens == 0
}

// NewUserMessage creates a new user message
func NewUserMessage(content string) Message {
	return Message{
		Role:    RoleUser,
		Content: content,
	}
}

// NewSystemMessage creates a new system message
func NewSystemMessage(content string) Message {
	return Message{
		Role:    RoleSystem,
		Content: content,
	}
}

// NewAssistantMessage creates a new assistant message
func NewAssistantMessage(content string) Message {
	return Message{
		Role:    RoleAssistant,
		Content: content,
	}
}

// WithMeta returns a copy of m with key set in its metadata.
func (m Message) WithMeta(key string, value any) Message {
	meta := make(map[string]any, len(m.Metadata)+1)
	for k, v := range m.Metadata {
		meta[k] = v
	}
	meta[key] = value
	m.Metadata = meta
	return m
}

// Flag reports whether the boolean metadata key is set.
func (m Message) Flag(key string) bool {
	v, ok := m.Metadata[key].(bool)
	return ok && v
}

// Turn returns the round index stamped on the message. Metadata decoded
// from JSON stores numbers as float64, so every numeric form is accepted.
func (m Message) Turn() (int, bool) {
	switch v := m.Metadata[MetaTurn].(type) {
	case int:
		return v, true
	case int64:
		return int(v), true
	case float64:
		return int(v), true
	default:
		return 0, false
	}
}

// CloneMessages returns a copy of msgs whose metadata maps are not shared.
func CloneMessages(msgs []Message) []Message {
	out := make([]Message, len(msgs))
	for i, m := range msgs {
		if m.Metadata != nil {
			meta := make(map[string]any, len(m.Metadata))
			for k, v := range m.Metadata {
				meta[k] = v
			}
			m.Metadata = meta
		}
		out[i] = m
	}
	return out
}

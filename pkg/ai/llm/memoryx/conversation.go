package memoryx

import (
	"sync"

	"github.com/Abraxas-365/rollout/pkg/ai/llm"
)

// Conversation is an append-only message list that can be swapped out
// wholesale. A trajectory keeps two: the full transcript that gets
// persisted and the working context the model sees, which compaction
// replaces. Reads return copies so callers never alias stored metadata.
type Conversation struct {
	mu       sync.RWMutex
	messages []llm.Message
}

// NewConversation starts a conversation from a copy of seed.
func NewConversation(seed ...llm.Message) *Conversation {
	return &Conversation{messages: llm.CloneMessages(seed)}
}

func (c *Conversation) Add(msgs ...llm.Message) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.messages = append(c.messages, msgs...)
}

// Snapshot returns a deep copy of the messages.
func (c *Conversation) Snapshot() []llm.Message {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return llm.CloneMessages(c.messages)
}

// Replace swaps the whole conversation, as compaction does.
func (c *Conversation) Replace(msgs []llm.Message) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.messages = llm.CloneMessages(msgs)
}

func (c *Conversation) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.messages)
}

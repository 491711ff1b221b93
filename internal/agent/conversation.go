package agent

import (
	"encoding/json"

	"github.com/nugget/butler/internal/llm"
)

// Conversation is the append-only message record sent with every
// completion request. It is not safe for concurrent use; a Loop only
// touches it between completions.
type Conversation struct {
	msgs []llm.Message
}

// NewConversation returns a record holding copies of the seed messages.
func NewConversation(seed ...llm.Message) *Conversation {
	return &Conversation{msgs: append([]llm.Message(nil), seed...)}
}

// Append adds messages to the end of the record.
func (c *Conversation) Append(msgs ...llm.Message) {
	c.msgs = append(c.msgs, msgs...)
}

// Messages returns a copy of the record.
func (c *Conversation) Messages() []llm.Message {
	return append([]llm.Message(nil), c.msgs...)
}

// Len returns the number of messages.
func (c *Conversation) Len() int { return len(c.msgs) }

// Last returns the newest message, or false when the record is empty.
func (c *Conversation) Last() (llm.Message, bool) {
	if len(c.msgs) == 0 {
		return llm.Message{}, false
	}
	return c.msgs[len(c.msgs)-1], true
}

// MarshalJSON encodes the record as a JSON array of messages.
func (c *Conversation) MarshalJSON() ([]byte, error) {
	if c.msgs == nil {
		return []byte("[]"), nil
	}
	return json.Marshal(c.msgs)
}

package agent

import (
	"strings"

	"github.com/nugget/butler/internal/llm"
)

// Seed is the material a fresh conversation starts with.
type Seed struct {
	Persona    string
	CoreMemory string   // empty when core memory is disabled or the note is empty
	Summaries  []string // recent session summaries, newest first
}

// Messages renders the seed as system messages: the persona, then core
// memory, then recent summaries. Empty parts are skipped.
func (s Seed) Messages() []llm.Message {
	var msgs []llm.Message
	if p := strings.TrimSpace(s.Persona); p != "" {
		msgs = append(msgs, llm.System(p))
	}
	if cm := strings.TrimSpace(s.CoreMemory); cm != "" {
		msgs = append(msgs, llm.System(
			"--- CORE MEMORY & STANDING INSTRUCTIONS ---\n"+cm+"\n--- END CORE MEMORY ---"))
	}

	var parts []string
	for _, sum := range s.Summaries {
		if sum = strings.TrimSpace(sum); sum != "" {
			parts = append(parts, sum)
		}
	}
	if len(parts) > 0 {
		msgs = append(msgs, llm.System(
			"Here are highlighted notes from recent sessions:\n"+strings.Join(parts, "\n\n")))
	}
	return msgs
}

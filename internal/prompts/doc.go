// Package prompts contains the LLM prompt templates Butler uses.
//
// Prompt text is Go code rather than config files because it is program logic:
// templates use fmt.Sprintf interpolation and can be validated by tests.
// User-facing configuration lives in config.yaml; this package holds the
// persona and the instructions sent to the cheap model for internal work
// (session summaries, page digests, search-hit compression, screenshots).
//
// Convention: each prompt category gets its own file with an exported
// function that accepts the dynamic parts and returns the fully
// interpolated prompt string.
package prompts

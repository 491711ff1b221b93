package prompts

import "fmt"

// PageSummarySystem is the system prompt for fetch_page digests.
const PageSummarySystem = "Summarise the page in a few bullet points, factual, no opinion. " +
	"Format in clean markdown, and prioritise key information."

// PageSummary returns the user message carrying the page to digest.
func PageSummary(title, content string) string {
	return fmt.Sprintf("TITLE: %s\n\nCONTENT:\n%s", title, content)
}

// ScreenDescription is sent with a screenshot to the vision model.
const ScreenDescription = "Describe what you are seeing on the user's screen. " +
	"Extract all visible text, plus visual/conceptual items, in a way that is easy to reference or talk about. " +
	"If there are no visible items, say so."

// ClipboardImage is sent with a clipboard image to the vision model.
const ClipboardImage = "Describe this clipboard image in 5 concise bullet points."

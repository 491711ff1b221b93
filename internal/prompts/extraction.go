package prompts

import "fmt"

// NoOutput is the sentinel the compression prompt asks for when nothing
// in the context is relevant.
const NoOutput = "NO_OUTPUT"

const compressionTemplate = `Given the following question and context, extract any part of the context *AS IS* that is relevant to answer the question. If none of the context is relevant return %s.

Remember, *DO NOT* edit the extracted parts of the context.

> Question: %s
> Context:
>>>
%s
>>>
Extracted relevant parts:`

// Compression returns the prompt that reduces a search hit to the
// sentences relevant to query.
func Compression(query, context string) string {
	return fmt.Sprintf(compressionTemplate, NoOutput, query, context)
}

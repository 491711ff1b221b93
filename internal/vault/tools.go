package vault

import (
	"context"
	"fmt"

	"github.com/nugget/butler/internal/tools"
)

// NoteTools returns read_note and append_note.
func (v *Vault) NoteTools() *tools.Set {
	s := tools.NewSet("obsidian")
	s.Add("read_note",
		"Read the raw markdown content of a specific note. Use semantic_search first to find relevant paths.",
		map[string]any{
			"type":       "object",
			"properties": map[string]any{"rel_path": map[string]any{"type": "string"}},
			"required":   []any{"rel_path"},
		},
		tools.Func(func(_ context.Context, args map[string]any) (any, error) {
			rel, _ := args["rel_path"].(string)
			return v.ReadNote(rel)
		}),
	)
	s.Add("append_note",
		fmt.Sprintf("Append markdown content to a note in the sandbox folder %q. Path should be relative to sandbox root.", v.sandbox),
		map[string]any{
			"type": "object",
			"properties": map[string]any{
				"rel_path": map[string]any{"type": "string"},
				"content":  map[string]any{"type": "string"},
			},
			"required": []any{"rel_path", "content"},
		},
		tools.Func(func(_ context.Context, args map[string]any) (any, error) {
			rel, _ := args["rel_path"].(string)
			content, _ := args["content"].(string)
			return v.AppendNote(rel, content)
		}),
	)
	return s
}

// MemoryTools returns append_core_memory.
func (v *Vault) MemoryTools() *tools.Set {
	s := tools.NewSet("memory")
	s.Add("append_core_memory",
		"Update core memory with key facts, user preferences, or instructions. "+
			"Use for important information that should persist across conversations. "+
			"Write in first person as if making a note to yourself.",
		map[string]any{
			"type": "object",
			"properties": map[string]any{
				"content": map[string]any{
					"type":        "string",
					"description": "The important information to remember.",
				},
			},
			"required": []any{"content"},
		},
		tools.Func(func(_ context.Context, args map[string]any) (any, error) {
			content, _ := args["content"].(string)
			return v.AppendCoreMemory(content)
		}),
	)
	return s
}

// FallbackTools returns read_entire_memory and list_vault_files, offered
// when semantic search is unavailable.
func (v *Vault) FallbackTools() *tools.Set {
	s := tools.NewSet("fallback")
	s.Add("read_entire_memory",
		"Return all session-summary memory files. Less effective than semantic_search.",
		nil,
		tools.Sync(func(map[string]any) (any, error) {
			return v.ReadEntireMemory()
		}),
	)
	s.Add("list_vault_files",
		"List all Markdown files in the vault. Use when semantic search is unavailable.",
		nil,
		tools.Sync(func(map[string]any) (any, error) {
			return v.ListFiles()
		}),
	)
	return s
}

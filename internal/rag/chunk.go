// Package rag indexes the vault into a SQLite table of embedded chunks
// and answers semantic searches against it by brute-force cosine
// similarity.
package rag

import (
	"regexp"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/text"
)

var markdown = goldmark.New()

var tagPattern = regexp.MustCompile(`#([\p{L}\p{N}_/-]+)`)

// Tags returns the distinct #tags in a note, without the leading '#',
// in order of first appearance.
func Tags(note string) []string {
	var tags []string
	seen := make(map[string]bool)
	for _, m := range tagPattern.FindAllStringSubmatch(note, -1) {
		if t := m[1]; !seen[t] {
			seen[t] = true
			tags = append(tags, t)
		}
	}
	return tags
}

// Split cuts a note into chunks: first into heading sections, then each
// section into windows of at most size runes overlapping by overlap.
func Split(source []byte, size, overlap int) []string {
	var chunks []string
	for _, sec := range sections(source) {
		chunks = append(chunks, windows(sec, size, overlap)...)
	}
	return chunks
}

// sections splits source before every top-level heading. Headings inside
// code blocks or lists are not split points.
func sections(source []byte) []string {
	doc := markdown.Parser().Parse(text.NewReader(source))

	starts := []int{0}
	for n := doc.FirstChild(); n != nil; n = n.NextSibling() {
		h, ok := n.(*ast.Heading)
		if !ok || h.Lines().Len() == 0 {
			continue
		}
		start := h.Lines().At(0).Start
		for start > 0 && source[start-1] != '\n' {
			start--
		}
		if start > starts[len(starts)-1] {
			starts = append(starts, start)
		}
	}
	starts = append(starts, len(source))

	var out []string
	for i := 0; i+1 < len(starts); i++ {
		if s := strings.TrimSpace(string(source[starts[i]:starts[i+1]])); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// windows splits s into pieces of at most size runes, preferring to end
// a piece on whitespace, with consecutive pieces sharing overlap runes.
func windows(s string, size, overlap int) []string {
	r := []rune(s)
	if size <= 0 || len(r) <= size {
		return []string{s}
	}
	if overlap < 0 || overlap >= size {
		overlap = 0
	}

	var out []string
	for start := 0; start < len(r); {
		end := start + size
		if end >= len(r) {
			end = len(r)
		} else {
			// Back up to whitespace, but not past the middle of the window.
			for i := end; i > start+size/2; i-- {
				if isSpace(r[i-1]) {
					end = i
					break
				}
			}
		}

		if piece := strings.TrimSpace(string(r[start:end])); piece != "" {
			out = append(out, piece)
		}
		if end == len(r) {
			break
		}

		next := end - overlap
		if next <= start {
			next = end
		}
		start = next
	}
	return out
}

func isSpace(r rune) bool {
	return r == ' ' || r == '\n' || r == '\t' || r == '\r'
}

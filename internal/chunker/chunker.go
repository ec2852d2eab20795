// Package chunker splits a capability's description text into bounded,
// overlapping segments along semantic boundaries, each of about
// maxChunkChars runes. A continuation chunk can exceed maxChunkChars by the
// length of its continuation prefix and overlap tail.
package chunker

import (
	"strings"

	"github.com/mcprouter/mcprouter/internal/types"
)

// separators is the hierarchy tried in order; the first one that occurs in
// the text is used to split it.
var separators = []string{"\n\n", "\n", ". "}

// Options bounds one chunking call.
type Options struct {
	MaxChunkChars int
	OverlapChars  int
}

// Chunk splits text into a sequence of types.Chunk, preserving the
// continuation-prefix and bounded-overlap invariants described in the
// indexing pipeline's chunking contract.
func Chunk(text, toolName string, opts Options) []types.Chunk {
	if opts.MaxChunkChars <= 0 || len([]rune(text)) <= opts.MaxChunkChars {
		return []types.Chunk{{Index: 0, Total: 1, Text: text}}
	}

	prefix := toolName + ": ... "
	segments := splitOnSeparator(text)

	var raw []string
	var buf []rune

	previousTail := func() []rune {
		if len(raw) == 0 || opts.OverlapChars <= 0 {
			return nil
		}
		prev := []rune(raw[len(raw)-1])
		if len(prev) <= opts.OverlapChars {
			return prev
		}
		return prev[len(prev)-opts.OverlapChars:]
	}

	seedContinuation := func() []rune {
		seed := []rune(prefix)
		return append(seed, previousTail()...)
	}

	emit := func() {
		if len(buf) > 0 {
			raw = append(raw, string(buf))
			buf = nil
		}
	}

	appendHardSplit := func(s []rune) {
		for len(s) > 0 {
			if len(buf) == 0 && len(raw) > 0 {
				buf = seedContinuation()
			}
			room := opts.MaxChunkChars - len(buf)
			if room <= 0 {
				emit()
				buf = seedContinuation()
				room = opts.MaxChunkChars - len(buf)
				if room <= 0 {
					// The continuation prefix alone already fills a chunk;
					// take the whole remainder rather than loop forever.
					room = len(s)
				}
			}
			take := room
			if take > len(s) {
				take = len(s)
			}
			buf = append(buf, s[:take]...)
			s = s[take:]
			if len(s) > 0 {
				emit()
				buf = seedContinuation()
			}
		}
	}

	for _, seg := range segments {
		segRunes := []rune(seg)

		if len(buf) == 0 && len(raw) > 0 {
			buf = seedContinuation()
		}

		if len(buf)+len(segRunes) <= opts.MaxChunkChars {
			buf = append(buf, segRunes...)
			continue
		}

		if len(segRunes) > opts.MaxChunkChars {
			emit()
			appendHardSplit(segRunes)
			continue
		}

		emit()
		buf = seedContinuation()
		buf = append(buf, segRunes...)
	}
	emit()

	chunks := make([]types.Chunk, len(raw))
	for i, t := range raw {
		chunks[i] = types.Chunk{Index: i, Total: len(raw), Text: t}
	}
	return chunks
}

// splitOnSeparator picks the first separator (in hierarchy order) that
// occurs in text, splits on it, and re-attaches the separator to the end of
// every part but the last. If no separator occurs, the whole text is
// returned as one oversized segment for the hard-split path.
func splitOnSeparator(text string) []string {
	for _, sep := range separators {
		if !strings.Contains(text, sep) {
			continue
		}
		parts := strings.Split(text, sep)
		out := make([]string, len(parts))
		for i, p := range parts {
			if i < len(parts)-1 {
				out[i] = p + sep
			} else {
				out[i] = p
			}
		}
		return out
	}
	return []string{text}
}

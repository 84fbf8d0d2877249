package ingest

import (
	"strings"
	"unicode/utf8"
)

const (
	defaultChunkChars   = 800
	defaultOverlapChars = 100
)

// Split breaks text into chunks of at most maxChars bytes, preferring
// paragraph then sentence boundaries. Consecutive chunks cut inside a
// paragraph share up to overlap trailing bytes.
func Split(text string, maxChars, overlap int) []string {
	if maxChars <= 0 {
		maxChars = defaultChunkChars
	}
	if overlap < 0 || overlap >= maxChars {
		overlap = 0
	}

	var (
		chunks []string
		cur    strings.Builder
	)
	flush := func() {
		if s := strings.TrimSpace(cur.String()); s != "" {
			chunks = append(chunks, s)
		}
		cur.Reset()
	}

	for _, para := range strings.Split(text, "\n\n") {
		para = strings.TrimSpace(para)
		if para == "" {
			continue
		}
		if cur.Len() > 0 && cur.Len()+2+len(para) > maxChars {
			flush()
		}
		if len(para) <= maxChars {
			if cur.Len() > 0 {
				cur.WriteString("\n\n")
			}
			cur.WriteString(para)
			continue
		}
		flush()
		chunks = append(chunks, splitLong(para, maxChars, overlap)...)
	}
	flush()
	return chunks
}

// splitLong cuts a paragraph longer than maxChars at the last sentence end
// or space before the limit.
func splitLong(para string, maxChars, overlap int) []string {
	var out []string
	for len(para) > maxChars {
		cut := cutPoint(para, maxChars)
		out = append(out, strings.TrimSpace(para[:cut]))
		next := cut - overlap
		if next <= 0 {
			next = cut
		}
		for next < len(para) && !utf8.RuneStart(para[next]) {
			next++
		}
		para = strings.TrimSpace(para[next:])
	}
	if para != "" {
		out = append(out, para)
	}
	return out
}

func cutPoint(s string, limit int) int {
	window := s[:limit]
	for _, sep := range []string{". ", "! ", "? ", "\n", " "} {
		if i := strings.LastIndex(window, sep); i > limit/2 {
			return i + len(sep)
		}
	}
	for limit > 0 && !utf8.RuneStart(s[limit]) {
		limit--
	}
	return limit
}

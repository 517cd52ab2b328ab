package turn

import "strings"

// defaultMaxChunkLen caps how much text may accumulate before the chunker
// force-flushes. Without it, a model producing long unbroken text would delay
// speech indefinitely.
const defaultMaxChunkLen = 240

// chunker splits a streamed token sequence into speakable units: it emits a
// chunk at each sentence boundary, or when the buffer exceeds maxLen. Not
// safe for concurrent use; the turn loop is its single caller.
type chunker struct {
	buf    strings.Builder
	maxLen int
}

func newChunker(maxLen int) *chunker {
	if maxLen <= 0 {
		maxLen = defaultMaxChunkLen
	}
	return &chunker{maxLen: maxLen}
}

// add appends one token and returns any chunks that became ready, in order.
// Most calls return nil; a token carrying several sentence endings can
// produce several chunks.
func (c *chunker) add(token string) []string {
	c.buf.WriteString(token)

	var out []string
	for {
		s := c.buf.String()
		idx := sentenceBoundary(s)
		if idx < 0 {
			break
		}
		out = append(out, strings.TrimSpace(s[:idx+1]))
		c.buf.Reset()
		c.buf.WriteString(strings.TrimLeft(s[idx+1:], " \t\n\r"))
	}

	// Safety bound: flush even mid-sentence rather than buffer without limit.
	if c.buf.Len() >= c.maxLen {
		out = append(out, strings.TrimSpace(c.buf.String()))
		c.buf.Reset()
	}
	return out
}

// flush returns the remaining partial text, if any, and resets the buffer.
// Called when the token stream ends.
func (c *chunker) flush() string {
	s := strings.TrimSpace(c.buf.String())
	c.buf.Reset()
	return s
}

// sentenceBoundary returns the index of the first '.', '!', or '?' followed
// by a whitespace character. Returns -1 when no boundary exists; the end of
// the stream is handled by flush.
func sentenceBoundary(s string) int {
	for i := 0; i < len(s)-1; i++ {
		switch s[i] {
		case '.', '!', '?':
			switch s[i+1] {
			case ' ', '\n', '\r', '\t':
				return i
			}
		}
	}
	return -1
}

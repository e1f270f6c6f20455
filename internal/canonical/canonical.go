// Package canonical implements the DKIM/ARC simple and relaxed
// canonicalization algorithms (RFC 6376 §3.4) for header fields and the
// message body. Header canonicalization operates on one already
// accumulated header field at a time (always small and bounded); body
// canonicalization is driven incrementally over a byte stream, in O(1)
// space relative to body size, so a streaming ingestion API never has
// to hold the whole body in memory the way a naive implementation
// (buffer everything, canonicalize once on Close) would.
package canonical

import (
	"io"
	"strings"

	"github.com/arcseal/arcengine/internal/buffer"
	"github.com/arcseal/arcengine/internal/nametable"
)

// stageFlushSize is the largest chunk the body canonicalizer ever hands to
// its hash writer in one call (spec's "flush in <=4KiB chunks into the
// hash" property, carried over from the source's fixed BUFRSZ staging
// buffers even though a Go string builder could hold the whole line).
const stageFlushSize = 4096

const crlf = "\r\n"

// Canonicalization selects simple or relaxed canonicalization.
type Canonicalization string

const (
	Simple  Canonicalization = "simple"
	Relaxed Canonicalization = "relaxed"

	codeNotFound = 0
	codeSimple   = 1
	codeRelaxed  = 2
)

// names is the c= token table (RFC 6376 §3.4's two-entry "simple"/"relaxed"
// vocabulary), modeled on OpenARC's arc-nametable.c c= table.
var names = nametable.New(codeNotFound,
	nametable.Entry{Name: string(Simple), Code: codeSimple},
	nametable.Entry{Name: string(Relaxed), Code: codeRelaxed},
)

// Parse looks up s case-insensitively against the simple/relaxed
// vocabulary, reporting false on anything else (RFC 6376 c= is exactly
// these two tokens).
func Parse(s string) (Canonicalization, bool) {
	switch names.CodeOf(s) {
	case codeSimple:
		return Simple, true
	case codeRelaxed:
		return Relaxed, true
	default:
		return "", false
	}
}

// SimpleHeader is the identity transform (RFC 6376 §3.4.1). The caller's
// header field is expected to already end in CRLF.
func SimpleHeader(s string) string {
	return s
}

// unfoldHeader removes header folding (CRLF followed by WSP collapses to
// a single SP) per RFC 5322 §2.2.3.
func unfoldHeader(s string) string {
	for {
		original := s
		s = strings.ReplaceAll(s, "\r\n ", " ")
		s = strings.ReplaceAll(s, "\r\n\t", " ")
		if s == original {
			return s
		}
	}
}

// RelaxedHeader implements RFC 6376 §3.4.2: lowercase the field name,
// strip FWS around the name and colon, unfold and collapse interior FWS
// in the value to a single SP, trim leading/trailing FWS from the
// value, and terminate with one CRLF.
func RelaxedHeader(s string) string {
	k, v, ok := strings.Cut(s, ":")
	if !ok {
		return strings.TrimSpace(strings.ToLower(s)) + ":" + crlf
	}
	k = strings.TrimSpace(strings.ToLower(k))
	v = unfoldHeader(v)
	v = strings.Join(strings.FieldsFunc(v, func(r rune) bool {
		return r == ' ' || r == '\t'
	}), " ")
	v = strings.TrimSpace(v)
	return k + ":" + v + crlf
}

// Header canonicalizes a single header field according to canonical.
func Header(s string, canonical Canonicalization) string {
	switch canonical {
	case Relaxed:
		return RelaxedHeader(s)
	default:
		return SimpleHeader(s)
	}
}

// crlfFixer repairs bare CR or LF into CRLF, one byte at a time, so it
// can sit in front of an incremental body canonicalizer. State (a
// pending bare CR left over from the previous Fix call) persists across
// calls, which is what makes it safe to feed a body through in
// arbitrarily small chunks.
type crlfFixer struct {
	cr bool
}

func (cf *crlfFixer) Fix(b []byte) []byte {
	res := make([]byte, 0, len(b)+len(b)/8)
	for _, ch := range b {
		prevCR := cf.cr
		cf.cr = false
		switch ch {
		case '\r':
			cf.cr = true
		case '\n':
			if !prevCR {
				res = append(res, '\r')
			}
		}
		res = append(res, ch)
	}
	return res
}

// bodyCanonicalizer is the shared incremental engine behind SimpleBody
// and RelaxedBody. It implements io.WriteCloser and tracks only the
// current in-progress line plus a count of completed blank lines
// withheld pending proof they are not trailing blanks (RFC 6376
// §3.4.3/§3.4.4: the canonical body ends in exactly one CRLF, or is
// CRLF alone if the body is empty).
type bodyCanonicalizer struct {
	w       io.Writer
	relaxed bool
	fixer   crlfFixer
	stage   *buffer.Buffer

	line       []byte
	sawCR      bool
	pendingWSP bool
	blank      int
	wrote      bool
	closed     bool
}

func newBodyCanonicalizer(w io.Writer, relaxed bool) *bodyCanonicalizer {
	return &bodyCanonicalizer{
		w:       w,
		relaxed: relaxed,
		stage:   buffer.New(stageFlushSize, 0, nil),
	}
}

// stageWrite appends p to the staging buffer and flushes it to w in chunks
// no larger than stageFlushSize, so a long canonicalized line never hands
// the hash more than stageFlushSize bytes per call.
func (c *bodyCanonicalizer) stageWrite(p []byte) error {
	c.stage.Append(p)
	for c.stage.Len() >= stageFlushSize {
		staged := c.stage.Copy()
		chunk, rest := staged[:stageFlushSize], staged[stageFlushSize:]
		if _, err := c.w.Write(chunk); err != nil {
			return err
		}
		c.stage.Blank()
		c.stage.Append(rest)
	}
	return nil
}

// flushStage hands any remaining staged bytes (< stageFlushSize) to w.
func (c *bodyCanonicalizer) flushStage() error {
	if c.stage.Len() == 0 {
		return nil
	}
	staged := c.stage.Copy()
	c.stage.Blank()
	_, err := c.w.Write(staged)
	return err
}

func (c *bodyCanonicalizer) Write(b []byte) (int, error) {
	n := len(b)
	fixed := c.fixer.Fix(b)
	for i := 0; i < len(fixed); i++ {
		ch := fixed[i]
		if c.sawCR {
			c.sawCR = false
			if ch == '\n' {
				if err := c.endLine(); err != nil {
					return n, err
				}
				continue
			}
			// A bare CR not followed by LF is ordinary content.
			if err := c.appendByte('\r'); err != nil {
				return n, err
			}
		}
		if ch == '\r' {
			c.sawCR = true
			continue
		}
		if err := c.appendByte(ch); err != nil {
			return n, err
		}
	}
	return n, nil
}

func (c *bodyCanonicalizer) appendByte(ch byte) error {
	if !c.relaxed {
		c.line = append(c.line, ch)
		return nil
	}
	if ch == ' ' || ch == '\t' {
		c.pendingWSP = true
		return nil
	}
	if c.pendingWSP {
		c.line = append(c.line, ' ')
		c.pendingWSP = false
	}
	c.line = append(c.line, ch)
	return nil
}

// endLine finalizes the current line. Relaxed trailing WSP is simply
// never flushed, so it is implicitly dropped. A zero-length line is
// counted as a withheld blank rather than written immediately, since we
// cannot yet tell whether it is interior to the body or trailing.
func (c *bodyCanonicalizer) endLine() error {
	c.pendingWSP = false
	if len(c.line) == 0 {
		c.blank++
		return nil
	}
	if err := c.flushBlanks(); err != nil {
		return err
	}
	if err := c.writeLine(); err != nil {
		return err
	}
	c.line = c.line[:0]
	return nil
}

func (c *bodyCanonicalizer) writeLine() error {
	if err := c.stageWrite(c.line); err != nil {
		return err
	}
	if err := c.stageWrite([]byte(crlf)); err != nil {
		return err
	}
	c.wrote = true
	return nil
}

func (c *bodyCanonicalizer) flushBlanks() error {
	for ; c.blank > 0; c.blank-- {
		if err := c.stageWrite([]byte(crlf)); err != nil {
			return err
		}
	}
	return nil
}

// Close finalizes the body. A trailing partial line with no terminating
// CRLF is treated as a final line; any still-withheld blank lines are
// trailing blanks and are dropped; a body for which nothing was ever
// written collapses to a single CRLF.
func (c *bodyCanonicalizer) Close() error {
	if c.closed {
		return nil
	}
	c.closed = true

	if c.sawCR {
		c.line = append(c.line, '\r')
		c.sawCR = false
	}
	c.pendingWSP = false
	if len(c.line) > 0 {
		if err := c.flushBlanks(); err != nil {
			return err
		}
		if err := c.writeLine(); err != nil {
			return err
		}
		c.line = nil
	}

	if !c.wrote {
		if err := c.stageWrite([]byte(crlf)); err != nil {
			return err
		}
	}
	return c.flushStage()
}

// SimpleBody returns an incremental simple-body canonicalizer writing to w.
func SimpleBody(w io.Writer) io.WriteCloser {
	return newBodyCanonicalizer(w, false)
}

// RelaxedBody returns an incremental relaxed-body canonicalizer writing to w.
func RelaxedBody(w io.Writer) io.WriteCloser {
	return newBodyCanonicalizer(w, true)
}

// Body returns an incremental body canonicalizer selected by canonical.
func Body(w io.Writer, canonical Canonicalization) io.WriteCloser {
	switch canonical {
	case Relaxed:
		return RelaxedBody(w)
	default:
		return SimpleBody(w)
	}
}

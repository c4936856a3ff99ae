// Copyright 2026 Strand Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package tagparser extracts well-formed inline tags of the form
// <name attr="v">body</name> from a chunked text stream.
//
// The parser is streaming: a tag may start in one chunk and close in a
// later one. Malformed constructs never fail; they degrade to plain text
// (a lone '<', an invalid head) or are silently dropped (a closing tag
// with no matching open). Whitespace is trimmed only at tag boundaries;
// interior whitespace is preserved verbatim.
//
// There is no nesting: an opening <a> is matched with the next </a>
// regardless of intervening content.
package tagparser

import "strings"

const whitespace = " \t\r\n"

// Tag is an extracted inline tag. Attribute values are string, or
// []string when a key repeats.
type Tag struct {
	Name        string
	Attributes  map[string]any
	Body        string
	SelfClosing bool
}

// Emission is one parser output: either a text fragment (Tag == nil) or
// an extracted tag.
type Emission struct {
	Text string
	Tag  *Tag
}

// Parser is a single-threaded buffered inline-tag parser. It is
// resettable between streams and not safe for concurrent use.
type Parser struct {
	buf      string // unconsumed input, always starting at a '<' candidate
	held     string // trailing whitespace awaiting the next boundary decision
	afterTag bool   // last emission was a tag: left-trim the next text
}

// New returns a fresh parser.
func New() *Parser {
	return &Parser{}
}

// Reset clears all buffered state so the parser can consume a new stream.
func (p *Parser) Reset() {
	p.buf = ""
	p.held = ""
	p.afterTag = false
}

// Feed appends a chunk and returns everything that can be emitted so
// far. Text that may still need right-trimming (trailing whitespace, or
// an open tag waiting for its closer) stays buffered.
func (p *Parser) Feed(chunk string) []Emission {
	s := p.held + p.buf + chunk
	p.held, p.buf = "", ""

	var out []Emission
	textStart, pos := 0, 0
	for {
		i := indexByteFrom(s, '<', pos)
		if i < 0 {
			p.holdText(s[textStart:], &out)
			return out
		}
		j := strings.IndexByte(s[i:], '>')
		if j < 0 {
			// Incomplete tag head; wait for more data.
			p.holdText(s[textStart:i], &out)
			p.buf = s[i:]
			return out
		}
		head := s[i+1 : i+j]

		// Closing tag with no matching open: drop it.
		if name, ok := strings.CutPrefix(head, "/"); ok && validName(strings.TrimSpace(name)) {
			p.flushText(s[textStart:i], true, &out)
			p.afterTag = true
			pos = i + j + 1
			textStart = pos
			continue
		}

		name, attrs, selfClosing, ok := parseHead(head)
		if !ok {
			// Not a tag; the '<' is literal text.
			pos = i + 1
			continue
		}

		if selfClosing {
			p.flushText(s[textStart:i], true, &out)
			out = append(out, Emission{Tag: &Tag{Name: name, Attributes: attrs, SelfClosing: true}})
			p.afterTag = true
			pos = i + j + 1
			textStart = pos
			continue
		}

		closer := "</" + name + ">"
		k := strings.Index(s[i+j+1:], closer)
		if k < 0 {
			// Opener without closer yet: unconsume and wait.
			p.holdText(s[textStart:i], &out)
			p.buf = s[i:]
			return out
		}

		p.flushText(s[textStart:i], true, &out)
		out = append(out, Emission{Tag: &Tag{
			Name:       name,
			Attributes: attrs,
			Body:       s[i+j+1 : i+j+1+k],
		}})
		p.afterTag = true
		pos = i + j + 1 + k + len(closer)
		textStart = pos
	}
}

// Close flushes any residual buffer as trailing text.
func (p *Parser) Close() []Emission {
	t := p.held + p.buf
	p.held, p.buf = "", ""
	if p.afterTag {
		t = strings.TrimLeft(t, whitespace)
	}
	if t == "" {
		return nil
	}
	p.afterTag = false
	return []Emission{{Text: t}}
}

// holdText emits t except for its trailing whitespace, which is held
// until we know whether a tag follows.
func (p *Parser) holdText(t string, out *[]Emission) {
	cut := len(t)
	for cut > 0 && isSpace(t[cut-1]) {
		cut--
	}
	p.flushText(t[:cut], false, out)
	p.held += t[cut:]
}

// flushText emits a text fragment, left-trimmed when it follows a tag
// and right-trimmed when a tag follows it.
func (p *Parser) flushText(t string, beforeTag bool, out *[]Emission) {
	if p.afterTag {
		t = strings.TrimLeft(t, whitespace)
	}
	if beforeTag {
		t = strings.TrimRight(t, whitespace)
		p.held = "" // whitespace held before a tag boundary is discarded
	}
	if t == "" {
		return
	}
	*out = append(*out, Emission{Text: t})
	p.afterTag = false
}

// parseHead parses the inside of <...> into a name, attributes and a
// self-closing marker. ok is false when the head is not a plausible tag.
func parseHead(head string) (name string, attrs map[string]any, selfClosing bool, ok bool) {
	if head == "" || isSpace(head[0]) {
		return "", nil, false, false
	}
	h := head
	if strings.HasSuffix(h, "/") {
		selfClosing = true
		h = strings.TrimRight(h[:len(h)-1], whitespace)
	}
	end := 0
	for end < len(h) && isNameChar(h[end]) {
		end++
	}
	if end == 0 || !isNameStart(h[0]) {
		return "", nil, false, false
	}
	name = h[:end]
	rest := h[end:]
	if rest != "" && !isSpace(rest[0]) {
		return "", nil, false, false
	}
	return name, parseAttrs(strings.TrimSpace(rest)), selfClosing, true
}

// parseAttrs accepts key="v", key='v', bare key=v and key alone (empty
// value). Repeated keys collapse to a list.
func parseAttrs(s string) map[string]any {
	if s == "" {
		return nil
	}
	attrs := make(map[string]any)
	i := 0
	for i < len(s) {
		for i < len(s) && isSpace(s[i]) {
			i++
		}
		start := i
		for i < len(s) && isNameChar(s[i]) {
			i++
		}
		if i == start {
			i++ // junk byte, skip
			continue
		}
		key := s[start:i]
		val := ""
		if i < len(s) && s[i] == '=' {
			i++
			if i < len(s) && (s[i] == '"' || s[i] == '\'') {
				quote := s[i]
				i++
				end := strings.IndexByte(s[i:], quote)
				if end < 0 {
					val = s[i:]
					i = len(s)
				} else {
					val = s[i : i+end]
					i += end + 1
				}
			} else {
				start = i
				for i < len(s) && !isSpace(s[i]) {
					i++
				}
				val = s[start:i]
			}
		}
		addAttr(attrs, key, val)
	}
	if len(attrs) == 0 {
		return nil
	}
	return attrs
}

func addAttr(m map[string]any, key, val string) {
	switch existing := m[key].(type) {
	case nil:
		m[key] = val
	case string:
		m[key] = []string{existing, val}
	case []string:
		m[key] = append(existing, val)
	}
}

func validName(s string) bool {
	if s == "" || !isNameStart(s[0]) {
		return false
	}
	for i := 0; i < len(s); i++ {
		if !isNameChar(s[i]) {
			return false
		}
	}
	return true
}

func isNameStart(c byte) bool {
	return c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

func isNameChar(c byte) bool {
	return isNameStart(c) || c == '-' || (c >= '0' && c <= '9')
}

func isSpace(c byte) bool {
	return c == ' ' || c == '\t' || c == '\r' || c == '\n'
}

func indexByteFrom(s string, c byte, from int) int {
	if from >= len(s) {
		return -1
	}
	i := strings.IndexByte(s[from:], c)
	if i < 0 {
		return -1
	}
	return from + i
}

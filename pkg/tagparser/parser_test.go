package tagparser

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// collect feeds all chunks, closes the parser and returns the
// concatenated text plus the extracted tags.
func collect(t *testing.T, chunks ...string) (string, []Tag) {
	t.Helper()
	p := New()
	var text string
	var tags []Tag
	drain := func(ems []Emission) {
		for _, em := range ems {
			if em.Tag != nil {
				tags = append(tags, *em.Tag)
			} else {
				text += em.Text
			}
		}
	}
	for _, c := range chunks {
		drain(p.Feed(c))
	}
	drain(p.Close())
	return text, tags
}

func TestPlainTextPassesThrough(t *testing.T) {
	text, tags := collect(t, "Hello", " world")
	assert.Equal(t, "Hello world", text)
	assert.Empty(t, tags)
}

func TestSimpleTag(t *testing.T) {
	text, tags := collect(t, "<thinking>reason-a</thinking>", "Answer: 42")
	assert.Equal(t, "Answer: 42", text)
	require.Len(t, tags, 1)
	assert.Equal(t, "thinking", tags[0].Name)
	assert.Equal(t, "reason-a", tags[0].Body)
}

func TestTagSplitAcrossChunks(t *testing.T) {
	text, tags := collect(t, "before <thin", "king>a b", " c</think", "ing> after")
	assert.Equal(t, "beforeafter", text)
	require.Len(t, tags, 1)
	assert.Equal(t, "thinking", tags[0].Name)
	assert.Equal(t, "a b c", tags[0].Body)
}

func TestInteriorWhitespacePreserved(t *testing.T) {
	text, tags := collect(t, "a  b", "  c")
	assert.Equal(t, "a  b  c", text)
	assert.Empty(t, tags)
}

func TestBoundaryWhitespaceTrimming(t *testing.T) {
	// Right-trim before a tag, left-trim after it.
	text, tags := collect(t, "left  ", "<t>x</t>", "  right")
	assert.Equal(t, "leftright", text)
	require.Len(t, tags, 1)
}

func TestTrailingWhitespaceKeptWithoutTag(t *testing.T) {
	text, _ := collect(t, "keep ", "this ")
	assert.Equal(t, "keep this ", text)
}

func TestSelfClosingTag(t *testing.T) {
	text, tags := collect(t, `a<mark id="7"/>b`)
	assert.Equal(t, "ab", text)
	require.Len(t, tags, 1)
	assert.Equal(t, "mark", tags[0].Name)
	assert.True(t, tags[0].SelfClosing)
	assert.Equal(t, "7", tags[0].Attributes["id"])
	assert.Empty(t, tags[0].Body)
}

func TestAttributeForms(t *testing.T) {
	_, tags := collect(t, `<t a="one" b='two' c=three d>x</t>`)
	require.Len(t, tags, 1)
	attrs := tags[0].Attributes
	assert.Equal(t, "one", attrs["a"])
	assert.Equal(t, "two", attrs["b"])
	assert.Equal(t, "three", attrs["c"])
	assert.Equal(t, "", attrs["d"])
}

func TestRepeatedAttributeCollapsesToList(t *testing.T) {
	_, tags := collect(t, `<t k="a" k="b" k="c">x</t>`)
	require.Len(t, tags, 1)
	assert.Equal(t, []string{"a", "b", "c"}, tags[0].Attributes["k"])
}

func TestStrayClosingTagDropped(t *testing.T) {
	text, tags := collect(t, "a</thinking>b")
	assert.Equal(t, "ab", text)
	assert.Empty(t, tags)
}

func TestLiteralAngleBracketIsText(t *testing.T) {
	text, tags := collect(t, "1 < 2 and 3 <= 4")
	assert.Equal(t, "1 < 2 and 3 <= 4", text)
	assert.Empty(t, tags)
}

func TestUnterminatedTagEmittedAtClose(t *testing.T) {
	text, tags := collect(t, "pre <thinking>never closed")
	assert.Equal(t, "pre <thinking>never closed", text)
	assert.Empty(t, tags)
}

func TestNoNesting(t *testing.T) {
	// The first </a> closes the tag even with an <a> inside the body.
	text, tags := collect(t, "<a>x<a>y</a>z")
	assert.Equal(t, "z", text)
	require.Len(t, tags, 1)
	assert.Equal(t, "x<a>y", tags[0].Body)
}

func TestConsecutiveTags(t *testing.T) {
	text, tags := collect(t, "<a>1</a><b>2</b>tail")
	assert.Equal(t, "tail", text)
	require.Len(t, tags, 2)
	assert.Equal(t, "a", tags[0].Name)
	assert.Equal(t, "b", tags[1].Name)
}

func TestByteAtATime(t *testing.T) {
	input := "x <thinking verbosity=\"low\">deep thought</thinking> y"
	var chunks []string
	for i := 0; i < len(input); i++ {
		chunks = append(chunks, input[i:i+1])
	}
	text, tags := collect(t, chunks...)
	assert.Equal(t, "xy", text)
	require.Len(t, tags, 1)
	assert.Equal(t, "deep thought", tags[0].Body)
	assert.Equal(t, "low", tags[0].Attributes["verbosity"])
}

func TestReset(t *testing.T) {
	p := New()
	p.Feed("<open>dangling")
	p.Reset()
	ems := p.Feed("clean")
	ems = append(ems, p.Close()...)
	require.Len(t, ems, 1)
	assert.Equal(t, "clean", ems[0].Text)
}

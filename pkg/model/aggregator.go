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

package model

import (
	"sort"
	"strings"

	"github.com/strandai/strand/pkg/event"
	"github.com/strandai/strand/pkg/tagparser"
)

// AssembledToolCall is one tool call assembled from indexed deltas.
// Arguments is the concatenated raw JSON text of all fragments.
type AssembledToolCall struct {
	Index     int    `json:"index"`
	ID        string `json:"id"`
	Type      string `json:"type,omitempty"`
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// Aggregated is the single final record of one delta stream.
type Aggregated struct {
	Content      string
	Thoughts     []tagparser.Tag
	ToolCalls    []AssembledToolCall
	FinishReason event.FinishReason
	Usage        Usage
}

// Aggregator folds a stream of choice deltas into one Aggregated
// record. Content deltas pass through the inline-tag parser so extracted
// tags land in Thoughts instead of Content; tool-call deltas merge into
// accumulators keyed by index; usage records sum.
//
// Not safe for concurrent use; the pipeline owns one aggregator per
// upstream subscription.
type Aggregator struct {
	parser   *tagparser.Parser
	content  strings.Builder
	thoughts []tagparser.Tag
	calls    map[int]*AssembledToolCall
	finish   string
	usage    Usage
}

// NewAggregator returns an empty aggregator.
func NewAggregator() *Aggregator {
	return &Aggregator{
		parser: tagparser.New(),
		calls:  make(map[int]*AssembledToolCall),
	}
}

// Push folds one delta in and returns the parser emissions (cleaned text
// fragments and extracted tags) it produced, so a caller can stream them
// live while aggregation continues.
func (a *Aggregator) Push(d ChoiceDelta) []tagparser.Emission {
	var ems []tagparser.Emission
	if d.Delta.Content != "" {
		ems = a.parser.Feed(d.Delta.Content)
		a.absorb(ems)
	}
	for _, tc := range d.Delta.ToolCalls {
		a.mergeToolCall(tc)
	}
	if d.FinishReason != "" {
		a.finish = d.FinishReason
	}
	if d.Usage != nil {
		a.usage.Add(*d.Usage)
	}
	return ems
}

// Close flushes the parser and returns the final aggregated record plus
// any trailing emissions. The finish reason is normalised so that
// tool_calls is reported iff at least one tool call was assembled.
func (a *Aggregator) Close() (Aggregated, []tagparser.Emission) {
	tail := a.parser.Close()
	a.absorb(tail)

	indexes := make([]int, 0, len(a.calls))
	for i := range a.calls {
		indexes = append(indexes, i)
	}
	sort.Ints(indexes)
	calls := make([]AssembledToolCall, 0, len(indexes))
	for _, i := range indexes {
		calls = append(calls, *a.calls[i])
	}

	fr := event.FinishReason(a.finish)
	if len(calls) > 0 {
		fr = event.FinishToolCalls
	} else if fr == "" || fr == event.FinishToolCalls {
		fr = event.FinishStop
	}

	return Aggregated{
		Content:      a.content.String(),
		Thoughts:     a.thoughts,
		ToolCalls:    calls,
		FinishReason: fr,
		Usage:        a.usage,
	}, tail
}

func (a *Aggregator) absorb(ems []tagparser.Emission) {
	for _, em := range ems {
		if em.Tag != nil {
			a.thoughts = append(a.thoughts, *em.Tag)
		} else {
			a.content.WriteString(em.Text)
		}
	}
}

// mergeToolCall merges one indexed fragment: a non-empty id or name
// replaces the accumulator's, argument text concatenates.
func (a *Aggregator) mergeToolCall(tc ToolCallDelta) {
	acc, ok := a.calls[tc.Index]
	if !ok {
		acc = &AssembledToolCall{Index: tc.Index}
		a.calls[tc.Index] = acc
	}
	if tc.ID != "" {
		acc.ID = tc.ID
	}
	if tc.Type != "" {
		acc.Type = tc.Type
	}
	if tc.Function.Name != "" {
		acc.Name = tc.Function.Name
	}
	acc.Arguments += tc.Function.Arguments
}

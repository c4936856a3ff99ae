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

package agent

import (
	"encoding/json"
	"fmt"

	"github.com/strandai/strand/pkg/event"
	"github.com/strandai/strand/pkg/model"
)

// systemPromptName labels the main system prompt message.
const systemPromptName = "system-prompt"

// EventsToMessages converts one iteration's events into provider-shaped
// messages for the next iteration, preserving emission order.
//
// Rules:
//   - content-complete with non-empty content → assistant message
//   - tool-call → assistant message with tool calls; consecutive calls
//     coalesce into one message, matching the provider shape
//   - tool-complete → tool message carrying the stringified result on
//     success or the error string on failure, plus any extra messages
//     the tool injected
//   - everything else is ignored, including all events that carry a
//     parentTaskId (sub-task events never enter the parent's history)
func EventsToMessages(events []event.Event) []model.Message {
	var out []model.Message
	for _, ev := range events {
		if ev.ParentTaskID != "" {
			continue
		}
		switch ev.Kind {
		case event.KindContentComplete:
			if ev.Complete != nil && ev.Complete.Content != "" {
				out = append(out, model.Assistant(ev.Complete.Content))
			}

		case event.KindToolCall:
			if ev.ToolCall == nil {
				continue
			}
			ref := model.ToolCallRef{
				ID:        ev.ToolCall.ID,
				Name:      ev.ToolCall.Name,
				Arguments: ev.ToolCall.Arguments,
			}
			if n := len(out); n > 0 && out[n-1].Role == model.RoleAssistant &&
				out[n-1].Content == "" && len(out[n-1].ToolCalls) > 0 {
				out[n-1].ToolCalls = append(out[n-1].ToolCalls, ref)
				continue
			}
			out = append(out, model.Message{
				Role:      model.RoleAssistant,
				Content:   "",
				ToolCalls: []model.ToolCallRef{ref},
			})

		case event.KindToolComplete:
			if ev.Tool == nil {
				continue
			}
			content := ev.Tool.Error
			if ev.Tool.Success {
				content = stringifyResult(ev.Tool.Result)
			}
			out = append(out, model.ToolResult(ev.Tool.ToolName, ev.Tool.ToolCallID, content))
			for _, m := range ev.Tool.Messages {
				out = append(out, model.Message{
					Role:       model.Role(m.Role),
					Content:    m.Content,
					Name:       m.Name,
					ToolCallID: m.ToolCallID,
				})
			}
		}
	}
	return out
}

// PrepareMessages assembles the provider message list for one
// iteration: the system prompt (when present), each skill prompt in
// registration order, then the history verbatim.
func PrepareMessages(lc LoopContext, history []model.Message) []model.Message {
	out := make([]model.Message, 0, len(history)+len(lc.Skills)+1)
	if lc.SystemPrompt != "" {
		out = append(out, model.Message{
			Role:    model.RoleSystem,
			Content: lc.SystemPrompt,
			Name:    systemPromptName,
		})
	}
	for _, skill := range lc.Skills {
		out = append(out, model.Message{
			Role:    model.RoleSystem,
			Content: skill.Prompt,
			Name:    skill.Name,
		})
	}
	return append(out, history...)
}

// stringifyResult renders a tool result for a tool-role message.
// Strings pass through verbatim; everything else serialises as JSON.
func stringifyResult(v any) string {
	switch r := v.(type) {
	case nil:
		return ""
	case string:
		return r
	default:
		raw, err := json.Marshal(r)
		if err != nil {
			return fmt.Sprintf("%v", r)
		}
		return string(raw)
	}
}

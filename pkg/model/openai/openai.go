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

// Package openai adapts the OpenAI chat completions streaming API to
// the provider contract. Any chat-completions-compatible backend works
// through the base URL.
package openai

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"iter"
	"net/http"
	"strings"
	"time"

	"github.com/strandai/strand/internal/httpclient"
	"github.com/strandai/strand/pkg/model"
)

const (
	defaultBaseURL = "https://api.openai.com/v1"
	defaultTimeout = 60 * time.Second

	streamDone = "[DONE]"
)

// Config tunes the adapter.
type Config struct {
	Model      string
	BaseURL    string
	APIKey     string
	Timeout    time.Duration
	MaxRetries int
}

// Provider streams chat completions.
type Provider struct {
	cfg    Config
	client *httpclient.Client
}

// New builds a provider. The timeout bounds one whole streaming call.
func New(cfg Config) *Provider {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = defaultTimeout
	}
	return &Provider{
		cfg:    cfg,
		client: httpclient.New(cfg.Timeout, cfg.MaxRetries),
	}
}

// Name implements model.Provider.
func (p *Provider) Name() string { return "openai" }

// Wire types for the chat completions endpoint.

type wireMessage struct {
	Role       string         `json:"role"`
	Content    string         `json:"content"`
	Name       string         `json:"name,omitempty"`
	ToolCallID string         `json:"tool_call_id,omitempty"`
	ToolCalls  []wireToolCall `json:"tool_calls,omitempty"`
}

type wireToolCall struct {
	Index    *int         `json:"index,omitempty"`
	ID       string       `json:"id,omitempty"`
	Type     string       `json:"type,omitempty"`
	Function wireFunction `json:"function"`
}

type wireFunction struct {
	Name      string `json:"name,omitempty"`
	Arguments string `json:"arguments,omitempty"`
}

type wireTool struct {
	Type     string `json:"type"`
	Function struct {
		Name        string         `json:"name"`
		Description string         `json:"description,omitempty"`
		Parameters  map[string]any `json:"parameters"`
	} `json:"function"`
}

type wireRequest struct {
	Model         string        `json:"model"`
	Messages      []wireMessage `json:"messages"`
	Tools         []wireTool    `json:"tools,omitempty"`
	Stream        bool          `json:"stream"`
	StreamOptions *struct {
		IncludeUsage bool `json:"include_usage"`
	} `json:"stream_options,omitempty"`
	User string `json:"user,omitempty"`
}

type wireChunk struct {
	Choices []struct {
		Index int `json:"index"`
		Delta struct {
			Content   string         `json:"content"`
			ToolCalls []wireToolCall `json:"tool_calls"`
		} `json:"delta"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage *struct {
		PromptTokens        int `json:"prompt_tokens"`
		CompletionTokens    int `json:"completion_tokens"`
		TotalTokens         int `json:"total_tokens"`
		PromptTokensDetails *struct {
			CachedTokens int `json:"cached_tokens"`
		} `json:"prompt_tokens_details"`
	} `json:"usage"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error"`
}

func encodeMessages(messages []model.Message) []wireMessage {
	out := make([]wireMessage, 0, len(messages))
	for _, m := range messages {
		wm := wireMessage{
			Role:       string(m.Role),
			Content:    m.Content,
			Name:       m.Name,
			ToolCallID: m.ToolCallID,
		}
		for _, call := range m.ToolCalls {
			args, err := json.Marshal(call.Arguments)
			if err != nil {
				args = []byte("{}")
			}
			wm.ToolCalls = append(wm.ToolCalls, wireToolCall{
				ID:   call.ID,
				Type: "function",
				Function: wireFunction{
					Name:      call.Name,
					Arguments: string(args),
				},
			})
		}
		out = append(out, wm)
	}
	return out
}

func encodeTools(tools []model.ToolDefinition) []wireTool {
	out := make([]wireTool, 0, len(tools))
	for _, t := range tools {
		var wt wireTool
		wt.Type = "function"
		wt.Function.Name = t.Name
		wt.Function.Description = t.Description
		wt.Function.Parameters = t.Parameters
		if wt.Function.Parameters == nil {
			wt.Function.Parameters = map[string]any{"type": "object"}
		}
		out = append(out, wt)
	}
	return out
}

// Stream implements model.Provider.
func (p *Provider) Stream(ctx context.Context, req model.Request) iter.Seq2[model.ChoiceDelta, error] {
	return func(yield func(model.ChoiceDelta, error) bool) {
		body := wireRequest{
			Model:    p.cfg.Model,
			Messages: encodeMessages(req.Messages),
			Tools:    encodeTools(req.Tools),
			Stream:   true,
			StreamOptions: &struct {
				IncludeUsage bool `json:"include_usage"`
			}{IncludeUsage: true},
			User: req.SessionID,
		}
		raw, err := json.Marshal(body)
		if err != nil {
			yield(model.ChoiceDelta{}, fmt.Errorf("encode request: %w", err))
			return
		}

		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
			strings.TrimRight(p.cfg.BaseURL, "/")+"/chat/completions", bytes.NewReader(raw))
		if err != nil {
			yield(model.ChoiceDelta{}, err)
			return
		}
		httpReq.Header.Set("Content-Type", "application/json")
		httpReq.Header.Set("Accept", "text/event-stream")
		if p.cfg.APIKey != "" {
			httpReq.Header.Set("Authorization", "Bearer "+p.cfg.APIKey)
		}

		resp, err := p.client.Do(httpReq)
		if err != nil {
			yield(model.ChoiceDelta{}, fmt.Errorf("chat completions: %w", err))
			return
		}
		defer func() { _ = resp.Body.Close() }()

		if resp.StatusCode != http.StatusOK {
			payload, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
			yield(model.ChoiceDelta{}, fmt.Errorf("chat completions: HTTP %d: %s",
				resp.StatusCode, strings.TrimSpace(string(payload))))
			return
		}

		scanner := bufio.NewScanner(resp.Body)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for scanner.Scan() {
			line := strings.TrimSpace(scanner.Text())
			data, ok := strings.CutPrefix(line, "data:")
			if !ok {
				continue
			}
			data = strings.TrimSpace(data)
			if data == streamDone {
				return
			}

			var chunk wireChunk
			if err := json.Unmarshal([]byte(data), &chunk); err != nil {
				yield(model.ChoiceDelta{}, fmt.Errorf("decode stream chunk: %w", err))
				return
			}
			if chunk.Error != nil {
				yield(model.ChoiceDelta{}, fmt.Errorf("chat completions: %s", chunk.Error.Message))
				return
			}
			for _, d := range decodeChunk(chunk) {
				if !yield(d, nil) {
					return
				}
			}
		}
		if err := scanner.Err(); err != nil {
			if ctx.Err() != nil {
				yield(model.ChoiceDelta{}, ctx.Err())
				return
			}
			yield(model.ChoiceDelta{}, fmt.Errorf("read stream: %w", err))
		}
	}
}

func decodeChunk(chunk wireChunk) []model.ChoiceDelta {
	var out []model.ChoiceDelta
	for _, choice := range chunk.Choices {
		d := model.ChoiceDelta{
			Index:        choice.Index,
			FinishReason: choice.FinishReason,
			Delta:        model.Delta{Content: choice.Delta.Content},
		}
		for _, tc := range choice.Delta.ToolCalls {
			index := 0
			if tc.Index != nil {
				index = *tc.Index
			}
			d.Delta.ToolCalls = append(d.Delta.ToolCalls, model.ToolCallDelta{
				Index: index,
				ID:    tc.ID,
				Type:  tc.Type,
				Function: model.FunctionDelta{
					Name:      tc.Function.Name,
					Arguments: tc.Function.Arguments,
				},
			})
		}
		out = append(out, d)
	}

	// Usage arrives on a trailing chunk with no choices.
	if chunk.Usage != nil {
		u := &model.Usage{
			PromptTokens:     chunk.Usage.PromptTokens,
			CompletionTokens: chunk.Usage.CompletionTokens,
			TotalTokens:      chunk.Usage.TotalTokens,
		}
		if chunk.Usage.PromptTokensDetails != nil {
			u.CacheReadTokens = chunk.Usage.PromptTokensDetails.CachedTokens
		}
		if len(out) > 0 {
			out[len(out)-1].Usage = u
		} else {
			out = append(out, model.ChoiceDelta{Usage: u})
		}
	}
	return out
}

var _ model.Provider = (*Provider)(nil)

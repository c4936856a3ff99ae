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

// Usage is provider token accounting. Details carries provider-specific
// nested counters (reasoning tokens, audio tokens and the like).
type Usage struct {
	PromptTokens     int            `json:"prompt_tokens"`
	CompletionTokens int            `json:"completion_tokens"`
	TotalTokens      int            `json:"total_tokens"`
	CacheReadTokens  int            `json:"cache_read_tokens,omitempty"`
	CacheWriteTokens int            `json:"cache_write_tokens,omitempty"`
	Details          map[string]any `json:"details,omitempty"`
}

// IsZero reports whether no counters have been recorded.
func (u Usage) IsZero() bool {
	return u.PromptTokens == 0 && u.CompletionTokens == 0 && u.TotalTokens == 0 &&
		u.CacheReadTokens == 0 && u.CacheWriteTokens == 0 && len(u.Details) == 0
}

// Add sums another usage record into u. Numeric fields add up; nested
// detail maps are summed recursively, non-numeric detail values are
// overwritten by the latest record.
func (u *Usage) Add(o Usage) {
	u.PromptTokens += o.PromptTokens
	u.CompletionTokens += o.CompletionTokens
	u.TotalTokens += o.TotalTokens
	u.CacheReadTokens += o.CacheReadTokens
	u.CacheWriteTokens += o.CacheWriteTokens
	if len(o.Details) > 0 {
		u.Details = mergeNumeric(u.Details, o.Details)
	}
}

func mergeNumeric(dst, src map[string]any) map[string]any {
	if dst == nil {
		dst = make(map[string]any, len(src))
	}
	for k, v := range src {
		switch sv := v.(type) {
		case map[string]any:
			sub, _ := dst[k].(map[string]any)
			dst[k] = mergeNumeric(sub, sv)
		case int:
			dst[k] = toFloat(dst[k]) + float64(sv)
		case int64:
			dst[k] = toFloat(dst[k]) + float64(sv)
		case float64:
			dst[k] = toFloat(dst[k]) + sv
		default:
			dst[k] = v
		}
	}
	return dst
}

func toFloat(v any) float64 {
	switch n := v.(type) {
	case int:
		return float64(n)
	case int64:
		return float64(n)
	case float64:
		return n
	default:
		return 0
	}
}

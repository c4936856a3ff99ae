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

package session

import (
	"sync"

	"github.com/pkoukk/tiktoken-go"
)

// TokenCounter estimates the token cost of message content.
type TokenCounter interface {
	Count(text string) int
}

// TiktokenCounter counts with the cl100k_base encoding, falling back to
// a bytes/4 heuristic when the encoding cannot be loaded.
type TiktokenCounter struct {
	once sync.Once
	enc  *tiktoken.Tiktoken
}

// NewTiktokenCounter builds a lazy-loading counter.
func NewTiktokenCounter() *TiktokenCounter {
	return &TiktokenCounter{}
}

// Count implements TokenCounter.
func (c *TiktokenCounter) Count(text string) int {
	if text == "" {
		return 0
	}
	c.once.Do(func() {
		enc, err := tiktoken.GetEncoding("cl100k_base")
		if err == nil {
			c.enc = enc
		}
	})
	if c.enc == nil {
		return len(text)/4 + 1
	}
	return len(c.enc.Encode(text, nil, nil))
}

var _ TokenCounter = (*TiktokenCounter)(nil)

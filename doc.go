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

// Package strand is the root of the Strand agent runtime.
//
// Strand is an event-driven orchestrator that drives multi-iteration
// conversations between a language model and a pluggable set of tools,
// streaming fine-grained events to downstream consumers over SSE.
//
// The interesting packages live under pkg/:
//
//   - pkg/event: the tagged-variant event model shared by everything
//   - pkg/tagparser: streaming extraction of inline thought tags
//   - pkg/model: provider-shaped types and the delta aggregator
//   - pkg/stream: the single-subscription streaming pipeline
//   - pkg/tool: tool definitions, providers and the dispatcher
//   - pkg/agent: the iteration executor and turn loop
//   - pkg/bus: the per-context event log and SSE router
//   - pkg/server: the HTTP/SSE surface
//   - pkg/runtime: assembly and ordered shutdown
package strand

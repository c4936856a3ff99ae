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

package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/strandai/strand/pkg/bus"
	"github.com/strandai/strand/pkg/event"
)

const keepaliveInterval = 15 * time.Second

// replayGapKind is the synthetic frame warning a reconnecting client
// that evicted events fall inside its requested range.
const replayGapKind = event.Kind("internal:replay-gap")

// handleEvents streams a context's events as SSE. A reconnecting
// client resumes with the Last-Event-ID header (or lastEventId query);
// taskId, kinds, excludeKinds, and internal=true narrow the stream.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "internal", "streaming unsupported")
		return
	}
	contextID := chi.URLParam(r, "contextID")

	since, err := parseSince(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	filter := parseFilter(r)

	sub, gap := s.bus.SubscribeWithReplay(contextID, since, filter, 0)
	defer s.bus.Unsubscribe(sub)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	if gap {
		gapEv := event.New(replayGapKind, contextID, "")
		writeFrame(w, bus.Entry{ID: s.bus.Last(contextID), Event: gapEv})
	}
	flusher.Flush()

	ticker := time.NewTicker(keepaliveInterval)
	defer ticker.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-ticker.C:
			fmt.Fprint(w, ": ping\n\n")
			flusher.Flush()
		case e, open := <-sub.Events():
			if !open {
				return
			}
			writeFrame(w, e)
			flusher.Flush()
		}
	}
}

func writeFrame(w http.ResponseWriter, e bus.Entry) {
	data, err := json.Marshal(e.Event)
	if err != nil {
		return
	}
	fmt.Fprintf(w, "event: %s\nid: %d\ndata: %s\n\n", e.Event.Kind, e.ID, data)
}

func parseSince(r *http.Request) (uint64, error) {
	raw := r.Header.Get("Last-Event-ID")
	if raw == "" {
		raw = r.URL.Query().Get("lastEventId")
	}
	if raw == "" {
		return 0, nil
	}
	since, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid last event id %q", raw)
	}
	return since, nil
}

func parseFilter(r *http.Request) bus.Filter {
	q := r.URL.Query()
	return bus.Filter{
		TaskID:       q.Get("taskId"),
		Internal:     q.Get("internal") == "true",
		IncludeKinds: parseKinds(q.Get("kinds")),
		ExcludeKinds: parseKinds(q.Get("excludeKinds")),
	}
}

func parseKinds(raw string) []event.Kind {
	if raw == "" {
		return nil
	}
	var out []event.Kind
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, event.Kind(part))
		}
	}
	return out
}

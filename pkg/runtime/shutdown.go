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

package runtime

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"time"
)

// DefaultStepTimeout bounds each shutdown step.
const DefaultStepTimeout = 10 * time.Second

// Step is one named stage of an ordered shutdown.
type Step struct {
	Name string
	Run  func(ctx context.Context) error
}

// Coordinator runs shutdown steps strictly in the order they were
// added. A failing step is logged and the remaining steps still run.
type Coordinator struct {
	log         *slog.Logger
	stepTimeout time.Duration
	steps       []Step
}

// NewCoordinator builds a coordinator; a nil logger falls back to the
// default.
func NewCoordinator(log *slog.Logger) *Coordinator {
	if log == nil {
		log = slog.Default()
	}
	return &Coordinator{log: log, stepTimeout: DefaultStepTimeout}
}

// SetStepTimeout overrides the per-step deadline.
func (c *Coordinator) SetStepTimeout(d time.Duration) { c.stepTimeout = d }

// Add appends a step.
func (c *Coordinator) Add(name string, fn func(ctx context.Context) error) {
	c.steps = append(c.steps, Step{Name: name, Run: fn})
}

// Run executes every step in order and returns the joined errors.
func (c *Coordinator) Run(ctx context.Context) error {
	var errs []error
	for _, step := range c.steps {
		stepCtx, cancel := context.WithTimeout(ctx, c.stepTimeout)
		start := time.Now()
		err := step.Run(stepCtx)
		cancel()
		if err != nil {
			c.log.Warn("shutdown step failed", "step", step.Name, "error", err)
			errs = append(errs, err)
			continue
		}
		c.log.Info("shutdown step done", "step", step.Name, "elapsed", time.Since(start))
	}
	return errors.Join(errs...)
}

// ShutdownSteps registers the runtime's own drain sequence on the
// coordinator: stop accepting work, cancel in-flight turns and wait
// for them, then close the event bus.
func (rt *Runtime) ShutdownSteps(c *Coordinator) {
	c.Add("stop-intake", func(context.Context) error {
		rt.StopIntake()
		return nil
	})
	c.Add("drain-turns", func(ctx context.Context) error {
		rt.CancelAll()
		return rt.Wait(ctx)
	})
	c.Add("close-bus", func(context.Context) error {
		rt.bus.Close()
		return nil
	})
}

// CloserStep adapts anything with a Close method into a shutdown step.
func CloserStep(c io.Closer) func(ctx context.Context) error {
	return func(context.Context) error { return c.Close() }
}

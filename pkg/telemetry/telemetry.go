// Package telemetry adapts the teacher's named-span trace tracker
// (Track/Mark/Finish) to a library core with no per-request lifecycle:
// instead of writing a trace file per operation, a finished span is
// logged through pkg/logger when it crosses a slow threshold, and
// otherwise dropped. Used to time an atomic commit's prepare/apply/
// cleanup phases and large-value chunking (spec.md §2).
package telemetry

import (
	"time"

	"github.com/jocades/kvdex/pkg/logger"
)

// SlowThreshold is the span duration above which Finish logs the span.
// Spans under the threshold are dropped without allocation beyond the
// Span value itself.
var SlowThreshold = 50 * time.Millisecond

// Step records one marked phase within a span.
type Step struct {
	Name     string
	Duration time.Duration
}

// Span tracks named phases within one logical operation (a commit, a
// large-document write) from Track to Finish.
type Span struct {
	name     string
	start    time.Time
	lastMark time.Time
	steps    []Step
}

// Track starts a new span named name.
func Track(name string) *Span {
	now := time.Now()
	return &Span{name: name, start: now, lastMark: now}
}

// Mark records the elapsed time since the last Mark (or Track) under
// label.
func (s *Span) Mark(label string) {
	now := time.Now()
	s.steps = append(s.steps, Step{Name: label, Duration: now.Sub(s.lastMark)})
	s.lastMark = now
}

// Finish closes the span. If its total duration is at or above
// SlowThreshold, it's logged via pkg/logger at warn level with each
// marked step's duration as a key/value pair; otherwise it's dropped.
func (s *Span) Finish() {
	total := time.Since(s.start)
	if total < SlowThreshold {
		return
	}
	args := make([]any, 0, 2+2*len(s.steps)+2)
	args = append(args, "op", s.name, "total_ms", total.Seconds()*1000)
	for _, step := range s.steps {
		args = append(args, step.Name+"_ms", step.Duration.Seconds()*1000)
	}
	logger.Warn("slow_span", args...)
}

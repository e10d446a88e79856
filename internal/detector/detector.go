// Package detector defines the object-detection interface the worker core
// invokes per dispatched frame. The real model is an external collaborator,
// a pure function from (frame, class id) to a nonnegative integer count;
// this package only owns the interface boundary and a deterministic stub
// used by tests.
package detector

import "github.com/adred-codev/frame-fleet/internal/videoio"

// Detector counts occurrences of targetClass in frame. A negative return
// value is never produced; detector failures are surfaced by returning
// (0, err), which the caller treats as a zero-hit result.
type Detector interface {
	Predict(frame videoio.Frame, targetClass int) (int, error)
}

// StubDetector is a deterministic detector backed by a fixed hit table,
// keyed by frame id. Frame ids missing from the table report zero hits.
// Used to drive end-to-end tests without a real model.
type StubDetector struct {
	Hits map[int]int
}

// NewStubDetector builds a StubDetector from a per-frame hit count slice,
// hits[i] being the count for frame id i.
func NewStubDetector(hits []int) *StubDetector {
	table := make(map[int]int, len(hits))
	for id, h := range hits {
		table[id] = h
	}
	return &StubDetector{Hits: table}
}

func (s *StubDetector) Predict(frame videoio.Frame, targetClass int) (int, error) {
	return s.Hits[frame.ID], nil
}

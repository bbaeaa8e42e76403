package model

import "time"

// ProbeResult is one timed connection attempt against a candidate.
type ProbeResult struct {
	// Index is the position of the candidate in the probed list.
	Index   int
	Address string
	Elapsed time.Duration
	// Err is set when the dial failed; the elapsed time is still a measurement.
	Err error
}

func (r ProbeResult) Failed() bool { return r.Err != nil }

// Faster reports whether r beats o. Equal times go to the earlier candidate.
func (r ProbeResult) Faster(o ProbeResult) bool {
	if r.Elapsed != o.Elapsed {
		return r.Elapsed < o.Elapsed
	}
	return r.Index < o.Index
}

type Mapping struct {
	IP     string
	Domain string
}

package engine

import (
	"github.com/rustyeddy/fxexec/broker"
	"github.com/rustyeddy/fxexec/journal"
)

// Summary is what one cycle did.
type Summary struct {
	Broker string
	DryRun bool
	Equity float64

	Processed  int
	Submitted  int
	Failed     int
	Skipped    int
	Duplicates int

	// SkipReasons tallies skipped signals by reason.
	SkipReasons map[string]int
	Results     []Result

	// Halted is the halt reason when the cycle ended on a hard stop.
	Halted string
}

// Result is the outcome for one signal.
type Result struct {
	SegmentHash string
	Instrument  string
	Status      journal.Status
	Reason      string
	OrderID     string
	Units       int64
}

// cycleState is the mutable state of one cycle. It lives only for the
// duration of RunCycle.
type cycleState struct {
	equity    float64
	positions broker.Positions
	fetched   map[int]bool

	rejections int
	apiErrors  int

	summary *Summary
}

func newCycleState(brokerName string, dryRun bool) *cycleState {
	return &cycleState{
		positions: broker.Positions{},
		fetched:   map[int]bool{},
		summary: &Summary{
			Broker:      brokerName,
			DryRun:      dryRun,
			SkipReasons: map[string]int{},
		},
	}
}

// openCount is the number of distinct instruments with a position.
func (s *cycleState) openCount() int {
	n := 0
	for _, u := range s.positions {
		if u != 0 {
			n++
		}
	}
	return n
}

func (s *cycleState) setPosition(uic int, units int64) {
	s.fetched[uic] = true
	if units == 0 {
		delete(s.positions, uic)
		return
	}
	s.positions[uic] = units
}

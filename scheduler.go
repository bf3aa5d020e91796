package qnetsim

// scheduler.go holds the event scheduler that drives every model in the package.
// It keeps the simulation clock and the list of pending events, and hands the
// earliest-due event to a Dispatcher.  Events carrying the same due time are
// dispatched in the order in which they were scheduled, so that a run is
// completely determined by its seed and its scheduling calls.

import (
	"container/heap"
	"errors"
	"fmt"
	"math"
)

// EventKind is the closed set of events the models schedule
type EventKind int

const (
	PcktArrival EventKind = iota
	TokenTick
	SrvComplete
	RunEnd
)

var evtKindToStr map[EventKind]string = map[EventKind]string{PcktArrival: "arrival",
	TokenTick: "token", SrvComplete: "departure", RunEnd: "end"}

func (ek EventKind) String() string {
	str, present := evtKindToStr[ek]
	if !present {
		return fmt.Sprintf("EventKind(%d)", int(ek))
	}
	return str
}

// Event is a scheduled unit of work.  Once scheduled it is owned by the
// pending list of the scheduler, and it is removed exactly once when dispatched.
type Event struct {
	Time float64   // due time, in seconds
	Kind EventKind // selects the handler in the model's Dispatch
	Data any       // optional attachment, e.g. the packet a departure completes
	Desc string    // human-readable, for diagnostics only
	seq  uint64    // insertion order, breaks ties among equal Time values
}

var (
	// ErrInvalidSchedule is wrapped by every InvalidScheduleError
	ErrInvalidSchedule = errors.New("event scheduled in the past")

	// ErrEmptySchedule is wrapped by every EmptyScheduleError
	ErrEmptySchedule = errors.New("no pending events")
)

// InvalidScheduleError reports an attempt to schedule an event at a time
// earlier than the clock (or at a time that is not a number)
type InvalidScheduleError struct {
	Now  float64
	Time float64
	Kind EventKind
}

func (e *InvalidScheduleError) Error() string {
	return fmt.Sprintf("%s: %s event at %g, clock at %g", ErrInvalidSchedule, e.Kind, e.Time, e.Now)
}

func (e *InvalidScheduleError) Unwrap() error {
	return ErrInvalidSchedule
}

// EmptyScheduleError reports a dispatch request with nothing pending
type EmptyScheduleError struct {
	Now float64
}

func (e *EmptyScheduleError) Error() string {
	return fmt.Sprintf("%s at time %g", ErrEmptySchedule, e.Now)
}

func (e *EmptyScheduleError) Unwrap() error {
	return ErrEmptySchedule
}

// Dispatcher is implemented by a model; Dispatch is called with the event
// just removed from the pending list, after the clock has been advanced to its time.
type Dispatcher interface {
	Dispatch(es *EvtSched, evt *Event) error
}

// evtHeap and its methods implement a min-priority heap on (Time, seq)
type evtHeap []*Event

func (h evtHeap) Len() int { return len(h) }

func (h evtHeap) Less(i, j int) bool {
	if h[i].Time == h[j].Time {
		return h[i].seq < h[j].seq
	}
	return h[i].Time < h[j].Time
}

func (h evtHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *evtHeap) Push(x any) {
	*h = append(*h, x.(*Event))
}

func (h *evtHeap) Pop() any {
	old := *h
	n := len(old)
	x := old[n-1]
	old[n-1] = nil
	*h = old[0 : n-1]
	return x
}

// EvtSched holds the simulation clock and the pending-event list
type EvtSched struct {
	now        float64
	pending    evtHeap
	nxtSeq     uint64
	dispatched int
}

// CreateEvtSched is a constructor.  The clock starts at zero.
func CreateEvtSched() *EvtSched {
	es := new(EvtSched)
	es.pending = []*Event{}
	heap.Init(&es.pending)
	return es
}

// CurrentTime returns the simulation clock
func (es *EvtSched) CurrentTime() float64 {
	return es.now
}

// Pending returns the number of events not yet dispatched
func (es *EvtSched) Pending() int {
	return len(es.pending)
}

// Dispatched returns the number of events dispatched so far
func (es *EvtSched) Dispatched() int {
	return es.dispatched
}

// Schedule inserts an event due at absolute time t.  It is an error to
// schedule before the current clock; the pending list is left unchanged in that case.
func (es *EvtSched) Schedule(t float64, kind EventKind, data any, desc string) error {
	// the negated comparison also rejects NaN
	if !(t >= es.now) {
		return &InvalidScheduleError{Now: es.now, Time: t, Kind: kind}
	}
	es.nxtSeq += 1
	heap.Push(&es.pending, &Event{Time: t, Kind: kind, Data: data, Desc: desc, seq: es.nxtSeq})
	return nil
}

// ScheduleAfter schedules an event offset seconds after the current clock
func (es *EvtSched) ScheduleAfter(offset float64, kind EventKind, data any, desc string) error {
	return es.Schedule(es.now+offset, kind, data, desc)
}

// Peek returns the next event to be dispatched without removing it
func (es *EvtSched) Peek() (*Event, bool) {
	if len(es.pending) == 0 {
		return nil, false
	}
	return es.pending[0], true
}

// AdvanceAndDispatch removes the earliest-due event, advances the clock to its
// time and hands it to the dispatcher.  The event is returned along with any
// error the dispatcher reports.
func (es *EvtSched) AdvanceAndDispatch(d Dispatcher) (*Event, error) {
	if len(es.pending) == 0 {
		return nil, &EmptyScheduleError{Now: es.now}
	}
	evt := heap.Pop(&es.pending).(*Event)
	es.now = evt.Time
	es.dispatched += 1
	return evt, d.Dispatch(es, evt)
}

// RunUntil schedules the RunEnd sentinel exactly at end and dispatches
// events while the clock is earlier than end.  The sentinel guarantees that
// the loop terminates at end even if nothing else would happen there.
func (es *EvtSched) RunUntil(end float64, d Dispatcher) error {
	if math.IsNaN(end) || math.IsInf(end, 0) {
		return &InvalidScheduleError{Now: es.now, Time: end, Kind: RunEnd}
	}
	err := es.Schedule(end, RunEnd, nil, "last event")
	if err != nil {
		return err
	}
	for es.now < end {
		_, err = es.AdvanceAndDispatch(d)
		if err != nil {
			return err
		}
	}
	return nil
}

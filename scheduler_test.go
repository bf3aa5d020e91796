package qnetsim

import (
	"errors"
	"math"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"
)

// recorder is a Dispatcher that notes the description of every event it sees
type recorder struct {
	seen  []string
	times []float64
	onEvt func(es *EvtSched, evt *Event) error
}

func (r *recorder) Dispatch(es *EvtSched, evt *Event) error {
	r.seen = append(r.seen, evt.Desc)
	r.times = append(r.times, es.CurrentTime())
	if r.onEvt != nil {
		return r.onEvt(es, evt)
	}
	return nil
}

func TestDispatchInTimeOrder(t *testing.T) {
	es := CreateEvtSched()
	require.NoError(t, es.Schedule(3.0, PcktArrival, nil, "c"))
	require.NoError(t, es.Schedule(1.0, PcktArrival, nil, "a"))
	require.NoError(t, es.Schedule(2.0, TokenTick, nil, "b"))
	require.Equal(t, 3, es.Pending())

	r := &recorder{}
	for es.Pending() > 0 {
		_, err := es.AdvanceAndDispatch(r)
		require.NoError(t, err)
	}
	if diff := cmp.Diff([]string{"a", "b", "c"}, r.seen); diff != "" {
		t.Errorf("dispatch order (-want +got):\n%s", diff)
	}
	require.Equal(t, []float64{1.0, 2.0, 3.0}, r.times)
	require.Equal(t, 3.0, es.CurrentTime())
	require.Equal(t, 3, es.Dispatched())
}

func TestEqualTimesDispatchInScheduleOrder(t *testing.T) {
	es := CreateEvtSched()
	want := []string{"first", "second", "third", "fourth", "fifth"}
	kinds := []EventKind{TokenTick, PcktArrival, SrvComplete, PcktArrival, TokenTick}
	for idx, desc := range want {
		require.NoError(t, es.Schedule(5.0, kinds[idx], nil, desc))
	}
	require.NoError(t, es.Schedule(1.0, PcktArrival, nil, "early"))

	r := &recorder{}
	for es.Pending() > 0 {
		_, err := es.AdvanceAndDispatch(r)
		require.NoError(t, err)
	}
	if diff := cmp.Diff(append([]string{"early"}, want...), r.seen); diff != "" {
		t.Errorf("dispatch order (-want +got):\n%s", diff)
	}
}

func TestEventsScheduledDuringDispatchAtSameTime(t *testing.T) {
	es := CreateEvtSched()
	require.NoError(t, es.Schedule(1.0, PcktArrival, nil, "outer"))
	require.NoError(t, es.Schedule(1.0, PcktArrival, nil, "sibling"))

	r := &recorder{}
	r.onEvt = func(es *EvtSched, evt *Event) error {
		if evt.Desc == "outer" {
			return es.ScheduleAfter(0.0, TokenTick, nil, "inner")
		}
		return nil
	}
	for es.Pending() > 0 {
		_, err := es.AdvanceAndDispatch(r)
		require.NoError(t, err)
	}
	require.Equal(t, []string{"outer", "sibling", "inner"}, r.seen)
}

func TestScheduleInThePastIsRejected(t *testing.T) {
	es := CreateEvtSched()
	require.NoError(t, es.Schedule(2.0, PcktArrival, nil, "x"))
	_, err := es.AdvanceAndDispatch(&recorder{})
	require.NoError(t, err)

	err = es.Schedule(1.5, PcktArrival, nil, "late")
	require.ErrorIs(t, err, ErrInvalidSchedule)
	var ise *InvalidScheduleError
	require.True(t, errors.As(err, &ise))
	require.Equal(t, 2.0, ise.Now)
	require.Equal(t, 1.5, ise.Time)
	require.Equal(t, 0, es.Pending())

	require.ErrorIs(t, es.Schedule(math.NaN(), TokenTick, nil, "nan"), ErrInvalidSchedule)
	require.ErrorIs(t, es.ScheduleAfter(-0.1, TokenTick, nil, "negative"), ErrInvalidSchedule)
	require.Equal(t, 0, es.Pending())

	// the current time itself is allowed
	require.NoError(t, es.Schedule(2.0, TokenTick, nil, "now"))
}

func TestDispatchFromEmptySchedule(t *testing.T) {
	es := CreateEvtSched()
	evt, err := es.AdvanceAndDispatch(&recorder{})
	require.Nil(t, evt)
	require.ErrorIs(t, err, ErrEmptySchedule)
	var ese *EmptyScheduleError
	require.True(t, errors.As(err, &ese))
}

func TestPeek(t *testing.T) {
	es := CreateEvtSched()
	_, present := es.Peek()
	require.False(t, present)

	require.NoError(t, es.Schedule(4.0, TokenTick, "payload", "later"))
	require.NoError(t, es.Schedule(1.0, PcktArrival, nil, "sooner"))
	evt, present := es.Peek()
	require.True(t, present)
	require.Equal(t, "sooner", evt.Desc)
	require.Equal(t, 2, es.Pending())
	require.Equal(t, 0.0, es.CurrentTime())
}

func TestRunUntilStopsAtEnd(t *testing.T) {
	es := CreateEvtSched()
	r := &recorder{}

	// a self-perpetuating event stream
	r.onEvt = func(es *EvtSched, evt *Event) error {
		if evt.Kind == PcktArrival {
			return es.ScheduleAfter(0.3, PcktArrival, nil, "tick")
		}
		return nil
	}
	require.NoError(t, es.Schedule(0.0, PcktArrival, nil, "tick"))
	require.NoError(t, es.RunUntil(1.0, r))
	require.Equal(t, 1.0, es.CurrentTime())
	require.Equal(t, "last event", r.seen[len(r.seen)-1])

	// 0, 0.3, 0.6, 0.9 then the sentinel
	require.Len(t, r.seen, 5)
	for _, tm := range r.times {
		require.LessOrEqual(t, tm, 1.0)
	}
}

func TestRunUntilWithNothingElsePending(t *testing.T) {
	es := CreateEvtSched()
	r := &recorder{}
	require.NoError(t, es.RunUntil(10.0, r))
	require.Equal(t, []string{"last event"}, r.seen)
	require.Equal(t, 10.0, es.CurrentTime())

	require.ErrorIs(t, es.RunUntil(5.0, r), ErrInvalidSchedule)
	require.ErrorIs(t, es.RunUntil(math.Inf(1), r), ErrInvalidSchedule)
}

func TestDispatchErrorStopsRun(t *testing.T) {
	es := CreateEvtSched()
	boom := errors.New("boom")
	r := &recorder{onEvt: func(es *EvtSched, evt *Event) error { return boom }}
	require.NoError(t, es.Schedule(0.5, PcktArrival, nil, "x"))
	require.ErrorIs(t, es.RunUntil(1.0, r), boom)
	require.Equal(t, 0.5, es.CurrentTime())
}

func TestEventKindString(t *testing.T) {
	require.Equal(t, "arrival", PcktArrival.String())
	require.Equal(t, "token", TokenTick.String())
	require.Equal(t, "departure", SrvComplete.String())
	require.Equal(t, "end", RunEnd.String())
	require.Equal(t, "EventKind(9)", EventKind(9).String())
}

package qnetsim

// loss-sys.go holds the single-server loss system: a FIFO buffer of bounded
// length in front of one transmission link.  Packets arrive as a Poisson
// process; an arrival that finds the buffer full is rejected.

import (
	"errors"
	"fmt"
	"math"

	"github.com/rs/xid"
	"golang.org/x/exp/slices"
)

// service time disciplines of the loss system's link
const (
	SrvFixed  = "fixed"  // 1/LinkRate per packet
	SrvBySize = "bysize" // packet bits / LinkRate
	SrvExp    = "exp"    // exponential with mean 1/LinkRate
)

var srvDists []string = []string{SrvFixed, SrvBySize, SrvExp}

// LossSysCfg holds the parameters of a loss system run
type LossSysCfg struct {
	// ArrivalRate is the mean number of packet arrivals per second
	ArrivalRate float64 `json:"arrivalrate" yaml:"arrivalrate"`

	// LinkRate is packets per second for SrvFixed and SrvExp, bits per second for SrvBySize
	LinkRate float64 `json:"linkrate" yaml:"linkrate"`

	// SrvDist selects how the service time is computed at service start
	SrvDist string `json:"srvdist" yaml:"srvdist"`

	// PcktBits is the length of every packet
	PcktBits int `json:"pcktbits" yaml:"pcktbits"`

	// Capacity is the number of packets the buffer holds in addition to the one
	// in service; negative for an unbounded buffer
	Capacity int `json:"capacity" yaml:"capacity"`

	// RunLength is the simulation time at which the run stops
	RunLength float64 `json:"runlength" yaml:"runlength"`

	// Verbose logs every dispatched event at debug level
	Verbose bool `json:"verbose" yaml:"verbose"`
}

// DefaultLossSysCfg returns the reference configuration
func DefaultLossSysCfg() LossSysCfg {
	return LossSysCfg{ArrivalRate: 100, LinkRate: 1000, SrvDist: SrvFixed, PcktBits: 1000,
		Capacity: 3, RunLength: 100}
}

// Validate returns a CfgError listing every unusable field
func (cfg *LossSysCfg) Validate() error {
	errs := []error{}
	errs = append(errs, checkRate("arrival rate", cfg.ArrivalRate))
	errs = append(errs, checkRate("link rate", cfg.LinkRate))
	errs = append(errs, checkRate("run length", cfg.RunLength))
	if !slices.Contains(srvDists, cfg.SrvDist) {
		errs = append(errs, fmt.Errorf("service distribution %q is not one of %v", cfg.SrvDist, srvDists))
	}
	if cfg.PcktBits <= 0 {
		errs = append(errs, fmt.Errorf("packet length %d bits is not positive", cfg.PcktBits))
	}
	return cfgErrs(errs)
}

// checkRate returns an error unless x is positive and finite
func checkRate(name string, x float64) error {
	if !(x > 0.0) || math.IsInf(x, 1) {
		return fmt.Errorf("%s %g is not positive and finite", name, x)
	}
	return nil
}

// LossSys is the state of one loss system run.  Nothing in it is shared with other runs.
type LossSys struct {
	cfg       LossSysCfg
	es        *EvtSched
	rng       *RandStream
	buffer    *PcktQueue
	link      *Server
	stats     *RunStats
	logger    Logger
	trace     *TraceManager
	traceIdx  int
	nxtPcktID int
	started   bool
}

// CreateLossSys is a constructor.  The configuration is validated before any state is built.
func CreateLossSys(cfg LossSysCfg, rng *RandStream, logger Logger) (*LossSys, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if rng == nil {
		return nil, errors.New("loss system needs a random stream")
	}
	ls := new(LossSys)
	ls.cfg = cfg
	ls.es = CreateEvtSched()
	ls.rng = rng
	ls.buffer = CreatePcktQueue(cfg.Capacity)
	ls.link = CreateServer()
	ls.stats = &RunStats{RunID: xid.New().String(), Seed: rng.Seed()}
	ls.logger = runLogger(logger, ls.stats.RunID, rng.Seed())
	return ls, nil
}

// SetTrace directs a record of every dispatched event to tm, under run index runIdx
func (ls *LossSys) SetTrace(tm *TraceManager, runIdx int) {
	ls.trace = tm
	ls.traceIdx = runIdx
}

// Sched returns the run's event scheduler
func (ls *LossSys) Sched() *EvtSched {
	return ls.es
}

// Buffer returns the run's packet buffer
func (ls *LossSys) Buffer() *PcktQueue {
	return ls.buffer
}

// Link returns the run's server
func (ls *LossSys) Link() *Server {
	return ls.link
}

// Stats returns the running counts; final rates are only meaningful after Finish
func (ls *LossSys) Stats() *RunStats {
	return ls.stats
}

// Start schedules the first packet arrival at the current clock time
func (ls *LossSys) Start() error {
	if ls.started {
		return errors.New("loss system run already started")
	}
	ls.started = true
	return ls.es.Schedule(ls.es.CurrentTime(), PcktArrival, nil, "first arrival")
}

// Run executes the whole run and returns its statistics
func (ls *LossSys) Run() (*RunStats, error) {
	ls.logger.Infof("loss system run: arrival rate %g, link rate %g, B=%d, run length %g",
		ls.cfg.ArrivalRate, ls.cfg.LinkRate, ls.cfg.Capacity, ls.cfg.RunLength)
	if err := ls.Start(); err != nil {
		return nil, err
	}
	if err := ls.es.RunUntil(ls.cfg.RunLength, ls); err != nil {
		return nil, err
	}
	return ls.Finish(), nil
}

// Finish fills in the end-of-run fields of the statistics and returns them
func (ls *LossSys) Finish() *RunStats {
	ls.stats.Elapsed = ls.es.CurrentTime()
	ls.stats.Buffered = int64(ls.buffer.Len())
	if !ls.link.Idle() {
		ls.stats.Buffered += 1
	}
	ls.stats.HighWater = ls.buffer.HighWater()
	ls.stats.Utilization = ls.link.Utilization(ls.stats.Elapsed)
	if ls.stats.Arrivals == 0 {
		ls.logger.Warnf("no arrivals in %g seconds, loss rate undefined", ls.stats.Elapsed)
	}
	ls.logger.Infof("loss system done: %d arrivals, %d rejected, %d transmitted",
		ls.stats.Arrivals, ls.stats.Rejected, ls.stats.Transmitted)
	return ls.stats
}

// Dispatch is called by the scheduler for every event of the run
func (ls *LossSys) Dispatch(es *EvtSched, evt *Event) error {
	var err error
	switch evt.Kind {
	case PcktArrival:
		err = ls.pcktArrival(es)
	case SrvComplete:
		err = ls.srvComplete(es, evt)
	case RunEnd:
	default:
		panic(fmt.Sprintf("loss system cannot dispatch %s event", evt.Kind))
	}
	if ls.cfg.Verbose {
		ls.logger.Debugf("%g %s: queue %d, link %s", evt.Time, evt.Kind, ls.buffer.Len(), ls.link.State())
	}
	AddEvtTrace(ls.trace, ls.traceIdx, evt, ls.buffer.Len(), 0.0, !ls.link.Idle())
	return err
}

// pcktArrival schedules the next arrival, then admits the new packet
// directly into service, into the buffer, or rejects it
func (ls *LossSys) pcktArrival(es *EvtSched) error {
	now := es.CurrentTime()
	interarrival, err := ls.rng.Exponential(1.0 / ls.cfg.ArrivalRate)
	if err != nil {
		return err
	}
	err = es.Schedule(now+interarrival, PcktArrival, nil, "packet arrival")
	if err != nil {
		return err
	}

	ls.stats.recordArrival()
	p := &Packet{ID: ls.nxtPcktID, SizeBits: ls.cfg.PcktBits, ArrTime: now}
	ls.nxtPcktID += 1

	// an idle link means the buffer is empty, so the packet goes straight into service
	if ls.link.Idle() {
		return ls.startService(es, p)
	}
	if !ls.buffer.Enqueue(p) {
		ls.stats.recordRejection()
	}
	return nil
}

// srvComplete accounts for the packet whose transmission just ended and
// starts the transmission of the buffer's head, if any
func (ls *LossSys) srvComplete(es *EvtSched, evt *Event) error {
	now := es.CurrentTime()
	p, busy := ls.link.Complete(now)
	if !busy || p != evt.Data.(*Packet) {
		panic("departure does not match the packet in service")
	}
	ls.stats.recordDeparture(p, now)

	nxt, present := ls.buffer.Dequeue()
	if !present {
		return nil
	}
	return ls.startService(es, nxt)
}

// startService computes the service time of p, now, and puts it on the link
func (ls *LossSys) startService(es *EvtSched, p *Packet) error {
	var srvTime float64
	switch ls.cfg.SrvDist {
	case SrvFixed:
		srvTime = 1.0 / ls.cfg.LinkRate
	case SrvBySize:
		srvTime = float64(p.SizeBits) / ls.cfg.LinkRate
	case SrvExp:
		var err error
		srvTime, err = ls.rng.Exponential(1.0 / ls.cfg.LinkRate)
		if err != nil {
			return err
		}
	}
	return ls.link.Start(es, p, srvTime)
}

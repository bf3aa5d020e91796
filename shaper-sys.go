package qnetsim

// shaper-sys.go holds the token bucket shaper: a bounded data buffer whose
// head packet is transmitted only when the token bucket holds at least as
// many tokens as the packet has bits.  Token generation and packet arrivals
// are independent event streams; each is followed by the same transmission check.

import (
	"errors"
	"fmt"

	"github.com/rs/xid"
	"golang.org/x/exp/slices"
)

// refill modes of the shaper's bucket
const (
	RefillTick  = "tick"  // one token per generation interval
	RefillFluid = "fluid" // continuous refill
)

var refillModes []string = []string{RefillTick, RefillFluid}

// ShaperCfg holds the parameters of a token bucket shaper run
type ShaperCfg struct {
	// MaxTokens is the bucket ceiling, in tokens (one token covers one bit)
	MaxTokens int64 `json:"maxtokens" yaml:"maxtokens"`

	// MaxData is the capacity of the data buffer, in packets
	MaxData int `json:"maxdata" yaml:"maxdata"`

	// TokenRate is the number of tokens generated per second
	TokenRate float64 `json:"tokenrate" yaml:"tokenrate"`

	// ArrivalRate is the mean number of packet arrivals per second
	ArrivalRate float64 `json:"arrivalrate" yaml:"arrivalrate"`

	// PcktSizes lists the packet lengths in bits, each drawn with equal probability
	PcktSizes []int `json:"pcktsizes" yaml:"pcktsizes"`

	// RunLength is the simulation time at which the run stops
	RunLength float64 `json:"runlength" yaml:"runlength"`

	// Refill selects the token generation model
	Refill string `json:"refill" yaml:"refill"`

	// Verbose logs every dispatched event at debug level
	Verbose bool `json:"verbose" yaml:"verbose"`
}

// DefaultShaperCfg returns the reference configuration
func DefaultShaperCfg() ShaperCfg {
	return ShaperCfg{MaxTokens: 1000, MaxData: 50, TokenRate: 1000, ArrivalRate: 100,
		PcktSizes: []int{500, 1000, 1500, 2000, 2500}, RunLength: 100, Refill: RefillTick}
}

// Validate returns a CfgError listing every unusable field
func (cfg *ShaperCfg) Validate() error {
	errs := []error{}
	errs = append(errs, checkRate("token rate", cfg.TokenRate))
	errs = append(errs, checkRate("arrival rate", cfg.ArrivalRate))
	errs = append(errs, checkRate("run length", cfg.RunLength))
	if cfg.MaxTokens < 0 {
		errs = append(errs, fmt.Errorf("max tokens %d is negative", cfg.MaxTokens))
	}
	if cfg.MaxData < 0 {
		errs = append(errs, fmt.Errorf("max data %d is negative", cfg.MaxData))
	}
	if len(cfg.PcktSizes) == 0 {
		errs = append(errs, errors.New("no packet sizes given"))
	}
	for _, size := range cfg.PcktSizes {
		if size <= 0 {
			errs = append(errs, fmt.Errorf("packet size %d bits is not positive", size))
		}
	}
	if !slices.Contains(refillModes, cfg.Refill) {
		errs = append(errs, fmt.Errorf("refill mode %q is not one of %v", cfg.Refill, refillModes))
	}
	return cfgErrs(errs)
}

// Shaper is the state of one token bucket shaper run
type Shaper struct {
	cfg       ShaperCfg
	es        *EvtSched
	rng       *RandStream
	buffer    *PcktQueue
	gate      tokenGate
	tick      *TokenBucket // non-nil in RefillTick mode
	fluid     *FluidBucket // non-nil in RefillFluid mode
	wakeAt    float64      // time of the earliest pending fluid wake-up, negative if none
	stats     *RunStats
	logger    Logger
	trace     *TraceManager
	traceIdx  int
	nxtPcktID int
	started   bool
	warned    bool
}

// CreateShaper is a constructor.  The configuration is validated before any state is built.
func CreateShaper(cfg ShaperCfg, rng *RandStream, logger Logger) (*Shaper, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if rng == nil {
		return nil, errors.New("shaper needs a random stream")
	}
	sh := new(Shaper)
	sh.cfg = cfg
	sh.cfg.PcktSizes = slices.Clone(cfg.PcktSizes)
	sh.es = CreateEvtSched()
	sh.rng = rng
	sh.buffer = CreatePcktQueue(cfg.MaxData)
	sh.wakeAt = -1.0

	var err error
	if cfg.Refill == RefillFluid {
		sh.fluid, err = CreateFluidBucket(cfg.MaxTokens, cfg.TokenRate)
		sh.gate = sh.fluid
	} else {
		sh.tick, err = CreateTokenBucket(cfg.MaxTokens, cfg.TokenRate)
		sh.gate = sh.tick
	}
	if err != nil {
		return nil, err
	}
	sh.stats = &RunStats{RunID: xid.New().String(), Seed: rng.Seed()}
	sh.logger = runLogger(logger, sh.stats.RunID, rng.Seed())
	return sh, nil
}

// SetTrace directs a record of every dispatched event to tm, under run index runIdx
func (sh *Shaper) SetTrace(tm *TraceManager, runIdx int) {
	sh.trace = tm
	sh.traceIdx = runIdx
}

// Sched returns the run's event scheduler
func (sh *Shaper) Sched() *EvtSched {
	return sh.es
}

// Buffer returns the run's data buffer
func (sh *Shaper) Buffer() *PcktQueue {
	return sh.buffer
}

// Tokens returns the bucket level at the current clock time
func (sh *Shaper) Tokens() float64 {
	return sh.gate.Level(sh.es.CurrentTime())
}

// MaxTokens returns the bucket ceiling
func (sh *Shaper) MaxTokens() int64 {
	return sh.gate.Ceiling()
}

// Stats returns the running counts; final rates are only meaningful after Finish
func (sh *Shaper) Stats() *RunStats {
	return sh.stats
}

// Start schedules the first arrival after an exponential interarrival time
// and, in tick mode, the first token generation one interval from now
func (sh *Shaper) Start() error {
	if sh.started {
		return errors.New("shaper run already started")
	}
	sh.started = true
	interarrival, err := sh.rng.Exponential(1.0 / sh.cfg.ArrivalRate)
	if err != nil {
		return err
	}
	err = sh.es.ScheduleAfter(interarrival, PcktArrival, nil, "first arrival")
	if err != nil {
		return err
	}
	if sh.tick != nil {
		return sh.es.ScheduleAfter(sh.tick.Interval(), TokenTick, nil, "first token")
	}
	return nil
}

// Run executes the whole run and returns its statistics
func (sh *Shaper) Run() (*RunStats, error) {
	sh.logger.Infof("shaper run: max tokens %d, max data %d, token rate %g, refill %s",
		sh.cfg.MaxTokens, sh.cfg.MaxData, sh.cfg.TokenRate, sh.cfg.Refill)
	if err := sh.Start(); err != nil {
		return nil, err
	}
	if err := sh.es.RunUntil(sh.cfg.RunLength, sh); err != nil {
		return nil, err
	}
	return sh.Finish(), nil
}

// Finish fills in the end-of-run fields of the statistics and returns them
func (sh *Shaper) Finish() *RunStats {
	sh.stats.Elapsed = sh.es.CurrentTime()
	sh.stats.Buffered = int64(sh.buffer.Len())
	sh.stats.HighWater = sh.buffer.HighWater()
	if sh.stats.Elapsed > 0.0 {
		sh.stats.Utilization = float64(sh.stats.BitsSent) / (sh.cfg.TokenRate * sh.stats.Elapsed)
	}
	if sh.stats.Arrivals == 0 {
		sh.logger.Warnf("no arrivals in %g seconds, loss rate undefined", sh.stats.Elapsed)
	}
	sh.logger.Infof("shaper done: %d arrivals, %d lost, %d bits sent",
		sh.stats.Arrivals, sh.stats.Rejected, sh.stats.BitsSent)
	return sh.stats
}

// Dispatch is called by the scheduler for every event of the run
func (sh *Shaper) Dispatch(es *EvtSched, evt *Event) error {
	var err error
	switch evt.Kind {
	case PcktArrival:
		err = sh.pcktArrival(es)
	case TokenTick:
		err = sh.tokenTick(es, evt)
	case RunEnd:
	default:
		panic(fmt.Sprintf("shaper cannot dispatch %s event", evt.Kind))
	}
	if sh.cfg.Verbose {
		sh.logger.Debugf("%g %s: buffer %d, tokens %g", evt.Time, evt.Kind, sh.buffer.Len(), sh.Tokens())
	}
	AddEvtTrace(sh.trace, sh.traceIdx, evt, sh.buffer.Len(), sh.Tokens(), false)
	return err
}

// tokenTick generates a token and reschedules itself in tick mode; in fluid
// mode it is a wake-up for a head packet that should now be covered
func (sh *Shaper) tokenTick(es *EvtSched, evt *Event) error {
	if sh.tick != nil {
		err := es.ScheduleAfter(sh.tick.Interval(), TokenTick, nil, "token generation")
		if err != nil {
			return err
		}
		sh.tick.Tick()
	} else if evt.Time >= sh.wakeAt {
		sh.wakeAt = -1.0
	}
	return sh.checkTransmission(es)
}

// pcktArrival schedules the next arrival, then buffers the new packet or counts it lost
func (sh *Shaper) pcktArrival(es *EvtSched) error {
	now := es.CurrentTime()
	interarrival, err := sh.rng.Exponential(1.0 / sh.cfg.ArrivalRate)
	if err != nil {
		return err
	}
	err = es.Schedule(now+interarrival, PcktArrival, nil, "packet arrival")
	if err != nil {
		return err
	}

	sh.stats.recordArrival()
	size := sh.cfg.PcktSizes[sh.rng.Pick(len(sh.cfg.PcktSizes))]
	p := &Packet{ID: sh.nxtPcktID, SizeBits: size, ArrTime: now}
	sh.nxtPcktID += 1
	if !sh.buffer.Enqueue(p) {
		sh.stats.recordRejection()
	}
	return sh.checkTransmission(es)
}

// checkTransmission sends buffered packets, head first, for as long as the
// bucket covers the head packet in full
func (sh *Shaper) checkTransmission(es *EvtSched) error {
	now := es.CurrentTime()
	for {
		p, present := sh.buffer.Front()
		if !present {
			return nil
		}
		if !sh.gate.Take(now, int64(p.SizeBits)) {
			return sh.blocked(es, p)
		}
		sh.buffer.Dequeue()
		sh.stats.recordDeparture(p, now)
	}
}

// blocked is called when the head packet p is not covered.  In fluid mode
// a wake-up is scheduled for the time the bucket will cover it.
func (sh *Shaper) blocked(es *EvtSched, p *Packet) error {
	if int64(p.SizeBits) > sh.gate.Ceiling() {
		if !sh.warned {
			sh.warned = true
			sh.logger.Warnf("packet of %d bits exceeds the bucket ceiling of %d tokens and blocks the buffer",
				p.SizeBits, sh.gate.Ceiling())
		}
		return nil
	}
	if sh.fluid == nil {
		return nil
	}
	readyAt, ok := sh.fluid.ReadyAt(es.CurrentTime(), int64(p.SizeBits))
	if !ok || (sh.wakeAt >= 0.0 && sh.wakeAt <= readyAt) {
		return nil
	}
	sh.wakeAt = readyAt
	return es.Schedule(readyAt, TokenTick, nil, "refill wake-up")
}

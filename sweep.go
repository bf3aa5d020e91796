package qnetsim

// sweep.go runs an experiment described by a SweepCfg: for every value of the
// swept parameter, one independent run per seed, summarized across the seeds.
// Runs share no state, so they may execute on a pool of goroutines; results
// are always placed and recorded in (value, seed) order.

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// Model is the view of a loss system or shaper run that the sweep needs
type Model interface {
	Dispatcher
	SetTrace(tm *TraceManager, runIdx int)
	Run() (*RunStats, error)
}

// BuildModel creates the run of the named model with the given parameter
// settings applied, in order, over the model's default configuration
func BuildModel(model string, params []ExpParameter, rng *RandStream, logger Logger) (Model, error) {
	switch model {
	case LossModel:
		cfg := DefaultLossSysCfg()
		for _, param := range params {
			if err := ApplyLossSysParam(&cfg, param.Param, param.Value); err != nil {
				return nil, cfgErrs([]error{err})
			}
		}
		return CreateLossSys(cfg, rng, logger)
	case ShaperModel:
		cfg := DefaultShaperCfg()
		for _, param := range params {
			if err := ApplyShaperParam(&cfg, param.Param, param.Value); err != nil {
				return nil, cfgErrs([]error{err})
			}
		}
		return CreateShaper(cfg, rng, logger)
	}
	return nil, cfgErrs([]error{fmt.Errorf("model %q is not recognized", model)})
}

// SweepPoint holds the runs at one value of the swept parameter
type SweepPoint struct {
	Value       string      `json:"value" yaml:"value"`
	Runs        []*RunStats `json:"runs" yaml:"runs"`
	LossRate    Summary     `json:"lossrate" yaml:"lossrate"`
	Throughput  Summary     `json:"throughput" yaml:"throughput"`
	Rejected    Summary     `json:"rejected" yaml:"rejected"`
	Transmitted Summary     `json:"transmitted" yaml:"transmitted"`
	MeanDelay   Summary     `json:"meandelay" yaml:"meandelay"`
}

// summarize computes the cross-seed summaries from the point's completed runs
func (pt *SweepPoint) summarize() {
	loss, thru, rej, xmt, delay := []float64{}, []float64{}, []float64{}, []float64{}, []float64{}
	for _, rs := range pt.Runs {
		if rs == nil {
			continue
		}
		loss = append(loss, rs.LossRate())
		thru = append(thru, rs.ThroughputBps())
		rej = append(rej, float64(rs.Rejected))
		xmt = append(xmt, float64(rs.Transmitted))
		delay = append(delay, rs.MeanDelay())
	}
	pt.LossRate = Summarize(loss)
	pt.Throughput = Summarize(thru)
	pt.Rejected = Summarize(rej)
	pt.Transmitted = Summarize(xmt)
	pt.MeanDelay = Summarize(delay)
}

// sweepJob is one replication: a model at one swept value under one seed
type sweepJob struct {
	pointIdx int
	seedIdx  int
	model    Model
}

// RunSweep executes the experiment.  Every completed run is recorded by rec, when rec
// is not nil, once the runs stop.  Cancelling ctx stops new runs from starting; the
// points returned then hold nil for the runs that never ran.
func RunSweep(ctx context.Context, sc *SweepCfg, logger Logger, rec Recorder) ([]SweepPoint, error) {
	if err := sc.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = runLogger(nil, sc.Name, 0)
	}
	values, _ := sc.Sweep.Expand()
	seeds := SeedsUntilZero(sc.Seeds)
	paramObj := paramObjOf(sc.Model)

	// build every model up front, in order, so that named rng streams are
	// allocated deterministically whatever the number of workers
	points := make([]SweepPoint, len(values))
	jobs := make([]sweepJob, 0, len(values)*len(seeds))
	for pointIdx, value := range values {
		points[pointIdx] = SweepPoint{Value: value, Runs: make([]*RunStats, len(seeds))}
		params := append(append([]ExpParameter{}, sc.Parameters...), *CreateExpParameter(paramObj, sc.Sweep.Param, value))
		for seedIdx, seed := range seeds {
			var rng *RandStream
			if sc.RngKind == RngLEcuyer {
				rng = CreateNamedRandStream(fmt.Sprintf("%s-%s=%s-%d", sc.Name, sc.Sweep.Param, value, seed))
			} else {
				rng = CreateRandStream(seed)
			}
			model, err := BuildModel(sc.Model, params, rng, logger)
			if err != nil {
				return nil, fmt.Errorf("%s=%s: %w", sc.Sweep.Param, value, err)
			}
			jobs = append(jobs, sweepJob{pointIdx: pointIdx, seedIdx: seedIdx, model: model})
		}
	}

	logger.Infof("sweep %s: %d values of %s, %d seeds", sc.Name, len(values), sc.Sweep.Param, len(seeds))
	return runAndRecord(ctx, sc, jobs, points, seeds, rec)
}

// runAndRecord executes the jobs, summarizes the points and hands every
// completed run to rec.  When the jobs stop early, through cancellation or a
// failed run, the runs that did complete are still summarized and recorded.
func runAndRecord(ctx context.Context, sc *SweepCfg, jobs []sweepJob, points []SweepPoint,
	seeds []uint64, rec Recorder) ([]SweepPoint, error) {
	runErr := runJobs(ctx, jobs, points, sc.Workers)
	for idx := range points {
		for seedIdx, rs := range points[idx].Runs {
			if rs != nil {
				rs.Seed = seeds[seedIdx]
			}
		}
		points[idx].summarize()
	}
	if rec != nil {
		if err := recordRuns(rec, sc, points); err != nil {
			return points, errors.Join(runErr, err)
		}
	}
	return points, runErr
}

// recordRuns records the completed runs in (value, seed) order and flushes rec
func recordRuns(rec Recorder, sc *SweepCfg, points []SweepPoint) error {
	for _, pt := range points {
		for _, rs := range pt.Runs {
			if rs == nil {
				continue
			}
			err := rec.Record(RunRecord{ExpName: sc.Name, Model: sc.Model, Param: sc.Sweep.Param, Value: pt.Value, Stats: rs})
			if err != nil {
				return err
			}
		}
	}
	return rec.Flush()
}

// runJobs executes the jobs on at most workers goroutines and stores each
// result in its slot of points.  The first error stops the dispatch of further jobs.
func runJobs(ctx context.Context, jobs []sweepJob, points []SweepPoint, workers int) error {
	if workers < 1 {
		workers = 1
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var (
		wg       sync.WaitGroup
		errOnce  sync.Once
		firstErr error
	)
	jobCh := make(chan sweepJob)
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for job := range jobCh {
				if ctx.Err() != nil {
					continue
				}
				rs, err := job.model.Run()
				if err != nil {
					errOnce.Do(func() {
						firstErr = err
						cancel()
					})
					continue
				}
				points[job.pointIdx].Runs[job.seedIdx] = rs
			}
		}()
	}

feed:
	for _, job := range jobs {
		select {
		case <-ctx.Done():
			break feed
		case jobCh <- job:
		}
	}
	close(jobCh)
	wg.Wait()

	if firstErr != nil {
		return firstErr
	}
	return ctx.Err()
}

package qnetsim

// stats.go holds the per-run statistics collector and the summaries computed
// across the runs of one experiment point (one run per random seed)

import (
	"math"

	"github.com/montanaflynn/stats"
	"gonum.org/v1/gonum/stat"
	"gonum.org/v1/gonum/stat/distuv"
)

// RunStats accumulates counts for one run.  It is mutated only by event handlers.
type RunStats struct {
	RunID       string  `json:"runid" yaml:"runid"`
	Seed        uint64  `json:"seed" yaml:"seed"`
	Arrivals    int64   `json:"arrivals" yaml:"arrivals"`
	Rejected    int64   `json:"rejected" yaml:"rejected"`
	Transmitted int64   `json:"transmitted" yaml:"transmitted"`
	Buffered    int64   `json:"buffered" yaml:"buffered"` // still queued or in service at the end of the run
	AccumDelay  float64 `json:"accumdelay" yaml:"accumdelay"`
	BitsSent    int64   `json:"bitssent" yaml:"bitssent"`
	Elapsed     float64 `json:"elapsed" yaml:"elapsed"`
	HighWater   int     `json:"highwater" yaml:"highwater"`
	Utilization float64 `json:"utilization" yaml:"utilization"`

	delays []float64 // one entry per transmitted packet
}

// recordArrival counts an arrival
func (rs *RunStats) recordArrival() {
	rs.Arrivals += 1
}

// recordRejection counts an arrival that found its buffer full
func (rs *RunStats) recordRejection() {
	rs.Rejected += 1
}

// recordDeparture counts a transmitted packet and its delay
func (rs *RunStats) recordDeparture(p *Packet, now float64) {
	delay := now - p.ArrTime
	rs.Transmitted += 1
	rs.BitsSent += int64(p.SizeBits)
	rs.AccumDelay += delay
	rs.delays = append(rs.delays, delay)
}

// LossRate returns Rejected/Arrivals, or NaN when there were no arrivals
func (rs *RunStats) LossRate() float64 {
	if rs.Arrivals == 0 {
		return math.NaN()
	}
	return float64(rs.Rejected) / float64(rs.Arrivals)
}

// ThroughputBps returns the bits transmitted per second of simulation time,
// or NaN before any time has elapsed
func (rs *RunStats) ThroughputBps() float64 {
	if !(rs.Elapsed > 0.0) {
		return math.NaN()
	}
	return float64(rs.BitsSent) / rs.Elapsed
}

// MeanDelay returns the average time from arrival to the end of transmission, or NaN if nothing was sent
func (rs *RunStats) MeanDelay() float64 {
	if rs.Transmitted == 0 {
		return math.NaN()
	}
	return rs.AccumDelay / float64(rs.Transmitted)
}

// DelayPercentile returns the given percentile (0,100] of the per-packet delays
func (rs *RunStats) DelayPercentile(pct float64) (float64, error) {
	return stats.Percentile(rs.delays, pct)
}

// MedianDelay returns the median per-packet delay
func (rs *RunStats) MedianDelay() (float64, error) {
	return stats.Median(rs.delays)
}

// Conserved checks that every arrival is accounted for
func (rs *RunStats) Conserved() bool {
	return rs.Arrivals == rs.Rejected+rs.Buffered+rs.Transmitted
}

// Summary describes a sample of one metric across runs
type Summary struct {
	N         int     `json:"n" yaml:"n"`
	Mean      float64 `json:"mean" yaml:"mean"`
	StdDev    float64 `json:"stddev" yaml:"stddev"`
	HalfWidth float64 `json:"halfwidth" yaml:"halfwidth"` // of the 95% confidence interval on Mean
}

// Summarize computes a Summary, ignoring NaN samples.  Fewer than two samples give a zero half width.
func Summarize(xs []float64) Summary {
	clean := make([]float64, 0, len(xs))
	for _, x := range xs {
		if !math.IsNaN(x) {
			clean = append(clean, x)
		}
	}
	smry := Summary{N: len(clean)}
	switch len(clean) {
	case 0:
		smry.Mean = math.NaN()
		return smry
	case 1:
		smry.Mean = clean[0]
		return smry
	}
	smry.Mean, smry.StdDev = stat.MeanStdDev(clean, nil)
	tDist := distuv.StudentsT{Mu: 0, Sigma: 1, Nu: float64(len(clean) - 1)}
	smry.HalfWidth = tDist.Quantile(0.975) * smry.StdDev / math.Sqrt(float64(len(clean)))
	return smry
}

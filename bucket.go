package qnetsim

// bucket.go holds the token buckets that gate the shaper's data buffer.
// TokenBucket is refilled one token at a time by TokenTick events; FluidBucket
// refills continuously and is backed by an x/time/rate limiter driven by simulation time.

import (
	"errors"
	"fmt"
	"math"
	"time"

	"golang.org/x/time/rate"
)

// ErrBadBucket is wrapped by errors from the bucket constructors
var ErrBadBucket = errors.New("bad token bucket parameters")

// tokenGate is the view of a bucket the shaper's transmission check needs
type tokenGate interface {
	// Level returns the tokens available at time now
	Level(now float64) float64

	// Ceiling returns the maximum number of tokens held
	Ceiling() int64

	// Take removes n tokens at time now if at least n are available, and reports whether it did
	Take(now float64, n int64) bool
}

// TokenBucket holds an integer number of tokens, 0 <= tokens <= maxTokens
type TokenBucket struct {
	tokens    int64
	maxTokens int64
	interval  float64 // seconds between token generations
	generated int64   // tokens added
	overflow  int64   // generations that found the bucket full
	consumed  int64
}

// CreateTokenBucket is a constructor.  The bucket starts empty and gains a token every 1/tokenRate seconds.
func CreateTokenBucket(maxTokens int64, tokenRate float64) (*TokenBucket, error) {
	if maxTokens < 0 {
		return nil, fmt.Errorf("%w: max tokens %d", ErrBadBucket, maxTokens)
	}
	if !(tokenRate > 0.0) || math.IsInf(tokenRate, 1) {
		return nil, fmt.Errorf("%w: token rate %g", ErrBadBucket, tokenRate)
	}
	tb := new(TokenBucket)
	tb.maxTokens = maxTokens
	tb.interval = 1.0 / tokenRate
	return tb, nil
}

// Tokens returns the current token count
func (tb *TokenBucket) Tokens() int64 {
	return tb.tokens
}

// Interval returns the time between token generations
func (tb *TokenBucket) Interval() float64 {
	return tb.interval
}

// Generated returns the number of tokens added so far
func (tb *TokenBucket) Generated() int64 {
	return tb.generated
}

// Overflow returns the number of generations lost to a full bucket
func (tb *TokenBucket) Overflow() int64 {
	return tb.overflow
}

// Tick adds one token unless the bucket is full, and reports whether it did
func (tb *TokenBucket) Tick() bool {
	if tb.tokens < tb.maxTokens {
		tb.tokens += 1
		tb.generated += 1
		return true
	}
	tb.overflow += 1
	return false
}

func (tb *TokenBucket) Level(now float64) float64 {
	return float64(tb.tokens)
}

func (tb *TokenBucket) Ceiling() int64 {
	return tb.maxTokens
}

// Take is all-or-nothing: n tokens are removed only if the bucket holds at least n
func (tb *TokenBucket) Take(now float64, n int64) bool {
	if n < 0 || tb.tokens < n {
		return false
	}
	tb.tokens -= n
	tb.consumed += n
	return true
}

// simEpoch is the wall-clock instant simulation time zero is mapped to
var simEpoch = time.Unix(0, 0)

// simToWall maps a simulation time in seconds to the time.Time a rate.Limiter expects
func simToWall(t float64) time.Time {
	return simEpoch.Add(time.Duration(math.Round(t * float64(time.Second))))
}

// minWake bounds below the delay to a wake-up, so a wake-up always advances the limiter's clock
const minWake = 1e-9

// FluidBucket refills at tokenRate tokens per second continuously, up to maxTokens
type FluidBucket struct {
	lim       *rate.Limiter
	tokenRate float64
	maxTokens int64
}

// CreateFluidBucket is a constructor.  Like TokenBucket, the bucket starts empty at time zero.
func CreateFluidBucket(maxTokens int64, tokenRate float64) (*FluidBucket, error) {
	if maxTokens < 0 || maxTokens > math.MaxInt32 {
		return nil, fmt.Errorf("%w: max tokens %d", ErrBadBucket, maxTokens)
	}
	if !(tokenRate > 0.0) || math.IsInf(tokenRate, 1) {
		return nil, fmt.Errorf("%w: token rate %g", ErrBadBucket, tokenRate)
	}
	fb := new(FluidBucket)
	fb.tokenRate = tokenRate
	fb.maxTokens = maxTokens
	fb.lim = rate.NewLimiter(rate.Limit(tokenRate), int(maxTokens))

	// a new limiter holds a full burst
	fb.lim.AllowN(simEpoch, int(maxTokens))
	return fb, nil
}

func (fb *FluidBucket) Level(now float64) float64 {
	return math.Max(fb.lim.TokensAt(simToWall(now)), 0.0)
}

func (fb *FluidBucket) Ceiling() int64 {
	return fb.maxTokens
}

func (fb *FluidBucket) Take(now float64, n int64) bool {
	if n < 0 || n > fb.maxTokens {
		return false
	}
	wall := simToWall(now)
	if fb.lim.TokensAt(wall) < float64(n) {
		return false
	}
	return fb.lim.AllowN(wall, int(n))
}

// ReadyAt returns the earliest time after now at which n tokens will be
// available.  The flag is false when n exceeds the ceiling and never will be.
func (fb *FluidBucket) ReadyAt(now float64, n int64) (float64, bool) {
	if n > fb.maxTokens {
		return 0.0, false
	}
	short := float64(n) - fb.Level(now)
	return now + math.Max(short/fb.tokenRate, minWake), true
}

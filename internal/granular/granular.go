// Package granular implements a real-time granular-synthesis engine. Once
// per audio block it spawns grains from the enabled seeders, advances
// every live grain through interpolated source and envelope lookups, sums
// the contributions into the output block, and folds out-of-range values.
// All pools are preallocated at construction; the block-processing path
// never allocates and completes in time bounded by the seeder and grain
// capacities.
package granular

import (
	"errors"
	"log"
	"math"
	"math/rand"
	"sync/atomic"
	"time"

	"github.com/ycandau/granular-go/internal/envelope"
	"github.com/ycandau/granular-go/internal/freelist"
)

const (
	// DefaultSeedersMax and DefaultGrainsMax size the pools when Params
	// leaves them zero.
	DefaultSeedersMax = 10
	DefaultGrainsMax  = 100

	// PolyMax caps the number of simultaneous grain streams per seeder.
	PolyMax = 10
)

var (
	ErrIndexOutOfRange = errors.New("granular: seeder index out of range")
	ErrSourceNotReady  = errors.New("granular: seeder source not ready")
)

// Params configures an Engine.
type Params struct {
	SeedersMax int
	GrainsMax  int
	MasterGain float64
	Seed       int64 // scheduler RNG seed; 0 seeds from the clock
}

// DefaultParams returns the construction defaults.
func DefaultParams() Params {
	return Params{
		SeedersMax: DefaultSeedersMax,
		GrainsMax:  DefaultGrainsMax,
		MasterGain: 1,
	}
}

// Engine is a granular-synthesis engine. Process renders successive audio
// blocks on a single real-time thread; all other methods form the control
// surface and mutate parameters directly, with word-sized updates taking
// effect on the next block.
type Engine struct {
	sampleRate float64
	msr        float64 // engine sample rate in samples per ms
	masterGain uint64  // float64 bits, accessed atomically

	seeders    []seeder
	seederList *freelist.List
	seederCnt  int
	focus      int

	grains    []grain
	grainList *freelist.List
	grainCnt  int

	rng     *rand.Rand
	dropped uint64 // grains dropped on spawn, accessed atomically

	onBounds    func(startMS, endMS float64)
	boundsStart float64
	boundsEnd   float64

	logger *log.Logger
}

// New creates an engine with preallocated seeder and grain pools.
func New(sampleRate int, params Params) *Engine {
	if params.SeedersMax <= 0 {
		params.SeedersMax = DefaultSeedersMax
	}
	if params.GrainsMax <= 0 {
		params.GrainsMax = DefaultGrainsMax
	}
	seed := params.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	e := &Engine{
		sampleRate: float64(sampleRate),
		msr:        float64(sampleRate) * 0.001,
		masterGain: math.Float64bits(params.MasterGain),
		seeders:    make([]seeder, params.SeedersMax),
		seederList: freelist.New(params.SeedersMax),
		grains:     make([]grain, params.GrainsMax),
		grainList:  freelist.New(params.GrainsMax),
		rng:        rand.New(rand.NewSource(seed)),
	}
	for i := range e.seeders {
		e.seeders[i].reset(i, e.msr)
	}
	return e
}

// SetMasterGain sets the output gain atomically.
func (e *Engine) SetMasterGain(gain float64) {
	atomic.StoreUint64(&e.masterGain, math.Float64bits(gain))
}

// MasterGain returns the current output gain.
func (e *Engine) MasterGain() float64 {
	return math.Float64frombits(atomic.LoadUint64(&e.masterGain))
}

// SampleRate returns the engine sample rate in Hz.
func (e *Engine) SampleRate() float64 { return e.sampleRate }

// SetSampleRate changes the engine sample rate and re-derives every
// seeder's output and period lengths, mirroring a host DSP restart.
func (e *Engine) SetSampleRate(sampleRate int) {
	e.sampleRate = float64(sampleRate)
	e.msr = e.sampleRate * 0.001
	for i := range e.seeders {
		s := &e.seeders[i]
		s.outLen = int(s.srcLenMS * s.shiftR * e.msr)
		s.periodLen = int(float64(s.outLen) * s.period)
	}
}

// SetBoundsFunc installs a callback invoked at the end of each block with
// the focused seeder's window bounds in ms. The callback runs on the audio
// thread; keep it brief and non-blocking.
func (e *Engine) SetBoundsFunc(fn func(startMS, endMS float64)) {
	e.onBounds = fn
}

// SetLogger installs a logger for control-path diagnostics.
func (e *Engine) SetLogger(l *log.Logger) { e.logger = l }

func (e *Engine) logf(format string, args ...any) {
	if e.logger != nil {
		e.logger.Printf(format, args...)
	}
}

// ActiveSeeders returns the number of enabled seeders.
func (e *Engine) ActiveSeeders() int { return e.seederCnt }

// ActiveGrains returns the number of grains currently rendering.
func (e *Engine) ActiveGrains() int { return e.grainCnt }

// SeedersMax returns the seeder pool capacity.
func (e *Engine) SeedersMax() int { return len(e.seeders) }

// GrainsMax returns the grain pool capacity.
func (e *Engine) GrainsMax() int { return len(e.grains) }

// DroppedGrains returns the number of spawns dropped since construction,
// accumulated when the grain pool is exhausted.
func (e *Engine) DroppedGrains() uint64 {
	return atomic.LoadUint64(&e.dropped)
}

// Bounds returns the focused seeder's window start and end in ms, as
// reported after the most recent block.
func (e *Engine) Bounds() (startMS, endMS float64) {
	return e.boundsStart, e.boundsEnd
}

// flushGrains retires every live grain owned by the given seeder.
func (e *Engine) flushGrains(index int) {
	for cur := e.grainList.Front(); cur.Valid(); {
		if e.grains[cur.Index()].seeder == index {
			e.grainCnt--
			e.grainList.Remove(&cur)
		} else {
			cur.Next()
		}
	}
}

// Process renders one audio block into dst: it schedules new grains for
// every enabled seeder, zero-fills the block, accumulates every live
// grain, folds out-of-range samples once, and reports the focused window
// bounds.
func (e *Engine) Process(dst []float64) {
	blockLen := len(dst)
	if blockLen == 0 {
		return
	}

	e.schedule(blockLen)

	for i := range dst {
		dst[i] = 0
	}
	e.render(dst)

	for i := range dst {
		dst[i] = fold(dst[i])
	}

	s := &e.seeders[e.focus]
	if s.bufMSR > 0 {
		e.boundsStart = float64(s.srcBegin) / s.bufMSR
		e.boundsEnd = float64(s.srcBegin+s.srcLen) / s.bufMSR
	}
	if e.onBounds != nil {
		e.onBounds(e.boundsStart, e.boundsEnd)
	}
}

// fold soft-clips a sample with a single reflection at the unit bounds.
// Inputs beyond [-2, 2] are not brought back into range.
func fold(v float64) float64 {
	if v > 1 {
		v = 2 - v
	}
	if v < -1 {
		v = -2 - v
	}
	return v
}

// schedule spawns the grains every enabled seeder generates within a block
// of blockLen samples, then rolls all stream countdowns over to the next
// block.
func (e *Engine) schedule(blockLen int) {
	for cur := e.seederList.Front(); cur.Valid(); cur.Next() {
		s := &e.seeders[cur.Index()]
		if !s.on {
			continue
		}

		// Stream 0 drives the moving source window: each period advances
		// the window begin by period * speed, converted to source frames,
		// wrapping at the buffer edges.
		for s.periodCntd[0] < blockLen {
			e.spawn(s, 0, s.periodCntd[0])

			period := int(float64(s.periodLen) * (1 + s.periodRand*(2*e.rng.Float64()-1)))
			if period < 1 {
				period = 1
			}
			s.periodCntd[0] += period

			s.srcBegin += int(float64(period) * s.speed * s.bufMSR / e.msr)
			if s.srcBegin < 0 {
				s.srcBegin = s.bufFrames - s.srcLen
			}
			if s.srcBegin+s.srcLen > s.bufFrames {
				s.srcBegin = 0
			}
		}

		// Secondary streams are phase-shifted copies of stream 0: they keep
		// their own countdowns but read from the shared window, offset by
		// the time difference to stream 0 converted to source frames.
		for i := 1; i < s.polyCnt; i++ {
			for s.periodCntd[i] < blockLen {
				offset := int(float64(s.periodCntd[i]-s.periodCntd[0]) * s.speed * s.bufMSR / e.msr)
				e.spawn(s, offset, s.periodCntd[i])

				period := int(float64(s.periodLen) * (1 + s.periodRand*(2*e.rng.Float64()-1)))
				if period < 1 {
					period = 1
				}
				s.periodCntd[i] += period
			}
			s.periodCntd[i] -= blockLen
		}
		s.periodCntd[0] -= blockLen
	}
}

// render accumulates every live grain into dst and retires the ones whose
// countdown reaches zero.
func (e *Engine) render(dst []float64) {
	blockLen := len(dst)
	master := e.MasterGain()

	for cur := e.grainList.Front(); cur.Valid(); {
		g := &e.grains[cur.Index()]
		s := &e.seeders[g.seeder]

		// The buffer may have been replaced or cleared since the grain
		// spawned; retire rather than read out of bounds.
		if s.buf == nil {
			e.grainCnt--
			e.grainList.Remove(&cur)
			continue
		}
		src := s.buf.Lock()
		if src == nil {
			e.grainCnt--
			e.grainList.Remove(&cur)
			continue
		}
		nchn := s.bufChn
		if nchn < 1 || (g.srcBegin+g.srcLen+1)*nchn > len(src) {
			s.buf.Unlock()
			e.grainCnt--
			e.grainList.Remove(&cur)
			continue
		}

		pos := g.outBegin
		n := blockLen - g.outBegin
		mult := master * g.ampl
		srcLen := g.srcLen - 1
		outLen := g.outLen - 1
		envLen := envelope.TableSize - 1
		invOutLen := 1 / float64(outLen)
		env := &s.env

		for n > 0 && g.outCntd > 0 {
			ind := (g.srcBegin + g.srcI) * nchn
			dst[pos] += mult *
				(float64(env[g.envI]) + float64(g.envR)*invOutLen*(float64(env[g.envI+1])-float64(env[g.envI]))) *
				(float64(src[ind]) + float64(g.srcR)*invOutLen*(float64(src[ind+nchn])-float64(src[ind])))
			pos++

			g.srcR += srcLen
			for g.srcR >= outLen {
				g.srcR -= outLen
				g.srcI++
			}
			g.envR += envLen
			for g.envR >= outLen {
				g.envR -= outLen
				g.envI++
			}

			n--
			g.outCntd--
		}
		s.buf.Unlock()

		// From the second block on, the grain starts at the block head.
		g.outBegin = 0

		if g.outCntd != 0 {
			cur.Next()
		} else {
			e.grainCnt--
			e.grainList.Remove(&cur)
		}
	}
}

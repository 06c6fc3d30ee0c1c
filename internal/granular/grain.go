package granular

import "sync/atomic"

// grain is one sounding fragment of source audio. Grains copy their
// parameters from the owning seeder at spawn time, so later control-path
// changes to the seeder never affect grains already in flight.
type grain struct {
	seeder int

	ampl     float64
	srcBegin int // frames into the source buffer
	srcLen   int // frames in the source buffer
	outBegin int // offset into the output block, non-zero only in the first block
	outLen   int // total output samples

	outCntd int // samples left to render

	// Fixed-point resampling cursors: integer position plus fractional
	// remainder out of (outLen-1). One walks the source buffer, the other
	// the envelope table, each at its own rate.
	srcI, srcR int
	envI, envR int
}

// spawn acquires a grain slot and initializes it from the seeder, with the
// source window clamped into buffer bounds. On pool exhaustion, or when the
// grain could not be rendered in bounded time, the spawn is dropped and
// counted.
func (e *Engine) spawn(s *seeder, srcOffset, outOffset int) *grain {
	// A one-sample grain has no interpolation span; dropping it keeps the
	// cursor advance loops finite. A window longer than the buffer cannot
	// be clamped into bounds.
	if s.outLen < 2 || s.srcLen < 1 || s.srcLen > s.bufFrames {
		atomic.AddUint64(&e.dropped, 1)
		return nil
	}
	if e.grainCnt == len(e.grains) {
		atomic.AddUint64(&e.dropped, 1)
		return nil
	}
	index, _ := e.grainList.AcquireFront()
	e.grainCnt++

	g := &e.grains[index]
	g.seeder = s.index
	g.ampl = s.ampl
	g.srcBegin = s.srcBegin + srcOffset
	g.srcLen = s.srcLen
	if g.srcBegin < 0 {
		g.srcBegin = 0
	}
	if g.srcBegin+g.srcLen > s.bufFrames {
		g.srcBegin = s.bufFrames - g.srcLen
	}
	g.outBegin = outOffset
	g.outLen = s.outLen
	g.outCntd = g.outLen
	g.srcI, g.srcR = 0, 0
	g.envI, g.envR = 0, 0
	return g
}

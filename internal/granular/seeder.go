package granular

import (
	"fmt"
	"math"

	"github.com/ycandau/granular-go/internal/buffer"
	"github.com/ycandau/granular-go/internal/envelope"
)

const ln2 = 0.693147180559945309417

// seeder generates a stream of grains at randomized intervals from a
// moving window into its source buffer. Seeders are addressed directly by
// index from the control path, and through the engine's active-set list by
// the render pass so only enabled seeders are visited.
type seeder struct {
	index int
	on    bool

	ampl     float64
	srcBegin int     // window begin in source frames
	srcLenMS float64 // window length in ms, the externally visible value
	srcLen   int     // window length in source frames
	shift    float64 // pitch shift, +1 is one octave up
	shiftR   float64 // derived length ratio, exp(-ln2 * shift)
	outLen   int     // grain length in output samples

	period    float64 // inter-grain period as a ratio of outLen
	periodLen int     // inter-grain period in output samples
	speed     float64 // window displacement per period

	amplRand   float64
	beginRand  float64
	lengthRand float64
	shiftRand  float64
	periodRand float64

	// Source buffer and its cached properties. The cache keeps the render
	// pass off the buffer's lock for metadata reads.
	buf       *buffer.Buffer
	bufFrames int
	bufChn    int
	bufMSR    float64 // buffer sample rate in samples per ms

	envKind  envelope.Kind
	envAlpha float64
	envBeta  float64
	env      [envelope.TableSize + 1]float32 // one guard point past the table

	polyCnt    int
	periodCntd [PolyMax]int // countdown to next grain, per stream
}

// reset restores a seeder to its construction defaults.
func (s *seeder) reset(index int, msr float64) {
	s.index = index
	s.on = false

	s.ampl = 1
	s.srcBegin = 0
	s.srcLenMS = 100
	s.srcLen = int(s.srcLenMS * msr)
	s.shift = 0
	s.shiftR = 1
	s.outLen = int(float64(s.srcLen) * s.shiftR)

	s.period = 0.37
	s.periodLen = int(float64(s.outLen) * s.period)
	s.speed = 1

	s.amplRand = 0.25
	s.beginRand = 0.25
	s.lengthRand = 0.25
	s.shiftRand = 0.25
	s.periodRand = 0.25

	s.buf = nil
	s.bufFrames = 0
	s.bufChn = 0
	s.bufMSR = msr

	s.setEnvelope(envelope.Hann)

	s.polyCnt = 1
	s.periodCntd[0] = 0
}

func (s *seeder) setEnvelope(kind envelope.Kind) {
	s.envKind = kind
	s.envAlpha, s.envBeta = kind.DefaultShape()
	s.fillEnvelope()
}

func (s *seeder) fillEnvelope() {
	envelope.Fill(s.env[:envelope.TableSize], s.envKind, s.envAlpha, s.envBeta)
	s.env[envelope.TableSize] = s.env[envelope.TableSize-1]
}

// clampWindow keeps (srcBegin, srcBegin+srcLen) within buffer frame
// bounds, begin taking precedence at zero.
func (s *seeder) clampWindow() {
	if s.srcBegin < 0 {
		s.srcBegin = 0
	}
	if s.srcBegin+s.srcLen > s.bufFrames {
		s.srcBegin = s.bufFrames - s.srcLen
	}
	if s.srcBegin < 0 {
		s.srcBegin = 0
	}
}

// ready reports whether the seeder's source buffer is linked and loaded.
func (s *seeder) ready() bool {
	return s.buf != nil && s.buf.Ready()
}

// refreshBuffer re-reads the cached buffer properties and re-derives the
// window length in source frames.
func (s *seeder) refreshBuffer(msr float64) {
	if s.buf == nil {
		return
	}
	s.bufFrames = s.buf.Frames()
	s.bufChn = s.buf.Channels()
	if r := s.buf.MSRate(); r > 0 {
		s.bufMSR = r
	} else {
		s.bufMSR = msr
	}
	s.srcLen = int(s.srcLenMS * s.bufMSR)
}

// SeederParams carries the full parameter set of one seeder, as accepted
// by SetSeeder.
type SeederParams struct {
	Amplitude  float64
	Begin      float64 // window begin as a fraction of buffer frames, in [0, 1]
	LengthMS   float64 // window length in ms
	Shift      float64 // pitch shift in octaves, +1 doubles playback rate
	Period     float64 // inter-grain period as a ratio of grain output length
	Speed      float64 // window displacement ratio per period
	PeriodRand float64 // period randomization fraction, in [0, 1]
	Poly       int     // simultaneous grain streams, in [1, PolyMax]
}

// SeederInfo is the introspection snapshot returned by Seeder.
type SeederInfo struct {
	Index      int
	On         bool
	Amplitude  float64
	Begin      int // window begin in source frames
	LengthMS   float64
	Shift      float64
	Period     float64
	Speed      float64
	PeriodRand float64
	Poly       int
	Envelope   string
	Buffer     string
	File       string
}

func (e *Engine) seederAt(index int) (*seeder, error) {
	if index < 0 || index >= len(e.seeders) {
		return nil, fmt.Errorf("%w: %d (max %d)", ErrIndexOutOfRange, index, len(e.seeders)-1)
	}
	return &e.seeders[index], nil
}

// SetSeeder sets all parameters of one seeder and restaggers its poly
// stream countdowns evenly across one period.
func (e *Engine) SetSeeder(index int, p SeederParams) error {
	s, err := e.seederAt(index)
	if err != nil {
		return err
	}
	s.ampl = p.Amplitude

	s.srcBegin = int(p.Begin * float64(s.bufFrames))
	s.srcLenMS = p.LengthMS
	s.srcLen = int(s.srcLenMS * s.bufMSR)
	s.clampWindow()

	s.shift = p.Shift
	s.shiftR = math.Exp(-ln2 * p.Shift)
	s.outLen = int(s.srcLenMS * s.shiftR * e.msr)

	s.period = p.Period
	s.periodLen = int(p.Period * float64(s.outLen))

	s.speed = p.Speed
	s.periodRand = p.PeriodRand

	s.polyCnt = p.Poly
	if s.polyCnt < 1 || s.polyCnt > PolyMax {
		e.logf("set seeder %d: poly count %d out of [1, %d], set to 1", index, s.polyCnt, PolyMax)
		s.polyCnt = 1
	}
	for i := 0; i < s.polyCnt; i++ {
		s.periodCntd[i] = i * s.periodLen / s.polyCnt
	}
	return nil
}

// Seeder returns an introspection snapshot of one seeder.
func (e *Engine) Seeder(index int) (SeederInfo, error) {
	s, err := e.seederAt(index)
	if err != nil {
		return SeederInfo{}, err
	}
	info := SeederInfo{
		Index:      index,
		On:         s.on,
		Amplitude:  s.ampl,
		Begin:      s.srcBegin,
		LengthMS:   s.srcLenMS,
		Shift:      s.shift,
		Period:     s.period,
		Speed:      s.speed,
		PeriodRand: s.periodRand,
		Poly:       s.polyCnt,
		Envelope:   s.envKind.String(),
	}
	if s.buf != nil {
		info.Buffer = s.buf.Name()
		info.File = s.buf.File()
	}
	return info, nil
}

// SetAmplitude sets a seeder's amplitude multiplier.
func (e *Engine) SetAmplitude(index int, ampl float64) error {
	s, err := e.seederAt(index)
	if err != nil {
		return err
	}
	s.ampl = ampl
	return nil
}

// SetBegin moves a seeder's window begin, given as a fraction of the
// buffer frame count, clamped into buffer bounds.
func (e *Engine) SetBegin(index int, frac float64) error {
	s, err := e.seederAt(index)
	if err != nil {
		return err
	}
	s.srcBegin = int(frac * float64(s.bufFrames))
	s.clampWindow()
	return nil
}

// SetLength sets a seeder's window length in ms and re-derives the source,
// output and period lengths.
func (e *Engine) SetLength(index int, lengthMS float64) error {
	s, err := e.seederAt(index)
	if err != nil {
		return err
	}
	s.srcLenMS = lengthMS
	s.srcLen = int(s.srcLenMS * s.bufMSR)
	s.outLen = int(s.srcLenMS * s.shiftR * e.msr)
	s.periodLen = int(float64(s.outLen) * s.period)
	return nil
}

// SetShift sets a seeder's pitch shift and re-derives the output and
// period lengths.
func (e *Engine) SetShift(index int, shift float64) error {
	s, err := e.seederAt(index)
	if err != nil {
		return err
	}
	s.shift = shift
	s.shiftR = math.Exp(-ln2 * shift)
	s.outLen = int(s.srcLenMS * s.shiftR * e.msr)
	s.periodLen = int(float64(s.outLen) * s.period)
	return nil
}

// SetPeriod sets a seeder's inter-grain period ratio.
func (e *Engine) SetPeriod(index int, period float64) error {
	s, err := e.seederAt(index)
	if err != nil {
		return err
	}
	s.period = period
	s.periodLen = int(float64(s.outLen) * period)
	return nil
}

// SetSpeed sets a seeder's window displacement ratio per period.
func (e *Engine) SetSpeed(index int, speed float64) error {
	s, err := e.seederAt(index)
	if err != nil {
		return err
	}
	s.speed = speed
	return nil
}

// SetPoly sets the number of simultaneous grain streams and restaggers
// their countdowns evenly across one period.
func (e *Engine) SetPoly(index int, poly int) error {
	s, err := e.seederAt(index)
	if err != nil {
		return err
	}
	if poly < 1 || poly > PolyMax {
		return fmt.Errorf("granular: poly count %d out of [1, %d]", poly, PolyMax)
	}
	s.polyCnt = poly
	for i := 0; i < s.polyCnt; i++ {
		s.periodCntd[i] = i * s.periodLen / s.polyCnt
	}
	return nil
}

// SetPeriodRand sets a seeder's period randomization fraction.
func (e *Engine) SetPeriodRand(index int, frac float64) error {
	s, err := e.seederAt(index)
	if err != nil {
		return err
	}
	s.periodRand = frac
	return nil
}

// SetEnvelope selects a seeder's envelope kind with its default shape
// parameters and recomputes the lookup table.
func (e *Engine) SetEnvelope(index int, kind envelope.Kind) error {
	s, err := e.seederAt(index)
	if err != nil {
		return err
	}
	if kind < envelope.None || kind > envelope.Rexpodec {
		return fmt.Errorf("granular: unknown envelope kind %d", int(kind))
	}
	s.setEnvelope(kind)
	return nil
}

// SetEnvelopeShape selects a seeder's envelope kind with explicit shape
// parameters and recomputes the lookup table.
func (e *Engine) SetEnvelopeShape(index int, kind envelope.Kind, alpha, beta float64) error {
	s, err := e.seederAt(index)
	if err != nil {
		return err
	}
	if kind < envelope.None || kind > envelope.Rexpodec {
		return fmt.Errorf("granular: unknown envelope kind %d", int(kind))
	}
	s.envKind = kind
	s.envAlpha, s.envBeta = alpha, beta
	s.fillEnvelope()
	return nil
}

// EnvelopeTable returns a copy of a seeder's current envelope table.
func (e *Engine) EnvelopeTable(index int) ([]float32, error) {
	s, err := e.seederAt(index)
	if err != nil {
		return nil, err
	}
	table := make([]float32, envelope.TableSize)
	copy(table, s.env[:envelope.TableSize])
	return table, nil
}

// AttachBuffer links a seeder to a source buffer and caches its
// properties. The buffer may still be empty; the seeder only becomes
// enableable once the buffer has audio loaded.
func (e *Engine) AttachBuffer(index int, buf *buffer.Buffer) error {
	s, err := e.seederAt(index)
	if err != nil {
		return err
	}
	if buf == nil {
		return fmt.Errorf("granular: seeder %d: nil buffer", index)
	}
	s.buf = buf
	s.refreshBuffer(e.msr)
	return nil
}

// LoadFile loads a WAV file into a seeder's linked buffer. An enabled
// seeder is disabled first and all of its live grains are flushed, since
// they reference the replaced audio. The window begin resets to zero.
func (e *Engine) LoadFile(index int, path string) error {
	s, err := e.seederAt(index)
	if err != nil {
		return err
	}
	if s.buf == nil {
		return fmt.Errorf("%w: seeder %d has no linked buffer", ErrSourceNotReady, index)
	}
	if s.on {
		e.flushGrains(index)
		e.seederList.ReleaseIndex(index)
		e.seederCnt--
		s.on = false
	}
	if err := s.buf.LoadWAV(path); err != nil {
		return err
	}
	s.refreshBuffer(e.msr)
	s.srcBegin = 0
	return nil
}

// Enable adds a seeder to the active set. It fails when the seeder's
// source buffer is not linked and loaded. Enabling an enabled seeder is a
// no-op.
func (e *Engine) Enable(index int) error {
	s, err := e.seederAt(index)
	if err != nil {
		return err
	}
	if s.on {
		return nil
	}
	if !s.ready() {
		return fmt.Errorf("%w: seeder %d", ErrSourceNotReady, index)
	}
	s.refreshBuffer(e.msr)
	s.clampWindow()
	if !e.seederList.AcquireIndex(index) {
		return fmt.Errorf("granular: seeder %d not on the inactive list", index)
	}
	e.seederCnt++
	s.on = true
	return nil
}

// Disable removes a seeder from the active set. Grains it has already
// spawned continue rendering to completion. Disabling a disabled seeder is
// a no-op.
func (e *Engine) Disable(index int) error {
	s, err := e.seederAt(index)
	if err != nil {
		return err
	}
	if !s.on {
		return nil
	}
	if !e.seederList.ReleaseIndex(index) {
		return fmt.Errorf("granular: seeder %d not on the active list", index)
	}
	e.seederCnt--
	s.on = false
	return nil
}

// EnableAll enables every seeder whose source buffer is ready.
func (e *Engine) EnableAll() {
	for i := range e.seeders {
		s := &e.seeders[i]
		if s.on || !s.ready() {
			continue
		}
		if e.seederList.AcquireIndex(i) {
			e.seederCnt++
			s.on = true
		}
	}
}

// DisableAll disables every enabled seeder.
func (e *Engine) DisableAll() {
	for cur := e.seederList.Front(); cur.Valid(); {
		s := &e.seeders[cur.Index()]
		s.on = false
		e.seederCnt--
		e.seederList.Remove(&cur)
	}
}

// Active returns the enabled flag of every seeder.
func (e *Engine) Active() []bool {
	out := make([]bool, len(e.seeders))
	for i := range e.seeders {
		out[i] = e.seeders[i].on
	}
	return out
}

// SetFocus selects which seeder's window bounds are reported each block.
func (e *Engine) SetFocus(index int) error {
	if _, err := e.seederAt(index); err != nil {
		return err
	}
	e.focus = index
	return nil
}

// Focus returns the focused seeder index.
func (e *Engine) Focus() int { return e.focus }

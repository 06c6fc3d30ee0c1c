// Package granular is a real-time granular synthesizer. A Player owns a
// pool of seeders that scatter overlapping grains over named source
// buffers, streams the mix to the system audio device, and reports the
// focused seeder's moving window bounds through Watch.
package granular

import (
	"errors"
	"log"
	"sync"

	intaudio "github.com/ycandau/granular-go/internal/audio"
	intbuf "github.com/ycandau/granular-go/internal/buffer"
	intenv "github.com/ycandau/granular-go/internal/envelope"
	intgran "github.com/ycandau/granular-go/internal/granular"
)

// Params configures the engine behind a Player.
type Params = intgran.Params

// SeederParams carries the full parameter set of one seeder.
type SeederParams = intgran.SeederParams

// SeederInfo is the introspection snapshot returned by Seeder.
type SeederInfo = intgran.SeederInfo

// Buffer is a named source sample buffer.
type Buffer = intbuf.Buffer

var (
	ErrIndexOutOfRange = intgran.ErrIndexOutOfRange
	ErrSourceNotReady  = intgran.ErrSourceNotReady
)

// DefaultParams returns the engine construction defaults.
func DefaultParams() Params { return intgran.DefaultParams() }

// BoundsEvent reports the focused seeder's source window after a rendered
// block, in ms of source audio.
type BoundsEvent struct {
	Seeder  int
	StartMS float64
	EndMS   float64
}

type PlayerOption func(*playerConfig)

type playerConfig struct {
	params    Params
	sampleTap func([]float64)
	logger    *log.Logger
}

func defaultPlayerConfig() playerConfig {
	return playerConfig{params: DefaultParams()}
}

// WithEngineParams overrides the engine construction parameters.
func WithEngineParams(params Params) PlayerOption {
	return func(cfg *playerConfig) {
		cfg.params = params
	}
}

// WithSampleTap installs a callback invoked with each rendered mono block.
// The callback runs on the audio thread; keep work brief and non-blocking.
func WithSampleTap(tap func([]float64)) PlayerOption {
	return func(cfg *playerConfig) {
		cfg.sampleTap = tap
	}
}

// WithLogger installs a logger for control-path diagnostics.
func WithLogger(l *log.Logger) PlayerOption {
	return func(cfg *playerConfig) {
		cfg.logger = l
	}
}

type Player struct {
	mu         sync.Mutex
	sampleRate int
	engine     *intgran.Engine
	store      *intbuf.Store
	audio      *intaudio.Player
	baseGain   float64
	volume     float64
	sampleTap  func([]float64)
	eventCh    chan BoundsEvent
	eventChMu  sync.Mutex
}

// engineSource adapts the engine's block renderer to the audio backend.
type engineSource struct {
	engine *intgran.Engine
	tap    func([]float64)
}

func (s *engineSource) Process(dst []float64) {
	s.engine.Process(dst)
	if s.tap != nil {
		s.tap(dst)
	}
}

func NewPlayer(sampleRate int, opts ...PlayerOption) (*Player, error) {
	if sampleRate <= 0 {
		return nil, errors.New("sampleRate must be positive")
	}
	cfg := defaultPlayerConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.params.MasterGain == 0 {
		cfg.params.MasterGain = 1
	}
	engine := intgran.New(sampleRate, cfg.params)
	engine.SetLogger(cfg.logger)
	p := &Player{
		sampleRate: sampleRate,
		engine:     engine,
		store:      intbuf.NewStore(),
		baseGain:   cfg.params.MasterGain,
		volume:     1,
		sampleTap:  cfg.sampleTap,
	}
	engine.SetBoundsFunc(p.sendBounds)
	return p, nil
}

// Play starts or resumes streaming to the audio device. The backend is
// created on the first call.
func (p *Player) Play() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.audio == nil {
		backend, err := intaudio.NewPlayer(p.sampleRate, &engineSource{
			engine: p.engine,
			tap:    p.sampleTap,
		})
		if err != nil {
			return err
		}
		p.audio = backend
	}
	p.audio.Play()
	return nil
}

func (p *Player) Pause() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.audio != nil {
		p.audio.Pause()
	}
}

func (p *Player) Resume() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.audio != nil {
		p.audio.Play()
	}
}

func (p *Player) Stop() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.audio == nil {
		return nil
	}
	err := p.audio.Stop()
	p.audio = nil
	return err
}

func (p *Player) IsPlaying() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.audio != nil && p.audio.IsPlaying()
}

// PlaybackPosition returns the current output position of the audio driver,
// i.e. what the listener actually hears right now. Returns 0 if not playing.
func (p *Player) PlaybackPosition() int64 {
	p.mu.Lock()
	a := p.audio
	p.mu.Unlock()
	if a == nil {
		return 0
	}
	pos := a.Position()
	return int64(pos.Seconds() * float64(p.sampleRate))
}

// Watch returns a channel that receives a BoundsEvent after each rendered
// block, carrying the focused seeder's source window. The channel is
// buffered (cap 8) and events are dropped when the receiver lags; receive
// in a goroutine to avoid blocking the audio thread. Only the most recent
// Watch() channel receives events.
func (p *Player) Watch() <-chan BoundsEvent {
	ch := make(chan BoundsEvent, 8)
	p.eventChMu.Lock()
	p.eventCh = ch
	p.eventChMu.Unlock()
	return ch
}

func (p *Player) sendBounds(startMS, endMS float64) {
	p.eventChMu.Lock()
	ch := p.eventCh
	p.eventChMu.Unlock()
	if ch != nil {
		select {
		case ch <- BoundsEvent{Seeder: p.engine.Focus(), StartMS: startMS, EndMS: endMS}:
		default:
			// Channel full; drop event
		}
	}
}

// SetMasterVolume sets the runtime volume scalar. 1.0 is default.
func (p *Player) SetMasterVolume(volume float64) {
	if volume < 0 {
		volume = 0
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.volume = volume
	p.engine.SetMasterGain(p.baseGain * p.volume)
}

func (p *Player) MasterVolume() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.volume
}

// Buffer returns the named source buffer, creating it when absent.
func (p *Player) Buffer(name string) *Buffer {
	return p.store.Get(name)
}

// Buffers returns the names of the registered source buffers.
func (p *Player) Buffers() []string {
	return p.store.Names()
}

// LoadSample loads a WAV file into the named buffer. Seeders linked to the
// buffer pick up the new audio; use LoadFile to reload through a seeder
// with its grains flushed.
func (p *Player) LoadSample(name, path string) error {
	return p.store.Get(name).LoadWAV(path)
}

// AttachBuffer links a seeder to the named buffer, creating it when absent.
func (p *Player) AttachBuffer(index int, name string) error {
	return p.engine.AttachBuffer(index, p.store.Get(name))
}

// LoadFile loads a WAV file into a seeder's linked buffer. An enabled
// seeder is disabled first and its live grains are flushed.
func (p *Player) LoadFile(index int, path string) error {
	return p.engine.LoadFile(index, path)
}

// SetSeeder sets all parameters of one seeder.
func (p *Player) SetSeeder(index int, params SeederParams) error {
	return p.engine.SetSeeder(index, params)
}

// Seeder returns an introspection snapshot of one seeder.
func (p *Player) Seeder(index int) (SeederInfo, error) {
	return p.engine.Seeder(index)
}

func (p *Player) SetAmplitude(index int, ampl float64) error {
	return p.engine.SetAmplitude(index, ampl)
}

func (p *Player) SetBegin(index int, frac float64) error {
	return p.engine.SetBegin(index, frac)
}

func (p *Player) SetLength(index int, lengthMS float64) error {
	return p.engine.SetLength(index, lengthMS)
}

func (p *Player) SetShift(index int, shift float64) error {
	return p.engine.SetShift(index, shift)
}

func (p *Player) SetPeriod(index int, period float64) error {
	return p.engine.SetPeriod(index, period)
}

func (p *Player) SetSpeed(index int, speed float64) error {
	return p.engine.SetSpeed(index, speed)
}

func (p *Player) SetPeriodRand(index int, frac float64) error {
	return p.engine.SetPeriodRand(index, frac)
}

func (p *Player) SetPoly(index int, poly int) error {
	return p.engine.SetPoly(index, poly)
}

// SetEnvelope selects a seeder's envelope by name ("hann", "blackman",
// "expodec", ...) with its default shape parameters.
func (p *Player) SetEnvelope(index int, name string) error {
	kind, err := intenv.ParseKind(name)
	if err != nil {
		return err
	}
	return p.engine.SetEnvelope(index, kind)
}

// SetEnvelopeShape selects a seeder's envelope by name with explicit shape
// parameters.
func (p *Player) SetEnvelopeShape(index int, name string, alpha, beta float64) error {
	kind, err := intenv.ParseKind(name)
	if err != nil {
		return err
	}
	return p.engine.SetEnvelopeShape(index, kind, alpha, beta)
}

// EnvelopeTable returns a copy of a seeder's current envelope table.
func (p *Player) EnvelopeTable(index int) ([]float32, error) {
	return p.engine.EnvelopeTable(index)
}

// Enable adds a seeder to the active set; it fails when the seeder's
// source buffer is not linked and loaded.
func (p *Player) Enable(index int) error {
	return p.engine.Enable(index)
}

// Disable removes a seeder from the active set. Grains it has already
// spawned continue rendering to completion.
func (p *Player) Disable(index int) error {
	return p.engine.Disable(index)
}

// EnableAll enables every seeder whose source buffer is ready.
func (p *Player) EnableAll() { p.engine.EnableAll() }

// DisableAll disables every enabled seeder.
func (p *Player) DisableAll() { p.engine.DisableAll() }

// Active returns the enabled flag of every seeder.
func (p *Player) Active() []bool { return p.engine.Active() }

// SetFocus selects which seeder's window bounds are reported.
func (p *Player) SetFocus(index int) error { return p.engine.SetFocus(index) }

// Focus returns the focused seeder index.
func (p *Player) Focus() int { return p.engine.Focus() }

// Bounds returns the focused seeder's window start and end in ms, as
// reported after the most recent block.
func (p *Player) Bounds() (startMS, endMS float64) { return p.engine.Bounds() }

// ActiveGrains returns the number of grains currently rendering.
func (p *Player) ActiveGrains() int { return p.engine.ActiveGrains() }

// DroppedGrains returns the number of grain spawns dropped on pool
// exhaustion since construction.
func (p *Player) DroppedGrains() uint64 { return p.engine.DroppedGrains() }

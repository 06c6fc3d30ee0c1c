// Package buffer holds the source sample buffers that seeders read grains
// from. A Buffer exposes frame count, channel count and sample rate, a
// Lock/Unlock pair yielding the raw interleaved samples for the duration
// of a render, and WAV file loading. Buffers are linked to seeders by name
// through a Store.
package buffer

import (
	"fmt"
	"math"
	"os"
	"sync"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

// Buffer is one source sample buffer. Samples are stored interleaved as
// float32 with one extra guard frame appended past the end; the renderer's
// linear interpolation reads the neighbor of the final window frame with a
// fractional weight of zero, and the guard keeps that read in range.
type Buffer struct {
	mu         sync.RWMutex
	name       string
	file       string
	samples    []float32 // frames*channels values plus one guard frame
	frames     int
	channels   int
	sampleRate float64
}

// New returns an empty buffer with the given name.
func New(name string) *Buffer {
	return &Buffer{name: name}
}

// Name returns the buffer's link name.
func (b *Buffer) Name() string { return b.name }

// File returns the path of the last loaded file, or "".
func (b *Buffer) File() string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.file
}

// Frames returns the frame count of the loaded audio.
func (b *Buffer) Frames() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.frames
}

// Channels returns the channel count of the loaded audio.
func (b *Buffer) Channels() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.channels
}

// SampleRate returns the sample rate of the loaded audio in Hz.
func (b *Buffer) SampleRate() float64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.sampleRate
}

// MSRate returns the sample rate in samples per millisecond.
func (b *Buffer) MSRate() float64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.sampleRate * 0.001
}

// Ready reports whether audio has been loaded.
func (b *Buffer) Ready() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.frames > 0 && b.channels > 0 && b.sampleRate > 0
}

// Lock acquires the samples for reading and returns the interleaved slice,
// or nil when no audio is loaded. Every Lock must be paired with Unlock.
func (b *Buffer) Lock() []float32 {
	b.mu.RLock()
	if b.frames == 0 {
		b.mu.RUnlock()
		return nil
	}
	return b.samples
}

// Unlock releases a previous Lock.
func (b *Buffer) Unlock() {
	b.mu.RUnlock()
}

// SetData replaces the buffer contents with interleaved samples. A guard
// frame duplicating the final frame is appended internally.
func (b *Buffer) SetData(samples []float32, channels int, sampleRate float64) error {
	if channels <= 0 {
		return fmt.Errorf("buffer %s: invalid channel count %d", b.name, channels)
	}
	if len(samples)%channels != 0 {
		return fmt.Errorf("buffer %s: sample count %d not divisible by %d channels", b.name, len(samples), channels)
	}
	frames := len(samples) / channels
	data := make([]float32, (frames+1)*channels)
	copy(data, samples)
	if frames > 0 {
		copy(data[frames*channels:], samples[(frames-1)*channels:])
	}
	b.mu.Lock()
	b.samples = data
	b.frames = frames
	b.channels = channels
	b.sampleRate = sampleRate
	b.mu.Unlock()
	return nil
}

// LoadWAV decodes a WAV file into the buffer, normalizing integer PCM to
// float32 in [-1, 1].
func (b *Buffer) LoadWAV(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("buffer %s: %w", b.name, err)
	}
	defer f.Close()

	dec := wav.NewDecoder(f)
	if !dec.IsValidFile() {
		return fmt.Errorf("buffer %s: invalid WAV file %s", b.name, path)
	}
	if err := dec.FwdToPCM(); err != nil {
		return fmt.Errorf("buffer %s: %w", b.name, err)
	}
	format := dec.Format()
	bitDepth := int(dec.SampleBitDepth())
	if bitDepth == 0 {
		return fmt.Errorf("buffer %s: unknown bit depth in %s", b.name, path)
	}
	bytesPerSample := (bitDepth-1)/8 + 1
	nsamples := int(dec.PCMLen()) / bytesPerSample

	buf := &audio.IntBuffer{
		Format:         format,
		Data:           make([]int, nsamples),
		SourceBitDepth: bitDepth,
	}
	if _, err := dec.PCMBuffer(buf); err != nil {
		return fmt.Errorf("buffer %s: %w", b.name, err)
	}
	factor := float32(math.Pow(2, float64(bitDepth-1)))
	samples := make([]float32, len(buf.Data))
	for i, v := range buf.Data {
		samples[i] = float32(v) / factor
	}
	if err := b.SetData(samples, format.NumChannels, float64(format.SampleRate)); err != nil {
		return err
	}
	b.mu.Lock()
	b.file = path
	b.mu.Unlock()
	return nil
}

// Store is a registry of named buffers.
type Store struct {
	mu sync.Mutex
	m  map[string]*Buffer
}

// NewStore returns an empty buffer registry.
func NewStore() *Store {
	return &Store{m: make(map[string]*Buffer)}
}

// Get returns the buffer registered under name, creating it when absent.
func (s *Store) Get(name string) *Buffer {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.m[name]
	if !ok {
		b = New(name)
		s.m[name] = b
	}
	return b
}

// Lookup returns the buffer registered under name, or nil.
func (s *Store) Lookup(name string) *Buffer {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.m[name]
}

// Names returns the registered buffer names.
func (s *Store) Names() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	names := make([]string, 0, len(s.m))
	for name := range s.m {
		names = append(names, name)
	}
	return names
}

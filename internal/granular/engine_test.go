package granular

import (
	"errors"
	"math"
	"os"
	"path/filepath"
	"testing"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"

	"github.com/ycandau/granular-go/internal/buffer"
	"github.com/ycandau/granular-go/internal/envelope"
)

// newTestEngine builds an engine and a linked mono ramp buffer, both at
// 1000 Hz so one frame is one ms and all conversions are identities.
func newTestEngine(t *testing.T, params Params, frames int) (*Engine, *buffer.Buffer) {
	t.Helper()
	if params.Seed == 0 {
		params.Seed = 1
	}
	e := New(1000, params)
	buf := newTestBuffer(t, frames, 0)
	if err := e.AttachBuffer(0, buf); err != nil {
		t.Fatal(err)
	}
	return e, buf
}

// newTestBuffer returns a mono 1000 Hz buffer. With value zero the samples
// form a low-amplitude ramp; otherwise they hold the constant value.
func newTestBuffer(t *testing.T, frames int, value float32) *buffer.Buffer {
	t.Helper()
	buf := buffer.New("src")
	samples := make([]float32, frames)
	for i := range samples {
		if value != 0 {
			samples[i] = value
		} else {
			samples[i] = float32(i%100) * 0.001
		}
	}
	if err := buf.SetData(samples, 1, 1000); err != nil {
		t.Fatal(err)
	}
	return buf
}

// steady configures seeder 0 for deterministic scheduling: a static window
// and no period randomization.
func steady(t *testing.T, e *Engine, lengthMS, period float64) {
	t.Helper()
	err := e.SetSeeder(0, SeederParams{
		Amplitude:  1,
		Begin:      0,
		LengthMS:   lengthMS,
		Shift:      0,
		Period:     period,
		Speed:      0,
		PeriodRand: 0,
		Poly:       1,
	})
	if err != nil {
		t.Fatal(err)
	}
}

func process(e *Engine, blockLen int) []float64 {
	dst := make([]float64, blockLen)
	e.Process(dst)
	return dst
}

func TestFold(t *testing.T) {
	cases := []struct{ in, want float64 }{
		{0, 0},
		{0.5, 0.5},
		{1, 1},
		{-1, -1},
		{1.2, 0.8},
		{-1.3, -0.7},
	}
	for _, c := range cases {
		if got := fold(c.in); math.Abs(got-c.want) > 1e-12 {
			t.Errorf("fold(%f) = %f, want %f", c.in, got, c.want)
		}
	}
}

func TestEnableRequiresReadySource(t *testing.T) {
	e := New(1000, Params{Seed: 1})
	if err := e.Enable(0); !errors.Is(err, ErrSourceNotReady) {
		t.Fatalf("Enable with no buffer: %v, want ErrSourceNotReady", err)
	}
	if err := e.AttachBuffer(0, buffer.New("src")); err != nil {
		t.Fatal(err)
	}
	if err := e.Enable(0); !errors.Is(err, ErrSourceNotReady) {
		t.Fatalf("Enable with empty buffer: %v, want ErrSourceNotReady", err)
	}
	if err := e.Enable(e.SeedersMax()); !errors.Is(err, ErrIndexOutOfRange) {
		t.Fatalf("Enable out of range: %v, want ErrIndexOutOfRange", err)
	}

	e2, _ := newTestEngine(t, Params{}, 1000)
	if err := e2.Enable(0); err != nil {
		t.Fatal(err)
	}
	if err := e2.Enable(0); err != nil {
		t.Fatalf("re-enabling an enabled seeder: %v, want nil", err)
	}
	if got := e2.ActiveSeeders(); got != 1 {
		t.Fatalf("ActiveSeeders = %d, want 1", got)
	}
}

func TestControlPathIndexErrors(t *testing.T) {
	e, _ := newTestEngine(t, Params{}, 1000)
	if err := e.SetAmplitude(99, 1); !errors.Is(err, ErrIndexOutOfRange) {
		t.Fatalf("SetAmplitude(99): %v, want ErrIndexOutOfRange", err)
	}
	if _, err := e.Seeder(-1); !errors.Is(err, ErrIndexOutOfRange) {
		t.Fatalf("Seeder(-1): %v, want ErrIndexOutOfRange", err)
	}
	if err := e.SetPoly(0, PolyMax+1); err == nil {
		t.Fatal("SetPoly above PolyMax should fail")
	}
	if err := e.SetEnvelope(0, envelope.Rexpodec+1); err == nil {
		t.Fatal("SetEnvelope with unknown kind should fail")
	}
	if err := e.SetFocus(99); !errors.Is(err, ErrIndexOutOfRange) {
		t.Fatalf("SetFocus(99): %v, want ErrIndexOutOfRange", err)
	}
}

func TestGrainLifetimeAcrossBlocks(t *testing.T) {
	e, _ := newTestEngine(t, Params{}, 1000)
	steady(t, e, 200, 10) // one 200-sample grain, next period far away
	if err := e.Enable(0); err != nil {
		t.Fatal(err)
	}

	// The grain spawns at the head of block 1 and renders 64 samples per
	// block, so it survives three blocks and retires during the fourth.
	for block, want := range []int{1, 1, 1, 0} {
		process(e, 64)
		if got := e.ActiveGrains(); got != want {
			t.Fatalf("block %d: ActiveGrains = %d, want %d", block+1, got, want)
		}
	}
}

func TestPitchNeutralCursors(t *testing.T) {
	e, _ := newTestEngine(t, Params{}, 1000)
	steady(t, e, 200, 10) // srcLen == outLen == 200 at shift 0
	if err := e.Enable(0); err != nil {
		t.Fatal(err)
	}
	process(e, 64)

	cur := e.grainList.Front()
	if !cur.Valid() {
		t.Fatal("expected one live grain")
	}
	g := &e.grains[cur.Index()]
	if g.srcI != 64 || g.srcR != 0 {
		t.Errorf("source cursor = (%d, %d), want (64, 0) at neutral pitch", g.srcI, g.srcR)
	}
	// The envelope cursor advances by 999/199 per sample: after 64 samples
	// the accumulated remainder is 64*999 = 63936 = 321*199 + 57.
	if g.envI != 321 || g.envR != 57 {
		t.Errorf("envelope cursor = (%d, %d), want (321, 57)", g.envI, g.envR)
	}
}

func TestSchedulerSpawnCount(t *testing.T) {
	e, _ := newTestEngine(t, Params{}, 1000)
	steady(t, e, 100, 0.3) // outLen 100, periodLen 30
	if err := e.Enable(0); err != nil {
		t.Fatal(err)
	}

	// Block 1 spawns at offsets 0, 30, 60 and leaves a countdown of 26.
	process(e, 64)
	if got := e.ActiveGrains(); got != 3 {
		t.Fatalf("block 1: ActiveGrains = %d, want 3", got)
	}
	if got := e.seeders[0].periodCntd[0]; got != 26 {
		t.Fatalf("block 1: countdown = %d, want 26", got)
	}

	// Block 2 spawns at 26 and 56, and the grain from offset 0 retires
	// after its hundredth sample.
	process(e, 64)
	if got := e.ActiveGrains(); got != 4 {
		t.Fatalf("block 2: ActiveGrains = %d, want 4", got)
	}
	if got := e.seeders[0].periodCntd[0]; got != 22 {
		t.Fatalf("block 2: countdown = %d, want 22", got)
	}
}

func TestSchedulerDefaultPeriodScenario(t *testing.T) {
	e, _ := newTestEngine(t, Params{}, 1000)
	steady(t, e, 200, 0.37) // outLen 200, periodLen 74
	if err := e.Enable(0); err != nil {
		t.Fatal(err)
	}

	wantActive := []int{1, 2, 3, 3} // first grain retires during block 4
	wantCntd := []int{10, 20, 30, 40}
	for i := range wantActive {
		process(e, 64)
		if got := e.ActiveGrains(); got != wantActive[i] {
			t.Errorf("block %d: ActiveGrains = %d, want %d", i+1, got, wantActive[i])
		}
		if got := e.seeders[0].periodCntd[0]; got != wantCntd[i] {
			t.Errorf("block %d: countdown = %d, want %d", i+1, got, wantCntd[i])
		}
	}
}

func TestWindowClamp(t *testing.T) {
	e, _ := newTestEngine(t, Params{}, 1000)
	steady(t, e, 100, 10) // srcLen 100 of 1000 frames

	if err := e.SetBegin(0, 0.95); err != nil {
		t.Fatal(err)
	}
	info, _ := e.Seeder(0)
	if info.Begin != 900 {
		t.Errorf("Begin after SetBegin(0.95) = %d, want clamp to 900", info.Begin)
	}

	if err := e.SetBegin(0, -0.5); err != nil {
		t.Fatal(err)
	}
	info, _ = e.Seeder(0)
	if info.Begin != 0 {
		t.Errorf("Begin after SetBegin(-0.5) = %d, want clamp to 0", info.Begin)
	}
}

func TestPoolExhaustionDropsGrains(t *testing.T) {
	e, _ := newTestEngine(t, Params{GrainsMax: 4}, 1000)
	steady(t, e, 100, 0.1) // periodLen 10, seven spawns in a 64-sample block
	if err := e.Enable(0); err != nil {
		t.Fatal(err)
	}
	process(e, 64)

	if got := e.ActiveGrains(); got != 4 {
		t.Errorf("ActiveGrains = %d, want pool capacity 4", got)
	}
	if got := e.DroppedGrains(); got != 3 {
		t.Errorf("DroppedGrains = %d, want 3", got)
	}
}

func TestPolyStreamsStaggerAndShareWindow(t *testing.T) {
	e, _ := newTestEngine(t, Params{}, 1000)
	err := e.SetSeeder(0, SeederParams{
		Amplitude: 1,
		LengthMS:  100, // outLen 100, periodLen 50
		Period:    0.5,
		Speed:     1,
		Poly:      2,
	})
	if err != nil {
		t.Fatal(err)
	}
	s := &e.seeders[0]
	if s.periodCntd[0] != 0 || s.periodCntd[1] != 25 {
		t.Fatalf("stagger = (%d, %d), want (0, 25)", s.periodCntd[0], s.periodCntd[1])
	}
	if err := e.Enable(0); err != nil {
		t.Fatal(err)
	}

	// Stream 0 spawns at offsets 0 and 50, moving the window to 50 then
	// 100. Stream 1 spawns at offset 25 reading the shared window shifted
	// back by its phase lag: 100 + (25 - 100) = 25.
	process(e, 64)
	if got := e.ActiveGrains(); got != 3 {
		t.Fatalf("ActiveGrains = %d, want 3", got)
	}

	type at struct{ src, out int }
	var got []at
	for cur := e.grainList.Front(); cur.Valid(); cur.Next() {
		g := &e.grains[cur.Index()]
		got = append(got, at{g.srcBegin, g.outBegin})
	}
	want := []at{{25, 25}, {50, 50}, {0, 0}} // most recent first
	if len(got) != len(want) {
		t.Fatalf("grain count = %d, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("grain %d = %+v, want %+v", i, got[i], want[i])
		}
	}
	if s.periodCntd[0] != 36 || s.periodCntd[1] != 11 {
		t.Errorf("countdowns = (%d, %d), want (36, 11)", s.periodCntd[0], s.periodCntd[1])
	}
}

func TestDisableKeepsLiveGrains(t *testing.T) {
	e, _ := newTestEngine(t, Params{}, 1000)
	steady(t, e, 200, 10)
	if err := e.Enable(0); err != nil {
		t.Fatal(err)
	}
	process(e, 64)
	if err := e.Disable(0); err != nil {
		t.Fatal(err)
	}
	if got := e.ActiveSeeders(); got != 0 {
		t.Fatalf("ActiveSeeders = %d, want 0", got)
	}

	// The grain spawned before the disable keeps rendering to completion,
	// and no new grains appear.
	for block, want := range []int{1, 1, 0} {
		process(e, 64)
		if got := e.ActiveGrains(); got != want {
			t.Fatalf("block %d after disable: ActiveGrains = %d, want %d", block+2, got, want)
		}
	}
	if err := e.Disable(0); err != nil {
		t.Fatalf("re-disabling a disabled seeder: %v, want nil", err)
	}
}

func TestEnableAllDisableAll(t *testing.T) {
	e, buf := newTestEngine(t, Params{}, 1000)
	if err := e.AttachBuffer(1, buf); err != nil {
		t.Fatal(err)
	}
	// Seeder 2 has no buffer and must be skipped.
	e.EnableAll()
	if got := e.ActiveSeeders(); got != 2 {
		t.Fatalf("ActiveSeeders after EnableAll = %d, want 2", got)
	}
	active := e.Active()
	if !active[0] || !active[1] || active[2] {
		t.Fatalf("Active() = %v, want seeders 0 and 1 only", active)
	}
	e.DisableAll()
	if got := e.ActiveSeeders(); got != 0 {
		t.Fatalf("ActiveSeeders after DisableAll = %d, want 0", got)
	}
}

func TestRectangularGrainRendersExactly(t *testing.T) {
	e := New(1000, Params{Seed: 1})
	buf := newTestBuffer(t, 1000, 0.25)
	if err := e.AttachBuffer(0, buf); err != nil {
		t.Fatal(err)
	}
	steady(t, e, 200, 10)
	if err := e.SetEnvelope(0, envelope.Rectangular); err != nil {
		t.Fatal(err)
	}
	if err := e.Enable(0); err != nil {
		t.Fatal(err)
	}

	// A rectangular envelope over a constant buffer reproduces the source
	// value exactly; linear interpolation of equal neighbors is exact.
	dst := process(e, 64)
	for i, v := range dst {
		if v != 0.25 {
			t.Fatalf("dst[%d] = %v, want 0.25", i, v)
		}
	}

	// The master gain is read once per block and scales the next one.
	e.SetMasterGain(0.5)
	dst = process(e, 64)
	for i, v := range dst {
		if v != 0.125 {
			t.Fatalf("dst[%d] = %v after gain 0.5, want 0.125", i, v)
		}
	}
}

func TestOverlappingGrainsFoldAtUnitBound(t *testing.T) {
	e := New(1000, Params{Seed: 1})
	buf := newTestBuffer(t, 1000, 0.6)
	for i := 0; i < 2; i++ {
		if err := e.AttachBuffer(i, buf); err != nil {
			t.Fatal(err)
		}
		err := e.SetSeeder(i, SeederParams{
			Amplitude: 1, LengthMS: 200, Period: 10, Poly: 1,
		})
		if err != nil {
			t.Fatal(err)
		}
		if err := e.SetEnvelope(i, envelope.Rectangular); err != nil {
			t.Fatal(err)
		}
		if err := e.Enable(i); err != nil {
			t.Fatal(err)
		}
	}

	// Two coincident grains sum to 1.2, reflected once to 0.8.
	dst := process(e, 64)
	for i, v := range dst {
		if math.Abs(v-0.8) > 1e-6 {
			t.Fatalf("dst[%d] = %v, want fold of 1.2 to 0.8", i, v)
		}
	}
}

func TestBoundsReporting(t *testing.T) {
	e, _ := newTestEngine(t, Params{}, 1000)
	if err := e.SetSpeed(0, 0); err != nil {
		t.Fatal(err)
	}
	if err := e.Enable(0); err != nil {
		t.Fatal(err)
	}

	var calls int
	var start, end float64
	e.SetBoundsFunc(func(s, e float64) {
		calls++
		start, end = s, e
	})

	process(e, 64)
	if calls != 1 {
		t.Fatalf("bounds callback ran %d times, want 1", calls)
	}
	// The default window is 100 ms from the head of the buffer.
	if start != 0 || end != 100 {
		t.Errorf("bounds = (%f, %f), want (0, 100)", start, end)
	}
	if s, en := e.Bounds(); s != start || en != end {
		t.Errorf("Bounds() = (%f, %f), want the callback values", s, en)
	}

	// An empty block is a no-op.
	e.Process(nil)
	if calls != 1 {
		t.Errorf("bounds callback ran on an empty block")
	}
}

func TestSetSampleRateRederivesLengths(t *testing.T) {
	e, _ := newTestEngine(t, Params{}, 1000)
	s := &e.seeders[0]
	if s.outLen != 100 || s.periodLen != 37 {
		t.Fatalf("defaults at 1000 Hz: outLen=%d periodLen=%d, want 100, 37", s.outLen, s.periodLen)
	}
	e.SetSampleRate(2000)
	if s.outLen != 200 || s.periodLen != 74 {
		t.Errorf("after 2000 Hz: outLen=%d periodLen=%d, want 200, 74", s.outLen, s.periodLen)
	}
}

func TestMasterGainRoundTrip(t *testing.T) {
	e := New(1000, Params{Seed: 1})
	if got := e.MasterGain(); got != 1 {
		t.Fatalf("default MasterGain = %f, want 1", got)
	}
	e.SetMasterGain(0.3)
	if got := e.MasterGain(); got != 0.3 {
		t.Fatalf("MasterGain = %f, want 0.3", got)
	}
}

func TestLoadFileFlushesAndDisables(t *testing.T) {
	e, _ := newTestEngine(t, Params{}, 1000)
	steady(t, e, 200, 10)
	if err := e.Enable(0); err != nil {
		t.Fatal(err)
	}
	process(e, 64)
	if got := e.ActiveGrains(); got != 1 {
		t.Fatalf("ActiveGrains = %d, want 1 before reload", got)
	}

	path := filepath.Join(t.TempDir(), "src.wav")
	writeTestWAV(t, path, 500, 1000)
	if err := e.LoadFile(0, path); err != nil {
		t.Fatal(err)
	}

	if got := e.ActiveGrains(); got != 0 {
		t.Errorf("ActiveGrains = %d after reload, want grains flushed", got)
	}
	if e.Active()[0] {
		t.Error("seeder still enabled after reload")
	}
	info, _ := e.Seeder(0)
	if info.Begin != 0 {
		t.Errorf("Begin = %d after reload, want 0", info.Begin)
	}
	if info.File != path {
		t.Errorf("File = %q, want %q", info.File, path)
	}

	e2 := New(1000, Params{Seed: 1})
	if err := e2.LoadFile(0, path); !errors.Is(err, ErrSourceNotReady) {
		t.Fatalf("LoadFile with no linked buffer: %v, want ErrSourceNotReady", err)
	}
}

func BenchmarkProcess(b *testing.B) {
	e := New(48000, Params{Seed: 1})
	buf := buffer.New("src")
	samples := make([]float32, 48000)
	for i := range samples {
		samples[i] = float32(math.Sin(float64(i) * 0.01))
	}
	if err := buf.SetData(samples, 1, 48000); err != nil {
		b.Fatal(err)
	}
	for i := 0; i < 4; i++ {
		if err := e.AttachBuffer(i, buf); err != nil {
			b.Fatal(err)
		}
		err := e.SetSeeder(i, SeederParams{
			Amplitude:  0.25,
			Begin:      float64(i) * 0.2,
			LengthMS:   80 + 20*float64(i),
			Period:     0.37,
			Speed:      1,
			PeriodRand: 0.25,
			Poly:       1 + i,
		})
		if err != nil {
			b.Fatal(err)
		}
		if err := e.Enable(i); err != nil {
			b.Fatal(err)
		}
	}
	dst := make([]float64, 256)
	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		e.Process(dst)
	}
}

// writeTestWAV writes a 16-bit mono PCM file peaking at ~0.5.
func writeTestWAV(t *testing.T, path string, frames, rate int) {
	t.Helper()
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	enc := wav.NewEncoder(f, rate, 16, 1, 1)
	pcm := &goaudio.IntBuffer{
		Format:         &goaudio.Format{NumChannels: 1, SampleRate: rate},
		SourceBitDepth: 16,
		Data:           make([]int, frames),
	}
	for i := range pcm.Data {
		if i%2 == 0 {
			pcm.Data[i] = 1 << 14
		} else {
			pcm.Data[i] = -(1 << 14)
		}
	}
	if err := enc.Write(pcm); err != nil {
		t.Fatal(err)
	}
	if err := enc.Close(); err != nil {
		t.Fatal(err)
	}
	if err := f.Close(); err != nil {
		t.Fatal(err)
	}
}

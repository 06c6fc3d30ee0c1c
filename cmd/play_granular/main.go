package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/ycandau/granular-go"
)

func main() {
	var (
		sampleRate = flag.Int("sample-rate", 48000, "output sample rate")
		wavPath    = flag.String("file", "", "path to a WAV source file (required)")
		volume     = flag.Float64("volume", 1.0, "master volume scalar")
		amplitude  = flag.Float64("amp", 1.0, "grain amplitude")
		begin      = flag.Float64("begin", 0, "window begin as a fraction of the file (0..1)")
		lengthMS   = flag.Float64("length", 100, "grain source length in ms")
		shift      = flag.Float64("shift", 0, "pitch shift in octaves (+1 doubles the rate)")
		period     = flag.Float64("period", 0.37, "inter-grain period as a ratio of grain length")
		speed      = flag.Float64("speed", 1, "window displacement ratio per period")
		periodRand = flag.Float64("rand", 0.25, "period randomization fraction (0..1)")
		poly       = flag.Int("poly", 1, "simultaneous grain streams (1..10)")
		envName    = flag.String("env", "hann", "grain envelope: hann|hamming|blackman|sine|welch|tukey|expodec|...")
		duration   = flag.Duration("duration", 10*time.Second, "how long to play (0 = until killed)")
		outPath    = flag.String("out", "", "render offline to a WAV file instead of playing")
		verbose    = flag.Bool("verbose", false, "print the moving window bounds while playing")
	)
	flag.Parse()

	if *wavPath == "" {
		log.Fatal("missing -file: a WAV source is required")
	}

	pl, err := granular.NewPlayer(*sampleRate)
	if err != nil {
		log.Fatal(err)
	}
	pl.SetMasterVolume(*volume)

	if err := pl.AttachBuffer(0, "main"); err != nil {
		log.Fatal(err)
	}
	if err := pl.LoadFile(0, *wavPath); err != nil {
		log.Fatal(err)
	}
	err = pl.SetSeeder(0, granular.SeederParams{
		Amplitude:  *amplitude,
		Begin:      *begin,
		LengthMS:   *lengthMS,
		Shift:      *shift,
		Period:     *period,
		Speed:      *speed,
		PeriodRand: *periodRand,
		Poly:       *poly,
	})
	if err != nil {
		log.Fatal(err)
	}
	if err := pl.SetEnvelope(0, *envName); err != nil {
		log.Fatal(err)
	}
	if err := pl.Enable(0); err != nil {
		log.Fatal(err)
	}

	if *outPath != "" {
		seconds := duration.Seconds()
		if seconds <= 0 {
			seconds = 10
		}
		samples := pl.RenderSamples(seconds)
		wav := granular.EncodeWAVFloat32LE(samples, *sampleRate, 1)
		if err := os.WriteFile(*outPath, wav, 0o644); err != nil {
			log.Fatal(err)
		}
		fmt.Printf("rendered %.1f s to %s\n", seconds, *outPath)
		return
	}

	if *verbose {
		ch := pl.Watch()
		go func() {
			n := 0
			for ev := range ch {
				// Bounds arrive once per audio block; thin them out.
				if n%50 == 0 {
					fmt.Printf("window %.0f..%.0f ms\n", ev.StartMS, ev.EndMS)
				}
				n++
			}
		}()
	}

	if err := pl.Play(); err != nil {
		log.Fatal(err)
	}
	if *duration > 0 {
		time.Sleep(*duration)
	} else {
		select {}
	}
	if err := pl.Stop(); err != nil {
		log.Fatal(err)
	}
}

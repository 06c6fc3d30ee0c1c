// Package envelope provides the amplitude window curves applied across a
// grain's duration. A curve is selected by Kind and evaluated as a pure
// function of the normalized phase in [0, 1] plus up to two shape
// parameters; engines precompute a fixed-length table once per
// configuration change and index into it while rendering.
package envelope

import (
	"fmt"
	"math"
	"strings"
)

// TableSize is the number of points of a precomputed envelope table,
// independent of grain length.
const TableSize = 1000

// Kind selects one of the supported window curves.
type Kind int

const (
	None Kind = iota
	Rectangular
	Welch
	Sine
	Hann
	Hamming
	Blackman
	Nuttall
	BlackmanNuttall
	BlackmanHarris
	FlatTop
	Triangular
	Trapezoidal
	Tukey
	Expodec
	Rexpodec
)

var kindNames = map[Kind]string{
	None:            "none",
	Rectangular:     "rectangular",
	Welch:           "welch",
	Sine:            "sine",
	Hann:            "hann",
	Hamming:         "hamming",
	Blackman:        "blackman",
	Nuttall:         "nuttal",
	BlackmanNuttall: "blackman-nuttal",
	BlackmanHarris:  "blackman-harris",
	FlatTop:         "flat top",
	Triangular:      "triangular",
	Trapezoidal:     "trapezoidal",
	Tukey:           "tukey",
	Expodec:         "expodec",
	Rexpodec:        "rexpodec",
}

func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return "unknown"
}

// ParseKind resolves an envelope name to its Kind.
func ParseKind(name string) (Kind, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	for k, s := range kindNames {
		if s == name {
			return k, nil
		}
	}
	return None, fmt.Errorf("unknown envelope type %q", name)
}

// DefaultShape returns the default alpha and beta parameters for the kind.
// Most windows ignore both.
func (k Kind) DefaultShape() (alpha, beta float64) {
	switch k {
	case Triangular:
		return 0.5, 0
	case Trapezoidal:
		return 0.1, 0.9
	case Tukey:
		return 0.2, 0.8
	case Expodec:
		return 0.9, 0.2
	case Rexpodec:
		return 0.1, 0.2
	default:
		return 0, 0
	}
}

// At evaluates the curve at phase x in [0, 1].
func (k Kind) At(x, alpha, beta float64) float64 {
	switch k {
	case None, Rectangular:
		return 1
	case Welch:
		d := 2*x - 1
		return 1 - d*d
	case Sine:
		return math.Sin(math.Pi * x)
	case Hann:
		return 0.5 * (1 - math.Cos(2*math.Pi*x))
	case Hamming:
		return 0.54 - 0.46*math.Cos(2*math.Pi*x)
	case Blackman:
		return 0.42 - 0.5*math.Cos(2*math.Pi*x) + 0.08*math.Cos(4*math.Pi*x)
	case Nuttall:
		return 0.355768 - 0.487396*math.Cos(2*math.Pi*x) +
			0.144232*math.Cos(4*math.Pi*x) - 0.012604*math.Cos(6*math.Pi*x)
	case BlackmanNuttall:
		return 0.3635819 - 0.4891775*math.Cos(2*math.Pi*x) +
			0.1365995*math.Cos(4*math.Pi*x) - 0.0106411*math.Cos(6*math.Pi*x)
	case BlackmanHarris:
		return 0.35875 - 0.48829*math.Cos(2*math.Pi*x) +
			0.14128*math.Cos(4*math.Pi*x) - 0.01168*math.Cos(6*math.Pi*x)
	case FlatTop:
		return 0.21557895 - 0.41663158*math.Cos(2*math.Pi*x) +
			0.277263158*math.Cos(4*math.Pi*x) -
			0.083578947*math.Cos(6*math.Pi*x) +
			0.006947368*math.Cos(8*math.Pi*x)
	case Triangular:
		return triangular(x, alpha)
	case Trapezoidal:
		return trapezoidal(x, alpha, beta)
	case Tukey:
		return tukey(x, alpha, beta)
	case Expodec:
		return expodec(x, alpha, beta)
	case Rexpodec:
		return expodec(1-x, alpha, beta)
	default:
		return 1
	}
}

// Fill recomputes a table over dst, sampling the curve at i/(len(dst)-1).
func Fill(dst []float32, k Kind, alpha, beta float64) {
	n := len(dst)
	if n == 0 {
		return
	}
	if n == 1 {
		dst[0] = float32(k.At(0, alpha, beta))
		return
	}
	for i := 0; i < n; i++ {
		x := float64(i) / float64(n-1)
		dst[i] = float32(k.At(x, alpha, beta))
	}
}

// triangular peaks at alpha with linear ramps on either side.
func triangular(x, alpha float64) float64 {
	if alpha <= 0 {
		return 1 - x
	}
	if alpha >= 1 {
		return x
	}
	if x < alpha {
		return x / alpha
	}
	return (1 - x) / (1 - alpha)
}

// trapezoidal ramps up over [0, alpha], holds 1 over [alpha, beta], and
// ramps down over [beta, 1].
func trapezoidal(x, alpha, beta float64) float64 {
	switch {
	case x < alpha && alpha > 0:
		return x / alpha
	case x > beta && beta < 1:
		return (1 - x) / (1 - beta)
	default:
		return 1
	}
}

// tukey is the cosine-tapered trapezoid: raised-cosine edges over
// [0, alpha] and [beta, 1] with a flat top between.
func tukey(x, alpha, beta float64) float64 {
	switch {
	case x < alpha && alpha > 0:
		return 0.5 * (1 - math.Cos(math.Pi*x/alpha))
	case x > beta && beta < 1:
		return 0.5 * (1 - math.Cos(math.Pi*(1-x)/(1-beta)))
	default:
		return 1
	}
}

// expodec rises linearly to its peak at 1-alpha and decays exponentially
// with time constant beta afterwards. Rexpodec evaluates the same curve
// with reversed time.
func expodec(x, alpha, beta float64) float64 {
	peak := 1 - alpha
	if x < peak && peak > 0 {
		return x / peak
	}
	if beta <= 0 {
		return 0
	}
	return math.Exp(-(x - peak) / beta)
}

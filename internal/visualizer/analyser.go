// Package visualizer turns a live sample stream into a normalized loudness
// level for the recording indicator.
package visualizer

import (
	"math"
	"math/cmplx"
	"sync"

	"gonum.org/v1/gonum/dsp/fourier"
	"gonum.org/v1/gonum/dsp/window"
)

const (
	// FFTSize is the Fourier window in samples.
	FFTSize = 256
	// BinCount is the number of frequency bins reported per frame.
	BinCount = FFTSize / 2

	SmoothingTimeConstant = 0.8
	MinDecibels           = -100.0
	MaxDecibels           = -30.0
)

// Analyser keeps the most recent FFTSize samples of a stream and reports
// smoothed byte frequency magnitudes the way a browser analyser node does.
type Analyser struct {
	mu       sync.Mutex
	fft      *fourier.FFT
	ring     [FFTSize]float32
	next     int
	seq      []float64
	coeff    []complex128
	smoothed [BinCount]float64
}

func NewAnalyser() *Analyser {
	return &Analyser{
		fft:   fourier.NewFFT(FFTSize),
		seq:   make([]float64, FFTSize),
		coeff: make([]complex128, FFTSize/2+1),
	}
}

// Write feeds time-domain samples. Only the last FFTSize samples are kept.
func (a *Analyser) Write(samples []float32) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if len(samples) > FFTSize {
		samples = samples[len(samples)-FFTSize:]
	}
	for _, s := range samples {
		a.ring[a.next] = s
		a.next = (a.next + 1) % FFTSize
	}
}

// ByteFrequencyData writes BinCount magnitudes in [0, 255] into dst.
func (a *Analyser) ByteFrequencyData(dst []byte) []byte {
	if cap(dst) < BinCount {
		dst = make([]byte, BinCount)
	}
	dst = dst[:BinCount]

	a.mu.Lock()
	defer a.mu.Unlock()

	for i := 0; i < FFTSize; i++ {
		a.seq[i] = float64(a.ring[(a.next+i)%FFTSize])
	}
	window.Blackman(a.seq)
	a.coeff = a.fft.Coefficients(a.coeff, a.seq)

	const scale = 255 / (MaxDecibels - MinDecibels)
	for k := 0; k < BinCount; k++ {
		mag := cmplx.Abs(a.coeff[k]) / FFTSize
		a.smoothed[k] = SmoothingTimeConstant*a.smoothed[k] + (1-SmoothingTimeConstant)*mag
		if math.IsNaN(a.smoothed[k]) || math.IsInf(a.smoothed[k], 0) {
			a.smoothed[k] = 0
		}

		db := MinDecibels
		if a.smoothed[k] > 0 {
			db = 20 * math.Log10(a.smoothed[k])
		}
		v := math.Floor(scale * (db - MinDecibels))
		switch {
		case v < 0:
			v = 0
		case v > 255:
			v = 255
		}
		dst[k] = byte(v)
	}
	return dst
}

// Level returns the mean bin magnitude normalized to [0, 1].
func (a *Analyser) Level() float64 {
	var bins [BinCount]byte
	data := a.ByteFrequencyData(bins[:0])
	sum := 0
	for _, b := range data {
		sum += int(b)
	}
	return float64(sum) / float64(len(data)) / 255
}

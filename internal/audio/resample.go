package audio

// Resample renders buf as a single channel at rate. The output holds
// ceil(duration*rate) samples; the tail holds the last source sample.
func Resample(buf Buffer, rate int) Buffer {
	if rate <= 0 {
		rate = CanonicalSampleRate
	}
	mono := mixdown(buf.Channels)
	srcRate := buf.SampleRate
	if srcRate <= 0 || len(mono) == 0 {
		return Buffer{SampleRate: rate, Channels: [][]float32{{}}}
	}
	if srcRate == rate {
		return Buffer{SampleRate: rate, Channels: [][]float32{mono}}
	}

	n := (int64(len(mono))*int64(rate) + int64(srcRate) - 1) / int64(srcRate)
	out := make([]float32, n)
	ratio := float64(srcRate) / float64(rate)
	last := len(mono) - 1
	for i := range out {
		pos := float64(i) * ratio
		idx := int(pos)
		if idx > last {
			break
		}
		if idx == last {
			out[i] = mono[idx]
			continue
		}
		frac := float32(pos - float64(idx))
		out[i] = mono[idx]*(1-frac) + mono[idx+1]*frac
	}
	return Buffer{SampleRate: rate, Channels: [][]float32{out}}
}

// mixdown averages all channels into one.
func mixdown(channels [][]float32) []float32 {
	switch len(channels) {
	case 0:
		return nil
	case 1:
		out := make([]float32, len(channels[0]))
		copy(out, channels[0])
		return out
	}
	frames := len(channels[0])
	out := make([]float32, frames)
	scale := 1 / float32(len(channels))
	for _, ch := range channels {
		for i := 0; i < frames && i < len(ch); i++ {
			out[i] += ch[i] * scale
		}
	}
	return out
}

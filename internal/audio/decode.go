package audio

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
	"github.com/hajimehoshi/go-mp3"
	"github.com/mewkiz/flac"
)

var (
	ErrUnsupportedFormat = errors.New("unsupported audio format")
	ErrEmptyAudio        = errors.New("audio contains no samples")
)

// rawMagic prefixes float32 capture streams produced by the microphone.
var rawMagic = []byte("F32L")

// RawHeaderSize is the size of the header written by RawHeader.
const RawHeaderSize = 10

// RawHeader returns the header of a raw capture stream: magic, sample rate
// (uint32 LE) and channel count (uint16 LE). Interleaved float32 LE samples
// follow.
func RawHeader(sampleRate, channels int) []byte {
	h := make([]byte, RawHeaderSize)
	copy(h, rawMagic)
	binary.LittleEndian.PutUint32(h[4:], uint32(sampleRate))
	binary.LittleEndian.PutUint16(h[8:], uint16(channels))
	return h
}

// AppendFloat32LE appends samples to dst as little-endian float32 values.
func AppendFloat32LE(dst []byte, samples []float32) []byte {
	for _, s := range samples {
		dst = binary.LittleEndian.AppendUint32(dst, math.Float32bits(s))
	}
	return dst
}

// Decode sniffs the container of data and decodes it into a Buffer.
func Decode(data []byte) (Buffer, error) {
	var (
		buf Buffer
		err error
	)
	switch {
	case isWAV(data):
		buf, err = decodeWAV(data)
	case bytes.HasPrefix(data, []byte("fLaC")):
		buf, err = decodeFLAC(data)
	case bytes.HasPrefix(data, rawMagic):
		buf, err = decodeRaw(data)
	case isMP3(data):
		buf, err = decodeMP3(data)
	default:
		return Buffer{}, ErrUnsupportedFormat
	}
	if err != nil {
		return Buffer{}, err
	}
	if buf.Frames() == 0 {
		return Buffer{}, ErrEmptyAudio
	}
	return buf, nil
}

// Canonicalize decodes data and re-encodes it as mono 16 kHz PCM16 WAV.
func Canonicalize(data []byte) ([]byte, error) {
	buf, err := Decode(data)
	if err != nil {
		return nil, fmt.Errorf("decode audio: %w", err)
	}
	mono := Resample(buf, CanonicalSampleRate)
	return EncodeWAV(mono.Channels[0], CanonicalSampleRate), nil
}

func isWAV(data []byte) bool {
	return len(data) >= 12 && string(data[0:4]) == "RIFF" && string(data[8:12]) == "WAVE"
}

func isMP3(data []byte) bool {
	if bytes.HasPrefix(data, []byte("ID3")) {
		return true
	}
	return len(data) >= 2 && data[0] == 0xFF && data[1]&0xE0 == 0xE0
}

func decodeWAV(data []byte) (Buffer, error) {
	d := wav.NewDecoder(bytes.NewReader(data))
	if !d.IsValidFile() {
		return Buffer{}, fmt.Errorf("wav: invalid file")
	}
	pcm, err := d.FullPCMBuffer()
	if err != nil {
		return Buffer{}, fmt.Errorf("wav: %w", err)
	}
	channels := pcm.Format.NumChannels
	if channels <= 0 {
		channels = 1
	}
	depth := pcm.SourceBitDepth
	scale := float32(goaudio.IntMaxSignedValue(depth)) + 1
	if scale <= 1 {
		return Buffer{}, fmt.Errorf("wav: unsupported bit depth %d", depth)
	}
	samples := make([]float32, len(pcm.Data))
	for i, v := range pcm.Data {
		if depth == 8 {
			// 8-bit WAV is unsigned.
			v -= 128
		}
		samples[i] = float32(v) / scale
	}
	return Buffer{SampleRate: pcm.Format.SampleRate, Channels: deinterleave(samples, channels)}, nil
}

func decodeMP3(data []byte) (Buffer, error) {
	d, err := mp3.NewDecoder(bytes.NewReader(data))
	if err != nil {
		return Buffer{}, fmt.Errorf("mp3: %w", err)
	}
	// go-mp3 always yields 16-bit stereo.
	raw, err := io.ReadAll(d)
	if err != nil {
		return Buffer{}, fmt.Errorf("mp3: %w", err)
	}
	samples := make([]float32, len(raw)/2)
	for i := range samples {
		samples[i] = float32(int16(binary.LittleEndian.Uint16(raw[i*2:]))) / 0x8000
	}
	return Buffer{SampleRate: d.SampleRate(), Channels: deinterleave(samples, 2)}, nil
}

func decodeFLAC(data []byte) (Buffer, error) {
	stream, err := flac.New(bytes.NewReader(data))
	if err != nil {
		return Buffer{}, fmt.Errorf("flac: %w", err)
	}
	defer stream.Close()

	channels := int(stream.Info.NChannels)
	if channels <= 0 {
		return Buffer{}, fmt.Errorf("flac: no channels")
	}
	scale := float32(int64(1) << (stream.Info.BitsPerSample - 1))
	out := make([][]float32, channels)
	for {
		frame, err := stream.ParseNext()
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return Buffer{}, fmt.Errorf("flac: %w", err)
		}
		for ch := 0; ch < channels && ch < len(frame.Subframes); ch++ {
			for i := 0; i < int(frame.BlockSize); i++ {
				out[ch] = append(out[ch], float32(frame.Subframes[ch].Samples[i])/scale)
			}
		}
	}
	return Buffer{SampleRate: int(stream.Info.SampleRate), Channels: out}, nil
}

func decodeRaw(data []byte) (Buffer, error) {
	if len(data) < RawHeaderSize {
		return Buffer{}, fmt.Errorf("raw: short header")
	}
	rate := int(binary.LittleEndian.Uint32(data[4:8]))
	channels := int(binary.LittleEndian.Uint16(data[8:10]))
	if rate <= 0 || channels <= 0 {
		return Buffer{}, fmt.Errorf("raw: invalid header rate=%d channels=%d", rate, channels)
	}
	body := data[RawHeaderSize:]
	samples := make([]float32, len(body)/4)
	for i := range samples {
		samples[i] = math.Float32frombits(binary.LittleEndian.Uint32(body[i*4:]))
	}
	return Buffer{SampleRate: rate, Channels: deinterleave(samples, channels)}, nil
}

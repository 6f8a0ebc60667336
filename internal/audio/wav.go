package audio

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"io"
	"os"
)

// WAVHeaderSize is the size of the canonical RIFF/WAVE header.
const WAVHeaderSize = 44

// EncodeWAV quantizes mono float samples to PCM16 and wraps them in a WAV
// container. Samples are clamped to [-1, 1]; negative values scale by
// 0x8000 and positive values by 0x7FFF.
func EncodeWAV(samples []float32, sampleRate int) []byte {
	var buf bytes.Buffer
	buf.Grow(WAVHeaderSize + len(samples)*2)
	// bytes.Buffer writes cannot fail.
	_ = WriteWAVPCM16LETo(&buf, QuantizePCM16(samples), sampleRate)
	return buf.Bytes()
}

// QuantizePCM16 converts float samples to little-endian signed 16-bit PCM.
func QuantizePCM16(samples []float32) []byte {
	pcm := make([]byte, len(samples)*2)
	for i, s := range samples {
		if s > 1 {
			s = 1
		} else if s < -1 {
			s = -1
		}
		var v int16
		if s < 0 {
			v = int16(s * 0x8000)
		} else {
			v = int16(s * 0x7FFF)
		}
		binary.LittleEndian.PutUint16(pcm[i*2:], uint16(v))
	}
	return pcm
}

// WriteWAVFile writes mono float samples to path as a canonical WAV file.
func WriteWAVFile(path string, samples []float32, sampleRate int) (err error) {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := f.Close(); err == nil {
			err = cerr
		}
	}()
	return WriteWAVPCM16LETo(f, QuantizePCM16(samples), sampleRate)
}

// WriteWAVPCM16LETo writes raw PCM16LE mono audio bytes to out as a WAV stream.
func WriteWAVPCM16LETo(out io.Writer, pcm []byte, sampleRate int) error {
	const (
		numChannels   = 1
		bitsPerSample = 16
		audioFormat   = 1 // PCM
	)
	if sampleRate <= 0 {
		sampleRate = CanonicalSampleRate
	}

	dataSize := uint32(len(pcm))
	header := struct {
		ChunkID       [4]byte
		ChunkSize     uint32
		Format        [4]byte
		Subchunk1ID   [4]byte
		Subchunk1Size uint32
		AudioFormat   uint16
		NumChannels   uint16
		SampleRate    uint32
		ByteRate      uint32
		BlockAlign    uint16
		BitsPerSample uint16
		Subchunk2ID   [4]byte
		Subchunk2Size uint32
	}{
		ChunkID:       [4]byte{'R', 'I', 'F', 'F'},
		ChunkSize:     36 + dataSize,
		Format:        [4]byte{'W', 'A', 'V', 'E'},
		Subchunk1ID:   [4]byte{'f', 'm', 't', ' '},
		Subchunk1Size: 16,
		AudioFormat:   audioFormat,
		NumChannels:   numChannels,
		SampleRate:    uint32(sampleRate),
		ByteRate:      uint32(sampleRate * numChannels * bitsPerSample / 8),
		BlockAlign:    numChannels * bitsPerSample / 8,
		BitsPerSample: bitsPerSample,
		Subchunk2ID:   [4]byte{'d', 'a', 't', 'a'},
		Subchunk2Size: dataSize,
	}

	w := bufio.NewWriter(out)
	if err := binary.Write(w, binary.LittleEndian, header); err != nil {
		return err
	}
	if _, err := w.Write(pcm); err != nil {
		return err
	}
	return w.Flush()
}

// WAVDataSize returns the Subchunk2Size declared by a canonical WAV header.
func WAVDataSize(wav []byte) (uint32, bool) {
	if len(wav) < WAVHeaderSize || string(wav[0:4]) != "RIFF" || string(wav[36:40]) != "data" {
		return 0, false
	}
	return binary.LittleEndian.Uint32(wav[40:44]), true
}

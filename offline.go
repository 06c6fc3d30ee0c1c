package granular

import (
	"encoding/binary"
	"math"
)

const renderBlockLen = 256

// RenderSamples renders seconds of mono audio offline from the player's
// engine, advancing the same seeders and grains playback would. Configure
// the seeders and call it on a player that is not streaming.
func (p *Player) RenderSamples(seconds float64) []float32 {
	frames := int(float64(p.sampleRate) * seconds)
	out := make([]float32, 0, frames)
	block := make([]float64, renderBlockLen)
	for frames > 0 {
		n := renderBlockLen
		if frames < n {
			n = frames
		}
		p.engine.Process(block[:n])
		for _, v := range block[:n] {
			out = append(out, float32(v))
		}
		frames -= n
	}
	return out
}

// EncodeWAVFloat32LE wraps interleaved float32 samples in a WAV container
// (format 3, IEEE float, little endian).
func EncodeWAVFloat32LE(samples []float32, sampleRate int, channels int) []byte {
	dataSize := len(samples) * 4
	byteRate := sampleRate * channels * 4
	blockAlign := channels * 4
	chunkSize := 36 + dataSize
	out := make([]byte, 44+dataSize)
	copy(out[0:], []byte("RIFF"))
	binary.LittleEndian.PutUint32(out[4:], uint32(chunkSize))
	copy(out[8:], []byte("WAVE"))
	copy(out[12:], []byte("fmt "))
	binary.LittleEndian.PutUint32(out[16:], 16)
	binary.LittleEndian.PutUint16(out[20:], 3)
	binary.LittleEndian.PutUint16(out[22:], uint16(channels))
	binary.LittleEndian.PutUint32(out[24:], uint32(sampleRate))
	binary.LittleEndian.PutUint32(out[28:], uint32(byteRate))
	binary.LittleEndian.PutUint16(out[32:], uint16(blockAlign))
	binary.LittleEndian.PutUint16(out[34:], 32)
	copy(out[36:], []byte("data"))
	binary.LittleEndian.PutUint32(out[40:], uint32(dataSize))
	for i, s := range samples {
		binary.LittleEndian.PutUint32(out[44+i*4:], math.Float32bits(s))
	}
	return out
}

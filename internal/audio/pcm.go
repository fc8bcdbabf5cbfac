package audio

import (
	"encoding/binary"
	"fmt"
)

// Synthesis wire format: raw little-endian 16-bit PCM, mono.
const (
	SampleRate = 24000
	Channels   = 1
)

// DecodePCM16 converts raw little-endian 16-bit samples to float32 in
// [-1.0, 1.0) by dividing by 32768.
func DecodePCM16(data []byte) ([]float32, error) {
	if len(data)%2 != 0 {
		return nil, fmt.Errorf("pcm payload has odd length %d", len(data))
	}
	samples := make([]float32, len(data)/2)
	for i := range samples {
		raw := int16(binary.LittleEndian.Uint16(data[i*2:]))
		samples[i] = float32(raw) / 32768.0
	}
	return samples, nil
}

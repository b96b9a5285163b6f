package audio

import "encoding/binary"

// EncodeLE serialises a frame of int16 samples to little-endian bytes, the
// raw PCM layout the transcription backend consumes.
func EncodeLE(samples []int16) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(s))
	}
	return out
}

// DecodeLE is the inverse of [EncodeLE]. The trailing byte of an odd-length
// input is ignored.
func DecodeLE(data []byte) []int16 {
	n := len(data) / 2
	out := make([]int16, n)
	for i := 0; i < n; i++ {
		out[i] = int16(binary.LittleEndian.Uint16(data[i*2:]))
	}
	return out
}

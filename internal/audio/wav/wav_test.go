package wav

import (
	"encoding/binary"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vigil/pkg/sentinel"
)

func sine(freq float64, n int) []int16 {
	samples := make([]int16, n)
	for i := range samples {
		ti := float64(i) / 16000
		samples[i] = int16(math.Sin(2*math.Pi*freq*ti) * 16000)
	}
	return samples
}

func TestRoundTripIsLossless(t *testing.T) {
	original := sine(440, 16000*2) // 2 seconds

	encoded := Encode(original)
	decoded, err := Decode(encoded)
	require.NoError(t, err)

	require.Len(t, decoded, len(original))
	assert.Equal(t, original, decoded)
}

func TestRoundTripEmpty(t *testing.T) {
	decoded, err := Decode(Encode(nil))
	require.NoError(t, err)
	assert.Empty(t, decoded)
}

func TestDecodeRejectsNonConformingInput(t *testing.T) {
	mutate := func(f func(b []byte)) []byte {
		b := Encode(sine(200, 1600))
		f(b)
		return b
	}

	cases := []struct {
		name    string
		payload []byte
	}{
		{"empty payload", nil},
		{"short payload", []byte("RIFF")},
		{"not a wav", mutate(func(b []byte) { copy(b[8:12], "AVI ") })},
		{"stereo", mutate(func(b []byte) { binary.LittleEndian.PutUint16(b[22:24], 2) })},
		{"44.1kHz", mutate(func(b []byte) { binary.LittleEndian.PutUint32(b[24:28], 44100) })},
		{"8-bit", mutate(func(b []byte) { binary.LittleEndian.PutUint16(b[34:36], 8) })},
		{"float encoding", mutate(func(b []byte) { binary.LittleEndian.PutUint16(b[20:22], 3) })},
		{"truncated data chunk", mutate(func(b []byte) { binary.LittleEndian.PutUint32(b[40:44], 1<<30) })},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Decode(tc.payload)
			require.Error(t, err)
			assert.ErrorIs(t, err, sentinel.ErrUnsupportedFormat)
		})
	}
}

func TestDecodeSkipsUnknownChunks(t *testing.T) {
	original := sine(300, 800)
	encoded := Encode(original)

	// Splice a LIST chunk between fmt and data, as some recorders emit.
	list := make([]byte, 8+4)
	copy(list[0:4], "LIST")
	binary.LittleEndian.PutUint32(list[4:8], 4)
	copy(list[8:12], "INFO")

	spliced := append([]byte{}, encoded[:36]...)
	spliced = append(spliced, list...)
	spliced = append(spliced, encoded[36:]...)
	binary.LittleEndian.PutUint32(spliced[4:8], uint32(len(spliced)-8))

	decoded, err := Decode(spliced)
	require.NoError(t, err)
	assert.Equal(t, original, decoded)
}

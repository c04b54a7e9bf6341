package varint

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	cases := []uint32{0, 1, 2, 127, 128, 129, 16383, 16384, 2097151, 2097152, 1 << 27}
	for _, n := range cases {
		enc := Encode(n)
		require.NotEmpty(t, enc)
		require.Equal(t, Size(n), len(enc))

		for i, b := range enc {
			if i == len(enc)-1 {
				require.NotZero(t, b&0x80, "last byte must have high bit set")
			} else {
				require.Zero(t, b&0x80, "non-last byte must not have high bit set")
			}
		}

		got, n2, err := Decode(enc)
		require.NoError(t, err)
		require.Equal(t, len(enc), n2)
		require.Equal(t, n, got)
	}
}

func TestDecodeUnderflow(t *testing.T) {
	_, _, err := Decode(nil)
	require.ErrorIs(t, err, ErrUnderflow)

	_, _, err = Decode([]byte{0x01, 0x02})
	require.ErrorIs(t, err, ErrUnderflow)
}

func TestZeroIsSingleByte(t *testing.T) {
	enc := Encode(0)
	require.Equal(t, []byte{0x80}, enc)
}

package wire

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestByteBoolRoundTrip(t *testing.T) {
	b := NewEmptyBuffer(8)
	b.WriteByte(0x42)
	b.WriteBool(true)
	b.WriteBool(false)

	r := NewBuffer(b.Bytes())
	v, err := r.ReadByte()
	require.NoError(t, err)
	assert.Equal(t, byte(0x42), v)

	bv, err := r.ReadBool()
	require.NoError(t, err)
	assert.True(t, bv)

	bv, err = r.ReadBool()
	require.NoError(t, err)
	assert.False(t, bv)
}

func TestUint32Uint64RoundTrip(t *testing.T) {
	b := NewEmptyBuffer(16)
	b.WriteUint32(0xdeadbeef)
	b.WriteUint64(0x0102030405060708)

	r := NewBuffer(b.Bytes())
	u32, err := r.ReadUint32()
	require.NoError(t, err)
	assert.Equal(t, uint32(0xdeadbeef), u32)

	u64, err := r.ReadUint64()
	require.NoError(t, err)
	assert.Equal(t, uint64(0x0102030405060708), u64)
}

func TestStringRoundTrip(t *testing.T) {
	for _, s := range [][]byte{
		nil,
		[]byte(""),
		[]byte("ssh-connection"),
		{0x00, 0xff, 0x10, 0x00},
	} {
		b := NewEmptyBuffer(16)
		b.WriteString(s)
		r := NewBuffer(b.Bytes())
		got, err := r.ReadString()
		require.NoError(t, err)
		assert.Equal(t, string(s), string(got))
	}
}

func TestNameListRoundTrip(t *testing.T) {
	cases := [][]string{
		nil,
		{"curve25519-sha256"},
		{"curve25519-sha256", "diffie-hellman-group14-sha256"},
	}
	for _, names := range cases {
		b := NewEmptyBuffer(32)
		b.WriteNameList(names)
		r := NewBuffer(b.Bytes())
		got, err := r.ReadNameList()
		require.NoError(t, err)
		if len(names) == 0 {
			assert.Empty(t, got)
		} else {
			assert.Equal(t, names, got)
		}
	}
}

func TestMPIntRoundTrip(t *testing.T) {
	cases := []*big.Int{
		big.NewInt(0),
		big.NewInt(1),
		big.NewInt(127),
		big.NewInt(128), // high bit set in single byte form, needs padding
		new(big.Int).Lsh(big.NewInt(1), 255),
	}
	for _, v := range cases {
		b := NewEmptyBuffer(64)
		b.WriteMPInt(v)
		r := NewBuffer(b.Bytes())
		got, err := r.ReadMPInt()
		require.NoError(t, err)
		assert.Equal(t, 0, v.Cmp(got), "expected %s got %s", v, got)
	}
}

func TestMPIntLeadingZeroByte(t *testing.T) {
	b := NewEmptyBuffer(8)
	b.WriteMPInt(big.NewInt(128))
	encoded := b.Bytes()
	// length(4) + leading-zero(1) + value(1) == 6
	assert.Equal(t, 6, len(encoded))
	assert.Equal(t, byte(0x00), encoded[4])
	assert.Equal(t, byte(0x80), encoded[5])
}

func TestReadStringShortBuffer(t *testing.T) {
	r := NewBuffer([]byte{0, 0, 0, 10, 'a', 'b'})
	_, err := r.ReadString()
	assert.ErrorIs(t, err, ErrShortBuffer)
}

func TestReadUint32ShortBuffer(t *testing.T) {
	r := NewBuffer([]byte{0, 0})
	_, err := r.ReadUint32()
	assert.ErrorIs(t, err, ErrShortBuffer)
}

package suite

import (
	"crypto/sha256"
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNegotiatePicksClientFirstCommon(t *testing.T) {
	client := []string{"c", "a", "b"}
	server := []string{"b", "a"}
	alg, ok := Negotiate(client, server)
	require.True(t, ok)
	assert.Equal(t, "a", alg)
}

func TestNegotiateFailsWithNoCommon(t *testing.T) {
	_, ok := Negotiate([]string{"x"}, []string{"y"})
	assert.False(t, ok)
}

func TestNegotiateAllReportsFailingCategory(t *testing.T) {
	client := DefaultAlgList()
	server := DefaultAlgList()
	server.MACC2S = []string{"hmac-unknown"}
	_, failed, ok := NegotiateAll(client, server)
	assert.False(t, ok)
	assert.Equal(t, "mac-c2s", failed)
}

func TestDeriveKeyIsDeterministicAndLabelSensitive(t *testing.T) {
	k := big.NewInt(12345)
	h := []byte("exchange-hash")
	sid := []byte("session-id")

	a := DeriveKey(sha256.New, k, h, LabelEncClientToServer, sid, 32)
	b := DeriveKey(sha256.New, k, h, LabelEncClientToServer, sid, 32)
	assert.Equal(t, a, b)

	c := DeriveKey(sha256.New, k, h, LabelEncServerToClient, sid, 32)
	assert.NotEqual(t, a, c)
}

func TestDeriveKeyExpandsPastOneDigest(t *testing.T) {
	k := big.NewInt(1)
	h := []byte("h")
	sid := []byte("s")
	out := DeriveKey(sha256.New, k, h, LabelIVClientToServer, sid, 100)
	assert.Len(t, out, 100)
}

func TestAEADSealOpenRoundTrip(t *testing.T) {
	keymat := make([]byte, 64)
	for i := range keymat {
		keymat[i] = byte(i)
	}
	a, err := NewAEAD(keymat)
	require.NoError(t, err)
	b, err := NewAEAD(keymat)
	require.NoError(t, err)

	plaintext := []byte("padding_length+payload+padding contents")
	var length [4]byte
	length[0], length[1], length[2], length[3] = 0, 0, 0, byte(len(plaintext))

	encLen := a.EncryptLength(7, length)
	ciphertext, tag, err := a.Seal(7, encLen, plaintext)
	require.NoError(t, err)

	decLen := b.EncryptLength(7, encLen) // symmetric stream cipher
	assert.Equal(t, length, decLen)

	got, err := b.Open(7, encLen, ciphertext, tag)
	require.NoError(t, err)
	assert.Equal(t, plaintext, got)
}

func TestAEADOpenRejectsTamperedTag(t *testing.T) {
	keymat := make([]byte, 64)
	a, err := NewAEAD(keymat)
	require.NoError(t, err)

	plaintext := []byte("hello")
	var length [4]byte
	encLen := a.EncryptLength(1, length)
	ciphertext, tag, err := a.Seal(1, encLen, plaintext)
	require.NoError(t, err)

	tag[0] ^= 0xff
	_, err = a.Open(1, encLen, ciphertext, tag)
	assert.Error(t, err)
}

func TestDHKeyExchangeAgrees(t *testing.T) {
	alice, err := NewDHKeyPair()
	require.NoError(t, err)
	bob, err := NewDHKeyPair()
	require.NoError(t, err)

	sharedAlice, err := alice.SharedSecret(bob.E)
	require.NoError(t, err)
	sharedBob, err := bob.SharedSecret(alice.E)
	require.NoError(t, err)
	assert.Equal(t, 0, sharedAlice.Cmp(sharedBob))
}

func TestCurve25519KeyExchangeAgrees(t *testing.T) {
	alice, err := NewCurve25519KeyPair()
	require.NoError(t, err)
	bob, err := NewCurve25519KeyPair()
	require.NoError(t, err)

	sharedAlice, err := alice.SharedSecret(bob.Pub)
	require.NoError(t, err)
	sharedBob, err := bob.SharedSecret(alice.Pub)
	require.NoError(t, err)
	assert.Equal(t, 0, sharedAlice.Cmp(sharedBob))
}

func TestStreamCipherRoundTrip(t *testing.T) {
	for _, name := range []string{CipherAES128CTR, CipherAES256CTR, CipherTwofish128CTRExt, CipherBlowfish64CTRExt} {
		info, ok := LookupCipher(name)
		require.True(t, ok, name)
		key := make([]byte, info.KeySize)
		iv := make([]byte, info.IVSize)

		enc, err := NewStreamCipher(name, key, iv)
		require.NoError(t, err)
		dec, err := NewStreamCipher(name, key, iv)
		require.NoError(t, err)

		plaintext := []byte("round trip through a stream cipher")
		ciphertext := make([]byte, len(plaintext))
		enc.XORKeyStream(ciphertext, plaintext)
		got := make([]byte, len(ciphertext))
		dec.XORKeyStream(got, ciphertext)
		assert.Equal(t, plaintext, got, name)
	}
}

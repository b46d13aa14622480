package suite

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/subtle"
	"encoding/binary"
	"errors"

	"golang.org/x/crypto/blowfish"
	"golang.org/x/crypto/chacha20"
	"golang.org/x/crypto/poly1305"
	"golang.org/x/crypto/twofish"
)

// ErrUnknownCipher is returned by NewStreamCipher for an unregistered
// cipher algorithm name.
var ErrUnknownCipher = errors.New("suite: unknown cipher algorithm")

// CipherInfo describes a registered symmetric cipher's key/iv/block
// sizes.
type CipherInfo struct {
	KeySize   int
	IVSize    int
	BlockSize int
	AEAD      bool
}

var cipherRegistry = map[string]CipherInfo{
	CipherAES128CTR:        {KeySize: 16, IVSize: aes.BlockSize, BlockSize: aes.BlockSize},
	CipherAES192CTR:        {KeySize: 24, IVSize: aes.BlockSize, BlockSize: aes.BlockSize},
	CipherAES256CTR:        {KeySize: 32, IVSize: aes.BlockSize, BlockSize: aes.BlockSize},
	CipherTwofish128CTRExt: {KeySize: 16, IVSize: twofish.BlockSize, BlockSize: twofish.BlockSize},
	CipherBlowfish64CTRExt: {KeySize: 16, IVSize: blowfish.BlockSize, BlockSize: blowfish.BlockSize},
	CipherChaCha20P1305:    {KeySize: 64, IVSize: 0, BlockSize: 8, AEAD: true},
}

// LookupCipher returns the registered parameters for an algorithm name.
func LookupCipher(name string) (CipherInfo, bool) {
	ci, ok := cipherRegistry[name]
	return ci, ok
}

// NewStreamCipher constructs a cipher.Stream, used alongside a separate
// MAC over the unencrypted packet, for one of the CTR-mode block ciphers. Not valid for the AEAD cipher
// (chacha20-poly1305@openssh.com); use NewAEAD for that.
func NewStreamCipher(name string, key, iv []byte) (cipher.Stream, error) {
	var block cipher.Block
	var err error
	switch name {
	case CipherAES128CTR, CipherAES192CTR, CipherAES256CTR:
		block, err = aes.NewCipher(key)
	case CipherTwofish128CTRExt:
		block, err = twofish.NewCipher(key)
	case CipherBlowfish64CTRExt:
		block, err = blowfish.NewCipher(key)
	default:
		return nil, ErrUnknownCipher
	}
	if err != nil {
		return nil, err
	}
	return cipher.NewCTR(block, iv), nil
}

// AEAD is the chacha20-poly1305@openssh.com construction: a dedicated
// stream cipher (derived from the second half of the key material)
// encrypts the 4-byte packet length with the sequence number as nonce;
// the main stream cipher plus a per-packet Poly1305 key (its first block,
// counter 0) authenticates and encrypts the payload, per OpenSSH's
// PROTOCOL.chacha20poly1305.
type AEAD struct {
	mainKey [32]byte
	lenKey  [32]byte
}

// NewAEAD builds the AEAD cipher from 64 bytes of key material: the first
// 32 bytes key the main (payload) stream, the second 32 key the length
// stream, matching OpenSSH's K_2‖K_1 ordering.
func NewAEAD(keymat []byte) (*AEAD, error) {
	if len(keymat) < 64 {
		return nil, errors.New("suite: chacha20-poly1305 requires 64 bytes of key material")
	}
	a := &AEAD{}
	copy(a.mainKey[:], keymat[0:32])
	copy(a.lenKey[:], keymat[32:64])
	return a, nil
}

func nonceFromSeq(seq uint32) [12]byte {
	var nonce [12]byte
	binary.BigEndian.PutUint32(nonce[8:], seq)
	return nonce
}

// EncryptLength encrypts (or decrypts, symmetrically) the 4-byte packet
// length field using the dedicated length cipher keyed off the packet
// sequence number.
func (a *AEAD) EncryptLength(seq uint32, length [4]byte) [4]byte {
	nonce := nonceFromSeq(seq)
	s, err := chacha20.NewUnauthenticatedCipher(a.lenKey[:], nonce[:])
	if err != nil {
		// key/nonce sizes are fixed constants above; a failure here is
		// a programmer error, not a runtime condition.
		panic(err)
	}
	var out [4]byte
	s.XORKeyStream(out[:], length[:])
	return out
}

// polyKey derives the per-packet Poly1305 key: the first 32 bytes of the
// main cipher's keystream at counter 0, per the openssh construction
// (payload encryption itself then starts at counter 1).
func (a *AEAD) polyKey(seq uint32) ([32]byte, error) {
	nonce := nonceFromSeq(seq)
	s, err := chacha20.NewUnauthenticatedCipher(a.mainKey[:], nonce[:])
	if err != nil {
		return [32]byte{}, err
	}
	var polyKeyBuf [64]byte
	s.XORKeyStream(polyKeyBuf[:], polyKeyBuf[:])
	var key [32]byte
	copy(key[:], polyKeyBuf[:32])
	return key, nil
}

func (a *AEAD) payloadCipher(seq uint32) (*chacha20.Cipher, error) {
	nonce := nonceFromSeq(seq)
	s, err := chacha20.NewUnauthenticatedCipher(a.mainKey[:], nonce[:])
	if err != nil {
		return nil, err
	}
	s.SetCounter(1)
	return s, nil
}

// Seal encrypts the payload (the portion after the 4-byte length, i.e.
// padding_length‖payload‖padding) and returns the ciphertext and the
// 16-byte Poly1305 tag covering encrypted-length‖ciphertext.
func (a *AEAD) Seal(seq uint32, encryptedLength [4]byte, plaintext []byte) (ciphertext, tag []byte, err error) {
	s, err := a.payloadCipher(seq)
	if err != nil {
		return nil, nil, err
	}
	ciphertext = make([]byte, len(plaintext))
	s.XORKeyStream(ciphertext, plaintext)

	polyKey, err := a.polyKey(seq)
	if err != nil {
		return nil, nil, err
	}
	return ciphertext, poly1305MAC(polyKey, encryptedLength, ciphertext), nil
}

// Open verifies the tag and decrypts the payload; it is the inverse of Seal.
func (a *AEAD) Open(seq uint32, encryptedLength [4]byte, ciphertext, tag []byte) ([]byte, error) {
	if len(tag) != poly1305.TagSize {
		return nil, errors.New("suite: malformed poly1305 tag")
	}
	polyKey, err := a.polyKey(seq)
	if err != nil {
		return nil, err
	}
	expected := poly1305MAC(polyKey, encryptedLength, ciphertext)
	if subtle.ConstantTimeCompare(expected, tag) != 1 {
		return nil, errors.New("suite: poly1305 tag mismatch")
	}
	s, err := a.payloadCipher(seq)
	if err != nil {
		return nil, err
	}
	plaintext := make([]byte, len(ciphertext))
	s.XORKeyStream(plaintext, ciphertext)
	return plaintext, nil
}

func poly1305MAC(key [32]byte, encryptedLength [4]byte, ciphertext []byte) []byte {
	msg := make([]byte, 0, 4+len(ciphertext))
	msg = append(msg, encryptedLength[:]...)
	msg = append(msg, ciphertext...)
	var tag [16]byte
	poly1305.Sum(&tag, msg, &key)
	return tag[:]
}

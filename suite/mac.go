package suite

import (
	"crypto/hmac"
	"crypto/sha1" // nolint:gosec // hmac-sha1 is an offered, non-preferred legacy MAC
	"crypto/sha256"
	"crypto/sha512"
	"errors"
	"hash"
)

// ErrUnknownMAC is returned by NewMAC for an unregistered MAC name.
var ErrUnknownMAC = errors.New("suite: unknown mac algorithm")

// MACInfo describes a registered MAC's key and digest size.
type MACInfo struct {
	KeySize    int
	DigestSize int
}

var macRegistry = map[string]MACInfo{
	MACHMACSHA256: {KeySize: 32, DigestSize: 32},
	MACHMACSHA512: {KeySize: 64, DigestSize: 64},
	MACHMACSHA1:   {KeySize: 20, DigestSize: 20},
}

// LookupMAC returns the registered parameters for a MAC algorithm name.
func LookupMAC(name string) (MACInfo, bool) {
	mi, ok := macRegistry[name]
	return mi, ok
}

// NewMAC constructs an hmac.Hash for the given algorithm. MAC input is
// seq_number(4)‖unencrypted_packet.
func NewMAC(name string, key []byte) (hash.Hash, error) {
	switch name {
	case MACHMACSHA256:
		return hmac.New(sha256.New, key), nil
	case MACHMACSHA512:
		return hmac.New(sha512.New, key), nil
	case MACHMACSHA1:
		return hmac.New(sha1.New, key), nil
	default:
		return nil, ErrUnknownMAC
	}
}

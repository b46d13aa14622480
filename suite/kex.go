package suite

import (
	"crypto/rand"
	"errors"
	"math/big"

	"golang.org/x/crypto/curve25519"
)

// ErrUnknownKEX is returned for an unregistered KEX algorithm name.
var ErrUnknownKEX = errors.New("suite: unknown kex algorithm")

// dhGroup14Prime is the 2048-bit MODP group 14 prime from RFC 3526 §3.
var dhGroup14Prime, _ = new(big.Int).SetString(
	"FFFFFFFFFFFFFFFFC90FDAA22168C234C4C6628B80DC1CD"+
		"129024E088A67CC74020BBEA63B139B22514A08798E3404"+
		"DDEF9519B3CD3A431B302B0A6DF25F14374FE1356D6D51C"+
		"245E485B576625E7EC6F44C42E9A637ED6B0BFF5CB6F406"+
		"B7EDEE386BFB5A899FA5AE9F24117C4B1FE649286651ECE"+
		"45B3DC2007CB8A163BF0598DA48361C55D39A69163FA8FD"+
		"24CF5F83655D23DCA3AD961C62F356208552BB9ED529077"+
		"096966D670C354E4ABC9804F1746C08CA18217C32905E46"+
		"2E36CE3BE39E772C180E86039B2783A2EC07A28FB5C55DF"+
		"06F4C52C9DE2BCBF6955817183995497CEA956AE515D225"+
		"6A98FA0510015728E5A8AACAA68FFFFFFFFFFFFFFFF",
	16)

var dhGroup14Generator = big.NewInt(2)

// DHKeyPair is a classical Diffie-Hellman group-14 ephemeral key pair.
type DHKeyPair struct {
	x *big.Int // private exponent
	E *big.Int // public value g^x mod p
}

// NewDHKeyPair generates a fresh ephemeral DH group-14 key pair.
func NewDHKeyPair() (*DHKeyPair, error) {
	// A private exponent of 256 bits gives >128 bits of security margin
	// against the group's ~112-bit strength, matching common SSH client
	// practice for group14.
	x, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 256))
	if err != nil {
		return nil, err
	}
	if x.Sign() == 0 {
		x = big.NewInt(1)
	}
	e := new(big.Int).Exp(dhGroup14Generator, x, dhGroup14Prime)
	return &DHKeyPair{x: x, E: e}, nil
}

// SharedSecret computes K = peerPublic^x mod p given the peer's public
// value f (KEXDH_REPLY's f, or KEXDH_INIT's e on the responder side).
func (kp *DHKeyPair) SharedSecret(peerPublic *big.Int) (*big.Int, error) {
	if peerPublic.Sign() <= 0 || peerPublic.Cmp(dhGroup14Prime) >= 0 {
		return nil, errors.New("suite: dh peer public value out of range")
	}
	return new(big.Int).Exp(peerPublic, kp.x, dhGroup14Prime), nil
}

// Curve25519KeyPair is an X25519 ephemeral key pair for curve25519-sha256
// (RFC 8731).
type Curve25519KeyPair struct {
	priv [32]byte
	Pub  [32]byte
}

// NewCurve25519KeyPair generates a fresh ephemeral X25519 key pair.
func NewCurve25519KeyPair() (*Curve25519KeyPair, error) {
	kp := &Curve25519KeyPair{}
	if _, err := rand.Read(kp.priv[:]); err != nil {
		return nil, err
	}
	pub, err := curve25519.X25519(kp.priv[:], curve25519.Basepoint)
	if err != nil {
		return nil, err
	}
	copy(kp.Pub[:], pub)
	return kp, nil
}

// SharedSecret computes the X25519 shared secret with the peer's public
// value, returned as a big.Int so callers can feed it through the same
// mpint-based key derivation (suite.DeriveKey) as the classical DH path.
func (kp *Curve25519KeyPair) SharedSecret(peerPub [32]byte) (*big.Int, error) {
	secret, err := curve25519.X25519(kp.priv[:], peerPub[:])
	if err != nil {
		return nil, err
	}
	return new(big.Int).SetBytes(secret), nil
}

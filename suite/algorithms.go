// Package suite is the crypto suite: cipher, MAC and KEX capability sets
// selected by SSH algorithm name, plus the key-derivation function that
// turns a KEX shared secret into the six directional key-material strings.
//
// Algorithms are keyed by the real SSH algorithm-name strings rather
// than a fixed enum, since AlgList negotiation requires picking from the
// client's and server's name-lists, not fixed indices.
package suite

// AlgList is the eight algorithm name-lists exchanged in KEXINIT, in the
// canonical SSH order. The two language name-lists are not included.
type AlgList struct {
	KEX              []string
	HostKey          []string
	EncryptionC2S    []string
	EncryptionS2C    []string
	MACC2S           []string
	MACS2C           []string
	CompressionC2S   []string
	CompressionS2C   []string
}

// Default algorithm name constants.
const (
	KEXCurve25519SHA256   = "curve25519-sha256"
	KEXDHGroup14SHA256    = "diffie-hellman-group14-sha256"
	KEXDHGroup14SHA1      = "diffie-hellman-group14-sha1"

	HostKeyRSA = "ssh-rsa"

	CipherAES128CTR  = "aes128-ctr"
	CipherAES192CTR  = "aes192-ctr"
	CipherAES256CTR  = "aes256-ctr"
	CipherChaCha20P1305 = "chacha20-poly1305@openssh.com"
	// Non-standard extension ciphers, offered but never preferred first.
	CipherTwofish128CTRExt  = "twofish128-ctr@blitter.com"
	CipherBlowfish64CTRExt  = "blowfish64-ctr@blitter.com"

	MACHMACSHA256 = "hmac-sha2-256"
	MACHMACSHA512 = "hmac-sha2-512"
	MACHMACSHA1   = "hmac-sha1"

	CompressionNone = "none"
)

// DefaultAlgList is the client's preference-ordered algorithm set. List
// order is significant: negotiation picks the client's first entry also
// present in the server's list.
func DefaultAlgList() AlgList {
	enc := []string{
		CipherAES256CTR,
		CipherAES192CTR,
		CipherAES128CTR,
		CipherChaCha20P1305,
		CipherTwofish128CTRExt,
		CipherBlowfish64CTRExt,
	}
	mac := []string{MACHMACSHA256, MACHMACSHA512, MACHMACSHA1}
	return AlgList{
		KEX:            []string{KEXCurve25519SHA256, KEXDHGroup14SHA256, KEXDHGroup14SHA1},
		HostKey:        []string{HostKeyRSA},
		EncryptionC2S:  enc,
		EncryptionS2C:  enc,
		MACC2S:         mac,
		MACS2C:         mac,
		CompressionC2S: []string{CompressionNone},
		CompressionS2C: []string{CompressionNone},
	}
}

// Negotiate picks the first entry of client that also appears in server.
func Negotiate(client, server []string) (string, bool) {
	serverSet := make(map[string]struct{}, len(server))
	for _, s := range server {
		serverSet[s] = struct{}{}
	}
	for _, c := range client {
		if _, ok := serverSet[c]; ok {
			return c, true
		}
	}
	return "", false
}

// Negotiated holds the eight algorithm choices agreed for a session.
type Negotiated struct {
	KEX            string
	HostKey        string
	EncryptionC2S  string
	EncryptionS2C  string
	MACC2S         string
	MACS2C         string
	CompressionC2S string
	CompressionS2C string
}

// NegotiateAll negotiates all eight categories, failing (ok=false) and
// reporting which category failed if any has no common algorithm.
func NegotiateAll(client, server AlgList) (n Negotiated, failedCategory string, ok bool) {
	type pair struct {
		name           string
		c, s           []string
		dst            *string
	}
	pairs := []pair{
		{"kex", client.KEX, server.KEX, &n.KEX},
		{"host-key", client.HostKey, server.HostKey, &n.HostKey},
		{"encryption-c2s", client.EncryptionC2S, server.EncryptionC2S, &n.EncryptionC2S},
		{"encryption-s2c", client.EncryptionS2C, server.EncryptionS2C, &n.EncryptionS2C},
		{"mac-c2s", client.MACC2S, server.MACC2S, &n.MACC2S},
		{"mac-s2c", client.MACS2C, server.MACS2C, &n.MACS2C},
		{"compression-c2s", client.CompressionC2S, server.CompressionC2S, &n.CompressionC2S},
		{"compression-s2c", client.CompressionS2C, server.CompressionS2C, &n.CompressionS2C},
	}
	for _, p := range pairs {
		alg, found := Negotiate(p.c, p.s)
		if !found {
			return Negotiated{}, p.name, false
		}
		*p.dst = alg
	}
	return n, "", true
}

package transport

import (
	"crypto/rand"
	"crypto/sha1" // nolint:gosec // diffie-hellman-group14-sha1 is an offered legacy kex hash
	"crypto/sha256"
	"errors"
	"fmt"
	"hash"
	"math/big"

	"blitter.com/go/sshc/sshcerr"
	"blitter.com/go/sshc/suite"
	"blitter.com/go/sshc/wire"
)

// HostKeyCallback is invoked once per KEX with the server's host key blob,
// so the caller can verify or pin it. Returning a non-nil error fails the
// handshake with ErrHostKeyRejected.
type HostKeyCallback func(hostname string, hostKeyBlob []byte) error

// InsecureIgnoreHostKey returns a HostKeyCallback that accepts any host
// key unconditionally. Named loudly so a caller must opt in by name;
// never the default.
func InsecureIgnoreHostKey() HostKeyCallback {
	return func(string, []byte) error { return nil }
}

// KexConfig carries the inputs the KEX engine needs beyond the Conn
// itself: the client's algorithm preferences, the callback used to
// verify the server's host key, and the remote hostname passed to it.
type KexConfig struct {
	ClientAlgs      suite.AlgList
	HostKeyCallback HostKeyCallback
	Hostname        string
}

// KexResult is what a successful KEX round establishes.
type KexResult struct {
	SessionID     []byte
	Negotiated    suite.Negotiated
	ExchangeHash  []byte
	LocalVersion  string
	RemoteVersion string
}

// ErrUnknownKEXAlg indicates NegotiateAll picked a kex algorithm name this
// engine has no round implemented for; unreachable as long as
// suite.DefaultAlgList().KEX only lists implemented algorithms.
var ErrUnknownKEXAlg = errors.New("transport: negotiated kex algorithm has no implementation")

// RunKex drives the key-exchange state machine to completion: version
// exchange, KEXINIT negotiation, a DH or curve25519 round, host-key
// verification, key derivation and NEWKEYS in both directions. On the
// first call priorSessionID must be nil (session_id is fixed to this
// round's exchange hash); on a rekey, pass the session's existing id so
// it is carried forward unchanged.
func RunKex(c *Conn, cfg KexConfig, priorSessionID []byte) (*KexResult, error) {
	remoteVersion, err := ExchangeVersions(c)
	if err != nil {
		return nil, err
	}
	if _, _, err := ParseVersion(remoteVersion); err != nil {
		return nil, err
	}

	cookie := make([]byte, 16)
	if _, err := rand.Read(cookie); err != nil {
		return nil, err
	}
	localKexInit := buildKexInitPayload(cfg.ClientAlgs, cookie)
	if err := c.WritePacket(localKexInit); err != nil {
		return nil, err
	}

	remoteKexInit, err := c.ReadPacket()
	if err != nil {
		return nil, err
	}
	if len(remoteKexInit) == 0 || remoteKexInit[0] != MsgKexInit {
		return nil, fmt.Errorf("%w: expected KEXINIT, got %s", sshcerr.ErrProtocolViolation, msgNameForPayload(remoteKexInit))
	}
	remoteAlgs, err := parseKexInitPayload(remoteKexInit)
	if err != nil {
		return nil, err
	}

	negotiated, failedCategory, ok := suite.NegotiateAll(cfg.ClientAlgs, remoteAlgs)
	if !ok {
		return nil, fmt.Errorf("%w: no common %s algorithm", sshcerr.ErrNegotiationFailed, failedCategory)
	}

	var sharedSecret *big.Int
	var clientExchangeValue, serverExchangeValue []byte
	var clientValueIsMPInt bool
	var hostKeyBlob, signatureBlob []byte

	switch negotiated.KEX {
	case suite.KEXCurve25519SHA256:
		kp, err := suite.NewCurve25519KeyPair()
		if err != nil {
			return nil, err
		}
		clientExchangeValue = append([]byte(nil), kp.Pub[:]...)

		payload := wire.NewEmptyBuffer(40)
		payload.WriteByte(MsgKexDHInit)
		payload.WriteString(kp.Pub[:])
		if err := c.WritePacket(payload.Bytes()); err != nil {
			return nil, err
		}

		reply, err := c.ReadPacket()
		if err != nil {
			return nil, err
		}
		hostKeyBlob, serverExchangeValue, signatureBlob, err = parseKexDHReplyString(reply)
		if err != nil {
			return nil, err
		}
		if len(serverExchangeValue) != 32 {
			return nil, fmt.Errorf("%w: malformed curve25519 public value", sshcerr.ErrProtocolViolation)
		}
		var peerPub [32]byte
		copy(peerPub[:], serverExchangeValue)
		sharedSecret, err = kp.SharedSecret(peerPub)
		if err != nil {
			return nil, err
		}

	case suite.KEXDHGroup14SHA256, suite.KEXDHGroup14SHA1:
		dh, err := suite.NewDHKeyPair()
		if err != nil {
			return nil, err
		}
		clientExchangeValue = dh.E.Bytes()
		clientValueIsMPInt = true

		payload := wire.NewEmptyBuffer(260)
		payload.WriteByte(MsgKexDHInit)
		payload.WriteMPInt(dh.E)
		if err := c.WritePacket(payload.Bytes()); err != nil {
			return nil, err
		}

		reply, err := c.ReadPacket()
		if err != nil {
			return nil, err
		}
		var f *big.Int
		hostKeyBlob, f, signatureBlob, err = parseKexDHReplyMPInt(reply)
		if err != nil {
			return nil, err
		}
		serverExchangeValue = f.Bytes()
		sharedSecret, err = dh.SharedSecret(f)
		if err != nil {
			return nil, err
		}

	default:
		return nil, ErrUnknownKEXAlg
	}

	newHash, err := hashForKex(negotiated.KEX)
	if err != nil {
		return nil, err
	}

	exchangeHash := computeExchangeHash(
		newHash,
		LocalVersionString, remoteVersion,
		localKexInit, remoteKexInit,
		hostKeyBlob,
		clientExchangeValue, clientValueIsMPInt,
		serverExchangeValue,
		sharedSecret,
	)

	if err := suite.VerifyHostKeySignature(hostKeyBlob, signatureBlob, exchangeHash); err != nil {
		return nil, fmt.Errorf("%w: %v", sshcerr.ErrHostKeyRejected, err)
	}
	if cfg.HostKeyCallback != nil {
		if err := cfg.HostKeyCallback(cfg.Hostname, hostKeyBlob); err != nil {
			return nil, fmt.Errorf("%w: %v", sshcerr.ErrHostKeyRejected, err)
		}
	}

	sessionID := priorSessionID
	if sessionID == nil {
		sessionID = exchangeHash
	}

	if err := c.WritePacket([]byte{MsgNewKeys}); err != nil {
		return nil, err
	}
	reply, err := c.ReadPacket()
	if err != nil {
		return nil, err
	}
	if len(reply) == 0 || reply[0] != MsgNewKeys {
		return nil, fmt.Errorf("%w: expected NEWKEYS, got %s", sshcerr.ErrProtocolViolation, msgNameForPayload(reply))
	}

	if err := installKeys(c, newHash, sharedSecret, exchangeHash, sessionID, negotiated); err != nil {
		return nil, err
	}

	return &KexResult{
		SessionID:     sessionID,
		Negotiated:    negotiated,
		ExchangeHash:  exchangeHash,
		LocalVersion:  LocalVersionString,
		RemoteVersion: remoteVersion,
	}, nil
}

func hashForKex(kexAlg string) (func() hash.Hash, error) {
	switch kexAlg {
	case suite.KEXCurve25519SHA256, suite.KEXDHGroup14SHA256:
		return sha256.New, nil
	case suite.KEXDHGroup14SHA1:
		return sha1.New, nil
	default:
		return nil, ErrUnknownKEXAlg
	}
}

// buildKexInitPayload renders a KEXINIT message: message code, a 16-byte
// random cookie, the eight name-lists in canonical order, empty
// language lists, first_kex_packet_follows=false, and a reserved uint32.
func buildKexInitPayload(algs suite.AlgList, cookie []byte) []byte {
	b := wire.NewEmptyBuffer(256)
	b.WriteByte(MsgKexInit)
	for _, by := range cookie {
		b.WriteByte(by)
	}
	b.WriteNameList(algs.KEX)
	b.WriteNameList(algs.HostKey)
	b.WriteNameList(algs.EncryptionC2S)
	b.WriteNameList(algs.EncryptionS2C)
	b.WriteNameList(algs.MACC2S)
	b.WriteNameList(algs.MACS2C)
	b.WriteNameList(algs.CompressionC2S)
	b.WriteNameList(algs.CompressionS2C)
	b.WriteNameList(nil) // languages_client_to_server
	b.WriteNameList(nil) // languages_server_to_client
	b.WriteBool(false)   // first_kex_packet_follows
	b.WriteUint32(0)     // reserved
	return b.Bytes()
}

// parseKexInitPayload decodes a peer's KEXINIT into an AlgList, ignoring
// the cookie, language lists, guessed-packet flag and reserved field.
func parseKexInitPayload(payload []byte) (suite.AlgList, error) {
	r := wire.NewBuffer(payload)
	if _, err := r.ReadByte(); err != nil {
		return suite.AlgList{}, err
	}
	for i := 0; i < 16; i++ {
		if _, err := r.ReadByte(); err != nil {
			return suite.AlgList{}, err
		}
	}

	var algs suite.AlgList
	fields := []*[]string{
		&algs.KEX, &algs.HostKey,
		&algs.EncryptionC2S, &algs.EncryptionS2C,
		&algs.MACC2S, &algs.MACS2C,
		&algs.CompressionC2S, &algs.CompressionS2C,
	}
	for _, f := range fields {
		nl, err := r.ReadNameList()
		if err != nil {
			return suite.AlgList{}, err
		}
		*f = nl
	}
	if _, err := r.ReadNameList(); err != nil { // languages_client_to_server
		return suite.AlgList{}, err
	}
	if _, err := r.ReadNameList(); err != nil { // languages_server_to_client
		return suite.AlgList{}, err
	}
	if _, err := r.ReadBool(); err != nil {
		return suite.AlgList{}, err
	}
	if _, err := r.ReadUint32(); err != nil {
		return suite.AlgList{}, err
	}
	return algs, nil
}

func msgNameForPayload(payload []byte) string {
	if len(payload) == 0 {
		return "EMPTY"
	}
	return msgName(payload[0])
}

// parseKexDHReplyString decodes a KEXDH_REPLY whose exchange value f is
// an SSH string (curve25519-sha256's Q_S, RFC 8731).
func parseKexDHReplyString(payload []byte) (hostKeyBlob, serverValue, signatureBlob []byte, err error) {
	if len(payload) == 0 || payload[0] != MsgKexDHReply {
		return nil, nil, nil, fmt.Errorf("%w: expected KEXDH_REPLY, got %s", sshcerr.ErrProtocolViolation, msgNameForPayload(payload))
	}
	r := wire.NewBuffer(payload[1:])
	if hostKeyBlob, err = r.ReadString(); err != nil {
		return nil, nil, nil, err
	}
	if serverValue, err = r.ReadString(); err != nil {
		return nil, nil, nil, err
	}
	if signatureBlob, err = r.ReadString(); err != nil {
		return nil, nil, nil, err
	}
	return hostKeyBlob, serverValue, signatureBlob, nil
}

// parseKexDHReplyMPInt decodes a KEXDH_REPLY whose exchange value f is an
// mpint (the classical diffie-hellman-group14 kex methods).
func parseKexDHReplyMPInt(payload []byte) (hostKeyBlob []byte, f *big.Int, signatureBlob []byte, err error) {
	if len(payload) == 0 || payload[0] != MsgKexDHReply {
		return nil, nil, nil, fmt.Errorf("%w: expected KEXDH_REPLY, got %s", sshcerr.ErrProtocolViolation, msgNameForPayload(payload))
	}
	r := wire.NewBuffer(payload[1:])
	if hostKeyBlob, err = r.ReadString(); err != nil {
		return nil, nil, nil, err
	}
	if f, err = r.ReadMPInt(); err != nil {
		return nil, nil, nil, err
	}
	if signatureBlob, err = r.ReadString(); err != nil {
		return nil, nil, nil, err
	}
	return hostKeyBlob, f, signatureBlob, nil
}

// computeExchangeHash renders H = hash(V_C ‖ V_S ‖ I_C ‖ I_S ‖ K_S ‖ e ‖
// f ‖ K), where e/f are mpints for classical DH or raw strings for
// curve25519-sha256 (RFC 8731 uses Q_C/Q_S in place of e/f, encoded as
// SSH strings rather than mpints).
func computeExchangeHash(newHash func() hash.Hash, localVersion, remoteVersion string, localKexInit, remoteKexInit, hostKeyBlob, clientValue []byte, clientValueIsMPInt bool, serverValue []byte, k *big.Int) []byte {
	b := wire.NewEmptyBuffer(512)
	b.WriteString([]byte(localVersion))
	b.WriteString([]byte(remoteVersion))
	b.WriteString(localKexInit)
	b.WriteString(remoteKexInit)
	b.WriteString(hostKeyBlob)
	if clientValueIsMPInt {
		b.WriteMPInt(new(big.Int).SetBytes(clientValue))
		b.WriteMPInt(new(big.Int).SetBytes(serverValue))
	} else {
		b.WriteString(clientValue)
		b.WriteString(serverValue)
	}
	b.WriteMPInt(k)

	h := newHash()
	h.Write(b.Bytes())
	return h.Sum(nil)
}

// installKeys derives the six directional key-material strings and
// installs the negotiated cipher/MAC (or AEAD) on each of Conn's
// directions: this side writes client-to-server, reads server-to-client.
func installKeys(c *Conn, newHash func() hash.Hash, k *big.Int, h, sessionID []byte, negotiated suite.Negotiated) error {
	if err := installDirection(c, newHash, k, h, sessionID, negotiated.EncryptionC2S, negotiated.MACC2S,
		suite.LabelIVClientToServer, suite.LabelEncClientToServer, suite.LabelIntegClientToServer, true); err != nil {
		return err
	}
	return installDirection(c, newHash, k, h, sessionID, negotiated.EncryptionS2C, negotiated.MACS2C,
		suite.LabelIVServerToClient, suite.LabelEncServerToClient, suite.LabelIntegServerToClient, false)
}

func installDirection(c *Conn, newHash func() hash.Hash, k *big.Int, h, sessionID []byte, cipherName, macName string, ivLabel, encLabel, integLabel suite.KeyLabel, isWrite bool) error {
	cipherInfo, ok := suite.LookupCipher(cipherName)
	if !ok {
		return suite.ErrUnknownCipher
	}

	if cipherInfo.AEAD {
		keymat := suite.DeriveKey(newHash, k, h, encLabel, sessionID, cipherInfo.KeySize)
		aead, err := suite.NewAEAD(keymat)
		if err != nil {
			return err
		}
		if isWrite {
			c.SetWriteAEAD(aead)
		} else {
			c.SetReadAEAD(aead)
		}
		return nil
	}

	iv := suite.DeriveKey(newHash, k, h, ivLabel, sessionID, cipherInfo.IVSize)
	key := suite.DeriveKey(newHash, k, h, encLabel, sessionID, cipherInfo.KeySize)
	stream, err := suite.NewStreamCipher(cipherName, key, iv)
	if err != nil {
		return err
	}

	macInfo, ok := suite.LookupMAC(macName)
	if !ok {
		return suite.ErrUnknownMAC
	}
	macKey := suite.DeriveKey(newHash, k, h, integLabel, sessionID, macInfo.KeySize)
	m, err := suite.NewMAC(macName, macKey)
	if err != nil {
		return err
	}

	if isWrite {
		c.SetWriteCipher(stream, cipherInfo.BlockSize, m, macInfo.DigestSize)
	} else {
		c.SetReadCipher(stream, cipherInfo.BlockSize, m, macInfo.DigestSize)
	}
	return nil
}

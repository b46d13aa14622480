package transport

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"blitter.com/go/sshc/clock"
	"blitter.com/go/sshc/suite"
	"blitter.com/go/sshc/wire"
)

// serverSideCurve25519Kex plays the server half of one curve25519-sha256
// KEX round by hand, reusing the same package-private wire helpers the
// client side (RunKex) uses, so the test exercises the real encoding in
// both directions over a real loopback TCP socket (OS-buffered, unlike
// net.Pipe, so both sides writing their banners concurrently doesn't
// deadlock the way a fully synchronous rendezvous pipe would).
func serverSideCurve25519Kex(t *testing.T, conn *Conn, hostSigner *suite.RSASigner) {
	t.Helper()

	remoteVersion, err := ExchangeVersions(conn)
	require.NoError(t, err)

	cookie := make([]byte, 16)
	_, err = rand.Read(cookie)
	require.NoError(t, err)
	serverAlgs := suite.DefaultAlgList()
	serverKexInit := buildKexInitPayload(serverAlgs, cookie)
	require.NoError(t, conn.WritePacket(serverKexInit))

	clientKexInit, err := conn.ReadPacket()
	require.NoError(t, err)
	require.Equal(t, byte(MsgKexInit), clientKexInit[0])
	clientAlgs, err := parseKexInitPayload(clientKexInit)
	require.NoError(t, err)

	negotiated, _, ok := suite.NegotiateAll(serverAlgs, clientAlgs)
	require.True(t, ok)
	require.Equal(t, suite.KEXCurve25519SHA256, negotiated.KEX)

	clientInit, err := conn.ReadPacket()
	require.NoError(t, err)
	require.Equal(t, byte(MsgKexDHInit), clientInit[0])
	rb := wire.NewBuffer(clientInit[1:])
	qC, err := rb.ReadString()
	require.NoError(t, err)
	require.Len(t, qC, 32)

	kp, err := suite.NewCurve25519KeyPair()
	require.NoError(t, err)
	var peerPub [32]byte
	copy(peerPub[:], qC)
	sharedSecret, err := kp.SharedSecret(peerPub)
	require.NoError(t, err)

	newHash, err := hashForKex(negotiated.KEX)
	require.NoError(t, err)

	hostKeyBlob := hostSigner.PublicKeyBlob()
	exchangeHash := computeExchangeHash(
		newHash,
		remoteVersion, LocalVersionString,
		clientKexInit, serverKexInit,
		hostKeyBlob,
		qC, false,
		kp.Pub[:],
		sharedSecret,
	)
	sig, err := hostSigner.Sign(exchangeHash)
	require.NoError(t, err)

	replyBody := wire.NewEmptyBuffer(len(hostKeyBlob) + 32 + len(sig) + 16)
	replyBody.WriteByte(MsgKexDHReply)
	replyBody.WriteString(hostKeyBlob)
	replyBody.WriteString(kp.Pub[:])
	replyBody.WriteString(sig)
	require.NoError(t, conn.WritePacket(replyBody.Bytes()))

	newKeys, err := conn.ReadPacket()
	require.NoError(t, err)
	require.Equal(t, byte(MsgNewKeys), newKeys[0])
	require.NoError(t, conn.WritePacket([]byte{MsgNewKeys}))

	// Server's write direction is S2C, read direction is C2S.
	require.NoError(t, installDirection(conn, newHash, sharedSecret, exchangeHash, exchangeHash,
		negotiated.EncryptionS2C, negotiated.MACS2C,
		suite.LabelIVServerToClient, suite.LabelEncServerToClient, suite.LabelIntegServerToClient, true))
	require.NoError(t, installDirection(conn, newHash, sharedSecret, exchangeHash, exchangeHash,
		negotiated.EncryptionC2S, negotiated.MACC2S,
		suite.LabelIVClientToServer, suite.LabelEncClientToServer, suite.LabelIntegClientToServer, false))
}

func generateTestRSASigner(t *testing.T) *suite.RSASigner {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	der := x509.MarshalPKCS1PrivateKey(key)
	block := &pem.Block{Type: "RSA PRIVATE KEY", Bytes: der}
	signer, err := suite.ParseRSAPrivateKeyPEM(pem.EncodeToMemory(block))
	require.NoError(t, err)
	return signer
}

func TestRunKexCompletesAgainstHandRolledServer(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	hostSigner := generateTestRSASigner(t)

	serverDone := make(chan struct{})
	go func() {
		defer close(serverDone)
		raw, err := ln.Accept()
		if err != nil {
			return
		}
		defer raw.Close()
		conn := NewConn(raw, clock.New(0))
		serverSideCurve25519Kex(t, conn, hostSigner)
	}()

	raw, err := net.Dial("tcp", ln.Addr().String())
	require.NoError(t, err)
	defer raw.Close()
	client := NewConn(raw, clock.New(0))

	var seenHostKey []byte
	cfg := KexConfig{
		ClientAlgs: suite.DefaultAlgList(),
		HostKeyCallback: func(hostname string, keyBlob []byte) error {
			seenHostKey = keyBlob
			return nil
		},
		Hostname: "127.0.0.1",
	}

	result, err := RunKex(client, cfg, nil)
	require.NoError(t, err)
	assert.NotEmpty(t, result.SessionID)
	assert.Equal(t, suite.KEXCurve25519SHA256, result.Negotiated.KEX)
	assert.Equal(t, hostSigner.PublicKeyBlob(), seenHostKey)

	<-serverDone
}

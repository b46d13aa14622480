package auth

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
	"blitter.com/go/sshc/sshcerr"
	"blitter.com/go/sshc/suite"
	"blitter.com/go/sshc/transport"
	"blitter.com/go/sshc/wire"
)

func pipeConns(t *testing.T) (*transport.Conn, *transport.Conn) {
	t.Helper()
	a, b := net.Pipe()
	return transport.NewConn(a, clock.New(0)), transport.NewConn(b, clock.New(0))
}

func generateSigner(t *testing.T) *suite.RSASigner {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	der := x509.MarshalPKCS1PrivateKey(key)
	block := &pem.Block{Type: "RSA PRIVATE KEY", Bytes: der}
	signer, err := suite.ParseRSAPrivateKeyPEM(pem.EncodeToMemory(block))
	require.NoError(t, err)
	return signer
}

func TestRequestServiceSucceedsOnAccept(t *testing.T) {
	client, server := pipeConns(t)
	defer client.Close()
	defer server.Close()

	go func() {
		req, err := server.ReadPacket()
		if err != nil || req[0] != transport.MsgServiceRequest {
			return
		}
		b := wire.NewEmptyBuffer(32)
		b.WriteByte(transport.MsgServiceAccept)
		b.WriteString([]byte(serviceNameUserauth))
		_ = server.WritePacket(b.Bytes())
	}()

	require.NoError(t, RequestService(client))
}

func TestRequestServiceRejectsWrongServiceName(t *testing.T) {
	client, server := pipeConns(t)
	defer client.Close()
	defer server.Close()

	go func() {
		_, _ = server.ReadPacket()
		b := wire.NewEmptyBuffer(32)
		b.WriteByte(transport.MsgServiceAccept)
		b.WriteString([]byte("ssh-connection"))
		_ = server.WritePacket(b.Bytes())
	}()

	err := RequestService(client)
	assert.ErrorIs(t, err, sshcerr.ErrProtocolViolation)
}

func TestPasswordMethodSucceeds(t *testing.T) {
	client, server := pipeConns(t)
	defer client.Close()
	defer server.Close()

	go func() {
		req, err := server.ReadPacket()
		require.NoError(t, err)
		r := wire.NewBuffer(req[1:])
		user, _ := r.ReadString()
		assert.Equal(t, "alice", string(user))
		svc, _ := r.ReadString()
		assert.Equal(t, serviceNameConnection, string(svc))
		method, _ := r.ReadString()
		assert.Equal(t, methodPassword, string(method))
		hasSig, _ := r.ReadBool()
		assert.False(t, hasSig)
		pw, _ := r.ReadString()
		assert.Equal(t, "hunter2", string(pw))

		_ = server.WritePacket([]byte{transport.MsgUserauthSuccess})
	}()

	ctx := &Ctx{
		Conn:     client,
		User:     "alice",
		Password: func() (string, error) { return "hunter2", nil },
	}
	require.NoError(t, Password(ctx))
}

func TestPasswordMethodRejected(t *testing.T) {
	client, server := pipeConns(t)
	defer client.Close()
	defer server.Close()

	go func() {
		_, _ = server.ReadPacket()
		_ = server.WritePacket([]byte{transport.MsgUserauthFailure})
	}()

	ctx := &Ctx{
		Conn:     client,
		User:     "alice",
		Password: func() (string, error) { return "wrong", nil },
	}
	err := Password(ctx)
	assert.ErrorIs(t, err, sshcerr.ErrAuthRejected)
}

func TestPublicKeyMethodSucceeds(t *testing.T) {
	client, server := pipeConns(t)
	defer client.Close()
	defer server.Close()

	signer := generateSigner(t)
	sessionID := []byte("fixed-session-id-for-test")

	go func() {
		probe, err := server.ReadPacket()
		require.NoError(t, err)
		r := wire.NewBuffer(probe[1:])
		_, _ = r.ReadString() // user
		_, _ = r.ReadString() // service
		_, _ = r.ReadString() // method
		hasSig, _ := r.ReadBool()
		assert.False(t, hasSig)

		b := wire.NewEmptyBuffer(32)
		b.WriteByte(transport.MsgUserauthPKOK)
		b.WriteString([]byte(suite.HostKeyRSA))
		b.WriteString(signer.PublicKeyBlob())
		require.NoError(t, server.WritePacket(b.Bytes()))

		signedReq, err := server.ReadPacket()
		require.NoError(t, err)
		sr := wire.NewBuffer(signedReq[1:])
		_, _ = sr.ReadString() // user
		_, _ = sr.ReadString() // service
		_, _ = sr.ReadString() // method
		hasSig2, _ := sr.ReadBool()
		assert.True(t, hasSig2)
		_, _ = sr.ReadString() // algorithm
		_, _ = sr.ReadString() // key blob
		sigBlob, _ := sr.ReadString()

		unsigned := buildPublicKeyRequest("bob", signer, false, nil)
		toVerify := append(append([]byte{}, sessionID...), unsigned...)
		assert.NoError(t, suite.VerifyHostKeySignature(signer.PublicKeyBlob(), sigBlob, toVerify))

		require.NoError(t, server.WritePacket([]byte{transport.MsgUserauthSuccess}))
	}()

	ctx := &Ctx{
		Conn:   client,
		User:   "bob",
		Signer: signer,
	}
	require.NoError(t, PublicKey(ctx, sessionID))
}

func TestPublicKeyMethodProbeRejected(t *testing.T) {
	client, server := pipeConns(t)
	defer client.Close()
	defer server.Close()

	signer := generateSigner(t)

	go func() {
		_, _ = server.ReadPacket()
		_ = server.WritePacket([]byte{transport.MsgUserauthFailure})
	}()

	ctx := &Ctx{
		Conn:   client,
		User:   "bob",
		Signer: signer,
	}
	err := PublicKey(ctx, []byte("session"))
	assert.ErrorIs(t, err, sshcerr.ErrAuthRejected)
}

func TestPublicKeyMethodRequiresSigner(t *testing.T) {
	client, _ := pipeConns(t)
	defer client.Close()
	ctx := &Ctx{Conn: client, User: "bob"}
	err := PublicKey(ctx, []byte("session"))
	assert.Error(t, err)
}

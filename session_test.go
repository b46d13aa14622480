package sshc

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"blitter.com/go/sshc/channel"
	"blitter.com/go/sshc/clock"
	"blitter.com/go/sshc/sshcerr"
	"blitter.com/go/sshc/transport"
	"blitter.com/go/sshc/wire"
)

func TestConnectRequiresHostKeyCallback(t *testing.T) {
	_, err := Connect("127.0.0.1:0", WithUser("alice"), WithPassword(func() (string, error) { return "x", nil }))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "HostKeyCallback")
}

func TestConnectRequiresUser(t *testing.T) {
	_, err := Connect("127.0.0.1:0",
		WithHostKeyCallback(transport.InsecureIgnoreHostKey()),
		WithPassword(func() (string, error) { return "x", nil }),
	)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "User")
}

func TestConnectRequiresAuthMethod(t *testing.T) {
	_, err := Connect("127.0.0.1:0",
		WithHostKeyCallback(transport.InsecureIgnoreHostKey()),
		WithUser("alice"),
	)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no auth method")
}

func TestDefaultConfigHasThirtySecondTimeout(t *testing.T) {
	cfg := defaultConfig()
	assert.Equal(t, 30*time.Second, cfg.Timeout)
	assert.Equal(t, TransportTCP, cfg.Transport)
	assert.NotEmpty(t, cfg.algs.KEX)
}

func TestOptionsApplyToConfig(t *testing.T) {
	cfg := defaultConfig()
	WithUser("bob")(&cfg)
	WithTransport(TransportKCP)(&cfg)
	WithKEXOrder([]string{"curve25519-sha256"})(&cfg)
	WithCipherOrder([]string{"aes256-ctr"})(&cfg)

	assert.Equal(t, "bob", cfg.User)
	assert.Equal(t, TransportKCP, cfg.Transport)
	assert.Equal(t, []string{"curve25519-sha256"}, cfg.algs.KEX)
	assert.Equal(t, []string{"aes256-ctr"}, cfg.algs.EncryptionC2S)
	assert.Equal(t, []string{"aes256-ctr"}, cfg.algs.EncryptionS2C)
}

func TestHostnameOfStripsPort(t *testing.T) {
	assert.Equal(t, "example.com", hostnameOf("example.com:22"))
	assert.Equal(t, "example.com", hostnameOf("example.com"))
}

func TestCloseSendsDisconnectAndIsIdempotent(t *testing.T) {
	clientRaw, serverRaw := net.Pipe()
	clientConn := transport.NewConn(clientRaw, clock.New(0))
	serverConn := transport.NewConn(serverRaw, clock.New(0))
	defer serverConn.Close()

	session := &Session{conn: clientConn, mux: channel.NewMux(clientConn)}

	received := make(chan []byte, 1)
	go func() {
		payload, _ := serverConn.ReadPacket()
		received <- payload
	}()

	require.NoError(t, session.Close())

	payload := <-received
	require.NotEmpty(t, payload)
	assert.Equal(t, byte(transport.MsgDisconnect), payload[0])

	r := wire.NewBuffer(payload[1:])
	reason, err := r.ReadUint32()
	require.NoError(t, err)
	assert.Equal(t, uint32(transport.DisconnectByApplication), reason)

	err = session.Close()
	assert.ErrorIs(t, err, sshcerr.ErrSessionDead)
}

func TestOpenChannelAfterCloseFailsFast(t *testing.T) {
	clientRaw, serverRaw := net.Pipe()
	clientConn := transport.NewConn(clientRaw, clock.New(0))
	serverConn := transport.NewConn(serverRaw, clock.New(0))
	defer serverConn.Close()

	session := &Session{conn: clientConn, mux: channel.NewMux(clientConn)}

	go func() { _, _ = serverConn.ReadPacket() }()

	require.NoError(t, session.Close())

	_, err := session.OpenChannel()
	assert.ErrorIs(t, err, sshcerr.ErrSessionDead)
}

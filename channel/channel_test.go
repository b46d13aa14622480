package channel

import (
	"io"
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"blitter.com/go/sshc/clock"
	"blitter.com/go/sshc/sshcerr"
	"blitter.com/go/sshc/transport"
	"blitter.com/go/sshc/wire"
)

func pipeConns(t *testing.T) (*transport.Conn, *transport.Conn) {
	t.Helper()
	a, b := net.Pipe()
	return transport.NewConn(a, clock.New(0)), transport.NewConn(b, clock.New(0))
}

// serverAcceptOneChannel reads a CHANNEL_OPEN off conn and confirms it
// with serverLocalID as the server-assigned id, returning the client's
// requested local id.
func serverAcceptOneChannel(t *testing.T, conn *transport.Conn, serverLocalID uint32) (clientID uint32) {
	t.Helper()
	req, err := conn.ReadPacket()
	require.NoError(t, err)
	require.Equal(t, byte(transport.MsgChannelOpen), req[0])
	r := wire.NewBuffer(req[1:])
	_, err = r.ReadString()
	require.NoError(t, err)
	clientID, err = r.ReadUint32()
	require.NoError(t, err)
	_, err = r.ReadUint32() // initial window
	require.NoError(t, err)
	_, err = r.ReadUint32() // max packet
	require.NoError(t, err)

	b := wire.NewEmptyBuffer(32)
	b.WriteByte(transport.MsgChannelOpenConfirmation)
	b.WriteUint32(clientID)
	b.WriteUint32(serverLocalID)
	b.WriteUint32(defaultInitialWindow)
	b.WriteUint32(defaultMaxPacket)
	require.NoError(t, conn.WritePacket(b.Bytes()))
	return clientID
}

func TestOpenSucceedsOnConfirmation(t *testing.T) {
	client, server := pipeConns(t)
	defer client.Close()
	defer server.Close()

	go serverAcceptOneChannel(t, server, 7)

	mux := NewMux(client)
	ch, err := mux.Open(ChannelTypeSession)
	require.NoError(t, err)
	assert.Equal(t, StateOpen, ch.State())
}

func TestOpenFailureSurfacesChannelRejected(t *testing.T) {
	client, server := pipeConns(t)
	defer client.Close()
	defer server.Close()

	go func() {
		req, err := server.ReadPacket()
		if err != nil {
			return
		}
		r := wire.NewBuffer(req[1:])
		_, _ = r.ReadString()
		clientID, _ := r.ReadUint32()

		b := wire.NewEmptyBuffer(32)
		b.WriteByte(transport.MsgChannelOpenFailure)
		b.WriteUint32(clientID)
		b.WriteUint32(2) // SSH_OPEN_CONNECT_FAILED
		b.WriteString([]byte("refused"))
		b.WriteString(nil)
		_ = server.WritePacket(b.Bytes())
	}()

	mux := NewMux(client)
	_, err := mux.Open(ChannelTypeSession)
	assert.ErrorIs(t, err, sshcerr.ErrChannelRejected)
}

func TestExecRequestDataAndExitStatus(t *testing.T) {
	client, server := pipeConns(t)
	defer client.Close()
	defer server.Close()

	serverDone := make(chan struct{})
	go func() {
		defer close(serverDone)
		clientID := serverAcceptOneChannel(t, server, 3)

		execReq, err := server.ReadPacket()
		require.NoError(t, err)
		require.Equal(t, byte(transport.MsgChannelRequest), execReq[0])
		r := wire.NewBuffer(execReq[1:])
		_, _ = r.ReadUint32()
		reqType, _ := r.ReadString()
		assert.Equal(t, "exec", string(reqType))
		wantReply, _ := r.ReadBool()
		assert.True(t, wantReply)
		cmd, _ := r.ReadString()
		assert.Equal(t, "echo hi", string(cmd))

		succ := wire.NewEmptyBuffer(8)
		succ.WriteByte(transport.MsgChannelSuccess)
		succ.WriteUint32(clientID)
		require.NoError(t, server.WritePacket(succ.Bytes()))

		data := wire.NewEmptyBuffer(32)
		data.WriteByte(transport.MsgChannelData)
		data.WriteUint32(clientID)
		data.WriteString([]byte("hi\n"))
		require.NoError(t, server.WritePacket(data.Bytes()))

		exitReq := wire.NewEmptyBuffer(32)
		exitReq.WriteByte(transport.MsgChannelRequest)
		exitReq.WriteUint32(clientID)
		exitReq.WriteString([]byte("exit-status"))
		exitReq.WriteBool(false)
		exitReq.WriteUint32(0)
		require.NoError(t, server.WritePacket(exitReq.Bytes()))

		eof := wire.NewEmptyBuffer(8)
		eof.WriteByte(transport.MsgChannelEOF)
		eof.WriteUint32(clientID)
		require.NoError(t, server.WritePacket(eof.Bytes()))

		closeMsg := wire.NewEmptyBuffer(8)
		closeMsg.WriteByte(transport.MsgChannelClose)
		closeMsg.WriteUint32(clientID)
		require.NoError(t, server.WritePacket(closeMsg.Bytes()))

		closeResp, err := server.ReadPacket()
		require.NoError(t, err)
		assert.Equal(t, byte(transport.MsgChannelClose), closeResp[0])
	}()

	mux := NewMux(client)
	ch, err := mux.Open(ChannelTypeSession)
	require.NoError(t, err)

	require.NoError(t, ch.RequestExec("echo hi"))

	buf := make([]byte, 64)
	n, err := ch.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, "hi\n", string(buf[:n]))

	_, err = ch.Read(buf)
	assert.ErrorIs(t, err, io.EOF)

	status, ok := ch.ExitStatus()
	require.True(t, ok)
	assert.Equal(t, 0, status)

	require.NoError(t, ch.Close())
	<-serverDone
}

func TestWriteRespectsRemoteWindow(t *testing.T) {
	client, server := pipeConns(t)
	defer client.Close()
	defer server.Close()

	serverDone := make(chan struct{})
	go func() {
		defer close(serverDone)
		req, err := server.ReadPacket()
		require.NoError(t, err)
		r := wire.NewBuffer(req[1:])
		_, _ = r.ReadString()
		clientID, _ := r.ReadUint32()

		b := wire.NewEmptyBuffer(32)
		b.WriteByte(transport.MsgChannelOpenConfirmation)
		b.WriteUint32(clientID)
		b.WriteUint32(99)
		b.WriteUint32(4) // tiny remote window: 4 bytes
		b.WriteUint32(defaultMaxPacket)
		require.NoError(t, server.WritePacket(b.Bytes()))

		first, err := server.ReadPacket()
		require.NoError(t, err)
		fr := wire.NewBuffer(first[1:])
		_, _ = fr.ReadUint32()
		payload, _ := fr.ReadString()
		assert.Equal(t, 4, len(payload))

		adjust := wire.NewEmptyBuffer(8)
		adjust.WriteByte(transport.MsgChannelWindowAdjust)
		adjust.WriteUint32(clientID)
		adjust.WriteUint32(4)
		require.NoError(t, server.WritePacket(adjust.Bytes()))

		second, err := server.ReadPacket()
		require.NoError(t, err)
		sr := wire.NewBuffer(second[1:])
		_, _ = sr.ReadUint32()
		payload2, _ := sr.ReadString()
		assert.Equal(t, 2, len(payload2))
	}()

	mux := NewMux(client)
	ch, err := mux.Open(ChannelTypeSession)
	require.NoError(t, err)

	n, err := ch.Write([]byte("abcdef"))
	require.NoError(t, err)
	assert.Equal(t, 6, n)

	<-serverDone
}

func TestReadOnUnknownChannelIsProtocolViolation(t *testing.T) {
	client, server := pipeConns(t)
	defer client.Close()
	defer server.Close()

	go func() {
		b := wire.NewEmptyBuffer(8)
		b.WriteByte(transport.MsgChannelData)
		b.WriteUint32(999)
		b.WriteString([]byte("x"))
		_ = server.WritePacket(b.Bytes())
	}()

	mux := NewMux(client)
	err := mux.dispatchOne()
	assert.ErrorIs(t, err, sshcerr.ErrProtocolViolation)
}

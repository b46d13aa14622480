// Copyright (c) 2017-2019 Russell Magee
// Licensed under the terms of the MIT license (see LICENSE.mit in this
// distribution)
package channel

import (
	"errors"
	"fmt"
	"sync"

	"blitter.com/go/sshc/sshcerr"
	"blitter.com/go/sshc/transport"
	"blitter.com/go/sshc/wire"
)

// ChannelTypeSession is the only channel type this client opens;
// exec/shell/subsystem are distinguished by the CHANNEL_REQUEST that
// follows, not by channel type.
const ChannelTypeSession = "session"

// Mux is the channel table and packet dispatcher for one transport
// connection, keyed by local channel id.
type Mux struct {
	conn *transport.Conn

	mu       sync.Mutex
	table    map[uint32]*Channel
	nextID   uint32
}

// NewMux returns a Mux driving channel traffic over conn. conn must
// already have completed key exchange and authentication.
func NewMux(conn *transport.Conn) *Mux {
	return &Mux{conn: conn, table: make(map[uint32]*Channel)}
}

// Open allocates a local channel id, sends CHANNEL_OPEN, and blocks
// (pumping the dispatch loop itself) until CHANNEL_OPEN_CONFIRMATION or
// CHANNEL_OPEN_FAILURE arrives.
func (m *Mux) Open(channelType string) (*Channel, error) {
	m.mu.Lock()
	localID := m.nextID
	m.nextID++
	ch := &Channel{
		mux:           m,
		localID:       localID,
		state:         StateOpening,
		localWindow:   defaultInitialWindow,
		initialWindow: defaultInitialWindow,
		maxPacket:     defaultMaxPacket,
		openResult:    make(chan openOutcome, 1),
		requestResult: make(chan bool, 1),
	}
	m.table[localID] = ch
	m.mu.Unlock()

	b := wire.NewEmptyBuffer(64 + len(channelType))
	b.WriteByte(transport.MsgChannelOpen)
	b.WriteString([]byte(channelType))
	b.WriteUint32(localID)
	b.WriteUint32(defaultInitialWindow)
	b.WriteUint32(defaultMaxPacket)
	if err := m.conn.WritePacket(b.Bytes()); err != nil {
		m.removeChannel(localID)
		return nil, err
	}

	for {
		select {
		case outcome := <-ch.openResult:
			if outcome.err != nil {
				return nil, outcome.err
			}
			ch.mu.Lock()
			ch.remoteID = outcome.remoteID
			ch.remoteWindow = outcome.remoteWindow
			ch.maxPacket = outcome.maxPacket
			ch.state = StateOpen
			ch.mu.Unlock()
			return ch, nil
		default:
		}
		if err := m.dispatchOne(); err != nil {
			m.removeChannel(localID)
			return nil, err
		}
	}
}

func (m *Mux) removeChannel(id uint32) {
	m.mu.Lock()
	delete(m.table, id)
	m.mu.Unlock()
}

func (m *Mux) lookup(id uint32) (*Channel, error) {
	m.mu.Lock()
	ch := m.table[id]
	m.mu.Unlock()
	if ch == nil {
		return nil, fmt.Errorf("%w: unknown channel id %d", sshcerr.ErrProtocolViolation, id)
	}
	return ch, nil
}

// dispatchOne reads exactly one packet off the transport and routes it,
// the sole suspension point channel operations pump while they wait for
// a specific reply. Any ErrProtocolViolation surfaced by a handler is
// reported to the peer with a DISCONNECT before dispatchOne returns it.
func (m *Mux) dispatchOne() error {
	payload, err := m.conn.ReadPacket()
	if err != nil {
		return err
	}

	if len(payload) == 0 {
		err = fmt.Errorf("%w: empty packet on channel layer", sshcerr.ErrProtocolViolation)
	} else {
		switch payload[0] {
		case transport.MsgChannelOpenConfirmation:
			err = m.handleOpenConfirmation(payload)
		case transport.MsgChannelOpenFailure:
			err = m.handleOpenFailure(payload)
		case transport.MsgChannelWindowAdjust:
			err = m.handleWindowAdjust(payload)
		case transport.MsgChannelData:
			err = m.handleData(payload, false)
		case transport.MsgChannelExtendedData:
			err = m.handleData(payload, true)
		case transport.MsgChannelEOF:
			err = m.handleEOF(payload)
		case transport.MsgChannelClose:
			err = m.handleClose(payload)
		case transport.MsgChannelRequest:
			err = m.handleChannelRequest(payload)
		case transport.MsgChannelSuccess:
			err = m.handleRequestReply(payload, true)
		case transport.MsgChannelFailure:
			err = m.handleRequestReply(payload, false)
		case transport.MsgGlobalRequest, transport.MsgRequestSuccess, transport.MsgRequestFailure:
			// This client never issues global requests and ignores any
			// sent to it; no tunnel/forwarding surface is exposed.
		case transport.MsgIgnore, transport.MsgDebug, transport.MsgUnimplemented:
		case transport.MsgDisconnect:
			err = fmt.Errorf("%w: peer sent DISCONNECT", sshcerr.ErrIO)
		default:
			err = fmt.Errorf("%w: message %d unexpected on channel layer", sshcerr.ErrProtocolViolation, payload[0])
		}
	}

	if errors.Is(err, sshcerr.ErrProtocolViolation) {
		_ = m.conn.Disconnect(transport.DisconnectProtocolError, err.Error())
	}
	return err
}

func (m *Mux) handleOpenConfirmation(payload []byte) error {
	r := wire.NewBuffer(payload[1:])
	localID, err := r.ReadUint32()
	if err != nil {
		return err
	}
	remoteID, err := r.ReadUint32()
	if err != nil {
		return err
	}
	remoteWindow, err := r.ReadUint32()
	if err != nil {
		return err
	}
	maxPacket, err := r.ReadUint32()
	if err != nil {
		return err
	}
	ch, err := m.lookup(localID)
	if err != nil {
		return err
	}
	select {
	case ch.openResult <- openOutcome{remoteID: remoteID, remoteWindow: remoteWindow, maxPacket: maxPacket}:
	default:
	}
	return nil
}

func (m *Mux) handleOpenFailure(payload []byte) error {
	r := wire.NewBuffer(payload[1:])
	localID, err := r.ReadUint32()
	if err != nil {
		return err
	}
	reasonCode, err := r.ReadUint32()
	if err != nil {
		return err
	}
	desc, _ := r.ReadString()

	ch, err := m.lookup(localID)
	if err != nil {
		return err
	}
	openErr := fmt.Errorf("%w: reason %d: %s", sshcerr.ErrChannelRejected, reasonCode, desc)
	select {
	case ch.openResult <- openOutcome{err: openErr}:
	default:
	}
	m.removeChannel(localID)
	return nil
}

func (m *Mux) handleWindowAdjust(payload []byte) error {
	r := wire.NewBuffer(payload[1:])
	id, err := r.ReadUint32()
	if err != nil {
		return err
	}
	n, err := r.ReadUint32()
	if err != nil {
		return err
	}
	ch, err := m.lookup(id)
	if err != nil {
		return err
	}
	ch.mu.Lock()
	ch.remoteWindow += n
	ch.mu.Unlock()
	return nil
}

func (m *Mux) handleData(payload []byte, extended bool) error {
	r := wire.NewBuffer(payload[1:])
	id, err := r.ReadUint32()
	if err != nil {
		return err
	}
	if extended {
		if _, err := r.ReadUint32(); err != nil {
			return err
		}
	}
	data, err := r.ReadString()
	if err != nil {
		return err
	}
	ch, err := m.lookup(id)
	if err != nil {
		return err
	}

	ch.mu.Lock()
	defer ch.mu.Unlock()
	if uint32(len(data)) > ch.localWindow {
		return fmt.Errorf("%w: channel data exceeds granted window", sshcerr.ErrProtocolViolation)
	}
	ch.localWindow -= uint32(len(data))
	if extended {
		ch.extData.Write(data)
	} else {
		ch.data.Write(data)
	}
	return nil
}

func (m *Mux) handleEOF(payload []byte) error {
	r := wire.NewBuffer(payload[1:])
	id, err := r.ReadUint32()
	if err != nil {
		return err
	}
	ch, err := m.lookup(id)
	if err != nil {
		return err
	}
	ch.mu.Lock()
	ch.remoteEOFRecv = true
	ch.mu.Unlock()
	return nil
}

func (m *Mux) handleClose(payload []byte) error {
	r := wire.NewBuffer(payload[1:])
	id, err := r.ReadUint32()
	if err != nil {
		return err
	}
	ch, err := m.lookup(id)
	if err != nil {
		return err
	}

	ch.mu.Lock()
	ch.remoteClosed = true
	needsResponse := !ch.localClosed
	if needsResponse {
		ch.localClosed = true
	}
	remoteID := ch.remoteID
	bothClosed := ch.localClosed && ch.remoteClosed
	ch.mu.Unlock()

	if needsResponse {
		if err := m.sendClose(remoteID); err != nil {
			return err
		}
	}
	if bothClosed {
		m.removeChannel(id)
	}
	return nil
}

func (m *Mux) handleChannelRequest(payload []byte) error {
	r := wire.NewBuffer(payload[1:])
	id, err := r.ReadUint32()
	if err != nil {
		return err
	}
	reqType, err := r.ReadString()
	if err != nil {
		return err
	}
	wantReply, err := r.ReadBool()
	if err != nil {
		return err
	}
	ch, err := m.lookup(id)
	if err != nil {
		return err
	}

	switch string(reqType) {
	case "exit-status":
		status, err := r.ReadUint32()
		if err != nil {
			return err
		}
		s := int(status)
		ch.mu.Lock()
		ch.exitStatus = &s
		ch.mu.Unlock()
	default:
		if wantReply {
			ch.mu.Lock()
			remoteID := ch.remoteID
			ch.mu.Unlock()
			b := wire.NewEmptyBuffer(8)
			b.WriteByte(transport.MsgChannelFailure)
			b.WriteUint32(remoteID)
			return m.conn.WritePacket(b.Bytes())
		}
	}
	return nil
}

func (m *Mux) handleRequestReply(payload []byte, success bool) error {
	r := wire.NewBuffer(payload[1:])
	id, err := r.ReadUint32()
	if err != nil {
		return err
	}
	ch, err := m.lookup(id)
	if err != nil {
		return err
	}
	select {
	case ch.requestResult <- success:
	default:
	}
	return nil
}

// waitForRequestReply pumps the dispatch loop until ch's pending
// CHANNEL_REQUEST reply arrives.
func (m *Mux) waitForRequestReply(ch *Channel) (bool, error) {
	for {
		select {
		case ok := <-ch.requestResult:
			return ok, nil
		default:
		}
		if err := m.dispatchOne(); err != nil {
			return false, err
		}
	}
}

func (m *Mux) sendData(remoteID uint32, chunk []byte, extended bool) error {
	b := wire.NewEmptyBuffer(len(chunk) + 16)
	if extended {
		b.WriteByte(transport.MsgChannelExtendedData)
		b.WriteUint32(remoteID)
		b.WriteUint32(extendedDataStderr)
	} else {
		b.WriteByte(transport.MsgChannelData)
		b.WriteUint32(remoteID)
	}
	b.WriteString(chunk)
	return m.conn.WritePacket(b.Bytes())
}

func (m *Mux) sendWindowAdjust(remoteID, amount uint32) error {
	b := wire.NewEmptyBuffer(8)
	b.WriteByte(transport.MsgChannelWindowAdjust)
	b.WriteUint32(remoteID)
	b.WriteUint32(amount)
	return m.conn.WritePacket(b.Bytes())
}

func (m *Mux) sendEOF(remoteID uint32) error {
	b := wire.NewEmptyBuffer(8)
	b.WriteByte(transport.MsgChannelEOF)
	b.WriteUint32(remoteID)
	return m.conn.WritePacket(b.Bytes())
}

func (m *Mux) sendClose(remoteID uint32) error {
	b := wire.NewEmptyBuffer(8)
	b.WriteByte(transport.MsgChannelClose)
	b.WriteUint32(remoteID)
	return m.conn.WritePacket(b.Bytes())
}

func (m *Mux) sendChannelRequest(remoteID uint32, requestType string, wantReply bool, encodeExtra func(*wire.Buffer)) error {
	b := wire.NewEmptyBuffer(64 + len(requestType))
	b.WriteByte(transport.MsgChannelRequest)
	b.WriteUint32(remoteID)
	b.WriteString([]byte(requestType))
	b.WriteBool(wantReply)
	if encodeExtra != nil {
		encodeExtra(b)
	}
	return m.conn.WritePacket(b.Bytes())
}

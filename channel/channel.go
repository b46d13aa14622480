// Package channel implements the SSH connection-layer multiplexer: channel
// allocation, window-based flow control, and the exec/shell/subsystem
// request sub-protocol. One channel entry exists per open SSH channel,
// driven cooperatively by whichever caller is blocked on it rather than
// by a background goroutine per channel.
//
// Copyright (c) 2017-2019 Russell Magee
// Licensed under the terms of the MIT license (see LICENSE.mit in this
// distribution)
package channel

import (
	"bytes"
	"io"
	"sync"

	"blitter.com/go/sshc/sshcerr"
	"blitter.com/go/sshc/wire"
)

const (
	// defaultInitialWindow is the local receive-window credit granted to
	// the peer on channel open.
	defaultInitialWindow = 1 << 20
	// defaultMaxPacket bounds a single CHANNEL_DATA payload.
	defaultMaxPacket = 32768

	extendedDataStderr = 1
)

// State is a channel's lifecycle stage.
type State int

const (
	StateOpening State = iota
	StateOpen
	StateClosed
)

// openOutcome carries the result of a pending CHANNEL_OPEN back to the
// caller blocked in Open.
type openOutcome struct {
	remoteID     uint32
	remoteWindow uint32
	maxPacket    uint32
	err          error
}

// Channel is one multiplexed SSH channel. All blocking methods pump the
// owning Mux's dispatch loop themselves rather than relying on a
// background reader.
type Channel struct {
	mux *Mux

	localID  uint32
	remoteID uint32

	mu sync.Mutex

	state State

	localWindow    uint32
	pendingAdjust  uint32
	initialWindow  uint32
	remoteWindow   uint32
	maxPacket      uint32

	data    bytes.Buffer
	extData bytes.Buffer

	localEOFSent  bool
	remoteEOFRecv bool
	localClosed   bool
	remoteClosed  bool

	exitStatus *int

	openResult    chan openOutcome
	requestResult chan bool
}

// LocalID returns the channel's locally-allocated id.
func (c *Channel) LocalID() uint32 { return c.localID }

// State returns the channel's current lifecycle stage.
func (c *Channel) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// ExitStatus returns the exit-status forwarded by the peer, if any.
func (c *Channel) ExitStatus() (int, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.exitStatus == nil {
		return 0, false
	}
	return *c.exitStatus, true
}

// Read drains buffered CHANNEL_DATA, pumping the mux when the buffer is
// empty and the peer hasn't sent CHANNEL_EOF yet. Returns io.EOF once the
// buffer is drained and CHANNEL_EOF has been received.
func (c *Channel) Read(buf []byte) (int, error) {
	for {
		c.mu.Lock()
		if c.data.Len() > 0 {
			n, _ := c.data.Read(buf)
			c.pendingAdjust += uint32(n)
			c.maybeSendWindowAdjustLocked()
			c.mu.Unlock()
			return n, nil
		}
		if c.remoteEOFRecv {
			c.mu.Unlock()
			return 0, io.EOF
		}
		c.mu.Unlock()
		if err := c.mux.dispatchOne(); err != nil {
			return 0, err
		}
	}
}

// ReadStderr drains buffered CHANNEL_EXTENDED_DATA (type 1, stderr)
// without blocking on CHANNEL_EOF; callers interested in stderr poll this
// alongside Read.
func (c *Channel) ReadStderr(buf []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.extData.Len() == 0 {
		return 0, nil
	}
	return c.extData.Read(buf)
}

// maybeSendWindowAdjustLocked replenishes the peer's send credit once
// consumption since the last adjust passes half the initial window.
// Caller must hold c.mu; it is released and re-acquired around the
// write.
func (c *Channel) maybeSendWindowAdjustLocked() {
	if c.pendingAdjust < c.initialWindow/2 {
		return
	}
	amount := c.pendingAdjust
	remoteID := c.remoteID
	c.pendingAdjust = 0
	c.localWindow += amount
	c.mu.Unlock()
	_ = c.mux.sendWindowAdjust(remoteID, amount)
	c.mu.Lock()
}

// Write sends data as one or more CHANNEL_DATA messages, chunked to the
// peer's max-packet size and blocked on the peer's remote window: no
// CHANNEL_DATA of size d is sent while remote_window < d.
func (c *Channel) Write(data []byte) (int, error) {
	total := 0
	for len(data) > 0 {
		c.mu.Lock()
		if c.remoteClosed {
			c.mu.Unlock()
			return total, sshcerr.ErrChannelRejected
		}
		for c.remoteWindow == 0 {
			c.mu.Unlock()
			if err := c.mux.dispatchOne(); err != nil {
				return total, err
			}
			c.mu.Lock()
		}
		n := uint32(len(data))
		if n > c.remoteWindow {
			n = c.remoteWindow
		}
		if n > c.maxPacket {
			n = c.maxPacket
		}
		remoteID := c.remoteID
		c.remoteWindow -= n
		c.mu.Unlock()

		if err := c.mux.sendData(remoteID, data[:n], false); err != nil {
			return total, err
		}
		total += int(n)
		data = data[n:]
	}
	return total, nil
}

// WriteExtended sends data as CHANNEL_EXTENDED_DATA(type=stderr), subject
// to the same window discipline as Write.
func (c *Channel) WriteExtended(data []byte) (int, error) {
	total := 0
	for len(data) > 0 {
		c.mu.Lock()
		if c.remoteClosed {
			c.mu.Unlock()
			return total, sshcerr.ErrChannelRejected
		}
		for c.remoteWindow == 0 {
			c.mu.Unlock()
			if err := c.mux.dispatchOne(); err != nil {
				return total, err
			}
			c.mu.Lock()
		}
		n := uint32(len(data))
		if n > c.remoteWindow {
			n = c.remoteWindow
		}
		if n > c.maxPacket {
			n = c.maxPacket
		}
		remoteID := c.remoteID
		c.remoteWindow -= n
		c.mu.Unlock()

		if err := c.mux.sendData(remoteID, data[:n], true); err != nil {
			return total, err
		}
		total += int(n)
		data = data[n:]
	}
	return total, nil
}

// SendEOF sends CHANNEL_EOF, the half-close signaling no further
// CHANNEL_DATA will be sent on this channel.
func (c *Channel) SendEOF() error {
	c.mu.Lock()
	if c.localEOFSent {
		c.mu.Unlock()
		return nil
	}
	c.localEOFSent = true
	remoteID := c.remoteID
	c.mu.Unlock()
	return c.mux.sendEOF(remoteID)
}

// Close sends CHANNEL_CLOSE (if not already sent) and pumps the mux until
// the peer's CHANNEL_CLOSE has crossed, then removes the channel from the
// table. The channel is fully removed only once both CLOSE messages have
// crossed.
func (c *Channel) Close() error {
	c.mu.Lock()
	alreadySent := c.localClosed
	if !alreadySent {
		c.localClosed = true
	}
	remoteID := c.remoteID
	c.mu.Unlock()

	if !alreadySent {
		if err := c.mux.sendClose(remoteID); err != nil {
			return err
		}
	}

	for {
		c.mu.Lock()
		done := c.remoteClosed
		c.mu.Unlock()
		if done {
			break
		}
		if err := c.mux.dispatchOne(); err != nil {
			return err
		}
	}
	c.mux.removeChannel(c.localID)
	c.mu.Lock()
	c.state = StateClosed
	c.mu.Unlock()
	return nil
}

// sendRequest writes a CHANNEL_REQUEST and, if wantReply, pumps the mux
// until CHANNEL_SUCCESS/FAILURE arrives.
func (c *Channel) sendRequest(requestType string, wantReply bool, encodeExtra func(*wire.Buffer)) (bool, error) {
	c.mu.Lock()
	if c.state != StateOpen {
		c.mu.Unlock()
		return false, sshcerr.ErrChannelRejected
	}
	remoteID := c.remoteID
	c.mu.Unlock()

	if err := c.mux.sendChannelRequest(remoteID, requestType, wantReply, encodeExtra); err != nil {
		return false, err
	}
	if !wantReply {
		return true, nil
	}
	return c.mux.waitForRequestReply(c)
}

// RequestPTY issues a "pty-req" channel request.
func (c *Channel) RequestPTY(term string, cols, rows, widthPx, heightPx uint32, modes []byte) error {
	ok, err := c.sendRequest("pty-req", true, func(b *wire.Buffer) {
		b.WriteString([]byte(term))
		b.WriteUint32(cols)
		b.WriteUint32(rows)
		b.WriteUint32(widthPx)
		b.WriteUint32(heightPx)
		b.WriteString(modes)
	})
	if err != nil {
		return err
	}
	if !ok {
		return sshcerr.ErrChannelRejected
	}
	return nil
}

// RequestExec issues an "exec" channel request with the given command.
func (c *Channel) RequestExec(cmd string) error {
	ok, err := c.sendRequest("exec", true, func(b *wire.Buffer) { b.WriteString([]byte(cmd)) })
	if err != nil {
		return err
	}
	if !ok {
		return sshcerr.ErrChannelRejected
	}
	return nil
}

// RequestShell issues a "shell" channel request.
func (c *Channel) RequestShell() error {
	ok, err := c.sendRequest("shell", true, nil)
	if err != nil {
		return err
	}
	if !ok {
		return sshcerr.ErrChannelRejected
	}
	return nil
}

// RequestSubsystem issues a "subsystem" channel request. SCP rides this
// path as "exec" with a literal "scp -f/-t path" command rather than a
// true subsystem.
func (c *Channel) RequestSubsystem(name string) error {
	ok, err := c.sendRequest("subsystem", true, func(b *wire.Buffer) { b.WriteString([]byte(name)) })
	if err != nil {
		return err
	}
	if !ok {
		return sshcerr.ErrChannelRejected
	}
	return nil
}

// RequestWindowChange issues a "window-change" channel request (RFC 4254
// §6.7), notifying the peer of a new local terminal size. want_reply is
// always false for this request type.
func (c *Channel) RequestWindowChange(cols, rows, widthPx, heightPx uint32) error {
	_, err := c.sendRequest("window-change", false, func(b *wire.Buffer) {
		b.WriteUint32(cols)
		b.WriteUint32(rows)
		b.WriteUint32(widthPx)
		b.WriteUint32(heightPx)
	})
	return err
}

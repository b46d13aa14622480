// Package transport implements the SSH binary packet protocol and the KEX
// state machine that negotiates the keys it runs on.
//
// Copyright (c) 2017-2019 Russell Magee
// Licensed under the terms of the MIT license (see LICENSE.mit in this
// distribution)
//
// golang implementation by Russ Magee (rmagee_at_gmail.com), generalized
// for the SSH-2 wire format.
package transport

import (
	"crypto/cipher"
	"crypto/hmac"
	"crypto/rand"
	"encoding/binary"
	"errors"
	"hash"
	"io"
	"net"
	"sync"
	"time"

	"blitter.com/go/sshc/clock"
	"blitter.com/go/sshc/logger"
	"blitter.com/go/sshc/sshcerr"
	"blitter.com/go/sshc/suite"
	"blitter.com/go/sshc/wire"
)

// Packet size bounds.
const (
	minPaddingSize  = 4
	maxOnWireSize   = 35000
	maxPayloadSize  = 32768
	initialBlockSize = 8

	// rekeyByteThreshold and rekeyPacketThreshold are the rekey policy
	// thresholds, tracked independently per direction.
	rekeyByteThreshold   = 1 << 30          // 1 GiB
	rekeyPacketThreshold = (1 << 32) - 1<<10 // 2^32 - 2^10
)

// directionState holds one direction's (send or receive) active cipher
// material. Before the first NEWKEYS it is newDirectionState's value:
// identity cipher, no MAC, block size 8.
type directionState struct {
	stream    cipher.Stream
	mac       hash.Hash
	aead      *suite.AEAD
	blockSize int
	macSize   int
}

func newDirectionState() directionState {
	return directionState{blockSize: initialBlockSize}
}

func (d *directionState) setStreamCipher(s cipher.Stream, blockSize int, m hash.Hash, macSize int) {
	d.stream = s
	d.aead = nil
	d.blockSize = blockSize
	d.mac = m
	d.macSize = macSize
}

func (d *directionState) setAEAD(a *suite.AEAD) {
	d.aead = a
	d.stream = nil
	d.mac = nil
	d.blockSize = 8
	d.macSize = 16
}

// Conn is a single SSH transport connection: framing, ciphering and
// sequence-number bookkeeping layered over a net.Conn, using the real SSH
// packet_length‖padding_length‖payload‖padding‖mac layout.
type Conn struct {
	rw    net.Conn
	clock *clock.Clock

	mu sync.Mutex

	writeSeq uint32
	readSeq  uint32

	write directionState
	read  directionState

	writeBytesSinceRekey   uint64
	writePacketsSinceRekey uint64
	readBytesSinceRekey    uint64
	readPacketsSinceRekey  uint64
}

// NewConn wraps an established net.Conn (already past TCP/KCP dial) in a
// plaintext packet framer, ready to run the version banner exchange.
func NewConn(rw net.Conn, c *clock.Clock) *Conn {
	if c == nil {
		c = clock.New(0)
	}
	return &Conn{
		rw:    rw,
		clock: c,
		write: newDirectionState(),
		read:  newDirectionState(),
	}
}

// Close closes the underlying transport.
func (c *Conn) Close() error {
	return c.rw.Close()
}

// SetWriteCipher installs the send-direction cipher/MAC pair following a
// NEWKEYS on this connection's write side. Each direction swaps ciphers
// independently, at that direction's own NEWKEYS boundary.
func (c *Conn) SetWriteCipher(s cipher.Stream, blockSize int, m hash.Hash, macSize int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.write.setStreamCipher(s, blockSize, m, macSize)
	c.writeBytesSinceRekey = 0
	c.writePacketsSinceRekey = 0
}

// SetWriteAEAD installs the chacha20-poly1305@openssh.com send cipher.
func (c *Conn) SetWriteAEAD(a *suite.AEAD) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.write.setAEAD(a)
	c.writeBytesSinceRekey = 0
	c.writePacketsSinceRekey = 0
}

// SetReadCipher installs the receive-direction cipher/MAC pair.
func (c *Conn) SetReadCipher(s cipher.Stream, blockSize int, m hash.Hash, macSize int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.read.setStreamCipher(s, blockSize, m, macSize)
	c.readBytesSinceRekey = 0
	c.readPacketsSinceRekey = 0
}

// SetReadAEAD installs the chacha20-poly1305@openssh.com receive cipher.
func (c *Conn) SetReadAEAD(a *suite.AEAD) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.read.setAEAD(a)
	c.readBytesSinceRekey = 0
	c.readPacketsSinceRekey = 0
}

// NeedsRekey reports whether either direction has crossed the rekey
// thresholds (1 GiB transferred or 2^32-2^10 packets sent) since the
// last key change.
func (c *Conn) NeedsRekey() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.writeBytesSinceRekey >= rekeyByteThreshold ||
		c.writePacketsSinceRekey >= rekeyPacketThreshold ||
		c.readBytesSinceRekey >= rekeyByteThreshold ||
		c.readPacketsSinceRekey >= rekeyPacketThreshold
}

// WritePacket frames and sends one payload: pad to block alignment, MAC
// the plaintext packet (or defer to the AEAD's own length+tag scheme),
// encrypt, write as one buffer.
func (c *Conn) WritePacket(payload []byte) error {
	if len(payload) > maxPayloadSize {
		return sshcerr.ErrOversizePacket
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	return c.writePacketLocked(payload)
}

func (c *Conn) writePacketLocked(payload []byte) error {
	if err := c.rw.SetWriteDeadline(c.clock.DeadlineTime(time.Now())); err != nil {
		return errors.Join(sshcerr.ErrIO, err)
	}
	return c.writeFrameLocked(payload)
}

// writeFrameLocked encodes and sends payload under whatever write deadline
// the caller has already set; it does not touch the deadline itself.
func (c *Conn) writeFrameLocked(payload []byte) error {
	seq := c.writeSeq
	var out []byte
	var err error
	if c.write.aead != nil {
		out, err = c.writeAEADLocked(seq, payload)
	} else {
		out, err = c.writePlainLocked(seq, payload)
	}
	if err != nil {
		return err
	}

	if _, err := c.rw.Write(out); err != nil {
		return errors.Join(sshcerr.ErrIO, err)
	}

	if len(payload) > 0 {
		logPacket("send", payload[0])
	}
	c.writeSeq++
	c.writeBytesSinceRekey += uint64(len(out))
	c.writePacketsSinceRekey++
	return nil
}

// disconnectWriteTimeout bounds a best-effort DISCONNECT send independently
// of the connection's configured read/write timeout, which may be far
// longer and isn't worth blocking teardown on.
const disconnectWriteTimeout = 2 * time.Second

func disconnectPayload(reasonCode uint32, description string) []byte {
	b := wire.NewEmptyBuffer(1 + 4 + 4 + len(description) + 4)
	b.WriteByte(MsgDisconnect)
	b.WriteUint32(reasonCode)
	b.WriteString([]byte(description))
	b.WriteString(nil)
	return b.Bytes()
}

// sendDisconnectLocked writes a DISCONNECT message while c.mu is already
// held by the caller (ReadPacket's error paths). The send error is
// discarded: the connection is already being torn down for a worse reason,
// and there is nothing further to report it to.
func (c *Conn) sendDisconnectLocked(reasonCode uint32, description string) {
	_ = c.rw.SetWriteDeadline(time.Now().Add(disconnectWriteTimeout))
	_ = c.writeFrameLocked(disconnectPayload(reasonCode, description))
}

// Disconnect sends a DISCONNECT message with the given reason code and
// description, for use by callers above the packet layer (the session
// façade's normal close, or a channel/mux-detected protocol violation).
func (c *Conn) Disconnect(reasonCode uint32, description string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.rw.SetWriteDeadline(time.Now().Add(disconnectWriteTimeout)); err != nil {
		return errors.Join(sshcerr.ErrIO, err)
	}
	return c.writeFrameLocked(disconnectPayload(reasonCode, description))
}

func (c *Conn) writePlainLocked(seq uint32, payload []byte) ([]byte, error) {
	blockSize := c.write.blockSize
	padLen := paddingLength(len(payload), blockSize)
	padBytes := make([]byte, padLen)
	if _, err := rand.Read(padBytes); err != nil {
		return nil, err
	}

	packet := make([]byte, 1+len(payload)+padLen)
	packet[0] = byte(padLen)
	copy(packet[1:], payload)
	copy(packet[1+len(payload):], padBytes)

	length := uint32(len(packet))
	unencrypted := make([]byte, 4+len(packet))
	binary.BigEndian.PutUint32(unencrypted[0:4], length)
	copy(unencrypted[4:], packet)

	var macOut []byte
	if c.write.mac != nil {
		c.write.mac.Reset()
		var seqBytes [4]byte
		binary.BigEndian.PutUint32(seqBytes[:], seq)
		c.write.mac.Write(seqBytes[:])
		c.write.mac.Write(unencrypted)
		macOut = c.write.mac.Sum(nil)[:c.write.macSize]
	}

	out := make([]byte, len(unencrypted))
	if c.write.stream != nil {
		c.write.stream.XORKeyStream(out, unencrypted)
	} else {
		copy(out, unencrypted)
	}
	if macOut != nil {
		out = append(out, macOut...)
	}
	return out, nil
}

func (c *Conn) writeAEADLocked(seq uint32, payload []byte) ([]byte, error) {
	blockSize := 8
	padLen := paddingLength(len(payload), blockSize)
	padBytes := make([]byte, padLen)
	if _, err := rand.Read(padBytes); err != nil {
		return nil, err
	}

	packet := make([]byte, 1+len(payload)+padLen)
	packet[0] = byte(padLen)
	copy(packet[1:], payload)
	copy(packet[1+len(payload):], padBytes)

	var length [4]byte
	binary.BigEndian.PutUint32(length[:], uint32(len(packet)))
	encLength := c.write.aead.EncryptLength(seq, length)

	ciphertext, tag, err := c.write.aead.Seal(seq, encLength, packet)
	if err != nil {
		return nil, err
	}

	out := make([]byte, 0, 4+len(ciphertext)+len(tag))
	out = append(out, encLength[:]...)
	out = append(out, ciphertext...)
	out = append(out, tag...)
	return out, nil
}

// paddingLength computes padding_length so that
// (4 + 1 + payloadLen + padding_length) % blockSize == 0 and
// padding_length >= minPaddingSize.
func paddingLength(payloadLen, blockSize int) int {
	if blockSize < minPaddingSize+1 {
		blockSize = minPaddingSize + 1
	}
	used := (5 + payloadLen) % blockSize
	pad := blockSize - used
	if pad < minPaddingSize {
		pad += blockSize
	}
	return pad
}

// ReadPacket reads and decodes one packet, returning the
// dispatcher-facing payload (message code as its first byte).
func (c *Conn) ReadPacket() ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.rw.SetReadDeadline(c.clock.DeadlineTime(time.Now())); err != nil {
		return nil, errors.Join(sshcerr.ErrIO, err)
	}

	seq := c.readSeq
	var payload []byte
	var totalLen int
	var err error
	if c.read.aead != nil {
		payload, totalLen, err = c.readAEADLocked(seq)
	} else {
		payload, totalLen, err = c.readPlainLocked(seq)
	}
	if err != nil {
		return nil, err
	}

	c.readSeq++
	c.readBytesSinceRekey += uint64(totalLen)
	c.readPacketsSinceRekey++
	if len(payload) > 0 {
		logPacket("recv", payload[0])
	}
	return payload, nil
}

func (c *Conn) readPlainLocked(seq uint32) ([]byte, int, error) {
	var lenBytes [4]byte
	if err := c.readFull(lenBytes[:]); err != nil {
		return nil, 0, err
	}
	var decLen [4]byte
	if c.read.stream != nil {
		c.read.stream.XORKeyStream(decLen[:], lenBytes[:])
	} else {
		decLen = lenBytes
	}
	length := binary.BigEndian.Uint32(decLen[:])
	if length == 0 || int(length) > maxOnWireSize {
		c.sendDisconnectLocked(DisconnectProtocolError, "invalid packet length")
		return nil, 0, sshcerr.ErrOversizePacket
	}

	rest := make([]byte, length)
	if err := c.readFull(rest); err != nil {
		return nil, 0, err
	}

	var macIn []byte
	if c.read.macSize > 0 {
		macIn = make([]byte, c.read.macSize)
		if err := c.readFull(macIn); err != nil {
			return nil, 0, err
		}
	}

	decRest := make([]byte, len(rest))
	if c.read.stream != nil {
		c.read.stream.XORKeyStream(decRest, rest)
	} else {
		copy(decRest, rest)
	}

	if c.read.mac != nil {
		c.read.mac.Reset()
		var seqBytes [4]byte
		binary.BigEndian.PutUint32(seqBytes[:], seq)
		c.read.mac.Write(seqBytes[:])
		c.read.mac.Write(decLen[:])
		c.read.mac.Write(decRest)
		expected := c.read.mac.Sum(nil)[:c.read.macSize]
		if !hmac.Equal(expected, macIn) {
			c.sendDisconnectLocked(DisconnectProtocolError, "MAC verification failed")
			return nil, 0, sshcerr.ErrMACMismatch
		}
	}

	if len(decRest) < 1 {
		c.sendDisconnectLocked(DisconnectProtocolError, "invalid padding")
		return nil, 0, sshcerr.ErrProtocolViolation
	}
	padLen := int(decRest[0])
	if padLen > len(decRest)-1 {
		c.sendDisconnectLocked(DisconnectProtocolError, "invalid padding")
		return nil, 0, sshcerr.ErrProtocolViolation
	}
	payload := decRest[1 : len(decRest)-padLen]
	total := 4 + len(rest) + len(macIn)
	return payload, total, nil
}

func (c *Conn) readAEADLocked(seq uint32) ([]byte, int, error) {
	var encLen [4]byte
	if err := c.readFull(encLen[:]); err != nil {
		return nil, 0, err
	}
	length := c.read.aead.EncryptLength(seq, encLen)
	packetLen := binary.BigEndian.Uint32(length[:])
	if packetLen == 0 || int(packetLen) > maxOnWireSize {
		c.sendDisconnectLocked(DisconnectProtocolError, "invalid packet length")
		return nil, 0, sshcerr.ErrOversizePacket
	}

	ciphertext := make([]byte, packetLen)
	if err := c.readFull(ciphertext); err != nil {
		return nil, 0, err
	}
	tag := make([]byte, 16)
	if err := c.readFull(tag); err != nil {
		return nil, 0, err
	}

	plaintext, err := c.read.aead.Open(seq, encLen, ciphertext, tag)
	if err != nil {
		c.sendDisconnectLocked(DisconnectProtocolError, "MAC verification failed")
		return nil, 0, sshcerr.ErrMACMismatch
	}
	if len(plaintext) < 1 {
		c.sendDisconnectLocked(DisconnectProtocolError, "invalid padding")
		return nil, 0, sshcerr.ErrProtocolViolation
	}
	padLen := int(plaintext[0])
	if padLen > len(plaintext)-1 {
		c.sendDisconnectLocked(DisconnectProtocolError, "invalid padding")
		return nil, 0, sshcerr.ErrProtocolViolation
	}
	payload := plaintext[1 : len(plaintext)-padLen]
	total := 4 + len(ciphertext) + len(tag)
	return payload, total, nil
}

func (c *Conn) readFull(buf []byte) error {
	if _, err := io.ReadFull(c.rw, buf); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return errors.Join(sshcerr.ErrIO, err)
		}
		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() {
			return sshcerr.ErrTimeout
		}
		return errors.Join(sshcerr.ErrIO, err)
	}
	return nil
}

// logPacket is a debug hook wired to logger.LogDebug rather than bare
// log.Printf so callers get syslog-shaped output by default.
func logPacket(direction string, code byte) {
	logger.LogDebug("transport: " + direction + " " + msgName(code))
}

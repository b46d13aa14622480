// Package wire encodes and decodes the SSH binary wire types (RFC 4251 §5):
// byte, boolean, uint32, uint64, string, name-list and mpint.
//
// Copyright (c) 2017-2019 Russell Magee
// Licensed under the terms of the MIT license (see LICENSE.mit in this
// distribution)
//
// golang implementation by Russ Magee (rmagee_at_gmail.com), generalized
// for the SSH-2 wire format.
package wire

import (
	"bytes"
	"encoding/binary"
	"errors"
	"math/big"
	"strings"
)

// ErrShortBuffer is returned whenever a decode would read past the
// end of the supplied buffer.
var ErrShortBuffer = errors.New("wire: short buffer")

// ErrMalformed indicates an encoding that cannot be valid (eg. a negative
// mpint). A string length larger than the buffer is reported as
// ErrShortBuffer instead.
var ErrMalformed = errors.New("wire: malformed encoding")

// Buffer is a cursor-backed byte buffer with typed encode/decode methods
// for the SSH wire types. It is a thin, stateless view over a []byte,
// modeled on the way xsnet.Conn used a *bytes.Buffer as a decrypt/decode
// staging area (xsnet/net.go's dBuf) but with no protocol state of its own.
type Buffer struct {
	buf *bytes.Buffer
}

// NewBuffer returns a Buffer for encoding, or for decoding the given bytes.
func NewBuffer(b []byte) *Buffer {
	return &Buffer{buf: bytes.NewBuffer(b)}
}

// NewEmptyBuffer returns an empty Buffer ready for encoding, pre-sized to
// hint bytes to avoid reallocation on the first few writes.
func NewEmptyBuffer(hint int) *Buffer {
	b := &bytes.Buffer{}
	b.Grow(hint)
	return &Buffer{buf: b}
}

// Bytes returns the buffer's current contents.
func (b *Buffer) Bytes() []byte { return b.buf.Bytes() }

// Len returns the number of unread bytes.
func (b *Buffer) Len() int { return b.buf.Len() }

// WriteByte encodes a single SSH `byte`.
func (b *Buffer) WriteByte(v byte) { b.buf.WriteByte(v) }

// ReadByte decodes a single SSH `byte`.
func (b *Buffer) ReadByte() (byte, error) {
	if b.buf.Len() < 1 {
		return 0, ErrShortBuffer
	}
	return b.buf.ReadByte()
}

// WriteBool encodes an SSH `boolean` as a single 0/1 byte.
func (b *Buffer) WriteBool(v bool) {
	if v {
		b.buf.WriteByte(1)
	} else {
		b.buf.WriteByte(0)
	}
}

// ReadBool decodes an SSH `boolean`.
func (b *Buffer) ReadBool() (bool, error) {
	v, err := b.ReadByte()
	if err != nil {
		return false, err
	}
	return v != 0, nil
}

// WriteUint32 encodes an SSH `uint32`.
func (b *Buffer) WriteUint32(v uint32) {
	var tmp [4]byte
	binary.BigEndian.PutUint32(tmp[:], v)
	b.buf.Write(tmp[:])
}

// ReadUint32 decodes an SSH `uint32`.
func (b *Buffer) ReadUint32() (uint32, error) {
	if b.buf.Len() < 4 {
		return 0, ErrShortBuffer
	}
	var tmp [4]byte
	b.buf.Read(tmp[:])
	return binary.BigEndian.Uint32(tmp[:]), nil
}

// WriteUint64 encodes a 64-bit unsigned integer (not one of the spec's six
// core types). No other package in this module calls it or ReadUint64.
func (b *Buffer) WriteUint64(v uint64) {
	var tmp [8]byte
	binary.BigEndian.PutUint64(tmp[:], v)
	b.buf.Write(tmp[:])
}

// ReadUint64 decodes a uint64.
func (b *Buffer) ReadUint64() (uint64, error) {
	if b.buf.Len() < 8 {
		return 0, ErrShortBuffer
	}
	var tmp [8]byte
	b.buf.Read(tmp[:])
	return binary.BigEndian.Uint64(tmp[:]), nil
}

// WriteString encodes an SSH `string`: a uint32 length followed by the
// raw (possibly binary) bytes.
func (b *Buffer) WriteString(s []byte) {
	b.WriteUint32(uint32(len(s)))
	b.buf.Write(s)
}

// ReadString decodes an SSH `string`.
func (b *Buffer) ReadString() ([]byte, error) {
	n, err := b.ReadUint32()
	if err != nil {
		return nil, err
	}
	if int(n) > b.buf.Len() || n > (1<<20) {
		return nil, ErrShortBuffer
	}
	out := make([]byte, n)
	if _, err := b.buf.Read(out); err != nil {
		return nil, ErrShortBuffer
	}
	return out, nil
}

// WriteNameList encodes an SSH `name-list`: a uint32 length followed by
// a comma-separated list of ASCII names.
func (b *Buffer) WriteNameList(names []string) {
	b.WriteString([]byte(strings.Join(names, ",")))
}

// ReadNameList decodes an SSH `name-list`.
func (b *Buffer) ReadNameList() ([]string, error) {
	s, err := b.ReadString()
	if err != nil {
		return nil, err
	}
	if len(s) == 0 {
		return nil, nil
	}
	return strings.Split(string(s), ","), nil
}

// WriteMPInt encodes an SSH `mpint`: two's-complement big-endian, with a
// leading zero byte iff the most significant bit of the first byte would
// otherwise be set (RFC 4251 §5). This library only ever sends
// non-negative mpints (DH/RSA public values).
func (b *Buffer) WriteMPInt(v *big.Int) {
	if v.Sign() == 0 {
		b.WriteUint32(0)
		return
	}
	by := v.Bytes()
	if by[0]&0x80 != 0 {
		by = append([]byte{0}, by...)
	}
	b.WriteString(by)
}

// ReadMPInt decodes an SSH `mpint` into a non-negative big.Int. Negative
// mpints (top bit of the first byte set, no leading zero byte) are never
// produced by a compliant peer in this protocol's usage and are rejected.
func (b *Buffer) ReadMPInt() (*big.Int, error) {
	by, err := b.ReadString()
	if err != nil {
		return nil, err
	}
	if len(by) > 0 && by[0]&0x80 != 0 {
		return nil, ErrMalformed
	}
	return new(big.Int).SetBytes(by), nil
}

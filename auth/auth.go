// Package auth drives the ssh-userauth service to a successful password
// or publickey authentication. The engine's dependencies — how to obtain
// a password, how to sign a challenge — are injected through Ctx rather
// than hardcoded, so the core never references an on-disk key file or a
// terminal prompt directly.
//
// Copyright (c) 2017-2019 Russell Magee
// Licensed under the terms of the MIT license (see LICENSE.mit in this
// distribution)
package auth

import (
	"errors"
	"fmt"

	"blitter.com/go/sshc/sshcerr"
	"blitter.com/go/sshc/suite"
	"blitter.com/go/sshc/transport"
	"blitter.com/go/sshc/wire"
)

const serviceNameUserauth = "ssh-userauth"
const serviceNameConnection = "ssh-connection"

const (
	methodPassword  = "password"
	methodPublicKey = "publickey"
)

// PasswordProvider supplies the password for the "password" auth method
// without the engine knowing where it comes from (a literal, a prompt, a
// secret store).
type PasswordProvider func() (string, error)

// Ctx holds one authentication attempt's dependencies.
type Ctx struct {
	Conn     *transport.Conn
	User     string
	Password PasswordProvider
	Signer   suite.Signer
}

// RequestService sends SERVICE_REQUEST("ssh-userauth") and awaits
// SERVICE_ACCEPT, the first step after the transport's first NEWKEYS.
func RequestService(c *transport.Conn) error {
	b := wire.NewEmptyBuffer(32)
	b.WriteByte(transport.MsgServiceRequest)
	b.WriteString([]byte(serviceNameUserauth))
	if err := c.WritePacket(b.Bytes()); err != nil {
		return err
	}

	reply, err := c.ReadPacket()
	if err != nil {
		return err
	}
	if len(reply) == 0 || reply[0] != transport.MsgServiceAccept {
		return fmt.Errorf("%w: expected SERVICE_ACCEPT", sshcerr.ErrProtocolViolation)
	}
	r := wire.NewBuffer(reply[1:])
	name, err := r.ReadString()
	if err != nil {
		return err
	}
	if string(name) != serviceNameUserauth {
		return fmt.Errorf("%w: unexpected service accepted %q", sshcerr.ErrProtocolViolation, name)
	}
	return nil
}

// Password drives the "password" method to success or failure:
// USERAUTH_REQUEST(user, "ssh-connection", "password", false, password),
// then either USERAUTH_SUCCESS or USERAUTH_FAILURE.
func Password(ctx *Ctx) error {
	pw, err := ctx.Password()
	if err != nil {
		return err
	}

	b := wire.NewEmptyBuffer(64 + len(pw))
	b.WriteByte(transport.MsgUserauthRequest)
	b.WriteString([]byte(ctx.User))
	b.WriteString([]byte(serviceNameConnection))
	b.WriteString([]byte(methodPassword))
	b.WriteBool(false)
	b.WriteString([]byte(pw))
	if err := ctx.Conn.WritePacket(b.Bytes()); err != nil {
		return err
	}

	return expectAuthOutcome(ctx.Conn)
}

// PublicKey drives the "publickey" method: a probe with
// has_signature=false to confirm the server will accept the key/algorithm
// pair, then a signed retry over session_id‖request_without_signature.
func PublicKey(ctx *Ctx, sessionID []byte) error {
	if ctx.Signer == nil {
		return errors.New("auth: publickey method requires a Signer")
	}

	probe := buildPublicKeyRequest(ctx.User, ctx.Signer, false, nil)
	if err := ctx.Conn.WritePacket(probe); err != nil {
		return err
	}

	reply, err := ctx.Conn.ReadPacket()
	if err != nil {
		return err
	}
	if len(reply) == 0 || reply[0] != transport.MsgUserauthPKOK {
		if len(reply) > 0 && reply[0] == transport.MsgUserauthFailure {
			return sshcerr.ErrAuthRejected
		}
		return fmt.Errorf("%w: expected USERAUTH_PK_OK, got message %d", sshcerr.ErrProtocolViolation, firstByte(reply))
	}

	unsigned := buildPublicKeyRequest(ctx.User, ctx.Signer, false, nil)
	toSign := append(append([]byte{}, sessionID...), unsigned...)
	sig, err := ctx.Signer.Sign(toSign)
	if err != nil {
		return err
	}

	signed := buildPublicKeyRequest(ctx.User, ctx.Signer, true, sig)
	if err := ctx.Conn.WritePacket(signed); err != nil {
		return err
	}

	return expectAuthOutcome(ctx.Conn)
}

// buildPublicKeyRequest renders a USERAUTH_REQUEST for the publickey
// method. When hasSignature is false, signature is ignored (the probe
// form); when true, signature is appended as the final field.
func buildPublicKeyRequest(user string, signer suite.Signer, hasSignature bool, signature []byte) []byte {
	keyBlob := signer.PublicKeyBlob()
	b := wire.NewEmptyBuffer(96 + len(keyBlob) + len(signature))
	b.WriteByte(transport.MsgUserauthRequest)
	b.WriteString([]byte(user))
	b.WriteString([]byte(serviceNameConnection))
	b.WriteString([]byte(methodPublicKey))
	b.WriteBool(hasSignature)
	b.WriteString([]byte(signer.Algorithm()))
	b.WriteString(keyBlob)
	if hasSignature {
		b.WriteString(signature)
	}
	return b.Bytes()
}

// expectAuthOutcome reads one USERAUTH_SUCCESS/FAILURE reply, returning
// ErrAuthRejected if the method failed outright. This engine offers one
// method at a time, so a partial-success failure reply is treated the
// same as outright rejection: there is no further method queued to try.
func expectAuthOutcome(c *transport.Conn) error {
	reply, err := c.ReadPacket()
	if err != nil {
		return err
	}
	if len(reply) == 0 {
		return fmt.Errorf("%w: empty auth reply", sshcerr.ErrProtocolViolation)
	}
	switch reply[0] {
	case transport.MsgUserauthSuccess:
		return nil
	case transport.MsgUserauthFailure:
		return sshcerr.ErrAuthRejected
	default:
		return fmt.Errorf("%w: unexpected message %d during auth", sshcerr.ErrProtocolViolation, reply[0])
	}
}

func firstByte(b []byte) int {
	if len(b) == 0 {
		return -1
	}
	return int(b[0])
}

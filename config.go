// Package sshc is an SSH-2 client library: binary packet protocol, key
// exchange, channel multiplexing, password/publickey authentication, and
// exec/shell/SCP convenience wrappers atop the channel layer.
//
// Copyright (c) 2017-2019 Russell Magee
// Licensed under the terms of the MIT license (see LICENSE.mit in this
// distribution)
package sshc

import (
	"time"

	"blitter.com/go/sshc/auth"
	"blitter.com/go/sshc/suite"
	"blitter.com/go/sshc/transport"
)

// TransportTCP and TransportKCP select the underlying net.Conn Connect
// dials: a plain TCP socket, or a reliable-UDP KCP session.
const (
	TransportTCP = "tcp"
	TransportKCP = "kcp"
)

// Config holds everything Connect needs beyond the address: identity,
// credentials, algorithm preferences and the transport kind. Built by
// functional options rather than exported fields directly, so new
// settings can be added without breaking existing Connect call sites.
type Config struct {
	User            string
	Password        auth.PasswordProvider
	Signer          suite.Signer
	HostKeyCallback transport.HostKeyCallback
	Timeout         time.Duration
	Transport       string
	algs            suite.AlgList
}

// Option configures a Config. Apply via Connect(addr, opts...).
type Option func(*Config)

func defaultConfig() Config {
	return Config{
		Timeout:   30 * time.Second,
		Transport: TransportTCP,
		algs:      suite.DefaultAlgList(),
	}
}

// WithTimeout overrides the default 30s deadline applied to every
// blocking read.
func WithTimeout(d time.Duration) Option {
	return func(c *Config) { c.Timeout = d }
}

// WithUser sets the username offered in USERAUTH_REQUEST.
func WithUser(user string) Option {
	return func(c *Config) { c.User = user }
}

// WithPassword selects the "password" auth method, calling p to obtain
// the password at auth time.
func WithPassword(p auth.PasswordProvider) Option {
	return func(c *Config) { c.Password = p }
}

// WithSigner selects the "publickey" auth method using signer.
func WithSigner(signer suite.Signer) Option {
	return func(c *Config) { c.Signer = signer }
}

// WithHostKeyCallback installs the callback that verifies the server's
// host key during KEX. Connect fails with a nil callback.
func WithHostKeyCallback(cb transport.HostKeyCallback) Option {
	return func(c *Config) { c.HostKeyCallback = cb }
}

// WithKEXOrder overrides the client's key-exchange algorithm preference
// order. Unrecognized names are still offered; if one is the first name
// the server also lists, negotiation picks it and the key exchange fails
// with transport.ErrUnknownKEXAlg.
func WithKEXOrder(order []string) Option {
	return func(c *Config) { c.algs.KEX = order }
}

// WithCipherOrder overrides the client's cipher preference order,
// applied symmetrically to both directions.
func WithCipherOrder(order []string) Option {
	return func(c *Config) {
		c.algs.EncryptionC2S = order
		c.algs.EncryptionS2C = order
	}
}

// WithTransport selects the net.Conn Connect dials: TransportTCP
// (default) or TransportKCP for the reliable-UDP path.
func WithTransport(kind string) Option {
	return func(c *Config) { c.Transport = kind }
}

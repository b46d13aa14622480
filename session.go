package sshc

import (
	"errors"
	"fmt"
	"net"
	"sync"

	"blitter.com/go/sshc/auth"
	"blitter.com/go/sshc/channel"
	"blitter.com/go/sshc/clock"
	"blitter.com/go/sshc/sshcerr"
	"blitter.com/go/sshc/transport"
)

// Session is one authenticated SSH connection: the transport, the
// channel multiplexer, and the negotiated session id rekeys must carry
// forward. Session state reached through its channels is guarded by the
// transport's own mutex rather than a session-level actor/queue.
type Session struct {
	conn      *transport.Conn
	mux       *channel.Mux
	cfg       Config
	sessionID []byte
	hostname  string

	mu     sync.Mutex
	closed bool
}

// Connect dials addr, runs the version exchange and key exchange, then
// authenticates with whichever of WithPassword/WithSigner was configured.
// A HostKeyCallback is mandatory; use InsecureIgnoreHostKey (imported
// from package transport) only for throwaway testing.
func Connect(addr string, opts ...Option) (*Session, error) {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.HostKeyCallback == nil {
		return nil, errors.New("sshc: Config.HostKeyCallback is required (use transport.InsecureIgnoreHostKey to opt out explicitly)")
	}
	if cfg.User == "" {
		return nil, errors.New("sshc: Config.User is required (WithUser)")
	}
	if cfg.Password == nil && cfg.Signer == nil {
		return nil, errors.New("sshc: no auth method configured (WithPassword or WithSigner)")
	}

	raw, err := dial(addr, &cfg)
	if err != nil {
		return nil, fmt.Errorf("sshc: dial %s: %w", addr, err)
	}

	conn := transport.NewConn(raw, clock.New(cfg.Timeout))

	kexCfg := transport.KexConfig{
		ClientAlgs:      cfg.algs,
		HostKeyCallback: cfg.HostKeyCallback,
		Hostname:        hostnameOf(addr),
	}
	result, err := transport.RunKex(conn, kexCfg, nil)
	if err != nil {
		conn.Close()
		return nil, err
	}

	if err := auth.RequestService(conn); err != nil {
		conn.Close()
		return nil, err
	}

	authCtx := &auth.Ctx{
		Conn:     conn,
		User:     cfg.User,
		Password: cfg.Password,
		Signer:   cfg.Signer,
	}
	if cfg.Signer != nil {
		err = auth.PublicKey(authCtx, result.SessionID)
	} else {
		err = auth.Password(authCtx)
	}
	if err != nil {
		conn.Close()
		return nil, err
	}

	return &Session{
		conn:      conn,
		mux:       channel.NewMux(conn),
		cfg:       cfg,
		sessionID: result.SessionID,
		hostname:  kexCfg.Hostname,
	}, nil
}

func hostnameOf(addr string) string {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return addr
	}
	return host
}

// Close sends DISCONNECT(11, "by application") and tears down the
// underlying transport. Open channels become unusable; it is the caller's
// responsibility to close them first if a clean per-channel teardown
// matters. Close is idempotent: a second call returns ErrSessionDead
// instead of an I/O error from the already-closed connection.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return sshcerr.ErrSessionDead
	}
	s.closed = true
	_ = s.conn.Disconnect(transport.DisconnectByApplication, "client closing session")
	return s.conn.Close()
}

// checkAlive reports ErrSessionDead once Close has run, gating further use
// of a poisoned Session.
func (s *Session) checkAlive() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return sshcerr.ErrSessionDead
	}
	return nil
}

// rekeyIfNeeded runs a second KEX pass, reusing the session id, when the
// transport's byte/packet thresholds have been crossed. Called from the
// quiescent point before a new channel is opened — the single-driver
// model has no in-flight background traffic to queue around, so rekeying
// between channel operations (rather than mid-write) is sufficient to
// honor the 1 GiB / 2^32-2^10 packet rekey policy without desynchronizing
// an in-progress channel exchange.
func (s *Session) rekeyIfNeeded() error {
	if !s.conn.NeedsRekey() {
		return nil
	}
	kexCfg := transport.KexConfig{
		ClientAlgs:      s.cfg.algs,
		HostKeyCallback: s.cfg.HostKeyCallback,
		Hostname:        s.hostname,
	}
	result, err := transport.RunKex(s.conn, kexCfg, s.sessionID)
	if err != nil {
		return err
	}
	s.sessionID = result.SessionID
	return nil
}

// OpenChannel opens a new "session"-type channel, rekeying first if the
// transport's rekey thresholds have been crossed.
func (s *Session) OpenChannel() (*channel.Channel, error) {
	if err := s.checkAlive(); err != nil {
		return nil, err
	}
	if err := s.rekeyIfNeeded(); err != nil {
		return nil, err
	}
	return s.mux.Open(channel.ChannelTypeSession)
}

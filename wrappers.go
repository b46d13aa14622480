package sshc

import (
	"bytes"
	"io"

	"blitter.com/go/sshc/channel"
	"blitter.com/go/sshc/scp"
)

// ExecChannel, ShellChannel and SCPSession are thin wrappers embedding
// *channel.Channel, the "cosmetic" distinction between connection types
// collapsed into request-type bookkeeping the channel layer itself
// already understands.

// ExecChannel is a channel that has issued an "exec" request.
type ExecChannel struct {
	*channel.Channel
}

// OpenExec opens a channel and issues an "exec" request for cmd.
func (s *Session) OpenExec(cmd string) (*ExecChannel, error) {
	ch, err := s.OpenChannel()
	if err != nil {
		return nil, err
	}
	if err := ch.RequestExec(cmd); err != nil {
		ch.Close()
		return nil, err
	}
	return &ExecChannel{Channel: ch}, nil
}

// Wait drains stdout (discarding it) until the peer's CHANNEL_EOF, then
// returns the forwarded exit status. Use Read directly instead of Wait
// when the command's output matters.
func (e *ExecChannel) Wait() (int, error) {
	buf := make([]byte, 32*1024)
	for {
		_, err := e.Read(buf)
		if err == io.EOF {
			break
		}
		if err != nil {
			return 0, err
		}
	}
	status, ok := e.ExitStatus()
	if !ok {
		status = 0
	}
	return status, e.Close()
}

// Output runs the command to completion and returns its stdout. A
// nonzero exit status is not itself an error; check ExitStatus after
// Output returns if that matters to the caller.
func (e *ExecChannel) Output() ([]byte, error) {
	var out bytes.Buffer
	buf := make([]byte, 32*1024)
	for {
		n, err := e.Read(buf)
		if n > 0 {
			out.Write(buf[:n])
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			return out.Bytes(), err
		}
	}
	return out.Bytes(), e.Close()
}

// ShellChannel is a channel that has issued a "pty-req" and "shell"
// request, ready for interactive use.
type ShellChannel struct {
	*channel.Channel
}

// OpenShell opens a channel, requests a pty of the given dimensions and
// terminal type, then requests an interactive shell.
func (s *Session) OpenShell(term string, cols, rows uint32) (*ShellChannel, error) {
	ch, err := s.OpenChannel()
	if err != nil {
		return nil, err
	}
	if err := ch.RequestPTY(term, cols, rows, 0, 0, nil); err != nil {
		ch.Close()
		return nil, err
	}
	if err := ch.RequestShell(); err != nil {
		ch.Close()
		return nil, err
	}
	return &ShellChannel{Channel: ch}, nil
}

// Resize notifies the remote pty of a new local terminal size.
func (sh *ShellChannel) Resize(cols, rows uint32) error {
	return sh.RequestWindowChange(cols, rows, 0, 0)
}

// SCPSession drives one or more SCP transfers over fresh channels of an
// established Session.
type SCPSession struct {
	session     *Session
	bytesPerSec int
}

// OpenSCP returns a handle for SCP transfers. bytesPerSec <= 0 disables
// bandwidth limiting; each Upload/Download call opens its own channel.
func (s *Session) OpenSCP(bytesPerSec int) *SCPSession {
	return &SCPSession{session: s, bytesPerSec: bytesPerSec}
}

// Upload copies localPath to remotePath on the peer.
func (sc *SCPSession) Upload(localPath, remotePath string) error {
	ch, err := sc.session.OpenChannel()
	if err != nil {
		return err
	}
	defer ch.Close()
	if err := ch.RequestExec("scp -t " + remotePath); err != nil {
		return err
	}
	return scp.New(ch, sc.bytesPerSec).Upload(localPath)
}

// Download copies remotePath from the peer to localPath.
func (sc *SCPSession) Download(remotePath, localPath string) error {
	ch, err := sc.session.OpenChannel()
	if err != nil {
		return err
	}
	defer ch.Close()
	if err := ch.RequestExec("scp -f " + remotePath); err != nil {
		return err
	}
	return scp.New(ch, sc.bytesPerSec).Download(localPath)
}

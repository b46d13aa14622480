// Package scp implements the SCP file-transfer convention, the
// `scp -f`/`scp -t` sink/source protocol, atop a raw channel.
//
// Bandwidth limiting uses an in-process token bucket
// (golang.org/x/time/rate) rather than shelling out to an external
// rate-limiting tool.
//
// Copyright (c) 2017-2019 Russell Magee
// Licensed under the terms of the MIT license (see LICENSE.mit in this
// distribution)
package scp

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"golang.org/x/time/rate"

	"blitter.com/go/sshc/channel"
)

// ackOK, ackError and ackFatal are the single-byte acknowledgements the
// scp protocol exchanges between source and sink after every control
// line and every file body.
const (
	ackOK    = 0
	ackError = 1
	ackFatal = 2
)

// Transfer drives one SCP upload or download over an already-open,
// already-requested channel (the caller has issued
// RequestExec("scp -t "+remotePath) for upload, or
// RequestExec("scp -f "+remotePath) for download).
type Transfer struct {
	ch      *channel.Channel
	limiter *rate.Limiter
}

// New wraps ch for SCP use. bytesPerSec <= 0 disables rate limiting.
func New(ch *channel.Channel, bytesPerSec int) *Transfer {
	t := &Transfer{ch: ch}
	if bytesPerSec > 0 {
		t.limiter = rate.NewLimiter(rate.Limit(bytesPerSec), bytesPerSec)
	}
	return t
}

// Upload sends localPath's contents to the peer acting as sink (the
// channel must already have issued "exec scp -t <remote-dir-or-file>").
func (t *Transfer) Upload(localPath string) error {
	f, err := os.Open(localPath)
	if err != nil {
		return err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return err
	}
	if info.IsDir() {
		return fmt.Errorf("scp: %s is a directory, recursive upload is not supported", localPath)
	}

	if err := t.readAck(); err != nil {
		return err
	}

	mode := info.Mode().Perm()
	ctrl := fmt.Sprintf("C%04o %d %s\n", mode, info.Size(), baseName(localPath))
	if err := t.writeAndAck([]byte(ctrl)); err != nil {
		return err
	}

	if err := t.copyRateLimited(f, info.Size()); err != nil {
		return err
	}
	if err := t.writeAndAck([]byte{0}); err != nil {
		return err
	}
	return nil
}

// Download receives one file from the peer acting as source (the channel
// must already have issued "exec scp -f <remote-path>"), writing it to
// localPath.
func (t *Transfer) Download(localPath string) error {
	if err := t.sendAck(ackOK); err != nil {
		return err
	}

	r := bufio.NewReader(&channelReader{ch: t.ch})
	line, err := r.ReadString('\n')
	if err != nil {
		return err
	}
	mode, size, _, err := parseControlLine(line)
	if err != nil {
		return err
	}

	if err := t.sendAck(ackOK); err != nil {
		return err
	}

	out, err := os.OpenFile(localPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, mode)
	if err != nil {
		return err
	}
	defer out.Close()

	if err := t.copyFromRateLimited(r, out, size); err != nil {
		return err
	}

	trailer := make([]byte, 1)
	if _, err := io.ReadFull(r, trailer); err != nil {
		return err
	}
	if trailer[0] != ackOK {
		return fmt.Errorf("scp: peer reported error after file body (code %d)", trailer[0])
	}
	return t.sendAck(ackOK)
}

func parseControlLine(line string) (mode os.FileMode, size int64, name string, err error) {
	line = strings.TrimSuffix(line, "\n")
	if len(line) == 0 || line[0] != 'C' {
		return 0, 0, "", fmt.Errorf("scp: unsupported control line %q", line)
	}
	fields := strings.SplitN(line[1:], " ", 3)
	if len(fields) != 3 {
		return 0, 0, "", fmt.Errorf("scp: malformed control line %q", line)
	}
	modeBits, err := strconv.ParseUint(fields[0], 8, 32)
	if err != nil {
		return 0, 0, "", err
	}
	size, err = strconv.ParseInt(fields[1], 10, 64)
	if err != nil {
		return 0, 0, "", err
	}
	return os.FileMode(modeBits), size, fields[2], nil
}

func baseName(p string) string {
	for i := len(p) - 1; i >= 0; i-- {
		if p[i] == '/' {
			return p[i+1:]
		}
	}
	return p
}

func (t *Transfer) readAck() error {
	buf := make([]byte, 1)
	if _, err := t.ch.Read(buf); err != nil {
		return err
	}
	return ackErr(buf[0])
}

func (t *Transfer) sendAck(code byte) error {
	_, err := t.ch.Write([]byte{code})
	return err
}

func (t *Transfer) writeAndAck(b []byte) error {
	if _, err := t.ch.Write(b); err != nil {
		return err
	}
	return t.readAck()
}

func ackErr(code byte) error {
	switch code {
	case ackOK:
		return nil
	case ackError:
		return fmt.Errorf("scp: peer reported a non-fatal error")
	default:
		return fmt.Errorf("scp: peer reported a fatal error (code %d)", code)
	}
}

// copyRateLimited writes n bytes from r to the channel, pacing writes
// through the limiter when one is configured.
func (t *Transfer) copyRateLimited(r io.Reader, n int64) error {
	buf := make([]byte, 32*1024)
	var sent int64
	for sent < n {
		want := int64(len(buf))
		if remaining := n - sent; remaining < want {
			want = remaining
		}
		rn, err := r.Read(buf[:want])
		if rn > 0 {
			if t.limiter != nil {
				if werr := t.limiter.WaitN(context.Background(), rn); werr != nil {
					return werr
				}
			}
			if _, werr := t.ch.Write(buf[:rn]); werr != nil {
				return werr
			}
			sent += int64(rn)
		}
		if err != nil {
			if err == io.EOF {
				break
			}
			return err
		}
	}
	return nil
}

// copyFromRateLimited reads exactly n bytes from r into w, pacing reads
// through the limiter when one is configured.
func (t *Transfer) copyFromRateLimited(r io.Reader, w io.Writer, n int64) error {
	buf := make([]byte, 32*1024)
	var got int64
	for got < n {
		want := int64(len(buf))
		if remaining := n - got; remaining < want {
			want = remaining
		}
		rn, err := r.Read(buf[:want])
		if rn > 0 {
			if t.limiter != nil {
				if werr := t.limiter.WaitN(context.Background(), rn); werr != nil {
					return werr
				}
			}
			if _, werr := w.Write(buf[:rn]); werr != nil {
				return werr
			}
			got += int64(rn)
		}
		if err != nil {
			if err == io.EOF {
				break
			}
			return err
		}
	}
	return nil
}

// channelReader adapts a *channel.Channel to io.Reader for bufio use.
type channelReader struct {
	ch *channel.Channel
}

func (cr *channelReader) Read(p []byte) (int, error) {
	return cr.ch.Read(p)
}

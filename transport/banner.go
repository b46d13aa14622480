package transport

import (
	"errors"
	"fmt"
	"strings"

	"blitter.com/go/sshc/sshcerr"
)

// LocalVersionString is this library's identification string (RFC 4253
// §4.2), in the standard "SSH-2.0-softwareversion" form.
const LocalVersionString = "SSH-2.0-sshc_1.0"

// ExchangeVersions writes the local banner and reads the remote one,
// tolerating any number of non-"SSH-"-prefixed lines first (RFC 4253
// §4.2's server-banner allowance, extended here to either side for
// symmetry).
func ExchangeVersions(c *Conn) (remoteVersion string, err error) {
	if _, err := c.rw.Write([]byte(LocalVersionString + "\r\n")); err != nil {
		return "", errors.Join(sshcerr.ErrIO, err)
	}

	for {
		line, err := readLine(c.rw)
		if err != nil {
			return "", errors.Join(sshcerr.ErrIO, err)
		}
		if strings.HasPrefix(line, "SSH-") {
			return line, nil
		}
		// Non-"SSH-" preamble lines (banners, MOTD) are discarded per
		// RFC 4253 §4.2's tolerance rule.
	}
}

// readLine reads one CRLF- or LF-terminated line directly off rw, one
// byte at a time, so it never buffers bytes past the line's terminator
// into a bufio.Reader the rest of the packet layer doesn't know about —
// the next byte off rw must be the start of the first KEXINIT packet.
func readLine(rw interface{ Read([]byte) (int, error) }) (string, error) {
	var line []byte
	var b [1]byte
	for {
		n, err := rw.Read(b[:])
		if n == 1 {
			if b[0] == '\n' {
				break
			}
			if b[0] != '\r' {
				line = append(line, b[0])
			}
		}
		if err != nil {
			return "", err
		}
	}
	return string(line), nil
}

// ParseVersion splits a banner of the form "SSH-protoversion-softwareversion
// comments" into its protocol and software components, failing with
// ProtocolViolation if the protocol is neither "2.0" nor "1.99".
func ParseVersion(banner string) (protoVersion, softwareVersion string, err error) {
	rest := strings.TrimPrefix(banner, "SSH-")
	if rest == banner {
		return "", "", fmt.Errorf("%w: missing SSH- prefix", sshcerr.ErrProtocolViolation)
	}
	parts := strings.SplitN(rest, "-", 2)
	if len(parts) != 2 {
		return "", "", fmt.Errorf("%w: malformed version banner", sshcerr.ErrProtocolViolation)
	}
	if parts[0] != "2.0" && parts[0] != "1.99" {
		return "", "", fmt.Errorf("%w: unsupported protocol version %q", sshcerr.ErrProtocolViolation, parts[0])
	}
	return parts[0], parts[1], nil
}

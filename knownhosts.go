package sshc

import (
	"bufio"
	"bytes"
	"encoding/base64"
	"fmt"
	"os"

	"blitter.com/go/sshc/sshcerr"
	"blitter.com/go/sshc/transport"
)

// KnownHosts is a trust-on-first-use-then-pin HostKeyCallback backed by a
// known_hosts-shaped text file: one "hostname base64(key-blob)" line per
// trusted host. A host seen for the first time is recorded and accepted;
// a host whose pinned key no longer matches is rejected with
// ErrHostKeyRejected.
type KnownHosts struct {
	path  string
	hosts map[string][]byte
}

// LoadKnownHosts reads path if it exists, or starts empty if it doesn't
// (the file is created on the first TOFU pin).
func LoadKnownHosts(path string) (*KnownHosts, error) {
	kh := &KnownHosts{path: path, hosts: make(map[string][]byte)}

	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return kh, nil
	}
	if err != nil {
		return nil, err
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Text()
		var host, encoded string
		if _, err := fmt.Sscanf(line, "%s %s", &host, &encoded); err != nil {
			continue
		}
		blob, err := base64.StdEncoding.DecodeString(encoded)
		if err != nil {
			continue
		}
		kh.hosts[host] = blob
	}
	return kh, scanner.Err()
}

// Callback returns the transport.HostKeyCallback this KnownHosts drives.
func (kh *KnownHosts) Callback() transport.HostKeyCallback {
	return kh.verify
}

func (kh *KnownHosts) verify(hostname string, hostKeyBlob []byte) error {
	if pinned, ok := kh.hosts[hostname]; ok {
		if !bytes.Equal(pinned, hostKeyBlob) {
			return fmt.Errorf("%w: host key for %s does not match pinned value", sshcerr.ErrHostKeyRejected, hostname)
		}
		return nil
	}
	kh.hosts[hostname] = append([]byte(nil), hostKeyBlob...)
	return kh.append(hostname, hostKeyBlob)
}

func (kh *KnownHosts) append(hostname string, blob []byte) error {
	if kh.path == "" {
		return nil
	}
	f, err := os.OpenFile(kh.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = fmt.Fprintf(f, "%s %s\n", hostname, base64.StdEncoding.EncodeToString(blob))
	return err
}

// Copyright (c) 2017-2019 Russell Magee
// Licensed under the terms of the MIT license (see LICENSE.mit in this
// distribution)
package main

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"blitter.com/go/sshc"
	"blitter.com/go/sshc/suite"
	"blitter.com/go/sshc/termmode"
	"blitter.com/go/sshc/transport"
)

var connFlags struct {
	addr       string
	user       string
	password   string
	identity   string
	knownHosts string
	insecure   bool
	kcp        bool
	timeout    time.Duration
}

var rootCmd = &cobra.Command{
	Use:           "sshc",
	Short:         "sshc is an SSH-2 client: exec, interactive shell, and SCP transfer",
	SilenceUsage:  true,
	SilenceErrors: false,
}

func init() {
	home, _ := os.UserHomeDir()
	defaultKnownHosts := filepath.Join(home, ".sshc", "known_hosts")

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&connFlags.addr, "addr", "", "host:port to connect to (required)")
	flags.StringVar(&connFlags.user, "user", "", "remote username (required)")
	flags.StringVar(&connFlags.password, "password", "", "password (prompted on stdin if an identity is not given and this is empty)")
	flags.StringVar(&connFlags.identity, "identity", "", "path to a PEM-encoded RSA private key for publickey auth")
	flags.StringVar(&connFlags.knownHosts, "known-hosts", defaultKnownHosts, "path to a known_hosts-shaped host key store")
	flags.BoolVar(&connFlags.insecure, "insecure", false, "skip host key verification (opt-in escape hatch, not a default)")
	flags.BoolVar(&connFlags.kcp, "kcp", false, "dial over KCP reliable UDP instead of TCP")
	flags.DurationVar(&connFlags.timeout, "timeout", 30*time.Second, "dial and read timeout")

	rootCmd.AddCommand(execCmd, shellCmd, scpCmd)
}

// connect builds a Session from the persistent connection flags, shared by
// every subcommand.
func connect() (*sshc.Session, error) {
	if connFlags.addr == "" {
		return nil, fmt.Errorf("--addr is required")
	}
	if connFlags.user == "" {
		return nil, fmt.Errorf("--user is required")
	}

	opts := []sshc.Option{
		sshc.WithUser(connFlags.user),
		sshc.WithTimeout(connFlags.timeout),
	}

	if connFlags.kcp {
		opts = append(opts, sshc.WithTransport(sshc.TransportKCP))
	}

	if connFlags.insecure {
		opts = append(opts, sshc.WithHostKeyCallback(transport.InsecureIgnoreHostKey()))
	} else {
		if err := os.MkdirAll(filepath.Dir(connFlags.knownHosts), 0o700); err != nil {
			return nil, fmt.Errorf("creating known hosts directory: %w", err)
		}
		kh, err := sshc.LoadKnownHosts(connFlags.knownHosts)
		if err != nil {
			return nil, fmt.Errorf("loading known hosts: %w", err)
		}
		opts = append(opts, sshc.WithHostKeyCallback(kh.Callback()))
	}

	if connFlags.identity != "" {
		pemBytes, err := os.ReadFile(connFlags.identity)
		if err != nil {
			return nil, fmt.Errorf("reading identity file: %w", err)
		}
		signer, err := suite.ParseRSAPrivateKeyPEM(pemBytes)
		if err != nil {
			return nil, fmt.Errorf("parsing identity file: %w", err)
		}
		opts = append(opts, sshc.WithSigner(signer))
	} else {
		password := connFlags.password
		if password == "" {
			var err error
			password, err = readPassword()
			if err != nil {
				return nil, fmt.Errorf("reading password: %w", err)
			}
		}
		opts = append(opts, sshc.WithPassword(func() (string, error) { return password, nil }))
	}

	return sshc.Connect(connFlags.addr, opts...)
}

// readPassword prompts on stderr and reads a line from stdin with local
// echo disabled, restoring the terminal's prior mode before returning.
func readPassword() (string, error) {
	fd := int(os.Stdin.Fd())
	fmt.Fprintf(os.Stderr, "Password: ")

	state, err := termmode.MakeRaw(fd)
	if err != nil {
		// Not a terminal (e.g. piped stdin); fall back to a plain read.
		line, rerr := bufio.NewReader(os.Stdin).ReadString('\n')
		return trimNewline(line), rerr
	}
	defer termmode.Restore(fd, state)

	var line []byte
	buf := make([]byte, 1)
	for {
		n, err := os.Stdin.Read(buf)
		if n > 0 {
			if buf[0] == '\n' || buf[0] == '\r' {
				break
			}
			line = append(line, buf[0])
		}
		if err != nil {
			break
		}
	}
	fmt.Fprintln(os.Stderr)
	return string(line), nil
}

func trimNewline(s string) string {
	for len(s) > 0 && (s[len(s)-1] == '\n' || s[len(s)-1] == '\r') {
		s = s[:len(s)-1]
	}
	return s
}

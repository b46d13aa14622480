// Copyright (c) 2017-2019 Russell Magee
// Licensed under the terms of the MIT license (see LICENSE.mit in this
// distribution)
package main

import (
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"blitter.com/go/sshc/channel"
)

var execCmd = &cobra.Command{
	Use:   "exec -- <command> [args...]",
	Short: "run a command on the remote host and stream its stdio",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runExec,
}

type stderrReader struct{ ch *channel.Channel }

// Read returns io.EOF once no stderr is buffered, since ReadStderr itself
// never blocks and reports an empty buffer as (0, nil).
func (s stderrReader) Read(p []byte) (int, error) {
	n, err := s.ch.ReadStderr(p)
	if n == 0 && err == nil {
		return 0, io.EOF
	}
	return n, err
}

func runExec(cmd *cobra.Command, args []string) error {
	session, err := connect()
	if err != nil {
		return err
	}
	defer session.Close()

	ec, err := session.OpenExec(strings.Join(args, " "))
	if err != nil {
		return err
	}
	defer ec.Close()

	go func() {
		io.Copy(ec, os.Stdin)
		ec.SendEOF()
	}()

	// Reading stdout pumps the channel, which also buffers stderr; the
	// buffered stderr is written once stdout reaches EOF.
	io.Copy(os.Stdout, ec)
	io.Copy(os.Stderr, stderrReader{ch: ec.Channel})
	status, _ := ec.ExitStatus()
	os.Exit(status)
	return nil
}

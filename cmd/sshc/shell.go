// Copyright (c) 2017-2019 Russell Magee
// Licensed under the terms of the MIT license (see LICENSE.mit in this
// distribution)
package main

import (
	"io"
	"os"

	isatty "github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"blitter.com/go/sshc/termmode"
)

var shellCmd = &cobra.Command{
	Use:   "shell",
	Short: "open an interactive remote shell",
	Args:  cobra.NoArgs,
	RunE:  runShell,
}

func runShell(cmd *cobra.Command, args []string) error {
	session, err := connect()
	if err != nil {
		return err
	}
	defer session.Close()

	fd := int(os.Stdin.Fd())
	cols, rows, err := termmode.GetSize(fd)
	if err != nil {
		cols, rows = 80, 24
	}

	term := os.Getenv("TERM")
	if term == "" {
		term = "xterm"
	}

	sh, err := session.OpenShell(term, uint32(cols), uint32(rows))
	if err != nil {
		return err
	}
	defer sh.Close()

	if isatty.IsTerminal(os.Stdin.Fd()) {
		oldState, err := termmode.MakeRaw(fd)
		if err != nil {
			return err
		}
		defer termmode.Restore(fd, oldState)

		stopResize := termmode.WatchResize(fd, func(cols, rows int) {
			sh.Resize(uint32(cols), uint32(rows))
		})
		defer stopResize()
	}

	go io.Copy(sh, os.Stdin)
	_, err = io.Copy(os.Stdout, sh)
	return err
}

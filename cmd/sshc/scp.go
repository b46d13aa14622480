// Copyright (c) 2017-2019 Russell Magee
// Licensed under the terms of the MIT license (see LICENSE.mit in this
// distribution)
package main

import (
	"github.com/spf13/cobra"
)

var scpLimitBPS int

var scpCmd = &cobra.Command{
	Use:   "scp",
	Short: "copy files to or from the remote host",
}

var scpUploadCmd = &cobra.Command{
	Use:   "upload <local-path> <remote-path>",
	Short: "copy a local file to the remote host",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		session, err := connect()
		if err != nil {
			return err
		}
		defer session.Close()
		return session.OpenSCP(scpLimitBPS).Upload(args[0], args[1])
	},
}

var scpDownloadCmd = &cobra.Command{
	Use:   "download <remote-path> <local-path>",
	Short: "copy a remote file to the local host",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		session, err := connect()
		if err != nil {
			return err
		}
		defer session.Close()
		return session.OpenSCP(scpLimitBPS).Download(args[0], args[1])
	},
}

func init() {
	scpCmd.PersistentFlags().IntVar(&scpLimitBPS, "limit", 0, "bandwidth limit in bytes/sec (0 disables limiting)")
	scpCmd.AddCommand(scpUploadCmd, scpDownloadCmd)
}

package main

import (
	"errors"
	"fmt"

	smgr "github.com/dermesser/clusterdispatch/securitymanager"

	"github.com/spf13/cobra"
)

var (
	pubfile, privfile string

	keygenCmd = &cobra.Command{
		Use:   "keygen",
		Short: "Generate a CURVE key pair",
		Long: `Generate a CURVE key pair and write it to two files. The dispatcher's public key is
the server_public_key of every worker (broadcast pattern); in the point-to-point pattern,
workers are the servers.`,
		Args: cobra.NoArgs,
		RunE: runKeygen,
	}
)

func init() {
	keygenCmd.Flags().StringVar(&pubfile, "pub", "publickey.txt", "File to write public key to")
	keygenCmd.Flags().StringVar(&privfile, "priv", "privatekey.txt", "File to write private key to")
	rootCmd.AddCommand(keygenCmd)
}

func runKeygen(cmd *cobra.Command, _ []string) error {
	fmt.Fprintln(cmd.OutOrStdout(), "Generating key pair...")

	mgr := smgr.NewClientSecurityManager()

	if mgr == nil {
		return errors.New("could not generate CURVE key pair")
	}
	return mgr.WriteKeys(pubfile, privfile)
}

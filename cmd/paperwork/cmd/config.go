package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/phil777/paperwork/pkg/auth"
	"github.com/phil777/paperwork/pkg/config"
	tlsutil "github.com/phil777/paperwork/pkg/tls"
)

var (
	certOut string
	keyOut  string
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Configuration management",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective configuration as YAML",
	Long: `Prints the configuration after merging defaults, the config file and
PAPERWORK_* environment variables.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return config.Dump(cmd.OutOrStdout(), cfg)
	},
}

var configHashKeyCmd = &cobra.Command{
	Use:   "hash-key [key]",
	Short: "Hash an API key for server.api_key_hash",
	Long: `Prints the bcrypt hash of the given API key. Without an argument a new
random key is generated and printed along with its hash.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var key string
		if len(args) == 1 {
			key = args[0]
		} else {
			var err error
			if key, err = auth.GenerateKey(); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "key:  %s\n", key)
		}
		hash, err := auth.HashKey(key)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "hash: %s\n", hash)
		return nil
	},
}

var configGenCertCmd = &cobra.Command{
	Use:   "gen-cert [host...]",
	Short: "Write a self-signed certificate for the status server",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := tlsutil.GenerateSelfSignedCert(certOut, keyOut, args...); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Wrote %s and %s\n", certOut, keyOut)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configHashKeyCmd)
	configCmd.AddCommand(configGenCertCmd)

	configGenCertCmd.Flags().StringVar(&certOut, "cert", "paperwork.crt", "certificate output file")
	configGenCertCmd.Flags().StringVar(&keyOut, "key", "paperwork.key", "private key output file")
}

package commands

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/hostplane/hostplane/pkg/secrets"
)

func newSecretsCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "secrets",
		Short: "Manage the encrypted secrets store",
	}
	cmd.AddCommand(newSecretsSealCommand())
	cmd.AddCommand(newSecretsKeysCommand())
	return cmd
}

func newSecretsSealCommand() *cobra.Command {
	var output string
	var passphraseFile string

	cmd := &cobra.Command{
		Use:   "seal <values.yml>",
		Short: "Encrypt a key/value document into a secrets store",
		Long:  `Seal reads a plaintext YAML document mapping secret names to strings and writes the passphrase-encrypted store apply can resolve.`,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			var values map[string]string
			if err := yaml.Unmarshal(data, &values); err != nil {
				return fmt.Errorf("input is not a key/value document: %w", err)
			}

			passphrase, err := loadPassphrase(passphraseFile)
			if err != nil {
				return err
			}

			ciphertext, err := secrets.Seal(values, passphrase)
			if err != nil {
				return err
			}
			if err := os.WriteFile(output, ciphertext, 0o600); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "sealed %d secrets into %s\n", len(values), output)
			return nil
		},
		SilenceUsage: true,
	}

	cmd.Flags().StringVarP(&output, "output", "o", "secrets.age", "output store path")
	cmd.Flags().StringVar(&passphraseFile, "passphrase-file", "", "file holding the passphrase (default $"+passphraseEnv+")")
	return cmd
}

func newSecretsKeysCommand() *cobra.Command {
	var passphraseFile string

	cmd := &cobra.Command{
		Use:   "keys <store.age>",
		Short: "List the key names in a secrets store",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			passphrase, err := loadPassphrase(passphraseFile)
			if err != nil {
				return err
			}
			vault, err := secrets.ResolveFile(args[0], passphrase)
			if err != nil {
				return err
			}
			defer vault.Close()

			for _, key := range vault.Keys() {
				fmt.Fprintln(cmd.OutOrStdout(), key)
			}
			return nil
		},
		SilenceUsage: true,
	}

	cmd.Flags().StringVar(&passphraseFile, "passphrase-file", "", "file holding the passphrase (default $"+passphraseEnv+")")
	return cmd
}

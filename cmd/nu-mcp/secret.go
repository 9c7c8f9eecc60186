package main

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"nu-mcp/internal/infra/config"
)

var encryptSecretCmd = &cobra.Command{
	Use:   "encrypt-secret [value]",
	Short: "Encrypt a config secret with NUMCP_CONFIG_KEY",
	Long: `Encrypt a value (for example apply.api_key) so it can be stored in the
config file. The output carries the enc: prefix and is decrypted at load
time when NUMCP_CONFIG_KEY holds the same passphrase.

Without an argument the value is read from stdin; on a terminal input is
not echoed.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		passphrase := os.Getenv("NUMCP_CONFIG_KEY")
		if passphrase == "" {
			return errors.New("NUMCP_CONFIG_KEY is not set")
		}

		var value string
		if len(args) == 1 {
			value = args[0]
		} else {
			v, err := readSecret(cmd.InOrStdin(), cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			value = v
		}
		if value == "" {
			return errors.New("empty value")
		}

		out, err := encryptSecret(value, passphrase)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), out)
		return nil
	},
}

func encryptSecret(value, passphrase string) (string, error) {
	enc, err := config.EncryptValue(value, passphrase)
	if err != nil {
		return "", fmt.Errorf("encrypt: %w", err)
	}
	return config.SecretPrefix + enc, nil
}

func readSecret(in io.Reader, prompt io.Writer) (string, error) {
	if f, ok := in.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		fmt.Fprint(prompt, "Value: ")
		b, err := term.ReadPassword(int(f.Fd()))
		fmt.Fprintln(prompt)
		if err != nil {
			return "", fmt.Errorf("read value: %w", err)
		}
		return strings.TrimSpace(string(b)), nil
	}
	line, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", fmt.Errorf("read value: %w", err)
	}
	return strings.TrimSpace(line), nil
}

package cli

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"incubant/go-deployer/internal/bootstrap/deployconfig"
	"incubant/go-deployer/internal/credential"
	"incubant/go-deployer/internal/keystore"

	"github.com/spf13/cobra"
	"golang.org/x/term"
)

const envKeystorePassphrase = "DEPLOYER_KEYSTORE_PASSPHRASE"

type secretFlags struct {
	SecretFile string
	Keystore   string
}

func (f *secretFlags) bind(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.SecretFile, "secret-file", "", "read the deployer private key or recovery phrase from a file")
	cmd.Flags().StringVar(&f.Keystore, "keystore", "", "read the deployer secret from a sealed keystore")
}

type secretInput struct {
	value string
	// meta is set when the secret came from a keystore.
	meta *keystore.Meta
}

// read picks the first configured source: keystore, secret file, then
// the DEPLOYER_SECRET_KEY environment variable.
func (f *secretFlags) read(cmd *cobra.Command) (secretInput, error) {
	switch {
	case f.Keystore != "":
		passphrase, err := readPassphrase(cmd, "Keystore passphrase: ")
		if err != nil {
			return secretInput{}, err
		}
		raw, meta, err := keystore.ReadFile(f.Keystore, passphrase)
		if err != nil {
			return secretInput{}, classify("open keystore", err)
		}
		return secretInput{value: string(raw), meta: &meta}, nil
	case f.SecretFile != "":
		raw, err := os.ReadFile(f.SecretFile)
		if err != nil {
			return secretInput{}, WrapExitError(ExitInvalidInput, "read secret file", err)
		}
		return secretInput{value: strings.TrimSpace(string(raw))}, nil
	}
	if v := deployconfig.SecretFromEnv(); v != "" {
		return secretInput{value: v}, nil
	}
	return secretInput{}, WrapExitError(ExitInvalidInput,
		fmt.Sprintf("no deployer secret: set %s, --secret-file or --keystore", deployconfig.EnvSecret),
		credential.ErrSecretRequired)
}

// readPassphrase prefers the environment, then a terminal prompt without echo,
// then one line from the command input.
func readPassphrase(cmd *cobra.Command, prompt string) (string, error) {
	if v := os.Getenv(envKeystorePassphrase); v != "" {
		return v, nil
	}
	in := cmd.InOrStdin()
	if file, ok := in.(*os.File); ok && term.IsTerminal(int(file.Fd())) {
		_, _ = fmt.Fprint(cmd.ErrOrStderr(), prompt)
		raw, err := term.ReadPassword(int(file.Fd()))
		_, _ = fmt.Fprintln(cmd.ErrOrStderr())
		if err != nil {
			return "", WrapExitError(ExitInvalidInput, "read passphrase", err)
		}
		return string(raw), nil
	}
	line, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", WrapExitError(ExitInvalidInput, "read passphrase", err)
	}
	line = strings.TrimRight(line, "\r\n")
	if line == "" {
		return "", classify("read passphrase", keystore.ErrPassphraseRequired)
	}
	return line, nil
}

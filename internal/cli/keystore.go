package cli

import (
	"fmt"
	"io"
	"os"

	"incubant/go-deployer/internal/credential"
	"incubant/go-deployer/internal/keystore"

	"github.com/spf13/cobra"
	"golang.org/x/term"
)

func NewKeystoreCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "keystore",
		Short: "Seal and inspect passphrase-protected deployer secrets",
	}
	cmd.AddCommand(newKeystoreSealCommand(rootOpts))
	cmd.AddCommand(newKeystoreInspectCommand(rootOpts))
	return cmd
}

func newKeystoreSealCommand(rootOpts *RootOptions) *cobra.Command {
	var (
		secretFile  string
		networkName string
		outPath     string
		force       bool
	)
	cmd := &cobra.Command{
		Use:   "seal",
		Short: "Encrypt the deployer secret into a keystore file",
		Long: `Encrypt the deployer secret into a keystore file.

The secret is read from --secret-file or DEPLOYER_SECRET_KEY and validated
before sealing. The passphrase comes from DEPLOYER_KEYSTORE_PASSPHRASE or a
prompt.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			log := rootOpts.logger(cmd.ErrOrStderr())
			cfg, err := rootOpts.loadConfig(log)
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("network") {
				cfg.Network = networkName
			}
			network, err := offlineNetwork(cfg.Network, cfg.NodeURL)
			if err != nil {
				return classify("resolve network", err)
			}

			src := secretFlags{SecretFile: secretFile}
			secret, err := src.read(cmd)
			if err != nil {
				return err
			}
			cred, err := credential.NewResolver(network).Resolve(secret.value)
			if err != nil {
				return classify("resolve credential", err)
			}

			passphrase, err := readNewPassphrase(cmd)
			if err != nil {
				return err
			}
			meta := keystore.Meta{Network: network.Name, Address: cred.Address()}
			if err := keystore.WriteFile(outPath, passphrase, []byte(secret.value), meta, force); err != nil {
				return classify("write keystore", err)
			}
			log.Info("sealed deployer secret", "keystore_path", outPath, "deployer_address", cred.Address())

			out := output{format: rootOpts.Format, w: cmd.OutOrStdout()}
			return out.emit(meta, func(w io.Writer) error {
				_, err := fmt.Fprintf(w, "Sealed %s (%s) into %s\n", meta.Address, meta.Network, outPath)
				return err
			})
		},
	}
	cmd.Flags().StringVar(&secretFile, "secret-file", "", "read the secret from a file instead of DEPLOYER_SECRET_KEY")
	cmd.Flags().StringVarP(&networkName, "network", "n", "", "network the keystore is bound to")
	cmd.Flags().StringVarP(&outPath, "out", "o", "deployer.keystore", "keystore output path")
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing keystore")
	return cmd
}

func newKeystoreInspectCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "inspect <path>",
		Short: "Show the network and address a keystore is bound to",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			meta, err := keystore.InspectFile(args[0])
			if err != nil {
				return classify("inspect keystore", err)
			}
			out := output{format: rootOpts.Format, w: cmd.OutOrStdout()}
			return out.emit(meta, func(w io.Writer) error {
				_, err := fmt.Fprintf(w, "network=%s address=%s\n", meta.Network, meta.Address)
				return err
			})
		},
	}
}

// readNewPassphrase asks twice when attached to a terminal.
func readNewPassphrase(cmd *cobra.Command) (string, error) {
	first, err := readPassphrase(cmd, "New keystore passphrase: ")
	if err != nil {
		return "", err
	}
	if os.Getenv(envKeystorePassphrase) != "" {
		return first, nil
	}
	file, ok := cmd.InOrStdin().(*os.File)
	if !ok || !term.IsTerminal(int(file.Fd())) {
		return first, nil
	}
	second, err := readPassphrase(cmd, "Repeat passphrase: ")
	if err != nil {
		return "", err
	}
	if first != second {
		return "", NewExitError(ExitInvalidInput, "passphrases do not match")
	}
	return first, nil
}

package cli

import (
	"errors"
	"fmt"
	"io"

	"incubant/go-deployer/internal/credential"
	"incubant/go-deployer/internal/stacks"

	"github.com/spf13/cobra"
)

type addressResult struct {
	Network string `json:"network"`
	Address string `json:"address"`
	Source  string `json:"source"`
}

func NewAddressCommand(rootOpts *RootOptions) *cobra.Command {
	flags := &secretFlags{}
	var networkName string
	cmd := &cobra.Command{
		Use:   "address",
		Short: "Print the deployer address for a secret without touching the network",
		Args:  cobra.NoArgs,
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
			secret, err := flags.read(cmd)
			if err != nil {
				return err
			}
			classified, err := credential.ClassifySecret(secret.value)
			if err != nil {
				return classify("read secret", err)
			}
			cred, err := credential.NewResolver(network).ResolveSecret(classified)
			if err != nil {
				return classify("resolve credential", err)
			}

			res := addressResult{Network: network.Name, Address: cred.Address(), Source: classified.Kind().String()}
			out := output{format: rootOpts.Format, w: cmd.OutOrStdout()}
			return out.emit(res, func(w io.Writer) error {
				_, err := fmt.Fprintln(w, res.Address)
				return err
			})
		},
	}
	flags.bind(cmd)
	cmd.Flags().StringVarP(&networkName, "network", "n", "", "mainnet, testnet or devnet")
	return cmd
}

// offlineNetwork resolves a network for commands that never call the node, so
// devnet does not need a URL.
func offlineNetwork(name, nodeURL string) (stacks.Network, error) {
	n, err := stacks.NetworkFor(name, nodeURL)
	if errors.Is(err, stacks.ErrNodeURLRequired) {
		return stacks.NetworkFor(name, stacks.DefaultDevnetURL)
	}
	return n, err
}

package stacks

import (
	"errors"
	"fmt"
	"strings"
)

const (
	NetworkMainnet = "mainnet"
	NetworkTestnet = "testnet"
	NetworkDevnet  = "devnet"

	DefaultDevnetURL = "http://localhost:20443"

	mainnetCoreAPIURL = "https://api.mainnet.hiro.so"
	testnetCoreAPIURL = "https://api.testnet.hiro.so"

	mainnetDeployFee = uint64(50000)
	testnetDeployFee = uint64(10000)
)

// Address versions for single-sig P2PKH accounts.
const (
	AddressVersionMainnetSingleSig byte = 22
	AddressVersionTestnetSingleSig byte = 26
)

const (
	txVersionMainnet byte   = 0x00
	txVersionTestnet byte   = 0x80
	chainIDMainnet   uint32 = 0x00000001
	chainIDTestnet   uint32 = 0x80000000
)

var (
	ErrUnknownNetwork  = errors.New("unknown network")
	ErrNodeURLRequired = errors.New("node url is required")
)

type Network struct {
	Name               string
	CoreAPIURL         string
	TransactionVersion byte
	ChainID            uint32
	AddressVersion     byte
}

// ParseNetworkName maps operator labels onto the canonical network names.
func ParseNetworkName(raw string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case NetworkMainnet, "production":
		return NetworkMainnet, nil
	case NetworkTestnet, "test":
		return NetworkTestnet, nil
	case NetworkDevnet, "local-development", "local", "":
		return NetworkDevnet, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownNetwork, raw)
	}
}

// NetworkFor resolves a network by name. nodeURL overrides the public API for
// mainnet and testnet and is mandatory for devnet.
func NetworkFor(name, nodeURL string) (Network, error) {
	canonical, err := ParseNetworkName(name)
	if err != nil {
		return Network{}, err
	}
	nodeURL = strings.TrimRight(strings.TrimSpace(nodeURL), "/")

	var n Network
	switch canonical {
	case NetworkMainnet:
		n = Network{
			Name:               NetworkMainnet,
			CoreAPIURL:         mainnetCoreAPIURL,
			TransactionVersion: txVersionMainnet,
			ChainID:            chainIDMainnet,
			AddressVersion:     AddressVersionMainnetSingleSig,
		}
	case NetworkTestnet:
		n = Network{
			Name:               NetworkTestnet,
			CoreAPIURL:         testnetCoreAPIURL,
			TransactionVersion: txVersionTestnet,
			ChainID:            chainIDTestnet,
			AddressVersion:     AddressVersionTestnetSingleSig,
		}
	default:
		if nodeURL == "" {
			return Network{}, fmt.Errorf("%w for %s", ErrNodeURLRequired, NetworkDevnet)
		}
		n = Network{
			Name:               NetworkDevnet,
			TransactionVersion: txVersionTestnet,
			ChainID:            chainIDTestnet,
			AddressVersion:     AddressVersionTestnetSingleSig,
		}
	}
	if nodeURL != "" {
		n.CoreAPIURL = nodeURL
	}
	return n, nil
}

func (n Network) IsMainnet() bool {
	return n.Name == NetworkMainnet
}

// ExplorerTxURL links a transaction on the extended API of the node.
func (n Network) ExplorerTxURL(txID string) string {
	base := strings.TrimSuffix(n.CoreAPIURL, "/v2")
	return base + "/extended/v1/tx/" + normalizeTxID(txID)
}

// FeePolicy selects the fee in micro-STX for one contract deploy.
type FeePolicy interface {
	Fee(contractName string) uint64
}

type FixedFee uint64

func (f FixedFee) Fee(string) uint64 {
	return uint64(f)
}

// DefaultFeePolicy reflects the minimum fees nodes accept in each environment.
func DefaultFeePolicy(n Network) FeePolicy {
	if n.IsMainnet() {
		return FixedFee(mainnetDeployFee)
	}
	return FixedFee(testnetDeployFee)
}

func normalizeTxID(txID string) string {
	txID = strings.TrimSpace(txID)
	if strings.HasPrefix(txID, "0x") {
		return txID
	}
	return "0x" + txID
}

package credential

import (
	"fmt"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/tyler-smith/go-bip32"
)

const (
	minSeedBytes = 16
	maxSeedBytes = 64
)

// stxAccountPath is m/44'/5757'/0'/0/0, the first Stacks wallet account.
var stxAccountPath = []uint32{
	bip32.FirstHardenedChild + 44,
	bip32.FirstHardenedChild + 5757,
	bip32.FirstHardenedChild + 0,
	0,
	0,
}

// deriveKey walks path from the BIP-32 master key of seed.
func deriveKey(seed []byte, path []uint32) (*bip32.Key, error) {
	if len(seed) < minSeedBytes || len(seed) > maxSeedBytes {
		return nil, fmt.Errorf("%w: seed length %d", ErrDerivationFailure, len(seed))
	}
	key, err := bip32.NewMasterKey(seed)
	if err != nil {
		return nil, fmt.Errorf("%w: master key: %v", ErrDerivationFailure, err)
	}
	for _, index := range path {
		key, err = key.NewChildKey(index)
		if err != nil {
			return nil, fmt.Errorf("%w: child %d: %v", ErrDerivationFailure, index, err)
		}
	}
	return key, nil
}

func accountKeyFromSeed(seed []byte) (*secp256k1.PrivateKey, error) {
	key, err := deriveKey(seed, stxAccountPath)
	if err != nil {
		return nil, err
	}
	var scalar secp256k1.ModNScalar
	if overflow := scalar.SetByteSlice(key.Key); overflow || scalar.IsZero() {
		return nil, fmt.Errorf("%w: unusable account key", ErrDerivationFailure)
	}
	return secp256k1.NewPrivateKey(&scalar), nil
}

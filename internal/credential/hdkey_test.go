package credential

import (
	"encoding/hex"
	"errors"
	"testing"

	"github.com/tyler-smith/go-bip32"
)

// BIP-32 test vector 1.
func TestDeriveKeyVectorOne(t *testing.T) {
	seed, _ := hex.DecodeString("000102030405060708090a0b0c0d0e0f")
	master, err := deriveKey(seed, nil)
	if err != nil {
		t.Fatalf("master: %v", err)
	}
	if got := hex.EncodeToString(master.Key); got != "e8f32e723decf4051aefac8e2c93c9c5b214313817cdb01a1494b917c8436b35" {
		t.Fatalf("unexpected master key %s", got)
	}
	if got := hex.EncodeToString(master.ChainCode); got != "873dff81c02f525623fd1fe5167eac3a55a049de3d314bb42ee227ffed37d508" {
		t.Fatalf("unexpected master chain code %s", got)
	}

	child, err := deriveKey(seed, []uint32{bip32.FirstHardenedChild})
	if err != nil {
		t.Fatalf("derive m/0h: %v", err)
	}
	if got := hex.EncodeToString(child.Key); got != "edb2e14f9ee77d26dd93b4ecede8d16ed408ce149b6cd80b0715a2d911a0afea" {
		t.Fatalf("unexpected m/0h key %s", got)
	}
}

func TestDeriveKeyRejectsShortSeed(t *testing.T) {
	if _, err := deriveKey([]byte{1, 2, 3}, stxAccountPath); !errors.Is(err, ErrDerivationFailure) {
		t.Fatalf("expected ErrDerivationFailure, got %v", err)
	}
}

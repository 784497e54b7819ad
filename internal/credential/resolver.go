package credential

import (
	"encoding/hex"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"incubant/go-deployer/internal/stacks"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/tyler-smith/go-bip39"
)

const (
	mnemonicMinWords = 12
	mnemonicMinChars = 100

	compressedSuffix = "01"
)

var (
	ErrSecretRequired    = errors.New("secret is required")
	ErrInvalidCredential = errors.New("invalid credential")
	ErrDerivationFailure = errors.New("credential derivation failed")

	rawKeyPattern = regexp.MustCompile(`^[0-9a-fA-F]{64}(01)?$`)
)

type SecretKind int

const (
	SecretPrivateKey SecretKind = iota + 1
	SecretMnemonic
)

func (k SecretKind) String() string {
	switch k {
	case SecretPrivateKey:
		return "private_key"
	case SecretMnemonic:
		return "mnemonic"
	default:
		return "unknown"
	}
}

// Secret is operator input after classification. Its value is never exposed.
type Secret struct {
	kind  SecretKind
	value string
}

func (s Secret) Kind() SecretKind {
	return s.kind
}

func (s Secret) String() string {
	return "secret(" + s.kind.String() + ")"
}

// ClassifySecret decides once whether input is a recovery phrase or a raw key.
func ClassifySecret(input string) (Secret, error) {
	trimmed := strings.TrimSpace(input)
	if trimmed == "" {
		return Secret{}, ErrSecretRequired
	}
	words := strings.Fields(trimmed)
	if len(words) >= mnemonicMinWords || len(trimmed) > mnemonicMinChars {
		return Secret{kind: SecretMnemonic, value: strings.ToLower(strings.Join(words, " "))}, nil
	}
	return Secret{kind: SecretPrivateKey, value: trimmed}, nil
}

// Credential is the normalised signing key plus the account it controls.
type Credential struct {
	key     *secp256k1.PrivateKey
	address string
}

func (c Credential) Address() string {
	return c.address
}

func (c Credential) SigningKey() *secp256k1.PrivateKey {
	return c.key
}

// PrivateKeyHex is the canonical 66 character form: 32 key bytes then the
// compressed-public-key marker 01.
func (c Credential) PrivateKeyHex() string {
	if c.key == nil {
		return ""
	}
	return hex.EncodeToString(c.key.Serialize()) + compressedSuffix
}

func (c Credential) String() string {
	return "credential(" + c.address + ")"
}

// Resolver turns operator secrets into credentials for one network.
type Resolver struct {
	addressVersion byte
}

func NewResolver(network stacks.Network) *Resolver {
	return &Resolver{addressVersion: network.AddressVersion}
}

func (r *Resolver) Resolve(input string) (Credential, error) {
	secret, err := ClassifySecret(input)
	if err != nil {
		return Credential{}, err
	}
	return r.ResolveSecret(secret)
}

func (r *Resolver) ResolveSecret(secret Secret) (Credential, error) {
	var (
		key *secp256k1.PrivateKey
		err error
	)
	switch secret.kind {
	case SecretMnemonic:
		key, err = keyFromMnemonic(secret.value)
	case SecretPrivateKey:
		key, err = keyFromHex(secret.value)
	default:
		return Credential{}, ErrSecretRequired
	}
	if err != nil {
		return Credential{}, err
	}
	address, err := stacks.AddressFromPublicKey(r.addressVersion, key.PubKey().SerializeCompressed())
	if err != nil {
		return Credential{}, fmt.Errorf("%w: %v", ErrDerivationFailure, err)
	}
	return Credential{key: key, address: address}, nil
}

// NormalizePrivateKey strips 0x and whitespace and appends the compression
// suffix when it is missing.
func NormalizePrivateKey(input string) (string, error) {
	cleaned := strings.Join(strings.Fields(input), "")
	cleaned = strings.TrimPrefix(strings.TrimPrefix(cleaned, "0x"), "0X")
	if !rawKeyPattern.MatchString(cleaned) {
		return "", fmt.Errorf("%w: private key must be 64 hex characters with optional 01 suffix", ErrInvalidCredential)
	}
	cleaned = strings.ToLower(cleaned)
	if len(cleaned) == 64 {
		cleaned += compressedSuffix
	}
	return cleaned, nil
}

func keyFromHex(input string) (*secp256k1.PrivateKey, error) {
	normalized, err := NormalizePrivateKey(input)
	if err != nil {
		return nil, err
	}
	raw, err := hex.DecodeString(normalized[:64])
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidCredential, err)
	}
	var scalar secp256k1.ModNScalar
	if overflow := scalar.SetByteSlice(raw); overflow || scalar.IsZero() {
		return nil, fmt.Errorf("%w: private key is outside the curve order", ErrInvalidCredential)
	}
	return secp256k1.NewPrivateKey(&scalar), nil
}

func keyFromMnemonic(mnemonic string) (*secp256k1.PrivateKey, error) {
	if !bip39.IsMnemonicValid(mnemonic) {
		return nil, fmt.Errorf("%w: recovery phrase failed checksum or wordlist validation", ErrInvalidCredential)
	}
	return accountKeyFromSeed(bip39.NewSeed(mnemonic, ""))
}

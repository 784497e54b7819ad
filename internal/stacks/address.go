package stacks

import (
	"crypto/sha256"
	"errors"
	"fmt"
	"math/big"
	"regexp"
	"strings"

	"golang.org/x/crypto/ripemd160" //nolint:staticcheck // hash160 is part of the address format
)

const c32Alphabet = "0123456789ABCDEFGHJKMNPQRSTVWXYZ"

const maxContractNameLength = 40

var (
	ErrInvalidAddress      = errors.New("invalid stacks address")
	ErrInvalidContractName = errors.New("invalid contract name")

	contractNamePattern = regexp.MustCompile(`^[a-zA-Z]([a-zA-Z0-9]|[-_])*$`)
)

// Hash160 is ripemd160(sha256(data)).
func Hash160(data []byte) [20]byte {
	sum := sha256.Sum256(data)
	h := ripemd160.New()
	_, _ = h.Write(sum[:])
	var out [20]byte
	copy(out[:], h.Sum(nil))
	return out
}

// AddressFromPublicKey returns the single-sig P2PKH address of a compressed public key.
func AddressFromPublicKey(version byte, compressedPub []byte) (string, error) {
	if len(compressedPub) != 33 {
		return "", fmt.Errorf("%w: public key must be 33 bytes compressed", ErrInvalidAddress)
	}
	h := Hash160(compressedPub)
	return EncodeAddress(version, h)
}

// EncodeAddress renders a c32check address, e.g. SP... on mainnet.
func EncodeAddress(version byte, hash [20]byte) (string, error) {
	if int(version) >= len(c32Alphabet) {
		return "", fmt.Errorf("%w: version %d out of range", ErrInvalidAddress, version)
	}
	return "S" + c32CheckEncode(version, hash[:]), nil
}

// DecodeAddress parses a c32check address and verifies its checksum.
func DecodeAddress(address string) (byte, [20]byte, error) {
	var hash [20]byte
	address = strings.ToUpper(strings.TrimSpace(address))
	if len(address) < 3 || address[0] != 'S' {
		return 0, hash, ErrInvalidAddress
	}
	version := strings.IndexByte(c32Alphabet, address[1])
	if version < 0 {
		return 0, hash, ErrInvalidAddress
	}
	raw, err := c32Decode(address[2:])
	if err != nil {
		return 0, hash, err
	}
	if len(raw) != 24 {
		return 0, hash, fmt.Errorf("%w: unexpected payload length %d", ErrInvalidAddress, len(raw))
	}
	want := c32Checksum(byte(version), raw[:20])
	if string(want[:]) != string(raw[20:]) {
		return 0, hash, fmt.Errorf("%w: checksum mismatch", ErrInvalidAddress)
	}
	copy(hash[:], raw[:20])
	return byte(version), hash, nil
}

// ContractID is the fully qualified principal of a deployed contract.
func ContractID(deployer, contractName string) string {
	return deployer + "." + contractName
}

func ValidateContractName(name string) error {
	if len(name) == 0 || len(name) > maxContractNameLength {
		return fmt.Errorf("%w: %q must be 1..%d characters", ErrInvalidContractName, name, maxContractNameLength)
	}
	if !contractNamePattern.MatchString(name) {
		return fmt.Errorf("%w: %q", ErrInvalidContractName, name)
	}
	return nil
}

func c32CheckEncode(version byte, data []byte) string {
	sum := c32Checksum(version, data)
	payload := make([]byte, 0, len(data)+len(sum))
	payload = append(payload, data...)
	payload = append(payload, sum[:]...)
	return string(c32Alphabet[version]) + c32Encode(payload)
}

func c32Checksum(version byte, data []byte) [4]byte {
	buf := make([]byte, 0, len(data)+1)
	buf = append(buf, version)
	buf = append(buf, data...)
	first := sha256.Sum256(buf)
	second := sha256.Sum256(first[:])
	var out [4]byte
	copy(out[:], second[:4])
	return out
}

// c32Encode is a base32 rendering of the big-endian integer, with one leading
// zero digit per leading zero byte.
func c32Encode(data []byte) string {
	var zeros int
	for zeros < len(data) && data[zeros] == 0 {
		zeros++
	}
	n := new(big.Int).SetBytes(data)
	base := big.NewInt(32)
	mod := new(big.Int)
	digits := make([]byte, 0, len(data)*8/5+1)
	for n.Sign() > 0 {
		n.DivMod(n, base, mod)
		digits = append(digits, c32Alphabet[mod.Int64()])
	}
	for i := 0; i < zeros; i++ {
		digits = append(digits, c32Alphabet[0])
	}
	for i, j := 0, len(digits)-1; i < j; i, j = i+1, j-1 {
		digits[i], digits[j] = digits[j], digits[i]
	}
	return string(digits)
}

func c32Decode(s string) ([]byte, error) {
	var zeros int
	for zeros < len(s) && s[zeros] == c32Alphabet[0] {
		zeros++
	}
	n := new(big.Int)
	base := big.NewInt(32)
	for _, r := range s[zeros:] {
		idx := strings.IndexRune(c32Alphabet, normalizeC32Rune(r))
		if idx < 0 {
			return nil, fmt.Errorf("%w: bad c32 character %q", ErrInvalidAddress, r)
		}
		n.Mul(n, base)
		n.Add(n, big.NewInt(int64(idx)))
	}
	out := make([]byte, zeros, zeros+len(s))
	return append(out, n.Bytes()...), nil
}

func normalizeC32Rune(r rune) rune {
	switch r {
	case 'O':
		return '0'
	case 'L', 'I':
		return '1'
	}
	return r
}

package stacks

import (
	"bytes"
	"crypto/sha512"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"testing"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/decred/dcrd/dcrec/secp256k1/v4/ecdsa"
)

const testKeyHex = "753b7cc01a1a2e86221266a154af739463fce51219d97e4f856cd7200c3bd2a6"

func testKey(t *testing.T) *secp256k1.PrivateKey {
	t.Helper()
	raw, err := hex.DecodeString(testKeyHex)
	if err != nil {
		t.Fatalf("decode key: %v", err)
	}
	return secp256k1.PrivKeyFromBytes(raw)
}

func testDevnet(t *testing.T) Network {
	t.Helper()
	n, err := NetworkFor(NetworkDevnet, DefaultDevnetURL)
	if err != nil {
		t.Fatalf("devnet: %v", err)
	}
	return n
}

func TestBuildContractDeployLayout(t *testing.T) {
	key := testKey(t)
	code := []byte("(define-public (ping) (ok true))")
	tx, err := BuildContractDeploy(ContractDeploy{Name: "alpha", CodeBody: code}, key, 7, 10000, testDevnet(t))
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	raw := tx.Raw

	if raw[0] != 0x80 {
		t.Fatalf("unexpected version byte %#x", raw[0])
	}
	if got := binary.BigEndian.Uint32(raw[1:5]); got != 0x80000000 {
		t.Fatalf("unexpected chain id %#x", got)
	}
	if raw[5] != authTypeStandard || raw[6] != hashModeP2PKH {
		t.Fatalf("unexpected auth header %#x %#x", raw[5], raw[6])
	}
	signer := Hash160(key.PubKey().SerializeCompressed())
	if !bytes.Equal(raw[7:27], signer[:]) {
		t.Fatal("signer hash mismatch")
	}
	if got := binary.BigEndian.Uint64(raw[27:35]); got != 7 {
		t.Fatalf("unexpected nonce %d", got)
	}
	if got := binary.BigEndian.Uint64(raw[35:43]); got != 10000 {
		t.Fatalf("unexpected fee %d", got)
	}
	if raw[109] != anchorModeAny || raw[110] != postConditionModeAllow {
		t.Fatalf("unexpected anchor/post-condition mode %#x %#x", raw[109], raw[110])
	}
	if got := binary.BigEndian.Uint32(raw[111:115]); got != 0 {
		t.Fatalf("expected no post conditions, got %d", got)
	}
	if raw[115] != payloadSmartContract || raw[116] != 5 || string(raw[117:122]) != "alpha" {
		t.Fatalf("unexpected payload header % x", raw[115:122])
	}
	if got := binary.BigEndian.Uint32(raw[122:126]); int(got) != len(code) {
		t.Fatalf("unexpected code length %d", got)
	}
	if !bytes.Equal(raw[126:], code) {
		t.Fatal("code body mismatch")
	}
	if tx.TxID != TxID(raw) || len(tx.TxID) != 64 {
		t.Fatalf("unexpected txid %q", tx.TxID)
	}
}

func TestBuildContractDeploySignatureRecoversSigner(t *testing.T) {
	key := testKey(t)
	tx, err := BuildContractDeploy(ContractDeploy{Name: "beta", CodeBody: []byte("(ok u1)")}, key, 3, 50000, testDevnet(t))
	if err != nil {
		t.Fatalf("build: %v", err)
	}

	cleared := append([]byte(nil), tx.Raw...)
	for i := 27; i < 43; i++ {
		cleared[i] = 0
	}
	for i := 44; i < 109; i++ {
		cleared[i] = 0
	}
	initial := sha512.Sum512_256(cleared)
	preSign := preSignSigHash(initial, authTypeStandard, 50000, 3)

	sig := tx.Raw[44:109]
	compact := append([]byte{sig[0] + 27 + 4}, sig[1:]...)
	pub, compressed, err := ecdsa.RecoverCompact(compact, preSign[:])
	if err != nil {
		t.Fatalf("recover: %v", err)
	}
	if !compressed {
		t.Fatal("expected compressed key flag")
	}
	if !pub.IsEqual(key.PubKey()) {
		t.Fatal("recovered key does not match signer")
	}
}

func TestBuildContractDeployIsDeterministic(t *testing.T) {
	key := testKey(t)
	payload := ContractDeploy{Name: "gamma", CodeBody: []byte("(ok u2)")}
	a, err := BuildContractDeploy(payload, key, 1, 10000, testDevnet(t))
	if err != nil {
		t.Fatalf("build a: %v", err)
	}
	b, err := BuildContractDeploy(payload, key, 1, 10000, testDevnet(t))
	if err != nil {
		t.Fatalf("build b: %v", err)
	}
	if a.TxID != b.TxID {
		t.Fatal("same inputs should produce the same transaction")
	}
	c, err := BuildContractDeploy(payload, key, 2, 10000, testDevnet(t))
	if err != nil {
		t.Fatalf("build c: %v", err)
	}
	if c.TxID == a.TxID {
		t.Fatal("nonce must be bound into the transaction")
	}
}

func TestBuildContractDeployRejectsBadInput(t *testing.T) {
	key := testKey(t)
	n := testDevnet(t)
	if _, err := BuildContractDeploy(ContractDeploy{Name: "ok", CodeBody: nil}, key, 0, 1, n); !errors.Is(err, ErrEmptyCodeBody) {
		t.Fatalf("expected ErrEmptyCodeBody, got %v", err)
	}
	if _, err := BuildContractDeploy(ContractDeploy{Name: "bad name", CodeBody: []byte("x")}, key, 0, 1, n); !errors.Is(err, ErrInvalidContractName) {
		t.Fatalf("expected ErrInvalidContractName, got %v", err)
	}
	if _, err := BuildContractDeploy(ContractDeploy{Name: "ok", CodeBody: []byte("x")}, nil, 0, 1, n); !errors.Is(err, ErrSigningKeyEmpty) {
		t.Fatalf("expected ErrSigningKeyEmpty, got %v", err)
	}
}

package stacks

import (
	"bytes"
	"crypto/sha512"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/decred/dcrd/dcrec/secp256k1/v4/ecdsa"
)

const (
	authTypeStandard       byte = 0x04
	hashModeP2PKH          byte = 0x00
	pubKeyEncodingCompress byte = 0x00
	anchorModeAny          byte = 0x03
	postConditionModeAllow byte = 0x01
	payloadSmartContract   byte = 0x01

	recoverableSignatureSize = 65
	maxCodeBodySize          = 1 << 20
)

var (
	ErrEmptyCodeBody   = errors.New("contract code body is empty")
	ErrCodeBodyTooBig  = errors.New("contract code body is too large")
	ErrSigningKeyEmpty = errors.New("signing key is required")
)

// ContractDeploy is the payload of one smart-contract deploy transaction.
type ContractDeploy struct {
	Name     string
	CodeBody []byte
}

type SignedTransaction struct {
	ContractName string
	Raw          []byte
	TxID         string
	Nonce        uint64
	Fee          uint64
}

type spendingCondition struct {
	signer    [20]byte
	nonce     uint64
	fee       uint64
	signature [recoverableSignatureSize]byte
}

type unsignedDeploy struct {
	network Network
	cond    spendingCondition
	payload ContractDeploy
}

// BuildContractDeploy serialises and signs a single-sig contract deploy. It does
// no I/O; the nonce and fee are bound into the signature.
func BuildContractDeploy(payload ContractDeploy, key *secp256k1.PrivateKey, nonce, fee uint64, network Network) (SignedTransaction, error) {
	if key == nil {
		return SignedTransaction{}, ErrSigningKeyEmpty
	}
	if err := ValidateContractName(payload.Name); err != nil {
		return SignedTransaction{}, err
	}
	if len(payload.CodeBody) == 0 {
		return SignedTransaction{}, fmt.Errorf("%w: %s", ErrEmptyCodeBody, payload.Name)
	}
	if len(payload.CodeBody) > maxCodeBodySize {
		return SignedTransaction{}, fmt.Errorf("%w: %s has %d bytes", ErrCodeBodyTooBig, payload.Name, len(payload.CodeBody))
	}

	tx := unsignedDeploy{
		network: network,
		cond: spendingCondition{
			signer: Hash160(key.PubKey().SerializeCompressed()),
			nonce:  nonce,
			fee:    fee,
		},
		payload: payload,
	}

	initial := tx.initialSigHash()
	preSign := preSignSigHash(initial, authTypeStandard, fee, nonce)
	tx.cond.signature = signRecoverable(key, preSign[:])

	raw := tx.serialize()
	return SignedTransaction{
		ContractName: payload.Name,
		Raw:          raw,
		TxID:         TxID(raw),
		Nonce:        nonce,
		Fee:          fee,
	}, nil
}

// TxID is the sha512/256 digest of the serialised transaction.
func TxID(raw []byte) string {
	sum := sha512.Sum512_256(raw)
	return hex.EncodeToString(sum[:])
}

// initialSigHash hashes the transaction with its spending condition cleared.
func (t unsignedDeploy) initialSigHash() [32]byte {
	cleared := t
	cleared.cond.nonce = 0
	cleared.cond.fee = 0
	cleared.cond.signature = [recoverableSignatureSize]byte{}
	return sha512.Sum512_256(cleared.serialize())
}

func preSignSigHash(cur [32]byte, authType byte, fee, nonce uint64) [32]byte {
	buf := make([]byte, 0, 32+1+8+8)
	buf = append(buf, cur[:]...)
	buf = append(buf, authType)
	buf = binary.BigEndian.AppendUint64(buf, fee)
	buf = binary.BigEndian.AppendUint64(buf, nonce)
	return sha512.Sum512_256(buf)
}

// signRecoverable returns the signature as recovery id || r || s.
func signRecoverable(key *secp256k1.PrivateKey, hash []byte) [recoverableSignatureSize]byte {
	compact := ecdsa.SignCompact(key, hash, true)
	var out [recoverableSignatureSize]byte
	out[0] = compact[0] - 27 - 4
	copy(out[1:], compact[1:])
	return out
}

func (t unsignedDeploy) serialize() []byte {
	var buf bytes.Buffer
	buf.WriteByte(t.network.TransactionVersion)
	buf.Write(binary.BigEndian.AppendUint32(nil, t.network.ChainID))

	buf.WriteByte(authTypeStandard)
	buf.WriteByte(hashModeP2PKH)
	buf.Write(t.cond.signer[:])
	buf.Write(binary.BigEndian.AppendUint64(nil, t.cond.nonce))
	buf.Write(binary.BigEndian.AppendUint64(nil, t.cond.fee))
	buf.WriteByte(pubKeyEncodingCompress)
	buf.Write(t.cond.signature[:])

	buf.WriteByte(anchorModeAny)
	buf.WriteByte(postConditionModeAllow)
	buf.Write(binary.BigEndian.AppendUint32(nil, 0))

	buf.WriteByte(payloadSmartContract)
	buf.WriteByte(byte(len(t.payload.Name)))
	buf.WriteString(t.payload.Name)
	buf.Write(binary.BigEndian.AppendUint32(nil, uint32(len(t.payload.CodeBody))))
	buf.Write(t.payload.CodeBody)
	return buf.Bytes()
}

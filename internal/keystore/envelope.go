// Package keystore seals the deployer secret at rest with a passphrase.
package keystore

import (
	"bytes"
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/chacha20poly1305"
)

const (
	envelopeVersion = 1
	kdfArgon2id     = "argon2id"
	saltSize        = 16
	filePrefix      = "STXKEY1\n"

	defaultKDFTime     = 2
	defaultKDFMemoryKB = 64 * 1024
	defaultKDFThreads  = 1
	maxKDFMemoryKB     = 1024 * 1024
	maxKDFTime         = 16
)

var (
	ErrAuthFailed         = errors.New("keystore authentication failed")
	ErrInvalid            = errors.New("keystore envelope is invalid")
	ErrPassphraseRequired = errors.New("keystore passphrase is required")
)

// Meta is stored in the clear and bound to the ciphertext.
type Meta struct {
	Network string `json:"network"`
	Address string `json:"address"`
}

type Envelope struct {
	Version     uint32 `json:"version"`
	Meta        Meta   `json:"meta"`
	KDF         string `json:"kdf"`
	KDFTime     uint32 `json:"kdf_time"`
	KDFMemoryKB uint32 `json:"kdf_memory_kb"`
	KDFThreads  uint8  `json:"kdf_threads"`
	Salt        []byte `json:"salt"`
	Nonce       []byte `json:"nonce"`
	Ciphertext  []byte `json:"ciphertext"`
}

// Seal encrypts secret under passphrase and returns the file contents.
func Seal(passphrase string, secret []byte, meta Meta) ([]byte, error) {
	if passphrase == "" {
		return nil, ErrPassphraseRequired
	}
	env := &Envelope{
		Version:     envelopeVersion,
		Meta:        meta,
		KDF:         kdfArgon2id,
		KDFTime:     defaultKDFTime,
		KDFMemoryKB: defaultKDFMemoryKB,
		KDFThreads:  defaultKDFThreads,
		Salt:        make([]byte, saltSize),
		Nonce:       make([]byte, chacha20poly1305.NonceSizeX),
	}
	if _, err := rand.Read(env.Salt); err != nil {
		return nil, err
	}
	if _, err := rand.Read(env.Nonce); err != nil {
		return nil, err
	}
	key := env.deriveKey(passphrase)
	defer zeroBytes(key)

	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, err
	}
	ad, err := json.Marshal(meta)
	if err != nil {
		return nil, err
	}
	env.Ciphertext = aead.Seal(nil, env.Nonce, secret, ad)

	raw, err := json.MarshalIndent(env, "", "  ")
	if err != nil {
		return nil, err
	}
	out := append([]byte(filePrefix), raw...)
	return append(out, '\n'), nil
}

// Open returns the sealed secret and its metadata.
func Open(passphrase string, data []byte) ([]byte, Meta, error) {
	env, err := parse(data)
	if err != nil {
		return nil, Meta{}, err
	}
	if passphrase == "" {
		return nil, env.Meta, ErrPassphraseRequired
	}
	key := env.deriveKey(passphrase)
	defer zeroBytes(key)

	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, env.Meta, err
	}
	ad, err := json.Marshal(env.Meta)
	if err != nil {
		return nil, env.Meta, err
	}
	secret, err := aead.Open(nil, env.Nonce, env.Ciphertext, ad)
	if err != nil {
		return nil, env.Meta, ErrAuthFailed
	}
	return secret, env.Meta, nil
}

// Inspect reads the metadata without the passphrase.
func Inspect(data []byte) (Meta, error) {
	env, err := parse(data)
	if err != nil {
		return Meta{}, err
	}
	return env.Meta, nil
}

func parse(data []byte) (*Envelope, error) {
	if !bytes.HasPrefix(data, []byte(filePrefix)) {
		return nil, fmt.Errorf("%w: missing header", ErrInvalid)
	}
	var env Envelope
	if err := json.Unmarshal(data[len(filePrefix):], &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	if env.Version != envelopeVersion || !strings.EqualFold(env.KDF, kdfArgon2id) {
		return nil, fmt.Errorf("%w: unsupported version %d kdf %q", ErrInvalid, env.Version, env.KDF)
	}
	if env.KDFTime == 0 || env.KDFTime > maxKDFTime || env.KDFMemoryKB == 0 || env.KDFMemoryKB > maxKDFMemoryKB || env.KDFThreads == 0 {
		return nil, fmt.Errorf("%w: kdf parameters out of range", ErrInvalid)
	}
	if len(env.Salt) != saltSize || len(env.Nonce) != chacha20poly1305.NonceSizeX {
		return nil, fmt.Errorf("%w: salt or nonce size", ErrInvalid)
	}
	return &env, nil
}

func (e *Envelope) deriveKey(passphrase string) []byte {
	return argon2.IDKey([]byte(passphrase), e.Salt, e.KDFTime, e.KDFMemoryKB, e.KDFThreads, chacha20poly1305.KeySize)
}

func zeroBytes(b []byte) {
	for i := range b {
		b[i] = 0
	}
}

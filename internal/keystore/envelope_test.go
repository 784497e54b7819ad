package keystore

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"testing"
)

var testMeta = Meta{Network: "devnet", Address: "ST1PQHQKV0RJXZFY1DGX8MNSNYVE3VGZJSRTPGZGM"}

func TestSealOpenRoundtrip(t *testing.T) {
	data, err := Seal("pass", []byte("secret"), testMeta)
	if err != nil {
		t.Fatalf("seal failed: %v", err)
	}
	if bytes.Contains(data, []byte("secret")) {
		t.Fatal("sealed data contains plaintext")
	}
	plain, meta, err := Open("pass", data)
	if err != nil {
		t.Fatalf("open failed: %v", err)
	}
	if string(plain) != "secret" {
		t.Fatalf("unexpected plaintext: %q", string(plain))
	}
	if meta != testMeta {
		t.Fatalf("unexpected meta: %+v", meta)
	}
}

func TestOpenWrongPassphrase(t *testing.T) {
	data, err := Seal("pass", []byte("secret"), testMeta)
	if err != nil {
		t.Fatalf("seal failed: %v", err)
	}
	if _, _, err := Open("other", data); !errors.Is(err, ErrAuthFailed) {
		t.Fatalf("expected ErrAuthFailed, got %v", err)
	}
	if _, _, err := Open("", data); !errors.Is(err, ErrPassphraseRequired) {
		t.Fatalf("expected ErrPassphraseRequired, got %v", err)
	}
}

func TestOpenDetectsSwappedMeta(t *testing.T) {
	data, err := Seal("pass", []byte("secret"), testMeta)
	if err != nil {
		t.Fatalf("seal failed: %v", err)
	}
	swapped := bytes.Replace(data, []byte(testMeta.Address), []byte("ST000000000000000000002AMW42H"), 1)
	if _, _, err := Open("pass", swapped); !errors.Is(err, ErrAuthFailed) {
		t.Fatalf("expected ErrAuthFailed, got %v", err)
	}
}

func TestOpenRejectsGarbage(t *testing.T) {
	if _, _, err := Open("pass", []byte("not a keystore")); !errors.Is(err, ErrInvalid) {
		t.Fatalf("expected ErrInvalid, got %v", err)
	}
	if _, err := Inspect([]byte(filePrefix + "{}")); !errors.Is(err, ErrInvalid) {
		t.Fatalf("expected ErrInvalid for empty envelope, got %v", err)
	}
}

func TestSealRequiresPassphrase(t *testing.T) {
	if _, err := Seal("", []byte("secret"), testMeta); !errors.Is(err, ErrPassphraseRequired) {
		t.Fatalf("expected ErrPassphraseRequired, got %v", err)
	}
}

func TestWriteFileAndRead(t *testing.T) {
	path := filepath.Join(t.TempDir(), "keys", "deployer.json")
	if err := WriteFile(path, "pass", []byte("secret"), testMeta, false); err != nil {
		t.Fatalf("write failed: %v", err)
	}
	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat: %v", err)
	}
	if perm := info.Mode().Perm(); perm != 0o600 {
		t.Fatalf("expected 0600, got %o", perm)
	}

	meta, err := InspectFile(path)
	if err != nil || meta.Address != testMeta.Address {
		t.Fatalf("inspect: %+v %v", meta, err)
	}
	plain, _, err := ReadFile(path, "pass")
	if err != nil || string(plain) != "secret" {
		t.Fatalf("read: %q %v", plain, err)
	}

	if err := WriteFile(path, "pass", []byte("other"), testMeta, false); !errors.Is(err, ErrExists) {
		t.Fatalf("expected ErrExists, got %v", err)
	}
	if err := WriteFile(path, "pass", []byte("other"), testMeta, true); err != nil {
		t.Fatalf("overwrite failed: %v", err)
	}
}

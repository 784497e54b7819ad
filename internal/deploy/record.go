package deploy

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

type Status string

const (
	StatusCompleted Status = "completed"
	StatusHalted    Status = "halted"
)

var ErrMalformedRecord = errors.New("malformed deployment record")

// Outcome is the result of submitting one artifact. Exactly one of TxID and
// Error is set.
type Outcome struct {
	Artifact string
	TxID     string
	Address  string
	Nonce    uint64
	Error    string
}

func (o Outcome) Succeeded() bool {
	return o.Error == "" && o.TxID != ""
}

type outcomeJSON struct {
	TxID    string `json:"txId,omitempty"`
	Address string `json:"address,omitempty"`
	Nonce   uint64 `json:"nonce"`
	Error   string `json:"error,omitempty"`
}

// Outcomes keeps submission order and encodes as a JSON object keyed by
// artifact name.
type Outcomes []Outcome

func (o Outcomes) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, item := range o {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(item.Artifact)
		if err != nil {
			return nil, err
		}
		value, err := json.Marshal(outcomeJSON{
			TxID:    item.TxID,
			Address: item.Address,
			Nonce:   item.Nonce,
			Error:   item.Error,
		})
		if err != nil {
			return nil, err
		}
		buf.Write(key)
		buf.WriteByte(':')
		buf.Write(value)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

func (o *Outcomes) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return fmt.Errorf("%w: contracts must be an object", ErrMalformedRecord)
	}
	out := Outcomes{}
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return err
		}
		name, ok := tok.(string)
		if !ok {
			return fmt.Errorf("%w: unexpected key %v", ErrMalformedRecord, tok)
		}
		var item outcomeJSON
		if err := dec.Decode(&item); err != nil {
			return fmt.Errorf("%w: %s: %v", ErrMalformedRecord, name, err)
		}
		out = append(out, Outcome{
			Artifact: name,
			TxID:     item.TxID,
			Address:  item.Address,
			Nonce:    item.Nonce,
			Error:    item.Error,
		})
	}
	if _, err := dec.Token(); err != nil {
		return err
	}
	*o = out
	return nil
}

// Record is the persisted outcome log of one run. Retry tooling resumes at the
// first artifact without a successful outcome.
type Record struct {
	RunID           string    `json:"runId"`
	Network         string    `json:"network"`
	NodeURL         string    `json:"nodeUrl,omitempty"`
	DeployerAddress string    `json:"deployerAddress"`
	DeployedAt      time.Time `json:"deployedAt"`
	Status          Status    `json:"status"`
	HaltReason      string    `json:"haltReason,omitempty"`
	StartingNonce   uint64    `json:"startingNonce"`
	// Planned is every artifact of the run in deploy order, attempted or not.
	Planned   []string `json:"planned,omitempty"`
	Contracts Outcomes `json:"contracts"`
}

// Total is the number of planned artifacts. Records written without a plan
// fall back to the number of outcomes.
func (r Record) Total() int {
	if len(r.Planned) > 0 {
		return len(r.Planned)
	}
	return len(r.Contracts)
}

// Next returns the first planned artifact without a successful outcome.
func (r Record) Next() (string, bool) {
	pending := r.Pending(r.Planned)
	if len(pending) == 0 {
		return "", false
	}
	return pending[0], true
}

func (r Record) Outcome(name string) (Outcome, bool) {
	for _, o := range r.Contracts {
		if o.Artifact == name {
			return o, true
		}
	}
	return Outcome{}, false
}

func (r Record) Succeeded() int {
	n := 0
	for _, o := range r.Contracts {
		if o.Succeeded() {
			n++
		}
	}
	return n
}

// Failure returns the outcome that halted the run, if any.
func (r Record) Failure() (Outcome, bool) {
	for _, o := range r.Contracts {
		if !o.Succeeded() {
			return o, true
		}
	}
	return Outcome{}, false
}

// Pending lists names without a successful outcome, in the given order.
func (r Record) Pending(names []string) []string {
	out := make([]string, 0, len(names))
	for _, name := range names {
		if o, ok := r.Outcome(name); ok && o.Succeeded() {
			continue
		}
		out = append(out, name)
	}
	return out
}

func EncodeRecord(r Record) ([]byte, error) {
	if r.Contracts == nil {
		r.Contracts = Outcomes{}
	}
	raw, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return nil, err
	}
	return append(raw, '\n'), nil
}

func DecodeRecord(data []byte) (Record, error) {
	var r Record
	if err := json.Unmarshal(data, &r); err != nil {
		return Record{}, fmt.Errorf("%w: %v", ErrMalformedRecord, err)
	}
	return r, nil
}

// RecordSink persists a record at run end or at the point of failure.
type RecordSink interface {
	Save(ctx context.Context, r Record) error
}

// FileStore keeps the record as a JSON file that external retry tools can read.
type FileStore struct {
	path string
}

func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

func (s *FileStore) Save(_ context.Context, r Record) error {
	raw, err := EncodeRecord(r)
	if err != nil {
		return err
	}
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(s.path)+".*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(raw); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return err
	}
	if err := os.Chmod(tmpName, 0o644); err != nil {
		_ = os.Remove(tmpName)
		return err
	}
	return os.Rename(tmpName, s.path)
}

// Load returns the stored record and whether one exists.
func (s *FileStore) Load() (Record, bool, error) {
	raw, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Record{}, false, nil
		}
		return Record{}, false, err
	}
	r, err := DecodeRecord(raw)
	if err != nil {
		return Record{}, false, err
	}
	return r, true, nil
}

package deploy

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"incubant/go-deployer/internal/stacks"
)

const DefaultArtifactExt = ".clar"

var (
	ErrArtifactUnavailable = errors.New("artifact unavailable")
	ErrDuplicateArtifact   = errors.New("duplicate artifact name")
	ErrNoArtifacts         = errors.New("no artifacts to deploy")
)

// Artifact is one deployable contract. Payload is opaque to the deployer.
type Artifact struct {
	Name    string
	Payload []byte
}

type ArtifactSource interface {
	Load(name string) (Artifact, error)
}

// DirSource reads <dir>/<name><ext>.
type DirSource struct {
	Dir string
	Ext string
}

func NewDirSource(dir string) DirSource {
	return DirSource{Dir: dir, Ext: DefaultArtifactExt}
}

func (s DirSource) Load(name string) (Artifact, error) {
	if err := stacks.ValidateContractName(name); err != nil {
		return Artifact{}, fmt.Errorf("%w: %v", ErrArtifactUnavailable, err)
	}
	ext := s.Ext
	if ext == "" {
		ext = DefaultArtifactExt
	}
	path := filepath.Join(s.Dir, name+ext)
	payload, err := os.ReadFile(path)
	if err != nil {
		return Artifact{}, fmt.Errorf("%w: %s: %v", ErrArtifactUnavailable, name, err)
	}
	return Artifact{Name: name, Payload: payload}, nil
}

// LoadArtifacts reads every artifact up front, in order, and rejects repeated names.
func LoadArtifacts(source ArtifactSource, names []string) ([]Artifact, error) {
	if len(names) == 0 {
		return nil, ErrNoArtifacts
	}
	seen := make(map[string]struct{}, len(names))
	out := make([]Artifact, 0, len(names))
	for _, raw := range names {
		name := strings.TrimSpace(raw)
		if _, dup := seen[name]; dup {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateArtifact, name)
		}
		seen[name] = struct{}{}
		art, err := source.Load(name)
		if err != nil {
			return nil, err
		}
		out = append(out, art)
	}
	return out, nil
}

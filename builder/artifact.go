package builder

import (
	"encoding/json"
	"fmt"
	"os"

	evmcommon "github.com/colorfulnotion/evmtests/common"
	"github.com/colorfulnotion/evmtests/log"
	"github.com/colorfulnotion/evmtests/testerrors"
	"github.com/colorfulnotion/evmtests/types"
)

// VariantRecord is one variant of an artifact. Exactly one of Ignored and
// Input is set.
type VariantRecord struct {
	Name    string                `json:"name"`
	Ignored string                `json:"ignored,omitempty"`
	Input   *types.AssembledInput `json:"input,omitempty"`
}

// Artifact is the parsed form of one fixture file.
type Artifact struct {
	Name     string          `json:"name"`
	Variants []VariantRecord `json:"variants"`
}

// WriteArtifact replaces the artifact at path.
func WriteArtifact(path string, a *Artifact) error {
	data, err := json.Marshal(a)
	if err != nil {
		return fmt.Errorf("encode artifact %s: %w", a.Name, err)
	}
	if err := evmcommon.WriteFileAtomic(path, data, 0o644); err != nil {
		return fmt.Errorf("write artifact %s: %w", path, err)
	}
	log.Trace(log.Assembler, "artifact written", "path", path, "variants", len(a.Variants))
	return nil
}

// ReadArtifact fully decodes the artifact at path.
func ReadArtifact(path string) (*Artifact, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var a Artifact
	if err := json.Unmarshal(data, &a); err != nil {
		return nil, fmt.Errorf("%s: %w: %v", path, testerrors.ErrPArtifactUnreadable, err)
	}
	return &a, nil
}

type lazyVariant struct {
	Name    string          `json:"name"`
	Ignored string          `json:"ignored,omitempty"`
	Input   json.RawMessage `json:"input,omitempty"`
}

// LazyArtifact holds variant payloads undecoded until Decode is called.
type LazyArtifact struct {
	Name     string        `json:"name"`
	Variants []lazyVariant `json:"variants"`
}

// ReadLazyArtifact decodes the artifact envelope only.
func ReadLazyArtifact(path string) (*LazyArtifact, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var a LazyArtifact
	if err := json.Unmarshal(data, &a); err != nil {
		return nil, fmt.Errorf("%s: %w: %v", path, testerrors.ErrPArtifactUnreadable, err)
	}
	return &a, nil
}

func (a *LazyArtifact) Len() int { return len(a.Variants) }

// Decode materializes variant i.
func (a *LazyArtifact) Decode(i int) (*VariantRecord, error) {
	if i < 0 || i >= len(a.Variants) {
		return nil, fmt.Errorf("variant %d of %s: out of range", i, a.Name)
	}
	lv := a.Variants[i]
	rec := &VariantRecord{Name: lv.Name, Ignored: lv.Ignored}
	if len(lv.Input) == 0 || string(lv.Input) == "null" {
		if rec.Ignored == "" {
			return nil, fmt.Errorf("variant %s: %w: no input", lv.Name, testerrors.ErrPArtifactUnreadable)
		}
		return rec, nil
	}
	var in types.AssembledInput
	if err := json.Unmarshal(lv.Input, &in); err != nil {
		return nil, fmt.Errorf("variant %s: %w: %v", lv.Name, testerrors.ErrPArtifactUnreadable, err)
	}
	rec.Input = &in
	return rec, nil
}

package model

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"
)

// Artifact names inside a store.
const (
	ScalerArtifact    = "scaler.json"
	TreeArtifact      = "gbdt_model.json"
	RecurrentArtifact = "lstm_model.json"
)

const artifactVersion = 1

// ErrArtifactNotFound is returned by stores when a named artifact is absent.
var ErrArtifactNotFound = errors.New("artifact not found")

// ErrMalformedArtifact is returned when a decoded artifact cannot be used
// for scoring.
var ErrMalformedArtifact = errors.New("malformed artifact")

// ArtifactStore persists named model documents.
type ArtifactStore interface {
	Put(ctx context.Context, name string, data []byte) error
	Get(ctx context.Context, name string) ([]byte, error)
}

// DirStore keeps artifacts as files in a local directory.
type DirStore struct {
	Dir string
}

// Put writes the artifact, creating the directory when needed.
func (s DirStore) Put(_ context.Context, name string, data []byte) error {
	if err := os.MkdirAll(s.Dir, 0o755); err != nil {
		return fmt.Errorf("create %s: %w", s.Dir, err)
	}
	tmp := filepath.Join(s.Dir, "."+name+".tmp")
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", name, err)
	}
	return os.Rename(tmp, filepath.Join(s.Dir, name))
}

// Get reads the artifact.
func (s DirStore) Get(_ context.Context, name string) ([]byte, error) {
	data, err := os.ReadFile(filepath.Join(s.Dir, name))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrArtifactNotFound, name)
	}
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", name, err)
	}
	return data, nil
}

type envelope struct {
	Kind      string          `json:"kind"`
	Version   int             `json:"version"`
	CreatedAt time.Time       `json:"created_at"`
	Features  []string        `json:"features"`
	Payload   json.RawMessage `json:"payload"`
}

// Artifacts is the set of trained components. Any of them may be nil.
type Artifacts struct {
	Scaler    *Scaler
	Tree      *GBDT
	Recurrent *LSTM
}

// SaveArtifacts writes every non-nil artifact to store.
func SaveArtifacts(ctx context.Context, store ArtifactStore, a Artifacts, now time.Time) error {
	items := []struct {
		name, kind string
		value      any
		present    bool
	}{
		{ScalerArtifact, "scaler", a.Scaler, a.Scaler != nil},
		{TreeArtifact, "gbdt", a.Tree, a.Tree != nil},
		{RecurrentArtifact, "lstm", a.Recurrent, a.Recurrent != nil},
	}
	for _, it := range items {
		if !it.present {
			continue
		}
		payload, err := json.Marshal(it.value)
		if err != nil {
			return fmt.Errorf("encode %s: %w", it.name, err)
		}
		doc, err := json.Marshal(envelope{
			Kind:      it.kind,
			Version:   artifactVersion,
			CreatedAt: now.UTC(),
			Features:  FeatureColumns,
			Payload:   payload,
		})
		if err != nil {
			return fmt.Errorf("encode %s: %w", it.name, err)
		}
		if err := store.Put(ctx, it.name, doc); err != nil {
			return fmt.Errorf("store %s: %w", it.name, err)
		}
	}
	return nil
}

// LoadArtifacts loads whatever artifacts are available. The returned error
// joins one error per artifact that could not be loaded; the artifacts that
// did load are returned regardless.
func LoadArtifacts(ctx context.Context, store ArtifactStore) (Artifacts, error) {
	var a Artifacts
	var errs []error

	a.Scaler = &Scaler{}
	if err := loadOne(ctx, store, ScalerArtifact, "scaler", a.Scaler); err != nil {
		a.Scaler = nil
		errs = append(errs, err)
	}
	a.Tree = &GBDT{}
	if err := loadOne(ctx, store, TreeArtifact, "gbdt", a.Tree); err != nil {
		a.Tree = nil
		errs = append(errs, err)
	}
	a.Recurrent = &LSTM{}
	if err := loadOne(ctx, store, RecurrentArtifact, "lstm", a.Recurrent); err != nil {
		a.Recurrent = nil
		errs = append(errs, err)
	}
	return a, errors.Join(errs...)
}

type shapeChecker interface {
	checkShape(width int) error
}

func loadOne(ctx context.Context, store ArtifactStore, name, kind string, into shapeChecker) error {
	data, err := store.Get(ctx, name)
	if err != nil {
		return err
	}
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return fmt.Errorf("decode %s: %w", name, err)
	}
	if env.Kind != kind {
		return fmt.Errorf("%s: kind %q, want %q", name, env.Kind, kind)
	}
	if env.Version != artifactVersion {
		return fmt.Errorf("%s: unsupported version %d", name, env.Version)
	}
	if len(env.Features) != NumFeatures {
		return fmt.Errorf("%s: %w: trained on %d features", name, ErrFeatureCount, len(env.Features))
	}
	if err := json.Unmarshal(env.Payload, into); err != nil {
		return fmt.Errorf("decode %s payload: %w", name, err)
	}
	if err := into.checkShape(NumFeatures); err != nil {
		return fmt.Errorf("%s: %w", name, err)
	}
	return nil
}

package pipeline

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/fxamacker/cbor/v2"
	"github.com/gofrs/flock"
	"github.com/google/uuid"
	"github.com/klauspost/compress/gzip"

	"bmiptools/pkg/errors"
	"bmiptools/pkg/plugin"
	"bmiptools/pkg/registry"
)

// SnapshotVersion is the binary snapshot format written by Save.
const SnapshotVersion = 1

const lockFile = ".pipeline.lock"

// Summary is the human-readable view of a pipeline.
type Summary struct {
	Name       string        `json:"name"`
	Folder     string        `json:"folder"`
	RunID      string        `json:"run_id,omitempty"`
	Operations []string      `json:"operations"`
	Steps      []StepSummary `json:"steps"`
}

type StepSummary struct {
	Key           string            `json:"key"`
	Operation     string            `json:"operation"`
	Fit           bool              `json:"fit,omitempty"`
	Configuration plugin.Dictionary `json:"configuration"`
}

type snapshot struct {
	Version    int            `cbor:"1,keyasint"`
	Name       string         `cbor:"2,keyasint"`
	Folder     string         `cbor:"3,keyasint"`
	RunID      string         `cbor:"4,keyasint"`
	Operations []string       `cbor:"5,keyasint"`
	Steps      []snapshotStep `cbor:"6,keyasint"`
}

// snapshotStep keeps the configuration as JSON so that it decodes to the
// same Dictionary the plugin produced.
type snapshotStep struct {
	Key           string `cbor:"1,keyasint"`
	Configuration []byte `cbor:"2,keyasint"`
	State         []byte `cbor:"3,keyasint,omitempty"`
}

// Summary returns the current configuration of every step.
func (p *Pipeline) Summary() Summary {
	sum := Summary{
		Name:       p.name,
		Folder:     p.folder,
		RunID:      p.runID.String(),
		Operations: p.Operations(),
	}
	for _, s := range p.steps {
		sum.Steps = append(sum.Steps, StepSummary{
			Key:           s.Key,
			Operation:     s.Operation,
			Fit:           s.Fit,
			Configuration: s.plugin.Configuration(),
		})
	}
	return sum
}

// Dir is the directory Save writes to.
func (p *Pipeline) Dir() string {
	return filepath.Join(p.folder, p.name)
}

func (p *Pipeline) basePath() string {
	return filepath.Join(p.Dir(), "pipeline__"+p.name)
}

// Save writes the JSON summary and the binary snapshot and returns the
// snapshot path.
func (p *Pipeline) Save() (string, error) {
	if p.state == Built {
		return "", errors.NewPipelineStateError(p.name, "save", p.state.String())
	}
	if err := os.MkdirAll(p.Dir(), 0o755); err != nil {
		return "", fmt.Errorf("create pipeline folder: %w", err)
	}
	lock := flock.New(filepath.Join(p.Dir(), lockFile))
	ok, err := lock.TryLock()
	if err != nil {
		return "", fmt.Errorf("acquire pipeline lock: %w", err)
	}
	if !ok {
		return "", fmt.Errorf("pipeline folder %s is being written by another process", p.Dir())
	}
	defer func() {
		if err := lock.Unlock(); err != nil {
			p.logger.Warn("failed to release pipeline lock", "error", err)
		}
	}()

	if err := writeJSON(p.basePath()+".json", p.Summary()); err != nil {
		return "", err
	}

	snap := snapshot{
		Version:    SnapshotVersion,
		Name:       p.name,
		Folder:     p.folder,
		RunID:      p.runID.String(),
		Operations: p.Operations(),
	}
	for _, s := range p.steps {
		cfg, err := json.Marshal(s.plugin.Configuration())
		if err != nil {
			return "", fmt.Errorf("encode %s configuration: %w", s.Key, err)
		}
		entry := snapshotStep{Key: s.Key, Configuration: cfg}
		if st, ok := s.plugin.(plugin.Stateful); ok {
			if entry.State, err = st.MarshalState(); err != nil {
				return "", fmt.Errorf("encode %s state: %w", s.Key, err)
			}
		}
		snap.Steps = append(snap.Steps, entry)
	}

	path := p.basePath() + ".bin"
	if err := writeSnapshot(path, snap); err != nil {
		return "", err
	}
	p.logger.Info("pipeline saved", "path", path)
	return path, nil
}

func writeSnapshot(path string, snap snapshot) error {
	data, err := cbor.Marshal(snap)
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create snapshot: %w", err)
	}
	defer f.Close()

	zw := gzip.NewWriter(f)
	if _, err := zw.Write(data); err != nil {
		return fmt.Errorf("write snapshot: %w", err)
	}
	if err := zw.Close(); err != nil {
		return fmt.Errorf("write snapshot: %w", err)
	}
	return f.Close()
}

func readSnapshot(path string) (snapshot, error) {
	var snap snapshot
	f, err := os.Open(path)
	if err != nil {
		return snap, fmt.Errorf("open snapshot: %w", err)
	}
	defer f.Close()

	zr, err := gzip.NewReader(f)
	if err != nil {
		return snap, fmt.Errorf("read snapshot %s: %w", path, err)
	}
	defer zr.Close()
	data, err := io.ReadAll(zr)
	if err != nil {
		return snap, fmt.Errorf("read snapshot %s: %w", path, err)
	}
	if err := cbor.Unmarshal(data, &snap); err != nil {
		return snap, fmt.Errorf("decode snapshot %s: %w", path, err)
	}
	if snap.Version != SnapshotVersion {
		return snap, fmt.Errorf("snapshot %s has unsupported version %d (want %d)", path, snap.Version, SnapshotVersion)
	}
	return snap, nil
}

// Load restores a pipeline from a snapshot written by Save. The result is
// in the LOADED state with the saved configurations and fitted state.
func Load(reg *registry.Registry, path string, opts ...Option) (*Pipeline, error) {
	snap, err := readSnapshot(path)
	if err != nil {
		return nil, err
	}
	p, err := New(reg, snap.Operations, snap.Folder, snap.Name, opts...)
	if err != nil {
		return nil, err
	}
	if id, err := uuid.Parse(snap.RunID); err == nil {
		p.runID = id
	}
	if len(snap.Steps) != len(p.steps) {
		return nil, fmt.Errorf("snapshot %s has %d steps for %d operations", path, len(snap.Steps), len(p.steps))
	}

	for i, entry := range snap.Steps {
		s := p.steps[i]
		if entry.Key != s.Key {
			return nil, fmt.Errorf("snapshot %s: step %d is %s, expected %s", path, i, entry.Key, s.Key)
		}
		var cfg plugin.Dictionary
		if err := json.Unmarshal(entry.Configuration, &cfg); err != nil {
			return nil, fmt.Errorf("decode %s configuration: %w", s.Key, err)
		}
		if err := s.plugin.Configure(cfg); err != nil {
			return nil, err
		}
		if st, ok := s.plugin.(plugin.Stateful); ok && len(entry.State) > 0 {
			if err := st.UnmarshalState(entry.State); err != nil {
				return nil, fmt.Errorf("restore %s state: %w", s.Key, err)
			}
		}
	}

	p.state = Loaded
	p.logger.Info("pipeline loaded", "path", path)
	return p, nil
}

// Template writes a summary of the default configuration of every step to
// path, for editing and later use with FromFile.
func (p *Pipeline) Template(path string) error {
	sum := p.Summary()
	for i, s := range p.steps {
		e, err := p.registry.Lookup(s.Operation)
		if err != nil {
			return err
		}
		sum.Steps[i].Configuration = e.Default
	}
	return writeJSON(path, sum)
}

func writeJSON(path string, v any) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create %s: %w", dir, err)
		}
	}
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("encode %s: %w", path, err)
	}
	if err := os.WriteFile(path, append(data, '\n'), 0o644); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}

func readSummary(path string) (Summary, error) {
	var sum Summary
	data, err := os.ReadFile(path)
	if err != nil {
		return sum, fmt.Errorf("read %s: %w", path, err)
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&sum); err != nil {
		return sum, fmt.Errorf("parse %s: %w", path, err)
	}
	if strings.TrimSpace(sum.Name) == "" && len(sum.Steps) == 0 {
		return sum, fmt.Errorf("%s contains no pipeline", path)
	}
	return sum, nil
}

// Package checkpoint persists committed stage outputs so an interrupted run can
// resume from the last good stage.
//
// A stage checkpoint is a directory holding survivors.jsonl, removed.jsonl,
// groups.jsonl and manifest.json. The manifest is written last and the directory
// is swapped into place with a rename, so a reader sees either the previous
// checkpoint or the complete new one.
package checkpoint

import (
	"bufio"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"corpusdedup/types"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const (
	ManifestFile  = "manifest.json"
	SurvivorsFile = "survivors.jsonl"
	RemovedFile   = "removed.jsonl"
	GroupsFile    = "groups.jsonl"

	manifestVersion = 2
)

// dataFiles are the checkpoint files covered by the manifest digests
var dataFiles = []string{SurvivorsFile, RemovedFile, GroupsFile}

// Files lists the checkpoint files in commit order; the manifest is always last
var Files = []string{SurvivorsFile, RemovedFile, GroupsFile, ManifestFile}

// ErrMiss reports that no usable checkpoint exists for the requested fingerprint
var ErrMiss = errors.New("checkpoint miss")

// Manifest describes a committed stage checkpoint
type Manifest struct {
	Version     int         `json:"version"`
	Stage       types.Stage `json:"stage"`
	Fingerprint string      `json:"fingerprint"`
	// OutputFingerprint is the corpus fingerprint of the survivors; the next
	// stage chains it into its own fingerprint.
	OutputFingerprint string    `json:"output_fingerprint"`
	Input             int       `json:"input"`
	Survivors         int       `json:"survivors"`
	Removed           int       `json:"removed"`
	Flagged           int       `json:"flagged"`
	Groups            int       `json:"groups"`
	RunID             string    `json:"run_id,omitempty"`
	CreatedAt         time.Time `json:"created_at"`
	// Digests maps each data file to the sha256 of its bytes
	Digests map[string]string `json:"digests"`
}

// Fingerprint derives a stage fingerprint from the stage name, its configuration
// fingerprint and the fingerprint of the incoming survivor set
func Fingerprint(stage types.Stage, configFingerprint, inputFingerprint string) string {
	h := sha256.New()
	fmt.Fprintf(h, "%s\x00%s\x00%s", stage, configFingerprint, inputFingerprint)
	return hex.EncodeToString(h.Sum(nil))
}

// survivorRecord is the on-disk form of a surviving document
type survivorRecord struct {
	ID      string `json:"id"`
	Text    string `json:"text"`
	Ordinal int    `json:"ordinal"`
}

// removedRecord is the on-disk form of a removed or flagged id
type removedRecord struct {
	ID      string `json:"id"`
	Flagged bool   `json:"flagged,omitempty"`
}

// Store is the checkpoint directory of one stage
type Store struct {
	dir    string
	stage  types.Stage
	logger zerolog.Logger
}

// NewStore returns the store for stage rooted at dir. Nothing is created until Commit.
func NewStore(dir string, stage types.Stage, logger zerolog.Logger) *Store {
	return &Store{dir: filepath.Clean(dir), stage: stage, logger: logger.With().Str("stage", string(stage)).Logger()}
}

// Dir returns the checkpoint directory
func (s *Store) Dir() string { return s.dir }

// Stage returns the stage the store belongs to
func (s *Store) Stage() types.Stage { return s.stage }

// Exists reports whether a committed checkpoint is present
func (s *Store) Exists() bool {
	_, err := os.Stat(filepath.Join(s.dir, ManifestFile))
	return err == nil
}

// Manifest reads the committed manifest
func (s *Store) Manifest() (*Manifest, error) {
	data, err := os.ReadFile(filepath.Join(s.dir, ManifestFile))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, ErrMiss
		}
		return nil, fmt.Errorf("%w: read manifest: %w", types.ErrCacheCorrupt, err)
	}
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("%w: parse manifest: %w", types.ErrCacheCorrupt, err)
	}
	if m.Version != manifestVersion || m.Stage != s.stage {
		return nil, fmt.Errorf("%w: manifest is for %s v%d, want %s v%d", types.ErrCacheCorrupt, m.Stage, m.Version, s.stage, manifestVersion)
	}
	return &m, nil
}

// Load returns the committed output when its fingerprint matches. A missing or
// stale checkpoint returns ErrMiss; an unreadable, edited or inconsistent one
// returns an error wrapping types.ErrCacheCorrupt.
func (s *Store) Load(fingerprint string) (*types.StageOutput, *Manifest, error) {
	m, err := s.Manifest()
	if err != nil {
		return nil, nil, err
	}
	if m.Fingerprint != fingerprint {
		s.logger.Info().Str("have", short(m.Fingerprint)).Str("want", short(fingerprint)).Msg("checkpoint is stale")
		return nil, nil, ErrMiss
	}
	for _, name := range dataFiles {
		digest, err := fileDigest(filepath.Join(s.dir, name))
		if err != nil {
			return nil, nil, fmt.Errorf("%w: %w", types.ErrCacheCorrupt, err)
		}
		if digest != m.Digests[name] {
			return nil, nil, fmt.Errorf("%w: %s does not match manifest digest", types.ErrCacheCorrupt, name)
		}
	}

	out := &types.StageOutput{Stage: s.stage, Survivors: []types.Document{}}
	err = readJSONL(filepath.Join(s.dir, SurvivorsFile), func(r survivorRecord) {
		out.Survivors = append(out.Survivors, types.Document{ID: r.ID, Text: r.Text, Ordinal: r.Ordinal})
	})
	if err != nil {
		return nil, nil, err
	}
	err = readJSONL(filepath.Join(s.dir, RemovedFile), func(r removedRecord) {
		if r.Flagged {
			out.Flagged = append(out.Flagged, r.ID)
			return
		}
		out.Removed = append(out.Removed, r.ID)
	})
	if err != nil {
		return nil, nil, err
	}
	err = readJSONL(filepath.Join(s.dir, GroupsFile), func(g types.DuplicateGroup) {
		out.Groups = append(out.Groups, g)
	})
	if err != nil {
		return nil, nil, err
	}

	switch {
	case len(out.Survivors) != m.Survivors, len(out.Removed) != m.Removed,
		len(out.Flagged) != m.Flagged, len(out.Groups) != m.Groups:
		return nil, nil, fmt.Errorf("%w: record counts do not match manifest", types.ErrCacheCorrupt)
	case types.CorpusFingerprint(out.Survivors) != m.OutputFingerprint:
		return nil, nil, fmt.Errorf("%w: survivors do not match manifest fingerprint", types.ErrCacheCorrupt)
	}
	return out, m, nil
}

// Commit atomically replaces the checkpoint with out. The files are written to a
// sibling temp directory, the manifest last, and the directory is renamed into place.
func (s *Store) Commit(out *types.StageOutput, m Manifest) (*Manifest, error) {
	m.Version = manifestVersion
	m.Stage = s.stage
	m.OutputFingerprint = types.CorpusFingerprint(out.Survivors)
	m.Survivors = len(out.Survivors)
	m.Removed = len(out.Removed)
	m.Flagged = len(out.Flagged)
	m.Groups = len(out.Groups)
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now().UTC()
	}

	if err := os.MkdirAll(filepath.Dir(s.dir), 0o755); err != nil {
		return nil, fmt.Errorf("create cache parent: %w", err)
	}
	suffix := uuid.NewString()
	tmp := s.dir + ".tmp-" + suffix
	if err := os.Mkdir(tmp, 0o755); err != nil {
		return nil, fmt.Errorf("create temp checkpoint: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			os.RemoveAll(tmp)
		}
	}()

	survivors := make([]survivorRecord, len(out.Survivors))
	for i, d := range out.Survivors {
		survivors[i] = survivorRecord{ID: d.ID, Text: d.Text, Ordinal: d.Ordinal}
	}
	removed := make([]removedRecord, 0, len(out.Removed)+len(out.Flagged))
	for _, id := range out.Removed {
		removed = append(removed, removedRecord{ID: id})
	}
	for _, id := range out.Flagged {
		removed = append(removed, removedRecord{ID: id, Flagged: true})
	}

	if err := writeJSONL(filepath.Join(tmp, SurvivorsFile), survivors); err != nil {
		return nil, err
	}
	if err := writeJSONL(filepath.Join(tmp, RemovedFile), removed); err != nil {
		return nil, err
	}
	if err := writeJSONL(filepath.Join(tmp, GroupsFile), out.Groups); err != nil {
		return nil, err
	}
	m.Digests = make(map[string]string, len(dataFiles))
	for _, name := range dataFiles {
		digest, err := fileDigest(filepath.Join(tmp, name))
		if err != nil {
			return nil, err
		}
		m.Digests[name] = digest
	}
	if err := writeFileSync(filepath.Join(tmp, ManifestFile), func(w io.Writer) error {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(m)
	}); err != nil {
		return nil, err
	}

	if err := s.swap(tmp, suffix); err != nil {
		return nil, err
	}
	committed = true
	s.logger.Info().Str("dir", s.dir).Str("fingerprint", short(m.Fingerprint)).Int("survivors", m.Survivors).Msg("checkpoint committed")
	return &m, nil
}

// swap moves tmp into place, parking the previous checkpoint until the rename succeeds
func (s *Store) swap(tmp, suffix string) error {
	old := s.dir + ".old-" + suffix
	hadOld := false
	if _, err := os.Stat(s.dir); err == nil {
		if err := os.Rename(s.dir, old); err != nil {
			return fmt.Errorf("park previous checkpoint: %w", err)
		}
		hadOld = true
	}
	if err := os.Rename(tmp, s.dir); err != nil {
		if hadOld {
			os.Rename(old, s.dir)
		}
		return fmt.Errorf("commit checkpoint: %w", err)
	}
	if hadOld {
		if err := os.RemoveAll(old); err != nil {
			s.logger.Warn().Err(err).Str("dir", old).Msg("failed to remove previous checkpoint")
		}
	}
	return nil
}

// Discard removes the checkpoint directory
func (s *Store) Discard() error {
	if err := os.RemoveAll(s.dir); err != nil {
		return fmt.Errorf("remove checkpoint %s: %w", s.dir, err)
	}
	return nil
}

func readJSONL[T any](path string, fn func(T)) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("%w: open %s: %w", types.ErrCacheCorrupt, filepath.Base(path), err)
	}
	defer f.Close()

	dec := json.NewDecoder(bufio.NewReader(f))
	for line := 1; ; line++ {
		var v T
		if err := dec.Decode(&v); err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return fmt.Errorf("%w: %s record %d: %w", types.ErrCacheCorrupt, filepath.Base(path), line, err)
		}
		fn(v)
	}
}

func writeJSONL[T any](path string, records []T) error {
	return writeFileSync(path, func(w io.Writer) error {
		enc := json.NewEncoder(w)
		for _, r := range records {
			if err := enc.Encode(r); err != nil {
				return err
			}
		}
		return nil
	})
}

// writeFileSync writes path through a buffer and fsyncs it before closing
func writeFileSync(path string, fill func(io.Writer) error) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", filepath.Base(path), err)
	}
	bw := bufio.NewWriter(f)
	if err := fill(bw); err != nil {
		f.Close()
		return fmt.Errorf("write %s: %w", filepath.Base(path), err)
	}
	if err := bw.Flush(); err != nil {
		f.Close()
		return fmt.Errorf("flush %s: %w", filepath.Base(path), err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return fmt.Errorf("sync %s: %w", filepath.Base(path), err)
	}
	return f.Close()
}

func fileDigest(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("open %s: %w", filepath.Base(path), err)
	}
	defer f.Close()
	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", fmt.Errorf("read %s: %w", filepath.Base(path), err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

func short(fp string) string {
	if len(fp) > 12 {
		return fp[:12]
	}
	return fp
}

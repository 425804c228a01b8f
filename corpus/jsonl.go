// Package corpus reads and writes line-delimited JSON document collections.
package corpus

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"corpusdedup/types"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// record is one input line. Only id and text are read; other keys are ignored.
type record struct {
	ID   json.RawMessage `json:"id"`
	Text *string         `json:"text"`
}

// Options controls how records become documents
type Options struct {
	// IDPrefix names generated ids: <prefix>-<position, 10 digits>. A generated
	// id already taken by an explicit id gets a -1, -2, ... suffix.
	IDPrefix string
	Logger   zerolog.Logger
}

// Result is a loaded corpus. Invalid records are excluded and described in Problems.
type Result struct {
	Docs     []types.Document
	Invalid  int
	Problems []error
}

// Record is a candidate document. Position is its 1-based place in the input and
// names the generated id when ID is empty.
type Record struct {
	ID       string
	Text     string
	Position int
}

// collector validates records in input order. Generated ids are assigned in
// finish, once every explicit id is known.
type collector struct {
	opts    Options
	unit    string
	res     *Result
	seen    map[string]int
	pending []Record
}

func newCollector(opts Options, unit string) *collector {
	if opts.IDPrefix == "" {
		opts.IDPrefix = "doc"
	}
	return &collector{
		opts: opts,
		unit: unit,
		res:  &Result{Docs: []types.Document{}},
		seen: make(map[string]int),
	}
}

func (c *collector) invalid(pos int, format string, args ...any) {
	err := fmt.Errorf("%w: %s %d: %s", types.ErrInput, c.unit, pos, fmt.Sprintf(format, args...))
	c.res.Invalid++
	c.res.Problems = append(c.res.Problems, err)
	c.opts.Logger.Warn().Int(c.unit, pos).Msg(err.Error())
}

func (c *collector) add(rec Record) {
	if strings.TrimSpace(rec.Text) == "" {
		c.invalid(rec.Position, "blank text")
		return
	}
	if rec.ID != "" {
		if first, dup := c.seen[rec.ID]; dup {
			c.invalid(rec.Position, "duplicate id %q (first seen at %s %d)", rec.ID, c.unit, first)
			return
		}
		c.seen[rec.ID] = rec.Position
	}
	c.pending = append(c.pending, rec)
}

func (c *collector) finish() *Result {
	for _, rec := range c.pending {
		id := rec.ID
		if id == "" {
			base := fmt.Sprintf("%s-%010d", c.opts.IDPrefix, rec.Position)
			id = base
			for n := 1; ; n++ {
				if _, taken := c.seen[id]; !taken {
					break
				}
				id = fmt.Sprintf("%s-%d", base, n)
			}
			c.seen[id] = rec.Position
		}
		c.res.Docs = append(c.res.Docs, types.Document{ID: id, Text: rec.Text, Ordinal: len(c.res.Docs)})
	}
	c.opts.Logger.Info().Int("docs", len(c.res.Docs)).Int("invalid", c.res.Invalid).Msg("corpus loaded")
	return c.res
}

// Collect validates in-memory records the way Read validates lines: blank text
// and repeated ids are excluded and counted, ordinals are dense over the rest.
func Collect(records []Record, opts Options) *Result {
	c := newCollector(opts, "document")
	for _, rec := range records {
		c.add(rec)
	}
	return c.finish()
}

// Read parses JSONL from r. Malformed lines, blank text and repeated ids are
// input errors: the record is excluded, logged and counted, and reading continues.
// Ordinals are assigned densely over the valid records in input order.
func Read(ctx context.Context, r io.Reader, opts Options) (*Result, error) {
	c := newCollector(opts, "line")
	br := bufio.NewReaderSize(r, 1<<20)

	for line := 1; ; line++ {
		if line%4096 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		raw, err := br.ReadBytes('\n')
		if err != nil && !errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("read line %d: %w", line, err)
		}
		eof := errors.Is(err, io.EOF)
		raw = bytes.TrimSpace(raw)

		if len(raw) > 0 {
			if rec, problem := parseRecord(raw, line); problem != "" {
				c.invalid(line, "%s", problem)
			} else {
				c.add(rec)
			}
		}
		if eof {
			break
		}
	}
	return c.finish(), nil
}

// parseRecord decodes one non-empty line, returning a problem description when
// the record is malformed
func parseRecord(raw []byte, line int) (Record, string) {
	var rec record
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(&rec); err != nil {
		return Record{}, fmt.Sprintf("malformed JSON: %v", err)
	}
	if rec.Text == nil {
		return Record{}, "missing text"
	}

	id, err := parseID(rec.ID)
	if err != nil {
		return Record{}, err.Error()
	}
	return Record{ID: id, Text: *rec.Text, Position: line}, ""
}

// parseID accepts a JSON string or number; null and absent ids return ""
func parseID(raw json.RawMessage) (string, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return "", nil
	}
	switch raw[0] {
	case '"':
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return "", fmt.Errorf("invalid id: %v", err)
		}
		s = strings.TrimSpace(s)
		if s == "" {
			return "", errors.New("empty id")
		}
		return s, nil
	case '-', '0', '1', '2', '3', '4', '5', '6', '7', '8', '9':
		var n json.Number
		if err := json.Unmarshal(raw, &n); err != nil {
			return "", fmt.Errorf("invalid id: %v", err)
		}
		return n.String(), nil
	}
	return "", fmt.Errorf("id must be a string or number, got %s", raw)
}

// ReadFile opens path and reads it with Read
func ReadFile(ctx context.Context, path string, opts Options) (*Result, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open input '%s': %w", path, err)
	}
	defer f.Close()
	return Read(ctx, f, opts)
}

// outputRecord is the on-disk form of an emitted document
type outputRecord struct {
	ID   string `json:"id"`
	Text string `json:"text"`
}

// Write emits docs as JSONL in order
func Write(w io.Writer, docs []types.Document) error {
	bw := bufio.NewWriter(w)
	enc := json.NewEncoder(bw)
	enc.SetEscapeHTML(false)
	for _, d := range docs {
		if err := enc.Encode(outputRecord{ID: d.ID, Text: d.Text}); err != nil {
			return fmt.Errorf("encode %s: %w", d.ID, err)
		}
	}
	return bw.Flush()
}

// WriteFile writes docs to path through a temp file renamed into place, creating
// parent directories as needed
func WriteFile(path string, docs []types.Document) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create output dir: %w", err)
	}
	tmp := path + ".tmp-" + uuid.NewString()
	f, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("create %s: %w", tmp, err)
	}
	if err := Write(f, docs); err != nil {
		f.Close()
		os.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("close %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("rename output: %w", err)
	}
	return nil
}

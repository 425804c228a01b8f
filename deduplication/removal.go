package deduplication

import (
	"fmt"

	"corpusdedup/types"
)

// RemovalEntry records which stage removed a document
type RemovalEntry struct {
	ID    string      `json:"id"`
	Stage types.Stage `json:"stage"`
}

// RemovalSet accumulates removed ids across stages. It only grows; adding an id a
// second time is an internal consistency violation. Not safe for concurrent use:
// the orchestrator owns it and stages report removals through their output.
type RemovalSet struct {
	entries []RemovalEntry
	index   map[string]int
}

// NewRemovalSet returns an empty set
func NewRemovalSet() *RemovalSet {
	return &RemovalSet{index: make(map[string]int)}
}

// Add records id as removed by stage
func (r *RemovalSet) Add(id string, stage types.Stage) error {
	if i, ok := r.index[id]; ok {
		return fmt.Errorf("%w: document %s removed by %s and again by %s",
			types.ErrConsistency, id, r.entries[i].Stage, stage)
	}
	r.index[id] = len(r.entries)
	r.entries = append(r.entries, RemovalEntry{ID: id, Stage: stage})
	return nil
}

// AddAll records every id as removed by stage, stopping at the first violation
func (r *RemovalSet) AddAll(ids []string, stage types.Stage) error {
	for _, id := range ids {
		if err := r.Add(id, stage); err != nil {
			return err
		}
	}
	return nil
}

// Contains reports whether id has been removed
func (r *RemovalSet) Contains(id string) bool {
	_, ok := r.index[id]
	return ok
}

// StageOf returns the stage that removed id
func (r *RemovalSet) StageOf(id string) (types.Stage, bool) {
	i, ok := r.index[id]
	if !ok {
		return "", false
	}
	return r.entries[i].Stage, true
}

// Len returns the number of removed ids
func (r *RemovalSet) Len() int { return len(r.entries) }

// Entries returns a copy of the removals in insertion order
func (r *RemovalSet) Entries() []RemovalEntry {
	return append([]RemovalEntry(nil), r.entries...)
}

// CountByStage returns the number of removals attributed to each stage
func (r *RemovalSet) CountByStage() map[types.Stage]int {
	out := make(map[types.Stage]int)
	for _, e := range r.entries {
		out[e.Stage]++
	}
	return out
}

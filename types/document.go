package types

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// Document represents a single corpus record after id assignment.
type Document struct {
	ID   string `json:"id"`
	Text string `json:"text"`
	// Ordinal is the position of the record among valid input records.
	// It is the global tie-break key for every retention decision.
	Ordinal int `json:"-"`
}

// Stage names a pipeline stage.
type Stage string

const (
	StageExact    Stage = "exact"
	StageFuzzy    Stage = "fuzzy"
	StageSemantic Stage = "semantic"
)

// Stages lists the pipeline stages in execution order.
var Stages = []Stage{StageExact, StageFuzzy, StageSemantic}

// DuplicateGroup is a set of documents judged duplicates of one another at one stage.
type DuplicateGroup struct {
	Stage    Stage    `json:"stage"`
	Key      string   `json:"key"`
	Members  []string `json:"members"`
	Survivor string   `json:"survivor"`
	Removed  []string `json:"removed"`
	// Scores holds the per-member measure that justified the grouping:
	// Jaccard similarity for fuzzy groups, distance to centroid for semantic groups.
	Scores map[string]float64 `json:"scores,omitempty"`
}

// Size returns the number of members in the group
func (g DuplicateGroup) Size() int { return len(g.Members) }

// StageOutput is the materialized result of one stage
type StageOutput struct {
	Stage     Stage            `json:"stage"`
	Survivors []Document       `json:"-"`
	Removed   []string         `json:"removed"`
	Flagged   []string         `json:"flagged,omitempty"`
	Groups    []DuplicateGroup `json:"groups"`
}

// SurvivorIDs returns the ids of the surviving documents in order
func (o *StageOutput) SurvivorIDs() []string {
	ids := make([]string, len(o.Survivors))
	for i, d := range o.Survivors {
		ids[i] = d.ID
	}
	return ids
}

// CorpusFingerprint returns a stable digest of an ordered document set.
// Two sets with the same ids and texts in the same order share a fingerprint.
func CorpusFingerprint(docs []Document) string {
	h := sha256.New()
	for _, d := range docs {
		fmt.Fprintf(h, "%d:%s\x00%d:%s\x00", len(d.ID), d.ID, len(d.Text), d.Text)
	}
	return hex.EncodeToString(h.Sum(nil))
}

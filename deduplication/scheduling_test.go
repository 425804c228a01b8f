package deduplication

import (
	"context"
	"fmt"
	"math/rand/v2"
	"strings"
	"testing"

	"corpusdedup/config"
	"corpusdedup/types"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var vocabulary = strings.Fields(`river mountain harbor budget committee vote spring
	sediment ocean forest market engine signal garden bridge winter summer storm
	village archive library museum orchard canyon glacier desert island valley
	lantern compass harvest meadow thunder whisper velvet marble copper silver`)

// generatedCorpus returns n documents where every fifth one repeats an earlier
// document, so each stage has groups to find
func generatedCorpus(n int) []types.Document {
	rng := rand.New(rand.NewPCG(7, 11))
	docs := make([]types.Document, n)
	for i := range docs {
		var text string
		if i >= 5 && i%5 == 0 {
			text = docs[rng.IntN(i)].Text
		} else {
			words := make([]string, 14)
			for j := range words {
				words[j] = vocabulary[rng.IntN(len(vocabulary))]
			}
			text = strings.Join(words, " ")
		}
		docs[i] = types.Document{ID: fmt.Sprintf("d%03d", i), Text: text, Ordinal: i}
	}
	return docs
}

func TestOutputDoesNotDependOnWorkerCount(t *testing.T) {
	docs := generatedCorpus(300)

	fuzzy := config.DefaultConfig().Fuzzy
	fuzzy.CharNgrams = 5
	semantic := config.DefaultConfig().Semantic
	semantic.EmbeddingProvider = config.ProviderHashing
	semantic.EmbeddingBatchSize = 16
	semantic.NClusters = 20

	stages := []struct {
		name string
		run  func(res *Resources) (*types.StageOutput, error)
	}{
		{"exact", func(res *Resources) (*types.StageOutput, error) {
			return DedupExact(context.Background(), docs, config.DefaultConfig().Exact, res)
		}},
		{"fuzzy", func(res *Resources) (*types.StageOutput, error) {
			return DedupFuzzy(context.Background(), docs, fuzzy, res)
		}},
		{"semantic", func(res *Resources) (*types.StageOutput, error) {
			embedder := NewHashingEmbeddings(semantic.EmbeddingDim, semantic.PoolingStrategy, semantic.EmbeddingModel)
			return DedupSemantic(context.Background(), docs, semantic, embedder, 3, res)
		}},
	}

	for _, stage := range stages {
		t.Run(stage.name, func(t *testing.T) {
			var outputs []*types.StageOutput
			for _, workers := range []int{1, 8} {
				res, release := AcquireResources(workers, 64<<20, zerolog.Nop())
				out, err := stage.run(res)
				release()
				require.NoError(t, err, "workers=%d", workers)
				outputs = append(outputs, out)
			}

			serial, parallel := outputs[0], outputs[1]
			assert.NotEmpty(t, serial.Groups)
			assert.Equal(t, serial.Groups, parallel.Groups)
			assert.Equal(t, serial.Removed, parallel.Removed)
			assert.Equal(t, serial.SurvivorIDs(), parallel.SurvivorIDs())
		})
	}
}

package kafka

import (
	"encoding/json"
	"errors"
	"testing"

	"corpusdedup/types"

	"github.com/IBM/sarama/mocks"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func expectEvent(t *testing.T, wantType string, check func(Event)) mocks.ValueChecker {
	return func(val []byte) error {
		var e Event
		if err := json.Unmarshal(val, &e); err != nil {
			return err
		}
		if e.Type != wantType {
			return errors.New("unexpected event type " + e.Type)
		}
		check(e)
		return nil
	}
}

func TestPublisherStageCompleted(t *testing.T) {
	producer := mocks.NewSyncProducer(t, nil)
	producer.ExpectSendMessageWithCheckerFunctionAndSucceed(expectEvent(t, EventStageCompleted, func(e Event) {
		assert.Equal(t, "run-1", e.RunID)
		assert.Equal(t, types.StageFuzzy, e.Stage)
		require.NotNil(t, e.Summary)
		assert.Equal(t, 4, e.Summary.Removed)
	}))

	pub := NewPublisherWithProducer(producer, "audit", zerolog.Nop())
	err := pub.StageCompleted("run-1", types.StageSummary{Stage: types.StageFuzzy, Input: 10, Survivors: 6, Removed: 4})
	require.NoError(t, err)
	require.NoError(t, pub.Close())
}

func TestPublisherGroups(t *testing.T) {
	producer := mocks.NewSyncProducer(t, nil)
	groups := []types.DuplicateGroup{
		{Stage: types.StageExact, Key: "h1", Members: []string{"a", "b"}, Survivor: "a", Removed: []string{"b"}},
		{Stage: types.StageExact, Key: "h2", Members: []string{"c", "d"}, Survivor: "c", Removed: []string{"d"}},
	}
	for _, g := range groups {
		want := g.Key
		producer.ExpectSendMessageWithCheckerFunctionAndSucceed(expectEvent(t, EventDuplicateGroup, func(e Event) {
			require.NotNil(t, e.Group)
			assert.Equal(t, want, e.Group.Key)
		}))
	}

	pub := NewPublisherWithProducer(producer, "audit", zerolog.Nop())
	require.NoError(t, pub.Groups("run-1", types.StageExact, groups))
	require.NoError(t, pub.Groups("run-1", types.StageExact, nil))
	require.NoError(t, pub.Close())
}

func TestPublisherSurfacesErrors(t *testing.T) {
	producer := mocks.NewSyncProducer(t, nil)
	producer.ExpectSendMessageAndFail(errors.New("broker down"))

	pub := NewPublisherWithProducer(producer, "audit", zerolog.Nop())
	err := pub.StageCompleted("run-1", types.StageSummary{Stage: types.StageExact})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "broker down")
	require.NoError(t, pub.Close())
}

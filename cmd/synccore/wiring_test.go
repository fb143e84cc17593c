package main

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/hyperengineering/synccore/internal/config"
	"github.com/hyperengineering/synccore/internal/model"
)

func TestBuildFieldPolicies_TranslatesConfiguredStrategiesAndMerge(t *testing.T) {
	policies := buildFieldPolicies(map[string]config.FieldPolicyConfig{
		"tags":       {Strategy: "merge", AutoResolve: true},
		"highlights": {Strategy: "merge", AutoResolve: true, MergeBy: "id"},
		"rating":     {Strategy: "ask-user"},
	})

	require.Equal(t, model.StrategyMerge, policies["tags"].Strategy)
	require.True(t, policies["tags"].AutoResolve)
	require.Nil(t, policies["tags"].Merge)

	require.Equal(t, model.StrategyMerge, policies["highlights"].Strategy)
	require.NotNil(t, policies["highlights"].Merge)

	require.Equal(t, model.StrategyAskUser, policies["rating"].Strategy)
	require.False(t, policies["rating"].AutoResolve)
}

func TestBuildEngine_AcceptsConfiguredFieldPolicies(t *testing.T) {
	cfg := config.Config{
		Store: config.StoreConfig{Path: ":memory:"},
		Executor: config.ExecutorConfig{
			Concurrency: 1,
		},
		Checkpoint: config.CheckpointConfig{Interval: 1},
		Conflict: config.ConflictConfig{
			DefaultStrategy: "ask-user",
			FieldPolicies: map[string]config.FieldPolicyConfig{
				"progress": {Strategy: "last-write-wins", AutoResolve: true},
			},
		},
	}

	_, s, err := buildEngine(&cfg)
	require.NoError(t, err)
	defer s.Close()
}

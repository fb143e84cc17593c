package main

import (
	"fmt"
	"time"

	"github.com/hyperengineering/synccore/internal/adapter"
	"github.com/hyperengineering/synccore/internal/checkpoint"
	"github.com/hyperengineering/synccore/internal/conflict"
	"github.com/hyperengineering/synccore/internal/config"
	"github.com/hyperengineering/synccore/internal/executor"
	"github.com/hyperengineering/synccore/internal/model"
	"github.com/hyperengineering/synccore/internal/ratelimit"
	"github.com/hyperengineering/synccore/internal/store"
	"github.com/hyperengineering/synccore/internal/syncengine"
)

// buildEngine wires the store, rate limiter, checkpoint archiver, and
// registry into a ready-to-initialize Engine. No adapters are registered
// here: adapters are external collaborators supplied by the embedding
// program, so the standalone binary always starts with an empty
// registry unless a deployment-specific build adds its own init step.
func buildEngine(cfg *config.Config) (*syncengine.Engine, store.Store, error) {
	s, err := store.Open(cfg.Store.Path)
	if err != nil {
		return nil, nil, fmt.Errorf("open store: %w", err)
	}

	limiter := buildLimiter(cfg.RateLimit)

	archiver, err := checkpoint.NewArchiver(checkpoint.ArchiveConfig{
		Bucket:    cfg.Checkpoint.Archive.Bucket,
		Region:    cfg.Checkpoint.Archive.Region,
		Endpoint:  cfg.Checkpoint.Archive.Endpoint,
		AccessKey: cfg.Checkpoint.Archive.AccessKey,
		SecretKey: cfg.Checkpoint.Archive.SecretKey,
	})
	if err != nil {
		s.Close()
		return nil, nil, fmt.Errorf("build checkpoint archiver: %w", err)
	}

	registry := adapter.NewRegistry()

	engCfg := syncengine.Config{
		Executor: executor.Config{
			Concurrency: cfg.Executor.Concurrency,
			TaskTimeout: time.Duration(cfg.Executor.TaskTimeout),
			MaxRetries:  cfg.Executor.MaxRetries,
			RetryDelay:  time.Duration(cfg.Executor.RetryDelay),
			Backoff:     cfg.Executor.Backoff,
			HighWater:   cfg.Executor.HighWater,
			LowWater:    cfg.Executor.LowWater,
		},
		Checkpoint: checkpoint.Config{
			Interval:       cfg.Checkpoint.Interval,
			MaxAge:         time.Duration(cfg.Checkpoint.MaxAge),
			MaxCheckpoints: cfg.Checkpoint.MaxCheckpoints,
		},
		DefaultConflictStrategy: resolveStrategy(cfg.Conflict.DefaultStrategy),
		FieldPolicies:           buildFieldPolicies(cfg.Conflict.FieldPolicies),
	}

	return syncengine.New(s, registry, limiter, archiver, engCfg), s, nil
}

func buildLimiter(cfg config.RateLimitConfig) ratelimit.Limiter {
	seconds := time.Duration(cfg.Interval).Seconds()
	if seconds <= 0 {
		seconds = 1
	}
	bucket := ratelimit.NewTokenBucket(cfg.TokensPerInterval, seconds, cfg.MaxBurst)
	if !cfg.Adaptive {
		return bucket
	}
	return ratelimit.NewAdaptive(bucket, cfg.MinRate, cfg.MaxRate)
}

// buildFieldPolicies translates the configured per-field policy table into
// the Resolver's FieldPolicy shape, attaching a merge function where the
// config names one.
func buildFieldPolicies(cfg map[string]config.FieldPolicyConfig) map[string]conflict.FieldPolicy {
	policies := make(map[string]conflict.FieldPolicy, len(cfg))
	for field, fp := range cfg {
		policy := conflict.FieldPolicy{
			Strategy:    resolveStrategy(fp.Strategy),
			AutoResolve: fp.AutoResolve,
		}
		switch fp.MergeBy {
		case "id":
			policy.Merge = conflict.MergeByIDNewestWins
		}
		policies[field] = policy
	}
	return policies
}

func resolveStrategy(s string) model.ResolutionStrategy {
	switch s {
	case string(model.StrategyPreferLocal):
		return model.StrategyPreferLocal
	case string(model.StrategyPreferRemote):
		return model.StrategyPreferRemote
	case string(model.StrategyLastWriteWins):
		return model.StrategyLastWriteWins
	case string(model.StrategyMerge):
		return model.StrategyMerge
	default:
		return model.StrategyAskUser
	}
}

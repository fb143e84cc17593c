// Package conflict implements the Conflict Resolver: detection
// of semantic conflicts between a remote change and locally-tracked delta
// state, and resolution via configurable, field-specific strategies.
package conflict

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/hyperengineering/synccore/internal/delta"
	"github.com/hyperengineering/synccore/internal/hasher"
	"github.com/hyperengineering/synccore/internal/model"
	"github.com/hyperengineering/synccore/internal/store"
)

// fieldDivergeHasher computes the baseline digest fieldDiverges compares
// PreviousData against. It carries no per-resolver state, so one shared
// instance is sufficient.
var fieldDivergeHasher = hasher.New()

// FieldPolicy configures how a single field is resolved when it conflicts.
type FieldPolicy struct {
	Strategy    model.ResolutionStrategy
	AutoResolve bool
	Merge       MergeFunc
}

// MergeFunc computes a merged value from a conflicting local/remote pair.
type MergeFunc func(local, remote interface{}) interface{}

// Resolver detects and resolves conflicts against the Store's tracked
// delta state across every registered adapter source.
type Resolver struct {
	store         store.Store
	sources       []model.Source
	fieldPolicies map[string]FieldPolicy
	defaultPolicy model.ResolutionStrategy
}

// New creates a Resolver. sources lists every registered adapter source,
// used for the cross-source detection pass.
func New(s store.Store, sources []model.Source, defaultStrategy model.ResolutionStrategy) *Resolver {
	return &Resolver{
		store:         s,
		sources:       sources,
		fieldPolicies: make(map[string]FieldPolicy),
		defaultPolicy: defaultStrategy,
	}
}

// SetFieldPolicy configures resolution policy for a named field.
func (r *Resolver) SetFieldPolicy(field string, policy FieldPolicy) {
	r.fieldPolicies[field] = policy
}

// Detect runs the three-step detection algorithm against a remote change
// and returns every conflict found.
func (r *Resolver) Detect(ctx context.Context, c model.Change) ([]model.Conflict, error) {
	var conflicts []model.Conflict

	if c.Operation == model.OperationDelete {
		local, err := r.store.GetDeltaState(ctx, c.Source, c.EntityID)
		if err == nil && delta.HasLocalModifications(*local) {
			conflicts = append(conflicts, r.newConflict(model.ConflictDeleteVsModify, c, "", nil, nil))
		}
		return conflicts, nil
	}

	for _, s := range r.sources {
		if s == c.Source {
			continue
		}
		state, err := r.store.GetDeltaState(ctx, s, c.EntityID)
		if err != nil {
			continue
		}
		if !delta.HasLocalModifications(*state) {
			continue
		}

		hashDiffers := state.Hash != "" && c.Hash != "" && state.Hash != c.Hash
		overlapping := state.LastModified.After(state.LastSynced) && c.Timestamp.After(state.LastSynced)
		if hashDiffers || overlapping {
			conflicts = append(conflicts, r.newConflict(model.ConflictCrossSource, c, "", nil, nil))
		}
	}

	for _, fc := range c.FieldChanges {
		local, err := r.store.GetDeltaState(ctx, c.Source, c.EntityID)
		if err != nil {
			continue
		}
		if !fieldDiverges(local, c, fc) {
			continue
		}
		conflicts = append(conflicts, r.newConflict(model.ConflictFieldLevel, c, fc.Field, fc.Old, fc.New))
	}

	return conflicts, nil
}

// fieldDiverges decides whether a field-level conflict should be raised.
// When the change carries PreviousData, that's the higher-fidelity signal:
// the field only diverges if our tracked local hash disagrees with the
// baseline the change was computed against. Absent PreviousData, it falls
// back to the coarser signal of "the change recorded an old value and we've
// been locally modified since".
func fieldDiverges(local *model.DeltaState, c model.Change, fc model.FieldChange) bool {
	if !delta.HasLocalModifications(*local) {
		return false
	}
	if baseline, ok := c.PreviousData.(map[string]interface{}); ok {
		return fieldDivergeHasher.Hash(baseline) != local.Hash
	}
	return fc.Old != nil
}

func (r *Resolver) newConflict(kind model.ConflictKind, c model.Change, field string, localValue, remoteValue interface{}) model.Conflict {
	return model.Conflict{
		ID:           ulid.Make().String(),
		Kind:         kind,
		EntityType:   c.EntityType,
		EntityID:     c.EntityID,
		Field:        field,
		RemoteChange: &c,
		LocalValue:   localValue,
		RemoteValue:  remoteValue,
		DetectedAt:   time.Now().UTC(),
	}
}

// Resolve applies the configured strategy for a conflict and returns its
// resolved value. "ask-user" conflicts are returned unresolved
// (Conflict.Resolved stays false) and the caller must supply a decision via
// ResolveWithStrategy.
func (r *Resolver) Resolve(ctx context.Context, c model.Conflict) (model.Conflict, error) {
	strategy := r.strategyFor(c.Field)

	if remembered, ok, err := r.store.GetResolutionMemory(ctx, c.EntityType, c.Field); err == nil && ok {
		strategy = remembered
	} else if err != nil {
		return c, fmt.Errorf("lookup resolution memory: %w", err)
	}

	return r.ResolveWithStrategy(c, strategy), nil
}

// ResolveWithStrategy applies an explicit strategy, bypassing field policy
// lookup. Used when a UI supplies a decision for a previously deferred
// ask-user conflict.
func (r *Resolver) ResolveWithStrategy(c model.Conflict, strategy model.ResolutionStrategy) model.Conflict {
	switch strategy {
	case model.StrategyPreferLocal:
		c.ResolvedValue = c.LocalValue
	case model.StrategyPreferRemote:
		c.ResolvedValue = c.RemoteValue
	case model.StrategyLastWriteWins:
		c.ResolvedValue = r.lastWriteWins(c)
	case model.StrategyMerge:
		c.ResolvedValue = r.merge(c)
	case model.StrategyAskUser:
		c.ResolutionStrategy = strategy
		return c
	default:
		c.ResolvedValue = c.RemoteValue
		strategy = model.StrategyPreferRemote
	}

	c.Resolved = true
	c.ResolutionStrategy = strategy
	return c
}

// lastWriteWins picks the side with the greater timestamp; ties favor
// remote.
func (r *Resolver) lastWriteWins(c model.Conflict) interface{} {
	if c.RemoteChange == nil {
		return c.LocalValue
	}
	if c.LocalChange != nil && c.LocalChange.Timestamp.After(c.RemoteChange.Timestamp) {
		return c.LocalValue
	}
	return c.RemoteValue
}

// merge applies the field-specific merge function if configured, else the
// default: array union, object shallow-merge, fallback prefer-remote.
func (r *Resolver) merge(c model.Conflict) interface{} {
	if policy, ok := r.fieldPolicies[c.Field]; ok && policy.Merge != nil {
		return policy.Merge(c.LocalValue, c.RemoteValue)
	}
	return defaultMerge(c.LocalValue, c.RemoteValue)
}

func defaultMerge(local, remote interface{}) interface{} {
	if localSlice, ok := asSlice(local); ok {
		if remoteSlice, ok := asSlice(remote); ok {
			return unionSlice(localSlice, remoteSlice)
		}
	}

	if localMap, ok := local.(map[string]interface{}); ok {
		if remoteMap, ok := remote.(map[string]interface{}); ok {
			return shallowMergeMap(localMap, remoteMap)
		}
	}

	return remote
}

func asSlice(v interface{}) ([]interface{}, bool) {
	s, ok := v.([]interface{})
	return s, ok
}

func unionSlice(a, b []interface{}) []interface{} {
	seen := make(map[string]bool, len(a)+len(b))
	var out []interface{}
	for _, items := range [][]interface{}{a, b} {
		for _, v := range items {
			key := fmt.Sprintf("%v", v)
			if seen[key] {
				continue
			}
			seen[key] = true
			out = append(out, v)
		}
	}
	return out
}

// MergeByIDNewestWins merges two slices of objects (e.g. highlights) keyed
// by their "id" field. An id present on both sides keeps whichever copy
// carries the newer "updated_at"; one missing or unparsable loses to the
// side that has it.
func MergeByIDNewestWins(local, remote interface{}) interface{} {
	byID := make(map[string]map[string]interface{})
	var order []string

	take := func(items []interface{}) {
		for _, item := range items {
			obj, ok := item.(map[string]interface{})
			if !ok {
				continue
			}
			id, _ := obj["id"].(string)
			if id == "" {
				continue
			}
			existing, seen := byID[id]
			if !seen {
				byID[id] = obj
				order = append(order, id)
				continue
			}
			if updatedAtAfter(obj, existing) {
				byID[id] = obj
			}
		}
	}

	if localSlice, ok := asSlice(local); ok {
		take(localSlice)
	}
	if remoteSlice, ok := asSlice(remote); ok {
		take(remoteSlice)
	}

	out := make([]interface{}, 0, len(order))
	for _, id := range order {
		out = append(out, byID[id])
	}
	return out
}

func updatedAtAfter(a, b map[string]interface{}) bool {
	at, aok := parseUpdatedAt(a)
	bt, bok := parseUpdatedAt(b)
	if !aok {
		return false
	}
	if !bok {
		return true
	}
	return at.After(bt)
}

func parseUpdatedAt(obj map[string]interface{}) (time.Time, bool) {
	s, ok := obj["updated_at"].(string)
	if !ok {
		return time.Time{}, false
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

func shallowMergeMap(local, remote map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(local)+len(remote))
	for k, v := range local {
		out[k] = v
	}
	for k, v := range remote {
		out[k] = v
	}
	return out
}

// strategyFor returns the configured policy strategy for a field, falling
// back to the resolver's default.
func (r *Resolver) strategyFor(field string) model.ResolutionStrategy {
	if policy, ok := r.fieldPolicies[field]; ok {
		return policy.Strategy
	}
	return r.defaultPolicy
}

// AutoResolvable reports whether the field is marked auto_resolve, skipping
// the user prompt and resolving via policy instead.
func (r *Resolver) AutoResolvable(field string) bool {
	policy, ok := r.fieldPolicies[field]
	return ok && policy.AutoResolve
}

// RememberChoice persists a resolution strategy for future conflicts on the
// same (entity_type, field) pair.
func (r *Resolver) RememberChoice(ctx context.Context, entityType model.EntityType, field string, strategy model.ResolutionStrategy) error {
	return r.store.PutResolutionMemory(ctx, entityType, field, strategy)
}

// BatchResolve groups conflicts by (entity_type, field) and resolves every
// conflict of a group through Resolve, so the whole group gets the strategy
// configured or remembered for that pair. Each conflict is resolved exactly
// once.
func (r *Resolver) BatchResolve(ctx context.Context, conflicts []model.Conflict) ([]model.Conflict, error) {
	groups := make(map[string][]int)
	for i, c := range conflicts {
		key := fmt.Sprintf("%s|%s", c.EntityType, c.Field)
		groups[key] = append(groups[key], i)
	}

	keys := make([]string, 0, len(groups))
	for k := range groups {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	resolved := make([]model.Conflict, len(conflicts))
	copy(resolved, conflicts)

	for _, key := range keys {
		for _, idx := range groups[key] {
			resolvedConflict, err := r.Resolve(ctx, resolved[idx])
			if err != nil {
				return nil, fmt.Errorf("resolve conflict %s: %w", resolved[idx].ID, err)
			}
			resolved[idx] = resolvedConflict
		}
	}

	return resolved, nil
}

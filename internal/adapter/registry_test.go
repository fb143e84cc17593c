package adapter_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/hyperengineering/synccore/internal/adapter"
	"github.com/hyperengineering/synccore/internal/adapter/adaptertest"
	"github.com/hyperengineering/synccore/internal/model"
)

func TestRegistry_RegisterAndGet(t *testing.T) {
	r := adapter.NewRegistry()
	a := adaptertest.New(model.SourceLibrary)
	r.Register(a)

	got, ok := r.Get(model.SourceLibrary)
	require.True(t, ok)
	require.Equal(t, a, got)

	_, ok = r.Get(model.SourceServer)
	require.False(t, ok)
}

func TestRegistry_RegisterDuplicatePanics(t *testing.T) {
	r := adapter.NewRegistry()
	r.Register(adaptertest.New(model.SourceLibrary))

	require.Panics(t, func() {
		r.Register(adaptertest.New(model.SourceLibrary))
	})
}

func TestRegistry_MustGetPanicsWhenAbsent(t *testing.T) {
	r := adapter.NewRegistry()
	require.Panics(t, func() {
		r.MustGet(model.SourceFile)
	})
}

func TestRegistry_SourcesAndAll(t *testing.T) {
	r := adapter.NewRegistry()
	r.Register(adaptertest.New(model.SourceLibrary))
	r.Register(adaptertest.New(model.SourceServer))

	require.ElementsMatch(t, []model.Source{model.SourceLibrary, model.SourceServer}, r.Sources())
	require.Len(t, r.All(), 2)
}

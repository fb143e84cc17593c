package adapter

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/hyperengineering/synccore/internal/model"
)

func TestBaseAdapter_ApplyChangesAppliesSequentiallyAndReturnsFirstError(t *testing.T) {
	var applied []string
	failOn := "b"

	b := BaseAdapter{
		Apply: func(ctx context.Context, c model.Change) error {
			applied = append(applied, c.EntityID)
			if c.EntityID == failOn {
				return errors.New("boom")
			}
			return nil
		},
	}

	err := b.ApplyChanges(context.Background(), []model.Change{
		{EntityID: "a"}, {EntityID: "b"}, {EntityID: "c"},
	})

	require.Error(t, err)
	require.Equal(t, []string{"a", "b", "c"}, applied)
}

package directory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sudooom.im.ripple/internal/backend/memory"
	"sudooom.im.ripple/internal/model"
	appErrors "sudooom.im.ripple/pkg/errors"
)

var (
	admin = &model.Identity{ID: "root", Email: "Admin@Ripple.io"}
	guest = &model.Identity{ID: "g", Email: "guest@ripple.io"}
)

func seed(t *testing.T, docs *memory.Docs) {
	ctx := context.Background()
	for _, rec := range []model.UserRecord{
		{UID: "1", DisplayName: "zoe", Status: model.StatusOnline},
		{UID: "2", DisplayName: "Adam"},
		{UID: "3", Email: "bea@ripple.io", Status: "away"},
	} {
		rec := rec
		require.NoError(t, docs.SetUser(ctx, &rec))
	}
}

func TestDirectory_AdminOnly(t *testing.T) {
	docs := memory.NewDocs()
	d := New(docs, "admin@ripple.io")

	assert.True(t, d.Allowed(admin))
	assert.False(t, d.Allowed(guest))

	_, err := d.Watch(context.Background(), guest, func([]model.UserRecord, error) {})
	assert.True(t, appErrors.Is(err, appErrors.ErrForbidden))

	_, err = d.List(context.Background(), nil)
	assert.True(t, appErrors.Is(err, appErrors.ErrNotAuthenticated))

	assert.False(t, New(docs, "").Allowed(admin))
}

func TestDirectory_SortedByDisplayName(t *testing.T) {
	docs := memory.NewDocs()
	seed(t, docs)
	d := New(docs, "admin@ripple.io")

	users, err := d.List(context.Background(), admin)
	require.NoError(t, err)
	require.Len(t, users, 3)
	assert.Equal(t, []string{"2", "3", "1"}, []string{users[0].UID, users[1].UID, users[2].UID})
	assert.Equal(t, model.StatusOffline, users[1].Status)
}

func TestDirectory_LiveUpdates(t *testing.T) {
	docs := memory.NewDocs()
	seed(t, docs)
	d := New(docs, "admin@ripple.io")

	var snaps [][]model.UserRecord
	sub, err := d.Watch(context.Background(), admin, func(users []model.UserRecord, err error) {
		require.NoError(t, err)
		snaps = append(snaps, users)
	})
	require.NoError(t, err)

	require.NoError(t, docs.SetUser(context.Background(), &model.UserRecord{UID: "4", DisplayName: "Carl"}))
	require.Len(t, snaps, 2)
	assert.Len(t, snaps[1], 4)
	assert.Equal(t, "Carl", snaps[1][2].DisplayName)

	sub.Cancel()
	require.NoError(t, docs.SetUser(context.Background(), &model.UserRecord{UID: "5", DisplayName: "Dina"}))
	assert.Len(t, snaps, 2)
}

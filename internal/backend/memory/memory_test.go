package memory

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sudooom.im.ripple/internal/backend"
	"sudooom.im.ripple/internal/model"
)

func TestDocs_MessagesSnapshotReplace(t *testing.T) {
	docs := NewDocs()
	ctx := context.Background()

	var snapshots [][]model.Message
	sub, err := docs.WatchMessages(ctx, "a_b", func(msgs []model.Message, err error) {
		require.NoError(t, err)
		snapshots = append(snapshots, msgs)
	})
	require.NoError(t, err)
	defer sub.Cancel()

	_, err = docs.AddMessage(ctx, "a_b", &model.MessageDraft{SenderID: "a", Text: "hi"})
	require.NoError(t, err)
	_, err = docs.AddMessage(ctx, "a_b", &model.MessageDraft{SenderID: "b", Text: "yo"})
	require.NoError(t, err)

	require.Len(t, snapshots, 3)
	assert.Empty(t, snapshots[0])
	assert.Len(t, snapshots[1], 1)
	require.Len(t, snapshots[2], 2)
	assert.Equal(t, "hi", snapshots[2][0].Text)
	assert.Equal(t, "yo", snapshots[2][1].Text)
}

func TestDocs_TimestampsNonDecreasing(t *testing.T) {
	docs := NewDocs()
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	ticks := []time.Time{base, base.Add(-time.Minute), base.Add(time.Second)}
	i := 0
	docs.SetClock(func() time.Time {
		t := ticks[i%len(ticks)]
		i++
		return t
	})

	ctx := context.Background()
	var prev time.Time
	for n := 0; n < 3; n++ {
		msg, err := docs.AddMessage(ctx, "g", &model.MessageDraft{SenderID: "a", Text: "x"})
		require.NoError(t, err)
		assert.False(t, msg.Timestamp.Before(prev))
		prev = msg.Timestamp
	}
}

func TestDocs_CancelStopsDelivery(t *testing.T) {
	docs := NewDocs()
	ctx := context.Background()

	calls := 0
	sub, err := docs.WatchMessages(ctx, "g", func([]model.Message, error) { calls++ })
	require.NoError(t, err)
	assert.Equal(t, 1, docs.WatchCount())

	sub.Cancel()
	sub.Cancel()
	assert.Equal(t, 0, docs.WatchCount())

	_, err = docs.AddMessage(ctx, "g", &model.MessageDraft{SenderID: "a", Text: "x"})
	require.NoError(t, err)
	assert.Equal(t, 1, calls)
}

func TestDocs_UserWatchAndStatus(t *testing.T) {
	docs := NewDocs()
	ctx := context.Background()

	var got []*model.UserRecord
	sub, err := docs.WatchUser(ctx, "u1", func(rec *model.UserRecord, err error) {
		got = append(got, rec)
	})
	require.NoError(t, err)
	defer sub.Cancel()

	require.NoError(t, docs.SetUser(ctx, &model.UserRecord{UID: "u1", DisplayName: "Ann"}))
	require.NoError(t, docs.UpdateStatus(ctx, "u1", model.StatusOnline))

	require.Len(t, got, 3)
	assert.Nil(t, got[0])
	assert.Equal(t, model.StatusOffline, got[1].Status)
	assert.Equal(t, model.StatusOnline, got[2].Status)
	assert.False(t, got[2].LastChanged.IsZero())

	assert.ErrorIs(t, docs.UpdateStatus(ctx, "missing", model.StatusOnline), backend.ErrNotFound)
}

func TestObjects_PutListStat(t *testing.T) {
	objs := NewObjects("http://localhost:8080")
	objs.ChunkSize = 4
	ctx := context.Background()

	var progress []int64
	meta, err := objs.Put(ctx, "chat-attachments/g/1_a.txt", bytes.NewReader([]byte("0123456789")), 10, "text/plain",
		func(done, total int64) {
			assert.Equal(t, int64(10), total)
			progress = append(progress, done)
		})
	require.NoError(t, err)
	assert.Equal(t, int64(10), meta.Size)
	assert.Equal(t, []int64{4, 8, 10}, progress)

	objs.PutBytes("stories/s.png", []byte("x"), "image/png", time.Now())

	root, err := objs.List(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, []string{"chat-attachments/", "stories/"}, root.Prefixes)
	assert.Empty(t, root.Items)

	stories, err := objs.List(ctx, "stories/")
	require.NoError(t, err)
	assert.Equal(t, []string{"stories/s.png"}, stories.Items)

	url, err := objs.ResolveURL(ctx, "stories/s.png")
	require.NoError(t, err)
	assert.Equal(t, "http://localhost:8080/files/stories/s.png", url)
}

func TestObjects_PutCancelled(t *testing.T) {
	objs := NewObjects("")
	objs.ChunkSize = 1
	ctx, cancel := context.WithCancel(context.Background())
	objs.BeforeChunk = func(written int64) {
		if written == 2 {
			cancel()
		}
	}

	_, err := objs.Put(ctx, "a/b", bytes.NewReader([]byte("abcdef")), 6, "text/plain", nil)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 0, objs.Len())
}

func TestSideChannel_OnDisconnectApplied(t *testing.T) {
	side := NewSideChannel()
	ctx := context.Background()

	var states []bool
	sub, err := side.WatchConnectivity(func(c bool) { states = append(states, c) })
	require.NoError(t, err)
	defer sub.Cancel()

	require.NoError(t, side.Connect(ctx))
	require.NoError(t, side.Set(ctx, "status/u1", "online"))
	require.NoError(t, side.OnDisconnectSet(ctx, "status/u1", "offline"))

	side.SimulateDisconnect()
	v, ok := side.Value("status/u1")
	assert.True(t, ok)
	assert.Equal(t, "offline", v)
	assert.Equal(t, []bool{false, true, false}, states)

	_, pending := side.Pending("status/u1")
	assert.False(t, pending)
}

func TestAuth_SignUpSignIn(t *testing.T) {
	auth := NewAuth(0)
	ctx := context.Background()

	var events []*model.AuthUser
	sub := auth.OnSessionChange(func(u *model.AuthUser) { events = append(events, u) })
	defer sub.Cancel()

	_, err := auth.SignUp(ctx, "a@x.io", "123")
	assert.ErrorIs(t, err, backend.ErrWeakPassword)

	user, err := auth.SignUp(ctx, "A@x.io", "secret1")
	require.NoError(t, err)
	assert.Equal(t, "a@x.io", user.Email)
	assert.NotContains(t, user.UID, "_")

	_, err = auth.SignUp(ctx, "a@x.io", "secret1")
	assert.ErrorIs(t, err, backend.ErrEmailExists)

	_, err = auth.SignIn(ctx, "a@x.io", "wrong")
	assert.True(t, errors.Is(err, backend.ErrInvalidCredentials))

	require.NoError(t, auth.SignOut(ctx))
	signedIn, err := auth.SignIn(ctx, "a@x.io", "secret1")
	require.NoError(t, err)
	assert.Equal(t, user.UID, signedIn.UID)

	require.Len(t, events, 4)
	assert.Nil(t, events[0])
	assert.Equal(t, user.UID, events[1].UID)
	assert.Nil(t, events[2])
	assert.Equal(t, user.UID, events[3].UID)
}

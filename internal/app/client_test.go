package app

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sudooom.im.ripple/internal/backend"
	"sudooom.im.ripple/internal/backend/memory"
	"sudooom.im.ripple/internal/config"
	"sudooom.im.ripple/internal/conversation"
	"sudooom.im.ripple/internal/localstore"
	"sudooom.im.ripple/internal/upload"
	"sudooom.im.ripple/internal/workerpool"
	appErrors "sudooom.im.ripple/pkg/errors"
)

func newClient(t *testing.T, mode backend.Mode) (*Client, *memory.Set) {
	set := memory.NewSet("http://localhost")
	local, err := localstore.Open(t.TempDir())
	require.NoError(t, err)
	pool := workerpool.New(2, 8, nil)
	t.Cleanup(pool.Shutdown)

	cfg := config.Defaults()
	cfg.App.AdminEmail = "ann@ripple.dev"
	cfg.SmartReply.Tick = 10 * time.Millisecond
	c := New(Options{Config: cfg, Backend: set.Backend(mode), Local: local, Pool: pool})
	require.NoError(t, c.Start(context.Background()))
	t.Cleanup(c.Close)
	return c, set
}

func TestClient_RoomRequiresIdentity(t *testing.T) {
	c, _ := newClient(t, backend.ModeConnected)

	_, err := c.Room("a_b")
	assert.True(t, appErrors.Is(err, appErrors.ErrNotAuthenticated))
	_, err = c.Gallery(context.Background())
	assert.True(t, appErrors.Is(err, appErrors.ErrNotAuthenticated))
}

func TestClient_RoomReusedAndTornDownOnLogout(t *testing.T) {
	c, _ := newClient(t, backend.ModeConnected)
	ctx := context.Background()

	id, err := c.Session().Signup(ctx, "Ann", "ann@ripple.dev", "secret1")
	require.NoError(t, err)

	chatID := conversation.DirectID(id.ID, "bob")
	room, err := c.Room(chatID)
	require.NoError(t, err)
	again, err := c.Room(chatID)
	require.NoError(t, err)
	assert.Same(t, room, again)
	assert.Equal(t, 1, c.RoomCount())

	require.NoError(t, room.Composer.SetDraft("hi bob"))
	msg, err := room.Composer.Send(ctx)
	require.NoError(t, err)
	assert.Equal(t, id.ID, msg.SenderID)

	require.NoError(t, c.Session().Logout(ctx))
	assert.Equal(t, 0, c.RoomCount())

	sent, err := room.View.Send(ctx, "after logout", nil)
	assert.NoError(t, err)
	assert.Nil(t, sent)
}

func TestClient_SwitchingConversationClosesPreviousRoom(t *testing.T) {
	c, set := newClient(t, backend.ModeConnected)
	ctx := context.Background()

	id, err := c.Session().Signup(ctx, "Ann", "ann@ripple.dev", "secret1")
	require.NoError(t, err)

	first, err := c.Room(conversation.DirectID(id.ID, "bob"))
	require.NoError(t, err)
	assert.Equal(t, 1, set.Docs.MessageWatchCount())

	for _, chatID := range []string{conversation.DirectID(id.ID, "carol"), "general", "team"} {
		_, err := c.Room(chatID)
		require.NoError(t, err)
	}
	assert.Equal(t, 1, c.RoomCount())
	assert.Equal(t, 1, set.Docs.MessageWatchCount())

	select {
	case <-first.Done():
	default:
		t.Fatal("previous room still open")
	}
	sent, err := first.View.Send(ctx, "late", nil)
	assert.NoError(t, err)
	assert.Nil(t, sent)
}

func TestClient_RoomsReplacedOnNewIdentity(t *testing.T) {
	c, _ := newClient(t, backend.ModeLocal)
	ctx := context.Background()

	_, err := c.Session().Login(ctx, "ann@ripple.dev", "x")
	require.NoError(t, err)
	first, err := c.Room("general")
	require.NoError(t, err)

	_, err = c.Session().Login(ctx, "bob@ripple.dev", "x")
	require.NoError(t, err)
	assert.Equal(t, 0, c.RoomCount())

	second, err := c.Room("general")
	require.NoError(t, err)
	assert.NotSame(t, first, second)
	assert.Equal(t, "mock_bob@ripple.dev", second.View.Identity().ID)
}

func TestClient_LocalAttachmentAppearsInGallery(t *testing.T) {
	c, _ := newClient(t, backend.ModeLocal)
	ctx := context.Background()

	_, err := c.Session().Login(ctx, "ann@ripple.dev", "x")
	require.NoError(t, err)
	room, err := c.Room("general")
	require.NoError(t, err)

	task, err := room.Composer.Attach(upload.File{Name: "a.txt", ContentType: "text/plain", Data: []byte("hello")})
	require.NoError(t, err)
	select {
	case <-task.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("upload did not finish")
	}

	require.Len(t, room.View.Messages(), 1)
	listing, err := c.Gallery(ctx)
	require.NoError(t, err)
	require.Len(t, listing.Subset("chat"), 1)
	assert.Equal(t, room.View.Messages()[0].AttachmentURL(), listing.Subset("chat")[0].URL)
}

func TestClient_DirectoryGate(t *testing.T) {
	c, _ := newClient(t, backend.ModeConnected)
	ctx := context.Background()

	id, err := c.Session().Signup(ctx, "Ann", "ann@ripple.dev", "secret1")
	require.NoError(t, err)

	users, err := c.Directory().List(ctx, id)
	require.NoError(t, err)
	require.Len(t, users, 1)
	assert.Equal(t, "Ann", users[0].DisplayName)
}

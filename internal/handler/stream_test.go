package handler

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sudooom.im.ripple/internal/conversation"
)

func TestOutbox_KeepsLatestPerType(t *testing.T) {
	o := newOutbox()
	o.put(EventSnapshot, 1)
	o.put(EventUpload, "a")
	o.put(EventSnapshot, 2)

	select {
	case <-o.signal:
	default:
		t.Fatal("expected signal")
	}

	events := o.drain()
	require.Len(t, events, 2)
	assert.Equal(t, Event{Type: EventSnapshot, Data: 2}, events[0])
	assert.Equal(t, Event{Type: EventUpload, Data: "a"}, events[1])
	assert.Empty(t, o.drain())
}

func TestOutbox_CoalescedSnapshotKeepsSmoothScroll(t *testing.T) {
	o := newOutbox()
	o.put(EventSnapshot, conversation.Snapshot{ConversationID: "general", Scroll: conversation.ScrollSmooth})
	o.put(EventSnapshot, conversation.Snapshot{ConversationID: "general", Scroll: conversation.ScrollInstant, Loading: true})

	events := o.drain()
	require.Len(t, events, 1)
	snap, ok := events[0].Data.(conversation.Snapshot)
	require.True(t, ok)
	assert.Equal(t, conversation.ScrollSmooth, snap.Scroll)
	assert.True(t, snap.Loading)

	o.put(EventSnapshot, conversation.Snapshot{Scroll: conversation.ScrollInstant})
	o.put(EventSnapshot, conversation.Snapshot{Scroll: conversation.ScrollInstant})
	events = o.drain()
	require.Len(t, events, 1)
	assert.Equal(t, conversation.ScrollInstant, events[0].Data.(conversation.Snapshot).Scroll)
}

func TestOriginAllowed(t *testing.T) {
	assert.True(t, originAllowed([]string{"*"}, "http://evil.example"))
	assert.True(t, originAllowed([]string{"http://localhost:5173"}, "http://localhost:5173"))
	assert.False(t, originAllowed([]string{"http://localhost:5173"}, "http://evil.example"))
	assert.True(t, originAllowed(nil, ""))
}

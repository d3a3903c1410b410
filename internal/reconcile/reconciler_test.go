package reconcile

import (
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ageniuscoder/mmchat/convsync/internal/channel"
	"github.com/ageniuscoder/mmchat/convsync/internal/model"
)

func strp(s string) *string { return &s }

func conv(id, name string, unread int) model.Conversation {
	return model.Conversation{ID: id, Name: name, Participants: []model.Participant{}, UnreadCount: unread}
}

func ids(list []model.Conversation) []string {
	out := make([]string, len(list))
	for i, c := range list {
		out[i] = c.ID
	}
	return out
}

func newTestReconciler(t *testing.T) (*Reconciler, *channel.Bus) {
	t.Helper()
	bus := channel.NewBus()
	return New(bus, nil), bus
}

func TestMergeSnapshot_InsertsIntoEmptyList(t *testing.T) {
	r, _ := newTestReconciler(t)

	snap := []model.Conversation{conv("c1", "Alice", 0), conv("c2", "Team", 4)}
	r.MergeSnapshot(snap)

	if diff := cmp.Diff(snap, r.Conversations()); diff != "" {
		t.Errorf("merged list mismatch (-want +got):\n%s", diff)
	}
}

func TestMergeSnapshot_RetainsEntriesMissingFromLaterSnapshot(t *testing.T) {
	r, _ := newTestReconciler(t)

	r.MergeSnapshot([]model.Conversation{conv("c1", "Alice", 0), conv("c2", "Bob", 0)})
	r.MergeSnapshot([]model.Conversation{conv("c2", "Bob", 0)})

	got := r.Conversations()
	assert.ElementsMatch(t, []string{"c1", "c2"}, ids(got))
}

func TestMergeSnapshot_PreservesLocalLastMessage(t *testing.T) {
	r, _ := newTestReconciler(t)

	r.MergeSnapshot([]model.Conversation{conv("c1", "Alice", 0)})
	r.ApplyMessageEvent(model.MessageEvent{ConversationID: "c1", Content: "fresh", CreatedAt: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)})

	stale := conv("c1", "Alice Renamed", 0)
	stale.LastMessage = strp("stale")
	staleAt := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	stale.LastMessageTime = &staleAt
	r.MergeSnapshot([]model.Conversation{stale})

	got, ok := r.Get("c1")
	require.True(t, ok)
	assert.Equal(t, "fresh", *got.LastMessage)
	assert.Equal(t, time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC), *got.LastMessageTime)
	assert.Equal(t, 1, got.UnreadCount, "local unread count survives the merge")
	assert.Equal(t, "Alice Renamed", got.Name, "server-owned fields follow the snapshot")
}

func TestMergeSnapshot_FallsBackToIncomingWhenLocalUnset(t *testing.T) {
	r, _ := newTestReconciler(t)

	r.MergeSnapshot([]model.Conversation{conv("c1", "Alice", 0)})

	in := conv("c1", "Alice", 2)
	in.LastMessage = strp("from server")
	at := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	in.LastMessageTime = &at
	r.MergeSnapshot([]model.Conversation{in})

	got, _ := r.Get("c1")
	assert.Equal(t, "from server", *got.LastMessage)
	assert.Equal(t, at, *got.LastMessageTime)
	assert.Equal(t, 0, got.UnreadCount)
}

func TestMergeSnapshot_PromotesStub(t *testing.T) {
	r, _ := newTestReconciler(t)

	r.ApplyMessageEvent(model.MessageEvent{ConversationID: "g1", Content: "hello all"})
	stub, _ := r.Get("g1")
	require.Equal(t, model.StubName, stub.Name)
	require.False(t, stub.IsGroup)

	full := model.Conversation{
		ID:      "g1",
		Name:    "Team Alpha",
		IsGroup: true,
		Participants: []model.Participant{
			{ID: "u1", Name: "Ann", Email: "ann@example.com"},
			{ID: "u2", Name: "Ben", Email: "ben@example.com"},
		},
		Avatar: strp("team.png"),
	}
	r.MergeSnapshot([]model.Conversation{full})

	got, _ := r.Get("g1")
	assert.Equal(t, "Team Alpha", got.Name)
	assert.True(t, got.IsGroup)
	assert.Len(t, got.Participants, 2)
	assert.Equal(t, "hello all", *got.LastMessage)
	assert.Equal(t, 1, got.UnreadCount)
	assert.Len(t, r.Conversations(), 1)
}

func TestMergeSnapshot_GroupFlagComesFromServer(t *testing.T) {
	r, _ := newTestReconciler(t)
	group := conv("g1", "Team", 0)
	group.IsGroup = true
	r.MergeSnapshot([]model.Conversation{group})

	r.ApplyMessageEvent(model.MessageEvent{ConversationID: "g1", Content: "hi", ConversationName: "Bob"})
	r.ApplyUnreadCountEvent(model.UnreadCountEvent{ConversationID: "g1", UnreadCount: 3})
	r.MergeSnapshot([]model.Conversation{group})

	got, _ := r.Get("g1")
	assert.True(t, got.IsGroup, "events never touch the group flag")
	assert.Equal(t, "Team", got.Name)
}

func TestMergeSnapshot_OrdersRetainedAheadOfSnapshot(t *testing.T) {
	r, _ := newTestReconciler(t)

	r.MergeSnapshot([]model.Conversation{conv("c1", "A", 0), conv("c2", "B", 0)})
	r.ApplyMessageEvent(model.MessageEvent{ConversationID: "new", Content: "hey"})
	r.MergeSnapshot([]model.Conversation{conv("c2", "B", 0), conv("c1", "A", 0)})

	assert.Equal(t, []string{"new", "c2", "c1"}, ids(r.Conversations()))
}

func TestMergeSnapshot_CollapsesDuplicateIDs(t *testing.T) {
	r, _ := newTestReconciler(t)

	r.MergeSnapshot([]model.Conversation{conv("c1", "first", 0), conv("c1", "second", 0), conv("", "nameless", 0)})

	got := r.Conversations()
	require.Len(t, got, 1)
	assert.Equal(t, "second", got[0].Name)
}

func TestApplyMessageEvent_UnknownIDInsertsStubAtFront(t *testing.T) {
	r, _ := newTestReconciler(t)
	r.MergeSnapshot([]model.Conversation{conv("c1", "Alice", 0), conv("c2", "Bob", 0)})

	at := time.Date(2026, 5, 5, 5, 5, 5, 0, time.UTC)
	r.ApplyMessageEvent(model.MessageEvent{ConversationID: "X", Content: "yo", CreatedAt: at, ConversationName: "Carol"})

	got := r.Conversations()
	require.Len(t, got, 3)
	assert.Equal(t, "X", got[0].ID)
	assert.Equal(t, "Carol", got[0].Name)
	assert.Equal(t, 1, got[0].UnreadCount)
	assert.Equal(t, "yo", *got[0].LastMessage)
	assert.Equal(t, at, *got[0].LastMessageTime)
	assert.Empty(t, got[0].Participants)

	count := 0
	for _, c := range got {
		if c.ID == "X" {
			count++
		}
	}
	assert.Equal(t, 1, count)
}

func TestApplyMessageEvent_IncrementsByOneEach(t *testing.T) {
	for _, order := range [][]string{{"c1", "c2", "c1"}, {"c1", "c1", "c2"}, {"c2", "c1", "c1"}} {
		r, _ := newTestReconciler(t)
		r.MergeSnapshot([]model.Conversation{conv("c1", "A", 3), conv("c2", "B", 0)})

		for _, id := range order {
			r.ApplyMessageEvent(model.MessageEvent{ConversationID: id, Content: "m"})
		}

		c1, _ := r.Get("c1")
		c2, _ := r.Get("c2")
		assert.Equal(t, 5, c1.UnreadCount, "order %v", order)
		assert.Equal(t, 1, c2.UnreadCount, "order %v", order)
	}
}

func TestApplyMessageEvent_ZeroTimeKeepsTimestamp(t *testing.T) {
	r, _ := newTestReconciler(t)
	at := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	r.ApplyMessageEvent(model.MessageEvent{ConversationID: "c1", Content: "first", CreatedAt: at})

	r.ApplyMessageEvent(model.MessageEvent{ConversationID: "c1", Content: "undated"})

	got, _ := r.Get("c1")
	assert.Equal(t, "undated", *got.LastMessage)
	require.NotNil(t, got.LastMessageTime)
	assert.Equal(t, at, *got.LastMessageTime)
}

func TestApplyMessageEvent_IncrementsEvenAfterSelect(t *testing.T) {
	r, _ := newTestReconciler(t)
	r.MergeSnapshot([]model.Conversation{conv("c1", "A", 0)})

	r.Select("c1")
	r.ApplyMessageEvent(model.MessageEvent{ConversationID: "c1", Content: "while open"})

	got, _ := r.Get("c1")
	assert.Equal(t, 1, got.UnreadCount)
}

func TestApplyUnreadCountEvent(t *testing.T) {
	t.Run("overwrites existing", func(t *testing.T) {
		r, _ := newTestReconciler(t)
		r.MergeSnapshot([]model.Conversation{conv("c1", "A", 7)})

		r.ApplyUnreadCountEvent(model.UnreadCountEvent{ConversationID: "c1", UnreadCount: 2})

		got, _ := r.Get("c1")
		assert.Equal(t, 2, got.UnreadCount)
	})

	t.Run("unknown with zero is a no-op", func(t *testing.T) {
		r, _ := newTestReconciler(t)
		r.MergeSnapshot([]model.Conversation{conv("c1", "A", 0)})

		r.ApplyUnreadCountEvent(model.UnreadCountEvent{ConversationID: "zz", UnreadCount: 0})

		assert.Equal(t, []string{"c1"}, ids(r.Conversations()))
	})

	t.Run("negative counts clamp to zero", func(t *testing.T) {
		r, _ := newTestReconciler(t)
		r.MergeSnapshot([]model.Conversation{conv("c1", "A", 4)})

		r.ApplyUnreadCountEvent(model.UnreadCountEvent{ConversationID: "c1", UnreadCount: -3})

		got, _ := r.Get("c1")
		assert.Equal(t, 0, got.UnreadCount)
	})
}

func TestScenario_UnknownUnreadThenZero(t *testing.T) {
	r, _ := newTestReconciler(t)
	r.MergeSnapshot([]model.Conversation{conv("c1", "Alice", 0)})

	r.ApplyUnreadCountEvent(model.UnreadCountEvent{ConversationID: "c9", UnreadCount: 3})
	got := r.Conversations()
	require.Equal(t, []string{"c9", "c1"}, ids(got))
	assert.Equal(t, 3, got[0].UnreadCount)

	r.ApplyUnreadCountEvent(model.UnreadCountEvent{ConversationID: "c9", UnreadCount: 0})
	got = r.Conversations()
	require.Equal(t, []string{"c9", "c1"}, ids(got))
	assert.Equal(t, 0, got[0].UnreadCount)
}

func TestScenario_FetchMessageSelect(t *testing.T) {
	r, bus := newTestReconciler(t)

	r.MergeSnapshot([]model.Conversation{conv("c1", "Alice", 0)})
	r.ApplyMessageEvent(model.MessageEvent{ConversationID: "c1", Content: "hi"})

	got, _ := r.Get("c1")
	assert.Equal(t, 1, got.UnreadCount)
	assert.Equal(t, "hi", *got.LastMessage)

	assert.True(t, r.Select("c1"))
	got, _ = r.Get("c1")
	assert.Equal(t, 0, got.UnreadCount)

	emitted := bus.Emitted()
	require.Len(t, emitted, 1)
	assert.Equal(t, model.EventMarkConversationRead, emitted[0].Event)
	assert.JSONEq(t, `{"conversationId":"c1"}`, string(emitted[0].Data))
}

// Select and an in-flight unread count race; whichever lands last wins.
func TestSelect_LastWriteWinsAgainstUnreadCount(t *testing.T) {
	t.Run("select lands last", func(t *testing.T) {
		r, _ := newTestReconciler(t)
		r.MergeSnapshot([]model.Conversation{conv("c1", "A", 2)})

		r.ApplyUnreadCountEvent(model.UnreadCountEvent{ConversationID: "c1", UnreadCount: 5})
		r.Select("c1")

		got, _ := r.Get("c1")
		assert.Equal(t, 0, got.UnreadCount)
	})

	t.Run("unread count lands last", func(t *testing.T) {
		r, _ := newTestReconciler(t)
		r.MergeSnapshot([]model.Conversation{conv("c1", "A", 2)})

		r.Select("c1")
		got, _ := r.Get("c1")
		require.Equal(t, 0, got.UnreadCount, "select applies immediately")

		r.ApplyUnreadCountEvent(model.UnreadCountEvent{ConversationID: "c1", UnreadCount: 5})
		got, _ = r.Get("c1")
		assert.Equal(t, 5, got.UnreadCount, "the late server count overwrites the local reset")
	})
}

func TestSelect_DoesNotWaitForAck(t *testing.T) {
	r, bus := newTestReconciler(t)
	r.MergeSnapshot([]model.Conversation{conv("c1", "A", 4)})

	bus.Respond(func(string, json.RawMessage) (json.RawMessage, error) {
		return nil, errors.New("boom")
	})
	r.Select("c1")

	got, _ := r.Get("c1")
	assert.Equal(t, 0, got.UnreadCount)
}

func TestSelect_UnknownStillEmits(t *testing.T) {
	r, bus := newTestReconciler(t)

	assert.False(t, r.Select("ghost"))
	require.Len(t, bus.Emitted(), 1)
	assert.Empty(t, r.Conversations())
}

func TestDelete_RemovesOptimisticallyAndEmitsBareID(t *testing.T) {
	r, bus := newTestReconciler(t)
	r.MergeSnapshot([]model.Conversation{conv("c1", "A", 0), conv("c2", "B", 0)})

	assert.True(t, r.Delete("c1"))
	assert.Equal(t, []string{"c2"}, ids(r.Conversations()))

	emitted := bus.Emitted()
	require.Len(t, emitted, 1)
	assert.Equal(t, model.EventDeleteConversation, emitted[0].Event)
	assert.JSONEq(t, `"c1"`, string(emitted[0].Data))
}

func TestDelete_FailedServerDeleteIsCorrectedBySnapshot(t *testing.T) {
	r, bus := newTestReconciler(t)
	bus.Respond(func(string, json.RawMessage) (json.RawMessage, error) {
		return nil, errors.New("not allowed")
	})
	r.MergeSnapshot([]model.Conversation{conv("c1", "A", 0)})

	r.Delete("c1")
	assert.Empty(t, r.Conversations())

	r.MergeSnapshot([]model.Conversation{conv("c1", "A", 0)})
	assert.Equal(t, []string{"c1"}, ids(r.Conversations()))
}

func TestDelete_ClosedChannelKeepsLocalRemoval(t *testing.T) {
	r, bus := newTestReconciler(t)
	r.MergeSnapshot([]model.Conversation{conv("c1", "A", 0)})
	require.NoError(t, bus.Close())

	r.Delete("c1")
	assert.Empty(t, r.Conversations())
}

func TestOnChange(t *testing.T) {
	r, _ := newTestReconciler(t)

	var seen [][]string
	cancel := r.OnChange(func(list []model.Conversation) {
		seen = append(seen, ids(list))
	})

	r.MergeSnapshot([]model.Conversation{conv("c1", "A", 0)})
	r.ApplyMessageEvent(model.MessageEvent{ConversationID: "c2", Content: "x"})
	cancel()
	r.Delete("c1")

	assert.Equal(t, [][]string{{"c1"}, {"c2", "c1"}}, seen)
}

func TestOnChange_ConcurrentMutationsEndOnNewestList(t *testing.T) {
	r, _ := newTestReconciler(t)
	r.MergeSnapshot([]model.Conversation{conv("c1", "A", 0)})

	started := make(chan struct{})
	release := make(chan struct{})
	var mu sync.Mutex
	var calls, last int
	r.OnChange(func(list []model.Conversation) {
		mu.Lock()
		calls++
		first := calls == 1
		mu.Unlock()
		if first {
			close(started)
			<-release
		}
		mu.Lock()
		last = list[0].UnreadCount
		mu.Unlock()
	})

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		r.ApplyMessageEvent(model.MessageEvent{ConversationID: "c1", Content: "one"})
	}()
	<-started
	// The first delivery is still running; this one must not overtake it.
	r.ApplyMessageEvent(model.MessageEvent{ConversationID: "c1", Content: "two"})
	close(release)
	wg.Wait()

	got, _ := r.Get("c1")
	require.Equal(t, 2, got.UnreadCount)
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 2, last, "watcher must hold the newest list")
	assert.Equal(t, 2, calls)
}

func TestOnChange_WatcherMayMutate(t *testing.T) {
	r, _ := newTestReconciler(t)

	var seen []int
	r.OnChange(func(list []model.Conversation) {
		seen = append(seen, list[0].UnreadCount)
		if list[0].UnreadCount == 1 {
			r.ApplyUnreadCountEvent(model.UnreadCountEvent{ConversationID: "c1", UnreadCount: 5})
		}
	})

	r.ApplyMessageEvent(model.MessageEvent{ConversationID: "c1", Content: "x"})

	assert.Equal(t, []int{1, 5}, seen)
}

func TestDispose_IgnoresLateResults(t *testing.T) {
	r, bus := newTestReconciler(t)
	r.MergeSnapshot([]model.Conversation{conv("c1", "A", 0)})

	r.Dispose()
	assert.True(t, r.Disposed())

	r.MergeSnapshot([]model.Conversation{conv("c2", "B", 0)})
	r.ApplyMessageEvent(model.MessageEvent{ConversationID: "c1", Content: "late"})
	r.ApplyUnreadCountEvent(model.UnreadCountEvent{ConversationID: "c3", UnreadCount: 1})
	assert.False(t, r.Select("c1"))
	assert.False(t, r.Delete("c1"))

	got := r.Conversations()
	require.Len(t, got, 1)
	assert.Equal(t, 0, got[0].UnreadCount)
	assert.Empty(t, bus.Emitted())
}

func TestConversations_ReturnsCopies(t *testing.T) {
	r, _ := newTestReconciler(t)
	r.ApplyMessageEvent(model.MessageEvent{ConversationID: "c1", Content: "orig"})

	got := r.Conversations()
	*got[0].LastMessage = "mutated"
	got[0].UnreadCount = 99

	again, _ := r.Get("c1")
	assert.Equal(t, "orig", *again.LastMessage)
	assert.Equal(t, 1, again.UnreadCount)
}

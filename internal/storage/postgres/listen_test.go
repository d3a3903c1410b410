package postgres

import (
	"context"
	"log/slog"
	"sort"
	"strconv"
	"sync"
	"testing"

	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ageniuscoder/mmchat/convsync/internal/model"
	"github.com/ageniuscoder/mmchat/convsync/internal/storage"
)

// committedRows stands in for the messages table: only committed rows are
// visible, whatever their seq.
type committedRows struct {
	mu   sync.Mutex
	rows map[int64]model.InsertedMessage
}

func (c *committedRows) commit(seq int64) *pq.Notification {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.rows == nil {
		c.rows = map[int64]model.InsertedMessage{}
	}
	c.rows[seq] = model.InsertedMessage{Seq: seq, ID: "m" + strconv.FormatInt(seq, 10)}
	return &pq.Notification{Channel: Channel, Extra: strconv.FormatInt(seq, 10)}
}

func (c *committedRows) MessageBySeq(_ context.Context, seq int64) (model.InsertedMessage, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	m, ok := c.rows[seq]
	if !ok {
		return model.InsertedMessage{}, storage.ErrNotFound
	}
	return m, nil
}

func (c *committedRows) MessagesAfter(_ context.Context, after int64, limit int) ([]model.InsertedMessage, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []model.InsertedMessage
	for seq, m := range c.rows {
		if seq > after {
			out = append(out, m)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Seq < out[j].Seq })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func drained(f *NotifyFeed) []int64 {
	var seqs []int64
	for {
		select {
		case m := <-f.out:
			seqs = append(seqs, m.Seq)
		default:
			return seqs
		}
	}
}

func TestNotifyFeed_DeliversOutOfOrderCommits(t *testing.T) {
	rows := &committedRows{}
	f := newNotifyFeed(rows, 4, slog.Default())
	ctx := context.Background()

	// seq 5 is allocated first but its transaction commits after seq 6.
	require.True(t, f.handle(ctx, rows.commit(6)))
	require.True(t, f.handle(ctx, rows.commit(5)))

	assert.Equal(t, []int64{6, 5}, drained(f))
}

func TestNotifyFeed_CatchesUpAfterReconnect(t *testing.T) {
	rows := &committedRows{}
	f := newNotifyFeed(rows, 0, slog.Default())
	ctx := context.Background()

	require.True(t, f.handle(ctx, rows.commit(1)))
	// committed while the listener was down; their notifications are lost
	rows.commit(2)
	rows.commit(3)
	require.True(t, f.handle(ctx, nil))
	assert.Equal(t, []int64{1, 2, 3}, drained(f))

	// a late notification for a row the catch-up already sent is ignored
	require.True(t, f.handle(ctx, &pq.Notification{Extra: "3"}))
	assert.Empty(t, drained(f))
}

func TestNotifyFeed_SkipsVanishedRows(t *testing.T) {
	rows := &committedRows{}
	f := newNotifyFeed(rows, 0, slog.Default())

	require.True(t, f.handle(context.Background(), &pq.Notification{Extra: "9"}))
	assert.Empty(t, drained(f))
}

func TestNotifyFeed_StopsWhenContextEnds(t *testing.T) {
	rows := &committedRows{}
	f := newNotifyFeed(rows, 0, slog.Default())
	f.out = make(chan model.InsertedMessage)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	assert.False(t, f.handle(ctx, rows.commit(1)))
}

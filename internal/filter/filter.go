// Package filter derives the searchable projection of a conversation list.
package filter

import (
	"strings"
	"sync"

	"golang.org/x/text/cases"

	"github.com/ageniuscoder/mmchat/convsync/internal/model"
)

// Apply returns the conversations whose name contains query, compared with
// Unicode case folding. An empty query returns list itself.
func Apply(list []model.Conversation, query string) []model.Conversation {
	if query == "" {
		return list
	}
	fold := cases.Fold()
	needle := fold.String(query)
	out := make([]model.Conversation, 0, len(list))
	for _, c := range list {
		if strings.Contains(fold.String(c.Name), needle) {
			out = append(out, c)
		}
	}
	return out
}

// Live pairs a query with a list source and recomputes on every read, so it
// never holds a stale result.
type Live struct {
	mu     sync.RWMutex
	query  string
	source func() []model.Conversation
}

func NewLive(source func() []model.Conversation) *Live {
	return &Live{source: source}
}

func (l *Live) SetQuery(q string) {
	l.mu.Lock()
	l.query = q
	l.mu.Unlock()
}

func (l *Live) Query() string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.query
}

// Results applies the current query to the current list.
func (l *Live) Results() []model.Conversation {
	return Apply(l.source(), l.Query())
}

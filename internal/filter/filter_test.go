package filter

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"

	"github.com/ageniuscoder/mmchat/convsync/internal/model"
)

func names(list []model.Conversation) []string {
	out := make([]string, 0, len(list))
	for _, c := range list {
		out = append(out, c.Name)
	}
	return out
}

var sample = []model.Conversation{
	{ID: "1", Name: "Team Alpha"},
	{ID: "2", Name: "Bob"},
	{ID: "3", Name: "alpha testers"},
	{ID: "4", Name: "ÄRZTE chat"},
}

func TestApply(t *testing.T) {
	tests := []struct {
		name  string
		query string
		want  []string
	}{
		{"empty query keeps everything in order", "", []string{"Team Alpha", "Bob", "alpha testers", "ÄRZTE chat"}},
		{"case insensitive", "team", []string{"Team Alpha"}},
		{"upper query matches lower name", "ALPHA", []string{"Team Alpha", "alpha testers"}},
		{"substring in the middle", "am al", []string{"Team Alpha"}},
		{"no match", "zulu", []string{}},
		{"non-ascii letters fold", "ärzte", []string{"ÄRZTE chat"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Apply(sample, tt.query)
			if diff := cmp.Diff(tt.want, names(got)); diff != "" {
				t.Errorf("Apply(%q) mismatch (-want +got):\n%s", tt.query, diff)
			}
		})
	}
}

func TestApply_DoesNotMutateInput(t *testing.T) {
	in := append([]model.Conversation(nil), sample...)
	_ = Apply(in, "bob")
	assert.Equal(t, sample, in)
}

func TestLive_RecomputesOnSourceAndQueryChange(t *testing.T) {
	list := []model.Conversation{{ID: "1", Name: "Alice"}}
	live := NewLive(func() []model.Conversation { return list })

	assert.Equal(t, []string{"Alice"}, names(live.Results()))

	live.SetQuery("bo")
	assert.Empty(t, live.Results())

	list = append(list, model.Conversation{ID: "2", Name: "Bob"})
	assert.Equal(t, []string{"Bob"}, names(live.Results()))
	assert.Equal(t, "bo", live.Query())
}

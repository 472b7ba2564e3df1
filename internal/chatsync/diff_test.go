package chatsync

import (
	"testing"

	"chatline/internal/api"
)

func msgs(ids ...int64) []api.Message {
	out := make([]api.Message, len(ids))
	for i, id := range ids {
		out[i] = api.Message{ID: id, Content: "m"}
	}
	return out
}

func TestHeuristicChanged(t *testing.T) {
	cases := []struct {
		name      string
		displayed []Entry
		fresh     []api.Message
		want      bool
	}{
		{"both empty", nil, nil, false},
		{"same length same last id", Prepare(msgs(1, 2, 3)), msgs(1, 2, 3), false},
		{"length differs", Prepare(msgs(1, 2)), msgs(1, 2, 3), true},
		{"last id differs", Prepare(msgs(1, 2, 3)), msgs(1, 2, 4), true},
		{"known blind spot: middle replaced", Prepare(msgs(1, 2, 3)), msgs(1, 5, 3), false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := HeuristicChanged(tc.displayed, tc.fresh); got != tc.want {
				t.Fatalf("got %v want %v", got, tc.want)
			}
		})
	}
}

func TestExactChangedCatchesMiddleReplacement(t *testing.T) {
	if !ExactChanged(Prepare(msgs(1, 2, 3)), msgs(1, 5, 3)) {
		t.Fatalf("exact detector should see a replaced middle message")
	}
	if ExactChanged(Prepare(msgs(1, 2, 3)), msgs(1, 2, 3)) {
		t.Fatalf("identical lists must not count as changed")
	}
}

func TestDetectorFor(t *testing.T) {
	if _, err := DetectorFor("exact"); err != nil {
		t.Fatalf("exact: %v", err)
	}
	if _, err := DetectorFor("fuzzy"); err == nil {
		t.Fatalf("expected error for unknown detector")
	}
}

func TestPrepareMarksOnlyMediaAsLoading(t *testing.T) {
	entries := Prepare([]api.Message{
		{ID: 1, Content: "hi"},
		{ID: 2, MediaURL: "x.png"},
		{ID: 3, MediaURL: "  "},
	})
	if entries[0].Loading || !entries[1].Loading || entries[2].Loading {
		t.Fatalf("unexpected loading flags: %#v", entries)
	}
	for _, e := range entries {
		if e.LoadFailed {
			t.Fatalf("fresh entries must not be failed: %#v", e)
		}
	}
}

func TestMergePreservesTransientState(t *testing.T) {
	displayed := []Entry{
		{Message: api.Message{ID: 1, MediaURL: "a.png"}, Loading: false, LoadFailed: true},
		{Message: api.Message{ID: 2, MediaURL: "b.png"}, Loading: true},
		{Message: api.Message{ID: 3, Content: "gone"}},
	}
	fresh := []api.Message{
		{ID: 1, MediaURL: "a.png"},
		{ID: 2, MediaURL: "b.png"},
		{ID: 4, Content: "new text"},
		{ID: 5, MediaURL: "c.png"},
	}

	got := Merge(displayed, fresh)
	if len(got) != 4 {
		t.Fatalf("expected 4 entries, got %d", len(got))
	}
	if got[0].Loading || !got[0].LoadFailed {
		t.Fatalf("id 1 lost its failed state: %#v", got[0])
	}
	if !got[1].Loading || got[1].LoadFailed {
		t.Fatalf("id 2 lost its loading state: %#v", got[1])
	}
	if got[2].Loading || got[2].LoadFailed {
		t.Fatalf("new text message must not be loading: %#v", got[2])
	}
	if !got[3].Loading || got[3].LoadFailed {
		t.Fatalf("new media message must start loading: %#v", got[3])
	}
	if displayed[1].Message.ID != 2 || !displayed[1].Loading {
		t.Fatalf("merge must not mutate the displayed slice")
	}
}

func TestPendingMediaSkipsCarriedOverLoads(t *testing.T) {
	prior := []Entry{{Message: api.Message{ID: 2, MediaURL: "b.png"}, Loading: true}}
	merged := Merge(prior, []api.Message{{ID: 2, MediaURL: "b.png"}, {ID: 3, MediaURL: "c.png"}})
	items := pendingMedia(merged, prior)
	if len(items) != 1 || items[0].ID != 3 || items[0].URL != "c.png" {
		t.Fatalf("expected only id 3 to start preloading, got %#v", items)
	}
}

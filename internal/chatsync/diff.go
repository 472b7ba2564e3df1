package chatsync

import (
	"fmt"

	"chatline/internal/api"
)

// Entry is a message plus the view-only media state. Loading and LoadFailed
// are never sent back to the backend.
type Entry struct {
	Message    api.Message
	Loading    bool
	LoadFailed bool
}

// Detector reports whether fresh differs from what is displayed.
type Detector func(displayed []Entry, fresh []api.Message) bool

// HeuristicChanged compares only the length and the id of the last message.
// A deletion followed by an insertion that lands on the same length and last
// id goes unnoticed.
func HeuristicChanged(displayed []Entry, fresh []api.Message) bool {
	if len(displayed) != len(fresh) {
		return true
	}
	if len(fresh) == 0 {
		return false
	}
	return displayed[len(displayed)-1].Message.ID != fresh[len(fresh)-1].ID
}

// ExactChanged compares the full ordered sequence of ids and bodies.
func ExactChanged(displayed []Entry, fresh []api.Message) bool {
	if len(displayed) != len(fresh) {
		return true
	}
	for i := range fresh {
		d := displayed[i].Message
		f := fresh[i]
		if d.ID != f.ID || d.Content != f.Content || d.MediaURL != f.MediaURL {
			return true
		}
	}
	return false
}

func DetectorFor(name string) (Detector, error) {
	switch name {
	case "", "heuristic":
		return HeuristicChanged, nil
	case "exact":
		return ExactChanged, nil
	default:
		return nil, fmt.Errorf("unknown change detection %q", name)
	}
}

// Prepare builds entries from scratch, as on a conversation switch.
func Prepare(fresh []api.Message) []Entry {
	out := make([]Entry, len(fresh))
	for i, m := range fresh {
		out[i] = Entry{Message: m, Loading: m.HasMedia()}
	}
	return out
}

// Merge replaces displayed with fresh, carrying media state over for every id
// present in both.
func Merge(displayed []Entry, fresh []api.Message) []Entry {
	prior := make(map[int64]Entry, len(displayed))
	for _, e := range displayed {
		prior[e.Message.ID] = e
	}
	out := make([]Entry, len(fresh))
	for i, m := range fresh {
		if old, ok := prior[m.ID]; ok {
			out[i] = Entry{Message: m, Loading: old.Loading, LoadFailed: old.LoadFailed}
			continue
		}
		out[i] = Entry{Message: m, Loading: m.HasMedia()}
	}
	return out
}

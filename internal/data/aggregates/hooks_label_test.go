package aggregates

import "testing"

func TestOpLabelKeepsLastSegment(t *testing.T) {
	cases := map[string]string{
		"Session.Save":          "save",
		" Session.ListByOwner ": "listbyowner",
		"store.tx":              "tx",
		"load":                  "load",
	}
	for in, want := range cases {
		if got := opLabel(in); got != want {
			t.Fatalf("opLabel(%q): want=%q got=%q", in, want, got)
		}
	}
}

package capture

import (
	"sort"

	"github.com/odvcencio/classtap/pkg/host"
)

// SourceLine picks the line-table entry covering target: the last entry
// starting at or before target. It only answers when target is bracketed,
// i.e. some entry starts strictly before target and some entry starts at
// or after it. A one-entry table, a target at the first entry's offset, or
// a target past the last entry's start therefore resolve to ok=false.
func SourceLine(table []host.LineEntry, target int64) (line int, ok bool) {
	if len(table) < 2 {
		return 0, false
	}
	sorted := append([]host.LineEntry(nil), table...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Start < sorted[j].Start })

	before, after := false, false
	for _, e := range sorted {
		switch {
		case e.Start < target:
			before = true
			line = e.Line
		case e.Start == target:
			after = true
			line = e.Line
		default:
			after = true
		}
	}
	if !before || !after {
		return 0, false
	}
	return line, true
}

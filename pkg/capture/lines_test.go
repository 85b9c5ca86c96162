package capture

import (
	"testing"

	"github.com/odvcencio/classtap/pkg/host"
)

func TestSourceLine(t *testing.T) {
	table := []host.LineEntry{{Start: 0, Line: 1}, {Start: 5, Line: 2}, {Start: 10, Line: 3}}

	tests := []struct {
		name   string
		table  []host.LineEntry
		target int64
		line   int
		ok     bool
	}{
		{"between entries", table, 7, 2, true},
		{"just after first", table, 1, 1, true},
		{"exactly second entry", table, 5, 2, true},
		{"exactly last entry", table, 10, 3, true},
		{"past last start", table, 12, 0, false},
		{"at first entry", table, 0, 0, false},
		{"single entry", []host.LineEntry{{Start: 0, Line: 9}}, 3, 0, false},
		{"empty table", nil, 3, 0, false},
		{"unsorted table", []host.LineEntry{{Start: 10, Line: 3}, {Start: 0, Line: 1}, {Start: 5, Line: 2}}, 7, 2, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			line, ok := SourceLine(tt.table, tt.target)
			if line != tt.line || ok != tt.ok {
				t.Fatalf("SourceLine(%d) = %d, %v; want %d, %v", tt.target, line, ok, tt.line, tt.ok)
			}
		})
	}
}

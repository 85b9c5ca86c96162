package stats

import (
	"fmt"
	"io"

	"github.com/odvcencio/classtap/pkg/bytecode"
)

// WriteReport prints the shutdown summary for s.
func WriteReport(w io.Writer, s Snapshot) error {
	ew := &errWriter{w: w}

	ew.printf("Classes defined: %d\n", s.Total)
	ew.printf("Classes defined (ignored): %d\n", s.Ignored)
	ew.printf("Classes defined by unknown code (stack trace error or empty): %d\n", s.NoFramesOrError)
	for g := Generator(0); g < NumGenerators; g++ {
		ew.printf("Classes defined by %s(): %d\n", g, s.ByGenerator[g])
	}
	ew.printf("Classes in other methods: %d\n", s.Unknown)

	ew.printf("  Bytecode frequencies in call sites:\n")
	var sum uint64
	rank := 1
	for i, n := range s.Opcodes {
		if n == 0 {
			continue
		}
		sum += n
		ew.printf("  %3d %s = %d (running sum %d)\n", rank, bytecode.Opcode(i), n, sum)
		rank++
	}
	ew.printf("  Bytecodes sum = %d\n", sum)
	ew.printf("Uncounted classes: %d\n", s.Uncounted())
	return ew.err
}

type errWriter struct {
	w   io.Writer
	err error
}

func (e *errWriter) printf(format string, args ...any) {
	if e.err != nil {
		return
	}
	_, e.err = fmt.Fprintf(e.w, format, args...)
}

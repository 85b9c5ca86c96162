package capture

import (
	"bytes"
	"fmt"

	"github.com/odvcencio/classtap/pkg/bytecode"
	"github.com/odvcencio/classtap/pkg/stats"
	"github.com/odvcencio/classtap/pkg/store"
)

// Attribution classifies what defined a class.
type Attribution int

const (
	// KnownGenerator: the innermost frame is a known code-generation primitive.
	KnownGenerator Attribution = iota + 1
	// UnknownTopFrame: the innermost frame is anything else.
	UnknownTopFrame
	// NoFrames: the stack was readable but empty.
	NoFrames
	// StackReadError: the stack could not be read.
	StackReadError
)

func (a Attribution) String() string {
	switch a {
	case KnownGenerator:
		return "known-generator"
	case UnknownTopFrame:
		return "unknown-top-frame"
	case NoFrames:
		return "no-frames"
	case StackReadError:
		return "stack-read-error"
	default:
		return fmt.Sprintf("attribution-%d", int(a))
	}
}

// PositionKind describes how a frame's location was interpreted.
type PositionKind int

const (
	PositionBytecode PositionKind = iota + 1
	PositionNative
	PositionUnsupported
	PositionError
)

// FrameRecord is the resolved view of one stack frame. Lookup failures are
// kept as errors next to the field they degrade.
type FrameRecord struct {
	Method    string
	Signature string
	MethodErr error

	DeclaringClass string
	ClassErr       error

	Position PositionKind
	Location int64
	Line     int
	HasLine  bool // Line came from the line-number table
	LineErr  error
}

// OpcodeCapture is the instruction found at the innermost call site of an
// unattributed definition.
type OpcodeCapture struct {
	Op     bytecode.Opcode
	Offset int64
}

// ContextRecord describes who defined one class. It is formatted and handed
// to a sink, then dropped.
type ContextRecord struct {
	Session    string
	Class      string
	Anonymous  bool
	PayloadLen int
	Digest     string
	Write      store.WriteResult

	Frames      []FrameRecord
	StackErr    error
	Attribution Attribution
	Generator   stats.Generator // valid for KnownGenerator
	TopMethod   string          // innermost method name, if resolved

	Opcode    *OpcodeCapture
	OpcodeErr error

	LoaderID    int32
	Bootstrap   bool
	LoaderClass string
	LoaderErr   error
}

// Bytes renders r as text for an .info file or shared stream.
func (r *ContextRecord) Bytes() []byte {
	var b bytes.Buffer

	kind := "class"
	if r.Anonymous {
		kind = "anonymous class"
	}
	fmt.Fprintf(&b, "== %s %s (%d bytes, blake2b %s) session %s\n", kind, r.Class, r.PayloadLen, r.Digest, r.Session)
	if r.Write.Outcome != 0 {
		fmt.Fprintf(&b, "[write: %s %s", r.Write.Outcome, r.Write.Path)
		if r.Write.Outcome == store.Conflict {
			if r.Write.FirstDiff >= 0 {
				fmt.Fprintf(&b, ", first different byte @ %d", r.Write.FirstDiff)
			} else {
				fmt.Fprintf(&b, ", size %d on disk vs %d", r.Write.ExistingSize, r.Write.Size)
			}
		}
		b.WriteString("]\n")
	}

	switch r.Attribution {
	case StackReadError:
		fmt.Fprintf(&b, "[error reading stack trace: %v]\n", r.StackErr)
	case NoFrames:
		b.WriteString("[empty stack trace]\n")
	}

	for i, f := range r.Frames {
		fmt.Fprintf(&b, "{ Frame %d: ", i)
		if f.MethodErr != nil {
			fmt.Fprintf(&b, "[method unresolved: %v] ", f.MethodErr)
		} else {
			sig := f.Signature
			if sig == "" {
				sig = "no signature"
			}
			fmt.Fprintf(&b, "%s (signature: %s) ", f.Method, sig)
		}

		switch f.Position {
		case PositionNative:
			b.WriteString("(native method) ")
		case PositionUnsupported:
			b.WriteString("(unsupported location type) ")
		case PositionError:
			b.WriteString("(error reading location) ")
		case PositionBytecode:
			fmt.Fprintf(&b, "(bytecode @ position %d) ", f.Location)
			if i == 0 {
				switch {
				case r.Opcode != nil:
					fmt.Fprintf(&b, "[bc:%s] ", r.Opcode.Op)
				case r.OpcodeErr != nil:
					b.WriteString("(error reading bytecode) ")
				}
			}
			switch {
			case f.LineErr != nil:
				fmt.Fprintf(&b, "(source location: %v) ", f.LineErr)
			case f.HasLine:
				fmt.Fprintf(&b, "(candidate line number: %d) ", f.Line)
			default:
				b.WriteString("(could not determine source location) ")
			}
		}

		if f.ClassErr != nil {
			fmt.Fprintf(&b, "[declaring class not found: %v]", f.ClassErr)
		} else {
			fmt.Fprintf(&b, "[declaring class: %s]", f.DeclaringClass)
		}
		b.WriteString(" }\n")
	}

	switch r.Attribution {
	case KnownGenerator:
		fmt.Fprintf(&b, "[defined by %s via %s]\n", r.Generator, r.TopMethod)
	case UnknownTopFrame:
		if r.TopMethod == "" {
			b.WriteString("[Unnamed top method!]\n")
		} else {
			b.WriteString("[Unknown top method!]\n")
		}
	}

	switch {
	case r.Bootstrap:
		b.WriteString("[null classloader (bootstrap)]\n")
	case r.LoaderErr != nil:
		fmt.Fprintf(&b, "[error retrieving classloader %d: %v]\n", r.LoaderID, r.LoaderErr)
	default:
		fmt.Fprintf(&b, "[classloader %d class: %s]\n", r.LoaderID, r.LoaderClass)
	}
	return b.Bytes()
}

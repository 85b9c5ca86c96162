package capture

import (
	"errors"

	"github.com/odvcencio/classtap/pkg/bytecode"
	"github.com/odvcencio/classtap/pkg/host"
	"github.com/odvcencio/classtap/pkg/stats"
)

// DefaultMaxFrames caps how many frames are inspected per event. Deeper
// frames are omitted from the record.
const DefaultMaxFrames = 47

// KnownGenerators maps the runtime's class-definition primitives to the
// generator they represent. Only the innermost frame is matched.
var KnownGenerators = map[string]stats.Generator{
	"defineClass0":         stats.DefineHiddenClass,
	"defineClass1":         stats.DefineClass,
	"defineClass2":         stats.DefineClass,
	"defineAnonymousClass": stats.DefineAnonymousClass,
}

var errNotBytecodeIndex = errors.New("call site is not a bytecode index")

// Reconstructor walks the defining thread's stack and attributes the
// definition. It updates the statistics once per call.
type Reconstructor struct {
	host       host.Host
	stats      *stats.Aggregator
	maxFrames  int
	generators map[string]stats.Generator
}

// NewReconstructor returns a Reconstructor. maxFrames < 1 selects
// DefaultMaxFrames.
func NewReconstructor(h host.Host, agg *stats.Aggregator, maxFrames int) *Reconstructor {
	if maxFrames < 1 {
		maxFrames = DefaultMaxFrames
	}
	return &Reconstructor{host: h, stats: agg, maxFrames: maxFrames, generators: KnownGenerators}
}

// Reconstruct fills the attribution, frame and loader fields of rec and
// records the outcome. The returned error is a statistics invariant
// violation, never a host failure.
func (r *Reconstructor) Reconstruct(t host.Thread, loader host.Loader, rec *ContextRecord) error {
	r.walk(t, rec)
	r.loader(loader, rec)
	return r.stats.Classify(func(tally *stats.Tally) {
		switch rec.Attribution {
		case KnownGenerator:
			tally.Generator(rec.Generator)
		case UnknownTopFrame:
			tally.Unknown()
			if rec.Opcode != nil {
				tally.Opcode(rec.Opcode.Op)
			}
		default:
			tally.NoFramesOrError()
		}
	})
}

func (r *Reconstructor) walk(t host.Thread, rec *ContextRecord) {
	frames, err := r.host.StackTrace(t, r.maxFrames)
	if err != nil {
		rec.Attribution = StackReadError
		rec.StackErr = err
		return
	}
	if len(frames) == 0 {
		rec.Attribution = NoFrames
		return
	}

	format, formatErr := r.host.LocationFormat()

	rec.Frames = make([]FrameRecord, len(frames))
	for i, fr := range frames {
		fi := &rec.Frames[i]
		fi.Location = fr.Location
		fi.Method, fi.Signature, fi.MethodErr = r.host.MethodName(fr.Method)

		if i == 0 {
			r.attribute(fi, rec)
		}

		switch {
		case fr.Location == host.NativeLocation:
			fi.Position = PositionNative
		case formatErr != nil:
			fi.Position = PositionError
		case format != host.LocationBytecodeIndex:
			fi.Position = PositionUnsupported
		default:
			fi.Position = PositionBytecode
			if table, err := r.host.LineNumberTable(fr.Method); err != nil {
				fi.LineErr = err
			} else if line, ok := SourceLine(table, fr.Location); ok {
				fi.Line, fi.HasLine = line, true
			}
		}

		if i == 0 && rec.Attribution == UnknownTopFrame {
			r.callSite(fr, fi.Position, rec)
		}

		fi.DeclaringClass, fi.ClassErr = r.host.DeclaringClass(fr.Method)
	}
}

// attribute classifies the event from the innermost frame. An unresolvable
// method name is an unknown top frame.
func (r *Reconstructor) attribute(top *FrameRecord, rec *ContextRecord) {
	if top.MethodErr != nil {
		rec.Attribution = UnknownTopFrame
		return
	}
	rec.TopMethod = top.Method
	if g, ok := r.generators[top.Method]; ok {
		rec.Attribution = KnownGenerator
		rec.Generator = g
		return
	}
	rec.Attribution = UnknownTopFrame
}

// callSite reads the one instruction at the innermost frame's location.
func (r *Reconstructor) callSite(fr host.Frame, pos PositionKind, rec *ContextRecord) {
	if pos != PositionBytecode {
		rec.OpcodeErr = errNotBytecodeIndex
		return
	}
	code, err := r.host.Bytecodes(fr.Method)
	if err != nil {
		rec.OpcodeErr = err
		return
	}
	op, err := bytecode.At(code, fr.Location)
	if err != nil {
		rec.OpcodeErr = err
		return
	}
	rec.Opcode = &OpcodeCapture{Op: op, Offset: fr.Location}
}

func (r *Reconstructor) loader(l host.Loader, rec *ContextRecord) {
	if l == host.BootstrapLoader {
		rec.Bootstrap = true
		return
	}
	rec.LoaderClass, rec.LoaderErr = r.host.LoaderClass(l)
}

// Package host defines the narrow set of queries the capture engine issues
// against the managed runtime it is embedded in. The runtime delivers
// class-definition events; everything else (stacks, method metadata,
// bytecode, loader information) is pulled on demand through Host.
package host

import "errors"

// MethodID is an opaque handle to a method owned by the runtime.
type MethodID uint64

// Loader is an opaque handle to a class loader. The zero value is the
// bootstrap (null) loader.
type Loader uint64

// BootstrapLoader is the null loader reference.
const BootstrapLoader Loader = 0

// Thread is an opaque handle to the thread that raised an event.
type Thread uint64

// NativeLocation marks a frame executing a native method.
const NativeLocation int64 = -1

// Frame is one entry of a stack trace, innermost first.
type Frame struct {
	Method   MethodID
	Location int64 // bytecode index, or NativeLocation
}

// LineEntry maps a bytecode start offset to a source line.
type LineEntry struct {
	Start int64
	Line  int
}

// LocationFormat is the runtime's encoding of Frame.Location.
type LocationFormat int

const (
	// LocationBytecodeIndex means locations are offsets into the method's bytecode.
	LocationBytecodeIndex LocationFormat = iota + 1
	// LocationMachinePC means locations are native program counters.
	LocationMachinePC
	// LocationOther covers any other encoding.
	LocationOther
)

// ErrNotFound is returned when a handle is unknown to the runtime.
var ErrNotFound = errors.New("host: not found")

// ErrAbsentInformation is returned when the runtime has no data for a query,
// such as a line table for a method compiled without debug info.
var ErrAbsentInformation = errors.New("host: absent information")

// Host is the capability interface of the embedding runtime. Implementations
// must be safe for concurrent use; every call is synchronous.
type Host interface {
	// StackTrace returns at most maxFrames frames of t's stack, innermost first.
	StackTrace(t Thread, maxFrames int) ([]Frame, error)
	// MethodName returns the method's name and signature.
	MethodName(m MethodID) (name, signature string, err error)
	// DeclaringClass returns the signature of the class declaring m.
	DeclaringClass(m MethodID) (string, error)
	// LineNumberTable returns m's line table in table order.
	LineNumberTable(m MethodID) ([]LineEntry, error)
	// Bytecodes returns the full bytecode of m.
	Bytecodes(m MethodID) ([]byte, error)
	// LocationFormat reports how Frame.Location is encoded.
	LocationFormat() (LocationFormat, error)
	// LoaderHash derives an integer identity for l; 0 for the bootstrap
	// loader or when the identity cannot be computed.
	LoaderHash(l Loader) int32
	// LoaderClass returns the signature of l's own runtime class.
	LoaderClass(l Loader) (string, error)
}

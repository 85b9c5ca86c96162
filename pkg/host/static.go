package host

import (
	"fmt"
	"sync"
)

// Method describes a method known to a Static host.
type Method struct {
	ID             MethodID
	Name           string
	Signature      string
	DeclaringClass string
	Lines          []LineEntry
	Code           []byte
}

// LoaderInfo describes a class loader known to a Static host.
type LoaderInfo struct {
	Ref   Loader
	Hash  int32
	Class string
}

// Static is an in-memory Host. Stacks are registered per thread before the
// corresponding event is delivered. It backs trace replay and tests.
type Static struct {
	mu        sync.RWMutex
	methods   map[MethodID]Method
	loaders   map[Loader]LoaderInfo
	stacks    map[Thread][]Frame
	stackErrs map[Thread]error
	format    LocationFormat
	formatErr error
}

// NewStatic returns an empty Static host reporting bytecode-index locations.
func NewStatic() *Static {
	return &Static{
		methods:   make(map[MethodID]Method),
		loaders:   make(map[Loader]LoaderInfo),
		stacks:    make(map[Thread][]Frame),
		stackErrs: make(map[Thread]error),
		format:    LocationBytecodeIndex,
	}
}

// AddMethod registers or replaces a method.
func (s *Static) AddMethod(m Method) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.methods[m.ID] = m
}

// AddLoader registers or replaces a loader.
func (s *Static) AddLoader(l LoaderInfo) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.loaders[l.Ref] = l
}

// SetStack sets the stack returned for t, innermost frame first.
func (s *Static) SetStack(t Thread, frames []Frame) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stacks[t] = append([]Frame(nil), frames...)
	delete(s.stackErrs, t)
}

// SetStackError makes StackTrace fail for t.
func (s *Static) SetStackError(t Thread, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stackErrs[t] = err
	delete(s.stacks, t)
}

// SetLocationFormat overrides the reported location format. A non-nil err
// makes LocationFormat fail.
func (s *Static) SetLocationFormat(f LocationFormat, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.format = f
	s.formatErr = err
}

func (s *Static) StackTrace(t Thread, maxFrames int) ([]Frame, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err, ok := s.stackErrs[t]; ok {
		return nil, err
	}
	frames := s.stacks[t]
	if maxFrames >= 0 && len(frames) > maxFrames {
		frames = frames[:maxFrames]
	}
	return append([]Frame(nil), frames...), nil
}

func (s *Static) method(m MethodID) (Method, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	meth, ok := s.methods[m]
	if !ok {
		return Method{}, fmt.Errorf("method %d: %w", m, ErrNotFound)
	}
	return meth, nil
}

func (s *Static) MethodName(m MethodID) (string, string, error) {
	meth, err := s.method(m)
	if err != nil {
		return "", "", err
	}
	return meth.Name, meth.Signature, nil
}

func (s *Static) DeclaringClass(m MethodID) (string, error) {
	meth, err := s.method(m)
	if err != nil {
		return "", err
	}
	if meth.DeclaringClass == "" {
		return "", fmt.Errorf("method %d declaring class: %w", m, ErrAbsentInformation)
	}
	return meth.DeclaringClass, nil
}

func (s *Static) LineNumberTable(m MethodID) ([]LineEntry, error) {
	meth, err := s.method(m)
	if err != nil {
		return nil, err
	}
	if meth.Lines == nil {
		return nil, fmt.Errorf("method %d line table: %w", m, ErrAbsentInformation)
	}
	return append([]LineEntry(nil), meth.Lines...), nil
}

func (s *Static) Bytecodes(m MethodID) ([]byte, error) {
	meth, err := s.method(m)
	if err != nil {
		return nil, err
	}
	if meth.Code == nil {
		return nil, fmt.Errorf("method %d bytecode: %w", m, ErrAbsentInformation)
	}
	return append([]byte(nil), meth.Code...), nil
}

func (s *Static) LocationFormat() (LocationFormat, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.format, s.formatErr
}

func (s *Static) LoaderHash(l Loader) int32 {
	if l == BootstrapLoader {
		return 0
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.loaders[l].Hash
}

func (s *Static) LoaderClass(l Loader) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	info, ok := s.loaders[l]
	if !ok {
		return "", fmt.Errorf("loader %d: %w", l, ErrNotFound)
	}
	if info.Class == "" {
		return "", fmt.Errorf("loader %d class: %w", l, ErrAbsentInformation)
	}
	return info.Class, nil
}

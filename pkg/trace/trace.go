// Package trace loads recorded class-definition events so the capture
// engine can be driven without a live runtime.
//
// A trace is a YAML document, optionally zstd-compressed:
//
//	location_format: bytecode-index
//	methods:
//	  - id: 1
//	    name: defineClass1
//	    signature: (Ljava/lang/String;[BII)Ljava/lang/Class;
//	    class: Ljava/lang/ClassLoader;
//	  - id: 2
//	    name: run
//	    class: Lcom/example/App;
//	    lines: [{start: 0, line: 10}, {start: 4, line: 11}]
//	    bytecode: 2a2b0304b6000257b1
//	loaders:
//	  - {id: 100, hash: 7, class: Lcom/example/Loader;}
//	events:
//	  - name: com/example/Gen1
//	    loader: 100
//	    payload: yv66vgAAADQ=
//	    stack:
//	      - {method: 1, native: true}
//	      - {method: 2, location: 4}
package trace

import (
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/odvcencio/classtap/pkg/capture"
	"github.com/odvcencio/classtap/pkg/host"
)

// File is a decoded trace.
type File struct {
	LocationFormat string   `yaml:"location_format,omitempty"`
	Methods        []Method `yaml:"methods"`
	Loaders        []Loader `yaml:"loaders,omitempty"`
	Events         []Event  `yaml:"events"`
}

// Method is the metadata the host reports for one method. Omitted lines or
// bytecode make the corresponding lookups fail as absent information.
type Method struct {
	ID        uint64 `yaml:"id"`
	Name      string `yaml:"name"`
	Signature string `yaml:"signature,omitempty"`
	Class     string `yaml:"class,omitempty"`
	Lines     []Line `yaml:"lines,omitempty"`
	Bytecode  string `yaml:"bytecode,omitempty"` // hex
}

type Line struct {
	Start int64 `yaml:"start"`
	Line  int   `yaml:"line"`
}

type Loader struct {
	ID    uint64 `yaml:"id"`
	Hash  int32  `yaml:"hash"`
	Class string `yaml:"class,omitempty"`
}

// Event is one recorded definition. Loader 0 is the bootstrap loader and an
// empty name is an anonymous class.
type Event struct {
	Name         string  `yaml:"name,omitempty"`
	Loader       uint64  `yaml:"loader,omitempty"`
	Payload      string  `yaml:"payload,omitempty"` // base64
	PayloadFile  string  `yaml:"payload_file,omitempty"`
	Redefinition bool    `yaml:"redefinition,omitempty"`
	Stack        []Frame `yaml:"stack,omitempty"`
	StackError   string  `yaml:"stack_error,omitempty"`
}

type Frame struct {
	Method   uint64 `yaml:"method"`
	Location int64  `yaml:"location,omitempty"`
	Native   bool   `yaml:"native,omitempty"`
}

// Load reads and decodes the trace at path.
func Load(path string) (*File, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("load trace: %w", err)
	}
	defer f.Close()

	tf, err := Decode(path, f)
	if err != nil {
		return nil, fmt.Errorf("load trace %s: %w", path, err)
	}
	return tf, nil
}

// Decode decodes a trace from r. name selects decompression by suffix.
func Decode(name string, r io.Reader) (*File, error) {
	rc, err := maybeDecompress(name, r)
	if err != nil {
		return nil, fmt.Errorf("zstd: %w", err)
	}
	defer rc.Close()

	dec := yaml.NewDecoder(rc)
	dec.KnownFields(true)
	var tf File
	if err := dec.Decode(&tf); err != nil {
		if errors.Is(err, io.EOF) {
			return &tf, nil
		}
		return nil, fmt.Errorf("decode: %w", err)
	}
	return &tf, nil
}

// Encode writes tf as YAML.
func Encode(w io.Writer, tf *File) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(tf); err != nil {
		return fmt.Errorf("encode trace: %w", err)
	}
	return enc.Close()
}

// Replay is a trace bound to an in-memory host.
type Replay struct {
	Host   *host.Static
	Events []capture.Event
}

// Build registers the trace's methods, loaders and stacks on a fresh
// host.Static and returns the events in order. Each event runs on its own
// thread so stacks never collide. payload_file entries are resolved against
// baseDir.
func (tf *File) Build(baseDir string) (*Replay, error) {
	h := host.NewStatic()

	switch tf.LocationFormat {
	case "", "bytecode-index":
	case "machine-pc":
		h.SetLocationFormat(host.LocationMachinePC, nil)
	case "other":
		h.SetLocationFormat(host.LocationOther, nil)
	default:
		return nil, fmt.Errorf("build trace: unknown location_format %q", tf.LocationFormat)
	}

	for _, m := range tf.Methods {
		hm := host.Method{
			ID:             host.MethodID(m.ID),
			Name:           m.Name,
			Signature:      m.Signature,
			DeclaringClass: m.Class,
		}
		if m.Lines != nil {
			hm.Lines = make([]host.LineEntry, len(m.Lines))
			for i, l := range m.Lines {
				hm.Lines[i] = host.LineEntry{Start: l.Start, Line: l.Line}
			}
		}
		if m.Bytecode != "" {
			code, err := hex.DecodeString(m.Bytecode)
			if err != nil {
				return nil, fmt.Errorf("build trace: method %d bytecode: %w", m.ID, err)
			}
			hm.Code = code
		}
		h.AddMethod(hm)
	}

	for _, l := range tf.Loaders {
		if l.ID == uint64(host.BootstrapLoader) {
			return nil, errors.New("build trace: loader id 0 is reserved for the bootstrap loader")
		}
		h.AddLoader(host.LoaderInfo{Ref: host.Loader(l.ID), Hash: l.Hash, Class: l.Class})
	}

	events := make([]capture.Event, 0, len(tf.Events))
	for i, ev := range tf.Events {
		payload, err := ev.payload(baseDir)
		if err != nil {
			return nil, fmt.Errorf("build trace: event %d (%s): %w", i, ev.Name, err)
		}

		t := host.Thread(i + 1)
		if ev.StackError != "" {
			h.SetStackError(t, errors.New(ev.StackError))
		} else {
			frames := make([]host.Frame, len(ev.Stack))
			for j, fr := range ev.Stack {
				loc := fr.Location
				if fr.Native {
					loc = host.NativeLocation
				}
				frames[j] = host.Frame{Method: host.MethodID(fr.Method), Location: loc}
			}
			h.SetStack(t, frames)
		}

		events = append(events, capture.Event{
			Name:         ev.Name,
			Loader:       host.Loader(ev.Loader),
			Thread:       t,
			Payload:      payload,
			Redefinition: ev.Redefinition,
		})
	}
	return &Replay{Host: h, Events: events}, nil
}

func (ev Event) payload(baseDir string) ([]byte, error) {
	if ev.PayloadFile != "" {
		if ev.Payload != "" {
			return nil, errors.New("payload and payload_file are mutually exclusive")
		}
		p := ev.PayloadFile
		if !filepath.IsAbs(p) {
			p = filepath.Join(baseDir, p)
		}
		data, err := os.ReadFile(p)
		if err != nil {
			return nil, fmt.Errorf("payload file: %w", err)
		}
		return data, nil
	}
	data, err := base64.StdEncoding.DecodeString(ev.Payload)
	if err != nil {
		return nil, fmt.Errorf("payload: %w", err)
	}
	return data, nil
}

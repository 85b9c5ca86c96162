package main

import (
	"bufio"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/odvcencio/classtap/pkg/layout"
	"github.com/odvcencio/classtap/pkg/store"
)

// artifact is one captured .class file under an output root.
type artifact struct {
	Loader    string // loader identity directory
	Class     string // slash-separated class name
	ClassPath string
	InfoPath  string
	HasInfo   bool
}

// listArtifacts walks the loader directories under root. Files at the top
// level (report, lock, effective config) are not artifacts.
func listArtifacts(root string) ([]artifact, error) {
	entries, err := os.ReadDir(root)
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", root, err)
	}

	var out []artifact
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		if _, err := strconv.ParseInt(e.Name(), 10, 32); err != nil {
			continue
		}
		base := filepath.Join(root, e.Name())
		err := filepath.WalkDir(base, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if d.IsDir() || !strings.HasSuffix(path, layout.ClassExt) {
				return nil
			}
			rel, err := filepath.Rel(base, path)
			if err != nil {
				return err
			}
			info := strings.TrimSuffix(path, layout.ClassExt) + layout.InfoExt
			_, statErr := os.Stat(info)
			out = append(out, artifact{
				Loader:    e.Name(),
				Class:     filepath.ToSlash(strings.TrimSuffix(rel, layout.ClassExt)),
				ClassPath: path,
				InfoPath:  info,
				HasInfo:   statErr == nil,
			})
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("list %s: %w", base, err)
		}
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].Loader != out[j].Loader {
			return out[i].Loader < out[j].Loader
		}
		return out[i].Class < out[j].Class
	})
	return out, nil
}

// errNoStoredRecord means no context record in an .info file describes the
// bytes on disk: every record is a conflict or a failed write.
var errNoStoredRecord = errors.New("no context record for the stored payload")

// recordedDigest returns the payload digest of the first context record
// whose write outcome shows the bytes on disk: written or already-identical.
// Conflict records carry the incoming digest and are skipped.
func recordedDigest(infoPath string) (string, error) {
	f, err := os.Open(infoPath)
	if err != nil {
		return "", err
	}
	defer f.Close()

	stored := []string{
		"[write: " + store.Written.String() + " ",
		"[write: " + store.AlreadyIdentical.String() + " ",
	}
	pending := ""
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for sc.Scan() {
		line := sc.Text()
		if strings.HasPrefix(line, "== ") {
			d, err := headerDigest(line)
			if err != nil {
				return "", fmt.Errorf("%s: %w", infoPath, err)
			}
			pending = d
			continue
		}
		if pending == "" || !strings.HasPrefix(line, "[write: ") {
			continue
		}
		for _, p := range stored {
			if strings.HasPrefix(line, p) {
				return pending, nil
			}
		}
		pending = ""
	}
	if err := sc.Err(); err != nil {
		return "", err
	}
	return "", fmt.Errorf("%s: %w", infoPath, errNoStoredRecord)
}

func headerDigest(line string) (string, error) {
	const marker = "blake2b "
	i := strings.Index(line, marker)
	if i < 0 {
		return "", errors.New("record header has no digest")
	}
	rest := line[i+len(marker):]
	j := strings.IndexByte(rest, ')')
	if j < 0 {
		return "", errors.New("malformed record header")
	}
	return rest[:j], nil
}

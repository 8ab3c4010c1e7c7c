package workspace

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

const (
	// DefaultDataDirName is the directory created inside each workspace.
	DefaultDataDirName = ".novaport_data"
	// DBFileName is the SQLite store inside the data directory.
	DBFileName = "conport.db"
	// VectorDirName holds the vector index, next to the store.
	VectorDirName = "vectordb"
)

// ErrInvalidWorkspace is returned for identifiers that cannot name a
// directory.
var ErrInvalidWorkspace = errors.New("workspace: invalid workspace id")

// Resolve maps a workspace identifier to its canonical absolute path: the
// cleaned absolute form with symlinks evaluated on the deepest ancestor that
// exists. Identifiers naming the same directory resolve equal.
func Resolve(id string) (string, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidWorkspace)
	}
	if strings.ContainsRune(id, 0) {
		return "", fmt.Errorf("%w: contains NUL", ErrInvalidWorkspace)
	}
	abs, err := filepath.Abs(id)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidWorkspace, err)
	}

	// Walk up until something exists, then re-append the missing tail.
	existing, rest := abs, ""
	for {
		resolved, err := filepath.EvalSymlinks(existing)
		if err == nil {
			return filepath.Join(resolved, rest), nil
		}
		if !errors.Is(err, fs.ErrNotExist) {
			return "", fmt.Errorf("%w: %v", ErrInvalidWorkspace, err)
		}
		parent := filepath.Dir(existing)
		if parent == existing {
			return abs, nil
		}
		rest = filepath.Join(filepath.Base(existing), rest)
		existing = parent
	}
}

// Paths is the on-disk layout of one workspace.
type Paths struct {
	Root      string // resolved workspace path
	DataDir   string // <root>/<data dir name>
	DBPath    string // <data dir>/conport.db
	VectorDir string // <data dir>/vectordb
}

// Layout returns the paths under root. An empty dataDirName means
// DefaultDataDirName.
func Layout(root, dataDirName string) Paths {
	if dataDirName == "" {
		dataDirName = DefaultDataDirName
	}
	data := filepath.Join(root, dataDirName)
	return Paths{
		Root:      root,
		DataDir:   data,
		DBPath:    filepath.Join(data, DBFileName),
		VectorDir: filepath.Join(data, VectorDirName),
	}
}

// ensureDir creates dir and verifies it is a writable directory.
func ensureDir(dir string) error {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return err
	}
	name := tmp.Name()
	_ = tmp.Close()
	return os.Remove(name)
}

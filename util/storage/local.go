package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"
)

// Local writes images under Dir and hands out references of the form
// URLPrefix/<name>, which the API serves statically.
type Local struct {
	Dir       string
	URLPrefix string
}

func NewLocal(dir, urlPrefix string) *Local {
	return &Local{Dir: dir, URLPrefix: "/" + strings.Trim(urlPrefix, "/")}
}

func (l *Local) Save(_ context.Context, filename string, r io.Reader) (string, error) {
	if err := os.MkdirAll(l.Dir, 0o755); err != nil {
		return "", err
	}
	name := uniqueName(filename)
	dst := filepath.Join(l.Dir, name)
	out, err := os.Create(dst)
	if err != nil {
		return "", err
	}

	_, err = io.Copy(out, r)
	if cerr := out.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(dst)
		return "", err
	}
	return path.Join(l.URLPrefix, name), nil
}

// Delete removes the file behind ref. Missing files are not an error.
func (l *Local) Delete(_ context.Context, ref string) error {
	p, err := l.pathFor(ref)
	if err != nil {
		return err
	}
	if err := os.Remove(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}

func (l *Local) pathFor(ref string) (string, error) {
	name := strings.TrimPrefix(ref, l.URLPrefix+"/")
	if name == "" || name == ref || strings.Contains(name, "/") || strings.Contains(name, "..") {
		return "", fmt.Errorf("image reference %q is not managed by this store", ref)
	}
	return filepath.Join(l.Dir, name), nil
}

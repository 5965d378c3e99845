// Package artifact finds the server jar next to, or one level above, the
// supervisor's working directory.
package artifact

import (
	"os"
	"path/filepath"
	"sort"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/randomizedcoder/go-jar-supervisor/internal/errkind"
)

const (
	// DefaultName is the conventional artifact file name.
	DefaultName = "server.jar"

	// jarPattern matches any jar regardless of extension case.
	jarPattern = "*.[jJ][aA][rR]"
)

// Locator searches for the server artifact.
type Locator struct {
	// Dir is the directory searched first. Empty means the current directory.
	Dir string

	// Name is the preferred file name. Empty means DefaultName.
	Name string
}

// Find returns the artifact path relative to Dir, in the form the supervisor
// resolves:
//
//	server.jar      Dir/server.jar exists
//	../server.jar   the parent of Dir holds server.jar
//	../<any>.jar    the first jar in the parent, by name
//
// Returns a NotFound error when none of these exist.
func (l Locator) Find() (string, error) {
	dir, err := l.dir()
	if err != nil {
		return "", err
	}
	name := l.name()

	if isFile(filepath.Join(dir, name)) {
		return name, nil
	}

	parent := filepath.Dir(dir)
	if parent == dir {
		return "", errkind.Newf(errkind.KindNotFound, "no jar file found in %s", dir)
	}
	if isFile(filepath.Join(parent, name)) {
		return "../" + name, nil
	}

	jars, err := Candidates(parent)
	if err != nil {
		return "", errkind.Wrapf(errkind.KindNotFound, err, "cannot list %s", parent)
	}
	if len(jars) == 0 {
		return "", errkind.Newf(errkind.KindNotFound, "no jar file found in %s or %s", dir, parent)
	}
	return "../" + jars[0], nil
}

// Exists reports whether Find would succeed.
func (l Locator) Exists() bool {
	_, err := l.Find()
	return err == nil
}

// Candidates returns the names of the jar files directly inside dir, sorted.
func Candidates(dir string) ([]string, error) {
	matches, err := doublestar.Glob(os.DirFS(dir), jarPattern, doublestar.WithFilesOnly())
	if err != nil {
		return nil, err
	}
	sort.Strings(matches)
	return matches, nil
}

func (l Locator) dir() (string, error) {
	if l.Dir == "" {
		return os.Getwd()
	}
	return filepath.Abs(l.Dir)
}

func (l Locator) name() string {
	if l.Name == "" {
		return DefaultName
	}
	return l.Name
}

func isFile(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

// Package settings reads and writes the server's application.yml: the
// database connection the server uses and the port it listens on.
package settings

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/randomizedcoder/go-jar-supervisor/internal/errkind"
)

const (
	// DefaultPath is where the server looks for its configuration.
	DefaultPath = "application.yml"

	DefaultHost       = "localhost:5432"
	DefaultUser       = "postgres"
	DefaultPassword   = "password"
	DefaultDatabase   = "students_db"
	DefaultServerPort = 8080

	jdbcPrefix = "jdbc:postgresql://"
)

// ConnectionSettings is the part of application.yml the supervisor manages.
type ConnectionSettings struct {
	// Host is the database host with optional port, e.g. "db:5432".
	Host     string `json:"host"`
	User     string `json:"user"`
	Password string `json:"-"`
	Database string `json:"database"`

	// ServerPort is the port the server listens on, which is also where the
	// management endpoint lives.
	ServerPort int `json:"server_port"`
}

// Defaults returns the settings used when no file exists.
func Defaults() ConnectionSettings {
	return ConnectionSettings{
		Host:       DefaultHost,
		User:       DefaultUser,
		Password:   DefaultPassword,
		Database:   DefaultDatabase,
		ServerPort: DefaultServerPort,
	}
}

// URL returns the JDBC URL for s.
func (s ConnectionSettings) URL() string {
	return jdbcPrefix + s.Host + "/" + s.Database
}

// document mirrors the layout of application.yml.
type document struct {
	Spring struct {
		Datasource struct {
			URL      string `yaml:"url"`
			Username string `yaml:"username"`
			Password string `yaml:"password"`
		} `yaml:"datasource"`
	} `yaml:"spring"`
	Server struct {
		Port int `yaml:"port"`
	} `yaml:"server"`
}

// Store reads and writes one settings file.
type Store struct {
	// Path is the file location. Empty means DefaultPath.
	Path string
}

// NewStore creates a store for path.
func NewStore(path string) *Store {
	return &Store{Path: path}
}

func (st *Store) path() string {
	if st.Path == "" {
		return DefaultPath
	}
	return st.Path
}

// Exists reports whether the settings file is present.
func (st *Store) Exists() bool {
	_, err := os.Stat(st.path())
	return err == nil
}

// Load reads the settings. A missing file yields Defaults; fields absent
// from the file keep their default values. Malformed YAML is reported as
// SettingsInvalid.
func (st *Store) Load() (ConnectionSettings, error) {
	out := Defaults()

	data, err := os.ReadFile(st.path())
	if errors.Is(err, fs.ErrNotExist) {
		return out, nil
	}
	if err != nil {
		return out, fmt.Errorf("failed to read %s: %w", st.path(), err)
	}

	var doc document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return out, errkind.Wrapf(errkind.KindSettingsInvalid, err, "failed to parse %s", st.path())
	}

	ds := doc.Spring.Datasource
	if host, db, ok := parseJDBC(ds.URL); ok {
		if host != "" {
			out.Host = host
		}
		if db != "" {
			out.Database = db
		}
	}
	if ds.Username != "" {
		out.User = ds.Username
	}
	if ds.Password != "" {
		out.Password = ds.Password
	}
	if doc.Server.Port > 0 {
		out.ServerPort = doc.Server.Port
	}
	return out, nil
}

// Save writes s atomically: a temp file in the same directory is renamed
// over the target. The file is created mode 0600 as it holds a password.
func (st *Store) Save(s ConnectionSettings) error {
	if err := Validate(s); err != nil {
		return err
	}

	var doc document
	doc.Spring.Datasource.URL = s.URL()
	doc.Spring.Datasource.Username = s.User
	doc.Spring.Datasource.Password = s.Password
	doc.Server.Port = s.ServerPort

	data, err := yaml.Marshal(&doc)
	if err != nil {
		return fmt.Errorf("failed to encode settings: %w", err)
	}

	path := st.path()
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write settings: %w", err)
	}
	if err := tmp.Chmod(0o600); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to chmod settings: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to write settings: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("failed to replace %s: %w", path, err)
	}
	return nil
}

// Validate checks that s can be written.
func Validate(s ConnectionSettings) error {
	var errs []error
	if strings.TrimSpace(s.Host) == "" {
		errs = append(errs, errors.New("host is required"))
	}
	if strings.ContainsAny(s.Host, "/?") {
		errs = append(errs, fmt.Errorf("host %q must not contain a path", s.Host))
	}
	if strings.TrimSpace(s.User) == "" {
		errs = append(errs, errors.New("user is required"))
	}
	if strings.TrimSpace(s.Database) == "" {
		errs = append(errs, errors.New("database is required"))
	}
	if s.ServerPort < 1 || s.ServerPort > 65535 {
		errs = append(errs, fmt.Errorf("server port %d out of range", s.ServerPort))
	}
	if len(errs) > 0 {
		return errkind.Wrap(errkind.KindSettingsInvalid, errors.Join(errs...), "invalid settings")
	}
	return nil
}

// parseJDBC splits "jdbc:postgresql://host:port/db?opts" into host and db.
func parseJDBC(url string) (host, db string, ok bool) {
	rest, ok := strings.CutPrefix(strings.TrimSpace(url), jdbcPrefix)
	if !ok {
		return "", "", false
	}
	host, db, _ = strings.Cut(rest, "/")
	db, _, _ = strings.Cut(db, "?")
	return host, db, true
}

package migrate

import (
	"errors"
	"fmt"
	"io/fs"
	"regexp"
	"sort"
	"strings"
	"time"

	"go.uber.org/multierr"
)

const (
	versionLayout         = "20060102150405"
	notificationsTableDDL = "CREATE TABLE IF NOT EXISTS notifications"
)

var sqlFileRe = regexp.MustCompile(`^(\d{14})_[a-z0-9_]+\.sql$`)

type migrationFile struct {
	name    string
	version time.Time
	body    string
}

// ValidateDir validates the migrations stored in dir.
func ValidateDir(dir string) error {
	if dir == "" {
		return errors.New("dir is required")
	}
	fsys, err := Source(dir)
	if err != nil {
		return err
	}
	return ValidateFS(fsys)
}

// ValidateFS reports every problem in the migration set at once: malformed
// filenames, duplicate versions, missing goose Up or Down sections, and a
// schema that never creates the notifications table.
func ValidateFS(fsys fs.FS) error {
	files, err := readMigrations(fsys)
	if err != nil {
		return err
	}

	var errs error
	seen := map[time.Time]string{}
	createsTable := false
	for _, f := range files {
		if f.version.IsZero() {
			errs = multierr.Append(errs, fmt.Errorf("invalid migration filename %q (expected YYYYMMDDHHMMSS_name.sql)", f.name))
			continue
		}
		if prev, ok := seen[f.version]; ok {
			errs = multierr.Append(errs, fmt.Errorf("duplicate migration version %s in %q and %q", f.version.Format(versionLayout), prev, f.name))
		}
		seen[f.version] = f.name
		for _, marker := range []string{"-- +goose Up", "-- +goose Down"} {
			if !strings.Contains(f.body, marker) {
				errs = multierr.Append(errs, fmt.Errorf("migration %q missing %q", f.name, marker))
			}
		}
		if strings.Contains(f.body, notificationsTableDDL) {
			createsTable = true
		}
	}
	if !createsTable {
		errs = multierr.Append(errs, errors.New("no migration creates the notifications table"))
	}
	return errs
}

// readMigrations loads the .sql files in fsys ordered by version. Files whose
// name does not carry a valid version keep a zero version.
func readMigrations(fsys fs.FS) ([]migrationFile, error) {
	entries, err := fs.ReadDir(fsys, ".")
	if err != nil {
		return nil, fmt.Errorf("read migrations: %w", err)
	}
	var files []migrationFile
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".sql") {
			continue
		}
		file := migrationFile{name: e.Name()}
		if m := sqlFileRe.FindStringSubmatch(e.Name()); m != nil {
			if version, err := time.Parse(versionLayout, m[1]); err == nil {
				file.version = version
			}
		}
		body, err := fs.ReadFile(fsys, e.Name())
		if err != nil {
			return nil, fmt.Errorf("read migration %q: %w", e.Name(), err)
		}
		file.body = string(body)
		files = append(files, file)
	}
	sort.SliceStable(files, func(i, j int) bool { return files[i].version.Before(files[j].version) })
	return files, nil
}

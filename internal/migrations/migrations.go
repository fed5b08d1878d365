package migrations

import (
	"embed"
	"fmt"
	"io/fs"
	"os"
	"path"
	"sort"
	"strconv"
	"strings"

	"sigsummary/internal/security"
)

//go:embed sql/*.sql
var embedded embed.FS

var (
	// MigrationsDir overrides the embedded migrations with files on disk.
	// Tests and operators shipping hotfix SQL set it; empty means embedded.
	MigrationsDir = ""
)

// Migration is one numbered schema step. Files are named NNN_description.sql.
type Migration struct {
	Version int
	Name    string
	SQL     string
}

// Load returns every migration sorted by version
func Load() ([]Migration, error) {
	var fsys fs.FS = embedded
	dir := "sql"
	if MigrationsDir != "" {
		fsys = os.DirFS(MigrationsDir)
		dir = "."
	}

	entries, err := fs.ReadDir(fsys, dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read migrations directory: %w", err)
	}

	var migrations []Migration
	seen := make(map[int]string)
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".sql") {
			continue
		}
		if MigrationsDir != "" {
			if err := security.ValidateFilePathWithBase(entry.Name(), MigrationsDir); err != nil {
				return nil, err
			}
		}

		version, name, err := parseName(entry.Name())
		if err != nil {
			return nil, err
		}
		if prev, dup := seen[version]; dup {
			return nil, fmt.Errorf("duplicate migration version %d: %s and %s", version, prev, entry.Name())
		}
		seen[version] = entry.Name()

		content, err := fs.ReadFile(fsys, path.Join(dir, entry.Name()))
		if err != nil {
			return nil, fmt.Errorf("failed to read migration %s: %w", entry.Name(), err)
		}
		migrations = append(migrations, Migration{Version: version, Name: name, SQL: string(content)})
	}

	if len(migrations) == 0 {
		return nil, fmt.Errorf("no migrations found")
	}

	sort.Slice(migrations, func(i, j int) bool { return migrations[i].Version < migrations[j].Version })
	return migrations, nil
}

// GetInitialSchema returns the first migration's SQL
func GetInitialSchema() (string, error) {
	migrations, err := Load()
	if err != nil {
		return "", err
	}
	if migrations[0].Version != 1 {
		return "", fmt.Errorf("could not find initial schema migration")
	}
	return migrations[0].SQL, nil
}

func parseName(file string) (int, string, error) {
	base := strings.TrimSuffix(file, ".sql")
	prefix, name, ok := strings.Cut(base, "_")
	if !ok || name == "" {
		return 0, "", fmt.Errorf("invalid migration file name %q", file)
	}
	version, err := strconv.Atoi(prefix)
	if err != nil || version <= 0 {
		return 0, "", fmt.Errorf("invalid migration version in %q", file)
	}
	return version, name, nil
}

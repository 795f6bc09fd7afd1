// Package migrations embeds the Postgres schema for the state store.
package migrations

import (
	"embed"
	"io/fs"
	"sort"
	"strings"
)

//go:embed *.sql
var files embed.FS

// Migration is one SQL script, identified by its file name without extension.
type Migration struct {
	ID     string
	Script string
}

// Load returns every embedded migration ordered by file name.
func Load() ([]Migration, error) {
	names, err := fs.Glob(files, "*.sql")
	if err != nil {
		return nil, err
	}
	sort.Strings(names)

	out := make([]Migration, 0, len(names))
	for _, name := range names {
		script, err := files.ReadFile(name)
		if err != nil {
			return nil, err
		}
		out = append(out, Migration{ID: strings.TrimSuffix(name, ".sql"), Script: string(script)})
	}
	return out, nil
}

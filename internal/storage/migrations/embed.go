// Package migrations applies the embedded schema of the relational mirror
// and of the relevance time series.
package migrations

import (
	"embed"
	"fmt"
	"io/fs"
	"path"
	"sort"
	"strings"
)

//go:embed postgres/*.sql clickhouse/*.sql
var files embed.FS

// File is one migration script.
type File struct {
	Name string // e.g. 001_mirror.sql, also the recorded version
	SQL  string
}

// Load returns the non-empty .sql files of dir ("postgres" or "clickhouse")
// in lexical order.
func Load(dir string) ([]File, error) {
	return load(files, dir)
}

func load(fsys fs.FS, dir string) ([]File, error) {
	entries, err := fs.ReadDir(fsys, dir)
	if err != nil {
		return nil, fmt.Errorf("read embedded %s migrations: %w", dir, err)
	}

	var out []File
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".sql") {
			continue
		}
		data, err := fs.ReadFile(fsys, path.Join(dir, entry.Name()))
		if err != nil {
			return nil, fmt.Errorf("read migration %s: %w", entry.Name(), err)
		}
		if strings.TrimSpace(string(data)) == "" {
			continue
		}
		out = append(out, File{Name: entry.Name(), SQL: string(data)})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// SplitStatements cuts a script into statements at top-level semicolons.
// Semicolons inside quoted strings, quoted identifiers and comments do not
// split. Statements that hold only comments are dropped.
func SplitStatements(script string) []string {
	var (
		stmts []string
		cur   strings.Builder
		code  bool // cur holds something besides comments and whitespace
	)
	flush := func() {
		if code {
			stmts = append(stmts, strings.TrimSpace(cur.String()))
		}
		cur.Reset()
		code = false
	}

	for i := 0; i < len(script); i++ {
		c := script[i]
		switch {
		case c == '-' && i+1 < len(script) && script[i+1] == '-':
			end := strings.IndexByte(script[i:], '\n')
			if end < 0 {
				end = len(script) - i
			}
			cur.WriteString(script[i : i+end])
			i += end - 1
		case c == '/' && i+1 < len(script) && script[i+1] == '*':
			end := strings.Index(script[i+2:], "*/")
			if end < 0 {
				end = len(script) - i - 2
			} else {
				end += 2
			}
			cur.WriteString(script[i : i+2+end])
			i += 1 + end
		case c == '\'' || c == '"' || c == '`':
			j := i + 1
			for j < len(script) {
				if script[j] == '\\' {
					j += 2
					continue
				}
				if script[j] == c {
					if j+1 < len(script) && script[j+1] == c {
						j += 2
						continue
					}
					break
				}
				j++
			}
			if j >= len(script) {
				j = len(script) - 1
			}
			cur.WriteString(script[i : j+1])
			code = true
			i = j
		case c == ';':
			flush()
		default:
			cur.WriteByte(c)
			if c != ' ' && c != '\t' && c != '\n' && c != '\r' {
				code = true
			}
		}
	}
	flush()
	return stmts
}

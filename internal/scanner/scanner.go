// Package scanner walks a source tree and extracts the code around logging
// calls as retrievable snippets.
package scanner

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
)

const DefaultPattern = `\.(info|error|warn|debug|trace)\s*\((?s:.*?)\)`

var (
	DefaultExtensions  = []string{".java", ".kt"}
	DefaultExcludeDirs = []string{".git", "node_modules", "build", "target", "out", "dist"}
)

var (
	ErrEmptyPath    = errors.New("scan path is empty")
	ErrRootNotFound = errors.New("scan path does not exist")
)

type Config struct {
	Pattern       string
	ContextWindow int
	Extensions    []string
	ExcludeDirs   []string
}

func DefaultConfig() Config {
	return Config{
		Pattern:       DefaultPattern,
		ContextWindow: 20,
		Extensions:    DefaultExtensions,
		ExcludeDirs:   DefaultExcludeDirs,
	}
}

// Snippet is the window of lines around one logging call.
// StartLine and EndLine are zero-based and half-open.
type Snippet struct {
	ID        string
	Text      string
	File      string
	StartLine int
	EndLine   int
	MatchLine int
	Kind      string
}

// Metadata is what the vector index stores next to the snippet text.
func (s Snippet) Metadata() map[string]string {
	return map[string]string{
		"file":  s.File,
		"range": fmt.Sprintf("%d-%d", s.StartLine, s.EndLine),
		"line":  strconv.Itoa(s.MatchLine),
		"type":  s.Kind,
	}
}

type Stats struct {
	Files    int
	Matches  int
	Snippets int
}

type Scanner struct {
	pattern *regexp.Regexp
	window  int
	exts    map[string]bool
	exclude map[string]bool
}

func New(cfg Config) (*Scanner, error) {
	if cfg.Pattern == "" {
		cfg.Pattern = DefaultPattern
	}
	if cfg.ContextWindow < 0 {
		return nil, fmt.Errorf("context window must not be negative: %d", cfg.ContextWindow)
	}
	re, err := regexp.Compile(cfg.Pattern)
	if err != nil {
		return nil, fmt.Errorf("invalid log pattern: %w", err)
	}
	if len(cfg.Extensions) == 0 {
		cfg.Extensions = DefaultExtensions
	}
	if len(cfg.ExcludeDirs) == 0 {
		cfg.ExcludeDirs = DefaultExcludeDirs
	}

	s := &Scanner{
		pattern: re,
		window:  cfg.ContextWindow,
		exts:    make(map[string]bool, len(cfg.Extensions)),
		exclude: make(map[string]bool, len(cfg.ExcludeDirs)),
	}
	for _, ext := range cfg.Extensions {
		ext = strings.ToLower(strings.TrimSpace(ext))
		if ext == "" {
			continue
		}
		if !strings.HasPrefix(ext, ".") {
			ext = "." + ext
		}
		s.exts[ext] = true
	}
	for _, d := range cfg.ExcludeDirs {
		if d = strings.TrimSpace(d); d != "" {
			s.exclude[d] = true
		}
	}
	return s, nil
}

// Scan walks root in lexical order and returns one snippet per distinct
// logging-call window. Snippets with the same text are returned once.
func (s *Scanner) Scan(ctx context.Context, root string) ([]Snippet, Stats, error) {
	var stats Stats
	root = strings.TrimSpace(root)
	if root == "" {
		return nil, stats, ErrEmptyPath
	}
	if _, err := os.Stat(root); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, stats, fmt.Errorf("%w: %s", ErrRootNotFound, root)
		}
		return nil, stats, fmt.Errorf("stat %s: %w", root, err)
	}

	snippets := []Snippet{}
	seen := make(map[string]bool)

	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			slog.WarnContext(ctx, "skipping unreadable path", "path", path, "error", err)
			if d != nil && d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if d.IsDir() {
			if path != root && s.exclude[d.Name()] {
				return filepath.SkipDir
			}
			return nil
		}
		ext := strings.ToLower(filepath.Ext(path))
		if !s.exts[ext] {
			return nil
		}

		raw, readErr := os.ReadFile(path) // #nosec G304 -- path comes from walking the caller's tree
		if readErr != nil {
			slog.WarnContext(ctx, "skipping unreadable file", "path", path, "error", readErr)
			return nil
		}
		stats.Files++

		for _, sn := range s.extract(path, ext, strings.ToValidUTF8(string(raw), "")) {
			stats.Matches++
			if seen[sn.ID] {
				continue
			}
			seen[sn.ID] = true
			snippets = append(snippets, sn)
		}
		return nil
	})
	if err != nil {
		return nil, stats, err
	}

	stats.Snippets = len(snippets)
	slog.InfoContext(ctx, "scan complete", "root", root, "files", stats.Files, "matches", stats.Matches, "snippets", stats.Snippets)
	return snippets, stats, nil
}

func (s *Scanner) extract(path, ext, content string) []Snippet {
	matches := s.pattern.FindAllStringIndex(content, -1)
	if len(matches) == 0 {
		return nil
	}

	lines, offsets := splitLines(content)
	kind := strings.TrimPrefix(ext, ".") + "_log_context"

	out := make([]Snippet, 0, len(matches))
	for _, m := range matches {
		line := lineAt(offsets, m[0])
		start := max(0, line-s.window)
		end := min(len(lines), line+s.window+1)

		text := fmt.Sprintf("File: %s\nLines: %d-%d\nMatch: %s\n\nContext:\n%s",
			path, start, end, content[m[0]:m[1]], strings.Join(lines[start:end], "\n"))
		sum := sha256.Sum256([]byte(text))

		out = append(out, Snippet{
			ID:        hex.EncodeToString(sum[:]),
			Text:      text,
			File:      path,
			StartLine: start,
			EndLine:   end,
			MatchLine: line,
			Kind:      kind,
		})
	}
	return out
}

// splitLines returns the lines of content without terminators and the byte
// offset at which each line starts. A trailing newline does not open a line.
func splitLines(content string) ([]string, []int) {
	lines := strings.Split(content, "\n")
	if len(lines) > 1 && lines[len(lines)-1] == "" {
		lines = lines[:len(lines)-1]
	}
	offsets := make([]int, len(lines))
	pos := 0
	for i, l := range lines {
		offsets[i] = pos
		pos += len(l) + 1
		lines[i] = strings.TrimSuffix(l, "\r")
	}
	return lines, offsets
}

func lineAt(offsets []int, pos int) int {
	return sort.Search(len(offsets), func(i int) bool { return offsets[i] > pos }) - 1
}

// Package importer loads a folder of world-bible Markdown notes (an
// Obsidian vault or plain files) into a session's lorebook.
package importer

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/scrypster/storyforge/internal/lorebook"
	"github.com/scrypster/storyforge/internal/storage"
)

// maxNoteBytes skips files too large to be a lore note.
const maxNoteBytes = 1 << 20

// entryNamespace derives stable entry ids so re-importing a vault updates
// entries in place.
var entryNamespace = uuid.MustParse("8c0b7f52-3a61-4f0e-9b1d-5d2c6e4a7f10")

// FileError records a note that could not be imported.
type FileError struct {
	Path string `json:"path"`
	Err  string `json:"error"`
}

// Result summarizes an import.
type Result struct {
	Imported      int         `json:"imported"`
	Skipped       int         `json:"skipped"`
	Errors        []FileError `json:"errors,omitempty"`
	DanglingLinks []string    `json:"dangling_links,omitempty"`
	// Truncated is set when the lorebook filled before every note was saved.
	Truncated bool `json:"truncated"`
}

// Importer writes notes into a loaded lorebook.
type Importer struct {
	lore   *lorebook.Lorebook
	logger *zap.Logger
}

// New creates an importer for a lorebook that already has its session
// loaded.
func New(lore *lorebook.Lorebook, logger *zap.Logger) *Importer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Importer{lore: lore, logger: logger.Named("importer")}
}

// EntryID returns the lore entry id a note gets in a session.
func EntryID(sessionID, relativePath string) string {
	return uuid.NewSHA1(entryNamespace, []byte(sessionID+"\x00"+filepath.ToSlash(relativePath))).String()
}

// ImportDir walks dir for .md files in lexical order. Per-file problems are
// collected in the result; storage failures other than capacity abort.
func (imp *Importer) ImportDir(ctx context.Context, sessionID, dir string) (*Result, error) {
	files, err := collectMarkdown(dir)
	if err != nil {
		return nil, err
	}

	res := &Result{}
	titles := make(map[string]bool)
	var links []WikiLink
	for _, rel := range files {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		note, skip, err := imp.readNote(dir, rel)
		if err != nil {
			res.Errors = append(res.Errors, FileError{Path: rel, Err: err.Error()})
			continue
		}
		if skip {
			res.Skipped++
			continue
		}
		if note.Content == "" {
			res.Skipped++
			continue
		}

		err = imp.lore.Add(ctx, &storage.LoreEntry{
			ID:         EntryID(sessionID, rel),
			Title:      note.Title,
			Content:    note.Content,
			EntryType:  note.EntryType,
			Tags:       note.Tags,
			Importance: note.Importance,
		})
		if errors.Is(err, storage.ErrLoreCapacity) {
			res.Truncated = true
			imp.logger.Warn("lorebook full, import stopped",
				zap.String("session_id", sessionID),
				zap.Int("imported", res.Imported),
				zap.Int("remaining", len(files)-res.Imported-res.Skipped-len(res.Errors)))
			break
		}
		if err != nil {
			return res, fmt.Errorf("importer: %s: %w", rel, err)
		}
		res.Imported++
		titles[strings.ToLower(note.Title)] = true
		titles[strings.ToLower(titleFromPath(rel))] = true
		links = append(links, note.Links...)
	}

	seen := make(map[string]bool)
	for _, l := range links {
		key := strings.ToLower(l.Target)
		if !titles[key] && !seen[key] {
			seen[key] = true
			res.DanglingLinks = append(res.DanglingLinks, l.Target)
		}
	}
	sort.Strings(res.DanglingLinks)

	imp.logger.Info("lore import finished",
		zap.String("session_id", sessionID),
		zap.String("dir", dir),
		zap.Int("imported", res.Imported),
		zap.Int("skipped", res.Skipped),
		zap.Int("errors", len(res.Errors)))
	return res, nil
}

func (imp *Importer) readNote(dir, rel string) (*Note, bool, error) {
	path := filepath.Join(dir, rel)
	fi, err := os.Stat(path)
	if err != nil {
		return nil, false, err
	}
	if fi.Size() > maxNoteBytes {
		return nil, false, fmt.Errorf("note is %d bytes, limit is %d", fi.Size(), maxNoteBytes)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, false, err
	}
	return ParseNote(data, rel)
}

// collectMarkdown returns .md paths relative to dir, skipping hidden
// directories such as .obsidian and .git.
func collectMarkdown(dir string) ([]string, error) {
	var files []string
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if path != dir && strings.HasPrefix(d.Name(), ".") {
				return filepath.SkipDir
			}
			return nil
		}
		if !strings.EqualFold(filepath.Ext(d.Name()), ".md") {
			return nil
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}
		files = append(files, rel)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("importer: failed to walk %s: %w", dir, err)
	}
	sort.Strings(files)
	return files, nil
}

// Package mailsource reads e-mail messages for the match engine.
package mailsource

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/rs/zerolog"

	"github.com/lueurxax/profilewatch/internal/core/domain"
)

const (
	logFieldPath  = "path"
	logFieldIndex = "index"
)

// mailboxExt is the only extension accepted when expanding directories;
// extension-less files are accepted too (Thunderbird stores folders that way).
const mailboxExt = ".mbox"

var ignoredSuffixes = []string{".msf", ".dat", ".json", ".db", ".sqlite", ".lock"}

// FromPaths builds one mbox source per file. Directories are walked and every
// mailbox-like file below them is added. Paths that cannot be read are still
// returned so that the failure surfaces when the source is scanned.
func FromPaths(paths []string, logger *zerolog.Logger) []*MboxSource {
	logger = nopIfNil(logger)

	seen := make(map[string]struct{})

	var sources []*MboxSource

	add := func(path string) {
		if _, dup := seen[path]; dup {
			return
		}

		seen[path] = struct{}{}
		sources = append(sources, NewMbox(path, logger))
	}

	for _, raw := range paths {
		path := filepath.Clean(strings.TrimSpace(raw))
		if path == "." || path == "" {
			continue
		}

		info, err := os.Stat(path)
		if err != nil || !info.IsDir() {
			add(path)
			continue
		}

		var found []string

		walkErr := filepath.WalkDir(path, func(p string, d fs.DirEntry, err error) error {
			if err != nil {
				logger.Warn().Err(err).Str(logFieldPath, p).Msg("skipping unreadable mailbox path")

				if d != nil && d.IsDir() {
					return filepath.SkipDir
				}

				return nil
			}

			if d.IsDir() {
				if strings.HasSuffix(d.Name(), ".mozmsgs") {
					return filepath.SkipDir
				}

				return nil
			}

			if isMailbox(d.Name()) {
				found = append(found, p)
			}

			return nil
		})
		if walkErr != nil {
			logger.Warn().Err(walkErr).Str(logFieldPath, path).Msg("mailbox directory walk stopped")
		}

		sort.Strings(found)

		for _, p := range found {
			add(p)
		}
	}

	return sources
}

func isMailbox(name string) bool {
	if strings.HasPrefix(name, ".") {
		return false
	}

	for _, suffix := range ignoredSuffixes {
		if strings.HasSuffix(name, suffix) {
			return false
		}
	}

	ext := filepath.Ext(name)

	return ext == "" || ext == mailboxExt
}

// StaticSource serves a fixed list of messages.
type StaticSource struct {
	name     string
	messages []domain.Message
}

// NewStatic builds an in-memory source. Messages without a source name get name.
func NewStatic(name string, messages ...domain.Message) *StaticSource {
	msgs := make([]domain.Message, len(messages))
	copy(msgs, messages)

	for i := range msgs {
		if msgs[i].Source == "" {
			msgs[i].Source = name
		}
	}

	return &StaticSource{name: name, messages: msgs}
}

// Name implements the match engine source.
func (s *StaticSource) Name() string {
	return s.name
}

// Scan yields every message in order.
func (s *StaticSource) Scan(ctx context.Context, fn func(domain.Message) error) error {
	for _, m := range s.messages {
		if err := ctx.Err(); err != nil {
			return err
		}

		if err := fn(m); err != nil {
			return err
		}
	}

	return nil
}

func nopIfNil(logger *zerolog.Logger) *zerolog.Logger {
	if logger == nil {
		nop := zerolog.Nop()

		return &nop
	}

	return logger
}

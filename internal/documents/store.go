// Package documents resolves, loads and fingerprints the source files of each scope.
package documents

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"go.uber.org/zap"

	"github.com/hyperjump/kotae/internal/config"
	"github.com/hyperjump/kotae/internal/extract"
	"github.com/hyperjump/kotae/internal/fileid"
	"github.com/hyperjump/kotae/internal/indexer"
	"github.com/hyperjump/kotae/internal/models"
	"github.com/hyperjump/kotae/pkg/utils"
)

// ErrProjectNotFound means no source file exists for a project scope.
var ErrProjectNotFound = errors.New("no chatbot available for this project")

// Store loads the documents assigned to a scope: every match of the global
// patterns for the global scope, or <projects_dir>/<id><ext> for a project.
type Store struct {
	cfg       config.DocumentsConfig
	extractor *extract.Extractor
	logger    *zap.Logger

	mu     sync.Mutex
	hashes map[string]fileHash
}

type fileHash struct {
	size    int64
	modTime time.Time
	hash    string
}

// Option configures a Store.
type Option func(*Store)

// WithLogger sets a logger for load events.
func WithLogger(l *zap.Logger) Option {
	return func(s *Store) {
		if l != nil {
			s.logger = l
		}
	}
}

// NewStore creates a document store over cfg.
func NewStore(cfg config.DocumentsConfig, extractor *extract.Extractor, opts ...Option) *Store {
	if extractor == nil {
		extractor = extract.NewExtractor()
	}
	s := &Store{
		cfg:       cfg,
		extractor: extractor,
		logger:    zap.NewNop(),
		hashes:    make(map[string]fileHash),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Sources returns the absolute paths that make up scope, in document order.
func (s *Store) Sources(scope string) ([]string, error) {
	if err := models.ValidateScopeID(scope); err != nil {
		return nil, models.NewError(models.KindDocumentLoad, scope, err)
	}
	if scope == models.GlobalScope {
		return s.globalSources(scope)
	}
	for _, ext := range s.cfg.Extensions {
		p := filepath.Join(s.cfg.ProjectsDir, scope+ext)
		info, err := os.Stat(p)
		if err == nil && info.Mode().IsRegular() {
			abs, err := filepath.Abs(p)
			if err != nil {
				return nil, models.NewError(models.KindDocumentLoad, scope, err)
			}
			return []string{abs}, nil
		}
	}
	return nil, models.NewError(models.KindDocumentLoad, scope, ErrProjectNotFound)
}

func (s *Store) globalSources(scope string) ([]string, error) {
	seen := make(map[string]bool)
	var paths []string
	for _, pattern := range s.cfg.Global {
		matches, err := doublestar.FilepathGlob(pattern)
		if err != nil {
			return nil, models.NewError(models.KindDocumentLoad, scope, fmt.Errorf("pattern %q: %w", pattern, err))
		}
		for _, m := range matches {
			if !extract.Supported(filepath.Ext(m)) {
				continue
			}
			abs, err := filepath.Abs(m)
			if err != nil {
				continue
			}
			if info, err := os.Stat(abs); err != nil || !info.Mode().IsRegular() {
				continue
			}
			if !seen[abs] {
				seen[abs] = true
				paths = append(paths, abs)
			}
		}
	}
	sort.Strings(paths)
	return paths, nil
}

// Fingerprint hashes the raw bytes of scope's sources. Hashes are memoized
// by size and modification time so unchanged files are not re-read.
func (s *Store) Fingerprint(ctx context.Context, scope string) (string, error) {
	paths, err := s.Sources(scope)
	if err != nil {
		return "", err
	}
	hashes := make([]string, len(paths))
	for i, p := range paths {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		h, err := s.hashFile(p)
		if err != nil {
			return "", models.NewError(models.KindDocumentLoad, scope, err)
		}
		hashes[i] = h
	}
	return fingerprint(paths, hashes), nil
}

func (s *Store) hashFile(path string) (string, error) {
	info, err := os.Stat(path)
	if err != nil {
		return "", fmt.Errorf("stat %s: %w", filepath.Base(path), err)
	}
	s.mu.Lock()
	cached, ok := s.hashes[path]
	s.mu.Unlock()
	if ok && cached.size == info.Size() && cached.modTime.Equal(info.ModTime()) {
		return cached.hash, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read %s: %w", filepath.Base(path), err)
	}
	h := utils.HashBytes(raw)
	s.remember(path, info, h)
	return h, nil
}

func (s *Store) remember(path string, info os.FileInfo, hash string) {
	s.mu.Lock()
	s.hashes[path] = fileHash{size: info.Size(), modTime: info.ModTime(), hash: hash}
	s.mu.Unlock()
}

// Load reads, extracts and normalizes every document of scope and returns
// them with the scope fingerprint. Any unreadable or corrupt source fails the
// whole load with a DocumentLoad error.
func (s *Store) Load(ctx context.Context, scope string) ([]*models.Document, string, error) {
	paths, err := s.Sources(scope)
	if err != nil {
		return nil, "", err
	}
	if len(paths) == 0 {
		s.logger.Warn("scope has no documents", zap.String("scope", scope))
	}
	docs := make([]*models.Document, 0, len(paths))
	hashes := make([]string, 0, len(paths))
	for i, p := range paths {
		if err := ctx.Err(); err != nil {
			return nil, "", err
		}
		info, err := os.Stat(p)
		if err != nil {
			return nil, "", models.NewError(models.KindDocumentLoad, scope, err)
		}
		raw, text, err := s.extractor.Extract(p)
		if err != nil {
			return nil, "", models.NewError(models.KindDocumentLoad, scope, fmt.Errorf("%s: %w", filepath.Base(p), err))
		}
		h := utils.HashBytes(raw)
		s.remember(p, info, h)
		docs = append(docs, &models.Document{
			ID:       fileid.DocumentID(p),
			Scope:    scope,
			Name:     filepath.Base(p),
			Path:     p,
			Hash:     h,
			Text:     indexer.Normalize(text),
			Order:    i,
			LoadedAt: time.Now(),
		})
		hashes = append(hashes, h)
		s.logger.Debug("document loaded", zap.String("scope", scope), zap.String("name", filepath.Base(p)))
	}
	return docs, fingerprint(paths, hashes), nil
}

// ScopesFor returns the scopes whose document set may include path.
func (s *Store) ScopesFor(path string) []string {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil
	}
	var scopes []string
	for _, pattern := range s.cfg.Global {
		absPattern := pattern
		if !filepath.IsAbs(absPattern) {
			if a, err := filepath.Abs(pattern); err == nil {
				absPattern = a
			}
		}
		if ok, _ := doublestar.PathMatch(absPattern, abs); ok {
			scopes = append(scopes, models.GlobalScope)
			break
		}
	}
	if projectsDir, err := filepath.Abs(s.cfg.ProjectsDir); err == nil && filepath.Dir(abs) == projectsDir {
		ext := filepath.Ext(abs)
		for _, allowed := range s.cfg.Extensions {
			if strings.EqualFold(ext, allowed) {
				id := strings.TrimSuffix(filepath.Base(abs), ext)
				if models.ValidateScopeID(id) == nil && id != models.GlobalScope {
					scopes = append(scopes, id)
				}
				break
			}
		}
	}
	return scopes
}

// WatchRoots returns the directories holding scope sources: the static
// prefix of each global pattern and the projects directory.
func (s *Store) WatchRoots() []string {
	seen := make(map[string]bool)
	var roots []string
	add := func(dir string) {
		if dir == "" {
			dir = "."
		}
		abs, err := filepath.Abs(dir)
		if err != nil || seen[abs] {
			return
		}
		seen[abs] = true
		roots = append(roots, abs)
	}
	for _, pattern := range s.cfg.Global {
		base, _ := doublestar.SplitPattern(filepath.ToSlash(pattern))
		add(filepath.FromSlash(base))
	}
	if s.cfg.ProjectsDir != "" {
		add(s.cfg.ProjectsDir)
	}
	return roots
}

func fingerprint(paths, hashes []string) string {
	h := sha256.New()
	for i := range paths {
		fmt.Fprintf(h, "%s\x00%s\n", paths[i], hashes[i])
	}
	return hex.EncodeToString(h.Sum(nil))
}

// Package localloader implements loader.Loader and loader.Watchable against
// a local directory of rule files (spec §4.D): extension-filtered scanning,
// sidecar metadata, path-traversal protection, bounded-parallelism batch
// loading, and debounced fsnotify-based hot reload.
package localloader

import (
	"context"
	"encoding/json"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/sentinelgate/ruleengine/internal/domain/loader"
	"github.com/sentinelgate/ruleengine/internal/domain/rule"
	"github.com/sentinelgate/ruleengine/internal/errs"
)

const (
	defaultRuleExt      = ".json"
	defaultSidecarSfx   = ".meta.json"
	defaultBatchSize    = 10
	defaultDebounce     = 300 * time.Millisecond
)

// sidecar is the optional `<basename>.meta.json` shape (spec §6).
type sidecar struct {
	Version      string   `json:"version"`
	Tags         []string `json:"tags"`
	Description  string   `json:"description"`
	LastModified string   `json:"lastModified"`
	Author       string   `json:"author"`
}

type graphDoc struct {
	Name  string          `json:"name"`
	Nodes json.RawMessage `json:"nodes"`
	Edges json.RawMessage `json:"edges"`
}

// Loader is the filesystem-backed loader.Loader / loader.Watchable
// implementation.
type Loader struct {
	root      string
	ext       string
	sidecarSf string
	batchSize int
	debounce  time.Duration

	mu        sync.Mutex
	callbacks map[int]loader.ChangeFunc
	nextCBID  int
	watcher   *fsnotify.Watcher
	stopOnce  sync.Once
	stopCh    chan struct{}
}

// Option configures Loader.
type Option func(*Loader)

func WithExtension(ext string) Option     { return func(l *Loader) { l.ext = ext } }
func WithBatchSize(n int) Option          { return func(l *Loader) { l.batchSize = n } }
func WithDebounce(d time.Duration) Option { return func(l *Loader) { l.debounce = d } }

// New builds a local Loader rooted at root.
func New(root string, opts ...Option) *Loader {
	l := &Loader{
		root:      root,
		ext:       defaultRuleExt,
		sidecarSf: defaultSidecarSfx,
		batchSize: defaultBatchSize,
		debounce:  defaultDebounce,
		callbacks: make(map[int]loader.ChangeFunc),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// idForPath converts an absolute file path under root into a rule.ID,
// normalizing platform separators and rejecting traversal (spec §4.D).
func (l *Loader) idForPath(path string) (rule.ID, error) {
	rel, err := filepath.Rel(l.root, path)
	if err != nil {
		return "", errs.Wrap(errs.KindConfigError, err, "resolving path relative to root")
	}
	rel = filepath.ToSlash(rel)
	if strings.HasPrefix(rel, "../") || rel == ".." {
		return "", errs.New(errs.KindConfigError, "path %q escapes root", path)
	}
	trimmed := strings.TrimSuffix(rel, l.ext)
	return rule.ID(trimmed), nil
}

// pathForID is the inverse of idForPath, re-validated to ensure the result
// still resolves under root (spec §4.D Safety).
func (l *Loader) pathForID(id rule.ID) (string, error) {
	if err := id.Validate(); err != nil {
		return "", errs.Wrap(errs.KindConfigError, err, "invalid rule id")
	}
	rel := filepath.FromSlash(string(id)) + l.ext
	full := filepath.Join(l.root, rel)
	cleanRoot := filepath.Clean(l.root)
	if !strings.HasPrefix(filepath.Clean(full), cleanRoot+string(filepath.Separator)) && filepath.Clean(full) != cleanRoot {
		return "", errs.New(errs.KindConfigError, "rule id %q resolves outside root", id)
	}
	return full, nil
}

func (l *Loader) isRuleFile(path string) bool {
	if !strings.HasSuffix(path, l.ext) {
		return false
	}
	if strings.HasSuffix(path, l.sidecarSf) {
		return false
	}
	return true
}

// scan walks root and returns every candidate rule file path.
func (l *Loader) scan() ([]string, error) {
	var paths []string
	err := filepath.WalkDir(l.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		if d.Type()&fs.ModeSymlink != 0 {
			target, rerr := filepath.EvalSymlinks(path)
			if rerr != nil {
				return nil
			}
			if !strings.HasPrefix(target, filepath.Clean(l.root)) {
				return nil
			}
		}
		if l.isRuleFile(path) {
			paths = append(paths, path)
		}
		return nil
	})
	if err != nil {
		return nil, errs.Wrap(errs.KindFileSystemError, err, "scanning root %q", l.root)
	}
	return paths, nil
}

// loadFile reads, parses, and assembles metadata for one rule file.
func (l *Loader) loadFile(path string) (rule.ID, loader.RawRule, error) {
	id, err := l.idForPath(path)
	if err != nil {
		return "", loader.RawRule{}, err
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return id, loader.RawRule{}, errs.Wrap(errs.KindFileSystemError, err, "reading %q", path)
	}

	var doc graphDoc
	if err := json.Unmarshal(raw, &doc); err != nil {
		offset := jsonErrorOffset(err)
		return id, loader.RawRule{}, errs.New(errs.KindFileSystemError, "invalid JSON in %q at offset %d", path, offset).WithRuleID(string(id))
	}
	if doc.Nodes == nil || doc.Edges == nil {
		return id, loader.RawRule{}, errs.New(errs.KindValidationError, "%q missing nodes or edges array", path).WithRuleID(string(id))
	}

	info, err := os.Stat(path)
	if err != nil {
		return id, loader.RawRule{}, errs.Wrap(errs.KindFileSystemError, err, "stat %q", path)
	}

	meta := rule.Metadata{
		ID:           id,
		Name:         doc.Name,
		Version:      rule.Version(strconv.FormatInt(info.ModTime().UnixMilli(), 10)),
		LastModified: info.ModTime().UnixMilli(),
	}

	if sc, ok := l.readSidecar(path); ok {
		if sc.Version != "" {
			meta.Version = rule.Version(sc.Version)
		}
		meta.Tags = rule.NormalizeTags(sc.Tags)
	}

	return id, loader.RawRule{RawBytes: raw, Metadata: meta}, nil
}

func jsonErrorOffset(err error) int64 {
	if se, ok := err.(*json.SyntaxError); ok {
		return se.Offset
	}
	return 0
}

func (l *Loader) sidecarPath(rulePath string) string {
	return strings.TrimSuffix(rulePath, l.ext) + l.sidecarSf
}

func (l *Loader) readSidecar(rulePath string) (sidecar, bool) {
	data, err := os.ReadFile(l.sidecarPath(rulePath))
	if err != nil {
		return sidecar{}, false
	}
	var sc sidecar
	if json.Unmarshal(data, &sc) != nil {
		return sidecar{}, false
	}
	return sc, true
}

// LoadAll scans root and loads every rule file with bounded parallelism.
// projectID is ignored (local loaders have no project scoping).
func (l *Loader) LoadAll(ctx context.Context, _ string) (map[rule.ID]loader.RawRule, error) {
	paths, err := l.scan()
	if err != nil {
		return nil, err
	}

	type outcome struct {
		id  rule.ID
		raw loader.RawRule
		err error
	}
	results := make([]outcome, len(paths))
	sem := make(chan struct{}, l.batchSize)
	var wg sync.WaitGroup

	for i, p := range paths {
		wg.Add(1)
		go func(i int, p string) {
			defer wg.Done()
			select {
			case sem <- struct{}{}:
				defer func() { <-sem }()
			case <-ctx.Done():
				results[i] = outcome{err: ctx.Err()}
				return
			}
			id, raw, err := l.loadFile(p)
			results[i] = outcome{id: id, raw: raw, err: err}
		}(i, p)
	}
	wg.Wait()

	out := make(map[rule.ID]loader.RawRule, len(paths))
	var failures []error
	for _, r := range results {
		if r.err != nil {
			failures = append(failures, r.err)
			continue
		}
		out[r.id] = r.raw
	}
	if len(paths) > 0 && len(out) == 0 {
		return nil, errs.New(errs.KindConfigError, "all %d local rule files failed to load: %v", len(paths), failures)
	}
	return out, nil
}

// LoadOne loads a single rule by id.
func (l *Loader) LoadOne(ctx context.Context, id rule.ID) (loader.RawRule, error) {
	path, err := l.pathForID(id)
	if err != nil {
		return loader.RawRule{}, err
	}
	if _, err := os.Stat(path); err != nil {
		return loader.RawRule{}, errs.New(errs.KindRuleNotFound, "rule %q not found", id).WithRuleID(string(id))
	}
	_, raw, err := l.loadFile(path)
	return raw, err
}

// CheckVersions compares current against the on-disk mtime-derived version.
func (l *Loader) CheckVersions(ctx context.Context, current map[rule.ID]rule.Version) (map[rule.ID]bool, error) {
	out := make(map[rule.ID]bool, len(current))
	for id, version := range current {
		path, err := l.pathForID(id)
		if err != nil {
			out[id] = true
			continue
		}
		info, err := os.Stat(path)
		if err != nil {
			out[id] = true
			continue
		}
		var newVersion rule.Version
		if sc, ok := l.readSidecar(path); ok && sc.Version != "" {
			newVersion = rule.Version(sc.Version)
		} else {
			newVersion = rule.Version(strconv.FormatInt(info.ModTime().UnixMilli(), 10))
		}
		out[id] = newVersion != version
	}
	return out, nil
}

var _ loader.Loader = (*Loader)(nil)
var _ loader.Watchable = (*Loader)(nil)

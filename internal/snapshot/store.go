package snapshot

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"slices"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/blackwell-systems/ciwarden/internal/config"
	"github.com/blackwell-systems/ciwarden/internal/gitrepo"
)

// DefaultCopyConcurrency bounds concurrent per-root copies.
const DefaultCopyConcurrency = 4

// stalePartialAge is how old an unfinished snapshot must be before Prune
// deletes it.
const stalePartialAge = time.Hour

var validID = regexp.MustCompile(`^backup-\d{8}-\d{6}\.\d{3}$`)

// Options configures a Store.
type Options struct {
	// WorkDir is the working tree the allowlist is relative to.
	WorkDir string
	// Dir holds the snapshot directories.
	Dir string
	// Allowlist names the tree-relative paths captured by each snapshot.
	Allowlist []string
	Retention Retention
	// Concurrency bounds parallel root copies. Zero uses the default.
	Concurrency int
	// GitInfo returns the HEAD commit and branch recorded in metadata.
	GitInfo func() (commit, branch string)
	// Logger receives retention failures after a snapshot is committed.
	Logger *zap.Logger
}

// Store creates, lists, verifies, restores and prunes snapshots.
type Store struct {
	opts      Options
	log       *zap.Logger
	now       func() time.Time
	removeAll func(string) error
}

// New returns a Store.
func New(opts Options) *Store {
	if opts.Concurrency <= 0 {
		opts.Concurrency = DefaultCopyConcurrency
	}
	if opts.Retention.KeepLast < 1 {
		opts.Retention.KeepLast = 1
	}
	opts.Allowlist = slices.Clone(opts.Allowlist)
	opts.Dir = filepath.Clean(opts.Dir)
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	return &Store{opts: opts, log: log, now: time.Now, removeAll: os.RemoveAll}
}

// WithLogger returns a copy of s that logs to l.
func (s *Store) WithLogger(l *zap.Logger) *Store {
	c := *s
	c.opts.Logger = l
	c.log = l
	return &c
}

// Dir returns the directory holding snapshots.
func (s *Store) Dir() string { return s.opts.Dir }

// Path returns the directory of snapshot id.
func (s *Store) Path(id string) string { return filepath.Join(s.opts.Dir, id) }

// Create copies every allowlisted path that exists into a new snapshot and
// then applies retention, which never removes the snapshot just created. The
// snapshot becomes visible only once its metadata is complete; a retention
// failure after that is logged, not returned.
func (s *Store) Create(ctx context.Context, reason string) (*Metadata, error) {
	if err := os.MkdirAll(s.opts.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating backup dir: %w", err)
	}

	id, partial, err := s.reserve()
	if err != nil {
		return nil, err
	}
	committed := false
	defer func() {
		if !committed {
			os.RemoveAll(partial)
		}
	}()

	meta := &Metadata{ID: id, CreatedAt: s.stampOf(id), Reason: reason}
	if s.opts.GitInfo != nil {
		meta.GitCommit, meta.GitBranch = s.opts.GitInfo()
	}

	var roots []string
	for _, rel := range s.opts.Allowlist {
		rel = filepath.Clean(rel)
		if _, err := os.Lstat(filepath.Join(s.opts.WorkDir, rel)); err != nil {
			if errors.Is(err, os.ErrNotExist) {
				meta.Absent = append(meta.Absent, filepath.ToSlash(rel))
				continue
			}
			return nil, fmt.Errorf("inspecting %s: %w", rel, err)
		}
		roots = append(roots, rel)
	}

	perRoot := make([][]File, len(roots))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.opts.Concurrency)
	for i, rel := range roots {
		g.Go(func() error {
			files, err := copyTree(gctx, filepath.Join(s.opts.WorkDir, rel), filepath.Join(partial, rel), rel, s.opts.Dir)
			if err != nil {
				return fmt.Errorf("copying %s: %w", rel, err)
			}
			perRoot[i] = files
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	for i, rel := range roots {
		meta.Present = append(meta.Present, filepath.ToSlash(rel))
		for _, f := range perRoot[i] {
			meta.TotalSize += f.Size
			meta.Files = append(meta.Files, f)
		}
	}
	sort.Slice(meta.Files, func(a, b int) bool { return meta.Files[a].Path < meta.Files[b].Path })

	if err := writeMetadata(partial, meta); err != nil {
		return nil, err
	}
	if err := os.Rename(partial, s.Path(id)); err != nil {
		return nil, fmt.Errorf("finalizing snapshot: %w", err)
	}
	committed = true

	if _, err := s.prune(s.now(), id); err != nil {
		s.log.Warn("pruning snapshots", zap.String("snapshot", id), zap.Error(err))
	}
	return meta, nil
}

// reserve picks an unused ID and creates its partial directory. IDs carry
// millisecond resolution; a collision advances the stamp by 1ms.
func (s *Store) reserve() (id, partial string, err error) {
	t := s.now().UTC().Truncate(time.Millisecond)
	for range 1000 {
		id = Prefix + t.Format(idLayout)
		partial = s.Path(id) + partialSuffix
		if _, statErr := os.Stat(s.Path(id)); statErr == nil {
			t = t.Add(time.Millisecond)
			continue
		}
		if mkErr := os.Mkdir(partial, 0o755); mkErr != nil {
			if errors.Is(mkErr, os.ErrExist) {
				t = t.Add(time.Millisecond)
				continue
			}
			return "", "", fmt.Errorf("creating snapshot dir: %w", mkErr)
		}
		return id, partial, nil
	}
	return "", "", fmt.Errorf("no free snapshot name near %s", t.Format(idLayout))
}

func (s *Store) stampOf(id string) time.Time {
	t, err := time.Parse(idLayout, strings.TrimPrefix(id, Prefix))
	if err != nil {
		return s.now().UTC()
	}
	return t.UTC()
}

// Load reads the metadata of snapshot id.
func (s *Store) Load(id string) (*Metadata, error) {
	if !validID.MatchString(id) {
		return nil, fmt.Errorf("%w: %q", ErrNotFound, id)
	}
	dir := s.Path(id)
	info, err := os.Stat(dir)
	if errors.Is(err, os.ErrNotExist) || (err == nil && !info.IsDir()) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("reading snapshot %s: %w", id, err)
	}

	data, err := os.ReadFile(filepath.Join(dir, MetadataFile))
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrCorrupt, id, err)
	}
	var meta Metadata
	if err := json.Unmarshal(data, &meta); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrCorrupt, id, err)
	}
	if meta.ID != id {
		return nil, fmt.Errorf("%w: %s: metadata names %q", ErrCorrupt, id, meta.ID)
	}
	return &meta, nil
}

// List returns every snapshot, newest first. Snapshots with unreadable
// metadata are included with Broken set.
func (s *Store) List() ([]Metadata, error) {
	entries, err := os.ReadDir(s.opts.Dir)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("listing snapshots: %w", err)
	}

	var out []Metadata
	for _, e := range entries {
		if !e.IsDir() || !validID.MatchString(e.Name()) {
			continue
		}
		meta, err := s.Load(e.Name())
		if err != nil {
			out = append(out, Metadata{ID: e.Name(), CreatedAt: s.stampOf(e.Name()), Broken: err.Error()})
			continue
		}
		out = append(out, *meta)
	}
	// IDs sort chronologically.
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	return out, nil
}

// Latest returns the newest readable snapshot, or ErrNotFound.
func (s *Store) Latest() (*Metadata, error) {
	all, err := s.List()
	if err != nil {
		return nil, err
	}
	for _, m := range all {
		if m.Broken == "" {
			return &m, nil
		}
	}
	return nil, ErrNotFound
}

// Verify recomputes every file hash recorded in the metadata.
func (s *Store) Verify(id string) error {
	meta, err := s.Load(id)
	if err != nil {
		return err
	}
	return s.verify(meta)
}

func (s *Store) verify(meta *Metadata) error {
	dir := s.Path(meta.ID)
	var problems []string
	for _, f := range meta.Files {
		sum, size, err := hashFile(filepath.Join(dir, filepath.FromSlash(f.Path)))
		switch {
		case err != nil:
			problems = append(problems, fmt.Sprintf("%s: %v", f.Path, err))
		case size != f.Size:
			problems = append(problems, fmt.Sprintf("%s: size %d, recorded %d", f.Path, size, f.Size))
		case sum != f.SHA256:
			problems = append(problems, fmt.Sprintf("%s: hash mismatch", f.Path))
		}
	}
	for _, p := range meta.Present {
		if _, err := os.Lstat(filepath.Join(dir, filepath.FromSlash(p))); err != nil {
			problems = append(problems, fmt.Sprintf("%s: missing from snapshot", p))
		}
	}
	if len(problems) > 0 {
		return fmt.Errorf("%w: %s: %s", ErrCorrupt, meta.ID, strings.Join(problems, "; "))
	}
	return nil
}

// Restore replaces each captured path in the working tree with its copy.
// Paths absent when the snapshot was taken are removed. The snapshot is
// verified first; a corrupt snapshot leaves the tree untouched.
func (s *Store) Restore(ctx context.Context, id string) error {
	meta, err := s.Load(id)
	if err != nil {
		return err
	}
	if err := s.verify(meta); err != nil {
		return err
	}

	src := s.Path(id)
	for _, p := range meta.Present {
		if err := ctx.Err(); err != nil {
			return err
		}
		rel := filepath.FromSlash(p)
		dst := filepath.Join(s.opts.WorkDir, rel)
		if err := os.RemoveAll(dst); err != nil {
			return fmt.Errorf("clearing %s: %w", p, err)
		}
		if _, err := copyTree(ctx, filepath.Join(src, rel), dst, rel, ""); err != nil {
			return fmt.Errorf("restoring %s: %w", p, err)
		}
	}
	for _, p := range meta.Absent {
		if err := os.RemoveAll(filepath.Join(s.opts.WorkDir, filepath.FromSlash(p))); err != nil {
			return fmt.Errorf("removing %s: %w", p, err)
		}
	}
	return nil
}

// Prune applies the retention policy as of now and returns the removed IDs.
// The newest snapshot is never removed. Unfinished snapshots older than an
// hour are removed as well.
func (s *Store) Prune(now time.Time) ([]string, error) {
	return s.prune(now, "")
}

// prune is Prune with keep ranked first and protected in place of the
// newest, so it survives even when the clock moved backwards.
func (s *Store) prune(now time.Time, keep string) ([]string, error) {
	all, err := s.List()
	if err != nil {
		return nil, err
	}
	if i := slices.IndexFunc(all, func(m Metadata) bool { return m.ID == keep }); i > 0 {
		kept := all[i]
		copy(all[1:i+1], all[:i])
		all[0] = kept
	}

	var removed []string
	for i, m := range all {
		if i == 0 {
			continue
		}
		tooMany := i >= s.opts.Retention.KeepLast
		tooOld := s.opts.Retention.MaxAge > 0 && now.Sub(m.CreatedAt) > s.opts.Retention.MaxAge
		if !tooMany && !tooOld {
			continue
		}
		if err := s.removeAll(s.Path(m.ID)); err != nil {
			return removed, fmt.Errorf("removing %s: %w", m.ID, err)
		}
		removed = append(removed, m.ID)
	}

	entries, err := os.ReadDir(s.opts.Dir)
	if err != nil {
		return removed, nil
	}
	for _, e := range entries {
		name := e.Name()
		if !e.IsDir() || !strings.HasSuffix(name, partialSuffix) {
			continue
		}
		if !validID.MatchString(strings.TrimSuffix(name, partialSuffix)) {
			continue
		}
		info, err := e.Info()
		if err == nil && now.Sub(info.ModTime()) > stalePartialAge {
			os.RemoveAll(filepath.Join(s.opts.Dir, name))
		}
	}
	return removed, nil
}

func writeMetadata(dir string, meta *Metadata) error {
	data, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding metadata: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, MetadataFile), append(data, '\n'), 0o644); err != nil {
		return fmt.Errorf("writing metadata: %w", err)
	}
	return nil
}

// copyTree copies src (a file, symlink or directory) to dst and returns the
// regular files copied, with paths relative to the working tree. The
// directory skip, if non-empty, is not descended into.
func copyTree(ctx context.Context, src, dst, rel, skip string) ([]File, error) {
	var files []File
	err := filepath.WalkDir(src, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if skip != "" && d.IsDir() && path == skip {
			return filepath.SkipDir
		}
		sub, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		target := filepath.Join(dst, sub)
		relPath := filepath.ToSlash(filepath.Join(rel, sub))

		info, err := d.Info()
		if err != nil {
			return err
		}
		switch {
		case d.IsDir():
			return os.MkdirAll(target, info.Mode().Perm()|0o700)
		case d.Type()&fs.ModeSymlink != 0:
			link, err := os.Readlink(path)
			if err != nil {
				return err
			}
			if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
				return err
			}
			return os.Symlink(link, target)
		case d.Type().IsRegular():
			sum, size, err := copyFile(path, target, info.Mode().Perm())
			if err != nil {
				return err
			}
			files = append(files, File{Path: relPath, Size: size, SHA256: sum})
			return nil
		default:
			// Sockets, devices and pipes are not captured.
			return nil
		}
	})
	return files, err
}

func copyFile(src, dst string, perm fs.FileMode) (string, int64, error) {
	in, err := os.Open(src)
	if err != nil {
		return "", 0, err
	}
	defer in.Close()

	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return "", 0, err
	}
	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, perm)
	if err != nil {
		return "", 0, err
	}

	h := sha256.New()
	n, err := io.Copy(io.MultiWriter(out, h), in)
	if cerr := out.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return "", 0, err
	}
	return hex.EncodeToString(h.Sum(nil)), n, nil
}

func hashFile(path string) (string, int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", 0, err
	}
	defer f.Close()
	h := sha256.New()
	n, err := io.Copy(h, f)
	if err != nil {
		return "", 0, err
	}
	return hex.EncodeToString(h.Sum(nil)), n, nil
}

// ForConfig returns the Store described by cfg, recording git HEAD details
// of the working tree in each snapshot.
func ForConfig(cfg config.Config) *Store {
	return New(Options{
		WorkDir:   cfg.WorkDir,
		Dir:       cfg.Path(cfg.BackupDir),
		Allowlist: cfg.Safety.Allowlist,
		Retention: Retention{KeepLast: cfg.Retention.KeepLast, MaxAge: cfg.Retention.MaxAge},
		GitInfo:   func() (string, string) { return gitrepo.Describe(cfg.WorkDir) },
	})
}

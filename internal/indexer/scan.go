package indexer

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	cogerrors "github.com/cogmemd/cogmemd/internal/errors"
	"github.com/cogmemd/cogmemd/internal/memfile"
	"github.com/cogmemd/cogmemd/internal/store"
)

// DefaultScanConcurrency bounds how many memory files are parsed/embedded
// at once during handle_memory_index_scan (spec.md §4.4).
const DefaultScanConcurrency = 8

// constitutionalDirMarker identifies the constitutional-memory root so a
// scan can include or exclude it independently of specs/**/memory/.
const constitutionalDirMarker = "/.opencode/skill/"

// ScanOptions controls a handle_memory_index_scan call.
type ScanOptions struct {
	// SpecFolder restricts the scan to specs/<SpecFolder>/memory/ when set;
	// empty scans every spec folder under MemoryRoot.
	SpecFolder string
	// Force bypasses both the cooldown and the incremental short circuits.
	Force bool
	// IncludeConstitutional also walks .opencode/skill/*/constitutional/.
	IncludeConstitutional bool
	// Incremental skips files whose mtime and content hash are unchanged
	// since the last scan instead of re-parsing and re-embedding them.
	Incremental bool
}

// ScanResult is handle_memory_index_scan's return shape.
type ScanResult struct {
	Skipped      bool
	WaitSeconds  int
	FilesScanned int
	Created      int
	Updated      int
	Reinforced   int
	Superseded   int
	Unchanged    int
	Failed       int
	Errors       []string
	Warnings     []string
}

// Scanner enumerates memory files under MemoryRoot and drives Indexer over
// each one, enforcing the scan cooldown and the incremental partitioning
// spec.md §4.4 describes for handle_memory_index_scan.
type Scanner struct {
	Indexer     *Indexer
	Metadata    store.MetadataStore
	MemoryRoot  string
	Cooldown    time.Duration
	Concurrency int
	Now         func() time.Time
}

func (s *Scanner) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

func (s *Scanner) concurrency() int {
	if s.Concurrency > 0 {
		return s.Concurrency
	}
	return DefaultScanConcurrency
}

// Scan implements handle_memory_index_scan.
func (s *Scanner) Scan(ctx context.Context, opts ScanOptions) (ScanResult, error) {
	now := s.now()

	if !opts.Force {
		wait, err := s.cooldownRemaining(ctx, now)
		if err != nil {
			return ScanResult{}, cogerrors.New(cogerrors.CodeDatabaseError, "failed to read last scan time", err)
		}
		if wait > 0 {
			return ScanResult{
				Skipped:     true,
				WaitSeconds: wait,
				Warnings:    []string{fmt.Sprintf("scan skipped: cooldown active, retry in %ds", wait)},
			}, nil
		}
	}

	files, err := s.discover(opts)
	if err != nil {
		return ScanResult{}, cogerrors.New(cogerrors.CodeInvalidParameter, "failed to enumerate memory files", err)
	}

	toIndex, toTouch, unchanged, err := s.partition(ctx, files, opts)
	if err != nil {
		return ScanResult{}, cogerrors.New(cogerrors.CodeDatabaseError, "failed to partition scan candidates", err)
	}

	result := ScanResult{FilesScanned: len(files), Unchanged: unchanged}

	if len(toTouch) > 0 {
		s.touchMtimes(ctx, toTouch, &result)
	}

	if len(toIndex) > 0 {
		s.indexBatch(ctx, toIndex, opts, &result)
	}

	if err := s.Metadata.SetState(ctx, store.StateKeyLastScanMs, strconv.FormatInt(now.UnixMilli(), 10)); err != nil {
		return result, cogerrors.New(cogerrors.CodeDatabaseError, "failed to persist last scan time", err)
	}

	return result, nil
}

func (s *Scanner) cooldownRemaining(ctx context.Context, now time.Time) (int, error) {
	if s.Cooldown <= 0 {
		return 0, nil
	}
	raw, err := s.Metadata.GetState(ctx, store.StateKeyLastScanMs)
	if err != nil {
		return 0, err
	}
	if raw == "" {
		return 0, nil
	}
	ms, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, nil
	}
	last := time.UnixMilli(ms)
	elapsed := now.Sub(last)
	if elapsed >= s.Cooldown {
		return 0, nil
	}
	remaining := s.Cooldown - elapsed
	return int(remaining.Seconds()) + 1, nil
}

// discover walks MemoryRoot collecting every path memfile.AllowedPath
// accepts, honoring SpecFolder and IncludeConstitutional.
func (s *Scanner) discover(opts ScanOptions) ([]string, error) {
	var out []string
	root := s.MemoryRoot
	if root == "" {
		root = "."
	}

	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		if d.IsDir() {
			return nil
		}
		clean := filepath.ToSlash(path)
		isConstitutional := strings.Contains(clean, constitutionalDirMarker)
		if isConstitutional && !opts.IncludeConstitutional {
			return nil
		}
		if opts.SpecFolder != "" && !isConstitutional && !strings.Contains(clean, "/specs/"+opts.SpecFolder+"/memory/") {
			return nil
		}
		out = append(out, path)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// partition splits files into those that need a full index_memory_file
// pass, those that only need their stored mtime bumped (content hash
// already matches a prior index), and a count of files skipped outright.
func (s *Scanner) partition(ctx context.Context, files []string, opts ScanOptions) (toIndex, toTouch []string, unchanged int, err error) {
	if !opts.Incremental || opts.Force {
		return files, nil, 0, nil
	}

	for _, path := range files {
		info, statErr := os.Stat(path)
		if statErr != nil {
			toIndex = append(toIndex, path)
			continue
		}
		mtimeNs := info.ModTime().UnixNano()

		existing, getErr := s.Metadata.GetMemoryByPath(ctx, path)
		if getErr != nil {
			return nil, nil, 0, getErr
		}
		if existing == nil {
			toIndex = append(toIndex, path)
			continue
		}
		if existing.FileMtimeNs == mtimeNs {
			unchanged++
			continue
		}
		toTouch = append(toTouch, path)
	}
	return toIndex, toTouch, unchanged, nil
}

// touchMtimes re-reads the files whose disk mtime moved but whose content
// is unchanged once index_memory_file's hash comparison runs, recording
// the new mtime so future scans can skip them without a parse pass.
func (s *Scanner) touchMtimes(ctx context.Context, paths []string, result *ScanResult) {
	for _, path := range paths {
		existing, err := s.Metadata.GetMemoryByPath(ctx, path)
		if err != nil || existing == nil {
			result.Failed++
			result.Errors = append(result.Errors, fmt.Sprintf("%s: failed to reload for mtime touch: %v", path, err))
			continue
		}

		info, err := os.Stat(path)
		if err != nil {
			result.Failed++
			result.Errors = append(result.Errors, fmt.Sprintf("%s: failed to stat: %v", path, err))
			continue
		}

		raw, err := os.ReadFile(path)
		if err != nil {
			result.Failed++
			result.Errors = append(result.Errors, fmt.Sprintf("%s: failed to read: %v", path, err))
			continue
		}

		if memfile.ContentHash(raw) != existing.ContentHash {
			// Content actually changed; fall through to a real reindex.
			if _, indexErr := s.Indexer.IndexMemoryFile(ctx, path, IndexOptions{}); indexErr != nil {
				result.Failed++
				result.Errors = append(result.Errors, fmt.Sprintf("%s: %v", path, indexErr))
			} else {
				result.Updated++
			}
			continue
		}

		mtimeNs := info.ModTime().UnixNano()
		if err := s.Metadata.UpdateMemory(ctx, existing.ID, store.MemoryPatch{FileMtimeNs: &mtimeNs}); err != nil {
			result.Failed++
			result.Errors = append(result.Errors, fmt.Sprintf("%s: failed to touch mtime: %v", path, err))
			continue
		}
		result.Unchanged++
	}
}

// indexBatch runs IndexMemoryFile over paths with bounded concurrency.
func (s *Scanner) indexBatch(ctx context.Context, paths []string, opts ScanOptions, result *ScanResult) {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.concurrency())

	var mu sync.Mutex
	for _, path := range paths {
		path := path
		g.Go(func() error {
			r, err := s.Indexer.IndexMemoryFile(gctx, path, IndexOptions{Force: opts.Force})

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				result.Failed++
				result.Errors = append(result.Errors, fmt.Sprintf("%s: %v", path, err))
				return nil
			}
			result.Warnings = append(result.Warnings, r.Warnings...)
			switch r.Status {
			case StatusCreated:
				result.Created++
			case StatusUpdated:
				result.Updated++
			case StatusReinforced:
				result.Reinforced++
			case StatusSuperseded:
				result.Superseded++
			case StatusUnchanged:
				result.Unchanged++
			}
			return nil
		})
	}
	_ = g.Wait()
}

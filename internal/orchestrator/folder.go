package orchestrator

import (
	"archive/zip"
	"context"
	"path"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/tphakala/voterimport/internal/errors"
	"github.com/tphakala/voterimport/internal/logger"
)

// unknownProvince is assigned to archive entries that sit at the archive
// root.
const unknownProvince = "Unknown"

// ImportFolder queues one import_file task per CSV below root. The province
// is the file's parent directory (root itself for files directly in it) and
// the constituency is the file name.
func (o *Orchestrator) ImportFolder(ctx context.Context, root string) (*FolderSummary, error) {
	start := time.Now()
	keys, err := o.store.List(ctx, root)
	if err != nil {
		return nil, err
	}

	cleanRoot := path.Clean(strings.TrimSuffix(root, "/"))
	tasks := make([]FileTask, 0, len(keys))
	for _, key := range keys {
		dir := path.Dir(key)
		if dir == cleanRoot || dir == "." {
			dir = cleanRoot
		}
		province := provinceFromDir(path.Base(dir))
		if province == "." || province == "/" || province == "" {
			province = unknownProvince
		}
		tasks = append(tasks, FileTask{
			Path:         key,
			Province:     province,
			Constituency: constituencyFromFile(key),
		})
	}

	summary, err := o.queueFiles(ctx, root, tasks)
	if err != nil {
		return nil, err
	}
	summary.Duration = time.Since(start)
	o.logSummary(ctx, "folder import queued", summary)
	return summary, nil
}

// ImportZip stages every CSV in the archive under a fresh
// <staging prefix>/<uuid>/ key and queues it. Entries at the archive root
// get the province "Unknown". A staged entry is removed once its file task
// finishes; entries that could not be queued are removed here.
func (o *Orchestrator) ImportZip(ctx context.Context, archivePath string) (*FolderSummary, error) {
	start := time.Now()
	// Non-local entry names are rejected one by one below, so
	// ErrInsecurePath alone does not abort the archive.
	zr, err := zip.OpenReader(archivePath)
	if err != nil && !(errors.Is(err, zip.ErrInsecurePath) && zr != nil) {
		return nil, errors.New(err).
			Component("orchestrator").
			Category(errors.CategoryFileIO).
			Context("operation", "open_archive").
			Context("archive", archivePath).
			Build()
	}
	defer func() { _ = zr.Close() }()

	prefix := path.Join(o.stagingPrefix, uuid.NewString())
	var tasks []FileTask
	var staged []FileFailure
	for _, f := range zr.File {
		if f.FileInfo().IsDir() || !strings.EqualFold(path.Ext(f.Name), ".csv") {
			continue
		}
		name, ok := safeEntryName(f.Name)
		if !ok {
			staged = append(staged, FileFailure{Path: f.Name, Err: errors.NewStd("unsafe archive entry path")})
			continue
		}
		if strings.HasPrefix(name, "__MACOSX/") {
			continue
		}

		key := path.Join(prefix, name)
		if err := o.stageEntry(ctx, f, key); err != nil {
			staged = append(staged, FileFailure{Path: f.Name, Err: err})
			continue
		}

		province := unknownProvince
		if dir := path.Dir(name); dir != "." {
			province = provinceFromDir(path.Base(dir))
		}
		tasks = append(tasks, FileTask{
			Path:         key,
			Province:     province,
			Constituency: constituencyFromFile(name),
		})
	}
	if err := ctx.Err(); err != nil {
		cleanup := context.WithoutCancel(ctx)
		for _, task := range tasks {
			o.releaseStaged(cleanup, task.Path)
		}
		return nil, err
	}

	summary, err := o.queueFiles(ctx, archivePath, tasks)
	if err != nil {
		return nil, err
	}
	for _, f := range summary.Failures {
		o.releaseStaged(ctx, f.Path)
	}
	summary.FilesFound += len(staged)
	summary.Failures = append(staged, summary.Failures...)
	summary.Duration = time.Since(start)
	o.logSummary(ctx, "archive import queued", summary)
	return summary, nil
}

func (o *Orchestrator) stageEntry(ctx context.Context, f *zip.File, key string) error {
	rc, err := f.Open()
	if err != nil {
		return err
	}
	defer func() { _ = rc.Close() }()
	return o.store.Put(ctx, key, rc, int64(f.UncompressedSize64))
}

// safeEntryName cleans an archive entry name and rejects names that would
// escape the staging prefix.
func safeEntryName(name string) (string, bool) {
	name = strings.ReplaceAll(name, "\\", "/")
	if strings.HasPrefix(name, "/") {
		return "", false
	}
	clean := path.Clean(name)
	if clean == ".." || strings.HasPrefix(clean, "../") {
		return "", false
	}
	return clean, true
}

// queueFiles dispatches import_file tasks under the rate limit. A file that
// cannot be dispatched is reported in the summary; only cancellation aborts
// the whole run.
func (o *Orchestrator) queueFiles(ctx context.Context, root string, tasks []FileTask) (*FolderSummary, error) {
	summary := &FolderSummary{Root: root, FilesFound: len(tasks)}
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(folderConcurrency)
	for _, task := range tasks {
		g.Go(func() error {
			if err := o.limiter.Wait(gctx); err != nil {
				return err
			}
			id, err := o.dispatcher.Dispatch(gctx, TaskImportFile, task)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				summary.Failures = append(summary.Failures, FileFailure{Path: task.Path, Err: err})
				o.log.Warn("file not queued",
					logger.String("file", task.Path),
					logger.Error(err))
				return nil
			}
			summary.Queued = append(summary.Queued, QueuedFile{TaskID: id, UploadID: UploadIDFor(id), Task: task})
			o.log.Debug("file queued",
				logger.String("file", task.Path),
				logger.String("province", task.Province),
				logger.String("constituency", task.Constituency),
				logger.String("task_id", id))
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, errors.New(err).
			Component("orchestrator").
			Category(errors.CategoryCancellation).
			Context("operation", "queue_files").
			Context("queued", len(summary.Queued)).
			Build()
	}
	return summary, nil
}

func (o *Orchestrator) logSummary(ctx context.Context, msg string, s *FolderSummary) {
	o.log.WithContext(ctx).Info(msg,
		logger.String("root", s.Root),
		logger.Int("files_found", s.FilesFound),
		logger.Int("files_queued", s.FilesQueued()),
		logger.Int("files_failed", len(s.Failures)),
		logger.Duration("duration", s.Duration))
}

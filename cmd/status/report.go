package status

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/tphakala/voterimport/internal/app"
	"github.com/tphakala/voterimport/internal/datastore/entities"
	"github.com/tphakala/voterimport/internal/errors"
	"github.com/tphakala/voterimport/internal/ledger"
	"github.com/tphakala/voterimport/internal/orchestrator"
)

// Report prints a folder or archive summary. With the local transport it
// first waits for the queued work and then prints the resulting entries.
func Report(ctx context.Context, w io.Writer, a *app.App, s *orchestrator.FolderSummary) error {
	fmt.Fprintf(w, "%s: %d files found, %d queued, %d failed in %s\n",
		s.Root, s.FilesFound, s.FilesQueued(), len(s.Failures), s.Duration.Round(time.Millisecond))
	for _, f := range s.Failures {
		fmt.Fprintf(w, "  %s: %v\n", f.Path, f.Err)
	}

	if a.AMQP != nil || s.FilesQueued() == 0 {
		return nil
	}
	if err := a.Wait(ctx); err != nil {
		return err
	}
	jobs := make([]entities.UploadJob, 0, s.FilesQueued())
	for _, q := range s.Queued {
		job, err := a.Ledger.Get(ctx, q.UploadID)
		if errors.Is(err, ledger.ErrNotFound) {
			continue
		}
		if err != nil {
			return err
		}
		jobs = append(jobs, *job)
	}
	fmt.Fprintln(w)
	PrintUploads(w, jobs)
	return nil
}

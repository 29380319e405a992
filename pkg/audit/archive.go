package audit

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/platinummonkey/bastion/pkg/observability"
)

// DefaultArchiveBatch is the number of entries per archive object
const DefaultArchiveBatch = 1000

// ArchiveResult describes the archive of one UTC day
type ArchiveResult struct {
	Day     string   `json:"day"`
	Entries int      `json:"entries"`
	Objects []string `json:"objects,omitempty"`
}

// ArchiveJob copies each day's entries to an Archiver as NDJSON objects
// named audit-YYYYMMDD-NNNN.ndjson. Entries are never removed from the
// source, and re-archiving a day overwrites the same keys.
type ArchiveJob struct {
	source   Searcher
	archiver Archiver
	batch    int
	logger   *observability.Logger
	now      func() time.Time
}

// ArchiveOption configures an ArchiveJob
type ArchiveOption func(*ArchiveJob)

// WithArchiveBatchSize sets how many entries go into each object
func WithArchiveBatchSize(n int) ArchiveOption {
	return func(j *ArchiveJob) {
		if n > 0 {
			j.batch = n
		}
	}
}

// WithArchiveLogger sets the logger for run summaries
func WithArchiveLogger(logger *observability.Logger) ArchiveOption {
	return func(j *ArchiveJob) {
		if logger != nil {
			j.logger = logger
		}
	}
}

// NewArchiveJob reads from source and writes to archiver
func NewArchiveJob(source Searcher, archiver Archiver, opts ...ArchiveOption) (*ArchiveJob, error) {
	if source == nil {
		return nil, fmt.Errorf("audit source is required")
	}
	if archiver == nil {
		return nil, fmt.Errorf("archiver is required")
	}

	j := &ArchiveJob{
		source:   source,
		archiver: archiver,
		batch:    DefaultArchiveBatch,
		logger:   observability.NewNopLogger(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(j)
	}
	return j, nil
}

// Run archives the previous UTC day
func (j *ArchiveJob) Run(ctx context.Context) (ArchiveResult, error) {
	return j.RunDay(ctx, j.now().UTC().AddDate(0, 0, -1))
}

// RunDay archives the UTC day containing day. It refuses days that have
// not ended yet since their entries are still being written.
func (j *ArchiveJob) RunDay(ctx context.Context, day time.Time) (ArchiveResult, error) {
	day = day.UTC()
	start := time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, time.UTC)
	next := start.AddDate(0, 0, 1)
	result := ArchiveResult{Day: start.Format("2006-01-02")}

	if next.After(j.now()) {
		return result, fmt.Errorf("day %s has not ended", result.Day)
	}

	// postgres timestamps have microsecond precision
	until := next.Add(-time.Microsecond)
	for offset, part := 0, 1; ; part++ {
		entries, err := j.source.Search(ctx, SearchFilter{Since: &start, Until: &until, Limit: j.batch, Offset: offset})
		if err != nil {
			return result, err
		}
		if len(entries) == 0 {
			break
		}

		data, err := Export(entries, ExportFormatNDJSON)
		if err != nil {
			return result, err
		}
		key := fmt.Sprintf("audit-%s-%04d.ndjson", start.Format("20060102"), part)
		if err := j.archiver.Archive(ctx, key, data, ExportFormatNDJSON.ContentType()); err != nil {
			return result, err
		}

		result.Entries += len(entries)
		result.Objects = append(result.Objects, key)
		offset += len(entries)

		if len(entries) < j.batch {
			break
		}
	}

	j.logger.WithFields(map[string]interface{}{
		"day":     result.Day,
		"entries": result.Entries,
		"objects": len(result.Objects),
	}).Info("Audit archive complete")
	return result, nil
}

// Schedule runs the job on a standard five-field cron spec in UTC.
// Overlapping runs are skipped. Stop the returned scheduler on shutdown.
func (j *ArchiveJob) Schedule(spec string, timeout time.Duration) (*cron.Cron, error) {
	logger := cronLogger{j.logger}
	c := cron.New(
		cron.WithLocation(time.UTC),
		cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)),
	)

	_, err := c.AddFunc(spec, func() {
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		if _, err := j.Run(ctx); err != nil {
			j.logger.WithError(err).Error("Audit archive failed")
		}
	})
	if err != nil {
		return nil, fmt.Errorf("invalid archive schedule %q: %w", spec, err)
	}

	c.Start()
	return c, nil
}

// cronLogger adapts the structured logger to cron.Logger
type cronLogger struct {
	logger *observability.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.WithFields(kvFields(keysAndValues)).Debug(msg)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.WithError(err).WithFields(kvFields(keysAndValues)).Error(msg)
}

func kvFields(kv []interface{}) map[string]interface{} {
	fields := make(map[string]interface{}, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		fields[fmt.Sprint(kv[i])] = kv[i+1]
	}
	return fields
}

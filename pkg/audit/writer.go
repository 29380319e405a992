package audit

import (
	"context"
	"time"

	"github.com/platinummonkey/bastion/pkg/observability"
)

// Writer records audit entries after the operation they describe has
// committed. Sink failures are logged and counted, never returned.
type Writer struct {
	sink       Logger
	logger     *observability.Logger
	metrics    *observability.Metrics
	logDenials bool
	now        func() time.Time
}

// WriterOption configures a Writer
type WriterOption func(*Writer)

// WithDenials enables PERMISSION_DENIED entries
func WithDenials(enabled bool) WriterOption {
	return func(w *Writer) { w.logDenials = enabled }
}

// WithMetrics counts sink writes and failures
func WithMetrics(metrics *observability.Metrics) WriterOption {
	return func(w *Writer) { w.metrics = metrics }
}

// NewWriter wraps sink. A nil sink discards entries and a nil logger
// discards warnings.
func NewWriter(sink Logger, logger *observability.Logger, opts ...WriterOption) *Writer {
	if sink == nil {
		sink = NewNoOpLogger()
	}
	if logger == nil {
		logger = observability.NewNopLogger()
	}

	w := &Writer{
		sink:   sink,
		logger: logger,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// LogsDenials reports whether permission denials should be recorded
func (w *Writer) LogsDenials() bool {
	return w.logDenials
}

// CreateAuditLog appends rec. Request details from rc are stored under
// metadata.request. Cancellation of ctx does not abort the write.
func (w *Writer) CreateAuditLog(ctx context.Context, rc RequestContext, rec Record) {
	metadata := make(map[string]interface{}, len(rec.Metadata)+1)
	for k, v := range rec.Metadata {
		metadata[k] = v
	}
	if !rc.IsZero() {
		metadata["request"] = rc.Map()
	}

	entry := &Entry{
		ActorUserID: rec.UserID,
		Action:      rec.Action,
		EntityType:  rec.EntityType,
		EntityID:    rec.EntityID,
		Metadata:    metadata,
		CreatedAt:   w.now().UTC(),
	}

	// the change being recorded has already committed
	if err := w.sink.Log(context.WithoutCancel(ctx), entry); err != nil {
		w.metrics.RecordAuditFailure(string(rec.Action))
		w.logger.WithError(err).WithFields(map[string]interface{}{
			"action":      string(rec.Action),
			"entity_type": string(rec.EntityType),
			"entity_id":   rec.EntityID,
		}).Warn("Audit write failed")
		return
	}
	w.metrics.RecordAuditWrite(string(rec.Action))
}

// Close closes the underlying sink
func (w *Writer) Close() error {
	return w.sink.Close()
}

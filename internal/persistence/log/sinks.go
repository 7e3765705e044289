package log

import (
	stdlog "log"
	"path/filepath"

	"voxelwatch.ai/internal/ingest"
	"voxelwatch.ai/internal/track/report"
)

// ReportLogger writes every envelope it receives as one JSON line. It is a
// report.Sink; wrap it in report.Async so file I/O stays off actor workers.
type ReportLogger struct {
	w      *JSONLZstdWriter
	logger *stdlog.Logger
	errs   uint64
}

func NewReportLogger(dataDir string, logger *stdlog.Logger) *ReportLogger {
	return &ReportLogger{
		w:      NewJSONLZstdWriter(filepath.Join(dataDir, "reports"), "reports"),
		logger: logger,
	}
}

func (l *ReportLogger) Writer() *JSONLZstdWriter { return l.w }

func (l *ReportLogger) Emit(e report.Envelope) {
	if err := l.w.Write(e); err != nil {
		l.errs++
		if l.logger != nil && (l.errs == 1 || l.errs%1000 == 0) {
			l.logger.Printf("report log write failed errors=%d: %v", l.errs, err)
		}
	}
}

func (l *ReportLogger) Close() error { return l.w.Close() }

// CaptureLogger records accepted inbound messages so a session can be
// replayed later with cmd/replay.
type CaptureLogger struct{ w *JSONLZstdWriter }

func NewCaptureLogger(dataDir string) *CaptureLogger {
	return &CaptureLogger{w: NewJSONLZstdWriter(filepath.Join(dataDir, "capture"), "actions")}
}

func (l *CaptureLogger) Writer() *JSONLZstdWriter { return l.w }

func (l *CaptureLogger) WriteRecord(r ingest.Record) error { return l.w.Write(r) }
func (l *CaptureLogger) Close() error                      { return l.w.Close() }

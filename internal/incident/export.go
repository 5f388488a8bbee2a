package incident

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/marcus-qen/incidentd/internal/metrics"
	"github.com/marcus-qen/incidentd/internal/telemetry"
)

// SnapshotQuery selects the rows of one export. An empty ScopeID selects the
// whole domain.
type SnapshotQuery struct {
	Domain  string
	ScopeID string
}

// Snapshot is a consistent read of sample and alert-run history.
type Snapshot struct {
	Samples []Sample
	Runs    []AlertRun
}

// SnapshotReader returns every matching row as of a single point in time.
// Rows committed after the read began must either all appear or not at all.
type SnapshotReader interface {
	Snapshot(ctx context.Context, q SnapshotQuery) (Snapshot, error)
}

// ExportRequest describes who is exporting what.
type ExportRequest struct {
	ScopeID    string
	Privileged bool
}

// ExportDocument is the payload serialized into DataExportResult.DataJSON.
type ExportDocument struct {
	Domain    string     `json:"domain"`
	ScopeID   string     `json:"scopeId,omitempty"`
	Samples   []Sample   `json:"samples"`
	AlertRuns []AlertRun `json:"alertRuns"`
}

// Exporter serializes history for compliance export.
type Exporter struct {
	domain string
	reader SnapshotReader
	logger *zap.Logger
	now    func() time.Time
}

// NewExporter creates an exporter for domain.
func NewExporter(domain string, reader SnapshotReader, logger *zap.Logger) *Exporter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Exporter{domain: domain, reader: reader, logger: logger.With(zap.String("domain", domain)), now: time.Now}
}

// WithClock overrides the clock used for GeneratedAt.
func (x *Exporter) WithClock(now func() time.Time) *Exporter {
	if now != nil {
		x.now = now
	}
	return x
}

// Export reads a snapshot and serializes it. The payload depends only on the
// snapshot contents; the export time is carried by the envelope alone.
func (x *Exporter) Export(ctx context.Context, req ExportRequest) (DataExportResult, error) {
	if req.ScopeID == "" && !req.Privileged {
		return DataExportResult{}, ErrExportForbidden
	}

	ctx, span := telemetry.StartExportSpan(ctx, x.domain, req.ScopeID)
	defer span.End()

	snap, err := x.reader.Snapshot(ctx, SnapshotQuery{Domain: x.domain, ScopeID: req.ScopeID})
	if err != nil {
		span.RecordError(err)
		metrics.RecordStoreError(x.domain, "export")
		return DataExportResult{}, fmt.Errorf("%w: export snapshot: %w", ErrStoreUnavailable, err)
	}

	doc := ExportDocument{
		Domain:    x.domain,
		ScopeID:   req.ScopeID,
		Samples:   sortedSamples(snap.Samples),
		AlertRuns: sortedRuns(snap.Runs),
	}
	data, err := json.Marshal(doc)
	if err != nil {
		return DataExportResult{}, fmt.Errorf("encode export: %w", err)
	}

	metrics.RecordExport(x.domain)
	x.logger.Info("data export generated",
		zap.String("scope_id", req.ScopeID),
		zap.Int("samples", len(doc.Samples)),
		zap.Int("runs", len(doc.AlertRuns)),
	)
	return DataExportResult{GeneratedAt: x.now().UTC(), DataJSON: string(data)}, nil
}

func sortedSamples(in []Sample) []Sample {
	out := make([]Sample, len(in))
	copy(out, in)
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].Timestamp.Equal(out[j].Timestamp) {
			return out[i].Timestamp.Before(out[j].Timestamp)
		}
		return out[i].ID < out[j].ID
	})
	for i := range out {
		out[i].Timestamp = out[i].Timestamp.UTC()
	}
	return out
}

func sortedRuns(in []AlertRun) []AlertRun {
	out := make([]AlertRun, len(in))
	copy(out, in)
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].EvaluatedAt.Equal(out[j].EvaluatedAt) {
			return out[i].EvaluatedAt.Before(out[j].EvaluatedAt)
		}
		return out[i].RunID < out[j].RunID
	})
	for i := range out {
		out[i].EvaluatedAt = out[i].EvaluatedAt.UTC()
		if out[i].Reasons == nil {
			out[i].Reasons = []string{}
		}
	}
	return out
}

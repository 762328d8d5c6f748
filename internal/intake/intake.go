package intake

import (
	"context"
	"errors"
	"log/slog"

	"github.com/ondrasimku/file-intake/internal/domain"
	"github.com/ondrasimku/file-intake/internal/metrics"
	"github.com/ondrasimku/file-intake/internal/validation"
)

// ErrNoFiles is returned for an empty batch.
var ErrNoFiles = errors.New("no files provided")

// Inserter is the part of the registry the pipeline writes to.
type Inserter interface {
	Insert(ctx context.Context, rec domain.FileRecord) (domain.FileRecord, error)
}

type Report struct {
	Accepted []domain.FileRecord `json:"accepted"`
	Rejected []domain.Rejection  `json:"rejected"`
}

// InsertOrder decides which accepted file of a batch is inserted last and so
// ends up most recent.
type InsertOrder string

const (
	// InsertReverse inserts last to first: the first file of the batch ends
	// up most recent.
	InsertReverse InsertOrder = "reverse"
	// InsertSubmission inserts first to last: the last file of the batch ends
	// up most recent.
	InsertSubmission InsertOrder = "submission"
)

type Options struct {
	Policy      validation.Policy
	InsertOrder InsertOrder
	Logger      *slog.Logger
}

type Pipeline struct {
	registry Inserter
	policy   validation.Policy
	order    InsertOrder
	logger   *slog.Logger
}

func NewPipeline(registry Inserter, opts Options) *Pipeline {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	order := opts.InsertOrder
	if order != InsertSubmission {
		order = InsertReverse
	}
	return &Pipeline{
		registry: registry,
		policy:   opts.Policy,
		order:    order,
		logger:   logger,
	}
}

func (p *Pipeline) Policy() validation.Policy {
	return p.policy
}

// Intake validates batch in order and inserts the accepted files. With the
// default InsertReverse order inserts run last to first so the first file of
// the batch ends up most recent. Both lists of the report keep submission
// order.
func (p *Pipeline) Intake(ctx context.Context, batch []validation.Descriptor) (*Report, error) {
	if len(batch) == 0 {
		metrics.RecordBatch("empty")
		return nil, ErrNoFiles
	}

	var queued []domain.FileRecord
	report := &Report{
		Accepted: []domain.FileRecord{},
		Rejected: []domain.Rejection{},
	}

	for _, d := range batch {
		decision := validation.Validate(d, p.policy)
		if !decision.Accepted {
			metrics.RecordRejected(string(decision.Reason))
			p.logger.Info("File rejected", "name", d.Name, "reason", decision.Reason,
				"size", d.SizeBytes, "declaredType", d.DeclaredMediaType)
			report.Rejected = append(report.Rejected, domain.Rejection{Name: d.Name, Reason: string(decision.Reason)})
			continue
		}
		queued = append(queued, domain.FileRecord{
			Name:      d.Name,
			Size:      d.SizeBytes,
			MediaType: decision.MediaType,
		})
	}

	inserted := make([]domain.FileRecord, len(queued))
	for k := range queued {
		j := k
		if p.order == InsertReverse {
			j = len(queued) - 1 - k
		}
		rec, err := p.registry.Insert(ctx, queued[j])
		if err != nil {
			metrics.RecordBatch("storage_error")
			p.logger.Error("Failed to register file", "name", queued[j].Name, "error", err)
			return nil, err
		}
		metrics.RecordAccepted()
		inserted[j] = rec
	}
	report.Accepted = append(report.Accepted, inserted...)

	metrics.RecordBatch("ok")
	p.logger.Info("Intake batch processed", "submitted", len(batch),
		"accepted", len(report.Accepted), "rejected", len(report.Rejected))
	return report, nil
}

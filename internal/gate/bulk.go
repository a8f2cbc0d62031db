package gate

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/neogan74/certdesk/internal/logger"
	"github.com/neogan74/certdesk/internal/metrics"
	"github.com/neogan74/certdesk/internal/roster"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
)

// BulkFailure is one certificate that could not be rendered.
type BulkFailure struct {
	CertificateID string `json:"certificate_id"`
	ID            string `json:"id"`
	Error         string `json:"error"`
}

// BulkResult summarizes a Bulk run.
type BulkResult struct {
	Kind      roster.Kind   `json:"kind"`
	Total     int           `json:"total"`
	Generated []string      `json:"generated"`
	Skipped   []string      `json:"skipped"`
	Failed    []BulkFailure `json:"failed"`
	// Duplicates are roster ids whose certificate id was already claimed by
	// an earlier row.
	Duplicates []string `json:"duplicates"`
}

// Bulk renders every certificate of kind that is missing, or all of them
// with force. It bypasses tokens and rate limits and is meant for admins.
// A failure for one row does not stop the others.
func (g *Gate) Bulk(ctx context.Context, kind roster.Kind, force bool) (*BulkResult, error) {
	ctx, span := g.tracer.Start(ctx, "gate.bulk", trace.WithAttributes(
		attribute.String("certdesk.kind", string(kind)),
		attribute.Bool("certdesk.force", force),
	))
	defer span.End()

	ros, ok := g.cfg.Rosters[kind]
	if !ok || ros.Lookup == nil {
		return nil, fmt.Errorf("%w: no roster for %q", ErrStoreUnavailable, kind)
	}

	records, err := ros.Lookup.All()
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	result := &BulkResult{
		Kind:      kind,
		Total:     len(records),
		Generated: []string{},
		Skipped:   []string{},
		Failed:    []BulkFailure{},

		Duplicates: []string{},
	}

	var mu sync.Mutex
	eg, egCtx := errgroup.WithContext(ctx)
	eg.SetLimit(g.cfg.BulkWorkers)

	seen := make(map[string]bool, len(records))
	for _, rec := range records {
		rec := rec
		certID := roster.CertificateID(rec, ros.Prefix)
		if seen[certID] {
			result.Duplicates = append(result.Duplicates, rec.ID)
			continue
		}
		seen[certID] = true

		if !force && g.cfg.Renderer.Exists(certID) {
			result.Skipped = append(result.Skipped, certID)
			continue
		}

		eg.Go(func() error {
			if err := egCtx.Err(); err != nil {
				return err
			}
			_, err := g.cfg.Renderer.Render(egCtx, kind, rec.Name, certID)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				g.log.Warn("Bulk render failed",
					logger.CertificateID(certID),
					logger.String("id", rec.ID),
					logger.Error(err))
				result.Failed = append(result.Failed, BulkFailure{CertificateID: certID, ID: rec.ID, Error: err.Error()})
				return nil
			}
			metrics.CertificatesRenderedTotal.WithLabelValues(string(kind), "bulk").Inc()
			result.Generated = append(result.Generated, certID)
			return nil
		})
	}

	if err := eg.Wait(); err != nil {
		return nil, err
	}

	sort.Strings(result.Generated)
	sort.Slice(result.Failed, func(i, j int) bool {
		return result.Failed[i].CertificateID < result.Failed[j].CertificateID
	})

	span.SetAttributes(
		attribute.Int("certdesk.total", result.Total),
		attribute.Int("certdesk.generated", len(result.Generated)),
		attribute.Int("certdesk.failed", len(result.Failed)),
	)
	g.log.Info("Bulk generation finished",
		logger.Kind(string(kind)),
		logger.Int("total", result.Total),
		logger.Int("generated", len(result.Generated)),
		logger.Int("skipped", len(result.Skipped)),
		logger.Int("failed", len(result.Failed)),
		logger.Int("duplicates", len(result.Duplicates)))
	return result, nil
}

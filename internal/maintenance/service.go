// Package maintenance runs periodic upkeep of the query history.
package maintenance

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/duckpad/duckpad/internal/history"
)

type Config struct {
	// RetentionInterval is how often old history entries are pruned.
	RetentionInterval time.Duration
	// MaxAge is how long an entry is kept. Zero disables pruning.
	MaxAge time.Duration
}

type Service struct {
	History history.Pruner
	Config  Config
	Logger  *slog.Logger
	Clock   func() time.Time
}

type RetentionSummary struct {
	Cutoff         time.Time `json:"cutoff"`
	EntriesDeleted int64     `json:"entries_deleted"`
}

// Run prunes history every RetentionInterval until ctx is done.
func (s *Service) Run(ctx context.Context) error {
	s.ensureDefaults()
	if s.Config.MaxAge <= 0 {
		return nil
	}

	retentionTicker := time.NewTicker(s.Config.RetentionInterval)
	defer retentionTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-retentionTicker.C:
			summary, err := s.RunRetentionOnce(ctx)
			if err != nil {
				if s.Logger != nil {
					s.Logger.ErrorContext(ctx, "history retention cycle failed", slog.Any("error", err))
				}
				continue
			}
			if s.Logger != nil {
				s.Logger.InfoContext(ctx, "history retention cycle completed", slog.Any("summary", summary))
			}
		}
	}
}

func (s *Service) RunRetentionOnce(ctx context.Context) (RetentionSummary, error) {
	s.ensureDefaults()
	if s.History == nil {
		return RetentionSummary{}, fmt.Errorf("history store is required")
	}
	if s.Config.MaxAge <= 0 {
		return RetentionSummary{}, fmt.Errorf("history max age must be > 0")
	}

	summary := RetentionSummary{Cutoff: s.Clock().Add(-s.Config.MaxAge).UTC()}
	deleted, err := s.History.DeleteBefore(ctx, summary.Cutoff)
	if err != nil {
		retentionRunsTotal.WithLabelValues("failed").Inc()
		return summary, err
	}
	summary.EntriesDeleted = deleted
	if deleted > 0 {
		historyEntriesPrunedTotal.Add(float64(deleted))
	}
	retentionRunsTotal.WithLabelValues("completed").Inc()
	return summary, nil
}

func (s *Service) ensureDefaults() {
	if s.Clock == nil {
		s.Clock = time.Now
	}
	if s.Config.RetentionInterval <= 0 {
		s.Config.RetentionInterval = time.Hour
	}
}

// Package history looks up earlier cases for the same account.
package history

import (
	"context"
	"log/slog"
	"strings"
	"time"
)

// DefaultWindow is the look-back window used when none is configured.
const DefaultWindow = 90 * 24 * time.Hour

// CaseCounter is the subset of the repository the service needs.
type CaseCounter interface {
	CountCasesByAccount(ctx context.Context, accountNumber string, since time.Time) (int, error)
}

// Service counts prior cases per account.
type Service struct {
	repo   CaseCounter
	window time.Duration
	logger *slog.Logger
	now    func() time.Time
}

// NewService creates a history service. A non-positive window uses DefaultWindow.
func NewService(repo CaseCounter, window time.Duration, logger *slog.Logger) *Service {
	if window <= 0 {
		window = DefaultWindow
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		repo:   repo,
		window: window,
		logger: logger,
		now:    time.Now,
	}
}

// Window returns the look-back window.
func (s *Service) Window() time.Duration {
	return s.window
}

// PriorCases returns the number of cases for the account inside the window.
// Lookup failures degrade to zero so generation is never blocked.
func (s *Service) PriorCases(ctx context.Context, accountNumber string) int {
	account := strings.TrimSpace(accountNumber)
	// Placeholder accounts are shared by unrelated customers.
	if account == "" || strings.EqualFold(account, "N/A") || s.repo == nil {
		return 0
	}

	since := s.now().Add(-s.window)
	count, err := s.repo.CountCasesByAccount(ctx, account, since)
	if err != nil {
		s.logger.Warn("prior case lookup failed",
			"account_number", account,
			"error", err,
		)
		return 0
	}
	return count
}

package database

import (
	"context"

	"wyckoff-trading-platform/internal/backtest"
	"wyckoff-trading-platform/internal/supervisor"
)

// taskSession is one background task's persistence session. pgxpool hands
// out connections per query, so the session is a thin view over the pool;
// what matters is that it is owned by the task, not borrowed from the
// request that enqueued it.
type taskSession struct {
	repo *Repository
}

func (s *taskSession) SaveBacktestResult(ctx context.Context, runID string, res *backtest.Result) error {
	return s.repo.SaveBacktestResult(ctx, runID, res)
}

func (s *taskSession) SaveWalkForwardResult(ctx context.Context, runID string, res *backtest.WalkForwardResult) error {
	return s.repo.SaveWalkForwardResult(ctx, runID, res)
}

func (s *taskSession) SaveRegressionResult(ctx context.Context, runID string, res *backtest.RegressionResult) error {
	return s.repo.SaveRegressionResult(ctx, runID, res)
}

func (s *taskSession) Close() {}

// SessionFactory opens task-scoped sessions for the supervisor
type SessionFactory struct {
	db *DB
}

// NewSessionFactory creates the factory
func NewSessionFactory(db *DB) *SessionFactory {
	return &SessionFactory{db: db}
}

// NewSession returns a fresh session for one background task
func (f *SessionFactory) NewSession(_ context.Context) (supervisor.ResultStore, error) {
	return &taskSession{repo: NewRepository(f.db)}, nil
}

// Package exams runs examination sessions: it draws the question set,
// records answers, scores on completion and bounds each user's history.
package exams

import (
	"context"
	"errors"
	"log/slog"
	"math/rand/v2"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"examportal/internal/apperr"
	"examportal/internal/db"
	"examportal/internal/ledger"
	"examportal/internal/metrics"
	"examportal/internal/model"
	"examportal/internal/selector"
)

type Config struct {
	QuestionCount   int
	RetentionWindow int
	HistoryLimit    int
	// Grace extends the deadline for answers still in flight when time runs out.
	Grace time.Duration
}

func (c Config) withDefaults() Config {
	if c.QuestionCount <= 0 {
		c.QuestionCount = 60
	}
	if c.RetentionWindow <= 0 {
		c.RetentionWindow = 25
	}
	if c.HistoryLimit <= 0 {
		c.HistoryLimit = 25
	}
	if c.Grace < 0 {
		c.Grace = 0
	}
	return c
}

type Service struct {
	store   db.Store
	cfg     Config
	metrics *metrics.Metrics
	logger  *slog.Logger
	now     func() time.Time
	newRand func() *rand.Rand
}

func NewService(store db.Store, cfg Config, m *metrics.Metrics, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		store:   store,
		cfg:     cfg.withDefaults(),
		metrics: m,
		logger:  logger,
		now:     func() time.Time { return time.Now().UTC() },
		newRand: func() *rand.Rand { return nil },
	}
}

func (s *Service) SetClock(now func() time.Time) {
	s.now = now
}

// SetRand fixes the random source used for question selection.
func (s *Service) SetRand(newRand func() *rand.Rand) {
	s.newRand = newRand
}

// Create starts an examination for the category. An unfinished session for
// the same category is returned instead of starting a second one; if its
// time has run out it is scored first and a fresh session is started.
func (s *Service) Create(ctx context.Context, userID, categoryID uuid.UUID) (started Started, err error) {
	defer func() { s.metrics.RecordOperation("create_session", err) }()
	now := s.now()
	var pruned int64
	var finalized *Result

	err = s.store.WithTx(ctx, func(q db.Querier) error {
		category, err := q.GetCategory(ctx, categoryID)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return apperr.NotFound(apperr.CodeCategoryNotFound, "category %s not found", categoryID)
			}
			return apperr.Persistence("get category", err)
		}
		ok, err := ledger.HasAccess(ctx, q, userID, categoryID, now)
		if err != nil {
			return err
		}
		if !ok {
			return apperr.Forbidden(apperr.CodeNoAccess, "no active access to category %s", categoryID)
		}

		active, err := q.FindActiveSession(ctx, userID, categoryID)
		switch {
		case err == nil && !s.expired(active, now):
			questions, err := q.GetQuestions(ctx, active.QuestionIDs)
			if err != nil {
				return apperr.Persistence("get questions", err)
			}
			started = Started{Session: active, Questions: questionViews(active, questions), Resumed: true}
			return nil
		case err == nil:
			locked, err := q.GetSession(ctx, active.ID, true)
			if err != nil {
				return apperr.Persistence("lock session", err)
			}
			result, removed, err := s.finalize(ctx, q, locked, now)
			if err != nil {
				return err
			}
			finalized, pruned = &result, removed
		case !errors.Is(err, pgx.ErrNoRows):
			return apperr.Persistence("find active session", err)
		}

		pool, err := q.ListPoolQuestionIDs(ctx, categoryID)
		if err != nil {
			return apperr.Persistence("list question pool", err)
		}
		picked, err := selector.Select(pool, s.cfg.QuestionCount, s.newRand())
		if err != nil {
			var poolErr *selector.InsufficientPoolError
			if errors.As(err, &poolErr) {
				return apperr.InsufficientPool(poolErr.Have, poolErr.Want)
			}
			return err
		}

		session := model.ExamSession{
			ID:          uuid.New(),
			UserID:      userID,
			CategoryID:  categoryID,
			QuestionIDs: picked,
			Answers:     map[uuid.UUID]model.Option{},
			StartedAt:   now,
		}
		if category.ExamDurationMinutes > 0 {
			deadline := now.Add(time.Duration(category.ExamDurationMinutes) * time.Minute)
			session.Deadline = &deadline
		}
		if err := q.InsertSession(ctx, session); err != nil {
			return apperr.Persistence("insert session", err)
		}
		questions, err := q.GetQuestions(ctx, picked)
		if err != nil {
			return apperr.Persistence("get questions", err)
		}
		started = Started{Session: session, Questions: questionViews(session, questions)}
		return nil
	})
	if err != nil {
		return Started{}, err
	}
	if finalized != nil {
		s.recordCompletion(*finalized, pruned)
	}
	return started, nil
}

// SubmitAnswer records the selected option. A later answer for the same
// question replaces the earlier one.
func (s *Service) SubmitAnswer(ctx context.Context, userID, sessionID, questionID uuid.UUID, rawOption string) (err error) {
	defer func() { s.metrics.RecordOperation("submit_answer", err) }()

	option, ok := model.ParseOption(rawOption)
	if !ok {
		return apperr.Validation(apperr.CodeInvalidOption, "option must be one of A, B, C, D")
	}
	now := s.now()

	return s.store.WithTx(ctx, func(q db.Querier) error {
		session, err := s.ownedSession(ctx, q, userID, sessionID)
		if err != nil {
			return err
		}
		if session.Completed {
			return apperr.Conflict(apperr.CodeSessionCompleted, "session already completed")
		}
		if s.expired(session, now) {
			return apperr.Conflict(apperr.CodeSessionExpired, "session time is over")
		}
		if !containsID(session.QuestionIDs, questionID) {
			return apperr.NotFound(apperr.CodeQuestionNotInSession, "question %s is not part of this session", questionID)
		}
		if err := q.UpsertAnswer(ctx, sessionID, questionID, option, now); err != nil {
			return apperr.Persistence("save answer", err)
		}
		return nil
	})
}

// Complete scores the session exactly once. Completing after the deadline is
// allowed so the answers given in time still count.
func (s *Service) Complete(ctx context.Context, userID, sessionID uuid.UUID) (result Result, err error) {
	defer func() { s.metrics.RecordOperation("complete_session", err) }()
	now := s.now()
	var pruned int64

	err = s.store.WithTx(ctx, func(q db.Querier) error {
		session, err := s.ownedSession(ctx, q, userID, sessionID)
		if err != nil {
			return err
		}
		if session.Completed {
			return apperr.Conflict(apperr.CodeSessionCompleted, "session already completed")
		}
		result, pruned, err = s.finalize(ctx, q, session, now)
		return err
	})
	if err != nil {
		return Result{}, err
	}
	s.recordCompletion(result, pruned)
	return result, nil
}

// Active returns the user's unfinished session for the category.
func (s *Service) Active(ctx context.Context, userID, categoryID uuid.UUID) (Started, error) {
	session, err := s.store.FindActiveSession(ctx, userID, categoryID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Started{}, apperr.NotFound(apperr.CodeSessionNotFound, "no active session")
		}
		return Started{}, apperr.Persistence("find active session", err)
	}
	questions, err := s.store.GetQuestions(ctx, session.QuestionIDs)
	if err != nil {
		return Started{}, apperr.Persistence("get questions", err)
	}
	return Started{Session: session, Questions: questionViews(session, questions), Resumed: true}, nil
}

func (s *Service) Get(ctx context.Context, userID, sessionID uuid.UUID) (SessionView, error) {
	session, err := s.ownedSession(ctx, s.store, userID, sessionID)
	if err != nil {
		return SessionView{}, err
	}
	questions, err := s.store.GetQuestions(ctx, session.QuestionIDs)
	if err != nil {
		return SessionView{}, apperr.Persistence("get questions", err)
	}
	view := SessionView{Session: session, Questions: questionViews(session, questions)}
	if session.Completed {
		answers, err := s.store.ListSessionAnswers(ctx, sessionID)
		if err != nil {
			return SessionView{}, apperr.Persistence("list answers", err)
		}
		correct := make(map[uuid.UUID]bool, len(answers))
		for _, a := range answers {
			correct[a.QuestionID] = a.IsCorrect != nil && *a.IsCorrect
		}
		result := buildResult(session, questions, correct)
		view.Result = &result
	}
	return view, nil
}

// ListCompleted returns completed sessions newest first, optionally for one category.
func (s *Service) ListCompleted(ctx context.Context, userID uuid.UUID, categoryID *uuid.UUID, limit int) ([]model.ExamSession, error) {
	if limit <= 0 || limit > s.cfg.HistoryLimit {
		limit = s.cfg.HistoryLimit
	}
	sessions, err := s.store.ListCompletedSessions(ctx, userID, categoryID, limit)
	if err != nil {
		return nil, apperr.Persistence("list completed sessions", err)
	}
	return sessions, nil
}

// SweepOverdue completes sessions whose deadline plus grace has passed.
// Each session is finalized in its own transaction.
func (s *Service) SweepOverdue(ctx context.Context, batch int) (int, error) {
	now := s.now()
	ids, err := s.store.ListOverdueSessions(ctx, now.Add(-s.cfg.Grace), batch)
	if err != nil {
		return 0, apperr.Persistence("list overdue sessions", err)
	}
	completed := 0
	for _, id := range ids {
		var result *Result
		var pruned int64
		err := s.store.WithTx(ctx, func(q db.Querier) error {
			session, err := q.GetSession(ctx, id, true)
			if err != nil {
				if errors.Is(err, pgx.ErrNoRows) {
					return nil
				}
				return apperr.Persistence("lock session", err)
			}
			if session.Completed {
				return nil
			}
			r, removed, err := s.finalize(ctx, q, session, now)
			if err != nil {
				return err
			}
			result, pruned = &r, removed
			return nil
		})
		if err != nil {
			s.logger.Warn("sweep session failed", slog.String("session_id", id.String()), slog.Any("error", err))
			continue
		}
		if result != nil {
			s.recordCompletion(*result, pruned)
			completed++
		}
	}
	return completed, nil
}

func (s *Service) ownedSession(ctx context.Context, q db.Querier, userID, sessionID uuid.UUID) (model.ExamSession, error) {
	session, err := q.GetSession(ctx, sessionID, true)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.ExamSession{}, apperr.NotFound(apperr.CodeSessionNotFound, "session %s not found", sessionID)
		}
		return model.ExamSession{}, apperr.Persistence("get session", err)
	}
	if session.UserID != userID {
		return model.ExamSession{}, apperr.Forbidden(apperr.CodeNotSessionOwner, "session belongs to another user")
	}
	return session, nil
}

func (s *Service) expired(session model.ExamSession, now time.Time) bool {
	return session.Deadline != nil && now.After(session.Deadline.Add(s.cfg.Grace))
}

func (s *Service) recordCompletion(result Result, pruned int64) {
	s.metrics.RecordCompletion(result.Grade)
	s.metrics.RecordPruned(pruned)
	s.logger.Info("session completed",
		slog.String("session_id", result.SessionID.String()),
		slog.Int("score", result.Score),
		slog.Int("total", result.Total),
		slog.String("grade", string(result.Grade)),
	)
}

func containsID(ids []uuid.UUID, id uuid.UUID) bool {
	for _, candidate := range ids {
		if candidate == id {
			return true
		}
	}
	return false
}

package exams

import (
	"context"
	"math"
	"time"

	"github.com/google/uuid"

	"examportal/internal/apperr"
	"examportal/internal/db"
	"examportal/internal/model"
)

// score grades the fixed question set. Unanswered questions count as wrong.
func score(session model.ExamSession, questions []model.Question) (int, float64, map[uuid.UUID]bool) {
	correctOption := make(map[uuid.UUID]model.Option, len(questions))
	for _, q := range questions {
		correctOption[q.ID] = q.Correct
	}
	correct := make(map[uuid.UUID]bool, len(session.QuestionIDs))
	points := 0
	for _, id := range session.QuestionIDs {
		selected, answered := session.Answers[id]
		ok := answered && selected == correctOption[id]
		correct[id] = ok
		if ok {
			points++
		}
	}
	total := len(session.QuestionIDs)
	if total == 0 {
		return 0, 0, correct
	}
	return points, 100 * float64(points) / float64(total), correct
}

func roundPercentage(p float64) float64 {
	return math.Round(p*100) / 100
}

// finalize scores and closes a locked, incomplete session, then prunes the
// user's history for the category. It runs inside the caller's transaction.
func (s *Service) finalize(ctx context.Context, q db.Querier, session model.ExamSession, now time.Time) (Result, int64, error) {
	questions, err := q.GetQuestions(ctx, session.QuestionIDs)
	if err != nil {
		return Result{}, 0, apperr.Persistence("get questions", err)
	}
	points, percentage, correct := score(session, questions)

	endedAt := now
	session.EndedAt = &endedAt
	session.Completed = true
	session.Score = points
	session.Grade = model.GradeFor(percentage)
	session.Percentage = roundPercentage(percentage)
	if err := q.CompleteSession(ctx, session, correct); err != nil {
		return Result{}, 0, apperr.Persistence("complete session", err)
	}

	pruned, err := s.prune(ctx, q, session.UserID, session.CategoryID)
	if err != nil {
		return Result{}, 0, err
	}
	return buildResult(session, questions, correct), pruned, nil
}

func buildResult(session model.ExamSession, questions []model.Question, correct map[uuid.UUID]bool) Result {
	correctOption := make(map[uuid.UUID]model.Option, len(questions))
	for _, q := range questions {
		correctOption[q.ID] = q.Correct
	}
	result := Result{
		SessionID:  session.ID,
		CategoryID: session.CategoryID,
		Score:      session.Score,
		Total:      len(session.QuestionIDs),
		Percentage: session.Percentage,
		Grade:      session.Grade,
		StartedAt:  session.StartedAt,
		Questions:  make([]QuestionResult, 0, len(session.QuestionIDs)),
	}
	if session.EndedAt != nil {
		result.EndedAt = *session.EndedAt
		result.Duration = int64(session.EndedAt.Sub(session.StartedAt).Seconds())
	}
	for _, id := range session.QuestionIDs {
		qr := QuestionResult{QuestionID: id, Correct: correctOption[id], IsCorrect: correct[id]}
		if opt, answered := session.Answers[id]; answered {
			selected := opt
			qr.Selected = &selected
		}
		result.Questions = append(result.Questions, qr)
	}
	return result
}

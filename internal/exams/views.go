package exams

import (
	"time"

	"github.com/google/uuid"

	"examportal/internal/model"
)

// QuestionView is a question as shown during an examination. The correct
// option is never part of it.
type QuestionView struct {
	ID       uuid.UUID     `json:"id"`
	Position int           `json:"position"`
	Text     string        `json:"text"`
	Options  [4]string     `json:"options"`
	ImageURL *string       `json:"imageUrl,omitempty"`
	Selected *model.Option `json:"selected,omitempty"`
}

type Started struct {
	Session   model.ExamSession `json:"session"`
	Questions []QuestionView    `json:"questions"`
	Resumed   bool              `json:"resumed"`
}

type QuestionResult struct {
	QuestionID uuid.UUID     `json:"questionId"`
	Selected   *model.Option `json:"selected,omitempty"`
	Correct    model.Option  `json:"correct"`
	IsCorrect  bool          `json:"isCorrect"`
}

type Result struct {
	SessionID  uuid.UUID        `json:"sessionId"`
	CategoryID uuid.UUID        `json:"categoryId"`
	Score      int              `json:"score"`
	Total      int              `json:"total"`
	Percentage float64          `json:"percentage"`
	Grade      model.Grade      `json:"grade"`
	StartedAt  time.Time        `json:"startedAt"`
	EndedAt    time.Time        `json:"endedAt"`
	Duration   int64            `json:"durationSeconds"`
	Questions  []QuestionResult `json:"questions"`
}

// SessionView is the owner's view of one session. Results are present once it is completed.
type SessionView struct {
	Session   model.ExamSession `json:"session"`
	Questions []QuestionView    `json:"questions"`
	Result    *Result           `json:"result,omitempty"`
}

func questionViews(session model.ExamSession, questions []model.Question) []QuestionView {
	byID := make(map[uuid.UUID]model.Question, len(questions))
	for _, q := range questions {
		byID[q.ID] = q
	}
	views := make([]QuestionView, 0, len(session.QuestionIDs))
	for i, id := range session.QuestionIDs {
		q, ok := byID[id]
		if !ok {
			continue
		}
		view := QuestionView{ID: q.ID, Position: i, Text: q.Text, Options: q.Options, ImageURL: q.ImageURL}
		if opt, answered := session.Answers[id]; answered {
			selected := opt
			view.Selected = &selected
		}
		views = append(views, view)
	}
	return views
}

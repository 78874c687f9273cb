package db

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/shopspring/decimal"

	"examportal/internal/model"
)

type DBTX interface {
	Exec(context.Context, string, ...interface{}) (pgconn.CommandTag, error)
	Query(context.Context, string, ...interface{}) (pgx.Rows, error)
	QueryRow(context.Context, string, ...interface{}) pgx.Row
	SendBatch(context.Context, *pgx.Batch) pgx.BatchResults
}

type Queries struct {
	db DBTX
}

func New(db DBTX) *Queries {
	return &Queries{db: db}
}

func (q *Queries) WithTx(tx pgx.Tx) *Queries {
	return &Queries{db: tx}
}

// Users

func (q *Queries) CreateUser(ctx context.Context, user model.User) error {
	_, err := q.db.Exec(ctx, `
		INSERT INTO users (id, email, first_name, last_name, role, suspended, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, user.ID, user.Email, user.FirstName, user.LastName, string(user.Role), user.Suspended, user.CreatedAt)
	return err
}

func (q *Queries) GetUser(ctx context.Context, id uuid.UUID) (model.User, error) {
	var user model.User
	var role string
	err := q.db.QueryRow(ctx, `
		SELECT id, email, first_name, last_name, role, suspended, created_at
		FROM users
		WHERE id = $1
	`, id).Scan(&user.ID, &user.Email, &user.FirstName, &user.LastName, &role, &user.Suspended, &user.CreatedAt)
	user.Role = model.Role(role)
	return user, err
}

func (q *Queries) SetUserSuspended(ctx context.Context, id uuid.UUID, suspended bool) (int64, error) {
	tag, err := q.db.Exec(ctx, `UPDATE users SET suspended = $2 WHERE id = $1`, id, suspended)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// Catalog

func (q *Queries) CreateCategory(ctx context.Context, c model.Category) error {
	_, err := q.db.Exec(ctx, `
		INSERT INTO categories (id, name_en, name_bg, price, duration_days, exam_duration_minutes, question_count, active)
		VALUES ($1, $2, $3, $4::numeric, $5, $6, $7, $8)
	`, c.ID, c.NameEN, c.NameBG, c.Price.String(), c.DurationDays, c.ExamDurationMinutes, c.QuestionCount, c.Active)
	return err
}

func (q *Queries) GetCategory(ctx context.Context, id uuid.UUID) (model.Category, error) {
	var c model.Category
	var price string
	err := q.db.QueryRow(ctx, `
		SELECT id, name_en, name_bg, price::text, duration_days, exam_duration_minutes, question_count, active
		FROM categories
		WHERE id = $1
	`, id).Scan(&c.ID, &c.NameEN, &c.NameBG, &price, &c.DurationDays, &c.ExamDurationMinutes, &c.QuestionCount, &c.Active)
	if err != nil {
		return c, err
	}
	c.Price, err = decimal.NewFromString(price)
	return c, err
}

func (q *Queries) CreatePackage(ctx context.Context, p model.Package) error {
	_, err := q.db.Exec(ctx, `
		INSERT INTO packages (id, name_en, name_bg, price, duration_days, active)
		VALUES ($1, $2, $3, $4::numeric, $5, $6)
	`, p.ID, p.NameEN, p.NameBG, p.Price.String(), p.DurationDays, p.Active)
	if err != nil {
		return err
	}
	for _, categoryID := range p.CategoryIDs {
		if _, err := q.db.Exec(ctx, `
			INSERT INTO package_categories (package_id, category_id) VALUES ($1, $2)
			ON CONFLICT DO NOTHING
		`, p.ID, categoryID); err != nil {
			return err
		}
	}
	return nil
}

func (q *Queries) GetPackage(ctx context.Context, id uuid.UUID) (model.Package, error) {
	var p model.Package
	var price string
	err := q.db.QueryRow(ctx, `
		SELECT id, name_en, name_bg, price::text, duration_days, active
		FROM packages
		WHERE id = $1
	`, id).Scan(&p.ID, &p.NameEN, &p.NameBG, &price, &p.DurationDays, &p.Active)
	if err != nil {
		return p, err
	}
	if p.Price, err = decimal.NewFromString(price); err != nil {
		return p, err
	}
	rows, err := q.db.Query(ctx, `
		SELECT category_id FROM package_categories WHERE package_id = $1 ORDER BY category_id
	`, id)
	if err != nil {
		return p, err
	}
	p.CategoryIDs, err = collectUUIDs(rows)
	return p, err
}

// Questions

func (q *Queries) CreateQuestion(ctx context.Context, qs model.Question) error {
	_, err := q.db.Exec(ctx, `
		INSERT INTO questions (id, category_id, original_index, text, option_a, option_b, option_c, option_d, correct_option, image_url)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`, qs.ID, qs.CategoryID, qs.OriginalIndex, qs.Text, qs.Options[0], qs.Options[1], qs.Options[2], qs.Options[3], string(qs.Correct), qs.ImageURL)
	return err
}

func (q *Queries) ListPoolQuestionIDs(ctx context.Context, categoryID uuid.UUID) ([]uuid.UUID, error) {
	rows, err := q.db.Query(ctx, `
		SELECT id FROM questions
		WHERE category_id = $1
		ORDER BY original_index, id
	`, categoryID)
	if err != nil {
		return nil, err
	}
	return collectUUIDs(rows)
}

func (q *Queries) GetQuestions(ctx context.Context, ids []uuid.UUID) ([]model.Question, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	rows, err := q.db.Query(ctx, `
		SELECT id, category_id, original_index, text, option_a, option_b, option_c, option_d, correct_option, image_url
		FROM questions
		WHERE id = ANY($1::uuid[])
	`, uuidStrings(ids))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	byID := make(map[uuid.UUID]model.Question, len(ids))
	for rows.Next() {
		var qs model.Question
		var correct string
		if err := rows.Scan(&qs.ID, &qs.CategoryID, &qs.OriginalIndex, &qs.Text,
			&qs.Options[0], &qs.Options[1], &qs.Options[2], &qs.Options[3], &correct, &qs.ImageURL); err != nil {
			return nil, err
		}
		qs.Correct = model.Option(correct)
		byID[qs.ID] = qs
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	out := make([]model.Question, 0, len(ids))
	for _, id := range ids {
		if qs, ok := byID[id]; ok {
			out = append(out, qs)
		}
	}
	return out, nil
}

func (q *Queries) RecountCategoryQuestions(ctx context.Context, categoryID uuid.UUID) (int, error) {
	var count int
	err := q.db.QueryRow(ctx, `
		UPDATE categories
		SET question_count = (SELECT count(*) FROM questions WHERE category_id = $1)
		WHERE id = $1
		RETURNING question_count
	`, categoryID).Scan(&count)
	return count, err
}

// Entitlements

func (q *Queries) GetEntitlement(ctx context.Context, userID, categoryID uuid.UUID) (model.Entitlement, error) {
	var ent model.Entitlement
	err := q.db.QueryRow(ctx, `
		SELECT user_id, category_id, expires_at, granted_at, granted_by
		FROM user_categories
		WHERE user_id = $1 AND category_id = $2
	`, userID, categoryID).Scan(&ent.UserID, &ent.CategoryID, &ent.ExpiresAt, &ent.GrantedAt, &ent.GrantedBy)
	return ent, err
}

func (q *Queries) UpsertEntitlement(ctx context.Context, ent model.Entitlement) error {
	_, err := q.db.Exec(ctx, `
		INSERT INTO user_categories (user_id, category_id, expires_at, granted_at, granted_by)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (user_id, category_id)
		DO UPDATE SET expires_at = EXCLUDED.expires_at, granted_at = EXCLUDED.granted_at, granted_by = EXCLUDED.granted_by
	`, ent.UserID, ent.CategoryID, ent.ExpiresAt, ent.GrantedAt, ent.GrantedBy)
	return err
}

func (q *Queries) ListEntitlements(ctx context.Context, userID uuid.UUID) ([]model.Entitlement, error) {
	rows, err := q.db.Query(ctx, `
		SELECT user_id, category_id, expires_at, granted_at, granted_by
		FROM user_categories
		WHERE user_id = $1
		ORDER BY granted_at, category_id
	`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Entitlement
	for rows.Next() {
		var ent model.Entitlement
		if err := rows.Scan(&ent.UserID, &ent.CategoryID, &ent.ExpiresAt, &ent.GrantedAt, &ent.GrantedBy); err != nil {
			return nil, err
		}
		out = append(out, ent)
	}
	return out, rows.Err()
}

// Access requests

const accessRequestColumns = `id, user_id, category_id, package_id, status, requested_at, processed_at, processed_by, notes`

func scanAccessRequest(row pgx.Row) (model.AccessRequest, error) {
	var req model.AccessRequest
	var status string
	err := row.Scan(&req.ID, &req.UserID, &req.CategoryID, &req.PackageID, &status,
		&req.RequestedAt, &req.ProcessedAt, &req.ProcessedBy, &req.Notes)
	req.Status = model.RequestStatus(status)
	return req, err
}

// InsertAccessRequest reports false when an equivalent PENDING request already exists.
func (q *Queries) InsertAccessRequest(ctx context.Context, req model.AccessRequest) (bool, error) {
	tag, err := q.db.Exec(ctx, `
		INSERT INTO access_requests (id, user_id, category_id, package_id, status, requested_at, notes)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT DO NOTHING
	`, req.ID, req.UserID, req.CategoryID, req.PackageID, string(req.Status), req.RequestedAt, req.Notes)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (q *Queries) GetAccessRequest(ctx context.Context, id uuid.UUID) (model.AccessRequest, error) {
	return scanAccessRequest(q.db.QueryRow(ctx, `
		SELECT `+accessRequestColumns+`
		FROM access_requests
		WHERE id = $1
		FOR UPDATE
	`, id))
}

func (q *Queries) HasPendingCategoryRequest(ctx context.Context, userID, categoryID uuid.UUID) (bool, error) {
	var exists bool
	err := q.db.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM access_requests
			WHERE user_id = $1 AND category_id = $2 AND status = 'PENDING'
		)
	`, userID, categoryID).Scan(&exists)
	return exists, err
}

func (q *Queries) HasPendingPackageRequest(ctx context.Context, userID, packageID uuid.UUID) (bool, error) {
	var exists bool
	err := q.db.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM access_requests
			WHERE user_id = $1 AND package_id = $2 AND status = 'PENDING'
		)
	`, userID, packageID).Scan(&exists)
	return exists, err
}

func (q *Queries) ProcessAccessRequest(ctx context.Context, params ProcessRequestParams) (int64, error) {
	tag, err := q.db.Exec(ctx, `
		UPDATE access_requests
		SET status = $2, processed_at = $3, processed_by = $4, notes = $5
		WHERE id = $1 AND status = 'PENDING'
	`, params.ID, string(params.Status), params.ProcessedAt, params.ProcessedBy, params.Notes)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func (q *Queries) ApprovePendingCategoryRequests(ctx context.Context, userID uuid.UUID, categoryIDs []uuid.UUID, by uuid.UUID, at time.Time) (int64, error) {
	if len(categoryIDs) == 0 {
		return 0, nil
	}
	tag, err := q.db.Exec(ctx, `
		UPDATE access_requests
		SET status = 'APPROVED', processed_at = $3, processed_by = $4
		WHERE user_id = $1 AND category_id = ANY($2::uuid[]) AND status = 'PENDING'
	`, userID, uuidStrings(categoryIDs), at, by)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// ListPendingRequests lists pending requests oldest first, optionally for one user.
func (q *Queries) ListPendingRequests(ctx context.Context, userID *uuid.UUID) ([]model.AccessRequest, error) {
	rows, err := q.db.Query(ctx, `
		SELECT `+accessRequestColumns+`
		FROM access_requests
		WHERE status = 'PENDING' AND ($1::uuid IS NULL OR user_id = $1)
		ORDER BY requested_at, id
	`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.AccessRequest
	for rows.Next() {
		req, err := scanAccessRequest(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, req)
	}
	return out, rows.Err()
}

// Sessions

func (q *Queries) InsertSession(ctx context.Context, s model.ExamSession) error {
	_, err := q.db.Exec(ctx, `
		INSERT INTO exam_sessions (id, user_id, category_id, started_at, deadline)
		VALUES ($1, $2, $3, $4, $5)
	`, s.ID, s.UserID, s.CategoryID, s.StartedAt, s.Deadline)
	if err != nil {
		return err
	}
	batch := &pgx.Batch{}
	for i, questionID := range s.QuestionIDs {
		batch.Queue(`
			INSERT INTO session_answers (session_id, question_id, position)
			VALUES ($1, $2, $3)
		`, s.ID, questionID, i)
	}
	return q.sendBatch(ctx, batch)
}

func (q *Queries) sendBatch(ctx context.Context, batch *pgx.Batch) error {
	if batch.Len() == 0 {
		return nil
	}
	return q.db.SendBatch(ctx, batch).Close()
}

const sessionColumns = `id, user_id, category_id, started_at, deadline, ended_at, completed, score, percentage, grade`

func scanSession(row pgx.Row) (model.ExamSession, error) {
	var s model.ExamSession
	var grade *string
	err := row.Scan(&s.ID, &s.UserID, &s.CategoryID, &s.StartedAt, &s.Deadline, &s.EndedAt,
		&s.Completed, &s.Score, &s.Percentage, &grade)
	if grade != nil {
		s.Grade = model.Grade(*grade)
	}
	return s, err
}

func (q *Queries) GetSession(ctx context.Context, id uuid.UUID, forUpdate bool) (model.ExamSession, error) {
	query := `SELECT ` + sessionColumns + ` FROM exam_sessions WHERE id = $1`
	if forUpdate {
		query += ` FOR UPDATE`
	}
	s, err := scanSession(q.db.QueryRow(ctx, query, id))
	if err != nil {
		return s, err
	}
	return s, q.loadSessionAnswers(ctx, &s)
}

func (q *Queries) FindActiveSession(ctx context.Context, userID, categoryID uuid.UUID) (model.ExamSession, error) {
	s, err := scanSession(q.db.QueryRow(ctx, `
		SELECT `+sessionColumns+`
		FROM exam_sessions
		WHERE user_id = $1 AND category_id = $2 AND completed = FALSE
		ORDER BY started_at DESC
		LIMIT 1
	`, userID, categoryID))
	if err != nil {
		return s, err
	}
	return s, q.loadSessionAnswers(ctx, &s)
}

func (q *Queries) loadSessionAnswers(ctx context.Context, s *model.ExamSession) error {
	answers, err := q.ListSessionAnswers(ctx, s.ID)
	if err != nil {
		return err
	}
	s.QuestionIDs = make([]uuid.UUID, 0, len(answers))
	s.Answers = make(map[uuid.UUID]model.Option)
	for _, a := range answers {
		s.QuestionIDs = append(s.QuestionIDs, a.QuestionID)
		if a.Selected != nil {
			s.Answers[a.QuestionID] = *a.Selected
		}
	}
	return nil
}

func (q *Queries) ListSessionAnswers(ctx context.Context, sessionID uuid.UUID) ([]model.SessionAnswer, error) {
	rows, err := q.db.Query(ctx, `
		SELECT session_id, question_id, position, selected_option, answered_at, is_correct
		FROM session_answers
		WHERE session_id = $1
		ORDER BY position
	`, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.SessionAnswer
	for rows.Next() {
		var a model.SessionAnswer
		var selected *string
		if err := rows.Scan(&a.SessionID, &a.QuestionID, &a.Position, &selected, &a.AnsweredAt, &a.IsCorrect); err != nil {
			return nil, err
		}
		if selected != nil {
			opt := model.Option(*selected)
			a.Selected = &opt
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (q *Queries) UpsertAnswer(ctx context.Context, sessionID, questionID uuid.UUID, option model.Option, at time.Time) error {
	tag, err := q.db.Exec(ctx, `
		UPDATE session_answers
		SET selected_option = $3, answered_at = $4
		WHERE session_id = $1 AND question_id = $2
	`, sessionID, questionID, string(option), at)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

func (q *Queries) CompleteSession(ctx context.Context, s model.ExamSession, correct map[uuid.UUID]bool) error {
	_, err := q.db.Exec(ctx, `
		UPDATE exam_sessions
		SET ended_at = $2, completed = TRUE, score = $3, percentage = $4, grade = $5
		WHERE id = $1
	`, s.ID, s.EndedAt, s.Score, s.Percentage, string(s.Grade))
	if err != nil {
		return err
	}
	batch := &pgx.Batch{}
	for questionID, ok := range correct {
		batch.Queue(`
			UPDATE session_answers SET is_correct = $3
			WHERE session_id = $1 AND question_id = $2
		`, s.ID, questionID, ok)
	}
	return q.sendBatch(ctx, batch)
}

func (q *Queries) ListCompletedSessions(ctx context.Context, userID uuid.UUID, categoryID *uuid.UUID, limit int) ([]model.ExamSession, error) {
	rows, err := q.db.Query(ctx, `
		SELECT `+sessionColumns+`
		FROM exam_sessions
		WHERE user_id = $1 AND completed = TRUE AND ($2::uuid IS NULL OR category_id = $2)
		ORDER BY ended_at DESC, id DESC
		LIMIT $3
	`, userID, categoryID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.ExamSession
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// DeleteCompletedBeyond keeps the newest keep completed sessions of the pair.
func (q *Queries) DeleteCompletedBeyond(ctx context.Context, userID, categoryID uuid.UUID, keep int) (int64, error) {
	tag, err := q.db.Exec(ctx, `
		DELETE FROM exam_sessions
		WHERE id IN (
			SELECT id FROM exam_sessions
			WHERE user_id = $1 AND category_id = $2 AND completed = TRUE
			ORDER BY ended_at DESC, id DESC
			OFFSET $3
		)
	`, userID, categoryID, keep)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func (q *Queries) ListOverdueSessions(ctx context.Context, cutoff time.Time, limit int) ([]uuid.UUID, error) {
	rows, err := q.db.Query(ctx, `
		SELECT id FROM exam_sessions
		WHERE completed = FALSE AND deadline IS NOT NULL AND deadline < $1
		ORDER BY deadline
		LIMIT $2
	`, cutoff, limit)
	if err != nil {
		return nil, err
	}
	return collectUUIDs(rows)
}

// Audit

func (q *Queries) InsertAudit(ctx context.Context, entry model.AuditEntry) error {
	var details []byte
	if len(entry.Details) > 0 {
		encoded, err := json.Marshal(entry.Details)
		if err != nil {
			return err
		}
		details = encoded
	}
	_, err := q.db.Exec(ctx, `
		INSERT INTO audit_log (actor_id, action, entity_type, entity_id, details, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, entry.ActorID, entry.Action, entry.EntityType, entry.EntityID, details, entry.At)
	return err
}

func collectUUIDs(rows pgx.Rows) ([]uuid.UUID, error) {
	defer rows.Close()
	var out []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

func uuidStrings(ids []uuid.UUID) []string {
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = id.String()
	}
	return out
}

package db

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"examportal/internal/model"
)

type entitlementKey struct {
	userID     uuid.UUID
	categoryID uuid.UUID
}

type memSession struct {
	session model.ExamSession
	answers []model.SessionAnswer
}

type memState struct {
	users        map[uuid.UUID]model.User
	categories   map[uuid.UUID]model.Category
	packages     map[uuid.UUID]model.Package
	questions    map[uuid.UUID]model.Question
	requests     map[uuid.UUID]model.AccessRequest
	entitlements map[entitlementKey]model.Entitlement
	sessions     map[uuid.UUID]memSession
	audit        []model.AuditEntry
}

// MemoryStore keeps everything in process memory. Transactions are serialized
// and a failed transaction restores the state captured when it began; writes
// made outside WithTx while a transaction runs are not isolated from it.
type MemoryStore struct {
	txMu   sync.Mutex
	mu     sync.RWMutex
	state  memState
	faults map[string]error
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		state: memState{
			users:        make(map[uuid.UUID]model.User),
			categories:   make(map[uuid.UUID]model.Category),
			packages:     make(map[uuid.UUID]model.Package),
			questions:    make(map[uuid.UUID]model.Question),
			requests:     make(map[uuid.UUID]model.AccessRequest),
			entitlements: make(map[entitlementKey]model.Entitlement),
			sessions:     make(map[uuid.UUID]memSession),
		},
		faults: make(map[string]error),
	}
}

func (m *MemoryStore) WithTx(ctx context.Context, fn func(Querier) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.txMu.Lock()
	defer m.txMu.Unlock()

	snapshot := m.snapshot()
	if err := fn(m); err != nil {
		m.mu.Lock()
		m.state = snapshot
		m.mu.Unlock()
		return err
	}
	return nil
}

func (m *MemoryStore) Ping(ctx context.Context) error {
	return ctx.Err()
}

// InjectFault makes the next call of the named Querier method fail with err.
func (m *MemoryStore) InjectFault(method string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.faults[method] = err
}

// AuditEntries returns a copy of the recorded audit trail.
func (m *MemoryStore) AuditEntries() []model.AuditEntry {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]model.AuditEntry(nil), m.state.audit...)
}

func (m *MemoryStore) fault(method string) error {
	err, ok := m.faults[method]
	if !ok {
		return nil
	}
	delete(m.faults, method)
	return err
}

func (m *MemoryStore) snapshot() memState {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s := m.state
	next := memState{
		users:        make(map[uuid.UUID]model.User, len(s.users)),
		categories:   make(map[uuid.UUID]model.Category, len(s.categories)),
		packages:     make(map[uuid.UUID]model.Package, len(s.packages)),
		questions:    make(map[uuid.UUID]model.Question, len(s.questions)),
		requests:     make(map[uuid.UUID]model.AccessRequest, len(s.requests)),
		entitlements: make(map[entitlementKey]model.Entitlement, len(s.entitlements)),
		sessions:     make(map[uuid.UUID]memSession, len(s.sessions)),
		audit:        append([]model.AuditEntry(nil), s.audit...),
	}
	for k, v := range s.users {
		next.users[k] = v
	}
	for k, v := range s.categories {
		next.categories[k] = v
	}
	for k, v := range s.packages {
		next.packages[k] = v
	}
	for k, v := range s.questions {
		next.questions[k] = v
	}
	for k, v := range s.requests {
		next.requests[k] = v
	}
	for k, v := range s.entitlements {
		next.entitlements[k] = v
	}
	for k, v := range s.sessions {
		next.sessions[k] = memSession{session: v.session, answers: append([]model.SessionAnswer(nil), v.answers...)}
	}
	return next
}

// Users

func (m *MemoryStore) CreateUser(_ context.Context, user model.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state.users[user.ID] = user
	return nil
}

func (m *MemoryStore) GetUser(_ context.Context, id uuid.UUID) (model.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	user, ok := m.state.users[id]
	if !ok {
		return model.User{}, pgx.ErrNoRows
	}
	return user, nil
}

func (m *MemoryStore) SetUserSuspended(_ context.Context, id uuid.UUID, suspended bool) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	user, ok := m.state.users[id]
	if !ok {
		return 0, nil
	}
	user.Suspended = suspended
	m.state.users[id] = user
	return 1, nil
}

// Catalog

func (m *MemoryStore) CreateCategory(_ context.Context, category model.Category) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state.categories[category.ID] = category
	return nil
}

func (m *MemoryStore) GetCategory(_ context.Context, id uuid.UUID) (model.Category, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	category, ok := m.state.categories[id]
	if !ok {
		return model.Category{}, pgx.ErrNoRows
	}
	return category, nil
}

func (m *MemoryStore) CreatePackage(_ context.Context, pkg model.Package) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	pkg.CategoryIDs = append([]uuid.UUID(nil), pkg.CategoryIDs...)
	m.state.packages[pkg.ID] = pkg
	return nil
}

func (m *MemoryStore) GetPackage(_ context.Context, id uuid.UUID) (model.Package, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	pkg, ok := m.state.packages[id]
	if !ok {
		return model.Package{}, pgx.ErrNoRows
	}
	pkg.CategoryIDs = append([]uuid.UUID(nil), pkg.CategoryIDs...)
	return pkg, nil
}

// Questions

func (m *MemoryStore) CreateQuestion(_ context.Context, question model.Question) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state.questions[question.ID] = question
	return nil
}

func (m *MemoryStore) ListPoolQuestionIDs(_ context.Context, categoryID uuid.UUID) ([]uuid.UUID, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var pool []model.Question
	for _, q := range m.state.questions {
		if q.CategoryID == categoryID {
			pool = append(pool, q)
		}
	}
	sort.Slice(pool, func(i, j int) bool {
		if pool[i].OriginalIndex != pool[j].OriginalIndex {
			return pool[i].OriginalIndex < pool[j].OriginalIndex
		}
		return pool[i].ID.String() < pool[j].ID.String()
	})
	ids := make([]uuid.UUID, len(pool))
	for i, q := range pool {
		ids[i] = q.ID
	}
	return ids, nil
}

func (m *MemoryStore) GetQuestions(_ context.Context, ids []uuid.UUID) ([]model.Question, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]model.Question, 0, len(ids))
	for _, id := range ids {
		if q, ok := m.state.questions[id]; ok {
			out = append(out, q)
		}
	}
	return out, nil
}

func (m *MemoryStore) RecountCategoryQuestions(_ context.Context, categoryID uuid.UUID) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	category, ok := m.state.categories[categoryID]
	if !ok {
		return 0, pgx.ErrNoRows
	}
	count := 0
	for _, q := range m.state.questions {
		if q.CategoryID == categoryID {
			count++
		}
	}
	category.QuestionCount = count
	m.state.categories[categoryID] = category
	return count, nil
}

// Entitlements

func (m *MemoryStore) GetEntitlement(_ context.Context, userID, categoryID uuid.UUID) (model.Entitlement, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ent, ok := m.state.entitlements[entitlementKey{userID, categoryID}]
	if !ok {
		return model.Entitlement{}, pgx.ErrNoRows
	}
	return ent, nil
}

func (m *MemoryStore) UpsertEntitlement(_ context.Context, ent model.Entitlement) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fault("UpsertEntitlement"); err != nil {
		return err
	}
	m.state.entitlements[entitlementKey{ent.UserID, ent.CategoryID}] = ent
	return nil
}

func (m *MemoryStore) ListEntitlements(_ context.Context, userID uuid.UUID) ([]model.Entitlement, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []model.Entitlement
	for key, ent := range m.state.entitlements {
		if key.userID == userID {
			out = append(out, ent)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].GrantedAt.Equal(out[j].GrantedAt) {
			return out[i].GrantedAt.Before(out[j].GrantedAt)
		}
		return out[i].CategoryID.String() < out[j].CategoryID.String()
	})
	return out, nil
}

// Access requests

func (m *MemoryStore) pendingFor(userID uuid.UUID, match func(model.AccessRequest) bool) bool {
	for _, req := range m.state.requests {
		if req.UserID == userID && req.Status == model.StatusPending && match(req) {
			return true
		}
	}
	return false
}

func (m *MemoryStore) InsertAccessRequest(_ context.Context, req model.AccessRequest) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if req.Status == model.StatusPending {
		duplicate := m.pendingFor(req.UserID, func(existing model.AccessRequest) bool {
			if req.CategoryID != nil {
				return existing.CategoryID != nil && *existing.CategoryID == *req.CategoryID
			}
			return existing.PackageID != nil && req.PackageID != nil && *existing.PackageID == *req.PackageID
		})
		if duplicate {
			return false, nil
		}
	}
	m.state.requests[req.ID] = req
	return true, nil
}

func (m *MemoryStore) GetAccessRequest(_ context.Context, id uuid.UUID) (model.AccessRequest, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	req, ok := m.state.requests[id]
	if !ok {
		return model.AccessRequest{}, pgx.ErrNoRows
	}
	return req, nil
}

func (m *MemoryStore) HasPendingCategoryRequest(_ context.Context, userID, categoryID uuid.UUID) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.pendingFor(userID, func(req model.AccessRequest) bool {
		return req.CategoryID != nil && *req.CategoryID == categoryID
	}), nil
}

func (m *MemoryStore) HasPendingPackageRequest(_ context.Context, userID, packageID uuid.UUID) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.pendingFor(userID, func(req model.AccessRequest) bool {
		return req.PackageID != nil && *req.PackageID == packageID
	}), nil
}

func (m *MemoryStore) ProcessAccessRequest(_ context.Context, params ProcessRequestParams) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	req, ok := m.state.requests[params.ID]
	if !ok || req.Status != model.StatusPending {
		return 0, nil
	}
	processedAt, processedBy := params.ProcessedAt, params.ProcessedBy
	req.Status = params.Status
	req.ProcessedAt = &processedAt
	req.ProcessedBy = &processedBy
	req.Notes = params.Notes
	m.state.requests[params.ID] = req
	return 1, nil
}

func (m *MemoryStore) ApprovePendingCategoryRequests(_ context.Context, userID uuid.UUID, categoryIDs []uuid.UUID, by uuid.UUID, at time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	wanted := make(map[uuid.UUID]bool, len(categoryIDs))
	for _, id := range categoryIDs {
		wanted[id] = true
	}
	var affected int64
	for id, req := range m.state.requests {
		if req.UserID != userID || req.Status != model.StatusPending || req.CategoryID == nil || !wanted[*req.CategoryID] {
			continue
		}
		processedAt, processedBy := at, by
		req.Status = model.StatusApproved
		req.ProcessedAt = &processedAt
		req.ProcessedBy = &processedBy
		m.state.requests[id] = req
		affected++
	}
	return affected, nil
}

func (m *MemoryStore) ListPendingRequests(_ context.Context, userID *uuid.UUID) ([]model.AccessRequest, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []model.AccessRequest
	for _, req := range m.state.requests {
		if req.Status != model.StatusPending {
			continue
		}
		if userID != nil && req.UserID != *userID {
			continue
		}
		out = append(out, req)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].RequestedAt.Equal(out[j].RequestedAt) {
			return out[i].RequestedAt.Before(out[j].RequestedAt)
		}
		return out[i].ID.String() < out[j].ID.String()
	})
	return out, nil
}

// Sessions

func (m *MemoryStore) InsertSession(_ context.Context, session model.ExamSession) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fault("InsertSession"); err != nil {
		return err
	}
	answers := make([]model.SessionAnswer, len(session.QuestionIDs))
	for i, questionID := range session.QuestionIDs {
		answers[i] = model.SessionAnswer{SessionID: session.ID, QuestionID: questionID, Position: i}
	}
	session.QuestionIDs = nil
	session.Answers = nil
	m.state.sessions[session.ID] = memSession{session: session, answers: answers}
	return nil
}

func (ms memSession) hydrate() model.ExamSession {
	s := ms.session
	s.QuestionIDs = make([]uuid.UUID, len(ms.answers))
	s.Answers = make(map[uuid.UUID]model.Option)
	for i, a := range ms.answers {
		s.QuestionIDs[i] = a.QuestionID
		if a.Selected != nil {
			s.Answers[a.QuestionID] = *a.Selected
		}
	}
	return s
}

func (m *MemoryStore) GetSession(_ context.Context, id uuid.UUID, _ bool) (model.ExamSession, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ms, ok := m.state.sessions[id]
	if !ok {
		return model.ExamSession{}, pgx.ErrNoRows
	}
	return ms.hydrate(), nil
}

func (m *MemoryStore) FindActiveSession(_ context.Context, userID, categoryID uuid.UUID) (model.ExamSession, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var found *memSession
	for _, ms := range m.state.sessions {
		s := ms.session
		if s.UserID != userID || s.CategoryID != categoryID || s.Completed {
			continue
		}
		if found == nil || s.StartedAt.After(found.session.StartedAt) {
			candidate := ms
			found = &candidate
		}
	}
	if found == nil {
		return model.ExamSession{}, pgx.ErrNoRows
	}
	return found.hydrate(), nil
}

func (m *MemoryStore) UpsertAnswer(_ context.Context, sessionID, questionID uuid.UUID, option model.Option, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	ms, ok := m.state.sessions[sessionID]
	if !ok {
		return pgx.ErrNoRows
	}
	for i := range ms.answers {
		if ms.answers[i].QuestionID != questionID {
			continue
		}
		selected, answeredAt := option, at
		answers := append([]model.SessionAnswer(nil), ms.answers...)
		answers[i].Selected = &selected
		answers[i].AnsweredAt = &answeredAt
		ms.answers = answers
		m.state.sessions[sessionID] = ms
		return nil
	}
	return pgx.ErrNoRows
}

func (m *MemoryStore) CompleteSession(_ context.Context, session model.ExamSession, correct map[uuid.UUID]bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fault("CompleteSession"); err != nil {
		return err
	}
	ms, ok := m.state.sessions[session.ID]
	if !ok {
		return pgx.ErrNoRows
	}
	ms.session.EndedAt = session.EndedAt
	ms.session.Completed = true
	ms.session.Score = session.Score
	ms.session.Percentage = session.Percentage
	ms.session.Grade = session.Grade
	answers := append([]model.SessionAnswer(nil), ms.answers...)
	for i := range answers {
		if ok, scored := correct[answers[i].QuestionID]; scored {
			isCorrect := ok
			answers[i].IsCorrect = &isCorrect
		}
	}
	ms.answers = answers
	m.state.sessions[session.ID] = ms
	return nil
}

func (m *MemoryStore) ListSessionAnswers(_ context.Context, sessionID uuid.UUID) ([]model.SessionAnswer, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ms, ok := m.state.sessions[sessionID]
	if !ok {
		return nil, nil
	}
	return append([]model.SessionAnswer(nil), ms.answers...), nil
}

// completedNewestFirst orders by ended_at descending, then id descending.
func completedNewestFirst(sessions []model.ExamSession) {
	sort.Slice(sessions, func(i, j int) bool {
		a, b := sessions[i].EndedAt, sessions[j].EndedAt
		if !a.Equal(*b) {
			return a.After(*b)
		}
		return sessions[i].ID.String() > sessions[j].ID.String()
	})
}

func (m *MemoryStore) ListCompletedSessions(_ context.Context, userID uuid.UUID, categoryID *uuid.UUID, limit int) ([]model.ExamSession, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []model.ExamSession
	for _, ms := range m.state.sessions {
		s := ms.session
		if s.UserID != userID || !s.Completed || s.EndedAt == nil {
			continue
		}
		if categoryID != nil && s.CategoryID != *categoryID {
			continue
		}
		out = append(out, s)
	}
	completedNewestFirst(out)
	if limit >= 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *MemoryStore) DeleteCompletedBeyond(_ context.Context, userID, categoryID uuid.UUID, keep int) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fault("DeleteCompletedBeyond"); err != nil {
		return 0, err
	}
	var completed []model.ExamSession
	for _, ms := range m.state.sessions {
		s := ms.session
		if s.UserID == userID && s.CategoryID == categoryID && s.Completed && s.EndedAt != nil {
			completed = append(completed, s)
		}
	}
	if len(completed) <= keep {
		return 0, nil
	}
	completedNewestFirst(completed)
	var removed int64
	for _, s := range completed[keep:] {
		delete(m.state.sessions, s.ID)
		removed++
	}
	return removed, nil
}

func (m *MemoryStore) ListOverdueSessions(_ context.Context, cutoff time.Time, limit int) ([]uuid.UUID, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var overdue []model.ExamSession
	for _, ms := range m.state.sessions {
		s := ms.session
		if !s.Completed && s.Deadline != nil && s.Deadline.Before(cutoff) {
			overdue = append(overdue, s)
		}
	}
	sort.Slice(overdue, func(i, j int) bool {
		return overdue[i].Deadline.Before(*overdue[j].Deadline)
	})
	if len(overdue) > limit {
		overdue = overdue[:limit]
	}
	ids := make([]uuid.UUID, len(overdue))
	for i, s := range overdue {
		ids[i] = s.ID
	}
	return ids, nil
}

// Audit

func (m *MemoryStore) InsertAudit(_ context.Context, entry model.AuditEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fault("InsertAudit"); err != nil {
		return err
	}
	m.state.audit = append(m.state.audit, entry)
	return nil
}

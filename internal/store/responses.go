package store

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"

	"classpulse/pkg/types"
)

// RecordAssignment stores which question a student was sent.
func (m *Manager) RecordAssignment(ctx context.Context, a *types.Assignment) error {
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	if a.SentAt.IsZero() {
		a.SentAt = time.Now().UTC()
	}
	return m.executeWrite(ctx, func(db *sqlx.DB) error {
		_, err := db.NamedExecContext(ctx, `
			INSERT INTO question_assignments (id, student_id, question_id, session_key, sent_at)
			VALUES (:id, :student_id, :question_id, :session_key, :sent_at)`, a)
		if err != nil {
			return errors.Wrap(translate(err), "inserting assignment")
		}
		return nil
	})
}

// RecordAnswer stores a graded answer.
func (m *Manager) RecordAnswer(ctx context.Context, r *types.AnswerRecord) error {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now().UTC()
	}
	return m.executeWrite(ctx, func(db *sqlx.DB) error {
		_, err := db.NamedExecContext(ctx, `
			INSERT INTO responses (id, student_id, question_id, session_key, answer, correct, response_time, rtt_ms, created_at)
			VALUES (:id, :student_id, :question_id, :session_key, :answer, :correct, :response_time, :rtt_ms, :created_at)`, r)
		if err != nil {
			return errors.Wrap(translate(err), "inserting response")
		}
		return nil
	})
}

// ListAssignments returns a session's assignments in send order.
func (m *Manager) ListAssignments(ctx context.Context, sessionKey string) ([]*types.Assignment, error) {
	out := []*types.Assignment{}
	err := m.db.SelectContext(ctx, &out, `
		SELECT id, student_id, question_id, session_key, sent_at
		FROM question_assignments WHERE session_key = ? ORDER BY sent_at, id`, sessionKey)
	if err != nil {
		return nil, errors.Wrap(err, "listing assignments")
	}
	return out, nil
}

// ListAnswers returns a student's answers, oldest first.
func (m *Manager) ListAnswers(ctx context.Context, studentID string) ([]*types.AnswerRecord, error) {
	out := []*types.AnswerRecord{}
	err := m.db.SelectContext(ctx, &out, `
		SELECT id, student_id, question_id, session_key, answer, correct, response_time, rtt_ms, created_at
		FROM responses WHERE student_id = ? ORDER BY created_at, id`, studentID)
	if err != nil {
		return nil, errors.Wrap(err, "listing answers")
	}
	return out, nil
}

// SessionSummary aggregates the persisted answers of one session.
type SessionSummary struct {
	SessionKey      string  `json:"sessionId" db:"session_key"`
	Assignments     int     `json:"assignments" db:"assignments"`
	Responses       int     `json:"responses" db:"responses"`
	Correct         int     `json:"correct" db:"correct"`
	AvgResponseTime float64 `json:"avgResponseTime" db:"avg_response_time"`
}

// SummarizeSession counts assignments and responses for sessionKey.
func (m *Manager) SummarizeSession(ctx context.Context, sessionKey string) (SessionSummary, error) {
	summary := SessionSummary{SessionKey: sessionKey}
	err := m.db.GetContext(ctx, &summary, `
		SELECT
			? AS session_key,
			(SELECT COUNT(*) FROM question_assignments WHERE session_key = ?) AS assignments,
			COUNT(r.id) AS responses,
			COALESCE(SUM(CASE WHEN r.correct THEN 1 ELSE 0 END), 0) AS correct,
			COALESCE(AVG(r.response_time), 0) AS avg_response_time
		FROM responses r WHERE r.session_key = ?`, sessionKey, sessionKey, sessionKey)
	if err != nil {
		return SessionSummary{}, errors.Wrap(err, "summarizing session")
	}
	return summary, nil
}

package store

import (
	"context"
	"database/sql"
	"encoding/json"
	stderrors "errors"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"

	"classpulse/pkg/interfaces"
	"classpulse/pkg/types"
)

// questionRow is the stored shape of a question; options are a JSON array.
type questionRow struct {
	ID            string    `db:"id"`
	Text          string    `db:"text"`
	Options       string    `db:"options"`
	CorrectAnswer string    `db:"correct_answer"`
	Difficulty    string    `db:"difficulty"`
	Category      string    `db:"category"`
	TimeLimit     int       `db:"time_limit"`
	CreatedAt     time.Time `db:"created_at"`
}

const questionColumns = `id, text, options, correct_answer, difficulty, category, time_limit, created_at`

func (r questionRow) question() (*types.Question, error) {
	q := &types.Question{
		ID:            r.ID,
		Text:          r.Text,
		CorrectAnswer: r.CorrectAnswer,
		Difficulty:    types.Difficulty(r.Difficulty),
		Category:      r.Category,
		TimeLimit:     r.TimeLimit,
		CreatedAt:     r.CreatedAt,
	}
	if err := json.Unmarshal([]byte(r.Options), &q.Options); err != nil {
		return nil, errors.Wrapf(err, "decoding options of question %s", r.ID)
	}
	return q, nil
}

// CreateQuestion validates and inserts q, filling ID, difficulty, time limit
// and creation time defaults.
func (m *Manager) CreateQuestion(ctx context.Context, q *types.Question) error {
	if q.Difficulty == "" {
		q.Difficulty = types.DifficultyMedium
	}
	if q.TimeLimit == 0 {
		q.TimeLimit = 30
	}
	if err := q.Validate(); err != nil {
		return err
	}
	if q.ID == "" {
		q.ID = uuid.NewString()
	}
	if q.CreatedAt.IsZero() {
		q.CreatedAt = time.Now().UTC()
	}
	options, err := json.Marshal(q.Options)
	if err != nil {
		return errors.Wrap(err, "encoding options")
	}
	row := questionRow{
		ID:            q.ID,
		Text:          q.Text,
		Options:       string(options),
		CorrectAnswer: q.CorrectAnswer,
		Difficulty:    string(q.Difficulty),
		Category:      q.Category,
		TimeLimit:     q.TimeLimit,
		CreatedAt:     q.CreatedAt,
	}

	return m.executeWrite(ctx, func(db *sqlx.DB) error {
		_, err := db.NamedExecContext(ctx, `
			INSERT INTO questions (`+questionColumns+`)
			VALUES (:id, :text, :options, :correct_answer, :difficulty, :category, :time_limit, :created_at)`, row)
		if err != nil {
			return errors.Wrap(translate(err), "inserting question")
		}
		return nil
	})
}

// ListQuestions returns the whole question bank, oldest first.
func (m *Manager) ListQuestions(ctx context.Context) ([]*types.Question, error) {
	var rows []questionRow
	if err := m.db.SelectContext(ctx, &rows, `SELECT `+questionColumns+` FROM questions ORDER BY created_at, id`); err != nil {
		return nil, errors.Wrap(err, "listing questions")
	}
	out := make([]*types.Question, 0, len(rows))
	for _, r := range rows {
		q, err := r.question()
		if err != nil {
			return nil, err
		}
		out = append(out, q)
	}
	return out, nil
}

// GetQuestion returns one question or interfaces.ErrQuestionNotFound.
func (m *Manager) GetQuestion(ctx context.Context, id string) (*types.Question, error) {
	var row questionRow
	if err := m.db.GetContext(ctx, &row, `SELECT `+questionColumns+` FROM questions WHERE id = ?`, id); err != nil {
		if stderrors.Is(err, sql.ErrNoRows) {
			return nil, interfaces.ErrQuestionNotFound
		}
		return nil, errors.Wrap(err, "querying question")
	}
	return row.question()
}

// DeleteQuestion removes a question and, by cascade, its history.
func (m *Manager) DeleteQuestion(ctx context.Context, id string) error {
	return m.executeWrite(ctx, func(db *sqlx.DB) error {
		res, err := db.ExecContext(ctx, `DELETE FROM questions WHERE id = ?`, id)
		if err != nil {
			return errors.Wrap(err, "deleting question")
		}
		return requireAffected(res, interfaces.ErrQuestionNotFound)
	})
}

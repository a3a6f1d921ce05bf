package interfaces

import (
	"context"

	"classpulse/pkg/types"
)

// QuestionPool supplies candidate questions for quiz triggers.
type QuestionPool interface {
	ListQuestions(ctx context.Context) ([]*types.Question, error)
	GetQuestion(ctx context.Context, id string) (*types.Question, error)
}

// ResponseRecorder persists what was sent and what came back.
// FUNCTIONAL DISCOVERY: assignment history feeds post-session reports, so a
// recording failure is logged by callers rather than aborting delivery
type ResponseRecorder interface {
	RecordAssignment(ctx context.Context, a *types.Assignment) error
	RecordAnswer(ctx context.Context, r *types.AnswerRecord) error
}

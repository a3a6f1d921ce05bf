package interfaces

import "classpulse/pkg/types"

// Classifier maps one observed answer to an engagement label.
// Implementations are pure and must not block on I/O.
type Classifier interface {
	Classify(features types.AnswerFeatures) (types.Classification, error)
}

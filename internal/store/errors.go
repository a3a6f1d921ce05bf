package store

import (
	"context"
	stderrors "errors"
	"strings"

	"github.com/mattn/go-sqlite3"

	"classpulse/pkg/interfaces"
)

var (
	ErrClosed        = stderrors.New("database manager is closed")
	ErrWriteTimeout  = stderrors.New("write operation timeout")
	ErrDuplicateKey  = stderrors.New("record already exists")
	ErrInvalidRecord = stderrors.New("record violates a database constraint")
)

// isPermanent reports whether retrying err cannot help.
func isPermanent(err error) bool {
	return stderrors.Is(err, ErrDuplicateKey) ||
		stderrors.Is(err, interfaces.ErrSessionNotFound) ||
		stderrors.Is(err, interfaces.ErrQuestionNotFound) ||
		stderrors.Is(err, ErrInvalidRecord) ||
		stderrors.Is(err, context.Canceled) ||
		stderrors.Is(err, context.DeadlineExceeded)
}

// translate maps driver constraint failures onto the package sentinels.
func translate(err error) error {
	var sqliteErr sqlite3.Error
	if !stderrors.As(err, &sqliteErr) {
		return err
	}
	if sqliteErr.Code != sqlite3.ErrConstraint {
		return err
	}
	if sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique ||
		sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey ||
		strings.Contains(sqliteErr.Error(), "UNIQUE") {
		return ErrDuplicateKey
	}
	return ErrInvalidRecord
}

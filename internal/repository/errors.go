package repository

import (
	"errors"
	"fmt"

	"github.com/lib/pq"
)

const pqUniqueViolation = "23505"

// Unique index names surfaced by constraint violations.
const (
	ConstraintIdentityEmail    = "identities_email_key"
	ConstraintIdentityUsername = "identities_username_key"
	ConstraintGradeName        = "grades_name_key"
	ConstraintGradeCode        = "grades_code_key"
	ConstraintDivisionName     = "divisions_name_key"
	ConstraintQuizResponse     = "quiz_responses_student_key"
)

// ErrUniqueViolation matches any UniqueViolationError via errors.Is.
var ErrUniqueViolation = errors.New("unique violation")

// UniqueViolationError reports which unique constraint rejected a write.
type UniqueViolationError struct {
	Constraint string
	Err        error
}

func (e *UniqueViolationError) Error() string {
	return fmt.Sprintf("unique violation on %s: %v", e.Constraint, e.Err)
}

func (e *UniqueViolationError) Unwrap() error { return e.Err }

// Is makes errors.Is(err, ErrUniqueViolation) succeed.
func (e *UniqueViolationError) Is(target error) bool { return target == ErrUniqueViolation }

// IsUniqueViolation reports whether err is a unique violation on constraint.
// An empty constraint matches any unique violation.
func IsUniqueViolation(err error, constraint string) bool {
	var uv *UniqueViolationError
	if !errors.As(err, &uv) {
		return false
	}
	return constraint == "" || uv.Constraint == constraint
}

func mapPQError(err error) error {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == pqUniqueViolation {
		return &UniqueViolationError{Constraint: pqErr.Constraint, Err: err}
	}
	return err
}

package repository

import (
	"errors"
	"fmt"
	"testing"

	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
)

func TestMapPQErrorUniqueViolation(t *testing.T) {
	err := mapPQError(&pq.Error{Code: "23505", Constraint: ConstraintIdentityEmail})
	assert.True(t, errors.Is(err, ErrUniqueViolation))
	assert.True(t, IsUniqueViolation(fmt.Errorf("create identity: %w", err), ConstraintIdentityEmail))
	assert.False(t, IsUniqueViolation(err, ConstraintIdentityUsername))
	assert.True(t, IsUniqueViolation(err, ""))
}

func TestMapPQErrorPassesThroughOthers(t *testing.T) {
	orig := &pq.Error{Code: "23503"}
	err := mapPQError(orig)
	assert.Same(t, orig, err)
	assert.False(t, IsUniqueViolation(err, ""))
}

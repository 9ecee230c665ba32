package postgres

import (
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
)

func TestIsUniqueViolation(t *testing.T) {
	testCases := []struct {
		name string
		err  error
		want bool
	}{
		{"pgconn 23505", &pgconn.PgError{Code: "23505"}, true},
		{"pgconn обёрнутая", fmt.Errorf("insert: %w", &pgconn.PgError{Code: "23505"}), true},
		{"pgconn другой код", &pgconn.PgError{Code: "23503"}, false},
		{"lib/pq 23505", &pq.Error{Code: "23505"}, true},
		{"lib/pq другой код", &pq.Error{Code: "40001"}, false},
		{"обычная ошибка", errors.New("connection reset"), false},
		{"nil", nil, false},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, isUniqueViolation(tc.err))
		})
	}
}

package db

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"gorm.io/gorm"
)

func pgError(code string) error {
	return &pgconn.PgError{Code: code}
}

func TestIsTransientErr(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"deadline exceeded", context.DeadlineExceeded, true},
		{"wrapped deadline", fmt.Errorf("tx: %w", context.DeadlineExceeded), true},
		{"pg lock timeout", pgError("55P03"), true},
		{"pg deadlock", pgError("40P01"), true},
		{"pg serialization failure", pgError("40001"), true},
		{"mysql deadlock", errors.New("Error 1213: Deadlock found"), true},
		{"sqlite busy", errors.New("database is locked (5) (SQLITE_BUSY)"), true},
		{"pg unique violation is not transient", pgError("23505"), false},
		{"plain error", errors.New("connection refused"), false},
		{"context cancelled", context.Canceled, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsTransientErr(tt.err))
		})
	}
}

func TestIsDuplicateKeyErr(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"gorm duplicated key", gorm.ErrDuplicatedKey, true},
		{"pg unique violation", pgError("23505"), true},
		{"pg message", errors.New(`duplicate key value violates unique constraint "ux_campaign_events_idempotency"`), true},
		{"mysql duplicate", errors.New("Error 1062: Duplicate entry"), true},
		{"sqlite unique", errors.New("UNIQUE constraint failed: campaign_events.idempotency_key"), true},
		{"unrelated", errors.New("syntax error"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsDuplicateKeyErr(tt.err))
		})
	}
}

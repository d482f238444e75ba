package errors

import (
	"context"
	"errors"
	"testing"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

func TestMapDBError_NilError(t *testing.T) {
	if err := MapDBError(nil); err != nil {
		t.Errorf("MapDBError(nil) = %v, want nil", err)
	}
}

func TestMapDBError_ContextErrors(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		wantCode ErrorCode
	}{
		{"deadline exceeded", context.DeadlineExceeded, ErrCodeTimeout},
		{"canceled", context.Canceled, ErrCodeCanceled},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := MapDBError(tt.err)
			if GetCode(err) != tt.wantCode {
				t.Errorf("MapDBError() code = %v, want %v", GetCode(err), tt.wantCode)
			}
		})
	}
}

func TestMapDBError_NoRows(t *testing.T) {
	err := MapDBError(pgx.ErrNoRows)
	if !IsNotFound(err) {
		t.Errorf("MapDBError(pgx.ErrNoRows) should be NotFound, got %v", GetCode(err))
	}
}

func TestMapDBError_PgErrors(t *testing.T) {
	tests := []struct {
		name     string
		pgErr    *pgconn.PgError
		wantCode ErrorCode
	}{
		{
			name:     "unique violation",
			pgErr:    &pgconn.PgError{Code: pgerrcode.UniqueViolation, Detail: "Key (id)=(abc) already exists."},
			wantCode: ErrCodeConflict,
		},
		{
			name:     "foreign key violation",
			pgErr:    &pgconn.PgError{Code: pgerrcode.ForeignKeyViolation},
			wantCode: ErrCodeForeignKey,
		},
		{
			name:     "check violation",
			pgErr:    &pgconn.PgError{Code: pgerrcode.CheckViolation, ColumnName: "status"},
			wantCode: ErrCodeValidation,
		},
		{
			name:     "not null violation",
			pgErr:    &pgconn.PgError{Code: pgerrcode.NotNullViolation, ColumnName: "kind"},
			wantCode: ErrCodeValidation,
		},
		{
			name:     "deadlock",
			pgErr:    &pgconn.PgError{Code: pgerrcode.DeadlockDetected},
			wantCode: ErrCodeTransient,
		},
		{
			name:     "serialization failure",
			pgErr:    &pgconn.PgError{Code: pgerrcode.SerializationFailure},
			wantCode: ErrCodeTransient,
		},
		{
			name:     "invalid text representation",
			pgErr:    &pgconn.PgError{Code: pgerrcode.InvalidTextRepresentation},
			wantCode: ErrCodeValidation,
		},
		{
			name:     "unhandled code",
			pgErr:    &pgconn.PgError{Code: pgerrcode.SyntaxError},
			wantCode: ErrCodeInternal,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := MapDBError(tt.pgErr)
			if GetCode(err) != tt.wantCode {
				t.Errorf("MapDBError() code = %v, want %v", GetCode(err), tt.wantCode)
			}
			if !errors.Is(err, tt.pgErr) {
				t.Error("mapped error should preserve the pg error as cause")
			}
		})
	}
}

func TestMapDBError_UniqueViolationFieldExtraction(t *testing.T) {
	pgErr := &pgconn.PgError{
		Code:   pgerrcode.UniqueViolation,
		Detail: "Key (job_id)=(7f3b) already exists.",
	}
	err := MapDBError(pgErr)
	if GetField(err) != "job_id" {
		t.Errorf("GetField = %q, want job_id", GetField(err))
	}
}

func TestMapDBError_PassthroughUnknown(t *testing.T) {
	plain := errors.New("not a db error")
	if got := MapDBError(plain); !errors.Is(got, plain) {
		t.Errorf("MapDBError should pass through unknown errors, got %v", got)
	}
}

package database

import (
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"

	"Cornucopia/pkg/model"
)

// Postgres 错误码
const (
	codeUniqueViolation     = "23505"
	codeForeignKeyViolation = "23503"
	codeLockNotAvailable    = "55P03"
	codeSerialization       = "40001"
	codeDeadlock            = "40P01"
)

// mapError 把驱动错误翻译为领域错误, notFound 为记录不存在时使用的错误
func mapError(err error, notFound error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return notFound
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case codeUniqueViolation:
			return fmt.Errorf("%s: %w", pgErr.Message, model.ErrDuplicateKey)
		case codeForeignKeyViolation:
			return fmt.Errorf("%s: %w", pgErr.Message, model.ErrUnknownSecurity)
		case codeLockNotAvailable, codeSerialization, codeDeadlock:
			return fmt.Errorf("%s: %w", pgErr.Message, model.ErrConcurrencyConflict)
		}
	}
	return err
}

// Package migrations предоставляет встроенные SQL-миграции схемы сервиса.
package migrations

import "embed"

// Files: SQL-миграции; repository.Migrate применяет их в порядке имён (001, 002, ...).
//
//go:embed *.sql
var Files embed.FS

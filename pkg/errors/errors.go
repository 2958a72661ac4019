// Package errors collects the typed error kinds surfaced to callers
// (spec §7). Each kind is its own struct so callers can switch on type
// or use errors.As; Wrap/Newf below delegate to cockroachdb/errors for
// stack-trace-carrying composition at call sites that need it.
package errors

import (
	"fmt"

	cockroacherrors "github.com/cockroachdb/errors"
)

// Wrap attaches a stack trace and message to err, or returns nil if err is nil.
func Wrap(err error, msg string) error {
	return cockroacherrors.Wrap(err, msg)
}

// Wrapf is Wrap with a format string.
func Wrapf(err error, format string, args ...interface{}) error {
	return cockroacherrors.Wrapf(err, format, args...)
}

// Newf builds a new stack-carrying error.
func Newf(format string, args ...interface{}) error {
	return cockroacherrors.Newf(format, args...)
}

// Is delegates to cockroachdb/errors so wrapped sentinel comparisons work
// across the Wrap boundary above.
func Is(err, target error) bool { return cockroacherrors.Is(err, target) }

// As delegates to cockroachdb/errors.
func As(err error, target interface{}) bool { return cockroacherrors.As(err, target) }

// --- metadata errors (§4.6) ---

type TableAlreadyExistsError struct{ Name string }

func (e *TableAlreadyExistsError) Error() string {
	return fmt.Sprintf("table %q already exists", e.Name)
}

type TwoPrimaryKeysError struct{ Total int }

func (e *TwoPrimaryKeysError) Error() string {
	return fmt.Sprintf("table definition carries %d primary keys, only one is allowed", e.Total)
}

type PrimaryKeyNotDefinedError struct{ TableName string }

func (e *PrimaryKeyNotDefinedError) Error() string {
	return fmt.Sprintf("table %q declares no primary index", e.TableName)
}

type TooManyTablesError struct{ Limit int }

func (e *TooManyTablesError) Error() string {
	return fmt.Sprintf("object space limit of %d tables reached", e.Limit)
}

type TooManyIndicesError struct {
	TableName string
	Limit     int
}

func (e *TooManyIndicesError) Error() string {
	return fmt.Sprintf("table %q already carries the maximum of %d indices", e.TableName, e.Limit)
}

// --- §7 error kinds ---

type NoSuchTableError struct{ Name string }

func (e *NoSuchTableError) Error() string { return fmt.Sprintf("table %q not found", e.Name) }

type NoSuchIndexError struct{ Name string }

func (e *NoSuchIndexError) Error() string { return fmt.Sprintf("index %q not found", e.Name) }

// DuplicateKeyError: ADD found an existing key, or a unique index conflict.
type DuplicateKeyError struct {
	Table string
	Index string
	Key   string
}

func (e *DuplicateKeyError) Error() string {
	return fmt.Sprintf("duplicate key %q in index %q of table %q", e.Key, e.Index, e.Table)
}

// NoSuchKeyError: REPLACE / DELETE / UPDATE_FIELDS missed.
type NoSuchKeyError struct {
	Table string
	Key   string
}

func (e *NoSuchKeyError) Error() string {
	return fmt.Sprintf("key %q not found in table %q", e.Key, e.Table)
}

type CardinalityMismatchError struct {
	Table    string
	Expected int
	Actual   int
}

func (e *CardinalityMismatchError) Error() string {
	return fmt.Sprintf("table %q expects cardinality %d, got %d", e.Table, e.Expected, e.Actual)
}

type MalformedTupleError struct{ Reason string }

func (e *MalformedTupleError) Error() string { return fmt.Sprintf("malformed tuple: %s", e.Reason) }

type TruncatedFieldError struct {
	Wanted  int
	Present int
}

func (e *TruncatedFieldError) Error() string {
	return fmt.Sprintf("truncated field data: wanted %d fields, buffer holds %d", e.Wanted, e.Present)
}

type BadOpcodeError struct{ Opcode uint32 }

func (e *BadOpcodeError) Error() string { return fmt.Sprintf("bad or reserved opcode %d", e.Opcode) }

type UpdateOutOfRangeError struct {
	FieldIndex  int
	Cardinality int
}

func (e *UpdateOutOfRangeError) Error() string {
	return fmt.Sprintf("update field index %d out of range for cardinality %d", e.FieldIndex, e.Cardinality)
}

type ReadOnlyError struct{ Shard string }

func (e *ReadOnlyError) Error() string {
	return fmt.Sprintf("shard %q is read-only or a non-leader replica", e.Shard)
}

type WalFailureError struct{ Reason string }

func (e *WalFailureError) Error() string { return fmt.Sprintf("wal submit failed: %s", e.Reason) }

type CorruptLogError struct {
	Offset int64
	Reason string
}

func (e *CorruptLogError) Error() string {
	return fmt.Sprintf("corrupt log at offset %d: %s", e.Offset, e.Reason)
}

type ShardUnavailableError struct{ Shard string }

func (e *ShardUnavailableError) Error() string {
	return fmt.Sprintf("shard %q unavailable", e.Shard)
}

// InvalidFieldTypeError: a key's runtime type does not match the index's
// declared field type.
type InvalidFieldTypeError struct {
	Index string
	Want  string
}

func (e *InvalidFieldTypeError) Error() string {
	return fmt.Sprintf("invalid key type for index %q: want %s", e.Index, e.Want)
}

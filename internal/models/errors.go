package models

import (
	"errors"
	"fmt"
)

var (
	// ErrMalformedInput сэмпл нарушает порядок или обязательные поля
	ErrMalformedInput = errors.New("malformed input")

	// ErrOutOfOrder индекс сэмпла не больше уже сохраненного максимума
	ErrOutOfOrder = fmt.Errorf("%w: sample out of order", ErrMalformedInput)

	// ErrInsufficientData не хватает yaw/pitch/высоты для этапа
	ErrInsufficientData = errors.New("insufficient data")

	// ErrInvariantViolation признак дефекта в вычислениях
	ErrInvariantViolation = errors.New("invariant violation")
)

// InputError ошибка отдельного входного сэмпла
type InputError struct {
	Index  int
	Reason string
	Err    error
}

func (e *InputError) Error() string {
	return fmt.Sprintf("sample %d rejected: %s", e.Index, e.Reason)
}

// Unwrap возвращает базовую ошибку (ErrOutOfOrder или ErrMalformedInput)
func (e *InputError) Unwrap() error {
	if e.Err == nil {
		return ErrMalformedInput
	}
	return e.Err
}

// InvariantError нарушение инварианта конкретного этапа
type InvariantError struct {
	Stage  string
	Field  string
	Detail string
}

func (e *InvariantError) Error() string {
	return fmt.Sprintf("%s: invariant on %s violated: %s", e.Stage, e.Field, e.Detail)
}

// Unwrap позволяет errors.Is(err, ErrInvariantViolation)
func (e *InvariantError) Unwrap() error {
	return ErrInvariantViolation
}

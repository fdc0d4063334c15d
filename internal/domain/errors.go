package domain

import (
	"errors"
	"fmt"
)

// Таксономия ошибок движка. Транспорт мапит вид ошибки в код ответа.
var (
	ErrValidation    = errors.New("validation error")
	ErrNotFound      = errors.New("not found")
	ErrAuthorization = errors.New("authorization error")
	ErrConflict      = errors.New("conflict")
)

// Error несет вид ошибки и текст для пользователя
type Error struct {
	Kind error
	Msg  string
}

func (e *Error) Error() string { return e.Msg }

func (e *Error) Unwrap() error { return e.Kind }

func Errorf(kind error, format string, args ...any) error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

// KindOf возвращает sentinel-вид ошибки или nil для инфраструктурных сбоев
func KindOf(err error) error {
	for _, k := range []error{ErrValidation, ErrNotFound, ErrAuthorization, ErrConflict} {
		if errors.Is(err, k) {
			return k
		}
	}
	return nil
}

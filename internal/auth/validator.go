package auth

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"errors"
	"fmt"
	"strings"
)

var (
	ErrMissingToken = errors.New("missing authentication token")
	ErrInvalidToken = errors.New("invalid token")
)

type keyEntry struct {
	principal Principal
	digest    [sha256.Size]byte
}

// Validator проверяет ключи API из конфигурации.
// Хранятся только sha256 ключей, сравнение за постоянное время.
type Validator struct {
	keys   []keyEntry
	closed bool
}

// ParseKey разбирает запись "имя:ключ"
func ParseKey(entry string) (Principal, string, error) {
	name, token, ok := strings.Cut(strings.TrimSpace(entry), ":")
	name, token = strings.TrimSpace(name), strings.TrimSpace(token)
	if !ok || name == "" || token == "" {
		return Principal{}, "", fmt.Errorf("API key entry %q must look like name:key", entry)
	}
	return Principal{Name: name}, token, nil
}

// NewValidator создает валидатор из записей "имя:ключ"
func NewValidator(entries []string) (*Validator, error) {
	v := &Validator{}
	for _, entry := range entries {
		p, token, err := ParseKey(entry)
		if err != nil {
			return nil, err
		}
		v.keys = append(v.keys, keyEntry{principal: p, digest: sha256.Sum256([]byte(token))})
	}
	return v, nil
}

// Closed валидатор, отклоняющий любой ключ
func Closed() *Validator {
	return &Validator{closed: true}
}

// Enabled есть ли хотя бы один ключ
func (v *Validator) Enabled() bool {
	return v != nil && (v.closed || len(v.keys) > 0)
}

// ValidateToken возвращает владельца ключа
func (v *Validator) ValidateToken(_ context.Context, token string) (*Principal, error) {
	if token == "" {
		return nil, ErrMissingToken
	}
	digest := sha256.Sum256([]byte(token))

	var found *Principal
	for i := range v.keys {
		// Проверяем все ключи, чтобы время не зависело от позиции совпадения
		if subtle.ConstantTimeCompare(digest[:], v.keys[i].digest[:]) == 1 {
			p := v.keys[i].principal
			found = &p
		}
	}
	if found == nil {
		return nil, ErrInvalidToken
	}
	return found, nil
}

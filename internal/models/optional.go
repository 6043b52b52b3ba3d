package models

import (
	"encoding/json"
	"math"
)

// OptFloat значение, которое может быть неизвестно.
// Нулевое значение означает "неизвестно", а не 0.
type OptFloat struct {
	Value float64
	Valid bool
}

// Known создает известное значение
func Known(v float64) OptFloat {
	return OptFloat{Value: v, Valid: true}
}

// Unknown неизвестное значение
func Unknown() OptFloat {
	return OptFloat{}
}

// FromPtr создает OptFloat из указателя (nil = неизвестно)
func FromPtr(v *float64) OptFloat {
	if v == nil {
		return OptFloat{}
	}
	return Known(*v)
}

// Get возвращает значение и признак наличия
func (o OptFloat) Get() (float64, bool) {
	return o.Value, o.Valid
}

// Or возвращает значение или def если неизвестно
func (o OptFloat) Or(def float64) float64 {
	if o.Valid {
		return o.Value
	}
	return def
}

// Finite проверяет, что известное значение не NaN/Inf
func (o OptFloat) Finite() bool {
	return !o.Valid || (!math.IsNaN(o.Value) && !math.IsInf(o.Value, 0))
}

// Ptr возвращает указатель на значение или nil
func (o OptFloat) Ptr() *float64 {
	if !o.Valid {
		return nil
	}
	v := o.Value
	return &v
}

// MarshalJSON неизвестное значение сериализуется как null
func (o OptFloat) MarshalJSON() ([]byte, error) {
	if !o.Valid {
		return []byte("null"), nil
	}
	return json.Marshal(o.Value)
}

// UnmarshalJSON null -> неизвестно
func (o *OptFloat) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*o = OptFloat{}
		return nil
	}
	var v float64
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	*o = Known(v)
	return nil
}

package state

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Type is the value type of an entry.
type Type string

const (
	TypeBoolean Type = "boolean"
	TypeNumber  Type = "number"
	TypeString  Type = "string"
)

var (
	// ErrUnknownState is returned for keys without a Definition.
	ErrUnknownState = errors.New("state: unknown state")
	// ErrTypeMismatch is returned when a value does not match its Definition.
	ErrTypeMismatch = errors.New("state: value does not match state type")
)

// Definition declares one entry.
type Definition struct {
	ID   string `json:"id"`
	Type Type   `json:"type"`
	Name string `json:"name"`
	Role string `json:"role"`
}

// Entry is a declared state with its current value. Value is the zero value
// of the type until the first write.
type Entry struct {
	Definition
	Value     any       `json:"value"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Store is implemented by Memory and SQLite.
type Store interface {
	// Ensure declares d. Existing definitions are left untouched.
	Ensure(ctx context.Context, d Definition) error
	// Set writes a value. nil resets the entry to the zero value.
	Set(ctx context.Context, id string, value any) error
	Get(ctx context.Context, id string) (Entry, error)
	// List returns entries whose ID starts with prefix, ordered by ID.
	List(ctx context.Context, prefix string) ([]Entry, error)
	Close() error
}

// EnsureAll declares every definition in defs.
func EnsureAll(ctx context.Context, s Store, defs []Definition) error {
	for _, d := range defs {
		if err := s.Ensure(ctx, d); err != nil {
			return err
		}
	}
	return nil
}

// SetMany writes values, stopping at the first error.
func SetMany(ctx context.Context, s Store, values map[string]any) error {
	for id, v := range values {
		if err := s.Set(ctx, id, v); err != nil {
			return err
		}
	}
	return nil
}

func zero(t Type) any {
	switch t {
	case TypeBoolean:
		return false
	case TypeNumber:
		return float64(0)
	default:
		return ""
	}
}

// coerce returns v in the canonical Go type of t: bool, float64 or string.
func coerce(t Type, v any) (any, error) {
	if v == nil {
		return zero(t), nil
	}
	switch t {
	case TypeBoolean:
		if b, ok := v.(bool); ok {
			return b, nil
		}
	case TypeNumber:
		switch n := v.(type) {
		case float64:
			return n, nil
		case float32:
			return float64(n), nil
		case int:
			return float64(n), nil
		case int32:
			return float64(n), nil
		case int64:
			return float64(n), nil
		case uint:
			return float64(n), nil
		case uint64:
			return float64(n), nil
		case time.Time:
			if n.IsZero() {
				return float64(0), nil
			}
			return float64(n.UnixMilli()), nil
		}
	case TypeString:
		switch s := v.(type) {
		case string:
			return s, nil
		case fmt.Stringer:
			return s.String(), nil
		}
	default:
		return nil, fmt.Errorf("state: unsupported type %q", t)
	}
	return nil, fmt.Errorf("%w: %T for %s", ErrTypeMismatch, v, t)
}

func validDefinition(d Definition) error {
	if d.ID == "" {
		return errors.New("state: empty id")
	}
	switch d.Type {
	case TypeBoolean, TypeNumber, TypeString:
		return nil
	}
	return fmt.Errorf("state: %s: unsupported type %q", d.ID, d.Type)
}

package model

import (
	"errors"
	"sort"
	"strings"
)

var (
	ErrNotFound            = errors.New("not found")
	ErrSlotTaken           = errors.New("slot already booked")
	ErrOutsideAvailability = errors.New("outside availability")
	ErrInvalidWindow       = errors.New("invalid booking window")
	ErrInvalidState        = errors.New("invalid booking state")
	ErrNoSlotAvailable     = errors.New("no slot available")
)

// ValidationError captures field level validation issues that callers can surface to users.
type ValidationError struct {
	Fields map[string]string
}

func (v *ValidationError) Error() string {
	if v == nil || len(v.Fields) == 0 {
		return "validation failed"
	}
	keys := make([]string, 0, len(v.Fields))
	for k := range v.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+": "+v.Fields[k])
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

// Add records a field level validation error.
func (v *ValidationError) Add(field, message string) {
	if v.Fields == nil {
		v.Fields = make(map[string]string)
	}
	v.Fields[field] = message
}

// HasErrors reports whether any field level issues were recorded.
func (v *ValidationError) HasErrors() bool {
	return v != nil && len(v.Fields) > 0
}

// OrNil returns v as an error only if it has recorded fields.
func (v *ValidationError) OrNil() error {
	if v.HasErrors() {
		return v
	}
	return nil
}

// Code maps an error to the stable code surfaced by the API and CLI.
func Code(err error) string {
	var verr *ValidationError
	switch {
	case err == nil:
		return ""
	case errors.As(err, &verr):
		return "Validation"
	case errors.Is(err, ErrNotFound):
		return "NotFound"
	case errors.Is(err, ErrSlotTaken):
		return "SlotTaken"
	case errors.Is(err, ErrOutsideAvailability):
		return "OutsideAvailability"
	case errors.Is(err, ErrInvalidWindow):
		return "InvalidWindow"
	case errors.Is(err, ErrInvalidState):
		return "InvalidState"
	case errors.Is(err, ErrNoSlotAvailable):
		return "NoSlotAvailable"
	default:
		return "Internal"
	}
}

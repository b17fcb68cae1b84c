// Package datakind converts between extracted strings and the typed values
// paperless-ngx stores for custom fields and document attributes.
package datakind

import (
	"errors"
	"fmt"
)

// Kind is a paperless custom field data type.
type Kind string

const (
	String       Kind = "string"
	URL          Kind = "url"
	Date         Kind = "date"
	Boolean      Kind = "boolean"
	Integer      Kind = "integer"
	Float        Kind = "float"
	Monetary     Kind = "monetary"
	DocumentLink Kind = "documentlink"
)

// Kinds lists every supported kind.
var Kinds = []Kind{String, URL, Date, Boolean, Integer, Float, Monetary, DocumentLink}

var (
	ErrInvalidURL          = errors.New("invalid URL")
	ErrInvalidDate         = errors.New("invalid date (expected ISO YYYY-MM-DD)")
	ErrInvalidBoolean      = errors.New("invalid boolean (expected true, false, yes or no)")
	ErrInvalidNumber       = errors.New("invalid number")
	ErrInvalidDocumentLink = errors.New("invalid document link (expected JSON list of integers)")
	ErrUnknownKind         = errors.New("unknown data kind")
)

// ConversionError reports a value that does not fit its declared kind.
type ConversionError struct {
	Kind  Kind
	Value string
	Err   error
}

func (e *ConversionError) Error() string {
	return fmt.Sprintf("%s value %q: %v", e.Kind, e.Value, e.Err)
}

func (e *ConversionError) Unwrap() error {
	return e.Err
}

func conversionError(kind Kind, value string, err error) error {
	return &ConversionError{Kind: kind, Value: value, Err: err}
}

// ParseKind validates a kind name as reported by the paperless API.
func ParseKind(s string) (Kind, error) {
	for _, k := range Kinds {
		if string(k) == s {
			return k, nil
		}
	}
	return "", conversionError(Kind(s), s, ErrUnknownKind)
}

package registry

import "errors"

var (
	// ErrInvalidName is returned for abbreviations that are not dotted identifiers.
	ErrInvalidName = errors.New("registry: invalid field name")

	// ErrDuplicateField is returned when an abbreviation is registered twice.
	ErrDuplicateField = errors.New("registry: duplicate field")

	// ErrNoProtocol is returned when a field is added before any protocol.
	ErrNoProtocol = errors.New("registry: field registered outside a protocol")

	// ErrInvalidType is returned for fields with no usable type.
	ErrInvalidType = errors.New("registry: invalid field type")

	// ErrUnknownFormat is returned when a definitions file has an unsupported format version.
	ErrUnknownFormat = errors.New("registry: unsupported definitions format")
)

package errors

// Code is a machine-readable error code.
type Code string

const (
	// CodeUnknown represents an unknown error.
	CodeUnknown Code = "UNKNOWN"

	// CodeInvalidArgument represents a rejected caller-supplied value.
	CodeInvalidArgument Code = "INVALID_ARGUMENT"

	// Storage errors
	CodeStorageUnavailable Code = "STORAGE_UNAVAILABLE"
	CodeConflict           Code = "CONFLICT"
	CodeNotFound           Code = "NOT_FOUND"
	CodeConfigError        Code = "CONFIG_ERROR"

	// Codec errors
	CodeMalformedBlob  Code = "MALFORMED_BLOB"
	CodeUnknownVersion Code = "UNKNOWN_VERSION"

	// Adapter errors
	CodeAdapterUnavailable Code = "ADAPTER_UNAVAILABLE"

	// Extract validation errors
	CodeBadSection Code = "BAD_SECTION"
	CodeEmptySlot  Code = "EMPTY_SLOT"

	// Command errors
	CodeCapabilityDenied Code = "CAPABILITY_DENIED"

	// Hologram errors
	CodeHologramExists   Code = "HOLOGRAM_EXISTS"
	CodeHologramNotFound Code = "HOLOGRAM_NOT_FOUND"
)

// Retryable reports whether an operation failing with this code may succeed
// when reissued without operator intervention.
func (c Code) Retryable() bool {
	switch c {
	case CodeConflict, CodeStorageUnavailable:
		return true
	default:
		return false
	}
}

package wire

import "errors"

// Errors returned while decoding the D-Bus wire format. These
// correspond to the "Unmarshal" error family of the design: problems
// detected while consuming an input buffer, as opposed to problems
// with a signature string (see package signature) or with message
// header structure (see package message).
var (
	ErrNotEnoughBytes       = errors.New("wire: not enough bytes to decode value")
	ErrNotAllBytesUsed      = errors.New("wire: decoder did not consume all available bytes")
	ErrInvalidByteOrder     = errors.New("wire: invalid byte order flag")
	ErrInvalidMessageType   = errors.New("wire: invalid message type")
	ErrInvalidSerial        = errors.New("wire: message serial must be non-zero")
	ErrInvalidBoolean       = errors.New("wire: boolean value must be 0 or 1")
	ErrPaddingContainedData = errors.New("wire: alignment padding contained non-zero bytes")
	ErrWrongSignature       = errors.New("wire: value signature does not match expected signature")
	ErrUnknownHeaderField   = errors.New("wire: unknown header field code")
	ErrInvalidHeaderField   = errors.New("wire: invalid header field payload")
	ErrNoSignature          = errors.New("wire: no signature available for value")
	ErrEmptyStruct          = errors.New("wire: struct must have at least one field")
	ErrBadFdIndex           = errors.New("wire: unix fd index out of range")
	ErrNoMatchingVariantFound = errors.New("wire: no Go type matches the variant's signature")

	ErrStringContainsNullByte = errors.New("wire: string contains an embedded null byte")
	ErrInvalidUTF8            = errors.New("wire: string is not valid UTF-8")
)

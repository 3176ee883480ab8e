// descriptor.go: ring-buffer record header layout and offset math
//
// Copyright (c) 2025 AGILira
// Series: an AGILira fragment
// SPDX-License-Identifier: MPL-2.0

// Package recorddescriptor is pure constants and inline offset math for
// the 8-byte record header every ring-buffer message is prefixed with:
// a 4-byte little-endian signed length (negative while reserved but not
// yet committed) followed by a 4-byte typeId.
package recorddescriptor

import "github.com/agilira/concord/internal/cerrors"

const (
	// HeaderLength is the size in bytes of length+typeId.
	HeaderLength = 8

	// AlignmentBytes is the record alignment; equal to HeaderLength.
	AlignmentBytes = 8

	// PaddingMsgTypeID marks filler records inserted at buffer wrap and
	// aborted reservations. A producer-supplied typeId must never equal
	// this value; CheckTypeID rejects typeId < 1, which excludes it.
	PaddingMsgTypeID int32 = -1
)

// LengthOffset returns the offset of the length field within the record
// starting at recordOffset.
func LengthOffset(recordOffset int32) int32 { return recordOffset }

// TypeOffset returns the offset of the typeId field.
func TypeOffset(recordOffset int32) int32 { return recordOffset + 4 }

// EncodedMsgOffset returns the offset of the payload, immediately after
// the header.
func EncodedMsgOffset(recordOffset int32) int32 { return recordOffset + HeaderLength }

// AlignedLength rounds length up to the next multiple of AlignmentBytes.
func AlignedLength(length int32) int32 {
	return (length + AlignmentBytes - 1) &^ (AlignmentBytes - 1)
}

// CheckMsgLength fails with ArgBounds when length exceeds maxMsgLength
// or is negative.
func CheckMsgLength(length, maxMsgLength int32) error {
	if length < 0 {
		return cerrors.New(cerrors.ArgBounds, "message length must not be negative")
	}
	if length > maxMsgLength {
		return cerrors.New(cerrors.ArgBounds, "encoded message exceeds max message length")
	}
	return nil
}

// CheckTypeID rejects typeId < 1: a caller-supplied typeId must be a
// positive, non-reserved classifier.
func CheckTypeID(typeID int32) error {
	if typeID < 1 {
		return cerrors.New(cerrors.ArgBounds, "typeId must be >= 1")
	}
	return nil
}

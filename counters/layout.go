// layout.go: counters metadata/values record layout
//
// Copyright (c) 2025 AGILira
// Series: an AGILira fragment
// SPDX-License-Identifier: MPL-2.0

// Package counters implements the fixed-layout, memory-mappable counters
// store: a metadata region (one fixed-stride record per counter,
// carrying state/typeId/key/label) paired with a values region (one
// fixed-stride int64 slot per counter), plus the AtomicCounter value
// handle that is the atomic-long equivalent of a ring-buffer position.
package counters

import "math"

// CacheLine is the assumed CPU cache line size.
const CacheLine = 64

const (
	// MetadataLength is the fixed stride of one metadata record.
	MetadataLength = 2 * CacheLine * 3

	// MaxKeyLength is the largest key payload a metadata record holds.
	MaxKeyLength = 2*CacheLine - 8 - 8

	// MaxLabelLength is the largest label payload a metadata record
	// holds.
	MaxLabelLength = 6*CacheLine - 4

	// CounterLength is the fixed stride of one value-region slot.
	CounterLength = 2 * CacheLine
)

// Metadata record field offsets, relative to the start of the record.
const (
	stateOffset                = 0
	typeIDOffset               = 4
	freeForReuseDeadlineOffset = 8
	keyOffset                  = 16
	labelLengthOffset          = 2 * CacheLine
	labelOffset                = 2*CacheLine + 4
)

// Value slot field offsets, relative to the start of the slot.
const (
	valueOffset          = 0
	registrationIDOffset = 8
	ownerIDOffset        = 16
	referenceIDOffset    = 24
)

// State is a counter metadata record's lifecycle state.
type State int32

const (
	Unused     State = 0
	Allocated  State = 1
	Reclaimed  State = -1
)

// NotFreeToReuse marks a record's freeForReuseDeadline while it is
// ALLOCATED: the largest representable deadline, so the "now >=
// deadline" reuse test can never hold until the counter is freed.
const NotFreeToReuse int64 = math.MaxInt64

func metadataOffset(id int32) int { return int(id) * MetadataLength }
func valueRecordOffset(id int32) int { return int(id) * CounterLength }

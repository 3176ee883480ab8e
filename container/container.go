// container.go: optional self-describing wrapper for counters/ring files
//
// Copyright (c) 2025 AGILira
// Series: an AGILira fragment
// SPDX-License-Identifier: MPL-2.0

// Package container implements the thin, additive wrapper that lets
// concordctl tell a counters file from a ring-buffer file without
// being told which it is: four magic bytes and an eight-byte length
// ahead of the region described in spec.md §3. Nothing under
// counters/ or ringbuffer/ reads or writes this wrapper directly —
// those packages only ever see the region past the header. Writing
// and skipping the header is shmfile's job: shmfile.CreateContainer
// writes it when a file is created for -kind=auto to find later, and
// shmfile.OpenContainer skips it back off when concordctl reads a
// file Sniff identified this way.
package container

import (
	"encoding/binary"
	"os"

	"github.com/agilira/concord/internal/cerrors"
)

// Magic identifies the kind of region a container-wrapped file holds.
type Magic [4]byte

var (
	// CountersFileMagic marks a file as a counters metadata region.
	CountersFileMagic = Magic{'C', 'N', 'T', 'R'}

	// RingBufferFileMagic marks a file as a ring-buffer region.
	RingBufferFileMagic = Magic{'R', 'I', 'N', 'G'}
)

// HeaderLength is the size of the magic+length prefix.
const HeaderLength = 4 + 8

// WriteHeader writes magic and the region length to the first
// HeaderLength bytes of f at offset 0.
func WriteHeader(f *os.File, magic Magic, length int64) error {
	var header [HeaderLength]byte
	copy(header[0:4], magic[:])
	binary.LittleEndian.PutUint64(header[4:12], uint64(length))
	if _, err := f.WriteAt(header[:], 0); err != nil {
		return cerrors.Wrap(cerrors.BoundsCheck, "failed to write container header", err)
	}
	return nil
}

// Sniff opens path read-only and inspects its first four bytes,
// returning "counters", "ring", or an error if the magic is
// unrecognized. It does not map the file.
func Sniff(path string) (string, error) {
	f, err := os.Open(path) // #nosec G304 -- caller-supplied diagnostic path
	if err != nil {
		return "", cerrors.Wrap(cerrors.BoundsCheck, "failed to open file for sniffing", err)
	}
	defer f.Close()

	var buf [4]byte
	if _, err := f.ReadAt(buf[:], 0); err != nil {
		return "", cerrors.Wrap(cerrors.BoundsCheck, "failed to read container magic", err)
	}

	switch Magic(buf) {
	case CountersFileMagic:
		return "counters", nil
	case RingBufferFileMagic:
		return "ring", nil
	default:
		return "", cerrors.New(cerrors.ArgBounds, "unrecognized container magic")
	}
}

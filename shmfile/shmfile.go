// shmfile.go: file-backed shared memory for cross-process buffers
//
// Copyright (c) 2025 AGILira
// Series: an AGILira fragment
// SPDX-License-Identifier: MPL-2.0

// Package shmfile opens or creates a file, sizes it, and memory-maps it
// MAP_SHARED so the resulting []byte can back a membuf.Buffer that is
// visible across processes — the cross-process half of the promise in
// spec §1 and §6 that the counters/ring-buffer layouts are a wire
// format, not just an in-process one.
//
// Path handling (create-if-missing, directory creation, permission
// mode, retry on transient failures) is adapted from the teacher's
// rotation.go/config.go file-open path, generalized from "open a log
// file for appending" to "open-or-create a file sized for mmap".
package shmfile

import (
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	mmap "github.com/edsrzf/mmap-go"

	"github.com/agilira/concord/container"
	"github.com/agilira/concord/internal/cerrors"
)

// Mapping is an open, memory-mapped, shared file.
type Mapping struct {
	file   *os.File
	m      mmap.MMap
	offset int
}

// Map opens (creating if necessary) the file at path, grows it to size
// bytes if it is smaller, and maps it MAP_SHARED. Passing size <= 0
// maps the file at its current length instead of resizing it, for
// read-only callers (concordctl) that don't know the region's size up
// front. The returned Mapping owns the file descriptor; call Close when
// done.
func Map(path string, size int64) (*Mapping, error) {
	sanitized := sanitizePath(path)

	if dir := filepath.Dir(sanitized); dir != "." {
		if err := retry(func() error { return os.MkdirAll(dir, 0750) }); err != nil {
			return nil, cerrors.Wrap(cerrors.BoundsCheck, "failed to create shared-memory directory", err)
		}
	}

	var f *os.File
	err := retry(func() error {
		var openErr error
		f, openErr = os.OpenFile(sanitized, os.O_CREATE|os.O_RDWR, 0644) // #nosec G304 -- sanitized above
		return openErr
	})
	if err != nil {
		return nil, cerrors.Wrap(cerrors.BoundsCheck, "failed to open shared-memory file", err)
	}

	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, cerrors.Wrap(cerrors.BoundsCheck, "failed to stat shared-memory file", err)
	}
	if size <= 0 {
		size = info.Size()
	} else if info.Size() < size {
		if err := f.Truncate(size); err != nil {
			_ = f.Close()
			return nil, cerrors.Wrap(cerrors.BoundsCheck, "failed to size shared-memory file", err)
		}
	}

	region, err := mmap.MapRegion(f, int(size), mmap.RDWR, 0, 0)
	if err != nil {
		_ = f.Close()
		return nil, cerrors.Wrap(cerrors.BoundsCheck, "failed to mmap shared-memory file", err)
	}

	return &Mapping{file: f, m: region}, nil
}

// Bytes returns the mapped region, past the container header if this
// Mapping came from CreateContainer or OpenContainer. Hand it to
// membuf.Wrap.
func (mp *Mapping) Bytes() []byte { return mp.m[mp.offset:] }

// CreateContainer behaves like Map, but reserves container.HeaderLength
// bytes ahead of the regionSize-byte region and stamps them with magic
// via container.WriteHeader, so a reader that does not already know
// this file's kind can find it with container.Sniff. The header is
// (re)written on every call, which is harmless: it only ever encodes
// magic and regionSize, both supplied by the caller. Bytes() returns
// the region after the header, ready for membuf.Wrap.
func CreateContainer(path string, magic container.Magic, regionSize int64) (*Mapping, error) {
	mp, err := Map(path, int64(container.HeaderLength)+regionSize)
	if err != nil {
		return nil, err
	}
	if err := container.WriteHeader(mp.file, magic, regionSize); err != nil {
		_ = mp.Close()
		return nil, err
	}
	mp.offset = container.HeaderLength
	return mp, nil
}

// OpenContainer maps an existing container.HeaderLength-prefixed file,
// for callers that already resolved its kind via container.Sniff.
// Bytes() returns the region after the header.
func OpenContainer(path string) (*Mapping, error) {
	mp, err := Map(path, 0)
	if err != nil {
		return nil, err
	}
	if len(mp.m) < container.HeaderLength {
		_ = mp.Close()
		return nil, cerrors.New(cerrors.BoundsCheck, "file too small to hold a container header")
	}
	mp.offset = container.HeaderLength
	return mp, nil
}

// Sync flushes dirty pages back to the file.
func (mp *Mapping) Sync() error {
	if err := mp.m.Flush(); err != nil {
		return cerrors.Wrap(cerrors.BoundsCheck, "failed to sync mapping", err)
	}
	return nil
}

// Close unmaps the region and closes the file descriptor.
func (mp *Mapping) Close() error {
	unmapErr := mp.m.Unmap()
	closeErr := mp.file.Close()
	if unmapErr != nil {
		return cerrors.Wrap(cerrors.BoundsCheck, "failed to unmap shared-memory file", unmapErr)
	}
	if closeErr != nil {
		return cerrors.Wrap(cerrors.BoundsCheck, "failed to close shared-memory file", closeErr)
	}
	return nil
}

// sanitizePath mirrors the teacher's SanitizeFilename: strip characters
// that are invalid in a path component on the current OS.
func sanitizePath(path string) string {
	dir := filepath.Dir(path)
	base := filepath.Base(path)

	if runtime.GOOS == "windows" {
		for _, c := range []string{"<", ">", ":", "\"", "|", "?", "*"} {
			base = strings.ReplaceAll(base, c, "_")
		}
	}
	base = strings.ReplaceAll(base, "\x00", "_")
	return filepath.Join(dir, base)
}

// retry mirrors the teacher's RetryFileOperation: short, bounded
// retries for transient failures (antivirus locks, overlay-fs quirks,
// brief resource exhaustion), failing fast on the last attempt.
func retry(op func() error) error {
	const (
		attempts = 3
		delay    = 10 * time.Millisecond
	)
	var lastErr error
	for i := 0; i < attempts; i++ {
		if err := op(); err == nil {
			return nil
		} else {
			lastErr = err
		}
		if i < attempts-1 {
			time.Sleep(delay)
		}
	}
	return lastErr
}

// main.go: read-only inspector for counters and ring-buffer files
//
// Copyright (c) 2025 AGILira
// Series: an AGILira fragment
// SPDX-License-Identifier: MPL-2.0

// Command concordctl memory-maps a counters file pair or a ring-buffer
// file and prints what it finds: allocated counters, or drained ring
// records. It never allocates a counter or writes a ring record, though
// draining a ring advances that ring's consumer (head) position. It
// exercises the scanning/read paths exactly as spec.md §1 and §6
// describe them.
//
// Flags are parsed with github.com/agilira/flash-flags, matching the
// scale of the rest of this module: one binary, no subcommand
// framework.
package main

import (
	"errors"
	"fmt"
	"os"
	"time"

	flashflags "github.com/agilira/flash-flags"

	"github.com/agilira/concord/container"
	"github.com/agilira/concord/counters"
	"github.com/agilira/concord/epochclock"
	"github.com/agilira/concord/internal/membuf"
	"github.com/agilira/concord/ringbuffer"
	"github.com/agilira/concord/shmfile"
)

// errLimitReached stops a ForEachAllocated walk once -limit counters
// have been printed; it never reaches the caller as a real failure.
var errLimitReached = errors.New("limit reached")

func main() {
	fs := flashflags.New("concordctl")
	file := fs.String("file", "", "path to a counters or ring-buffer file")
	valuesFile := fs.String("values", "", "path to the paired values file (counters kind only)")
	kind := fs.String("kind", "auto", "counters | ring | auto")
	limit := fs.Int("limit", 100, "max records/counters to print")
	follow := fs.Bool("follow", false, "for -kind=ring, keep polling for new records instead of exiting once drained")

	if err := fs.Parse(os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	if *file == "" {
		fmt.Fprintln(os.Stderr, "concordctl: -file is required")
		os.Exit(2)
	}

	if err := run(*file, *valuesFile, *kind, *limit, *follow); err != nil {
		fmt.Fprintln(os.Stderr, "concordctl:", err)
		os.Exit(1)
	}
}

func run(path, valuesPath, kind string, limit int, follow bool) error {
	resolvedKind := kind
	// headered tracks whether path carries a container.HeaderLength
	// magic prefix (written by shmfile.CreateContainer): only auto
	// detection via Sniff implies one is present. A file named
	// explicitly with -kind is always mapped as the bare region, since
	// most files this module writes never get a container header.
	headered := false
	if resolvedKind == "auto" {
		sniffed, err := container.Sniff(path)
		if err != nil {
			return err
		}
		resolvedKind = sniffed
		headered = true
	}

	switch resolvedKind {
	case "counters":
		return dumpCounters(path, valuesPath, limit, headered)
	case "ring":
		return dumpRing(path, limit, follow, headered)
	default:
		return fmt.Errorf("unknown kind %q", resolvedKind)
	}
}

// mapRegion maps path as a bare region, or skips past a container
// header first when headered is set, so the region handed to
// membuf.Wrap always starts at the same place Sniff would expect.
func mapRegion(path string, headered bool) (*shmfile.Mapping, error) {
	if headered {
		return shmfile.OpenContainer(path)
	}
	return shmfile.Map(path, 0)
}

func dumpCounters(metadataPath, valuesPath string, limit int, headered bool) error {
	if valuesPath == "" {
		return fmt.Errorf("-values is required for -kind=counters")
	}

	metaMapping, err := mapRegion(metadataPath, headered)
	if err != nil {
		return err
	}
	defer metaMapping.Close()

	valuesMapping, err := shmfile.Map(valuesPath, 0)
	if err != nil {
		return err
	}
	defer valuesMapping.Close()

	mgr, err := counters.NewManager(
		membuf.Wrap(metaMapping.Bytes()),
		membuf.Wrap(valuesMapping.Bytes()),
		epochclock.SystemClock(),
		0,
	)
	if err != nil {
		return err
	}

	printed := 0
	err = mgr.ForEachAllocated(func(r counters.Record) error {
		if printed >= limit {
			return errLimitReached
		}
		fmt.Printf("%d\ttype=%d\tvalue=%d\tlabel=%q\n", r.ID, r.TypeID, r.Value, r.Label)
		printed++
		return nil
	})
	if errors.Is(err, errLimitReached) {
		return nil
	}
	return err
}

// dumpRing drains up to limit records from path. With follow, it keeps
// polling after the ring is empty instead of returning, printing newly
// published records as a single producer writes them, until limit
// records have been printed. Reading advances the ring's shared
// consumer position like any consumer's Read, so it contends with any
// other consumer of the same ring buffer.
func dumpRing(path string, limit int, follow bool, headered bool) error {
	mapping, err := mapRegion(path, headered)
	if err != nil {
		return err
	}
	defer mapping.Close()

	buf := membuf.Wrap(mapping.Bytes())
	rb, err := ringbuffer.NewSPSC(buf)
	if err != nil {
		return err
	}

	printRecord := func(typeID int32, payload []byte) error {
		fmt.Printf("type=%d\tlength=%d\n", typeID, len(payload))
		return nil
	}

	total := 0
	for {
		n, err := rb.Read(printRecord, limit-total)
		if err != nil {
			return err
		}
		total += n
		if total >= limit {
			break
		}
		if !follow {
			if n == 0 {
				break
			}
			continue
		}
		if n == 0 {
			time.Sleep(50 * time.Millisecond)
		}
	}
	fmt.Printf("%d record(s)\n", total)
	return nil
}

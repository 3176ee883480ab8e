// quarantine.go: free-to-reuse timeout parsing and hot-reload
//
// Copyright (c) 2025 AGILira
// Series: an AGILira fragment
// SPDX-License-Identifier: MPL-2.0

// Package quarantine configures the counters store's free-to-reuse
// window: how long a freed counter id sits quarantined before it can be
// handed back out by Manager.Allocate. It reuses the teacher's duration
// suffix grammar from config.go (ParseDuration), renamed to what it
// configures here, and adds an optional github.com/agilira/argus-backed
// watcher so the timeout can be hot-reloaded from a small config file
// without restarting the owning process.
package quarantine

import (
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/agilira/argus"

	"github.com/agilira/concord/internal/cerrors"
)

// ParseTimeout converts strings like "500ms", "5s", "7d" into a
// time.Duration. Standard Go durations are tried first; "d"/"w"/"y"
// suffixes extend that grammar the way the teacher's ParseDuration
// does for log-file max age.
func ParseTimeout(s string) (time.Duration, error) {
	if s == "" {
		return 0, cerrors.New(cerrors.ArgBounds, "empty timeout string")
	}
	if d, err := time.ParseDuration(s); err == nil {
		return d, nil
	}

	lower := strings.ToLower(s)
	var multiplier time.Duration
	var numStr string
	switch {
	case strings.HasSuffix(lower, "d"):
		multiplier = 24 * time.Hour
		numStr = lower[:len(lower)-1]
	case strings.HasSuffix(lower, "w"):
		multiplier = 7 * 24 * time.Hour
		numStr = lower[:len(lower)-1]
	case strings.HasSuffix(lower, "y"):
		multiplier = 365 * 24 * time.Hour
		numStr = lower[:len(lower)-1]
	default:
		return 0, cerrors.New(cerrors.ArgBounds, "unknown timeout suffix: "+s)
	}

	val, err := strconv.ParseInt(numStr, 10, 64)
	if err != nil {
		return 0, cerrors.Wrap(cerrors.ArgBounds, "invalid timeout number: "+s, err)
	}
	return time.Duration(val) * multiplier, nil
}

// Setter receives a freshly parsed timeout in milliseconds. A
// counters.Manager does not itself expose a settable timeout field (it
// is fixed at construction, matching §4.3's constructor contract); callers
// that want hot-reload store the value in an atomic.Int64 a Setter
// closes over and have their allocation path read it instead of a fixed
// constant.
type Setter func(timeoutMs int64)

// Watcher hot-reloads a free-to-reuse timeout from a config file's
// "free_to_reuse_timeout" key, using argus to watch the file for
// changes. Construct one around an atomic value the counters
// allocation path consults; Watcher never touches a Manager directly.
type Watcher struct {
	current atomic.Int64
	watcher *argus.Watcher
}

// NewWatcher applies initial immediately via set, then starts watching
// path and applies the file's free_to_reuse_timeout value via set on
// every subsequent change.
func NewWatcher(path string, initial time.Duration, set Setter) (*Watcher, error) {
	w := &Watcher{}
	w.current.Store(initial.Milliseconds())
	set(w.current.Load())

	av, err := argus.New(argus.Config{
		FilePath: path,
	})
	if err != nil {
		return nil, cerrors.Wrap(cerrors.BoundsCheck, "failed to start config watcher", err)
	}

	av.OnChange(func(cfg argus.ConfigSnapshot) {
		raw, ok := cfg.GetString("free_to_reuse_timeout")
		if !ok {
			return
		}
		d, err := ParseTimeout(raw)
		if err != nil {
			return
		}
		w.current.Store(d.Milliseconds())
		set(d.Milliseconds())
	})

	if err := av.Start(); err != nil {
		return nil, cerrors.Wrap(cerrors.BoundsCheck, "failed to start config watcher", err)
	}

	w.watcher = av
	return w, nil
}

// CurrentMillis returns the most recently applied timeout, in
// milliseconds.
func (w *Watcher) CurrentMillis() int64 { return w.current.Load() }

// Close stops watching the config file.
func (w *Watcher) Close() error {
	if w.watcher == nil {
		return nil
	}
	return w.watcher.Stop()
}

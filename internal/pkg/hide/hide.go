// Package hide implements MagiskHide's process list and the background
// worker that unmounts root-revealing mounts from newly launched target
// processes (spec.md §4.9). The teacher has no equivalent of its own;
// this package is grounded directly on
// original_source/native/jni/magiskhide/proc_monitor.cpp, translated
// from a pthread_cancel-driven C worker into one goroutine per Engine
// cancelled via context.Context, and from bare fork() into a re-exec'd
// hide-worker subprocess (design note, SPEC_FULL.md §9).
package hide

import (
	"context"
)

// Engine is the interface both hide-process-discovery backends satisfy:
// a logcat stream reader and an inotify-based packages.xml watcher
// (spec.md §9 ambiguity a — implementation choice resolved in
// DESIGN.md).
type Engine interface {
	// Start begins watching for target process launches in the
	// background; it returns once the watch is established, not when it
	// stops. Cancelling ctx stops the engine.
	Start(ctx context.Context) error

	// Stop tears down a running engine; idempotent.
	Stop() error

	// Enabled reports whether Start has been called and Stop has not.
	Enabled() bool

	// Add, Remove and List manage the persisted hide list; List returns
	// a multiplicity-free set (spec.md §8 property 6).
	Add(process string) error
	Remove(process string) error
	List() ([]string, error)
}

// Store is the subset of *db.DB the engine needs, kept as an interface
// here so hide_test.go can substitute an in-memory fake instead of
// standing up a real bbolt file.
type Store interface {
	HideAdd(process string) error
	HideRemove(process string) error
	HideList() ([]string, error)
}

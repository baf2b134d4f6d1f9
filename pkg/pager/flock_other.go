//go:build !unix

// pkg/pager/flock_other.go
package pager

import "os"

// Advisory locking is not wired up on this platform; callers keep the
// single-owner contract themselves.
func lockFile(_ *os.File) error { return nil }

func unlockFile(_ *os.File) error { return nil }

// Package groutine starts goroutines that carry a name. The name shows up as a
// pprof label in goroutine profiles and can be read back from the goroutine's context.
package groutine

import (
	"bytes"
	"context"
	"runtime"
	"runtime/pprof"
	"strconv"
)

const labelKey = "goroutine_name"

type nameKey struct{}

// Go runs fn on a new goroutine called name and returns a channel closed when fn returns.
// A nil parent selects context.Background.
//
//	done := groutine.Go(ctx, "radio-scan", func(ctx context.Context) {
//	    // work until ctx is done
//	})
//	<-done
func Go(parent context.Context, name string, fn func(ctx context.Context)) <-chan struct{} {
	if parent == nil {
		parent = context.Background()
	}

	done := make(chan struct{})
	go pprof.Do(parent, pprof.Labels(labelKey, name), func(ctx context.Context) {
		defer close(done)
		fn(context.WithValue(ctx, nameKey{}, name))
	})
	return done
}

// GetName returns the name given to Go, or "" for a context not created by Go.
func GetName(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	name, _ := ctx.Value(nameKey{}).(string)
	return name
}

// GetGID parses the current goroutine id from the stack header. Debugging aid only.
func GetGID() uint64 {
	var buf [64]byte
	n := runtime.Stack(buf[:], false)

	// "goroutine 17 [running]:"
	fields := bytes.Fields(buf[:n])
	if len(fields) < 2 {
		return 0
	}
	gid, _ := strconv.ParseUint(string(fields[1]), 10, 64)
	return gid
}

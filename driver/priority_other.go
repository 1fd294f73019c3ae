//go:build !linux && !darwin

package driver

// RaisePriority is a no-op on platforms without a POSIX setpriority(2)
// (see priority_unix.go for the real implementation).
func RaisePriority(ctx *Context, prio int) {}

//go:build !verify

package contract

const failFast = false

// goid is only needed by verify builds.
func goid() int64 { return 0 }

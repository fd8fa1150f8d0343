//go:build verify

package contract

import "github.com/joeycumines/conduct/internal/goroutineid"

const failFast = true

func goid() int64 { return goroutineid.Get() }

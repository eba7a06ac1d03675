//go:build !linux

package streamcache

import "os"

func adviseSequential(*os.File) {}

// Package envconst reads tunables from environment variables once and caches
// the parsed value for the lifetime of the process.
package envconst

import (
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/pkg/errors"
)

var cache sync.Map

func lookup[T any](varname string, def T, parse func(string) (T, error)) T {
	if v, ok := cache.Load(varname); ok {
		return v.(T)
	}
	e := os.Getenv(varname)
	if e == "" {
		return def
	}
	v, err := parse(e)
	if err != nil {
		panic(errors.Wrapf(err, "invalid value for environment variable %s", varname))
	}
	cache.Store(varname, v)
	return v
}

func Duration(varname string, def time.Duration) time.Duration {
	return lookup(varname, def, time.ParseDuration)
}

func Int(varname string, def int) int {
	return lookup(varname, def, func(s string) (int, error) {
		i, err := strconv.ParseInt(s, 10, strconv.IntSize)
		return int(i), err
	})
}

func Bool(varname string, def bool) bool {
	return lookup(varname, def, strconv.ParseBool)
}

func String(varname string, def string) string {
	return lookup(varname, def, func(s string) (string, error) { return s, nil })
}

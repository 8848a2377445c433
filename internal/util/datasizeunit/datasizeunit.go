// Package datasizeunit parses human-readable byte sizes such as "64 KiB" in
// config files.
package datasizeunit

import (
	"errors"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
)

type Bytes struct {
	bytes int64
}

func (b Bytes) ToBytes() int64 { return b.bytes }

// ToKiB rounds down.
func (b Bytes) ToKiB() int { return int(b.bytes >> 10) }

func FromBytes(i int64) Bytes { return Bytes{i} }

var sizeRegex = regexp.MustCompile(`^([0-9]+(?:\.[0-9]+)?)\s*(|K|Ki|M|Mi|G|Gi)B?$`)

var factorMap = map[string]float64{
	"": 1,

	"K": 1e3,
	"M": 1e6,
	"G": 1e9,

	"Ki": 1 << 10,
	"Mi": 1 << 20,
	"Gi": 1 << 30,
}

func Parse(s string) (Bytes, error) {
	genericErr := func(err error) error {
		var buf strings.Builder
		fmt.Fprintf(&buf, "cannot parse %q using regex %s", s, sizeRegex)
		if err != nil {
			fmt.Fprintf(&buf, ": %s", err)
		}
		return errors.New(buf.String())
	}

	match := sizeRegex.FindStringSubmatch(strings.TrimSpace(s))
	if match == nil {
		return Bytes{}, genericErr(nil)
	}
	n, err := strconv.ParseFloat(match[1], 64)
	if err != nil {
		return Bytes{}, genericErr(err)
	}
	factor, ok := factorMap[match[2]]
	if !ok {
		panic(match)
	}
	b := n * factor
	if b != math.Trunc(b) {
		return Bytes{}, genericErr(fmt.Errorf("not a whole number of bytes"))
	}
	if b > math.MaxInt32 {
		return Bytes{}, genericErr(fmt.Errorf("too large"))
	}
	return Bytes{int64(b)}, nil
}

// UnmarshalYAML accepts a plain integer number of bytes or a size string.
func (r *Bytes) UnmarshalYAML(u func(interface{}, bool) error) error {
	var s string
	if err := u(&s, false); err != nil {
		return err
	}
	if i, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64); err == nil {
		if i < 0 {
			return fmt.Errorf("size must not be negative: %d", i)
		}
		if i > math.MaxInt32 {
			return fmt.Errorf("size too large: %d", i)
		}
		r.bytes = i
		return nil
	}
	b, err := Parse(s)
	if err != nil {
		return err
	}
	*r = b
	return nil
}

func (r Bytes) String() string {
	switch {
	case r.bytes != 0 && r.bytes%(1<<30) == 0:
		return fmt.Sprintf("%d GiB", r.bytes>>30)
	case r.bytes != 0 && r.bytes%(1<<20) == 0:
		return fmt.Sprintf("%d MiB", r.bytes>>20)
	case r.bytes != 0 && r.bytes%(1<<10) == 0:
		return fmt.Sprintf("%d KiB", r.bytes>>10)
	default:
		return fmt.Sprintf("%d B", r.bytes)
	}
}

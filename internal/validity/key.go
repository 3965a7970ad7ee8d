package validity

import (
	"hash/fnv"
	"strconv"
)

// Key identifies one cached feed. Discover feeds carry their query string in Handle.
type Key struct {
	Handle string
	Format string
}

func (k Key) String() string {
	return "key:" + k.Handle + ":" + k.Format
}

// Hash is the FNV-64a digest of String, used as the external cache key.
func (k Key) Hash() string {
	h := fnv.New64a()
	_, _ = h.Write([]byte(k.String()))
	return strconv.FormatUint(h.Sum64(), 16)
}

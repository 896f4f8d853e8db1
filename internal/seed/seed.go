// Package seed derives reproducible random seeds and tie-break keys.
package seed

import (
	"encoding/binary"
	"strconv"

	"github.com/cespare/xxhash/v2"
)

// Derive combines learner, session and attempt counter into a seed. The same
// inputs give the same seed on every platform and process.
func Derive(learnerID, sessionID string, counter int64) int64 {
	d := xxhash.New()
	_, _ = d.WriteString(learnerID)
	_, _ = d.Write([]byte{0})
	_, _ = d.WriteString(sessionID)
	_, _ = d.Write([]byte{0})
	_, _ = d.WriteString(strconv.FormatInt(counter, 10))
	return int64(d.Sum64() &^ (1 << 63))
}

// TieKey orders equal-scored candidates. It depends only on the seed and the
// candidate key, never on input order.
func TieKey(seed int64, key string) uint64 {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], uint64(seed))
	d := xxhash.New()
	_, _ = d.Write(buf[:])
	_, _ = d.WriteString(key)
	return d.Sum64()
}

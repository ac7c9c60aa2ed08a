// Package sortkey builds interaction ordering keys and advisory lock tokens.
package sortkey

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
)

// Next returns the ordering key for an interaction admitted at wallClockMillis
// in the given block. Keys compare as plain strings in (height, millis) order;
// the digest only breaks ties inside one millisecond.
func Next(blockHeight int64, wallClockMillis int64, blockID, txID, processSecret string) string {
	h := sha256.New()
	h.Write([]byte(blockID))
	h.Write([]byte(txID))
	h.Write([]byte(processSecret))
	return fmt.Sprintf("%012d,%d,%s", blockHeight, wallClockMillis, hex.EncodeToString(h.Sum(nil)))
}

// LockToken derives the two-part advisory lock key for an identifier: the
// first and second little-endian int32 words of its SHA-256 digest.
func LockToken(identifier string) (int32, int32) {
	sum := sha256.Sum256([]byte(identifier))
	return int32(binary.LittleEndian.Uint32(sum[0:4])), int32(binary.LittleEndian.Uint32(sum[4:8]))
}

// After reports whether candidate is strictly later than last. A nil last
// means the contract has no interactions yet.
func After(candidate string, last *string) bool {
	return last == nil || candidate > *last
}

// Prefix returns the block height and admission millis encoded in key.
func Prefix(key string) (height int64, millis int64, ok bool) {
	parts := strings.SplitN(key, ",", 3)
	if len(parts) != 3 {
		return 0, 0, false
	}
	height, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		return 0, 0, false
	}
	millis, err = strconv.ParseInt(parts[1], 10, 64)
	if err != nil {
		return 0, 0, false
	}
	return height, millis, true
}

package idempotency

import (
	"crypto/sha256"
	"encoding/hex"
	"strconv"
)

// UpdateKey derives the storage key for one Telegram delivery. The scope
// separates key spaces (update, callback, message) so equal ids never collide.
func UpdateKey(scope string, ids ...int64) string {
	buf := make([]byte, 0, len(scope)+len(ids)*12)
	buf = append(buf, scope...)
	for _, id := range ids {
		buf = append(buf, ':')
		buf = strconv.AppendInt(buf, id, 10)
	}

	sum := sha256.Sum256(buf)
	return hex.EncodeToString(sum[:])
}

// CallbackKey is UpdateKey for callback queries, whose ids are strings.
func CallbackKey(id string) string {
	sum := sha256.Sum256([]byte("cb:" + id))
	return hex.EncodeToString(sum[:])
}

package xid

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"math/big"
	"time"
)

func New(prefix string) string {
	buf := make([]byte, 8)
	if _, err := rand.Read(buf); err != nil {
		return fmt.Sprintf("%s-%d", prefix, time.Now().UnixNano())
	}
	return fmt.Sprintf("%s-%d-%s", prefix, time.Now().UnixNano(), hex.EncodeToString(buf))
}

// OrderNo builds the receipt-visible order number: ORD + timestamp down
// to the second + 4 random digits. Collisions within the same second are
// possible but not guarded against.
func OrderNo(at time.Time) string {
	return fmt.Sprintf("ORD%s%04d", at.Format("20060102150405"), randDigits(10000))
}

// ReturnNo builds a return number from the day and a per-day sequence:
// RT + YYYYMMDD + zero-padded counter. The sequence is supplied by the
// store so it can be computed inside the write transaction.
func ReturnNo(at time.Time, seq int) string {
	return fmt.Sprintf("RT%s%04d", at.Format("20060102"), seq)
}

func randDigits(mod int64) int64 {
	n, err := rand.Int(rand.Reader, big.NewInt(mod))
	if err != nil {
		return time.Now().UnixNano() % mod
	}
	return n.Int64()
}

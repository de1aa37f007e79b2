package xid

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

func New(prefix string) string {
	return fmt.Sprintf("%s-%s", prefix, uuid.NewString())
}

// PONumber builds a purchase order number such as 20261016-3F9A1C2B.
func PONumber(at time.Time) string {
	suffix := strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", "")[:8])
	return fmt.Sprintf("%s-%s", at.UTC().Format("20060102"), suffix)
}

package dedupe

import (
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"strings"
	"time"

	"github.com/af-corp/scout/internal/types"
)

// Fingerprint identifies a request for deduplication: chat id, group, model,
// message count, whitespace-normalized content and the arrival time bucket.
// Two submissions of the same conversation within one bucket collide.
func Fingerprint(req *types.ChatRequest, bucket time.Duration) string {
	if bucket <= 0 {
		bucket = time.Second
	}
	h := sha256.New()
	write := func(s string) {
		h.Write([]byte(s))
		h.Write([]byte{0})
	}

	write(req.ID)
	write(req.Group)
	write(req.Model)
	write(strconv.Itoa(len(req.Messages)))
	for _, m := range req.Messages {
		write(string(m.Role))
		write(strings.Join(strings.Fields(m.Content), " "))
	}
	write(strconv.FormatInt(req.ReceivedAt.UnixNano()/int64(bucket), 10))

	return hex.EncodeToString(h.Sum(nil))
}

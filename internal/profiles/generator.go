// Package profiles fabricates the handles shown as "stalkers".
package profiles

import (
	"fmt"
	"math/rand/v2"
	"strings"
	"time"
)

const DefaultCount = 5

var (
	prefixes = []string{
		"dark", "silent", "lovely", "crazy", "secret", "tiny", "golden", "lost",
		"sweet", "wild", "urban", "sunny", "midnight", "lazy", "happy", "cosmic",
	}
	stems = []string{
		"fox", "rose", "wolf", "angel", "ghost", "tiger", "moon", "cat",
		"queen", "rider", "dreamer", "shadow", "star", "bee", "panda", "storm",
	}
	separators = []string{"", "_", "."}
)

// Generator produces pseudo-random Instagram-like handles. A user gets the
// same handles for the whole UTC day, so a blurred preview and the full list
// that follows it match.
type Generator struct {
	count int
	now   func() time.Time
}

// NewGenerator creates a generator returning count handles per call.
func NewGenerator(count int) *Generator {
	if count <= 0 {
		count = DefaultCount
	}
	return &Generator{count: count, now: time.Now}
}

// WithClock replaces the time source.
func (g *Generator) WithClock(now func() time.Time) *Generator {
	if now != nil {
		g.now = now
	}
	return g
}

// Generate returns the handles for userID, masked when blur is set.
func (g *Generator) Generate(userID int64, blur bool) []string {
	day := uint64(g.now().UTC().Unix() / 86400)
	rng := rand.New(rand.NewPCG(uint64(userID), day))

	seen := make(map[string]struct{}, g.count)
	out := make([]string, 0, g.count)
	for len(out) < g.count {
		handle := fmt.Sprintf("%s%s%s%d",
			prefixes[rng.IntN(len(prefixes))],
			separators[rng.IntN(len(separators))],
			stems[rng.IntN(len(stems))],
			rng.IntN(100),
		)
		if _, dup := seen[handle]; dup {
			continue
		}
		seen[handle] = struct{}{}

		if blur {
			handle = Blur(handle)
		}
		out = append(out, handle)
	}

	return out
}

// Blur keeps the first and last character of handle and masks the rest.
func Blur(handle string) string {
	runes := []rune(handle)
	if len(runes) <= 2 {
		return strings.Repeat("*", len(runes))
	}
	return string(runes[0]) + strings.Repeat("*", len(runes)-2) + string(runes[len(runes)-1])
}

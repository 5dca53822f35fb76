package profiles

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBlur(t *testing.T) {
	assert.Equal(t, "d******x", Blur("darkfoxx"))
	assert.Equal(t, "a*c", Blur("abc"))
	assert.Equal(t, "**", Blur("ab"))
	assert.Equal(t, "", Blur(""))
}

func TestGenerator_StablePerDay(t *testing.T) {
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	g := NewGenerator(5).WithClock(func() time.Time { return now })

	full := g.Generate(42, false)
	require.Len(t, full, 5)

	blurred := g.Generate(42, true)
	require.Len(t, blurred, 5)
	for i := range full {
		assert.Equal(t, Blur(full[i]), blurred[i])
		assert.True(t, strings.Contains(blurred[i], "*"))
	}

	now = now.Add(10 * time.Hour)
	assert.Equal(t, full, g.Generate(42, false), "same UTC day yields the same handles")
}

func TestGenerator_UniqueHandles(t *testing.T) {
	g := NewGenerator(20)
	handles := g.Generate(7, false)

	seen := make(map[string]bool)
	for _, h := range handles {
		assert.False(t, seen[h], "duplicate handle %s", h)
		seen[h] = true
	}
}

func TestGenerator_DefaultCount(t *testing.T) {
	assert.Len(t, NewGenerator(0).Generate(1, false), DefaultCount)
}

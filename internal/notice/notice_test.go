package notice

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFeedKeepsNewestFirst(t *testing.T) {
	t.Parallel()

	f := NewFeed(3)
	for i := 0; i < 5; i++ {
		f.Notify(LevelInfo, fmt.Sprintf("n%d", i))
	}

	got := f.Recent()
	require.Len(t, got, 3)
	assert.Equal(t, "n4", got[0].Message)
	assert.Equal(t, "n2", got[2].Message)
	assert.NotEqual(t, got[0].ID, got[1].ID)
}

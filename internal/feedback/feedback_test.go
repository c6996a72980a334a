package feedback

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fixedClock() time.Time {
	return time.Date(2024, 3, 9, 14, 5, 7, 900_000_000, time.FixedZone("CET", 3600))
}

func TestLogCreatesDirectoryAndAppends(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "nested", "feedback.csv")
	l := NewLogger(path).WithClock(fixedClock)
	assert.Equal(t, path, l.Path())

	_, err := l.Log("rose", VoteCorrect)
	require.NoError(t, err)
	_, err = l.Log("tulip", VoteIncorrect)
	require.NoError(t, err)

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "2024-03-09T13:05:07,rose,correct\n2024-03-09T13:05:07,tulip,incorrect\n", string(raw))
}

func TestLogQuotesFields(t *testing.T) {
	path := filepath.Join(t.TempDir(), "feedback.csv")
	l := NewLogger(path).WithClock(fixedClock)

	_, err := l.Log(`sun, "flower"`, VoteCorrect)
	require.NoError(t, err)

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, `2024-03-09T13:05:07,"sun, ""flower""",correct`+"\n", string(raw))

	entries, err := l.Read()
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, `sun, "flower"`, entries[0].Class)
}

func TestLogConcurrent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "feedback.csv")
	l := NewLogger(path)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := l.Log(fmt.Sprintf("class-%d", i), VoteCorrect)
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(raw)), "\n")
	assert.Len(t, lines, 50)
	for _, line := range lines {
		assert.Len(t, strings.Split(line, ","), 3)
	}
}

func TestReadMissingFile(t *testing.T) {
	entries, err := NewLogger(filepath.Join(t.TempDir(), "none.csv")).Read()
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestReadRejectsMalformed(t *testing.T) {
	path := filepath.Join(t.TempDir(), "feedback.csv")
	require.NoError(t, os.WriteFile(path, []byte("yesterday,rose,correct\n"), 0o644))

	_, err := NewLogger(path).Read()
	assert.Error(t, err)
}

func TestSummarize(t *testing.T) {
	path := filepath.Join(t.TempDir(), "feedback.csv")
	l := NewLogger(path).WithClock(fixedClock)
	for _, row := range [][2]string{
		{"rose", VoteCorrect},
		{"rose", VoteIncorrect},
		{"rose", VoteCorrect},
		{"daisy", "maybe"},
	} {
		_, err := l.Log(row[0], row[1])
		require.NoError(t, err)
	}

	entries, err := l.Read()
	require.NoError(t, err)
	require.Len(t, entries, 4)
	assert.Equal(t, time.Date(2024, 3, 9, 13, 5, 7, 0, time.UTC), entries[0].Timestamp)

	tally := Summarize(entries)
	assert.Equal(t, Tally{Correct: 2, Incorrect: 1}, *tally["rose"])
	assert.Equal(t, Tally{Other: 1}, *tally["daisy"])
}

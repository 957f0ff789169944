package timeutil

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWindow(t *testing.T) {
	now := time.Date(2024, 10, 16, 12, 0, 0, 0, Location())

	start, end := Window(now, 7, 13)

	assert.Equal(t, "2024-10-09", start)
	assert.Equal(t, "2024-10-29", end)
}

func TestFeedDate(t *testing.T) {
	got, err := FeedDate("2024-10-16 08:45:00")
	require.NoError(t, err)
	assert.Equal(t, "2024-10-16", got)

	got, err = FeedDate("2024-10-16")
	require.NoError(t, err)
	assert.Equal(t, "2024-10-16", got)

	_, err = FeedDate("16.10.2024")
	assert.Error(t, err)
}

func TestWeekAndMonthBounds(t *testing.T) {
	wed := time.Date(2024, 10, 16, 15, 30, 0, 0, Location())

	assert.Equal(t, "2024-10-14", FormatDate(StartOfWeek(wed)))
	assert.Equal(t, "2024-10-20", FormatDate(EndOfWeek(wed)))
	assert.Equal(t, "2024-10-01", FormatDate(StartOfMonth(wed)))
	assert.Equal(t, "2024-10-31", FormatDate(EndOfMonth(wed)))

	sunday := time.Date(2024, 10, 20, 9, 0, 0, 0, Location())
	assert.Equal(t, "2024-10-14", FormatDate(StartOfWeek(sunday)))
}

func TestParseDate(t *testing.T) {
	d, err := ParseDate("2024-02-29")
	require.NoError(t, err)
	assert.Equal(t, 29, d.Day())

	_, err = ParseDate("2024-02-30")
	assert.Error(t, err)
}

func TestSetLocationRejectsUnknown(t *testing.T) {
	before := Location()
	assert.Error(t, SetLocation("Mars/Olympus"))
	assert.Equal(t, before, Location())
}

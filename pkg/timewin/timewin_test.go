package timewin

import (
	"testing"
	"time"
	_ "time/tzdata"

	"github.com/stretchr/testify/require"
)

func mustLoad(t *testing.T, name string) *time.Location {
	t.Helper()
	loc, err := time.LoadLocation(name)
	require.NoError(t, err)
	return loc
}

func TestStartEndOfDay(t *testing.T) {
	chicago := mustLoad(t, "America/Chicago")
	// 2016-04-07T03:30Z 在芝加哥仍是 4 月 6 日
	in := time.Date(2016, 4, 7, 3, 30, 0, 0, time.UTC)

	start := StartOfDay(in, chicago)
	require.Equal(t, time.Date(2016, 4, 6, 0, 0, 0, 0, chicago), start)

	end := EndOfDay(in, chicago)
	require.Equal(t, time.Date(2016, 4, 6, 23, 59, 59, int(999*time.Millisecond), chicago), end)
}

func TestLastAvailableVideoBoundary(t *testing.T) {
	now := time.Date(2016, 4, 7, 13, 4, 0, 0, time.UTC)
	got, ok := LastAvailableVideoBoundary(now, time.UTC, 10*time.Minute, now)
	require.True(t, ok)
	require.True(t, got.Equal(time.Date(2016, 4, 7, 12, 0, 0, 0, time.UTC)), "got %s", got)
}

func TestLastAvailableVideoBoundaryNeverExceedsLimit(t *testing.T) {
	grace := 10 * time.Minute
	base := time.Date(2016, 4, 7, 0, 0, 0, 0, time.UTC)
	for m := 0; m < 24*60; m += 7 {
		now := base.Add(time.Duration(m) * time.Minute)
		got, ok := LastAvailableVideoBoundary(now, time.UTC, grace, now)
		if !ok {
			require.True(t, now.Add(-grace).Before(base.Add(time.Hour)), "no data at %s", now)
			continue
		}
		require.False(t, got.After(now.Add(-grace)), "boundary %s after limit at %s", got, now)
		require.Zero(t, got.Minute())
	}
}

func TestLastAvailableVideoBoundaryNoData(t *testing.T) {
	now := time.Date(2016, 4, 7, 0, 5, 0, 0, time.UTC)
	_, ok := LastAvailableVideoBoundary(now, time.UTC, 10*time.Minute, now)
	require.False(t, ok)

	// 边界回退到当日零点，当天一个完整小时都没有
	now = time.Date(2016, 4, 7, 0, 20, 0, 0, time.UTC)
	_, ok = LastAvailableVideoBoundary(now, time.UTC, 10*time.Minute, now)
	require.False(t, ok)

	now = time.Date(2016, 4, 7, 1, 10, 0, 0, time.UTC)
	got, ok := LastAvailableVideoBoundary(now, time.UTC, 10*time.Minute, now)
	require.True(t, ok)
	require.True(t, got.Equal(time.Date(2016, 4, 7, 1, 0, 0, 0, time.UTC)))
}

func TestLastAvailableVideoBoundaryPastDay(t *testing.T) {
	now := time.Date(2016, 4, 7, 13, 4, 0, 0, time.UTC)
	yesterday := now.AddDate(0, 0, -1)
	got, ok := LastAvailableVideoBoundary(yesterday, time.UTC, 10*time.Minute, now)
	require.True(t, ok)
	require.True(t, got.Equal(time.Date(2016, 4, 7, 0, 0, 0, 0, time.UTC)))
}

func TestCalculatorUsesClock(t *testing.T) {
	now := time.Date(2016, 4, 7, 13, 4, 0, 0, time.UTC)
	c := Calculator{Now: func() time.Time { return now }}
	got, ok := c.LastAvailableVideoBoundary(now, time.UTC, 10*time.Minute)
	require.True(t, ok)
	require.Equal(t, 12, got.Hour())
}

func TestChangeCivilTimeZoneRoundTrip(t *testing.T) {
	chicago := mustLoad(t, "America/Chicago")
	tokyo := mustLoad(t, "Asia/Tokyo")
	in := time.Date(2016, 2, 7, 13, 30, 15, int(250*time.Millisecond), chicago)

	moved := ChangeCivilTimeZone(in, chicago, tokyo)
	require.Equal(t, 13, moved.Hour())
	require.Equal(t, 30, moved.Minute())
	require.Equal(t, tokyo, moved.Location())
	require.False(t, moved.Equal(in))

	back := ChangeCivilTimeZone(moved, tokyo, chicago)
	y1, mo1, d1 := in.Date()
	y2, mo2, d2 := back.Date()
	require.Equal(t, []int{y1, int(mo1), d1, in.Hour(), in.Minute(), in.Second(), in.Nanosecond() / 1e6},
		[]int{y2, int(mo2), d2, back.Hour(), back.Minute(), back.Second(), back.Nanosecond() / 1e6})
}

func TestExtractTimestamp(t *testing.T) {
	chicago := mustLoad(t, "America/Chicago")
	cases := []struct {
		in   string
		want time.Time
	}{
		{"/data/R102/2016/February/07/20160207134500.jpg", time.Date(2016, 2, 7, 13, 45, 0, 0, chicago)},
		{"20160207134500123.jpg", time.Date(2016, 2, 7, 13, 45, 0, int(123*time.Millisecond), chicago)},
		{"cam_2016-02-07_13-45-00.png", time.Date(2016, 2, 7, 13, 45, 0, 0, chicago)},
		{"20160207000000_day_low.mp4", time.Date(2016, 2, 7, 0, 0, 0, 0, chicago)},
	}
	for _, tc := range cases {
		got, err := ExtractTimestamp(tc.in, chicago)
		require.NoError(t, err, tc.in)
		require.True(t, tc.want.Equal(got), "%s: got %s", tc.in, got)
	}

	_, err := ExtractTimestamp("readme.txt", chicago)
	require.Error(t, err)
}

func TestFormatTimestampInverse(t *testing.T) {
	chicago := mustLoad(t, "America/Chicago")
	in := time.Date(2016, 2, 7, 13, 45, 0, 0, chicago)
	got, err := ExtractTimestamp(FormatTimestamp(in, chicago)+".mp4", chicago)
	require.NoError(t, err)
	require.True(t, in.Equal(got))
}

func TestHourStartsDST(t *testing.T) {
	chicago := mustLoad(t, "America/Chicago")
	require.Len(t, HourStarts(time.Date(2016, 2, 7, 12, 0, 0, 0, chicago), chicago), 24)
	require.Len(t, HourStarts(time.Date(2016, 3, 13, 12, 0, 0, 0, chicago), chicago), 23)
	require.Len(t, HourStarts(time.Date(2016, 11, 6, 12, 0, 0, 0, chicago), chicago), 25)
}

func TestDaylight(t *testing.T) {
	chicago := mustLoad(t, "America/Chicago")
	day := time.Date(2016, 6, 21, 12, 0, 0, 0, chicago)
	w, ok := Daylight(day, chicago, 41.88, -87.63)
	require.True(t, ok)
	require.True(t, w.Start.Hour() >= 4 && w.Start.Hour() <= 6, "sunrise %s", w.Start)
	require.True(t, w.End.Hour() >= 19 && w.End.Hour() <= 21, "sunset %s", w.End)
	require.True(t, w.Contains(time.Date(2016, 6, 21, 12, 0, 0, 0, chicago)))
	require.False(t, w.Contains(time.Date(2016, 6, 21, 2, 0, 0, 0, chicago)))
}

func TestWindowOverlaps(t *testing.T) {
	day := time.Date(2016, 6, 21, 0, 0, 0, 0, time.UTC)
	w := FixedHours(day, time.UTC, 6, 18)
	require.True(t, w.Overlaps(day.Add(5*time.Hour+30*time.Minute), day.Add(6*time.Hour+30*time.Minute)))
	require.False(t, w.Overlaps(day.Add(18*time.Hour), day.Add(19*time.Hour)))
	require.True(t, WholeDay(day, time.UTC).Contains(day))
}

package source

import (
	"context"
	"errors"
	"io"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/sells-group/gasrisk-cli/internal/model"
	"github.com/sells-group/gasrisk-cli/internal/resilience"
)

// fakeFetcher serves canned responses keyed by the request URL. It records
// every URL so tests can assert on query construction.
type fakeFetcher struct {
	get      func(url string, headers map[string]string) (string, error)
	postForm func(url string, form url.Values) (body, contentType string, err error)
	requests []string
}

func (f *fakeFetcher) Download(ctx context.Context, rawURL string) (io.ReadCloser, error) {
	return f.Get(ctx, rawURL, nil)
}

func (f *fakeFetcher) Get(_ context.Context, rawURL string, headers map[string]string) (io.ReadCloser, error) {
	f.requests = append(f.requests, rawURL)
	if f.get == nil {
		return nil, errors.New("unexpected GET " + rawURL)
	}
	body, err := f.get(rawURL, headers)
	if err != nil {
		return nil, err
	}
	return io.NopCloser(strings.NewReader(body)), nil
}

func (f *fakeFetcher) PostForm(_ context.Context, rawURL string, form url.Values, _ map[string]string) (io.ReadCloser, string, error) {
	f.requests = append(f.requests, rawURL)
	if f.postForm == nil {
		return nil, "", errors.New("unexpected POST " + rawURL)
	}
	body, contentType, err := f.postForm(rawURL, form)
	if err != nil {
		return nil, "", err
	}
	return io.NopCloser(strings.NewReader(body)), contentType, nil
}

// noRetry keeps adapter tests fast.
var noRetry = resilience.RetryConfig{MaxAttempts: 1}

func testRange(start, end string) model.DateRange {
	s, _ := time.Parse("2006-01-02", start)
	e, _ := time.Parse("2006-01-02", end)
	return model.DateRange{Start: s, End: e}
}

func TestDailySchedule(t *testing.T) {
	now := time.Date(2026, 1, 15, 9, 0, 0, 0, time.UTC)

	assert.True(t, DailySchedule(now, nil))

	yesterday := time.Date(2026, 1, 14, 23, 0, 0, 0, time.UTC)
	assert.True(t, DailySchedule(now, &yesterday))

	today := time.Date(2026, 1, 15, 6, 5, 0, 0, time.UTC)
	assert.False(t, DailySchedule(now, &today))
}

func TestWeeklySchedule(t *testing.T) {
	// 2026-01-14 is a Wednesday; the ISO week starts Monday 2026-01-12.
	now := time.Date(2026, 1, 14, 9, 0, 0, 0, time.UTC)

	assert.True(t, WeeklySchedule(now, nil))

	lastSunday := time.Date(2026, 1, 11, 12, 0, 0, 0, time.UTC)
	assert.True(t, WeeklySchedule(now, &lastSunday))

	tuesday := time.Date(2026, 1, 13, 12, 0, 0, 0, time.UTC)
	assert.False(t, WeeklySchedule(now, &tuesday))
}

func TestWeeklySchedule_SundayNow(t *testing.T) {
	// 2026-01-18 is a Sunday; its week started Monday 2026-01-12.
	now := time.Date(2026, 1, 18, 9, 0, 0, 0, time.UTC)

	friday := time.Date(2026, 1, 16, 12, 0, 0, 0, time.UTC)
	assert.False(t, WeeklySchedule(now, &friday))

	previousWeek := time.Date(2026, 1, 9, 12, 0, 0, 0, time.UTC)
	assert.True(t, WeeklySchedule(now, &previousWeek))
}

package source

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/gasrisk-cli/internal/model"
)

const noticeListHTML = `<html><body><table>
<tr><th>Subject</th><th>Posted</th></tr>
<tr><td><a href="NoticeView.asp?id=12345">Planned maintenance</a></td><td>1/14/2026 3:05:00 PM</td></tr>
<tr><td><a href="NoticeView.asp?id=11111">Old notice</a></td><td>12/1/2025 8:00:00 AM</td></tr>
</table></body></html>`

const noticeDetailHTML = `<html><body><div id="headingDataNotice">
<span>Algonquin Gas Transmission</span>
<span>006951446</span>
<span>Critical</span>
<span>01/15/2026</span>
<span>9:00:00 AM</span>
<span>01/20/2026</span>
<span>5:00:00 PM</span>
<span>12345</span>
<span>Active</span>
<span>Maintenance</span>
<span>1/14/2026</span>
<span>3:05:00 PM</span>
<span>-</span>
<span>-</span>
<span>-</span>
<span>-</span>
<span>Planned maintenance at Stony Point compressor</span>
</div></body></html>`

func TestNotices_Fetch(t *testing.T) {
	f := &fakeFetcher{get: func(u string, headers map[string]string) (string, error) {
		switch {
		case strings.Contains(u, "type=CRI"):
			assert.Equal(t, "https://ebb.test/infopost", headers["Referer"])
			return noticeListHTML, nil
		case strings.Contains(u, "type=NON"):
			return "<html><body><table></table></body></html>", nil
		case strings.Contains(u, "NoticeView.asp?id=12345"):
			return noticeDetailHTML, nil
		}
		t.Fatalf("unexpected url %s", u)
		return "", nil
	}}

	n := NewNotices(ebbCfg(), f, noRetry)
	var recs []model.RawRecord
	err := n.Fetch(context.Background(), testRange("2026-01-10", "2026-01-15"), func(r model.RawRecord) error {
		recs = append(recs, r)
		return nil
	})
	require.NoError(t, err)

	// The December row is older than the range and stops the scan; only the
	// in-range notice is fetched.
	require.Len(t, recs, 1)
	assert.Equal(t, "12345", recs[0].NaturalKey)
	assert.Equal(t, model.SourceNotices, recs[0].SourceID)
	assert.Equal(t, time.Date(2026, 1, 14, 15, 5, 0, 0, time.UTC), recs[0].ObservedAt)

	var p model.NoticePayload
	require.NoError(t, json.Unmarshal(recs[0].Payload, &p))
	assert.Equal(t, "12345", p.NoticeID)
	assert.True(t, p.Critical)
	assert.Equal(t, "active", p.Status)
	assert.Equal(t, "maintenance", p.Type)
	assert.Equal(t, "Planned maintenance at Stony Point compressor", p.Subject)
	require.NotNil(t, p.EffectiveAt)
	assert.Equal(t, time.Date(2026, 1, 15, 9, 0, 0, 0, time.UTC), p.EffectiveAt.UTC())
	require.NotNil(t, p.EndsAt)
	assert.Equal(t, time.Date(2026, 1, 20, 17, 0, 0, 0, time.UTC), p.EndsAt.UTC())
}

func TestNotices_Fetch_ShortDetailBlock(t *testing.T) {
	f := &fakeFetcher{get: func(u string, _ map[string]string) (string, error) {
		switch {
		case strings.Contains(u, "type=CRI"):
			return noticeListHTML, nil
		case strings.Contains(u, "type=NON"):
			return "<html><body></body></html>", nil
		}
		return `<html><body><div id="headingDataNotice"><span>only</span><span>three</span><span>fields</span></div></body></html>`, nil
	}}

	n := NewNotices(ebbCfg(), f, noRetry)
	err := n.Fetch(context.Background(), testRange("2026-01-10", "2026-01-15"), nil)
	require.Error(t, err)
	assert.Equal(t, KindSchemaChange, AsSourceError(err).Kind)
}

func TestParseEBBDateTime(t *testing.T) {
	ts, ok := parseEBBDateTime("1/14/2026 3:05:00 PM")
	require.True(t, ok)
	assert.Equal(t, time.Date(2026, 1, 14, 15, 5, 0, 0, time.UTC), ts.UTC())

	// Extra whitespace is normalized.
	ts, ok = parseEBBDateTime("  1/14/2026   3:05:00 PM ")
	require.True(t, ok)
	assert.Equal(t, 15, ts.Hour())

	// A bare date is midnight.
	ts, ok = parseEBBDateTime("1/14/2026")
	require.True(t, ok)
	assert.Equal(t, 0, ts.Hour())

	_, ok = parseEBBDateTime("")
	assert.False(t, ok)

	_, ok = parseEBBDateTime("January 14, 2026")
	assert.False(t, ok)
}

func TestResolveRef(t *testing.T) {
	assert.Equal(t, "https://ebb.test/infopost/NoticeView.asp?id=1",
		resolveRef("https://ebb.test/infopost", "NoticeView.asp?id=1"))
	assert.Equal(t, "https://ebb.test/infopost/NoticeView.asp?id=1",
		resolveRef("https://ebb.test/infopost/", "/NoticeView.asp?id=1"))
	assert.Equal(t, "https://other.test/n",
		resolveRef("https://ebb.test/infopost", "https://other.test/n"))
}

package source

import (
	"context"
	"encoding/json"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/gasrisk-cli/internal/config"
	"github.com/sells-group/gasrisk-cli/internal/model"
)

func ebbCfg() config.EBBConfig {
	return config.EBBConfig{
		NoticesURL:  "https://ebb.test/infopost",
		CapacityURL: "https://ebb.test/InformationalPosting/Default.aspx",
		Pipe:        "AG",
	}
}

const capacityPage = `<html><body><form>
<input name="__VIEWSTATE" value="vs-abc"/>
<input name="__VIEWSTATEGENERATOR" value="gen-1"/>
<input name="__EVENTVALIDATION" value="ev-9"/>
</form></body></html>`

const capacityCSV = `Loc,Loc Name,Effective Gas Day,Design Capacity,Operating Capacity,Total Scheduled Quantity,Operationally Available Capacity,Flow Ind
ALG001,Stony Point,01/05/2026,1200000,1000000,900000,100000,R
ALG002,Cromwell,01/05/2026,"500,000","400,000","380,000","20,000",D
ALG003,Southeast,12/01/2025,1,1,1,1,R
`

func TestCapacity_Fetch(t *testing.T) {
	f := &fakeFetcher{
		get: func(u string, _ map[string]string) (string, error) {
			assert.Contains(t, u, "bu=AG")
			return capacityPage, nil
		},
		postForm: func(_ string, form url.Values) (string, string, error) {
			assert.Equal(t, capacityEventTarget, form.Get("__EVENTTARGET"))
			assert.Equal(t, "vs-abc", form.Get("__VIEWSTATE"))
			assert.Equal(t, "ev-9", form.Get("__EVENTVALIDATION"))
			return capacityCSV, "text/csv", nil
		},
	}

	c := NewCapacity(ebbCfg(), f, noRetry)
	var recs []model.RawRecord
	err := c.Fetch(context.Background(), testRange("2026-01-01", "2026-01-07"), func(r model.RawRecord) error {
		recs = append(recs, r)
		return nil
	})
	require.NoError(t, err)

	// The out-of-range December row is dropped.
	require.Len(t, recs, 2)
	assert.Equal(t, "2026-01-05:ALG001", recs[0].NaturalKey)

	var p model.CapacityPayload
	require.NoError(t, json.Unmarshal(recs[0].Payload, &p))
	assert.Equal(t, "ALG001", p.Location)
	assert.InDelta(t, 1000000, p.OperatingCap, 1e-9)
	assert.InDelta(t, 0.9, p.Utilization(), 1e-9)
	assert.Equal(t, "R", p.FlowIndicator)

	// Thousands separators are tolerated.
	require.NoError(t, json.Unmarshal(recs[1].Payload, &p))
	assert.InDelta(t, 400000, p.OperatingCap, 1e-9)
	assert.InDelta(t, 0.95, p.Utilization(), 1e-9)
}

func TestCapacity_Fetch_PostbackReturnsHTML(t *testing.T) {
	f := &fakeFetcher{
		get: func(string, map[string]string) (string, error) {
			return capacityPage, nil
		},
		postForm: func(string, url.Values) (string, string, error) {
			return "<html><body>session expired</body></html>", "text/html", nil
		},
	}

	c := NewCapacity(ebbCfg(), f, noRetry)
	err := c.Fetch(context.Background(), testRange("2026-01-01", "2026-01-07"), nil)
	require.Error(t, err)
	assert.Equal(t, KindSchemaChange, AsSourceError(err).Kind)
}

func TestCapacity_Fetch_MissingColumns(t *testing.T) {
	f := &fakeFetcher{
		get: func(string, map[string]string) (string, error) {
			return capacityPage, nil
		},
		postForm: func(string, url.Values) (string, string, error) {
			return "Loc,Effective Gas Day\nALG001,01/05/2026\n", "text/csv", nil
		},
	}

	c := NewCapacity(ebbCfg(), f, noRetry)
	err := c.Fetch(context.Background(), testRange("2026-01-01", "2026-01-07"), nil)
	require.Error(t, err)
	assert.Equal(t, KindSchemaChange, AsSourceError(err).Kind)
}

func TestParseQty(t *testing.T) {
	assert.InDelta(t, 500000, parseQty("500,000"), 1e-9)
	assert.InDelta(t, 1.5, parseQty(" 1.5 "), 1e-9)
	assert.InDelta(t, 0, parseQty(""), 1e-9)
	assert.InDelta(t, 0, parseQty("n/a"), 1e-9)
}

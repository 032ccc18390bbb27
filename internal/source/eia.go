package source

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"time"

	"github.com/sells-group/gasrisk-cli/internal/config"
	"github.com/sells-group/gasrisk-cli/internal/fetcher"
	"github.com/sells-group/gasrisk-cli/internal/model"
	"github.com/sells-group/gasrisk-cli/internal/resilience"
)

// eiaObservation is one row of an EIA v2 series response. Values arrive as
// strings or numbers depending on the series; "." marks a missing value.
type eiaObservation struct {
	Period string          `json:"period"`
	Value  json.RawMessage `json:"value"`
	Units  string          `json:"units"`
	Series string          `json:"series"`
}

type eiaResponse struct {
	Response *struct {
		Data []eiaObservation `json:"data"`
	} `json:"response"`
}

// fetchEIASeries pulls one series over the date range and returns its rows,
// oldest first. A response without the expected envelope is a schema-change
// failure for the calling source.
func fetchEIASeries(ctx context.Context, src model.SourceID, f fetcher.Fetcher, cfg config.EIAConfig, retry resilience.RetryConfig, series string, r model.DateRange) ([]eiaObservation, error) {
	q := url.Values{}
	q.Set("api_key", cfg.APIKey)
	q.Set("start", r.Start.Format("2006-01-02"))
	q.Set("end", r.End.Format("2006-01-02"))
	q.Set("sort[0][column]", "period")
	q.Set("sort[0][direction]", "asc")
	reqURL := fmt.Sprintf("%s/seriesid/%s?%s", cfg.BaseURL, series, q.Encode())

	var parsed eiaResponse
	err := resilience.Do(ctx, retry, func(ctx context.Context) error {
		body, err := f.Download(ctx, reqURL)
		if err != nil {
			return err
		}
		parsed = eiaResponse{}
		return fetcher.DecodeJSON(body, &parsed)
	})
	if err != nil {
		return nil, Classify(src, ctx.Err(), err)
	}

	if parsed.Response == nil {
		return nil, SchemaChange(src, "eia response for %s missing response envelope", series)
	}
	return parsed.Response.Data, nil
}

// eiaValue coerces an EIA value field to a float. ok is false for missing
// markers; err is non-nil for values that are neither numbers nor markers.
func eiaValue(raw json.RawMessage) (v float64, ok bool, err error) {
	if len(raw) == 0 || string(raw) == "null" {
		return 0, false, nil
	}
	var s string
	if json.Unmarshal(raw, &s) == nil {
		if s == "." || s == "" {
			return 0, false, nil
		}
		v, err = strconv.ParseFloat(s, 64)
		return v, err == nil, err
	}
	err = json.Unmarshal(raw, &v)
	return v, err == nil, err
}

func parseEIADate(period string) (time.Time, error) {
	// Daily series use YYYY-MM-DD, weekly storage uses the week-ending date
	// in the same format.
	return time.Parse("2006-01-02", period)
}

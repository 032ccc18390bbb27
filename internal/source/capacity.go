package source

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/gasrisk-cli/internal/config"
	"github.com/sells-group/gasrisk-cli/internal/fetcher"
	"github.com/sells-group/gasrisk-cli/internal/model"
	"github.com/sells-group/gasrisk-cli/internal/resilience"
)

// capacityEventTarget is the ASP.NET control that triggers the CSV export
// on the operationally-available posting page.
const capacityEventTarget = "ctl00$MainContent$ctl01$oaDefault$hlDown$LinkButton1"

// Capacity ingests the operator's operationally-available capacity posting.
// The page is an ASP.NET form: a first GET collects the hidden state
// fields, a postback to the export control returns the CSV. Natural key is
// gas day + location, so intraday re-postings update in place.
type Capacity struct {
	cfg   config.EBBConfig
	f     fetcher.Fetcher
	retry resilience.RetryConfig
	now   func() time.Time
}

// NewCapacity creates the capacity posting adapter.
func NewCapacity(cfg config.EBBConfig, f fetcher.Fetcher, retry resilience.RetryConfig) *Capacity {
	retry.OnRetry = resilience.RetryLogger(string(model.SourceCapacity), "fetch")
	return &Capacity{cfg: cfg, f: f, retry: retry, now: time.Now}
}

func (c *Capacity) Name() model.SourceID { return model.SourceCapacity }
func (c *Capacity) Cadence() Cadence     { return Daily }

func (c *Capacity) ShouldRun(now time.Time, lastSuccess *time.Time) bool {
	return DailySchedule(now, lastSuccess)
}

func (c *Capacity) Fetch(ctx context.Context, r model.DateRange, emit EmitFunc) error {
	log := zap.L().With(zap.String("source", string(c.Name())))

	pageURL := fmt.Sprintf("%s?bu=%s&Type=OA", c.cfg.CapacityURL, c.cfg.Pipe)

	csvData, err := resilience.DoVal(ctx, c.retry, func(ctx context.Context) ([]byte, error) {
		return c.downloadCSV(ctx, pageURL)
	})
	if err != nil {
		if se := AsSourceError(err); se != nil {
			return se
		}
		return Classify(c.Name(), ctx.Err(), err)
	}

	header, rows, err := fetcher.ReadCSV(strings.NewReader(string(csvData)), fetcher.CSVOptions{
		Windows1252: true,
		LazyQuotes:  true,
	})
	if err != nil {
		return SchemaChange(c.Name(), "capacity export not parseable as csv: %v", err)
	}

	idx := fetcher.HeaderIndex(header)
	dateCol, ok := firstColumn(idx, "effective gas day", "eff gas day", "post date")
	if !ok {
		return SchemaChange(c.Name(), "capacity export missing gas day column, headers: %v", header)
	}
	locCol, ok := firstColumn(idx, "loc", "location")
	if !ok {
		return SchemaChange(c.Name(), "capacity export missing location column, headers: %v", header)
	}

	designCol, _ := firstColumn(idx, "design capacity")
	operCol, _ := firstColumn(idx, "operating capacity")
	schedCol, _ := firstColumn(idx, "total scheduled quantity", "scheduled quantity")
	availCol, hasAvail := firstColumn(idx, "operationally available capacity", "all qty avail")
	flowCol, _ := firstColumn(idx, "flow ind", "flow indicator")
	if !hasAvail {
		return SchemaChange(c.Name(), "capacity export missing available quantity column, headers: %v", header)
	}

	fetchedAt := c.now().UTC()
	emitted := 0
	for _, row := range rows {
		day, ok := parseEBBDateTime(fetcher.Field(row, dateCol))
		if !ok || !r.Contains(day) {
			continue
		}
		loc := fetcher.Field(row, locCol)
		if loc == "" {
			continue
		}

		gasDay := model.DayOf(day)
		payload, _ := json.Marshal(model.CapacityPayload{
			Location:      loc,
			PostingDate:   gasDay.Format("2006-01-02"),
			DesignCap:     parseQty(fetcher.Field(row, designCol)),
			OperatingCap:  parseQty(fetcher.Field(row, operCol)),
			ScheduledQty:  parseQty(fetcher.Field(row, schedCol)),
			AvailableQty:  parseQty(fetcher.Field(row, availCol)),
			FlowIndicator: fetcher.Field(row, flowCol),
		})

		rec := model.RawRecord{
			SourceID:   c.Name(),
			NaturalKey: fmt.Sprintf("%s:%s", gasDay.Format("2006-01-02"), loc),
			ObservedAt: gasDay,
			Payload:    payload,
			FetchedAt:  fetchedAt,
		}
		if err := emit(rec); err != nil {
			return Classify(c.Name(), ctx.Err(), err)
		}
		emitted++
	}

	log.Debug("capacity fetch complete", zap.Int("records", emitted))
	return nil
}

// downloadCSV performs the page-load/postback pair and returns the CSV
// bytes. A non-CSV postback response means the page's hidden fields or
// control names changed: fatal, not retryable.
func (c *Capacity) downloadCSV(ctx context.Context, pageURL string) ([]byte, error) {
	body, err := c.f.Get(ctx, pageURL, nil)
	if err != nil {
		return nil, err
	}
	doc, err := goquery.NewDocumentFromReader(body)
	_ = body.Close()
	if err != nil {
		return nil, eris.Wrap(err, "capacity: parse posting page")
	}

	hidden := func(name string) string {
		v, _ := doc.Find(fmt.Sprintf(`input[name=%q]`, name)).Attr("value")
		return v
	}

	form := url.Values{
		"__EVENTTARGET":        {capacityEventTarget},
		"__EVENTARGUMENT":      {""},
		"__VIEWSTATE":          {hidden("__VIEWSTATE")},
		"__VIEWSTATEGENERATOR": {hidden("__VIEWSTATEGENERATOR")},
		"__EVENTVALIDATION":    {hidden("__EVENTVALIDATION")},
	}
	if v := hidden("__VIEWSTATEENCRYPTED"); v != "" {
		form.Set("__VIEWSTATEENCRYPTED", v)
	}

	resp, contentType, err := c.f.PostForm(ctx, pageURL, form, map[string]string{"Referer": pageURL})
	if err != nil {
		return nil, err
	}
	data, err := io.ReadAll(resp)
	_ = resp.Close()
	if err != nil {
		return nil, eris.Wrap(err, "capacity: read export body")
	}

	if !strings.Contains(strings.ToLower(contentType), "csv") && looksLikeHTML(data) {
		return nil, SchemaChange(c.Name(), "capacity postback returned %q instead of csv", contentType)
	}
	return data, nil
}

func looksLikeHTML(data []byte) bool {
	head := strings.ToLower(string(data[:min(len(data), 256)]))
	return strings.Contains(head, "<html") || strings.Contains(head, "<!doctype")
}

// parseQty parses a posting quantity, tolerating thousands separators and
// blanks.
func parseQty(s string) float64 {
	s = strings.ReplaceAll(strings.TrimSpace(s), ",", "")
	if s == "" {
		return 0
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0
	}
	return v
}

func firstColumn(idx map[string]int, names ...string) (int, bool) {
	for _, n := range names {
		if i, ok := idx[n]; ok {
			return i, true
		}
	}
	return -1, false
}

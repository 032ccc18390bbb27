package source

import (
	"context"
	"encoding/json"
	"fmt"
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

// ebbDateTimeLayout matches the operator's posting timestamps,
// e.g. "1/17/2026 9:05:00 AM".
const ebbDateTimeLayout = "1/2/2006 3:04:05 PM"

// noticeTypes are the EBB list pages pulled per run: critical and
// non-critical notices.
var noticeTypes = []string{"CRI", "NON"}

// Notices scrapes the operator's electronic bulletin board notice pages.
// Natural key is the operator-assigned notice id, so re-posts and repeated
// runs update in place.
type Notices struct {
	cfg   config.EBBConfig
	f     fetcher.Fetcher
	retry resilience.RetryConfig
	now   func() time.Time
}

// NewNotices creates the notices adapter.
func NewNotices(cfg config.EBBConfig, f fetcher.Fetcher, retry resilience.RetryConfig) *Notices {
	retry.OnRetry = resilience.RetryLogger(string(model.SourceNotices), "fetch")
	return &Notices{cfg: cfg, f: f, retry: retry, now: time.Now}
}

func (n *Notices) Name() model.SourceID { return model.SourceNotices }
func (n *Notices) Cadence() Cadence     { return Daily }

func (n *Notices) ShouldRun(now time.Time, lastSuccess *time.Time) bool {
	return DailySchedule(now, lastSuccess)
}

func (n *Notices) Fetch(ctx context.Context, r model.DateRange, emit EmitFunc) error {
	log := zap.L().With(zap.String("source", string(n.Name())))
	emitted := 0

	for _, typ := range noticeTypes {
		listURL := fmt.Sprintf("%s/NoticesList.asp?pipe=%s&type=%s", n.cfg.NoticesURL, n.cfg.Pipe, typ)

		doc, err := n.getDocument(ctx, listURL)
		if err != nil {
			return Classify(n.Name(), ctx.Err(), err)
		}

		links, err := n.parseList(doc, r)
		if err != nil {
			return err
		}
		log.Debug("notice list parsed", zap.String("type", typ), zap.Int("links", len(links)))

		for _, href := range links {
			detailURL := resolveRef(n.cfg.NoticesURL, href)
			detail, err := n.getDocument(ctx, detailURL)
			if err != nil {
				return Classify(n.Name(), ctx.Err(), err)
			}

			rec, err := n.parseDetail(detail, detailURL)
			if err != nil {
				return err
			}
			if rec == nil {
				continue
			}
			if err := emit(*rec); err != nil {
				return Classify(n.Name(), ctx.Err(), err)
			}
			emitted++
		}
	}

	log.Debug("notices fetch complete", zap.Int("records", emitted))
	return nil
}

func (n *Notices) getDocument(ctx context.Context, url string) (*goquery.Document, error) {
	return resilience.DoVal(ctx, n.retry, func(ctx context.Context) (*goquery.Document, error) {
		body, err := n.f.Get(ctx, url, map[string]string{"Referer": n.cfg.NoticesURL})
		if err != nil {
			return nil, err
		}
		defer body.Close() //nolint:errcheck

		doc, err := goquery.NewDocumentFromReader(body)
		if err != nil {
			return nil, eris.Wrapf(err, "notices: parse html from %s", url)
		}
		return doc, nil
	})
}

// parseList extracts detail-page links for notices posted within the range.
// The list is newest-first; rows older than the range stop the scan.
func (n *Notices) parseList(doc *goquery.Document, r model.DateRange) ([]string, error) {
	var links []string

	doc.Find("tr").EachWithBreak(func(_ int, row *goquery.Selection) bool {
		link := row.Find(`a[href*="Notice"]`).First()
		if link.Length() == 0 {
			return true
		}

		posted, ok := parseEBBDateTime(strings.TrimSpace(row.Find("td").Eq(1).Text()))
		if !ok {
			return true // header or malformed row
		}
		// The list is newest-first; the first row older than the range
		// ends the scan.
		if model.DayOf(posted).Before(model.DayOf(r.Start)) {
			return false
		}
		if !r.Contains(posted) {
			return true
		}

		if href, exists := link.Attr("href"); exists && href != "" {
			links = append(links, href)
		}
		return true
	})

	return links, nil
}

// parseDetail maps the detail page's headingData block onto a notice
// payload. The block is positional; a short block means the page layout
// changed and the adapter needs attention.
func (n *Notices) parseDetail(doc *goquery.Document, url string) (*model.RawRecord, error) {
	var fields []string
	doc.Find(`div[id*="headingData"]`).Each(func(_ int, block *goquery.Selection) {
		block.Contents().Each(func(_ int, node *goquery.Selection) {
			if txt := strings.TrimSpace(node.Text()); txt != "" {
				fields = append(fields, txt)
			}
		})
	})

	if len(fields) < 10 {
		return nil, SchemaChange(n.Name(), "notice detail heading has %d fields at %s", len(fields), url)
	}

	get := func(i int) string {
		if i < 0 || i >= len(fields) {
			return ""
		}
		return fields[i]
	}

	noticeID := get(7)
	if noticeID == "" {
		return nil, SchemaChange(n.Name(), "notice detail missing notice id at %s", url)
	}

	payload := model.NoticePayload{
		TSP:      get(0),
		NoticeID: noticeID,
		Critical: strings.Contains(strings.ToLower(get(2)), "critical"),
		Status:   strings.ToLower(get(8)),
		Type:     strings.ToLower(get(9)),
		Subject:  get(16),
	}
	if t, ok := parseEBBDateTime(get(3) + " " + get(4)); ok {
		payload.EffectiveAt = &t
	}
	if t, ok := parseEBBDateTime(get(5) + " " + get(6)); ok {
		payload.EndsAt = &t
	}

	posted, ok := parseEBBDateTime(get(10) + " " + get(11))
	if !ok {
		// Fall back to the effective datetime; a notice with neither is
		// unplaceable on the daily index.
		if payload.EffectiveAt == nil {
			zap.L().Warn("notice without posted or effective datetime, skipping",
				zap.String("notice_id", noticeID), zap.String("url", url))
			return nil, nil
		}
		posted = *payload.EffectiveAt
	}
	payload.PostedAt = &posted

	raw, _ := json.Marshal(payload)
	return &model.RawRecord{
		SourceID:   n.Name(),
		NaturalKey: noticeID,
		ObservedAt: posted.UTC(),
		Payload:    raw,
		FetchedAt:  n.now().UTC(),
	}, nil
}

// parseEBBDateTime parses the operator's "M/D/YYYY H:MM:SS AM" timestamps,
// tolerating a bare date.
func parseEBBDateTime(s string) (time.Time, bool) {
	s = strings.Join(strings.Fields(s), " ")
	if s == "" {
		return time.Time{}, false
	}
	if t, err := time.Parse(ebbDateTimeLayout, s); err == nil {
		return t, true
	}
	if t, err := time.Parse("1/2/2006", s); err == nil {
		return t, true
	}
	return time.Time{}, false
}

func resolveRef(base, href string) string {
	if strings.HasPrefix(href, "http://") || strings.HasPrefix(href, "https://") {
		return href
	}
	return strings.TrimSuffix(base, "/") + "/" + strings.TrimPrefix(href, "/")
}

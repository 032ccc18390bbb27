// Package feature builds the daily corridor feature frame from raw
// records: source alignment onto a common daily index, forward-fill of
// sparse series, climatological weather anomalies, and the notice
// severity score.
package feature

import (
	"regexp"
	"strings"
	"time"

	"github.com/sells-group/gasrisk-cli/internal/model"
)

// SeverityVersion names the active severity mapping. Changing the table
// below is a model-version change, never a silent edit.
const SeverityVersion = "severity-v1"

// severityRule maps a notice category, matched by keyword against the
// subject and type fields, to a bounded score in [0, 1].
type severityRule struct {
	pattern *regexp.Regexp
	score   float64
}

// Rules are ordered most severe first; the first match wins.
var severityRules = []severityRule{
	{regexp.MustCompile(`force\s+majeure`), 1.0},
	{regexp.MustCompile(`curtail`), 0.9},
	{regexp.MustCompile(`capacity\s+constraint|\bconstraint\b`), 0.8},
	{regexp.MustCompile(`operational\s+flow\s+order|\bofo\b`), 0.6},
	{regexp.MustCompile(`maintenance`), 0.35},
}

const (
	severityOther = 0.15
	// criticalFloor raises any notice flagged critical whose text matched
	// nothing severe to at least this score.
	criticalFloor = 0.5
)

// NoticeSeverity maps a notice onto the fixed severity scale.
func NoticeSeverity(p model.NoticePayload) float64 {
	text := strings.ToLower(p.Subject + " " + p.Type)

	score := severityOther
	for _, rule := range severityRules {
		if rule.pattern.MatchString(text) {
			score = rule.score
			break
		}
	}
	if p.Critical && score < criticalFloor {
		score = criticalFloor
	}
	return score
}

// noticeWindow returns the day span a notice is considered active:
// effective (falling back to posted) through end (falling back to the
// start day, the conservative same-day default).
func noticeWindow(p model.NoticePayload) (start, end time.Time, ok bool) {
	var st time.Time
	switch {
	case p.EffectiveAt != nil:
		st = *p.EffectiveAt
	case p.PostedAt != nil:
		st = *p.PostedAt
	default:
		return start, end, false
	}
	en := st
	if p.EndsAt != nil && p.EndsAt.After(st) {
		en = *p.EndsAt
	}
	return model.DayOf(st), model.DayOf(en), true
}

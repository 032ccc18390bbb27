package feature

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/sells-group/gasrisk-cli/internal/model"
)

func TestNoticeSeverity_Mapping(t *testing.T) {
	tests := []struct {
		name     string
		subject  string
		critical bool
		want     float64
	}{
		{"force majeure", "FORCE MAJEURE - Compressor Station Outage", false, 1.0},
		{"curtailment", "Curtailment of Interruptible Transportation", false, 0.9},
		{"capacity constraint", "Capacity Constraint - Stony Point", false, 0.8},
		{"operational flow order", "Operational Flow Order Issued", false, 0.6},
		{"ofo abbreviation", "OFO effective gas day 01/05", false, 0.6},
		{"maintenance", "Scheduled Maintenance at Cromwell", false, 0.35},
		{"other", "Posting Notice - System Update", false, 0.15},
		{"critical floor on other", "Posting Notice - System Update", true, 0.5},
		{"critical floor on maintenance", "Scheduled Maintenance", true, 0.5},
		{"critical does not cap severe", "Force Majeure declared", true, 1.0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := NoticeSeverity(model.NoticePayload{Subject: tt.subject, Critical: tt.critical})
			assert.InDelta(t, tt.want, got, 1e-9)
		})
	}
}

func TestNoticeSeverity_TypeFieldMatches(t *testing.T) {
	// Category sometimes lives in the type field rather than the subject.
	got := NoticeSeverity(model.NoticePayload{Subject: "AGT Notice", Type: "curtailment"})
	assert.InDelta(t, 0.9, got, 1e-9)
}

func TestNoticeWindow(t *testing.T) {
	eff := time.Date(2026, 1, 5, 9, 0, 0, 0, time.UTC)
	end := time.Date(2026, 1, 8, 17, 0, 0, 0, time.UTC)
	posted := time.Date(2026, 1, 4, 12, 0, 0, 0, time.UTC)

	t.Run("effective through end", func(t *testing.T) {
		s, e, ok := noticeWindow(model.NoticePayload{EffectiveAt: &eff, EndsAt: &end})
		assert.True(t, ok)
		assert.Equal(t, time.Date(2026, 1, 5, 0, 0, 0, 0, time.UTC), s)
		assert.Equal(t, time.Date(2026, 1, 8, 0, 0, 0, 0, time.UTC), e)
	})

	t.Run("open ended is same day", func(t *testing.T) {
		s, e, ok := noticeWindow(model.NoticePayload{EffectiveAt: &eff})
		assert.True(t, ok)
		assert.Equal(t, s, e)
	})

	t.Run("posted fallback", func(t *testing.T) {
		s, _, ok := noticeWindow(model.NoticePayload{PostedAt: &posted})
		assert.True(t, ok)
		assert.Equal(t, time.Date(2026, 1, 4, 0, 0, 0, 0, time.UTC), s)
	})

	t.Run("no dates", func(t *testing.T) {
		_, _, ok := noticeWindow(model.NoticePayload{})
		assert.False(t, ok)
	})

	t.Run("end before start ignored", func(t *testing.T) {
		bad := eff.AddDate(0, 0, -3)
		s, e, ok := noticeWindow(model.NoticePayload{EffectiveAt: &eff, EndsAt: &bad})
		assert.True(t, ok)
		assert.Equal(t, s, e)
	})
}

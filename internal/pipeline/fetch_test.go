package pipeline

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/WangXiZhu/daily-stock-analysis/internal/models"
)

func TestLookbackDays(t *testing.T) {
	today := day("2026-02-06")
	at := func(s string) *time.Time {
		d := day(s)
		return &d
	}

	tests := []struct {
		name   string
		latest *time.Time
		force  bool
		want   int
	}{
		{"nothing stored", nil, false, FullLookbackDays},
		{"forced", at("2026-02-05"), true, FullLookbackDays},
		{"yesterday", at("2026-02-05"), false, 6},
		{"a week ago", at("2026-01-30"), false, 12},
		{"today", at("2026-02-06"), false, 5},
		{"future date", at("2026-02-09"), false, 5},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := LookbackDays(tt.latest, today, tt.force); got != tt.want {
				t.Errorf("LookbackDays() = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestLookbackDaysCoversGap(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	today := day("2026-02-06")
	properties.Property("lookback spans the gap plus buffer", prop.ForAll(
		func(gap int) bool {
			latest := today.AddDate(0, 0, -gap)
			got := LookbackDays(&latest, today, false)
			return got >= lookbackBuffer && got >= gap && got <= max(gap, 0)+lookbackBuffer
		},
		gen.IntRange(-30, 400),
	))

	properties.TestingRun(t)
}

func TestPlanFetch(t *testing.T) {
	h := newHarness(t)
	h.db.SaveDailyRecords("TODAY", bars("2026-02-06", 3), "seed")
	h.db.SaveDailyRecords("STALE", bars("2026-02-05", 3), "seed")
	p := h.pipeline(nil)

	plans := p.PlanFetch([]string{"TODAY", "STALE", "NEW"}, false)

	if plans["TODAY"].NeedsFetch {
		t.Error("expected TODAY to be skipped")
	}
	if got := plans["STALE"]; !got.NeedsFetch || got.LookbackDays != 6 {
		t.Errorf("expected STALE to fetch 6 days, got %+v", got)
	}
	if got := plans["NEW"]; !got.NeedsFetch || got.LookbackDays != FullLookbackDays {
		t.Errorf("expected NEW to fetch %d days, got %+v", FullLookbackDays, got)
	}

	forced := p.PlanFetch([]string{"TODAY"}, true)
	if got := forced["TODAY"]; !got.NeedsFetch || got.LookbackDays != FullLookbackDays {
		t.Errorf("expected forced full fetch, got %+v", got)
	}
}

func TestFetchAndSave(t *testing.T) {
	h := newHarness(t)
	h.db.SaveDailyRecords("TODAY", bars("2026-02-06", 3), "seed")
	h.db.SaveDailyRecords("STALE", bars("2026-02-03", 3), "seed")
	h.gateway.histories["STALE"] = bars("2026-02-06", 4)
	h.gateway.histories["NEW"] = bars("2026-02-06", 10)
	h.gateway.histories["EMPTY"] = nil

	results := h.pipeline(nil).FetchAndSave(context.Background(), []string{"TODAY", "STALE", "NEW", "EMPTY", "GONE"}, false)

	want := map[string]bool{"TODAY": true, "STALE": true, "NEW": true, "EMPTY": false, "GONE": false}
	for s, ok := range want {
		if results[s] != ok {
			t.Errorf("%s: got %v, want %v", s, results[s], ok)
		}
	}

	if len(h.gateway.batchCalls) != 1 {
		t.Fatalf("expected one batch call, got %d", len(h.gateway.batchCalls))
	}
	if got := h.gateway.batchCalls[0]; len(got) != 4 || got[0] != "STALE" {
		t.Errorf("expected the four stale symbols in order, got %v", got)
	}
	if h.gateway.batchDays[0] != FullLookbackDays {
		t.Errorf("expected the largest lookback, got %d", h.gateway.batchDays[0])
	}

	has, err := h.db.HasDataForDate("NEW", day("2026-02-06"))
	if err != nil || !has {
		t.Errorf("expected NEW saved through today, got %v (%v)", has, err)
	}
	latest, _ := h.db.LatestStoredDate("STALE")
	if latest == nil || latest.Format(models.DateLayout) != "2026-02-06" {
		t.Errorf("expected STALE brought up to date, got %v", latest)
	}
}

func TestFetchAndSaveNothingToFetch(t *testing.T) {
	h := newHarness(t)
	h.db.SaveDailyRecords("A", bars("2026-02-06", 3), "seed")

	results := h.pipeline(nil).FetchAndSave(context.Background(), []string{"A"}, false)
	if !results["A"] {
		t.Error("expected A current")
	}
	if len(h.gateway.batchCalls) != 0 {
		t.Errorf("expected no fetch, got %v", h.gateway.batchCalls)
	}
}

// failingDailyStore rejects history writes.
type failingDailyStore struct {
	*recordingStore
}

func (failingDailyStore) SaveDailyRecords(string, []models.DailyBar, string) (int, error) {
	return 0, errors.New("database is locked")
}

func TestFetchAndSaveWriteFailure(t *testing.T) {
	h := newHarness(t)
	h.gateway.histories["A"] = bars("2026-02-06", 3)
	p := h.pipeline(nil)
	p.store = failingDailyStore{h.store}

	results := p.FetchAndSave(context.Background(), []string{"A"}, false)
	if results["A"] {
		t.Error("expected A to fail when saving fails")
	}
}

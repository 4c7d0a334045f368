package aggregate

import (
	"testing"
	"time"

	"github.com/google/uuid"

	"socwatch/internal/schema"
	"socwatch/internal/score"
)

func newTestAggregator(t *testing.T) *Aggregator {
	t.Helper()
	cfg := DefaultConfig()
	cfg.Strict = true
	return New(cfg, score.DefaultWeights())
}

func aggEvent(sev schema.Severity) *schema.SecurityEvent {
	return &schema.SecurityEvent{
		ID:         uuid.New(),
		Timestamp:  time.Now().UTC(),
		Severity:   sev,
		AttackType: "Port Scan",
		SourceIP:   "203.0.113.4",
		Country:    "Germany",
	}
}

func TestNewPublishesEmptySnapshot(t *testing.T) {
	a := newTestAggregator(t)

	snap := a.Snapshot()
	if snap == nil {
		t.Fatal("Snapshot() returned nil before any Publish")
	}
	if snap.TotalEvents != 0 {
		t.Errorf("total = %d, want 0", snap.TotalEvents)
	}
	if snap.ThreatLabel != string(score.LabelLow) {
		t.Errorf("label = %s, want %s", snap.ThreatLabel, score.LabelLow)
	}
	if len(snap.Timeline) != timelineHours {
		t.Errorf("timeline has %d buckets, want %d", len(snap.Timeline), timelineHours)
	}
}

func TestOnAppendRollsUp(t *testing.T) {
	a := newTestAggregator(t)

	a.OnAppend(aggEvent(schema.SeverityCritical))
	a.OnAppend(aggEvent(schema.SeverityCritical))
	a.OnAppend(aggEvent(schema.SeverityHigh))
	blocked := aggEvent(schema.SeverityMedium)
	blocked.Blocked = true
	a.OnAppend(blocked)
	a.Publish()

	snap := a.Snapshot()
	if snap.TotalEvents != 4 {
		t.Errorf("total = %d, want 4", snap.TotalEvents)
	}
	if snap.CriticalAlerts != 2 {
		t.Errorf("critical = %d, want 2", snap.CriticalAlerts)
	}
	if snap.HighAlerts != 1 {
		t.Errorf("high = %d, want 1", snap.HighAlerts)
	}
	if snap.BlockedAttacks != 1 {
		t.Errorf("blocked = %d, want 1", snap.BlockedAttacks)
	}
	// Critical and High events open incidents.
	if snap.ActiveIncidents != 3 {
		t.Errorf("incidents = %d, want 3", snap.ActiveIncidents)
	}
	if snap.SeverityDistribution["Critical"] != 2 || snap.SeverityDistribution["Medium"] != 1 {
		t.Errorf("distribution = %v", snap.SeverityDistribution)
	}
	if _, ok := snap.SeverityDistribution["Low"]; ok {
		t.Error("zero severities should be omitted from the distribution")
	}
	if len(snap.TopAttacks) != 1 || snap.TopAttacks[0] != (AttackCount{Type: "Port Scan", Count: 4}) {
		t.Errorf("top attacks = %v", snap.TopAttacks)
	}
	if len(snap.TopCountries) != 1 || snap.TopCountries[0] != (CountryCount{Country: "Germany", Count: 4}) {
		t.Errorf("top countries = %v", snap.TopCountries)
	}
	if snap.ThreatScore <= 0 || snap.ThreatScore > 100 {
		t.Errorf("threat score = %d, outside (0,100]", snap.ThreatScore)
	}
}

func TestOnEvictReversesOnAppend(t *testing.T) {
	a := newTestAggregator(t)

	events := []*schema.SecurityEvent{
		aggEvent(schema.SeverityCritical),
		aggEvent(schema.SeverityHigh),
		aggEvent(schema.SeverityMedium),
	}
	events[0].Blocked = true

	for _, e := range events {
		a.OnAppend(e)
	}
	for _, e := range events {
		a.OnEvict(e)
	}
	a.Publish()

	snap := a.Snapshot()
	if snap.TotalEvents != 0 {
		t.Errorf("total = %d, want 0 after full eviction", snap.TotalEvents)
	}
	if snap.BlockedAttacks != 0 {
		t.Errorf("blocked = %d, want 0", snap.BlockedAttacks)
	}
	if snap.ActiveIncidents != 0 {
		t.Errorf("incidents = %d, want 0", snap.ActiveIncidents)
	}
	if len(snap.TopAttacks) != 0 {
		t.Errorf("top attacks = %v, want empty", snap.TopAttacks)
	}
	if len(snap.SeverityDistribution) != 0 {
		t.Errorf("distribution = %v, want empty", snap.SeverityDistribution)
	}
}

func TestResolveAffectsScoreInputs(t *testing.T) {
	a := newTestAggregator(t)

	e := aggEvent(schema.SeverityCritical)
	a.OnAppend(e)
	a.Publish()
	if a.Snapshot().ActiveIncidents != 1 {
		t.Fatalf("incidents = %d, want 1", a.Snapshot().ActiveIncidents)
	}
	withIncident := a.Snapshot().ThreatScore

	if !a.Resolve(e.ID) {
		t.Fatal("Resolve returned false for an open incident")
	}
	a.Publish()

	snap := a.Snapshot()
	if snap.ActiveIncidents != 0 {
		t.Errorf("incidents = %d, want 0 after resolve", snap.ActiveIncidents)
	}
	if snap.ThreatScore >= withIncident {
		t.Errorf("score %d should drop below %d after resolve", snap.ThreatScore, withIncident)
	}
	if a.Resolve(e.ID) {
		t.Error("second Resolve should return false")
	}
}

func TestSweepClosesIdleIncidents(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Strict = true
	cfg.IncidentTTL = time.Hour
	a := New(cfg, score.DefaultWeights())

	base := time.Now().UTC()
	a.now = func() time.Time { return base }
	a.OnAppend(aggEvent(schema.SeverityCritical))

	a.now = func() time.Time { return base.Add(2 * time.Hour) }
	if n := a.Sweep(); n != 1 {
		t.Errorf("Sweep() = %d, want 1", n)
	}
	a.Publish()
	if a.Snapshot().ActiveIncidents != 0 {
		t.Errorf("incidents = %d, want 0 after sweep", a.Snapshot().ActiveIncidents)
	}
}

func TestSnapshotImmutableUnderLaterWrites(t *testing.T) {
	a := newTestAggregator(t)

	a.OnAppend(aggEvent(schema.SeverityMedium))
	a.Publish()
	old := a.Snapshot()

	for i := 0; i < 10; i++ {
		a.OnAppend(aggEvent(schema.SeverityCritical))
	}
	a.Publish()

	if old.TotalEvents != 1 {
		t.Errorf("earlier snapshot mutated: total = %d, want 1", old.TotalEvents)
	}
	if got := a.Snapshot().TotalEvents; got != 11 {
		t.Errorf("current snapshot total = %d, want 11", got)
	}
}

func TestTimelineBuckets(t *testing.T) {
	a := newTestAggregator(t)
	now := time.Date(2026, 3, 14, 15, 30, 0, 0, time.UTC)
	a.now = func() time.Time { return now }

	mk := func(sev schema.Severity, ts time.Time) *schema.SecurityEvent {
		e := aggEvent(sev)
		e.Timestamp = ts
		return e
	}

	a.OnAppend(mk(schema.SeverityCritical, now))
	a.OnAppend(mk(schema.SeverityHigh, now))
	a.OnAppend(mk(schema.SeverityMedium, now.Add(-time.Hour)))
	// Outside the 24 hour span entirely.
	a.OnAppend(mk(schema.SeverityLow, now.Add(-30*time.Hour)))
	a.Publish()

	tl := a.Snapshot().Timeline
	if len(tl) != timelineHours {
		t.Fatalf("timeline has %d buckets, want %d", len(tl), timelineHours)
	}

	last := tl[len(tl)-1]
	if last.Time != "15:00" {
		t.Errorf("last bucket label = %q, want 15:00", last.Time)
	}
	if last.Events != 2 || last.Critical != 1 || last.High != 1 {
		t.Errorf("current hour bucket = %+v, want 2 events 1 critical 1 high", last)
	}

	prev := tl[len(tl)-2]
	if prev.Time != "14:00" || prev.Events != 1 || prev.Medium != 1 {
		t.Errorf("previous hour bucket = %+v, want 1 event 1 medium at 14:00", prev)
	}

	total := 0
	for _, b := range tl {
		total += b.Events
	}
	if total != 3 {
		t.Errorf("timeline holds %d events, want 3 (out-of-span event excluded)", total)
	}

	t.Run("eviction removes from bucket", func(t *testing.T) {
		a.OnEvict(mk(schema.SeverityMedium, now.Add(-time.Hour)))
		a.Publish()
		prev := a.Snapshot().Timeline[timelineHours-2]
		if prev.Events != 0 || prev.Medium != 0 {
			t.Errorf("bucket after eviction = %+v, want empty", prev)
		}
	})
}

func TestRateTracker(t *testing.T) {
	r := newRateTracker(10 * time.Second)
	base := time.Unix(1_000_000, 0)

	for i := 0; i < 20; i++ {
		r.observe(base)
	}
	for i := 0; i < 10; i++ {
		r.observe(base.Add(time.Second))
	}

	if got := r.perSecond(base.Add(time.Second)); got != 3.0 {
		t.Errorf("perSecond = %v, want 3.0", got)
	}

	t.Run("old seconds age out", func(t *testing.T) {
		if got := r.perSecond(base.Add(15 * time.Second)); got != 0 {
			t.Errorf("perSecond = %v, want 0 after window passed", got)
		}
	})

	t.Run("slot reuse resets stale counts", func(t *testing.T) {
		r.observe(base.Add(10 * time.Second)) // same slot as base
		if got := r.perSecond(base.Add(10 * time.Second)); got != 1.1 {
			t.Errorf("perSecond = %v, want 1.1", got)
		}
	})
}

// Package aggregate maintains the rolling counters behind the dashboard
// statistics: windowed totals, severity and attack-type breakdowns, incident
// tracking and the derived threat score. All mutation happens on the single
// writer that owns the Aggregator; readers only ever see complete, published
// snapshots.
package aggregate

import (
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"socwatch/internal/schema"
	"socwatch/internal/score"
)

// Config holds aggregation policy parameters.
type Config struct {
	TopAttacks   int
	TopCountries int
	IncidentTTL  time.Duration
	RateWindow   time.Duration

	// Strict enables internal consistency assertions. Inconsistent
	// counters then panic instead of publishing a corrupted snapshot;
	// intended for tests and staging.
	Strict bool
}

// DefaultConfig returns the default aggregation configuration.
func DefaultConfig() Config {
	return Config{
		TopAttacks:   8,
		TopCountries: 5,
		IncidentTTL:  time.Hour,
		RateWindow:   time.Minute,
	}
}

// AttackCount is one entry of the top-attacks ranking.
type AttackCount struct {
	Type  string `json:"type"`
	Count int    `json:"count"`
}

// CountryCount is one entry of the top-countries ranking.
type CountryCount struct {
	Country string `json:"country"`
	Count   int    `json:"count"`
}

// Snapshot is the immutable rolled-up view served to polling clients.
// total_events counts retained events: every eviction is reflected here,
// never silently absorbed.
type Snapshot struct {
	TotalEvents          int              `json:"total_events"`
	CriticalAlerts       int              `json:"critical_alerts"`
	HighAlerts           int              `json:"high_alerts"`
	BlockedAttacks       int              `json:"blocked_attacks"`
	ActiveIncidents      int              `json:"active_incidents"`
	ThreatScore          int              `json:"threat_score"`
	ThreatLabel          string           `json:"threat_label"`
	EventsPerSecond      float64          `json:"events_per_second"`
	TopAttacks           []AttackCount    `json:"top_attacks"`
	TopCountries         []CountryCount   `json:"top_countries"`
	SeverityDistribution map[string]int   `json:"severity_distribution"`
	LastUpdated          time.Time        `json:"last_updated"`
	Timeline             []TimelineBucket `json:"-"`
}

// Aggregator owns the rolling counters. It is not safe for concurrent
// mutation: OnAppend, OnEvict, Resolve, Sweep and Publish must be called
// from the single pipeline writer. Snapshot is safe from any goroutine.
type Aggregator struct {
	cfg     Config
	weights score.Weights

	windowTotal int
	bySeverity  map[schema.Severity]int
	blocked     int

	attacks   *TopK
	countries *TopK
	incidents *incidentTracker
	tl        timeline
	rate      *rateTracker

	published atomic.Pointer[Snapshot]
	now       func() time.Time
}

// New creates an Aggregator and publishes an empty snapshot.
func New(cfg Config, weights score.Weights) *Aggregator {
	if cfg.TopAttacks <= 0 {
		cfg.TopAttacks = DefaultConfig().TopAttacks
	}
	if cfg.TopCountries <= 0 {
		cfg.TopCountries = DefaultConfig().TopCountries
	}
	if cfg.RateWindow <= 0 {
		cfg.RateWindow = DefaultConfig().RateWindow
	}

	a := &Aggregator{
		cfg:        cfg,
		weights:    weights,
		bySeverity: make(map[schema.Severity]int),
		attacks:    NewTopK(cfg.TopAttacks),
		countries:  NewTopK(cfg.TopCountries),
		incidents:  newIncidentTracker(cfg.IncidentTTL),
		rate:       newRateTracker(cfg.RateWindow),
		now:        time.Now,
	}
	a.Publish()
	return a
}

// OnAppend rolls one newly stored event into the counters.
func (a *Aggregator) OnAppend(e *schema.SecurityEvent) {
	now := a.now()

	a.windowTotal++
	a.bySeverity[e.Severity]++
	if e.Blocked {
		a.blocked++
	}

	a.attacks.Inc(e.AttackType)
	if e.Country != "" {
		a.countries.Inc(e.Country)
	}

	a.incidents.observe(e, now)
	a.tl.add(e, 1)
	a.rate.observe(now)
}

// OnEvict rolls back exactly the contributions OnAppend made for the event.
func (a *Aggregator) OnEvict(e *schema.SecurityEvent) {
	a.windowTotal--
	a.bySeverity[e.Severity]--
	if e.Blocked {
		a.blocked--
	}

	a.attacks.Dec(e.AttackType)
	if e.Country != "" {
		a.countries.Dec(e.Country)
	}

	a.incidents.drop(e.ID)
	a.tl.add(e, -1)
}

// Resolve transitions the incident for the event id to Resolved. Returns
// false when no incident is open for the id; resolving twice has the same
// effect as once.
func (a *Aggregator) Resolve(id uuid.UUID) bool {
	return a.incidents.resolve(id)
}

// Sweep auto-resolves incidents idle past the configured TTL and returns
// how many were closed.
func (a *Aggregator) Sweep() int {
	return len(a.incidents.sweep(a.now()))
}

// Publish rebuilds the snapshot from the current counters and makes it the
// one readers see. The owner calls this after each complete mutation unit,
// so a snapshot never reflects a fraction of one append.
func (a *Aggregator) Publish() {
	now := a.now()

	if a.cfg.Strict {
		a.assertConsistent()
	}

	windowTotal := a.windowTotal
	critical := a.bySeverity[schema.SeverityCritical]
	blockedRatio := 0.0
	if windowTotal > 0 {
		blockedRatio = float64(a.blocked) / float64(windowTotal)
	}
	rate := a.rate.perSecond(now)

	threat, label := score.Score(score.Inputs{
		CriticalAlerts:  critical,
		ActiveIncidents: a.incidents.active(),
		BlockedRatio:    blockedRatio,
		EventRate:       rate,
	}, a.weights)

	snap := &Snapshot{
		TotalEvents:          windowTotal,
		CriticalAlerts:       critical,
		HighAlerts:           a.bySeverity[schema.SeverityHigh],
		BlockedAttacks:       a.blocked,
		ActiveIncidents:      a.incidents.active(),
		ThreatScore:          threat,
		ThreatLabel:          string(label),
		EventsPerSecond:      rate,
		TopAttacks:           make([]AttackCount, 0, a.cfg.TopAttacks),
		TopCountries:         make([]CountryCount, 0, a.cfg.TopCountries),
		SeverityDistribution: make(map[string]int, len(schema.Severities)),
		LastUpdated:          now,
		Timeline:             a.tl.buckets(now),
	}

	for _, e := range a.attacks.Top() {
		snap.TopAttacks = append(snap.TopAttacks, AttackCount{Type: e.Label, Count: e.Count})
	}
	for _, e := range a.countries.Top() {
		snap.TopCountries = append(snap.TopCountries, CountryCount{Country: e.Label, Count: e.Count})
	}
	for _, sev := range schema.Severities {
		if n := a.bySeverity[sev]; n > 0 {
			snap.SeverityDistribution[string(sev)] = n
		}
	}

	a.published.Store(snap)
}

// Snapshot returns the currently published snapshot. The returned value is
// immutable and shared; callers must not modify it.
func (a *Aggregator) Snapshot() *Snapshot {
	return a.published.Load()
}

// assertConsistent verifies the counter invariants. A violation is a
// programming error, never a recoverable condition.
func (a *Aggregator) assertConsistent() {
	if a.windowTotal < 0 {
		panic(fmt.Sprintf("aggregate: negative window total %d", a.windowTotal))
	}
	if a.blocked < 0 || a.blocked > a.windowTotal {
		panic(fmt.Sprintf("aggregate: blocked count %d outside [0,%d]", a.blocked, a.windowTotal))
	}

	sum := 0
	for sev, n := range a.bySeverity {
		if n < 0 {
			panic(fmt.Sprintf("aggregate: negative count for severity %s", sev))
		}
		sum += n
	}
	if sum != a.windowTotal {
		panic(fmt.Sprintf("aggregate: severity counts sum %d != window total %d", sum, a.windowTotal))
	}

	if a.incidents.active() > a.windowTotal {
		panic("aggregate: more open incidents than retained events")
	}
}

// rateTracker counts events per second over a sliding window using a
// fixed ring of per-second buckets with lazy invalidation.
type rateTracker struct {
	secs  int64
	stamp []int64
	count []int
}

func newRateTracker(window time.Duration) *rateTracker {
	secs := int64(window / time.Second)
	if secs < 1 {
		secs = 1
	}
	return &rateTracker{
		secs:  secs,
		stamp: make([]int64, secs),
		count: make([]int, secs),
	}
}

func (r *rateTracker) observe(now time.Time) {
	sec := now.Unix()
	i := sec % r.secs
	if r.stamp[i] != sec {
		r.stamp[i] = sec
		r.count[i] = 0
	}
	r.count[i]++
}

func (r *rateTracker) perSecond(now time.Time) float64 {
	sec := now.Unix()
	total := 0
	for i := range r.stamp {
		if r.stamp[i] > sec-r.secs {
			total += r.count[i]
		}
	}
	return float64(total) / float64(r.secs)
}

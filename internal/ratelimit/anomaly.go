package ratelimit

import (
	"math"
	"sync"
	"time"
)

// Flag is an advisory anomaly signal. Flags are emitted for observability;
// enforcement is a deployment choice.
type Flag struct {
	Kind    string    `json:"kind"` // "ip_rate", "ua_churn", "burst"
	IP      string    `json:"ip,omitempty"`
	Subject string    `json:"subject,omitempty"`
	Detail  string    `json:"detail"`
	At      time.Time `json:"at"`
}

const (
	ipRateThreshold = 100             // requests per minute from one IP
	uaThreshold     = 10              // distinct UAs from one IP per hour
	burstSigma      = 10.0            // spike multiplier over subject mean
	logRetention    = time.Hour       // sliding log horizon
	burstWindow     = 10 * time.Second
)

type logEntry struct {
	ip  string
	ua  string
	sub string
	ts  time.Time
}

type subjectStats struct {
	// Welford running mean/variance of per-burst-window request counts.
	n    float64
	mean float64
	m2   float64

	windowStart time.Time
	windowCount float64
}

// Detector maintains a sliding log of {ip, ts, ua} and raises advisory flags
// on suspicious traffic shapes.
type Detector struct {
	mu      sync.Mutex
	log     []logEntry
	stats   map[string]*subjectStats
	flags   []Flag
	maxLogN int
}

// NewDetector returns an empty anomaly detector.
func NewDetector() *Detector {
	return &Detector{stats: make(map[string]*subjectStats), maxLogN: 100_000}
}

// Record notes one request arrival and evaluates the anomaly rules.
func (d *Detector) Record(ip, ua, subject string) {
	now := time.Now()
	d.mu.Lock()
	defer d.mu.Unlock()

	d.log = append(d.log, logEntry{ip: ip, ua: ua, sub: subject, ts: now})
	if len(d.log) > d.maxLogN {
		d.log = d.log[len(d.log)-d.maxLogN:]
	}

	d.checkIPRate(ip, now)
	d.checkUAChurn(ip, now)
	d.checkBurst(subject, now)
}

func (d *Detector) raise(f Flag) {
	d.flags = append(d.flags, f)
	if len(d.flags) > 1000 {
		d.flags = d.flags[len(d.flags)-1000:]
	}
}

func (d *Detector) checkIPRate(ip string, now time.Time) {
	if ip == "" {
		return
	}
	cutoff := now.Add(-time.Minute)
	count := 0
	for i := len(d.log) - 1; i >= 0; i-- {
		e := d.log[i]
		if e.ts.Before(cutoff) {
			break
		}
		if e.ip == ip {
			count++
		}
	}
	if count > ipRateThreshold {
		d.raise(Flag{Kind: "ip_rate", IP: ip, Detail: "over 100 req/min from one IP", At: now})
	}
}

func (d *Detector) checkUAChurn(ip string, now time.Time) {
	if ip == "" {
		return
	}
	cutoff := now.Add(-time.Hour)
	uas := map[string]struct{}{}
	for i := len(d.log) - 1; i >= 0; i-- {
		e := d.log[i]
		if e.ts.Before(cutoff) {
			break
		}
		if e.ip == ip && e.ua != "" {
			uas[e.ua] = struct{}{}
		}
	}
	if len(uas) > uaThreshold {
		d.raise(Flag{Kind: "ua_churn", IP: ip, Detail: "over 10 distinct user agents in 1h", At: now})
	}
}

func (d *Detector) checkBurst(subject string, now time.Time) {
	if subject == "" {
		return
	}
	s, ok := d.stats[subject]
	if !ok {
		s = &subjectStats{windowStart: now}
		d.stats[subject] = s
	}
	if now.Sub(s.windowStart) >= burstWindow {
		// Close the window: fold the count into the running stats.
		s.n++
		delta := s.windowCount - s.mean
		s.mean += delta / s.n
		s.m2 += delta * (s.windowCount - s.mean)
		s.windowStart = now
		s.windowCount = 0
	}
	s.windowCount++

	if s.n < 5 {
		return // not enough history for a stable baseline
	}
	stddev := math.Sqrt(s.m2 / s.n)
	if stddev == 0 {
		stddev = 1
	}
	if s.windowCount > s.mean+burstSigma*stddev {
		d.raise(Flag{Kind: "burst", Subject: subject, Detail: "burst over 10 sigma above mean", At: now})
	}
}

// Flags drains and returns the accumulated advisory flags.
func (d *Detector) Flags() []Flag {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := d.flags
	d.flags = nil
	return out
}

// Sweep trims log entries older than the retention horizon.
func (d *Detector) Sweep() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	cutoff := time.Now().Add(-logRetention)
	idx := 0
	for idx < len(d.log) && d.log[idx].ts.Before(cutoff) {
		idx++
	}
	d.log = d.log[idx:]
	return idx
}

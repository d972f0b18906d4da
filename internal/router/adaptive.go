package router

import (
	"sync"
	"time"

	gateway "github.com/llmrouter/gateway/internal"
)

const (
	// learnerAlpha is the EMA step for observed rewards.
	learnerAlpha = 0.1
	// learnerMinSamples is how many observations a (features, candidate)
	// cell needs before it influences selection.
	learnerMinSamples = 20
	// learnerBlend is the share of the final score taken from history once
	// the cell is active.
	learnerBlend = 0.2
)

// Learner keeps a reward EMA per (request features, candidate) cell. Cold
// cells are ignored; warm cells nudge the strategy score toward candidates
// that historically served similar requests well.
type Learner struct {
	mu    sync.Mutex
	cells map[string]*learnerCell
	now   func() time.Time
}

type learnerCell struct {
	reward   float64
	samples  int
	lastUsed time.Time
}

func NewLearner() *Learner {
	return &Learner{cells: map[string]*learnerCell{}, now: time.Now}
}

func cellKey(f gateway.RequestFeatures, c gateway.Candidate) string {
	return featureKey(f) + "|" + c.ProviderID + ":" + c.Model
}

// Observe folds one dispatch outcome into the matching cell. The reward is
// 1 for a success, scaled down by how far latency ran past a second, and 0
// for a failure.
func (l *Learner) Observe(f gateway.RequestFeatures, c gateway.Candidate, out *gateway.Outcome) {
	reward := 0.0
	if out.Err == nil {
		reward = 1.0
		if out.Latency > time.Second {
			penalty := float64(out.Latency-time.Second) / float64(latencyCeiling)
			reward -= clamp01(penalty) * 0.5
		}
	}

	key := cellKey(f, c)
	l.mu.Lock()
	defer l.mu.Unlock()
	cell := l.cells[key]
	if cell == nil {
		cell = &learnerCell{reward: reward}
		l.cells[key] = cell
	} else {
		cell.reward = cell.reward*(1-learnerAlpha) + reward*learnerAlpha
	}
	cell.samples++
	cell.lastUsed = l.now()
}

// Adjust blends history into score when the cell is warm enough.
func (l *Learner) Adjust(f gateway.RequestFeatures, c gateway.Candidate, score float64) float64 {
	l.mu.Lock()
	cell := l.cells[cellKey(f, c)]
	l.mu.Unlock()
	if cell == nil || cell.samples < learnerMinSamples {
		return score
	}
	return score*(1-learnerBlend) + cell.reward*learnerBlend
}

// EvictStale drops cells untouched since cutoff and reports how many.
func (l *Learner) EvictStale(cutoff time.Time) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for k, cell := range l.cells {
		if cell.lastUsed.Before(cutoff) {
			delete(l.cells, k)
			n++
		}
	}
	return n
}

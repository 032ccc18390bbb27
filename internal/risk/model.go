// Package risk estimates the probability of a corridor supply shortfall
// over a forward horizon. The model is a latent Gaussian random walk
// observed through the daily feature channels, with realized shortfall
// days entering as Bernoulli outcomes through a logistic link. Posterior
// inference is Metropolis-within-Gibbs over the latent path, the channel
// loadings and noise scales, and the walk's innovation scale; days with
// missing channels simply contribute fewer likelihood terms.
package risk

import (
	"context"
	"math"
	"math/rand"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/gasrisk-cli/internal/config"
	"github.com/sells-group/gasrisk-cli/internal/feature"
	"github.com/sells-group/gasrisk-cli/internal/model"
)

// Version names the active model. The severity mapping is part of the
// model's input contract, so its version is embedded here.
const Version = "latent-rw-v1+" + feature.SeverityVersion

// ErrInsufficientData is returned when the feature frame has too few
// usable days to support an estimate.
var ErrInsufficientData = eris.New("risk: insufficient history to estimate")

const (
	// Latent walk scales, in z-score units since channels are
	// standardized before fitting. tauInit centers the prior on the
	// walk's innovation scale; the sampler adapts log tau from there.
	initialStd = 1.0
	tauInit    = 0.3

	// Metropolis proposal scales.
	proposalX     = 0.25
	proposalBeta  = 0.2
	proposalAlpha = 0.2
	proposalScale = 0.15 // shared by the log tau and log sigma updates

	// Shortfalls are rare; the intercept prior is centered well below zero.
	alphaPriorMean = -2.0

	chains = 2
)

// Model fits the shortfall model to a feature snapshot.
type Model struct {
	cfg config.ModelConfig
}

// New creates a risk model with the given hyperparameters.
func New(cfg config.ModelConfig) *Model {
	return &Model{cfg: cfg}
}

// Estimate fits the model to the snapshot and returns the shortfall
// probability HorizonDays past the end of the frame. The returned
// estimate is fully determined by the snapshot and the configured seed.
func (m *Model) Estimate(ctx context.Context, snap *feature.Snapshot) (*model.RiskEstimate, error) {
	ds := buildDataset(snap.Rows)
	if ds.usableDays() < m.cfg.MinHistoryDays {
		return nil, eris.Wrapf(ErrInsufficientData,
			"%d days with observations, need %d", ds.usableDays(), m.cfg.MinHistoryDays)
	}

	log := zap.L().With(
		zap.String("component", "risk.model"),
		zap.String("snapshot_id", snap.ID),
	)

	draws := make([][]float64, 0, chains)
	for c := 0; c < chains; c++ {
		chain, err := m.runChain(ctx, rand.New(rand.NewSource(m.cfg.Seed+int64(c))), ds)
		if err != nil {
			return nil, err
		}
		draws = append(draws, chain)
	}

	all := make([]float64, 0, chains*m.cfg.Draws)
	for _, chain := range draws {
		all = append(all, chain...)
	}

	prob := mean(all)
	tail := (100 - m.cfg.CredibleMassPercent) / 2 / 100
	low := quantile(all, tail)
	high := quantile(all, 1-tail)

	rhat := splitRhat(draws)
	lowConfidence := math.IsNaN(rhat) || rhat > m.cfg.RhatLowConfidence
	if lowConfidence {
		log.Warn("chains did not converge", zap.Float64("rhat", rhat))
	}

	log.Info("estimate computed",
		zap.Float64("probability", prob),
		zap.Float64("rhat", rhat),
		zap.Int("horizon_days", m.cfg.HorizonDays),
	)

	return &model.RiskEstimate{
		ID:                   uuid.New().String(),
		AsOfDate:             model.DayOf(snap.Range.End),
		HorizonDays:          m.cfg.HorizonDays,
		ShortfallProbability: prob,
		CredibleLow:          low,
		CredibleHigh:         high,
		ModelVersion:         Version,
		SnapshotID:           snap.ID,
		LowConfidence:        lowConfidence,
		CreatedAt:            time.Now().UTC(),
	}, nil
}

// runChain runs burn-in plus Draws sweeps and returns one forecast
// probability per retained sweep.
func (m *Model) runChain(ctx context.Context, rng *rand.Rand, ds *dataset) ([]float64, error) {
	st := newState(ds, rng)
	out := make([]float64, 0, m.cfg.Draws)

	total := m.cfg.BurnIn + m.cfg.Draws
	for sweep := 0; sweep < total; sweep++ {
		if err := ctx.Err(); err != nil {
			return nil, eris.Wrap(err, "risk: sampling interrupted")
		}

		for t := 0; t < ds.days; t++ {
			st.updateX(t, rng)
		}
		st.updateAlpha(rng)
		for c := range ds.channels {
			st.updateBeta(c, rng)
			st.updateSigma(c, rng)
		}
		st.updateTau(rng)

		if sweep >= m.cfg.BurnIn {
			out = append(out, st.forecast(m.cfg.HorizonDays, rng))
		}
	}
	return out, nil
}

// dataset is the standardized view of a feature frame the sampler
// consumes: per-channel z-scores with NaN marking missing days, and the
// realized shortfall labels where known.
type dataset struct {
	channels []string
	obs      [][]float64 // [channel][day], NaN when unobserved
	labels   []int8      // -1 unknown, 0 calm, 1 shortfall
	days     int
}

func buildDataset(rows []model.DailyFeatureRow) *dataset {
	ds := &dataset{days: len(rows)}

	for _, name := range model.Channels() {
		col := make([]float64, len(rows))
		var vals []float64
		for t, row := range rows {
			if v := row.Channel(name); v != nil {
				col[t] = *v
				vals = append(vals, *v)
			} else {
				col[t] = math.NaN()
			}
		}
		// A constant or near-empty channel carries no signal; drop it
		// rather than divide by a zero spread.
		if len(vals) < 2 {
			continue
		}
		mu, sd := meanStd(vals)
		if sd == 0 {
			continue
		}
		for t := range col {
			if !math.IsNaN(col[t]) {
				col[t] = (col[t] - mu) / sd
			}
		}
		ds.channels = append(ds.channels, name)
		ds.obs = append(ds.obs, col)
	}

	ds.labels = make([]int8, len(rows))
	for t, row := range rows {
		switch {
		case row.ShortfallEvent == nil:
			ds.labels[t] = -1
		case *row.ShortfallEvent:
			ds.labels[t] = 1
		default:
			ds.labels[t] = 0
		}
	}
	return ds
}

// usableDays counts days with at least one observed channel.
func (ds *dataset) usableDays() int {
	n := 0
	for t := 0; t < ds.days; t++ {
		for c := range ds.obs {
			if !math.IsNaN(ds.obs[c][t]) {
				n++
				break
			}
		}
	}
	return n
}

// state is the current sampler position.
type state struct {
	ds     *dataset
	x      []float64
	beta   []float64
	alpha  float64
	logTau float64   // log innovation scale of the walk
	logSig []float64 // per-channel log observation noise
}

func newState(ds *dataset, rng *rand.Rand) *state {
	st := &state{
		ds:     ds,
		x:      make([]float64, ds.days),
		beta:   make([]float64, len(ds.channels)),
		alpha:  alphaPriorMean,
		logTau: math.Log(tauInit),
		logSig: make([]float64, len(ds.channels)),
	}
	for i := range st.x {
		st.x[i] = 0.1 * rng.NormFloat64()
	}
	for i := range st.beta {
		st.beta[i] = 0.1 * rng.NormFloat64()
	}
	return st
}

func (st *state) tau() float64 { return math.Exp(st.logTau) }

func (st *state) sigma(c int) float64 { return math.Exp(st.logSig[c]) }

// xLogDensity is the log posterior restricted to terms involving x[t].
func (st *state) xLogDensity(t int, xt float64) float64 {
	var lp float64

	tau2 := st.tau() * st.tau()
	if t == 0 {
		lp -= xt * xt / (2 * initialStd * initialStd)
	} else {
		d := xt - st.x[t-1]
		lp -= d * d / (2 * tau2)
	}
	if t+1 < st.ds.days {
		d := st.x[t+1] - xt
		lp -= d * d / (2 * tau2)
	}

	for c := range st.ds.obs {
		y := st.ds.obs[c][t]
		if math.IsNaN(y) {
			continue
		}
		r := y - st.beta[c]*xt
		s := st.sigma(c)
		lp -= r * r / (2 * s * s)
	}

	if z := st.ds.labels[t]; z >= 0 {
		lp += bernoulliLogProb(st.alpha+xt, z == 1)
	}
	return lp
}

func (st *state) updateX(t int, rng *rand.Rand) {
	cur := st.x[t]
	prop := cur + proposalX*rng.NormFloat64()
	if accept(st.xLogDensity(t, prop)-st.xLogDensity(t, cur), rng) {
		st.x[t] = prop
	}
}

// betaLogDensity is the log posterior restricted to channel c's loading.
func (st *state) betaLogDensity(c int, b float64) float64 {
	lp := -b * b / 2
	s2 := st.sigma(c) * st.sigma(c)
	for t := 0; t < st.ds.days; t++ {
		y := st.ds.obs[c][t]
		if math.IsNaN(y) {
			continue
		}
		r := y - b*st.x[t]
		lp -= r * r / (2 * s2)
	}
	return lp
}

func (st *state) updateBeta(c int, rng *rand.Rand) {
	cur := st.beta[c]
	prop := cur + proposalBeta*rng.NormFloat64()
	if accept(st.betaLogDensity(c, prop)-st.betaLogDensity(c, cur), rng) {
		st.beta[c] = prop
	}
}

func (st *state) alphaLogDensity(a float64) float64 {
	d := a - alphaPriorMean
	lp := -d * d / 2
	for t := 0; t < st.ds.days; t++ {
		if z := st.ds.labels[t]; z >= 0 {
			lp += bernoulliLogProb(a+st.x[t], z == 1)
		}
	}
	return lp
}

func (st *state) updateAlpha(rng *rand.Rand) {
	cur := st.alpha
	prop := cur + proposalAlpha*rng.NormFloat64()
	if accept(st.alphaLogDensity(prop)-st.alphaLogDensity(cur), rng) {
		st.alpha = prop
	}
}

// tauLogDensity is the log posterior over the walk's log innovation
// scale: a unit-normal prior centered on log tauInit plus the Gaussian
// increment terms. The -log tau normalizer stays in because the scale
// is what varies here.
func (st *state) tauLogDensity(lt float64) float64 {
	d := lt - math.Log(tauInit)
	lp := -d * d / 2
	t2 := 2 * math.Exp(2*lt)
	for t := 1; t < st.ds.days; t++ {
		inc := st.x[t] - st.x[t-1]
		lp -= inc*inc/t2 + lt
	}
	return lp
}

func (st *state) updateTau(rng *rand.Rand) {
	cur := st.logTau
	prop := cur + proposalScale*rng.NormFloat64()
	if accept(st.tauLogDensity(prop)-st.tauLogDensity(cur), rng) {
		st.logTau = prop
	}
}

// sigmaLogDensity is the analogue for channel c's observation noise,
// with a unit-normal prior on the log scale (sigma centered at 1, the
// spread of a standardized channel).
func (st *state) sigmaLogDensity(c int, ls float64) float64 {
	lp := -ls * ls / 2
	s2 := 2 * math.Exp(2*ls)
	for t := 0; t < st.ds.days; t++ {
		y := st.ds.obs[c][t]
		if math.IsNaN(y) {
			continue
		}
		r := y - st.beta[c]*st.x[t]
		lp -= r*r/s2 + ls
	}
	return lp
}

func (st *state) updateSigma(c int, rng *rand.Rand) {
	cur := st.logSig[c]
	prop := cur + proposalScale*rng.NormFloat64()
	if accept(st.sigmaLogDensity(c, prop)-st.sigmaLogDensity(c, cur), rng) {
		st.logSig[c] = prop
	}
}

// forecast walks the latent state forward and returns the shortfall
// probability at the horizon for the current draw.
func (st *state) forecast(horizonDays int, rng *rand.Rand) float64 {
	x := st.x[st.ds.days-1]
	tau := st.tau()
	for h := 0; h < horizonDays; h++ {
		x += tau * rng.NormFloat64()
	}
	return sigmoid(st.alpha + x)
}

func accept(logRatio float64, rng *rand.Rand) bool {
	if logRatio >= 0 {
		return true
	}
	return math.Log(rng.Float64()) < logRatio
}

func sigmoid(v float64) float64 {
	return 1 / (1 + math.Exp(-v))
}

// bernoulliLogProb is the log likelihood of outcome z under logit v,
// written to stay finite for extreme logits.
func bernoulliLogProb(v float64, z bool) float64 {
	if z {
		return -log1pExp(-v)
	}
	return -log1pExp(v)
}

// log1pExp computes log(1+exp(v)) without overflow.
func log1pExp(v float64) float64 {
	if v > 35 {
		return v
	}
	return math.Log1p(math.Exp(v))
}

package picker

import (
	"context"
	"iter"
	"math/rand/v2"
	"slices"
	"strconv"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/randimg/internal/metrics"
)

// DefaultHeadProbeLimit caps HEAD probes per tier.
const DefaultHeadProbeLimit = 120

// Tier is one selection pass with a fixed relaxation of the thresholds.
type Tier struct {
	Number     int        `json:"tier"`
	Name       string     `json:"name"`
	Thresholds Thresholds `json:"thresholds"`
	Minimal    bool       `json:"minimal,omitempty"`
}

// Tiers lists the passes to run for cfg, strictest first.
func Tiers(cfg SelectionConfig) []Tier {
	if cfg.DisableFilters {
		return []Tier{{Number: 1, Name: "minimal", Minimal: true}}
	}
	strict := cfg.Thresholds()
	tiers := []Tier{{Number: 1, Name: "strict", Thresholds: strict}}
	if !cfg.SmartFallback {
		return tiers
	}

	bytesRelaxed := strict
	bytesRelaxed.MinBytes = max(5000, strict.MinBytes/2)

	personDropped := bytesRelaxed
	personDropped.RequirePerson = false

	loose := Thresholds{
		MinWidth:  max(200, strict.MinWidth/2),
		MinHeight: max(200, strict.MinHeight/2),
		MinBytes:  3000,
		MaxAspect: max(strict.MaxAspect, 5.0),
	}

	return append(tiers,
		Tier{Number: 2, Name: "bytes-relaxed", Thresholds: bytesRelaxed},
		Tier{Number: 3, Name: "person-dropped", Thresholds: personDropped},
		Tier{Number: 4, Name: "dims-relaxed", Thresholds: loose},
	)
}

// SelectorConfig bounds the work of one selection.
type SelectorConfig struct {
	GetTryLimit     int
	HeadProbeLimit  int
	Parallelism     int
	DefaultExcludes []string
}

// Selection is the accepted candidate.
type Selection struct {
	URL     string  `json:"url"`
	Tier    Tier    `json:"tier"`
	Outcome Outcome `json:"outcome"`
}

// TierReport records what one tier tried.
type TierReport struct {
	Tier     Tier      `json:"tier"`
	GetsUsed int       `json:"gets_used"`
	Accepted string    `json:"accepted,omitempty"`
	Outcomes []Outcome `json:"-"`
}

// Report is the diagnostic record of a selection.
type Report struct {
	Candidates int          `json:"candidates"`
	Tiers      []TierReport `json:"tiers"`
}

// Trace flattens the outcomes of all tiers, capped at limit (<= 0 means no cap).
func (r Report) Trace(limit int) []Outcome {
	var out []Outcome
	for _, tr := range r.Tiers {
		for _, o := range tr.Outcomes {
			if limit > 0 && len(out) >= limit {
				return out
			}
			out = append(out, o)
		}
	}
	return out
}

// Selector runs the tiers over a candidate list.
type Selector struct {
	validator *Validator
	shuffler  Shuffler
	cfg       SelectorConfig
	tracer    trace.Tracer
	logger    *zap.Logger
}

// NewSelector constructs a Selector. A nil shuffler uses the global math/rand/v2 source.
func NewSelector(validator *Validator, shuffler Shuffler, cfg SelectorConfig, logger *zap.Logger) *Selector {
	if shuffler == nil {
		shuffler = globalShuffler{}
	}
	if cfg.GetTryLimit <= 0 {
		cfg.GetTryLimit = DefaultGetTryLimit
	}
	if cfg.HeadProbeLimit <= 0 {
		cfg.HeadProbeLimit = DefaultHeadProbeLimit
	}
	if cfg.Parallelism <= 0 {
		cfg.Parallelism = 1
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Selector{
		validator: validator,
		shuffler:  shuffler,
		cfg:       cfg,
		tracer:    otel.Tracer("github.com/JakeFAU/randimg/internal/picker"),
		logger:    logger,
	}
}

// Select returns the first accepted candidate of the first tier that accepts one.
// It returns ErrNoSuitableImage when every tier is exhausted, or the context
// error when ctx ends first. The report is populated in every case.
func (s *Selector) Select(ctx context.Context, cfg SelectionConfig, candidates []string) (Selection, Report, error) {
	report := Report{Candidates: len(candidates)}
	exclusion := NewExclusion(s.cfg.DefaultExcludes, cfg.Exclude)

	for _, tier := range Tiers(cfg) {
		if err := ctx.Err(); err != nil {
			return Selection{}, report, err
		}
		sel, tr, ok := s.runTier(ctx, tier, cfg.PageURL, candidates, exclusion)
		report.Tiers = append(report.Tiers, tr)
		if ok {
			return sel, report, nil
		}
	}
	if err := ctx.Err(); err != nil {
		return Selection{}, report, err
	}
	return Selection{}, report, ErrNoSuitableImage
}

func (s *Selector) runTier(
	ctx context.Context,
	tier Tier,
	referer string,
	candidates []string,
	exclusion *Exclusion,
) (Selection, TierReport, bool) {
	ctx, span := s.tracer.Start(ctx, "tier", trace.WithAttributes(
		attribute.Int("tier.number", tier.Number),
		attribute.String("tier.name", tier.Name),
	))
	defer span.End()

	order := slices.Clone(candidates)
	s.shuffler.Shuffle(len(order), func(i, j int) { order[i], order[j] = order[j], order[i] })

	budget := NewBudget(s.cfg.GetTryLimit)
	probes := NewBudget(s.cfg.HeadProbeLimit)
	tr := TierReport{Tier: tier}

	for out := range s.Attempts(ctx, tier, referer, order, exclusion, budget, probes) {
		out.Tier = tier.Number
		tr.Outcomes = append(tr.Outcomes, out)
		metrics.ObserveValidation(string(out.Reason))
		if out.Accepted {
			tr.Accepted = out.URL
			tr.GetsUsed = s.cfg.GetTryLimit - budget.Remaining()
			span.SetAttributes(attribute.String("tier.accepted", out.URL))
			s.logger.Info("candidate accepted",
				zap.Int("tier", tier.Number),
				zap.String("url", out.URL),
				zap.Int("width", out.Width),
				zap.Int("height", out.Height),
			)
			return Selection{URL: out.URL, Tier: tier, Outcome: out}, tr, true
		}
	}
	tr.GetsUsed = s.cfg.GetTryLimit - budget.Remaining()
	s.logger.Debug("tier exhausted",
		zap.Int("tier", tier.Number),
		zap.Int("outcomes", len(tr.Outcomes)),
		zap.Int("gets_used", tr.GetsUsed),
	)
	return Selection{}, tr, false
}

// Attempts lazily evaluates order and yields outcomes in that order. With
// parallelism above one, later candidates are validated concurrently but an
// outcome is only yielded once every earlier one has been yielded; stopping
// the iteration cancels the remaining in-flight checks.
func (s *Selector) Attempts(
	ctx context.Context,
	tier Tier,
	referer string,
	order []string,
	exclusion *Exclusion,
	budget, probes *Budget,
) iter.Seq[Outcome] {
	check := func(candidate string) Check {
		return Check{
			URL:        candidate,
			Referer:    referer,
			Thresholds: tier.Thresholds,
			Minimal:    tier.Minimal,
			Budget:     budget,
			Probes:     probes,
		}
	}
	excluded := func(candidate string) bool {
		return !tier.Minimal && exclusion.Excluded(candidate)
	}
	if s.cfg.Parallelism <= 1 {
		return sequential(ctx, order, func(ctx context.Context, candidate string) Outcome {
			if excluded(candidate) {
				return Outcome{URL: candidate, Reason: ReasonExcluded}
			}
			return s.validator.Validate(ctx, check(candidate))
		})
	}

	// GET units are reserved in shuffled order before a check starts, so a
	// later candidate finishing its HEAD first cannot take an earlier one's unit.
	reserve := func(candidate string) (Outcome, bool) {
		if excluded(candidate) {
			return Outcome{URL: candidate, Reason: ReasonExcluded}, false
		}
		if !budget.Take() {
			return Outcome{URL: candidate, Reason: ReasonBudget, Detail: "get budget exhausted"}, false
		}
		return Outcome{}, true
	}
	return ordered(ctx, order, s.cfg.Parallelism, reserve, func(ctx context.Context, candidate string) Outcome {
		c := check(candidate)
		c.Reserved = true
		return s.validator.Validate(ctx, c)
	})
}

func sequential(ctx context.Context, order []string, eval func(context.Context, string) Outcome) iter.Seq[Outcome] {
	return func(yield func(Outcome) bool) {
		for _, candidate := range order {
			if ctx.Err() != nil {
				return
			}
			if !yield(eval(ctx, candidate)) {
				return
			}
		}
	}
}

// ordered runs eval for every candidate reserve admits, at most parallelism at
// a time, and yields outcomes in order. Candidates reserve turns away yield the
// outcome it returned without starting a check.
func ordered(
	ctx context.Context,
	order []string,
	parallelism int,
	reserve func(string) (Outcome, bool),
	eval func(context.Context, string) Outcome,
) iter.Seq[Outcome] {
	return func(yield func(Outcome) bool) {
		ctx, cancel := context.WithCancel(ctx)
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(parallelism)

		slots := make(chan chan Outcome, parallelism)
		go func() {
			defer close(slots)
			for _, candidate := range order {
				slot := make(chan Outcome, 1)
				select {
				case slots <- slot:
				case <-gctx.Done():
					return
				}
				if gctx.Err() != nil {
					return
				}
				if out, ok := reserve(candidate); !ok {
					slot <- out
					continue
				}
				g.Go(func() error {
					slot <- eval(gctx, candidate)
					return nil
				})
			}
		}()

		defer func() {
			cancel()
			for range slots {
			}
			_ = g.Wait()
		}()

		for slot := range slots {
			var out Outcome
			select {
			case out = <-slot:
			case <-ctx.Done():
				return
			}
			if !yield(out) {
				return
			}
		}
	}
}

type globalShuffler struct{}

func (globalShuffler) Shuffle(n int, swap func(i, j int)) { rand.Shuffle(n, swap) }

// TierLabel is the metrics label for a tier number.
func TierLabel(t Tier) string {
	if t.Minimal {
		return "minimal"
	}
	return strconv.Itoa(t.Number)
}

// Package answer runs a creator's question through classification, policy,
// ranking, generation and validation.
package answer

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/TobiSchelling/answerengine/internal/baseline"
	"github.com/TobiSchelling/answerengine/internal/contextpack"
	"github.com/TobiSchelling/answerengine/internal/database"
	"github.com/TobiSchelling/answerengine/internal/generate"
	"github.com/TobiSchelling/answerengine/internal/intent"
	"github.com/TobiSchelling/answerengine/internal/logging"
	"github.com/TobiSchelling/answerengine/internal/metrics"
	"github.com/TobiSchelling/answerengine/internal/model"
	"github.com/TobiSchelling/answerengine/internal/policy"
	"github.com/TobiSchelling/answerengine/internal/rank"
	"github.com/TobiSchelling/answerengine/internal/validate"
)

// Fallback reasons.
const (
	FallbackEmptyPack        = "empty_pack"
	FallbackNoGenerator      = "no_generator"
	FallbackGenerationError  = "generation_error"
	FallbackSanitizedEmpty   = "sanitized_empty"
	FallbackValidationFailed = "validation_failed"
)

// RelaxTags is recorded when the niche tag filter was dropped to find candidates.
const RelaxTags = "tags_relaxed"

// ProfileStore looks up stored profile signals. GetProfile returns nil, nil
// for unknown users.
type ProfileStore interface {
	GetProfile(ctx context.Context, userID string) (*model.ProfileSignals, error)
}

// RunRecorder persists finished runs.
type RunRecorder interface {
	InsertAnswerRun(ctx context.Context, r database.AnswerRun) error
}

// StepResult holds the result of a single pipeline step.
type StepResult struct {
	Name    string `json:"name"`
	Summary string `json:"summary"`
	Err     error  `json:"-"`
}

// Request is one question.
type Request struct {
	UserID string
	Query  string
	// Followers overrides the stored profile's follower count.
	Followers *int
	// Profile overrides the stored profile.
	Profile *model.ProfileSignals
	// DryRun stops after assembling the context pack.
	DryRun bool
}

// Result is the engine's answer.
type Result struct {
	ID             string                   `json:"id"`
	UserID         string                   `json:"user_id"`
	Query          string                   `json:"query"`
	Intent         policy.Intent            `json:"intent"`
	Focus          intent.Focus             `json:"focus"`
	Text           string                   `json:"text"`
	Validation     validate.Validation      `json:"validation"`
	UsedFallback   bool                     `json:"used_fallback"`
	FallbackReason string                   `json:"fallback_reason,omitempty"`
	RemovedLines   int                      `json:"removed_lines"`
	Attempts       int                      `json:"attempts"`
	Pack           *contextpack.ContextPack `json:"pack"`
	Steps          []StepResult             `json:"steps"`
}

// Options tune the engine.
type Options struct {
	// MaxAttempts is the number of drafts tried before falling back.
	MaxAttempts int
	// CandidateLimit caps how many posts are fetched for ranking.
	CandidateLimit int
}

// Deps are the engine's collaborators. Profiles, Runs and Metrics are optional.
type Deps struct {
	Posts      baseline.PostStore
	Profiles   ProfileStore
	Runs       RunRecorder
	Baselines  *baseline.Calculator
	Classifier intent.Classifier
	Resolver   *policy.Resolver
	Ranker     *rank.Ranker
	Generator  *generate.Generator
	Metrics    *metrics.Metrics
	Logger     logrus.FieldLogger
	Now        func() time.Time
}

// Engine answers questions. It is safe for concurrent use.
type Engine struct {
	deps Deps
	opts Options
}

// New creates an engine.
func New(deps Deps, opts Options) *Engine {
	if opts.MaxAttempts < 1 {
		opts.MaxAttempts = 2
	}
	if opts.CandidateLimit <= 0 {
		opts.CandidateLimit = 300
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.Logger == nil {
		deps.Logger = logging.Discard()
	}
	if deps.Classifier == nil {
		deps.Classifier = intent.NewKeywordClassifier()
	}
	if deps.Generator == nil {
		deps.Generator = generate.NewGenerator(nil, 0, deps.Logger)
	}
	return &Engine{deps: deps, opts: opts}
}

// Answer runs the full pipeline. Data shortfalls produce the fallback text,
// not an error; errors are reserved for bad input and store failures.
func (e *Engine) Answer(ctx context.Context, req Request) (*Result, error) {
	if req.UserID == "" {
		return nil, fmt.Errorf("answering: empty user id")
	}
	if req.Query == "" {
		return nil, fmt.Errorf("answering: empty query")
	}

	now := e.deps.Now()
	r := &Result{ID: uuid.NewString(), UserID: req.UserID, Query: req.Query}
	log := e.deps.Logger.WithFields(logrus.Fields{"run_id": r.ID, "user_id": req.UserID})

	// Step 1: Classify
	cls, err := e.deps.Classifier.Classify(ctx, req.Query)
	if err != nil {
		log.WithError(err).Warn("Classifier failed, using keyword result")
	}
	r.Intent, r.Focus = cls.Intent, cls.Focus
	r.Steps = append(r.Steps, StepResult{Name: "Classify", Summary: "intent=" + cls.Intent.String(), Err: err})

	profile, err := e.profile(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("loading profile for %s: %w", req.UserID, err)
	}
	followers := req.Followers
	if followers == nil && profile != nil {
		followers = profile.FollowerCount
	}

	// Step 2: Baselines
	window := e.deps.Resolver.WindowFor(cls.Intent)
	baselines, err := e.deps.Baselines.Compute(ctx, req.UserID, window, now)
	if err != nil {
		return nil, err
	}
	r.Steps = append(r.Steps, StepResult{
		Name:    "Baselines",
		Summary: fmt.Sprintf("%d posts in %d days, median interactions %.0f", baselines.SampleSize, window, baselines.MedianInteractions),
	})

	// Step 3: Policy
	pol := e.deps.Resolver.Resolve(policy.ResolveInput{
		Intent:    cls.Intent,
		Query:     req.Query,
		Baselines: baselines,
		Followers: followers,
	})
	r.Steps = append(r.Steps, StepResult{Name: "Policy", Summary: pol.Thresholds.Describe()})

	// Steps 4-5: Fetch and rank, relaxing the niche filter if nothing qualifies.
	ranking, relaxations, fetched, err := e.fetchAndRank(ctx, req.UserID, pol, baselines, profile, now)
	if err != nil {
		return nil, err
	}
	r.Steps = append(r.Steps,
		StepResult{Name: "Fetch", Summary: fmt.Sprintf("%d candidates", fetched)},
		StepResult{Name: "Rank", Summary: fmt.Sprintf("%d admitted, %d filtered", len(ranking.Ranked), ranking.Filtered)},
	)
	if e.deps.Metrics != nil {
		e.deps.Metrics.Ranked(len(ranking.Ranked), ranking.Filtered)
	}

	// Step 6: Assemble
	pack := contextpack.Assemble(contextpack.Input{
		ID:          r.ID,
		Query:       req.Query,
		Policy:      pol,
		Ranking:     ranking,
		Baselines:   baselines,
		Profile:     profile,
		Relaxations: relaxations,
		Now:         now,
	})
	r.Pack = pack
	r.Steps = append(r.Steps, StepResult{Name: "Assemble", Summary: fmt.Sprintf("%d posts in pack", len(pack.TopPosts))})

	if req.DryRun {
		return r, nil
	}

	// Steps 7-8: Generate and validate
	e.draftAndValidate(ctx, log, r, pack, profile)

	e.record(ctx, log, r)
	if e.deps.Metrics != nil {
		e.deps.Metrics.Answer(r.Intent.String(), outcome(r))
	}
	log.WithFields(logrus.Fields{
		"intent":   r.Intent.String(),
		"score":    r.Validation.Score,
		"fallback": r.UsedFallback,
		"attempts": r.Attempts,
	}).Info("Answered question")
	return r, nil
}

func (e *Engine) profile(ctx context.Context, req Request) (*model.ProfileSignals, error) {
	if req.Profile != nil || e.deps.Profiles == nil {
		return req.Profile, nil
	}
	return e.deps.Profiles.GetProfile(ctx, req.UserID)
}

// fetchAndRank walks the relaxation ladder: format lock plus niche tags, then
// format lock alone. The format lock itself is never relaxed.
func (e *Engine) fetchAndRank(ctx context.Context, userID string, pol policy.Policy, b *model.UserBaselines, profile *model.ProfileSignals, now time.Time) (rank.Result, []string, int, error) {
	q := baseline.PostQuery{
		UserID: userID,
		Since:  now.AddDate(0, 0, -pol.WindowDays),
		Until:  now,
		Limit:  e.opts.CandidateLimit,
	}
	if pol.FormatLock != "" {
		q.Formats = []string{pol.FormatLock}
	}

	type rung struct {
		tags  []string
		relax string
	}
	ladder := []rung{{}}
	if profile != nil && len(profile.Niches) > 0 {
		ladder = []rung{{tags: profile.Niches}, {relax: RelaxTags}}
	}

	var relaxations []string
	var result rank.Result
	var fetched int
	for i, step := range ladder {
		if step.relax != "" {
			relaxations = append(relaxations, step.relax)
		}
		q.Tags = step.tags
		posts, err := e.deps.Posts.ListPosts(ctx, q)
		if err != nil {
			return rank.Result{}, nil, 0, fmt.Errorf("fetching candidates for %s: %w", userID, err)
		}
		fetched = len(posts)
		result = e.deps.Ranker.Rank(rank.Input{
			Candidates: posts,
			Policy:     pol,
			Baselines:  b,
			Profile:    profile,
			Now:        now,
		})
		if qualified(result) > 0 || i == len(ladder)-1 {
			break
		}
	}
	return result, relaxations, fetched, nil
}

func qualified(r rank.Result) int {
	n := 0
	for _, rc := range r.All {
		if rc.PassesThreshold {
			n++
		}
	}
	return n
}

// draftAndValidate drafts, sanitizes and validates up to MaxAttempts times. Each
// retry carries the previous findings; exhaustion yields the fallback text.
func (e *Engine) draftAndValidate(ctx context.Context, log logrus.FieldLogger, r *Result, pack *contextpack.ContextPack, profile *model.ProfileSignals) {
	spec := validate.BuildSpec(r.Focus, pack, profile)
	r.Validation = validate.Validation{Issues: []string{}}

	if pack.Empty() {
		e.fallback(r, pack, FallbackEmptyPack)
		r.Steps = append(r.Steps, StepResult{Name: "Generate", Summary: "skipped: no qualifying posts"})
		return
	}
	if !e.deps.Generator.Available() {
		e.fallback(r, pack, FallbackNoGenerator)
		r.Steps = append(r.Steps, StepResult{Name: "Generate", Summary: "skipped: no text generator"})
		return
	}

	var previous []string
	reason := FallbackGenerationError
	for attempt := 1; attempt <= e.opts.MaxAttempts; attempt++ {
		r.Attempts = attempt
		start := time.Now()
		draft, err := e.deps.Generator.Draft(ctx, generate.Request{Pack: pack, Spec: spec, PreviousIssues: previous})
		if e.deps.Metrics != nil {
			e.deps.Metrics.Generated(time.Since(start))
		}
		if err != nil {
			log.WithError(err).WithField("attempt", attempt).Warn("Draft generation failed")
			r.Steps = append(r.Steps, StepResult{Name: "Generate", Summary: fmt.Sprintf("attempt %d failed", attempt), Err: err})
			if ctx.Err() != nil {
				break
			}
			continue
		}

		clean := validate.SanitizeWithContext(draft, pack)
		r.RemovedLines += clean.RemovedLines
		if clean.UsedFallback {
			r.Steps = append(r.Steps, StepResult{Name: "Validate", Summary: fmt.Sprintf("attempt %d: every line cited foreign links", attempt)})
			previous = []string{validate.IssueURLOutOfPack}
			if reason != FallbackValidationFailed {
				reason = FallbackSanitizedEmpty
			}
			continue
		}

		v := validate.Relevance(clean.Text, spec)
		r.Validation = v
		if e.deps.Metrics != nil {
			e.deps.Metrics.Issues(v.Issues)
		}
		r.Steps = append(r.Steps, StepResult{
			Name:    "Validate",
			Summary: fmt.Sprintf("attempt %d: score %d, %d issues", attempt, v.Score, len(v.Issues)),
		})
		if v.Passed {
			r.Text = clean.Text
			return
		}

		reason = FallbackValidationFailed
		previous = v.Issues
		if clean.RemovedLines > 0 {
			previous = append(previous, validate.IssueURLOutOfPack)
		}
		log.WithFields(logrus.Fields{"attempt": attempt, "issues": v.Issues}).Debug("Draft rejected")
	}

	e.fallback(r, pack, reason)
}

func (e *Engine) fallback(r *Result, pack *contextpack.ContextPack, reason string) {
	r.Text = validate.FallbackMessage(pack)
	r.UsedFallback = true
	r.FallbackReason = reason
}

func (e *Engine) record(ctx context.Context, log logrus.FieldLogger, r *Result) {
	if r.UsedFallback && e.deps.Metrics != nil {
		e.deps.Metrics.Fallback(r.FallbackReason)
	}
	if e.deps.Runs == nil {
		return
	}
	packJSON, err := r.Pack.JSON()
	if err != nil {
		log.WithError(err).Warn("Failed to encode context pack for the run log")
	}
	run := database.AnswerRun{
		ID:           r.ID,
		UserID:       r.UserID,
		Query:        r.Query,
		Intent:       r.Intent.String(),
		Passed:       r.Validation.Passed,
		Score:        r.Validation.Score,
		Issues:       r.Validation.Issues,
		UsedFallback: r.UsedFallback,
		Attempts:     max(r.Attempts, 1),
		Text:         r.Text,
		Pack:         packJSON,
	}
	if err := e.deps.Runs.InsertAnswerRun(ctx, run); err != nil {
		log.WithError(err).Warn("Failed to record answer run")
	}
}

func outcome(r *Result) string {
	switch {
	case r.UsedFallback:
		return "fallback"
	case r.Validation.Passed:
		return "passed"
	default:
		return "failed"
	}
}

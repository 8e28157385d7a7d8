// Package baseline computes a creator's rolling median performance.
package baseline

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"

	"github.com/TobiSchelling/answerengine/internal/model"
	"github.com/TobiSchelling/answerengine/internal/rank"
)

// PostQuery selects posts from the post store. Zero values mean "no filter".
type PostQuery struct {
	UserID  string
	Since   time.Time
	Until   time.Time
	Formats []string
	Tags    []string
	Limit   int
}

// PostStore lists a user's posts, most recent first.
type PostStore interface {
	ListPosts(ctx context.Context, q PostQuery) ([]model.CandidatePost, error)
}

// Cache stores baseline snapshots. Get returns nil, nil on a miss.
type Cache interface {
	Get(ctx context.Context, userID string, windowDays int) (*model.UserBaselines, error)
	Set(ctx context.Context, userID string, b *model.UserBaselines, ttl time.Duration) error
}

// Observer receives cache and timing events. Implemented by the metrics package.
type Observer interface {
	CacheLookup(result string)
	BaselineComputed(d time.Duration)
}

// Cache lookup results reported to the Observer.
const (
	LookupHit   = "hit"
	LookupMiss  = "miss"
	LookupError = "error"
)

// Options configures a Calculator.
type Options struct {
	TTL      time.Duration
	MaxPosts int
}

// DefaultOptions returns a 6h TTL and a 600 post cap.
func DefaultOptions() Options {
	return Options{TTL: 6 * time.Hour, MaxPosts: 600}
}

// Calculator computes and caches UserBaselines.
type Calculator struct {
	store    PostStore
	cache    Cache
	logger   logrus.FieldLogger
	now      func() time.Time
	observer Observer
	opts     Options
	group    singleflight.Group
}

// NewCalculator creates a Calculator. cache may be nil.
func NewCalculator(store PostStore, cache Cache, opts Options, logger logrus.FieldLogger) *Calculator {
	if opts.TTL <= 0 {
		opts.TTL = DefaultOptions().TTL
	}
	if opts.MaxPosts <= 0 {
		opts.MaxPosts = DefaultOptions().MaxPosts
	}
	return &Calculator{
		store:  store,
		cache:  cache,
		logger: logger,
		now:    time.Now,
		opts:   opts,
	}
}

// WithClock replaces the calculator's clock.
func (c *Calculator) WithClock(now func() time.Time) *Calculator {
	c.now = now
	return c
}

// WithObserver attaches an Observer.
func (c *Calculator) WithObserver(o Observer) *Calculator {
	c.observer = o
	return c
}

// Compute returns the user's baselines over the last windowDays days ending
// at now (the calculator's clock when zero). Cached snapshots are reused;
// concurrent calls for the same key share one computation.
func (c *Calculator) Compute(ctx context.Context, userID string, windowDays int, now time.Time) (*model.UserBaselines, error) {
	if userID == "" {
		return nil, fmt.Errorf("computing baselines: empty user id")
	}
	if windowDays <= 0 {
		return nil, fmt.Errorf("computing baselines: window must be positive, got %d", windowDays)
	}
	if now.IsZero() {
		now = c.now()
	}

	key := fmt.Sprintf("%s:%d", userID, windowDays)
	v, err, _ := c.group.Do(key, func() (any, error) {
		return c.compute(ctx, userID, windowDays, now)
	})
	if err != nil {
		return nil, err
	}
	return v.(*model.UserBaselines), nil
}

func (c *Calculator) compute(ctx context.Context, userID string, windowDays int, now time.Time) (*model.UserBaselines, error) {
	log := c.logger.WithFields(logrus.Fields{"user_id": userID, "window_days": windowDays})

	if cached := c.lookup(ctx, log, userID, windowDays); cached != nil {
		return cached, nil
	}

	start := time.Now()
	posts, err := c.store.ListPosts(ctx, PostQuery{
		UserID: userID,
		Since:  now.AddDate(0, 0, -windowDays),
		Until:  now,
		Limit:  c.opts.MaxPosts,
	})
	if err != nil {
		return nil, fmt.Errorf("listing posts for %s: %w", userID, err)
	}

	b := FromPosts(posts, windowDays, now)
	if c.observer != nil {
		c.observer.BaselineComputed(time.Since(start))
	}
	log.WithField("sample_size", b.SampleSize).Debug("Computed baselines")

	if c.cache != nil {
		if err := c.cache.Set(ctx, userID, b, c.opts.TTL); err != nil {
			log.WithError(err).Warn("Failed to cache baselines")
		}
	}
	return b, nil
}

func (c *Calculator) lookup(ctx context.Context, log logrus.FieldLogger, userID string, windowDays int) *model.UserBaselines {
	if c.cache == nil {
		return nil
	}
	cached, err := c.cache.Get(ctx, userID, windowDays)
	switch {
	case err != nil:
		log.WithError(err).Warn("Baseline cache read failed, recomputing")
		c.observe(LookupError)
		return nil
	case cached == nil:
		c.observe(LookupMiss)
		return nil
	default:
		c.observe(LookupHit)
		return cached
	}
}

func (c *Calculator) observe(result string) {
	if c.observer != nil {
		c.observer.CacheLookup(result)
	}
}

// FromPosts computes baselines from an already fetched post list. Engagement
// rate medians consider only positive rates; reach medians only posts with
// reach. No posts yields an all-zero snapshot with SampleSize 0.
func FromPosts(posts []model.CandidatePost, windowDays int, now time.Time) *model.UserBaselines {
	b := &model.UserBaselines{
		PerFormat:  map[string]model.FormatBaseline{},
		SampleSize: len(posts),
		ComputedAt: now,
		WindowDays: windowDays,
	}
	if len(posts) == 0 {
		return b
	}

	var interactions, rates, reach []float64
	type bucket struct{ interactions, rates []float64 }
	byFormat := map[string]*bucket{}

	for _, p := range posts {
		inter := p.Interactions()
		interactions = append(interactions, inter)
		er := p.EngagementRate()
		if er != nil && *er > 0 {
			rates = append(rates, *er)
		}
		if r := p.Metric("reach"); r > 0 {
			reach = append(reach, r)
		}

		seen := map[string]bool{}
		for _, f := range p.Formats {
			f = strings.ToLower(strings.TrimSpace(f))
			if f == "" || seen[f] {
				continue
			}
			seen[f] = true
			fb := byFormat[f]
			if fb == nil {
				fb = &bucket{}
				byFormat[f] = fb
			}
			fb.interactions = append(fb.interactions, inter)
			if er != nil && *er > 0 {
				fb.rates = append(fb.rates, *er)
			}
		}
	}

	b.MedianInteractions = rank.Median(interactions)
	b.MedianEngagementRate = rank.Median(rates)
	b.MedianReach = rank.Median(reach)
	for f, fb := range byFormat {
		b.PerFormat[f] = model.FormatBaseline{
			MedianInteractions:   rank.Median(fb.interactions),
			MedianEngagementRate: rank.Median(fb.rates),
			SampleSize:           len(fb.interactions),
		}
	}
	return b
}

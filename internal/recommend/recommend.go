// Package recommend implements the hybrid book recommender: multi-signal
// scoring of catalog books against a user preference vector, with adaptive
// signal weighting and temperature-controlled sampling of the final list.
package recommend

import (
	"log"
	"math"
	"math/rand"
	"sort"
	"time"

	"github.com/bookclubhq/bookrec/internal/catalog"
	"github.com/bookclubhq/bookrec/internal/profile"
)

const (
	DefaultPoolSize    = 50
	DefaultTemperature = 0.05

	// uncertaintyDamping controls how hard high-variance book profiles are
	// discounted: score *= exp(-uncertaintyDamping * variance).
	uncertaintyDamping = 0.3

	// topSimilarities is how many of a book's review vectors contribute to
	// its semantic similarity (soft-max pooling).
	topSimilarities = 3
)

// UserReview is one entry of a user's review history.
type UserReview struct {
	BookID string
	Stars  int
}

// Scored pairs a book ID with its pre-sampling combined score.
type Scored struct {
	BookID string
	Score  float64
}

// Weights holds the per-signal mixing weights, summing to 1.
type Weights struct {
	Embedding float64
	Genre     float64
	Grade     float64
	Sentiment float64
}

// Options configures a Recommender. Zero values select defaults.
type Options struct {
	PoolSize    int
	Temperature float64 // <= 0 disables sampling (greedy top-k)
	Rand        *rand.Rand
}

// Recommender scores catalog books for a user. It holds read-only references
// to the catalog snapshot and book profiles and never mutates them; every call
// is a pure function over that snapshot plus caller-supplied user data.
type Recommender struct {
	cat         *catalog.Catalog
	profiles    map[string]*profile.Profile
	rng         *rand.Rand
	poolSize    int
	temperature float64
}

// New creates a recommender over a catalog snapshot and its book profiles.
func New(cat *catalog.Catalog, profiles map[string]*profile.Profile, opts Options) *Recommender {
	if opts.PoolSize <= 0 {
		opts.PoolSize = DefaultPoolSize
	}
	if opts.Rand == nil {
		opts.Rand = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	return &Recommender{
		cat:         cat,
		profiles:    profiles,
		rng:         opts.Rand,
		poolSize:    opts.PoolSize,
		temperature: opts.Temperature,
	}
}

// BuildUserProfile builds the user preference vector as the weighted centroid
// of the books the user reviewed, weight = stars x that book's average review
// sentiment. Returns nil when no review resolves to a profiled book or the
// total weight is zero; callers must branch to cold start on nil.
func (r *Recommender) BuildUserProfile(reviews []UserReview) []float64 {
	var acc []float64
	var totalWeight float64

	for _, ur := range reviews {
		p, ok := r.profiles[ur.BookID]
		if !ok {
			continue
		}
		book, ok := r.cat.Get(ur.BookID)
		if !ok {
			continue
		}

		weight := float64(ur.Stars) * avgSentiment(book)
		if acc == nil {
			acc = make([]float64, len(p.Centroid))
		} else if len(p.Centroid) != len(acc) {
			log.Printf("skipping review of %s: centroid dimension %d does not match %d", ur.BookID, len(p.Centroid), len(acc))
			continue
		}
		for i, x := range p.Centroid {
			acc[i] += weight * x
		}
		totalWeight += weight
	}

	if acc == nil || totalWeight == 0 {
		return nil
	}
	for i := range acc {
		acc[i] /= totalWeight
	}
	return acc
}

// AdaptiveWeights derives signal weights from the amount of evidence n (the
// user's review count). Few reviews mean an unreliable embedding signal, so
// weight sits on genre and grade priors and shifts toward the embedding as
// history accumulates. The result always sums to 1.
func AdaptiveWeights(n int) Weights {
	fn := float64(n)
	w := Weights{
		Embedding: math.Min(0.5, 0.2+0.08*fn),
		Genre:     math.Max(0.15, 0.4-0.05*fn),
		Grade:     0.15,
	}
	w.Sentiment = 1 - (w.Embedding + w.Genre + w.Grade)
	if w.Sentiment < 0 {
		w.Sentiment = 0
	}

	total := w.Embedding + w.Genre + w.Grade + w.Sentiment
	w.Embedding /= total
	w.Genre /= total
	w.Grade /= total
	w.Sentiment /= total
	return w
}

// Recommend scores every catalog book against the user, keeps the top pool of
// candidates, and samples topK distinct books from a softmax distribution over
// their scores. The returned scores are the pre-softmax combined scores and
// the list is in sampling order, not rank order. With temperature <= 0 the
// greedy head of the pool is returned instead.
func (r *Recommender) Recommend(userVec []float64, userReviews []UserReview, userGenres []string, userGrade, topK int) []Scored {
	weights := AdaptiveWeights(len(userReviews))

	scored := make([]Scored, 0, r.cat.Len())
	for _, book := range r.cat.Books() {
		var semantic, uncertainty float64
		if p, ok := r.profiles[book.ID]; ok {
			semantic = semanticSimilarity(userVec, p)
			uncertainty = p.Variance
		}

		combined := weights.Embedding*semantic +
			weights.Genre*genreScore(userGenres, book.Genres) +
			weights.Grade*gradeScore(userGrade, book) +
			weights.Sentiment*sentimentScore(book)
		combined *= math.Exp(-uncertaintyDamping * uncertainty)

		scored = append(scored, Scored{BookID: book.ID, Score: combined})
	}

	// Stable sort keeps catalog order as the tie-break, so the candidate
	// pool is deterministic for a given snapshot.
	sort.SliceStable(scored, func(i, j int) bool { return scored[i].Score > scored[j].Score })
	if len(scored) > r.poolSize {
		scored = scored[:r.poolSize]
	}

	if topK > len(scored) {
		topK = len(scored)
	}
	if topK <= 0 {
		return nil
	}

	if r.temperature <= 0 {
		out := make([]Scored, topK)
		copy(out, scored[:topK])
		return out
	}
	return r.sample(scored, topK)
}

// ColdStart recommends without a user profile: genre and grade fit only,
// greedy and fully deterministic since there is no personalization signal to
// diversify around. This is the terminal fallback.
func (r *Recommender) ColdStart(userGenres []string, userGrade, topK int) []Scored {
	scored := make([]Scored, 0, r.cat.Len())
	for _, book := range r.cat.Books() {
		score := 0.7*genreScore(userGenres, book.Genres) + 0.3*gradeScore(userGrade, book)
		scored = append(scored, Scored{BookID: book.ID, Score: score})
	}

	// Ties break by id so the ranking is stable across snapshots that only
	// differ in catalog insertion order.
	sort.Slice(scored, func(i, j int) bool {
		if scored[i].Score != scored[j].Score {
			return scored[i].Score > scored[j].Score
		}
		return scored[i].BookID < scored[j].BookID
	})
	if topK > len(scored) {
		topK = len(scored)
	}
	if topK < 0 {
		topK = 0
	}
	return scored[:topK]
}

// sample draws k distinct candidates without replacement from a softmax
// distribution over their scores. Low temperature concentrates the mass on the
// top candidates without making the draw fully greedy.
func (r *Recommender) sample(pool []Scored, k int) []Scored {
	remaining := make([]Scored, len(pool))
	copy(remaining, pool)

	out := make([]Scored, 0, k)
	for len(out) < k && len(remaining) > 0 {
		// Subtract the max before exponentiating for numeric stability.
		maxScore := remaining[0].Score
		for _, c := range remaining {
			if c.Score > maxScore {
				maxScore = c.Score
			}
		}

		weights := make([]float64, len(remaining))
		var total float64
		for i, c := range remaining {
			weights[i] = math.Exp((c.Score - maxScore) / r.temperature)
			total += weights[i]
		}

		target := r.rng.Float64() * total
		idx := len(remaining) - 1
		var cum float64
		for i, w := range weights {
			cum += w
			if target < cum {
				idx = i
				break
			}
		}

		out = append(out, remaining[idx])
		remaining = append(remaining[:idx], remaining[idx+1:]...)
	}
	return out
}

// Package evaluate computes offline quality metrics for the recommender.
// Nothing here runs on a serving path; metrics that lack enough data report
// nil rather than a misleading number.
package evaluate

import (
	"math"
	"math/rand"
	"strings"
	"time"

	"github.com/bookclubhq/bookrec/internal/catalog"
	"github.com/bookclubhq/bookrec/internal/profile"
	"github.com/bookclubhq/bookrec/internal/recommend"
)

const (
	// minGenreBooks is the floor for a genre to support synthetic user trials.
	minGenreBooks = 5

	// syntheticLiked is how many liked books a synthetic user starts with.
	syntheticLiked = 3

	// syntheticGrade is the grade level assumed for synthetic users.
	syntheticGrade = 8
)

// Evaluator runs offline metrics over a recommender and its catalog snapshot.
type Evaluator struct {
	rec      *recommend.Recommender
	cat      *catalog.Catalog
	profiles map[string]*profile.Profile
	rng      *rand.Rand
}

// New creates an evaluator. A nil rng gets a time-seeded source.
func New(rec *recommend.Recommender, cat *catalog.Catalog, profiles map[string]*profile.Profile, rng *rand.Rand) *Evaluator {
	if rng == nil {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	return &Evaluator{rec: rec, cat: cat, profiles: profiles, rng: rng}
}

// GenreHitRate runs leave-one-out synthetic user trials for a genre: sample
// liked books, hold one out, and check whether the recommender recovers it in
// the top k. Returns nil when the genre has fewer than 5 books or no trial
// produced a valid user profile.
func (e *Evaluator) GenreHitRate(genre string, samples, k int) *float64 {
	var genreBooks []string
	for _, b := range e.cat.Books() {
		if matchesGenre(genre, b.Genres) {
			genreBooks = append(genreBooks, b.ID)
		}
	}
	if len(genreBooks) < minGenreBooks {
		return nil
	}

	hits, validTrials := 0, 0
	for trial := 0; trial < samples; trial++ {
		perm := e.rng.Perm(len(genreBooks))
		liked := perm[:syntheticLiked]
		heldout := genreBooks[e.rng.Intn(len(genreBooks))]

		userReviews := make([]recommend.UserReview, syntheticLiked)
		for i, idx := range liked {
			userReviews[i] = recommend.UserReview{BookID: genreBooks[idx], Stars: 5}
		}

		userVec := e.rec.BuildUserProfile(userReviews)
		if userVec == nil {
			continue
		}
		validTrials++

		recs := e.rec.Recommend(userVec, userReviews, []string{genre}, syntheticGrade, k)
		for _, r := range recs {
			if r.BookID == heldout {
				hits++
				break
			}
		}
	}

	if validTrials == 0 {
		return nil
	}
	rate := float64(hits) / float64(validTrials)
	return &rate
}

// EmbeddingSilhouette measures how well book centroids separate by genre:
// for each genre token with at least minBooksPerGenre profiled books (and as
// many outside it), the two-cluster silhouette of that genre against the rest.
// Returns the mean across qualifying genres, nil when none qualify.
func (e *Evaluator) EmbeddingSilhouette(minBooksPerGenre int) *float64 {
	genreToVecs := make(map[string][][]float64)
	var genres []string

	for _, b := range e.cat.Books() {
		p, ok := e.profiles[b.ID]
		if !ok {
			continue
		}
		for _, g := range b.Genres {
			if _, seen := genreToVecs[g]; !seen {
				genres = append(genres, g)
			}
			genreToVecs[g] = append(genreToVecs[g], p.Centroid)
		}
	}

	var scores []float64
	for _, genre := range genres {
		vecs := genreToVecs[genre]
		if len(vecs) < minBooksPerGenre {
			continue
		}

		var others [][]float64
		for _, g := range genres {
			if g == genre {
				continue
			}
			others = append(others, genreToVecs[g]...)
		}
		if len(others) < minBooksPerGenre {
			continue
		}

		scores = append(scores, silhouette(vecs, others))
	}

	if len(scores) == 0 {
		return nil
	}
	var sum float64
	for _, s := range scores {
		sum += s
	}
	mean := sum / float64(len(scores))
	return &mean
}

// Diversity is the mean pairwise cosine distance among the centroids of a
// recommendation list. Lists with fewer than two profiled books score 0.
func (e *Evaluator) Diversity(recs []recommend.Scored) float64 {
	var centroids [][]float64
	for _, r := range recs {
		if p, ok := e.profiles[r.BookID]; ok {
			centroids = append(centroids, p.Centroid)
		}
	}
	if len(centroids) < 2 {
		return 0.0
	}

	var sum float64
	var pairs int
	for i := 0; i < len(centroids); i++ {
		for j := i + 1; j < len(centroids); j++ {
			sum += 1 - profile.Cosine(centroids[i], centroids[j])
			pairs++
		}
	}
	return sum / float64(pairs)
}

// SampleRuns draws n independent top-k recommendation lists, each from a
// freshly seeded sampling recommender, so that coverage and diversity
// measure the sampler's spread instead of n copies of one greedy list.
func (e *Evaluator) SampleRuns(n, k, poolSize int) [][]recommend.Scored {
	runs := make([][]recommend.Scored, 0, n)
	for i := 0; i < n; i++ {
		rec := recommend.New(e.cat, e.profiles, recommend.Options{
			PoolSize:    poolSize,
			Temperature: recommend.DefaultTemperature,
			Rand:        rand.New(rand.NewSource(e.rng.Int63())),
		})
		runs = append(runs, rec.Recommend(nil, nil, nil, 0, k))
	}
	return runs
}

// Coverage is the fraction of the catalog that appears at least once across
// many recommendation runs.
func (e *Evaluator) Coverage(runs [][]recommend.Scored) float64 {
	if e.cat.Len() == 0 {
		return 0
	}
	seen := make(map[string]bool)
	for _, recs := range runs {
		for _, r := range recs {
			seen[r.BookID] = true
		}
	}
	return float64(len(seen)) / float64(e.cat.Len())
}

// matchesGenre reports whether any of a book's genre tokens contains the
// target genre as a substring.
func matchesGenre(target string, genres []string) bool {
	for _, g := range genres {
		if strings.Contains(g, target) {
			return true
		}
	}
	return false
}

// silhouette computes the two-cluster silhouette score of cluster a against
// cluster b over Euclidean distances: mean over all points of
// (between - within) / max(within, between). Singleton clusters contribute 0.
func silhouette(a, b [][]float64) float64 {
	var sum float64
	n := 0

	score := func(point []float64, own, other [][]float64) float64 {
		if len(own) < 2 {
			return 0
		}
		var within float64
		for _, v := range own {
			within += profile.Euclidean(point, v)
		}
		within /= float64(len(own) - 1) // own includes the point itself at distance 0

		var between float64
		for _, v := range other {
			between += profile.Euclidean(point, v)
		}
		between /= float64(len(other))

		if m := math.Max(within, between); m > 0 {
			return (between - within) / m
		}
		return 0
	}

	for _, p := range a {
		sum += score(p, a, b)
		n++
	}
	for _, p := range b {
		sum += score(p, b, a)
		n++
	}
	return sum / float64(n)
}

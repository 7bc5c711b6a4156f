package recommend

import (
	"math"
	"math/rand"
	"reflect"
	"testing"

	"github.com/bookclubhq/bookrec/internal/catalog"
	"github.com/bookclubhq/bookrec/internal/profile"
)

func TestAdaptiveWeightsSumToOne(t *testing.T) {
	for _, n := range []int{0, 1, 5, 50} {
		w := AdaptiveWeights(n)
		sum := w.Embedding + w.Genre + w.Grade + w.Sentiment
		if math.Abs(sum-1.0) > 1e-9 {
			t.Errorf("n=%d: weights sum to %f, want 1.0", n, sum)
		}
		for name, v := range map[string]float64{
			"embedding": w.Embedding, "genre": w.Genre, "grade": w.Grade, "sentiment": w.Sentiment,
		} {
			if v < 0 {
				t.Errorf("n=%d: %s weight negative: %f", n, name, v)
			}
		}
	}
}

func TestAdaptiveWeightsShiftTowardEmbedding(t *testing.T) {
	few := AdaptiveWeights(0)
	many := AdaptiveWeights(10)
	if many.Embedding <= few.Embedding {
		t.Errorf("embedding weight should grow with evidence: %f -> %f", few.Embedding, many.Embedding)
	}
	if many.Genre >= few.Genre {
		t.Errorf("genre weight should shrink with evidence: %f -> %f", few.Genre, many.Genre)
	}
}

func TestGenreScoreEmptySets(t *testing.T) {
	if genreScore(nil, []string{"fantasy"}) != 0 {
		t.Error("expected 0 for empty user genres")
	}
	if genreScore([]string{"fantasy"}, nil) != 0 {
		t.Error("expected 0 for empty book genres")
	}
}

func TestGenreScoreAsymmetric(t *testing.T) {
	user := []string{"fantasy", "adventure"}
	book := []string{"fantasy", "romance", "drama"}
	if got := genreScore(user, book); math.Abs(got-0.5) > 1e-10 {
		t.Errorf("expected 0.5 (1 of 2 interests satisfied), got %f", got)
	}
}

func TestGradeScore(t *testing.T) {
	book := &catalog.Book{Reviews: []catalog.Review{
		{RecommendedGrades: []int{7, 9}}, // mean 8
	}}

	if got := gradeScore(8, book); math.Abs(got-1.0) > 1e-10 {
		t.Errorf("expected exactly 1.0 at zero distance, got %f", got)
	}

	// Monotonically non-increasing in distance from the mean.
	prev := 2.0
	for _, g := range []int{8, 9, 10, 11, 12, 13, 14, 20} {
		score := gradeScore(g, book)
		if score > prev+1e-10 {
			t.Errorf("grade %d: score %f increased from %f", g, score, prev)
		}
		prev = score
	}

	// Far outside the window clamps to zero.
	if got := gradeScore(20, book); got != 0 {
		t.Errorf("expected 0 far outside the window, got %f", got)
	}

	// No grade data at all.
	if got := gradeScore(8, &catalog.Book{}); got != 0.5 {
		t.Errorf("expected 0.5 default, got %f", got)
	}
}

func TestSentimentScoreDefaults(t *testing.T) {
	if got := sentimentScore(&catalog.Book{}); got != 0.5 {
		t.Errorf("expected 0.5 for no reviews, got %f", got)
	}
	if got := avgSentiment(&catalog.Book{}); got != 0 {
		t.Errorf("expected 0 weighting default for no reviews, got %f", got)
	}
}

func TestSemanticSimilarityTopPooling(t *testing.T) {
	user := []float64{1, 0}
	p := &profile.Profile{ReviewVectors: [][]float64{
		{1, 0},  // sim 1.0
		{0, 1},  // sim 0.0
		{1, 0},  // sim 1.0
		{-1, 0}, // sim -1.0
	}}

	// Top 3 of {1, 1, 0, -1} -> mean(1, 1, 0) = 2/3
	if got := semanticSimilarity(user, p); math.Abs(got-2.0/3.0) > 1e-10 {
		t.Errorf("expected 2/3, got %f", got)
	}

	// Fewer vectors than the pool size
	small := &profile.Profile{ReviewVectors: [][]float64{{1, 0}}}
	if got := semanticSimilarity(user, small); math.Abs(got-1.0) > 1e-10 {
		t.Errorf("expected 1.0 with a single vector, got %f", got)
	}

	if got := semanticSimilarity(nil, p); got != 0 {
		t.Errorf("expected 0 for nil user vector, got %f", got)
	}
}

// fixture builds a small catalog with profiles for the recommender tests.
func fixture() (*catalog.Catalog, map[string]*profile.Profile) {
	cat := catalog.New()
	cat.Add(&catalog.Book{
		ID: "a", Title: "A", Genres: []string{"fantasy"},
		Reviews: []catalog.Review{
			{Stars: 5, Sentiment: 0.9, Text: "r", RecommendedGrades: []int{8}},
			{Stars: 5, Sentiment: 0.9, Text: "r"},
			{Stars: 5, Sentiment: 0.9, Text: "r"},
			{Stars: 4, Sentiment: 0.9, Text: "r"},
			{Stars: 4, Sentiment: 0.9, Text: "r"},
		},
	})
	cat.Add(&catalog.Book{
		ID: "b", Title: "B", Genres: []string{"scifi"},
		Reviews: []catalog.Review{
			{Stars: 3, Sentiment: 0.5, Text: "r", RecommendedGrades: []int{8}},
		},
	})
	cat.Add(&catalog.Book{
		ID: "c", Title: "C", Genres: []string{"fantasy", "adventure"},
		Reviews: []catalog.Review{
			{Stars: 4, Sentiment: 0.7, Text: "r", RecommendedGrades: []int{7}},
		},
	})

	profiles := map[string]*profile.Profile{
		"a": {Centroid: []float64{1, 0}, ReviewVectors: [][]float64{{1, 0}}, Variance: 0.1},
		"b": {Centroid: []float64{0, 1}, ReviewVectors: [][]float64{{0, 1}}, Variance: 0.2},
		"c": {Centroid: []float64{0.7, 0.7}, ReviewVectors: [][]float64{{0.7, 0.7}}, Variance: 0.1},
	}
	return cat, profiles
}

func TestBuildUserProfileEmptyHistory(t *testing.T) {
	cat, profiles := fixture()
	r := New(cat, profiles, Options{})
	if got := r.BuildUserProfile(nil); got != nil {
		t.Errorf("expected nil profile for empty history, got %v", got)
	}
}

func TestBuildUserProfileUnknownBooks(t *testing.T) {
	cat, profiles := fixture()
	r := New(cat, profiles, Options{})
	if got := r.BuildUserProfile([]UserReview{{BookID: "nope", Stars: 5}}); got != nil {
		t.Errorf("expected nil profile when no review resolves, got %v", got)
	}
}

func TestBuildUserProfileZeroWeight(t *testing.T) {
	cat := catalog.New()
	// Book with reviews scored at sentiment 0: weight = stars * 0 = 0.
	cat.Add(&catalog.Book{ID: "z", Reviews: []catalog.Review{{Stars: 5, Sentiment: 0, Text: "r"}}})
	profiles := map[string]*profile.Profile{"z": {Centroid: []float64{1, 0}}}

	r := New(cat, profiles, Options{})
	if got := r.BuildUserProfile([]UserReview{{BookID: "z", Stars: 5}}); got != nil {
		t.Errorf("expected nil profile for zero total weight, got %v", got)
	}
}

func TestBuildUserProfileSingleBookIsItsCentroid(t *testing.T) {
	cat, profiles := fixture()
	r := New(cat, profiles, Options{})

	// Book "a" has avg sentiment 0.9, so the single history entry carries
	// weight 5 x 0.9 = 4.5 and the profile is exactly a's centroid.
	got := r.BuildUserProfile([]UserReview{{BookID: "a", Stars: 5}})
	if got == nil {
		t.Fatal("expected a user profile")
	}
	want := profiles["a"].Centroid
	for i := range want {
		if math.Abs(got[i]-want[i]) > 1e-10 {
			t.Errorf("profile[%d] = %f, want %f", i, got[i], want[i])
		}
	}
}

func TestBuildUserProfileWeightedBlend(t *testing.T) {
	cat, profiles := fixture()
	r := New(cat, profiles, Options{})

	got := r.BuildUserProfile([]UserReview{
		{BookID: "a", Stars: 5}, // weight 5 * 0.9 = 4.5
		{BookID: "b", Stars: 4}, // weight 4 * 0.5 = 2.0
	})
	if got == nil {
		t.Fatal("expected a user profile")
	}

	total := 4.5 + 2.0
	want := []float64{4.5 / total, 2.0 / total}
	for i := range want {
		if math.Abs(got[i]-want[i]) > 1e-10 {
			t.Errorf("profile[%d] = %f, want %f", i, got[i], want[i])
		}
	}
}

func TestBuildUserProfileSkipsMismatchedDimensions(t *testing.T) {
	cat := catalog.New()
	cat.Add(&catalog.Book{ID: "flat", Reviews: []catalog.Review{{Stars: 5, Sentiment: 0.8, Text: "r"}}})
	cat.Add(&catalog.Book{ID: "wide", Reviews: []catalog.Review{{Stars: 5, Sentiment: 0.8, Text: "r"}}})
	profiles := map[string]*profile.Profile{
		"flat": {Centroid: []float64{1, 0}},
		"wide": {Centroid: []float64{0, 1, 0}},
	}

	r := New(cat, profiles, Options{})
	got := r.BuildUserProfile([]UserReview{
		{BookID: "flat", Stars: 5},
		{BookID: "wide", Stars: 5},
	})
	if got == nil {
		t.Fatal("expected a profile from the matching book")
	}
	if len(got) != 2 {
		t.Fatalf("profile has %d dimensions, want 2", len(got))
	}
	// Only "flat" contributes, so the profile is its centroid.
	if math.Abs(got[0]-1) > 1e-10 || math.Abs(got[1]) > 1e-10 {
		t.Errorf("profile = %v, want [1 0]", got)
	}
}

func TestRecommendClampsTopK(t *testing.T) {
	cat, profiles := fixture()
	r := New(cat, profiles, Options{Rand: rand.New(rand.NewSource(1))})

	recs := r.Recommend([]float64{1, 0}, nil, []string{"fantasy"}, 8, 10)
	if len(recs) != 3 {
		t.Fatalf("expected min(10, 3) = 3 recommendations, got %d", len(recs))
	}

	seen := make(map[string]bool)
	for _, rec := range recs {
		if seen[rec.BookID] {
			t.Errorf("duplicate recommendation %q", rec.BookID)
		}
		seen[rec.BookID] = true
	}
}

func TestRecommendSeededRandIsReproducible(t *testing.T) {
	cat, profiles := fixture()

	run := func(seed int64) []Scored {
		r := New(cat, profiles, Options{Temperature: 0.05, Rand: rand.New(rand.NewSource(seed))})
		return r.Recommend([]float64{1, 0}, []UserReview{{BookID: "a", Stars: 5}}, []string{"fantasy"}, 8, 2)
	}

	if !reflect.DeepEqual(run(42), run(42)) {
		t.Error("identical seeds should produce identical recommendations")
	}
}

func TestRecommendZeroTemperatureIsGreedy(t *testing.T) {
	cat, profiles := fixture()
	r := New(cat, profiles, Options{Temperature: 0, Rand: rand.New(rand.NewSource(1))})

	first := r.Recommend([]float64{1, 0}, nil, []string{"fantasy"}, 8, 3)
	second := r.Recommend([]float64{1, 0}, nil, []string{"fantasy"}, 8, 3)
	if !reflect.DeepEqual(first, second) {
		t.Error("zero temperature must be deterministic")
	}
	for i := 1; i < len(first); i++ {
		if first[i].Score > first[i-1].Score {
			t.Error("greedy output must be in descending score order")
		}
	}
}

func TestRecommendDampsHighVariance(t *testing.T) {
	cat := catalog.New()
	cat.Add(&catalog.Book{ID: "steady", Genres: []string{"fantasy"}, Reviews: []catalog.Review{{Sentiment: 0.5, Text: "r"}}})
	cat.Add(&catalog.Book{ID: "noisy", Genres: []string{"fantasy"}, Reviews: []catalog.Review{{Sentiment: 0.5, Text: "r"}}})

	profiles := map[string]*profile.Profile{
		"steady": {Centroid: []float64{1, 0}, ReviewVectors: [][]float64{{1, 0}}, Variance: 0.0},
		"noisy":  {Centroid: []float64{1, 0}, ReviewVectors: [][]float64{{1, 0}}, Variance: 5.0},
	}

	r := New(cat, profiles, Options{Temperature: 0})
	recs := r.Recommend([]float64{1, 0}, nil, []string{"fantasy"}, 8, 2)
	if recs[0].BookID != "steady" {
		t.Errorf("expected the low-variance book first, got %q", recs[0].BookID)
	}
	if recs[1].Score >= recs[0].Score {
		t.Error("high-variance profile should score strictly lower")
	}
}

func TestColdStartDeterministic(t *testing.T) {
	cat, profiles := fixture()
	r := New(cat, profiles, Options{Rand: rand.New(rand.NewSource(7))})

	first := r.ColdStart([]string{"fantasy"}, 8, 3)
	for i := 0; i < 5; i++ {
		if !reflect.DeepEqual(first, r.ColdStart([]string{"fantasy"}, 8, 3)) {
			t.Fatal("cold start must be deterministic across calls")
		}
	}
}

func TestColdStartTieBreaksByID(t *testing.T) {
	// Insert ids out of lexicographic order; with no genre or grade data
	// every book scores the same and the ranking must come out sorted by id.
	cat := catalog.New()
	for _, id := range []string{"delta", "alpha", "charlie", "bravo"} {
		cat.Add(&catalog.Book{ID: id, Title: id})
	}

	r := New(cat, nil, Options{})
	recs := r.ColdStart(nil, 0, 4)
	want := []string{"alpha", "bravo", "charlie", "delta"}
	for i, id := range want {
		if recs[i].BookID != id {
			t.Fatalf("rank %d = %q, want %q", i, recs[i].BookID, id)
		}
	}
}

func TestColdStartGenreRoundTrip(t *testing.T) {
	cat := catalog.New()
	cat.Add(&catalog.Book{ID: "f", Title: "Fantasy Book", Genres: []string{"fantasy"}})
	cat.Add(&catalog.Book{ID: "s", Title: "Scifi Book", Genres: []string{"scifi"}})

	r := New(cat, nil, Options{})
	recs := r.ColdStart([]string{"fantasy"}, 8, 2)
	if len(recs) != 2 {
		t.Fatalf("expected 2 recommendations, got %d", len(recs))
	}
	if recs[0].BookID != "f" {
		t.Errorf("expected the fantasy book ranked first, got %q", recs[0].BookID)
	}
	if recs[0].Score <= recs[1].Score {
		t.Error("fantasy book must rank strictly above the scifi book")
	}
}

func TestColdStartClampsTopK(t *testing.T) {
	cat, profiles := fixture()
	r := New(cat, profiles, Options{})
	if got := len(r.ColdStart([]string{"fantasy"}, 8, 100)); got != 3 {
		t.Errorf("expected 3 recommendations, got %d", got)
	}
}

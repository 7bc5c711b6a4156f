package recommend

import (
	"math"
	"sort"

	"github.com/bookclubhq/bookrec/internal/catalog"
	"github.com/bookclubhq/bookrec/internal/profile"
)

// gradeWindow is the grade-distance at which grade fit decays to zero.
const gradeWindow = 6.0

// semanticSimilarity soft-max pools the cosine similarity between the user
// vector and each of the book's review vectors: the mean of the top 3 (or
// fewer). A book with a few strongly-aligned reviews beats one whose average
// is diluted by weak ones.
func semanticSimilarity(userVec []float64, p *profile.Profile) float64 {
	if len(userVec) == 0 || len(p.ReviewVectors) == 0 {
		return 0
	}

	sims := make([]float64, len(p.ReviewVectors))
	for i, v := range p.ReviewVectors {
		sims[i] = profile.Cosine(userVec, v)
	}
	sort.Sort(sort.Reverse(sort.Float64Slice(sims)))

	n := topSimilarities
	if len(sims) < n {
		n = len(sims)
	}
	var sum float64
	for _, s := range sims[:n] {
		sum += s
	}
	return sum / float64(n)
}

// genreScore is the fraction of the user's stated genre interests this book
// satisfies: |intersection| / |user genres|. Zero when either set is empty.
func genreScore(userGenres, bookGenres []string) float64 {
	if len(userGenres) == 0 || len(bookGenres) == 0 {
		return 0
	}

	book := make(map[string]bool, len(bookGenres))
	for _, g := range bookGenres {
		book[g] = true
	}

	matched := 0
	for _, g := range userGenres {
		if book[g] {
			matched++
		}
	}
	return float64(matched) / float64(len(userGenres))
}

// gradeScore measures grade-level fit: linear decay of the distance between
// the user's grade and the mean recommended grade pooled across the book's
// reviews, over a 6-grade window. 0.5 when the book has no grade data.
func gradeScore(userGrade int, book *catalog.Book) float64 {
	var sum, count float64
	for _, r := range book.Reviews {
		for _, g := range r.RecommendedGrades {
			sum += float64(g)
			count++
		}
	}
	if count == 0 {
		return 0.5
	}

	diff := math.Abs(float64(userGrade) - sum/count)
	return math.Max(0, 1-diff/gradeWindow)
}

// sentimentScore is the mean sentiment across the book's reviews, 0.5 when
// there are none.
func sentimentScore(book *catalog.Book) float64 {
	if len(book.Reviews) == 0 {
		return 0.5
	}
	var sum float64
	for _, r := range book.Reviews {
		sum += r.Sentiment
	}
	return sum / float64(len(book.Reviews))
}

// avgSentiment is the mean review sentiment used for user-profile weighting.
// Unlike sentimentScore it defaults to 0 when no reviews are scored, so an
// unreviewed book contributes no weight.
func avgSentiment(book *catalog.Book) float64 {
	if len(book.Reviews) == 0 {
		return 0
	}
	var sum float64
	for _, r := range book.Reviews {
		sum += r.Sentiment
	}
	return sum / float64(len(book.Reviews))
}

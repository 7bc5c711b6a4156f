// Package profile derives semantic summaries of books from their top reviews.
package profile

import (
	"context"
	"fmt"
	"log"
	"sort"
	"strings"

	"github.com/bookclubhq/bookrec/internal/catalog"
	"github.com/bookclubhq/bookrec/internal/llm"
)

const DefaultMaxReviews = 5

// Profile is the semantic summary of one book: the centroid of its top review
// embeddings plus the dispersion of those embeddings around it. Variance acts
// as an uncertainty signal for the recommender. Profiles are never mutated in
// place; a review change means a rebuild.
type Profile struct {
	Centroid      []float64
	ReviewVectors [][]float64
	Variance      float64
}

// Builder builds book profiles using an injected embedder.
type Builder struct {
	embedder   llm.Embedder
	maxReviews int
}

// NewBuilder creates a profile builder. maxReviews <= 0 uses the default.
func NewBuilder(embedder llm.Embedder, maxReviews int) *Builder {
	if maxReviews <= 0 {
		maxReviews = DefaultMaxReviews
	}
	return &Builder{embedder: embedder, maxReviews: maxReviews}
}

// BuildProfiles builds a profile for every book with at least one non-empty
// review. Books with no review text are simply absent from the result: callers
// must treat a missing profile as "no semantic signal available".
func (b *Builder) BuildProfiles(ctx context.Context, cat *catalog.Catalog) (map[string]*Profile, error) {
	profiles := make(map[string]*Profile)

	for _, book := range cat.Books() {
		texts := b.selectTexts(book)
		if len(texts) == 0 {
			continue
		}

		vecs, err := b.embedder.Embed(ctx, texts)
		if err != nil {
			return nil, fmt.Errorf("embedding reviews for %q: %w", book.Title, err)
		}

		centroid := Mean(vecs)
		var variance float64
		for _, v := range vecs {
			variance += Euclidean(v, centroid)
		}
		variance /= float64(len(vecs))

		profiles[book.ID] = &Profile{
			Centroid:      centroid,
			ReviewVectors: vecs,
			Variance:      variance,
		}
	}

	log.Printf("built %d book profiles from %d books", len(profiles), cat.Len())
	return profiles, nil
}

// selectTexts picks up to maxReviews review texts ranked by (stars desc,
// sentiment desc), ties broken by original review order. Unrated reviews rank
// as 3 stars.
func (b *Builder) selectTexts(book *catalog.Book) []string {
	var reviews []catalog.Review
	for _, r := range book.Reviews {
		if strings.TrimSpace(r.Text) != "" {
			reviews = append(reviews, r)
		}
	}

	sort.SliceStable(reviews, func(i, j int) bool {
		si, sj := effectiveStars(reviews[i]), effectiveStars(reviews[j])
		if si != sj {
			return si > sj
		}
		return reviews[i].Sentiment > reviews[j].Sentiment
	})

	if len(reviews) > b.maxReviews {
		reviews = reviews[:b.maxReviews]
	}

	texts := make([]string, len(reviews))
	for i, r := range reviews {
		texts[i] = r.Text
	}
	return texts
}

func effectiveStars(r catalog.Review) int {
	if r.Stars == 0 {
		return 3
	}
	return r.Stars
}

package profile

import (
	"context"
	"math"
	"testing"

	"github.com/bookclubhq/bookrec/internal/catalog"
)

// mockEmbedder implements llm.Embedder for testing. It returns the vector
// registered for each text, so tests control the geometry exactly.
type mockEmbedder struct {
	vectors map[string][]float64
	calls   [][]string
}

func (m *mockEmbedder) Embed(_ context.Context, texts []string) ([][]float64, error) {
	m.calls = append(m.calls, texts)
	out := make([][]float64, len(texts))
	for i, t := range texts {
		out[i] = m.vectors[t]
	}
	return out, nil
}

func TestCosine(t *testing.T) {
	tests := []struct {
		name string
		a, b []float64
		want float64
	}{
		{"identical", []float64{1, 0}, []float64{1, 0}, 1.0},
		{"orthogonal", []float64{1, 0}, []float64{0, 1}, 0.0},
		{"opposite", []float64{1, 0}, []float64{-1, 0}, -1.0},
		{"zero vector", []float64{0, 0}, []float64{1, 0}, 0.0},
		{"length mismatch", []float64{1, 0}, []float64{1, 0, 0}, 0.0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Cosine(tt.a, tt.b); math.Abs(got-tt.want) > 1e-10 {
				t.Errorf("Cosine = %f, want %f", got, tt.want)
			}
		})
	}
}

func TestMean(t *testing.T) {
	got := Mean([][]float64{{1, 0}, {0, 1}, {2, 2}})
	want := []float64{1, 1}
	for i := range want {
		if math.Abs(got[i]-want[i]) > 1e-10 {
			t.Errorf("Mean[%d] = %f, want %f", i, got[i], want[i])
		}
	}

	if Mean(nil) != nil {
		t.Error("expected nil mean for empty input")
	}
}

func TestEuclidean(t *testing.T) {
	if got := Euclidean([]float64{0, 0}, []float64{3, 4}); math.Abs(got-5) > 1e-10 {
		t.Errorf("Euclidean = %f, want 5", got)
	}
}

func TestBuildProfilesCentroidAndVariance(t *testing.T) {
	cat := catalog.New()
	cat.Add(&catalog.Book{
		ID:    "a::x",
		Title: "A",
		Reviews: []catalog.Review{
			{Text: "r1", Stars: 5, Sentiment: 0.9},
			{Text: "r2", Stars: 4, Sentiment: 0.8},
		},
	})

	emb := &mockEmbedder{vectors: map[string][]float64{
		"r1": {1, 0},
		"r2": {0, 1},
	}}

	profiles, err := NewBuilder(emb, 5).BuildProfiles(context.Background(), cat)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	p, ok := profiles["a::x"]
	if !ok {
		t.Fatal("expected profile for a::x")
	}

	wantCentroid := []float64{0.5, 0.5}
	for i := range wantCentroid {
		if math.Abs(p.Centroid[i]-wantCentroid[i]) > 1e-10 {
			t.Errorf("centroid[%d] = %f, want %f", i, p.Centroid[i], wantCentroid[i])
		}
	}

	// Both vectors are sqrt(0.5) from the centroid.
	wantVariance := math.Sqrt(0.5)
	if math.Abs(p.Variance-wantVariance) > 1e-10 {
		t.Errorf("variance = %f, want %f", p.Variance, wantVariance)
	}
	if len(p.ReviewVectors) != 2 {
		t.Errorf("expected 2 review vectors, got %d", len(p.ReviewVectors))
	}
}

func TestBuildProfilesExcludesTextlessBooks(t *testing.T) {
	cat := catalog.New()
	cat.Add(&catalog.Book{ID: "empty::x", Title: "Empty"})
	cat.Add(&catalog.Book{
		ID:      "blank::x",
		Title:   "Blank",
		Reviews: []catalog.Review{{Text: "   ", Stars: 5}},
	})

	profiles, err := NewBuilder(&mockEmbedder{}, 5).BuildProfiles(context.Background(), cat)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(profiles) != 0 {
		t.Errorf("expected no profiles, got %d", len(profiles))
	}
}

func TestSelectTextsRankingAndCap(t *testing.T) {
	book := &catalog.Book{
		Reviews: []catalog.Review{
			{Text: "low", Stars: 2, Sentiment: 0.9},
			{Text: "high-first", Stars: 5, Sentiment: 0.5},
			{Text: "high-second", Stars: 5, Sentiment: 0.5}, // tie: original order
			{Text: "unrated", Stars: 0, Sentiment: 0.9},     // ranks as 3 stars
			{Text: "mid", Stars: 4, Sentiment: 0.1},
		},
	}

	b := NewBuilder(&mockEmbedder{}, 3)
	texts := b.selectTexts(book)

	want := []string{"high-first", "high-second", "mid"}
	if len(texts) != len(want) {
		t.Fatalf("expected %d texts, got %d: %v", len(want), len(texts), texts)
	}
	for i := range want {
		if texts[i] != want[i] {
			t.Errorf("texts[%d] = %q, want %q", i, texts[i], want[i])
		}
	}
}

func TestSelectTextsSentimentBreaksStarTies(t *testing.T) {
	book := &catalog.Book{
		Reviews: []catalog.Review{
			{Text: "meh", Stars: 5, Sentiment: 0.4},
			{Text: "glowing", Stars: 5, Sentiment: 0.95},
		},
	}

	texts := NewBuilder(&mockEmbedder{}, 1).selectTexts(book)
	if len(texts) != 1 || texts[0] != "glowing" {
		t.Errorf("expected sentiment to break the tie, got %v", texts)
	}
}

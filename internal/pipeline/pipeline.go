// Package pipeline builds a recommendation snapshot from the configured
// data sources.
package pipeline

import (
	"context"
	"fmt"
	"log"

	"github.com/bookclubhq/bookrec/internal/catalog"
	"github.com/bookclubhq/bookrec/internal/config"
	"github.com/bookclubhq/bookrec/internal/llm"
	"github.com/bookclubhq/bookrec/internal/profile"
	"github.com/bookclubhq/bookrec/internal/store"
)

// StepResult holds the result of a single pipeline step.
type StepResult struct {
	Name    string
	Summary string
	Err     error
}

// Result holds the results of a full pipeline run.
type Result struct {
	Steps []StepResult
}

// Failed reports whether any step ended with an error.
func (r *Result) Failed() bool {
	for _, s := range r.Steps {
		if s.Err != nil {
			return true
		}
	}
	return false
}

// Snapshot is the in-memory model the recommender scores against.
type Snapshot struct {
	Catalog  *catalog.Catalog
	Profiles map[string]*profile.Profile
}

// Pipeline orchestrates the 4-step snapshot build.
type Pipeline struct {
	cfg      *config.Config
	db       *store.DB
	embedder llm.Embedder
	scorer   llm.SentimentScorer
}

// New creates a new pipeline. db may be nil when no review ledger is
// available; the stored-review step is then skipped.
func New(cfg *config.Config, db *store.DB) *Pipeline {
	baseURL := cfg.Models.OllamaURL
	if baseURL == "" {
		baseURL = "http://localhost:11434"
	}
	embModel := cfg.Models.EmbeddingModel
	if embModel == "" {
		embModel = "nomic-embed-text"
	}

	return &Pipeline{
		cfg:      cfg,
		db:       db,
		embedder: llm.NewOllamaEmbedder(embModel, baseURL),
		scorer:   llm.NewOllamaSentiment(cfg.Models.SentimentModel, baseURL),
	}
}

// NewWithModels creates a pipeline with explicit model backends. Used by
// tests to substitute stubs.
func NewWithModels(cfg *config.Config, db *store.DB, embedder llm.Embedder, scorer llm.SentimentScorer) *Pipeline {
	return &Pipeline{cfg: cfg, db: db, embedder: embedder, scorer: scorer}
}

// Run executes the full 4-step snapshot build. The returned snapshot is
// nil when a step the later steps depend on fails.
func (p *Pipeline) Run(ctx context.Context) (*Snapshot, *Result) {
	r := &Result{}

	// Step 1: Load catalog
	cat, step := p.runLoadBooks()
	r.Steps = append(r.Steps, step)
	if step.Err != nil {
		return nil, r
	}

	// Step 2: Merge review CSV
	step = p.runMergeCSV(ctx, cat)
	r.Steps = append(r.Steps, step)

	// Step 3: Merge approved ledger reviews
	step = p.runMergeStore(ctx, cat)
	r.Steps = append(r.Steps, step)

	// Step 4: Build book profiles
	profiles, step := p.runBuildProfiles(ctx, cat)
	r.Steps = append(r.Steps, step)
	if step.Err != nil {
		return nil, r
	}

	return &Snapshot{Catalog: cat, Profiles: profiles}, r
}

func (p *Pipeline) runLoadBooks() (*catalog.Catalog, StepResult) {
	log.Println("Step 1/4: Loading book catalog...")
	cat, err := catalog.LoadBooks(p.cfg.Data.BooksCSV)
	if err != nil {
		return nil, StepResult{Name: "Load", Err: err}
	}
	return cat, StepResult{
		Name:    "Load",
		Summary: fmt.Sprintf("Loaded %d books", cat.Len()),
	}
}

func (p *Pipeline) runMergeCSV(ctx context.Context, cat *catalog.Catalog) StepResult {
	log.Println("Step 2/4: Merging review CSV...")
	if p.cfg.Data.ReviewsCSV == "" {
		return StepResult{Name: "MergeCSV", Summary: "No review CSV configured"}
	}
	res, err := catalog.LoadReviews(ctx, p.cfg.Data.ReviewsCSV, cat, p.scorer)
	if err != nil {
		return StepResult{Name: "MergeCSV", Err: err}
	}
	return StepResult{
		Name:    "MergeCSV",
		Summary: fmt.Sprintf("Merged %d reviews (%d dropped, %d skipped)", res.Merged, res.Dropped, res.Skipped),
	}
}

func (p *Pipeline) runMergeStore(ctx context.Context, cat *catalog.Catalog) StepResult {
	log.Println("Step 3/4: Merging approved reviews...")
	if p.db == nil {
		return StepResult{Name: "MergeStore", Summary: "No review ledger configured"}
	}

	approved, err := p.db.ApprovedReviews()
	if err != nil {
		return StepResult{Name: "MergeStore", Err: err}
	}

	merged, dropped := 0, 0
	for _, sr := range approved {
		rev := catalog.Review{
			RecommendedGrades: sr.RecommendedGrades,
			Stars:             sr.Stars,
			Text:              sr.Text,
		}
		if sr.Grade > 0 {
			g := sr.Grade
			rev.ReviewerGrade = &g
		}
		err := catalog.MergeReview(ctx, cat, sr.BookTitle, sr.Author, rev, p.scorer)
		if err == catalog.ErrNoMatch {
			log.Printf("no catalog match for stored review %q by %s", sr.BookTitle, sr.Author)
			dropped++
			continue
		}
		if err != nil {
			return StepResult{Name: "MergeStore", Err: err}
		}
		merged++
	}
	return StepResult{
		Name:    "MergeStore",
		Summary: fmt.Sprintf("Merged %d approved reviews (%d dropped)", merged, dropped),
	}
}

func (p *Pipeline) runBuildProfiles(ctx context.Context, cat *catalog.Catalog) (map[string]*profile.Profile, StepResult) {
	log.Println("Step 4/4: Building book profiles...")
	builder := profile.NewBuilder(p.embedder, p.cfg.Recommender.MaxReviews)
	profiles, err := builder.BuildProfiles(ctx, cat)
	if err != nil {
		return nil, StepResult{Name: "Profiles", Err: err}
	}
	return profiles, StepResult{
		Name:    "Profiles",
		Summary: fmt.Sprintf("Profiled %d of %d books", len(profiles), cat.Len()),
	}
}

package main

import (
	"context"
	"fmt"
	"log"
	"math/rand"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/bookclubhq/bookrec/internal/catalog"
	"github.com/bookclubhq/bookrec/internal/config"
	"github.com/bookclubhq/bookrec/internal/evaluate"
	"github.com/bookclubhq/bookrec/internal/llm"
	"github.com/bookclubhq/bookrec/internal/pipeline"
	"github.com/bookclubhq/bookrec/internal/recommend"
	"github.com/bookclubhq/bookrec/internal/store"
	"github.com/spf13/cobra"
)

var version = "dev"

var (
	verbose    bool
	configPath string
	cfg        *config.Config
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:     "bookrec",
	Short:   "Book review platform and recommender",
	Long:    "Bookrec manages student book reviews, volunteer hours, and personalized recommendations.",
	Version: version,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if verbose {
			log.SetFlags(log.LstdFlags | log.Lshortfile)
		} else {
			log.SetFlags(log.LstdFlags)
		}

		// Skip config loading for init and version
		if cmd.Name() == "init" || cmd.Name() == "version" {
			return nil
		}

		path, err := config.ResolveConfigPath(configPath)
		if err != nil {
			return err
		}
		cfg, err = config.Load(path)
		if err != nil {
			return fmt.Errorf("loading config: %w", err)
		}
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose output")
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to config file")

	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(ingestCmd)
	rootCmd.AddCommand(reviewsCmd)
	rootCmd.AddCommand(hoursCmd)
	rootCmd.AddCommand(recommendCmd)
	rootCmd.AddCommand(evaluateCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println("bookrec", version)
	},
}

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize configuration in ~/.config/bookrec/",
	RunE: func(cmd *cobra.Command, args []string) error {
		target := filepath.Join(config.ConfigDir(), "config.yaml")
		if _, err := os.Stat(target); err == nil {
			fmt.Printf("Config already exists: %s\n", target)
			return nil
		}

		if err := os.MkdirAll(config.ConfigDir(), 0o755); err != nil {
			return fmt.Errorf("creating config directory: %w", err)
		}

		if err := os.WriteFile(target, config.DefaultConfigYAML, 0o644); err != nil {
			return fmt.Errorf("writing config: %w", err)
		}

		fmt.Printf("Created config: %s\n", target)
		fmt.Println("Edit it to point at your book catalog CSV and Ollama models.")
		return nil
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show review ledger and system status",
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openDB()
		if err != nil {
			return err
		}
		defer db.Close()

		stats, err := db.GetStats()
		if err != nil {
			return fmt.Errorf("getting stats: %w", err)
		}

		fmt.Println("Reviews:")
		fmt.Printf("  Total: %d\n", stats.Total)
		fmt.Printf("  Pending: %d\n", stats.Pending)
		fmt.Printf("  Approved: %d\n", stats.Approved)
		fmt.Printf("  Rejected: %d\n", stats.Rejected)
		fmt.Printf("\nVolunteer hours awarded: %.1f\n", stats.HoursTotal)

		fmt.Println("\nModels:")
		baseURL := cfg.Models.OllamaURL
		emb := llm.NewOllamaEmbedder(cfg.Models.EmbeddingModel, baseURL)
		sent := llm.NewOllamaSentiment(cfg.Models.SentimentModel, baseURL)
		fmt.Printf("  Embedding (%s): %s\n", cfg.Models.EmbeddingModel, availability(emb.IsConfigured()))
		fmt.Printf("  Sentiment (%s): %s\n", cfg.Models.SentimentModel, availability(sent.IsConfigured()))
		return nil
	},
}

func availability(ok bool) string {
	if ok {
		return "available"
	}
	return "NOT available"
}

// --- ingest command ---

var ingestCmd = &cobra.Command{
	Use:   "ingest [reviews.csv]",
	Short: "Bulk-import a review form export into the ledger",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openDB()
		if err != nil {
			return err
		}
		defer db.Close()

		res, err := db.ImportCSV(args[0])
		if err != nil {
			return err
		}

		fmt.Println("Import complete:")
		fmt.Printf("  Imported: %d\n", res.Imported)
		fmt.Printf("  Skipped: %d\n", res.Skipped)
		return nil
	},
}

// --- reviews command ---

var reviewsCmd = &cobra.Command{
	Use:   "reviews",
	Short: "Moderate submitted reviews",
}

var (
	listStatus string
	listGrade  int
	listSchool string
)

var reviewsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List reviews in the ledger",
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openDB()
		if err != nil {
			return err
		}
		defer db.Close()

		items, err := db.ListReviews(store.Filter{
			Status: listStatus,
			Grade:  listGrade,
			School: listSchool,
		})
		if err != nil {
			return err
		}

		if len(items) == 0 {
			fmt.Println("No reviews found.")
			return nil
		}

		for _, r := range items {
			name := r.FirstName + " " + r.LastName
			if r.Anonymous {
				name = "(anonymous)"
			}
			fmt.Printf("  [%d] %-9s %s by %s\n", r.ID, r.Status, r.BookTitle, r.Author)
			fmt.Printf("        %s, grade %d, %d stars, received %s\n", name, r.Grade, r.Stars, r.DateReceived)
			if r.AdminComment != "" {
				fmt.Printf("        note: %s\n", r.AdminComment)
			}
		}
		return nil
	},
}

var moderateComment string

var reviewsApproveCmd = &cobra.Command{
	Use:   "approve [id]",
	Short: "Approve a pending review and award volunteer time",
	Args:  cobra.ExactArgs(1),
	RunE:  func(cmd *cobra.Command, args []string) error { return moderate(args[0], true) },
}

var reviewsRejectCmd = &cobra.Command{
	Use:   "reject [id]",
	Short: "Reject a pending review",
	Args:  cobra.ExactArgs(1),
	RunE:  func(cmd *cobra.Command, args []string) error { return moderate(args[0], false) },
}

func moderate(rawID string, approved bool) error {
	id, err := strconv.ParseInt(rawID, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid review ID: %s", rawID)
	}

	db, err := openDB()
	if err != nil {
		return err
	}
	defer db.Close()

	if err := db.ProcessReview(id, approved, moderateComment); err != nil {
		return err
	}

	r, err := db.GetReview(id)
	if err != nil {
		return err
	}
	fmt.Printf("Review [%d] %s: %s by %s\n", r.ID, r.Status, r.BookTitle, r.Author)
	if approved {
		hours, err := db.UserHours(r.Email)
		if err != nil {
			return err
		}
		fmt.Printf("%s now has %.1f volunteer hours.\n", r.Email, hours)
	}
	return nil
}

func init() {
	reviewsListCmd.Flags().StringVar(&listStatus, "status", "", "Filter by status (pending, approved, rejected)")
	reviewsListCmd.Flags().IntVar(&listGrade, "grade", 0, "Filter by reviewer grade")
	reviewsListCmd.Flags().StringVar(&listSchool, "school", "", "Filter by school")
	reviewsApproveCmd.Flags().StringVar(&moderateComment, "comment", "", "Moderation comment")
	reviewsRejectCmd.Flags().StringVar(&moderateComment, "comment", "", "Moderation comment")

	reviewsCmd.AddCommand(reviewsListCmd)
	reviewsCmd.AddCommand(reviewsApproveCmd)
	reviewsCmd.AddCommand(reviewsRejectCmd)
}

// --- hours command ---

var hoursCmd = &cobra.Command{
	Use:   "hours [email]",
	Short: "Show a reviewer's earned volunteer hours",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openDB()
		if err != nil {
			return err
		}
		defer db.Close()

		hours, err := db.UserHours(args[0])
		if err != nil {
			return err
		}
		reviews, err := db.ApprovedReviewsByEmail(args[0])
		if err != nil {
			return err
		}

		fmt.Printf("%s: %.1f volunteer hours from %d approved reviews\n", args[0], hours, len(reviews))
		for _, r := range reviews {
			fmt.Printf("  %s by %s (+%.1f)\n", r.BookTitle, r.Author, r.TimeEarned)
		}
		return nil
	},
}

// --- recommend command ---

var (
	recEmail  string
	recGenres []string
	recGrade  int
	recTopK   int
	recSeed   int64
)

var recommendCmd = &cobra.Command{
	Use:   "recommend",
	Short: "Recommend books for a reader",
	RunE: func(cmd *cobra.Command, args []string) error {
		snap, db, err := buildSnapshot(cmd.Context())
		if db != nil {
			defer db.Close()
		}
		if err != nil {
			return err
		}

		userGenres := catalog.TokenizeGenres(strings.Join(recGenres, ","))

		var history []recommend.UserReview
		userGrade := recGrade
		if recEmail != "" && db != nil {
			history, userGrade = readerHistory(db, snap.Catalog, recEmail, userGrade)
		}

		var rng *rand.Rand
		if recSeed != 0 {
			rng = rand.New(rand.NewSource(recSeed))
		}
		rec := recommend.New(snap.Catalog, snap.Profiles, recommend.Options{
			PoolSize:    cfg.Recommender.PoolSize,
			Temperature: cfg.Recommender.Temperature,
			Rand:        rng,
		})

		topK := recTopK
		if topK <= 0 {
			topK = cfg.Recommender.TopK
		}

		var results []recommend.Scored
		userVec := rec.BuildUserProfile(history)
		if userVec == nil {
			fmt.Println("No usable review history; recommending from stated interests.")
			results = rec.ColdStart(userGenres, userGrade, topK)
		} else {
			w := recommend.AdaptiveWeights(len(history))
			fmt.Printf("Profile from %d reviews (weights: embedding %.2f, genre %.2f, grade %.2f, sentiment %.2f)\n",
				len(history), w.Embedding, w.Genre, w.Grade, w.Sentiment)
			results = rec.Recommend(userVec, history, userGenres, userGrade, topK)
		}

		if len(results) == 0 {
			fmt.Println("No recommendations available.")
			return nil
		}
		fmt.Println("\nRecommended:")
		for i, s := range results {
			book, _ := snap.Catalog.Get(s.BookID)
			fmt.Printf("  %d. %s by %s (score %.3f)\n", i+1, book.Title, book.Author, s.Score)
		}
		return nil
	},
}

// readerHistory resolves a reader's approved reviews against the catalog.
// When no grade was given explicitly, the most recent stored grade is used.
func readerHistory(db *store.DB, cat *catalog.Catalog, email string, grade int) ([]recommend.UserReview, int) {
	stored, err := db.ApprovedReviewsByEmail(email)
	if err != nil {
		log.Printf("reading history for %s: %v", email, err)
		return nil, grade
	}

	var history []recommend.UserReview
	for _, r := range stored {
		book, ok := cat.Resolve(r.BookTitle, r.Author)
		if !ok {
			continue
		}
		history = append(history, recommend.UserReview{BookID: book.ID, Stars: r.Stars})
		if grade == 0 && r.Grade > 0 {
			grade = r.Grade
		}
	}
	return history, grade
}

func init() {
	recommendCmd.Flags().StringVar(&recEmail, "email", "", "Use this reader's approved review history")
	recommendCmd.Flags().StringSliceVar(&recGenres, "genres", nil, "Stated genre interests")
	recommendCmd.Flags().IntVar(&recGrade, "grade", 0, "Reader's grade level")
	recommendCmd.Flags().IntVarP(&recTopK, "top-k", "k", 0, "Number of recommendations (default from config)")
	recommendCmd.Flags().Int64Var(&recSeed, "seed", 0, "Random seed for reproducible sampling")
}

// --- evaluate command ---

var (
	evalGenres  []string
	evalSamples int
	evalRuns    int
	evalSeed    int64
)

var evaluateCmd = &cobra.Command{
	Use:   "evaluate",
	Short: "Evaluate recommendation quality over the catalog",
	RunE: func(cmd *cobra.Command, args []string) error {
		snap, db, err := buildSnapshot(cmd.Context())
		if db != nil {
			defer db.Close()
		}
		if err != nil {
			return err
		}

		// Deterministic evaluation unless a seed is given.
		seed := evalSeed
		if seed == 0 {
			seed = 1
		}
		rec := recommend.New(snap.Catalog, snap.Profiles, recommend.Options{
			PoolSize: cfg.Recommender.PoolSize,
			Rand:     rand.New(rand.NewSource(seed)),
		})
		ev := evaluate.New(rec, snap.Catalog, snap.Profiles, rand.New(rand.NewSource(seed+1)))

		genres := evalGenres
		if len(genres) == 0 {
			genres = topGenres(snap.Catalog, 5)
		}

		fmt.Println("Genre hit rate (leave-one-out):")
		for _, g := range genres {
			hr := ev.GenreHitRate(g, evalSamples, cfg.Recommender.TopK)
			if hr == nil {
				fmt.Printf("  %-16s too few books\n", g)
				continue
			}
			fmt.Printf("  %-16s %.2f\n", g, *hr)
		}

		if sil := ev.EmbeddingSilhouette(3); sil != nil {
			fmt.Printf("\nEmbedding silhouette: %.3f\n", *sil)
		} else {
			fmt.Println("\nEmbedding silhouette: too few profiled books")
		}

		runs := ev.SampleRuns(evalRuns, cfg.Recommender.TopK, cfg.Recommender.PoolSize)
		if len(runs) > 0 {
			var diversity float64
			for _, recs := range runs {
				diversity += ev.Diversity(recs)
			}
			fmt.Printf("Diversity: %.3f\n", diversity/float64(len(runs)))
			fmt.Printf("Coverage: %.3f\n", ev.Coverage(runs))
		}
		return nil
	},
}

// topGenres returns the most common genre tokens in the catalog.
func topGenres(cat *catalog.Catalog, n int) []string {
	counts := make(map[string]int)
	for _, b := range cat.Books() {
		for _, g := range b.Genres {
			counts[g]++
		}
	}
	genres := make([]string, 0, len(counts))
	for g := range counts {
		genres = append(genres, g)
	}
	sort.Slice(genres, func(i, j int) bool {
		if counts[genres[i]] != counts[genres[j]] {
			return counts[genres[i]] > counts[genres[j]]
		}
		return genres[i] < genres[j]
	})
	if len(genres) > n {
		genres = genres[:n]
	}
	return genres
}

func init() {
	evaluateCmd.Flags().StringSliceVar(&evalGenres, "genres", nil, "Genres to evaluate (default: most common)")
	evaluateCmd.Flags().IntVar(&evalSamples, "samples", 20, "Synthetic users per genre")
	evaluateCmd.Flags().IntVar(&evalRuns, "runs", 10, "Recommendation runs for diversity and coverage")
	evaluateCmd.Flags().Int64Var(&evalSeed, "seed", 0, "Random seed (default: fixed)")
}

// --- helpers ---

// buildSnapshot runs the data pipeline and returns the ledger handle so
// callers can read per-user history from it.
func buildSnapshot(ctx context.Context) (*pipeline.Snapshot, *store.DB, error) {
	emb := llm.NewOllamaEmbedder(cfg.Models.EmbeddingModel, cfg.Models.OllamaURL)
	if !emb.IsConfigured() {
		return nil, nil, fmt.Errorf("embedding model %q is not available; pull it with: ollama pull %s",
			cfg.Models.EmbeddingModel, cfg.Models.EmbeddingModel)
	}

	db, err := openDB()
	if err != nil {
		return nil, nil, err
	}

	pipe := pipeline.New(cfg, db)
	snap, res := pipe.Run(ctx)
	for _, step := range res.Steps {
		if step.Err != nil {
			return nil, db, fmt.Errorf("%s: %w", step.Name, step.Err)
		}
		if verbose {
			log.Printf("%s: %s", step.Name, step.Summary)
		}
	}
	return snap, db, nil
}

func openDB() (*store.DB, error) {
	dataDir := cfg.GetDataDir()
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating data directory: %w", err)
	}
	return store.Open(filepath.Join(dataDir, "bookrec.db"))
}

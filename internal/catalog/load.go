package catalog

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"strconv"
	"strings"

	"github.com/bookclubhq/bookrec/internal/llm"
)

// headerAliases maps review form export column names to canonical keys.
var headerAliases = map[string]string{
	"title":              "title",
	"title of book":      "title",
	"author":             "author",
	"author of book":     "author",
	"grade":              "grade",
	"recommended grades": "recommended_grades",
	"what grade level would you recommend this book to?": "recommended_grades",
	"stars": "stars",
	"how many stars would you give this book?": "stars",
	"review": "review",
	"submit your review below (200-400 word count)": "review",
	"genre": "genre",
}

// LoadResult reports what happened to the rows of a review source.
type LoadResult struct {
	Merged  int
	Dropped int // no matching book
	Skipped int // malformed row
}

// LoadBooks parses a book metadata CSV (AUTHOR, TITLE, GENRE) into a catalog.
// Rows missing title or author are skipped, never fatal.
func LoadBooks(path string) (*Catalog, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening books file: %w", err)
	}
	defer f.Close()

	rows, cols, err := readTable(f)
	if err != nil {
		return nil, fmt.Errorf("reading books file: %w", err)
	}

	cat := New()
	skipped := 0
	for _, row := range rows {
		title := strings.TrimSpace(field(row, cols, "title"))
		author := strings.TrimSpace(field(row, cols, "author"))
		if title == "" || author == "" {
			skipped++
			continue
		}

		cat.Add(&Book{
			ID:     DeriveID(title, author),
			Title:  title,
			Author: author,
			Genres: TokenizeGenres(field(row, cols, "genre")),
		})
	}

	log.Printf("loaded %d books from %s (%d rows skipped)", cat.Len(), path, skipped)
	return cat, nil
}

// LoadReviews merges a review CSV onto an existing catalog. Each merged review
// is annotated with a sentiment score. Rows that resolve to no known book are
// dropped; malformed rows are skipped.
func LoadReviews(ctx context.Context, path string, cat *Catalog, scorer llm.SentimentScorer) (*LoadResult, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening reviews file: %w", err)
	}
	defer f.Close()

	rows, cols, err := readTable(f)
	if err != nil {
		return nil, fmt.Errorf("reading reviews file: %w", err)
	}

	r := &LoadResult{}
	for _, row := range rows {
		rev, title, author, ok := parseReviewRow(row, cols)
		if !ok {
			r.Skipped++
			continue
		}

		if err := MergeReview(ctx, cat, title, author, rev, scorer); err != nil {
			if err == ErrNoMatch {
				r.Dropped++
				continue
			}
			return r, err
		}
		r.Merged++
	}

	log.Printf("merged %d reviews from %s (%d dropped, %d skipped)", r.Merged, path, r.Dropped, r.Skipped)
	return r, nil
}

// ErrNoMatch reports that a review title resolved to no catalog book.
var ErrNoMatch = errors.New("no matching book")

// MergeReview resolves the target book and appends the review, scoring its
// sentiment first. Returns ErrNoMatch when no book resolves.
func MergeReview(ctx context.Context, cat *Catalog, title, author string, rev Review, scorer llm.SentimentScorer) error {
	book, ok := cat.Resolve(title, author)
	if !ok {
		return ErrNoMatch
	}

	sentiment := 0.5
	if scorer != nil {
		s, err := scorer.Score(ctx, rev.Text)
		if err != nil {
			return fmt.Errorf("scoring review sentiment: %w", err)
		}
		sentiment = s
	}

	rev.BookID = book.ID
	rev.Sentiment = sentiment
	book.Reviews = append(book.Reviews, rev)
	return nil
}

func parseReviewRow(row []string, cols map[string]int) (rev Review, title, author string, ok bool) {
	title = strings.TrimSpace(field(row, cols, "title"))
	author = strings.TrimSpace(field(row, cols, "author"))
	text := strings.TrimSpace(field(row, cols, "review"))
	if title == "" || author == "" || text == "" {
		return Review{}, "", "", false
	}

	rev = Review{Text: text}

	if g, err := strconv.Atoi(strings.TrimSpace(field(row, cols, "grade"))); err == nil {
		rev.ReviewerGrade = &g
	}
	if s, err := strconv.Atoi(strings.TrimSpace(field(row, cols, "stars"))); err == nil {
		rev.Stars = s
	}
	rev.RecommendedGrades = parseGrades(field(row, cols, "recommended_grades"))

	return rev, title, author, true
}

// parseGrades parses a comma-separated grade list, ignoring non-numeric parts.
func parseGrades(raw string) []int {
	var grades []int
	for _, part := range strings.Split(raw, ",") {
		if g, err := strconv.Atoi(strings.TrimSpace(part)); err == nil {
			grades = append(grades, g)
		}
	}
	return grades
}

// readTable reads a CSV with a header row, returning data rows and a map of
// canonical column name to index. Unknown columns are ignored.
func readTable(r io.Reader) ([][]string, map[string]int, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if err != nil {
		return nil, nil, fmt.Errorf("reading header: %w", err)
	}

	cols := make(map[string]int)
	for i, name := range header {
		key := strings.ToLower(strings.TrimSpace(name))
		if canonical, ok := headerAliases[key]; ok {
			cols[canonical] = i
		}
	}

	var rows [][]string
	for {
		row, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			// Malformed row: skip and continue.
			continue
		}
		rows = append(rows, row)
	}
	return rows, cols, nil
}

func field(row []string, cols map[string]int, name string) string {
	i, ok := cols[name]
	if !ok || i >= len(row) {
		return ""
	}
	return row[i]
}

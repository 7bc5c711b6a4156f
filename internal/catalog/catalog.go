// Package catalog builds the in-memory book catalog from tabular review data.
package catalog

import (
	"log"
	"regexp"
	"sort"
	"strings"
)

// Review is a single ingested review, immutable once merged onto a book.
type Review struct {
	BookID            string
	ReviewerGrade     *int
	RecommendedGrades []int
	Stars             int // 1-5, 0 when the row had no rating
	Sentiment         float64
	Text              string
}

// Book is a catalog entry. Genres is a deduplicated, sorted token set derived
// once from the metadata source.
type Book struct {
	ID      string
	Title   string
	Author  string
	Genres  []string
	Reviews []Review
}

// Catalog holds books keyed by derived ID, preserving insertion order so that
// iteration is deterministic for a given snapshot.
type Catalog struct {
	books map[string]*Book
	order []string
}

// New creates an empty catalog.
func New() *Catalog {
	return &Catalog{books: make(map[string]*Book)}
}

// Add inserts a book. An existing book with the same ID is kept as-is.
func (c *Catalog) Add(b *Book) {
	if _, ok := c.books[b.ID]; ok {
		return
	}
	c.books[b.ID] = b
	c.order = append(c.order, b.ID)
}

// Get returns the book with the given ID.
func (c *Catalog) Get(id string) (*Book, bool) {
	b, ok := c.books[id]
	return b, ok
}

// Len returns the number of books.
func (c *Catalog) Len() int {
	return len(c.books)
}

// Books returns all books in insertion order.
func (c *Catalog) Books() []*Book {
	out := make([]*Book, 0, len(c.order))
	for _, id := range c.order {
		out = append(out, c.books[id])
	}
	return out
}

// Resolve finds the book a review row belongs to. It first tries the derived
// ID, then falls back to scanning known IDs for a normalized-title substring
// match. The fallback takes the first match in catalog order; multiple matches
// are ambiguous and get logged rather than silently resolved.
func (c *Catalog) Resolve(title, author string) (*Book, bool) {
	if b, ok := c.books[DeriveID(title, author)]; ok {
		return b, true
	}

	normTitle := normalize(title)
	if normTitle == "" {
		return nil, false
	}

	var matches []*Book
	for _, id := range c.order {
		if strings.Contains(id, normTitle) {
			matches = append(matches, c.books[id])
		}
	}
	if len(matches) == 0 {
		return nil, false
	}
	if len(matches) > 1 {
		log.Printf("ambiguous title %q matches %d books, using %q", title, len(matches), matches[0].ID)
	}
	return matches[0], true
}

var nonWord = regexp.MustCompile(`[^\w\s]`)

// normalize lowercases text, strips punctuation, and collapses whitespace.
func normalize(text string) string {
	text = strings.ToLower(text)
	text = nonWord.ReplaceAllString(text, " ")
	return strings.Join(strings.Fields(text), " ")
}

// DeriveID builds the stable join key for a book from its title and author.
func DeriveID(title, author string) string {
	return normalize(title) + "::" + normalize(author)
}

var genreSep = regexp.MustCompile(`[,/&]`)

// TokenizeGenres splits a raw genre string into a sorted, deduplicated token
// set: lowercased, punctuation stripped, tokens longer than 2 characters.
func TokenizeGenres(raw string) []string {
	if strings.TrimSpace(raw) == "" {
		return nil
	}

	seen := make(map[string]bool)
	for _, part := range genreSep.Split(strings.ToLower(raw), -1) {
		part = normalize(part)
		for _, token := range strings.Fields(part) {
			if len(token) > 2 {
				seen[token] = true
			}
		}
	}
	if len(seen) == 0 {
		return nil
	}

	tokens := make([]string, 0, len(seen))
	for t := range seen {
		tokens = append(tokens, t)
	}
	sort.Strings(tokens)
	return tokens
}

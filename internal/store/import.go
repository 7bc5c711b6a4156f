package store

import (
	"encoding/csv"
	"fmt"
	"io"
	"log"
	"os"
	"strconv"
	"strings"
)

// importAliases maps review form export column names to canonical keys.
var importAliases = map[string]string{
	"first name":     "first_name",
	"last name":      "last_name",
	"grade":          "grade",
	"school":         "school",
	"school name":    "school",
	"email":          "email",
	"email address":  "email",
	"title":          "title",
	"title of book":  "title",
	"author":         "author",
	"author of book": "author",
	"stars":          "stars",
	"how many stars would you give this book?": "stars",
	"review": "review",
	"submit your review below (200-400 word count)": "review",
	"recommended grades": "recommended_grades",
	"what grade level would you recommend this book to?": "recommended_grades",
	"anonymous": "anonymous",
	"would you like your review to be anonymous?": "anonymous",
}

// ImportResult reports what happened to the rows of an import.
type ImportResult struct {
	Imported int
	Skipped  int
}

// ImportCSV bulk-loads a review form export into the ledger. Imported
// rows are inserted pre-approved; they represent history that was
// moderated before this system existed. Malformed rows are skipped.
func (db *DB) ImportCSV(path string) (*ImportResult, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening import file: %w", err)
	}
	defer f.Close()

	reader := csv.NewReader(f)
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("reading import header: %w", err)
	}
	cols := make(map[string]int)
	for i, h := range header {
		if key, ok := importAliases[strings.ToLower(strings.TrimSpace(h))]; ok {
			cols[key] = i
		}
	}

	res := &ImportResult{}
	for {
		row, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			res.Skipped++
			continue
		}

		sub := Submission{
			FirstName: importField(row, cols, "first_name"),
			LastName:  importField(row, cols, "last_name"),
			School:    importField(row, cols, "school"),
			Email:     importField(row, cols, "email"),
			BookTitle: importField(row, cols, "title"),
			Author:    importField(row, cols, "author"),
			Text:      importField(row, cols, "review"),
		}
		if g, err := strconv.Atoi(importField(row, cols, "grade")); err == nil {
			sub.Grade = g
		}
		if s, err := strconv.Atoi(importField(row, cols, "stars")); err == nil {
			sub.Stars = s
		}
		sub.RecommendedGrades = splitGrades(importField(row, cols, "recommended_grades"))
		sub.Anonymous = strings.EqualFold(importField(row, cols, "anonymous"), "yes")

		id, err := db.InsertReview(sub)
		if err != nil {
			log.Printf("skipping import row: %v", err)
			res.Skipped++
			continue
		}
		if err := db.ProcessReview(id, true, "imported"); err != nil {
			return res, fmt.Errorf("approving imported review %d: %w", id, err)
		}
		res.Imported++
	}

	log.Printf("imported %d reviews from %s (%d skipped)", res.Imported, path, res.Skipped)
	return res, nil
}

func importField(row []string, cols map[string]int, key string) string {
	i, ok := cols[key]
	if !ok || i >= len(row) {
		return ""
	}
	return strings.TrimSpace(row[i])
}

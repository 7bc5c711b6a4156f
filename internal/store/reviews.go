package store

import (
	"crypto/md5"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Review statuses.
const (
	StatusPending  = "pending"
	StatusApproved = "approved"
	StatusRejected = "rejected"
)

// DefaultTimeEarned is the volunteer credit granted per approved review.
const DefaultTimeEarned = 0.5

// ErrNotFound is returned when a review id does not exist.
var ErrNotFound = errors.New("review not found")

// Review is a stored review submission with its approval state.
type Review struct {
	ID                int64
	EntryID           string
	DateReceived      string
	DateProcessed     string
	FirstName         string
	LastName          string
	Grade             int
	School            string
	Email             string
	BookTitle         string
	Author            string
	RecommendedGrades []int
	Stars             int
	Text              string
	Anonymous         bool
	Status            string
	AdminComment      string
	TimeEarned        float64
}

// Submission holds the fields a reviewer may supply. Everything that
// reaches the database goes through this struct so unexpected form
// fields can never become columns.
type Submission struct {
	FirstName         string
	LastName          string
	Grade             int
	School            string
	Email             string
	BookTitle         string
	Author            string
	RecommendedGrades []int
	Stars             int
	Text              string
	Anonymous         bool
}

// Validate checks that the required fields are present and in range.
func (s *Submission) Validate() error {
	if strings.TrimSpace(s.FirstName) == "" {
		return errors.New("first name is required")
	}
	if strings.TrimSpace(s.LastName) == "" {
		return errors.New("last name is required")
	}
	if strings.TrimSpace(s.Email) == "" {
		return errors.New("email is required")
	}
	if strings.TrimSpace(s.BookTitle) == "" {
		return errors.New("book title is required")
	}
	if strings.TrimSpace(s.Author) == "" {
		return errors.New("author is required")
	}
	if strings.TrimSpace(s.Text) == "" {
		return errors.New("review text is required")
	}
	if s.Stars < 0 || s.Stars > 5 {
		return fmt.Errorf("stars must be between 0 and 5, got %d", s.Stars)
	}
	return nil
}

// newEntryID derives a short unique id from the submitter and time.
func newEntryID(email string, now time.Time) string {
	sum := md5.Sum([]byte(email + now.Format(time.RFC3339Nano)))
	return fmt.Sprintf("%s-%x", now.Format("20060102150405"), sum[:4])
}

// InsertReview validates and stores a submission as a pending review.
// It returns the new row id.
func (db *DB) InsertReview(sub Submission) (int64, error) {
	if err := sub.Validate(); err != nil {
		return 0, fmt.Errorf("invalid submission: %w", err)
	}

	res, err := db.conn.Exec(`
		INSERT INTO reviews (
			entry_id, first_name, last_name, grade, school, email,
			book_title, author, recommended_grades, stars, review_text,
			anonymous, status, time_earned
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		newEntryID(sub.Email, time.Now()),
		strings.TrimSpace(sub.FirstName),
		strings.TrimSpace(sub.LastName),
		sub.Grade,
		strings.TrimSpace(sub.School),
		strings.ToLower(strings.TrimSpace(sub.Email)),
		strings.TrimSpace(sub.BookTitle),
		strings.TrimSpace(sub.Author),
		joinGrades(sub.RecommendedGrades),
		sub.Stars,
		strings.TrimSpace(sub.Text),
		sub.Anonymous,
		StatusPending,
		DefaultTimeEarned,
	)
	if err != nil {
		return 0, fmt.Errorf("inserting review: %w", err)
	}
	return res.LastInsertId()
}

const reviewColumns = `
	id, entry_id, date_received, COALESCE(date_processed, ''),
	first_name, last_name, COALESCE(grade, 0), COALESCE(school, ''),
	email, book_title, author, recommended_grades, COALESCE(stars, 0),
	review_text, anonymous, status, COALESCE(admin_comment, ''), time_earned`

func scanReview(row interface{ Scan(...any) error }) (*Review, error) {
	var r Review
	var grades string
	err := row.Scan(
		&r.ID, &r.EntryID, &r.DateReceived, &r.DateProcessed,
		&r.FirstName, &r.LastName, &r.Grade, &r.School,
		&r.Email, &r.BookTitle, &r.Author, &grades, &r.Stars,
		&r.Text, &r.Anonymous, &r.Status, &r.AdminComment, &r.TimeEarned,
	)
	if err != nil {
		return nil, err
	}
	r.RecommendedGrades = splitGrades(grades)
	return &r, nil
}

// GetReview fetches a single review by id.
func (db *DB) GetReview(id int64) (*Review, error) {
	row := db.conn.QueryRow(
		"SELECT"+reviewColumns+" FROM reviews WHERE id = ?", id)
	r, err := scanReview(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("fetching review %d: %w", id, err)
	}
	return r, nil
}

// Filter narrows ListReviews. Zero values match everything.
type Filter struct {
	Status string
	Grade  int
	School string
}

// ListReviews returns reviews matching the filter, newest first.
func (db *DB) ListReviews(f Filter) ([]*Review, error) {
	query := "SELECT" + reviewColumns + " FROM reviews WHERE 1=1"
	var args []any
	if f.Status != "" {
		query += " AND status = ?"
		args = append(args, f.Status)
	}
	if f.Grade != 0 {
		query += " AND grade = ?"
		args = append(args, f.Grade)
	}
	if f.School != "" {
		query += " AND school = ? COLLATE NOCASE"
		args = append(args, f.School)
	}
	query += " ORDER BY date_received DESC, id DESC"

	rows, err := db.conn.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing reviews: %w", err)
	}
	defer rows.Close()

	var out []*Review
	for rows.Next() {
		r, err := scanReview(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning review: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// ProcessReview approves or rejects a pending review and records the
// moderation comment and processing time.
func (db *DB) ProcessReview(id int64, approved bool, comment string) error {
	status := StatusRejected
	if approved {
		status = StatusApproved
	}

	res, err := db.conn.Exec(`
		UPDATE reviews
		SET status = ?, admin_comment = ?, date_processed = datetime('now')
		WHERE id = ?`,
		status, comment, id)
	if err != nil {
		return fmt.Errorf("processing review %d: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// UserHours sums the volunteer time earned across a user's approved
// reviews.
func (db *DB) UserHours(email string) (float64, error) {
	var hours float64
	err := db.conn.QueryRow(`
		SELECT COALESCE(SUM(time_earned), 0)
		FROM reviews
		WHERE email = ? AND status = ?`,
		strings.ToLower(strings.TrimSpace(email)), StatusApproved,
	).Scan(&hours)
	if err != nil {
		return 0, fmt.Errorf("summing hours for %s: %w", email, err)
	}
	return hours, nil
}

// ApprovedReviews returns every approved review, oldest first, for
// merging into the catalog.
func (db *DB) ApprovedReviews() ([]*Review, error) {
	return db.listByStatusAsc(StatusApproved, "")
}

// ApprovedReviewsByEmail returns a single user's approved reviews,
// oldest first.
func (db *DB) ApprovedReviewsByEmail(email string) ([]*Review, error) {
	return db.listByStatusAsc(StatusApproved, strings.ToLower(strings.TrimSpace(email)))
}

func (db *DB) listByStatusAsc(status, email string) ([]*Review, error) {
	query := "SELECT" + reviewColumns + " FROM reviews WHERE status = ?"
	args := []any{status}
	if email != "" {
		query += " AND email = ?"
		args = append(args, email)
	}
	query += " ORDER BY date_received ASC, id ASC"

	rows, err := db.conn.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing %s reviews: %w", status, err)
	}
	defer rows.Close()

	var out []*Review
	for rows.Next() {
		r, err := scanReview(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning review: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// Stats summarizes the ledger by status.
type Stats struct {
	Total      int
	Pending    int
	Approved   int
	Rejected   int
	HoursTotal float64
}

// GetStats returns counts per status and the total hours awarded.
func (db *DB) GetStats() (*Stats, error) {
	var s Stats
	err := db.conn.QueryRow(`
		SELECT
			COUNT(*),
			COALESCE(SUM(status = 'pending'), 0),
			COALESCE(SUM(status = 'approved'), 0),
			COALESCE(SUM(status = 'rejected'), 0),
			COALESCE(SUM(CASE WHEN status = 'approved' THEN time_earned ELSE 0 END), 0)
		FROM reviews`,
	).Scan(&s.Total, &s.Pending, &s.Approved, &s.Rejected, &s.HoursTotal)
	if err != nil {
		return nil, fmt.Errorf("reading stats: %w", err)
	}
	return &s, nil
}

func joinGrades(grades []int) string {
	parts := make([]string, len(grades))
	for i, g := range grades {
		parts[i] = strconv.Itoa(g)
	}
	return strings.Join(parts, ",")
}

func splitGrades(s string) []int {
	if s == "" {
		return nil
	}
	var out []int
	for _, part := range strings.Split(s, ",") {
		if g, err := strconv.Atoi(strings.TrimSpace(part)); err == nil {
			out = append(out, g)
		}
	}
	return out
}

package database

import (
	"database/sql"
	"encoding/json"

	"github.com/policylens/policylens/internal/policy"
)

// ListFilter narrows Policies queries. A nil Analyzed means "either".
type ListFilter struct {
	Category string
	Analyzed *bool
	Limit    int
	Offset   int
}

// MaxListLimit caps how many rows a single list query may return.
const MaxListLimit = 100

// HasFingerprint reports whether a policy with the given fingerprint exists.
func (db *DB) HasFingerprint(fingerprint string) (bool, error) {
	var count int
	err := db.conn.QueryRow(
		"SELECT COUNT(*) FROM policies WHERE fingerprint = ?", fingerprint,
	).Scan(&count)
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

// InsertPolicy inserts a policy row and returns its ID. The unique index on
// fingerprint backs up the application-level dedup check.
func (db *DB) InsertPolicy(it policy.Item) (int64, error) {
	affected, err := marshalAffected(it.AffectedItems)
	if err != nil {
		return 0, err
	}

	result, err := db.conn.Exec(
		`INSERT INTO policies (fingerprint, title, summary, link, source, published_date,
			category, impact_type, impact_value, old_value, new_value,
			affected_items, ai_description, analyzed)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		it.Fingerprint, it.Title, it.Summary, it.Link, it.Source, it.PublishedDate,
		categoryOrGeneral(it.Category), it.ImpactType, it.ImpactValue, it.OldValue, it.NewValue,
		affected, it.AIDescription, boolToInt(it.Analyzed),
	)
	if err != nil {
		return 0, err
	}
	return result.LastInsertId()
}

// UpdateAnalysis overwrites the enrichment fields of an existing row.
// Used by the retry driver; it never creates rows.
func (db *DB) UpdateAnalysis(id int64, it policy.Item) error {
	affected, err := marshalAffected(it.AffectedItems)
	if err != nil {
		return err
	}

	_, err = db.conn.Exec(
		`UPDATE policies SET category = ?, impact_type = ?, impact_value = ?,
			old_value = ?, new_value = ?, affected_items = ?, ai_description = ?, analyzed = ?
		WHERE id = ?`,
		categoryOrGeneral(it.Category), it.ImpactType, it.ImpactValue,
		it.OldValue, it.NewValue, affected, it.AIDescription, boolToInt(it.Analyzed), id,
	)
	return err
}

// Policies returns rows matching the filter, newest first.
func (db *DB) Policies(f ListFilter) ([]policy.Item, error) {
	query := selectColumns + " FROM policies WHERE 1=1"
	var args []any
	if f.Category != "" {
		query += " AND category = ?"
		args = append(args, f.Category)
	}
	if f.Analyzed != nil {
		query += " AND analyzed = ?"
		args = append(args, boolToInt(*f.Analyzed))
	}

	limit := f.Limit
	if limit <= 0 {
		limit = 50
	}
	if limit > MaxListLimit {
		limit = MaxListLimit
	}
	query += " ORDER BY created_at DESC, id DESC LIMIT ? OFFSET ?"
	args = append(args, limit, f.Offset)

	rows, err := db.conn.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanPolicies(rows)
}

// UnanalyzedPolicies returns up to limit rows with analyzed = false,
// oldest first so retries converge from the backlog forward.
func (db *DB) UnanalyzedPolicies(limit int) ([]policy.Item, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := db.conn.Query(
		selectColumns+" FROM policies WHERE analyzed = 0 ORDER BY created_at ASC, id ASC LIMIT ?",
		limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanPolicies(rows)
}

// PolicyByID returns a single policy, or nil if absent.
func (db *DB) PolicyByID(id int64) (*policy.Item, error) {
	row := db.conn.QueryRow(selectColumns+" FROM policies WHERE id = ?", id)
	it, err := scanPolicy(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return it, nil
}

// CategoryCounts returns the number of policies per category.
func (db *DB) CategoryCounts() (map[string]int, error) {
	rows, err := db.conn.Query("SELECT category, COUNT(*) FROM policies GROUP BY category")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var cat string
		var n int
		if err := rows.Scan(&cat, &n); err != nil {
			return nil, err
		}
		counts[cat] = n
	}
	return counts, rows.Err()
}

// Stats contains aggregate policy statistics.
type Stats struct {
	TotalPolicies    int
	AnalyzedPolicies int
	Recent24h        int
}

// GetStats returns aggregate counts over the policies table.
func (db *DB) GetStats() (*Stats, error) {
	s := &Stats{}
	if err := db.conn.QueryRow("SELECT COUNT(*) FROM policies").Scan(&s.TotalPolicies); err != nil {
		return nil, err
	}
	if err := db.conn.QueryRow("SELECT COUNT(*) FROM policies WHERE analyzed = 1").Scan(&s.AnalyzedPolicies); err != nil {
		return nil, err
	}
	err := db.conn.QueryRow(
		"SELECT COUNT(*) FROM policies WHERE created_at >= datetime('now', '-1 day')",
	).Scan(&s.Recent24h)
	if err != nil {
		return nil, err
	}
	return s, nil
}

const selectColumns = `SELECT id, fingerprint, title, summary, link, source, published_date,
	category, impact_type, impact_value, old_value, new_value,
	affected_items, ai_description, analyzed, created_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanInto(s rowScanner) (*policy.Item, error) {
	var it policy.Item
	var summary, source, published sql.NullString
	var affected sql.NullString
	var analyzed int

	err := s.Scan(&it.ID, &it.Fingerprint, &it.Title, &summary, &it.Link, &source, &published,
		&it.Category, &it.ImpactType, &it.ImpactValue, &it.OldValue, &it.NewValue,
		&affected, &it.AIDescription, &analyzed, &it.CreatedAt)
	if err != nil {
		return nil, err
	}

	it.Summary = summary.String
	it.Source = source.String
	it.PublishedDate = published.String
	it.Analyzed = analyzed != 0
	if affected.Valid && affected.String != "" {
		if err := json.Unmarshal([]byte(affected.String), &it.AffectedItems); err != nil {
			it.AffectedItems = nil
		}
	}
	return &it, nil
}

func scanPolicies(rows *sql.Rows) ([]policy.Item, error) {
	var items []policy.Item
	for rows.Next() {
		it, err := scanInto(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, *it)
	}
	return items, rows.Err()
}

func scanPolicy(row *sql.Row) (*policy.Item, error) {
	return scanInto(row)
}

func marshalAffected(items []string) (*string, error) {
	if items == nil {
		return nil, nil
	}
	data, err := json.Marshal(items)
	if err != nil {
		return nil, err
	}
	s := string(data)
	return &s, nil
}

func categoryOrGeneral(c string) string {
	if c == "" {
		return "general"
	}
	return c
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

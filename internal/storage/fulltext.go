package storage

import (
	"context"
	"fmt"
	"strings"
	"unicode"

	"github.com/ashita-ai/novaport/internal/model"
)

// SearchDecisionsText returns the decisions matching every term of query,
// best match first. Terms are matched against summary, rationale,
// implementation details and tags. A trailing * makes a term a prefix.
func (db *DB) SearchDecisionsText(ctx context.Context, query string, limit int) ([]model.Decision, error) {
	terms := searchTerms(query)
	if len(terms) == 0 {
		return nil, nil
	}
	if limit <= 0 {
		limit = defaultListLimit
	}

	var (
		stmt string
		args []any
	)
	if db.dialect == DialectPostgres {
		tsq := tsQuery(terms)
		stmt = `SELECT id, timestamp, summary, rationale, implementation_details, tags
		        FROM decisions
		        WHERE search_vector @@ to_tsquery('simple', ?)
		        ORDER BY ts_rank(search_vector, to_tsquery('simple', ?)) DESC, id DESC
		        LIMIT ?`
		args = []any{tsq, tsq, limit}
	} else {
		stmt = `SELECT d.id, d.timestamp, d.summary, d.rationale, d.implementation_details, d.tags
		        FROM decisions_fts JOIN decisions d ON d.id = decisions_fts.rowid
		        WHERE decisions_fts MATCH ?
		        ORDER BY decisions_fts.rank, d.id DESC
		        LIMIT ?`
		args = []any{ftsQuery(terms), limit}
	}

	rows, err := db.db.QueryContext(ctx, db.q(stmt), args...)
	if err != nil {
		return nil, fmt.Errorf("storage: search decisions: %w", err)
	}
	defer rows.Close()

	var out []model.Decision
	for rows.Next() {
		d, err := scanDecision(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// SearchCustomDataText returns the custom data entries whose category, key
// or value match every term of query, best match first. A non-empty
// category restricts the search to that category.
func (db *DB) SearchCustomDataText(ctx context.Context, query, category string, limit int) ([]model.CustomData, error) {
	terms := searchTerms(query)
	if len(terms) == 0 {
		return nil, nil
	}
	if limit <= 0 {
		limit = defaultListLimit
	}

	var (
		stmt string
		args []any
	)
	if db.dialect == DialectPostgres {
		tsq := tsQuery(terms)
		stmt = `SELECT id, timestamp, category, key, value
		        FROM custom_data
		        WHERE search_vector @@ to_tsquery('simple', ?)`
		args = []any{tsq}
		if category != "" {
			stmt += ` AND category = ?`
			args = append(args, category)
		}
		stmt += ` ORDER BY ts_rank(search_vector, to_tsquery('simple', ?)) DESC, id DESC LIMIT ?`
		args = append(args, tsq, limit)
	} else {
		stmt = `SELECT c.id, c.timestamp, c.category, c.key, c.value
		        FROM custom_data_fts JOIN custom_data c ON c.id = custom_data_fts.rowid
		        WHERE custom_data_fts MATCH ?`
		args = []any{ftsQuery(terms)}
		if category != "" {
			stmt += ` AND c.category = ?`
			args = append(args, category)
		}
		stmt += ` ORDER BY custom_data_fts.rank, c.id DESC LIMIT ?`
		args = append(args, limit)
	}

	rows, err := db.db.QueryContext(ctx, db.q(stmt), args...)
	if err != nil {
		return nil, fmt.Errorf("storage: search custom data: %w", err)
	}
	defer rows.Close()

	var out []model.CustomData
	for rows.Next() {
		c, err := scanCustomData(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

var tsQuoter = strings.NewReplacer(`\`, `\\`, "'", "''")

type searchTerm struct {
	text   string
	prefix bool
}

// searchTerms splits free text into terms. Query syntax of either engine is
// not exposed: operators and quotes are treated as plain text. Terms without
// a letter or digit index to nothing and are dropped.
func searchTerms(query string) []searchTerm {
	var out []searchTerm
	for _, f := range strings.Fields(query) {
		prefix := strings.HasSuffix(f, "*")
		f = strings.TrimRight(f, "*")
		if !strings.ContainsFunc(f, isWordRune) {
			continue
		}
		out = append(out, searchTerm{text: f, prefix: prefix})
	}
	return out
}

func isWordRune(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsDigit(r)
}

// ftsQuery renders terms as an FTS5 query: each term a quoted string,
// implicitly ANDed.
func ftsQuery(terms []searchTerm) string {
	parts := make([]string, len(terms))
	for i, t := range terms {
		parts[i] = `"` + strings.ReplaceAll(t.text, `"`, `""`) + `"`
		if t.prefix {
			parts[i] += "*"
		}
	}
	return strings.Join(parts, " ")
}

// tsQuery renders terms as a Postgres tsquery. Each term is quoted so
// tsquery operators in it are literal; a term the parser splits into
// several lexemes matches them in sequence.
func tsQuery(terms []searchTerm) string {
	parts := make([]string, len(terms))
	for i, t := range terms {
		parts[i] = "'" + tsQuoter.Replace(t.text) + "'"
		if t.prefix {
			parts[i] += ":*"
		}
	}
	return strings.Join(parts, " & ")
}

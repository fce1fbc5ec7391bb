package storage

import (
	"context"
	"fmt"
)

// CountListings reports how many listings the relational mirror holds.
func (s *SQLStore) CountListings(ctx context.Context) (int64, error) {
	if s == nil || s.db == nil {
		return 0, fmt.Errorf("sql store not initialised")
	}
	var total int64
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM listings`).Scan(&total); err != nil {
		return 0, fmt.Errorf("count listings: %w", err)
	}
	return total, nil
}

// MissingDeepURLs returns the urls of mirrored listings that still lack deep
// data, oldest first.
func (s *SQLStore) MissingDeepURLs(ctx context.Context) ([]string, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("sql store not initialised")
	}
	rows, err := s.db.QueryContext(ctx, `SELECT url FROM listings WHERE needs_deep ORDER BY scraped_at ASC`)
	if err != nil {
		return nil, fmt.Errorf("list missing deep urls: %w", err)
	}
	defer rows.Close()

	var urls []string
	for rows.Next() {
		var u string
		if err := rows.Scan(&u); err != nil {
			return nil, fmt.Errorf("scan url: %w", err)
		}
		urls = append(urls, u)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return urls, nil
}

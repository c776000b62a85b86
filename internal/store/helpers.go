package store

import (
	"database/sql"
	"fmt"
)

// insertedRow reports whether an insert-or-ignore statement wrote a row.
func insertedRow(result sql.Result) (bool, error) {
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected check failed: %w", err)
	}
	return n > 0, nil
}

func queryKeys(db *sql.DB) ([]string, error) {
	rows, err := db.Query(`SELECT dedup_key FROM case_index`)
	if err != nil {
		return nil, fmt.Errorf("failed to query case keys: %w", err)
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, fmt.Errorf("failed to scan case key: %w", err)
		}
		keys = append(keys, k)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate case keys: %w", err)
	}
	return keys, nil
}

func resetIndex(db *sql.DB) error {
	if _, err := db.Exec(`DELETE FROM case_index`); err != nil {
		return fmt.Errorf("failed to reset case index: %w", err)
	}
	return nil
}

package usage

import (
	"context"
	"database/sql"
	"fmt"
)

// SQLiteReader implements Reader for SQLite databases.
type SQLiteReader struct {
	db *sql.DB
}

// NewSQLiteReader creates a new SQLite usage reader.
func NewSQLiteReader(db *sql.DB) (*SQLiteReader, error) {
	if db == nil {
		return nil, fmt.Errorf("database connection is required")
	}
	return &SQLiteReader{db: db}, nil
}

func (r *SQLiteReader) GetSummary(ctx context.Context, params QueryParams) (*Summary, error) {
	query := `SELECT COUNT(*), COALESCE(SUM(input_tokens), 0), COALESCE(SUM(output_tokens), 0), COALESCE(SUM(cost), 0)
		FROM usage`
	var args []interface{}

	if params.DeviceID != "" {
		query += ` WHERE device_id = ?`
		args = append(args, params.DeviceID)
	}

	summary := &Summary{}
	err := r.db.QueryRowContext(ctx, query, args...).Scan(
		&summary.TotalRequests, &summary.TotalInputTokens, &summary.TotalOutputTokens, &summary.TotalCost,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query usage summary: %w", err)
	}

	return summary, nil
}

func (r *SQLiteReader) GetModelUsage(ctx context.Context, params QueryParams) ([]ModelUsage, error) {
	query := `SELECT model, provider, COUNT(*), COALESCE(SUM(input_tokens), 0), COALESCE(SUM(output_tokens), 0), COALESCE(SUM(cost), 0)
		FROM usage`
	var args []interface{}

	if params.DeviceID != "" {
		query += ` WHERE device_id = ?`
		args = append(args, params.DeviceID)
	}
	query += ` GROUP BY model, provider ORDER BY SUM(cost) DESC`

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query model usage: %w", err)
	}
	defer rows.Close()

	result := make([]ModelUsage, 0)
	for rows.Next() {
		var m ModelUsage
		if err := rows.Scan(&m.Model, &m.Provider, &m.Requests, &m.InputTokens, &m.OutputTokens, &m.Cost); err != nil {
			return nil, fmt.Errorf("failed to scan model usage row: %w", err)
		}
		result = append(result, m)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating model usage rows: %w", err)
	}

	return result, nil
}

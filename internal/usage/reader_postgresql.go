package usage

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgreSQLReader implements Reader for PostgreSQL databases.
type PostgreSQLReader struct {
	pool *pgxpool.Pool
}

// NewPostgreSQLReader creates a new PostgreSQL usage reader.
func NewPostgreSQLReader(pool *pgxpool.Pool) (*PostgreSQLReader, error) {
	if pool == nil {
		return nil, fmt.Errorf("connection pool is required")
	}
	return &PostgreSQLReader{pool: pool}, nil
}

func (r *PostgreSQLReader) GetSummary(ctx context.Context, params QueryParams) (*Summary, error) {
	query := `SELECT COUNT(*), COALESCE(SUM(input_tokens), 0), COALESCE(SUM(output_tokens), 0), COALESCE(SUM(cost), 0)
		FROM usage`
	var args []interface{}

	if params.DeviceID != "" {
		query += ` WHERE device_id = $1`
		args = append(args, params.DeviceID)
	}

	summary := &Summary{}
	err := r.pool.QueryRow(ctx, query, args...).Scan(
		&summary.TotalRequests, &summary.TotalInputTokens, &summary.TotalOutputTokens, &summary.TotalCost,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query usage summary: %w", err)
	}

	return summary, nil
}

func (r *PostgreSQLReader) GetModelUsage(ctx context.Context, params QueryParams) ([]ModelUsage, error) {
	query := `SELECT model, provider, COUNT(*), COALESCE(SUM(input_tokens), 0), COALESCE(SUM(output_tokens), 0), COALESCE(SUM(cost), 0)
		FROM usage`
	var args []interface{}

	if params.DeviceID != "" {
		query += ` WHERE device_id = $1`
		args = append(args, params.DeviceID)
	}
	query += ` GROUP BY model, provider ORDER BY SUM(cost) DESC`

	rows, err := r.pool.Query(ctx, query, args...)
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

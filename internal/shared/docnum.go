package shared

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
)

// RowQuerier is satisfied by pgx pools, connections and transactions.
type RowQuerier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// NextDocNumber issues the next document number for the prefix and month,
// e.g. SO-202608-0007. The per-(prefix, period) counter lives in
// doc_sequences and is claimed with an upsert, so numbers stay unique and
// monotonic under concurrent inserts. Call it inside the transaction that
// inserts the document: on rollback the increment rolls back with it.
func NextDocNumber(ctx context.Context, q RowQuerier, prefix string, at time.Time) (string, error) {
	period := at.Format("200601")
	var seq int64
	err := q.QueryRow(ctx,
		`INSERT INTO doc_sequences (prefix, period, seq)
		 VALUES ($1, $2, 1)
		 ON CONFLICT (prefix, period) DO UPDATE SET seq = doc_sequences.seq + 1
		 RETURNING seq`,
		prefix, period).Scan(&seq)
	if err != nil {
		return "", fmt.Errorf("next doc number %s-%s: %w", prefix, period, err)
	}
	return fmt.Sprintf("%s-%s-%04d", prefix, period, seq), nil
}

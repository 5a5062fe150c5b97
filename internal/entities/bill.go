package entities

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/clustr-io/dataexchange/internal/exchange"
)

// Bill is the all-or-nothing example entity: a single invalid row rejects
// the whole file, since a partially imported billing run is worse than a
// rejected one.
func billDefinition(pool *pgxpool.Pool) exchange.EntityDefinition {
	return exchange.EntityDefinition{
		ContentType: "billing.bill",
		DisplayName: "Bill",
		Attributes:  []string{"reference", "amount", "due_date", "paid"},
		Resolvers: map[string]exchange.AttributeResolver{
			"reference": {
				Name:     "reference",
				Backward: exchange.GenericName("reference", exchange.NameOptions{MaxLength: 50}),
				Forward:  exchange.ForwardString,
			},
			"amount": {
				Name:     "amount",
				Backward: exchange.Decimal("amount", exchange.DecimalOptions{}),
				Forward:  exchange.ForwardDecimal(2),
			},
			"due_date": {
				Name:     "due_date",
				Backward: exchange.DateFromString("due_date"),
				Forward:  exchange.ForwardDate,
			},
			"paid": {
				Name:     "paid",
				Backward: exchange.BooleanFromString("paid"),
				Forward:  exchange.ForwardBool,
			},
		},
		Persister:    &billPersister{pool: pool},
		Queries:      &billQueries{pool: pool},
		AllowPartial: false,
	}
}

type billPersister struct {
	pool *pgxpool.Pool
}

func (p *billPersister) Save(ctx context.Context, rows map[int]exchange.ValidatedRow, upsert bool) ([]string, []map[string]any, error) {
	query := `
		INSERT INTO bills (id, reference, amount, due_date, paid)
		VALUES ($1, $2, $3, $4, COALESCE($5, FALSE))
		RETURNING id`
	if upsert {
		query = `
		INSERT INTO bills (id, reference, amount, due_date, paid)
		VALUES ($1, $2, $3, $4, COALESCE($5, FALSE))
		ON CONFLICT (reference) DO UPDATE SET
			amount = EXCLUDED.amount,
			due_date = COALESCE(EXCLUDED.due_date, bills.due_date),
			paid = EXCLUDED.paid,
			updated_at = now()
		RETURNING id`
	}

	numbers := sortedRowNumbers(rows)
	batch := &pgx.Batch{}
	for _, n := range numbers {
		row := rows[n]
		batch.Queue(query,
			uuid.New(),
			stringAttr(row, "reference"),
			decimalAttr(row, "amount"),
			timeAttr(row, "due_date"),
			boolAttr(row, "paid"),
		)
	}

	results := p.pool.SendBatch(ctx, batch)
	defer results.Close()

	ids := make([]string, 0, len(numbers))
	data := make([]map[string]any, 0, len(numbers))
	for _, n := range numbers {
		var id uuid.UUID
		if err := results.QueryRow().Scan(&id); err != nil {
			return nil, nil, fmt.Errorf("saving bill from row %d: %w", n, err)
		}
		ids = append(ids, id.String())
		record := make(map[string]any, len(rows[n]))
		for k, v := range rows[n] {
			record[k] = v
		}
		record["id"] = id.String()
		data = append(data, record)
	}
	return ids, data, nil
}

func decimalAttr(row exchange.ValidatedRow, name string) *decimal.Decimal {
	v, ok := row[name]
	if !ok {
		return nil
	}
	d, ok := v.(decimal.Decimal)
	if !ok {
		return nil
	}
	return &d
}

type billQueries struct {
	pool *pgxpool.Pool
}

func (q *billQueries) Fetch(ctx context.Context, desc exchange.QueryDescription) ([]map[string]any, error) {
	sql := `SELECT id, reference, amount, due_date, paid FROM bills`
	var args []any
	if len(desc.IDs) > 0 {
		sql += ` WHERE id = ANY($1)`
		args = append(args, desc.IDs)
	}
	sql += ` ORDER BY ` + billOrder(desc.OrderBy)

	rows, err := q.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("fetching bills: %w", err)
	}
	defer rows.Close()

	var result []map[string]any
	for rows.Next() {
		var (
			id        uuid.UUID
			reference string
			amount    decimal.Decimal
			dueDate   *time.Time
			paid      bool
		)
		if err := rows.Scan(&id, &reference, &amount, &dueDate, &paid); err != nil {
			return nil, fmt.Errorf("scanning bill: %w", err)
		}
		record := map[string]any{
			"id":        id.String(),
			"reference": reference,
			"amount":    amount,
			"paid":      paid,
		}
		if dueDate != nil {
			record["due_date"] = *dueDate
		}
		result = append(result, record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("fetching bills: %w", err)
	}
	return result, nil
}

func (q *billQueries) Count(ctx context.Context, desc exchange.QueryDescription) (int, error) {
	sql := `SELECT count(*) FROM bills`
	var args []any
	if len(desc.IDs) > 0 {
		sql += ` WHERE id = ANY($1)`
		args = append(args, desc.IDs)
	}
	var count int
	if err := q.pool.QueryRow(ctx, sql, args...).Scan(&count); err != nil {
		return 0, fmt.Errorf("counting bills: %w", err)
	}
	return count, nil
}

func billOrder(orderBy string) string {
	switch orderBy {
	case "due_date":
		return "due_date ASC"
	case "amount":
		return "amount DESC"
	default:
		return "created_at DESC"
	}
}

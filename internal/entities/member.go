package entities

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/clustr-io/dataexchange/internal/exchange"
)

// Member is the partial-success example entity: rows that validate are
// imported even when other rows in the file fail. Its natural key is the
// email address.
func memberDefinition(pool *pgxpool.Pool) exchange.EntityDefinition {
	return exchange.EntityDefinition{
		ContentType: "members.member",
		DisplayName: "Member",
		Attributes:  []string{"full_name", "email_address", "phone_number", "joined_date", "is_active"},
		Resolvers: map[string]exchange.AttributeResolver{
			"full_name": {
				Name:     "full_name",
				Backward: exchange.GenericName("full_name", exchange.NameOptions{}),
				Forward:  exchange.ForwardString,
			},
			"email_address": {
				Name:     "email_address",
				Backward: exchange.EmailAddress("email_address", exchange.EmailOptions{}),
				Forward:  exchange.ForwardString,
			},
			"phone_number": {
				Name:     "phone_number",
				Backward: exchange.PhoneNumber("phone_number", exchange.PhoneOptions{}),
				Forward:  exchange.ForwardString,
			},
			"joined_date": {
				Name:     "joined_date",
				Backward: exchange.DateFromString("joined_date"),
				Forward:  exchange.ForwardDate,
			},
			"is_active": {
				Name:     "is_active",
				Backward: exchange.BooleanFromString("is_active"),
				Forward:  exchange.ForwardBool,
			},
		},
		Persister:    &memberPersister{pool: pool},
		Queries:      &memberQueries{pool: pool},
		Duplicates:   exchange.DuplicateCheckerFunc(checkMemberEmailDuplicates),
		AllowPartial: true,
	}
}

// checkMemberEmailDuplicates flags rows whose email address already
// appeared earlier in the same batch. The first occurrence wins.
func checkMemberEmailDuplicates(_ context.Context, rows map[int]exchange.ValidatedRow) []exchange.RowError {
	seen := make(map[string]bool, len(rows))
	var errs []exchange.RowError
	for _, n := range sortedRowNumbers(rows) {
		email := stringAttr(rows[n], "email_address")
		if email == nil {
			continue
		}
		if seen[*email] {
			errs = append(errs, exchange.RowError{
				RowNumber:   n,
				Description: "email_address: Duplicate email address in file",
			})
			continue
		}
		seen[*email] = true
	}
	return errs
}

type memberPersister struct {
	pool *pgxpool.Pool
}

func (p *memberPersister) Save(ctx context.Context, rows map[int]exchange.ValidatedRow, upsert bool) ([]string, []map[string]any, error) {
	query := `
		INSERT INTO members (id, full_name, email_address, phone_number, joined_date, is_active)
		VALUES ($1, $2, $3, $4, $5, COALESCE($6, TRUE))
		RETURNING id`
	if upsert {
		query = `
		INSERT INTO members (id, full_name, email_address, phone_number, joined_date, is_active)
		VALUES ($1, $2, $3, $4, $5, COALESCE($6, TRUE))
		ON CONFLICT (email_address) DO UPDATE SET
			full_name = EXCLUDED.full_name,
			phone_number = EXCLUDED.phone_number,
			joined_date = COALESCE(EXCLUDED.joined_date, members.joined_date),
			is_active = EXCLUDED.is_active,
			updated_at = now()
		RETURNING id`
	}

	numbers := sortedRowNumbers(rows)
	batch := &pgx.Batch{}
	for _, n := range numbers {
		row := rows[n]
		batch.Queue(query,
			uuid.New(),
			stringAttr(row, "full_name"),
			stringAttr(row, "email_address"),
			stringAttr(row, "phone_number"),
			timeAttr(row, "joined_date"),
			boolAttr(row, "is_active"),
		)
	}

	results := p.pool.SendBatch(ctx, batch)
	defer results.Close()

	ids := make([]string, 0, len(numbers))
	data := make([]map[string]any, 0, len(numbers))
	for _, n := range numbers {
		var id uuid.UUID
		if err := results.QueryRow().Scan(&id); err != nil {
			return nil, nil, fmt.Errorf("saving member from row %d: %w", n, err)
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

type memberQueries struct {
	pool *pgxpool.Pool
}

const memberSelect = `
	SELECT id, full_name, email_address, phone_number, joined_date, is_active
	FROM members`

func (q *memberQueries) Fetch(ctx context.Context, desc exchange.QueryDescription) ([]map[string]any, error) {
	sql := memberSelect
	var args []any
	if len(desc.IDs) > 0 {
		sql += ` WHERE id = ANY($1)`
		args = append(args, desc.IDs)
	}
	sql += ` ORDER BY ` + memberOrder(desc.OrderBy)

	rows, err := q.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("fetching members: %w", err)
	}
	defer rows.Close()

	var result []map[string]any
	for rows.Next() {
		var (
			id       uuid.UUID
			fullName string
			email    string
			phone    *string
			joined   *time.Time
			isActive bool
		)
		if err := rows.Scan(&id, &fullName, &email, &phone, &joined, &isActive); err != nil {
			return nil, fmt.Errorf("scanning member: %w", err)
		}
		record := map[string]any{
			"id":            id.String(),
			"full_name":     fullName,
			"email_address": email,
			"is_active":     isActive,
		}
		if phone != nil {
			record["phone_number"] = *phone
		}
		if joined != nil {
			record["joined_date"] = *joined
		}
		result = append(result, record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("fetching members: %w", err)
	}
	return result, nil
}

func (q *memberQueries) Count(ctx context.Context, desc exchange.QueryDescription) (int, error) {
	sql := `SELECT count(*) FROM members`
	var args []any
	if len(desc.IDs) > 0 {
		sql += ` WHERE id = ANY($1)`
		args = append(args, desc.IDs)
	}
	var count int
	if err := q.pool.QueryRow(ctx, sql, args...).Scan(&count); err != nil {
		return 0, fmt.Errorf("counting members: %w", err)
	}
	return count, nil
}

// memberOrder maps a requested ordering onto a safe column expression.
func memberOrder(orderBy string) string {
	switch orderBy {
	case "full_name":
		return "full_name ASC"
	case "email_address":
		return "email_address ASC"
	default:
		return "created_at DESC"
	}
}

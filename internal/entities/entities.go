// Package entities holds the entity definitions the engine can import and
// export. Each definition binds attribute resolvers to a Postgres
// persistence adapter and declares the entity's batch policy.
package entities

import (
	"sort"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/clustr-io/dataexchange/internal/exchange"
)

// RegisterAll registers every built-in entity against the engine registry.
// Called once at startup, after the database pool exists.
func RegisterAll(pool *pgxpool.Pool) {
	exchange.Register(memberDefinition(pool))
	exchange.Register(billDefinition(pool))
}

func sortedRowNumbers(rows map[int]exchange.ValidatedRow) []int {
	numbers := make([]int, 0, len(rows))
	for n := range rows {
		numbers = append(numbers, n)
	}
	sort.Ints(numbers)
	return numbers
}

func stringAttr(row exchange.ValidatedRow, name string) *string {
	v, ok := row[name]
	if !ok {
		return nil
	}
	s, ok := v.(string)
	if !ok {
		return nil
	}
	return &s
}

func timeAttr(row exchange.ValidatedRow, name string) *time.Time {
	v, ok := row[name]
	if !ok {
		return nil
	}
	t, ok := v.(time.Time)
	if !ok {
		return nil
	}
	return &t
}

func boolAttr(row exchange.ValidatedRow, name string) *bool {
	v, ok := row[name]
	if !ok {
		return nil
	}
	b, ok := v.(bool)
	if !ok {
		return nil
	}
	return &b
}

package exchange

import (
	"fmt"
	"sort"
	"sync"
)

// EntityDefinition describes one importable/exportable entity type: its
// attribute resolvers, its persistence hooks, and its batch policy. Entity
// packages build one of these and hand it to Register, typically from an
// init func so importing the package is enough to enable the entity.
type EntityDefinition struct {
	// ContentType identifies the entity in requests and task records, e.g.
	// "members.member".
	ContentType string
	// DisplayName is the human-readable name used in export file names and
	// import templates.
	DisplayName string
	// Attributes fixes the column order for export headers and import
	// templates. Every name must have a resolver.
	Attributes []string
	// Resolvers is keyed by attribute name.
	Resolvers map[string]AttributeResolver
	// Persister saves validated rows. Required for import.
	Persister Persister
	// Queries materializes export record sets. Required for export.
	Queries QueryRepository
	// Duplicates, when set, runs batch-level checks after a clean
	// attribute validation pass.
	Duplicates DuplicateChecker
	// AllowPartial controls the batch policy: when true, valid rows are
	// persisted even if other rows failed; when false, any row error fails
	// the whole batch before anything is saved.
	AllowPartial bool
}

// ValidateMapping checks that every attribute the mapping targets is one the
// entity defines. Unknown attributes are a structural error, not a row error.
func (d EntityDefinition) ValidateMapping(mapping ColumnMapping) error {
	for _, attribute := range mapping {
		if _, ok := d.Resolvers[attribute]; !ok {
			return importErrorf("unknown attribute %q for entity %q", attribute, d.ContentType)
		}
	}
	return nil
}

var (
	entities   = make(map[string]EntityDefinition)
	entitiesMu sync.RWMutex
)

// Register adds an entity definition to the registry.
// Panics if the content type is already registered or the definition is
// internally inconsistent, since both are programmer errors at startup.
func Register(def EntityDefinition) {
	entitiesMu.Lock()
	defer entitiesMu.Unlock()

	if def.ContentType == "" {
		panic("entity definition missing content type")
	}
	if _, exists := entities[def.ContentType]; exists {
		panic(fmt.Sprintf("entity already registered: %s", def.ContentType))
	}
	for _, attribute := range def.Attributes {
		if _, ok := def.Resolvers[attribute]; !ok {
			panic(fmt.Sprintf("entity %s: attribute %q has no resolver", def.ContentType, attribute))
		}
	}

	entities[def.ContentType] = def
}

// Lookup returns an entity definition by content type.
// Returns false if not found.
func Lookup(contentType string) (EntityDefinition, bool) {
	entitiesMu.RLock()
	defer entitiesMu.RUnlock()

	def, ok := entities[contentType]
	return def, ok
}

// Entities returns all registered definitions, sorted by content type for
// consistent ordering.
func Entities() []EntityDefinition {
	entitiesMu.RLock()
	defer entitiesMu.RUnlock()

	result := make([]EntityDefinition, 0, len(entities))
	for _, def := range entities {
		result = append(result, def)
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].ContentType < result[j].ContentType
	})
	return result
}

// ClearRegistry removes all registered entities.
// Primarily useful for testing.
func ClearRegistry() {
	entitiesMu.Lock()
	defer entitiesMu.Unlock()
	entities = make(map[string]EntityDefinition)
}

package reconcile

import (
	"context"
	"errors"

	"github.com/lenmed/importer/internal/store"
)

// DefaultBatchSize is the number of doctors or links sent per insert.
const DefaultBatchSize = 50

// Stage names one step of the fallback chain.
type Stage string

const (
	// StageBulkInsert inserts every hospital in one atomic call.
	StageBulkInsert Stage = "bulk_insert"
	// StageFullRefetch lists the whole hospitals table after a failed bulk insert.
	StageFullRefetch Stage = "full_refetch"
	// StageSafetyRefetch lists a table once more when the id map is still short.
	StageSafetyRefetch Stage = "safety_refetch"
	// StageBatchInsert inserts doctors or links BatchSize rows at a time.
	StageBatchInsert Stage = "batch_insert"
	// StageRowInsert retries the rows of a failed batch one by one.
	StageRowInsert Stage = "row_insert"
	// StageKeyLookup recovers the id of a doctor whose row insert failed.
	StageKeyLookup Stage = "key_lookup"
	// StageLinkPrefetch lists stored links so only new pairs are batched.
	StageLinkPrefetch Stage = "link_prefetch"
)

// Entity names the table a stage worked on.
type Entity string

const (
	EntityHospitals Entity = "hospitals"
	EntityDoctors   Entity = "doctors"
	EntityLinks     Entity = "links"
)

// Policy selects which fallback stages run. A disabled stage is skipped and
// the rows it would have recovered are counted as failed.
type Policy struct {
	BatchSize int

	FullRefetch   bool
	SafetyRefetch bool
	RowInsert     bool
	KeyLookup     bool
	LinkPrefetch  bool
}

// DefaultPolicy enables every stage with batches of DefaultBatchSize.
func DefaultPolicy() Policy {
	return Policy{
		BatchSize:     DefaultBatchSize,
		FullRefetch:   true,
		SafetyRefetch: true,
		RowInsert:     true,
		KeyLookup:     true,
		LinkPrefetch:  true,
	}
}

func (p Policy) batchSize() int {
	if p.BatchSize <= 0 {
		return DefaultBatchSize
	}
	return p.BatchSize
}

// StageResult is the outcome of one stage invocation.
type StageResult struct {
	Stage     Stage
	Entity    Entity
	Attempted int
	Succeeded int
	Reason    string
	Err       error
}

// reason gives a short label for err suitable for logs and reports.
func reason(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, store.ErrDuplicate):
		return "duplicate"
	case errors.Is(err, store.ErrReference):
		return "missing reference"
	case errors.Is(err, store.ErrNotFound):
		return "not found"
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.Is(err, context.Canceled):
		return "cancelled"
	default:
		return "error"
	}
}

// chunk splits items into slices of at most size elements.
func chunk[T any](items []T, size int) [][]T {
	var out [][]T
	for start := 0; start < len(items); start += size {
		out = append(out, items[start:min(start+size, len(items))])
	}
	return out
}

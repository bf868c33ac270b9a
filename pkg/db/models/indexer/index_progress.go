package indexer

import "time"

const IndexProgressTableName = "index_progress"

var IndexProgressColumns = []ColumnDef{
	{Name: "height", Type: "UInt64"},
	{Name: "events", Type: "UInt32"},
	{Name: "verified", Type: "UInt32"},
	{Name: "violations", Type: "UInt32"},
	{Name: "indexed_at", Type: "DateTime64(6)"},
	{Name: "indexing_time_ms", Type: "Float64"},
}

// IndexProgress is one row per indexed height.
type IndexProgress struct {
	Height         uint64    `ch:"height"`
	Events         uint32    `ch:"events"`
	Verified       uint32    `ch:"verified"`
	Violations     uint32    `ch:"violations"`
	IndexedAt      time.Time `ch:"indexed_at"`
	IndexingTimeMs float64   `ch:"indexing_time_ms"` // Total processing time of the height in milliseconds
}

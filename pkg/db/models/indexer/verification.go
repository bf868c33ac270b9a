package indexer

import (
	"time"

	"github.com/composable-labs/pablox/pkg/oracle"
	"github.com/composable-labs/pablox/pkg/utils"
)

const VerificationsTableName = "verifications"

// VerificationColumns defines the schema for the verifications table. Expected, reported and
// deviation are kept as strings since ratio deviations are fractional.
var VerificationColumns = []ColumnDef{
	{Name: "pool_id", Type: "UInt64"},
	{Name: "height", Type: "UInt64", Codec: "Delta, ZSTD(3)"},
	{Name: "event_index", Type: "UInt32"},
	{Name: "kind", Type: "LowCardinality(String)"},
	{Name: "ok", Type: "UInt8"},
	{Name: "field", Type: "LowCardinality(String)"},
	{Name: "expected", Type: "String"},
	{Name: "reported", Type: "String"},
	{Name: "deviation", Type: "String"},
	{Name: "reason", Type: "String", Codec: "ZSTD(1)"},
	{Name: "verified_at", Type: "DateTime64(6)"},
}

type Verification struct {
	PoolID     uint64    `ch:"pool_id" json:"poolId"`
	Height     uint64    `ch:"height" json:"height"`
	EventIndex uint32    `ch:"event_index" json:"index"`
	Kind       string    `ch:"kind" json:"kind"`
	OK         uint8     `ch:"ok" json:"ok"`
	Field      string    `ch:"field" json:"field,omitempty"`
	Expected   string    `ch:"expected" json:"expected"`
	Reported   string    `ch:"reported" json:"reported"`
	Deviation  string    `ch:"deviation" json:"deviation"`
	Reason     string    `ch:"reason" json:"reason,omitempty"`
	VerifiedAt time.Time `ch:"verified_at" json:"verifiedAt"`
}

func NewVerification(v oracle.Verdict, verifiedAt time.Time) *Verification {
	return &Verification{
		PoolID:     v.PoolID,
		Height:     v.Height,
		EventIndex: v.Index,
		Kind:       string(v.Kind),
		OK:         utils.BoolToUInt8(v.OK),
		Field:      v.Field,
		Expected:   v.Expected.String(),
		Reported:   v.Reported.String(),
		Deviation:  v.Deviation.String(),
		Reason:     v.Reason,
		VerifiedAt: verifiedAt,
	}
}

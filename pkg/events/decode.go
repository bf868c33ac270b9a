package events

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/composable-labs/pablox/pkg/amm"
	"github.com/shopspring/decimal"
)

// detectKind normalizes event names, accepting "Swapped", "swapped" and "pablo.Swapped".
func detectKind(name string) (Kind, bool) {
	normalized := strings.ToLower(strings.TrimSpace(name))
	if i := strings.LastIndexByte(normalized, '.'); i >= 0 {
		normalized = normalized[i+1:]
	}
	switch normalized {
	case "poolcreated", "pool_created":
		return KindPoolCreated, true
	case "swapped":
		return KindSwapped, true
	case "liquidityadded", "liquidity_added":
		return KindLiquidityAdded, true
	case "liquidityremoved", "liquidity_removed":
		return KindLiquidityRemoved, true
	case "pooldeleted", "pool_deleted":
		return KindPoolDeleted, true
	}
	return "", false
}

// Decode resolves the payload layout from raw.SpecVersion and returns the domain event.
func Decode(raw RawEvent) (Event, error) {
	kind, ok := detectKind(raw.Name)
	if !ok {
		return Event{}, fmt.Errorf("%q at %d/%d: %w", raw.Name, raw.Height, raw.Index, ErrUnknownEvent)
	}
	ev := Event{
		Kind:   kind,
		Height: raw.Height,
		Index:  raw.Index,
		Legacy: raw.SpecVersion < CurrentLayoutVersion,
	}

	var err error
	switch kind {
	case KindPoolCreated:
		if ev.Legacy {
			err = decodeInto(raw.Data, &ev, legacyPoolCreated{})
		} else {
			err = decodeInto(raw.Data, &ev, poolCreatedV2401{})
		}
	case KindSwapped:
		if ev.Legacy {
			err = decodeInto(raw.Data, &ev, legacySwapped{})
		} else {
			err = decodeInto(raw.Data, &ev, swappedV2401{})
		}
	case KindLiquidityAdded:
		if ev.Legacy {
			err = decodeInto(raw.Data, &ev, legacyLiquidityAdded{})
		} else {
			err = decodeInto(raw.Data, &ev, liquidityAddedV2401{})
		}
	case KindLiquidityRemoved:
		if ev.Legacy {
			err = decodeInto(raw.Data, &ev, legacyLiquidityRemoved{})
		} else {
			err = decodeInto(raw.Data, &ev, liquidityRemovedV2401{})
		}
	case KindPoolDeleted:
		if !ev.Legacy {
			return Event{}, fmt.Errorf("%s in spec version %d: %w", kind, raw.SpecVersion, ErrUnknownEvent)
		}
		err = decodeInto(raw.Data, &ev, legacyPoolDeleted{})
	}
	if err != nil {
		return Event{}, fmt.Errorf("decode %s v%d at %d/%d: %w", kind, raw.SpecVersion, raw.Height, raw.Index, err)
	}
	return ev, nil
}

// layout is one on-chain payload shape.
type layout interface {
	fill(ev *Event) error
}

// decodeInto unmarshals data into a fresh value of the same layout type as proto and fills ev from it.
func decodeInto[L layout](data json.RawMessage, ev *Event, proto L) error {
	if len(data) == 0 {
		return fmt.Errorf("%w: empty", ErrMalformedEvent)
	}
	if err := json.Unmarshal(data, &proto); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}
	return proto.fill(ev)
}

func nonNegative[K comparable](fields map[K]decimal.Decimal) error {
	for name, v := range fields {
		if v.IsNegative() {
			return fmt.Errorf("%w: negative %v %s", ErrMalformedEvent, name, v)
		}
	}
	return nil
}

// Legacy layouts (spec version < 2401).

type legacyPair struct {
	Base  amm.AssetID `json:"base"`
	Quote amm.AssetID `json:"quote"`
}

// legacyPoolCreated pools are always 50/50 and send no protocol fee.
type legacyPoolCreated struct {
	PoolID uint64          `json:"poolId"`
	Owner  string          `json:"owner"`
	Pair   legacyPair      `json:"pair"`
	Fee    decimal.Decimal `json:"fee"`
}

func (l legacyPoolCreated) fill(ev *Event) error {
	fee := amm.FeeConfig{FeeRate: l.Fee, ProtocolShare: decimal.Zero}
	if err := fee.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}
	half := decimal.New(5, -1)
	ev.PoolID = l.PoolID
	ev.Account = l.Owner
	ev.PoolCreated = &PoolCreated{Pool: amm.Pool{
		ID:           l.PoolID,
		Owner:        l.Owner,
		BaseAsset:    l.Pair.Base,
		QuoteAsset:   l.Pair.Quote,
		BaseBalance:  decimal.Zero,
		QuoteBalance: decimal.Zero,
		BaseWeight:   half,
		QuoteWeight:  half,
		Fee:          fee,
		LPSupply:     decimal.Zero,
	}}
	return nil
}

// legacySwapped reports the trade from the pair's point of view: quote paid in, base paid out.
type legacySwapped struct {
	PoolID      uint64          `json:"poolId"`
	Who         string          `json:"who"`
	BaseAsset   amm.AssetID     `json:"baseAsset"`
	QuoteAsset  amm.AssetID     `json:"quoteAsset"`
	BaseAmount  decimal.Decimal `json:"baseAmount"`
	QuoteAmount decimal.Decimal `json:"quoteAmount"`
	Fee         decimal.Decimal `json:"fee"`
}

func (l legacySwapped) fill(ev *Event) error {
	if err := nonNegative(map[string]decimal.Decimal{
		"baseAmount": l.BaseAmount, "quoteAmount": l.QuoteAmount, "fee": l.Fee,
	}); err != nil {
		return err
	}
	ev.PoolID = l.PoolID
	ev.Account = l.Who
	ev.Swapped = &Swapped{
		AssetIn:   l.QuoteAsset,
		AssetOut:  l.BaseAsset,
		AmountIn:  l.QuoteAmount,
		AmountOut: l.BaseAmount,
		Fee:       amm.FeeBreakdown{Total: l.Fee, LP: l.Fee, Protocol: decimal.Zero},
		FeeAsset:  l.QuoteAsset,
	}
	return nil
}

type legacyLiquidityAdded struct {
	PoolID      uint64          `json:"poolId"`
	Who         string          `json:"who"`
	BaseAmount  decimal.Decimal `json:"baseAmount"`
	QuoteAmount decimal.Decimal `json:"quoteAmount"`
	MintedLP    decimal.Decimal `json:"mintedLp"`
}

func (l legacyLiquidityAdded) fill(ev *Event) error {
	if err := nonNegative(map[string]decimal.Decimal{
		"baseAmount": l.BaseAmount, "quoteAmount": l.QuoteAmount, "mintedLp": l.MintedLP,
	}); err != nil {
		return err
	}
	ev.PoolID = l.PoolID
	ev.Account = l.Who
	ev.LiquidityAdded = &LiquidityAdded{
		PairAmounts: PairAmounts{BaseAmount: l.BaseAmount, QuoteAmount: l.QuoteAmount},
		MintedLP:    l.MintedLP,
	}
	return nil
}

type legacyLiquidityRemoved struct {
	PoolID      uint64          `json:"poolId"`
	Who         string          `json:"who"`
	BaseAmount  decimal.Decimal `json:"baseAmount"`
	QuoteAmount decimal.Decimal `json:"quoteAmount"`
	BurnedLP    decimal.Decimal `json:"burnedLp"`
}

func (l legacyLiquidityRemoved) fill(ev *Event) error {
	if err := nonNegative(map[string]decimal.Decimal{
		"baseAmount": l.BaseAmount, "quoteAmount": l.QuoteAmount, "burnedLp": l.BurnedLP,
	}); err != nil {
		return err
	}
	ev.PoolID = l.PoolID
	ev.Account = l.Who
	ev.LiquidityRemoved = &LiquidityRemoved{
		PairAmounts: PairAmounts{BaseAmount: l.BaseAmount, QuoteAmount: l.QuoteAmount},
		BurnedLP:    l.BurnedLP,
	}
	return nil
}

type legacyPoolDeleted struct {
	PoolID      uint64          `json:"poolId"`
	BaseAmount  decimal.Decimal `json:"baseAmount"`
	QuoteAmount decimal.Decimal `json:"quoteAmount"`
}

func (l legacyPoolDeleted) fill(ev *Event) error {
	ev.PoolID = l.PoolID
	ev.PoolDeleted = &PoolDeleted{BaseAmount: l.BaseAmount, QuoteAmount: l.QuoteAmount}
	return nil
}

// Current layouts (spec version >= 2401).

type poolCreatedV2401 struct {
	PoolID        uint64          `json:"poolId"`
	Owner         string          `json:"owner"`
	BaseAsset     amm.AssetID     `json:"baseAsset"`
	QuoteAsset    amm.AssetID     `json:"quoteAsset"`
	BaseWeight    decimal.Decimal `json:"baseWeight"`
	QuoteWeight   decimal.Decimal `json:"quoteWeight"`
	FeeRate       decimal.Decimal `json:"feeRate"`
	ProtocolShare decimal.Decimal `json:"protocolShare"`
}

func (l poolCreatedV2401) fill(ev *Event) error {
	wb, wq, err := amm.NormalizeWeights(l.BaseWeight, l.QuoteWeight)
	if err != nil {
		return err
	}
	fee := amm.FeeConfig{FeeRate: l.FeeRate, ProtocolShare: l.ProtocolShare}
	if err := fee.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}
	ev.PoolID = l.PoolID
	ev.Account = l.Owner
	ev.PoolCreated = &PoolCreated{Pool: amm.Pool{
		ID:           l.PoolID,
		Owner:        l.Owner,
		BaseAsset:    l.BaseAsset,
		QuoteAsset:   l.QuoteAsset,
		BaseBalance:  decimal.Zero,
		QuoteBalance: decimal.Zero,
		BaseWeight:   wb,
		QuoteWeight:  wq,
		Fee:          fee,
		LPSupply:     decimal.Zero,
	}}
	return nil
}

type feeV2401 struct {
	Fee         decimal.Decimal `json:"fee"`
	LPFee       decimal.Decimal `json:"lpFee"`
	ProtocolFee decimal.Decimal `json:"protocolFee"`
	AssetID     amm.AssetID     `json:"assetId"`
}

type swappedV2401 struct {
	PoolID    uint64          `json:"poolId"`
	Who       string          `json:"who"`
	AssetIn   amm.AssetID     `json:"assetIn"`
	AssetOut  amm.AssetID     `json:"assetOut"`
	AmountIn  decimal.Decimal `json:"amountIn"`
	AmountOut decimal.Decimal `json:"amountOut"`
	Fee       feeV2401        `json:"fee"`
	Direction string          `json:"direction"`
}

func (l swappedV2401) fill(ev *Event) error {
	if err := nonNegative(map[string]decimal.Decimal{
		"amountIn": l.AmountIn, "amountOut": l.AmountOut,
		"fee": l.Fee.Fee, "lpFee": l.Fee.LPFee, "protocolFee": l.Fee.ProtocolFee,
	}); err != nil {
		return err
	}
	var dir amm.Direction
	if l.Direction != "" {
		d, err := amm.ParseDirection(l.Direction)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrMalformedEvent, err)
		}
		dir = d
	}
	feeAsset := l.Fee.AssetID
	if feeAsset == 0 {
		feeAsset = l.AssetIn
	}
	ev.PoolID = l.PoolID
	ev.Account = l.Who
	ev.Swapped = &Swapped{
		AssetIn:   l.AssetIn,
		AssetOut:  l.AssetOut,
		AmountIn:  l.AmountIn,
		AmountOut: l.AmountOut,
		Fee:       amm.FeeBreakdown{Total: l.Fee.Fee, LP: l.Fee.LPFee, Protocol: l.Fee.ProtocolFee},
		FeeAsset:  feeAsset,
		FeeSplit:  true,
		Direction: dir,
	}
	return nil
}

type liquidityAddedV2401 struct {
	PoolID   uint64                          `json:"poolId"`
	Who      string                          `json:"who"`
	Assets   map[amm.AssetID]decimal.Decimal `json:"assets"`
	MintedLP decimal.Decimal                 `json:"mintedLp"`
}

func (l liquidityAddedV2401) fill(ev *Event) error {
	if len(l.Assets) != 2 {
		return fmt.Errorf("%w: %d assets", ErrMalformedEvent, len(l.Assets))
	}
	if err := nonNegative(l.Assets); err != nil {
		return err
	}
	if l.MintedLP.IsNegative() {
		return fmt.Errorf("%w: negative mintedLp %s", ErrMalformedEvent, l.MintedLP)
	}
	ev.PoolID = l.PoolID
	ev.Account = l.Who
	ev.LiquidityAdded = &LiquidityAdded{PairAmounts: PairAmounts{ByAsset: l.Assets}, MintedLP: l.MintedLP}
	return nil
}

type liquidityRemovedV2401 struct {
	PoolID   uint64                          `json:"poolId"`
	Who      string                          `json:"who"`
	Assets   map[amm.AssetID]decimal.Decimal `json:"assets"`
	BurnedLP decimal.Decimal                 `json:"burnedLp"`
}

func (l liquidityRemovedV2401) fill(ev *Event) error {
	if len(l.Assets) != 2 {
		return fmt.Errorf("%w: %d assets", ErrMalformedEvent, len(l.Assets))
	}
	if err := nonNegative(l.Assets); err != nil {
		return err
	}
	if l.BurnedLP.IsNegative() {
		return fmt.Errorf("%w: negative burnedLp %s", ErrMalformedEvent, l.BurnedLP)
	}
	ev.PoolID = l.PoolID
	ev.Account = l.Who
	ev.LiquidityRemoved = &LiquidityRemoved{PairAmounts: PairAmounts{ByAsset: l.Assets}, BurnedLP: l.BurnedLP}
	return nil
}

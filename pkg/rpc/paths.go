package rpc

// RPC endpoint paths of the DEX query API.
const (
	headPath           = "/v1/query/height"
	eventsByHeightPath = "/v1/query/dex-events"
	poolByIDPath       = "/v1/query/pool"
	poolsPath          = "/v1/query/pools"
)

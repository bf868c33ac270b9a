package rpc

// QueryByHeightRequest is the body of every height-scoped query.
type QueryByHeightRequest map[string]any

func NewQueryByHeightRequest(height uint64) QueryByHeightRequest {
	return QueryByHeightRequest{"height": height}
}

// HeadBlock is the response of the chain head query.
type HeadBlock struct {
	Height uint64 `json:"height"`
}

package redis

import (
	"strconv"
	"strings"
)

const (
	channelPrefix = "pablox:pool:"
	verdictSuffix = ":verified"

	// VerdictPattern matches the verdict channel of every pool.
	VerdictPattern = channelPrefix + "*" + verdictSuffix
	// VerdictStream keeps the latest verdicts of all pools for late subscribers.
	VerdictStream = "pablox:verdicts"
)

// VerdictChannel is the Pub/Sub channel carrying the verdicts of one pool.
func VerdictChannel(poolID uint64) string {
	return channelPrefix + strconv.FormatUint(poolID, 10) + verdictSuffix
}

// PoolIDFromChannel extracts the pool ID of a verdict channel.
func PoolIDFromChannel(channel string) (uint64, bool) {
	if !strings.HasPrefix(channel, channelPrefix) || !strings.HasSuffix(channel, verdictSuffix) {
		return 0, false
	}
	raw := strings.TrimSuffix(strings.TrimPrefix(channel, channelPrefix), verdictSuffix)
	id, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return 0, false
	}
	return id, true
}

// Package cache stores serialized identity views under request keys.
//
// Every implementation is a pure accelerator: callers treat errors as misses
// on read and ignore them on write.
package cache

import (
	"context"
	"strconv"
	"time"
)

// Cache is the result cache contract.
type Cache interface {
	Get(ctx context.Context, key string) (value string, found bool, err error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	// Index records that key holds a view of the cluster anchored at primaryID.
	Index(ctx context.Context, primaryID int64, key string, ttl time.Duration) error
	// Invalidate deletes every key indexed under primaryID.
	Invalidate(ctx context.Context, primaryID int64) error
}

// View and cluster keys live under disjoint prefixes.
const (
	viewKeyPrefix    = "contact:view:"
	clusterKeyPrefix = "contact:cluster:"
)

// ViewKey derives the cache key from the literal request pair. Each field is
// quoted, so separators inside a value cannot shift the field boundary and
// (a, "") and ("", a) stay distinct.
func ViewKey(email, phone string) string {
	return viewKeyPrefix + strconv.Quote(email) + ":" + strconv.Quote(phone)
}

func clusterKey(primaryID int64) string {
	return clusterKeyPrefix + strconv.FormatInt(primaryID, 10)
}

package workspace

import (
	"context"
	"os"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"repath/internal/uripath"
)

// Oracle reports whether a candidate local URI exists as a regular file.
type Oracle interface {
	Exists(ctx context.Context, uri string) bool
}

// FSOracle answers existence checks against the local filesystem.
type FSOracle struct{}

func (FSOracle) Exists(_ context.Context, uri string) bool {
	p := uripath.ToPath(uri)
	if p == "" {
		return false
	}
	info, err := os.Stat(p)
	return err == nil && !info.IsDir()
}

// MemoOracle wraps another oracle with a bounded TTL memo, for hosts whose
// stat calls are expensive. Entries expire, so a file created after a miss
// is seen again once the memo ages out.
type MemoOracle struct {
	inner Oracle
	memo  *expirable.LRU[string, bool]
}

func NewMemoOracle(inner Oracle, size int, ttl time.Duration) *MemoOracle {
	if inner == nil {
		inner = FSOracle{}
	}
	if size <= 0 {
		size = 4096
	}
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &MemoOracle{
		inner: inner,
		memo:  expirable.NewLRU[string, bool](size, nil, ttl),
	}
}

func (m *MemoOracle) Exists(ctx context.Context, uri string) bool {
	if m == nil {
		return false
	}
	key := uripath.NormalizeLocal(uri)
	if v, ok := m.memo.Get(key); ok {
		return v
	}
	v := m.inner.Exists(ctx, uri)
	m.memo.Add(key, v)
	return v
}

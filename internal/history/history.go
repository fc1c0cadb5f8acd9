// Package history keeps a bounded record of recently executed queries for
// the UI's history view. Entries age out after an hour.
package history

import (
	"sync/atomic"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

const cacheSize = 256

// Entry 一条查询历史记录
type Entry struct {
	ConnectionID  string
	Query         string
	Success       bool
	ExecutionTime int64
	ExecutedAt    time.Time
}

type Recorder struct {
	seq   atomic.Uint64
	cache *expirable.LRU[uint64, Entry]
}

func NewRecorder() *Recorder {
	return &Recorder{
		cache: expirable.NewLRU[uint64, Entry](cacheSize, nil, time.Hour),
	}
}

func (r *Recorder) Record(entry Entry) {
	if entry.ExecutedAt.IsZero() {
		entry.ExecutedAt = time.Now()
	}
	r.cache.Add(r.seq.Add(1), entry)
}

// Recent 按从旧到新的顺序返回所有未过期的记录
func (r *Recorder) Recent() []Entry {
	return r.cache.Values()
}

// ForConnection filters the history down to one connection.
func (r *Recorder) ForConnection(connectionID string) []Entry {
	var entries []Entry
	for _, entry := range r.cache.Values() {
		if entry.ConnectionID == connectionID {
			entries = append(entries, entry)
		}
	}
	return entries
}

func (r *Recorder) Len() int {
	return r.cache.Len()
}

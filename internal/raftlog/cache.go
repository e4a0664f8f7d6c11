package raftlog

import (
	lru "github.com/hashicorp/golang-lru/v2"
)

// entryCache keeps recently appended or read entries by index.
// A nil *entryCache is a disabled cache; every method is safe to call on it.
type entryCache[T any] struct {
	lru *lru.Cache[int64, Entry[T]]
}

// newEntryCache returns nil when size is below 1.
func newEntryCache[T any](size int) (*entryCache[T], error) {
	if size < 1 {
		return nil, nil
	}
	c, err := lru.New[int64, Entry[T]](size)
	if err != nil {
		return nil, err
	}
	return &entryCache[T]{lru: c}, nil
}

func (c *entryCache[T]) put(index int64, e Entry[T]) {
	if c == nil {
		return
	}
	c.lru.Add(index, e)
}

func (c *entryCache[T]) get(index int64) (Entry[T], bool) {
	if c == nil {
		var zero Entry[T]
		return zero, false
	}
	return c.lru.Get(index)
}

func (c *entryCache[T]) clear() {
	if c == nil {
		return
	}
	c.lru.Purge()
}

func (c *entryCache[T]) len() int {
	if c == nil {
		return 0
	}
	return c.lru.Len()
}

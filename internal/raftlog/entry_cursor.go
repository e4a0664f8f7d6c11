package raftlog

import (
	"errors"
	"fmt"
	"os"
)

// EntryCursor iterates entries in index order across segment files.
//
//	cur, err := log.GetEntryCursor(from)
//	...
//	defer cur.Close()
//	for cur.Next() {
//		rec := cur.Record()
//	}
//	if err := cur.Err(); err != nil { ... }
//
// Next returns false once the cursor reaches the append index observed at that
// moment. A cursor is not safe for concurrent use.
type EntryCursor[T any] struct {
	log  *SegmentedLog[T]
	next int64
	cur  *segmentCursor
	rec  EntryRecord[T]
	err  error
	done bool
}

// Next advances to the next entry. It returns false at the end or on error.
func (c *EntryCursor[T]) Next() bool {
	if c.done || c.err != nil {
		return false
	}
	if err := c.log.checkLive(); err != nil {
		c.fail(err)
		return false
	}

	var missing *segmentFile
	for {
		if c.next > c.log.AppendIndex() {
			return false
		}
		if c.cur == nil {
			seg, ok := c.log.segs.forIndex(c.next)
			if !ok || seg == missing {
				return false
			}
			sc, err := seg.cursor(c.next)
			if err != nil {
				if errors.Is(err, os.ErrNotExist) {
					// Pruned or truncated away between lookup and open.
					missing = seg
					continue
				}
				c.fail(err)
				return false
			}
			c.cur = sc
		}

		raw, ok, err := c.cur.advance()
		if err != nil {
			c.fail(err)
			return false
		}
		if !ok {
			owner, found := c.log.segs.forIndex(c.next)
			if !found || owner == c.cur.seg {
				// Not published yet.
				return false
			}
			_ = c.cur.close()
			c.cur = nil
			continue
		}

		content, err := c.log.marshal.Unmarshal(raw.content)
		if err != nil {
			c.fail(fmt.Errorf("raftlog: unmarshal entry %d: %w", raw.index, err))
			return false
		}
		c.rec = EntryRecord[T]{
			Index:   raw.index,
			Entry:   Entry[T]{Term: raw.term, Content: content},
			Version: c.cur.seg.version(),
			Offset:  c.cur.offset,
			Length:  c.cur.length,
		}
		c.next = raw.index + 1
		return true
	}
}

// Record returns the entry produced by the last successful Next.
func (c *EntryCursor[T]) Record() EntryRecord[T] { return c.rec }

// Err returns the error that stopped iteration, if any.
func (c *EntryCursor[T]) Err() error { return c.err }

// Close releases the cursor's file handle. The cursor yields nothing afterwards.
func (c *EntryCursor[T]) Close() error {
	c.done = true
	if c.cur == nil {
		return nil
	}
	err := c.cur.close()
	c.cur = nil
	return err
}

func (c *EntryCursor[T]) fail(err error) {
	c.err = err
	if c.cur != nil {
		_ = c.cur.close()
		c.cur = nil
	}
}

// Package inode implements per-inode readability tracking: the packed
// read_subvol/write_subvol bitmaps of spec.md §3, the refresh/interpret
// pipeline of §4.1, and the split-brain gate that inode_get_readable
// enforces before any read proceeds.
package inode

import (
	"sync"
)

// TxnType is one of the three AFR transaction dimensions.
type TxnType int

const (
	Data TxnType = iota
	Metadata
	Entry
	txnTypeCount
)

// maxPackedReplicas is the limit of the cache-footprint-optimized 64-bit
// packed form {meta:16, data:16, event_gen:32} described in spec.md §9.
// Replica sets larger than this fall back to the heap-allocated bitmap
// variant (Context.wideData/wideMeta) with selection policies unchanged.
const maxPackedReplicas = 16

// SubvolBitmap packs data/metadata readability plus the event generation
// they were computed at into one value, per spec.md §9's "bitmap-packed
// inode context" note. Bit i of Data/Meta is set iff replica i is
// considered an authoritative source for that dimension.
type SubvolBitmap struct {
	Data     uint16
	Meta     uint16
	EventGen uint32
}

// Context is the per-inode state of spec.md §3 "Inode context". It is
// created lazily on first access and destroyed when the upper layer
// forgets the inode.
type Context struct {
	mu sync.Mutex

	childCount int

	readSubvol  SubvolBitmap
	writeSubvol SubvolBitmap
	needRefresh bool
	lockCount   int

	wideData []bool // used only when childCount > maxPackedReplicas
	wideMeta []bool

	spbChoice int // -1 when unset
}

// NewContext returns a fresh inode context forcing a refresh on first read.
func NewContext(childCount int) *Context {
	return &Context{
		childCount:  childCount,
		needRefresh: true,
		spbChoice:   -1,
	}
}

func (c *Context) wide() bool { return c.childCount > maxPackedReplicas }

// ReadSubvolGet returns the cached bitmap for the given dimension together
// with the event generation it was computed at, per the read_subvol_get
// contract of spec.md §4.1. Callers compare the returned generation against
// the live topology generation and, if stale or NeedRefresh is set, call
// Refresh before trusting the result.
func (c *Context) ReadSubvolGet(t TxnType) (readable []bool, eventGen uint32) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.readableLocked(t), c.readSubvol.EventGen
}

func (c *Context) readableLocked(t TxnType) []bool {
	out := make([]bool, c.childCount)
	if c.wide() {
		src := c.wideData
		if t == Metadata {
			src = c.wideMeta
		}
		copy(out, src)
		return out
	}
	bits := c.readSubvol.Data
	if t == Metadata {
		bits = c.readSubvol.Meta
	}
	for i := 0; i < c.childCount; i++ {
		out[i] = bits&(1<<uint(i)) != 0
	}
	return out
}

// NeedRefresh reports whether a refresh must run before the cached bitmap
// can be trusted (either explicitly marked, or because it was computed at
// an event generation older than currentGen).
func (c *Context) NeedRefresh(currentGen uint32) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.needRefresh || c.readSubvol.EventGen < currentGen
}

// SetNeedRefresh forces the next read to refresh regardless of generation,
// used by the CacheInvalidate hook (CACHE_INVALIDATION upcall, spec.md §6).
func (c *Context) SetNeedRefresh() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.needRefresh = true
}

// CacheInvalidate is the AFR-side handler for the CACHE_INVALIDATION
// upcall: a peer's pending-xattr state changed and this node's cached
// readability can no longer be trusted.
func (c *Context) CacheInvalidate() {
	c.SetNeedRefresh()
}

// SetReadSubvol stores newly computed readability bitmaps at the given
// event generation, clearing NeedRefresh. arbiterIndex, when >= 0, has its
// data bit forced to 0 regardless of what the caller passed in, per the
// invariant "arbiter replica index is never selected as a read subvol and
// its data bitmap bit is always 0" (spec.md §3).
func (c *Context) SetReadSubvol(data, meta []bool, eventGen uint32, arbiterIndex int) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if arbiterIndex >= 0 && arbiterIndex < len(data) {
		data[arbiterIndex] = false
	}

	if c.wide() {
		c.wideData = append([]bool(nil), data...)
		c.wideMeta = append([]bool(nil), meta...)
		c.readSubvol.EventGen = eventGen
		c.needRefresh = false
		return
	}

	var packedData, packedMeta uint16
	for i := 0; i < c.childCount; i++ {
		if data[i] {
			packedData |= 1 << uint(i)
		}
		if meta[i] {
			packedMeta |= 1 << uint(i)
		}
	}
	c.readSubvol = SubvolBitmap{Data: packedData, Meta: packedMeta, EventGen: eventGen}
	c.needRefresh = false
}

// WriteSubvolSet stores the in-flight write bitmap, used while lockCount
// is nonzero. Per the invariant "write_subvol is non-zero iff lock_count >
// 0", callers must have already incremented lockCount via BeginTxn.
func (c *Context) WriteSubvolSet(data, meta []bool, eventGen uint32) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var packedData, packedMeta uint16
	for i := 0; i < c.childCount && i < maxPackedReplicas; i++ {
		if data[i] {
			packedData |= 1 << uint(i)
		}
		if meta[i] {
			packedMeta |= 1 << uint(i)
		}
	}
	c.writeSubvol = SubvolBitmap{Data: packedData, Meta: packedMeta, EventGen: eventGen}
}

// BeginTxn increments the transaction refcount backing write_subvol.
func (c *Context) BeginTxn() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lockCount++
}

// EndTxn decrements the transaction refcount; when it reaches zero,
// write_subvol is cleared per the spec's invariant.
func (c *Context) EndTxn() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lockCount--
	if c.lockCount <= 0 {
		c.lockCount = 0
		c.writeSubvol = SubvolBitmap{}
	}
}

// LockCount returns the current transaction refcount.
func (c *Context) LockCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lockCount
}

// SplitBrainChoice returns the user-pinned replica override, or -1 if unset.
func (c *Context) SplitBrainChoice() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.spbChoice
}

// SetSplitBrainChoice pins a replica index as the chosen source for
// GF_AFR_SBRAIN_* reads. Auto-clear on timeout is the caller's
// responsibility (see splitbrain package), matching spec.md §4.7's
// spb_timer being a property of the inode context but driven externally.
func (c *Context) SetSplitBrainChoice(idx int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.spbChoice = idx
}

// ClearSplitBrainChoice clears the pinned override.
func (c *Context) ClearSplitBrainChoice() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.spbChoice = -1
}

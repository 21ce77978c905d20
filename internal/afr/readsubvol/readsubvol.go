// Package readsubvol implements the read-subvolume selection policy ladder
// of spec.md §4.2: deciding which single replica services a read given the
// current readability candidate mask.
package readsubvol

import (
	"github.com/cespare/xxhash/v2"
)

// Policy selects one of the hash-mode policies from spec.md §4.2.
type Policy int

const (
	FirstUp Policy = iota
	GFIDHash
	GFIDPIDHash
	LessLoad
	LeastLatency
	LoadLatencyHybrid
)

// Topology is the subset of live replica-set state the selection policies
// need: per-replica load (outstanding reads) and latency.
type Topology interface {
	Latency(i int) int64
	PendingReads(i int) int
}

// Args carries the per-request inputs the policy ladder consumes.
type Args struct {
	GFID         [16]byte
	PID          int64
	IsDirectory  bool
	PinnedChild  int // operator-pinned read_child, -1 if unset
	ArbiterIndex int // -1 if no arbiter configured
}

// CandidateMask computes the candidate set per spec.md §4.2: the
// intersection of data and metadata readability when both are available,
// else data readability alone, else the union of up replicas (read-only
// fallback for nameless-lookup bootstrapping).
func CandidateMask(dataReadable, metaReadable, up []bool) []bool {
	n := len(up)
	out := make([]bool, n)

	anyData := anyTrue(dataReadable)
	anyMeta := anyTrue(metaReadable)

	switch {
	case anyData && anyMeta:
		for i := 0; i < n; i++ {
			out[i] = dataReadable[i] && metaReadable[i]
		}
	case anyData:
		copy(out, dataReadable)
	default:
		copy(out, up)
	}
	return out
}

func anyTrue(bs []bool) bool {
	for _, b := range bs {
		if b {
			return true
		}
	}
	return false
}

// Select implements select_read_subvol of spec.md §4.2: operator pin, then
// the configured hash-mode policy, then fallback to any readable replica.
// Arbiter is always excluded. Returns -1 if no candidate qualifies.
func Select(candidates []bool, policy Policy, args Args, top Topology) int {
	masked := append([]bool(nil), candidates...)
	if args.ArbiterIndex >= 0 && args.ArbiterIndex < len(masked) {
		masked[args.ArbiterIndex] = false
	}

	// 1. operator pin.
	if args.PinnedChild >= 0 && args.PinnedChild < len(masked) && masked[args.PinnedChild] {
		return args.PinnedChild
	}

	// 2. hash-mode policy.
	if idx := selectByPolicy(masked, policy, args, top); idx >= 0 {
		return idx
	}

	// 3. fallback: any readable replica, lowest index.
	for i, ok := range masked {
		if ok {
			return i
		}
	}
	return -1
}

func selectByPolicy(masked []bool, policy Policy, args Args, top Topology) int {
	switch policy {
	case FirstUp:
		for i, ok := range masked {
			if ok {
				return i
			}
		}
		return -1
	case GFIDHash:
		return hashSelect(masked, args.GFID[:])
	case GFIDPIDHash:
		if args.IsDirectory {
			return -1
		}
		key := append(append([]byte(nil), args.GFID[:]...), pidBytes(args.PID)...)
		return hashSelect(masked, key)
	case LessLoad:
		if top == nil {
			return -1
		}
		best, bestLoad := -1, 0
		for i, ok := range masked {
			if !ok {
				continue
			}
			load := top.PendingReads(i)
			if best == -1 || load < bestLoad {
				best, bestLoad = i, load
			}
		}
		return best
	case LeastLatency:
		if top == nil {
			return -1
		}
		best, bestLatency := -1, int64(0)
		for i, ok := range masked {
			if !ok {
				continue
			}
			lat := top.Latency(i)
			if lat < 0 {
				continue
			}
			if best == -1 || lat < bestLatency {
				best, bestLatency = i, lat
			}
		}
		return best
	case LoadLatencyHybrid:
		if top == nil {
			return -1
		}
		best, bestScore := -1, int64(0)
		for i, ok := range masked {
			if !ok {
				continue
			}
			lat := top.Latency(i)
			if lat < 0 {
				continue
			}
			score := int64(top.PendingReads(i)+1) * lat
			if best == -1 || score < bestScore {
				best, bestScore = i, score
			}
		}
		return best
	default:
		return -1
	}
}

// hashSelect maps key onto one of the candidate indices via xxhash mod N,
// standing in for SuperFastHash per SPEC_FULL.md's DOMAIN STACK mapping.
// If the hashed index is not itself a candidate, it walks forward to the
// next candidate (wrapping), keeping the policy deterministic and total.
func hashSelect(masked []bool, key []byte) int {
	n := len(masked)
	if n == 0 {
		return -1
	}
	if !anyTrue(masked) {
		return -1
	}
	start := int(xxhash.Sum64(key) % uint64(n))
	for off := 0; off < n; off++ {
		idx := (start + off) % n
		if masked[idx] {
			return idx
		}
	}
	return -1
}

func pidBytes(pid int64) []byte {
	b := make([]byte, 8)
	for i := 0; i < 8; i++ {
		b[i] = byte(pid >> (8 * uint(i)))
	}
	return b
}

// Package replicaset wires the topology, inode, readsubvol, transaction,
// lockcoord, lockheal and splitbrain packages into the single external
// surface spec.md §6 describes: one ReplicaSet per replicated file set,
// exposing Read, Mutate and lifecycle operations a per-FOP wrapper calls.
package replicaset

import (
	"context"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/distfs/afr-core/internal/afr/inode"
	"github.com/distfs/afr-core/internal/afr/lockcoord"
	"github.com/distfs/afr-core/internal/afr/lockheal"
	"github.com/distfs/afr-core/internal/afr/readsubvol"
	"github.com/distfs/afr-core/internal/afr/splitbrain"
	"github.com/distfs/afr-core/internal/afr/subvolume"
	"github.com/distfs/afr-core/internal/afr/topology"
	"github.com/distfs/afr-core/internal/afr/transaction"
	"github.com/distfs/afr-core/internal/logger"
	"github.com/distfs/afr-core/pkg/config"
	"github.com/distfs/afr-core/pkg/lock"
	"github.com/distfs/afr-core/pkg/metadata/errors"
	"github.com/distfs/afr-core/pkg/metrics"
)

// ReplicaSet is the top-level replication handle spec.md §6 describes: a
// fixed set of child Subvolumes, the shared topology state machine, one
// inode.Context per open file, and the lock-heal queue that survives
// reconnects.
type ReplicaSet struct {
	cfg      config.ReplicaSetConfig
	subvols  []subvolume.Subvolume
	top      *topology.Topology
	metrics  *metrics.Metrics
	healq    *lockheal.Queue
	choices  sync.Map // path -> *splitbrain.Choice

	thinArbiter thinArbiterWitness

	arbiterIndex int

	mu      sync.Mutex
	inodes  map[string]*inode.Context

	pendingReads []int64 // per-replica in-flight read count, for LessLoad/LoadLatencyHybrid

	closed   chan struct{}
	closeWg  sync.WaitGroup
	closeOnce sync.Once
}

// New builds a ReplicaSet from a resolved configuration, its child
// subvolumes (len(subvols) must equal cfg.ChildCount), and a metrics
// registry. arbiterIndex is -1 when no arbiter is configured.
func New(cfg config.ReplicaSetConfig, subvols []subvolume.Subvolume, m *metrics.Metrics, arbiterIndex int) *ReplicaSet {
	rs := &ReplicaSet{
		cfg:          cfg,
		subvols:      subvols,
		metrics:      m,
		healq:        lockheal.NewQueue(),
		arbiterIndex: arbiterIndex,
		inodes:       make(map[string]*inode.Context),
		pendingReads: make([]int64, cfg.ChildCount),
		closed:       make(chan struct{}),
	}
	rs.top = topology.New(topology.Config{
		ChildCount:      cfg.ChildCount,
		QuorumCount:     cfg.ResolvedQuorumCount(),
		HaloEnabled:     cfg.HaloEnabled,
		HaloMinReplicas: cfg.HaloMinReplicas,
		ThinArbiter:     cfg.ThinArbiter.Enabled,
	})
	rs.top.AddListener(&metricsListener{m: m, rs: rs})
	return rs
}

// metricsListener adapts topology.Listener to increment pkg/metrics
// counters/gauges, and enqueues lock-heal work on reconnect.
type metricsListener struct {
	m  *metrics.Metrics
	rs *ReplicaSet
}

func (l *metricsListener) OnParentEvent(ev topology.ParentEvent) {}

func (l *metricsListener) OnQuorumEvent(ev topology.QuorumEvent) {
	if l.m == nil {
		return
	}
	switch ev {
	case topology.QuorumMet:
		l.m.QuorumMetTotal.Inc()
	case topology.QuorumLost:
		l.m.QuorumLostTotal.Inc()
	}
	if l.rs != nil {
		l.m.QuorumCurrentUp.Set(float64(l.rs.top.UpCount()))
	}
}

func (l *metricsListener) OnChildUp(i int) {
	if l.m != nil {
		l.m.EventGenerationBumps.Inc()
		l.m.QuorumCurrentUp.Set(float64(l.rs.top.UpCount()))
	}
}

func (l *metricsListener) OnChildDown(i int) {
	if l.m != nil {
		l.m.EventGenerationBumps.Inc()
		l.m.QuorumCurrentUp.Set(float64(l.rs.top.UpCount()))
	}
}

// context returns (creating if needed) the inode.Context for path.
func (rs *ReplicaSet) context(path string) *inode.Context {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	c, ok := rs.inodes[path]
	if !ok {
		c = inode.NewContext(rs.cfg.ChildCount)
		rs.inodes[path] = c
	}
	return c
}

// ChildStatus is one replica's up/latency snapshot, for administrative
// inspection (cmd/afrctl status).
type ChildStatus struct {
	Up      bool
	Latency int64
}

// Status returns a snapshot of every replica's up/latency state plus the
// current event generation and quorum standing.
func (rs *ReplicaSet) Status() (children []ChildStatus, eventGen uint32, hasQuorum bool) {
	up := rs.top.UpMask()
	children = make([]ChildStatus, len(up))
	for i := range up {
		children[i] = ChildStatus{Up: up[i], Latency: rs.top.Latency(i)}
	}
	return children, rs.top.EventGeneration(), rs.top.HasQuorum()
}

// HealQueueLen reports how many saved locks are currently queued for heal.
func (rs *ReplicaSet) HealQueueLen() int {
	return rs.healq.Len()
}

// thinArbiterWitness is the subset of subvolume.ThinArbiter's contract Read
// and Mutate need, narrowed to an interface so tests can exercise the
// single-replica-up boundary case without a real S3 backend.
type thinArbiterWitness interface {
	LastGoodSource(ctx context.Context) (int, error)
	MarkGoodSource(ctx context.Context, replicaIndex int) error
}

// SetThinArbiter wires a witness for the N=2-with-thin-arbiter boundary case
// of spec.md §8. Left unset (nil), Read never consults an arbiter, matching
// any configuration that omits cfg.ThinArbiter.Enabled.
func (rs *ReplicaSet) SetThinArbiter(ta thinArbiterWitness) {
	rs.thinArbiter = ta
}

func (rs *ReplicaSet) choiceFor(path string) *splitbrain.Choice {
	c, _ := rs.choices.LoadOrStore(path, splitbrain.NewChoice())
	return c.(*splitbrain.Choice)
}

// CheckSplitBrain reports whether path is currently in split-brain on the
// data dimension, per spec.md §4.7's is_split_brain.
func (rs *ReplicaSet) CheckSplitBrain(ctx context.Context, path string) (splitbrain.Status, error) {
	c := rs.context(path)
	readable, _ := c.ReadSubvolGet(inode.Data)
	up := rs.top.UpMask()
	accused := make([]bool, len(up))
	for i := range up {
		accused[i] = up[i] && !readable[i]
	}
	return splitbrain.Detect(up, accused, rs.arbiterIndex, splitbrain.DataDimension), nil
}

// ChooseSplitBrainSource pins replicaIndex as the authoritative source for
// path until ttl elapses, the operator override of spec.md §4.7's
// spb_choice.
func (rs *ReplicaSet) ChooseSplitBrainSource(ctx context.Context, path string, replicaIndex int, ttl time.Duration) {
	c := rs.context(path)
	c.SetSplitBrainChoice(replicaIndex)
	choice := rs.choiceFor(path)
	choice.OnExpiry(c.ClearSplitBrainChoice)
	choice.Set(ctx, replicaIndex, ttl)
}

// Forget drops the cached inode.Context for path, the AFR-side handling of
// a FORGET upcall.
func (rs *ReplicaSet) Forget(path string) {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	delete(rs.inodes, path)
}

// CacheInvalidate marks path's cached readability stale, the AFR-side
// handling of a CACHE_INVALIDATION upcall (spec.md §6).
func (rs *ReplicaSet) CacheInvalidate(path string) {
	rs.context(path).CacheInvalidate()
}

// ChildUp reports a CHILD_UP(i) notification from the transport layer.
func (rs *ReplicaSet) ChildUp(ctx context.Context, i int) {
	rs.top.ChildUpEvent(ctx, i)
	rs.runLockHeal(ctx, i)
}

// ChildDown reports a CHILD_DOWN(i) notification from the transport layer.
// Per spec.md §4.5's "On CHILD_DOWN(i)" rule, any saved locks still waiting
// to be replayed are fenced rather than left queued once the replica set as
// a whole drops below quorum: a heal completed without quorum could itself
// install a split-brained lock.
func (rs *ReplicaSet) ChildDown(ctx context.Context, i int) {
	rs.top.ChildDownEvent(ctx, i)
	if rs.top.HasQuorum() {
		return
	}
	abandoned := rs.healq.Drain()
	if len(abandoned) == 0 {
		return
	}
	logger.WarnCtx(ctx, "quorum lost on child down, fencing queued lock heals",
		logger.ReplicaIndex(i))
	if rs.metrics != nil {
		rs.metrics.LockHealAbandoned.Add(float64(len(abandoned)))
	}
}

func (rs *ReplicaSet) runLockHeal(ctx context.Context, replicaIndex int) {
	if rs.healq.Len() == 0 {
		return
	}
	rs.closeWg.Add(1)
	defer rs.closeWg.Done()

	getlk := subvolumeLocker{subvols: rs.subvols}
	setlk := subvolumeLocker{subvols: rs.subvols}
	up := rs.top.UpMask()
	quorum := rs.cfg.ResolvedQuorumCount()
	domainLocker := &healDomainLocker{subvols: rs.subvols}
	topoGen := replicaSetTopoGen{top: rs.top}
	verifyOn := replicaIndex
	for j, isUp := range up {
		if isUp && j != replicaIndex {
			verifyOn = j
			break
		}
	}
	tally := lockheal.HealAll(ctx, rs.healq, replicaIndex, verifyOn, up, quorum, domainLocker, topoGen, rs.top.HasQuorum, getlk, setlk)
	if rs.metrics != nil {
		rs.metrics.LockHealSucceeded.Add(float64(tally[lockheal.Healed]))
		rs.metrics.LockHealAbandoned.Add(float64(tally[lockheal.Abandoned]))
		rs.metrics.LockHealRequeued.Add(float64(tally[lockheal.Requeued]))
	}
}

// healDomainLocker adapts every replica's local lock.Manager to the
// reserved AFR_LK_HEAL_DOM domain that lockheal.HealAll takes on every up
// replica through lockcoord.Acquire to serialize heal passes, per spec.md
// §4.5 step 1.
type healDomainLocker struct {
	subvols []subvolume.Subvolume
	owner   lock.Owner
}

func (h *healDomainLocker) TrySetLock(ctx context.Context, i int) error {
	res, err := h.subvols[i].Locks().Lock(lockheal.HealDomain, h.owner, 0, lock.Unbounded, lock.WriteLock)
	if err != nil {
		return err
	}
	if !res.Success {
		return syscall.EAGAIN
	}
	return nil
}

func (h *healDomainLocker) Unlock(ctx context.Context, i int) error {
	return h.subvols[i].Locks().Unlock(lockheal.HealDomain, h.owner, 0, lock.Unbounded)
}

// replicaSetTopoGen adapts topology.Topology to lockheal.TopologyGen.
type replicaSetTopoGen struct {
	top *topology.Topology
}

func (t replicaSetTopoGen) UpDownGen(replicaIndex int) (upGen, downGen uint32) {
	return t.top.UpDownGen(replicaIndex)
}

// subvolumeLocker adapts each Subvolume's local lock.Manager to the
// lockheal.Getlker/Setlker contracts.
type subvolumeLocker struct {
	subvols []subvolume.Subvolume
}

func (s subvolumeLocker) GetLock(ctx context.Context, replicaIndex int, path string, owner lock.Owner, offset, length uint64, typ lock.LockType) (*lock.FileLock, error) {
	for _, held := range s.subvols[replicaIndex].Locks().ListLocks(path) {
		if held.Owner == owner && held.Overlaps(offset, length) {
			return held, nil
		}
	}
	return nil, nil
}

func (s subvolumeLocker) SetLock(ctx context.Context, replicaIndex int, path string, fl *lock.FileLock) error {
	res, err := s.subvols[replicaIndex].Locks().Lock(path, fl.Owner, fl.Offset, fl.Length, fl.Type)
	if err != nil {
		return err
	}
	if !res.Success {
		return syscall.EAGAIN
	}
	return nil
}

// ReadResult is what Read returns to the caller: the chosen subvolume
// index, and the errno when the read is refused.
type ReadResult struct {
	Subvol int
	Errno  syscall.Errno
}

// Read implements the read-path of spec.md §4.1+§4.2: ensure the cached
// readability bitmap is fresh, refuse with EIO on split-brain, then select
// a single read subvolume via the configured hash-mode policy.
func (rs *ReplicaSet) Read(ctx context.Context, path string, gfid uuid.UUID, pid int64, isDirectory bool) ReadResult {
	if rs.top.UpCount() == 0 {
		// spec.md §8: all replicas down returns ENOTCONN with no refresh
		// attempted — there is nothing to probe and no readability to
		// accuse, so this must not fall through to EnsureFresh.
		return ReadResult{Subvol: -1, Errno: syscall.ENOTCONN}
	}

	c := rs.context(path)
	up := rs.top.UpMask()
	gen := rs.top.EventGeneration()

	if errno, refuse := rs.thinArbiterVerdict(ctx, up); refuse {
		logger.WarnCtx(ctx, "thin arbiter could not vouch for the single up replica", logger.GFID(gfid.String()))
		return ReadResult{Subvol: -1, Errno: errno}
	}

	prober := subvolume.Probe{Subvols: rs.subvols, Path: path}
	healTrigger := &splitBrainHealTrigger{rs: rs, path: path}

	readable, err := inode.EnsureFresh(ctx, c, up, gen, prober, healTrigger, rs.arbiterIndex, isDirectory)
	if err != nil {
		logger.WarnCtx(ctx, "split-brain on read path", logger.GFID(gfid.String()))
		if rs.metrics != nil {
			rs.metrics.SplitBrainDetected.WithLabelValues("data").Inc()
		}
		return ReadResult{Subvol: -1, Errno: inode.EIOFromSplitBrain(err)}
	}

	meta, _ := c.ReadSubvolGet(inode.Metadata)
	candidates := readsubvol.CandidateMask(readable, meta, up)

	var gfidBytes [16]byte
	copy(gfidBytes[:], gfid[:])

	idx := readsubvol.Select(candidates, policyFromConfig(rs.cfg.ReadHashMode), readsubvol.Args{
		GFID:         gfidBytes,
		PID:          pid,
		IsDirectory:  isDirectory,
		PinnedChild:  rs.cfg.PinnedReadChild,
		ArbiterIndex: rs.arbiterIndex,
	}, readTopology{rs: rs})

	if idx < 0 {
		return ReadResult{Subvol: -1, Errno: syscall.ENOTCONN}
	}
	return ReadResult{Subvol: idx}
}

// thinArbiterVerdict implements spec.md §8's N=2-with-thin-arbiter boundary
// case: when exactly one of the two data replicas is up, the arbiter's
// good-source marker decides whether that replica was part of the last
// quorum write. A lookup failure degrades the same way spec.md §6 says the
// id-file lookup itself degrades: the read is refused rather than trusted.
func (rs *ReplicaSet) thinArbiterVerdict(ctx context.Context, up []bool) (errno syscall.Errno, refuse bool) {
	if rs.thinArbiter == nil || !rs.cfg.ThinArbiter.Enabled || rs.cfg.ChildCount != 2 {
		return 0, false
	}
	upIdx, upCount := -1, 0
	for i, isUp := range up {
		if isUp {
			upCount++
			upIdx = i
		}
	}
	if upCount != 1 {
		return 0, false
	}
	good, err := rs.thinArbiter.LastGoodSource(ctx)
	if err != nil {
		return syscall.EIO, true
	}
	if good != -1 && good != upIdx {
		return syscall.EIO, true
	}
	return 0, false
}

// readTopology adapts a ReplicaSet's latency history and in-flight read
// counters to the readsubvol.Topology contract the LessLoad,
// LeastLatency and LoadLatencyHybrid policies consult.
type readTopology struct {
	rs *ReplicaSet
}

func (t readTopology) Latency(i int) int64 {
	return t.rs.top.Latency(i)
}

func (t readTopology) PendingReads(i int) int {
	if i < 0 || i >= len(t.rs.pendingReads) {
		return 0
	}
	return int(atomic.LoadInt64(&t.rs.pendingReads[i]))
}

// IncPendingRead marks the start of an I/O the caller is dispatching to
// replica i, so the LessLoad and LoadLatencyHybrid policies can weigh it
// on the next Read. The per-FOP wrapper calls this right after Read picks
// a subvolume, and DecPendingRead once that I/O completes.
func (rs *ReplicaSet) IncPendingRead(i int) {
	if i < 0 || i >= len(rs.pendingReads) {
		return
	}
	atomic.AddInt64(&rs.pendingReads[i], 1)
}

// DecPendingRead reports that an I/O started via IncPendingRead has
// completed.
func (rs *ReplicaSet) DecPendingRead(i int) {
	if i < 0 || i >= len(rs.pendingReads) {
		return
	}
	atomic.AddInt64(&rs.pendingReads[i], -1)
}

func policyFromConfig(mode config.ReadHashMode) readsubvol.Policy {
	switch mode {
	case config.HashGFID:
		return readsubvol.GFIDHash
	case config.HashGFIDPID:
		return readsubvol.GFIDPIDHash
	case config.HashLessLoad:
		return readsubvol.LessLoad
	case config.HashLeastLatency:
		return readsubvol.LeastLatency
	case config.HashLoadLatencyHybrid:
		return readsubvol.LoadLatencyHybrid
	default:
		return readsubvol.FirstUp
	}
}

// splitBrainHealTrigger adapts inode.HealTrigger to splitbrain.Detect plus
// the metrics counter, without performing any heal inline (spec.md §4.7).
type splitBrainHealTrigger struct {
	rs   *ReplicaSet
	path string
}

func (h *splitBrainHealTrigger) TriggerHeal(ctx context.Context, dataAccused, metaAccused []bool) {
	up := h.rs.top.UpMask()
	if st := splitbrain.Detect(up, dataAccused, h.rs.arbiterIndex, splitbrain.DataDimension); st.SplitBrain {
		if h.rs.metrics != nil {
			h.rs.metrics.SplitBrainDetected.WithLabelValues(string(splitbrain.DataDimension)).Inc()
		}
	}
	if st := splitbrain.Detect(up, metaAccused, h.rs.arbiterIndex, splitbrain.MetadataDimension); st.SplitBrain {
		if h.rs.metrics != nil {
			h.rs.metrics.SplitBrainDetected.WithLabelValues(string(splitbrain.MetadataDimension)).Inc()
		}
	}
}

// Mutate runs a full LOCK→PRE-OP→WIND→COLLECT→POST-OP→UNLOCK→UNWIND
// transaction against path, implementing spec.md §4.3/§4.4 end to end.
func (rs *ReplicaSet) Mutate(ctx context.Context, path string, preOp, op, postOp transaction.Op) transaction.Result {
	rs.closeWg.Add(1)
	defer rs.closeWg.Done()

	select {
	case <-rs.closed:
		return transaction.Result{OpRet: -1, Errno: lockheal.FenceErrno}
	default:
	}

	c := rs.context(path)
	up := rs.top.UpMask()
	quorum := rs.cfg.ResolvedQuorumCount()

	locker := &subvolLockerAdapter{subvols: rs.subvols, path: path, offset: 0, length: lock.Unbounded, typ: lock.WriteLock}
	lockRes := lockcoord.Acquire(ctx, up, quorum, locker)
	if !lockRes.Success {
		if rs.metrics != nil {
			rs.metrics.TransactionQuorumFailed.Inc()
		}
		return transaction.Result{OpRet: -1, Errno: lockRes.Errno}
	}
	defer func() {
		for i, held := range lockRes.Granted {
			if held {
				_ = locker.Unlock(ctx, i)
			}
		}
	}()

	c.BeginTxn()
	defer c.EndTxn()

	wasReadableBefore := -1
	if readable, _ := c.ReadSubvolGet(inode.Data); anyTrueCount(readable) == 1 {
		for i, r := range readable {
			if r {
				wasReadableBefore = i
				break
			}
		}
	}

	gen := rs.top.EventGeneration()
	res := transaction.Run(ctx, lockRes.Granted, transaction.Config{
		QuorumCount:  quorum,
		ConsistentIO: rs.cfg.ConsistentIO,
	}, preOp, op, postOp, c, gen, rs.top.EventGeneration(), wasReadableBefore)

	if rs.metrics != nil {
		if res.OpRet == 0 {
			rs.metrics.TransactionSucceeded.Inc()
		} else {
			rs.metrics.TransactionQuorumFailed.Inc()
		}
	}

	if res.OpRet == 0 && rs.thinArbiter != nil && rs.cfg.ThinArbiter.Enabled && rs.cfg.ChildCount == 2 {
		for i, granted := range lockRes.Granted {
			if granted {
				if err := rs.thinArbiter.MarkGoodSource(ctx, i); err != nil {
					logger.WarnCtx(ctx, "failed marking thin arbiter good source", logger.ReplicaIndex(i))
				}
				break
			}
		}
	}
	return res
}

func anyTrueCount(bs []bool) int {
	n := 0
	for _, b := range bs {
		if b {
			n++
		}
	}
	return n
}

// subvolLockerAdapter adapts per-replica lock.Manager instances to the
// lockcoord.Locker contract for one path's FOP-level domain lock or a
// client-requested mandatory range lock.
type subvolLockerAdapter struct {
	subvols []subvolume.Subvolume
	path    string
	owner   lock.Owner
	offset  uint64
	length  uint64
	typ     lock.LockType
}

func (a *subvolLockerAdapter) TrySetLock(ctx context.Context, i int) error {
	res, err := a.subvols[i].Locks().Lock(a.path, a.owner, a.offset, a.length, a.typ)
	if err != nil {
		return err
	}
	if !res.Success {
		return syscall.EAGAIN
	}
	return nil
}

func (a *subvolLockerAdapter) Unlock(ctx context.Context, i int) error {
	return a.subvols[i].Locks().Unlock(a.path, a.owner, a.offset, a.length)
}

// LockResult reports the outcome of a client-requested mandatory lock,
// including which replicas actually granted it so the caller can tell
// whether a heal was queued.
type LockResult struct {
	Granted []bool
	Errno   syscall.Errno
}

// Lock acquires a client-requested mandatory range lock across every up
// replica via the same parallel-then-serial quorum protocol Mutate uses for
// its FOP-level domain lock (spec.md §4.4). Any replica that was down at
// acquisition time did not receive the lock, so it is saved to the heal
// queue (spec.md §4.5) for replay once that replica reconnects.
func (rs *ReplicaSet) Lock(ctx context.Context, path string, owner lock.Owner, offset, length uint64, typ lock.LockType) LockResult {
	select {
	case <-rs.closed:
		return LockResult{Errno: lockheal.FenceErrno}
	default:
	}

	up := rs.top.UpMask()
	quorum := rs.cfg.ResolvedQuorumCount()
	locker := &subvolLockerAdapter{subvols: rs.subvols, path: path, owner: owner, offset: offset, length: length, typ: typ}
	res := lockcoord.Acquire(ctx, up, quorum, locker)
	if !res.Success {
		return LockResult{Granted: res.Granted, Errno: res.Errno}
	}

	for i, isUp := range up {
		if !isUp {
			rs.healq.Enqueue(&lockheal.SavedLock{
				Path:      path,
				Lock:      lock.FileLock{Owner: owner, Offset: offset, Length: length, Type: typ},
				GrantedOn: res.Granted,
			})
			logger.InfoCtx(ctx, "mandatory lock granted with a replica down, saving for heal",
				logger.ReplicaIndex(i))
			break
		}
	}

	return LockResult{Granted: res.Granted}
}

// Close drains in-flight transactions and the lock-heal queue, then
// refuses further Mutate calls with ErrFenced. This resolves the teardown
// ordering question left open by the upstream implementation (see
// DESIGN.md): AFR itself owns a clean shutdown barrier rather than relying
// on call order from its caller.
func (rs *ReplicaSet) Close() error {
	rs.closeOnce.Do(func() {
		close(rs.closed)
	})
	rs.closeWg.Wait()
	if rs.healq.Len() > 0 {
		return errors.NewLockHealAbandonedError(rs.cfg.Name, "replica set closed with locks still queued for heal")
	}
	return nil
}

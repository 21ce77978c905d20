// Package topology implements the child up/down state machine and the
// monotonic event-generation counter that every other AFR subsystem keys
// its cache-invalidation decisions off of.
package topology

import (
	"context"
	"sync"
	"time"

	"github.com/distfs/afr-core/internal/logger"
)

// EventKind is the last notification kind observed from a replica.
type EventKind int

const (
	// EventNone means no notification has been received yet for this replica.
	EventNone EventKind = iota
	EventChildUp
	EventChildDown
	EventChildConnecting
)

func (k EventKind) String() string {
	switch k {
	case EventChildUp:
		return "CHILD_UP"
	case EventChildDown:
		return "CHILD_DOWN"
	case EventChildConnecting:
		return "CHILD_CONNECTING"
	default:
		return "NONE"
	}
}

// ParentEvent is the aggregate event propagated upward once every child has
// reported in (or the stagger timer fires).
type ParentEvent int

const (
	ParentChildUp ParentEvent = iota
	ParentChildDown
	ParentSomeDescendentUp
	ParentSomeDescendentDown
)

// QuorumEvent is emitted whenever the up-replica mask crosses the quorum
// threshold.
type QuorumEvent int

const (
	QuorumMet QuorumEvent = iota
	QuorumLost
)

// Listener receives side-effect notifications from the topology state
// machine. All methods may be called while the topology's internal lock is
// NOT held (they are dispatched after the spinlock-equivalent section is
// released, per spec.md §5: "no I/O or task creation while held").
type Listener interface {
	OnParentEvent(ev ParentEvent)
	OnQuorumEvent(ev QuorumEvent)
	OnChildUp(i int)
	OnChildDown(i int)
}

// Config carries the immutable replica-set parameters the state machine
// needs: the child count and the halo/stagger tuning knobs.
type Config struct {
	ChildCount      int
	QuorumCount     int // 0 = disabled
	HaloEnabled     bool
	HaloThreshold   time.Duration
	HaloMinReplicas int
	StaggerTimeout  time.Duration
	ThinArbiter     bool
}

// Topology is the mutable per-replica-set state described in spec.md §3
// "Topology state", guarded by a single mutex standing in for the C
// implementation's spinlock.
type Topology struct {
	cfg Config

	mu              sync.Mutex
	childUp         []bool
	childLatency    []int64 // ms; negative = disconnected
	lastEvent       []EventKind
	eventGeneration uint32
	haloChildUp     []bool

	// childUpGen[i]/childDownGen[i] record the event generation stamped
	// the last time replica i transitioned up/down, the child_up_event_gen/
	// child_down_event_gen spec.md §4.5 step 4 compares against to detect
	// an intervening flap during a lock heal.
	childUpGen   []uint32
	childDownGen []uint32

	taChildUp      bool
	taEventGen     uint32
	heardFromAll   bool
	staggerTimer   *time.Timer
	staggerStopped bool
	quorumMetPrev  bool

	listeners []Listener
}

// New returns a Topology with every child initially down.
func New(cfg Config) *Topology {
	t := &Topology{
		cfg:          cfg,
		childUp:      make([]bool, cfg.ChildCount),
		childLatency: make([]int64, cfg.ChildCount),
		lastEvent:    make([]EventKind, cfg.ChildCount),
		haloChildUp:  make([]bool, cfg.ChildCount),
		childUpGen:   make([]uint32, cfg.ChildCount),
		childDownGen: make([]uint32, cfg.ChildCount),
	}
	for i := range t.childLatency {
		t.childLatency[i] = -1
	}
	return t
}

// AddListener registers a listener for parent/quorum/up/down notifications.
func (t *Topology) AddListener(l Listener) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.listeners = append(t.listeners, l)
}

// EventGeneration returns the current monotonic event generation.
func (t *Topology) EventGeneration() uint32 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.eventGeneration
}

// ChildUp reports whether replica i is currently up.
func (t *Topology) ChildUp(i int) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.childUp[i]
}

// UpMask returns a snapshot of which replicas are currently up.
func (t *Topology) UpMask() []bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]bool, len(t.childUp))
	copy(out, t.childUp)
	return out
}

// UpCount returns how many replicas are currently up.
func (t *Topology) UpCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	n := 0
	for _, up := range t.childUp {
		if up {
			n++
		}
	}
	return n
}

// Latency returns the last observed ping latency for replica i, or a
// negative value if disconnected.
func (t *Topology) Latency(i int) int64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.childLatency[i]
}

// UpDownGen returns the event generation last stamped when replica i came
// up and when it went down, for the lock-heal flap check of spec.md §4.5
// step 4: a heal that started before a down/up pair completed must detect
// the intervening flap rather than install a stale lock.
func (t *Topology) UpDownGen(i int) (upGen, downGen uint32) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.childUpGen[i], t.childDownGen[i]
}

// HasQuorum reports whether the current up-replica count satisfies the
// configured quorum count (quorum disabled is always satisfied).
func (t *Topology) HasQuorum() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.hasQuorumLocked()
}

func (t *Topology) hasQuorumLocked() bool {
	if t.cfg.QuorumCount <= 0 {
		return true
	}
	up := 0
	for _, u := range t.childUp {
		if u {
			up++
		}
	}
	return up >= t.cfg.QuorumCount
}

// dispatch runs listener callbacks after releasing the lock, matching the
// "synctasks are launched after unlocking" rule of spec.md §5.
func (t *Topology) dispatch(fn func(Listener)) {
	t.mu.Lock()
	ls := make([]Listener, len(t.listeners))
	copy(ls, t.listeners)
	t.mu.Unlock()

	for _, l := range ls {
		fn(l)
	}
}

func (t *Topology) checkQuorumTransition(wasQuorum bool) {
	nowQuorum := t.HasQuorum()
	if wasQuorum == nowQuorum {
		return
	}
	ev := QuorumLost
	if nowQuorum {
		ev = QuorumMet
	}
	t.dispatch(func(l Listener) { l.OnQuorumEvent(ev) })
}

// ChildUpEvent processes a CHILD_UP(i) notification. It is a no-op if the
// replica is already marked up (spec.md §4.6: "repeated identical events:
// no event-gen bump; update last_event only").
func (t *Topology) ChildUpEvent(ctx context.Context, i int) {
	t.mu.Lock()
	wasQuorum := t.hasQuorumLocked()
	if t.childUp[i] {
		t.lastEvent[i] = EventChildUp
		t.mu.Unlock()
		return
	}
	t.childUp[i] = true
	t.eventGeneration++
	t.lastEvent[i] = EventChildUp
	t.childUpGen[i] = t.eventGeneration
	firstUp := t.countUpLocked() == 1
	t.mu.Unlock()

	logger.InfoCtx(ctx, "replica came up", logger.ReplicaIndex(i), logger.EventGen(t.EventGeneration()))

	t.dispatch(func(l Listener) { l.OnChildUp(i) })
	if firstUp {
		t.dispatch(func(l Listener) { l.OnParentEvent(ParentChildUp) })
	} else {
		t.dispatch(func(l Listener) { l.OnParentEvent(ParentSomeDescendentUp) })
	}
	t.checkQuorumTransition(wasQuorum)
	t.maybeHeardFromAll()
}

// ChildDownEvent processes a CHILD_DOWN(i) notification.
func (t *Topology) ChildDownEvent(ctx context.Context, i int) {
	t.mu.Lock()
	wasQuorum := t.hasQuorumLocked()
	if !t.childUp[i] {
		t.lastEvent[i] = EventChildDown
		t.mu.Unlock()
		return
	}
	t.childUp[i] = false
	t.eventGeneration++
	t.lastEvent[i] = EventChildDown
	t.childDownGen[i] = t.eventGeneration
	t.childLatency[i] = -1
	allDown := t.countUpLocked() == 0
	t.mu.Unlock()

	logger.WarnCtx(ctx, "replica went down", logger.ReplicaIndex(i), logger.EventGen(t.EventGeneration()))

	t.dispatch(func(l Listener) { l.OnChildDown(i) })
	if allDown {
		t.dispatch(func(l Listener) { l.OnParentEvent(ParentChildDown) })
	} else {
		t.dispatch(func(l Listener) { l.OnParentEvent(ParentSomeDescendentDown) })
	}
	t.checkQuorumTransition(wasQuorum)
	t.maybeHeardFromAll()
}

// ChildConnectingEvent records a CHILD_CONNECTING(i) notification. It never
// changes childUp or bumps the event generation; it is purely informational
// for the "heard from all" aggregate-propagation rule.
func (t *Topology) ChildConnectingEvent(i int) {
	t.mu.Lock()
	t.lastEvent[i] = EventChildConnecting
	t.mu.Unlock()
	t.maybeHeardFromAll()
}

// ChildPingEvent processes a CHILD_PING(i, latencyMs) notification, updating
// latency and, when halo mode is enabled, demoting/promoting the replica's
// halo-up bit per the threshold/min-replicas rule of spec.md §4.6.
func (t *Topology) ChildPingEvent(i int, latencyMs int64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.childLatency[i] = latencyMs

	if !t.cfg.HaloEnabled {
		return
	}
	upCount := t.countUpLocked()
	overThreshold := latencyMs > t.cfg.HaloThreshold.Milliseconds()
	if overThreshold && upCount > t.cfg.HaloMinReplicas {
		t.haloChildUp[i] = false
	} else if !overThreshold {
		t.haloChildUp[i] = true
	}
}

// HaloUp reports whether replica i currently passes the halo latency gate.
func (t *Topology) HaloUp(i int) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.haloChildUp[i]
}

func (t *Topology) countUpLocked() int {
	n := 0
	for _, up := range t.childUp {
		if up {
			n++
		}
	}
	return n
}

// ArmStagger starts the ~10s stagger timer described in spec.md §4.6: until
// it fires or every child has reported, aggregate propagation upward is
// suppressed and a synthetic SOME_DESCENDENT_DOWN is recorded for silent
// children.
func (t *Topology) ArmStagger(ctx context.Context) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.heardFromAll || t.staggerTimer != nil {
		return
	}
	timeout := t.cfg.StaggerTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	t.staggerTimer = time.AfterFunc(timeout, func() {
		t.onStaggerFire(ctx)
	})
}

func (t *Topology) onStaggerFire(ctx context.Context) {
	t.mu.Lock()
	if t.staggerStopped {
		t.mu.Unlock()
		return
	}
	t.staggerStopped = true
	anyUp := t.countUpLocked() > 0
	t.mu.Unlock()

	logger.InfoCtx(ctx, "stagger timer fired, propagating partial topology")
	if anyUp {
		t.dispatch(func(l Listener) { l.OnParentEvent(ParentSomeDescendentUp) })
	} else {
		t.dispatch(func(l Listener) { l.OnParentEvent(ParentSomeDescendentDown) })
	}
}

// maybeHeardFromAll propagates the aggregate CHILD_UP/CHILD_CONNECTING/
// CHILD_DOWN exactly once, the first time every index (plus the thin
// arbiter, if configured) has reported a non-NONE last_event.
func (t *Topology) maybeHeardFromAll() {
	t.mu.Lock()
	if t.heardFromAll {
		t.mu.Unlock()
		return
	}
	for _, ev := range t.lastEvent {
		if ev == EventNone {
			t.mu.Unlock()
			return
		}
	}
	if t.cfg.ThinArbiter && !t.taChildUp {
		// thin-arbiter readiness reported separately via ThinArbiterUp;
		// until then, treat as not yet heard from all.
		t.mu.Unlock()
		return
	}
	t.heardFromAll = true
	if t.staggerTimer != nil {
		t.staggerTimer.Stop()
		t.staggerStopped = true
	}
	upCount := t.countUpLocked()
	t.mu.Unlock()

	var ev ParentEvent
	switch {
	case upCount == len(t.childUp):
		ev = ParentChildUp
	case upCount == 0:
		ev = ParentChildDown
	default:
		ev = ParentSomeDescendentUp
	}
	t.dispatch(func(l Listener) { l.OnParentEvent(ev) })
}

// ThinArbiterUp marks the thin-arbiter witness reachable and stamps its own
// event generation, mirroring ta_child_up/ta_event_gen in spec.md §3.
func (t *Topology) ThinArbiterUp(up bool) {
	t.mu.Lock()
	t.taChildUp = up
	t.taEventGen = t.eventGeneration
	t.mu.Unlock()
	if up {
		t.maybeHeardFromAll()
	}
}

// ThinArbiterState returns the thin-arbiter's up flag and last-stamped
// event generation.
func (t *Topology) ThinArbiterState() (up bool, gen uint32) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.taChildUp, t.taEventGen
}

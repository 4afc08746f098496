// Package broker implements the execution broker: an in-memory registry of
// live executor endpoints, reachable over HTTP+JSON (§4.2).
package broker

import (
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/flowty/flowty/internal/domain"
)

// entry is one registered executor endpoint.
type entry struct {
	uuid          string
	uri           string
	definition    domain.ExecutorDefinition
	lastHeartbeat time.Time
}

// Registry is the mutex-protected executor registry. Registration is
// synchronous end to end — §9's fix for the "shared mutable collections"
// pattern: no write is ever detached into a background goroutine after a
// reply is sent, so a RegisterExecutor reply happens-before any subsequent
// FindExecutor can see the new entry.
type Registry struct {
	mu        sync.Mutex
	byURI     map[string]*entry
	byUUID    map[string]*entry
	staleness time.Duration
	now       func() time.Time
}

// DefaultStaleness is the default liveness threshold (§4.2).
const DefaultStaleness = 30 * time.Second

// NewRegistry constructs an empty Registry with the given staleness
// threshold. Pass 0 to use DefaultStaleness.
func NewRegistry(staleness time.Duration) *Registry {
	if staleness <= 0 {
		staleness = DefaultStaleness
	}
	return &Registry{
		byURI:     make(map[string]*entry),
		byUUID:    make(map[string]*entry),
		staleness: staleness,
		now:       time.Now,
	}
}

// RegisterExecutor inserts a new entry, or — if uri is already registered —
// bumps its last_heartbeat and returns its existing unique_id (§4.2,
// invariant 3: idempotent registration).
func (r *Registry) RegisterExecutor(uri string, def domain.ExecutorDefinition) string {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	if e, ok := r.byURI[uri]; ok {
		e.lastHeartbeat = now
		return e.uuid
	}

	e := &entry{
		uuid:          uuid.NewString(),
		uri:           uri,
		definition:    def,
		lastHeartbeat: now,
	}
	r.byURI[uri] = e
	r.byUUID[e.uuid] = e
	return e.uuid
}

// HeartBeat bumps the entry's last_heartbeat and echoes its unique_id. The
// second return is false on a miss, in which case callers must reply with
// an empty Heartbeat (§4.2) rather than surface an error — heartbeats are
// total, not fallible, RPCs.
func (r *Registry) HeartBeat(uniqueID string) (echo string, ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.byUUID[uniqueID]
	if !ok {
		return "", false
	}
	e.lastHeartbeat = r.now()
	return e.uuid, true
}

// FindExecutor returns the URI of a live entry whose unique_id and URI are
// both absent from blockList and whose definition satisfies requested (superset-on-packages matching, §9 Open
// Question 4), or "" if none match. Selection among multiple candidates is
// deterministic for a fixed registry snapshot: ascending by unique_id.
func (r *Registry) FindExecutor(requested domain.ExecutorDefinition, blockList []string) string {
	r.mu.Lock()
	defer r.mu.Unlock()

	blocked := make(map[string]struct{}, len(blockList))
	for _, id := range blockList {
		blocked[id] = struct{}{}
	}

	now := r.now()
	var candidates []*entry
	for _, e := range r.byUUID {
		if now.Sub(e.lastHeartbeat) > r.staleness {
			continue
		}
		if _, ok := blocked[e.uuid]; ok {
			continue
		}
		if _, ok := blocked[e.uri]; ok {
			continue
		}
		if !e.definition.Satisfies(requested) {
			continue
		}
		candidates = append(candidates, e)
	}
	if len(candidates) == 0 {
		return ""
	}
	sort.Slice(candidates, func(i, j int) bool { return candidates[i].uuid < candidates[j].uuid })
	return candidates[0].uri
}

// Size returns the total number of entries, live or stale.
func (r *Registry) Size() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.byUUID)
}

// Reap purges entries whose last_heartbeat is older than ttl, regardless of
// the staleness threshold used by FindExecutor — a hard TTL for diagnostic
// retention (§4.2).
func (r *Registry) Reap(ttl time.Duration) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	removed := 0
	for id, e := range r.byUUID {
		if now.Sub(e.lastHeartbeat) > ttl {
			delete(r.byUUID, id)
			delete(r.byURI, e.uri)
			removed++
		}
	}
	return removed
}

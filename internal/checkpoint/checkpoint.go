// Package checkpoint implements named logical snapshots of the store:
// memories, their incident causal edges, and working-memory entries,
// scoped to a spec folder or to the whole store (spec.md §4.11).
package checkpoint

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	cogerrors "github.com/cogmemd/cogmemd/internal/errors"
	"github.com/cogmemd/cogmemd/internal/store"
)

// snapshot is the opaque payload serialized into store.Checkpoint.Payload.
type snapshot struct {
	Memories      []*store.Memory             `json:"memories"`
	Edges         []*store.CausalEdge         `json:"edges"`
	WorkingMemory []*store.WorkingMemoryEntry `json:"working_memory"`
}

// RestoreResult reports what a restore actually did, for the caller's
// response envelope.
type RestoreResult struct {
	Name             string
	MemoriesRestored int
	EdgesRestored    int
	WorkingMemory    int
	ClearedExisting  bool
}

// Manager implements create/list/restore/delete over a metadata store,
// serializing restores across processes with an exclusive file lock.
type Manager struct {
	Metadata store.MetadataStore
	Lock     *RestoreLock
	Now      func() time.Time
}

func (m *Manager) now() time.Time {
	if m.Now != nil {
		return m.Now()
	}
	return time.Now()
}

// Create snapshots the scoped subset of the store under name, overwriting
// any existing checkpoint of the same name.
func (m *Manager) Create(ctx context.Context, name, specFolder, metadata string) (*store.Checkpoint, error) {
	if name == "" {
		return nil, cogerrors.New(cogerrors.CodeInvalidParameter, "checkpoint name is required", nil)
	}

	snap, err := m.gather(ctx, specFolder)
	if err != nil {
		return nil, err
	}
	payload, err := json.Marshal(snap)
	if err != nil {
		return nil, cogerrors.New(cogerrors.CodeInternal, "failed to serialize checkpoint payload", err)
	}

	cp := &store.Checkpoint{
		Name:       name,
		SpecFolder: specFolder,
		Metadata:   metadata,
		Payload:    payload,
		CreatedAt:  m.now(),
	}
	if err := m.Metadata.SaveCheckpoint(ctx, cp); err != nil {
		return nil, cogerrors.New(cogerrors.CodeDatabaseError, "failed to save checkpoint", err)
	}
	return cp, nil
}

// AutoCheckpoint creates a `pre-cleanup-<UTC-timestamp>` checkpoint ahead of
// a bulk destructive operation scoped to specFolder.
func (m *Manager) AutoCheckpoint(ctx context.Context, specFolder string) (*store.Checkpoint, error) {
	name := fmt.Sprintf("pre-cleanup-%d", m.now().UTC().Unix())
	return m.Create(ctx, name, specFolder, `{"reason":"auto, before bulk delete"}`)
}

// List returns checkpoints, optionally scoped to a spec folder, most recent
// first.
func (m *Manager) List(ctx context.Context, specFolder string, limit int) ([]*store.Checkpoint, error) {
	cps, err := m.Metadata.ListCheckpoints(ctx, specFolder, limit)
	if err != nil {
		return nil, cogerrors.New(cogerrors.CodeDatabaseError, "failed to list checkpoints", err)
	}
	return cps, nil
}

// Delete removes a named checkpoint, reporting whether it existed.
func (m *Manager) Delete(ctx context.Context, name string) (bool, error) {
	ok, err := m.Metadata.DeleteCheckpoint(ctx, name)
	if err != nil {
		return false, cogerrors.New(cogerrors.CodeDatabaseError, "failed to delete checkpoint", err)
	}
	return ok, nil
}

// Restore loads a named checkpoint and writes its scoped subset back into
// the store. With clearExisting it deletes the scoped memories first (a
// replace; an unscoped checkpoint clears the whole store). Without it, it
// merges by inserting the snapshot rows; file paths are unique, so a
// restored memory whose path is still present fails the restore with
// DATABASE_ERROR, leaving the rows written before it in place.
//
// Restore takes the manager's exclusive restore lock for the duration of the
// write, so two processes cannot restore the same store concurrently.
func (m *Manager) Restore(ctx context.Context, name string, clearExisting bool) (*RestoreResult, error) {
	if m.Lock != nil {
		if err := m.Lock.Lock(); err != nil {
			return nil, cogerrors.New(cogerrors.CodeUnavailable, "failed to acquire checkpoint restore lock", err)
		}
		defer func() { _ = m.Lock.Unlock() }()
	}

	cp, err := m.Metadata.GetCheckpoint(ctx, name)
	if err != nil {
		return nil, cogerrors.New(cogerrors.CodeDatabaseError, "failed to load checkpoint", err)
	}
	if cp == nil {
		return nil, cogerrors.New(cogerrors.CodeNotFound, "checkpoint not found: "+name, nil)
	}

	var snap snapshot
	if err := json.Unmarshal(cp.Payload, &snap); err != nil {
		return nil, cogerrors.New(cogerrors.CodeInternal, "failed to deserialize checkpoint payload", err)
	}

	if clearExisting {
		existing, err := m.memoriesInScope(ctx, cp.SpecFolder)
		if err != nil {
			return nil, cogerrors.New(cogerrors.CodeDatabaseError, "failed to list existing memories before restore", err)
		}
		for _, e := range existing {
			if _, err := m.Metadata.DeleteMemory(ctx, e.ID); err != nil {
				return nil, cogerrors.New(cogerrors.CodeDatabaseError, "failed to clear existing memory before restore", err)
			}
		}
	}

	idRemap := make(map[int64]int64, len(snap.Memories))
	for _, mem := range snap.Memories {
		oldID := mem.ID
		// The embedding vector lives in the vector store, not in this
		// snapshot, so a restored row cannot claim an already-resident
		// vector; mark it pending so the next index scan re-embeds it.
		restored := *mem
		restored.EmbeddingStatus = store.EmbeddingPending
		newID, err := m.Metadata.IndexMemory(ctx, &restored)
		if err != nil {
			return nil, cogerrors.New(cogerrors.CodeDatabaseError, "failed to restore memory "+mem.FilePath, err)
		}
		idRemap[oldID] = newID
	}

	edgesRestored := 0
	for _, e := range snap.Edges {
		src, ok1 := idRemap[e.SourceID]
		tgt, ok2 := idRemap[e.TargetID]
		if !ok1 || !ok2 {
			continue
		}
		restored := *e
		restored.SourceID, restored.TargetID = src, tgt
		if _, err := m.Metadata.InsertEdge(ctx, &restored); err != nil {
			return nil, cogerrors.New(cogerrors.CodeDatabaseError, "failed to restore causal edge", err)
		}
		edgesRestored++
	}

	wmRestored := make([]*store.WorkingMemoryEntry, 0, len(snap.WorkingMemory))
	for _, e := range snap.WorkingMemory {
		newID, ok := idRemap[e.MemoryID]
		if !ok {
			continue
		}
		restored := *e
		restored.MemoryID = newID
		wmRestored = append(wmRestored, &restored)
	}
	if len(wmRestored) > 0 {
		if err := m.Metadata.UpsertWorkingMemory(ctx, wmRestored); err != nil {
			return nil, cogerrors.New(cogerrors.CodeDatabaseError, "failed to restore working memory entries", err)
		}
	}

	return &RestoreResult{
		Name:             name,
		MemoriesRestored: len(idRemap),
		EdgesRestored:    edgesRestored,
		WorkingMemory:    len(wmRestored),
		ClearedExisting:  clearExisting,
	}, nil
}

// gather collects the tables covered by a checkpoint, scoped to specFolder
// when given, or the entire store when not.
func (m *Manager) gather(ctx context.Context, specFolder string) (*snapshot, error) {
	memories, err := m.memoriesInScope(ctx, specFolder)
	if err != nil {
		return nil, cogerrors.New(cogerrors.CodeDatabaseError, "failed to gather memories for checkpoint", err)
	}

	scopedIDs := make(map[int64]bool, len(memories))
	for _, mem := range memories {
		scopedIDs[mem.ID] = true
	}

	allEdges, err := m.Metadata.AllEdges(ctx)
	if err != nil {
		return nil, cogerrors.New(cogerrors.CodeDatabaseError, "failed to gather causal edges for checkpoint", err)
	}
	edges := make([]*store.CausalEdge, 0)
	for _, e := range allEdges {
		if scopedIDs[e.SourceID] && scopedIDs[e.TargetID] {
			edges = append(edges, e)
		}
	}

	allWM, err := m.Metadata.AllWorkingMemory(ctx)
	if err != nil {
		return nil, cogerrors.New(cogerrors.CodeDatabaseError, "failed to gather working memory for checkpoint", err)
	}
	wm := make([]*store.WorkingMemoryEntry, 0)
	for _, e := range allWM {
		if scopedIDs[e.MemoryID] {
			wm = append(wm, e)
		}
	}

	return &snapshot{Memories: memories, Edges: edges, WorkingMemory: wm}, nil
}

func (m *Manager) memoriesInScope(ctx context.Context, specFolder string) ([]*store.Memory, error) {
	if specFolder != "" {
		return m.Metadata.GetMemoriesByFolder(ctx, specFolder)
	}

	var out []*store.Memory
	cursor := ""
	for {
		page, next, err := m.Metadata.ListMemories(ctx, "", cursor, 500)
		if err != nil {
			return nil, err
		}
		out = append(out, page...)
		if next == "" {
			break
		}
		cursor = next
	}
	return out, nil
}

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"

	"ownrealm/pkg/core"
	"ownrealm/pkg/store"
)

// --- Core Loop ---

func (a *app) runGameLoop(ctx context.Context) error {
	ticker := time.NewTicker(a.cfg.TickInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			a.tickWorld(ctx)
		}
	}
}

// tickWorld finishes due queue entries, resolves arrived travel orders and
// refreshes the map cache. Every SnapshotEvery ticks the world is archived.
func (a *app) tickWorld(ctx context.Context) {
	current := a.tick.Add(1)

	if n, err := a.queue.CompleteDue(ctx); err != nil {
		ErrorLog.Printf("tick %d: complete queues: %v", current, err)
	} else if n > 0 {
		InfoLog.Printf("tick %d: %d queue entries completed", current, n)
	}

	rep, err := a.sweep.Run(ctx)
	if err != nil {
		ErrorLog.Printf("tick %d: sweep: %v", current, err)
	} else if rep.Resolved+rep.Failed > 0 {
		InfoLog.Printf("tick %d: sweep resolved=%d skipped=%d failed=%d", current, rep.Resolved, rep.Skipped, rep.Failed)
	}

	a.refreshMap(ctx)

	if a.cfg.SnapshotEvery > 0 && current%a.cfg.SnapshotEvery == 0 {
		if _, err := a.snapshotWorld(ctx, current); err != nil {
			ErrorLog.Printf("tick %d: snapshot: %v", current, err)
		}
	}
}

// refreshMap caches the settlement positions served by /api/map.
func (a *app) refreshMap(ctx context.Context) {
	list, err := a.store.ListSettlements(ctx)
	if err != nil {
		ErrorLog.Printf("map refresh: %v", err)
		return
	}
	if a.cfg.MapLimit > 0 && len(list) > a.cfg.MapLimit {
		list = list[:a.cfg.MapLimit]
	}
	entries := make([]mapEntry, 0, len(list))
	for _, s := range list {
		entries = append(entries, mapEntry{ID: s.ID, Name: s.Name, X: s.X, Y: s.Y})
	}
	data, err := json.Marshal(entries)
	if err != nil {
		ErrorLog.Printf("map refresh: %v", err)
		return
	}
	a.mapSnapshot.Store(data)
}

// snapshotWorld archives every settlement as a protobuf ListValue,
// lz4-compressed and chained to the previous snapshot by blake3. The first
// link chains to the world id.
func (a *app) snapshotWorld(ctx context.Context, tick int64) (*store.Snapshot, error) {
	now := a.now()
	list, err := a.store.ListSettlements(ctx)
	if err != nil {
		return nil, err
	}

	items := make([]any, 0, len(list))
	for _, s := range list {
		full, err := a.store.Settlement(ctx, s.ID, now)
		if err != nil {
			return nil, fmt.Errorf("settlement %d: %w", s.ID, err)
		}
		raw, err := json.Marshal(full)
		if err != nil {
			return nil, err
		}
		var generic any
		if err := json.Unmarshal(raw, &generic); err != nil {
			return nil, err
		}
		items = append(items, generic)
	}
	lv, err := structpb.NewList(items)
	if err != nil {
		return nil, fmt.Errorf("encode state: %w", err)
	}
	payload, err := proto.MarshalOptions{Deterministic: true}.Marshal(lv)
	if err != nil {
		return nil, fmt.Errorf("marshal state: %w", err)
	}
	compressed, err := core.Compress(payload)
	if err != nil {
		return nil, err
	}

	prevHash, err := a.store.LastSnapshotHash(ctx)
	if err != nil {
		return nil, err
	}
	if prevHash == "" {
		prevHash = a.store.WorldID()
	}

	snap := &store.Snapshot{
		Tick:      tick,
		Blob:      compressed,
		Hash:      core.ChainHash(compressed, prevHash),
		CreatedAt: now,
	}
	if err := a.store.SaveSnapshot(ctx, snap); err != nil {
		return nil, err
	}
	InfoLog.Printf("Snapshot %d at tick %d. Settlements: %d. Size: %d bytes. Hash: %s",
		snap.DayID, tick, len(list), len(compressed), snap.Hash)
	return snap, nil
}

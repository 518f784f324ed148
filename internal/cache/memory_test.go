// StreamWarden - Media Server Session Monitoring and Policy Enforcement
// Copyright 2026 StreamWarden contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/streamwarden/streamwarden

package cache

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/streamwarden/streamwarden/internal/models"
)

func TestMemorySessionCacheLifecycle(t *testing.T) {
	ctx := context.Background()
	c := NewMemorySessionCache()

	s := &models.Session{ID: "s-1", ServerID: "srv-1", SessionKey: "k-1", ServerUserID: "u-1"}
	if err := c.AddActiveSession(ctx, s); err != nil {
		t.Fatalf("AddActiveSession: %v", err)
	}

	active, err := c.GetAllActiveSessions(ctx)
	if err != nil || len(active) != 1 {
		t.Fatalf("GetAllActiveSessions = %v, %v", active, err)
	}

	ids, err := c.GetUserSessionIDs(ctx, "u-1")
	if err != nil || len(ids) != 1 || ids[0] != "s-1" {
		t.Fatalf("GetUserSessionIDs = %v, %v", ids, err)
	}

	// Stored copies are isolated from caller mutation.
	s.SessionKey = "mutated"
	got, err := c.GetSessionByID(ctx, "s-1")
	if err != nil {
		t.Fatalf("GetSessionByID: %v", err)
	}
	if got.SessionKey != "k-1" {
		t.Errorf("cached session shares memory with caller: key = %q", got.SessionKey)
	}

	if err := c.RemoveActiveSession(ctx, got); err != nil {
		t.Fatalf("RemoveActiveSession: %v", err)
	}
	active, _ = c.GetAllActiveSessions(ctx)
	if len(active) != 0 {
		t.Errorf("active after remove = %d", len(active))
	}
	// Blob stays readable for late readers.
	if got, _ := c.GetSessionByID(ctx, "s-1"); got == nil {
		t.Error("removed session blob should remain readable")
	}
	if ids, _ := c.GetUserSessionIDs(ctx, "u-1"); len(ids) != 0 {
		t.Errorf("user index after remove = %v", ids)
	}
}

func TestMemorySessionCacheCreateLockSerializes(t *testing.T) {
	ctx := context.Background()
	c := NewMemorySessionCache()

	var mu sync.Mutex
	inside := 0
	maxInside := 0

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = c.WithSessionCreateLock(ctx, "srv-1", "k-1", func(context.Context) error {
				mu.Lock()
				inside++
				if inside > maxInside {
					maxInside = inside
				}
				mu.Unlock()
				time.Sleep(time.Millisecond)
				mu.Lock()
				inside--
				mu.Unlock()
				return nil
			})
		}()
	}
	wg.Wait()

	if maxInside != 1 {
		t.Errorf("max concurrent holders = %d, want 1", maxInside)
	}
}

func TestMemoryKV(t *testing.T) {
	ctx := context.Background()
	kv := NewMemoryKV()

	ok, err := kv.SetNX(ctx, "k", []byte("a"), time.Minute)
	if err != nil || !ok {
		t.Fatalf("SetNX first = %v, %v", ok, err)
	}
	ok, _ = kv.SetNX(ctx, "k", []byte("b"), time.Minute)
	if ok {
		t.Error("SetNX should fail while key is live")
	}

	val, found, err := kv.Get(ctx, "k")
	if err != nil || !found || string(val) != "a" {
		t.Fatalf("Get = %q, %v, %v", val, found, err)
	}

	if err := kv.Set(ctx, "k", []byte("c"), time.Minute); err != nil {
		t.Fatalf("Set: %v", err)
	}
	val, _, _ = kv.Get(ctx, "k")
	if string(val) != "c" {
		t.Errorf("after Set, value = %q", val)
	}

	if err := kv.Del(ctx, "k"); err != nil {
		t.Fatalf("Del: %v", err)
	}
	if _, found, _ := kv.Get(ctx, "k"); found {
		t.Error("key should be gone after Del")
	}
}

func TestMemoryKVExpiry(t *testing.T) {
	ctx := context.Background()
	kv := NewMemoryKV()

	if ok, _ := kv.SetNX(ctx, "k", []byte("a"), time.Millisecond); !ok {
		t.Fatal("SetNX failed")
	}
	time.Sleep(5 * time.Millisecond)

	if _, found, _ := kv.Get(ctx, "k"); found {
		t.Error("expired key should not be found")
	}
	if ok, _ := kv.SetNX(ctx, "k", []byte("b"), time.Minute); !ok {
		t.Error("SetNX should succeed over an expired key")
	}
}

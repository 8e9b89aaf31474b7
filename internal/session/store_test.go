package session

import (
	"sort"
	"testing"
	"time"
)

func TestInMemoryStore_GetSetSession(t *testing.T) {
	store := NewInMemoryStore()

	_, ok := store.GetSession(ID("s1"))
	if ok {
		t.Error("expected not found for empty store")
	}

	sess := newSession(ID("s1"), nil, time.Now())
	store.SetSession(sess)

	got, ok := store.GetSession(ID("s1"))
	if !ok || got != sess {
		t.Errorf("GetSession: ok=%v, got %p want %p", ok, got, sess)
	}
}

func TestInMemoryStore_SetSession_replaces(t *testing.T) {
	store := NewInMemoryStore()
	s1 := newSession(ID("s1"), nil, time.Now())
	s2 := newSession(ID("s1"), nil, time.Now())
	store.SetSession(s1)
	store.SetSession(s2)

	got, ok := store.GetSession(ID("s1"))
	if !ok || got != s2 {
		t.Errorf("SetSession should replace: got %p want %p", got, s2)
	}
}

func TestInMemoryStore_DeleteAndList(t *testing.T) {
	store := NewInMemoryStore()
	for _, id := range []ID{"b", "a", "c"} {
		store.SetSession(newSession(id, nil, time.Now()))
	}
	store.DeleteSession("b")
	store.DeleteSession("missing")

	ids := store.ListSessionIDs()
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	if len(ids) != 2 || ids[0] != "a" || ids[1] != "c" {
		t.Errorf("ListSessionIDs = %v", ids)
	}
}

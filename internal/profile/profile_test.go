package profile

import (
	"errors"
	"testing"

	"github.com/life-stream-dev/life-stream-go-docdb-client/internal/protocol"
)

func TestMemoryStore(t *testing.T) {
	store := NewMemoryStore()
	_ = store.Save(&protocol.Endpoint{Name: "local", Host: "127.0.0.1", Port: 7420})
	_ = store.Save(&protocol.Endpoint{Name: "staging", Host: "db.staging", Port: 7420})

	ep, err := store.Get("local")
	if err != nil {
		t.Fatal("Except got profile local, but got error")
	}
	if ep.Host != "127.0.0.1" {
		t.Errorf("expected host 127.0.0.1, got %s", ep.Host)
	}

	if len(store.List()) != 2 {
		t.Errorf("expected 2 profiles, got %d", len(store.List()))
	}

	_ = store.Delete("local")
	if _, err = store.Get("local"); !errors.Is(err, ProfileNotFoundError) {
		t.Error("Except not found error, but got nil")
	}
}

func TestMemoryStoreEmptyName(t *testing.T) {
	store := NewMemoryStore()
	if err := store.Save(&protocol.Endpoint{}); !errors.Is(err, ProfileNameEmptyError) {
		t.Error("expected empty name error")
	}
	if _, err := store.Get(""); !errors.Is(err, ProfileNameEmptyError) {
		t.Error("expected empty name error")
	}
}

package tabsync

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"
)

func TestMemoryStorage(t *testing.T) {
	s := NewMemoryStorage()

	if _, ok, err := s.GetItem("missing"); ok || err != nil {
		t.Errorf("GetItem(missing) = ok %v, err %v", ok, err)
	}

	if err := s.SetItem("k", "v1"); err != nil {
		t.Fatalf("SetItem() error = %v", err)
	}
	s.SetItem("k", "v2")

	v, ok, err := s.GetItem("k")
	if err != nil || !ok || v != "v2" {
		t.Errorf("GetItem(k) = %q, %v, %v; want v2, true, nil", v, ok, err)
	}
	if n := s.Len(); n != 1 {
		t.Errorf("Len() = %d, want 1", n)
	}

	if err := s.RemoveItem("k"); err != nil {
		t.Fatalf("RemoveItem() error = %v", err)
	}
	if err := s.RemoveItem("k"); err != nil {
		t.Errorf("RemoveItem() of missing key error = %v", err)
	}
	if n := s.Len(); n != 0 {
		t.Errorf("Len() = %d, want 0", n)
	}
}

func TestMigrate(t *testing.T) {
	migrations := []Migration{
		{From: 0, Migrate: func(state json.RawMessage) (json.RawMessage, error) {
			return json.RawMessage(strings.Replace(string(state), `"name"`, `"value"`, 1)), nil
		}},
		{From: 1, Migrate: func(state json.RawMessage) (json.RawMessage, error) {
			var s snapshot
			if err := json.Unmarshal(state, &s); err != nil {
				return nil, err
			}
			s.Count = 1
			return json.Marshal(s)
		}},
	}

	out, err := migrate(migrations, json.RawMessage(`{"name":"old"}`), 0, 2)
	if err != nil {
		t.Fatalf("migrate() error = %v", err)
	}
	if want := `{"value":"old","count":1}`; string(out) != want {
		t.Errorf("migrate() = %s, want %s", out, want)
	}

	same, err := migrate(nil, json.RawMessage(`{}`), 3, 3)
	if err != nil || string(same) != `{}` {
		t.Errorf("migrate() at target = %s, %v", same, err)
	}
}

func TestMigrateErrors(t *testing.T) {
	if _, err := migrate(nil, json.RawMessage(`{}`), 2, 1); err == nil {
		t.Error("expected error for newer persisted version")
	}
	if _, err := migrate(nil, json.RawMessage(`{}`), 0, 1); err == nil {
		t.Error("expected error for missing migration")
	}

	boom := errors.New("boom")
	failing := []Migration{{From: 0, Migrate: func(json.RawMessage) (json.RawMessage, error) {
		return nil, boom
	}}}
	if _, err := migrate(failing, json.RawMessage(`{}`), 0, 1); !errors.Is(err, boom) {
		t.Errorf("error = %v, want %v", err, boom)
	}
}

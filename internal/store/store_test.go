package store

import (
	"path/filepath"
	"testing"
)

type testState struct {
	CumulativeSpend float64  `json:"cumulative_spend"`
	ManagedTokens   []string `json:"managed_tokens"`
}

func TestSaveAndLoad(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()

	f, err := Open[testState](filepath.Join(dir, "bot_state.json"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	want := testState{CumulativeSpend: 12.34, ManagedTokens: []string{"t1", "t2"}}
	if err := f.Save(want); err != nil {
		t.Fatalf("Save: %v", err)
	}

	got, ok := f.Load()
	if !ok {
		t.Fatal("Load: ok = false, want true")
	}
	if got.CumulativeSpend != want.CumulativeSpend {
		t.Errorf("CumulativeSpend = %v, want %v", got.CumulativeSpend, want.CumulativeSpend)
	}
	if len(got.ManagedTokens) != 2 {
		t.Errorf("ManagedTokens = %v, want 2 entries", got.ManagedTokens)
	}
}

func TestLoadMissingResetsToZero(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()

	f, err := Open[testState](filepath.Join(dir, "nonexistent.json"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	got, ok := f.Load()
	if ok {
		t.Error("Load: ok = true for missing file, want false")
	}
	if got.CumulativeSpend != 0 {
		t.Errorf("CumulativeSpend = %v, want 0", got.CumulativeSpend)
	}
}

func TestLoadCorruptResetsToZero(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	path := filepath.Join(dir, "bot_state.json")

	f, err := Open[testState](path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := writeAtomic(path, "not a valid state object"); err != nil {
		t.Fatalf("writeAtomic: %v", err)
	}

	got, ok := f.Load()
	if ok {
		t.Error("Load: ok = true for corrupt file, want false")
	}
	if got.CumulativeSpend != 0 {
		t.Errorf("CumulativeSpend = %v, want 0", got.CumulativeSpend)
	}
}

func TestAppendJSONArray(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	path := filepath.Join(dir, "logs", "trades.json")

	if err := AppendJSONArray(path, map[string]any{"trade_type": "BUY"}); err != nil {
		t.Fatalf("AppendJSONArray: %v", err)
	}
	if err := AppendJSONArray(path, map[string]any{"trade_type": "SELL"}); err != nil {
		t.Fatalf("AppendJSONArray: %v", err)
	}

	entries := ReadJSONArray[map[string]any](path)
	if len(entries) != 2 {
		t.Fatalf("len(entries) = %d, want 2", len(entries))
	}
	if entries[0]["trade_type"] != "BUY" || entries[1]["trade_type"] != "SELL" {
		t.Errorf("entries out of order: %+v", entries)
	}
}

func TestReadJSONArrayMissing(t *testing.T) {
	t.Parallel()
	entries := ReadJSONArray[map[string]any](filepath.Join(t.TempDir(), "missing.json"))
	if entries != nil {
		t.Errorf("entries = %+v, want nil", entries)
	}
}

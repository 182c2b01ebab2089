package locale

import (
	"context"
	"errors"
	"sync"
	"testing"
)

type failingStore struct {
	getErr error
	setErr error
}

func (f failingStore) Get(context.Context, string) (string, error) { return "", f.getErr }
func (f failingStore) Set(context.Context, string, string) error { return f.setErr }

func TestNewSelector_Restore(t *testing.T) {
	c := mustDefault(t)
	tests := []struct {
		name   string
		stored string
		want   string
	}{
		{"unset", "", "zh"},
		{"english", "en", "en"},
		{"chinese", "zh", "zh"},
		{"unsupported", "fr", "zh"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := NewMemoryStore()
			if tt.stored != "" {
				store.Set(t.Context(), StoreKey, tt.stored)
			}
			s, err := NewSelector(t.Context(), c, store)
			if err != nil {
				t.Fatalf("NewSelector: %v", err)
			}
			if s.Current() != tt.want {
				t.Fatalf("Current = %q, want %q", s.Current(), tt.want)
			}
		})
	}
}

func TestNewSelector_StoreError(t *testing.T) {
	boom := errors.New("disk on fire")
	_, err := NewSelector(t.Context(), mustDefault(t), failingStore{getErr: boom})
	if !errors.Is(err, boom) {
		t.Fatalf("err = %v", err)
	}
}

func TestSelector_Set(t *testing.T) {
	c := mustDefault(t)
	store := NewMemoryStore()
	s, err := NewSelector(t.Context(), c, store)
	if err != nil {
		t.Fatal(err)
	}
	if got := s.T("app.title", nil); got != "PDF 拆分工具" {
		t.Fatalf("T before Set = %q", got)
	}

	if err := s.Set(t.Context(), "en"); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if s.Current() != "en" {
		t.Fatalf("Current = %q", s.Current())
	}
	if got := s.T("preview.selected", map[string]any{"n": 2}); got != "2 selected" {
		t.Fatalf("T = %q", got)
	}
	if v, _ := store.Get(t.Context(), StoreKey); v != "en" {
		t.Fatalf("stored = %q", v)
	}

	// a fresh selector over the same store sees the change
	s2, err := NewSelector(t.Context(), c, store)
	if err != nil || s2.Current() != "en" {
		t.Fatalf("restored = %q, %v", s2.Current(), err)
	}
}

func TestSelector_SetUnsupported(t *testing.T) {
	s, err := NewSelector(t.Context(), mustDefault(t), NewMemoryStore())
	if err != nil {
		t.Fatal(err)
	}
	if err := s.Set(t.Context(), "fr"); !errors.Is(err, ErrUnsupported) {
		t.Fatalf("err = %v", err)
	}
	if s.Current() != "zh" {
		t.Fatalf("Current changed to %q", s.Current())
	}
}

func TestSelector_SetPersistFailure(t *testing.T) {
	boom := errors.New("read-only")
	s, err := NewSelector(t.Context(), mustDefault(t), failingStore{getErr: ErrNotFound, setErr: boom})
	if err != nil {
		t.Fatal(err)
	}
	if err := s.Set(t.Context(), "en"); !errors.Is(err, boom) {
		t.Fatalf("err = %v", err)
	}
	if s.Current() != "zh" {
		t.Fatalf("Current = %q, want unchanged", s.Current())
	}
}

func TestSelector_Concurrent(t *testing.T) {
	s, err := NewSelector(t.Context(), mustDefault(t), NewMemoryStore())
	if err != nil {
		t.Fatal(err)
	}
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			loc := "en"
			if i%2 == 0 {
				loc = "zh"
			}
			if err := s.Set(t.Context(), loc); err != nil {
				t.Errorf("Set: %v", err)
			}
			_ = s.T("app.title", nil)
		}(i)
	}
	wg.Wait()
	if cur := s.Current(); cur != "en" && cur != "zh" {
		t.Fatalf("Current = %q", cur)
	}
}

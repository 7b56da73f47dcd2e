package memory

import (
	"context"
	"errors"
	"testing"

	"curvedex/internal/domain"
	"curvedex/internal/storage"
)

func TestPriceTickStore_InsertAndGetSince(t *testing.T) {
	store := NewPriceTickStore()
	ctx := context.Background()

	// out of order on purpose
	for _, tick := range []*domain.PriceTick{
		{Price: 2.3, ObservedAt: 3000},
		{Price: 2.0, ObservedAt: 1000},
		{Price: 2.1, ObservedAt: 2000},
	} {
		if err := store.Insert(ctx, tick); err != nil {
			t.Fatalf("Insert: %v", err)
		}
	}

	got, err := store.GetSince(ctx, 0)
	if err != nil {
		t.Fatalf("GetSince: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("ticks = %d, want 3", len(got))
	}
	for i := 1; i < len(got); i++ {
		if got[i-1].ObservedAt >= got[i].ObservedAt {
			t.Errorf("ticks not ascending: %d before %d", got[i-1].ObservedAt, got[i].ObservedAt)
		}
	}

	windowed, err := store.GetSince(ctx, 2000)
	if err != nil {
		t.Fatalf("GetSince: %v", err)
	}
	if len(windowed) != 2 {
		t.Errorf("windowed ticks = %d, want 2", len(windowed))
	}
}

func TestPriceTickStore_ReturnsCopies(t *testing.T) {
	store := NewPriceTickStore()
	ctx := context.Background()

	if err := store.Insert(ctx, &domain.PriceTick{Price: 2.0, ObservedAt: 1000}); err != nil {
		t.Fatalf("Insert: %v", err)
	}

	got, err := store.GetSince(ctx, 0)
	if err != nil {
		t.Fatalf("GetSince: %v", err)
	}
	got[0].Price = 99

	again, err := store.GetSince(ctx, 0)
	if err != nil {
		t.Fatalf("GetSince: %v", err)
	}
	if again[0].Price != 2.0 {
		t.Errorf("stored tick mutated through returned pointer: %v", again[0].Price)
	}
}

func TestPriceTickStore_InsertNil(t *testing.T) {
	store := NewPriceTickStore()
	if err := store.Insert(context.Background(), nil); !errors.Is(err, storage.ErrInvalidInput) {
		t.Fatalf("err = %v, want ErrInvalidInput", err)
	}
}

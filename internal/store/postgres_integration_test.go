//go:build postgres_integration

package store

import (
	"context"
	"os"
	"sync"
	"testing"

	"github.com/google/uuid"

	"orderbridge/internal/model"
)

func TestPostgresCustomerUpsertAgainstDatabase(t *testing.T) {
	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" { t.Skip("DATABASE_URL not set; skipping integration test") }
	p, err := NewPostgres(dsn)
	if err != nil { t.Fatalf("NewPostgres: %v", err) }
	ctx := context.Background()
	if err := p.Migrate(ctx); err != nil { t.Fatalf("Migrate: %v", err) }

	company := "co-" + uuid.New().String()
	addr := &model.Address{Street: "Rainbow St", Building: "12"}
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, _, err := p.FindOrCreateCustomer(ctx, "0791234567", company, CustomerData{Name: "Lina", Address: addr}); err != nil && err != ErrConflict {
				t.Errorf("FindOrCreateCustomer: %v", err)
			}
		}()
	}
	wg.Wait()
	n, err := p.CountCustomers(ctx, company)
	if err != nil { t.Fatalf("CountCustomers: %v", err) }
	if n != 1 { t.Fatalf("want 1 customer, got %d", n) }
}

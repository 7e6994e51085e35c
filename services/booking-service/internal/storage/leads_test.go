package storage

import (
	"context"
	"os"
	"testing"

	"github.com/google/uuid"

	"github.com/assistly/callcore/libs/db"
	"github.com/assistly/callcore/services/booking-service/internal/model"
)

func openTestPool(t *testing.T) *db.Pool {
	t.Helper()
	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		t.Skip("DATABASE_URL not set")
	}
	pool, err := db.Open(context.Background(), dsn, db.Options{MaxConns: 2})
	if err != nil {
		t.Fatalf("open pool: %v", err)
	}
	t.Cleanup(pool.Close)
	return pool
}

func upsertLead(t *testing.T, repo *LeadRepository, pool *db.Pool, lead model.Lead) string {
	t.Helper()
	ctx := context.Background()
	tx, err := pool.Begin(ctx)
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()
	id, err := repo.Upsert(ctx, tx, lead)
	if err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if err := tx.Commit(ctx); err != nil {
		t.Fatalf("commit: %v", err)
	}
	return id
}

func TestLeadUpsert_IdempotentByPhone(t *testing.T) {
	pool := openTestPool(t)
	repo := NewLeadRepository(pool)
	ctx := context.Background()

	// Fresh business id isolates this test from existing rows.
	businessID := uuid.NewString()
	phone := "+15550008888"
	t.Cleanup(func() {
		_, _ = pool.Exec(context.Background(), `DELETE FROM leads WHERE business_id = $1`, businessID)
	})

	first := upsertLead(t, repo, pool, model.Lead{
		BusinessID: businessID,
		Name:       "Dana",
		Phone:      phone,
		Language:   "en",
	})
	second := upsertLead(t, repo, pool, model.Lead{
		BusinessID: businessID,
		Name:       "Dana Cole",
		Phone:      phone,
		Language:   "es",
	})

	if first != second {
		t.Fatalf("repeat caller created a second lead: %s vs %s", first, second)
	}

	var count int
	if err := pool.QueryRow(ctx, `SELECT count(*) FROM leads WHERE business_id = $1`, businessID).Scan(&count); err != nil {
		t.Fatalf("count leads: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected exactly one lead row, got %d", count)
	}

	lead, err := repo.GetByPhone(ctx, businessID, phone)
	if err != nil {
		t.Fatalf("GetByPhone: %v", err)
	}
	if lead.Name != "Dana Cole" {
		t.Fatalf("name = %q, want the latest value", lead.Name)
	}
	if lead.Language != "es" {
		t.Fatalf("language = %q, want the latest value", lead.Language)
	}
}

func TestLeadUpsert_SamePhoneDifferentBusiness(t *testing.T) {
	pool := openTestPool(t)
	repo := NewLeadRepository(pool)

	bizA := uuid.NewString()
	bizB := uuid.NewString()
	phone := "+15550007777"
	t.Cleanup(func() {
		_, _ = pool.Exec(context.Background(), `DELETE FROM leads WHERE business_id IN ($1, $2)`, bizA, bizB)
	})

	idA := upsertLead(t, repo, pool, model.Lead{BusinessID: bizA, Name: "Dana", Phone: phone, Language: "en"})
	idB := upsertLead(t, repo, pool, model.Lead{BusinessID: bizB, Name: "Dana", Phone: phone, Language: "en"})

	if idA == idB {
		t.Fatal("leads are scoped per business; same phone must not collapse across businesses")
	}
}

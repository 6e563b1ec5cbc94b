//go:build postgres_integration

package store

import (
	"os"
	"testing"

	"depotroute/internal/model"
)

func TestPostgresConnectivityAndMigrate(t *testing.T) {
	dsn := os.Getenv("TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("TEST_DATABASE_URL not set; skipping integration test")
	}
	p, err := NewPostgres(dsn)
	if err != nil {
		t.Fatalf("NewPostgres: %v", err)
	}
	defer p.Close()
	if err := p.Ping(t.Context()); err != nil {
		t.Fatalf("Ping: %v", err)
	}
	if err := p.Migrate(t.Context()); err != nil {
		t.Fatalf("Migrate: %v", err)
	}
	d, err := p.CreateDepot(t.Context(), model.Depot{
		Name:             "it-depot",
		Location:         model.GeoPoint{Lat: 40, Lng: -105},
		AvailableDrivers: 3,
	})
	if err != nil {
		t.Fatalf("CreateDepot: %v", err)
	}
	if _, err := p.ListOrders(t.Context(), d.ID, "", 1); err != nil {
		t.Fatalf("ListOrders: %v", err)
	}
}

package main

import (
	"context"
	"flag"
	"log"
	"os"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"

	"github.com/rasuna-dev/backend-antar/internal/auth"
)

// Seeds demo drivers and deliveries for local development. Safe to re-run:
// drivers upsert on phone and deliveries are skipped when their order ref
// already exists.
func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, relying on environment variables")
	}

	pin := flag.String("pin", "123456", "PIN assigned to every seeded driver")
	flag.Parse()

	dbURL := os.Getenv("DATABASE_URL")
	if dbURL == "" {
		log.Fatal("DATABASE_URL is not set")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	pool, err := pgxpool.New(ctx, dbURL)
	if err != nil {
		log.Fatalf("open pool: %v", err)
	}
	defer pool.Close()

	if err := pool.Ping(ctx); err != nil {
		log.Fatalf("ping database: %v", err)
	}

	// Every demo driver shares the same PIN, so hash once.
	pinHash, err := auth.HashPIN(*pin)
	if err != nil {
		log.Fatalf("hash pin: %v", err)
	}

	driverIDs := seedDrivers(ctx, pool, pinHash)
	seedDeliveries(ctx, pool, driverIDs)

	log.Println("Seeding completed successfully!")
}

func seedDrivers(ctx context.Context, pool *pgxpool.Pool, pinHash string) map[string]string {
	drivers := []struct {
		Name  string
		Phone string
		Plate string
		Role  string
	}{
		{"Dispatcher Rasuna", "+628110000001", "", "admin"},
		{"Agus Saputra", "+628120000002", "B 3416 KDA", "driver"},
		{"Rina Marlina", "+628130000003", "B 6721 PAH", "driver"},
		{"Dimas Prakoso", "+628140000004", "B 4402 TWX", "driver"},
		{"Lia Kusuma", "+628150000005", "B 5190 SGR", "driver"},
	}

	log.Println("Seeding Drivers...")
	ids := make(map[string]string)
	for _, d := range drivers {
		_, err := pool.Exec(ctx, `
			INSERT INTO drivers (name, phone, vehicle_plate, role, pin_hash)
			VALUES ($1, $2, $3, $4, $5)
			ON CONFLICT (phone) DO NOTHING;
		`, d.Name, d.Phone, d.Plate, d.Role, pinHash)
		if err != nil {
			log.Printf("Failed to seed driver %s: %v", d.Phone, err)
			continue
		}

		var id string
		if err := pool.QueryRow(ctx, "SELECT id FROM drivers WHERE phone = $1", d.Phone).Scan(&id); err != nil {
			log.Printf("Failed to get ID for driver %s: %v", d.Phone, err)
			continue
		}
		ids[d.Phone] = id
	}
	return ids
}

func seedDeliveries(ctx context.Context, pool *pgxpool.Pool, driverIDs map[string]string) {
	deliveries := []struct {
		OrderRef        string
		DriverPhone     string
		VendorName      string
		VendorAddress   string
		CustomerName    string
		CustomerAddress string
		Fee             int64
		Status          string
		// Statuses already walked, in order, excluding the initial one.
		Trail []string
	}{
		{
			OrderRef:        "ord-1001",
			DriverPhone:     "+628120000002",
			VendorName:      "Warung Tekko Kuningan",
			VendorAddress:   "Jl. HR Rasuna Said Kav. C-2, Jakarta Selatan",
			CustomerName:    "Budi Santoso",
			CustomerAddress: "Jl. Sudirman No. 1, Jakarta Selatan",
			Fee:             24000,
			Status:          "delivered",
			Trail: []string{
				"on_route_to_vendor", "arrived_at_vendor", "picked_up",
				"on_route_to_customer", "arrived_at_customer", "delivered",
			},
		},
		{
			OrderRef:        "ord-1002",
			DriverPhone:     "+628130000003",
			VendorName:      "Sate Khas Senayan",
			VendorAddress:   "Jl. Kebon Sirih No. 31A, Jakarta Pusat",
			CustomerName:    "Sari Dewi",
			CustomerAddress: "Jl. Cikini Raya No. 58, Jakarta Pusat",
			Fee:             18000,
			Status:          "on_route_to_customer",
			Trail:           []string{"on_route_to_vendor", "arrived_at_vendor", "picked_up", "on_route_to_customer"},
		},
		{
			OrderRef:        "ord-1003",
			DriverPhone:     "+628140000004",
			VendorName:      "Bakmi GM Grand Indonesia",
			VendorAddress:   "Jl. MH Thamrin No. 1, Jakarta Pusat",
			CustomerName:    "Andi Pratama",
			CustomerAddress: "Jl. KH Wahid Hasyim No. 96, Jakarta Pusat",
			Fee:             15000,
			Status:          "assigned",
			Trail:           nil,
		},
	}

	log.Println("Seeding Deliveries...")
	for _, d := range deliveries {
		driverID, ok := driverIDs[d.DriverPhone]
		if !ok {
			log.Printf("Missing driver for %s", d.OrderRef)
			continue
		}

		var exists bool
		if err := pool.QueryRow(ctx, "SELECT EXISTS(SELECT 1 FROM deliveries WHERE order_ref = $1)", d.OrderRef).Scan(&exists); err != nil {
			log.Printf("Failed to check delivery %s: %v", d.OrderRef, err)
			continue
		}
		if exists {
			continue
		}

		start := time.Now().Add(-time.Duration(15*(len(d.Trail)+1)) * time.Minute)

		var deliveredAt *time.Time
		if d.Status == "delivered" {
			t := start.Add(time.Duration(15*len(d.Trail)) * time.Minute)
			deliveredAt = &t
		}

		var deliveryID string
		err := pool.QueryRow(ctx, `
			INSERT INTO deliveries (order_ref, driver_id, vendor_name, vendor_address,
				customer_name, customer_address, fee, currency, status, delivered_at, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, 'IDR', $8, $9, $10)
			RETURNING id;
		`, d.OrderRef, driverID, d.VendorName, d.VendorAddress, d.CustomerName, d.CustomerAddress,
			decimal.NewFromInt(d.Fee), d.Status, deliveredAt, start).Scan(&deliveryID)
		if err != nil {
			log.Printf("Failed to seed delivery %s: %v", d.OrderRef, err)
			continue
		}

		seedTimeline(ctx, pool, deliveryID, d.Trail, start)
		if d.Status == "on_route_to_customer" {
			seedLocations(ctx, pool, driverID, deliveryID)
		}
	}
}

// seedTimeline records the initial assignment plus one event per walked
// status, spaced out so ordering matches a real run.
func seedTimeline(ctx context.Context, pool *pgxpool.Pool, deliveryID string, trail []string, start time.Time) {
	from := ""
	events := append([]string{"assigned"}, trail...)
	for i, status := range events {
		recordedAt := start.Add(time.Duration(15*i) * time.Minute)
		confirmed := status == "delivered"
		_, err := pool.Exec(ctx, `
			INSERT INTO delivery_events (delivery_id, from_status, to_status, note, confirmed, recorded_at)
			VALUES ($1, NULLIF($2, ''), $3, NULL, $4, $5);
		`, deliveryID, from, status, confirmed, recordedAt)
		if err != nil {
			log.Printf("Failed to seed event %s for %s: %v", status, deliveryID, err)
		}
		from = status
	}
}

// seedLocations drops a few pings along Jl. Rasuna Said so the live map and
// the admin position endpoints have something to show.
func seedLocations(ctx context.Context, pool *pgxpool.Pool, driverID, deliveryID string) {
	points := []struct {
		Lat, Lng float64
		Battery  int
	}{
		{-6.2241, 106.8310, 84},
		{-6.2205, 106.8333, 82},
		{-6.2163, 106.8355, 81},
	}

	log.Println("Seeding Locations...")
	base := time.Now().Add(-6 * time.Minute)
	for i, p := range points {
		_, err := pool.Exec(ctx, `
			INSERT INTO driver_locations (driver_id, delivery_id, lat, lng, speed_kph, heading, accuracy_m, battery_pct, charging, recorded_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, false, $9);
		`, driverID, deliveryID, p.Lat, p.Lng, 22.5, 40.0, 8.0, p.Battery, base.Add(time.Duration(2*i)*time.Minute))
		if err != nil {
			log.Printf("Failed to seed location for %s: %v", driverID, err)
		}
	}
}

package main

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/docpoint/booking-engine/internal/auth"
	"github.com/docpoint/booking-engine/internal/booking"
	"github.com/docpoint/booking-engine/internal/config"
	"github.com/docpoint/booking-engine/internal/db"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)
	log.Println("seed starting")

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config load error: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	pool, err := db.ConnectPostgres(ctx, cfg.PostgresDSN)
	if err != nil {
		log.Fatalf("connect postgres: %v", err)
	}
	defer pool.Close()

	gofakeit.Seed(time.Now().UnixNano())

	if err := ensureSchema(ctx, pool); err != nil {
		log.Fatalf("ensure schema: %v", err)
	}

	patientIDs, err := seedAppointments(ctx, pool, 200)
	if err != nil {
		log.Fatalf("seed appointments: %v", err)
	}

	printDemoTokens(cfg, patientIDs)

	log.Println("seed complete")
}

func ensureSchema(ctx context.Context, pool *pgxpool.Pool) error {
	log.Println("ensuring schema")

	statements := []string{
		`CREATE TABLE IF NOT EXISTS appointments (
			id               uuid PRIMARY KEY,
			patient_id       uuid NOT NULL,
			created_by       uuid NOT NULL,
			patient_name     text NOT NULL,
			age              int NOT NULL,
			gender           text NOT NULL,
			phone            text NOT NULL,
			address          text NOT NULL,
			resource_id      uuid NOT NULL,
			starts_at        timestamptz NOT NULL,
			status           text NOT NULL,
			payment_ref      text,
			hold_expires_at  timestamptz,
			confirmed_at     timestamptz,
			cancelled_at     timestamptz,
			created_at       timestamptz NOT NULL DEFAULT now(),
			updated_at       timestamptz NOT NULL DEFAULT now()
		)`,
		// The uniqueness invariant: at most one occupying appointment per slot key
		`CREATE UNIQUE INDEX IF NOT EXISTS uq_appointments_slot_occupied
			ON appointments (resource_id, starts_at)
			WHERE status IN ('holding', 'confirmed')`,
		`CREATE INDEX IF NOT EXISTS ix_appointments_patient
			ON appointments (patient_id, starts_at)`,
		`CREATE INDEX IF NOT EXISTS ix_appointments_stale_holds
			ON appointments (hold_expires_at)
			WHERE status = 'holding'`,
		`CREATE TABLE IF NOT EXISTS payment_attempts (
			id             uuid PRIMARY KEY,
			appointment_id uuid NOT NULL REFERENCES appointments (id),
			amount_cents   bigint NOT NULL,
			status         text NOT NULL,
			gateway_ref    text NOT NULL UNIQUE,
			created_at     timestamptz NOT NULL DEFAULT now(),
			updated_at     timestamptz NOT NULL DEFAULT now()
		)`,
		`CREATE TABLE IF NOT EXISTS event_logs (
			id             bigserial PRIMARY KEY,
			event_type     text NOT NULL,
			appointment_id uuid,
			payload        jsonb,
			created_at     timestamptz NOT NULL DEFAULT now()
		)`,
	}

	for _, stmt := range statements {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return err
		}
	}

	log.Println("schema ready")
	return nil
}

func seedAppointments(ctx context.Context, pool *pgxpool.Pool, count int) ([]uuid.UUID, error) {
	log.Printf("seeding %d appointments", count)

	genders := []string{"Male", "Female", "Other"}
	adminID := uuid.New()

	var patientIDs []uuid.UUID

	tx, err := pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	// Spread slots over the coming weeks, 9:00-16:00, one per hour; every
	// slot key used at most once so the partial unique index stays happy.
	day := time.Now().UTC().Truncate(24 * time.Hour).Add(24 * time.Hour)
	hour := 9

	for i := 0; i < count; i++ {
		patientID := uuid.New()
		patientIDs = append(patientIDs, patientID)

		start := day.Add(time.Duration(hour) * time.Hour)
		hour++
		if hour > 16 {
			hour = 9
			day = day.Add(24 * time.Hour)
		}

		status := booking.StatusConfirmed
		createdBy := patientID
		var paymentRef *string
		if gofakeit.Bool() {
			ref := fmt.Sprintf("pi_seed_%d", i)
			paymentRef = &ref
		} else {
			// desk booking
			createdBy = adminID
		}

		_, err := tx.Exec(ctx, `
			INSERT INTO appointments (
				id, patient_id, created_by,
				patient_name, age, gender, phone, address,
				resource_id, starts_at, status, payment_ref, confirmed_at,
				created_at, updated_at
			)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, now(), now(), now())
		`,
			uuid.New(), patientID, createdBy,
			gofakeit.Name(), gofakeit.Number(18, 90), genders[gofakeit.Number(0, len(genders)-1)],
			gofakeit.Phone(), gofakeit.Address().Address,
			booking.DefaultResourceID, start, status, paymentRef,
		)
		if err != nil {
			return nil, err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}

	log.Println("appointments seeded")
	return patientIDs, nil
}

// printDemoTokens mints a patient and an admin bearer token so the API can be
// exercised immediately after seeding.
func printDemoTokens(cfg config.Config, patientIDs []uuid.UUID) {
	tokens := auth.NewTokenService(cfg.JWTSecret, cfg.TokenTTL)

	if len(patientIDs) > 0 {
		if tok, err := tokens.Sign(patientIDs[0], auth.RolePatient); err == nil {
			log.Printf("demo patient %s token: %s", patientIDs[0], tok)
		}
	}
	adminID := uuid.New()
	if tok, err := tokens.Sign(adminID, auth.RoleAdmin); err == nil {
		log.Printf("demo admin %s token: %s", adminID, tok)
	}
}

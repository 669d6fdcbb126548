package booking

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/docpoint/booking-engine/internal/payment"
)

const uniqueViolation = "23505"

type PgRepository struct {
	pool *pgxpool.Pool
}

func NewPgRepository(pool *pgxpool.Pool) *PgRepository {
	return &PgRepository{pool: pool}
}

const appointmentColumns = `
	id, patient_id, created_by,
	patient_name, age, gender, phone, address,
	resource_id, starts_at, status, payment_ref,
	hold_expires_at, confirmed_at, cancelled_at,
	created_at, updated_at
`

// Helpers

func scanAppointment(row pgx.Row) (*Appointment, error) {
	var a Appointment

	err := row.Scan(
		&a.ID,
		&a.PatientID,
		&a.CreatedBy,
		&a.Details.Name,
		&a.Details.Age,
		&a.Details.Gender,
		&a.Details.Phone,
		&a.Details.Address,
		&a.Slot.ResourceID,
		&a.Slot.Start,
		&a.Status,
		&a.PaymentRef,
		&a.HoldExpiresAt,
		&a.ConfirmedAt,
		&a.CancelledAt,
		&a.CreatedAt,
		&a.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAppointmentNotFound
		}
		return nil, err
	}

	return &a, nil
}

func scanAttempt(row pgx.Row) (*payment.Attempt, error) {
	var at payment.Attempt

	err := row.Scan(
		&at.ID,
		&at.AppointmentID,
		&at.AmountCents,
		&at.Status,
		&at.GatewayRef,
		&at.CreatedAt,
		&at.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, payment.ErrAttemptNotFound
		}
		return nil, err
	}

	return &at, nil
}

func collectAppointments(rows pgx.Rows) ([]Appointment, error) {
	defer rows.Close()

	var result []Appointment
	for rows.Next() {
		a, err := scanAppointment(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *a)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return result, nil
}

// Interface methods

func (r *PgRepository) TryHold(ctx context.Context, draft HoldDraft) (*Appointment, error) {
	id := uuid.New()

	row := r.pool.QueryRow(ctx, `
		INSERT INTO appointments (
			id, patient_id, created_by,
			patient_name, age, gender, phone, address,
			resource_id, starts_at, status, hold_expires_at,
			created_at, updated_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, 'holding', $11, now(), now())
		RETURNING `+appointmentColumns,
		id, draft.PatientID, draft.CreatedBy,
		draft.Details.Name, draft.Details.Age, draft.Details.Gender, draft.Details.Phone, draft.Details.Address,
		draft.Slot.ResourceID, draft.Slot.Start, draft.HoldExpiresAt,
	)

	appt, err := scanAppointment(row)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return nil, ErrSlotTaken
		}
		return nil, err
	}

	return appt, nil
}

func (r *PgRepository) Finalize(ctx context.Context, id uuid.UUID, from, to Status, paymentRef *string) (*Appointment, error) {
	row := r.pool.QueryRow(ctx, `
		UPDATE appointments
		SET status = $2,
		    payment_ref = COALESCE($4, payment_ref),
		    confirmed_at = CASE WHEN $2 = 'confirmed' THEN now() ELSE confirmed_at END,
		    cancelled_at = CASE WHEN $2 = 'cancelled' THEN now() ELSE cancelled_at END,
		    updated_at = now()
		WHERE id = $1
		  AND status = $3
		RETURNING `+appointmentColumns,
		id, to, from, paymentRef,
	)

	appt, err := scanAppointment(row)
	if err == nil {
		return appt, nil
	}
	if !errors.Is(err, ErrAppointmentNotFound) {
		return nil, err
	}

	// CAS missed: distinguish a vanished row from a stale source status.
	current, getErr := r.GetByID(ctx, id)
	if getErr != nil {
		return nil, getErr
	}
	return current, ErrStaleStatus
}

func (r *PgRepository) GetByID(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE id = $1
	`, id)
	return scanAppointment(row)
}

func (r *PgRepository) ListByPatient(ctx context.Context, patientID uuid.UUID) ([]Appointment, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE patient_id = $1
		ORDER BY starts_at ASC
	`, patientID)
	if err != nil {
		return nil, err
	}
	return collectAppointments(rows)
}

func (r *PgRepository) ListAll(ctx context.Context, filter ListFilter) ([]Appointment, error) {
	limit := filter.Limit
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	offset := filter.Offset
	if offset < 0 {
		offset = 0
	}

	rows, err := r.pool.Query(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE ($1::uuid IS NULL OR patient_id = $1)
		  AND ($2 = '' OR patient_name ILIKE '%' || $2 || '%')
		ORDER BY starts_at ASC
		LIMIT $3 OFFSET $4
	`, filter.PatientID, filter.PatientName, limit, offset)
	if err != nil {
		return nil, err
	}
	return collectAppointments(rows)
}

func (r *PgRepository) FindStaleHolds(ctx context.Context, now time.Time) ([]Appointment, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE status = 'holding'
		  AND hold_expires_at IS NOT NULL
		  AND hold_expires_at < $1
	`, now)
	if err != nil {
		return nil, err
	}
	return collectAppointments(rows)
}

func (r *PgRepository) FindElapsedConfirmed(ctx context.Context, now time.Time) ([]Appointment, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE status = 'confirmed'
		  AND starts_at + interval '1 hour' < $1
	`, now)
	if err != nil {
		return nil, err
	}
	return collectAppointments(rows)
}

// Payment attempt store (payment.Store)

func (r *PgRepository) CreateAttempt(ctx context.Context, a payment.Attempt) (*payment.Attempt, error) {
	row := r.pool.QueryRow(ctx, `
		INSERT INTO payment_attempts (id, appointment_id, amount_cents, status, gateway_ref, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, now(), now())
		RETURNING id, appointment_id, amount_cents, status, gateway_ref, created_at, updated_at
	`, a.ID, a.AppointmentID, a.AmountCents, a.Status, a.GatewayRef)
	return scanAttempt(row)
}

func (r *PgRepository) SetAttemptStatus(ctx context.Context, id uuid.UUID, from, to payment.AttemptStatus) (*payment.Attempt, error) {
	row := r.pool.QueryRow(ctx, `
		UPDATE payment_attempts
		SET status = $2,
		    updated_at = now()
		WHERE id = $1
		  AND status = $3
		RETURNING id, appointment_id, amount_cents, status, gateway_ref, created_at, updated_at
	`, id, to, from)
	return scanAttempt(row)
}

func (r *PgRepository) AttemptByRef(ctx context.Context, gatewayRef string) (*payment.Attempt, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT id, appointment_id, amount_cents, status, gateway_ref, created_at, updated_at
		FROM payment_attempts
		WHERE gateway_ref = $1
	`, gatewayRef)
	return scanAttempt(row)
}

func (r *PgRepository) InsertEvent(ctx context.Context, ev EventLog) error {
	var appID *uuid.UUID
	if ev.AppointmentID != nil {
		appID = ev.AppointmentID
	}

	_, err := r.pool.Exec(ctx, `
		INSERT INTO event_logs (event_type, appointment_id, payload, created_at)
		VALUES ($1, $2, $3, COALESCE($4, now()))
	`, ev.EventType, appID, ev.Payload, nullableTime(ev.CreatedAt))
	if err != nil {
		return fmt.Errorf("insert event log: %w", err)
	}

	return nil
}

func nullableTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

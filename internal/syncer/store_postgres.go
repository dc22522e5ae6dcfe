package syncer

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/kestrelhealth/dentalbridge/internal/ehr"
)

// PgxPool is the subset of pgxpool.Pool the store needs; pgxmock satisfies
// it in tests.
type PgxPool interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PostgresStore persists synced entities in Postgres. Each page is written in
// one transaction so an interrupted sync never leaves a partially applied
// page behind.
type PostgresStore struct {
	pool PgxPool
}

// NewPostgresStore wraps a pgx pool.
func NewPostgresStore(pool PgxPool) *PostgresStore {
	if pool == nil {
		panic("syncer: pgx pool required")
	}
	return &PostgresStore{pool: pool}
}

const upsertPatientSQL = `
	INSERT INTO patients (
		practice_id, remote_id, first_name, last_name, email,
		wireless_phone, home_phone, work_phone, birth_date,
		address_line1, address_line2, city, state, postal_code,
		gender, status, primary_provider_id, secondary_provider_id, clinic_id,
		preferred_contact, preferred_recall, preferred_confirmation, synced_at
	)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21, $22, now())
	ON CONFLICT (practice_id, remote_id) DO UPDATE SET
		first_name = EXCLUDED.first_name,
		last_name = EXCLUDED.last_name,
		email = EXCLUDED.email,
		wireless_phone = EXCLUDED.wireless_phone,
		home_phone = EXCLUDED.home_phone,
		work_phone = EXCLUDED.work_phone,
		birth_date = EXCLUDED.birth_date,
		address_line1 = EXCLUDED.address_line1,
		address_line2 = EXCLUDED.address_line2,
		city = EXCLUDED.city,
		state = EXCLUDED.state,
		postal_code = EXCLUDED.postal_code,
		gender = EXCLUDED.gender,
		status = EXCLUDED.status,
		primary_provider_id = EXCLUDED.primary_provider_id,
		secondary_provider_id = EXCLUDED.secondary_provider_id,
		clinic_id = EXCLUDED.clinic_id,
		preferred_contact = EXCLUDED.preferred_contact,
		preferred_recall = EXCLUDED.preferred_recall,
		preferred_confirmation = EXCLUDED.preferred_confirmation,
		synced_at = now()
`

// UpsertPatients writes one page of patients.
func (s *PostgresStore) UpsertPatients(ctx context.Context, practiceID string, rows []ehr.Patient) error {
	return s.inTx(ctx, "patients", func(tx pgx.Tx) error {
		for _, p := range rows {
			if _, err := tx.Exec(ctx, upsertPatientSQL,
				practiceID, p.ID, p.FirstName, p.LastName, p.Email,
				p.WirelessPhone, p.HomePhone, p.WorkPhone, p.BirthDate,
				p.Address.Line1, p.Address.Line2, p.Address.City, p.Address.State, p.Address.PostalCode,
				string(p.Gender), string(p.Status), p.PrimaryProviderID, p.SecondaryProviderID, p.ClinicID,
				string(p.PreferredContact), string(p.PreferredRecall), string(p.PreferredConfirmation),
			); err != nil {
				return fmt.Errorf("patient %d: %w", p.ID, err)
			}
		}
		return nil
	})
}

const upsertProviderSQL = `
	INSERT INTO providers (practice_id, remote_id, first_name, last_name, abbreviation, national_id, synced_at)
	VALUES ($1, $2, $3, $4, $5, $6, now())
	ON CONFLICT (practice_id, remote_id) DO UPDATE SET
		first_name = EXCLUDED.first_name,
		last_name = EXCLUDED.last_name,
		abbreviation = EXCLUDED.abbreviation,
		national_id = EXCLUDED.national_id,
		synced_at = now()
`

// UpsertProviders writes one page of providers.
func (s *PostgresStore) UpsertProviders(ctx context.Context, practiceID string, rows []ehr.Provider) error {
	return s.inTx(ctx, "providers", func(tx pgx.Tx) error {
		for _, p := range rows {
			if _, err := tx.Exec(ctx, upsertProviderSQL,
				practiceID, p.ID, p.FirstName, p.LastName, p.Abbreviation, p.NationalID,
			); err != nil {
				return fmt.Errorf("provider %d: %w", p.ID, err)
			}
		}
		return nil
	})
}

const upsertOperatorySQL = `
	INSERT INTO operatories (practice_id, remote_id, name, abbreviation, default_provider_id, default_hygienist_id, clinic_id, active, synced_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, now())
	ON CONFLICT (practice_id, remote_id) DO UPDATE SET
		name = EXCLUDED.name,
		abbreviation = EXCLUDED.abbreviation,
		default_provider_id = EXCLUDED.default_provider_id,
		default_hygienist_id = EXCLUDED.default_hygienist_id,
		clinic_id = EXCLUDED.clinic_id,
		active = EXCLUDED.active,
		synced_at = now()
`

// UpsertOperatories writes one page of operatories.
func (s *PostgresStore) UpsertOperatories(ctx context.Context, practiceID string, rows []ehr.Operatory) error {
	return s.inTx(ctx, "operatories", func(tx pgx.Tx) error {
		for _, op := range rows {
			if _, err := tx.Exec(ctx, upsertOperatorySQL,
				practiceID, op.ID, op.Name, op.Abbreviation,
				op.DefaultProviderID, op.DefaultHygienistID, op.ClinicID, op.Active,
			); err != nil {
				return fmt.Errorf("operatory %d: %w", op.ID, err)
			}
		}
		return nil
	})
}

const upsertAppointmentSQL = `
	INSERT INTO appointments (
		practice_id, remote_id, patient_id, provider_id, hygienist_id, operatory_id,
		start_time, duration_minutes, status, confirmed, notes, clinic_id,
		arrived_at, seated_at, dismissed_at, synced_at
	)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, now())
	ON CONFLICT (practice_id, remote_id) DO UPDATE SET
		patient_id = EXCLUDED.patient_id,
		provider_id = EXCLUDED.provider_id,
		hygienist_id = EXCLUDED.hygienist_id,
		operatory_id = EXCLUDED.operatory_id,
		start_time = EXCLUDED.start_time,
		duration_minutes = EXCLUDED.duration_minutes,
		status = EXCLUDED.status,
		confirmed = EXCLUDED.confirmed,
		notes = EXCLUDED.notes,
		clinic_id = EXCLUDED.clinic_id,
		arrived_at = EXCLUDED.arrived_at,
		seated_at = EXCLUDED.seated_at,
		dismissed_at = EXCLUDED.dismissed_at,
		synced_at = now()
`

// UpsertAppointments writes one page of appointments.
func (s *PostgresStore) UpsertAppointments(ctx context.Context, practiceID string, rows []ehr.Appointment) error {
	return s.inTx(ctx, "appointments", func(tx pgx.Tx) error {
		for _, a := range rows {
			if _, err := tx.Exec(ctx, upsertAppointmentSQL,
				practiceID, a.ID, a.PatientID, a.ProviderID, a.HygienistID, a.OperatoryID,
				a.Start, int(a.Duration.Minutes()), string(a.Status), a.Confirmed, a.Notes, a.ClinicID,
				a.Arrived, a.Seated, a.Dismissed,
			); err != nil {
				return fmt.Errorf("appointment %d: %w", a.ID, err)
			}
		}
		return nil
	})
}

func (s *PostgresStore) inTx(ctx context.Context, entity string, fn func(pgx.Tx) error) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("syncer: begin %s tx: %w", entity, err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	if err := fn(tx); err != nil {
		return fmt.Errorf("syncer: upsert %s: %w", entity, err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("syncer: commit %s tx: %w", entity, err)
	}
	return nil
}

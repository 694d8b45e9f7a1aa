package storage

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/lib/pq"

	"KidneyAllocation/internal/domain"
	"KidneyAllocation/internal/ports"
)

//go:embed schema.sql
var schema string

var psql = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)

var patientColumns = []string{
	"id", "name", "blood_type", "hla", "cpra", "wait_days", "age", "diabetes",
	"prior_transplant", "dialysis_days", "distance_miles", "clinician", "status",
}

var donorColumns = []string{
	"id", "blood_type", "hla", "age", "height_in", "weight_lb", "hypertension",
	"diabetes", "hcv", "dcd", "creatinine", "status", "procurement_time",
}

var offerColumns = []string{
	"id", "donor_id", "patient_id", "patient_name", "clinician", "score",
	"created_at", "expires_at", "status", "responded_at",
}

// PostgresRepository reads the waiting list and donor pool and records offers.
type PostgresRepository struct {
	db *sql.DB
}

var (
	_ ports.AllocationRepository = (*PostgresRepository)(nil)
	_ ports.RosterSource         = (*PostgresRepository)(nil)
)

// NewPostgresRepository wires a sql.DB implementation.
func NewPostgresRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// Open connects to Postgres through lib/pq and verifies the connection.
func Open(ctx context.Context, dsn string) (*sql.DB, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return db, nil
}

// EnsureSchema creates the patients, donors and offers tables when missing.
func (r *PostgresRepository) EnsureSchema(ctx context.Context) error {
	if r.db == nil {
		return nil
	}
	if _, err := r.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

// Name identifies the repository inside the intake registry.
func (r *PostgresRepository) Name() string {
	return "postgres"
}

// Load reads every patient and donor row.
func (r *PostgresRepository) Load(ctx context.Context) (ports.Roster, error) {
	if r.db == nil {
		return ports.Roster{}, fmt.Errorf("postgres repository is not configured")
	}

	patients, err := r.loadPatients(ctx)
	if err != nil {
		return ports.Roster{}, err
	}
	donors, err := r.loadDonors(ctx)
	if err != nil {
		return ports.Roster{}, err
	}
	return ports.Roster{Patients: patients, Donors: donors}, nil
}

func (r *PostgresRepository) loadPatients(ctx context.Context) ([]domain.Patient, error) {
	query, args, err := selectPatients().ToSql()
	if err != nil {
		return nil, fmt.Errorf("build patients query: %w", err)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query patients: %w", err)
	}
	defer rows.Close()

	var patients []domain.Patient
	for rows.Next() {
		var (
			p         domain.Patient
			hla       pq.StringArray
			bloodType string
			status    string
		)
		if err := rows.Scan(&p.ID, &p.Name, &bloodType, &hla, &p.CPRA, &p.WaitDays, &p.Age, &p.Diabetes,
			&p.PriorTransplant, &p.DialysisDays, &p.DistanceMiles, &p.Clinician, &status); err != nil {
			return nil, fmt.Errorf("scan patient: %w", err)
		}
		p.BloodType = domain.BloodType(bloodType)
		p.HLA = []string(hla)
		p.Status = domain.PatientStatus(status)
		patients = append(patients, p)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("patients rows iteration: %w", err)
	}
	return patients, nil
}

func (r *PostgresRepository) loadDonors(ctx context.Context) ([]domain.Donor, error) {
	query, args, err := selectDonors().ToSql()
	if err != nil {
		return nil, fmt.Errorf("build donors query: %w", err)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query donors: %w", err)
	}
	defer rows.Close()

	var donors []domain.Donor
	for rows.Next() {
		var (
			d           domain.Donor
			hla         pq.StringArray
			bloodType   string
			status      string
			procurement sql.NullTime
		)
		if err := rows.Scan(&d.ID, &bloodType, &hla, &d.Age, &d.HeightIn, &d.WeightLb, &d.Hypertension,
			&d.Diabetes, &d.HCV, &d.DCD, &d.Creatinine, &status, &procurement); err != nil {
			return nil, fmt.Errorf("scan donor: %w", err)
		}
		d.BloodType = domain.BloodType(bloodType)
		d.HLA = []string(hla)
		d.Status = domain.DonorStatus(status)
		if procurement.Valid {
			d.ProcurementTime = procurement.Time
		}
		donors = append(donors, d)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("donors rows iteration: %w", err)
	}
	return donors, nil
}

// SaveOffer upserts the offer snapshot.
func (r *PostgresRepository) SaveOffer(ctx context.Context, offer domain.Offer) error {
	if r.db == nil {
		return nil
	}

	query, args, err := upsertOffer(offer).ToSql()
	if err != nil {
		return fmt.Errorf("build offer upsert: %w", err)
	}
	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("upsert offer: %w", err)
	}
	return nil
}

// UpdatePatientStatus stores a patient status change.
func (r *PostgresRepository) UpdatePatientStatus(ctx context.Context, patientID string, status domain.PatientStatus) error {
	return r.updateStatus(ctx, "patients", patientID, string(status))
}

// UpdateDonorStatus stores a donor status change.
func (r *PostgresRepository) UpdateDonorStatus(ctx context.Context, donorID string, status domain.DonorStatus) error {
	return r.updateStatus(ctx, "donors", donorID, string(status))
}

func (r *PostgresRepository) updateStatus(ctx context.Context, table, id, status string) error {
	if r.db == nil {
		return nil
	}

	query, args, err := updateStatus(table, id, status).ToSql()
	if err != nil {
		return fmt.Errorf("build %s status update: %w", table, err)
	}

	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("update %s status: %w", table, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("update %s status %s: %w", table, id, domain.ErrNotFound)
	}
	return nil
}

func selectPatients() sq.SelectBuilder {
	return psql.Select(patientColumns...).From("patients").OrderBy("id")
}

func selectDonors() sq.SelectBuilder {
	return psql.Select(donorColumns...).From("donors").OrderBy("id")
}

func upsertOffer(offer domain.Offer) sq.InsertBuilder {
	var respondedAt *time.Time
	if offer.RespondedAt != nil {
		t := offer.RespondedAt.UTC()
		respondedAt = &t
	}

	return psql.Insert("offers").
		Columns(offerColumns...).
		Values(
			offer.ID,
			offer.DonorID,
			offer.PatientID,
			offer.PatientName,
			offer.Clinician,
			offer.Score,
			offer.CreatedAt.UTC(),
			offer.ExpiresAt.UTC(),
			string(offer.Status),
			respondedAt,
		).
		Suffix(`ON CONFLICT (id) DO UPDATE
              SET status = EXCLUDED.status,
                  responded_at = EXCLUDED.responded_at,
                  updated_at = NOW()`)
}

func updateStatus(table, id, status string) sq.UpdateBuilder {
	return psql.Update(table).
		Set("status", status).
		Set("updated_at", sq.Expr("NOW()")).
		Where(sq.Eq{"id": id})
}

package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/opensource-finance/harrier/internal/domain"
)

// SaveApplication inserts an application together with its business,
// guarantor, and equipment in one transaction. Missing IDs are
// assigned.
func (r *SQLRepository) SaveApplication(ctx context.Context, app *domain.Application) error {
	if app.ID == "" {
		app.ID = uuid.New().String()
	}
	if app.CreatedAt.IsZero() {
		app.CreatedAt = time.Now().UTC()
	}
	if app.Status == "" {
		app.Status = domain.ApplicationDraft
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var businessID, guarantorID, equipmentID any
	if b := app.Business; b != nil {
		if b.ID == "" {
			b.ID = uuid.New().String()
		}
		businessID = b.ID
		_, err = tx.ExecContext(ctx, r.rebind(`
			INSERT INTO businesses (id, legal_structure, industry, established_date, annual_revenue, state, city, zip)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		`), b.ID, string(b.LegalStructure), b.Industry, b.EstablishedDate, nullDecimal(b.AnnualRevenue), b.State, b.City, b.Zip)
		if err != nil {
			return err
		}
	}

	if g := app.Guarantor; g != nil {
		if g.ID == "" {
			g.ID = uuid.New().String()
		}
		guarantorID = g.ID
		_, err = tx.ExecContext(ctx, r.rebind(`
			INSERT INTO guarantors (id, fico, paynet, credit_utilization, has_bankruptcy, bankruptcy_discharge_date, is_homeowner, is_us_citizen)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		`), g.ID, nullInt(g.FICO), nullInt(g.PayNet), nullDecimal(g.CreditUtilization),
			boolInt(g.HasBankruptcy), g.BankruptcyDischargeDate, boolInt(g.IsHomeowner), boolInt(g.IsUSCitizen))
		if err != nil {
			return err
		}
	}

	if e := app.Equipment; e != nil {
		if e.ID == "" {
			e.ID = uuid.New().String()
		}
		equipmentID = e.ID
		_, err = tx.ExecContext(ctx, r.rebind(`
			INSERT INTO equipment (id, type, condition, cost, year_manufactured)
			VALUES (?, ?, ?, ?, ?)
		`), e.ID, e.Type, string(e.Condition), e.Cost.String(), nullInt(e.YearManufactured))
		if err != nil {
			return err
		}
	}

	_, err = tx.ExecContext(ctx, r.rebind(`
		INSERT INTO applications (
			id, status, requested_amount, term_months,
			down_payment_percentage, down_payment_amount, comparable_debt_payments,
			business_id, guarantor_id, equipment_id, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`), app.ID, string(app.Status), app.RequestedAmount.String(), app.TermMonths,
		nullDecimal(app.DownPaymentPercentage), nullDecimal(app.DownPaymentAmount), nullDecimal(app.ComparableDebtPayments),
		businessID, guarantorID, equipmentID, app.CreatedAt)
	if err != nil {
		return err
	}

	return tx.Commit()
}

// GetApplication loads an application with its nested entities.
func (r *SQLRepository) GetApplication(ctx context.Context, id string) (*domain.Application, error) {
	query := `
		SELECT id, status, requested_amount, term_months,
			   down_payment_percentage, down_payment_amount, comparable_debt_payments,
			   business_id, guarantor_id, equipment_id, created_at
		FROM applications
		WHERE id = ?
	`

	var app domain.Application
	var status string
	var requestedAmount sql.NullString
	var downPct, downAmt, debt sql.NullString
	var businessID, guarantorID, equipmentID sql.NullString

	err := r.db.QueryRowContext(ctx, r.rebind(query), id).Scan(
		&app.ID, &status, &requestedAmount, &app.TermMonths,
		&downPct, &downAmt, &debt,
		&businessID, &guarantorID, &equipmentID, &app.CreatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	app.Status = domain.ApplicationStatus(status)
	if app.RequestedAmount, err = decimalFrom(requestedAmount); err != nil {
		return nil, err
	}
	if app.DownPaymentPercentage, err = decimalPtrFrom(downPct); err != nil {
		return nil, err
	}
	if app.DownPaymentAmount, err = decimalPtrFrom(downAmt); err != nil {
		return nil, err
	}
	if app.ComparableDebtPayments, err = decimalPtrFrom(debt); err != nil {
		return nil, err
	}

	if businessID.Valid {
		if app.Business, err = r.getBusiness(ctx, businessID.String); err != nil {
			return nil, err
		}
	}
	if guarantorID.Valid {
		if app.Guarantor, err = r.getGuarantor(ctx, guarantorID.String); err != nil {
			return nil, err
		}
	}
	if equipmentID.Valid {
		if app.Equipment, err = r.getEquipment(ctx, equipmentID.String); err != nil {
			return nil, err
		}
	}

	return &app, nil
}

// UpdateApplicationStatus moves the application to a new status.
func (r *SQLRepository) UpdateApplicationStatus(ctx context.Context, id string, status domain.ApplicationStatus) error {
	result, err := r.db.ExecContext(ctx, r.rebind(`UPDATE applications SET status = ? WHERE id = ?`), string(status), id)
	if err != nil {
		return err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *SQLRepository) getBusiness(ctx context.Context, id string) (*domain.Business, error) {
	query := `
		SELECT id, legal_structure, industry, established_date, annual_revenue, state, city, zip
		FROM businesses
		WHERE id = ?
	`

	var b domain.Business
	var structure string
	var revenue sql.NullString
	var city, zip sql.NullString

	err := r.db.QueryRowContext(ctx, r.rebind(query), id).Scan(
		&b.ID, &structure, &b.Industry, &b.EstablishedDate, &revenue, &b.State, &city, &zip,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	b.LegalStructure = domain.LegalStructure(structure)
	if b.AnnualRevenue, err = decimalPtrFrom(revenue); err != nil {
		return nil, err
	}
	b.City = city.String
	b.Zip = zip.String
	return &b, nil
}

func (r *SQLRepository) getGuarantor(ctx context.Context, id string) (*domain.Guarantor, error) {
	query := `
		SELECT id, fico, paynet, credit_utilization, has_bankruptcy, bankruptcy_discharge_date, is_homeowner, is_us_citizen
		FROM guarantors
		WHERE id = ?
	`

	var g domain.Guarantor
	var fico, paynet sql.NullInt64
	var utilization sql.NullString
	var hasBankruptcy, homeowner, citizen int
	var discharge sql.NullTime

	err := r.db.QueryRowContext(ctx, r.rebind(query), id).Scan(
		&g.ID, &fico, &paynet, &utilization, &hasBankruptcy, &discharge, &homeowner, &citizen,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	g.FICO = intPtrFrom(fico)
	g.PayNet = intPtrFrom(paynet)
	if g.CreditUtilization, err = decimalPtrFrom(utilization); err != nil {
		return nil, err
	}
	g.HasBankruptcy = hasBankruptcy == 1
	if discharge.Valid {
		t := discharge.Time
		g.BankruptcyDischargeDate = &t
	}
	g.IsHomeowner = homeowner == 1
	g.IsUSCitizen = citizen == 1
	return &g, nil
}

func (r *SQLRepository) getEquipment(ctx context.Context, id string) (*domain.Equipment, error) {
	query := `
		SELECT id, type, condition, cost, year_manufactured
		FROM equipment
		WHERE id = ?
	`

	var e domain.Equipment
	var condition string
	var cost sql.NullString
	var year sql.NullInt64

	err := r.db.QueryRowContext(ctx, r.rebind(query), id).Scan(
		&e.ID, &e.Type, &condition, &cost, &year,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	e.Condition = domain.EquipmentCondition(condition)
	if e.Cost, err = decimalFrom(cost); err != nil {
		return nil, err
	}
	e.YearManufactured = intPtrFrom(year)
	return &e, nil
}

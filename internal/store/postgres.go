package store

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	_ "github.com/jackc/pgx/v5/stdlib"

	"orderbridge/internal/model"
)

//go:embed schema.sql
var schemaSQL string

type Postgres struct {
	db *sql.DB
}

func NewPostgres(dsn string) (*Postgres, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		return nil, err
	}
	return &Postgres{db: db}, nil
}

// NewPostgresFromDB wraps an existing handle (tests, shared pools).
func NewPostgresFromDB(db *sql.DB) *Postgres { return &Postgres{db: db} }

func (p *Postgres) Ping(ctx context.Context) error { return p.db.PingContext(ctx) }

func (p *Postgres) Close() error { return p.db.Close() }

// Migrate applies the embedded schema. Statements are idempotent.
func (p *Postgres) Migrate(ctx context.Context) error {
	for _, stmt := range strings.Split(schemaSQL, ";") {
		if strings.TrimSpace(stmt) == "" {
			continue
		}
		if _, err := p.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}

func (p *Postgres) LookupBranchMapping(ctx context.Context, providerID, providerMerchantID string) (*BranchRef, error) {
	var ref BranchRef
	err := p.db.QueryRowContext(ctx, `SELECT b.id, b.company_id FROM provider_branch_mappings m JOIN branches b ON b.id = m.branch_id WHERE m.provider_id=$1 AND m.provider_merchant_id=$2`,
		providerID, providerMerchantID).Scan(&ref.BranchID, &ref.CompanyID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &ref, nil
}

func (p *Postgres) FindBranch(ctx context.Context, idOrCode string) (*BranchRef, error) {
	var ref BranchRef
	err := p.db.QueryRowContext(ctx, `SELECT id, company_id FROM branches WHERE id=$1 OR lower(code)=lower($1) ORDER BY (id=$1) DESC LIMIT 1`, idOrCode).
		Scan(&ref.BranchID, &ref.CompanyID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &ref, nil
}

// FindOrCreateCustomer relies on UNIQUE(company_id, phone): the insert is a
// no-op for an existing customer, which is then read back.
func (p *Postgres) FindOrCreateCustomer(ctx context.Context, phone, companyID string, data CustomerData) (Customer, bool, error) {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return Customer{}, false, err
	}
	defer func() { _ = tx.Rollback() }()

	c := Customer{ID: uuid.New().String(), CompanyID: companyID, Phone: phone, Name: data.Name, Email: data.Email}
	err = tx.QueryRowContext(ctx, `INSERT INTO customers (id, company_id, phone, name, email) VALUES ($1,$2,$3,$4,$5) ON CONFLICT (company_id, phone) DO NOTHING RETURNING created_at`,
		c.ID, companyID, phone, data.Name, nullIfEmpty(data.Email)).Scan(&c.CreatedAt)
	switch {
	case err == nil:
		if data.Address != nil {
			if _, err := insertAddress(ctx, tx, c.ID, *data.Address, true); err != nil {
				return Customer{}, false, err
			}
		}
		if err := tx.Commit(); err != nil {
			return Customer{}, false, err
		}
		return c, true, nil
	case !errors.Is(err, sql.ErrNoRows):
		return Customer{}, false, err
	}

	var email sql.NullString
	err = tx.QueryRowContext(ctx, `SELECT id::text, name, email, created_at FROM customers WHERE company_id=$1 AND phone=$2`, companyID, phone).
		Scan(&c.ID, &c.Name, &email, &c.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Customer{}, false, ErrConflict
	}
	if err != nil {
		return Customer{}, false, err
	}
	c.Email = email.String
	return c, false, tx.Commit()
}

func (p *Postgres) AddCustomerAddress(ctx context.Context, customerID string, addr model.Address) (bool, error) {
	return insertAddress(ctx, p.db, customerID, addr, false)
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func insertAddress(ctx context.Context, db execer, customerID string, a model.Address, isDefault bool) (bool, error) {
	res, err := db.ExecContext(ctx, `INSERT INTO customer_addresses (id, customer_id, street, building, floor, area, city, lat, lng, notes, is_default) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11) ON CONFLICT (customer_id, lower(street), lower(building)) DO NOTHING`,
		uuid.New().String(), customerID, strings.TrimSpace(a.Street), strings.TrimSpace(a.Building), nullIfEmpty(a.Floor), nullIfEmpty(a.Area), nullIfEmpty(a.City), a.Lat, a.Lng, nullIfEmpty(a.Notes), isDefault)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (p *Postgres) CountCustomers(ctx context.Context, companyID string) (int, error) {
	var n int
	err := p.db.QueryRowContext(ctx, `SELECT count(*) FROM customers WHERE company_id=$1`, companyID).Scan(&n)
	return n, err
}

func (p *Postgres) FindProduct(ctx context.Context, companyID string, externalIDs []string, name string) (*Product, error) {
	ids := make([]string, 0, len(externalIDs))
	for _, id := range externalIDs {
		if id != "" {
			ids = append(ids, id)
		}
	}
	if len(ids) > 0 {
		pr, err := p.scanProduct(p.db.QueryRowContext(ctx, `SELECT id, company_id, name, price FROM products WHERE company_id=$1 AND external_ids && $2 LIMIT 1`, companyID, ids))
		if err != nil || pr != nil {
			return pr, err
		}
	}
	needle := strings.TrimSpace(name)
	if needle == "" {
		return nil, nil
	}
	return p.scanProduct(p.db.QueryRowContext(ctx, `SELECT id, company_id, name, price FROM products WHERE company_id=$1 AND name ILIKE $2 ESCAPE '\' ORDER BY length(name) LIMIT 1`,
		companyID, "%"+likeEscaper.Replace(needle)+"%"))
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func (p *Postgres) scanProduct(row *sql.Row) (*Product, error) {
	var pr Product
	if err := row.Scan(&pr.ID, &pr.CompanyID, &pr.Name, &pr.Price); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &pr, nil
}

// SaveOrder upserts by (order_source, external_order_id) and returns the row id.
// On conflict the stored status wins and is written back into doc, so the
// status column and the document never disagree.
func (p *Postgres) SaveOrder(ctx context.Context, o model.InternalOrder) (string, error) {
	doc, err := json.Marshal(o)
	if err != nil {
		return "", err
	}
	var id string
	err = p.db.QueryRowContext(ctx, `INSERT INTO orders (id, order_source, external_order_id, branch_id, company_id, customer_id, status, total, doc) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
ON CONFLICT (order_source, external_order_id) DO UPDATE SET branch_id=EXCLUDED.branch_id, company_id=EXCLUDED.company_id, customer_id=EXCLUDED.customer_id, total=EXCLUDED.total,
 doc=jsonb_set(EXCLUDED.doc, '{status}', to_jsonb(orders.status)), updated_at=now() RETURNING id::text`,
		uuid.New().String(), o.OrderSource, o.ExternalOrderID, o.BranchID, o.CompanyID, o.CustomerID, string(o.Status), o.Total, doc).Scan(&id)
	return id, err
}

func (p *Postgres) UpdateOrderStatus(ctx context.Context, source, externalOrderID string, status model.OrderStatus) (bool, error) {
	res, err := p.db.ExecContext(ctx, `UPDATE orders SET status=$3, doc=jsonb_set(doc, '{status}', to_jsonb($3::text)), updated_at=now() WHERE order_source=$1 AND external_order_id=$2`,
		source, externalOrderID, string(status))
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// PutBranch and PutBranchMapping back the seed loader.
func (p *Postgres) PutBranch(ctx context.Context, b Branch) error {
	_, err := p.db.ExecContext(ctx, `INSERT INTO branches (id, code, company_id, name) VALUES ($1,$2,$3,$4) ON CONFLICT (id) DO UPDATE SET code=EXCLUDED.code, company_id=EXCLUDED.company_id, name=EXCLUDED.name`,
		b.ID, nullIfEmpty(b.Code), b.CompanyID, b.Name)
	return err
}

func (p *Postgres) PutBranchMapping(ctx context.Context, m BranchMapping) error {
	_, err := p.db.ExecContext(ctx, `INSERT INTO provider_branch_mappings (provider_id, provider_merchant_id, branch_id) VALUES ($1,$2,$3) ON CONFLICT (provider_id, provider_merchant_id) DO UPDATE SET branch_id=EXCLUDED.branch_id`,
		m.ProviderID, m.ProviderMerchantID, m.BranchID)
	return err
}

func (p *Postgres) PutProduct(ctx context.Context, pr Product) error {
	if pr.ID == "" {
		pr.ID = uuid.New().String()
	}
	_, err := p.db.ExecContext(ctx, `INSERT INTO products (id, company_id, name, external_ids, price) VALUES ($1,$2,$3,$4,$5) ON CONFLICT (id) DO UPDATE SET name=EXCLUDED.name, external_ids=EXCLUDED.external_ids, price=EXCLUDED.price`,
		pr.ID, pr.CompanyID, pr.Name, pqStringArray(pr.ExternalIDs), pr.Price)
	return err
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// pqStringArray passes []string through to the pgx driver, which encodes text[].
func pqStringArray(v []string) any {
	if len(v) == 0 {
		return []string{}
	}
	return v
}

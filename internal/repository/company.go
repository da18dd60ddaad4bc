package repository

import (
	"context"
	"errors"

	"github.com/cloo-solutions/salesdojo/internal/domain"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type CompanyRepository struct {
	pool *pgxpool.Pool
}

func NewCompanyRepository(pool *pgxpool.Pool) *CompanyRepository {
	return &CompanyRepository{pool: pool}
}

func (r *CompanyRepository) Create(ctx context.Context, c *domain.Company) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO companies (id, name, created_at) VALUES ($1, $2, $3)`,
		c.ID, c.Name, c.CreatedAt,
	)
	if isUniqueViolation(err) {
		return domain.ErrCompanyAlreadyExists
	}
	return err
}

func (r *CompanyRepository) getBy(ctx context.Context, column, value string) (*domain.Company, error) {
	var c domain.Company
	err := r.pool.QueryRow(ctx,
		`SELECT id, name, created_at FROM companies WHERE `+column+` = $1`,
		value,
	).Scan(&c.ID, &c.Name, &c.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrCompanyNotFound
		}
		return nil, err
	}
	return &c, nil
}

func (r *CompanyRepository) GetByID(ctx context.Context, id string) (*domain.Company, error) {
	return r.getBy(ctx, "id", id)
}

func (r *CompanyRepository) GetByName(ctx context.Context, name string) (*domain.Company, error) {
	return r.getBy(ctx, "name", name)
}

func (r *CompanyRepository) List(ctx context.Context) ([]*domain.Company, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, name, created_at FROM companies ORDER BY created_at DESC`,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var companies []*domain.Company
	for rows.Next() {
		var c domain.Company
		if err := rows.Scan(&c.ID, &c.Name, &c.CreatedAt); err != nil {
			return nil, err
		}
		companies = append(companies, &c)
	}
	return companies, rows.Err()
}

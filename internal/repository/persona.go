package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/cloo-solutions/salesdojo/internal/domain"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type PersonaRepository struct {
	pool *pgxpool.Pool
}

func NewPersonaRepository(pool *pgxpool.Pool) *PersonaRepository {
	return &PersonaRepository{pool: pool}
}

const personaColumns = `id, company_id, name, role, personality_traits, pain_points, objections, background, created_at`

func scanPersona(row pgx.Row) (*domain.Persona, error) {
	var (
		p      domain.Persona
		traits []byte
	)
	if err := row.Scan(&p.ID, &p.TenantID, &p.Name, &p.Role, &traits, &p.PainPoints,
		&p.Objections, &p.Background, &p.CreatedAt); err != nil {
		return nil, err
	}
	if len(traits) > 0 {
		if err := json.Unmarshal(traits, &p.PersonalityTraits); err != nil {
			return nil, fmt.Errorf("decode personality_traits of persona %s: %w", p.ID, err)
		}
	}
	return &p, nil
}

func (r *PersonaRepository) Create(ctx context.Context, p *domain.Persona) error {
	traits := p.PersonalityTraits
	if traits == nil {
		traits = map[string]any{}
	}
	raw, err := json.Marshal(traits)
	if err != nil {
		return fmt.Errorf("encode personality_traits: %w", err)
	}
	painPoints, objections := p.PainPoints, p.Objections
	if painPoints == nil {
		painPoints = []string{}
	}
	if objections == nil {
		objections = []string{}
	}
	_, err = r.pool.Exec(ctx,
		`INSERT INTO personas (`+personaColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		p.ID, p.TenantID, p.Name, p.Role, raw, painPoints, objections, p.Background, p.CreatedAt,
	)
	return err
}

func (r *PersonaRepository) Get(ctx context.Context, tenantID, id string) (*domain.Persona, error) {
	if uuid.Validate(id) != nil {
		return nil, domain.ErrPersonaNotFound
	}
	p, err := scanPersona(r.pool.QueryRow(ctx,
		`SELECT `+personaColumns+` FROM personas WHERE id = $1 AND company_id = $2`,
		id, tenantID,
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrPersonaNotFound
		}
		return nil, err
	}
	return p, nil
}

func (r *PersonaRepository) List(ctx context.Context, tenantID string) ([]*domain.Persona, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+personaColumns+` FROM personas WHERE company_id = $1 ORDER BY created_at DESC, id`,
		tenantID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	personas := []*domain.Persona{}
	for rows.Next() {
		p, err := scanPersona(rows)
		if err != nil {
			return nil, err
		}
		personas = append(personas, p)
	}
	return personas, rows.Err()
}

func (r *PersonaRepository) Random(ctx context.Context, tenantID string) (*domain.Persona, error) {
	p, err := scanPersona(r.pool.QueryRow(ctx,
		`SELECT `+personaColumns+` FROM personas WHERE company_id = $1 ORDER BY random() LIMIT 1`,
		tenantID,
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNoPersonas
		}
		return nil, err
	}
	return p, nil
}

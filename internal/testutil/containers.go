// Package testutil starts the containers integration tests run against.
package testutil

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/cloo-solutions/salesdojo/internal/database"
	"github.com/cloo-solutions/salesdojo/internal/logging"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

const (
	pgvectorImage = "pgvector/pgvector:0.8.1-pg18"
	rustfsImage   = "rustfs/rustfs:latest"
	dbCredential  = "dojo"
)

// started is a running container and where to reach it.
type started struct {
	container testcontainers.Container
	host      string
	port      string
}

func start(ctx context.Context, t *testing.T, req testcontainers.ContainerRequest) (testcontainers.Container, string) {
	t.Helper()
	c, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		t.Fatalf("start %s: %v", req.Image, err)
	}
	host, err := c.Host(ctx)
	if err != nil {
		t.Fatalf("%s host: %v", req.Image, err)
	}
	return c, host
}

// PostgresContainer is Postgres with the pgvector extension available.
type PostgresContainer struct {
	started
}

// NewPostgresContainer starts a pgvector Postgres. Terminate it when done.
func NewPostgresContainer(ctx context.Context, t *testing.T) *PostgresContainer {
	t.Helper()
	c, host := start(ctx, t, testcontainers.ContainerRequest{
		Image:        pgvectorImage,
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_USER":     dbCredential,
			"POSTGRES_PASSWORD": dbCredential,
			"POSTGRES_DB":       dbCredential,
		},
		// The entrypoint restarts the server once after init.
		WaitingFor: wait.ForAll(
			wait.ForLog("database system is ready to accept connections").WithOccurrence(2),
			wait.ForListeningPort("5432/tcp"),
		).WithStartupTimeout(60 * time.Second),
	})
	port, err := c.MappedPort(ctx, "5432/tcp")
	if err != nil {
		t.Fatalf("postgres port: %v", err)
	}
	return &PostgresContainer{started{container: c, host: host, port: port.Port()}}
}

func (pc *PostgresContainer) ConnectionString() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=disable",
		dbCredential, dbCredential, pc.host, pc.port, dbCredential)
}

func (pc *PostgresContainer) Terminate(ctx context.Context) error {
	return testcontainers.TerminateContainer(pc.container)
}

// NewTestPool migrates the database with the same migrator serve uses and
// returns a pool on it. migrationsDir is relative to the test's package.
func NewTestPool(ctx context.Context, t *testing.T, pc *PostgresContainer, migrationsDir string) *pgxpool.Pool {
	t.Helper()
	abs, err := filepath.Abs(migrationsDir)
	if err != nil {
		t.Fatalf("resolve migrations dir: %v", err)
	}
	if _, err := database.Migrate(pc.ConnectionString(), "file://"+filepath.ToSlash(abs), logging.Discard()); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	pool, err := database.NewPool(ctx, database.Config{URL: pc.ConnectionString(), MaxConns: 5, MinConns: 1})
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	return pool
}

// SeedCompany inserts a company and returns its id.
func SeedCompany(ctx context.Context, t *testing.T, pool *pgxpool.Pool, name string) string {
	t.Helper()
	id := uuid.NewString()
	if _, err := pool.Exec(ctx,
		`INSERT INTO companies (id, name, created_at) VALUES ($1, $2, now())`, id, name,
	); err != nil {
		t.Fatalf("seed company: %v", err)
	}
	return id
}

// SeedPersona inserts a minimal decision maker persona for companyID.
func SeedPersona(ctx context.Context, t *testing.T, pool *pgxpool.Pool, companyID, name string) string {
	t.Helper()
	id := uuid.NewString()
	if _, err := pool.Exec(ctx,
		`INSERT INTO personas (id, company_id, name, role) VALUES ($1, $2, $3, 'decision_maker')`,
		id, companyID, name,
	); err != nil {
		t.Fatalf("seed persona: %v", err)
	}
	return id
}

// RustFSContainer is the S3 compatible store behind the document archive
// tests.
type RustFSContainer struct {
	started
}

func NewRustFSContainer(ctx context.Context, t *testing.T) *RustFSContainer {
	t.Helper()
	c, host := start(ctx, t, testcontainers.ContainerRequest{
		Image:        rustfsImage,
		ExposedPorts: []string{"9000/tcp"},
		Env: map[string]string{
			"RUSTFS_ACCESS_KEY": "rustfsadmin",
			"RUSTFS_SECRET_KEY": "rustfsadmin",
		},
		WaitingFor: wait.ForListeningPort("9000/tcp").WithStartupTimeout(30 * time.Second),
	})
	port, err := c.MappedPort(ctx, "9000/tcp")
	if err != nil {
		t.Fatalf("rustfs port: %v", err)
	}
	return &RustFSContainer{started{container: c, host: host, port: port.Port()}}
}

func (rc *RustFSContainer) Endpoint() string {
	return fmt.Sprintf("http://%s:%s", rc.host, rc.port)
}

func (rc *RustFSContainer) Terminate(ctx context.Context) error {
	return testcontainers.TerminateContainer(rc.container)
}

package store

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/suite"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"BPSGateway/internal/db"
)

type BackendSuite struct {
	suite.Suite
	pgContainer    *postgres.PostgresContainer
	redisContainer testcontainers.Container
	pool           *pgxpool.Pool
	redis          *redis.Client
}

func TestBackendSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping container-backed tests in short mode")
	}
	suite.Run(t, new(BackendSuite))
}

func (s *BackendSuite) SetupSuite() {
	ctx := context.Background()

	pg, err := postgres.Run(ctx, "postgres:15-alpine",
		postgres.WithDatabase("bps"),
		postgres.WithUsername("postgres"),
		postgres.WithPassword("password"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second),
		),
	)
	s.Require().NoError(err, "start postgres container")
	s.pgContainer = pg

	dsn, err := pg.ConnectionString(ctx, "sslmode=disable")
	s.Require().NoError(err)
	s.pool, err = db.Connect(ctx, dsn)
	s.Require().NoError(err)

	applied, err := db.Migrate(ctx, s.pool, "../../migrations", slog.New(slog.NewTextHandler(io.Discard, nil)))
	s.Require().NoError(err)
	s.Require().Contains(applied, "001_kv_entries.sql")

	rc, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "redis:7-alpine",
			ExposedPorts: []string{"6379/tcp"},
			WaitingFor:   wait.ForLog("Ready to accept connections").WithStartupTimeout(30 * time.Second),
		},
		Started: true,
	})
	s.Require().NoError(err, "start redis container")
	s.redisContainer = rc

	endpoint, err := rc.Endpoint(ctx, "")
	s.Require().NoError(err)
	s.redis = redis.NewClient(&redis.Options{Addr: endpoint})
}

func (s *BackendSuite) TearDownSuite() {
	if s.pool != nil {
		s.pool.Close()
	}
	if s.redis != nil {
		_ = s.redis.Close()
	}
	if s.pgContainer != nil {
		_ = s.pgContainer.Terminate(context.Background())
	}
	if s.redisContainer != nil {
		_ = s.redisContainer.Terminate(context.Background())
	}
}

func (s *BackendSuite) TestPostgresKV() {
	exerciseKV(s.T(), NewPostgresKV(s.pool))
}

func (s *BackendSuite) TestRedisKV() {
	exerciseKV(s.T(), NewRedisKV(s.redis, "bps-test"))
}

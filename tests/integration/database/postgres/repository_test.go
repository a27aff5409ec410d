package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/Ayi456/panel-link/internal/config"
	"github.com/Ayi456/panel-link/internal/database"
	"github.com/Ayi456/panel-link/internal/database/postgres"
	"github.com/Ayi456/panel-link/internal/models"

	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	_ "github.com/jackc/pgx/v5/stdlib"
)

func setupPostgres(t testing.TB) config.Postgres {
	t.Helper()

	ctx := context.Background()

	pgUser := "test"
	pgPassword := "test"
	pgDB := "panel_link"

	pgCont, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image: "postgres:16-alpine",
			Env: map[string]string{
				"POSTGRES_USER":     pgUser,
				"POSTGRES_PASSWORD": pgPassword,
				"POSTGRES_DB":       pgDB,
			},
			ExposedPorts: []string{"5432/tcp"},
			WaitingFor:   wait.ForExposedPort(),
		},
		Started: true,
	})
	if err != nil {
		t.Fatalf("Failed to start postgres container: %v", err)
	}
	t.Cleanup(func() {
		if err := pgCont.Terminate(ctx); err != nil {
			t.Fatalf("Failed to terminate postgres container: %v", err)
		}
	})

	pgHost, err := pgCont.Host(ctx)
	if err != nil {
		t.Fatalf("Failed to get container host: %v", err)
	}
	pgPort, err := pgCont.MappedPort(ctx, "5432")
	if err != nil {
		t.Fatalf("Failed to get container port: %v", err)
	}

	return config.Postgres{
		User:     pgUser,
		Password: pgPassword,
		Host:     pgHost,
		Port:     pgPort.Int(),
		DB:       pgDB,
		SSLMode:  "disable",
	}
}

func runMigrations(t testing.TB, cfg config.Postgres) {
	t.Helper()

	migrationPath := "file://../../../../migrations"

	m, err := migrate.New(migrationPath, cfg.DSN())
	if err != nil {
		t.Fatalf("Failed to initialize migrations: %v", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		t.Fatalf("Failed to run migrations: %v", err)
	}

	t.Cleanup(func() {
		if err := m.Down(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
			t.Fatalf("Failed to rollback migrations: %v", err)
		}
	})
}

func setupLinkRepository(t testing.TB) (*postgres.LinkRepository, *sqlx.DB) {
	t.Helper()

	cfg := setupPostgres(t)
	runMigrations(t, cfg)

	db, err := sqlx.Connect("pgx", cfg.DSN())
	if err != nil {
		t.Fatalf("Failed to connect to database: %v", err)
	}
	t.Cleanup(func() {
		if err := db.Close(); err != nil {
			t.Fatalf("Failed to close database: %v", err)
		}
	})

	return postgres.NewLinkRepository(db), db
}

type linkRecord struct {
	ID          string    `db:"id"`
	OwnerID     *int64    `db:"owner_id"`
	Locator     string    `db:"locator"`
	Title       string    `db:"title"`
	Description string    `db:"description"`
	Public      bool      `db:"public"`
	VisitCount  int64     `db:"visit_count"`
	Status      string    `db:"status"`
	CreatedAt   time.Time `db:"created_at"`
	ExpiresAt   time.Time `db:"expires_at"`
}

func insertLinkRecord(t testing.TB, ctx context.Context, db *sqlx.DB, id, locator, status string, createdAt, expiresAt time.Time) *linkRecord {
	t.Helper()

	rec := new(linkRecord)
	query := `INSERT INTO links(id, locator, status, created_at, expires_at)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING *`

	if err := db.GetContext(ctx, rec, query, id, locator, status, createdAt, expiresAt); err != nil {
		t.Fatalf("Failed to insert row: %v", err)
	}

	return rec
}

func getLinkRecord(t testing.TB, ctx context.Context, db *sqlx.DB, id string) *linkRecord {
	t.Helper()

	rec := new(linkRecord)
	query := `SELECT * FROM links
		WHERE id = $1`

	if err := db.GetContext(ctx, rec, query, id); err != nil {
		t.Fatalf("Failed to get link record: %v", err)
	}

	return rec
}

func TestLinkRepository_Create(t *testing.T) {
	if testing.Short() {
		t.SkipNow()
	}

	t.Run("link id taken", func(t *testing.T) {
		ctx := context.Background()
		repo, db := setupLinkRepository(t)

		_ = insertLinkRecord(t, ctx, db, "Ab3dEf6hIj9kLm1n", "bucket/report.html", "active", time.Now(), time.Now().Add(time.Hour))

		link, err := repo.Create(ctx, &models.Link{
			ID:        "Ab3dEf6hIj9kLm1n",
			Locator:   "bucket/other.html",
			ExpiresAt: time.Now().Add(time.Hour),
		})

		assert.Error(t, err)
		assert.ErrorIs(t, err, database.ErrLinkExists)
		assert.Nil(t, link)
	})

	t.Run("success", func(t *testing.T) {
		ctx := context.Background()
		repo, _ := setupLinkRepository(t)

		expiresAt := time.Now().Add(time.Hour)

		link, err := repo.Create(ctx, &models.Link{
			ID:        "Ab3dEf6hIj9kLm1n",
			Locator:   "bucket/report.html",
			ExpiresAt: expiresAt,
		})

		assert.NoError(t, err)
		assert.NotNil(t, link)
		assert.Equal(t, "Ab3dEf6hIj9kLm1n", link.ID)
		assert.Equal(t, "bucket/report.html", link.Locator)
		assert.Equal(t, models.StatusActive, link.Status)
		assert.Zero(t, link.VisitCount)
		assert.WithinDuration(t, expiresAt, link.ExpiresAt, time.Second)
	})
}

func TestLinkRepository_Exists(t *testing.T) {
	if testing.Short() {
		t.SkipNow()
	}

	t.Run("free and taken", func(t *testing.T) {
		ctx := context.Background()
		repo, db := setupLinkRepository(t)

		exists, err := repo.Exists(ctx, "Ab3dEf6hIj9kLm1n")

		assert.NoError(t, err)
		assert.False(t, exists)

		_ = insertLinkRecord(t, ctx, db, "Ab3dEf6hIj9kLm1n", "bucket/report.html", "active", time.Now(), time.Now().Add(time.Hour))

		exists, err = repo.Exists(ctx, "Ab3dEf6hIj9kLm1n")

		assert.NoError(t, err)
		assert.True(t, exists)
	})
}

func TestLinkRepository_GetByID(t *testing.T) {
	if testing.Short() {
		t.SkipNow()
	}

	t.Run("link not found", func(t *testing.T) {
		ctx := context.Background()
		repo, _ := setupLinkRepository(t)

		link, err := repo.GetByID(ctx, "Ab3dEf6hIj9kLm1n")

		assert.Error(t, err)
		assert.ErrorIs(t, err, database.ErrLinkNotFound)
		assert.Nil(t, link)
	})

	t.Run("returns expired records", func(t *testing.T) {
		ctx := context.Background()
		repo, db := setupLinkRepository(t)

		_ = insertLinkRecord(t, ctx, db, "Ab3dEf6hIj9kLm1n", "bucket/report.html", "expired", time.Now(), time.Now().Add(-time.Hour))

		link, err := repo.GetByID(ctx, "Ab3dEf6hIj9kLm1n")

		assert.NoError(t, err)
		assert.NotNil(t, link)
		assert.Equal(t, models.StatusExpired, link.Status)
	})
}

func TestLinkRepository_UpdateMeta(t *testing.T) {
	if testing.Short() {
		t.SkipNow()
	}

	t.Run("partial update leaves other fields", func(t *testing.T) {
		ctx := context.Background()
		repo, db := setupLinkRepository(t)

		rec := insertLinkRecord(t, ctx, db, "Ab3dEf6hIj9kLm1n", "bucket/report.html", "active", time.Now(), time.Now().Add(time.Hour))

		title := "Quarterly report"

		link, err := repo.UpdateMeta(ctx, rec.ID, &title, nil, nil)

		assert.NoError(t, err)
		assert.NotNil(t, link)
		assert.Equal(t, title, link.Title)
		assert.Equal(t, rec.Description, link.Description)
		assert.Equal(t, rec.Public, link.Public)
		assert.WithinDuration(t, rec.ExpiresAt, link.ExpiresAt, time.Second)
	})
}

func TestLinkRepository_IncrementVisits(t *testing.T) {
	if testing.Short() {
		t.SkipNow()
	}

	t.Run("counts accumulate", func(t *testing.T) {
		ctx := context.Background()
		repo, db := setupLinkRepository(t)

		rec := insertLinkRecord(t, ctx, db, "Ab3dEf6hIj9kLm1n", "bucket/report.html", "active", time.Now(), time.Now().Add(time.Hour))

		assert.NoError(t, repo.IncrementVisits(ctx, rec.ID))
		assert.NoError(t, repo.IncrementVisits(ctx, rec.ID))

		rec = getLinkRecord(t, ctx, db, rec.ID)
		assert.Equal(t, int64(2), rec.VisitCount)
	})
}

func TestLinkRepository_MarkExpired(t *testing.T) {
	if testing.Short() {
		t.SkipNow()
	}

	t.Run("idempotent flip", func(t *testing.T) {
		ctx := context.Background()
		repo, db := setupLinkRepository(t)

		rec := insertLinkRecord(t, ctx, db, "Ab3dEf6hIj9kLm1n", "bucket/report.html", "active", time.Now(), time.Now().Add(-time.Minute))

		assert.NoError(t, repo.MarkExpired(ctx, rec.ID))
		assert.NoError(t, repo.MarkExpired(ctx, rec.ID))

		rec = getLinkRecord(t, ctx, db, rec.ID)
		assert.Equal(t, "expired", rec.Status)
	})
}

func TestLinkRepository_MarkAllExpired(t *testing.T) {
	if testing.Short() {
		t.SkipNow()
	}

	t.Run("flips only overdue active links", func(t *testing.T) {
		ctx := context.Background()
		repo, db := setupLinkRepository(t)

		now := time.Now()
		_ = insertLinkRecord(t, ctx, db, "Aa1aAa1aAa1aAa1a", "bucket/a.html", "active", now, now.Add(-time.Minute))
		_ = insertLinkRecord(t, ctx, db, "Bb2bBb2bBb2bBb2b", "bucket/b.html", "active", now, now.Add(time.Hour))
		_ = insertLinkRecord(t, ctx, db, "Cc3cCc3cCc3cCc3c", "bucket/c.html", "expired", now, now.Add(-time.Hour))

		marked, err := repo.MarkAllExpired(ctx, now)

		assert.NoError(t, err)
		assert.Equal(t, int64(1), marked)

		rec := getLinkRecord(t, ctx, db, "Bb2bBb2bBb2bBb2b")
		assert.Equal(t, "active", rec.Status)
	})
}

func TestLinkRepository_DeleteExpiredBatch(t *testing.T) {
	if testing.Short() {
		t.SkipNow()
	}

	t.Run("respects the batch limit and the cutoff", func(t *testing.T) {
		ctx := context.Background()
		repo, db := setupLinkRepository(t)

		now := time.Now()
		old := now.Add(-48 * time.Hour)

		_ = insertLinkRecord(t, ctx, db, "Aa1aAa1aAa1aAa1a", "bucket/a.html", "expired", old, old)
		_ = insertLinkRecord(t, ctx, db, "Bb2bBb2bBb2bBb2b", "bucket/b.html", "expired", old, old)
		_ = insertLinkRecord(t, ctx, db, "Cc3cCc3cCc3cCc3c", "bucket/c.html", "expired", now, now.Add(-time.Minute))

		cutoff := now.Add(-24 * time.Hour)

		deleted, err := repo.DeleteExpiredBatch(ctx, cutoff, 1)

		assert.NoError(t, err)
		assert.Equal(t, int64(1), deleted)

		deleted, err = repo.DeleteExpiredBatch(ctx, cutoff, 10)

		assert.NoError(t, err)
		assert.Equal(t, int64(1), deleted)

		// The recently expired link is inside the retention window.
		rec := getLinkRecord(t, ctx, db, "Cc3cCc3cCc3cCc3c")
		assert.Equal(t, "expired", rec.Status)
	})
}

func TestLinkRepository_Delete(t *testing.T) {
	if testing.Short() {
		t.SkipNow()
	}

	t.Run("link not found", func(t *testing.T) {
		ctx := context.Background()
		repo, _ := setupLinkRepository(t)

		err := repo.Delete(ctx, "Ab3dEf6hIj9kLm1n")

		assert.Error(t, err)
		assert.ErrorIs(t, err, database.ErrLinkNotFound)
	})

	t.Run("success", func(t *testing.T) {
		ctx := context.Background()
		repo, db := setupLinkRepository(t)

		rec := insertLinkRecord(t, ctx, db, "Ab3dEf6hIj9kLm1n", "bucket/report.html", "active", time.Now(), time.Now().Add(time.Hour))

		err := repo.Delete(ctx, rec.ID)

		assert.NoError(t, err)

		exists, err := repo.Exists(ctx, rec.ID)
		assert.NoError(t, err)
		assert.False(t, exists)
	})
}

package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/Ayi456/panel-link/internal/cache"
	"github.com/Ayi456/panel-link/internal/config"
	"github.com/Ayi456/panel-link/internal/database"
	"github.com/Ayi456/panel-link/internal/models"
	"github.com/cenkalti/backoff/v4"

	gonanoid "github.com/matoous/go-nanoid/v2"
)

var (
	// ErrEmptyLocator is returned when a create request carries no locator.
	ErrEmptyLocator = errors.New("locator must not be empty")
	// ErrTTLOutOfRange is returned when the requested TTL exceeds the configured maximum.
	ErrTTLOutOfRange = errors.New("ttl out of range")
	// ErrMaxRetriesExceeded is returned when the maximum number of retries for generating a link id is exceeded.
	ErrMaxRetriesExceeded = errors.New("maximum retries exceeded for generating link id")
)

const (
	// idAlphabet avoids characters that need URL escaping or read ambiguously.
	idAlphabet = "0123456789abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ"

	maxGenerateAttempts = 10
	storeMaxRetries     = 3
)

// LinkRepository defines the authoritative-store operations the engine needs.
type LinkRepository interface {
	// Create inserts a new link record and returns the stored row.
	Create(ctx context.Context, link *models.Link) (*models.Link, error)

	// Exists reports whether an id is already taken.
	Exists(ctx context.Context, id string) (bool, error)

	// GetByID retrieves a link regardless of its status.
	GetByID(ctx context.Context, id string) (*models.Link, error)

	// UpdateMeta updates display metadata only; nil fields are left untouched.
	UpdateMeta(ctx context.Context, id string, title, description *string, public *bool) (*models.Link, error)

	// IncrementVisits bumps the visit counter by one.
	IncrementVisits(ctx context.Context, id string) error

	// MarkExpired flips a link to expired; idempotent.
	MarkExpired(ctx context.Context, id string) error

	// Delete removes a link record.
	Delete(ctx context.Context, id string) error

	// MarkAllExpired flips every overdue active link and returns the count.
	MarkAllExpired(ctx context.Context, now time.Time) (int64, error)

	// DeleteExpiredBatch removes up to limit expired links created before cutoff.
	DeleteExpiredBatch(ctx context.Context, cutoff time.Time, limit int) (int64, error)
}

// LinkCache defines the ephemeral id → locator mapping. It is only ever an
// accelerator; every failure of it is absorbed and logged by the engine.
type LinkCache interface {
	Set(ctx context.Context, id, locator string, ttl time.Duration) error
	Get(ctx context.Context, id string) (string, error)
	Del(ctx context.Context, id string) error
	Exists(ctx context.Context, id string) (bool, error)
}

// LinkService orchestrates the link lifecycle across the authoritative store
// and the cache: creation, cache-aside resolution, lazy expiry and sweeping.
type LinkService struct {
	repo      LinkRepository
	cache     LinkCache
	logger    *slog.Logger
	cfg       config.Link
	idPattern *regexp.Regexp
	now       func() time.Time
	wg        sync.WaitGroup
}

// NewLinkService creates a new LinkService with the provided store adapters.
func NewLinkService(repo LinkRepository, cache LinkCache, logger *slog.Logger, cfg config.Link) *LinkService {
	return &LinkService{
		repo:      repo,
		cache:     cache,
		logger:    logger,
		cfg:       cfg,
		idPattern: regexp.MustCompile(fmt.Sprintf(`^[0-9A-Za-z]{%d}$`, cfg.IDLength)),
		now:       time.Now,
	}
}

// Wait blocks until all detached background tasks have finished.
// Called on shutdown so visit counts and cache writes are not lost.
func (s *LinkService) Wait() {
	s.wg.Wait()
}

// ShareURL returns the externally addressable URL for a link id.
func (s *LinkService) ShareURL(id string) string {
	return strings.TrimSuffix(s.cfg.BaseURL, "/") + "/" + id
}

func (s *LinkService) validID(id string) bool {
	return s.idPattern.MatchString(id)
}

// store runs an authoritative-store operation with a per-attempt timeout,
// retrying transient transport failures with exponential backoff. Exhausting
// the retries surfaces as a store-unavailable error.
func (s *LinkService) store(ctx context.Context, fn func(ctx context.Context) error) error {
	bo := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), storeMaxRetries), ctx)

	err := backoff.Retry(func() error {
		opCtx, cancel := context.WithTimeout(ctx, s.cfg.StoreTimeout)
		defer cancel()

		if err := fn(opCtx); err != nil {
			if retryable(ctx, err) {
				return err
			}
			return backoff.Permanent(err)
		}
		return nil
	}, bo)

	if err != nil && retryable(ctx, err) {
		return fmt.Errorf("%w: %v", database.ErrStoreUnavailable, err)
	}

	return err
}

// retryable reports whether err is worth another store attempt: a transient
// transport failure, or a per-attempt timeout while the caller's own context
// is still live. A dead caller context is never retried.
func retryable(ctx context.Context, err error) bool {
	if database.IsTransient(err) {
		return true
	}
	return errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil
}

// detach runs fn on a background goroutine decoupled from the request path,
// bounded by the store timeout so a hung store cannot pin the task forever.
// Errors end up in the log, never in the caller's response.
func (s *LinkService) detach(op string, fn func(ctx context.Context) error) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()

		ctx, cancel := context.WithTimeout(context.Background(), s.cfg.StoreTimeout)
		defer cancel()

		if err := fn(ctx); err != nil {
			s.logger.Warn("detached task failed", slog.String("op", op), slog.Any("err", err))
		}
	}()
}

// cacheTTL returns the TTL for a cache entry: the configured cache TTL, capped
// so the entry never outlives the link's remaining lifetime.
func (s *LinkService) cacheTTL(link *models.Link, now time.Time) time.Duration {
	ttl := s.cfg.CacheTTL
	if remaining := link.Remaining(now); remaining < ttl {
		ttl = remaining
	}
	return ttl
}

// CreateLinkParams carries the caller-supplied fields of a create request.
// Ownership and quota have already been checked by the caller.
type CreateLinkParams struct {
	Locator     string
	OwnerID     *int64
	Title       string
	Description string
	Public      bool
	TTL         time.Duration
}

// CreateLink registers a locator under a fresh short id and returns the stored
// record. The cache is populated as a best-effort step; a cache failure never
// fails the create.
func (s *LinkService) CreateLink(ctx context.Context, params CreateLinkParams) (*models.Link, error) {
	const op = "service.LinkService.CreateLink"

	if strings.TrimSpace(params.Locator) == "" {
		return nil, fmt.Errorf("%s: %w", op, ErrEmptyLocator)
	}

	ttl := params.TTL
	if ttl == 0 {
		ttl = s.cfg.DefaultTTL
	}
	if ttl < 0 || ttl > s.cfg.MaxTTL {
		return nil, fmt.Errorf("%s: %w", op, ErrTTLOutOfRange)
	}

	now := s.now()
	var link *models.Link

	for i := 0; i < maxGenerateAttempts; i++ {
		id, err := gonanoid.Generate(idAlphabet, s.cfg.IDLength)
		if err != nil {
			return nil, fmt.Errorf("%s: failed to generate link id: %w", op, err)
		}

		var exists bool
		err = s.store(ctx, func(ctx context.Context) error {
			exists, err = s.repo.Exists(ctx, id)
			return err
		})
		if err != nil {
			return nil, fmt.Errorf("%s: failed to check id existence: %w", op, err)
		}
		if exists {
			continue
		}

		var created *models.Link
		err = s.store(ctx, func(ctx context.Context) error {
			created, err = s.repo.Create(ctx, &models.Link{
				ID:          id,
				OwnerID:     params.OwnerID,
				Locator:     params.Locator,
				Title:       params.Title,
				Description: params.Description,
				Public:      params.Public,
				ExpiresAt:   now.Add(ttl),
			})
			return err
		})
		if err != nil {
			// Raced with a concurrent create between the existence check
			// and the insert; pick a new id.
			if errors.Is(err, database.ErrLinkExists) {
				continue
			}
			return nil, fmt.Errorf("%s: failed to create link: %w", op, err)
		}

		link = created
		break
	}

	if link == nil {
		return nil, fmt.Errorf("%s: %w", op, ErrMaxRetriesExceeded)
	}

	cacheCtx, cancel := context.WithTimeout(ctx, s.cfg.StoreTimeout)
	defer cancel()
	if err := s.cache.Set(cacheCtx, link.ID, link.Locator, s.cacheTTL(link, now)); err != nil {
		s.logger.Warn("cache population failed",
			slog.String("op", op), slog.String("id", link.ID), slog.Any("err", err))
	}

	return link, nil
}

// ResolveLink resolves a link id into its locator using a cache-aside read.
// A cache hit is never trusted for liveness on its own; the authoritative
// store is consulted before anything is returned. Expired and absent ids are
// indistinguishable to the caller.
func (s *LinkService) ResolveLink(ctx context.Context, id string) (string, error) {
	const op = "service.LinkService.ResolveLink"

	if !s.validID(id) {
		return "", fmt.Errorf("%s: %w", op, database.ErrLinkNotFound)
	}

	cacheCtx, cancel := context.WithTimeout(ctx, s.cfg.StoreTimeout)
	locator, cacheErr := s.cache.Get(cacheCtx, id)
	cancel()

	if cacheErr == nil {
		link, err := s.getLink(ctx, id)
		if err != nil {
			if errors.Is(err, database.ErrLinkNotFound) {
				s.detach("resolve.invalidate", func(ctx context.Context) error {
					return s.cache.Del(ctx, id)
				})
				return "", fmt.Errorf("%s: %w", op, database.ErrLinkNotFound)
			}
			return "", fmt.Errorf("%s: failed to resolve link: %w", op, err)
		}

		if !link.Live(s.now()) {
			s.detach("resolve.expire", func(ctx context.Context) error {
				return s.markExpired(ctx, id)
			})
			return "", fmt.Errorf("%s: %w", op, database.ErrLinkNotFound)
		}

		s.detach("resolve.visit", func(ctx context.Context) error {
			return s.repo.IncrementVisits(ctx, id)
		})

		return locator, nil
	}

	if !errors.Is(cacheErr, cache.ErrCacheMiss) {
		s.logger.Warn("cache degraded, falling back to authoritative store",
			slog.String("op", op), slog.String("id", id), slog.Any("err", cacheErr))
	}

	link, err := s.getLink(ctx, id)
	if err != nil {
		if errors.Is(err, database.ErrLinkNotFound) {
			return "", fmt.Errorf("%s: %w", op, database.ErrLinkNotFound)
		}
		return "", fmt.Errorf("%s: failed to resolve link: %w", op, err)
	}

	now := s.now()
	if !link.Live(now) {
		s.detach("resolve.expire", func(ctx context.Context) error {
			return s.markExpired(ctx, id)
		})
		return "", fmt.Errorf("%s: %w", op, database.ErrLinkNotFound)
	}

	if ttl := s.cacheTTL(link, now); ttl > 0 {
		loc := link.Locator
		s.detach("resolve.warmup", func(ctx context.Context) error {
			return s.cache.Set(ctx, id, loc, ttl)
		})
	}

	s.detach("resolve.visit", func(ctx context.Context) error {
		return s.repo.IncrementVisits(ctx, id)
	})

	return link.Locator, nil
}

// GetLinkInfo returns the full record plus a flag reporting whether the link
// currently has a cache entry. Unlike ResolveLink it returns expired records,
// so owners can inspect links past their deadline.
func (s *LinkService) GetLinkInfo(ctx context.Context, id string) (*models.LinkInfo, error) {
	const op = "service.LinkService.GetLinkInfo"

	if !s.validID(id) {
		return nil, fmt.Errorf("%s: %w", op, database.ErrLinkNotFound)
	}

	link, err := s.getLink(ctx, id)
	if err != nil {
		if errors.Is(err, database.ErrLinkNotFound) {
			return nil, fmt.Errorf("%s: %w", op, database.ErrLinkNotFound)
		}
		return nil, fmt.Errorf("%s: failed to get link info: %w", op, err)
	}

	// Lazy marking: the stored status may lag behind the deadline until a
	// read or the sweeper catches up. Report the derived status either way.
	if link.Status == models.StatusActive && !link.ExpiresAt.After(s.now()) {
		link.Status = models.StatusExpired
		s.detach("info.expire", func(ctx context.Context) error {
			return s.markExpired(ctx, id)
		})
	}

	info := &models.LinkInfo{Link: *link}

	cacheCtx, cancel := context.WithTimeout(ctx, s.cfg.StoreTimeout)
	defer cancel()
	cached, err := s.cache.Exists(cacheCtx, id)
	if err != nil {
		s.logger.Warn("cache probe failed",
			slog.String("op", op), slog.String("id", id), slog.Any("err", err))
	} else {
		info.Cached = cached
	}

	return info, nil
}

// UpdateLinkParams carries the mutable display metadata of a link.
// Nil fields are left unchanged.
type UpdateLinkParams struct {
	Title       *string
	Description *string
	Public      *bool
}

// UpdateLink modifies display metadata only. It never touches the deadline,
// the status or the cache.
func (s *LinkService) UpdateLink(ctx context.Context, id string, params UpdateLinkParams) (*models.Link, error) {
	const op = "service.LinkService.UpdateLink"

	if !s.validID(id) {
		return nil, fmt.Errorf("%s: %w", op, database.ErrLinkNotFound)
	}

	var link *models.Link
	err := s.store(ctx, func(ctx context.Context) error {
		var err error
		link, err = s.repo.UpdateMeta(ctx, id, params.Title, params.Description, params.Public)
		return err
	})
	if err != nil {
		if errors.Is(err, database.ErrLinkNotFound) {
			return nil, fmt.Errorf("%s: %w", op, database.ErrLinkNotFound)
		}
		return nil, fmt.Errorf("%s: failed to update link: %w", op, err)
	}

	return link, nil
}

// DeleteLink removes a link record and invalidates its cache entry.
func (s *LinkService) DeleteLink(ctx context.Context, id string) error {
	const op = "service.LinkService.DeleteLink"

	if !s.validID(id) {
		return fmt.Errorf("%s: %w", op, database.ErrLinkNotFound)
	}

	err := s.store(ctx, func(ctx context.Context) error {
		return s.repo.Delete(ctx, id)
	})
	if err != nil {
		if errors.Is(err, database.ErrLinkNotFound) {
			return fmt.Errorf("%s: %w", op, database.ErrLinkNotFound)
		}
		return fmt.Errorf("%s: failed to delete link: %w", op, err)
	}

	cacheCtx, cancel := context.WithTimeout(ctx, s.cfg.StoreTimeout)
	defer cancel()
	if err := s.cache.Del(cacheCtx, id); err != nil {
		s.logger.Warn("cache invalidation failed",
			slog.String("op", op), slog.String("id", id), slog.Any("err", err))
	}

	return nil
}

// markExpired flips the authoritative status and invalidates the cache entry.
// The status flip is the one step that must succeed; the cache invalidation
// error is swallowed because the entry self-expires anyway.
func (s *LinkService) markExpired(ctx context.Context, id string) error {
	const op = "service.LinkService.markExpired"

	err := s.store(ctx, func(ctx context.Context) error {
		return s.repo.MarkExpired(ctx, id)
	})
	if err != nil {
		return fmt.Errorf("%s: failed to mark link expired: %w", op, err)
	}

	cacheCtx, cancel := context.WithTimeout(ctx, s.cfg.StoreTimeout)
	defer cancel()
	if err := s.cache.Del(cacheCtx, id); err != nil {
		s.logger.Warn("cache invalidation failed",
			slog.String("op", op), slog.String("id", id), slog.Any("err", err))
	}

	return nil
}

func (s *LinkService) getLink(ctx context.Context, id string) (*models.Link, error) {
	var link *models.Link
	err := s.store(ctx, func(ctx context.Context) error {
		var err error
		link, err = s.repo.GetByID(ctx, id)
		return err
	})
	return link, err
}

// Package store builds the storefront: it pulls songs, albums and merch
// from the catalog service and turns them into one product list.
package store

import (
	"context"
	"fmt"
	"time"

	"oversounds/internal/config"
	"oversounds/internal/metrics"
	"oversounds/internal/tya"
	"oversounds/pkg/models"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// RunRecorder stores the summary of every storefront build.
type RunRecorder interface {
	RecordRun(ctx context.Context, run models.Run) error
}

// Storefront orchestrates the upstream fetch and the product mapping.
type Storefront struct {
	client   *tya.Client
	policy   string
	recorder RunRecorder
	logger   *logrus.Logger
}

// New creates a storefront over client. policy is one of the config
// failure policies; recorder may be nil.
func New(client *tya.Client, policy string, recorder RunRecorder, logger *logrus.Logger) *Storefront {
	if policy == "" {
		policy = config.FailurePolicyShared
	}
	return &Storefront{
		client:   client,
		policy:   policy,
		recorder: recorder,
		logger:   logger,
	}
}

// FromConfig wires a storefront and its upstream client from configuration.
func FromConfig(cfg *config.Config, recorder RunRecorder, logger *logrus.Logger) *Storefront {
	client := tya.NewClient(
		cfg.Upstream.BaseURL,
		cfg.UpstreamTimeout(),
		tya.NewLimiter(cfg.Upstream.RatePerSecond, cfg.Upstream.RateBurst),
		logger,
	)
	return New(client, cfg.Upstream.FailurePolicy, recorder, logger)
}

// Policy returns the active failure policy.
func (s *Storefront) Policy() string {
	return s.policy
}

// UpstreamTimeout returns the per-request upstream timeout.
func (s *Storefront) UpstreamTimeout() time.Duration {
	return s.client.Timeout()
}

// UpstreamURL returns the catalog service base URL.
func (s *Storefront) UpstreamURL() string {
	return s.client.BaseURL()
}

// Products builds the full storefront: songs, then albums, then merch, each
// in the order the upstream returned them. Upstream failures yield empty
// kinds instead of an error; only assembly failures are returned.
func (s *Storefront) Products(ctx context.Context) ([]models.Product, error) {
	run := models.Run{
		ID:        uuid.NewString(),
		StartedAt: time.Now().UTC(),
	}
	log := s.logger.WithField("run_id", run.ID)

	catalog, degraded := s.fetchCatalog(ctx, log)
	run.Degraded = degraded

	products, err := assemble(catalog, log)
	if err != nil {
		run.Error = err.Error()
		log.WithError(err).Error("Failed to build storefront")
	} else {
		run.Songs = len(catalog.Songs)
		run.Albums = len(catalog.Albums)
		run.Merch = len(catalog.Merch)
		metrics.SetProductCount(models.KindSong.String(), run.Songs)
		metrics.SetProductCount(models.KindAlbum.String(), run.Albums)
		metrics.SetProductCount(models.KindMerch.String(), run.Merch)
	}

	run.Duration = time.Since(run.StartedAt)
	run.DurationMS = run.Duration.Milliseconds()
	s.record(ctx, log, run)

	if err != nil {
		return nil, err
	}

	log.WithFields(logrus.Fields{
		"songs":    run.Songs,
		"albums":   run.Albums,
		"merch":    run.Merch,
		"degraded": degraded,
		"duration": run.Duration.Round(time.Millisecond),
	}).Info("Storefront built")
	return products, nil
}

// fetchCatalog runs the identifier phase for every kind, then the detail
// phase. It never fails: kinds hit by an upstream error come back empty and
// are listed in degraded. Under the shared policy one failure empties all
// three kinds.
func (s *Storefront) fetchCatalog(ctx context.Context, log *logrus.Entry) (tya.Catalog, []string) {
	session := s.client.OpenSession()
	defer session.Close()

	var catalog tya.Catalog
	failed := make(map[models.ProductKind]bool)

	degrade := func(kind models.ProductKind, err error) {
		log.WithError(err).WithFields(logrus.Fields{
			"kind":   kind.String(),
			"policy": s.policy,
		}).Warn("Catalog service request failed, serving empty results")
		failed[kind] = true
	}

	ids := make(map[models.ProductKind][]int, len(models.Kinds))
	for _, kind := range models.Kinds {
		kindIDs, err := session.FetchIdentifiers(ctx, kind)
		if err != nil {
			degrade(kind, err)
			if s.policy == config.FailurePolicyShared {
				return tya.Catalog{}, allDegraded()
			}
			continue
		}
		ids[kind] = kindIDs
	}

	for _, kind := range models.Kinds {
		if failed[kind] {
			continue
		}
		if err := fetchDetails(ctx, session, kind, ids[kind], &catalog); err != nil {
			degrade(kind, err)
			if s.policy == config.FailurePolicyShared {
				return tya.Catalog{}, allDegraded()
			}
		}
	}

	var degraded []string
	for _, kind := range models.Kinds {
		if failed[kind] {
			degraded = append(degraded, kind.String())
			metrics.RecordDegraded(kind.String())
		}
	}
	return catalog, degraded
}

func fetchDetails(ctx context.Context, session *tya.Session, kind models.ProductKind, ids []int, catalog *tya.Catalog) error {
	var err error
	switch kind {
	case models.KindSong:
		catalog.Songs, err = session.FetchSongs(ctx, ids)
		if err != nil {
			catalog.Songs = nil
		}
	case models.KindAlbum:
		catalog.Albums, err = session.FetchAlbums(ctx, ids)
		if err != nil {
			catalog.Albums = nil
		}
	case models.KindMerch:
		catalog.Merch, err = session.FetchMerch(ctx, ids)
		if err != nil {
			catalog.Merch = nil
		}
	default:
		err = fmt.Errorf("unsupported kind %v", kind)
	}
	return err
}

func allDegraded() []string {
	out := make([]string, 0, len(models.Kinds))
	for _, kind := range models.Kinds {
		out = append(out, kind.String())
		metrics.RecordDegraded(kind.String())
	}
	return out
}

// assemble maps the catalog in storefront order. A panic while mapping is
// reported as a mapping error. Records without a usable release date are
// still served, with a zero date.
func assemble(catalog tya.Catalog, log *logrus.Entry) (products []models.Product, err error) {
	defer func() {
		if r := recover(); r != nil {
			products = nil
			err = fmt.Errorf("%w: %v", ErrMapping, r)
		}
	}()

	products = make([]models.Product, 0, len(catalog.Songs)+len(catalog.Albums)+len(catalog.Merch))
	add := func(p models.Product, rawDate string) {
		if p.ReleaseDate.IsZero() {
			log.WithFields(logrus.Fields{
				"kind":         p.Kind.String(),
				"id":           p.ID(),
				"release_date": rawDate,
			}).Warn("Unusable release date, serving product without it")
		}
		products = append(products, p)
	}

	for _, rec := range catalog.Songs {
		add(MapSong(rec), rec.ReleaseDate)
	}
	for _, rec := range catalog.Albums {
		add(MapAlbum(rec), rec.ReleaseDate)
	}
	for _, rec := range catalog.Merch {
		add(MapMerch(rec), rec.ReleaseDate)
	}
	return products, nil
}

func (s *Storefront) record(ctx context.Context, log *logrus.Entry, run models.Run) {
	if s.recorder == nil {
		return
	}
	// The run is logged even when the request context is already done.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
	defer cancel()
	if err := s.recorder.RecordRun(ctx, run); err != nil {
		log.WithError(err).Warn("Failed to record storefront run")
	}
}

// FilterKind returns the products of one kind, keeping their order.
func FilterKind(products []models.Product, kind models.ProductKind) []models.Product {
	out := make([]models.Product, 0, len(products))
	for _, p := range products {
		if p.Kind == kind {
			out = append(out, p)
		}
	}
	return out
}

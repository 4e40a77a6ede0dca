package repository

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/umbrellashare/umbrellashare/internal/domain"
)

// InventoryKey is the single shared inventory document.
const InventoryKey = "umbrella_points.json"

// InventoryRepository implements domain.InventoryRepository
type InventoryRepository struct {
	store  domain.DocumentStore
	logger *slog.Logger
}

// NewInventoryRepository creates a new inventory repository
func NewInventoryRepository(store domain.DocumentStore, logger *slog.Logger) *InventoryRepository {
	if logger == nil {
		logger = slog.Default()
	}
	return &InventoryRepository{store: store, logger: logger}
}

// Get always reads through to the store.
func (r *InventoryRepository) Get(ctx context.Context) (*domain.Inventory, error) {
	doc, err := r.store.Get(ctx, InventoryKey)
	if err != nil {
		return nil, err
	}
	var points []domain.Point
	if err := doc.Decode(&points); err != nil {
		return nil, &domain.StoreError{Op: "get", Key: InventoryKey, Kind: domain.ErrTransport, Err: fmt.Errorf("decode inventory: %w", err)}
	}
	return &domain.Inventory{Points: points, Version: doc.Version}, nil
}

// Put writes points. Ids must be unique and counts non-negative.
func (r *InventoryRepository) Put(ctx context.Context, points []domain.Point, expectedVersion string) (string, error) {
	seen := make(map[string]struct{}, len(points))
	for _, p := range points {
		if _, dup := seen[p.ID]; dup {
			return "", fmt.Errorf("inventory: duplicate point id %q", p.ID)
		}
		seen[p.ID] = struct{}{}
		if p.Count < 0 {
			return "", fmt.Errorf("inventory: point %q has negative count %d", p.ID, p.Count)
		}
	}
	if points == nil {
		points = []domain.Point{}
	}

	ctx = domain.WithCommitMessage(ctx, "Update umbrella points status")
	version, err := r.store.Put(ctx, InventoryKey, points, expectedVersion)
	if err != nil {
		return "", err
	}
	r.logger.Debug("inventory saved", slog.String("version", version), slog.Int("points", len(points)))
	return version, nil
}

// FindPoint returns the point with id or domain.ErrPointNotFound.
func FindPoint(points []domain.Point, id string) (domain.Point, error) {
	for _, p := range points {
		if p.ID == id {
			return p, nil
		}
	}
	return domain.Point{}, fmt.Errorf("%q: %w", id, domain.ErrPointNotFound)
}

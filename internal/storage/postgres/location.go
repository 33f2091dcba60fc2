package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/cory-johannsen/mapworld/internal/game/geom"
	"github.com/cory-johannsen/mapworld/internal/game/world"
)

var (
	// ErrLocationNotFound is returned when no location has been saved for a player.
	ErrLocationNotFound = errors.New("player location not found")
	// ErrSchemaMissing is returned when the player_locations table does not
	// exist yet; run cmd/migrate.
	ErrSchemaMissing = errors.New("player location schema missing")
)

// Querier is the subset of pgxpool.Pool used by LocationRepository.
type Querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// SavedLocation is the last known placement of a player.
type SavedLocation struct {
	UID         string
	Location    world.Location
	Position    geom.Point
	Orientation float64
	UpdatedAt   time.Time
}

// LocationRepository persists the last known location of each player.
type LocationRepository struct {
	db Querier
}

// NewLocationRepository creates a LocationRepository backed by db, usually a
// *pgxpool.Pool.
//
// Precondition: db must be open.
func NewLocationRepository(db Querier) *LocationRepository {
	return &LocationRepository{db: db}
}

// Save upserts the location of s.UID.
//
// Precondition: s.UID must be non-empty.
// Postcondition: A subsequent Load for s.UID returns s's placement.
func (r *LocationRepository) Save(ctx context.Context, s SavedLocation) error {
	if s.UID == "" {
		return errors.New("saving location: uid must not be empty")
	}
	l := s.Location
	_, err := r.db.Exec(ctx, `
		INSERT INTO player_locations
			(uid, world_id, town_id, building_id, interior_map_id, room_id, tile_map_id,
			 x, y, orientation)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
		ON CONFLICT (uid) DO UPDATE SET
			world_id = EXCLUDED.world_id,
			town_id = EXCLUDED.town_id,
			building_id = EXCLUDED.building_id,
			interior_map_id = EXCLUDED.interior_map_id,
			room_id = EXCLUDED.room_id,
			tile_map_id = EXCLUDED.tile_map_id,
			x = EXCLUDED.x,
			y = EXCLUDED.y,
			orientation = EXCLUDED.orientation,
			updated_at = NOW()`,
		s.UID, l.WorldID, l.TownID, l.BuildingID, l.InteriorMapID, l.RoomID, l.TileMapID,
		s.Position.X, s.Position.Y, s.Orientation,
	)
	if err != nil {
		return fmt.Errorf("saving location of %s: %w", s.UID, classify(err))
	}
	return nil
}

// Load returns the last saved location of uid.
//
// Postcondition: Returns ErrLocationNotFound if nothing was saved for uid.
func (r *LocationRepository) Load(ctx context.Context, uid string) (SavedLocation, error) {
	s := SavedLocation{UID: uid}
	l := &s.Location
	err := r.db.QueryRow(ctx, `
		SELECT world_id, town_id, building_id, interior_map_id, room_id, tile_map_id,
		       x, y, orientation, updated_at
		FROM player_locations WHERE uid = $1`,
		uid,
	).Scan(
		&l.WorldID, &l.TownID, &l.BuildingID, &l.InteriorMapID, &l.RoomID, &l.TileMapID,
		&s.Position.X, &s.Position.Y, &s.Orientation, &s.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return SavedLocation{}, ErrLocationNotFound
		}
		return SavedLocation{}, fmt.Errorf("loading location of %s: %w", uid, classify(err))
	}
	return s, nil
}

// Delete forgets the saved location of uid. Deleting an unknown uid is not
// an error.
func (r *LocationRepository) Delete(ctx context.Context, uid string) error {
	if _, err := r.db.Exec(ctx, `DELETE FROM player_locations WHERE uid = $1`, uid); err != nil {
		return fmt.Errorf("deleting location of %s: %w", uid, classify(err))
	}
	return nil
}

// classify maps a missing table onto ErrSchemaMissing and leaves other
// errors alone.
func classify(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UndefinedTable {
		return fmt.Errorf("%w: %s", ErrSchemaMissing, pgErr.Message)
	}
	return err
}

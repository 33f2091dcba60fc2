package postgres_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cory-johannsen/mapworld/internal/game/geom"
	"github.com/cory-johannsen/mapworld/internal/game/world"
	"github.com/cory-johannsen/mapworld/internal/storage/postgres"
)

var locationColumns = []string{
	"world_id", "town_id", "building_id", "interior_map_id", "room_id", "tile_map_id",
	"x", "y", "orientation", "updated_at",
}

func TestLocationRepository_LoadScansEveryLevel(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	mock.ExpectQuery(`SELECT world_id`).
		WithArgs("alice").
		WillReturnRows(pgxmock.NewRows(locationColumns).
			AddRow(0, 1, 2, 0, 3, -1, 12.5, 40.0, 1.5, at))

	got, err := postgres.NewLocationRepository(mock).Load(context.Background(), "alice")
	require.NoError(t, err)
	assert.Equal(t, postgres.SavedLocation{
		UID:         "alice",
		Location:    world.RoomLocation(0, 1, 2, 0, 3),
		Position:    geom.Point{X: 12.5, Y: 40},
		Orientation: 1.5,
		UpdatedAt:   at,
	}, got)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLocationRepository_Errors(t *testing.T) {
	missingTable := &pgconn.PgError{Code: pgerrcode.UndefinedTable, Message: `relation "player_locations" does not exist`}

	tests := []struct {
		name      string
		setupMock func(mock pgxmock.PgxPoolIface)
		run       func(repo *postgres.LocationRepository) error
		want      error
		errMsg    string
	}{
		{
			name: "load without a row",
			setupMock: func(mock pgxmock.PgxPoolIface) {
				mock.ExpectQuery(`SELECT world_id`).WithArgs("bob").WillReturnError(pgx.ErrNoRows)
			},
			run: func(repo *postgres.LocationRepository) error {
				_, err := repo.Load(context.Background(), "bob")
				return err
			},
			want: postgres.ErrLocationNotFound,
		},
		{
			name: "load before migrating",
			setupMock: func(mock pgxmock.PgxPoolIface) {
				mock.ExpectQuery(`SELECT world_id`).WithArgs("bob").WillReturnError(missingTable)
			},
			run: func(repo *postgres.LocationRepository) error {
				_, err := repo.Load(context.Background(), "bob")
				return err
			},
			want: postgres.ErrSchemaMissing,
		},
		{
			name: "save before migrating",
			setupMock: func(mock pgxmock.PgxPoolIface) {
				mock.ExpectExec(`INSERT INTO player_locations`).WillReturnError(missingTable)
			},
			run: func(repo *postgres.LocationRepository) error {
				return repo.Save(context.Background(), postgres.SavedLocation{UID: "bob", Location: world.WorldLocation(0)})
			},
			want: postgres.ErrSchemaMissing,
		},
		{
			name: "save connection failure",
			setupMock: func(mock pgxmock.PgxPoolIface) {
				mock.ExpectExec(`INSERT INTO player_locations`).WillReturnError(errors.New("connection refused"))
			},
			run: func(repo *postgres.LocationRepository) error {
				return repo.Save(context.Background(), postgres.SavedLocation{UID: "bob", Location: world.WorldLocation(0)})
			},
			errMsg: "connection refused",
		},
		{
			name: "delete connection failure",
			setupMock: func(mock pgxmock.PgxPoolIface) {
				mock.ExpectExec(`DELETE FROM player_locations`).WithArgs("bob").WillReturnError(errors.New("connection refused"))
			},
			run: func(repo *postgres.LocationRepository) error {
				return repo.Delete(context.Background(), "bob")
			},
			errMsg: "deleting location of bob",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mock, err := pgxmock.NewPool()
			require.NoError(t, err)
			defer mock.Close()
			tt.setupMock(mock)

			err = tt.run(postgres.NewLocationRepository(mock))
			require.Error(t, err)
			if tt.want != nil {
				assert.ErrorIs(t, err, tt.want)
			}
			if tt.errMsg != "" {
				assert.Contains(t, err.Error(), tt.errMsg)
			}
			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestLocationRepository_SaveSendsTileMapLevels(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectExec(`INSERT INTO player_locations`).
		WithArgs("carol", 0, -1, -1, -1, -1, 5, 8.0, 9.0, 0.25).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	err = postgres.NewLocationRepository(mock).Save(context.Background(), postgres.SavedLocation{
		UID:         "carol",
		Location:    world.TileMapLocation(0, 5),
		Position:    geom.Point{X: 8, Y: 9},
		Orientation: 0.25,
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

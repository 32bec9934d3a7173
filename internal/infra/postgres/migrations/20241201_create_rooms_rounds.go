package migrations

import (
	"context"
	_ "embed"

	"github.com/uptrace/bun"
	"github.com/uptrace/bun/migrate"
)

//go:embed 20241201_create_rooms_rounds.sql
var createRoomsRoundsSQL string

const dropRoomsRoundsSQL = `
DROP TRIGGER IF EXISTS answers_notify ON answers;
DROP TRIGGER IF EXISTS rounds_notify ON rounds;
DROP TRIGGER IF EXISTS players_notify ON players;
DROP FUNCTION IF EXISTS notify_quiz_change();
DROP FUNCTION IF EXISTS reset_room_scores(text);
DROP FUNCTION IF EXISTS apply_round_scores(uuid, integer, integer, integer);
DROP VIEW IF EXISTS round_answer_ranks;
DROP TABLE IF EXISTS answers;
DROP TABLE IF EXISTS rounds;
DROP TABLE IF EXISTS players;
DROP TABLE IF EXISTS rooms;
`

var Migrations = migrate.NewMigrations()

func init() {
	Migrations.MustRegister(
		func(ctx context.Context, db *bun.DB) error {
			_, err := db.ExecContext(ctx, createRoomsRoundsSQL)
			return err
		},
		func(ctx context.Context, db *bun.DB) error {
			_, err := db.ExecContext(ctx, dropRoomsRoundsSQL)
			return err
		},
	)
}

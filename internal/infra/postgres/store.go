package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/driver/pgdriver"

	"live-quiz-service/internal/app"
	"live-quiz-service/internal/domain"
)

type roomRow struct {
	bun.BaseModel `bun:"table:rooms"`

	ID        string    `bun:"id,pk"`
	Code      string    `bun:"code"`
	CreatedAt time.Time `bun:"created_at,nullzero,notnull,default:current_timestamp"`
}

type playerRow struct {
	bun.BaseModel `bun:"table:players"`

	ID          string    `bun:"id,pk"`
	RoomCode    string    `bun:"room_code"`
	DisplayName string    `bun:"display_name"`
	TotalScore  int       `bun:"total_score,notnull"`
	CreatedAt   time.Time `bun:"created_at,nullzero,notnull,default:clock_timestamp()"`
}

type roundRow struct {
	bun.BaseModel `bun:"table:rounds"`

	ID            string     `bun:"id,pk"`
	RoomCode      string     `bun:"room_code"`
	Index         int        `bun:"index_no"`
	Status        string     `bun:"status"`
	CorrectChoice string     `bun:"correct_choice,nullzero"`
	OpenedAt      *time.Time `bun:"opened_at"`
	RevealStarted bool       `bun:"reveal_started,notnull"`
	RevealAt      *time.Time `bun:"reveal_at"`
	CreatedAt     time.Time  `bun:"created_at,nullzero,notnull,default:current_timestamp"`
}

type answerRow struct {
	bun.BaseModel `bun:"table:answers"`

	ID        int64     `bun:"id,pk,autoincrement"`
	RoomCode  string    `bun:"room_code"`
	RoundID   string    `bun:"round_id"`
	PlayerID  string    `bun:"player_id"`
	Choice    string    `bun:"choice"`
	CreatedAt time.Time `bun:"created_at"`
}

type rankRow struct {
	bun.BaseModel `bun:"table:round_answer_ranks"`

	RoomCode   string    `bun:"room_code"`
	RoundID    string    `bun:"round_id"`
	PlayerID   string    `bun:"player_id"`
	Choice     string    `bun:"choice"`
	CreatedAt  time.Time `bun:"created_at"`
	ElapsedSec float64   `bun:"elapsed_sec"`
	Rank       int       `bun:"rank"`
}

// Store is the shared Postgres implementation of app.Store. Status guards live
// in the statements themselves so concurrent sessions cannot race past them.
// With a nil publisher the database triggers are the only change source.
type Store struct {
	db        *bun.DB
	publisher app.ChangePublisher
}

func NewStore(db *bun.DB, publisher app.ChangePublisher) *Store {
	return &Store{db: db, publisher: publisher}
}

func (s *Store) CreateRoom(ctx context.Context, code string) (domain.Room, error) {
	row := roomRow{ID: uuid.NewString(), Code: code}
	if _, err := s.db.NewInsert().Model(&row).Returning("*").Exec(ctx); err != nil {
		return domain.Room{}, fmt.Errorf("insert room: %w", err)
	}
	return domain.Room{Code: row.Code, CreatedAt: row.CreatedAt}, nil
}

// GetRoom returns the oldest room carrying code.
func (s *Store) GetRoom(ctx context.Context, code string) (domain.Room, error) {
	var row roomRow
	err := s.db.NewSelect().Model(&row).Where("code = ?", code).Order("created_at ASC").Limit(1).Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Room{}, domain.ErrRoomNotFound
	}
	if err != nil {
		return domain.Room{}, fmt.Errorf("get room: %w", err)
	}
	return domain.Room{Code: row.Code, CreatedAt: row.CreatedAt}, nil
}

func (s *Store) AddPlayer(ctx context.Context, roomCode, displayName string) (domain.Player, error) {
	if _, err := s.GetRoom(ctx, roomCode); err != nil {
		return domain.Player{}, err
	}
	row := playerRow{ID: uuid.NewString(), RoomCode: roomCode, DisplayName: displayName}
	if _, err := s.db.NewInsert().Model(&row).Returning("*").Exec(ctx); err != nil {
		return domain.Player{}, fmt.Errorf("insert player: %w", err)
	}
	s.publish(ctx, roomCode, domain.TablePlayers)
	return row.toDomain(), nil
}

func (s *Store) GetPlayer(ctx context.Context, playerID string) (domain.Player, error) {
	if !validID(playerID) {
		return domain.Player{}, domain.ErrPlayerNotFound
	}
	var row playerRow
	err := s.db.NewSelect().Model(&row).Where("id = ?", playerID).Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Player{}, domain.ErrPlayerNotFound
	}
	if err != nil {
		return domain.Player{}, fmt.Errorf("get player: %w", err)
	}
	return row.toDomain(), nil
}

func (s *Store) RemovePlayer(ctx context.Context, playerID string) error {
	if !validID(playerID) {
		return domain.ErrPlayerNotFound
	}
	var row playerRow
	res, err := s.db.NewDelete().Model((*playerRow)(nil)).Where("id = ?", playerID).Returning("*").Exec(ctx, &row)
	if noRows(res, err) {
		return domain.ErrPlayerNotFound
	}
	if err != nil {
		return fmt.Errorf("delete player: %w", err)
	}
	s.publish(ctx, row.RoomCode, domain.TablePlayers)
	return nil
}

func (s *Store) ListPlayers(ctx context.Context, roomCode string) ([]domain.Player, error) {
	var rows []playerRow
	err := s.db.NewSelect().Model(&rows).Where("room_code = ?", roomCode).Order("created_at ASC", "id ASC").Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("list players: %w", err)
	}
	players := make([]domain.Player, 0, len(rows))
	for _, row := range rows {
		players = append(players, row.toDomain())
	}
	return players, nil
}

func (s *Store) InsertRound(ctx context.Context, roomCode string, index int) (domain.Round, error) {
	if _, err := s.GetRoom(ctx, roomCode); err != nil {
		return domain.Round{}, err
	}
	row := roundRow{ID: uuid.NewString(), RoomCode: roomCode, Index: index, Status: string(domain.RoundReady)}
	if _, err := s.db.NewInsert().Model(&row).Returning("*").Exec(ctx); err != nil {
		if isUniqueViolation(err) {
			return domain.Round{}, domain.ErrRoundInProgress
		}
		return domain.Round{}, fmt.Errorf("insert round: %w", err)
	}
	s.publish(ctx, roomCode, domain.TableRounds)
	return row.toDomain(), nil
}

func (s *Store) GetRound(ctx context.Context, roundID string) (domain.Round, error) {
	if !validID(roundID) {
		return domain.Round{}, domain.ErrRoundNotFound
	}
	var row roundRow
	err := s.db.NewSelect().Model(&row).Where("id = ?", roundID).Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Round{}, domain.ErrRoundNotFound
	}
	if err != nil {
		return domain.Round{}, fmt.Errorf("get round: %w", err)
	}
	return row.toDomain(), nil
}

func (s *Store) ListRounds(ctx context.Context, roomCode string) ([]domain.Round, error) {
	var rows []roundRow
	err := s.db.NewSelect().Model(&rows).Where("room_code = ?", roomCode).Order("index_no ASC").Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("list rounds: %w", err)
	}
	rounds := make([]domain.Round, 0, len(rows))
	for _, row := range rows {
		rounds = append(rounds, row.toDomain())
	}
	return rounds, nil
}

// OpenRound stamps opened_at from the database clock, the same clock that stamps
// answers, so elapsed times never mix clocks.
func (s *Store) OpenRound(ctx context.Context, roundID string, _ time.Time) (domain.Round, error) {
	q := s.db.NewUpdate().Model((*roundRow)(nil)).
		Set("status = ?", string(domain.RoundOpen)).
		Set("opened_at = clock_timestamp()").
		Set("reveal_started = false").
		Set("reveal_at = NULL").
		Where("id = ?", roundID).
		Where("status = ?", string(domain.RoundReady))
	return s.updateRound(ctx, roundID, q)
}

func (s *Store) CloseRound(ctx context.Context, roundID string) (domain.Round, error) {
	q := s.db.NewUpdate().Model((*roundRow)(nil)).
		Set("status = ?", string(domain.RoundClosed)).
		Where("id = ?", roundID).
		Where("status = ?", string(domain.RoundOpen))
	return s.updateRound(ctx, roundID, q)
}

func (s *Store) SetCorrectChoice(ctx context.Context, roundID string, choice domain.Choice) (domain.Round, error) {
	q := s.db.NewUpdate().Model((*roundRow)(nil)).
		Set("correct_choice = ?", string(choice)).
		Where("id = ?", roundID)
	return s.updateRound(ctx, roundID, q)
}

func (s *Store) StartReveal(ctx context.Context, roundID string, at time.Time) (domain.Round, error) {
	q := s.db.NewUpdate().Model((*roundRow)(nil)).
		Set("reveal_started = true").
		Set("reveal_at = ?", at).
		Where("id = ?", roundID).
		Where("reveal_started = false")
	round, err := s.updateRound(ctx, roundID, q)
	if errors.Is(err, domain.ErrInvalidTransition) {
		// Already started; the flag never flips back.
		return s.GetRound(ctx, roundID)
	}
	return round, err
}

// updateRound runs a guarded update. No matching row means either a missing round
// or a guard that refused the transition.
func (s *Store) updateRound(ctx context.Context, roundID string, q *bun.UpdateQuery) (domain.Round, error) {
	if !validID(roundID) {
		return domain.Round{}, domain.ErrRoundNotFound
	}
	var row roundRow
	res, err := q.Returning("*").Exec(ctx, &row)
	if noRows(res, err) {
		if _, getErr := s.GetRound(ctx, roundID); getErr != nil {
			return domain.Round{}, getErr
		}
		return domain.Round{}, domain.ErrInvalidTransition
	}
	if err != nil {
		return domain.Round{}, fmt.Errorf("update round: %w", err)
	}
	s.publish(ctx, row.RoomCode, domain.TableRounds)
	return row.toDomain(), nil
}

// InsertAnswer inserts only while the round is open; the unique (round, player)
// constraint rejects a second submission.
func (s *Store) InsertAnswer(ctx context.Context, answer domain.Answer) error {
	if !validID(answer.RoundID) {
		return domain.ErrRoundNotFound
	}
	if !validID(answer.PlayerID) {
		return domain.ErrPlayerNotFound
	}
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO answers (room_code, round_id, player_id, choice)
		SELECT r.room_code, r.id, ?, ?
		FROM rounds r
		WHERE r.id = ? AND r.status = ?
		  AND EXISTS (SELECT 1 FROM players p WHERE p.id = ?)`,
		answer.PlayerID, string(answer.Choice), answer.RoundID, string(domain.RoundOpen), answer.PlayerID)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.ErrAlreadyAnswered
		}
		return fmt.Errorf("insert answer: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 1 {
		s.publish(ctx, answer.RoomCode, domain.TableAnswers)
		return nil
	}

	round, err := s.GetRound(ctx, answer.RoundID)
	if err != nil {
		return err
	}
	if _, err := s.GetPlayer(ctx, answer.PlayerID); err != nil {
		return err
	}
	if _, found, err := s.FindAnswer(ctx, round.ID, answer.PlayerID); err == nil && found {
		return domain.ErrAlreadyAnswered
	}
	return domain.ErrRoundNotOpen
}

func (s *Store) FindAnswer(ctx context.Context, roundID, playerID string) (domain.Answer, bool, error) {
	if !validID(roundID) || !validID(playerID) {
		return domain.Answer{}, false, nil
	}
	var row answerRow
	err := s.db.NewSelect().Model(&row).Where("round_id = ?", roundID).Where("player_id = ?", playerID).Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Answer{}, false, nil
	}
	if err != nil {
		return domain.Answer{}, false, fmt.Errorf("find answer: %w", err)
	}
	return domain.Answer{
		RoomCode:  row.RoomCode,
		RoundID:   row.RoundID,
		PlayerID:  row.PlayerID,
		Choice:    domain.Choice(row.Choice),
		CreatedAt: row.CreatedAt,
	}, true, nil
}

func (s *Store) RankedAnswers(ctx context.Context, roundID string) ([]domain.RankEntry, error) {
	if !validID(roundID) {
		return nil, domain.ErrRoundNotFound
	}
	var rows []rankRow
	err := s.db.NewSelect().Model(&rows).Where("round_id = ?", roundID).Order("rank ASC", "player_id ASC").Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("ranked answers: %w", err)
	}
	entries := make([]domain.RankEntry, 0, len(rows))
	for _, row := range rows {
		entries = append(entries, domain.RankEntry{
			RoomCode:   row.RoomCode,
			RoundID:    row.RoundID,
			PlayerID:   row.PlayerID,
			Choice:     domain.Choice(row.Choice),
			CreatedAt:  row.CreatedAt,
			ElapsedSec: row.ElapsedSec,
			Rank:       row.Rank,
		})
	}
	return entries, nil
}

// ApplyScores calls apply_round_scores, which awards and flips the status in one
// transaction under a row lock on the round.
func (s *Store) ApplyScores(ctx context.Context, roundID string, weights domain.Weights) error {
	if !validID(roundID) {
		return domain.ErrRoundNotFound
	}
	var result string
	err := s.db.QueryRowContext(ctx, `SELECT apply_round_scores(?, ?, ?, ?)`,
		roundID, weights.First, weights.Second, weights.Other).Scan(&result)
	if err != nil {
		return fmt.Errorf("apply scores: %w", err)
	}
	switch result {
	case "applied":
	case "already_scored":
		return domain.ErrAlreadyScored
	case "not_ready":
		return domain.ErrNotReady
	case "not_found":
		return domain.ErrRoundNotFound
	default:
		return fmt.Errorf("apply scores: unexpected result %q", result)
	}

	if s.publisher != nil {
		round, err := s.GetRound(ctx, roundID)
		if err == nil {
			s.publish(ctx, round.RoomCode, domain.TablePlayers)
			s.publish(ctx, round.RoomCode, domain.TableRounds)
		}
	}
	return nil
}

func (s *Store) ResetScores(ctx context.Context, roomCode string) error {
	if _, err := s.db.ExecContext(ctx, `SELECT reset_room_scores(?)`, roomCode); err != nil {
		return fmt.Errorf("reset scores: %w", err)
	}
	s.publish(ctx, roomCode, domain.TablePlayers)
	return nil
}

func (s *Store) publish(ctx context.Context, roomCode, table string) {
	if s.publisher == nil || roomCode == "" {
		return
	}
	if err := s.publisher.Publish(ctx, domain.Change{RoomCode: roomCode, Table: table}); err != nil {
		log.Warn().Err(err).Str("room", roomCode).Str("table", table).Msg("change publish failed")
	}
}

// noRows reports a RETURNING statement that matched nothing.
// validID rejects ids the uuid columns would refuse with a cast error.
func validID(id string) bool {
	_, err := uuid.Parse(id)
	return err == nil
}

func noRows(res sql.Result, err error) bool {
	if errors.Is(err, sql.ErrNoRows) {
		return true
	}
	if err != nil || res == nil {
		return false
	}
	n, _ := res.RowsAffected()
	return n == 0
}

func isUniqueViolation(err error) bool {
	var pgErr pgdriver.Error
	return errors.As(err, &pgErr) && pgErr.Field('C') == "23505"
}

func (r playerRow) toDomain() domain.Player {
	return domain.Player{
		ID:          r.ID,
		RoomCode:    r.RoomCode,
		DisplayName: r.DisplayName,
		TotalScore:  r.TotalScore,
		CreatedAt:   r.CreatedAt,
	}
}

func (r roundRow) toDomain() domain.Round {
	return domain.Round{
		ID:            r.ID,
		RoomCode:      r.RoomCode,
		Index:         r.Index,
		Status:        domain.RoundStatus(r.Status),
		CorrectChoice: domain.Choice(r.CorrectChoice),
		OpenedAt:      r.OpenedAt,
		RevealStarted: r.RevealStarted,
		RevealAt:      r.RevealAt,
		CreatedAt:     r.CreatedAt,
	}
}

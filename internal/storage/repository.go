package storage

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	_ "modernc.org/sqlite"
)

// baselineRating is the first entry of every user's rating history.
// A user with only the baseline entry is unrated.
const baselineRating = 1500

// Repository handles all database operations
type Repository struct {
	db *sql.DB
}

// NewRepository creates a new repository with SQLite
func NewRepository(dbPath string) (*Repository, error) {
	// Ensure directory exists
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// The reservation discipline relies on serialized writes.
	db.SetMaxOpenConns(1)

	// Test connection
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	repo := &Repository{db: db}

	// Run migrations
	if err := repo.migrate(); err != nil {
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return repo, nil
}

// Close closes the database connection
func (r *Repository) Close() error {
	return r.db.Close()
}

// migrate creates the database schema
func (r *Repository) migrate() error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS handles (
			guild_id VARCHAR(20) NOT NULL,
			user_id VARCHAR(20) NOT NULL,
			handle VARCHAR(50) NOT NULL,
			rating INTEGER NOT NULL DEFAULT 0,
			rank VARCHAR(40) NOT NULL DEFAULT 'unrated',
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
			PRIMARY KEY (guild_id, user_id)
		)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_handles_name ON handles(guild_id, handle)`,
		`CREATE TABLE IF NOT EXISTS reservations (
			guild_id VARCHAR(20) NOT NULL,
			user_id VARCHAR(20) NOT NULL,
			kind VARCHAR(20) NOT NULL,
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
			PRIMARY KEY (guild_id, user_id)
		)`,
		`CREATE TABLE IF NOT EXISTS challenges (
			guild_id VARCHAR(20) NOT NULL,
			proposer_id VARCHAR(20) NOT NULL,
			target_id VARCHAR(20) NOT NULL,
			rating INTEGER NOT NULL,
			channel_id VARCHAR(20) NOT NULL,
			duration_min INTEGER NOT NULL,
			created_at INTEGER NOT NULL,
			PRIMARY KEY (guild_id, proposer_id)
		)`,
		`CREATE TABLE IF NOT EXISTS matches (
			guild_id VARCHAR(20) NOT NULL,
			p1_id VARCHAR(20) NOT NULL,
			p2_id VARCHAR(20) NOT NULL,
			rating INTEGER NOT NULL,
			channel_id VARCHAR(20) NOT NULL,
			duration_min INTEGER NOT NULL,
			problems TEXT NOT NULL,
			status VARCHAR(10) NOT NULL,
			tournament INTEGER NOT NULL DEFAULT 0,
			started_at TIMESTAMP NOT NULL,
			PRIMARY KEY (guild_id, p1_id)
		)`,
		`CREATE TABLE IF NOT EXISTS rounds (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			guild_id VARCHAR(20) NOT NULL,
			users TEXT NOT NULL,
			ratings TEXT NOT NULL,
			points TEXT NOT NULL,
			problems TEXT NOT NULL,
			status TEXT NOT NULL,
			scores TEXT NOT NULL,
			channel_id VARCHAR(20) NOT NULL,
			duration_min INTEGER NOT NULL,
			repeat INTEGER NOT NULL DEFAULT 0,
			alts TEXT NOT NULL,
			tournament INTEGER NOT NULL DEFAULT 0,
			started_at TIMESTAMP NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS finished_matches (
			id VARCHAR(40) PRIMARY KEY,
			guild_id VARCHAR(20) NOT NULL,
			p1_id VARCHAR(20) NOT NULL,
			p2_id VARCHAR(20) NOT NULL,
			rating INTEGER NOT NULL,
			duration_min INTEGER NOT NULL,
			status VARCHAR(10) NOT NULL,
			p1_score INTEGER NOT NULL,
			p2_score INTEGER NOT NULL,
			started_at TIMESTAMP NOT NULL,
			finished_at TIMESTAMP NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS finished_rounds (
			id VARCHAR(40) PRIMARY KEY,
			guild_id VARCHAR(20) NOT NULL,
			users TEXT NOT NULL,
			scores TEXT NOT NULL,
			standings TEXT NOT NULL,
			duration_min INTEGER NOT NULL,
			started_at TIMESTAMP NOT NULL,
			finished_at TIMESTAMP NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS rating_history (
			seq INTEGER PRIMARY KEY AUTOINCREMENT,
			guild_id VARCHAR(20) NOT NULL,
			user_id VARCHAR(20) NOT NULL,
			rating INTEGER NOT NULL,
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE INDEX IF NOT EXISTS idx_rating_history_user ON rating_history(guild_id, user_id)`,
		`CREATE INDEX IF NOT EXISTS idx_finished_matches_guild ON finished_matches(guild_id)`,
		`CREATE INDEX IF NOT EXISTS idx_finished_rounds_guild ON finished_rounds(guild_id)`,
	}

	for _, migration := range migrations {
		if _, err := r.db.Exec(migration); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
	}

	return nil
}

func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint")
}

// Handle operations

// SetHandle registers a handle for a user and seeds their rating history
// with the unrated baseline.
func (r *Repository) SetHandle(h *Handle) error {
	tx, err := r.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	_, err = tx.Exec(
		`INSERT INTO handles (guild_id, user_id, handle, rating, rank) VALUES (?, ?, ?, ?, ?)`,
		h.GuildID, h.UserID, h.Handle, h.Rating, h.Rank,
	)
	if isUniqueViolation(err) {
		return fmt.Errorf("handle %s: %w", h.Handle, ErrConflict)
	}
	if err != nil {
		return err
	}

	_, err = tx.Exec(
		`INSERT INTO rating_history (guild_id, user_id, rating) VALUES (?, ?, ?)`,
		h.GuildID, h.UserID, baselineRating,
	)
	if err != nil {
		return err
	}

	return tx.Commit()
}

// GetHandle finds the handle registered for a user.
func (r *Repository) GetHandle(guildID, userID string) (*Handle, error) {
	h := &Handle{}
	var rated int
	err := r.db.QueryRow(
		`SELECT guild_id, user_id, handle, rating, rank, created_at,
			(SELECT COUNT(*) FROM rating_history rh
			 WHERE rh.guild_id = handles.guild_id AND rh.user_id = handles.user_id) > 1
		 FROM handles WHERE guild_id = ? AND user_id = ?`,
		guildID, userID,
	).Scan(&h.GuildID, &h.UserID, &h.Handle, &h.Rating, &h.Rank, &h.CreatedAt, &rated)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("handle for user %s: %w", userID, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	h.Rated = rated == 1
	return h, nil
}

// GetHandleByName finds the user a Codeforces handle is registered to.
func (r *Repository) GetHandleByName(guildID, handle string) (*Handle, error) {
	h := &Handle{}
	err := r.db.QueryRow(
		`SELECT guild_id, user_id, handle, rating, rank, created_at FROM handles WHERE guild_id = ? AND handle = ?`,
		guildID, handle,
	).Scan(&h.GuildID, &h.UserID, &h.Handle, &h.Rating, &h.Rank, &h.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("handle %s: %w", handle, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return h, nil
}

// RemoveHandle deletes a user's handle and rating history.
func (r *Repository) RemoveHandle(guildID, userID string) error {
	tx, err := r.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	res, err := tx.Exec(`DELETE FROM handles WHERE guild_id = ? AND user_id = ?`, guildID, userID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("handle for user %s: %w", userID, ErrNotFound)
	}
	if _, err := tx.Exec(`DELETE FROM rating_history WHERE guild_id = ? AND user_id = ?`, guildID, userID); err != nil {
		return err
	}
	return tx.Commit()
}

// ListHandles returns all handles registered in a guild.
func (r *Repository) ListHandles(guildID string) ([]*Handle, error) {
	rows, err := r.db.Query(
		`SELECT guild_id, user_id, handle, rating, rank, created_at FROM handles WHERE guild_id = ? ORDER BY rating DESC`,
		guildID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var handles []*Handle
	for rows.Next() {
		h := &Handle{}
		if err := rows.Scan(&h.GuildID, &h.UserID, &h.Handle, &h.Rating, &h.Rank, &h.CreatedAt); err != nil {
			return nil, err
		}
		handles = append(handles, h)
	}
	return handles, rows.Err()
}

// Reservation operations

// Reserve marks users as engaged, all-or-nothing. users and kinds run in
// parallel. The read of current state and the write of the new state happen
// in one transaction; the primary key on (guild_id, user_id) rejects a user
// who is already engaged, so two concurrent proposals cannot both win.
func (r *Repository) Reserve(guildID string, users []string, kinds []string) error {
	if len(users) != len(kinds) {
		return fmt.Errorf("reserve: %d users but %d kinds", len(users), len(kinds))
	}

	tx, err := r.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for i, userID := range users {
		_, err := tx.Exec(
			`INSERT INTO reservations (guild_id, user_id, kind) VALUES (?, ?, ?)`,
			guildID, userID, kinds[i],
		)
		if isUniqueViolation(err) {
			return fmt.Errorf("user %s already engaged: %w", userID, ErrConflict)
		}
		if err != nil {
			return err
		}
	}
	return tx.Commit()
}

// Free releases reservations. Releasing a user who holds none is a no-op.
func (r *Repository) Free(guildID string, users ...string) error {
	tx, err := r.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, userID := range users {
		if _, err := tx.Exec(`DELETE FROM reservations WHERE guild_id = ? AND user_id = ?`, guildID, userID); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// Reserved returns the reservation kind a user currently holds, if any.
func (r *Repository) Reserved(guildID, userID string) (string, bool, error) {
	var kind string
	err := r.db.QueryRow(
		`SELECT kind FROM reservations WHERE guild_id = ? AND user_id = ?`,
		guildID, userID,
	).Scan(&kind)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return kind, true, nil
}

func setKind(tx *sql.Tx, guildID, userID, kind string) error {
	_, err := tx.Exec(
		`UPDATE reservations SET kind = ? WHERE guild_id = ? AND user_id = ?`,
		kind, guildID, userID,
	)
	return err
}

// Challenge operations

// CreateChallenge inserts a pending challenge.
func (r *Repository) CreateChallenge(c *Challenge) error {
	_, err := r.db.Exec(
		`INSERT INTO challenges (guild_id, proposer_id, target_id, rating, channel_id, duration_min, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		c.GuildID, c.ProposerID, c.TargetID, c.Rating, c.ChannelID, c.DurationMin, c.CreatedAt,
	)
	return err
}

func (r *Repository) getChallenge(where, guildID, userID string) (*Challenge, error) {
	c := &Challenge{}
	err := r.db.QueryRow(
		`SELECT guild_id, proposer_id, target_id, rating, channel_id, duration_min, created_at
		 FROM challenges WHERE guild_id = ? AND `+where+` = ?`,
		guildID, userID,
	).Scan(&c.GuildID, &c.ProposerID, &c.TargetID, &c.Rating, &c.ChannelID, &c.DurationMin, &c.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("challenge for user %s: %w", userID, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return c, nil
}

// GetChallengeByProposer finds the challenge a user proposed.
func (r *Repository) GetChallengeByProposer(guildID, proposerID string) (*Challenge, error) {
	return r.getChallenge("proposer_id", guildID, proposerID)
}

// GetChallengeByTarget finds the challenge aimed at a user.
func (r *Repository) GetChallengeByTarget(guildID, targetID string) (*Challenge, error) {
	return r.getChallenge("target_id", guildID, targetID)
}

// DeleteChallenge removes a challenge and reports whether it still existed.
// Accept and expiry race on the same challenge; only one caller sees true.
func (r *Repository) DeleteChallenge(guildID, proposerID string) (bool, error) {
	res, err := r.db.Exec(
		`DELETE FROM challenges WHERE guild_id = ? AND proposer_id = ?`,
		guildID, proposerID,
	)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// DeleteChallengeCreated removes a challenge only if it was created at the
// given instant, so a stale expiry timer cannot delete a newer challenge
// by the same proposer.
func (r *Repository) DeleteChallengeCreated(guildID, proposerID string, createdAt int64) (bool, error) {
	res, err := r.db.Exec(
		`DELETE FROM challenges WHERE guild_id = ? AND proposer_id = ? AND created_at = ?`,
		guildID, proposerID, createdAt,
	)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// Match operations

// CreateMatch inserts an active match and moves both players' reservations
// to the in-match kind in the same transaction.
func (r *Repository) CreateMatch(m *Match) error {
	problems, err := json.Marshal(m.Problems)
	if err != nil {
		return err
	}

	tx, err := r.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	_, err = tx.Exec(
		`INSERT INTO matches (guild_id, p1_id, p2_id, rating, channel_id, duration_min, problems, status, tournament, started_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		m.GuildID, m.P1ID, m.P2ID, m.Rating, m.ChannelID, m.DurationMin, string(problems), m.Status, boolInt(m.Tournament), m.StartedAt,
	)
	if err != nil {
		return err
	}
	for _, userID := range []string{m.P1ID, m.P2ID} {
		if err := setKind(tx, m.GuildID, userID, KindMatch); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func scanMatch(row interface{ Scan(...any) error }) (*Match, error) {
	m := &Match{}
	var problems string
	var tournament int
	err := row.Scan(&m.GuildID, &m.P1ID, &m.P2ID, &m.Rating, &m.ChannelID, &m.DurationMin, &problems, &m.Status, &tournament, &m.StartedAt)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(problems), &m.Problems); err != nil {
		return nil, err
	}
	m.Tournament = tournament == 1
	return m, nil
}

const matchColumns = `guild_id, p1_id, p2_id, rating, channel_id, duration_min, problems, status, tournament, started_at`

// GetMatch finds the active match a user plays in.
func (r *Repository) GetMatch(guildID, userID string) (*Match, error) {
	m, err := scanMatch(r.db.QueryRow(
		`SELECT `+matchColumns+` FROM matches WHERE guild_id = ? AND (p1_id = ? OR p2_id = ?)`,
		guildID, userID, userID,
	))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("match for user %s: %w", userID, ErrNotFound)
	}
	return m, err
}

// UpdateMatchStatus stores the lockout status string of a match.
func (r *Repository) UpdateMatchStatus(guildID, p1ID, status string) error {
	_, err := r.db.Exec(
		`UPDATE matches SET status = ? WHERE guild_id = ? AND p1_id = ?`,
		status, guildID, p1ID,
	)
	return err
}

// DeleteMatch removes an active match and frees both players.
func (r *Repository) DeleteMatch(guildID, userID string) (*Match, error) {
	m, err := r.GetMatch(guildID, userID)
	if err != nil {
		return nil, err
	}

	tx, err := r.db.Begin()
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM matches WHERE guild_id = ? AND p1_id = ?`, guildID, m.P1ID); err != nil {
		return nil, err
	}
	if _, err := tx.Exec(
		`DELETE FROM reservations WHERE guild_id = ? AND user_id IN (?, ?)`,
		guildID, m.P1ID, m.P2ID,
	); err != nil {
		return nil, err
	}
	return m, tx.Commit()
}

func (r *Repository) listMatches(query string, args ...any) ([]*Match, error) {
	rows, err := r.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var matches []*Match
	for rows.Next() {
		m, err := scanMatch(rows)
		if err != nil {
			return nil, err
		}
		matches = append(matches, m)
	}
	return matches, rows.Err()
}

// ListMatches returns all active matches in a guild.
func (r *Repository) ListMatches(guildID string) ([]*Match, error) {
	return r.listMatches(`SELECT `+matchColumns+` FROM matches WHERE guild_id = ?`, guildID)
}

// ListAllMatches returns active matches across every guild, for polling.
func (r *Repository) ListAllMatches() ([]*Match, error) {
	return r.listMatches(`SELECT ` + matchColumns + ` FROM matches`)
}

// Round operations

// CreateRound inserts an active round. Participants must already hold
// round reservations taken during negotiation.
func (r *Repository) CreateRound(rd *Round) error {
	enc := func(v any) string {
		b, _ := json.Marshal(v)
		return string(b)
	}
	res, err := r.db.Exec(
		`INSERT INTO rounds (guild_id, users, ratings, points, problems, status, scores, channel_id, duration_min, repeat, alts, tournament, started_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rd.GuildID, enc(rd.Users), enc(rd.Ratings), enc(rd.Points), enc(rd.Problems), enc(rd.Status), enc(rd.Scores),
		rd.ChannelID, rd.DurationMin, boolInt(rd.Repeat), enc(rd.Alts), boolInt(rd.Tournament), rd.StartedAt,
	)
	if err != nil {
		return err
	}
	rd.ID, err = res.LastInsertId()
	return err
}

const roundColumns = `id, guild_id, users, ratings, points, problems, status, scores, channel_id, duration_min, repeat, alts, tournament, started_at`

func scanRound(row interface{ Scan(...any) error }) (*Round, error) {
	rd := &Round{}
	var users, ratings, points, problems, status, scores, alts string
	var repeat, tournament int
	err := row.Scan(&rd.ID, &rd.GuildID, &users, &ratings, &points, &problems, &status, &scores,
		&rd.ChannelID, &rd.DurationMin, &repeat, &alts, &tournament, &rd.StartedAt)
	if err != nil {
		return nil, err
	}
	for dst, src := range map[any]string{
		&rd.Users: users, &rd.Ratings: ratings, &rd.Points: points,
		&rd.Problems: problems, &rd.Status: status, &rd.Scores: scores, &rd.Alts: alts,
	} {
		if err := json.Unmarshal([]byte(src), dst); err != nil {
			return nil, err
		}
	}
	rd.Repeat = repeat == 1
	rd.Tournament = tournament == 1
	return rd, nil
}

func (r *Repository) listRounds(query string, args ...any) ([]*Round, error) {
	rows, err := r.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var rounds []*Round
	for rows.Next() {
		rd, err := scanRound(rows)
		if err != nil {
			return nil, err
		}
		rounds = append(rounds, rd)
	}
	return rounds, rows.Err()
}

// GetRound finds the active round a user participates in.
func (r *Repository) GetRound(guildID, userID string) (*Round, error) {
	rounds, err := r.listRounds(`SELECT `+roundColumns+` FROM rounds WHERE guild_id = ?`, guildID)
	if err != nil {
		return nil, err
	}
	for _, rd := range rounds {
		for _, u := range rd.Users {
			if u == userID {
				return rd, nil
			}
		}
	}
	return nil, fmt.Errorf("round for user %s: %w", userID, ErrNotFound)
}

// ListRounds returns all active rounds in a guild.
func (r *Repository) ListRounds(guildID string) ([]*Round, error) {
	return r.listRounds(`SELECT `+roundColumns+` FROM rounds WHERE guild_id = ?`, guildID)
}

// ListAllRounds returns active rounds across every guild, for polling.
func (r *Repository) ListAllRounds() ([]*Round, error) {
	return r.listRounds(`SELECT ` + roundColumns + ` FROM rounds`)
}

// UpdateRound stores the mutable progress fields of a round.
func (r *Repository) UpdateRound(rd *Round) error {
	enc := func(v any) string {
		b, _ := json.Marshal(v)
		return string(b)
	}
	_, err := r.db.Exec(
		`UPDATE rounds SET problems = ?, status = ?, scores = ? WHERE id = ?`,
		enc(rd.Problems), enc(rd.Status), enc(rd.Scores), rd.ID,
	)
	return err
}

// DeleteRound removes an active round and frees every participant.
func (r *Repository) DeleteRound(guildID, userID string) (*Round, error) {
	rd, err := r.GetRound(guildID, userID)
	if err != nil {
		return nil, err
	}

	tx, err := r.db.Begin()
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM rounds WHERE id = ?`, rd.ID); err != nil {
		return nil, err
	}
	for _, u := range rd.Users {
		if _, err := tx.Exec(`DELETE FROM reservations WHERE guild_id = ? AND user_id = ?`, guildID, u); err != nil {
			return nil, err
		}
	}
	return rd, tx.Commit()
}

// Finished contest records

// AddFinishedMatch appends an immutable finished-match record.
func (r *Repository) AddFinishedMatch(fm *FinishedMatch) error {
	_, err := r.db.Exec(
		`INSERT INTO finished_matches (id, guild_id, p1_id, p2_id, rating, duration_min, status, p1_score, p2_score, started_at, finished_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		fm.ID, fm.GuildID, fm.P1ID, fm.P2ID, fm.Rating, fm.DurationMin, fm.Status, fm.P1Score, fm.P2Score, fm.StartedAt, fm.FinishedAt,
	)
	return err
}

// ListFinishedMatches returns finished matches, newest first. An empty
// userID means all users.
func (r *Repository) ListFinishedMatches(guildID, userID string) ([]*FinishedMatch, error) {
	query := `SELECT id, guild_id, p1_id, p2_id, rating, duration_min, status, p1_score, p2_score, started_at, finished_at
		 FROM finished_matches WHERE guild_id = ?`
	args := []any{guildID}
	if userID != "" {
		query += ` AND (p1_id = ? OR p2_id = ?)`
		args = append(args, userID, userID)
	}
	query += ` ORDER BY finished_at DESC`

	rows, err := r.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var finished []*FinishedMatch
	for rows.Next() {
		fm := &FinishedMatch{}
		if err := rows.Scan(&fm.ID, &fm.GuildID, &fm.P1ID, &fm.P2ID, &fm.Rating, &fm.DurationMin, &fm.Status,
			&fm.P1Score, &fm.P2Score, &fm.StartedAt, &fm.FinishedAt); err != nil {
			return nil, err
		}
		finished = append(finished, fm)
	}
	return finished, rows.Err()
}

// AddFinishedRound appends an immutable finished-round record.
func (r *Repository) AddFinishedRound(fr *FinishedRound) error {
	enc := func(v any) string {
		b, _ := json.Marshal(v)
		return string(b)
	}
	_, err := r.db.Exec(
		`INSERT INTO finished_rounds (id, guild_id, users, scores, standings, duration_min, started_at, finished_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		fr.ID, fr.GuildID, enc(fr.Users), enc(fr.Scores), enc(fr.Standings), fr.DurationMin, fr.StartedAt, fr.FinishedAt,
	)
	return err
}

// ListFinishedRounds returns finished rounds, newest first. An empty
// userID means all users.
func (r *Repository) ListFinishedRounds(guildID, userID string) ([]*FinishedRound, error) {
	rows, err := r.db.Query(
		`SELECT id, guild_id, users, scores, standings, duration_min, started_at, finished_at
		 FROM finished_rounds WHERE guild_id = ? ORDER BY finished_at DESC`,
		guildID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var finished []*FinishedRound
	for rows.Next() {
		fr := &FinishedRound{}
		var users, scores, standings string
		if err := rows.Scan(&fr.ID, &fr.GuildID, &users, &scores, &standings, &fr.DurationMin, &fr.StartedAt, &fr.FinishedAt); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(users), &fr.Users); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(scores), &fr.Scores); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(standings), &fr.Standings); err != nil {
			return nil, err
		}
		finished = append(finished, fr)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if userID == "" {
		return finished, nil
	}
	var filtered []*FinishedRound
	for _, fr := range finished {
		for _, u := range fr.Users {
			if u == userID {
				filtered = append(filtered, fr)
				break
			}
		}
	}
	return filtered, nil
}

// Rating history

// AppendRating appends a rating snapshot to a user's history.
func (r *Repository) AppendRating(guildID, userID string, rating int) error {
	_, err := r.db.Exec(
		`INSERT INTO rating_history (guild_id, user_id, rating) VALUES (?, ?, ?)`,
		guildID, userID, rating,
	)
	return err
}

// Ratings returns a user's full rating history, oldest first. The first
// entry is the unrated baseline.
func (r *Repository) Ratings(guildID, userID string) ([]int, error) {
	rows, err := r.db.Query(
		`SELECT rating FROM rating_history WHERE guild_id = ? AND user_id = ? ORDER BY seq`,
		guildID, userID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ratings []int
	for rows.Next() {
		var rating int
		if err := rows.Scan(&rating); err != nil {
			return nil, err
		}
		ratings = append(ratings, rating)
	}
	return ratings, rows.Err()
}

// CurrentRating returns a user's latest lockout rating and whether they
// are rated (have played at least one rated contest).
func (r *Repository) CurrentRating(guildID, userID string) (int, bool, error) {
	ratings, err := r.Ratings(guildID, userID)
	if err != nil {
		return 0, false, err
	}
	if len(ratings) == 0 {
		return baselineRating, false, nil
	}
	return ratings[len(ratings)-1], len(ratings) > 1, nil
}

// Ranklist returns the latest lockout rating of every rated user.
func (r *Repository) Ranklist(guildID string) ([]RanklistEntry, error) {
	rows, err := r.db.Query(
		`SELECT user_id, rating FROM rating_history
		 WHERE guild_id = ? AND seq IN (
			SELECT MAX(seq) FROM rating_history WHERE guild_id = ? GROUP BY user_id HAVING COUNT(*) > 1
		 )
		 ORDER BY rating DESC`,
		guildID, guildID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []RanklistEntry
	for rows.Next() {
		var e RanklistEntry
		if err := rows.Scan(&e.UserID, &e.Rating); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/truthrank/truthrank/internal/domain/rank"
	"github.com/truthrank/truthrank/internal/domain/shared"
	"github.com/truthrank/truthrank/pkg/timeutil"
)

const userStatsColumns = `
	user_id, display_name, tenure_start, current_rank, rank_percentage,
	current_rank_start_date, last_recalculation_at, last_active_at,
	last_dormancy_detected_at, upgrade_history, total_predictions,
	total_resolved_predictions, correct_predictions, contrarian_wins_count,
	weekly_activity_count, inactivity_streaks, difficulty_points,
	version, created_at, updated_at`

// UserStatsRepository implements rank.Repository for PostgreSQL. Updates are
// guarded by the version column.
type UserStatsRepository struct {
	conn  *Connection
	clock timeutil.Clock
}

// NewUserStatsRepository creates a new UserStatsRepository.
func NewUserStatsRepository(conn *Connection, clock timeutil.Clock) *UserStatsRepository {
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	return &UserStatsRepository{conn: conn, clock: clock}
}

// Get implements rank.Repository.
func (r *UserStatsRepository) Get(ctx context.Context, userID string) (*rank.UserStats, error) {
	query := `SELECT ` + userStatsColumns + ` FROM user_stats WHERE user_id = $1`

	s, err := scanUserStats(r.conn.QueryRow(ctx, query, userID))
	if err != nil {
		if IsNoRows(err) {
			return nil, shared.ErrUserNotFound
		}
		return nil, fmt.Errorf("failed to get user stats %s: %w", userID, err)
	}
	return s, nil
}

// Create implements rank.Repository.
func (r *UserStatsRepository) Create(ctx context.Context, s *rank.UserStats) error {
	query := `
		INSERT INTO user_stats (` + userStatsColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, 1, $18, $19)
	`

	history, err := marshalHistory(s.UpgradeHistory)
	if err != nil {
		return err
	}

	now := r.clock.Now()
	createdAt := s.CreatedAt
	if createdAt.IsZero() {
		createdAt = now
	}

	_, err = r.conn.Exec(ctx, query,
		s.UserID,
		s.DisplayName,
		s.TenureStart,
		string(s.CurrentRank),
		s.RankPercentage,
		nullTime(s.CurrentRankStartDate),
		nullTime(s.LastRecalculationAt),
		nullTime(s.LastActiveAt),
		nullTime(s.LastDormancyDetectedAt),
		history,
		s.TotalPredictions,
		s.TotalResolvedPredictions,
		s.CorrectPredictions,
		s.ContrarianWinsCount,
		s.WeeklyActivityCount,
		s.InactivityStreaks,
		s.DifficultyPoints,
		createdAt,
		now,
	)
	if err != nil {
		if IsUniqueViolation(err) {
			return shared.ErrUserExists
		}
		if IsCheckViolation(err) {
			return shared.WrapError("postgres", "Create", shared.ErrValidation, "user stats violate constraints", err)
		}
		return fmt.Errorf("failed to create user stats %s: %w", s.UserID, err)
	}

	s.Version = 1
	s.CreatedAt = createdAt
	s.UpdatedAt = now
	return nil
}

// Update implements rank.Repository.
func (r *UserStatsRepository) Update(ctx context.Context, s *rank.UserStats) error {
	query := `
		UPDATE user_stats SET
			display_name = $2,
			current_rank = $3,
			rank_percentage = $4,
			current_rank_start_date = $5,
			last_recalculation_at = $6,
			last_active_at = $7,
			last_dormancy_detected_at = $8,
			upgrade_history = $9,
			total_predictions = $10,
			total_resolved_predictions = $11,
			correct_predictions = $12,
			contrarian_wins_count = $13,
			weekly_activity_count = $14,
			inactivity_streaks = $15,
			difficulty_points = $16,
			updated_at = $17,
			version = version + 1
		WHERE user_id = $1 AND version = $18
	`

	history, err := marshalHistory(s.UpgradeHistory)
	if err != nil {
		return err
	}

	now := r.clock.Now()
	// The version check and the existence check share a transaction so that
	// a concurrent delete cannot turn a missing row into a stale version.
	err = r.conn.WithTx(ctx, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, query,
			s.UserID,
			s.DisplayName,
			string(s.CurrentRank),
			s.RankPercentage,
			nullTime(s.CurrentRankStartDate),
			nullTime(s.LastRecalculationAt),
			nullTime(s.LastActiveAt),
			nullTime(s.LastDormancyDetectedAt),
			history,
			s.TotalPredictions,
			s.TotalResolvedPredictions,
			s.CorrectPredictions,
			s.ContrarianWinsCount,
			s.WeeklyActivityCount,
			s.InactivityStreaks,
			s.DifficultyPoints,
			now,
			s.Version,
		)
		if err != nil {
			if IsCheckViolation(err) {
				return shared.WrapError("postgres", "Update", shared.ErrValidation, "user stats violate constraints", err)
			}
			return fmt.Errorf("failed to update user stats %s: %w", s.UserID, err)
		}
		if tag.RowsAffected() > 0 {
			return nil
		}

		var exists bool
		if err := tx.QueryRow(ctx,
			`SELECT EXISTS(SELECT 1 FROM user_stats WHERE user_id = $1)`, s.UserID,
		).Scan(&exists); err != nil {
			return fmt.Errorf("failed to check user stats %s: %w", s.UserID, err)
		}
		if !exists {
			return shared.ErrUserNotFound
		}
		return shared.ErrVersionStale
	})
	if err != nil {
		return err
	}

	s.Version++
	s.UpdatedAt = now
	return nil
}

// Scan implements rank.Repository with keyset pagination on user_id.
func (r *UserStatsRepository) Scan(ctx context.Context, filter rank.ScanFilter, cursor string, limit int) (rank.Page, error) {
	if limit <= 0 {
		return rank.Page{}, shared.ValidationError("postgres", "Scan", "limit must be positive")
	}

	query := `
		SELECT ` + userStatsColumns + `
		FROM user_stats
		WHERE user_id > $1
		  AND ($2::text = '' OR current_rank = $2::text)
		  AND ($3::timestamptz IS NULL OR COALESCE(last_active_at, tenure_start) < $3::timestamptz)
		ORDER BY user_id
		LIMIT $4
	`

	rows, err := r.conn.Query(ctx, query,
		cursor,
		string(filter.Rank),
		nullTime(filter.ActiveBefore),
		limit+1,
	)
	if err != nil {
		return rank.Page{}, fmt.Errorf("failed to scan user stats: %w", err)
	}
	defer rows.Close()

	items := make([]*rank.UserStats, 0, limit)
	for rows.Next() {
		s, err := scanUserStats(rows)
		if err != nil {
			return rank.Page{}, fmt.Errorf("failed to read user stats row: %w", err)
		}
		items = append(items, s)
	}
	if err := rows.Err(); err != nil {
		return rank.Page{}, fmt.Errorf("failed to iterate user stats: %w", err)
	}

	page := rank.Page{Items: items}
	if len(items) > limit {
		page.Items = items[:limit]
		page.NextCursor = items[limit-1].UserID
	}
	return page, nil
}

func scanUserStats(row pgx.Row) (*rank.UserStats, error) {
	var (
		s              rank.UserStats
		currentRank    string
		rankStart      *time.Time
		lastRecalc     *time.Time
		lastActive     *time.Time
		lastDormancy   *time.Time
		historyPayload []byte
	)

	err := row.Scan(
		&s.UserID,
		&s.DisplayName,
		&s.TenureStart,
		&currentRank,
		&s.RankPercentage,
		&rankStart,
		&lastRecalc,
		&lastActive,
		&lastDormancy,
		&historyPayload,
		&s.TotalPredictions,
		&s.TotalResolvedPredictions,
		&s.CorrectPredictions,
		&s.ContrarianWinsCount,
		&s.WeeklyActivityCount,
		&s.InactivityStreaks,
		&s.DifficultyPoints,
		&s.Version,
		&s.CreatedAt,
		&s.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	s.CurrentRank = rank.RankID(currentRank)
	s.TenureStart = s.TenureStart.UTC()
	s.CurrentRankStartDate = fromNullTime(rankStart)
	s.LastRecalculationAt = fromNullTime(lastRecalc)
	s.LastActiveAt = fromNullTime(lastActive)
	s.LastDormancyDetectedAt = fromNullTime(lastDormancy)
	s.CreatedAt = s.CreatedAt.UTC()
	s.UpdatedAt = s.UpdatedAt.UTC()

	if len(historyPayload) > 0 {
		if err := json.Unmarshal(historyPayload, &s.UpgradeHistory); err != nil {
			return nil, fmt.Errorf("failed to unmarshal upgrade history: %w", err)
		}
	}
	if len(s.UpgradeHistory) == 0 {
		s.UpgradeHistory = nil
	}
	return &s, nil
}

func marshalHistory(history []rank.RankUpgradeHistoryEntry) ([]byte, error) {
	if history == nil {
		history = []rank.RankUpgradeHistoryEntry{}
	}
	data, err := json.Marshal(history)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal upgrade history: %w", err)
	}
	return data, nil
}

// nullTime maps the zero time to SQL NULL.
func nullTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

func fromNullTime(t *time.Time) time.Time {
	if t == nil {
		return time.Time{}
	}
	return t.UTC()
}

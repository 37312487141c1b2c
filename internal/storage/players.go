package storage

import (
	"database/sql"
	"fmt"
	"log"
	"math"
)

// PlayerStorage provides player position queries. It absorbs the
// DB-coupled spatial lookups the teacher's ringmap package used to own
// directly (ringmap stays a pure, storage-free coordinate library).
type PlayerStorage struct {
	db *sql.DB
}

// NewPlayerStorage creates a new PlayerStorage instance.
func NewPlayerStorage(db *sql.DB) *PlayerStorage {
	return &PlayerStorage{db: db}
}

// RingPosition is a legacy (X, Y) ring position.
type RingPosition struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// NearbyPlayersResult describes a player found within range of a query point.
type NearbyPlayersResult struct {
	PlayerID int64        `json:"player_id"`
	Username string       `json:"username"`
	Position RingPosition `json:"position"`
	Floor    int          `json:"floor"`
	Distance float64      `json:"distance"`
}

// FindNearbyPlayers returns players on the given floor within radiusMeters
// of the query position, ordered nearest first.
func (s *PlayerStorage) FindNearbyPlayers(pos RingPosition, floor int, radiusMeters float64) ([]NearbyPlayersResult, error) {
	if radiusMeters <= 0 {
		return nil, fmt.Errorf("radius must be positive, got %f", radiusMeters)
	}

	query := `
		SELECT id, username,
		       (current_position)[0], (current_position)[1],
		       current_floor,
		       SQRT(POW((current_position)[0] - $1, 2) + POW((current_position)[1] - $2, 2)) AS distance
		FROM players
		WHERE current_floor = $3
		  AND current_position IS NOT NULL
		  AND SQRT(POW((current_position)[0] - $1, 2) + POW((current_position)[1] - $2, 2)) <= $4
		ORDER BY distance ASC
	`

	rows, err := s.db.Query(query, pos.X, pos.Y, floor, radiusMeters)
	if err != nil {
		return nil, fmt.Errorf("failed to query nearby players: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			log.Printf("Failed to close rows in FindNearbyPlayers: %v", closeErr)
		}
	}()

	var results []NearbyPlayersResult
	for rows.Next() {
		var r NearbyPlayersResult
		if err := rows.Scan(&r.PlayerID, &r.Username, &r.Position.X, &r.Position.Y, &r.Floor, &r.Distance); err != nil {
			return nil, fmt.Errorf("failed to scan nearby player row: %w", err)
		}
		results = append(results, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate nearby players: %w", err)
	}
	return results, nil
}

// ChunksInRange returns the set of legacy chunk indices within radiusMeters
// of arc position s, including wrap-around at the ring seam.
func ChunksInRange(s, radiusMeters, chunkLength float64) []int {
	if chunkLength <= 0 {
		return nil
	}
	half := int(math.Ceil(radiusMeters/chunkLength)) + 1
	center := int(math.Floor(s / chunkLength))

	seen := make(map[int]bool, half*2+1)
	var out []int
	for offset := -half; offset <= half; offset++ {
		idx := center + offset
		if !seen[idx] {
			seen[idx] = true
			out = append(out, idx)
		}
	}
	return out
}

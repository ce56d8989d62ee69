package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/skillswap/timebank-api/internal/models"
)

// EndorsementRepository persists skill endorsements.
type EndorsementRepository struct {
	db *sqlx.DB
}

// NewEndorsementRepository constructs an EndorsementRepository.
func NewEndorsementRepository(db *sqlx.DB) *EndorsementRepository {
	return &EndorsementRepository{db: db}
}

// Create inserts an endorsement. Duplicates per endorser, endorsee and skill
// violate a unique index.
func (r *EndorsementRepository) Create(ctx context.Context, e *models.Endorsement, endorserID string) error {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	e.CreatedAt = time.Now().UTC()
	const query = `INSERT INTO endorsements (id, endorser_id, endorsee_id, skill, message, session_id, created_at) VALUES ($1, $2, $3, $4, $5, $6, $7)`
	if _, err := r.db.ExecContext(ctx, query, e.ID, endorserID, e.EndorseeID, e.Skill, e.Message, e.SessionID, e.CreatedAt); err != nil {
		return fmt.Errorf("create endorsement: %w", err)
	}
	return nil
}

// ListForUser returns endorsements received by userID newest first.
func (r *EndorsementRepository) ListForUser(ctx context.Context, userID string, limit int) ([]models.Endorsement, error) {
	query := fmt.Sprintf(`SELECT e.id, e.endorsee_id, e.skill, e.message, e.session_id, e.created_at, %s FROM endorsements e JOIN users u ON u.id = e.endorser_id WHERE e.endorsee_id = $1 ORDER BY e.created_at DESC LIMIT %d`, authorColumns, limit)
	items := make([]models.Endorsement, 0)
	if err := r.db.SelectContext(ctx, &items, query, userID); err != nil {
		return nil, fmt.Errorf("list endorsements: %w", err)
	}
	return items, nil
}

// SkillCounts aggregates endorsements received by userID per skill.
func (r *EndorsementRepository) SkillCounts(ctx context.Context, userID string) ([]models.SkillEndorsementCount, error) {
	const query = `SELECT skill, COUNT(*) AS count FROM endorsements WHERE endorsee_id = $1 GROUP BY skill ORDER BY count DESC, skill ASC`
	counts := make([]models.SkillEndorsementCount, 0)
	if err := r.db.SelectContext(ctx, &counts, query, userID); err != nil {
		return nil, fmt.Errorf("count endorsements by skill: %w", err)
	}
	return counts, nil
}

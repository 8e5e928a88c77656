package audience

import (
	"context"
	"fmt"

	"github.com/chatwave/backend/internal/apperrors"
	"github.com/chatwave/backend/internal/models"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// CustomerCounter counts recipients for the two externally-resolved audience
// categories.
type CustomerCounter interface {
	CountByLists(ctx context.Context, orgID, branchID uuid.UUID, listIDs []uuid.UUID) (int, error)
	CountByQuery(ctx context.Context, orgID, branchID uuid.UUID, where string, args []any) (int, error)
}

// SegmentStore loads saved segments. Implementations return
// apperrors.ErrSegmentNotFound (wrapped) for missing ids.
type SegmentStore interface {
	GetByID(ctx context.Context, orgID, branchID, id uuid.UUID) (*models.Segment, error)
}

// Resolution is the authoritative audience for one campaign at publish time.
// Query/Args are set for segment audiences so the execution side can page the
// same recipient set the count was taken from.
type Resolution struct {
	Count int
	Ref   []uuid.UUID
	Query string
	Args  []any
}

type Resolver struct {
	customers CustomerCounter
	segments  SegmentStore
	log       *zap.Logger
}

func NewResolver(customers CustomerCounter, segments SegmentStore, log *zap.Logger) *Resolver {
	return &Resolver{customers: customers, segments: segments, log: log}
}

// Resolve computes the audience count and normalized reference for a
// campaign's selector.
func (r *Resolver) Resolve(ctx context.Context, orgID, branchID uuid.UUID, category string, ref []uuid.UUID) (*Resolution, error) {
	switch category {
	case models.AudienceCategoryManual:
		if len(ref) == 0 {
			return nil, apperrors.ErrEmptyAudience
		}
		return &Resolution{Count: len(ref), Ref: ref}, nil

	case models.AudienceCategoryList:
		count, err := r.customers.CountByLists(ctx, orgID, branchID, ref)
		if err != nil {
			return nil, fmt.Errorf("count list audience: %w", err)
		}
		if count == 0 {
			return nil, apperrors.ErrEmptyAudience
		}
		return &Resolution{Count: count, Ref: ref}, nil

	case models.AudienceCategorySegment:
		where, args, err := r.compileSegments(ctx, orgID, branchID, ref)
		if err != nil {
			return nil, err
		}
		count, err := r.customers.CountByQuery(ctx, orgID, branchID, where, args)
		if err != nil {
			return nil, fmt.Errorf("count segment audience: %w", err)
		}
		if count == 0 {
			return nil, apperrors.ErrEmptyAudience
		}
		return &Resolution{Count: count, Ref: ref, Query: where, Args: args}, nil

	default:
		return nil, fmt.Errorf("category %q: %w", category, apperrors.ErrInvalidAudienceCategory)
	}
}

// CompileSegmentQuery rebuilds the WHERE fragment for a segment audience.
// Used at execution time to page the recipient window with the same
// predicate set the count was taken from.
func (r *Resolver) CompileSegmentQuery(ctx context.Context, orgID, branchID uuid.UUID, ref []uuid.UUID) (string, []any, error) {
	return r.compileSegments(ctx, orgID, branchID, ref)
}

func (r *Resolver) compileSegments(ctx context.Context, orgID, branchID uuid.UUID, ref []uuid.UUID) (string, []any, error) {
	if len(ref) == 0 {
		return "", nil, apperrors.ErrEmptyAudience
	}

	var conds []Condition
	for _, segmentID := range ref {
		segment, err := r.segments.GetByID(ctx, orgID, branchID, segmentID)
		if err != nil {
			return "", nil, err
		}
		parsed, err := ParseRuleTree(segment.Rules)
		if err != nil {
			return "", nil, fmt.Errorf("segment %s: %w", segmentID, err)
		}
		conds = append(conds, parsed...)
	}

	// Placeholders start at $3: the counter query binds org and branch first.
	where, args, err := CompileConditions(conds, 3)
	if err != nil {
		return "", nil, err
	}
	r.log.Debug("compiled segment audience",
		zap.Int("segments", len(ref)),
		zap.Int("conditions", len(conds)),
	)
	return where, args, nil
}

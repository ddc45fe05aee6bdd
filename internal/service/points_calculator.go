package service

import (
	"context"
	"database/sql"
	"errors"
	"sort"

	"go.uber.org/zap"

	"github.com/noah-isme/sma-tatib-api/internal/models"
	appErrors "github.com/noah-isme/sma-tatib-api/pkg/errors"
)

type pointsRecordReader interface {
	ListActiveByStudent(ctx context.Context, studentID string) ([]models.ViolationRecord, error)
	OrdinalOf(ctx context.Context, rec *models.ViolationRecord) (int, error)
}

type pointsTypeReader interface {
	FindWithRules(ctx context.Context, id string) (*models.ViolationType, error)
	ListWithRulesByIDs(ctx context.Context, ids []string) (map[string]models.ViolationType, error)
}

// PointsCalculator derives the point contribution of violation records.
// Points are always recomputed from committed records; nothing is cached,
// so editing or deleting an earlier record changes the classification of
// later ones on the next evaluation.
type PointsCalculator struct {
	records pointsRecordReader
	types   pointsTypeReader
	logger  *zap.Logger
}

// NewPointsCalculator constructs the calculator.
func NewPointsCalculator(records pointsRecordReader, types pointsTypeReader, logger *zap.Logger) *PointsCalculator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PointsCalculator{records: records, types: types, logger: logger}
}

// MatchFrequencyRule returns the first rule, by display order, covering
// the 1-based ordinal, or nil when no rule matches. Ordinals below every
// rule's minimum, or above the highest bounded maximum, yield nil.
func MatchFrequencyRule(rules []models.FrequencyRule, ordinal int) *models.FrequencyRule {
	if ordinal < 1 {
		return nil
	}
	sorted := make([]models.FrequencyRule, len(rules))
	copy(sorted, rules)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].DisplayOrder != sorted[j].DisplayOrder {
			return sorted[i].DisplayOrder < sorted[j].DisplayOrder
		}
		return sorted[i].MinCount < sorted[j].MinCount
	})
	for i := range sorted {
		if !sorted[i].Active {
			continue
		}
		if sorted[i].Matches(ordinal) {
			rule := sorted[i]
			return &rule
		}
	}
	return nil
}

// Classify determines how many points a single record contributes.
func (c *PointsCalculator) Classify(ctx context.Context, rec *models.ViolationRecord, vtype *models.ViolationType) (models.PointsResult, error) {
	if !vtype.UsesFrequencyRules {
		return models.PointsResult{Points: vtype.Points, Matched: true}, nil
	}
	ordinal, err := c.records.OrdinalOf(ctx, rec)
	if err != nil {
		return models.PointsResult{}, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to compute occurrence ordinal")
	}
	return classifyOrdinal(vtype, ordinal), nil
}

// StudentTotal recomputes a student's accumulated points across all their
// non-deleted records, with a per-record breakdown.
func (c *PointsCalculator) StudentTotal(ctx context.Context, studentID string) (*models.StudentPoints, error) {
	records, err := c.records.ListActiveByStudent(ctx, studentID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load student violations")
	}
	result := &models.StudentPoints{StudentID: studentID}
	if len(records) == 0 {
		return result, nil
	}

	typeIDs := make([]string, 0, len(records))
	seen := make(map[string]struct{}, len(records))
	for _, rec := range records {
		if _, ok := seen[rec.ViolationTypeID]; ok {
			continue
		}
		seen[rec.ViolationTypeID] = struct{}{}
		typeIDs = append(typeIDs, rec.ViolationTypeID)
	}
	types, err := c.types.ListWithRulesByIDs(ctx, typeIDs)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load violation types")
	}

	// Records arrive ordered by (occurred_at, id); the running count per
	// type is therefore each record's occurrence ordinal.
	ordinals := make(map[string]int, len(typeIDs))
	for _, rec := range records {
		vtype, ok := types[rec.ViolationTypeID]
		if !ok {
			c.logger.Warn("violation record references unknown type",
				zap.String("record_id", rec.ID), zap.String("type_id", rec.ViolationTypeID))
			continue
		}
		var res models.PointsResult
		if vtype.UsesFrequencyRules {
			ordinals[rec.ViolationTypeID]++
			res = classifyOrdinal(&vtype, ordinals[rec.ViolationTypeID])
		} else {
			res = models.PointsResult{Points: vtype.Points, Matched: true}
		}
		result.Total += res.Points
		result.Breakdown = append(result.Breakdown, models.StudentPointsBreakdown{Record: rec, Result: res})
	}
	return result, nil
}

func classifyOrdinal(vtype *models.ViolationType, ordinal int) models.PointsResult {
	rule := MatchFrequencyRule(vtype.Rules, ordinal)
	if rule == nil {
		// Logged but not yet contributing, e.g. below the first threshold.
		return models.PointsResult{Ordinal: ordinal}
	}
	return models.PointsResult{Points: rule.Points, Ordinal: ordinal, Matched: true, Rule: rule}
}

// IsNotFound reports whether the error represents a missing row.
func IsNotFound(err error) bool {
	return errors.Is(err, sql.ErrNoRows)
}

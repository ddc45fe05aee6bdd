package service

import (
	"context"
	"fmt"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/noah-isme/sma-tatib-api/internal/models"
	appErrors "github.com/noah-isme/sma-tatib-api/pkg/errors"
)

type violationTypeStore interface {
	FindByID(ctx context.Context, id string) (*models.ViolationType, error)
	FindWithRules(ctx context.Context, id string) (*models.ViolationType, error)
	List(ctx context.Context, search string, activeOnly bool) ([]models.ViolationType, error)
	Create(ctx context.Context, vt *models.ViolationType) error
	Update(ctx context.Context, vt *models.ViolationType) error
	SetUsesFrequencyRules(ctx context.Context, id string, uses bool) error
	ListRules(ctx context.Context, typeID string, activeOnly bool) ([]models.FrequencyRule, error)
	CountActiveRules(ctx context.Context, typeID string) (int, error)
	CreateRule(ctx context.Context, rule *models.FrequencyRule) error
	UpdateRule(ctx context.Context, rule *models.FrequencyRule) error
	FindRule(ctx context.Context, id string) (*models.FrequencyRule, error)
}

// ViolationTypeService maintains the violation catalog and its frequency
// rules, holding the flag invariant: a type uses frequency rules only
// while at least one active rule exists. Deactivating the last rule flips
// the flag back; activating the flag requires rules first.
type ViolationTypeService struct {
	types     violationTypeStore
	validator *validator.Validate
	logger    *zap.Logger
}

// NewViolationTypeService constructs the service.
func NewViolationTypeService(types violationTypeStore, validate *validator.Validate, logger *zap.Logger) *ViolationTypeService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ViolationTypeService{types: types, validator: validate, logger: logger}
}

// CreateViolationTypeRequest describes the create payload.
type CreateViolationTypeRequest struct {
	Name     string   `json:"name" validate:"required"`
	Category string   `json:"category" validate:"required"`
	Points   int      `json:"points" validate:"gte=0"`
	Keywords []string `json:"keywords"`
}

// UpdateViolationTypeRequest describes the update payload.
type UpdateViolationTypeRequest struct {
	Name               string   `json:"name" validate:"required"`
	Category           string   `json:"category" validate:"required"`
	Points             int      `json:"points" validate:"gte=0"`
	UsesFrequencyRules *bool    `json:"uses_frequency_rules"`
	Active             *bool    `json:"active"`
	Keywords           []string `json:"keywords"`
}

// FrequencyRuleRequest describes a rule create/update payload.
type FrequencyRuleRequest struct {
	MinCount       int      `json:"min_count" validate:"required,gte=1"`
	MaxCount       *int     `json:"max_count"`
	Points         int      `json:"points" validate:"gte=0"`
	Sanction       string   `json:"sanction" validate:"required"`
	TriggersLetter bool     `json:"triggers_letter"`
	Roles          []string `json:"roles" validate:"required,min=1"`
	DisplayOrder   int      `json:"display_order"`
	Active         *bool    `json:"active"`
}

// Create adds a catalog entry. New types start without frequency rules.
func (s *ViolationTypeService) Create(ctx context.Context, req CreateViolationTypeRequest) (*models.ViolationType, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid payload")
	}
	vt := &models.ViolationType{
		Name:     req.Name,
		Category: req.Category,
		Points:   req.Points,
		Keywords: req.Keywords,
		Active:   true,
	}
	if err := s.types.Create(ctx, vt); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create violation type")
	}
	return vt, nil
}

// Update modifies a catalog entry. Turning uses_frequency_rules on is
// rejected while the type has no active rules.
func (s *ViolationTypeService) Update(ctx context.Context, id string, req UpdateViolationTypeRequest) (*models.ViolationType, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid payload")
	}
	vt, err := s.types.FindByID(ctx, id)
	if err != nil {
		if IsNotFound(err) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "violation type not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load violation type")
	}
	vt.Name = req.Name
	vt.Category = req.Category
	vt.Points = req.Points
	vt.Keywords = req.Keywords
	if req.Active != nil {
		vt.Active = *req.Active
	}
	if req.UsesFrequencyRules != nil && *req.UsesFrequencyRules != vt.UsesFrequencyRules {
		if *req.UsesFrequencyRules {
			count, err := s.types.CountActiveRules(ctx, id)
			if err != nil {
				return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to count rules")
			}
			if count == 0 {
				return nil, appErrors.Clone(appErrors.ErrInvalidState, "cannot enable frequency rules: no active rules exist")
			}
		}
		vt.UsesFrequencyRules = *req.UsesFrequencyRules
	}
	if err := s.types.Update(ctx, vt); err != nil {
		if IsNotFound(err) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "violation type not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update violation type")
	}
	return vt, nil
}

// Get returns a type with its rules preloaded.
func (s *ViolationTypeService) Get(ctx context.Context, id string) (*models.ViolationType, error) {
	vt, err := s.types.FindWithRules(ctx, id)
	if err != nil {
		if IsNotFound(err) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "violation type not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load violation type")
	}
	return vt, nil
}

// List returns catalog entries, optionally filtered by a keyword search.
func (s *ViolationTypeService) List(ctx context.Context, search string, activeOnly bool) ([]models.ViolationType, error) {
	types, err := s.types.List(ctx, search, activeOnly)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list violation types")
	}
	return types, nil
}

// AddRule creates a frequency rule and turns the flag on for the type.
func (s *ViolationTypeService) AddRule(ctx context.Context, typeID string, req FrequencyRuleRequest) (*models.FrequencyRule, error) {
	rule, err := s.buildRule(typeID, req)
	if err != nil {
		return nil, err
	}
	if _, err := s.types.FindByID(ctx, typeID); err != nil {
		if IsNotFound(err) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "violation type not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load violation type")
	}
	if err := s.types.CreateRule(ctx, rule); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create frequency rule")
	}
	s.syncRuleFlag(ctx, typeID)
	return rule, nil
}

// UpdateRule modifies a frequency rule and re-syncs the flag, flipping it
// off when the last active rule was deactivated.
func (s *ViolationTypeService) UpdateRule(ctx context.Context, ruleID string, req FrequencyRuleRequest) (*models.FrequencyRule, error) {
	existing, err := s.types.FindRule(ctx, ruleID)
	if err != nil {
		if IsNotFound(err) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "frequency rule not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load frequency rule")
	}
	rule, err := s.buildRule(existing.ViolationTypeID, req)
	if err != nil {
		return nil, err
	}
	rule.ID = ruleID
	if err := s.types.UpdateRule(ctx, rule); err != nil {
		if IsNotFound(err) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "frequency rule not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update frequency rule")
	}
	s.syncRuleFlag(ctx, existing.ViolationTypeID)
	return rule, nil
}

// ListRules returns the rules of a type ordered for matching.
func (s *ViolationTypeService) ListRules(ctx context.Context, typeID string, activeOnly bool) ([]models.FrequencyRule, error) {
	rules, err := s.types.ListRules(ctx, typeID, activeOnly)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list frequency rules")
	}
	return rules, nil
}

func (s *ViolationTypeService) buildRule(typeID string, req FrequencyRuleRequest) (*models.FrequencyRule, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid payload")
	}
	if req.MaxCount != nil && *req.MaxCount < req.MinCount {
		return nil, appErrors.Clone(appErrors.ErrValidation, "max_count must be greater than or equal to min_count")
	}
	roles := models.RolesFromStrings(req.Roles)
	for _, role := range roles {
		if !role.Valid() {
			return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("unknown role %q", role))
		}
	}
	active := true
	if req.Active != nil {
		active = *req.Active
	}
	return &models.FrequencyRule{
		ViolationTypeID: typeID,
		MinCount:        req.MinCount,
		MaxCount:        req.MaxCount,
		Points:          req.Points,
		Sanction:        req.Sanction,
		TriggersLetter:  req.TriggersLetter,
		Roles:           roles,
		DisplayOrder:    req.DisplayOrder,
		Active:          active,
	}, nil
}

// syncRuleFlag keeps uses_frequency_rules aligned with the count of active
// rules. Best effort: a failed sync is logged and repaired on the next
// rule mutation.
func (s *ViolationTypeService) syncRuleFlag(ctx context.Context, typeID string) {
	count, err := s.types.CountActiveRules(ctx, typeID)
	if err != nil {
		s.logger.Warn("failed to count active rules",
			zap.String("violation_type_id", typeID), zap.Error(err))
		return
	}
	if err := s.types.SetUsesFrequencyRules(ctx, typeID, count > 0); err != nil {
		s.logger.Warn("failed to sync frequency rule flag",
			zap.String("violation_type_id", typeID), zap.Error(err))
	}
}

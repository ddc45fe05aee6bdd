package service

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/sma-tatib-api/internal/models"
	appErrors "github.com/noah-isme/sma-tatib-api/pkg/errors"
)

type violationTypeStoreStub struct {
	types   map[string]*models.ViolationType
	rules   map[string]*models.FrequencyRule
	typeSeq int
	ruleSeq int
}

func newViolationTypeStoreStub() *violationTypeStoreStub {
	return &violationTypeStoreStub{
		types: map[string]*models.ViolationType{},
		rules: map[string]*models.FrequencyRule{},
	}
}

func (s *violationTypeStoreStub) FindByID(ctx context.Context, id string) (*models.ViolationType, error) {
	vt, ok := s.types[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	copied := *vt
	return &copied, nil
}

func (s *violationTypeStoreStub) FindWithRules(ctx context.Context, id string) (*models.ViolationType, error) {
	vt, err := s.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	rules, _ := s.ListRules(ctx, id, false)
	vt.Rules = rules
	return vt, nil
}

func (s *violationTypeStoreStub) List(ctx context.Context, search string, activeOnly bool) ([]models.ViolationType, error) {
	result := []models.ViolationType{}
	for _, vt := range s.types {
		if activeOnly && !vt.Active {
			continue
		}
		if search != "" && !strings.Contains(strings.ToLower(vt.Name), strings.ToLower(search)) {
			continue
		}
		result = append(result, *vt)
	}
	return result, nil
}

func (s *violationTypeStoreStub) Create(ctx context.Context, vt *models.ViolationType) error {
	s.typeSeq++
	vt.ID = fmt.Sprintf("vt-%d", s.typeSeq)
	stored := *vt
	s.types[vt.ID] = &stored
	return nil
}

func (s *violationTypeStoreStub) Update(ctx context.Context, vt *models.ViolationType) error {
	if _, ok := s.types[vt.ID]; !ok {
		return sql.ErrNoRows
	}
	stored := *vt
	s.types[vt.ID] = &stored
	return nil
}

func (s *violationTypeStoreStub) SetUsesFrequencyRules(ctx context.Context, id string, uses bool) error {
	vt, ok := s.types[id]
	if !ok {
		return sql.ErrNoRows
	}
	vt.UsesFrequencyRules = uses
	return nil
}

func (s *violationTypeStoreStub) ListRules(ctx context.Context, typeID string, activeOnly bool) ([]models.FrequencyRule, error) {
	result := []models.FrequencyRule{}
	for _, rule := range s.rules {
		if rule.ViolationTypeID != typeID {
			continue
		}
		if activeOnly && !rule.Active {
			continue
		}
		result = append(result, *rule)
	}
	return result, nil
}

func (s *violationTypeStoreStub) CountActiveRules(ctx context.Context, typeID string) (int, error) {
	count := 0
	for _, rule := range s.rules {
		if rule.ViolationTypeID == typeID && rule.Active {
			count++
		}
	}
	return count, nil
}

func (s *violationTypeStoreStub) CreateRule(ctx context.Context, rule *models.FrequencyRule) error {
	s.ruleSeq++
	rule.ID = fmt.Sprintf("rule-%d", s.ruleSeq)
	stored := *rule
	s.rules[rule.ID] = &stored
	return nil
}

func (s *violationTypeStoreStub) UpdateRule(ctx context.Context, rule *models.FrequencyRule) error {
	if _, ok := s.rules[rule.ID]; !ok {
		return sql.ErrNoRows
	}
	stored := *rule
	s.rules[rule.ID] = &stored
	return nil
}

func (s *violationTypeStoreStub) FindRule(ctx context.Context, id string) (*models.FrequencyRule, error) {
	rule, ok := s.rules[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	copied := *rule
	return &copied, nil
}

func newTypeServiceForTest() (*ViolationTypeService, *violationTypeStoreStub) {
	store := newViolationTypeStoreStub()
	return NewViolationTypeService(store, nil, nil), store
}

func sampleRuleRequest() FrequencyRuleRequest {
	return FrequencyRuleRequest{
		MinCount: 1, MaxCount: intPtr(3), Points: 0, Sanction: "Teguran lisan",
		Roles: []string{"WALI_KELAS"}, DisplayOrder: 1,
	}
}

func TestCreateViolationTypeStartsWithoutRules(t *testing.T) {
	svc, _ := newTypeServiceForTest()

	vt, err := svc.Create(context.Background(), CreateViolationTypeRequest{
		Name: "Terlambat", Category: "kedisiplinan", Points: 0,
	})
	require.NoError(t, err)
	assert.True(t, vt.Active)
	assert.False(t, vt.UsesFrequencyRules)
}

func TestCreateViolationTypeMissingName(t *testing.T) {
	svc, _ := newTypeServiceForTest()

	_, err := svc.Create(context.Background(), CreateViolationTypeRequest{Category: "kedisiplinan"})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)
}

func TestEnableFrequencyRulesWithoutRulesFails(t *testing.T) {
	svc, store := newTypeServiceForTest()
	store.types["vt-1"] = &models.ViolationType{ID: "vt-1", Name: "Terlambat", Category: "kedisiplinan", Active: true}
	uses := true

	_, err := svc.Update(context.Background(), "vt-1", UpdateViolationTypeRequest{
		Name: "Terlambat", Category: "kedisiplinan", UsesFrequencyRules: &uses,
	})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrInvalidState.Code, appErrors.FromError(err).Code)
	assert.False(t, store.types["vt-1"].UsesFrequencyRules)
}

func TestAddRuleTurnsFlagOn(t *testing.T) {
	svc, store := newTypeServiceForTest()
	store.types["vt-1"] = &models.ViolationType{ID: "vt-1", Name: "Terlambat", Category: "kedisiplinan", Active: true}

	rule, err := svc.AddRule(context.Background(), "vt-1", sampleRuleRequest())
	require.NoError(t, err)
	assert.True(t, rule.Active)
	assert.True(t, store.types["vt-1"].UsesFrequencyRules)
}

func TestDeactivateLastRuleTurnsFlagOff(t *testing.T) {
	svc, store := newTypeServiceForTest()
	store.types["vt-1"] = &models.ViolationType{ID: "vt-1", Name: "Terlambat", Category: "kedisiplinan", Active: true}

	rule, err := svc.AddRule(context.Background(), "vt-1", sampleRuleRequest())
	require.NoError(t, err)
	require.True(t, store.types["vt-1"].UsesFrequencyRules)

	req := sampleRuleRequest()
	inactive := false
	req.Active = &inactive
	_, err = svc.UpdateRule(context.Background(), rule.ID, req)
	require.NoError(t, err)
	assert.False(t, store.types["vt-1"].UsesFrequencyRules)
}

func TestAddRuleRejectsInvertedBounds(t *testing.T) {
	svc, store := newTypeServiceForTest()
	store.types["vt-1"] = &models.ViolationType{ID: "vt-1", Name: "Terlambat", Category: "kedisiplinan", Active: true}

	req := sampleRuleRequest()
	req.MinCount = 5
	req.MaxCount = intPtr(3)
	_, err := svc.AddRule(context.Background(), "vt-1", req)
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)
}

func TestAddRuleRejectsUnknownRole(t *testing.T) {
	svc, store := newTypeServiceForTest()
	store.types["vt-1"] = &models.ViolationType{ID: "vt-1", Name: "Terlambat", Category: "kedisiplinan", Active: true}

	req := sampleRuleRequest()
	req.Roles = []string{"SATPAM"}
	_, err := svc.AddRule(context.Background(), "vt-1", req)
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)
}

func TestAddRuleUnknownType(t *testing.T) {
	svc, _ := newTypeServiceForTest()

	_, err := svc.AddRule(context.Background(), "vt-missing", sampleRuleRequest())
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrNotFound.Code, appErrors.FromError(err).Code)
}

func TestGetViolationTypePreloadsRules(t *testing.T) {
	svc, store := newTypeServiceForTest()
	store.types["vt-1"] = &models.ViolationType{ID: "vt-1", Name: "Terlambat", Category: "kedisiplinan", Active: true}
	_, err := svc.AddRule(context.Background(), "vt-1", sampleRuleRequest())
	require.NoError(t, err)

	vt, err := svc.Get(context.Background(), "vt-1")
	require.NoError(t, err)
	assert.Len(t, vt.Rules, 1)
}

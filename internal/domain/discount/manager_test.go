package discount

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeStore struct {
	codes map[string]*Code

	lastReplaceRules        bool
	lastReplaceRestrictions bool
}

func newFakeStore() *fakeStore {
	return &fakeStore{codes: make(map[string]*Code)}
}

func (s *fakeStore) Insert(_ context.Context, c *Code) error {
	cp := *c
	s.codes[c.ID] = &cp
	return nil
}

func (s *fakeStore) Update(_ context.Context, c *Code, replaceRules, replaceRestrictions bool) error {
	existing, ok := s.codes[c.ID]
	if !ok {
		return ErrCodeNotFound
	}
	cp := *c
	if !replaceRules {
		cp.Rules = existing.Rules
	}
	if !replaceRestrictions {
		cp.Restrictions = existing.Restrictions
	}
	s.lastReplaceRules = replaceRules
	s.lastReplaceRestrictions = replaceRestrictions
	s.codes[c.ID] = &cp
	return nil
}

func (s *fakeStore) Delete(_ context.Context, id string) error {
	if _, ok := s.codes[id]; !ok {
		return ErrCodeNotFound
	}
	delete(s.codes, id)
	return nil
}

func (s *fakeStore) GetByID(_ context.Context, id string) (*Code, error) {
	c, ok := s.codes[id]
	if !ok {
		return nil, ErrCodeNotFound
	}
	cp := *c
	return &cp, nil
}

func (s *fakeStore) List(_ context.Context, _ ListFilter) ([]Code, int, error) {
	out := make([]Code, 0, len(s.codes))
	for _, c := range s.codes {
		out = append(out, *c)
	}
	return out, len(out), nil
}

type fakeInvalidator struct {
	invalidated []string
}

func (f *fakeInvalidator) Invalidate(_ context.Context, code string) {
	f.invalidated = append(f.invalidated, code)
}

type fakeStats struct {
	stats *UsageStats
}

func (f *fakeStats) Stats(_ context.Context, _ string) (*UsageStats, error) {
	return f.stats, nil
}

func TestManager_CreateDefaults(t *testing.T) {
	store := newFakeStore()
	m := NewManager(store, &fakeStats{}, nil)

	created, err := m.Create(context.Background(), CreateInput{
		Code: "  welcome10 ",
		Name: "Welcome",
		Rules: []RuleInput{
			{Type: RulePercentage, Value: 10},
			{Type: RuleFreeShipping},
		},
		Restrictions: []RestrictionInput{
			{Type: RestrictionEmailDomain, Value: "example.com"},
		},
	})

	require.NoError(t, err)
	assert.Equal(t, "WELCOME10", created.Code)
	assert.Equal(t, SourceAdmin, created.Source)
	assert.True(t, created.IsActive)
	assert.Equal(t, 1, created.MaxUsagePerEmail)
	assert.Nil(t, created.MaxUsageTotal)

	require.Len(t, created.Rules, 2)
	assert.Equal(t, 0, created.Rules[0].Priority)
	assert.Equal(t, 1, created.Rules[1].Priority)
	assert.NotEmpty(t, created.Rules[0].ID)

	require.Len(t, created.Restrictions, 1)
	assert.True(t, created.Restrictions[0].Include, "include defaults to true")
}

func TestManager_CreateValidation(t *testing.T) {
	m := NewManager(newFakeStore(), &fakeStats{}, nil)

	_, err := m.Create(context.Background(), CreateInput{Name: "no code"})
	require.Error(t, err)

	_, err = m.Create(context.Background(), CreateInput{Code: "X"})
	require.Error(t, err)
}

func TestManager_UpdateReplacesChildren(t *testing.T) {
	store := newFakeStore()
	inv := &fakeInvalidator{}
	m := NewManager(store, &fakeStats{}, inv)

	created, err := m.Create(context.Background(), CreateInput{
		Code:  "SAVE10",
		Name:  "Save",
		Rules: []RuleInput{{Type: RulePercentage, Value: 10}},
	})
	require.NoError(t, err)

	newName := "Save more"
	updated, err := m.Update(context.Background(), created.ID, UpdateInput{
		Name: &newName,
		Rules: []RuleInput{
			{Type: RulePercentage, Value: 5},
			{Type: RulePercentage, Value: 10, MinOrderAmount: 5000},
			{Type: RulePercentage, Value: 15, MinOrderAmount: 10000},
		},
	})

	require.NoError(t, err)
	assert.Equal(t, "Save more", updated.Name)
	assert.Len(t, updated.Rules, 3)
	assert.True(t, store.lastReplaceRules)
	assert.False(t, store.lastReplaceRestrictions, "restrictions untouched when not supplied")
	assert.Equal(t, []string{"SAVE10"}, inv.invalidated)
}

func TestManager_UpdateRenameInvalidatesBothCodes(t *testing.T) {
	store := newFakeStore()
	inv := &fakeInvalidator{}
	m := NewManager(store, &fakeStats{}, inv)

	created, err := m.Create(context.Background(), CreateInput{Code: "OLD", Name: "Old"})
	require.NoError(t, err)

	renamed := "new"
	_, err = m.Update(context.Background(), created.ID, UpdateInput{Code: &renamed})

	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"OLD", "NEW"}, inv.invalidated)
}

func TestManager_Delete(t *testing.T) {
	store := newFakeStore()
	inv := &fakeInvalidator{}
	m := NewManager(store, &fakeStats{}, inv)

	created, err := m.Create(context.Background(), CreateInput{Code: "GONE", Name: "Gone"})
	require.NoError(t, err)

	require.NoError(t, m.Delete(context.Background(), created.ID))

	_, err = m.GetByID(context.Background(), created.ID)
	assert.ErrorIs(t, err, ErrCodeNotFound)
	assert.Equal(t, []string{"GONE"}, inv.invalidated)
}

func TestManager_DeleteMissing(t *testing.T) {
	m := NewManager(newFakeStore(), &fakeStats{}, nil)

	err := m.Delete(context.Background(), "missing")

	assert.ErrorIs(t, err, ErrCodeNotFound)
}

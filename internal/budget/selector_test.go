package budget

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tollgate/policy-gateway/internal/ledger"
)

// fakeUsage implements UsageReader with fixed snapshot values.
type fakeUsage struct {
	callerCost float64
	globalCost float64
	err        error
}

func (f *fakeUsage) Read(ctx context.Context, callerID string) (ledger.UsageRecord, error) {
	if f.err != nil {
		return ledger.UsageRecord{}, f.err
	}
	return ledger.UsageRecord{CallerID: callerID, CostAccumulated: f.callerCost}, nil
}

func (f *fakeUsage) GlobalCost(ctx context.Context) (float64, error) {
	return f.globalCost, f.err
}

func testPolicy() Policy {
	return Policy{
		CallerID:           "alice",
		LimitCost:          1.00,
		DowngradeThreshold: 0.8,
	}
}

func TestSelector_FullTierUnderThreshold(t *testing.T) {
	s := NewSelector(&fakeUsage{callerCost: 0.50})

	sel, err := s.SelectBackend(context.Background(), "alice", testPolicy())
	require.NoError(t, err)
	assert.True(t, sel.Allowed)
	assert.Equal(t, TierFull, sel.Tier)
}

func TestSelector_DowngradedAtThreshold(t *testing.T) {
	// $0.75 of a $1.00 limit with 0.8 threshold -> still full.
	s := NewSelector(&fakeUsage{callerCost: 0.75})
	sel, err := s.SelectBackend(context.Background(), "alice", testPolicy())
	require.NoError(t, err)
	assert.True(t, sel.Allowed)
	assert.Equal(t, TierFull, sel.Tier)

	// Exactly at the threshold -> downgrade (conservative tie-break).
	s = NewSelector(&fakeUsage{callerCost: 0.80})
	sel, err = s.SelectBackend(context.Background(), "alice", testPolicy())
	require.NoError(t, err)
	assert.True(t, sel.Allowed)
	assert.Equal(t, TierDowngraded, sel.Tier)
}

func TestSelector_RefusedAtLimit(t *testing.T) {
	s := NewSelector(&fakeUsage{callerCost: 1.00})

	sel, err := s.SelectBackend(context.Background(), "alice", testPolicy())
	require.NoError(t, err)
	assert.False(t, sel.Allowed)
	assert.InDelta(t, 1.00, sel.CallerCost, 1e-9)
}

func TestSelector_RefusedAboveLimit(t *testing.T) {
	s := NewSelector(&fakeUsage{callerCost: 1.50})

	sel, err := s.SelectBackend(context.Background(), "alice", testPolicy())
	require.NoError(t, err)
	assert.False(t, sel.Allowed)
}

func TestSelector_ZeroLimitUncapped(t *testing.T) {
	s := NewSelector(&fakeUsage{callerCost: 9999})
	policy := Policy{CallerID: "alice", DowngradeThreshold: 0.8}

	sel, err := s.SelectBackend(context.Background(), "alice", policy)
	require.NoError(t, err)
	assert.True(t, sel.Allowed)
	assert.Equal(t, TierFull, sel.Tier)
}

func TestSelector_GlobalLimitDegrades(t *testing.T) {
	s := NewSelector(&fakeUsage{callerCost: 0.10, globalCost: 50.0})
	policy := testPolicy()
	policy.GlobalLimitCost = 50.0

	sel, err := s.SelectBackend(context.Background(), "alice", policy)
	require.NoError(t, err)
	assert.True(t, sel.Allowed, "global breach degrades, does not refuse")
	assert.Equal(t, TierDowngraded, sel.Tier)
}

func TestSelector_LedgerErrorPropagates(t *testing.T) {
	wantErr := errors.New("database locked")
	s := NewSelector(&fakeUsage{err: wantErr})

	_, err := s.SelectBackend(context.Background(), "alice", testPolicy())
	assert.ErrorIs(t, err, wantErr)
}

func TestPolicy_Validate(t *testing.T) {
	p := testPolicy()
	require.NoError(t, p.Validate())

	p.DowngradeThreshold = 0
	assert.Error(t, p.Validate())

	p.DowngradeThreshold = 1.5
	assert.Error(t, p.Validate())

	p = testPolicy()
	p.LimitCost = -1
	assert.Error(t, p.Validate())
}

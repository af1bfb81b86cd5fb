package model

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFlowValidate(t *testing.T) {
	good := Flow{From: "alice", To: "bob", Amount: decimal.NewFromInt(5), Equivalent: "USD"}
	require.NoError(t, good.Validate())

	tests := []struct {
		name string
		flow Flow
	}{
		{"missing endpoint", Flow{To: "bob", Amount: decimal.NewFromInt(1), Equivalent: "USD"}},
		{"self loop", Flow{From: "alice", To: "alice", Amount: decimal.NewFromInt(1), Equivalent: "USD"}},
		{"missing equivalent", Flow{From: "alice", To: "bob", Amount: decimal.NewFromInt(1)}},
		{"zero amount", Flow{From: "alice", To: "bob", Equivalent: "USD"}},
		{"negative amount", Flow{From: "alice", To: "bob", Amount: decimal.NewFromInt(-1), Equivalent: "USD"}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Error(t, tc.flow.Validate())
		})
	}
}

func TestParseEffectsDropsMalformedFlows(t *testing.T) {
	raw := []byte(`{"flows":[
		{"from":"alice","to":"bob","amount":"10","equivalent":"USD"},
		{"from":"","to":"bob","amount":"5","equivalent":"USD"},
		{"from":"bob","to":"bob","amount":"5","equivalent":"USD"},
		{"from":"bob","to":"carol","amount":"-3","equivalent":"USD"}
	]}`)
	eff, err := ParseEffects(raw)
	require.NoError(t, err)
	require.Len(t, eff.Flows, 1)
	assert.Equal(t, "alice", eff.Flows[0].From)
	assert.Equal(t, "bob", eff.Flows[0].To)
}

func TestParseEffectsRejectsGarbage(t *testing.T) {
	_, err := ParseEffects([]byte(`{"flows": "nope"`))
	assert.Error(t, err)
}

func TestLockExpired(t *testing.T) {
	now := time.Now().UTC()
	lock := &PrepareLock{ExpiresAt: now.Add(time.Second)}
	assert.False(t, lock.Expired(now))
	assert.True(t, lock.Expired(now.Add(time.Second)))
	assert.True(t, lock.Expired(now.Add(2*time.Second)))
}

package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTxStateTerminal(t *testing.T) {
	for _, s := range []TxState{TxCommitted, TxAborted, TxRejected} {
		assert.True(t, s.Terminal(), "%s", s)
	}
	for _, s := range ActiveStates() {
		assert.False(t, s.Terminal(), "%s", s)
	}
}

func TestCanTransitionTo(t *testing.T) {
	tests := []struct {
		from TxState
		to   TxState
		ok   bool
	}{
		{TxNew, TxRouted, true},
		{TxNew, TxPrepared, true},
		{TxNew, TxPrepareInProgress, true},
		{TxRouted, TxPrepared, true},
		{TxPrepareInProgress, TxPrepared, true},
		{TxPrepared, TxCommitted, true},
		{TxNew, TxAborted, true},
		{TxPrepared, TxAborted, true},
		{TxPrepared, TxRejected, true},
		{TxNew, TxCommitted, false},
		{TxRouted, TxCommitted, false},
		{TxCommitted, TxAborted, false},
		{TxAborted, TxCommitted, false},
		{TxRejected, TxPrepared, false},
		{TxCommitted, TxCommitted, true}, // self transition is idempotent
		{TxPrepared, TxRouted, false},
	}
	for _, tc := range tests {
		tr := &Transaction{State: tc.from}
		assert.Equal(t, tc.ok, tr.CanTransitionTo(tc.to), "%s -> %s", tc.from, tc.to)
	}
}

func TestParseTxState(t *testing.T) {
	s, err := ParseTxState("PREPARED")
	require.NoError(t, err)
	assert.Equal(t, TxPrepared, s)

	_, err = ParseTxState("HALF_DONE")
	assert.Error(t, err)
}

func TestTxTypeValid(t *testing.T) {
	assert.True(t, TxPayment.Valid())
	assert.True(t, TxClearing.Valid())
	assert.True(t, TxRepair.Valid())
	assert.False(t, TxType("AIRDROP").Valid())
}

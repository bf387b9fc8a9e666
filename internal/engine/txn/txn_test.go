package txn

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/n3flow/core/internal/engine/frame"
	"github.com/n3flow/core/internal/engine/value"
)

func TestRunCommitsOnSuccess(t *testing.T) {
	frames := frame.NewStore()
	mgr := New(frames)

	err := mgr.Run(func() error {
		frames.Insert("users", map[string]value.Value{"name": value.Str("ada")})
		return nil
	})
	require.NoError(t, err)
	assert.Len(t, frames.Query("users", nil), 1)
}

func TestRunRestoresOnFailure(t *testing.T) {
	frames := frame.NewStore()
	frames.Insert("users", map[string]value.Value{"name": value.Str("ada")})
	mgr := New(frames)

	boom := errors.New("boom")
	err := mgr.Run(func() error {
		frames.Insert("users", map[string]value.Value{"name": value.Str("bob")})
		return boom
	})
	assert.ErrorIs(t, err, boom)
	rows := frames.Query("users", nil)
	require.Len(t, rows, 1)
	assert.Equal(t, value.Str("ada"), rows[0].Fields["name"])
}

func TestRunRejectsNesting(t *testing.T) {
	frames := frame.NewStore()
	mgr := New(frames)

	err := mgr.Run(func() error {
		return mgr.Run(func() error { return nil })
	})
	assert.ErrorIs(t, err, ErrNestedTransaction)
}

func TestRunClearsActiveAfterFailure(t *testing.T) {
	frames := frame.NewStore()
	mgr := New(frames)

	_ = mgr.Run(func() error { return errors.New("fail") })
	err := mgr.Run(func() error { return nil })
	assert.NoError(t, err)
}

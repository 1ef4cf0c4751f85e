package main

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateResult(t *testing.T) {
	ok, err := json.Marshal(validateResult(nil))
	require.NoError(t, err)
	assert.JSONEq(t, `{"ok":true}`, string(ok))

	failed, err := json.Marshal(validateResult(errors.New("identities: no leader")))
	require.NoError(t, err)
	assert.JSONEq(t, `{"ok":false,"error":"identities: no leader"}`, string(failed))
}

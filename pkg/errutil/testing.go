// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Threadly Contributors

package errutil

import (
	"testing"

	"github.com/samber/oops"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// requireOops fails the test unless err carries an oops error somewhere in
// its chain.
func requireOops(t testing.TB, err error) oops.OopsError {
	t.Helper()
	require.Error(t, err)
	oopsErr, ok := oops.AsOops(err)
	require.True(t, ok, "expected an oops error, got %T: %v", err, err)
	return oopsErr
}

// AssertErrorCode asserts that the deepest oops code in err's chain is code.
func AssertErrorCode(t testing.TB, err error, code string) {
	t.Helper()
	oopsErr := requireOops(t, err)
	assert.Equal(t, code, oopsErr.Code(), "error code mismatch for %q", err.Error())
}

// AssertErrorContext asserts that err's merged oops context has key set to
// value. Deeper wrappers win when keys collide.
func AssertErrorContext(t testing.TB, err error, key string, value any) {
	t.Helper()
	fields := requireOops(t, err).Context()
	if assert.Contains(t, fields, key, "error %q has no %q context", err.Error(), key) {
		assert.Equal(t, value, fields[key])
	}
}

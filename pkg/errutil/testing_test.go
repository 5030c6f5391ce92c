// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Threadly Contributors

package errutil_test

import (
	"errors"
	"fmt"
	"testing"

	"github.com/samber/oops"

	"github.com/threadly/threadly/pkg/errutil"
)

func TestAssertErrorCode_DeepestCodeWins(t *testing.T) {
	inner := oops.Code("KV_UNAVAILABLE").With("operation", "get").Errorf("redis down")
	outer := oops.Code("SESSION_LOAD_FAILED").With("operation", "load").Wrap(inner)

	errutil.AssertErrorCode(t, outer, "KV_UNAVAILABLE")
	errutil.AssertErrorContext(t, outer, "operation", "get")
}

func TestAssertErrorCode_ThroughStdlibWrapping(t *testing.T) {
	err := fmt.Errorf("serve: %w", oops.Code("MIGRATION_UP_FAILED").Wrap(errors.New("dirty")))

	errutil.AssertErrorCode(t, err, "MIGRATION_UP_FAILED")
}

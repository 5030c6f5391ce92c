// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Threadly Contributors

//go:build tools

// Package main pins test-only dependencies so `go mod tidy` keeps them when
// only tagged test files import them.
package main

import (
	_ "github.com/alicebob/miniredis/v2"
	_ "github.com/onsi/ginkgo/v2"
	_ "github.com/onsi/gomega"
	_ "github.com/pashagolub/pgxmock/v4"
	_ "github.com/stretchr/testify/mock"
	_ "github.com/testcontainers/testcontainers-go/modules/postgres"
	_ "go.uber.org/goleak"
)

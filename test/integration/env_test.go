// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Threadly Contributors

//go:build integration

package integration

import (
	"context"
	"log/slog"
	"net/http/httptest"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	. "github.com/onsi/ginkgo/v2" //nolint:revive // ginkgo convention
	. "github.com/onsi/gomega"    //nolint:revive // gomega convention
	"github.com/prometheus/client_golang/prometheus"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/threadly/threadly/internal/auth"
	"github.com/threadly/threadly/internal/auth/authtest"
	authpg "github.com/threadly/threadly/internal/auth/postgres"
	"github.com/threadly/threadly/internal/httpapi"
	"github.com/threadly/threadly/internal/kv"
	"github.com/threadly/threadly/internal/session"
	"github.com/threadly/threadly/internal/store"
)

// testEnv holds the resources shared by the whole suite.
type testEnv struct {
	ctx       context.Context
	cancel    context.CancelFunc
	container testcontainers.Container
	pool      *pgxpool.Pool
	kv        *kv.PostgresStore
	users     *authpg.UserRepository
	mailer    *authtest.Mailer
	server    *httptest.Server
	registry  *prometheus.Registry
}

var env *testEnv

var _ = BeforeSuite(func() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	env = &testEnv{ctx: ctx, cancel: cancel}

	container, err := postgres.Run(ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("threadly_test"),
		postgres.WithUsername("threadly"),
		postgres.WithPassword("threadly"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second),
		),
	)
	Expect(err).NotTo(HaveOccurred())
	env.container = container

	connStr, err := container.ConnectionString(ctx, "sslmode=disable")
	Expect(err).NotTo(HaveOccurred())

	migrator, err := store.NewMigrator(connStr)
	Expect(err).NotTo(HaveOccurred())
	Expect(migrator.Up()).To(Succeed())
	Expect(migrator.Close()).To(Succeed())

	env.pool, err = store.Connect(ctx, connStr, store.RetryPolicy{Attempts: 5, Base: 200 * time.Millisecond})
	Expect(err).NotTo(HaveOccurred())

	env.kv = kv.NewPostgresStore(env.pool)
	env.users = authpg.NewUserRepository(env.pool)
	env.mailer = &authtest.Mailer{}
	env.registry = prometheus.NewRegistry()

	resets, err := auth.NewResetTokenStore(env.kv, 0)
	Expect(err).NotTo(HaveOccurred())
	links, err := auth.NewResetLinkBuilder("http://localhost:3000")
	Expect(err).NotTo(HaveOccurred())

	logger := slog.New(slog.DiscardHandler)
	manager, err := auth.NewManager(auth.ManagerDeps{
		Users:   env.users,
		Hasher:  auth.NewArgon2idHasher(auth.Argon2Params{Memory: 1024, Time: 1, Threads: 1}),
		Resets:  resets,
		Mailer:  env.mailer,
		Links:   links,
		Logger:  logger,
		Metrics: auth.NewMetrics(env.registry),
	})
	Expect(err).NotTo(HaveOccurred())

	sessions, err := session.NewManager(env.kv, session.Config{}, logger)
	Expect(err).NotTo(HaveOccurred())

	env.server = httptest.NewServer(httpapi.NewHandler(manager, sessions, logger).Routes())
})

var _ = AfterSuite(func() {
	if env == nil {
		return
	}
	if env.server != nil {
		env.server.Close()
	}
	if env.pool != nil {
		env.pool.Close()
	}
	if env.container != nil {
		_ = env.container.Terminate(context.Background())
	}
	env.cancel()
})

// resetTables empties all tables between specs.
func resetTables() {
	_, err := env.pool.Exec(env.ctx, `TRUNCATE users, kv_entries`)
	Expect(err).NotTo(HaveOccurred())
}

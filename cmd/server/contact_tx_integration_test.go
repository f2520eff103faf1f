//go:build integration

package main

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/suite"

	"identify/internal/contact/cache"
	"identify/internal/contact/service"
	"identify/internal/contact/store"
	"identify/pkg/testutil/containers"
)

type ContactTxSuite struct {
	suite.Suite
	postgres *containers.PostgresContainer
}

func TestContactTxSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(ContactTxSuite))
}

func (s *ContactTxSuite) SetupSuite() {
	s.postgres = containers.GetManager().GetPostgres(s.T())
}

func (s *ContactTxSuite) SetupTest() {
	s.Require().NoError(s.postgres.TruncateTables(context.Background(), "contacts"))
}

func (s *ContactTxSuite) countPrimaries(ctx context.Context) int {
	var n int
	err := s.postgres.DB.QueryRowContext(ctx,
		`SELECT count(*) FROM contacts WHERE link_precedence = 'primary'`).Scan(&n)
	s.Require().NoError(err)
	return n
}

// TestConcurrentNewIdentityCreatesOnePrimary runs separate resolvers so
// singleflight cannot collapse the calls; only the advisory lock can.
func (s *ContactTxSuite) TestConcurrentNewIdentityCreatesOnePrimary() {
	ctx := context.Background()
	pgStore := store.NewPostgres(s.postgres.DB)
	locker := newContactPostgresTx(s.postgres.DB)

	const goroutines = 16
	var wg sync.WaitGroup
	var failures atomic.Int32
	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			svc := service.New(pgStore, cache.NewInMemory(nil), service.WithLocker(locker))
			phone := fmt.Sprintf("555-%d", idx%2)
			if _, err := svc.Resolve(ctx, "race@x.io", phone); err != nil {
				failures.Add(1)
			}
		}(i)
	}
	wg.Wait()

	s.Zero(failures.Load())
	s.Equal(1, s.countPrimaries(ctx))
}

func (s *ContactTxSuite) TestFailedSectionRollsBack() {
	ctx := context.Background()
	pgStore := store.NewPostgres(s.postgres.DB)
	locker := newContactPostgresTx(s.postgres.DB)

	err := locker.RunLocked(ctx, []string{"email:a@x.io"}, func(ctx context.Context) error {
		svc := service.New(pgStore, cache.NewInMemory(nil))
		if _, err := svc.Resolve(ctx, "a@x.io", ""); err != nil {
			return err
		}
		return context.Canceled
	})
	s.ErrorIs(err, context.Canceled)
	s.Zero(s.countPrimaries(ctx))
}

func (s *ContactTxSuite) TestCancelledContextIsRejectedUpFront() {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	locker := newContactPostgresTx(s.postgres.DB)

	called := false
	err := locker.RunLocked(ctx, []string{"phone:1"}, func(context.Context) error {
		called = true
		return nil
	})
	s.Error(err)
	s.ErrorIs(err, context.Canceled)
	s.False(called)
}

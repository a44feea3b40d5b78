// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Nexora Agenda Contributors

//go:build integration

package postgres_test

import (
	"context"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	. "github.com/onsi/ginkgo/v2" //nolint:revive // ginkgo convention
	. "github.com/onsi/gomega"    //nolint:revive // gomega convention

	"github.com/nexora/agenda/internal/auth"
	"github.com/nexora/agenda/internal/auth/postgres"
)

func createUser(ctx context.Context, users *postgres.UserRepository, email string) *auth.User {
	user, err := auth.NewUser(email, "Test", "$argon2id$hash", auth.RoleUser, false)
	Expect(err).NotTo(HaveOccurred())
	Expect(users.Create(ctx, user)).To(Succeed())
	return user
}

var _ = Describe("UserRepository", func() {
	var (
		ctx   context.Context
		users *postgres.UserRepository
	)

	BeforeEach(func() {
		ctx = context.Background()
		users = postgres.NewUserRepository(testPool)
		truncate()
	})

	It("round-trips a user", func() {
		created := createUser(ctx, users, "ana@example.com")

		got, err := users.GetByID(ctx, created.ID)
		Expect(err).NotTo(HaveOccurred())
		Expect(got.Email).To(Equal("ana@example.com"))
		Expect(got.Role).To(Equal(auth.RoleUser))
		Expect(got.CreatedAt).To(BeTemporally("~", created.CreatedAt, time.Millisecond))
	})

	It("finds users by email regardless of case", func() {
		created := createUser(ctx, users, "ana@example.com")

		got, err := users.GetByEmail(ctx, "ANA@Example.COM")
		Expect(err).NotTo(HaveOccurred())
		Expect(got.ID).To(Equal(created.ID))
	})

	It("rejects a second account with the same email in another case", func() {
		createUser(ctx, users, "ana@example.com")

		dup, err := auth.NewUser("ana@example.com", "Other", "h", auth.RoleUser, false)
		Expect(err).NotTo(HaveOccurred())
		dup.Email = "Ana@Example.com"
		Expect(users.Create(ctx, dup)).To(MatchError(auth.ErrDuplicateEmail))
	})

	It("updates the password and flag", func() {
		created := createUser(ctx, users, "ana@example.com")

		Expect(users.UpdatePassword(ctx, created.ID, "new-hash", true)).To(Succeed())
		got, err := users.GetByID(ctx, created.ID)
		Expect(err).NotTo(HaveOccurred())
		Expect(got.PasswordHash).To(Equal("new-hash"))
		Expect(got.MustChangePassword).To(BeTrue())

		Expect(users.UpdatePassword(ctx, ulid.Make(), "x", false)).To(MatchError(auth.ErrNotFound))
	})
})

var _ = Describe("TokenRepository", func() {
	var (
		ctx    context.Context
		user   *auth.User
		tokens *postgres.TokenRepository
		svc    *auth.TokenService
	)

	BeforeEach(func() {
		ctx = context.Background()
		truncate()
		user = createUser(ctx, postgres.NewUserRepository(testPool), "tok@example.com")
		tokens = postgres.NewTokenRepository(testPool)
		svc = auth.NewTokenService(tokens)
	})

	countPairs := func() int {
		var n int
		Expect(testPool.QueryRow(ctx, `SELECT COUNT(*) FROM auth_tokens WHERE user_id = $1`, user.ID.String()).Scan(&n)).To(Succeed())
		return n
	}

	It("keeps one pair per user across concurrent logins", func() {
		var wg sync.WaitGroup
		for range 10 {
			wg.Add(1)
			go func() {
				defer GinkgoRecover()
				defer wg.Done()
				_, err := svc.Issue(ctx, user.ID)
				Expect(err).NotTo(HaveOccurred())
			}()
		}
		wg.Wait()
		Expect(countPairs()).To(Equal(1))
	})

	It("invalidates the previous pair on issue", func() {
		first, err := svc.Issue(ctx, user.ID)
		Expect(err).NotTo(HaveOccurred())
		_, err = svc.Issue(ctx, user.ID)
		Expect(err).NotTo(HaveOccurred())

		v, err := svc.Validate(ctx, first.AccessToken)
		Expect(err).NotTo(HaveOccurred())
		Expect(v.Known()).To(BeFalse())
	})

	It("rotates a refresh token exactly once under concurrency", func() {
		issued, err := svc.Issue(ctx, user.ID)
		Expect(err).NotTo(HaveOccurred())

		var (
			wg        sync.WaitGroup
			mu        sync.Mutex
			successes int
		)
		for range 5 {
			wg.Add(1)
			go func() {
				defer GinkgoRecover()
				defer wg.Done()
				got, err := svc.Refresh(ctx, issued.RefreshToken)
				Expect(err).NotTo(HaveOccurred())
				if got != nil {
					mu.Lock()
					successes++
					mu.Unlock()
				}
			}()
		}
		wg.Wait()

		Expect(successes).To(Equal(1))
		Expect(countPairs()).To(Equal(1))
	})

	It("deletes the pair when the refresh token has expired", func() {
		past := time.Now().Add(-8 * 24 * time.Hour)
		old := auth.NewTokenService(tokens, auth.WithClock(func() time.Time { return past }))
		issued, err := old.Issue(ctx, user.ID)
		Expect(err).NotTo(HaveOccurred())

		got, err := svc.Refresh(ctx, issued.RefreshToken)
		Expect(err).NotTo(HaveOccurred())
		Expect(got).To(BeNil())
		Expect(countPairs()).To(BeZero())
	})

	It("purges expired pairs only", func() {
		past := time.Now().Add(-8 * 24 * time.Hour)
		_, err := auth.NewTokenService(tokens, auth.WithClock(func() time.Time { return past })).Issue(ctx, user.ID)
		Expect(err).NotTo(HaveOccurred())
		fresh := createUser(ctx, postgres.NewUserRepository(testPool), "fresh@example.com")
		_, err = svc.Issue(ctx, fresh.ID)
		Expect(err).NotTo(HaveOccurred())

		n, err := svc.PurgeExpired(ctx)
		Expect(err).NotTo(HaveOccurred())
		Expect(n).To(Equal(int64(1)))
	})

	It("revokes idempotently and cascades on user deletion", func() {
		_, err := svc.Issue(ctx, user.ID)
		Expect(err).NotTo(HaveOccurred())
		Expect(svc.Revoke(ctx, user.ID)).To(Succeed())
		Expect(svc.Revoke(ctx, user.ID)).To(Succeed())
		Expect(countPairs()).To(BeZero())

		_, err = svc.Issue(ctx, user.ID)
		Expect(err).NotTo(HaveOccurred())
		_, err = testPool.Exec(ctx, `DELETE FROM users WHERE id = $1`, user.ID.String())
		Expect(err).NotTo(HaveOccurred())
		Expect(countPairs()).To(BeZero())
	})
})

// Package testutil provides shared fixtures for package tests.
package testutil

import (
	"testing"
	"time"

	"dealroom/internal/config"
	"dealroom/internal/directory"
	"dealroom/internal/models"
	"dealroom/internal/session"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

// JWTSecret signs tokens in tests.
const JWTSecret = "test-secret-key-12345678901234567890123456789012"

var (
	Buyer  = models.User{ID: "buyer-A", Name: "Ava", Role: models.RoleBuyer}
	Seller = models.User{ID: "seller-B", Name: "Ben", Role: models.RoleSeller}
	Admin  = models.User{ID: "admin-C", Name: "Cy", Role: models.RoleAdmin}

	// Outsider is a buyer without deals with Seller.
	Outsider = models.User{ID: "buyer-D", Name: "Dee", Role: models.RoleBuyer}
)

// Directory returns a directory with Buyer, Seller, Admin and Outsider, and
// deals D1 and D2 between Buyer and Seller.
func Directory() *directory.MemoryDirectory {
	dir := directory.NewMemoryDirectory()
	for _, u := range []models.User{Buyer, Seller, Admin, Outsider} {
		dir.PutParticipant(models.Participant{ID: u.ID, Name: u.Name, Role: u.Role})
	}
	created := time.Date(2026, 1, 2, 10, 0, 0, 0, time.UTC)
	dir.PutDeal(models.Deal{ID: "D1", Title: "Steel coils", BuyerID: Buyer.ID, SellerID: Seller.ID,
		Status: models.DealStatusNegotiating, Value: 12500, CreatedAt: created})
	dir.PutDeal(models.Deal{ID: "D2", Title: "Copper wire", BuyerID: Buyer.ID, SellerID: Seller.ID,
		Status: models.DealStatusPending, Value: 4800, CreatedAt: created.Add(time.Hour)})
	return dir
}

// Config returns a valid development configuration with in-memory backends.
func Config() *config.Config {
	return &config.Config{
		Env:                      "test",
		Port:                     "0",
		JWTSecret:                JWTSecret,
		JWTTTLMinutes:            60,
		StorageDriver:            "memory",
		PersistRootKey:           "persist:root",
		DirectoryDriver:          "memory",
		TypingTimeoutMS:          2000,
		ReplyDelayMinMS:          2000,
		ReplyDelayMaxMS:          3000,
		TypingSimIntervalMS:      0,
		ReplySource:              "synthetic",
		BadgeCap:                 9,
		BannerSize:               3,
		MessageRateLimit:         30,
		MessageRateWindowSeconds: 60,
	}
}

// Tokens returns a provider signing with JWTSecret.
func Tokens() *session.TokenProvider {
	return session.NewTokenProvider(JWTSecret, time.Hour)
}

// Token issues a token for user or fails the test.
func Token(t testing.TB, tokens *session.TokenProvider, user models.User) string {
	t.Helper()
	token, err := tokens.Issue(user)
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}
	return token
}

// Redis starts a miniredis server that is stopped with the test.
func Redis(t testing.TB) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return mr, rdb
}

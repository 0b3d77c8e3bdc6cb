package identity_test

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
	"sync"
	"testing"

	identity "github.com/goliatone/go-identity"
	"github.com/stretchr/testify/require"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/driver/sqliteshim"
)

// testConfig implements identity.Config with deterministic values.
type testConfig struct {
	signingKey         string
	botSecret          string
	syncSecret         string
	accessMinutes      int
	refreshDays        int
	issuer             string
	audience           []string
	allowedReturnHosts []string
}

func newTestConfig() *testConfig {
	return &testConfig{
		signingKey:         "test-signing-key",
		botSecret:          "test-bot-secret",
		syncSecret:         "test-sync-secret",
		accessMinutes:      15,
		refreshDays:        30,
		issuer:             "identity-test",
		audience:           []string{"test-clients"},
		allowedReturnHosts: []string{"app.example.com"},
	}
}

func (c *testConfig) GetSigningKey() string           { return c.signingKey }
func (c *testConfig) GetSigningMethod() string        { return "HS256" }
func (c *testConfig) GetContextKey() string           { return "user" }
func (c *testConfig) GetAccessTokenMinutes() int      { return c.accessMinutes }
func (c *testConfig) GetRefreshTokenDays() int        { return c.refreshDays }
func (c *testConfig) GetTokenLookup() string          { return "header:Authorization" }
func (c *testConfig) GetAuthScheme() string           { return "Bearer" }
func (c *testConfig) GetIssuer() string               { return c.issuer }
func (c *testConfig) GetAudience() []string           { return c.audience }
func (c *testConfig) GetBotSecret() string            { return c.botSecret }
func (c *testConfig) GetSyncSecret() string           { return c.syncSecret }
func (c *testConfig) GetAllowedReturnHosts() []string { return c.allowedReturnHosts }
func (c *testConfig) GetRejectedRouteKey() string     { return "rejected_route" }
func (c *testConfig) GetRejectedRouteDefault() string { return "/" }

var testDBSeq int
var testDBSeqMu sync.Mutex

// newTestDB opens a private in-memory database and applies the sqlite schema.
func newTestDB(t *testing.T) *bun.DB {
	t.Helper()

	testDBSeqMu.Lock()
	testDBSeq++
	seq := testDBSeq
	testDBSeqMu.Unlock()

	dsn := fmt.Sprintf("file:testdb%d?mode=memory&cache=shared", seq)
	sqldb, err := sql.Open(sqliteshim.ShimName, dsn)
	require.NoError(t, err)
	sqldb.SetMaxOpenConns(1)

	db := bun.NewDB(sqldb, sqlitedialect.New())
	t.Cleanup(func() { db.Close() })

	schema, err := identity.GetMigrationsFS().ReadFile("data/sql/migrations/sqlite/20250210000000_identity_schema.up.sql")
	require.NoError(t, err)

	for _, stmt := range strings.Split(string(schema), ";") {
		stmt = strings.TrimSpace(stmt)
		if stmt == "" {
			continue
		}
		_, err := db.Exec(stmt)
		require.NoError(t, err, "schema statement failed: %s", stmt)
	}

	return db
}

func newTestRepo(t *testing.T) identity.RepositoryManager {
	t.Helper()
	return identity.NewRepositoryManager(newTestDB(t))
}

// signAssertion computes the widget signature for a test assertion so the
// verifier accepts it.
func signAssertion(botSecret string, a *identity.LoginAssertion) {
	fields := map[string]string{
		"id":         fmt.Sprintf("%d", a.ID),
		"auth_date":  fmt.Sprintf("%d", a.AuthDate),
		"first_name": a.FirstName,
		"last_name":  a.LastName,
		"username":   a.Username,
		"photo_url":  a.PhotoURL,
	}

	keys := make([]string, 0, len(fields))
	for k, v := range fields {
		if v == "" {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	pairs := make([]string, 0, len(keys))
	for _, k := range keys {
		pairs = append(pairs, k+"="+fields[k])
	}

	key := sha256.Sum256([]byte(botSecret))
	mac := hmac.New(sha256.New, key[:])
	mac.Write([]byte(strings.Join(pairs, "\n")))
	a.Hash = hex.EncodeToString(mac.Sum(nil))
}

// capturingSink collects activity events for assertions.
type capturingSink struct {
	mu     sync.Mutex
	events []identity.ActivityEvent
}

func (c *capturingSink) Record(ctx context.Context, evt identity.ActivityEvent) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, evt)
	return nil
}

func (c *capturingSink) byType(eventType identity.ActivityEventType) []identity.ActivityEvent {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []identity.ActivityEvent
	for _, evt := range c.events {
		if evt.EventType == eventType {
			out = append(out, evt)
		}
	}
	return out
}

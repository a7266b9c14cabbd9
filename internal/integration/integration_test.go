//go:build integration
// +build integration

package integration

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	httpapi "github.com/livetrade/livetrade/internal/api/http"
	"github.com/livetrade/livetrade/internal/application/trade"
	domainTrade "github.com/livetrade/livetrade/internal/domain/trade"
	"github.com/livetrade/livetrade/internal/infrastructure/postgres"
	redisstore "github.com/livetrade/livetrade/internal/infrastructure/redis"
	"github.com/livetrade/livetrade/internal/infrastructure/sqlite"
)

type statusResponse struct {
	Other        *string  `json:"other"`
	MyOffer      []string `json:"myOffer"`
	OtherOffer   []string `json:"otherOffer"`
	BothAccepted bool     `json:"bothAccepted"`
}

type backend struct {
	name string
	open func(t *testing.T) domainTrade.Repository
}

func backends() []backend {
	return []backend{
		{name: "sqlite", open: openSQLite},
		{name: "postgres", open: openPostgres},
		{name: "redis", open: openRedis},
	}
}

func TestTradeOverHTTP(t *testing.T) {
	for _, b := range backends() {
		t.Run(b.name, func(t *testing.T) {
			server := newTestServer(t, b.open(t))

			postJSON(t, server.URL+"/set_target", map[string]string{"user": "alice", "target": "bob"}, nil)
			postJSON(t, server.URL+"/set_target", map[string]string{"user": "bob", "target": "alice"}, nil)
			postJSON(t, server.URL+"/offer", map[string]string{"user": "alice", "item": "sword"}, nil)
			postJSON(t, server.URL+"/offer", map[string]string{"user": "bob", "item": "shield"}, nil)
			postJSON(t, server.URL+"/accept", map[string]string{"user": "alice"}, nil)

			if st := getStatus(t, server.URL, "bob"); st.BothAccepted {
				t.Fatalf("bothAccepted before bob accepted")
			}
			postJSON(t, server.URL+"/accept", map[string]string{"user": "bob"}, nil)

			st := getStatus(t, server.URL, "alice")
			if st.Other == nil || *st.Other != "bob" {
				t.Fatalf("alice other = %v, want bob", st.Other)
			}
			if !st.BothAccepted {
				t.Fatalf("expected bothAccepted")
			}
			if len(st.OtherOffer) != 1 || st.OtherOffer[0] != "shield" {
				t.Fatalf("alice otherOffer = %v", st.OtherOffer)
			}

			postJSON(t, server.URL+"/reset", map[string]string{"user": "alice"}, nil)
			st = getStatus(t, server.URL, "alice")
			if st.Other != nil || len(st.MyOffer) != 0 || st.BothAccepted {
				t.Fatalf("status after reset = %+v", st)
			}
		})
	}
}

func TestConcurrentOffersOverHTTP(t *testing.T) {
	for _, b := range backends() {
		t.Run(b.name, func(t *testing.T) {
			server := newTestServer(t, b.open(t))

			const n = 25
			var wg sync.WaitGroup
			for i := 0; i < n; i++ {
				wg.Add(1)
				go func(i int) {
					defer wg.Done()
					postJSON(t, server.URL+"/offer", map[string]string{"user": "carol", "item": fmt.Sprintf("gem-%d", i)}, nil)
				}(i)
			}
			wg.Wait()

			if st := getStatus(t, server.URL, "carol"); len(st.MyOffer) != n {
				t.Fatalf("offer has %d items, want %d", len(st.MyOffer), n)
			}
		})
	}
}

func newTestServer(t *testing.T, repo domainTrade.Repository) *httptest.Server {
	t.Helper()
	policy := domainTrade.DefaultPolicy()
	svc := trade.NewService(repo, policy, zerolog.Nop())
	server := httptest.NewServer(httpapi.NewServer(svc).Router())
	t.Cleanup(server.Close)
	return server
}

func postJSON(t *testing.T, url string, body interface{}, out interface{}) {
	t.Helper()
	data, err := json.Marshal(body)
	if err != nil {
		t.Errorf("marshal request: %v", err)
		return
	}
	resp, err := http.Post(url, "application/json", bytes.NewReader(data))
	if err != nil {
		t.Errorf("post %s: %v", url, err)
		return
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		bodyBytes, _ := io.ReadAll(resp.Body)
		t.Errorf("post %s status %d: %s", url, resp.StatusCode, string(bodyBytes))
		return
	}
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Errorf("decode response: %v", err)
		}
	}
}

func getStatus(t *testing.T, baseURL, user string) statusResponse {
	t.Helper()
	resp, err := http.Get(baseURL + "/status?user=" + url.QueryEscape(user))
	if err != nil {
		t.Fatalf("get status: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status code %d", resp.StatusCode)
	}
	var st statusResponse
	if err := json.NewDecoder(resp.Body).Decode(&st); err != nil {
		t.Fatalf("decode status: %v", err)
	}
	return st
}

func openSQLite(t *testing.T) domainTrade.Repository {
	t.Helper()
	db, err := sqlite.Open(filepath.Join(t.TempDir(), "trades.db"))
	if err != nil {
		t.Fatalf("sqlite: %v", err)
	}
	t.Cleanup(func() { _ = sqlite.Close(db) })
	return sqlite.NewSessionRepository(db, domainTrade.DefaultPolicy())
}

func openPostgres(t *testing.T) domainTrade.Repository {
	t.Helper()
	dsn := os.Getenv("TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("TEST_DATABASE_URL not set; skipping postgres integration tests")
	}
	ctx := context.Background()
	pool, err := postgres.NewPool(ctx, dsn)
	if err != nil {
		t.Fatalf("db pool: %v", err)
	}
	t.Cleanup(pool.Close)

	if err := postgres.RunMigrations(ctx, pool, filepath.Join(repoRoot(t), "internal", "migrations")); err != nil {
		t.Fatalf("migrations: %v", err)
	}
	if err := resetDatabase(ctx, pool); err != nil {
		t.Fatalf("reset db: %v", err)
	}
	return postgres.NewSessionRepository(pool, domainTrade.DefaultPolicy())
}

func openRedis(t *testing.T) domainTrade.Repository {
	t.Helper()
	addr := os.Getenv("TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("TEST_REDIS_ADDR not set; skipping redis integration tests")
	}
	client, err := redisstore.NewClient(addr, os.Getenv("TEST_REDIS_PASSWORD"), 0)
	if err != nil {
		t.Fatalf("redis: %v", err)
	}
	t.Cleanup(func() { _ = client.Close() })
	prefix := "it:" + uuid.NewString() + ":"
	return redisstore.NewSessionRepository(client, prefix, domainTrade.DefaultPolicy())
}

func repoRoot(t *testing.T) string {
	t.Helper()
	wd, err := os.Getwd()
	if err != nil {
		t.Fatalf("getwd: %v", err)
	}
	return filepath.Clean(filepath.Join(wd, "..", ".."))
}

func resetDatabase(ctx context.Context, pool *pgxpool.Pool) error {
	_, err := pool.Exec(ctx, `TRUNCATE TABLE trade_sessions`)
	return err
}

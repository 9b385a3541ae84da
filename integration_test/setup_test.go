//go:build integration

package integration_test

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"testing"
	"time"

	osstore "github.com/getpup/docledger/store/opensearch"
	"github.com/getpup/docledger/store/sqlstore"
	_ "github.com/lib/pq"
	"github.com/opensearch-project/opensearch-go/v2"
	"github.com/opensearch-project/opensearch-go/v2/opensearchapi"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

const startupTimeout = 3 * time.Minute

// startContainer runs image and returns the host address of port.
// The container is terminated when the test ends.
func startContainer(t *testing.T, req testcontainers.ContainerRequest, port string) string {
	t.Helper()
	ctx := context.Background()

	c, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		t.Skipf("failed to start %s container (is docker available?): %v", req.Image, err)
	}
	t.Cleanup(func() {
		if err := c.Terminate(context.Background()); err != nil {
			t.Logf("warning: failed to terminate %s: %v", req.Image, err)
		}
	})

	host, err := c.Host(ctx)
	if err != nil {
		t.Fatalf("failed to get container host: %v", err)
	}
	mapped, err := c.MappedPort(ctx, port)
	if err != nil {
		t.Fatalf("failed to get mapped port %s: %v", port, err)
	}
	return fmt.Sprintf("%s:%s", host, mapped.Port())
}

// getOpenSearch returns a client for OPENSEARCH_URL, or for a fresh
// single-node container when the variable is not set.
func getOpenSearch(t *testing.T) *opensearch.Client {
	t.Helper()

	url := os.Getenv("OPENSEARCH_URL")
	if url == "" {
		addr := startContainer(t, testcontainers.ContainerRequest{
			Image:        "opensearchproject/opensearch:2.11.1",
			ExposedPorts: []string{"9200/tcp"},
			Env: map[string]string{
				"discovery.type":          "single-node",
				"DISABLE_SECURITY_PLUGIN": "true",
				"OPENSEARCH_JAVA_OPTS":    "-Xms512m -Xmx512m",
			},
			WaitingFor: wait.ForHTTP("/_cluster/health").WithPort("9200/tcp").WithStartupTimeout(startupTimeout),
		}, "9200/tcp")
		url = "http://" + addr
	}

	client, err := osstore.NewClient(osstore.ClientConfig{Addresses: []string{url}})
	if err != nil {
		t.Fatalf("failed to create opensearch client: %v", err)
	}
	return client
}

// getPostgres returns a database for POSTGRES_URL, or for a fresh container
// when the variable is not set.
func getPostgres(t *testing.T) *sql.DB {
	t.Helper()

	dsn := os.Getenv("POSTGRES_URL")
	if dsn == "" {
		addr := startContainer(t, testcontainers.ContainerRequest{
			Image:        "postgres:16-alpine",
			ExposedPorts: []string{"5432/tcp"},
			Env: map[string]string{
				"POSTGRES_USER":     "docledger",
				"POSTGRES_PASSWORD": "docledger",
				"POSTGRES_DB":       "docledger",
			},
			WaitingFor: wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(startupTimeout),
		}, "5432/tcp")
		dsn = fmt.Sprintf("postgres://docledger:docledger@%s/docledger?sslmode=disable", addr)
	}

	db, err := sqlstore.Open(sqlstore.Postgres, dsn)
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	if err := db.Ping(); err != nil {
		t.Fatalf("failed to ping database: %v", err)
	}
	return db
}

// dropTables removes the ledger and lock tables. Errors are logged but don't
// fail the test.
func dropTables(t *testing.T, db *sql.DB, tables ...string) {
	t.Helper()
	for _, table := range tables {
		if _, err := db.Exec(`DROP TABLE IF EXISTS "` + table + `"`); err != nil {
			t.Logf("warning: failed to drop %s: %v", table, err)
		}
	}
}

// TestSetupHelpers checks that the backing services are reachable.
func TestSetupHelpers(t *testing.T) {
	client := getOpenSearch(t)
	res, err := opensearchapi.ClusterHealthRequest{}.Do(context.Background(), client)
	if err != nil {
		t.Fatalf("failed to query cluster health: %v", err)
	}
	defer res.Body.Close()
	if res.IsError() {
		t.Fatalf("cluster health returned %s", res.Status())
	}

	db := getPostgres(t)
	var one int
	if err := db.QueryRow("SELECT 1").Scan(&one); err != nil {
		t.Fatalf("failed to query database: %v", err)
	}
	if one != 1 {
		t.Errorf("expected 1, got %d", one)
	}
}

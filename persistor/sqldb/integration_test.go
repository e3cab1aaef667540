//go:build integration

package sqldb_test

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/docker/go-connections/nat"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
	"github.com/terraskye/eventpulse"
	"github.com/terraskye/eventpulse/persistor/sqldb"
)

func startContainer(t *testing.T, image, port string, env map[string]string, ready wait.Strategy) (host, mapped string) {
	t.Helper()
	ctx := context.Background()

	c, err := testcontainers.Run(
		ctx, image,
		testcontainers.WithEnv(env),
		testcontainers.WithExposedPorts(port),
		testcontainers.WithWaitStrategy(ready),
	)
	require.NoError(t, err)

	t.Cleanup(func() {
		if err := testcontainers.TerminateContainer(c); err != nil {
			t.Errorf("failed to terminate container: %s", err.Error())
		}
	})

	host, err = c.Host(ctx)
	require.NoError(t, err)
	p, err := c.MappedPort(ctx, nat.Port(port))
	require.NoError(t, err)
	return host, p.Port()
}

func openWithRetry(t *testing.T, driver, dsn string) *sqldb.Persistor {
	t.Helper()

	p, err := sqldb.Open(driver, dsn)
	require.NoError(t, err)
	t.Cleanup(func() { _ = p.Close() })

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	for {
		if err = p.DB().PingContext(ctx); err == nil {
			break
		}
		select {
		case <-ctx.Done():
			t.Fatalf("database not reachable: %v", err)
		case <-time.After(500 * time.Millisecond):
		}
	}

	require.NoError(t, p.CreateSchema(ctx))
	return p
}

func TestPostgres_Persistor(t *testing.T) {
	host, port := startContainer(t, "postgres:16-alpine", "5432/tcp",
		map[string]string{
			"POSTGRES_USER":     "eventpulse",
			"POSTGRES_PASSWORD": "eventpulse",
			"POSTGRES_DB":       "eventpulse",
		},
		wait.ForLog("database system is ready to accept connections").WithOccurrence(2),
	)

	dsn := fmt.Sprintf("postgres://eventpulse:eventpulse@%s:%s/eventpulse?sslmode=disable", host, port)
	exercisePersistor(t, openWithRetry(t, "postgres", dsn))
}

func TestMySQL_Persistor(t *testing.T) {
	host, port := startContainer(t, "mysql:8.4", "3306/tcp",
		map[string]string{
			"MYSQL_ROOT_PASSWORD": "eventpulse",
			"MYSQL_DATABASE":      "eventpulse",
		},
		wait.ForListeningPort("3306/tcp"),
	)

	dsn := fmt.Sprintf("root:eventpulse@tcp(%s:%s)/eventpulse", host, port)
	exercisePersistor(t, openWithRetry(t, "mysql", dsn))
}

func exercisePersistor(t *testing.T, p *sqldb.Persistor) {
	ctx := context.Background()

	require.NoError(t, p.Persist(ctx, record("Booking", "1", 1, "V1.BookingCreated", `{"Price":300}`)))

	tx, err := p.BeginTx(ctx)
	require.NoError(t, err)
	require.NoError(t, tx.Persist(ctx, record("Booking", "1", 2, "V1.BookingPaid", `{"Amount":100}`)))
	require.NoError(t, tx.Commit())

	records, err := p.GetEvents(ctx, "Booking", "1")
	require.NoError(t, err)
	require.Len(t, records, 2)
	require.Equal(t, uint64(2), records[1].Revision)
	require.JSONEq(t, `{"Amount":100}`, string(records[1].EventData))

	err = p.Persist(ctx, record("Booking", "1", 2, "V1.BookingPaid", `{"Amount":100}`))
	require.True(t, errors.Is(err, eventpulse.ErrConcurrencyConflict), "got %v", err)

	tx, err = p.BeginTx(ctx)
	require.NoError(t, err)
	require.NoError(t, tx.Persist(ctx, record("Booking", "9", 1, "V1.BookingCreated", `{}`)))
	require.NoError(t, tx.Rollback())

	records, err = p.GetEvents(ctx, "Booking", "9")
	require.NoError(t, err)
	require.Empty(t, records)
}

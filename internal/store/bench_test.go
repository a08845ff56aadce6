package store

import (
	"context"
	"fmt"
	"sort"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"

	"fireedge.io/gateway/models"
)

// seedSessions inserts count live sessions and returns their token hashes.
func seedSessions(tb testing.TB, sessions *SessionStore, clock clockwork.Clock, count int) []string {
	tb.Helper()
	hashes := make([]string, count)
	for i := range hashes {
		hashes[i] = fmt.Sprintf("hash-%06d", i)
		require.NoError(tb, sessions.Create(context.Background(), &models.Session{
			TokenHash:   hashes[i],
			Username:    fmt.Sprintf("user%d", i),
			UserID:      i,
			EngineToken: "engine-token",
			ExpiresAt:   clock.Now().Add(time.Hour),
		}))
	}
	return hashes
}

// reportPercentiles attaches p50/p99 latencies to the benchmark output.
func reportPercentiles(b *testing.B, latencies []time.Duration) {
	if len(latencies) == 0 {
		return
	}
	sort.Slice(latencies, func(i, j int) bool { return latencies[i] < latencies[j] })
	b.ReportMetric(float64(latencies[len(latencies)/2].Microseconds()), "p50-µs")
	b.ReportMetric(float64(latencies[int(float64(len(latencies))*0.99)].Microseconds()), "p99-µs")
}

func BenchmarkSessionStore_GetByTokenHash(b *testing.B) {
	db, err := Open(b.TempDir() + "/bench.db")
	require.NoError(b, err)
	defer db.Close()

	clock := clockwork.NewRealClock()
	sessions := NewSessionStore(db, clock)
	hashes := seedSessions(b, sessions, clock, 1000)
	ctx := context.Background()

	latencies := make([]time.Duration, 0, b.N)
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		start := time.Now()
		if _, err := sessions.GetByTokenHash(ctx, hashes[i%len(hashes)]); err != nil {
			b.Fatal(err)
		}
		latencies = append(latencies, time.Since(start))
	}
	b.StopTimer()
	reportPercentiles(b, latencies)
}

func BenchmarkJobStore_ListRecent(b *testing.B) {
	db, err := Open(b.TempDir() + "/bench.db")
	require.NoError(b, err)
	defer db.Close()

	jobs := NewJobStore(db, clockwork.NewRealClock())
	ctx := context.Background()
	for i := 0; i < 500; i++ {
		require.NoError(b, jobs.Create(ctx, &models.ProvisionJob{
			Kind:    models.JobKindCreate,
			Command: "create /tmp/template.yaml --batch --debug",
			Owner:   "oneadmin",
		}))
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := jobs.ListRecent(ctx, 50); err != nil {
			b.Fatal(err)
		}
	}
}

package integration

import (
	"context"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/herakles-io/herakles-proc-mem-exporter/internal/aggregation"
	"github.com/herakles-io/herakles-proc-mem-exporter/internal/cache"
	"github.com/herakles-io/herakles-proc-mem-exporter/internal/classifier"
	"github.com/herakles-io/herakles-proc-mem-exporter/internal/cpusampler"
	"github.com/herakles-io/herakles-proc-mem-exporter/internal/health"
	"github.com/herakles-io/herakles-proc-mem-exporter/internal/httpserver"
	"github.com/herakles-io/herakles-proc-mem-exporter/internal/metrics"
	"github.com/herakles-io/herakles-proc-mem-exporter/internal/procsource"
	"github.com/herakles-io/herakles-proc-mem-exporter/internal/scanner"
	"github.com/herakles-io/herakles-proc-mem-exporter/pkg/config"
)

const testRules = `
[[rules]]
group = "db"
subgroup = "postgres"
name_matches = ["postgres"]
`

// freePort asks the kernel for an unused TCP port so the test server
// doesn't collide with anything else bound to a fixed port.
func freePort(t *testing.T) int {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer l.Close()
	return l.Addr().(*net.TCPAddr).Port
}

// startTestServer wires the full scan-to-scrape pipeline against a
// synthetic /proc tree, the same way cmd/herakles-proc-mem-exporter's
// serve command wires the real one, and starts it listening on a free
// local port.
func startTestServer(t *testing.T) string {
	t.Helper()

	src := procsource.NewSynthetic([]procsource.FakeProcess{
		{
			PID: 100, Name: "postgres", Cmdline: "postgres -D /data",
			SmapsRollup: []byte("Rss: 51200 kB\nPss: 40000 kB\nPrivate_Clean: 0 kB\nPrivate_Dirty: 30000 kB\nShared_Clean: 20000 kB\nShared_Dirty: 1200 kB\n"),
			UtimeTicks:  100, StimeTicks: 50,
		},
	})

	cls, err := classifier.Load([]byte(testRules), "", "")
	require.NoError(t, err)

	sampler := cpusampler.New(2, 100, 2)
	sc := scanner.New(src, cls, sampler, true, scanner.Config{
		Parallelism: 2,
		Aggregation: aggregation.Config{TopNSubgroup: 5, TopNOthers: 5},
		Filter:      classifier.NewFilterPolicy(classifier.SearchOff, nil, false, 0),
	}, zap.NewNop())

	snapshotCache := cache.New(time.Minute, sc.Scan, zap.NewNop())
	healthMonitor := health.NewMonitor([]health.BufferConfig{
		{Name: "io", CapacityKB: 4, WarnPercent: 75, CriticalPercent: 95},
	})

	collector := metrics.New(snapshotCache, snapshotCache, healthMonitor)
	prometheus.MustRegister(collector)
	t.Cleanup(func() { prometheus.Unregister(collector) })

	port := freePort(t)
	srv, err := httpserver.New(httpserver.Options{
		Bind:         "127.0.0.1",
		Port:         port,
		Config:       &config.Config{Port: port, SearchMode: "off"},
		RuleGroups:   cls.Groups(),
		Health:       healthMonitor,
		EnableHealth: true,
	}, zap.NewNop())
	require.NoError(t, err)

	go srv.Start()
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		srv.Stop(ctx)
	})

	addr := "http://127.0.0.1:" + strconv.Itoa(port)
	waitForServer(t, addr)
	return addr
}

func waitForServer(t *testing.T, addr string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		resp, err := http.Get(addr + "/doc")
		if err == nil {
			resp.Body.Close()
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("test server never became reachable")
}

func TestScrapeServesProcessMetrics(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	addr := startTestServer(t)

	resp, err := http.Get(addr + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	text := string(body)
	assert.True(t, strings.Contains(text, `pid="100"`), "expected pid label for the synthetic postgres process")
	assert.True(t, strings.Contains(text, `group="db"`))
}

func TestHealthEndpointReflectsBufferState(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	addr := startTestServer(t)

	resp, err := http.Get(addr + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestConfigAndSubgroupsEndpointsAreReachable(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	addr := startTestServer(t)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, addr+"/subgroups", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

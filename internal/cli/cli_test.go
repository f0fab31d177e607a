package cli_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/test/bufconn"

	"github.com/example/spaceryder/internal/cli"
	"github.com/example/spaceryder/internal/fleet"
	"github.com/example/spaceryder/internal/geo"
	"github.com/example/spaceryder/internal/queue"
	routehandler "github.com/example/spaceryder/internal/route/handler"
	routesvc "github.com/example/spaceryder/internal/route/service"
	"github.com/example/spaceryder/internal/trip/handler"
	"github.com/example/spaceryder/internal/trip/matching"
	"github.com/example/spaceryder/internal/trip/repository"
	"github.com/example/spaceryder/internal/trip/service"
)

func startAPI(t *testing.T) (string, *repository.MemoryRepository) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	repo := repository.NewMemoryRepository(repository.DefaultFleet())
	resolver := matching.NewResolver(repo, matching.NewMemoryLocationLock(), nil, matching.ResolverConfig{})
	svc := service.New(repo, repo, resolver, nil)
	backlog := queue.NewMemoryBacklog(time.Hour)
	producer := queue.NewProducer(backlog, queue.RetryPolicy{}, nil)
	worker := queue.NewWorker(backlog, svc, nil, queue.WorkerConfig{Concurrency: 2, PollInterval: 5 * time.Millisecond})
	go func() { _ = worker.Run(ctx) }()

	r := handler.NewHTTP(svc, producer, nil, nil).Router()
	routehandler.New(routesvc.New(repo, repo, geo.NewCalculator(0))).Routes(r)
	fleet.NewHTTP(resolver, repo, repo, nil).Routes(r)
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv.URL, repo
}

func run(t *testing.T, api string, args ...string) (map[string]any, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := cli.BuildCLI()
	cmd.SetOut(&out)
	cmd.SetArgs(append([]string{"--api", api}, args...))
	if err := cmd.ExecuteContext(context.Background()); err != nil {
		return nil, err
	}
	var v map[string]any
	require.NoError(t, json.Unmarshal(out.Bytes(), &v), out.String())
	return v, nil
}

func TestRequestWaitStatusCancel(t *testing.T) {
	api, _ := startAPI(t)

	accepted, err := run(t, api, "request", "--from", "JFK", "--to", "LAX", "--at", "2025-01-01T00:00:00Z", "--idempotency-key", "cli-1")
	require.NoError(t, err)
	require.Equal(t, "request-trip-cli-1", accepted["job_id"])

	job, err := run(t, api, "job", "request-trip-cli-1", "--wait", "2s")
	require.NoError(t, err)
	require.Equal(t, "completed", job["state"])
	trip := job["result"].(map[string]any)
	tripID := trip["id"].(string)

	status, err := run(t, api, "status", tripID)
	require.NoError(t, err)
	require.Equal(t, "SCHEDULED", status["status"])

	list, err := run(t, api, "list", "--from", "JFK")
	require.NoError(t, err)
	require.EqualValues(t, 1, list["total"])

	cancelled, err := run(t, api, "cancel", tripID)
	require.NoError(t, err)
	require.Equal(t, "cancel-trip-"+tripID, cancelled["job_id"])

	job, err = run(t, api, "job", "cancel-trip-"+tripID, "--wait", "2s")
	require.NoError(t, err)
	require.Equal(t, "completed", job["state"])
	require.Equal(t, true, job["result"].(map[string]any)["success"])
}

func TestRouteAndErrors(t *testing.T) {
	api, _ := startAPI(t)

	est, err := run(t, api, "route", "--from", "JFK", "--to", "SFO")
	require.NoError(t, err)
	require.Greater(t, est["distance_km"].(float64), 4000.0)

	_, err = run(t, api, "status", "2b1e3c1e-0000-4000-8000-000000000000")
	var apiErr *cli.APIError
	require.ErrorAs(t, err, &apiErr)
	require.Equal(t, 404, apiErr.Status)

	_, err = run(t, api, "request", "--from", "JFK", "--to", "ORD", "--at", "2025-01-01T00:00:00Z")
	require.NoError(t, err, "unknown locations are only detected by the worker")
}

func TestReportDocking(t *testing.T) {
	repo := repository.NewMemoryRepository(repository.DefaultFleet())
	lis := bufconn.Listen(1 << 20)
	gs := grpc.NewServer()
	fleet.RegisterDockingServer(gs, fleet.NewServer(repo, repo, nil))
	go func() { _ = gs.Serve(lis) }()
	t.Cleanup(gs.Stop)

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) { return lis.DialContext(ctx) }),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	client := fleet.NewDockingClient(conn)

	ack, err := cli.ReportDocking(context.Background(), client, &fleet.DockingReport{
		SpaceshipID:  "0b6d8a52-6a4e-4a53-9a41-5f0a7c1e0003",
		LocationCode: "LAX",
	})
	require.NoError(t, err)
	require.Equal(t, 1, ack.Accepted)

	_, err = cli.ReportDocking(context.Background(), client, &fleet.DockingReport{SpaceshipID: "x", LocationCode: "LAX"})
	require.Error(t, err)
}

func TestSpaceshipsAndAirport(t *testing.T) {
	api, _ := startAPI(t)

	ships, err := run(t, api, "spaceships", "--location", "SFO")
	require.NoError(t, err)
	require.Equal(t, "SFO", ships["location"])
	require.Len(t, ships["spaceships"], 1)

	airport, err := run(t, api, "airport", "LAX")
	require.NoError(t, err)
	require.Equal(t, "LAX", airport["code"])

	all, err := run(t, api, "airport")
	require.NoError(t, err)
	require.Len(t, all["airports"], 3)

	_, err = run(t, api, "airport", "ZZZ")
	var apiErr *cli.APIError
	require.ErrorAs(t, err, &apiErr)
	require.Equal(t, 404, apiErr.Status)
}

// Package cli implements tripctl, the operator command line for the trip
// service HTTP API and docking feed.
package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/example/spaceryder/internal/fleet"
)

// Client talks to the trip service HTTP API.
type Client struct {
	BaseURL string
	HTTP    *http.Client
}

// APIError is a non-2xx answer from the API.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api: %d %s", e.Status, e.Message)
}

// Do sends body as JSON and decodes the answer into out when out is non-nil.
func (c *Client) Do(ctx context.Context, method, path string, body any, headers map[string]string, out any) error {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, strings.TrimRight(c.BaseURL, "/")+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	httpClient := c.HTTP
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	resp, err := httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		var apiErr struct {
			Error string `json:"error"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&apiErr)
		return &APIError{Status: resp.StatusCode, Message: apiErr.Error}
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// BuildCLI assembles the tripctl command tree.
func BuildCLI() *cobra.Command {
	var (
		apiURL  string
		timeout time.Duration
	)
	rootCmd := &cobra.Command{
		Use:           "tripctl",
		Short:         "Operate the space trip booking service",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVar(&apiURL, "api", "http://localhost:8080", "trip service base URL")
	rootCmd.PersistentFlags().DurationVar(&timeout, "timeout", 10*time.Second, "request timeout")

	client := func() *Client {
		return &Client{BaseURL: apiURL, HTTP: &http.Client{Timeout: timeout}}
	}

	rootCmd.AddCommand(
		buildRequestCommand(client),
		buildCancelCommand(client),
		buildStatusCommand(client),
		buildListCommand(client),
		buildJobCommand(client),
		buildRouteCommand(client),
		buildSpaceshipsCommand(client),
		buildAirportCommand(client),
		buildDockCommand(),
	)
	return rootCmd
}

func buildRequestCommand(client func() *Client) *cobra.Command {
	var from, to, at, key string
	cmd := &cobra.Command{
		Use:   "request",
		Short: "Request a trip; prints the job id",
		RunE: func(cmd *cobra.Command, _ []string) error {
			body := map[string]string{
				"departure_location_code":   from,
				"destination_location_code": to,
				"departure_at":              at,
			}
			var headers map[string]string
			if key != "" {
				headers = map[string]string{"Idempotency-Key": key}
			}
			var out map[string]any
			if err := client().Do(cmd.Context(), http.MethodPost, "/v1/trips", body, headers, &out); err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), out)
		},
	}
	cmd.Flags().StringVar(&from, "from", "", "departure location code")
	cmd.Flags().StringVar(&to, "to", "", "destination location code")
	cmd.Flags().StringVar(&at, "at", "", "departure time, RFC 3339")
	cmd.Flags().StringVar(&key, "idempotency-key", "", "collapse retries of the same request")
	_ = cmd.MarkFlagRequired("from")
	_ = cmd.MarkFlagRequired("to")
	_ = cmd.MarkFlagRequired("at")
	return cmd
}

func buildCancelCommand(client func() *Client) *cobra.Command {
	return &cobra.Command{
		Use:   "cancel TRIP_ID",
		Short: "Cancel a scheduled trip; prints the job id",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var out map[string]any
			if err := client().Do(cmd.Context(), http.MethodPost, "/v1/trips/"+url.PathEscape(args[0])+"/cancel", nil, nil, &out); err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), out)
		},
	}
}

func buildStatusCommand(client func() *Client) *cobra.Command {
	return &cobra.Command{
		Use:   "status TRIP_ID",
		Short: "Show a trip",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var out map[string]any
			if err := client().Do(cmd.Context(), http.MethodGet, "/v1/trips/"+url.PathEscape(args[0]), nil, nil, &out); err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), out)
		},
	}
}

func buildListCommand(client func() *Client) *cobra.Command {
	var page, limit int
	var status, from string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List trips, newest departure first",
		RunE: func(cmd *cobra.Command, _ []string) error {
			q := url.Values{}
			q.Set("page", strconv.Itoa(page))
			q.Set("limit", strconv.Itoa(limit))
			if status != "" {
				q.Set("status", status)
			}
			if from != "" {
				q.Set("departure_location_code", from)
			}
			var out map[string]any
			if err := client().Do(cmd.Context(), http.MethodGet, "/v1/trips?"+q.Encode(), nil, nil, &out); err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), out)
		},
	}
	cmd.Flags().IntVar(&page, "page", 1, "1-indexed page")
	cmd.Flags().IntVar(&limit, "limit", 10, "page size")
	cmd.Flags().StringVar(&status, "status", "", "filter by trip status")
	cmd.Flags().StringVar(&from, "from", "", "filter by departure location code")
	return cmd
}

type jobView struct {
	ID           string          `json:"id"`
	State        string          `json:"state"`
	AttemptsMade int             `json:"attempts_made"`
	Progress     int             `json:"progress"`
	Result       json.RawMessage `json:"result,omitempty"`
	Error        string          `json:"error,omitempty"`
}

func buildJobCommand(client func() *Client) *cobra.Command {
	var wait time.Duration
	cmd := &cobra.Command{
		Use:   "job JOB_ID",
		Short: "Show a job; with --wait poll until it completes or fails",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			deadline := time.Now().Add(wait)
			for {
				var job jobView
				if err := client().Do(ctx, http.MethodGet, "/v1/jobs/"+url.PathEscape(args[0]), nil, nil, &job); err != nil {
					return err
				}
				done := job.State == "completed" || job.State == "failed"
				if done || wait <= 0 || time.Now().After(deadline) {
					return printJSON(cmd.OutOrStdout(), job)
				}
				select {
				case <-ctx.Done():
					return ctx.Err()
				case <-time.After(200 * time.Millisecond):
				}
			}
		},
	}
	cmd.Flags().DurationVar(&wait, "wait", 0, "poll for up to this long")
	return cmd
}

func buildRouteCommand(client func() *Client) *cobra.Command {
	var from, to string
	cmd := &cobra.Command{
		Use:   "route",
		Short: "Estimate distance and travel time between two airports",
		RunE: func(cmd *cobra.Command, _ []string) error {
			q := url.Values{"from": {from}, "to": {to}}
			var out map[string]any
			if err := client().Do(cmd.Context(), http.MethodGet, "/v1/routes/estimate?"+q.Encode(), nil, nil, &out); err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), out)
		},
	}
	cmd.Flags().StringVar(&from, "from", "", "departure location code")
	cmd.Flags().StringVar(&to, "to", "", "destination location code")
	return cmd
}

func buildSpaceshipsCommand(client func() *Client) *cobra.Command {
	var location, at string
	cmd := &cobra.Command{
		Use:   "spaceships",
		Short: "List spaceships available at an airport",
		RunE: func(cmd *cobra.Command, _ []string) error {
			q := url.Values{"location": {location}}
			if at != "" {
				q.Set("at", at)
			}
			var out map[string]any
			if err := client().Do(cmd.Context(), http.MethodGet, "/v1/spaceships?"+q.Encode(), nil, nil, &out); err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), out)
		},
	}
	cmd.Flags().StringVar(&location, "location", "", "airport code")
	cmd.Flags().StringVar(&at, "at", "", "departure time, RFC 3339")
	_ = cmd.MarkFlagRequired("location")
	return cmd
}

func buildAirportCommand(client func() *Client) *cobra.Command {
	return &cobra.Command{
		Use:   "airport [CODE]",
		Short: "Show one airport, or list them all without a code",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := "/v1/airports"
			if len(args) == 1 {
				path += "/" + url.PathEscape(args[0])
			}
			var out map[string]any
			if err := client().Do(cmd.Context(), http.MethodGet, path, nil, nil, &out); err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), out)
		},
	}
}

func buildDockCommand() *cobra.Command {
	var addr, ship, location string
	cmd := &cobra.Command{
		Use:   "dock",
		Short: "Report a spaceship's docking location over the gRPC feed",
		RunE: func(cmd *cobra.Command, _ []string) error {
			conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
			if err != nil {
				return fmt.Errorf("dial %s: %w", addr, err)
			}
			defer conn.Close()
			ack, err := ReportDocking(cmd.Context(), fleet.NewDockingClient(conn), &fleet.DockingReport{
				SpaceshipID:  ship,
				LocationCode: location,
				Ts:           time.Now().UnixMilli(),
			})
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), ack)
		},
	}
	cmd.Flags().StringVar(&addr, "grpc", "localhost:9090", "docking feed address")
	cmd.Flags().StringVar(&ship, "spaceship", "", "spaceship id")
	cmd.Flags().StringVar(&location, "location", "", "location code")
	_ = cmd.MarkFlagRequired("spaceship")
	_ = cmd.MarkFlagRequired("location")
	return cmd
}

// ReportDocking streams reports and returns the server's tally.
func ReportDocking(ctx context.Context, client *fleet.DockingClient, reports ...*fleet.DockingReport) (*fleet.DockingAck, error) {
	stream, err := client.ReportDocking(ctx)
	if err != nil {
		return nil, fmt.Errorf("open docking stream: %w", err)
	}
	for _, r := range reports {
		if err := stream.Send(r); err != nil {
			return nil, fmt.Errorf("send docking report: %w", err)
		}
	}
	ack, err := stream.CloseAndRecv()
	if err != nil {
		return nil, fmt.Errorf("close docking stream: %w", err)
	}
	if ack.Accepted == 0 && ack.Rejected > 0 {
		return ack, errors.New("every docking report was rejected")
	}
	return ack, nil
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

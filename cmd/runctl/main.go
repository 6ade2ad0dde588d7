// runctl is the operator CLI: trigger a run for one source over the admin API
// and optionally wait for it to reach a terminal status.
//
// Exit codes: 0 when the run ends SUCCESS or SKIPPED, 1 when it ends FAILED or
// PARTIAL or the API is unreachable, 2 for invalid usage.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/arc-self/sanctions-watch/internal/domain"
)

const (
	exitOK        = 0
	exitRunFailed = 1
	exitUsage     = 2
)

type client struct {
	base string
	http *http.Client
}

func (c *client) triggerRun(ctx context.Context, source domain.Source) (*domain.ScraperRun, error) {
	u := fmt.Sprintf("%s/v1/runs/%s", c.base, url.PathEscape(string(source)))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	switch resp.StatusCode {
	case http.StatusAccepted:
		var run domain.ScraperRun
		if err := json.Unmarshal(body, &run); err != nil {
			return nil, fmt.Errorf("decode run: %w", err)
		}
		return &run, nil
	case http.StatusConflict:
		return nil, fmt.Errorf("%w: a run for %s is already in progress", domain.ErrSourceBusy, source)
	default:
		return nil, fmt.Errorf("trigger failed: %s: %s", resp.Status, strings.TrimSpace(string(body)))
	}
}

func (c *client) getRun(ctx context.Context, runID string) (*domain.ScraperRun, error) {
	u := fmt.Sprintf("%s/v1/runs/%s", c.base, url.PathEscape(runID))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("run lookup failed: %s", resp.Status)
	}
	var run domain.ScraperRun
	if err := json.NewDecoder(resp.Body).Decode(&run); err != nil {
		return nil, fmt.Errorf("decode run: %w", err)
	}
	return &run, nil
}

// waitTerminal polls until the run leaves RUNNING or the context expires.
func (c *client) waitTerminal(ctx context.Context, runID string, interval time.Duration) (*domain.ScraperRun, error) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		run, err := c.getRun(ctx, runID)
		if err != nil {
			return nil, err
		}
		if run.Status != domain.RunRunning {
			return run, nil
		}
		select {
		case <-ctx.Done():
			return run, ctx.Err()
		case <-ticker.C:
		}
	}
}

func newTriggerCommand() *cobra.Command {
	var (
		apiURL  string
		wait    bool
		timeout time.Duration
	)
	cmd := &cobra.Command{
		Use:   "trigger <source>",
		Short: "Trigger an ingestion run for one source (OFAC, UN, EU, UK_HMT)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			source, err := domain.ParseSource(args[0])
			if err != nil {
				fmt.Fprintln(os.Stderr, err.Error())
				os.Exit(exitUsage)
			}

			c := &client{base: strings.TrimRight(apiURL, "/"), http: &http.Client{Timeout: 30 * time.Second}}
			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()

			run, err := c.triggerRun(ctx, source)
			if err != nil {
				fmt.Fprintln(os.Stderr, err.Error())
				os.Exit(exitRunFailed)
			}
			fmt.Printf("run %s started for %s\n", run.RunID, run.Source)

			if !wait {
				return nil
			}

			final, err := c.waitTerminal(ctx, run.RunID, 5*time.Second)
			if err != nil {
				fmt.Fprintln(os.Stderr, err.Error())
				os.Exit(exitRunFailed)
			}
			fmt.Printf("run %s finished: %s", final.RunID, final.Status)
			if final.ErrorMessage != "" {
				fmt.Printf(" (%s)", final.ErrorMessage)
			}
			fmt.Println()

			switch final.Status {
			case domain.RunSuccess, domain.RunSkipped:
				os.Exit(exitOK)
			default:
				os.Exit(exitRunFailed)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&apiURL, "api", envOr("SANCTIONS_API_URL", "http://localhost:8080"), "base URL of the sanctions-watch API")
	cmd.Flags().BoolVar(&wait, "wait", true, "poll until the run reaches a terminal status")
	cmd.Flags().DurationVar(&timeout, "timeout", 15*time.Minute, "overall deadline for trigger plus wait")
	return cmd
}

func newStatusCommand() *cobra.Command {
	var apiURL string
	cmd := &cobra.Command{
		Use:   "status <run-id>",
		Short: "Show the current status of a run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c := &client{base: strings.TrimRight(apiURL, "/"), http: &http.Client{Timeout: 30 * time.Second}}
			run, err := c.getRun(cmd.Context(), args[0])
			if err != nil {
				fmt.Fprintln(os.Stderr, err.Error())
				os.Exit(exitRunFailed)
			}
			out, _ := json.MarshalIndent(run, "", "  ")
			fmt.Println(string(out))
			return nil
		},
	}
	cmd.Flags().StringVar(&apiURL, "api", envOr("SANCTIONS_API_URL", "http://localhost:8080"), "base URL of the sanctions-watch API")
	return cmd
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func main() {
	root := &cobra.Command{
		Use:  "runctl [command]",
		Long: "Operator CLI for the sanctions-watch service",
	}

	root.AddCommand(newTriggerCommand())
	root.AddCommand(newStatusCommand())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err.Error())
		os.Exit(exitUsage)
	}
}

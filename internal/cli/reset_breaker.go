package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/vietddude/depwatch/internal/health"
)

var serverURL string

var resetBreakerCmd = &cobra.Command{
	Use:   "reset-breaker [dependency_id]",
	Short: "Force a dependency's circuit breaker closed on a running server",
	Args:  cobra.ExactArgs(1),
	Run:   runResetBreaker,
}

func init() {
	resetBreakerCmd.Flags().StringVar(&serverURL, "server", "", "base URL of the running server (default http://localhost:<server.port>)")
	rootCmd.AddCommand(resetBreakerCmd)
}

func runResetBreaker(cmd *cobra.Command, args []string) {
	cfg := loadConfig()

	base := serverURL
	if base == "" {
		base = fmt.Sprintf("http://localhost:%d", cfg.Server.Port)
	}
	endpoint := fmt.Sprintf("%s/health/dependencies/%s/reset", base, url.PathEscape(args[0]))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, nil)
	if err != nil {
		slog.Error("Failed to build request", "error", err)
		os.Exit(1)
	}
	if cfg.Admin.JWTSecret != "" {
		token, err := health.IssueToken(cfg.Admin.JWTSecret, "depwatch-cli", time.Minute)
		if err != nil {
			slog.Error("Failed to issue token", "error", err)
			os.Exit(1)
		}
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		slog.Error("Request failed", "error", err)
		os.Exit(1)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if resp.StatusCode != http.StatusOK {
		fmt.Printf("Reset failed (%d): %s\n", resp.StatusCode, body)
		os.Exit(1)
	}
	fmt.Printf("Successfully reset circuit breaker for %s\n", args[0])
}

// Command sync-lambda triggers a full sync sweep from an EventBridge
// schedule. It holds no database or PM system credentials of its own; it
// mints a short-lived admin token and calls the daemon's sync endpoint.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"
	"github.com/golang-jwt/jwt/v5"
)

type config struct {
	syncBaseURL string
	authSecret  string
	timeout     time.Duration
}

func loadConfig() (config, error) {
	baseURL := strings.TrimSpace(os.Getenv("SYNC_BASE_URL"))
	if baseURL == "" {
		return config{}, errors.New("SYNC_BASE_URL is required")
	}
	secret := strings.TrimSpace(os.Getenv("ADMIN_JWT_SECRET"))
	if secret == "" {
		return config{}, errors.New("ADMIN_JWT_SECRET is required")
	}

	timeout := 5 * time.Minute
	if raw := strings.TrimSpace(os.Getenv("SYNC_TIMEOUT")); raw != "" {
		parsed, err := time.ParseDuration(raw)
		if err != nil {
			return config{}, fmt.Errorf("invalid SYNC_TIMEOUT: %w", err)
		}
		timeout = parsed
	}

	return config{
		syncBaseURL: strings.TrimRight(baseURL, "/"),
		authSecret:  secret,
		timeout:     timeout,
	}, nil
}

func main() {
	cfg, err := loadConfig()
	if err != nil {
		panic(err)
	}

	client := &http.Client{Timeout: cfg.timeout}
	lambda.Start(func(ctx context.Context, evt events.CloudWatchEvent) error {
		return handle(ctx, cfg, client, evt)
	})
}

func handle(ctx context.Context, cfg config, client *http.Client, evt events.CloudWatchEvent) error {
	token, err := mintAdminToken(cfg.authSecret, cfg.timeout)
	if err != nil {
		return fmt.Errorf("mint admin token: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, cfg.syncBaseURL+"/admin/sync", nil)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("trigger sync: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("sync trigger returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	return nil
}

func mintAdminToken(secret string, ttl time.Duration) (string, error) {
	claims := jwt.RegisteredClaims{
		Subject:   "sync-lambda",
		IssuedAt:  jwt.NewNumericDate(time.Now()),
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(ttl)),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}

package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/stratoml/sentinel/internal/approval"
	"github.com/stratoml/sentinel/internal/config"
	"github.com/stratoml/sentinel/internal/security"
)

// runToken mints a reviewer JWT for the approval API.
func runToken(configPath string, args []string) int {
	fs := flag.NewFlagSet("token", flag.ExitOnError)
	reviewer := fs.String("reviewer", "", "reviewer identity embedded in the token")
	role := fs.String("role", "reviewer", "role claim")
	fs.Parse(args)

	if *reviewer == "" {
		fmt.Fprintln(os.Stderr, "token: -reviewer is required")
		return 1
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Load config failed: %v\n", err)
		return 1
	}
	if cfg.Auth.JWTSecret == "" {
		fmt.Fprintln(os.Stderr, "token: auth.jwtSecret is not set, the API runs without authentication")
		return 1
	}

	ttl := time.Duration(cfg.Auth.TokenTTLHours) * time.Hour
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	token, err := security.GenerateToken(*reviewer, *role, []byte(cfg.Auth.JWTSecret), ttl)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Token generation failed: %v\n", err)
		return 1
	}
	fmt.Println(token)
	return 0
}

// runPending lists approval requests waiting for review.
func runPending(configPath string, args []string) int {
	fs := flag.NewFlagSet("pending", flag.ExitOnError)
	token := fs.String("token", "", "reviewer bearer token")
	fs.Parse(args)

	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Load config failed: %v\n", err)
		return 1
	}

	// the listing endpoint wraps the queue in {"count": N, "requests": [...]}
	var payload struct {
		Count    int                `json:"count"`
		Requests []approval.Request `json:"requests"`
	}
	if err := apiGet(cfg, *token, "/api/approvals", &payload); err != nil {
		fmt.Fprintf(os.Stderr, "Request failed: %v\n", err)
		return 1
	}
	requests := payload.Requests

	if len(requests) == 0 {
		fmt.Println("No pending approval requests.")
		return 0
	}
	for _, req := range requests {
		fmt.Printf("%s  [%s/%s]  %s\n", req.ID, req.Action.Type, req.Action.RiskLevel, req.Action.Reason)
		fmt.Printf("    created %s, expires %s\n",
			req.CreatedAt.Local().Format(time.RFC3339),
			req.ExpiresAt.Local().Format(time.RFC3339))
	}
	return 0
}

// runReview approves or rejects a pending request by ID.
func runReview(configPath, verb string, args []string) int {
	fs := flag.NewFlagSet(verb, flag.ExitOnError)
	reviewer := fs.String("reviewer", "", "reviewer identity (ignored when a token carries one)")
	comment := fs.String("comment", "", "review comment")
	token := fs.String("token", "", "reviewer bearer token")
	fs.Parse(args)

	if fs.NArg() < 1 {
		fmt.Fprintf(os.Stderr, "%s: request ID is required\n", verb)
		return 1
	}
	id := fs.Arg(0)

	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Load config failed: %v\n", err)
		return 1
	}

	body, _ := json.Marshal(map[string]string{
		"reviewer": *reviewer,
		"comment":  *comment,
	})
	var resp map[string]any
	path := fmt.Sprintf("/api/approvals/%s/%s", id, verb)
	if err := apiPost(cfg, *token, path, body, &resp); err != nil {
		fmt.Fprintf(os.Stderr, "Request failed: %v\n", err)
		return 1
	}
	fmt.Printf("Request %s %sd.\n", id, verb)
	return 0
}

func apiGet(cfg *config.Config, token, path string, out any) error {
	client, base := apiClient(cfg)
	req, err := http.NewRequest(http.MethodGet, base+path, nil)
	if err != nil {
		return err
	}
	return apiDo(client, req, token, out)
}

func apiPost(cfg *config.Config, token, path string, body []byte, out any) error {
	client, base := apiClient(cfg)
	req, err := http.NewRequest(http.MethodPost, base+path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return apiDo(client, req, token, out)
}

func apiDo(client *http.Client, req *http.Request, token string, out any) error {
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("server returned %s: %s", resp.Status, bytes.TrimSpace(msg))
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func writeJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

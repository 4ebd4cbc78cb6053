package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"drover/internal/agent/ports"
)

func newApprovalsCommand(cli *CLI) *cobra.Command {
	var (
		serverURL string
		decidedBy string
	)

	cmd := &cobra.Command{
		Use:   "approvals",
		Short: "Inspect and resolve parked approvals on a serve instance",
	}
	cmd.PersistentFlags().StringVar(&serverURL, "server", "", "Base URL of the serve instance (default from server.addr)")
	cmd.PersistentFlags().StringVar(&decidedBy, "by", "", "Name recorded as the decider")

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List pending approvals",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := cli.initialize(); err != nil {
				return err
			}
			defer cli.close()

			raw, err := apiGet(cmd.Context(), cli.serverBaseURL(serverURL)+"/api/approvals")
			if err != nil {
				return err
			}
			var pending []ports.PendingApproval
			if err := json.Unmarshal(raw, &pending); err != nil {
				return fmt.Errorf("failed to decode approvals: %w", err)
			}
			if len(pending) == 0 {
				fmt.Println(gray("no pending approvals"))
				return nil
			}
			for _, p := range pending {
				rule := "-"
				if p.Rule != nil {
					rule = p.Rule.ID
				}
				fmt.Printf("%s  %s  %s  %s\n",
					bold(p.ID),
					cyan(p.Call.Name),
					gray("rule="+rule),
					gray("age="+time.Since(p.CreatedAt).Round(time.Second).String()))
				if command := p.Call.Command(); command != "" {
					fmt.Printf("    %s\n", gray(command))
				}
			}
			return nil
		},
	})

	shorts := map[string]string{
		"approve":      "Approve a parked tool call",
		"deny":         "Deny a parked tool call",
		"always-allow": "Approve and always allow the tool this session",
	}
	for _, action := range []string{"approve", "deny", "always-allow"} {
		action := action
		cmd.AddCommand(&cobra.Command{
			Use:   action + " <approval-id>",
			Short: shorts[action],
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				if err := cli.initialize(); err != nil {
					return err
				}
				defer cli.close()

				url := fmt.Sprintf("%s/api/approvals/%s/%s", cli.serverBaseURL(serverURL), args[0], action)
				var body map[string]string
				if decidedBy != "" {
					body = map[string]string{"decided_by": decidedBy}
				}
				raw, err := apiPost(cmd.Context(), url, body)
				if err != nil {
					return err
				}
				var result struct {
					ApprovalID string `json:"approval_id"`
					Resolution string `json:"resolution"`
				}
				if err := json.Unmarshal(raw, &result); err != nil {
					return fmt.Errorf("failed to decode resolution: %w", err)
				}
				fmt.Printf("%s %s %s\n", bold(result.ApprovalID), green(result.Resolution), gray("applied"))
				return nil
			},
		})
	}

	return cmd
}

// serverBaseURL resolves the API base from the flag or the configured
// listen address.
func (c *CLI) serverBaseURL(override string) string {
	if override != "" {
		return strings.TrimRight(override, "/")
	}
	addr := c.cfg.Server.Addr
	if strings.HasPrefix(addr, ":") {
		return "http://localhost" + addr
	}
	return "http://" + addr
}

type apiEnvelope struct {
	Success bool            `json:"success"`
	Error   string          `json:"error,omitempty"`
	Data    json.RawMessage `json:"data,omitempty"`
}

var apiClient = &http.Client{Timeout: 10 * time.Second}

func apiGet(ctx context.Context, url string) (json.RawMessage, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	return apiDo(req)
}

func apiPost(ctx context.Context, url string, body any) (json.RawMessage, error) {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, reader)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return apiDo(req)
}

func apiDo(req *http.Request) (json.RawMessage, error) {
	resp, err := apiClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request to %s failed: %w", req.URL, err)
	}
	defer func() { _ = resp.Body.Close() }()

	var envelope apiEnvelope
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return nil, fmt.Errorf("failed to decode response from %s: %w", req.URL, err)
	}
	if !envelope.Success {
		if envelope.Error == "" {
			return nil, errors.New(http.StatusText(resp.StatusCode))
		}
		return nil, errors.New(envelope.Error)
	}
	return envelope.Data, nil
}

// SPDX-License-Identifier: MIT

package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/ManuGH/streamkeeper/internal/failure"
)

type classifyOutput struct {
	Kind         failure.Kind `json:"kind"`
	Terminal     bool         `json:"terminal"`
	RetryAfterMs int64        `json:"retryAfterMs,omitempty"`
}

func newClassifyCmd() *cobra.Command {
	var (
		code    int
		body    string
		headers []string
	)
	cmd := &cobra.Command{
		Use:   "classify",
		Short: "Classify an HTTP playback failure",
		Example: `  streamkeeper classify --code 403 --body "signature expired"
  streamkeeper classify --code 429 -H "Retry-After: 30"`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			h := http.Header{}
			for _, raw := range headers {
				name, value, ok := strings.Cut(raw, ":")
				if !ok || strings.TrimSpace(name) == "" {
					return usageError{msg: fmt.Sprintf("header %q must be \"Name: value\"", raw)}
				}
				h.Add(strings.TrimSpace(name), strings.TrimSpace(value))
			}

			kind := failure.Classify(code, h, body)
			out := classifyOutput{Kind: kind, Terminal: kind.Terminal()}
			if d, ok := failure.RetryAfter(h, time.Now()); ok {
				out.RetryAfterMs = d.Milliseconds()
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			return enc.Encode(out)
		},
	}
	cmd.Flags().IntVar(&code, "code", 0, "HTTP response status code (0 for a transport failure)")
	cmd.Flags().StringVar(&body, "body", "", "response body")
	cmd.Flags().StringArrayVarP(&headers, "header", "H", nil, "response header as \"Name: value\" (repeatable)")
	return cmd
}

package cmd

import (
	"errors"
	"fmt"
	"net/http"
	"sort"

	json "github.com/goccy/go-json"
	"github.com/spf13/cobra"

	"github.com/austindbirch/hookrelay/internal/health"
)

func (c *cli) newHealthCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Check the API health endpoint",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			var st health.Status
			err := c.do(cmd.Context(), http.MethodGet, "/healthz", nil, &st)
			var apiErr *apiError
			if errors.As(err, &apiErr) && apiErr.Status == http.StatusServiceUnavailable {
				if json.Unmarshal(apiErr.body, &st) != nil {
					st = health.Status{Message: apiErr.Message}
				}
			} else if err != nil {
				return fmt.Errorf("health check failed: %w", err)
			}

			if c.outputJSON {
				if err := printJSON(cmd.OutOrStdout(), st); err != nil {
					return err
				}
			} else {
				state := "healthy"
				if !st.OK {
					state = "unhealthy"
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Status: %s\n", state)
				if st.Message != "" {
					fmt.Fprintf(cmd.OutOrStdout(), "Message: %s\n", st.Message)
				}
				names := make([]string, 0, len(st.Checks))
				for name := range st.Checks {
					names = append(names, name)
				}
				sort.Strings(names)
				for _, name := range names {
					fmt.Fprintf(cmd.OutOrStdout(), "  %s: %s\n", name, st.Checks[name])
				}
			}
			if !st.OK {
				return errors.New("service is unhealthy")
			}
			return nil
		},
	}
}

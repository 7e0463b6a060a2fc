package cmd

import (
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/austindbirch/hookrelay/internal/event"
	"github.com/austindbirch/hookrelay/internal/registry"
)

type webhookList struct {
	Webhooks []registry.Endpoint `json:"webhooks"`
}

func (c *cli) newWebhookCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "webhook",
		Aliases: []string{"webhooks", "endpoint"},
		Short:   "Manage webhook endpoints",
		Long:    `Register, inspect, update and remove the webhook endpoints of the authenticated owner.`,
	}
	cmd.AddCommand(
		c.newWebhookCreateCmd(),
		c.newWebhookListCmd(),
		c.newWebhookGetCmd(),
		c.newWebhookUpdateCmd(),
		c.newWebhookDeleteCmd(),
		c.newWebhookDeleteAppCmd(),
	)
	return cmd
}

func (c *cli) newWebhookCreateCmd() *cobra.Command {
	var (
		events []string
		appID  int64
		source string
	)
	cmd := &cobra.Command{
		Use:   "create [target-url]",
		Short: "Register a webhook endpoint",
		Long: `Register an https endpoint that receives the given article events.

Unknown event types are dropped by the server; at least one supported type is required.

Examples:
  hookctl webhook create https://example.com/hooks --events article_created,article_updated
  hookctl webhook create https://example.com/hooks --events article_destroyed --application-id 7`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			req := map[string]any{
				"target_url": args[0],
				"events":     events,
			}
			if appID > 0 {
				req["application_id"] = appID
			}
			if source != "" {
				req["source"] = source
			}

			var ep registry.Endpoint
			if err := c.do(cmd.Context(), http.MethodPost, "/v1/webhooks", req, &ep); err != nil {
				return fmt.Errorf("failed to create webhook: %w", err)
			}
			if c.outputJSON {
				return printJSON(cmd.OutOrStdout(), ep)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Webhook %d created for %s\n", ep.ID, ep.TargetURL)
			fmt.Fprintf(cmd.OutOrStdout(), "  Events: %s\n", joinEvents(ep))
			return nil
		},
	}
	cmd.Flags().StringSliceVar(&events, "events", nil, "event types to subscribe to (comma separated)")
	cmd.Flags().Int64Var(&appID, "application-id", 0, "owning OAuth application id")
	cmd.Flags().StringVar(&source, "source", "", "free-form origin tag")
	_ = cmd.MarkFlagRequired("events")
	return cmd
}

func (c *cli) newWebhookListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List webhook endpoints",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			var list webhookList
			if err := c.do(cmd.Context(), http.MethodGet, "/v1/webhooks", nil, &list); err != nil {
				return fmt.Errorf("failed to list webhooks: %w", err)
			}
			if c.outputJSON {
				return printJSON(cmd.OutOrStdout(), list)
			}
			if len(list.Webhooks) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No webhooks registered")
				return nil
			}
			writeTable(cmd.OutOrStdout(), list.Webhooks)
			return nil
		},
	}
}

func (c *cli) newWebhookGetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get [id]",
		Short: "Show a webhook endpoint",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			var ep registry.Endpoint
			if err := c.do(cmd.Context(), http.MethodGet, "/v1/webhooks/"+strconv.FormatInt(id, 10), nil, &ep); err != nil {
				return fmt.Errorf("failed to get webhook: %w", err)
			}
			if c.outputJSON {
				return printJSON(cmd.OutOrStdout(), ep)
			}
			writeTable(cmd.OutOrStdout(), []registry.Endpoint{ep})
			return nil
		},
	}
}

func (c *cli) newWebhookUpdateCmd() *cobra.Command {
	var events []string
	cmd := &cobra.Command{
		Use:   "update [id]",
		Short: "Replace the event types of a webhook endpoint",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			var ep registry.Endpoint
			path := "/v1/webhooks/" + strconv.FormatInt(id, 10)
			if err := c.do(cmd.Context(), http.MethodPatch, path, map[string]any{"events": events}, &ep); err != nil {
				return fmt.Errorf("failed to update webhook: %w", err)
			}
			if c.outputJSON {
				return printJSON(cmd.OutOrStdout(), ep)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Webhook %d now receives: %s\n", ep.ID, joinEvents(ep))
			return nil
		},
	}
	cmd.Flags().StringSliceVar(&events, "events", nil, "event types to subscribe to (comma separated)")
	_ = cmd.MarkFlagRequired("events")
	return cmd
}

func (c *cli) newWebhookDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "delete [id]",
		Aliases: []string{"rm"},
		Short:   "Remove a webhook endpoint",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			if err := c.do(cmd.Context(), http.MethodDelete, "/v1/webhooks/"+strconv.FormatInt(id, 10), nil, nil); err != nil {
				return fmt.Errorf("failed to delete webhook: %w", err)
			}
			if c.outputJSON {
				return printJSON(cmd.OutOrStdout(), map[string]any{"deleted": id})
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Webhook %d deleted\n", id)
			return nil
		},
	}
}

func (c *cli) newWebhookDeleteAppCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete-app [application-id]",
		Short: "Remove every webhook endpoint owned by an application",
		Long:  `Remove all endpoints of the authenticated owner created by the given OAuth application. Safe to repeat.`,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			appID, err := parseID(args[0])
			if err != nil {
				return err
			}
			var resp struct {
				Removed int64 `json:"removed"`
			}
			path := "/v1/applications/" + strconv.FormatInt(appID, 10) + "/webhooks"
			if err := c.do(cmd.Context(), http.MethodDelete, path, nil, &resp); err != nil {
				return fmt.Errorf("failed to delete application webhooks: %w", err)
			}
			if c.outputJSON {
				return printJSON(cmd.OutOrStdout(), resp)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Removed %d webhook(s) for application %d\n", resp.Removed, appID)
			return nil
		},
	}
}

func parseID(s string) (int64, error) {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid id %q: must be a positive integer", s)
	}
	return id, nil
}

func joinEvents(ep registry.Endpoint) string {
	return strings.Join(event.Strings(ep.Events), ", ")
}

func writeTable(w io.Writer, eps []registry.Endpoint) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tTARGET URL\tEVENTS\tAPPLICATION\tCREATED")
	for _, ep := range eps {
		app := "-"
		if ep.ApplicationID != nil {
			app = strconv.FormatInt(*ep.ApplicationID, 10)
		}
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\n",
			ep.ID, ep.TargetURL, joinEvents(ep), app, ep.CreatedAt.Format("2006-01-02 15:04:05"))
	}
	tw.Flush()
}

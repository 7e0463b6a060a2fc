package cmd

import (
	"errors"
	"fmt"
	"net/http"
	"os"

	json "github.com/goccy/go-json"
	"github.com/spf13/cobra"

	"github.com/austindbirch/hookrelay/internal/event"
	"github.com/austindbirch/hookrelay/internal/payload"
)

func (c *cli) newDispatchCmd() *cobra.Command {
	var (
		articleFile string
		articleJSON string
	)
	cmd := &cobra.Command{
		Use:   "dispatch [event-type]",
		Short: "Fan an article event out to subscribed endpoints",
		Long: `Trigger a dispatch for an article change. The article must belong to the
authenticated owner; a missing user_id is filled in by the server.

Examples:
  hookctl dispatch article_created --article '{"id":1,"title":"Hello","slug":"hello"}'
  hookctl dispatch article_updated --article-file ./article.json`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if !event.Known(args[0]) {
				return fmt.Errorf("unsupported event type %q", args[0])
			}
			article, err := loadArticle(articleFile, articleJSON)
			if err != nil {
				return err
			}

			var resp struct {
				Fanout int `json:"fanout"`
			}
			req := map[string]any{"event_type": args[0], "article": article}
			if err := c.do(cmd.Context(), http.MethodPost, "/v1/dispatch", req, &resp); err != nil {
				return fmt.Errorf("failed to dispatch: %w", err)
			}
			if c.outputJSON {
				return printJSON(cmd.OutOrStdout(), resp)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Dispatched %s to %d endpoint(s)\n", args[0], resp.Fanout)
			return nil
		},
	}
	cmd.Flags().StringVar(&articleFile, "article-file", "", "path to an article JSON document")
	cmd.Flags().StringVar(&articleJSON, "article", "", "inline article JSON")
	cmd.MarkFlagsMutuallyExclusive("article", "article-file")
	return cmd
}

func loadArticle(path, inline string) (*payload.Article, error) {
	var raw []byte
	switch {
	case path != "":
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read article file: %w", err)
		}
		raw = b
	case inline != "":
		raw = []byte(inline)
	default:
		return nil, errors.New("one of --article or --article-file is required")
	}

	var a payload.Article
	if err := json.Unmarshal(raw, &a); err != nil {
		return nil, fmt.Errorf("invalid article JSON: %w", err)
	}
	return &a, nil
}

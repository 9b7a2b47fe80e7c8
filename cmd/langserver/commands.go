package main

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/kalambet/langserver/internal/chunker"
	"github.com/kalambet/langserver/internal/config"
	"github.com/kalambet/langserver/internal/ingest"
)

// summary mirrors the ingestion response body.
type summary struct {
	OK         bool   `json:"ok"`
	Collection string `json:"collection"`
	Count      int    `json:"count"`
}

func reportSummary(s summary) {
	if s.Count == 0 {
		printWarning("Nothing new stored in %s", s.Collection)
		return
	}
	printSuccess("Stored %d chunks in %s", s.Count, s.Collection)
}

// readInput returns the joined args, or all of in when there are none.
func readInput(args []string, in io.Reader) (string, error) {
	if len(args) > 0 {
		return strings.Join(args, " "), nil
	}
	data, err := io.ReadAll(in)
	if err != nil {
		return "", fmt.Errorf("reading stdin: %w", err)
	}
	return string(data), nil
}

// --- ingest ---

var ingestCmd = &cobra.Command{
	Use:   "ingest",
	Short: "Ingest content into a collection",
	Long: `Ingest content into a collection.

Examples:
  langserver ingest text "Deploys happen on Tuesdays" --collection ops
  langserver ingest file ./runbook.pdf --chunk-size 500
  tail -n 200 app.log | langserver ingest logs --vm-id web-1
  langserver ingest feeds https://go.dev/blog/feed.atom`,
}

var ingestTextCmd = &cobra.Command{
	Use:   "text [text...]",
	Short: "Ingest text from the arguments or stdin",
	RunE: func(cmd *cobra.Command, args []string) error {
		collection, _ := cmd.Flags().GetString("collection")
		id, _ := cmd.Flags().GetString("id")

		text, err := readInput(args, cmd.InOrStdin())
		if err != nil {
			return err
		}
		if strings.TrimSpace(text) == "" {
			return errors.New("text is required (pass it as arguments or on stdin)")
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.post(cmd.Context(), "/ingest_texts", map[string]any{
			"collection": collection,
			"items": []ingest.TextItem{{
				ID:       id,
				Text:     text,
				Metadata: map[string]any{"source": "cli"},
			}},
		})
		if err != nil {
			return err
		}
		var s summary
		if err := decodeJSON(resp, &s); err != nil {
			return err
		}
		reportSummary(s)
		return nil
	},
}

var ingestFileCmd = &cobra.Command{
	Use:   "file <path>",
	Short: "Upload a text, markdown or PDF file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		collection, _ := cmd.Flags().GetString("collection")
		size, _ := cmd.Flags().GetInt("chunk-size")
		overlap, _ := cmd.Flags().GetInt("chunk-overlap")

		fields := map[string]string{"collection": collection}
		if size > 0 {
			fields["chunk_size"] = strconv.Itoa(size)
		}
		if cmd.Flags().Changed("chunk-overlap") {
			fields["chunk_overlap"] = strconv.Itoa(overlap)
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}
		printStep("Uploading %s...", args[0])
		resp, err := client.upload(cmd.Context(), "/ingest_file", args[0], fields)
		if err != nil {
			return err
		}
		var s summary
		if err := decodeJSON(resp, &s); err != nil {
			return err
		}
		reportSummary(s)
		return nil
	},
}

var ingestLogsCmd = &cobra.Command{
	Use:   "logs [file]",
	Short: "Ingest log lines from a file or stdin, one entry per line",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		collection, _ := cmd.Flags().GetString("collection")
		vmID, _ := cmd.Flags().GetString("vm-id")
		level, _ := cmd.Flags().GetString("level")
		if vmID == "" {
			return errors.New("--vm-id is required")
		}

		in := cmd.InOrStdin()
		if len(args) == 1 {
			f, err := os.Open(args[0])
			if err != nil {
				return fmt.Errorf("opening log file: %w", err)
			}
			defer f.Close()
			in = f
		}

		var entries []ingest.LogEntry
		sc := bufio.NewScanner(in)
		sc.Buffer(make([]byte, 0, 64*1024), 1<<20)
		for sc.Scan() {
			line := strings.TrimSpace(sc.Text())
			if line == "" {
				continue
			}
			entries = append(entries, ingest.LogEntry{VMID: vmID, LogLevel: level, Message: line})
		}
		if err := sc.Err(); err != nil {
			return fmt.Errorf("reading logs: %w", err)
		}
		if len(entries) == 0 {
			printWarning("No log lines to ingest")
			return nil
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.post(cmd.Context(), "/ingest_logs", map[string]any{
			"collection": collection,
			"logs":       entries,
		})
		if err != nil {
			return err
		}
		var s summary
		if err := decodeJSON(resp, &s); err != nil {
			return err
		}
		reportSummary(s)
		return nil
	},
}

var ingestFeedsCmd = &cobra.Command{
	Use:   "feeds <url>...",
	Short: "Fetch RSS/Atom feeds on the server and ingest new articles",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		collection, _ := cmd.Flags().GetString("collection")

		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.post(cmd.Context(), "/fetch_rss_feeds", map[string]any{
			"collection": collection,
			"urls":       args,
		})
		if err != nil {
			return err
		}
		var s summary
		if err := decodeJSON(resp, &s); err != nil {
			return err
		}
		reportSummary(s)
		return nil
	},
}

func init() {
	for _, c := range []*cobra.Command{ingestTextCmd, ingestFileCmd, ingestLogsCmd, ingestFeedsCmd} {
		c.Flags().String("collection", "", "target collection (default: server default)")
		ingestCmd.AddCommand(c)
	}
	ingestTextCmd.Flags().String("id", "", "document id (default: derived from the text)")
	ingestFileCmd.Flags().Int("chunk-size", 0, "chunk size in characters (default: server setting)")
	ingestFileCmd.Flags().Int("chunk-overlap", 0, "chunk overlap in characters (default: server setting)")
	ingestLogsCmd.Flags().String("vm-id", "", "machine or service the logs came from")
	ingestLogsCmd.Flags().String("level", "", "log level recorded with every line")
}

// --- query ---

type queryResult struct {
	Results  []hit   `json:"results"`
	Enriched *string `json:"enriched"`
	Answer   *string `json:"answer"`
}

func (r queryResult) answer() string {
	switch {
	case r.Enriched != nil:
		return *r.Enriched
	case r.Answer != nil:
		return *r.Answer
	}
	return ""
}

// parseKeywords turns key=value pairs into a filter map.
func parseKeywords(pairs []string) (map[string]string, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	out := make(map[string]string, len(pairs))
	for _, p := range pairs {
		k, v, ok := strings.Cut(p, "=")
		if !ok || k == "" {
			return nil, fmt.Errorf("invalid --keyword %q: want key=value", p)
		}
		out[k] = v
	}
	return out, nil
}

var queryCmd = &cobra.Command{
	Use:   "query <text>",
	Short: "Semantic search over one or more collections",
	Long: `Semantic search over one or more collections.

With several --collection flags the results are merged by score. --keyword,
--boost-recent-days and --rerank-model switch to hybrid ranking. --llm-model
asks the server to summarize the hits.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		query := strings.Join(args, " ")
		collections, _ := cmd.Flags().GetStringSlice("collection")
		topK, _ := cmd.Flags().GetInt("top-k")
		llmModel, _ := cmd.Flags().GetString("llm-model")
		pairs, _ := cmd.Flags().GetStringArray("keyword")
		boostDays, _ := cmd.Flags().GetInt("boost-recent-days")
		rerankModel, _ := cmd.Flags().GetString("rerank-model")

		keywords, err := parseKeywords(pairs)
		if err != nil {
			return err
		}

		var path string
		var body map[string]any
		switch {
		case len(keywords) > 0 || boostDays > 0 || rerankModel != "":
			path = "/query_hybrid"
			body = map[string]any{
				"collections":       collections,
				"keyword_filters":   keywords,
				"boost_recent_days": boostDays,
				"rerank_model":      rerankModel,
			}
		case len(collections) > 1:
			path = "/query_multi"
			body = map[string]any{"collections": collections}
		default:
			path = "/query"
			body = map[string]any{}
			if len(collections) == 1 {
				body["collection"] = collections[0]
			}
		}
		body["query"] = query
		body["top_k"] = topK
		body["return_raw"] = true
		if llmModel != "" {
			body["llm_model"] = llmModel
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.post(cmd.Context(), path, body)
		if err != nil {
			return err
		}
		var result queryResult
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		printHits(out, result.Results)
		printAnswer(out, result.answer())
		return nil
	},
}

func init() {
	queryCmd.Flags().StringSlice("collection", nil, "collection to search (repeatable)")
	queryCmd.Flags().Int("top-k", 5, "maximum number of results")
	queryCmd.Flags().String("llm-model", "", "model used to summarize the results")
	queryCmd.Flags().StringArray("keyword", nil, "payload keyword filter as key=value (repeatable)")
	queryCmd.Flags().Int("boost-recent-days", 0, "boost results published within this many days")
	queryCmd.Flags().String("rerank-model", "", "model used to re-score hybrid results")
}

// --- collections ---

var collectionsCmd = &cobra.Command{
	Use:   "collections",
	Short: "List or delete collections",
}

var collectionsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List collections and their vector counts",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.get(cmd.Context(), "/collections")
		if err != nil {
			return err
		}
		var body struct {
			Collections []struct {
				Name  string `json:"name"`
				Count *int   `json:"vectors_count"`
			} `json:"collections"`
		}
		if err := decodeJSON(resp, &body); err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		if len(body.Collections) == 0 {
			fmt.Fprintln(out, "No collections found.")
			return nil
		}
		for _, c := range body.Collections {
			count := "?"
			if c.Count != nil {
				count = strconv.Itoa(*c.Count)
			}
			fmt.Fprintf(out, "%s  %s vectors\n", colorize(colorCyan, c.Name), count)
		}
		return nil
	},
}

var collectionsDeleteCmd = &cobra.Command{
	Use:   "delete <name>",
	Short: "Delete a collection and all of its vectors",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		confirm, _ := cmd.Flags().GetBool("confirm")
		if !confirm {
			printWarning("This will delete every vector in %s. Use --confirm to proceed.", args[0])
			return nil
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.post(cmd.Context(), "/collections/delete", map[string]string{"collection": args[0]})
		if err != nil {
			return err
		}
		var body struct {
			Deleted string `json:"deleted"`
			Existed bool   `json:"existed"`
		}
		if err := decodeJSON(resp, &body); err != nil {
			return err
		}
		if !body.Existed {
			printWarning("Collection %s did not exist", body.Deleted)
			return nil
		}
		printSuccess("Deleted collection %s", body.Deleted)
		return nil
	},
}

func init() {
	collectionsDeleteCmd.Flags().Bool("confirm", false, "confirm deletion")
	collectionsCmd.AddCommand(collectionsListCmd)
	collectionsCmd.AddCommand(collectionsDeleteCmd)
}

// --- chunk ---

var chunkCmd = &cobra.Command{
	Use:   "chunk [file]",
	Short: "Preview how a file or stdin would be chunked (runs locally)",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		size, _ := cmd.Flags().GetInt("size")
		overlap, _ := cmd.Flags().GetInt("overlap")
		if size <= 0 || overlap < 0 || overlap >= size {
			return fmt.Errorf("invalid chunking: need size > 0 and 0 <= overlap < size (got %d, %d)", size, overlap)
		}

		var data []byte
		var err error
		if len(args) == 1 {
			data, err = os.ReadFile(args[0])
		} else {
			data, err = io.ReadAll(cmd.InOrStdin())
		}
		if err != nil {
			return fmt.Errorf("reading input: %w", err)
		}

		chunks := chunker.Split(string(data), size, overlap)
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "%d chunks\n", len(chunks))
		for i, c := range chunks {
			fmt.Fprintf(out, "\n%s (%d chars)\n  %s\n",
				colorize(colorBold, fmt.Sprintf("Chunk %d", i+1)),
				len([]rune(c)),
				strings.ReplaceAll(chunker.Preview(c, 200), "\n", "\n  "),
			)
		}
		return nil
	},
}

func init() {
	chunkCmd.Flags().Int("size", 800, "chunk size in characters")
	chunkCmd.Flags().Int("overlap", 120, "overlap between consecutive chunks")
}

// --- config ---

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show or update configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		for _, k := range config.ShowAll(cfg) {
			if k.FromEnv {
				fmt.Fprintf(out, "  %s = %s (from %s)\n", colorize(colorBold, k.Key), k.Value, k.EnvVar)
				continue
			}
			fmt.Fprintf(out, "  %s = %s\n", colorize(colorBold, k.Key), k.Value)
		}
		return nil
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a configuration value",
	Long: "Set a configuration value in the config file.\n\nValid keys: " +
		strings.Join(config.ValidKeys(), ", "),
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, value := args[0], args[1]

		if err := config.SetKey(key, value); err != nil {
			return err
		}

		printSuccess("Set %s = %s", key, value)
		return nil
	},
}

func init() {
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSetCmd)
}

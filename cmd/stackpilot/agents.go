package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/kalambet/stackpilot/internal/storage"
	"github.com/kalambet/stackpilot/internal/validate"
)

var agentsCmd = &cobra.Command{
	Use:   "agents",
	Short: "Manage agents",
}

var agentsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List agents",
	RunE: func(cmd *cobra.Command, args []string) error {
		productID, _ := cmd.Flags().GetString("product")
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.get(cmd.Context(), productQuery("/api/agents", productID))
		if err != nil {
			return err
		}
		var agents []storage.Agent
		if err := decodeJSON(resp, &agents); err != nil {
			return err
		}
		if len(agents) == 0 {
			fmt.Fprintln(stdout, "No agents found.")
			return nil
		}
		for _, a := range agents {
			status := a.Status
			if status == "" {
				status = storage.AgentEnabled
			}
			fmt.Fprintf(stdout, "%s  %s  [%s]  %s\n", colorize(colorCyan, a.ID), colorize(colorBold, a.Name), status, truncate(a.Description, 60))
		}
		return nil
	},
}

var agentsShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Show an agent as JSON",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := fetchAgent(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		return printJSON(a)
	},
}

var agentsExportCmd = &cobra.Command{
	Use:   "export <id>",
	Short: "Export an agent definition as YAML",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := fetchAgent(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		out, err := agentToYAML(a)
		if err != nil {
			return err
		}
		_, err = stdout.Write(out)
		return err
	},
}

var agentsImportCmd = &cobra.Command{
	Use:   "import <file>",
	Short: "Create an agent from a YAML definition",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		productID, _ := cmd.Flags().GetString("product")

		data, err := os.ReadFile(args[0])
		if err != nil {
			return fmt.Errorf("reading %s: %w", args[0], err)
		}
		a, err := agentFromYAML(data)
		if err != nil {
			return err
		}
		if productID != "" {
			a.ProductID = productID
		}
		if err := validate.Struct(a); err != nil {
			return fmt.Errorf("invalid agent definition: %w", err)
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.post(cmd.Context(), "/api/agents", a)
		if err != nil {
			return err
		}
		var created storage.Agent
		if err := decodeJSON(resp, &created); err != nil {
			return err
		}
		printSuccess("Imported agent %s (%s)", created.Name, created.ID)
		return nil
	},
}

var agentsChatCmd = &cobra.Command{
	Use:   "chat <id> <message>",
	Short: "Send a message to an agent",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		single, _ := cmd.Flags().GetBool("single")

		client, err := newAPIClient()
		if err != nil {
			return err
		}
		body, err := json.Marshal(map[string]any{
			"messages": []map[string]string{{"role": "user", "content": strings.Join(args[1:], " ")}},
		})
		if err != nil {
			return err
		}
		headers := map[string]string{"Content-Type": "application/json"}
		if single {
			headers["X-Response-Type"] = "single"
		}
		resp, err := client.send(cmd.Context(), http.MethodPost, "/api/agents/"+args[0]+"/chat", bytes.NewReader(body), headers)
		if err != nil {
			return err
		}
		return printReply(resp)
	},
}

func init() {
	agentsListCmd.Flags().String("product", "", "only agents of this product")
	agentsImportCmd.Flags().String("product", "", "attach the imported agent to this product")
	agentsChatCmd.Flags().Bool("single", false, "request a single JSON reply instead of a stream")
	agentsCmd.AddCommand(agentsListCmd, agentsShowCmd, agentsExportCmd, agentsImportCmd, agentsChatCmd)
}

func fetchAgent(ctx context.Context, id string) (storage.Agent, error) {
	client, err := newAPIClient()
	if err != nil {
		return storage.Agent{}, err
	}
	resp, err := client.get(ctx, "/api/agents/"+id)
	if err != nil {
		return storage.Agent{}, err
	}
	var a storage.Agent
	if err := decodeJSON(resp, &a); err != nil {
		return storage.Agent{}, err
	}
	return a, nil
}

// ownedFields are server-assigned and never travel in an agent definition.
var ownedFields = []string{"id", "userId", "createdAt", "updatedAt"}

// agentToYAML renders a using its JSON field names.
func agentToYAML(a storage.Agent) ([]byte, error) {
	data, err := json.Marshal(a)
	if err != nil {
		return nil, err
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, err
	}
	for _, k := range ownedFields {
		delete(m, k)
	}

	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(m); err != nil {
		return nil, fmt.Errorf("encoding yaml: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func agentFromYAML(data []byte) (storage.Agent, error) {
	var m map[string]any
	if err := yaml.Unmarshal(data, &m); err != nil {
		return storage.Agent{}, fmt.Errorf("parsing yaml: %w", err)
	}
	if m == nil {
		return storage.Agent{}, fmt.Errorf("agent definition is empty")
	}
	for _, k := range ownedFields {
		delete(m, k)
	}
	js, err := json.Marshal(m)
	if err != nil {
		return storage.Agent{}, fmt.Errorf("converting yaml: %w", err)
	}
	var a storage.Agent
	if err := json.Unmarshal(js, &a); err != nil {
		return storage.Agent{}, fmt.Errorf("decoding agent: %w", err)
	}
	return a, nil
}

// printReply writes a chat reply, either a streamed text body or a single JSON message.
func printReply(resp *http.Response) error {
	defer resp.Body.Close()
	if err := checkStatus(resp); err != nil {
		return err
	}
	ct, _, _ := mime.ParseMediaType(resp.Header.Get("Content-Type"))
	if ct != "application/json" {
		if _, err := io.Copy(stdout, resp.Body); err != nil {
			return fmt.Errorf("reading stream: %w", err)
		}
		fmt.Fprintln(stdout)
		return nil
	}

	var reply struct {
		Text      string `json:"text"`
		ToolCalls []struct {
			ToolName string `json:"toolName"`
		} `json:"toolCalls"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&reply); err != nil {
		return fmt.Errorf("decoding reply: %w", err)
	}
	fmt.Fprintln(stdout, reply.Text)
	for _, tc := range reply.ToolCalls {
		printStep("used tool %s", tc.ToolName)
	}
	return nil
}

// --- tools ---

var toolsCmd = &cobra.Command{
	Use:   "tools",
	Short: "Configure agent tools",
}

var toolsCatalogCmd = &cobra.Command{
	Use:   "catalog",
	Short: "List the tools agents can use",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.get(cmd.Context(), "/api/tools/catalog")
		if err != nil {
			return err
		}
		var defs []struct {
			ID             string `json:"id"`
			Name           string `json:"name"`
			Category       string `json:"category"`
			RequiresAPIKey bool   `json:"requiresApiKey"`
		}
		if err := decodeJSON(resp, &defs); err != nil {
			return err
		}
		for _, d := range defs {
			key := ""
			if d.RequiresAPIKey {
				key = colorize(colorYellow, " (API key)")
			}
			fmt.Fprintf(stdout, "%-12s %-10s %s%s\n", colorize(colorCyan, d.ID), d.Category, d.Name, key)
		}
		return nil
	},
}

var toolsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List configured tools",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.get(cmd.Context(), "/api/tools")
		if err != nil {
			return err
		}
		var configs []storage.ToolConfig
		if err := decodeJSON(resp, &configs); err != nil {
			return err
		}
		if len(configs) == 0 {
			fmt.Fprintln(stdout, "No tools configured.")
			return nil
		}
		for _, c := range configs {
			state := colorize(colorRed, "disabled")
			if c.IsEnabled {
				state = colorize(colorGreen, "enabled")
			}
			fmt.Fprintf(stdout, "%s  %s  test=%s\n", colorize(colorBold, c.ToolID), state, c.TestStatus)
		}
		return nil
	},
}

var toolsSetCmd = &cobra.Command{
	Use:   "set <toolId>",
	Short: "Enable or configure a tool",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		enable, _ := cmd.Flags().GetBool("enable")
		apiKey, _ := cmd.Flags().GetString("api-key")
		pairs, _ := cmd.Flags().GetStringToString("config")

		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.put(cmd.Context(), "/api/tools/"+args[0], storage.ToolConfig{
			IsEnabled: enable,
			APIKey:    apiKey,
			Config:    pairs,
		})
		if err != nil {
			return err
		}
		var c storage.ToolConfig
		if err := decodeJSON(resp, &c); err != nil {
			return err
		}
		printSuccess("Saved %s (enabled=%t)", c.ToolID, c.IsEnabled)
		return nil
	},
}

var toolsTestCmd = &cobra.Command{
	Use:   "test <toolId>",
	Short: "Check a configured tool against its upstream service",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.post(cmd.Context(), "/api/tools/"+args[0]+"/test", map[string]any{})
		if err != nil {
			return err
		}
		var res struct {
			Success bool   `json:"success"`
			Message string `json:"message"`
		}
		if err := decodeJSON(resp, &res); err != nil {
			return err
		}
		if !res.Success {
			return fmt.Errorf("%s: %s", args[0], res.Message)
		}
		printSuccess("%s: %s", args[0], res.Message)
		return nil
	},
}

func init() {
	toolsSetCmd.Flags().Bool("enable", true, "enable the tool")
	toolsSetCmd.Flags().String("api-key", "", "API key for the upstream service")
	toolsSetCmd.Flags().StringToString("config", nil, "extra settings as key=value")
	toolsCmd.AddCommand(toolsCatalogCmd, toolsListCmd, toolsSetCmd, toolsTestCmd)
}

// --- collections ---

var collectionsCmd = &cobra.Command{
	Use:   "collections",
	Short: "Manage knowledge collections",
}

var collectionsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List collections",
	RunE: func(cmd *cobra.Command, args []string) error {
		productID, _ := cmd.Flags().GetString("product")
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.get(cmd.Context(), productQuery("/api/collections", productID))
		if err != nil {
			return err
		}
		var cols []storage.Collection
		if err := decodeJSON(resp, &cols); err != nil {
			return err
		}
		if len(cols) == 0 {
			fmt.Fprintln(stdout, "No collections found.")
			return nil
		}
		for _, c := range cols {
			fmt.Fprintf(stdout, "%s  %s  [%s]\n", colorize(colorCyan, c.ID), colorize(colorBold, c.Title), c.Status)
		}
		return nil
	},
}

var collectionsCreateCmd = &cobra.Command{
	Use:   "create <title>",
	Short: "Create a collection",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		productID, _ := cmd.Flags().GetString("product")
		description, _ := cmd.Flags().GetString("description")
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.post(cmd.Context(), "/api/collections", storage.Collection{
			ProductID:   productID,
			Title:       strings.Join(args, " "),
			Description: description,
		})
		if err != nil {
			return err
		}
		var c storage.Collection
		if err := decodeJSON(resp, &c); err != nil {
			return err
		}
		printSuccess("Created collection %s", c.ID)
		return nil
	},
}

var collectionsUploadCmd = &cobra.Command{
	Use:   "upload <collectionId> <file>",
	Short: "Upload a document for indexing",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		title, _ := cmd.Flags().GetString("title")
		chunkSize, _ := cmd.Flags().GetInt("chunk-size")
		overlap, _ := cmd.Flags().GetInt("overlap")

		fields := map[string]string{"title": title}
		if chunkSize > 0 {
			fields["chunkSize"] = fmt.Sprint(chunkSize)
		}
		if overlap > 0 {
			fields["overlap"] = fmt.Sprint(overlap)
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.upload(cmd.Context(), "/api/collections/"+args[0]+"/documents", args[1], fields)
		if err != nil {
			return err
		}
		var doc storage.Document
		if err := decodeJSON(resp, &doc); err != nil {
			return err
		}
		printSuccess("Uploaded %s as document %s; indexing queued", doc.Title, doc.ID)
		return nil
	},
}

var collectionsSearchCmd = &cobra.Command{
	Use:   "search <collectionId> <query>",
	Short: "Search a collection",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		page, _ := cmd.Flags().GetInt("page")
		size, _ := cmd.Flags().GetInt("page-size")

		client, err := newAPIClient()
		if err != nil {
			return err
		}
		q := strings.Join(args[1:], " ")
		path := fmt.Sprintf("/api/collections/%s/search?q=%s&page=%d&pageSize=%d", args[0], url.QueryEscape(q), page, size)
		resp, err := client.get(cmd.Context(), path)
		if err != nil {
			return err
		}
		var res struct {
			Results []struct {
				DocumentTitle string  `json:"document_title"`
				Content       string  `json:"chunk_content"`
				Similarity    float64 `json:"similarity"`
			} `json:"results"`
			Page         int `json:"page"`
			TotalPages   int `json:"totalPages"`
			TotalResults int `json:"totalResults"`
		}
		if err := decodeJSON(resp, &res); err != nil {
			return err
		}
		if len(res.Results) == 0 {
			fmt.Fprintln(stdout, "No results.")
			return nil
		}
		for _, r := range res.Results {
			fmt.Fprintf(stdout, "%s %s\n  %s\n", colorize(colorYellow, fmt.Sprintf("%.2f", r.Similarity)),
				colorize(colorBold, r.DocumentTitle), truncate(strings.Join(strings.Fields(r.Content), " "), 120))
		}
		fmt.Fprintf(stdout, "page %d of %d (%d results)\n", res.Page, res.TotalPages, res.TotalResults)
		return nil
	},
}

func init() {
	collectionsListCmd.Flags().String("product", "", "only collections of this product")
	collectionsCreateCmd.Flags().String("product", "", "product the collection belongs to")
	collectionsCreateCmd.Flags().String("description", "", "collection description")
	collectionsUploadCmd.Flags().String("title", "", "document title (defaults to the file name)")
	collectionsUploadCmd.Flags().Int("chunk-size", 0, "characters per chunk")
	collectionsUploadCmd.Flags().Int("overlap", 0, "characters shared by neighbouring chunks")
	collectionsSearchCmd.Flags().Int("page", 1, "result page")
	collectionsSearchCmd.Flags().Int("page-size", 10, "results per page")
	collectionsCmd.AddCommand(collectionsListCmd, collectionsCreateCmd, collectionsUploadCmd, collectionsSearchCmd)
}

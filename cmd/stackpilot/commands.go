package main

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"

	"github.com/kalambet/stackpilot/internal/api"
	"github.com/kalambet/stackpilot/internal/auth"
	"github.com/kalambet/stackpilot/internal/config"
	"github.com/kalambet/stackpilot/internal/storage"
)

func splitList(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := parts[:0]
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func productQuery(path, productID string) string {
	if productID == "" {
		return path
	}
	return path + "?productId=" + url.QueryEscape(productID)
}

// --- products ---

var productsCmd = &cobra.Command{
	Use:   "products",
	Short: "Manage products",
}

var productsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List products",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.get(cmd.Context(), "/api/products")
		if err != nil {
			return err
		}
		var products []storage.Product
		if err := decodeJSON(resp, &products); err != nil {
			return err
		}
		if len(products) == 0 {
			fmt.Fprintln(stdout, "No products found.")
			return nil
		}
		for _, p := range products {
			fmt.Fprintf(stdout, "%s  %s  %s\n", colorize(colorCyan, p.ID), colorize(colorBold, p.Name), strings.Join(p.Phases, ","))
		}
		return nil
	},
}

var productsCreateCmd = &cobra.Command{
	Use:   "create <name>",
	Short: "Create a product",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		description, _ := cmd.Flags().GetString("description")
		phases, _ := cmd.Flags().GetString("phases")
		website, _ := cmd.Flags().GetString("website")

		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.post(cmd.Context(), "/api/products", storage.Product{
			Name:        args[0],
			Description: description,
			Phases:      splitList(phases),
			Website:     website,
		})
		if err != nil {
			return err
		}
		var p storage.Product
		if err := decodeJSON(resp, &p); err != nil {
			return err
		}
		printSuccess("Created product %s", p.ID)
		return nil
	},
}

var productsDeleteCmd = &cobra.Command{
	Use:   "delete <id>",
	Short: "Delete a product",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return deleteResource(cmd.Context(), "/api/products/"+args[0], "product")
	},
}

func deleteResource(ctx context.Context, path, what string) error {
	client, err := newAPIClient()
	if err != nil {
		return err
	}
	resp, err := client.delete(ctx, path)
	if err != nil {
		return err
	}
	var result map[string]string
	if err := decodeJSON(resp, &result); err != nil {
		return err
	}
	printSuccess("Deleted %s", what)
	return nil
}

func init() {
	productsCreateCmd.Flags().String("description", "", "product description")
	productsCreateCmd.Flags().String("phases", "", "comma-separated phases, e.g. Build,Launch")
	productsCreateCmd.Flags().String("website", "", "product website URL")
	productsCmd.AddCommand(productsListCmd, productsCreateCmd, productsDeleteCmd)
}

// --- notes ---

var notesCmd = &cobra.Command{
	Use:   "notes",
	Short: "Manage product notes",
}

var notesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List notes",
	RunE: func(cmd *cobra.Command, args []string) error {
		productID, _ := cmd.Flags().GetString("product")
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.get(cmd.Context(), productQuery("/api/notes", productID))
		if err != nil {
			return err
		}
		var notes []storage.Note
		if err := decodeJSON(resp, &notes); err != nil {
			return err
		}
		if len(notes) == 0 {
			fmt.Fprintln(stdout, "No notes found.")
			return nil
		}
		for _, n := range notes {
			fmt.Fprintf(stdout, "%s  %s\n", colorize(colorCyan, n.ID), truncate(n.NoteBody, 80))
		}
		return nil
	},
}

var notesAddCmd = &cobra.Command{
	Use:   "add <text>",
	Short: "Add a note to a product",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		productID, _ := cmd.Flags().GetString("product")
		tags, _ := cmd.Flags().GetString("tags")
		phases, _ := cmd.Flags().GetString("phases")
		if productID == "" {
			return fmt.Errorf("--product is required")
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.post(cmd.Context(), "/api/notes", storage.Note{
			ProductID: productID,
			NoteBody:  strings.Join(args, " "),
			Tags:      splitList(tags),
			Phases:    splitList(phases),
		})
		if err != nil {
			return err
		}
		var n storage.Note
		if err := decodeJSON(resp, &n); err != nil {
			return err
		}
		printSuccess("Added note %s", n.ID)
		return nil
	},
}

func init() {
	notesListCmd.Flags().String("product", "", "only notes of this product")
	notesAddCmd.Flags().String("product", "", "product the note belongs to")
	notesAddCmd.Flags().String("tags", "", "comma-separated tags")
	notesAddCmd.Flags().String("phases", "", "comma-separated phases")
	notesCmd.AddCommand(notesListCmd, notesAddCmd)
}

// --- questions ---

var questionsCmd = &cobra.Command{
	Use:   "questions",
	Short: "Manage product questions",
}

var questionsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List questions",
	RunE: func(cmd *cobra.Command, args []string) error {
		productID, _ := cmd.Flags().GetString("product")
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.get(cmd.Context(), productQuery("/api/questions", productID))
		if err != nil {
			return err
		}
		var questions []storage.Question
		if err := decodeJSON(resp, &questions); err != nil {
			return err
		}
		if len(questions) == 0 {
			fmt.Fprintln(stdout, "No questions found.")
			return nil
		}
		for _, q := range questions {
			mark := colorize(colorYellow, "?")
			if q.Answer != nil && *q.Answer != "" {
				mark = colorize(colorGreen, "✓")
			}
			fmt.Fprintf(stdout, "%s %s  %s\n", mark, colorize(colorCyan, q.ID), truncate(q.Question, 80))
		}
		return nil
	},
}

var questionsAddCmd = &cobra.Command{
	Use:   "add <question>",
	Short: "Add a question to a product",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		productID, _ := cmd.Flags().GetString("product")
		if productID == "" {
			return fmt.Errorf("--product is required")
		}
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.post(cmd.Context(), "/api/questions", storage.Question{
			ProductID: productID,
			Question:  strings.Join(args, " "),
		})
		if err != nil {
			return err
		}
		var q storage.Question
		if err := decodeJSON(resp, &q); err != nil {
			return err
		}
		printSuccess("Added question %s", q.ID)
		return nil
	},
}

var questionsAnswerCmd = &cobra.Command{
	Use:   "answer <id> <answer>",
	Short: "Answer a question",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		answer := strings.Join(args[1:], " ")
		resp, err := client.put(cmd.Context(), "/api/questions/"+args[0], map[string]any{"answer": answer})
		if err != nil {
			return err
		}
		var q storage.Question
		if err := decodeJSON(resp, &q); err != nil {
			return err
		}
		printSuccess("Answered question %s", q.ID)
		return nil
	},
}

func init() {
	questionsListCmd.Flags().String("product", "", "only questions of this product")
	questionsAddCmd.Flags().String("product", "", "product the question belongs to")
	questionsCmd.AddCommand(questionsListCmd, questionsAddCmd, questionsAnswerCmd)
}

// --- techstacks ---

var techstacksCmd = &cobra.Command{
	Use:   "techstacks",
	Short: "Inspect tech stacks",
}

var techstacksListCmd = &cobra.Command{
	Use:   "list",
	Short: "List tech stacks",
	RunE: func(cmd *cobra.Command, args []string) error {
		productID, _ := cmd.Flags().GetString("product")
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.get(cmd.Context(), productQuery("/api/techstacks", productID))
		if err != nil {
			return err
		}
		var stacks []storage.TechStack
		if err := decodeJSON(resp, &stacks); err != nil {
			return err
		}
		if len(stacks) == 0 {
			fmt.Fprintln(stdout, "No tech stacks found.")
			return nil
		}
		for _, s := range stacks {
			parts := []string{s.FrontEndStack, s.BackEndStack, s.DatabaseStack, s.DeploymentStack}
			fmt.Fprintf(stdout, "%s  %s  %s\n", colorize(colorCyan, s.ID), colorize(colorBold, s.Name),
				strings.Join(splitList(strings.Join(parts, ",")), " / "))
		}
		return nil
	},
}

func init() {
	techstacksListCmd.Flags().String("product", "", "only stacks of this product")
	techstacksCmd.AddCommand(techstacksListCmd)
}

// --- token ---

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Manage owner session tokens",
}

var tokenIssueCmd = &cobra.Command{
	Use:   "issue",
	Short: "Mint an owner session token",
	RunE: func(cmd *cobra.Command, args []string) error {
		user, _ := cmd.Flags().GetString("user")
		if user == "" {
			return fmt.Errorf("--user is required")
		}
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		issuer, err := auth.NewIssuer(cfg.Auth.JWTSecret, cfg.Auth.Issuer)
		if err != nil {
			return err
		}
		tok, err := issuer.IssueSession(user)
		if err != nil {
			return err
		}
		fmt.Fprintln(stdout, tok)
		return nil
	},
}

func init() {
	tokenIssueCmd.Flags().String("user", "", "owner user id")
	tokenCmd.AddCommand(tokenIssueCmd)
}

// --- mcp ---

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Run the owner MCP server over stdio",
	RunE: func(cmd *cobra.Command, args []string) error {
		user, _ := cmd.Flags().GetString("user")
		if user == "" {
			return fmt.Errorf("--user is required")
		}
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		setupLogging(cfg.Log.Level)

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		a, err := buildApp(ctx, cfg, os.Stderr)
		if err != nil {
			return err
		}
		defer a.Close()

		stdio := server.NewStdioServer(api.NewOwnerMCPServer(a.deps, user))
		if err := stdio.Listen(ctx, os.Stdin, os.Stdout); err != nil && !errors.Is(err, context.Canceled) {
			return fmt.Errorf("MCP stdio server: %w", err)
		}
		return nil
	},
}

func init() {
	mcpCmd.Flags().String("user", "", "owner user id the tools act for")
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
		cfg, err := config.LoadPublic()
		if err != nil {
			return err
		}

		for _, k := range config.ShowAll(cfg) {
			fmt.Fprintf(stdout, "  %s = %s\n", colorize(colorBold, k.Key), k.Value)
		}
		return nil
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a configuration value",
	Long:  "Set a configuration value. Valid keys: " + strings.Join(config.ValidKeys(), ", "),
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, value := args[0], args[1]

		if err := config.SetKey(key, value); err != nil {
			return err
		}

		printSuccess("Set %s = %s", key, value)
		return nil
	},
}

var configUnsetCmd = &cobra.Command{
	Use:   "unset <key>",
	Short: "Remove a stored configuration value",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := config.UnsetKey(args[0]); err != nil {
			return err
		}
		printSuccess("Unset %s", args[0])
		return nil
	},
}

func init() {
	configCmd.AddCommand(configShowCmd, configSetCmd, configUnsetCmd)
}

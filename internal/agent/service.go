// Package agent runs chat turns against a configured agent: it assembles the
// agent's tools, composes the system prompt and drives the completion model.
package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"slices"

	"golang.org/x/sync/errgroup"

	"github.com/kalambet/stackpilot/internal/composer"
	"github.com/kalambet/stackpilot/internal/llm"
	"github.com/kalambet/stackpilot/internal/metrics"
	"github.com/kalambet/stackpilot/internal/storage"
	"github.com/kalambet/stackpilot/internal/tools"
)

// Apology is the reply text used when the completion model fails.
const Apology = "I apologize, but I'm having trouble processing your request right now."

// ErrToolsRequireComplete is returned by Stream for sessions with tools.
var ErrToolsRequireComplete = errors.New("agent has tools; complete response required")

// Completer is the part of the completion client the service uses.
type Completer interface {
	Complete(ctx context.Context, req llm.Request) (*llm.Response, error)
	Stream(ctx context.Context, req llm.Request) (io.ReadCloser, error)
}

// ToolConfigs loads an owner's tool configurations.
type ToolConfigs interface {
	ListToolConfigs(ctx context.Context, userID string) ([]storage.ToolConfig, error)
}

// QueryExtractor turns a message into a search query for a named tool.
type QueryExtractor interface {
	SearchQueryFor(ctx context.Context, message, toolName string) string
}

// Settings tune the completion calls.
type Settings struct {
	Model       string
	Temperature float64
	MaxTokens   int
	MaxSteps    int
}

// DefaultSettings returns the settings used when none are configured.
func DefaultSettings() Settings {
	return Settings{Model: "gpt-4o-mini", Temperature: 0.7, MaxTokens: 2000, MaxSteps: 5}
}

// Deps are the collaborators of a Service. Knowledge, Extractor and Metrics
// may be nil.
type Deps struct {
	Store     ToolConfigs
	LLM       Completer
	Tools     tools.Options
	Knowledge tools.KnowledgeSearcher
	Extractor QueryExtractor
	Metrics   *metrics.Metrics
	Settings  Settings
	Logger    *slog.Logger
}

// Service answers chat messages on behalf of agents.
type Service struct {
	store     ToolConfigs
	llm       Completer
	toolOpts  tools.Options
	knowledge tools.KnowledgeSearcher
	extractor QueryExtractor
	metrics   *metrics.Metrics
	settings  Settings
	logger    *slog.Logger
}

// NewService creates a Service. Zero Settings fall back to DefaultSettings;
// otherwise only the unset model and limits are filled in, and a temperature
// of 0 is kept.
func NewService(d Deps) *Service {
	def := DefaultSettings()
	s := d.Settings
	if s == (Settings{}) {
		s = def
	}
	if s.Model == "" {
		s.Model = def.Model
	}
	if s.MaxTokens <= 0 {
		s.MaxTokens = def.MaxTokens
	}
	if s.MaxSteps <= 0 {
		s.MaxSteps = def.MaxSteps
	}
	logger := d.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if d.Tools.Logger == nil {
		d.Tools.Logger = logger
	}
	return &Service{
		store:     d.Store,
		llm:       d.LLM,
		toolOpts:  d.Tools,
		knowledge: d.Knowledge,
		extractor: d.Extractor,
		metrics:   d.Metrics,
		settings:  s,
		logger:    logger,
	}
}

// Session is an agent prepared for one request.
type Session struct {
	Agent        storage.Agent
	Tools        map[string]tools.Tool
	SystemPrompt string
}

// HasTools reports whether the completion model may call tools.
func (s *Session) HasTools() bool { return len(s.Tools) > 0 }

// ToolNames returns the tool names in sorted order.
func (s *Session) ToolNames() []string {
	names := make([]string, 0, len(s.Tools))
	for name := range s.Tools {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

func (s *Session) toolDefs() []llm.ToolDef {
	var defs []llm.ToolDef
	for _, name := range s.ToolNames() {
		t := s.Tools[name]
		defs = append(defs, llm.NewToolDef(name, t.Description(), t.Parameters()))
	}
	return defs
}

// ToolCall is one executed tool call of a reply.
type ToolCall struct {
	ToolCallID string `json:"toolCallId"`
	ToolName   string `json:"toolName"`
	Args       any    `json:"args"`
	Result     any    `json:"result"`
}

// Reply is the outcome of a non-streaming chat turn.
type Reply struct {
	Text      string     `json:"text"`
	ToolCalls []ToolCall `json:"toolCalls"`
	Usage     llm.Usage  `json:"usage"`
	// Failed is set when the completion model failed and Text is the apology.
	Failed bool `json:"-"`
}

// Prepare assembles the agent's tools from its owner's configurations and
// composes the system prompt. Failing to load the configurations is not fatal;
// the session simply has no external tools.
func (s *Service) Prepare(ctx context.Context, agent storage.Agent) (*Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	toolset := map[string]tools.Tool{}
	if agent.UserID != "" && len(agent.Tools) > 0 && s.store != nil {
		configs, err := s.store.ListToolConfigs(ctx, agent.UserID)
		if err != nil {
			s.logger.Warn("loading tool configurations failed", "agent", agent.ID, "error", err)
		} else {
			toolset = tools.Assemble(configs, agent, s.toolOpts)
		}
	}

	hasKnowledge := agent.HasCollections() && s.knowledge != nil
	if hasKnowledge {
		toolset[tools.KnowledgeToolName] = tools.NewKnowledgeSearch(s.knowledge, agent)
	}

	sess := &Session{Agent: agent, Tools: toolset}
	sess.SystemPrompt = composer.SystemPrompt(agent, sess.ToolNames(), hasKnowledge)
	s.logger.Debug("agent session prepared", "agent", agent.ID, "tools", sess.ToolNames())
	return sess, nil
}

func (s *Service) messages(sess *Session, message string, context map[string]any) []llm.Message {
	return []llm.Message{
		{Role: "system", Content: sess.SystemPrompt},
		{Role: "user", Content: composer.UserPrompt(message, context)},
	}
}

func (s *Service) request(msgs []llm.Message, defs []llm.ToolDef, maxTokens int) llm.Request {
	temp := s.settings.Temperature
	if maxTokens <= 0 {
		maxTokens = s.settings.MaxTokens
	}
	return llm.Request{
		Model:       s.settings.Model,
		Messages:    msgs,
		Tools:       defs,
		Temperature: &temp,
		MaxTokens:   maxTokens,
	}
}

// Respond runs a non-streaming turn. Tool calls requested by the model are
// executed between steps, in parallel within one step, for up to MaxSteps
// completions. A completion failure yields the apology text and no error.
func (s *Service) Respond(ctx context.Context, sess *Session, message string, context map[string]any) (Reply, error) {
	msgs := s.messages(sess, message, context)
	defs := sess.toolDefs()
	reply := Reply{ToolCalls: []ToolCall{}}

	for step := 0; step < s.settings.MaxSteps; step++ {
		resp, err := s.llm.Complete(ctx, s.request(msgs, defs, 0))
		if err != nil {
			if ctx.Err() != nil {
				return Reply{}, ctx.Err()
			}
			s.logger.Warn("completion failed", "agent", sess.Agent.ID, "step", step, "error", err)
			s.metrics.CompletionError()
			reply.Text = Apology
			reply.Failed = true
			return reply, nil
		}
		reply.Usage.Add(resp.Usage)
		reply.Text = resp.Content

		if len(resp.ToolCalls) == 0 {
			break
		}

		calls := s.executeAll(ctx, sess, resp.ToolCalls)
		msgs = append(msgs, llm.Message{Role: "assistant", Content: resp.Content, ToolCalls: resp.ToolCalls})
		for _, c := range calls {
			content, err := json.Marshal(c.Result)
			if err != nil {
				content = []byte(fmt.Sprintf(`{"error":%q}`, err.Error()))
			}
			msgs = append(msgs, llm.Message{Role: "tool", ToolCallID: c.ToolCallID, Name: c.ToolName, Content: string(content)})
		}
		reply.ToolCalls = append(reply.ToolCalls, calls...)
	}
	return reply, nil
}

// executeAll runs one step's tool calls concurrently, keeping their order.
func (s *Service) executeAll(ctx context.Context, sess *Session, calls []llm.ToolCall) []ToolCall {
	out := make([]ToolCall, len(calls))
	var g errgroup.Group
	for i, call := range calls {
		g.Go(func() error {
			out[i] = s.execute(ctx, sess, call)
			return nil
		})
	}
	g.Wait()
	return out
}

func (s *Service) execute(ctx context.Context, sess *Session, call llm.ToolCall) ToolCall {
	name := call.Function.Name
	raw := call.RawArgs()
	tc := ToolCall{ToolCallID: call.ID, ToolName: name, Args: raw}

	var args map[string]any
	if err := json.Unmarshal(raw, &args); err == nil {
		tc.Args = args
	}

	tool, ok := sess.Tools[name]
	if !ok {
		tc.Result = map[string]any{"error": "Tool not found: " + name}
		s.metrics.ToolCall(name, "unknown")
		return tc
	}

	result, err := tool.Execute(ctx, raw)
	if err != nil {
		s.logger.Warn("tool execution failed", "tool", name, "error", err)
		tc.Result = map[string]any{"error": err.Error()}
		s.metrics.ToolCall(name, "error")
		return tc
	}
	tc.Result = result
	s.metrics.ToolCall(name, "ok")
	return tc
}

// Stream runs a streaming turn and returns the text deltas. Sessions with
// tools must use Respond instead.
func (s *Service) Stream(ctx context.Context, sess *Session, message string, context map[string]any) (io.ReadCloser, error) {
	if sess.HasTools() {
		return nil, ErrToolsRequireComplete
	}
	req := s.request(s.messages(sess, message, context), nil, 0)
	req.Stream = true
	rc, err := s.llm.Stream(ctx, req)
	if err != nil {
		s.logger.Warn("streaming completion failed", "agent", sess.Agent.ID, "error", err)
		s.metrics.CompletionError()
		return nil, fmt.Errorf("streaming completion: %w", err)
	}
	return rc, nil
}

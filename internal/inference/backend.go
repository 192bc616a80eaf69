// Package inference drives a model provider: single completions, and the
// autonomous tool loop with per-call hooks.
package inference

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/MadnessEngineering/whispermind-conduit/internal/provider"
	"github.com/MadnessEngineering/whispermind-conduit/internal/tools"
)

const (
	// DefaultMaxRounds bounds model calls that may request tools.
	DefaultMaxRounds = 10
	// DefaultTimeout bounds one Generate or Act call.
	DefaultTimeout = 120 * time.Second
)

// ErrTimeout is returned when a call exceeds the backend timeout.
var ErrTimeout = errors.New("inference timed out")

// finalizePrompt is appended when the round budget is spent.
const finalizePrompt = "Tool budget exhausted. Answer the original request now using the results above, without calling tools."

// Options configure a Backend.
type Options struct {
	MaxRounds int
	Timeout   time.Duration
}

// Backend runs completions against a provider with an optional tool registry.
type Backend struct {
	provider  provider.LLMProvider
	registry  *tools.Registry
	maxRounds int
	timeout   time.Duration
}

// New creates a Backend. A nil registry disables tools for Act.
func New(p provider.LLMProvider, registry *tools.Registry, opts Options) *Backend {
	if opts.MaxRounds <= 0 {
		opts.MaxRounds = DefaultMaxRounds
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if registry == nil {
		registry = tools.NewRegistry()
	}
	return &Backend{provider: p, registry: registry, maxRounds: opts.MaxRounds, timeout: opts.Timeout}
}

// Request is one call's prompt and sampling parameters.
type Request struct {
	Messages    []provider.Message
	Model       string
	Temperature float64
	MaxTokens   int
}

// Result is a finished call.
type Result struct {
	Text  string
	Model string
	// Calls counts model invocations, including the final tool-free one.
	Calls int
	Usage provider.Usage
}

// Hooks observe an autonomous run. Any hook may be nil. Hooks run on the
// calling goroutine, in order.
type Hooks struct {
	// OnMessage receives assistant text that accompanies tool calls.
	OnMessage func(text string)
	// OnToolCall fires before a tool runs.
	OnToolCall func(call provider.ToolCall)
	// OnToolResult fires after a tool returns.
	OnToolResult func(call provider.ToolCall, result tools.Result)
}

// Model returns the model name calls default to.
func (b *Backend) Model() string {
	return b.provider.DefaultModel()
}

// ToolNames lists the tools offered to the model in Act.
func (b *Backend) ToolNames() []string {
	return b.registry.Names()
}

// Ping checks the provider.
func (b *Backend) Ping(ctx context.Context) error {
	return b.provider.Ping(ctx)
}

// Generate performs one completion without tools.
func (b *Backend) Generate(ctx context.Context, req Request) (*Result, error) {
	ctx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()

	resp, err := b.chat(ctx, req, req.Messages, nil)
	if err != nil {
		return nil, err
	}
	res := &Result{Text: resp.Content, Model: b.modelOf(req, resp), Calls: 1}
	addUsage(&res.Usage, resp.Usage)
	return res, nil
}

// Act runs the tool loop: the model may call tools for up to MaxRounds
// calls, after which one tool-free call forces a final answer.
func (b *Backend) Act(ctx context.Context, req Request, hooks Hooks) (*Result, error) {
	ctx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()

	toolDefs := b.buildToolDefinitions()
	messages := append([]provider.Message(nil), req.Messages...)
	res := &Result{}

	for i := 0; i < b.maxRounds; i++ {
		resp, err := b.chat(ctx, req, messages, toolDefs)
		if err != nil {
			return nil, err
		}
		res.Calls++
		res.Model = b.modelOf(req, resp)
		addUsage(&res.Usage, resp.Usage)

		if len(resp.ToolCalls) == 0 {
			res.Text = resp.Content
			return res, nil
		}

		if hooks.OnMessage != nil && strings.TrimSpace(resp.Content) != "" {
			hooks.OnMessage(resp.Content)
		}

		// Add assistant message with tool calls
		messages = append(messages, provider.Message{
			Role:      provider.RoleAssistant,
			Content:   resp.Content,
			ToolCalls: resp.ToolCalls,
		})

		for _, tc := range resp.ToolCalls {
			if err := ctx.Err(); err != nil {
				return nil, b.ctxErr(err)
			}
			if hooks.OnToolCall != nil {
				hooks.OnToolCall(tc)
			}
			toolStart := time.Now()
			result := b.registry.Execute(ctx, tc.Name, tc.Arguments)
			if hooks.OnToolResult != nil {
				hooks.OnToolResult(tc, result)
			}

			messages = append(messages, provider.Message{
				Role:       provider.RoleTool,
				Content:    encodeResult(result),
				ToolCallID: tc.ID,
			})
			slog.Debug("Tool executed", "name", tc.Name, "duration_ms", time.Since(toolStart).Milliseconds())
		}
	}

	slog.Info("Tool round limit reached, requesting final answer", "max_rounds", b.maxRounds)
	messages = append(messages, provider.Message{Role: provider.RoleUser, Content: finalizePrompt})
	resp, err := b.chat(ctx, req, messages, nil)
	if err != nil {
		return nil, err
	}
	res.Calls++
	res.Model = b.modelOf(req, resp)
	res.Text = resp.Content
	addUsage(&res.Usage, resp.Usage)
	return res, nil
}

func (b *Backend) chat(ctx context.Context, req Request, messages []provider.Message, toolDefs []provider.ToolDefinition) (*provider.ChatResponse, error) {
	resp, err := b.provider.Chat(ctx, &provider.ChatRequest{
		Messages:    messages,
		Tools:       toolDefs,
		Model:       req.Model,
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
	})
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, b.ctxErr(ctxErr)
		}
		if provider.IsTimeout(err) {
			return nil, fmt.Errorf("%w: %v", ErrTimeout, err)
		}
		return nil, fmt.Errorf("LLM call failed: %w", err)
	}
	return resp, nil
}

func (b *Backend) ctxErr(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w after %s", ErrTimeout, b.timeout)
	}
	return err
}

func (b *Backend) modelOf(req Request, resp *provider.ChatResponse) string {
	switch {
	case resp.Model != "":
		return resp.Model
	case req.Model != "":
		return req.Model
	default:
		return b.provider.DefaultModel()
	}
}

func (b *Backend) buildToolDefinitions() []provider.ToolDefinition {
	defs := b.registry.Definitions()
	out := make([]provider.ToolDefinition, len(defs))
	for i, d := range defs {
		out[i] = provider.ToolDefinition{
			Type: "function",
			Function: provider.FunctionDef{
				Name:        d.Name,
				Description: d.Description,
				Parameters:  d.Parameters,
			},
		}
	}
	return out
}

func encodeResult(r tools.Result) string {
	data, err := json.Marshal(r)
	if err != nil {
		return fmt.Sprintf(`{"error":%q}`, "unencodable tool result: "+err.Error())
	}
	return string(data)
}

func addUsage(dst *provider.Usage, u provider.Usage) {
	dst.PromptTokens += u.PromptTokens
	dst.CompletionTokens += u.CompletionTokens
	dst.TotalTokens += u.TotalTokens
}

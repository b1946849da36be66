package api

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/paperlens/paperlens/internal/paper"
	"github.com/paperlens/paperlens/internal/review"
)

// NewMCPServer creates an MCP server exposing the paper pipeline as tools,
// so agent clients can analyze, question, and review papers over stdio.
func NewMCPServer(deps Deps) *server.MCPServer {
	s := server.NewMCPServer(
		"paperlens",
		"1.0.0",
		server.WithToolCapabilities(true),
		server.WithInstructions("paperlens: AI analysis, grounded Q&A, and literature reviews over research papers."),
		server.WithRecovery(),
	)

	s.AddTool(
		mcp.NewTool("analyze_paper",
			mcp.WithDescription("Produce a structured overview analysis of a paper. Set deep=true for the multi-section in-depth analysis."),
			mcp.WithString("paper_id", mcp.Description("Paper identifier"), mcp.Required()),
			mcp.WithBoolean("deep", mcp.Description("Also produce the in-depth analysis (slower)")),
		),
		mcpAnalyzePaper(deps),
	)

	s.AddTool(
		mcp.NewTool("ask_paper",
			mcp.WithDescription("Answer a question about a paper, grounded in the paper's content."),
			mcp.WithString("paper_id", mcp.Description("Paper identifier"), mcp.Required()),
			mcp.WithString("question", mcp.Description("The question to answer"), mcp.Required()),
		),
		mcpAskPaper(deps),
	)

	s.AddTool(
		mcp.NewTool("generate_review",
			mcp.WithDescription("Synthesize a literature review across multiple papers. Runs as a background task; returns a task id to poll with task_status."),
			mcp.WithString("topic", mcp.Description("Review topic"), mcp.Required()),
			mcp.WithArray("paper_ids", mcp.Description("Paper identifiers to review"), mcp.Required()),
		),
		mcpGenerateReview(deps),
	)

	s.AddTool(
		mcp.NewTool("task_status",
			mcp.WithDescription("Check the status of a background task."),
			mcp.WithString("task_id", mcp.Description("Task identifier"), mcp.Required()),
		),
		mcpTaskStatus(deps),
	)

	return s
}

func mcpResolve(ctx context.Context, deps Deps, paperID string) (*paper.Document, paper.Metadata, error) {
	raw, meta, err := deps.Source.Fetch(ctx, paperID)
	if err != nil {
		return nil, paper.Metadata{}, err
	}
	return paper.NewDocument(paperID, meta.Source, raw), meta, nil
}

func mcpAnalyzePaper(deps Deps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		paperID, err := req.RequireString("paper_id")
		if err != nil {
			return mcpError("paper_id is required"), nil
		}
		deep := req.GetBool("deep", false)

		doc, meta, err := mcpResolve(ctx, deps, paperID)
		if err != nil {
			return mcpError(fmt.Sprintf("could not load paper: %v", err)), nil
		}

		var rec any
		if deep {
			rec, err = deps.Analyses.Deepen(ctx, doc, meta)
		} else {
			rec, err = deps.Analyses.Analyze(ctx, doc, meta, false)
		}
		if err != nil {
			return mcpError(fmt.Sprintf("analysis failed: %v", err)), nil
		}

		b, err := json.Marshal(rec)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal analysis: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

// mcpAskPaper drains the chat stream into one response; MCP tool calls are
// request/response, so streaming collapses to the assembled answer.
func mcpAskPaper(deps Deps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		paperID, err := req.RequireString("paper_id")
		if err != nil {
			return mcpError("paper_id is required"), nil
		}
		question, err := req.RequireString("question")
		if err != nil {
			return mcpError("question is required"), nil
		}

		doc, _, err := mcpResolve(ctx, deps, paperID)
		if err != nil {
			return mcpError(fmt.Sprintf("could not load paper: %v", err)), nil
		}

		events, err := deps.Chat.Stream(ctx, doc, question, nil)
		if err != nil {
			return mcpError(fmt.Sprintf("chat failed: %v", err)), nil
		}

		var sb strings.Builder
		contextFree := false
		first := true
		for ev := range events {
			if ev.Done {
				if ev.Err != nil {
					return mcpError(fmt.Sprintf("chat interrupted: %v", ev.Err)), nil
				}
				break
			}
			if first {
				contextFree = ev.ContextFree
				first = false
				continue
			}
			sb.WriteString(ev.Token)
		}

		answer := sb.String()
		if contextFree {
			answer = "[answered without paper context]\n" + answer
		}
		return mcpText(answer), nil
	}
}

func mcpGenerateReview(deps Deps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		topic, err := req.RequireString("topic")
		if err != nil {
			return mcpError("topic is required"), nil
		}
		ids := req.GetStringSlice("paper_ids", nil)
		if len(ids) == 0 {
			return mcpError("paper_ids is required and must not be empty"), nil
		}
		if len(ids) > review.MaxPapers {
			return mcpError(fmt.Sprintf("too many papers: %d exceeds limit of %d", len(ids), review.MaxPapers)), nil
		}

		papers := make([]review.Paper, 0, len(ids))
		for _, id := range ids {
			doc, meta, err := mcpResolve(ctx, deps, id)
			if err != nil {
				return mcpError(fmt.Sprintf("could not load paper %s: %v", id, err)), nil
			}
			papers = append(papers, review.Paper{Doc: doc, Meta: meta})
		}

		taskID := deps.Tasks.Submit("mcp", func(ctx context.Context) (any, error) {
			return deps.Reviews.Synthesize(ctx, topic, papers)
		})
		return mcpText(fmt.Sprintf(`{"task_id":%q}`, taskID)), nil
	}
}

func mcpTaskStatus(deps Deps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		taskID, err := req.RequireString("task_id")
		if err != nil {
			return mcpError("task_id is required"), nil
		}

		snap, err := deps.Tasks.Poll(taskID)
		if err != nil {
			return mcpError("task not found"), nil
		}
		b, err := json.Marshal(snap)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal task: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpText(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: text},
		},
	}
}

func mcpError(msg string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: msg},
		},
		IsError: true,
	}
}

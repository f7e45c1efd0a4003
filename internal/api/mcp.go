package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/inward-app/inward/internal/coaching"
	"github.com/inward-app/inward/internal/profile"
)

// MCPDeps holds dependencies for the MCP server. The chat coach consumes the
// engine over this surface: it fetches ranked protocols before composing a
// reply, reports the user's reaction afterwards, and reads the merged
// adjustments to tune its tone and pacing.
type MCPDeps struct {
	Coach    *coaching.Coach
	Profiles *profile.Manager
}

// NewMCPServer creates an MCP server with the coaching tools and resources registered.
func NewMCPServer(deps MCPDeps) *server.MCPServer {
	s := server.NewMCPServer(
		"inward",
		"1.0.0",
		server.WithToolCapabilities(true),
		server.WithResourceCapabilities(false, true),
		server.WithInstructions("inward — adaptive coaching engine: protocol recommendations, feedback learning, and coaching adjustments."),
		server.WithRecovery(),
	)

	s.AddTool(
		mcp.NewTool("get_recommendations",
			mcp.WithDescription("Score the protocol catalog against the user's current emotional state and return ranked interventions."),
			mcp.WithString("user_id", mcp.Description("User to score for"), mcp.Required()),
			mcp.WithArray("emotions", mcp.Description("Current emotion tags, e.g. [\"anxious\"]")),
			mcp.WithArray("conditions", mcp.Description("Current condition tags, e.g. [\"stress\"]")),
			mcp.WithArray("mood_indicators", mcp.Description("Current mood-indicator tags, e.g. [\"low_energy\"]")),
		),
		mcpGetRecommendations(deps),
	)

	s.AddTool(
		mcp.NewTool("record_feedback",
			mcp.WithDescription("Record the user's reaction to a presented intervention so future recommendations adapt."),
			mcp.WithString("user_id", mcp.Description("User the feedback belongs to"), mcp.Required()),
			mcp.WithString("intervention_type", mcp.Description("Category of the presented intervention"), mcp.Required()),
			mcp.WithNumber("satisfaction", mcp.Description("Rating 1-5"), mcp.Required()),
			mcp.WithString("notes", mcp.Description("Optional free-text notes")),
		),
		mcpRecordFeedback(deps),
	)

	s.AddTool(
		mcp.NewTool("get_adjustments",
			mcp.WithDescription("Resolve the merged coaching adjustments (tone, pacing, protocol preference) for a user."),
			mcp.WithString("user_id", mcp.Description("User to resolve adjustments for"), mcp.Required()),
		),
		mcpGetAdjustments(deps),
	)

	s.AddTool(
		mcp.NewTool("get_learning_profile",
			mcp.WithDescription("Read a user's learning profile: effective intervention types, success rates, and learning confidence."),
			mcp.WithString("user_id", mcp.Description("User to read"), mcp.Required()),
		),
		mcpGetLearningProfile(deps),
	)

	return s
}

func mcpGetRecommendations(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		userID, err := req.RequireString("user_id")
		if err != nil {
			return mcpError("user_id is required"), nil
		}

		uctx := coaching.UserContext{
			Emotions:       req.GetStringSlice("emotions", nil),
			Conditions:     req.GetStringSlice("conditions", nil),
			MoodIndicators: req.GetStringSlice("mood_indicators", nil),
		}

		recs, err := deps.Coach.Recommend(ctx, userID, uctx)
		if err != nil {
			return mcpError(fmt.Sprintf("scoring failed: %v", err)), nil
		}

		b, err := json.Marshal(recs)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal recommendations: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpRecordFeedback(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		userID, err := req.RequireString("user_id")
		if err != nil {
			return mcpError("user_id is required"), nil
		}
		interventionType, err := req.RequireString("intervention_type")
		if err != nil {
			return mcpError("intervention_type is required"), nil
		}
		satisfaction, err := req.RequireInt("satisfaction")
		if err != nil {
			return mcpError("satisfaction is required and must be an integer"), nil
		}

		ev := coaching.FeedbackEvent{
			InterventionType: interventionType,
			Satisfaction:     satisfaction,
			Notes:            req.GetString("notes", ""),
		}

		updated, err := deps.Coach.RecordFeedback(ctx, userID, ev)
		if err != nil {
			return mcpError(fmt.Sprintf("recording feedback failed: %v", err)), nil
		}

		return mcpText(fmt.Sprintf("Recorded. %d interactions, learning confidence %.2f.",
			updated.TotalInteractions, updated.LearningConfidence)), nil
	}
}

func mcpGetAdjustments(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		userID, err := req.RequireString("user_id")
		if err != nil {
			return mcpError("user_id is required"), nil
		}

		adj, err := deps.Coach.Adjustments(ctx, userID)
		if err != nil {
			return mcpError(fmt.Sprintf("resolving adjustments failed: %v", err)), nil
		}

		b, err := json.Marshal(adj)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal adjustments: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpGetLearningProfile(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		userID, err := req.RequireString("user_id")
		if err != nil {
			return mcpError("user_id is required"), nil
		}

		p, err := deps.Profiles.Get(userID)
		if errors.Is(err, profile.ErrNotFound) {
			return mcpText(`{"exists": false}`), nil
		}
		if err != nil {
			return mcpError(fmt.Sprintf("loading profile failed: %v", err)), nil
		}

		b, err := json.Marshal(p)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal profile: %v", err)), nil
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

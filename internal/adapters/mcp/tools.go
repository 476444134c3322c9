package mcpadapter

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/kirillkom/medguide-rag/internal/core/domain"
)

type searchArgs struct {
	Query          string   `json:"query"`
	TopK           int      `json:"top_k"`
	Society        string   `json:"society"`
	Year           int      `json:"year"`
	BM25Weight     *float64 `json:"bm25_weight"`
	SemanticWeight *float64 `json:"semantic_weight"`
}

type safetyArgs struct {
	RecommendationText     string                `json:"recommendation_text"`
	Patient                domain.PatientProfile `json:"patient_profile"`
	CheckInteractions      *bool                 `json:"check_interactions"`
	CheckContraindications *bool                 `json:"check_contraindications"`
}

type answerArgs struct {
	Question string                 `json:"question"`
	TopK     int                    `json:"top_k"`
	Society  string                 `json:"society"`
	Year     int                    `json:"year"`
	Patient  *domain.PatientProfile `json:"patient_profile"`
}

func (s *Server) registerTools() {
	s.mcp.AddTool(mcp.NewTool("guideline_search",
		mcp.WithDescription("Hybrid BM25 and semantic search over ingested cardiovascular guidelines. Returns ranked evidence chunks with their parent context."),
		mcp.WithString("query", mcp.Required(), mcp.Description("Clinical question or keywords")),
		mcp.WithNumber("top_k", mcp.Description("Number of results (default from server configuration)")),
		mcp.WithString("society", mcp.Description("Restrict to guidelines from this society, e.g. ESC")),
		mcp.WithNumber("year", mcp.Description("Restrict to guidelines published in this year")),
		mcp.WithNumber("bm25_weight", mcp.Description("Weight of the lexical score")),
		mcp.WithNumber("semantic_weight", mcp.Description("Weight of the semantic score")),
	), s.handleSearch)

	s.mcp.AddTool(mcp.NewTool("verify_answer",
		mcp.WithDescription("Checks every statement of an answer against evidence chunks and reports a hallucination risk."),
		mcp.WithString("answer_text", mcp.Required(), mcp.Description("Answer text to verify")),
		mcp.WithArray("chunk_ids", mcp.WithStringItems(), mcp.Description("Ids of chunks in the active snapshot to use as evidence")),
		mcp.WithArray("evidence_chunks", mcp.Description("Inline evidence as objects with id and text"),
			mcp.Items(map[string]any{
				"type": "object",
				"properties": map[string]any{
					"id":   map[string]any{"type": "string"},
					"text": map[string]any{"type": "string"},
				},
				"required": []string{"id", "text"},
			}),
		),
	), s.handleVerify)

	s.mcp.AddTool(mcp.NewTool("validate_safety",
		mcp.WithDescription("Screens a medication recommendation for interactions, contraindications, allergies and dosing against a patient profile."),
		mcp.WithString("recommendation_text", mcp.Required(), mcp.Description("Recommendation to screen")),
		mcp.WithObject("patient_profile", mcp.Description("age, gender, weight, conditions, medications, allergies, kidney_function, liver_function, pregnant")),
		mcp.WithBoolean("check_interactions", mcp.Description("Check drug interactions (default true)")),
		mcp.WithBoolean("check_contraindications", mcp.Description("Check contraindications (default true)")),
	), s.handleSafety)

	s.mcp.AddTool(mcp.NewTool("guideline_status",
		mcp.WithDescription("Reports the active snapshot: generation, chunk counts and ingested guidelines."),
	), s.handleStatus)

	if s.ports.Answerer != nil {
		s.mcp.AddTool(mcp.NewTool("answer_question",
			mcp.WithDescription("Answers a clinical question from guideline evidence and verifies the answer."),
			mcp.WithString("question", mcp.Required(), mcp.Description("Clinical question")),
			mcp.WithNumber("top_k", mcp.Description("Evidence chunks to retrieve")),
			mcp.WithString("society", mcp.Description("Restrict evidence to this society")),
			mcp.WithNumber("year", mcp.Description("Restrict evidence to this year")),
			mcp.WithObject("patient_profile", mcp.Description("Optional profile; enables safety screening of the answer")),
		), s.handleAnswer)
	}
}

func (s *Server) handleSearch(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var args searchArgs
	if err := request.BindArguments(&args); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("invalid arguments: %v", err)), nil
	}
	req := domain.SearchRequest{
		Query:  args.Query,
		TopK:   args.TopK,
		Filter: domain.SearchFilter{Society: args.Society, Year: args.Year},
	}
	if args.BM25Weight != nil || args.SemanticWeight != nil {
		weights := domain.DefaultFusionWeights()
		if args.BM25Weight != nil {
			weights.BM25 = *args.BM25Weight
		}
		if args.SemanticWeight != nil {
			weights.Semantic = *args.SemanticWeight
		}
		req.Weights = &weights
	}

	resp, err := s.ports.Searcher.Search(ctx, req)
	return s.result("guideline_search", resp, err)
}

func (s *Server) handleVerify(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var req domain.VerifyRequest
	if err := request.BindArguments(&req); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("invalid arguments: %v", err)), nil
	}
	res, err := s.ports.Verifier.Verify(ctx, req)
	return s.result("verify_answer", res, err)
}

func (s *Server) handleSafety(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var args safetyArgs
	if err := bindStrict(request, &args); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("invalid arguments: %v", err)), nil
	}
	req := domain.SafetyRequest{
		RecommendationText:     args.RecommendationText,
		Patient:                args.Patient,
		CheckInteractions:      args.CheckInteractions == nil || *args.CheckInteractions,
		CheckContraindications: args.CheckContraindications == nil || *args.CheckContraindications,
	}
	res, err := s.ports.Safety.Validate(ctx, req)
	return s.result("validate_safety", res, err)
}

func (s *Server) handleStatus(_ context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return s.result("guideline_status", s.ports.Inspector.Status(), nil)
}

func (s *Server) handleAnswer(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var args answerArgs
	if err := bindStrict(request, &args); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("invalid arguments: %v", err)), nil
	}
	res, err := s.ports.Answerer.Answer(ctx, domain.AnswerRequest{
		Question: args.Question,
		TopK:     args.TopK,
		Filter:   domain.SearchFilter{Society: args.Society, Year: args.Year},
		Patient:  args.Patient,
	})
	return s.result("answer_question", res, err)
}

// bindStrict rejects argument keys the tool does not declare, so a misspelled
// patient field fails the call instead of reading as unknown.
func bindStrict(request mcp.CallToolRequest, target any) error {
	raw, err := json.Marshal(request.GetRawArguments())
	if err != nil {
		return err
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	return dec.Decode(target)
}

// result reports domain errors as tool errors so the client model can react;
// only an unencodable payload fails the call itself.
func (s *Server) result(tool string, payload any, err error) (*mcp.CallToolResult, error) {
	if err != nil {
		level := s.logger.Warn
		if !domain.IsKind(err, domain.ErrInvalidInput) {
			level = s.logger.Error
		}
		level("mcp_tool_failed", "tool", tool, "error", err)
		return mcp.NewToolResultError(err.Error()), nil
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("%s: encode result: %w", tool, err)
	}
	return mcp.NewToolResultText(string(raw)), nil
}

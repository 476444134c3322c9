package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/kirillkom/medguide-rag/internal/core/domain"
)

func (c *cli) searchCmd() *cobra.Command {
	var (
		topK           int
		society        string
		year           int
		bm25Weight     float64
		semanticWeight float64
	)
	cmd := &cobra.Command{
		Use:   "search QUERY",
		Short: "Hybrid BM25 and semantic search over the snapshot",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			local, err := c.open(cmd.Context())
			if err != nil {
				return err
			}
			defer local.Close()

			req := domain.SearchRequest{
				Query:  strings.Join(args, " "),
				TopK:   topK,
				Filter: domain.SearchFilter{Society: society, Year: year},
			}
			if cmd.Flags().Changed("bm25-weight") || cmd.Flags().Changed("semantic-weight") {
				weights := domain.DefaultFusionWeights()
				if cmd.Flags().Changed("bm25-weight") {
					weights.BM25 = bm25Weight
				}
				if cmd.Flags().Changed("semantic-weight") {
					weights.Semantic = semanticWeight
				}
				req.Weights = &weights
			}

			resp, err := local.Search.Search(cmd.Context(), req)
			if err != nil {
				return err
			}
			return c.printJSON(resp)
		},
	}
	cmd.Flags().IntVar(&topK, "top-k", 0, "number of results (default from config)")
	cmd.Flags().StringVar(&society, "society", "", "restrict to one society")
	cmd.Flags().IntVar(&year, "year", 0, "restrict to one publication year")
	cmd.Flags().Float64Var(&bm25Weight, "bm25-weight", 0, "lexical score weight")
	cmd.Flags().Float64Var(&semanticWeight, "semantic-weight", 0, "semantic score weight")
	return cmd
}

func (c *cli) verifyCmd() *cobra.Command {
	var (
		answer     string
		answerFile string
		chunkIDs   []string
	)
	cmd := &cobra.Command{
		Use:   "verify",
		Short: "Check an answer statement by statement against snapshot chunks",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if answerFile != "" {
				raw, err := c.readArg(answerFile)
				if err != nil {
					return err
				}
				answer = string(raw)
			}

			local, err := c.open(cmd.Context())
			if err != nil {
				return err
			}
			defer local.Close()

			req := domain.VerifyRequest{AnswerText: answer, ChunkIDs: chunkIDs}
			if len(chunkIDs) == 0 {
				if snap := local.Engine.Current(); snap != nil {
					req.Evidence = snap.Chunks()
				}
			}
			res, err := local.Verify.Verify(cmd.Context(), req)
			if err != nil {
				return err
			}
			return c.printJSON(res)
		},
	}
	cmd.Flags().StringVar(&answer, "answer", "", "answer text")
	cmd.Flags().StringVar(&answerFile, "answer-file", "", `read the answer from a file ("-" for stdin)`)
	cmd.Flags().StringSliceVar(&chunkIDs, "chunk-id", nil, "evidence chunk id (repeatable; default: every chunk)")
	cmd.MarkFlagsMutuallyExclusive("answer", "answer-file")
	return cmd
}

func (c *cli) safetyCmd() *cobra.Command {
	var (
		text                string
		profile             string
		skipInteractions    bool
		skipContraindicated bool
	)
	cmd := &cobra.Command{
		Use:   "safety",
		Short: "Screen a recommendation against a patient profile",
		RunE: func(cmd *cobra.Command, _ []string) error {
			var patient domain.PatientProfile
			if profile != "" {
				raw := []byte(profile)
				if strings.HasPrefix(profile, "@") {
					var err error
					if raw, err = c.readArg(strings.TrimPrefix(profile, "@")); err != nil {
						return err
					}
				}
				dec := json.NewDecoder(bytes.NewReader(raw))
				dec.DisallowUnknownFields()
				if err := dec.Decode(&patient); err != nil {
					return fmt.Errorf("decode patient profile: %w", err)
				}
			}

			local, err := c.open(cmd.Context())
			if err != nil {
				return err
			}
			defer local.Close()

			res, err := local.Safety.Validate(cmd.Context(), domain.SafetyRequest{
				RecommendationText:     text,
				Patient:                patient,
				CheckInteractions:      !skipInteractions,
				CheckContraindications: !skipContraindicated,
			})
			if err != nil {
				return err
			}
			return c.printJSON(res)
		},
	}
	cmd.Flags().StringVar(&text, "text", "", "recommendation text")
	cmd.Flags().StringVar(&profile, "profile", "", `patient profile JSON, or @file ("@-" for stdin)`)
	cmd.Flags().BoolVar(&skipInteractions, "skip-interactions", false, "do not check drug interactions")
	cmd.Flags().BoolVar(&skipContraindicated, "skip-contraindications", false, "do not check contraindications")
	_ = cmd.MarkFlagRequired("text")
	return cmd
}

// readArg reads a file, or stdin when path is "-".
func (c *cli) readArg(path string) ([]byte, error) {
	if path == "-" {
		return io.ReadAll(c.in)
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return raw, nil
}

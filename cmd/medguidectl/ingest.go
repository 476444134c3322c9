package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/kirillkom/medguide-rag/internal/bootstrap"
	"github.com/kirillkom/medguide-rag/internal/core/domain"
)

type ingestFlags struct {
	id       string
	society  string
	year     int
	title    string
	topic    string
	fromJSON string
}

func (c *cli) ingestCmd() *cobra.Command {
	var f ingestFlags
	cmd := &cobra.Command{
		Use:   "ingest [file...]",
		Short: "Ingest PDF or text guidelines and rebuild the snapshot",
		Long: `Ingest extracts pages from each PDF or text file and rebuilds the snapshot
with them. Text files split pages on form feeds. Documents already in the
snapshot with identical content are left untouched.

With --from-json the documents are read as {"documents": [...]} from the
given file, or from stdin when the file is "-".`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if f.fromJSON == "" && len(args) == 0 {
				return fmt.Errorf("ingest: give at least one file or --from-json")
			}
			if f.id != "" && len(args) != 1 {
				return fmt.Errorf("ingest: --id needs exactly one file")
			}

			docs, err := c.readDocuments(cmd, args, f)
			if err != nil {
				return err
			}

			local, err := c.open(cmd.Context())
			if err != nil {
				return err
			}
			defer local.Close()

			report, err := local.Engine.Ingest(cmd.Context(), docs)
			if err != nil {
				return err
			}
			return c.printJSON(report)
		},
	}
	cmd.Flags().StringVar(&f.id, "id", "", "document id (default: file name without extension)")
	cmd.Flags().StringVar(&f.society, "society", "", "issuing society, e.g. ESC")
	cmd.Flags().IntVar(&f.year, "year", 0, "publication year")
	cmd.Flags().StringVar(&f.title, "title", "", "guideline title")
	cmd.Flags().StringVar(&f.topic, "topic", "", "guideline topic")
	cmd.Flags().StringVar(&f.fromJSON, "from-json", "", `read documents from a JSON file ("-" for stdin)`)
	return cmd
}

func (c *cli) readDocuments(cmd *cobra.Command, files []string, f ingestFlags) ([]domain.DocumentInput, error) {
	var docs []domain.DocumentInput
	if f.fromJSON != "" {
		var src io.Reader = c.in
		if f.fromJSON != "-" {
			file, err := os.Open(f.fromJSON)
			if err != nil {
				return nil, fmt.Errorf("open %s: %w", f.fromJSON, err)
			}
			defer file.Close()
			src = file
		}
		var payload struct {
			Documents []domain.DocumentInput `json:"documents"`
		}
		if err := json.NewDecoder(src).Decode(&payload); err != nil {
			return nil, fmt.Errorf("decode documents: %w", err)
		}
		docs = append(docs, payload.Documents...)
	}

	metadata := f.metadata()
	for _, path := range files {
		doc, err := bootstrap.ReadDocument(cmd.Context(), path, f.id, metadata)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", path, err)
		}
		docs = append(docs, doc)
	}
	return docs, nil
}

func (f ingestFlags) metadata() map[string]string {
	m := map[string]string{}
	if f.society != "" {
		m[domain.MetaSociety] = f.society
	}
	if f.year > 0 {
		m[domain.MetaYear] = strconv.Itoa(f.year)
	}
	if f.title != "" {
		m[domain.MetaTitle] = f.title
	}
	if f.topic != "" {
		m[domain.MetaTopic] = f.topic
	}
	if len(m) == 0 {
		return nil
	}
	return m
}

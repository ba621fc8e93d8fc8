package gcp

import (
	"context"
	"fmt"
	"strings"

	documentai "cloud.google.com/go/documentai/apiv1"
	"cloud.google.com/go/documentai/apiv1/documentaipb"
	"google.golang.org/api/option"

	"github.com/9963KK/aiedu-backend/internal/apierr"
	"github.com/9963KK/aiedu-backend/internal/logger"
	"github.com/9963KK/aiedu-backend/internal/types"
	"github.com/9963KK/aiedu-backend/internal/utils"
)

// DocAIClient extracts page text and tables from office documents through
// Google Document AI. It is an alternative document backend to the default
// MinerU one and satisfies the same port.
type DocAIClient struct {
	log           *logger.Logger
	processorName string
	client        *documentai.DocumentProcessorClient
}

func NewDocAIClient(ctx context.Context, log *logger.Logger) (*DocAIClient, error) {
	clientLog := log.With("client", "DocAIClient")
	projectID := utils.GetEnv("DOCAI_PROJECT_ID", "", log)
	location := utils.GetEnv("DOCAI_LOCATION", "us", log)
	processorID := utils.GetEnv("DOCAI_PROCESSOR_ID", "", log)
	if projectID == "" || processorID == "" {
		return nil, apierr.Configuration("DOCAI_PROJECT_ID and DOCAI_PROCESSOR_ID must be set")
	}

	endpoint := fmt.Sprintf("%s-documentai.googleapis.com:443", location)
	client, err := documentai.NewDocumentProcessorClient(ctx, option.WithEndpoint(endpoint))
	if err != nil {
		return nil, apierr.UpstreamCall("create documentai client: %v", err)
	}
	return &DocAIClient{
		log:           clientLog,
		processorName: fmt.Sprintf("projects/%s/locations/%s/processors/%s", projectID, location, processorID),
		client:        client,
	}, nil
}

func (c *DocAIClient) Close() error { return c.client.Close() }

func (c *DocAIClient) ParseDocument(ctx context.Context, content []byte, filename, docType string) (*types.DocumentParseResult, error) {
	req := &documentaipb.ProcessRequest{
		Name: c.processorName,
		Source: &documentaipb.ProcessRequest_RawDocument{
			RawDocument: &documentaipb.RawDocument{
				Content:  content,
				MimeType: docMimeType(filename),
			},
		},
	}
	resp, err := c.client.ProcessDocument(ctx, req)
	if err != nil {
		return nil, apierr.UpstreamCall("documentai process: %v", err)
	}

	doc := resp.GetDocument()
	result := &types.DocumentParseResult{}
	for _, page := range doc.GetPages() {
		result.Pages = append(result.Pages, types.DocumentPage{
			Text: anchorText(doc.GetText(), page.GetLayout().GetTextAnchor()),
		})
		for _, table := range page.GetTables() {
			md := tableMarkdown(doc.GetText(), table)
			if md != "" {
				result.Tables = append(result.Tables, types.DocumentTable{Markdown: md})
			}
		}
	}
	return result, nil
}

func docMimeType(filename string) string {
	lower := strings.ToLower(filename)
	switch {
	case strings.HasSuffix(lower, ".pdf"):
		return "application/pdf"
	case strings.HasSuffix(lower, ".docx"):
		return "application/vnd.openxmlformats-officedocument.wordprocessingml.document"
	case strings.HasSuffix(lower, ".doc"):
		return "application/msword"
	case strings.HasSuffix(lower, ".pptx"):
		return "application/vnd.openxmlformats-officedocument.presentationml.presentation"
	case strings.HasSuffix(lower, ".ppt"):
		return "application/vnd.ms-powerpoint"
	default:
		return "application/pdf"
	}
}

// anchorText resolves a text anchor against the document's full text.
func anchorText(fullText string, anchor *documentaipb.Document_TextAnchor) string {
	if anchor == nil {
		return ""
	}
	var b strings.Builder
	for _, seg := range anchor.GetTextSegments() {
		start, end := seg.GetStartIndex(), seg.GetEndIndex()
		if start < 0 || end > int64(len(fullText)) || start > end {
			continue
		}
		b.WriteString(fullText[start:end])
	}
	return b.String()
}

func tableMarkdown(fullText string, table *documentaipb.Document_Page_Table) string {
	rowLine := func(row *documentaipb.Document_Page_Table_TableRow) string {
		cells := make([]string, 0, len(row.GetCells()))
		for _, cell := range row.GetCells() {
			text := strings.TrimSpace(anchorText(fullText, cell.GetLayout().GetTextAnchor()))
			cells = append(cells, strings.ReplaceAll(text, "\n", " "))
		}
		return "| " + strings.Join(cells, " | ") + " |"
	}

	var lines []string
	for i, row := range table.GetHeaderRows() {
		lines = append(lines, rowLine(row))
		if i == 0 {
			sep := make([]string, len(row.GetCells()))
			for j := range sep {
				sep[j] = "---"
			}
			lines = append(lines, "| "+strings.Join(sep, " | ")+" |")
		}
	}
	for _, row := range table.GetBodyRows() {
		lines = append(lines, rowLine(row))
	}
	if len(lines) == 0 {
		return ""
	}
	return strings.Join(lines, "\n")
}

package controller

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/jomei/notionapi"

	"query-watcher/pkg/explain"
	"query-watcher/pkg/httputil"
	"query-watcher/pkg/monitor"
	"query-watcher/pkg/store"
)

// Notion rejects code blocks over 2000 characters.
const notionCodeBlockLimit = 1999

// notionExportMaxItems caps each page section; a run can hold far more
// findings than a readable page can.
const notionExportMaxItems = 10

// HandleNotionExport publishes a run report as a Notion page
func (c *Controller) HandleNotionExport(w http.ResponseWriter, r *http.Request) {
	if c.store == nil {
		http.Error(w, "Database not available", http.StatusServiceUnavailable)
		return
	}

	vars := mux.Vars(r)
	id, err := strconv.ParseInt(vars["id"], 10, 64)
	if err != nil {
		http.Error(w, "Invalid run ID", http.StatusBadRequest)
		return
	}

	detail, err := c.store.GetRunDetail(id)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if detail == nil {
		http.Error(w, "Run not found", http.StatusNotFound)
		return
	}

	notionAPIKey := os.Getenv("NOTION_API_KEY")
	notionDatabaseID := os.Getenv("NOTION_DATABASE_ID")

	if notionAPIKey == "" {
		http.Error(w, "Notion API key not configured. Set NOTION_API_KEY environment variable.", http.StatusServiceUnavailable)
		return
	}

	if notionDatabaseID == "" {
		http.Error(w, "Notion database ID not configured. Set NOTION_DATABASE_ID environment variable.", http.StatusServiceUnavailable)
		return
	}

	pageURL, err := createNotionPage(notionAPIKey, notionDatabaseID, detail)
	if err != nil {
		http.Error(w, fmt.Sprintf("Failed to create Notion page: %v", err), http.StatusInternalServerError)
		return
	}

	httputil.WriteJSON(w, map[string]string{
		"url":     pageURL,
		"message": "Successfully exported to Notion",
	})
}

func newTextRichText(content string) notionapi.RichText {
	return notionapi.RichText{
		Type:      notionapi.ObjectTypeText,
		PlainText: content,
		Text: &notionapi.Text{
			Content: content,
		},
	}
}

func newHeading2Block(text string) notionapi.Block {
	return &notionapi.Heading2Block{
		BasicBlock: notionapi.BasicBlock{
			Object: notionapi.ObjectTypeBlock,
			Type:   notionapi.BlockTypeHeading2,
		},
		Heading2: notionapi.Heading{
			RichText: []notionapi.RichText{newTextRichText(text)},
		},
	}
}

func newBulletedListItemBlock(text string) notionapi.Block {
	return &notionapi.BulletedListItemBlock{
		BasicBlock: notionapi.BasicBlock{
			Object: notionapi.ObjectTypeBlock,
			Type:   notionapi.BlockTypeBulletedListItem,
		},
		BulletedListItem: notionapi.ListItem{
			RichText: []notionapi.RichText{newTextRichText(text)},
		},
	}
}

func newParagraphBlock(texts ...notionapi.RichText) notionapi.Block {
	return &notionapi.ParagraphBlock{
		BasicBlock: notionapi.BasicBlock{
			Object: notionapi.ObjectTypeBlock,
			Type:   notionapi.BlockTypeParagraph,
		},
		Paragraph: notionapi.Paragraph{
			RichText: texts,
		},
	}
}

func newCodeBlock(content, language string) notionapi.Block {
	return &notionapi.CodeBlock{
		BasicBlock: notionapi.BasicBlock{
			Object: notionapi.ObjectTypeBlock,
			Type:   notionapi.BlockTypeCode,
		},
		Code: notionapi.Code{
			RichText: []notionapi.RichText{newTextRichText(content)},
			Language: language,
		},
	}
}

func newDividerBlock() notionapi.Block {
	return &notionapi.DividerBlock{
		BasicBlock: notionapi.BasicBlock{
			Object: notionapi.ObjectTypeBlock,
			Type:   notionapi.BlockTypeDivider,
		},
		Divider: notionapi.Divider{},
	}
}

func newToggleBlock(title string, children []notionapi.Block) notionapi.Block {
	return &notionapi.ToggleBlock{
		BasicBlock: notionapi.BasicBlock{
			Object: notionapi.ObjectTypeBlock,
			Type:   notionapi.BlockTypeToggle,
		},
		Toggle: notionapi.Toggle{
			RichText: []notionapi.RichText{newTextRichText(title)},
			Children: children,
		},
	}
}

// sqlCodeBlocks splits a formatted statement into code blocks under
// Notion's block size limit.
func sqlCodeBlocks(sql, language string) []notionapi.Block {
	var blocks []notionapi.Block
	statement := ""
	for _, line := range strings.Split(sql, "\n") {
		if len(statement)+len(line) > notionCodeBlockLimit {
			blocks = append(blocks, newCodeBlock(statement, language))
			statement = ""
		}
		statement += line + "\n"
	}
	if statement != "" {
		blocks = append(blocks, newCodeBlock(statement, language))
	}
	return blocks
}

func createNotionPage(apiKey, databaseID string, detail *store.RunDetail) (string, error) {
	run := detail.Run

	label := run.Label
	if label == "" {
		label = run.Source
	}
	if label == "" {
		label = fmt.Sprintf("run %d", run.ID)
	}
	title := fmt.Sprintf("Query Report: %s", label)

	nPlusOne := []store.Finding{}
	slow := []store.Finding{}
	for _, f := range detail.Findings {
		switch f.Kind {
		case monitor.KindNPlusOne:
			nPlusOne = append(nPlusOne, f)
		case monitor.KindSlowQuery:
			slow = append(slow, f)
		}
	}

	var blocks []notionapi.Block

	blocks = append(blocks, newHeading2Block("Run Information"))
	if run.Source != "" {
		blocks = append(blocks, newBulletedListItemBlock(fmt.Sprintf("Source: %s", run.Source)))
	}
	blocks = append(blocks, newBulletedListItemBlock(fmt.Sprintf("Started: %s", run.StartedAt.Format(time.RFC3339))))
	if run.FinishedAt != nil {
		blocks = append(blocks, newBulletedListItemBlock(fmt.Sprintf("Finished: %s", run.FinishedAt.Format(time.RFC3339))))
	}
	blocks = append(blocks, newBulletedListItemBlock(fmt.Sprintf("Total Queries: %d", run.TotalQueries)))
	blocks = append(blocks, newBulletedListItemBlock(fmt.Sprintf("Total Duration: %.2fms", run.TotalDurationMS)))

	if len(nPlusOne) > 0 {
		blocks = append(blocks, newDividerBlock())
		blocks = append(blocks, newHeading2Block(fmt.Sprintf("N+1 Query Findings (%d)", len(nPlusOne))))

		for i, f := range nPlusOne {
			if i == notionExportMaxItems {
				blocks = append(blocks, newParagraphBlock(
					newTextRichText(fmt.Sprintf("... and %d more", len(nPlusOne)-notionExportMaxItems)),
				))
				break
			}

			subject := f.Model
			if subject == "" {
				subject = "Query"
			}
			text := fmt.Sprintf("%s repeated %d times", subject, f.RepeatCount)
			if f.RequestID != "" {
				text += fmt.Sprintf(" | Request: %s", f.RequestID)
			}
			blocks = append(blocks, newBulletedListItemBlock(text))
			blocks = append(blocks, sqlCodeBlocks(explain.FormatSQL(f.SQL), "sql")...)
		}
	}

	if len(slow) > 0 {
		blocks = append(blocks, newDividerBlock())
		blocks = append(blocks, newHeading2Block(fmt.Sprintf("Slow Queries (%d)", len(slow))))

		for i, f := range slow {
			if i == notionExportMaxItems {
				blocks = append(blocks, newParagraphBlock(
					newTextRichText(fmt.Sprintf("... and %d more", len(slow)-notionExportMaxItems)),
				))
				break
			}

			text := fmt.Sprintf("%.1fms", f.DurationMS)
			if f.RequestID != "" {
				text += fmt.Sprintf(" | Request: %s", f.RequestID)
			}
			blocks = append(blocks, newBulletedListItemBlock(text))
			blocks = append(blocks, sqlCodeBlocks(explain.FormatSQL(f.SQL), "sql")...)

			for _, s := range f.Suggestions {
				blocks = append(blocks, newBulletedListItemBlock(s))
			}
		}
	}

	if len(detail.QueryStats) > 0 {
		blocks = append(blocks, newDividerBlock())
		blocks = append(blocks, newHeading2Block("Heaviest Statements"))

		for i, st := range detail.QueryStats {
			if i == notionExportMaxItems {
				break
			}

			summary := fmt.Sprintf("%d calls | %.2fms total | %.2fms avg | %.2fms max",
				st.Calls, st.TotalDurationMS, st.AvgDurationMS, st.MaxDurationMS)
			blocks = append(blocks, newToggleBlock(summary,
				sqlCodeBlocks(explain.FormatSQL(st.SampleSQL), "sql")))
		}
	}

	client := notionapi.NewClient(notionapi.Token(apiKey))

	req := &notionapi.PageCreateRequest{
		Parent: notionapi.Parent{
			Type:       notionapi.ParentTypeDatabaseID,
			DatabaseID: notionapi.DatabaseID(databaseID),
		},
		Properties: notionapi.Properties{
			"Name": notionapi.TitleProperty{
				Type:  notionapi.PropertyTypeTitle,
				Title: []notionapi.RichText{newTextRichText(truncateText(title, 100))},
			},
		},
		Children: blocks,
	}

	page, err := client.Page.Create(context.Background(), req)
	if err != nil {
		return "", fmt.Errorf("failed to create Notion page: %w", err)
	}

	return page.URL, nil
}

func truncateText(text string, maxLen int) string {
	if len(text) <= maxLen {
		return text
	}
	return text[:maxLen-3] + "..."
}

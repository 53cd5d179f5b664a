package tools

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"autodev/internal/research"
	"autodev/internal/source"
)

// BudgetExhaustedResult is what a research tool returns once the run-wide
// query budget is spent. It is a plain tool result, not an error: the model
// learns the tools are capped out and proceeds with what it has.
const BudgetExhaustedResult = "research budget exhausted; no further searches or page reads are available this run"

// ResearchTools registers web_search and read_page over a researcher.
func ResearchTools(registry *Registry, r *research.Researcher) {
	registry.MustRegister(&Tool{
		Name:        "web_search",
		Description: "Search the web. Returns titles, URLs, and snippets of the top results.",
		InputSchema: objectSchema([]string{"query"}, map[string][2]string{
			"query": {"string", "The search query"},
		}),
		Execute: func(ctx context.Context, args map[string]interface{}) (string, error) {
			query, err := stringArg(args, "query")
			if err != nil {
				return "", err
			}
			results, err := r.Search(ctx, query, 8)
			if errors.Is(err, research.ErrBudgetExhausted) {
				return BudgetExhaustedResult, nil
			}
			if err != nil {
				return "", err
			}
			if len(results) == 0 {
				return "no results", nil
			}
			var b strings.Builder
			for i, res := range results {
				fmt.Fprintf(&b, "%d. %s\n   %s\n   %s\n", i+1, res.Title, res.URL, res.Snippet)
			}
			return b.String(), nil
		},
	})

	registry.MustRegister(&Tool{
		Name:        "read_page",
		Description: "Fetch a web page and return its text content.",
		InputSchema: objectSchema([]string{"url"}, map[string][2]string{
			"url": {"string", "The page URL to fetch"},
		}),
		Execute: func(ctx context.Context, args map[string]interface{}) (string, error) {
			url, err := stringArg(args, "url")
			if err != nil {
				return "", err
			}
			content, err := r.ReadPage(ctx, url)
			if errors.Is(err, research.ErrBudgetExhausted) {
				return BudgetExhaustedResult, nil
			}
			if err != nil {
				return "", err
			}
			return content, nil
		},
	})
}

// SourceTools registers the repository tools: list_files and read_file
// always, write_file only when writable. Every path is containment-checked
// by the reader.
func SourceTools(registry *Registry, reader *source.Reader, writable bool, onWrite func(path string)) {
	registry.MustRegister(&Tool{
		Name:        "list_files",
		Description: "List the source files in the repository.",
		InputSchema: objectSchema(nil, map[string][2]string{}),
		Execute: func(ctx context.Context, args map[string]interface{}) (string, error) {
			return reader.Tree(500)
		},
	})

	registry.MustRegister(&Tool{
		Name:        "read_file",
		Description: "Read one file from the repository. The path is relative to the repository root.",
		InputSchema: objectSchema([]string{"path"}, map[string][2]string{
			"path": {"string", "Repository-relative file path"},
		}),
		Execute: func(ctx context.Context, args map[string]interface{}) (string, error) {
			path, err := stringArg(args, "path")
			if err != nil {
				return "", err
			}
			return reader.Read(path)
		},
	})

	if !writable {
		return
	}

	registry.MustRegister(&Tool{
		Name:        "write_file",
		Description: "Replace one file's entire content. The path is relative to the repository root.",
		InputSchema: objectSchema([]string{"path", "content"}, map[string][2]string{
			"path":    {"string", "Repository-relative file path"},
			"content": {"string", "The complete new file content"},
		}),
		Execute: func(ctx context.Context, args map[string]interface{}) (string, error) {
			path, err := stringArg(args, "path")
			if err != nil {
				return "", err
			}
			content, err := stringArg(args, "content")
			if err != nil {
				return "", err
			}
			if err := reader.Write(path, content); err != nil {
				return "", err
			}
			if onWrite != nil {
				onWrite(path)
			}
			return fmt.Sprintf("wrote %d bytes to %s", len(content), path), nil
		},
	})
}

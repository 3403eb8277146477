package toolbridge

import (
	"context"
	"fmt"
	"strings"

	"github.com/dreamit/concierge/internal/resort"
	"github.com/dreamit/concierge/internal/visual"
	"github.com/dreamit/concierge/pkg/provider/s2s"
)

// Tool names declared to the agent.
const (
	ShowResortVisual = "show_resort_visual"
	DescribeResort   = "describe_resort"
)

func resortParams(desc string) map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"resort": map[string]any{
				"type":        "string",
				"description": desc,
			},
		},
		"required": []any{"resort"},
	}
}

// ResortTools returns the concierge's built-in tools bound to cat and disp.
func ResortTools(cat *resort.Catalog, disp *visual.Display) []Tool {
	return []Tool{
		{
			Definition: s2s.ToolDefinition{
				Name:        ShowResortVisual,
				Description: "Show the guest a picture of a resort from the portfolio. Call this every time you mention a resort by name.",
				Parameters:  resortParams("Name of the resort as spoken, e.g. \"Zimbali Lodge\"."),
			},
			Handler: showResortVisual(cat, disp),
		},
		{
			Definition: s2s.ToolDefinition{
				Name:        DescribeResort,
				Description: "Look up the location, category and website of a resort in the portfolio.",
				Parameters:  resortParams("Name of the resort to look up."),
			},
			Handler: describeResort(cat),
		},
	}
}

// resortArg extracts the requested name, tolerating missing or mistyped
// arguments.
func resortArg(args map[string]any) string {
	switch v := args["resort"].(type) {
	case string:
		return strings.TrimSpace(v)
	case nil:
		return ""
	default:
		return strings.TrimSpace(fmt.Sprint(v))
	}
}

func describe(r resort.Resort, m resort.Match) map[string]any {
	out := map[string]any{
		"resort":   r.Name,
		"location": r.Location,
		"category": string(r.Category),
		"url":      r.URL,
		"match":    m.Kind.String(),
	}
	if r.Description != "" {
		out["description"] = r.Description
	}
	return out
}

func showResortVisual(cat *resort.Catalog, disp *visual.Display) Handler {
	return func(_ context.Context, args map[string]any) (map[string]any, error) {
		query := resortArg(args)
		r, m, ok := cat.Lookup(query)
		if !ok {
			return map[string]any{
				"displayed": false,
				"resort":    query,
				"reason":    "not in the portfolio",
				"available": cat.Names(),
			}, nil
		}
		disp.Show(r, query)
		out := describe(r, m)
		out["displayed"] = true
		return out, nil
	}
}

func describeResort(cat *resort.Catalog) Handler {
	return func(_ context.Context, args map[string]any) (map[string]any, error) {
		query := resortArg(args)
		r, m, ok := cat.Lookup(query)
		if !ok {
			return map[string]any{
				"found":     false,
				"resort":    query,
				"available": cat.Names(),
			}, nil
		}
		out := describe(r, m)
		out["found"] = true
		return out, nil
	}
}

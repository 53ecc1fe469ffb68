package extract

import (
	"strconv"
	"strings"

	"invoicemap/internal/jsonx"
	"invoicemap/pkg/models"
)

// parseLineItems decodes the model's extraction response. The prompt asks for
// a markdown table, but models sometimes answer with a JSON object instead;
// both shapes are accepted. Unparseable responses yield an empty slice —
// extraction never fails on formatting alone.
func parseLineItems(text string) []models.RawLineItem {
	if items, ok := parseJSONItems(text); ok {
		return items
	}
	return parseMarkdownTable(text)
}

func parseJSONItems(text string) ([]models.RawLineItem, bool) {
	var out struct {
		Items []map[string]any `json:"items"`
	}
	if err := jsonx.Decode(text, &out); err != nil || out.Items == nil {
		return nil, false
	}
	items := make([]models.RawLineItem, 0, len(out.Items))
	for _, raw := range out.Items {
		name := firstString(raw, "raw_name", "name", "item")
		if name == "" {
			continue
		}
		items = append(items, models.RawLineItem{
			RawName:     name,
			RawQuantity: firstNumber(raw, 1, "raw_quantity", "quantity", "qty"),
			RawPrice:    firstNumber(raw, 0, "raw_price", "price", "total", "amount"),
		})
	}
	return items, true
}

// parseMarkdownTable reads pipe-delimited rows. The separator row (all
// dashes) marks where data starts: everything before it is header or prose,
// everything after is a data row even when both numeric cells are
// unreadable, in which case quantity defaults to 1 and price to 0. Responses
// without a separator fall back to dropping rows with no digits in either
// numeric column (the header shape).
func parseMarkdownTable(text string) []models.RawLineItem {
	lines := strings.Split(text, "\n")

	separatorIdx := -1
	for i, line := range lines {
		if !strings.Contains(line, "|") {
			continue
		}
		if cells := splitCells(line); len(cells) > 0 && isSeparatorRow(cells) {
			separatorIdx = i
			break
		}
	}

	var items []models.RawLineItem
	for i, line := range lines {
		if !strings.Contains(line, "|") {
			continue
		}
		cells := splitCells(line)
		if len(cells) < 3 || isSeparatorRow(cells) {
			continue
		}
		if separatorIdx >= 0 {
			if i < separatorIdx {
				continue
			}
		} else if !hasDigit(cells[1]) && !hasDigit(cells[len(cells)-1]) {
			continue
		}
		name := cells[0]
		if name == "" {
			continue
		}
		items = append(items, models.RawLineItem{
			RawName:     name,
			RawQuantity: parseNumber(cells[1], 1),
			RawPrice:    parseNumber(cells[len(cells)-1], 0),
		})
	}
	return items
}

func splitCells(line string) []string {
	trimmed := strings.Trim(strings.TrimSpace(line), "|")
	parts := strings.Split(trimmed, "|")
	cells := make([]string, 0, len(parts))
	for _, p := range parts {
		cells = append(cells, strings.TrimSpace(p))
	}
	// Drop trailing empties from ragged rows, keep interior ones so column
	// positions survive.
	for len(cells) > 0 && cells[len(cells)-1] == "" {
		cells = cells[:len(cells)-1]
	}
	return cells
}

func isSeparatorRow(cells []string) bool {
	for _, c := range cells {
		if strings.Trim(c, "-: ") != "" {
			return false
		}
	}
	return true
}

func hasDigit(s string) bool {
	for _, r := range s {
		if r >= '0' && r <= '9' {
			return true
		}
	}
	return false
}

// parseNumber pulls the first number out of a messy cell ("Rs. 1,500/-",
// "3 pcs", "2.5kg"). Commas are treated as thousands separators. Returns
// fallback when the cell holds no number.
func parseNumber(cell string, fallback float64) float64 {
	start := -1
	for i, r := range cell {
		if r >= '0' && r <= '9' {
			start = i
			break
		}
	}
	if start < 0 {
		return fallback
	}

	var b strings.Builder
	if start > 0 && cell[start-1] == '-' {
		b.WriteByte('-')
	}
	sawDot := false
scan:
	for _, r := range cell[start:] {
		switch {
		case r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == ',':
			// thousands separator
		case r == '.' && !sawDot:
			sawDot = true
			b.WriteRune(r)
		default:
			break scan
		}
	}
	v, err := strconv.ParseFloat(strings.TrimSuffix(b.String(), "."), 64)
	if err != nil {
		return fallback
	}
	return v
}

func firstString(m map[string]any, keys ...string) string {
	for _, k := range keys {
		if v, ok := m[k]; ok {
			if s, ok := v.(string); ok && strings.TrimSpace(s) != "" {
				return strings.TrimSpace(s)
			}
		}
	}
	return ""
}

func firstNumber(m map[string]any, fallback float64, keys ...string) float64 {
	for _, k := range keys {
		v, ok := m[k]
		if !ok {
			continue
		}
		switch n := v.(type) {
		case float64:
			return n
		case string:
			return parseNumber(n, fallback)
		}
	}
	return fallback
}

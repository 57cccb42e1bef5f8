// Package report renders verification discrepancies for people and scripts.
package report

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"
	"unicode/utf8"

	"gopkg.in/yaml.v3"

	"github.com/ipsix/coresum/internal/verify"
)

type Format string

const (
	FormatPlain Format = "plain"
	FormatTable Format = "table"
	FormatJSON  Format = "json"
	FormatCSV   Format = "csv"
	FormatYAML  Format = "yaml"
	FormatCount Format = "count"
)

const (
	SuccessMessage = "FinPress installation verifies against checksums."
	FailureMessage = "FinPress installation doesn't verify against checksums."
)

// Formats lists the accepted format names.
func Formats() []string {
	return []string{
		string(FormatPlain), string(FormatTable), string(FormatJSON),
		string(FormatCSV), string(FormatYAML), string(FormatCount),
	}
}

func ParseFormat(s string) (Format, error) {
	if s == "" {
		return FormatPlain, nil
	}
	for _, f := range Formats() {
		if strings.EqualFold(s, f) {
			return Format(f), nil
		}
	}
	return "", fmt.Errorf("invalid format %q (use one of %s)", s, strings.Join(Formats(), ", "))
}

// Item is the structured row emitted per discrepancy.
type Item struct {
	File    string `json:"file" yaml:"file"`
	Message string `json:"message" yaml:"message"`
}

func Items(ds []verify.Discrepancy) []Item {
	out := make([]Item, 0, len(ds))
	for _, d := range ds {
		out = append(out, Item{File: d.Path, Message: d.Reason})
	}
	return out
}

// Render writes discrepancies in format. Nothing is written when there are
// none; the verdict line alone tells the story.
func Render(w io.Writer, format Format, ds []verify.Discrepancy) error {
	if len(ds) == 0 {
		return nil
	}
	items := Items(ds)
	switch format {
	case FormatPlain, "":
		for _, it := range items {
			if _, err := fmt.Fprintf(w, "Warning: %s: %s\n", it.Message, it.File); err != nil {
				return err
			}
		}
		return nil
	case FormatTable:
		return renderTable(w, items)
	case FormatJSON:
		raw, err := json.Marshal(items)
		if err != nil {
			return fmt.Errorf("encode json: %w", err)
		}
		_, err = fmt.Fprintln(w, string(raw))
		return err
	case FormatCSV:
		cw := csv.NewWriter(w)
		if err := cw.Write([]string{"file", "message"}); err != nil {
			return err
		}
		for _, it := range items {
			if err := cw.Write([]string{it.File, it.Message}); err != nil {
				return err
			}
		}
		cw.Flush()
		return cw.Error()
	case FormatYAML:
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(items); err != nil {
			return fmt.Errorf("encode yaml: %w", err)
		}
		return enc.Close()
	case FormatCount:
		_, err := fmt.Fprintln(w, strconv.Itoa(len(items)))
		return err
	default:
		return fmt.Errorf("unsupported format %q", format)
	}
}

// Verdict is the closing line of a run.
func Verdict(passed bool) string {
	if passed {
		return "Success: " + SuccessMessage
	}
	return "Error: " + FailureMessage
}

func renderTable(w io.Writer, items []Item) error {
	fileW, msgW := len("file"), len("message")
	for _, it := range items {
		fileW = max(fileW, utf8.RuneCountInString(it.File))
		msgW = max(msgW, utf8.RuneCountInString(it.Message))
	}
	border := "+" + strings.Repeat("-", fileW+2) + "+" + strings.Repeat("-", msgW+2) + "+\n"
	row := func(a, b string) string {
		return "| " + pad(a, fileW) + " | " + pad(b, msgW) + " |\n"
	}

	var sb strings.Builder
	sb.WriteString(border)
	sb.WriteString(row("file", "message"))
	sb.WriteString(border)
	for _, it := range items {
		sb.WriteString(row(it.File, it.Message))
	}
	sb.WriteString(border)
	_, err := io.WriteString(w, sb.String())
	return err
}

func pad(s string, width int) string {
	return s + strings.Repeat(" ", width-utf8.RuneCountInString(s))
}

package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/sre-norns/imago/pkg/imago"
	"gopkg.in/yaml.v3"
)

type formatter func(w io.Writer, value any) error

func yamlFormatter(w io.Writer, resource any) error {
	encoder := yaml.NewEncoder(w)
	encoder.SetIndent(2)
	if err := encoder.Encode(resource); err != nil {
		return err
	}

	return encoder.Close()
}

func jsonFormatter(w io.Writer, resource any) error {
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "\t")

	return encoder.Encode(resource)
}

func newTable(w io.Writer) table.Writer {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleRounded)
	return t
}

func searchesTable(t table.Writer, searches []imago.Search) {
	t.AppendHeader(table.Row{"ID", "Name", "Query", "Provider", "State", "Candidates"})
	for _, s := range searches {
		t.AppendRow(table.Row{s.ID, s.Name, s.Spec.Query, s.Spec.Provider, s.Status.State, len(s.Status.Candidates)})
	}
}

func batchesTable(t table.Writer, batches []imago.Batch) {
	t.AppendHeader(table.Row{"ID", "Name", "Aspect", "State", "Processed", "Failed", "Archive"})
	for _, b := range batches {
		archive := ""
		if b.Status.ArchiveID != 0 {
			archive = b.Status.ArchiveID.String()
		}
		t.AppendRow(table.Row{b.ID, b.Name, b.Spec.Aspect, b.Status.State, b.Status.Processed, len(b.Status.Failures), archive})
	}
}

func artifactsTable(t table.Writer, artifacts []imago.Artifact) {
	t.AppendHeader(table.Row{"ID", "Name", "Batch", "Rel", "Mime type", "Encoding"})
	for _, a := range artifacts {
		t.AppendRow(table.Row{a.ID, a.Name, a.Spec.BatchID, a.Spec.Rel, a.Spec.MimeType, a.Spec.Encoding})
	}
}

// tableFormatter renders known resources as tables, anything else falls back to yaml
func tableFormatter(w io.Writer, value any) error {
	t := newTable(w)

	switch v := value.(type) {
	case []imago.Search:
		searchesTable(t, v)
	case *imago.Search:
		searchesTable(t, []imago.Search{*v})
		t.Render()

		if len(v.Status.Warnings) > 0 {
			fmt.Fprintln(w, "Warnings:", strings.Join(v.Status.Warnings, "; "))
		}
		t = newTable(w)
		t.AppendHeader(table.Row{"#", "URL"})
		for _, c := range v.Status.Candidates {
			t.AppendRow(table.Row{c.Position, c.URL})
		}
	case []imago.Batch:
		batchesTable(t, v)
	case *imago.Batch:
		batchesTable(t, []imago.Batch{*v})
		if len(v.Status.Failures) > 0 {
			t.Render()
			t = newTable(w)
			t.AppendHeader(table.Row{"Failed URL", "Reason"})
			for _, f := range v.Status.Failures {
				t.AppendRow(table.Row{f.URL, f.Reason})
			}
		}
	case []imago.Artifact:
		artifactsTable(t, v)
	case *imago.Artifact:
		artifactsTable(t, []imago.Artifact{*v})
	case []imago.ProviderInfo:
		t.AppendHeader(table.Row{"Name", "Version"})
		for _, p := range v {
			t.AppendRow(table.Row{p.Name, p.Version})
		}
	case *imago.BatchStatus:
		t.AppendHeader(table.Row{"State", "Processed", "Failed", "Message"})
		t.AppendRow(table.Row{v.State, v.Processed, len(v.Failures), v.Message})
		for _, f := range v.Failures {
			t.AppendFooter(table.Row{"", "", f.URL, f.Reason})
		}
	default:
		return yamlFormatter(w, value)
	}

	t.Render()
	return nil
}

func getFormatter(formatName outputFormat) (formatter, error) {
	switch formatName {
	case "yaml", "yml":
		return yamlFormatter, nil
	case "json":
		return jsonFormatter, nil
	case "table", "":
		return tableFormatter, nil
	}

	return nil, fmt.Errorf("unexpected output format %q", formatName)
}

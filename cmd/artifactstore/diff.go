package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/nainya/artifactstore/pkg/content"
	"github.com/nainya/artifactstore/pkg/diff"
)

type diffFlags struct {
	labelsPath string
	oldName    string
	newName    string
	format     string
}

func newDiffCmd() *cobra.Command {
	var f diffFlags

	cmd := &cobra.Command{
		Use:   "diff OLD.json NEW.json",
		Short: "Compare two artifact documents offline",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			oldDoc, err := readDocument(args[0])
			if err != nil {
				return err
			}
			newDoc, err := readDocument(args[1])
			if err != nil {
				return err
			}

			var labels diff.Labeler
			if f.labelsPath != "" {
				m, err := readLabels(f.labelsPath)
				if err != nil {
					return err
				}
				labels = diff.Labels(m)
			}

			result := diff.CompareVersions(oldDoc, newDoc, f.oldName, f.newName, labels)
			switch f.format {
			case "json":
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(result)
			case "text":
				return writeText(cmd.OutOrStdout(), &result)
			default:
				return fmt.Errorf("unknown format %q (want text or json)", f.format)
			}
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&f.labelsPath, "labels", "", "JSON object mapping field ids to display labels")
	flags.StringVar(&f.oldName, "old-name", "", "Name of the old version")
	flags.StringVar(&f.newName, "new-name", "", "Name of the new version")
	flags.StringVar(&f.format, "format", "text", "Output format: text or json")
	return cmd
}

func readDocument(path string) (content.Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	doc, err := content.ParseDocument(data)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return doc, nil
}

func readLabels(path string) (map[string]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read labels %s: %w", path, err)
	}
	var m map[string]string
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parse labels %s: %w", path, err)
	}
	return m, nil
}

// writeText renders a diff with [-removed-] and {+added+} word markers
func writeText(w io.Writer, d *diff.VersionDiff) error {
	var b strings.Builder

	if d.NameChanged {
		fmt.Fprintf(&b, "name: %q -> %q\n", d.OldName, d.NewName)
	}
	for _, c := range d.Fields {
		switch c.Type {
		case diff.FieldAdded:
			fmt.Fprintf(&b, "+ %s: %s\n", c.Label, c.NewDisplay())
		case diff.FieldRemoved:
			fmt.Fprintf(&b, "- %s: %s\n", c.Label, c.OldDisplay())
		case diff.FieldModified:
			if c.WordDiff != nil {
				fmt.Fprintf(&b, "~ %s: %s\n", c.Label, renderSegments(c.WordDiff))
			} else {
				fmt.Fprintf(&b, "~ %s: %s -> %s\n", c.Label, c.OldDisplay(), c.NewDisplay())
			}
		}
	}
	fmt.Fprintf(&b, "%d added, %d removed, %d modified\n",
		d.Summary.AddedFields, d.Summary.RemovedFields, d.Summary.ModifiedFields)

	_, err := io.WriteString(w, b.String())
	return err
}

func renderSegments(segments []diff.Segment) string {
	var b strings.Builder
	for _, s := range segments {
		switch s.Type {
		case diff.Added:
			b.WriteString("{+" + s.Value + "+}")
		case diff.Removed:
			b.WriteString("[-" + s.Value + "-]")
		default:
			b.WriteString(s.Value)
		}
	}
	return b.String()
}

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/hazyhaar/shimmer/internal/preview"
	"github.com/hazyhaar/shimmer/internal/sanitize"
	"github.com/hazyhaar/shimmer/kit"
	"github.com/hazyhaar/shimmer/shimmer"
)

type measureOpts struct {
	template string
	data     string
	preview  bool
	asJSON   bool
	out      string
}

func newMeasureCmd(a *app) *cobra.Command {
	var o measureOpts
	cmd := &cobra.Command{
		Use:   "measure <file.html>",
		Short: "Measure one HTML file and print its skeleton",
		Long: `Measure mounts the file's top-level elements off-screen, measures their
leaves and prints the resulting shimmer blocks. With --template the template
file becomes the first fragment and receives --data as its inputs.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			req, err := o.request(args[0])
			if err != nil {
				return err
			}
			rt, err := a.openRuntime()
			if err != nil {
				return err
			}
			defer rt.Close()

			ctx := kit.WithTransport(cmd.Context(), kit.TransportCLI)
			if err := rt.browser.Start(ctx); err != nil {
				return err
			}
			res, err := rt.engine.Measure(ctx, req)
			if err != nil {
				return err
			}
			return o.print(ctx, cmd.OutOrStdout(), res)
		},
	}
	f := cmd.Flags()
	f.StringVar(&o.template, "template", "", "html/template file used as the first fragment")
	f.StringVar(&o.data, "data", "", "template data: a JSON object or a file holding one")
	f.BoolVar(&o.preview, "preview", false, "draw the blocks in the terminal")
	f.BoolVar(&o.asJSON, "json", false, "print the full result as JSON")
	f.StringVarP(&o.out, "out", "o", "", "write the loading view HTML to this file")
	engineFlags(f)
	return cmd
}

// request reads the inputs into a Request.
func (o *measureOpts) request(path string) (*shimmer.Request, error) {
	src, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("measure: %w", err)
	}
	parts, err := sanitize.Split(string(src))
	if err != nil {
		return nil, fmt.Errorf("measure: %s: %w", path, err)
	}

	req := &shimmer.Request{}
	if o.template != "" {
		tmpl, err := os.ReadFile(o.template)
		if err != nil {
			return nil, fmt.Errorf("measure: %w", err)
		}
		req.Fragments = append(req.Fragments, shimmer.FragmentSpec{Template: string(tmpl)})
	}
	for _, p := range parts {
		if strings.TrimSpace(p) == "" {
			continue
		}
		req.Fragments = append(req.Fragments, shimmer.FragmentSpec{HTML: p})
	}

	if o.data != "" {
		raw := []byte(o.data)
		if !strings.HasPrefix(strings.TrimSpace(o.data), "{") {
			if raw, err = os.ReadFile(o.data); err != nil {
				return nil, fmt.Errorf("measure: %w", err)
			}
		}
		if err := json.Unmarshal(raw, &req.TemplateData); err != nil {
			return nil, fmt.Errorf("measure: --data: %w", err)
		}
	}
	return req, nil
}

func (o *measureOpts) print(ctx context.Context, w io.Writer, res *shimmer.Result) error {
	if o.out != "" {
		if err := os.WriteFile(o.out, []byte(res.HTML), 0o644); err != nil {
			return fmt.Errorf("measure: %w", err)
		}
		kit.Logger(ctx).Info("measure: view written", "path", o.out)
	}
	if o.asJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(res)
	}

	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleLight)
	t.AppendHeader(table.Row{"#", "Kind", "X", "Y", "Width", "Height", "Radius"})
	for i, b := range res.Blocks {
		t.AppendRow(table.Row{i + 1, b.Kind, b.X, b.Y, b.Width, b.Height, b.Radius})
	}
	t.AppendFooter(table.Row{"", fmt.Sprintf("%d blocks", len(res.Blocks)), "", "", "", "",
		fmt.Sprintf("%d passes", res.Passes)})
	t.Render()

	if res.Exhausted {
		fmt.Fprintln(w, "warning: geometry did not settle; showing the last pass")
	}
	if o.preview {
		fmt.Fprintln(w)
		fmt.Fprintln(w, preview.Render(res.Blocks, res.Config, preview.Options{Phase: 0.3}))
	}
	return nil
}

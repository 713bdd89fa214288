package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/ohler55/ojg/jp"
	"github.com/ohler55/ojg/oj"
	"github.com/urfave/cli/v3"

	"github.com/DataConservancy/dcs-packaging-tool-sub000/internal"
	"github.com/DataConservancy/dcs-packaging-tool-sub000/internal/compare"
	"github.com/DataConservancy/dcs-packaging-tool-sub000/internal/ipm"
	"github.com/DataConservancy/dcs-packaging-tool-sub000/internal/profile"
	"github.com/DataConservancy/dcs-packaging-tool-sub000/internal/profileservice"
	"github.com/DataConservancy/dcs-packaging-tool-sub000/internal/session"
	"github.com/DataConservancy/dcs-packaging-tool-sub000/internal/storage"
)

func packageArg(cmd *cli.Command) (string, error) {
	if cmd.NArg() != 1 {
		return "", fmt.Errorf("%s: expected one package directory", cmd.Name)
	}
	return cmd.Args().First(), nil
}

// cliLogger logs to stderr so command output stays clean.
func cliLogger(cfg *internal.Config) *slog.Logger {
	return internal.NewLogger(cfg, os.Stderr)
}

func restore(cfg *internal.Config, statePath string) (*session.Session, error) {
	logger := cliLogger(cfg)
	b, err := internal.NewBuilder(cfg, logger)
	if err != nil {
		return nil, err
	}
	profiles, _, err := internal.LoadProfiles(cfg)
	if err != nil {
		return nil, err
	}
	return session.Restore(statePath, b, profiles, session.WithLogger(logger))
}

type scanOutput struct {
	Root    string      `json:"root"`
	Profile string      `json:"profile,omitempty"`
	Typed   bool        `json:"typed"`
	Nodes   []*ipm.Node `json:"nodes"`
}

func scan(ctx context.Context, cmd *cli.Command) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	root, err := packageArg(cmd)
	if err != nil {
		return err
	}

	var out scanOutput
	if cmd.Bool("typed") {
		sess, err := internal.OpenSession(cfg, root, cliLogger(cfg))
		if err != nil {
			return err
		}
		tr := sess.Snapshot()
		out = scanOutput{Root: tr.Root().ID, Profile: sess.Profile().ID, Typed: sess.Typed(), Nodes: tr.Nodes()}
	} else {
		b, err := internal.NewBuilder(cfg, cliLogger(cfg))
		if err != nil {
			return err
		}
		tr, err := b.Build(root)
		if err != nil {
			return err
		}
		out = scanOutput{Root: tr.Root().ID, Nodes: tr.Nodes()}
	}

	data, err := json.Marshal(out)
	if err != nil {
		return fmt.Errorf("scan: encode: %w", err)
	}
	return printSelected(os.Stdout, data, cmd.String("select"))
}

// printSelected writes data, or the values the JSONPath expr selects from
// it, as indented JSON.
func printSelected(w io.Writer, data []byte, expr string) error {
	var v any = json.RawMessage(data)
	if expr != "" {
		x, err := jp.ParseString(expr)
		if err != nil {
			return fmt.Errorf("invalid jsonpath '%s': %w", expr, err)
		}
		doc, err := oj.ParseString(string(data))
		if err != nil {
			return fmt.Errorf("scan: decode: %w", err)
		}
		v = x.Get(doc)
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func diff(ctx context.Context, cmd *cli.Command) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	sess, err := restore(cfg, cmd.String("state"))
	if err != nil {
		return err
	}
	b, err := internal.NewBuilder(cfg, cliLogger(cfg))
	if err != nil {
		return err
	}
	current, err := b.Build(sess.Root())
	if err != nil {
		return err
	}
	c := compare.Compare(sess.Snapshot(), current)
	w := os.Stdout
	if c.Len() == 0 {
		_, err := fmt.Fprintln(w, "no changes")
		return err
	}
	for _, loc := range c.Locations() {
		if _, err := fmt.Fprintf(w, "%-8s %s\n", c.Results[loc].Status, relPath(sess.Root(), loc)); err != nil {
			return err
		}
	}
	return nil
}

func save(ctx context.Context, cmd *cli.Command) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	root, err := packageArg(cmd)
	if err != nil {
		return err
	}
	logger := cliLogger(cfg)
	// Always ingest afresh; OpenSession would restore a persistent store.
	cfg.Store.Backend = internal.StoreBackendMemory
	sess, err := internal.OpenSession(cfg, root, logger)
	if err != nil {
		return err
	}
	if !sess.Typed() {
		logger.Warn("package could not be typed", slog.String("profile", sess.Profile().ID))
	}
	return sess.Save(cmd.String("state"))
}

func show(ctx context.Context, cmd *cli.Command) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	sess, err := restore(cfg, cmd.String("state"))
	if err != nil {
		return err
	}
	w := os.Stdout
	tr := sess.Snapshot()
	for _, n := range tr.Nodes() {
		if err := printNode(w, sess.Profile(), sess.Root(), tr.Depth(n.ID), n); err != nil {
			return err
		}
	}
	return printViolations(w, sess.Validate())
}

func printNode(w io.Writer, p *profile.DomainProfile, root string, depth int, n *ipm.Node) error {
	name := "(no file)"
	if n.File != nil {
		name = relPath(root, n.File.Location)
	}
	label := "-"
	if n.Type != "" {
		label = n.Type
		if nt := p.NodeType(n.Type); nt != nil && nt.Label != "" {
			label = nt.Label
		}
	}
	flag := ""
	if n.Ignored {
		flag = " [ignored]"
	}
	_, err := fmt.Fprintf(w, "%s%s  %s%s\n", strings.Repeat("  ", depth), name, label, flag)
	return err
}

func printViolations(w io.Writer, vs []profileservice.Violation) error {
	if len(vs) == 0 {
		_, err := fmt.Fprintln(w, "\nall property constraints satisfied")
		return err
	}
	if _, err := fmt.Fprintf(w, "\n%d violations:\n", len(vs)); err != nil {
		return err
	}
	for _, v := range vs {
		if _, err := fmt.Fprintf(w, "  %s\n", v); err != nil {
			return err
		}
	}
	return nil
}

func export(ctx context.Context, cmd *cli.Command) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	sess, err := restore(cfg, cmd.String("state"))
	if err != nil {
		return err
	}
	out := cmd.String("out")
	if out == "-" {
		return sess.Export(os.Stdout)
	}

	abs, err := filepath.Abs(out)
	if err != nil {
		return err
	}
	dir := filepath.Dir(abs)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("export: %w", err)
	}
	fs, err := storage.NewFS(dir)
	if err != nil {
		return err
	}
	_, err = fs.WriteFunc(filepath.Base(abs), sess.Export)
	return err
}

// relPath renders a file location relative to the package root.
func relPath(root, location string) string {
	p := ipm.URIToPath(location)
	if rel, err := filepath.Rel(root, p); err == nil {
		return filepath.ToSlash(rel)
	}
	return p
}

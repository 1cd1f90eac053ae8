package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/rendis/flowsketch/internal/diagram"
	"github.com/rendis/flowsketch/internal/llm"
	"github.com/rendis/flowsketch/internal/render"
	"github.com/rendis/flowsketch/internal/secrets"
	"github.com/rendis/flowsketch/pkg/schema"
)

func (c *cli) serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the web app, JSON API and stats scheduler",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context(), c.cfg, c.level, c.logger)
		},
	}
}

// readSource reads flowchart text from the named file, or stdin for "-" or no
// argument.
func readSource(cmd *cobra.Command, args []string) (string, error) {
	if len(args) == 0 || args[0] == "-" {
		data, err := io.ReadAll(cmd.InOrStdin())
		return string(data), err
	}
	data, err := os.ReadFile(args[0])
	return string(data), err
}

func (c *cli) normalizeCmd() *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "normalize [file|-]",
		Short: "Reshape loosely structured flowchart text into canonical source",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			src, err := readSource(cmd, args)
			if err != nil {
				return err
			}
			doc := diagram.Parse(src)
			if asJSON {
				dropped := doc.Dropped
				if dropped == nil {
					dropped = []string{}
				}
				return writeJSON(cmd.OutOrStdout(), map[string]any{
					"flowchart": doc.String(),
					"dropped":   dropped,
				})
			}
			for _, line := range doc.Dropped {
				c.logger.Warn("dropped line", "line", line)
			}
			fmt.Fprintln(cmd.OutOrStdout(), doc.String())
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the result and the dropped lines as JSON")
	return cmd
}

func (c *cli) repairCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "repair [file|-]",
		Short: "Repair flowchart source that fails to render",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			src, err := readSource(cmd, args)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), diagram.Repair(src))
			return nil
		},
	}
}

func (c *cli) lintCmd() *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "lint [file|-]",
		Short: "List syntax problems in flowchart source",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			src, err := readSource(cmd, args)
			if err != nil {
				return err
			}
			res := diagram.Lint(src)
			out := cmd.OutOrStdout()
			if asJSON {
				if err := writeJSON(out, res); err != nil {
					return err
				}
			} else {
				for _, issue := range append(res.Errors, res.Warnings...) {
					fmt.Fprintf(out, "%s: %s %s: %s\n", issue.Path, issue.Severity, issue.Code, issue.Message)
				}
			}
			if !res.Valid() {
				return fmt.Errorf("%d lint error(s)", len(res.Errors))
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the issues as JSON")
	return cmd
}

func (c *cli) renderCmd() *cobra.Command {
	var (
		format   string
		output   string
		noRepair bool
	)
	cmd := &cobra.Command{
		Use:   "render [file|-]",
		Short: "Render flowchart source as svg, png, ascii or mermaid",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f := schema.RenderFormat(strings.ToLower(format))
			if !f.Valid() {
				return fmt.Errorf("unknown format %q (want svg, png, ascii or mermaid)", format)
			}
			src, err := readSource(cmd, args)
			if err != nil {
				return err
			}

			r := render.NewGraphvizRenderer(c.cfg.CacheSize, render.WithLogger(c.logger))
			var out []byte
			if noRepair {
				out, err = r.Render(cmd.Context(), src, f)
			} else {
				var res *render.Result
				res, err = render.RenderWithRepair(cmd.Context(), r, src, f)
				if err == nil {
					out = res.Output
					if res.Repaired {
						c.logger.Info("rendered from repaired source")
					}
				}
			}
			if err != nil {
				return err
			}

			if output == "" || output == "-" {
				_, err = cmd.OutOrStdout().Write(out)
				return err
			}
			return os.WriteFile(output, out, 0o644)
		},
	}
	cmd.Flags().StringVarP(&format, "format", "f", string(schema.FormatSVG), "output format: svg, png, ascii or mermaid")
	cmd.Flags().StringVarP(&output, "output", "o", "", "write to this file instead of stdout")
	cmd.Flags().BoolVar(&noRepair, "no-repair", false, "fail instead of retrying with repaired source")
	return cmd
}

func (c *cli) generateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "generate [description...]",
		Short: "Ask the model for a flowchart of a described process",
		RunE: func(cmd *cobra.Command, args []string) error {
			prompt := strings.Join(args, " ")
			if prompt == "" {
				data, err := io.ReadAll(cmd.InOrStdin())
				if err != nil {
					return err
				}
				prompt = string(data)
			}

			a, err := newApp(cmd.Context(), c.cfg, c.logger)
			if err != nil {
				return err
			}
			defer a.Close()

			gen, err := a.generation(cmd.Context(), c.cfg)
			if err != nil {
				return err
			}
			if gen.generator == nil {
				return errors.New("API key not configured: set GEMINI_API_KEY or run `flowsketch key set`")
			}
			chart, err := llm.Flowchart(cmd.Context(), gen.generator, prompt)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), chart)
			return nil
		},
	}
}

func (c *cli) mcpCmd() *cobra.Command {
	var withHTTP bool
	cmd := &cobra.Command{
		Use:   "mcp",
		Short: "Serve the flowchart tools over MCP on stdio",
		Long: "Serve the flowchart tools over MCP on stdio. With --http the web app runs in the same " +
			"process, so views of charts shared by an agent are pushed back to its session.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			a, err := newApp(ctx, c.cfg, c.logger)
			if err != nil {
				return err
			}
			defer a.Close()

			srv, err := a.mcpServer(ctx, c.cfg)
			if err != nil {
				return err
			}
			if !withHTTP {
				return srv.Serve(ctx)
			}

			h, _, err := a.handler(ctx, c.cfg)
			if err != nil {
				return err
			}
			g, gctx := errgroup.WithContext(ctx)
			g.Go(func() error { return listenAndServe(gctx, c.cfg.ListenAddr, h, c.logger) })
			g.Go(func() error {
				err := srv.Serve(gctx)
				if errors.Is(err, context.Canceled) {
					return nil
				}
				return err
			})
			return g.Wait()
		},
	}
	cmd.Flags().BoolVar(&withHTTP, "http", false, "also serve the web app on listen_addr")
	return cmd
}

func (c *cli) keyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "key",
		Short: "Manage the Gemini API key stored in the encrypted vault",
	}

	var force bool
	set := &cobra.Command{
		Use:   "set [key|-]",
		Short: "Store the API key and signal a running server to reload",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			key := ""
			if len(args) == 1 && args[0] != "-" {
				key = args[0]
			} else {
				data, err := io.ReadAll(cmd.InOrStdin())
				if err != nil {
					return err
				}
				key = string(data)
			}
			key = strings.TrimSpace(key)

			check := llm.ValidateKey(key)
			if !check.Valid && !force {
				return fmt.Errorf("key does not look like a Gemini API key (length %d, prefix ok %t); use --force to store it anyway",
					check.Length, check.StartsCorrectly)
			}

			return c.withApp(cmd.Context(), func(a *app) error {
				if err := a.vault.Store(cmd.Context(), secrets.APIKeyName, []byte(key)); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "stored %s\n", llm.MaskKey(key))
				signalRunningServer(pidPath())
				return nil
			})
		},
	}
	set.Flags().BoolVar(&force, "force", false, "store a key that fails the format check")

	show := &cobra.Command{
		Use:   "show",
		Short: "Print the masked API key and where it comes from",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return c.withApp(cmd.Context(), func(a *app) error {
				key, source, err := c.resolveKey(cmd.Context(), a)
				if err != nil {
					return err
				}
				if key == "" {
					fmt.Fprintln(cmd.OutOrStdout(), "no API key configured")
					return nil
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s (%s)\n", llm.MaskKey(key), source)
				return nil
			})
		},
	}

	var live bool
	check := &cobra.Command{
		Use:   "check",
		Short: "Check the API key format and optionally call the API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return c.withApp(cmd.Context(), func(a *app) error {
				key, _, err := c.resolveKey(cmd.Context(), a)
				if err != nil {
					return err
				}
				res := llm.ValidateKey(key)
				if err := writeJSON(cmd.OutOrStdout(), res); err != nil {
					return err
				}
				if !res.Valid {
					return errors.New("API key failed the format check")
				}
				if !live {
					return nil
				}
				gen, err := a.generation(cmd.Context(), c.cfg)
				if err != nil {
					return err
				}
				models, err := gen.gemini.ListModels(cmd.Context())
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "API reachable, %d models available\n", len(models))
				return nil
			})
		},
	}
	check.Flags().BoolVar(&live, "live", false, "list models to confirm the key is accepted")

	del := &cobra.Command{
		Use:   "delete",
		Short: "Remove the stored API key",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return c.withApp(cmd.Context(), func(a *app) error {
				if err := a.vault.Delete(cmd.Context(), secrets.APIKeyName); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "deleted")
				signalRunningServer(pidPath())
				return nil
			})
		},
	}

	cmd.AddCommand(set, show, check, del)
	return cmd
}

func (c *cli) withApp(ctx context.Context, fn func(a *app) error) error {
	a, err := newApp(ctx, c.cfg, c.logger)
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(a)
}

// resolveKey reports the effective API key and whether it came from the
// environment or the vault.
func (c *cli) resolveKey(ctx context.Context, a *app) (string, string, error) {
	if c.cfg.APIKey != "" {
		return c.cfg.APIKey, "GEMINI_API_KEY", nil
	}
	key, err := secrets.ResolveAPIKey(ctx, a.vault, "")
	return key, "vault", err
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

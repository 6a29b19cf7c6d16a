package main

import (
	"context"
	"fmt"
	"io"
	"os/exec"
	"strings"
	"text/tabwriter"

	"codeexec/internal/execution/language"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

const maxToolLookups = 8

var (
	languagesCheck  bool
	languagesOutput string
)

var languagesCmd = &cobra.Command{
	Use:         "languages",
	Short:       "List registered languages",
	Args:        cobra.NoArgs,
	Annotations: map[string]string{annotationLogStderr: "true"},
	RunE: func(cmd *cobra.Command, args []string) error {
		overrides, err := appCfg.languageOverrides()
		if err != nil {
			return err
		}
		registry, err := language.NewDefaultRegistry(overrides)
		if err != nil {
			return err
		}
		specs := registry.Specs()

		switch languagesOutput {
		case "yaml":
			data, err := language.MarshalSpecs(specs)
			if err != nil {
				return err
			}
			_, err = cmd.OutOrStdout().Write(data)
			return err
		case "", "text":
		default:
			return fmt.Errorf("unknown output format %q", languagesOutput)
		}

		var missing map[string][]string
		if languagesCheck {
			missing, err = findMissingTools(cmd.Context(), specs, exec.LookPath)
			if err != nil {
				return err
			}
		}
		if err := writeLanguageTable(cmd.OutOrStdout(), specs, languagesCheck, missing); err != nil {
			return err
		}
		if len(missing) > 0 {
			return fmt.Errorf("%d language(s) have missing toolchains", len(missing))
		}
		return nil
	},
}

// findMissingTools looks up every required tool concurrently and returns the missing ones per language.
func findMissingTools(ctx context.Context, specs []language.LanguageSpec, lookPath func(string) (string, error)) (map[string][]string, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	found := make([][]bool, len(specs))
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(maxToolLookups)
	for i, s := range specs {
		found[i] = make([]bool, len(s.RequiredTools))
		for j, tool := range s.RequiredTools {
			i, j, tool := i, j, tool // per-iteration copies (go < 1.22 loop semantics)
			g.Go(func() error {
				if err := ctx.Err(); err != nil {
					return err
				}
				_, err := lookPath(tool)
				found[i][j] = err == nil
				return nil
			})
		}
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	missing := make(map[string][]string)
	for i, s := range specs {
		for j, tool := range s.RequiredTools {
			if !found[i][j] {
				missing[s.ID] = append(missing[s.ID], tool)
			}
		}
	}
	return missing, nil
}

func writeLanguageTable(out io.Writer, specs []language.LanguageSpec, checked bool, missing map[string][]string) error {
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	header := "ID\tNAME\tSOURCE\tCOMPILED\tINSTALLER\tALIASES"
	if checked {
		header += "\tTOOLCHAIN"
	}
	fmt.Fprintln(w, header)
	for _, s := range specs {
		installer := s.Installer
		if installer == "" {
			installer = language.InstallerNone
		}
		row := fmt.Sprintf("%s\t%s\t%s\t%t\t%s\t%s", s.ID, s.Name, s.SourceFile, s.CompileEnabled(), installer, strings.Join(s.Aliases, ","))
		if checked {
			status := "ok"
			if tools := missing[s.ID]; len(tools) > 0 {
				status = "missing " + strings.Join(tools, ",")
			}
			row += "\t" + status
		}
		fmt.Fprintln(w, row)
	}
	return w.Flush()
}

func init() {
	languagesCmd.Flags().BoolVar(&languagesCheck, "check", false, "look up each language's toolchain on PATH")
	languagesCmd.Flags().StringVarP(&languagesOutput, "output", "o", "text", "output format: text or yaml")
}

package main

import (
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/ashureev/freezone-advisor/internal/docextract"
)

func newExtractCmd() *cobra.Command {
	var (
		structure bool
		raw       bool
		out       string
	)
	cmd := &cobra.Command{
		Use:   "extract <file.pdf|file.xlsx>",
		Short: "Extract and organise one document",
		Long: `Extract the text of a PDF or Excel document. PDFs are organised by the
configured LLM; workbooks are printed as tab-separated tables unless
--structure is given.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			proc, err := newProcessor(structure, raw)
			if err != nil {
				return err
			}
			text, err := proc.Process(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if out == "" {
				_, err = fmt.Fprintln(cmd.OutOrStdout(), text)
				return err
			}
			if err := os.WriteFile(out, []byte(text), 0o644); err != nil {
				return fmt.Errorf("write %s: %w", out, err)
			}
			slog.Info("Wrote extracted text", "path", out)
			return nil
		},
	}
	cmd.Flags().BoolVar(&structure, "structure", false, "Also organise Excel tables with the LLM")
	cmd.Flags().BoolVar(&raw, "raw", false, "Skip the LLM step and print raw text")
	cmd.Flags().StringVarP(&out, "out", "o", "", "Write to a file instead of stdout")
	return cmd
}

func newWatchCmd() *cobra.Command {
	var (
		structure bool
		raw       bool
		settle    time.Duration
	)
	cmd := &cobra.Command{
		Use:   "watch <dir>",
		Short: "Process documents dropped into a directory",
		Long: `Watch a directory and extract every new or updated PDF and Excel file,
writing <file>` + docextract.OutputSuffix + ` next to it. Stops on SIGINT or SIGTERM.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			proc, err := newProcessor(structure, raw)
			if err != nil {
				return err
			}
			w, err := docextract.NewWatcher(args[0], proc, settle)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			slog.Info("Watching for documents", "dir", args[0])
			return w.Run(ctx)
		},
	}
	cmd.Flags().BoolVar(&structure, "structure", false, "Also organise Excel tables with the LLM")
	cmd.Flags().BoolVar(&raw, "raw", false, "Skip the LLM step")
	cmd.Flags().DurationVar(&settle, "settle", docextract.DefaultSettle, "Quiet period before a changed file is processed")
	return cmd
}

func newProcessor(structure, raw bool) (*docextract.Processor, error) {
	proc := &docextract.Processor{StructureTables: structure, Logger: slog.Default()}
	if raw {
		return proc, nil
	}
	s, err := newStructurer()
	if err != nil {
		return nil, err
	}
	if s == nil {
		slog.Warn("No LLM API key configured, publishing raw text")
	}
	proc.Structurer = s
	return proc, nil
}

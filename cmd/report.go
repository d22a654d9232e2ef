package cmd

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/fre-lookup/internal/cnpj"
	"github.com/JakeFAU/fre-lookup/internal/export"
	"github.com/JakeFAU/fre-lookup/internal/lookup"
	"github.com/JakeFAU/fre-lookup/internal/query"
)

type reportFlags struct {
	year    int
	json    bool
	csvPath string
}

func (f *reportFlags) register(cmd *cobra.Command) {
	cmd.Flags().IntVar(&f.year, "year", 0, "FRE year to query (default: current year)")
	cmd.Flags().BoolVar(&f.json, "json", false, "print the summary as JSON")
	cmd.Flags().StringVar(&f.csvPath, "csv", "", "also write the matched rows as ISO-8859-1 CSV to this path")
}

func newQueryCmd() *cobra.Command {
	var flags reportFlags
	cmd := &cobra.Command{
		Use:   "query <cnpj>",
		Short: "Downloads the FRE archive and prints the rows of a CNPJ",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			summary, err := appInstance.Queries().QueryByIdentifier(cmd.Context(), args[0], flags.year)
			if err != nil {
				return userError(err)
			}
			return flags.emit(cmd.OutOrStdout(), summary, appInstance.Logger())
		},
	}
	flags.register(cmd)
	return cmd
}

func newImportCmd() *cobra.Command {
	var flags reportFlags
	cmd := &cobra.Command{
		Use:   "import <cnpj> <archive.zip>",
		Short: "Runs the lookup over a locally downloaded FRE archive",
		Long: `Runs the same extraction as "query" over a ZIP archive already on disk,
for when the CVM portal is unreachable. Use "url" to get the download link.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			data, err := os.ReadFile(args[1])
			if err != nil {
				return fmt.Errorf("read archive: %w", err)
			}
			summary, err := appInstance.Queries().QueryFromUploadedArchive(cmd.Context(), args[0], data, flags.year)
			if err != nil {
				return userError(err)
			}
			return flags.emit(cmd.OutOrStdout(), summary, appInstance.Logger())
		},
	}
	flags.register(cmd)
	return cmd
}

func newCachedCmd() *cobra.Command {
	var flags reportFlags
	cmd := &cobra.Command{
		Use:   "cached <cnpj>",
		Short: "Prints the last saved result for a CNPJ without touching the network",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			summary, ok := appInstance.Queries().LoadCachedSummary(cmd.Context(), args[0], flags.year)
			if !ok {
				return errors.New(query.MsgNoSnapshot)
			}
			return flags.emit(cmd.OutOrStdout(), summary, appInstance.Logger())
		},
	}
	flags.register(cmd)
	return cmd
}

func newClearCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "clear",
		Short: "Deletes saved snapshots, account entries and cached archives",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			if err := appInstance.Queries().ClearAllLocalState(cmd.Context()); err != nil {
				return fmt.Errorf("clear local state: %w", err)
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), "Local state cleared.")
			return err
		},
	}
}

func newURLCmd() *cobra.Command {
	var year int
	cmd := &cobra.Command{
		Use:   "url",
		Short: "Prints the public download URL of a yearly FRE archive",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			url, err := appInstance.Queries().ArchiveDownloadURL(year)
			if err != nil {
				return userError(err)
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), url)
			return err
		},
	}
	cmd.Flags().IntVar(&year, "year", 0, "FRE year (default: current year)")
	return cmd
}

func userError(err error) error {
	return fmt.Errorf("%s (%w)", query.UserMessage(err), err)
}

func (f *reportFlags) emit(w io.Writer, summary lookup.QuerySummary, logger *zap.Logger) error {
	if f.csvPath != "" {
		if err := writeCSVFile(f.csvPath, summary); err != nil {
			return err
		}
		logger.Info("csv written", zap.String("path", f.csvPath), zap.String("name", export.FileName(summary)))
	}
	if f.json {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(summary)
	}
	return printSummary(w, summary)
}

func writeCSVFile(path string, summary lookup.QuerySummary) (retErr error) {
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create csv: %w", err)
	}
	defer func() {
		if cerr := file.Close(); cerr != nil && retErr == nil {
			retErr = fmt.Errorf("close csv: %w", cerr)
		}
	}()
	return export.WriteCSV(file, summary)
}

func printSummary(w io.Writer, summary lookup.QuerySummary) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintf(tw, "CNPJ:\t%s\n", cnpj.Format(summary.Identifier))
	fmt.Fprintf(tw, "Year:\t%d\n", summary.Year)
	fmt.Fprintf(tw, "Matched rows:\t%d\n", summary.MatchedRows())
	if err := tw.Flush(); err != nil {
		return err
	}
	for _, entry := range summary.Entries {
		fmt.Fprintf(w, "\n%s (%d)\n", entry.Name, len(entry.Rows))
		for _, row := range entry.Rows {
			fmt.Fprintf(w, "  %s\n", formatRow(entry.Headers, row))
		}
	}
	_, err := fmt.Fprintf(w, "\n%s\n", query.Disclaimer)
	return err
}

func formatRow(headers, row []string) string {
	parts := make([]string, len(row))
	for i, cell := range row {
		if i < len(headers) && headers[i] != "" {
			parts[i] = headers[i] + "=" + cell
			continue
		}
		parts[i] = cell
	}
	return strings.Join(parts, " | ")
}

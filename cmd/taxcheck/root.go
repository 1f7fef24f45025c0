package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/ashureev/smartfin/internal/tax"
)

// errNonCompliant makes the command exit non-zero after printing a report
// with findings.
var errNonCompliant = fmt.Errorf("document is not compliant")

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "taxcheck",
		Short:         "Audit NF-e documents against ICMS, federal tax and total rules",
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	rootCmd.AddCommand(newValidateCmd())
	return rootCmd
}

func newValidateCmd() *cobra.Command {
	var simples bool
	var strict bool

	cmd := &cobra.Command{
		Use:   "validate <nfe.xml>",
		Short: "Print a JSON compliance report for every item and the document total",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := os.Open(args[0])
			if err != nil {
				return err
			}
			defer func() { _ = f.Close() }()

			rep, err := audit(f, simplesOverride(cmd, simples))
			if err != nil {
				return err
			}
			if err := writeReport(cmd.OutOrStdout(), rep); err != nil {
				return err
			}
			if strict && !rep.Compliant {
				return errNonCompliant
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&simples, "simples", false, "treat the issuer as Simples Nacional regardless of its CRT")
	cmd.Flags().BoolVar(&strict, "strict", false, "exit with an error when the document is not compliant")
	return cmd
}

// simplesOverride returns nil when --simples was not given so the CRT read
// from the document decides.
func simplesOverride(cmd *cobra.Command, simples bool) *bool {
	if !cmd.Flags().Changed("simples") {
		return nil
	}
	return &simples
}

func audit(r io.Reader, simples *bool) (tax.Report, error) {
	doc, err := tax.ParseNFe(r)
	if err != nil {
		return tax.Report{}, err
	}
	if simples != nil {
		doc.SetSimplesNacional(*simples)
	}
	return tax.Audit(doc), nil
}

func writeReport(w io.Writer, rep tax.Report) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(rep); err != nil {
		return fmt.Errorf("encode report: %w", err)
	}
	_, err := fmt.Fprintln(w, "compliant: "+strconv.FormatBool(rep.Compliant))
	return err
}

package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"FaceVerify/verify"

	"github.com/spf13/cobra"
)

const (
	CodeVerified   = 0
	CodeError      = 1
	CodeUnverified = 2
)

var verifyJSON bool

var verifyCmd = &cobra.Command{
	Use:   "verify",
	Short: "Run one headless verification and exit 0 (verified), 2 (unverified) or 1 (error)",
	RunE: func(cmd *cobra.Command, args []string) error {
		rt, err := newRuntime(Cfg)
		if err != nil {
			return err
		}
		defer rt.Close()

		res, err := rt.verifier.Verify(cmd.Context())
		if err != nil {
			return &ExitError{Code: CodeError, Err: err}
		}
		if err := printResult(os.Stdout, res, verifyJSON); err != nil {
			return err
		}
		if !res.Verified {
			return &ExitError{Code: CodeUnverified}
		}
		return nil
	},
}

func printResult(w io.Writer, res *verify.Result, asJSON bool) error {
	if asJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(res)
	}
	fmt.Fprintln(w, strings.Repeat("#", 64))
	for i, ref := range res.References {
		fmt.Fprintf(w, "%-40s %.4f\n", ref, res.Scores[i])
	}
	for _, ref := range res.Skipped {
		fmt.Fprintf(w, "%-40s skipped\n", ref)
	}
	fmt.Fprintln(w, strings.Repeat("#", 64))
	fmt.Fprintf(w, "detections: %d/%d  ratio: %.2f\n", res.Detections, len(res.Scores), res.Ratio)
	fmt.Fprintln(w, verify.Label(res, nil))
	return nil
}

func init() {
	verifyCmd.Flags().BoolVar(&verifyJSON, "json", false, "print the result as JSON")
	rootCmd.AddCommand(verifyCmd)
}

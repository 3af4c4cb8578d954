package cmd

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"

	"FaceVerify/engine"
	"FaceVerify/logger"
	"FaceVerify/preprocess"
	"FaceVerify/verify"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var referencesCmd = &cobra.Command{
	Use:   "references",
	Short: "Check that every reference image can be read and preprocessed",
	RunE: func(cmd *cobra.Command, args []string) error {
		pre := preprocess.Preprocessor{Width: preprocess.DefaultWidth, Height: preprocess.DefaultHeight}
		if m, err := engine.ReadManifest(Cfg.Model.Manifest); err == nil {
			pre.Width, pre.Height = m.Input.Width, m.Input.Height
		} else {
			logger.Log().Warn("manifest unreadable, using default input size", zap.Error(err))
		}

		report, err := checkReferences(cmd.Context().Done(), Cfg.Verification.VerificationDir, pre, os.Stderr)
		if err != nil {
			return err
		}
		report.write(os.Stdout)
		if report.Usable == 0 {
			return fmt.Errorf("%w: nothing usable in %s", verify.ErrEmptyReferenceSet, Cfg.Verification.VerificationDir)
		}
		return nil
	},
}

type referenceReport struct {
	Usable     int
	Unreadable map[string]error
}

// write prints the summary followed by the unreadable references by name.
func (r *referenceReport) write(w io.Writer) {
	fmt.Fprintf(w, "%d usable, %d unreadable\n", r.Usable, len(r.Unreadable))
	names := make([]string, 0, len(r.Unreadable))
	for name := range r.Unreadable {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		fmt.Fprintf(w, "  %s: %v\n", name, r.Unreadable[name])
	}
}

func checkReferences(done <-chan struct{}, dir string, pre preprocess.Preprocessor, progress io.Writer) (*referenceReport, error) {
	refs, err := verify.ListReferences(dir)
	if err != nil {
		return nil, err
	}

	bar := progressbar.NewOptions(len(refs),
		progressbar.OptionSetDescription("Checking references"),
		progressbar.OptionSetWriter(progress),
		progressbar.OptionShowCount(),
	)
	report := &referenceReport{Unreadable: map[string]error{}}
	for _, ref := range refs {
		select {
		case <-done:
			return report, fmt.Errorf("interrupted")
		default:
		}
		if _, err := pre.Preprocess(filepath.Join(dir, ref)); err != nil {
			report.Unreadable[ref] = err
		} else {
			report.Usable++
		}
		_ = bar.Add(1)
	}
	_ = bar.Finish()
	fmt.Fprintln(progress)
	return report, nil
}

func init() {
	rootCmd.AddCommand(referencesCmd)
}

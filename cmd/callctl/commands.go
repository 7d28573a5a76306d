package main

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"call-pipeline-go/internal/aggregator"
	"call-pipeline-go/internal/dataset"
	"call-pipeline-go/internal/pipeline"
	"call-pipeline-go/internal/types"
)

// --- process ---

var processCmd = &cobra.Command{
	Use:   "process <call-id>",
	Short: "Run the full pipeline for one stored call",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		audioURL, _ := cmd.Flags().GetString("audio-url")
		summaryPrompt, _ := cmd.Flags().GetString("summary-prompt")
		feedbackPrompt, _ := cmd.Flags().GetString("feedback-prompt")
		behaviors, _ := cmd.Flags().GetString("behaviors")

		a, err := buildApp()
		if err != nil {
			return err
		}
		defer a.Close()

		res, err := a.Runner.Run(cmd.Context(), pipeline.Request{
			CallID:              args[0],
			AudioURL:            audioURL,
			SummaryPrompt:       summaryPrompt,
			FeedbackPrompt:      feedbackPrompt,
			SelectedBehaviorIDs: splitList(behaviors),
		})
		if err != nil {
			return err
		}
		if res.Degraded {
			printWarning("%s: %s", res.CallID, res.Message)
		} else {
			printSuccess("%s: %s", res.CallID, res.Message)
		}
		return printJSON(cmd.OutOrStdout(), res)
	},
}

func init() {
	processCmd.Flags().String("audio-url", "", "override the stored audio URL")
	processCmd.Flags().String("summary-prompt", "", "custom summary instructions")
	processCmd.Flags().String("feedback-prompt", "", "custom feedback instructions")
	processCmd.Flags().String("behaviors", "", "comma-separated behavior ids to evaluate")
}

// --- import ---

var importCmd = &cobra.Command{
	Use:   "import <file.xlsx>",
	Short: "Create pending calls from a spreadsheet",
	Long: `Create pending calls from the first sheet of an xlsx file.

The header row is matched loosely: a column mentioning audio, url or
grabación holds the recording; title, agent/asesor, account/cuenta and id
columns are optional. Pending calls are picked up by the sweeper.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		account, _ := cmd.Flags().GetString("account")

		calls, err := dataset.Load(args[0], account)
		if err != nil {
			return err
		}
		a, err := buildApp()
		if err != nil {
			return err
		}
		defer a.Close()

		created := 0
		for i := range calls {
			if calls[i].AccountID == "" {
				printWarning("row for %s has no account, skipped", calls[i].AudioURL)
				continue
			}
			if err := a.Store.CreateCall(cmd.Context(), &calls[i]); err != nil {
				printWarning("%s: %v", calls[i].AudioURL, err)
				continue
			}
			created++
		}
		printSuccess("Imported %d of %d calls", created, len(calls))
		return nil
	},
}

func init() {
	importCmd.Flags().String("account", "", "account for rows without an account column")
}

// --- export ---

var exportCmd = &cobra.Command{
	Use:   "export <file.xlsx>",
	Short: "Export an account's calls and feedback to a spreadsheet",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		account, _ := cmd.Flags().GetString("account")
		if account == "" {
			return fmt.Errorf("--account is required")
		}

		a, err := buildApp()
		if err != nil {
			return err
		}
		defer a.Close()

		calls, err := a.Store.ListCalls(cmd.Context(), account)
		if err != nil {
			return err
		}
		rows, err := a.Store.ListFeedbackByAccount(cmd.Context(), account)
		if err != nil {
			return err
		}
		if err := dataset.Export(args[0], calls, latestFeedback(rows), aggregator.Aggregate(account, rows)); err != nil {
			return err
		}
		printSuccess("Exported %d calls to %s", len(calls), args[0])
		return nil
	},
}

func init() {
	exportCmd.Flags().String("account", "", "account to export")
}

// latestFeedback keeps the newest feedback row per call.
func latestFeedback(rows []types.FeedbackRecord) map[string]types.FeedbackRecord {
	out := make(map[string]types.FeedbackRecord, len(rows))
	for _, r := range rows {
		if prev, ok := out[r.CallID]; !ok || r.CreatedAt.After(prev.CreatedAt) {
			out[r.CallID] = r
		}
	}
	return out
}

// --- transcribe-batch ---

var transcribeBatchCmd = &cobra.Command{
	Use:   "transcribe-batch [url...]",
	Short: "Transcribe many recordings without storing them",
	Long: `Transcribe many recordings concurrently and print the speaker-tagged
transcripts as JSON. URLs come from the arguments and from --file, one per
line.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		file, _ := cmd.Flags().GetString("file")
		urls := append([]string(nil), args...)
		if file != "" {
			fromFile, err := readLines(file)
			if err != nil {
				return err
			}
			urls = append(urls, fromFile...)
		}
		if len(urls) == 0 {
			return fmt.Errorf("at least one url or --file is required")
		}

		a, err := buildApp()
		if err != nil {
			return err
		}
		defer a.Close()

		results := a.Batch.Transcribe(cmd.Context(), urls)
		return printJSON(cmd.OutOrStdout(), results)
	},
}

func init() {
	transcribeBatchCmd.Flags().String("file", "", "file with one audio URL per line")
}

// --- sweep ---

var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Process pending calls once",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := buildApp()
		if err != nil {
			return err
		}
		defer a.Close()
		if a.Sweeper == nil {
			return fmt.Errorf("sweeper is disabled in config")
		}

		report, err := a.Sweeper.Sweep(cmd.Context())
		if err != nil {
			return err
		}
		printSuccess("Found %d pending calls: %d completed, %d degraded, %d failed, %d skipped",
			report.Found, report.Completed, report.Degraded, report.Failed, report.Skipped)
		return nil
	},
}

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func readLines(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", path, err)
	}
	defer f.Close()

	var lines []string
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line != "" && !strings.HasPrefix(line, "#") {
			lines = append(lines, line)
		}
	}
	return lines, sc.Err()
}

package cli

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"webrag/internal/domain"
	"webrag/internal/usecase"
)

var (
	askQuestion   string
	askJSON       bool
	askNoProgress bool
)

var askCmd = &cobra.Command{
	Use:   "ask",
	Short: "Answer questions from the web",
	Long: `Search the web, store what was found and answer from the knowledge store.

Without -q an interactive loop reads one question per line until "exit",
"quit" or end of input.

Examples:
  webrag ask
  webrag ask -q "What is vector database?"
  webrag ask -q "What is vector database?" --json`,
	RunE: runAsk,
}

func init() {
	rootCmd.AddCommand(askCmd)
	registerAskFlags(askCmd)
}

func registerAskFlags(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&askQuestion, "query", "q", "", "ask a single question and exit")
	cmd.Flags().BoolVar(&askJSON, "json", false, "output as JSON (with -q)")
	cmd.Flags().BoolVar(&askNoProgress, "no-progress", false, "hide the progress bar")
}

// Asker answers one question.
type Asker interface {
	Ask(ctx context.Context, question string) (*domain.Answer, error)
}

func runAsk(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	out := cmd.OutOrStdout()

	if askQuestion == "" {
		fmt.Fprintln(out, "Connecting to knowledge store...")
	}

	d, err := buildDeps(ctx, GetConfig(), GetRootDir(), logger)
	if err != nil {
		return err
	}
	defer d.Close()

	if askQuestion != "" {
		if !askJSON {
			d.ask.SetProgress(newProgress(out, !askNoProgress))
		}
		answer, err := d.ask.Ask(ctx, askQuestion)
		if err != nil {
			return err
		}
		if askJSON {
			output, _ := json.MarshalIndent(answer, "", "  ")
			fmt.Fprintln(out, string(output))
			return nil
		}
		printAnswer(out, answer)
		return nil
	}

	d.ask.SetProgress(newProgress(out, !askNoProgress))
	return runLoop(ctx, cmd.InOrStdin(), out, d.ask)
}

// runLoop reads questions line by line until exit, quit or EOF. A failed
// question is reported and the loop prompts again.
func runLoop(ctx context.Context, in io.Reader, out io.Writer, asker Asker) error {
	fmt.Fprintln(out, "\nKnowledge RAG System Ready. Enter your question (or 'exit' to quit)")

	scanner := bufio.NewScanner(in)
	for {
		fmt.Fprint(out, "\nYour question: ")
		if !scanner.Scan() {
			break
		}

		question := strings.TrimSpace(scanner.Text())
		if q := strings.ToLower(question); q == "exit" || q == "quit" {
			break
		}
		if question == "" {
			continue
		}

		answer, err := asker.Ask(ctx, question)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				fmt.Fprintln(out, "\nExiting...")
				return nil
			}
			fmt.Fprintf(out, "\nError: %v\n", err)
			continue
		}
		printAnswer(out, answer)
	}

	fmt.Fprintln(out)
	return scanner.Err()
}

func printAnswer(out io.Writer, answer *domain.Answer) {
	if answer.Empty {
		fmt.Fprintln(out, "No search results found. Try a different query.")
		return
	}

	fmt.Fprintf(out, "\nProcessed %d new knowledge sources\n", answer.Stored)

	if len(answer.Snippets) == 0 {
		fmt.Fprintln(out, "Could not generate answer. Try a different query.")
		return
	}

	fmt.Fprintf(out, "\nAnswer for: '%s'\n", answer.Question)
	fmt.Fprintln(out, strings.Repeat("-", 50))
	fmt.Fprintln(out, answer.Text)
	fmt.Fprintln(out, strings.Repeat("=", 50))
}

// newProgress prints the stage markers to out and, when bar is set, a
// per-source progress bar to stderr.
func newProgress(out io.Writer, bar bool) usecase.Progress {
	var pb *progressbar.ProgressBar

	finish := func() {
		if pb != nil {
			_ = pb.Finish()
			pb = nil
		}
	}

	return usecase.Progress{
		OnStage: func(stage usecase.Stage) {
			switch stage {
			case usecase.StageSearching:
				finish()
				fmt.Fprintln(out, "\nSearching web...")
			case usecase.StageProcessing:
				fmt.Fprintln(out, "\nProcessing and storing knowledge...")
				if bar {
					pb = progressbar.NewOptions(-1,
						progressbar.OptionSetWriter(os.Stderr),
						progressbar.OptionEnableColorCodes(true),
						progressbar.OptionSetDescription("[cyan]Sources[reset]"),
						progressbar.OptionShowCount(),
						progressbar.OptionSpinnerType(14),
						progressbar.OptionClearOnFinish(),
					)
				}
			case usecase.StageAnswering:
				finish()
				fmt.Fprintln(out, "\nGenerating answer...")
			}
		},
		OnSource: func(doc domain.Document, kept bool) {
			title := doc.Title
			if title == "" {
				title = doc.URL
			}
			if pb != nil {
				pb.Describe("[cyan]" + title + "[reset]")
				_ = pb.Add(1)
				return
			}
			if kept {
				fmt.Fprintf(out, "Stored: %s (%s)\n", title, doc.SourceType())
			}
		},
	}
}

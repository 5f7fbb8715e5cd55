package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/tjfontaine/theory-council/internal/core/domain"
	"github.com/tjfontaine/theory-council/pkg/council"
)

const (
	outputBanner = "=== Theory Council Output ==="
	noOutput     = "(no output produced)"
)

type runOptions struct {
	problem string
	stream  bool
}

func newRunCmd(root *rootOptions) *cobra.Command {
	opts := &runOptions{}

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the council once and print the synthesis",
		Long: "Run the full Theory Council pipeline for one behavior-change problem.\n" +
			"When --problem is omitted the problem is read from stdin.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			logger, err := newLogger(cmd.ErrOrStderr(), root.logLevel)
			if err != nil {
				return err
			}

			problem := strings.TrimSpace(opts.problem)
			if problem == "" {
				problem, err = promptForProblem(cmd.InOrStdin(), cmd.OutOrStdout())
				if err != nil {
					return err
				}
			}

			c, err := council.New(
				council.WithLogger(logger),
				council.WithFileConfig(root.configPath),
			)
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			if err := c.Start(ctx); err != nil {
				return err
			}
			defer func() {
				shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
				defer cancel()
				_ = c.Shutdown(shutdownCtx)
			}()

			var result *domain.PipelineResult
			if opts.stream {
				result, err = streamRun(ctx, c, problem, cmd.OutOrStdout())
			} else {
				var record *domain.RunRecord
				record, err = c.Runner().Run(ctx, problem, uuid.NewString(), nil)
				if record != nil {
					result = record.Result
				}
			}
			if err != nil {
				return err
			}

			printResult(cmd.OutOrStdout(), result)
			return nil
		},
	}
	cmd.Flags().StringVarP(&opts.problem, "problem", "p", "", "Problem description text")
	cmd.Flags().BoolVar(&opts.stream, "stream", false, "Print each stage as it completes")
	return cmd
}

func promptForProblem(in io.Reader, out io.Writer) (string, error) {
	fmt.Fprintln(out, "Describe your behavior-change or psychological intervention challenge.")
	fmt.Fprint(out, "Problem description: ")

	line, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", fmt.Errorf("read problem: %w", err)
	}
	problem := strings.TrimSpace(line)
	if problem == "" {
		return "", errors.New("a problem description is required")
	}
	return problem, nil
}

// streamRun prints each trace as the run progresses and returns the stored
// result.
func streamRun(ctx context.Context, c *council.Council, problem string, out io.Writer) (*domain.PipelineResult, error) {
	var result *domain.PipelineResult
	for ev := range c.Runner().Stream(ctx, problem, uuid.NewString(), nil) {
		switch {
		case ev.Err != nil:
			return nil, ev.Err
		case ev.Trace != nil:
			fmt.Fprintf(out, "--- %s (%.0f ms) ---\n%s\n\n", ev.Trace.Label, ev.Trace.DurationMS, ev.Trace.Output)
		case ev.Record != nil:
			result = ev.Record.Result
		}
	}
	if result == nil {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		return nil, errors.New("run ended without a result")
	}
	return result, nil
}

func printResult(out io.Writer, result *domain.PipelineResult) {
	text := ""
	if result != nil {
		text = strings.TrimSpace(result.FinalText)
	}
	if text == "" {
		text = noOutput
	}
	fmt.Fprintln(out, outputBanner)
	fmt.Fprintln(out, text)
}

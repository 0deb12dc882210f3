package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"

	"github.com/matiasleandrokruk/lightspeed/internal/domain/assistant"
	"github.com/matiasleandrokruk/lightspeed/internal/domain/eval"
)

// scoreReport is the JSON document written by `lightspeed score`.
type scoreReport struct {
	JudgeProvider string        `json:"judge_provider"`
	JudgeModel    string        `json:"judge_model"`
	Results       []eval.Result `json:"results"`
	Summary       eval.Summary  `json:"summary"`
}

func runScore(args []string, out io.Writer) int {
	fs, common := newFlagSet("score")
	casesPath := fs.String("cases", "", "YAML file with question/answer cases (required)")
	judgeProvider := fs.String("judge-provider", "", "Provider of the judge model (default ols_config.default_provider)")
	judgeModel := fs.String("judge-model", "", "Judge model (default ols_config.default_model)")
	attempts := fs.Int("retries", eval.MaxRetryAttempts, "Judge attempts per case")
	pause := fs.Duration("pause", eval.TimeToBreath, "Pause between judge attempts")
	output := fs.StringP("output", "o", "", "Write the JSON report here instead of stdout")
	if code, done := parseFlags(fs, common, args, out); done {
		return code
	}
	if *casesPath == "" {
		fmt.Fprintln(out, "score: --cases is required") //nolint:errcheck
		return 2
	}
	if (*judgeProvider == "") != (*judgeModel == "") {
		fmt.Fprintln(out, "score: --judge-provider and --judge-model must be set together") //nolint:errcheck
		return 2
	}

	cfg, logger, err := loadConfig(*common.configPath)
	if err != nil {
		fmt.Fprintf(out, "score: %v\n", err) //nolint:errcheck
		return 1
	}
	cases, err := eval.LoadCases(*casesPath)
	if err != nil {
		fmt.Fprintf(out, "score: %v\n", err) //nolint:errcheck
		return 1
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		logger.Error("startup failed", slog.String("error", err.Error()))
		return 1
	}
	defer a.close(context.Background()) //nolint:errcheck

	report := scoreReport{JudgeProvider: *judgeProvider, JudgeModel: *judgeModel}
	if report.JudgeProvider == "" {
		report.JudgeProvider, report.JudgeModel = a.models.Default()
	}
	judge, err := a.models.Load(report.JudgeProvider, report.JudgeModel, nil)
	if err != nil {
		fmt.Fprintf(out, "score: load judge: %v\n", err) //nolint:errcheck
		return 1
	}

	scorer := eval.NewAnswerSimilarityScore(judge, eval.WithRetry(*attempts, *pause), eval.WithLogger(logger))
	answer := func(ctx context.Context, question string) (string, error) {
		resp, err := a.service.Query(ctx, assistant.QueryRequest{Query: question})
		if err != nil {
			return "", err
		}
		return resp.Response, nil
	}
	report.Results, report.Summary = eval.Run(ctx, scorer, cases, answer)

	if err := writeReport(report, *output, out); err != nil {
		fmt.Fprintf(out, "score: %v\n", err) //nolint:errcheck
		return 1
	}
	return 0
}

func writeReport(report scoreReport, path string, out io.Writer) error {
	w := out
	if path != "" {
		f, err := os.Create(path)
		if err != nil {
			return fmt.Errorf("create report: %w", err)
		}
		defer f.Close()
		w = f
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(report); err != nil {
		return fmt.Errorf("write report: %w", err)
	}
	return nil
}

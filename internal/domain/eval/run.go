package eval

import (
	"context"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Case is one evaluation question with its reference answer. Response is
// optional; when empty the Answerer produces it.
type Case struct {
	ID       string `yaml:"id"`
	Question string `yaml:"question"`
	Answer   string `yaml:"answer"`
	Response string `yaml:"response"`
}

// Result is the outcome of one case. Score is nil when the judge gave up.
type Result struct {
	ID       string   `json:"id"`
	Question string   `json:"question"`
	Response string   `json:"response"`
	Score    *float64 `json:"score"`
	Error    string   `json:"error,omitempty"`
}

// Summary aggregates a run.
type Summary struct {
	Cases   int     `json:"cases"`
	Scored  int     `json:"scored"`
	Average float64 `json:"average"`
}

// Answerer produces a response for a question, usually through the query pipeline.
type Answerer func(ctx context.Context, question string) (string, error)

// LoadCases reads a YAML list of cases.
func LoadCases(path string) ([]Case, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("eval: read cases: %w", err)
	}
	var cases []Case
	if err := yaml.Unmarshal(raw, &cases); err != nil {
		return nil, fmt.Errorf("eval: parse cases: %w", err)
	}
	for i := range cases {
		if cases[i].ID == "" {
			cases[i].ID = fmt.Sprintf("case-%d", i+1)
		}
	}
	return cases, nil
}

// Run scores every case in order. A case whose response cannot be produced
// is reported with its error and no score.
func Run(ctx context.Context, scorer *AnswerSimilarityScore, cases []Case, answer Answerer) ([]Result, Summary) {
	results := make([]Result, 0, len(cases))
	var sum Summary
	var total float64
	for _, c := range cases {
		if ctx.Err() != nil {
			break
		}
		res := Result{ID: c.ID, Question: c.Question, Response: c.Response}
		if res.Response == "" {
			if answer == nil {
				res.Error = "no response and no answerer"
				results = append(results, res)
				continue
			}
			resp, err := answer(ctx, c.Question)
			if err != nil {
				res.Error = err.Error()
				results = append(results, res)
				continue
			}
			res.Response = resp
		}
		res.Score = scorer.Score(ctx, c.Question, c.Answer, res.Response)
		if res.Score != nil {
			sum.Scored++
			total += *res.Score
		}
		results = append(results, res)
	}
	sum.Cases = len(results)
	if sum.Scored > 0 {
		sum.Average = total / float64(sum.Scored)
	}
	return results, sum
}

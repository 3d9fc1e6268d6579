// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"

	"github.com/AleutianAI/budgetcliff/services/study/annotation"
	"github.com/AleutianAI/budgetcliff/services/study/samples"
)

func runAnnotateLabel(cmd *cobra.Command, args []string) error {
	return withApp(func(ctx context.Context, a *app, _ []string) error {
		n, err := a.label(ctx, budgetFlag, huhLabeler{})
		if err != nil {
			return err
		}
		a.out.Success("%d tasks labeled at budget %d", n, budgetFlag)
		if n > 0 {
			a.out.Info("Run 'budgetcliff annotate export --budget %d --force' to refresh the TSV file", budgetFlag)
		}
		return nil
	})(cmd, args)
}

// labelPrompt is what the annotator sees for one task.
type labelPrompt struct {
	Task       annotation.Task
	Sample     samples.Sample
	Question   string
	Suggestion annotation.Suggestion
	Position   int
	Total      int
}

// labeler asks for one label. A row with an empty SampleRef skips the task;
// next=false ends the session after this task.
type labeler interface {
	Label(ctx context.Context, p labelPrompt) (row annotation.Row, next bool, err error)
}

// label walks the unlabeled tasks at budget in export order and imports
// each answer as it is given, so quitting midway keeps earlier labels.
func (a *app) label(ctx context.Context, budget int, l labeler) (int, error) {
	if budget <= 0 {
		return 0, fmt.Errorf("budget must be positive, got %d", budget)
	}
	tasks, err := a.workflow.Tasks(ctx, budget)
	if err != nil {
		return 0, err
	}
	var todo []annotation.Task
	for _, t := range tasks {
		if t.State == annotation.StateUnlabeled {
			todo = append(todo, t)
		}
	}
	if len(todo) == 0 {
		a.out.Info("Nothing to label at budget %d", budget)
		return 0, nil
	}

	ss, err := samples.Collect(ctx, a.samples, samples.Filter{Budgets: []int{budget}, Correct: samples.Ptr(false)})
	if err != nil {
		return 0, err
	}
	byRef := make(map[string]samples.Sample, len(ss))
	for _, s := range ss {
		byRef[s.Ref()] = s
	}
	questions := a.questions()

	labeled := 0
	for i, t := range todo {
		s := byRef[t.SampleRef]
		question := questions[t.ProblemID]
		row, next, err := l.Label(ctx, labelPrompt{
			Task:       t,
			Sample:     s,
			Question:   question,
			Suggestion: annotation.Suggest(s, question),
			Position:   i + 1,
			Total:      len(todo),
		})
		if errors.Is(err, huh.ErrUserAborted) {
			break
		}
		if err != nil {
			return labeled, err
		}
		if row.SampleRef != "" {
			res, err := a.workflow.ImportLabels(ctx, []annotation.Row{row})
			if err != nil {
				return labeled, err
			}
			labeled += res.Labeled
		}
		if !next {
			break
		}
	}
	return labeled, nil
}

// huhLabeler asks through an interactive terminal form.
type huhLabeler struct{}

const skipOption = "skip"

func (huhLabeler) Label(ctx context.Context, p labelPrompt) (annotation.Row, bool, error) {
	errorType := string(p.Suggestion.ErrorType)
	location := p.Task.ErrorLocation
	recoverable := string(p.Task.Recoverable)
	if p.Task.Recoverable == annotation.RecoverableUnset {
		recoverable = string(p.Suggestion.Recoverable)
	}
	notes := p.Task.Notes
	next := true

	typeOptions := make([]huh.Option[string], 0, len(annotation.ErrorTypes)+1)
	for _, t := range annotation.ErrorTypes {
		typeOptions = append(typeOptions, huh.NewOption(fmt.Sprintf("%s: %s", t, t.Describe()), string(t)))
	}
	typeOptions = append(typeOptions, huh.NewOption("skip this task", skipOption))

	form := huh.NewForm(
		huh.NewGroup(
			huh.NewNote().
				Title(fmt.Sprintf("[%d/%d] %s", p.Position, p.Total, p.Task.SampleRef)).
				Description(describeSample(p)),
			huh.NewSelect[string]().
				Title("Error type").
				Options(typeOptions...).
				Value(&errorType),
			huh.NewInput().
				Title("Error location").
				Placeholder("e.g. step 3, 15 * 4 = 50").
				Value(&location),
			huh.NewSelect[string]().
				Title("Recoverable with more budget?").
				Options(
					huh.NewOption("yes", string(annotation.RecoverableYes)),
					huh.NewOption("no", string(annotation.RecoverableNo)),
					huh.NewOption("unknown", string(annotation.RecoverableUnknown)),
				).
				Value(&recoverable),
			huh.NewText().
				Title("Notes").
				Lines(3).
				Value(&notes),
			huh.NewConfirm().
				Title("Continue to the next task?").
				Affirmative("Next").
				Negative("Save and quit").
				Value(&next),
		),
	)
	if err := form.RunWithContext(ctx); err != nil {
		return annotation.Row{}, false, err
	}
	if errorType == skipOption {
		return annotation.Row{}, next, nil
	}
	return annotation.Row{
		SampleRef:     p.Task.SampleRef,
		ErrorType:     errorType,
		ErrorLocation: strings.TrimSpace(location),
		Recoverable:   recoverable,
		Notes:         strings.TrimSpace(notes),
		Present:       annotation.AllColumns,
	}, next, nil
}

// describeSample is the context block shown above the form.
func describeSample(p labelPrompt) string {
	var b strings.Builder
	if p.Question != "" {
		fmt.Fprintf(&b, "Question: %s\n\n", p.Question)
	}
	predicted := "N/A"
	if p.Sample.ExtractedAnswer != nil {
		predicted = *p.Sample.ExtractedAnswer
	}
	fmt.Fprintf(&b, "Ground truth: %s   Predicted: %s   Tokens: %s/%d\n\n",
		p.Sample.GroundTruth, predicted, strconv.Itoa(p.Sample.TokensUsed), p.Sample.Budget)
	b.WriteString(tail(p.Sample.GeneratedText, 800))
	if p.Suggestion.ErrorType != "" {
		fmt.Fprintf(&b, "\n\nSuggested: %s (%s, confidence %.2f)", p.Suggestion.ErrorType, p.Suggestion.Location, p.Suggestion.Confidence)
	}
	return b.String()
}

// tail keeps the last n runes of s.
func tail(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return "..." + string(r[len(r)-n:])
}

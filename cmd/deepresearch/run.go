package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/rahul/deepresearch/internal/journal"
	"github.com/rahul/deepresearch/internal/observability"
	"github.com/rahul/deepresearch/internal/research"
)

func runCMD(cfgPath *string) *cobra.Command {
	var (
		planFile string
		academic bool
		asJSON   bool
		provider string
		model    string
	)
	cmd := &cobra.Command{
		Use:   "run <question>",
		Short: "Research a question and print the report",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			tty := !asJSON && observability.IsTerminal(os.Stdout)
			a, err := newApp(*cfgPath, appOptions{Console: tty})
			if err != nil {
				return err
			}
			defer a.Close()

			req := research.Request{
				RunID:    uuid.NewString(),
				Question: strings.Join(args, " "),
				Provider: provider,
				Model:    model,
			}
			if academic {
				req.ResearchType = research.TypeAcademic
			}
			if planFile != "" {
				data, err := os.ReadFile(planFile)
				if err != nil {
					return fmt.Errorf("read plan: %w", err)
				}
				req.Plan = string(data)
			}
			a.prepare(&req)
			if req.Provider == "" {
				return fmt.Errorf("no provider: enable one in the config or pass --provider")
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			seq := a.orch.Run(ctx, req)
			if a.journal != nil {
				rec := &journal.Recorder{Journal: a.journal, Logger: a.logger}
				seq = rec.Record(ctx, req.RunID, req.Question, req.ResearchType, seq)
			}

			out := cmd.OutOrStdout()
			var r renderer = &jsonRenderer{enc: json.NewEncoder(out)}
			if tty {
				r = &textRenderer{out: out}
			}
			for ev, err := range seq {
				if err != nil {
					r.Fail(err)
					return err
				}
				r.Event(ev)
			}
			if ctx.Err() != nil {
				return fmt.Errorf("research cancelled")
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&planFile, "plan", "", "file with a JSON research plan to use instead of generating one")
	cmd.Flags().BoolVar(&academic, "academic", false, "run an academic-style study")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print events as JSON lines")
	cmd.Flags().StringVar(&provider, "provider", "", "provider name (default: first enabled in config)")
	cmd.Flags().StringVar(&model, "model", "", "model override")
	return cmd
}

type renderer interface {
	Event(research.Event)
	Fail(error)
}

type jsonRenderer struct {
	enc *json.Encoder
}

func (r *jsonRenderer) Event(ev research.Event) {
	_ = r.enc.Encode(ev)
}

func (r *jsonRenderer) Fail(err error) {
	_ = r.enc.Encode(map[string]string{"type": "error", "error": err.Error()})
}

// textRenderer draws step progress and streams the report for a terminal.
type textRenderer struct {
	out       io.Writer
	reporting bool
}

func (r *textRenderer) Event(ev research.Event) {
	switch e := ev.(type) {
	case research.ResearchStepEvent:
		line := fmt.Sprintf("%s Step %d/%d  %s", observability.StepMark(e.Status), e.Step, e.Total, e.Title)
		if e.DurationMs != nil {
			line += fmt.Sprintf("  (%.1fs)", float64(*e.DurationMs)/1000)
		}
		if e.Error != "" {
			line += "  " + e.Error
		}
		fmt.Fprintln(r.out, line)
	case research.ToolCallEvent:
		fmt.Fprintf(r.out, "    → %s %s\n", e.Name, e.Arguments)
	case research.ToolResultEvent:
		if e.Status == research.StatusError {
			fmt.Fprintf(r.out, "    %s %s: %s\n", observability.StepMark(e.Status), e.Name, e.Error)
		}
	case research.TextEvent:
		if !r.reporting {
			r.reporting = true
			fmt.Fprintln(r.out, observability.Rule())
		}
		fmt.Fprint(r.out, e.Content)
	case research.DoneEvent:
		fmt.Fprintln(r.out)
		if len(e.Sources) > 0 {
			fmt.Fprintln(r.out, observability.Rule())
			fmt.Fprintln(r.out, observability.Bold("Sources"))
			for i, s := range e.Sources {
				fmt.Fprintf(r.out, "[%d] %s %s\n", i+1, s.Title, s.URL)
			}
		}
	}
}

func (r *textRenderer) Fail(err error) {
	fmt.Fprintf(r.out, "\n%s %v\n", observability.StepMark(research.StatusError), err)
}

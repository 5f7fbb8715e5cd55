// Package council assembles the ten-stage Theory Council pipeline: problem
// framing, the intervention-mapping anchor, five theory lenses, debate,
// theory selection and integration.
package council

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/tjfontaine/theory-council/internal/config"
	"github.com/tjfontaine/theory-council/internal/core/domain"
	"github.com/tjfontaine/theory-council/internal/core/ports"
	"github.com/tjfontaine/theory-council/internal/pipeline"
)

// Stage categories recorded in trace metadata.
const (
	CategoryFraming    = "framing"
	CategoryAnchor     = "anchor"
	CategoryTheory     = "theory"
	CategorySynthesis  = "synthesis"
	CategoryDecision   = "decision"
	CategoryIntegrator = "integrator"
)

// Lens is one theory lens stage.
type Lens struct {
	Key    string
	Label  string
	prompt string
}

// Lenses lists the theory lenses in execution and presentation order.
var Lenses = []Lens{
	{Key: "sct", Label: "SCT (Social Cognitive Theory)", prompt: sctPrompt},
	{Key: "sdt", Label: "SDT (Self-Determination Theory)", prompt: sdtPrompt},
	{Key: "wise", Label: "Wise / Belonging", prompt: wisePrompt},
	{Key: "ra", Label: "Reasoned Action / Decision", prompt: raPrompt},
	{Key: "env_impl", Label: "Environment and Implementation", prompt: envImplPrompt},
}

// Sections are the headings the integrator is asked to produce.
var Sections = []pipeline.SectionHeader{
	{Marker: "1. Problem Framing", Key: "problem_framing"},
	{Marker: "2. Theory Council Debate", Key: "theory_council_debate"},
	{Marker: "3. Intervention Mapping Guide", Key: "intervention_mapping_guide"},
	{Marker: "4. Recommended Intervention Concept(s)", Key: "recommended_intervention_concepts"},
}

// Options configures the stage list.
type Options struct {
	Models  config.ModelsConfig
	Backend ports.Backend
	Tokens  ports.TokenCounter
}

// Stages builds the ordered stage list. Every stage but the integrator uses
// the default model.
func Stages(opts Options) []ports.Stage {
	def := opts.Models.Default
	integ := opts.Models.IntegratorOrDefault()

	stage := func(id, label, prompt, category string, model config.ModelConfig, ctx pipeline.ContextBuilder, bind pipeline.OutputBinder) *pipeline.LLMStage {
		return &pipeline.LLMStage{
			ID:           id,
			Label:        label,
			SystemPrompt: prompt,
			Context:      ctx,
			Bind:         bind,
			Model:        model.Model,
			Temperature:  model.Temperature,
			Metadata:     map[string]any{"category": category},
			Backend:      opts.Backend,
			Tokens:       opts.Tokens,
		}
	}

	stages := []ports.Stage{
		stage("problem_framer", "Problem Framer", problemFramerPrompt, CategoryFraming, def,
			problemContext, func(s string) domain.StateUpdate { return domain.StateUpdate{FramedProblem: &s} }),
		stage("im_anchor", "IM Anchor", imAnchorPrompt, CategoryAnchor, def,
			problemContext, func(s string) domain.StateUpdate { return domain.StateUpdate{AnchorSummary: &s} }),
	}

	for _, lens := range Lenses {
		st := stage(lens.Key, lens.Label, lens.prompt, CategoryTheory, def, theoryContext, bindLens(lens.Key))
		st.Metadata["theory_key"] = lens.Key
		stages = append(stages, st)
	}

	return append(stages,
		stage("debate_moderator", "Debate Moderator", debateModeratorPrompt, CategorySynthesis, def,
			debateContext, func(s string) domain.StateUpdate { return domain.StateUpdate{DebateSummary: &s} }),
		stage("theory_selector", "Theory Selector", theorySelectorPrompt, CategoryDecision, def,
			selectorContext, func(s string) domain.StateUpdate { return domain.StateUpdate{Ranking: &s} }),
		stage("integrator", "Integrator", integratorPrompt, CategoryIntegrator, integ,
			integratorContext, func(s string) domain.StateUpdate { return domain.StateUpdate{FinalText: &s} }),
	)
}

// NewEngine returns a pipeline engine running the council stages.
func NewEngine(opts Options, logger *slog.Logger) *pipeline.Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return pipeline.NewEngine(Stages(opts),
		pipeline.WithLogger(logger),
		pipeline.WithSections(Sections),
	)
}

func bindLens(key string) pipeline.OutputBinder {
	return func(s string) domain.StateUpdate {
		return domain.StateUpdate{Lenses: map[string]string{key: s}}
	}
}

func problemContext(s domain.PipelineState) string {
	return "RAW PROBLEM:\n" + s.RawInput +
		"\n\nAI-FRAMED PROBLEM:\n" + strings.TrimSpace(domain.Text(s.FramedProblem))
}

func theoryContext(s domain.PipelineState) string {
	return problemContext(s) + "\n\nIM ANCHOR SUMMARY:\n" + domain.Text(s.AnchorSummary)
}

func debateContext(s domain.PipelineState) string {
	return theoryContext(s) + "\n\nTHEORY AGENT OUTPUTS:\n" + combinedLensOutputs(s)
}

func selectorContext(s domain.PipelineState) string {
	return debateContext(s) + "\n\nDEBATE SUMMARY:\n" + domain.Text(s.DebateSummary)
}

func integratorContext(s domain.PipelineState) string {
	return selectorContext(s) + "\n\nTHEORY RANKING AND DECISION NOTE:\n" + domain.Text(s.Ranking)
}

// combinedLensOutputs renders the lens outputs present in s in lens order.
func combinedLensOutputs(s domain.PipelineState) string {
	var blocks []string
	for _, lens := range Lenses {
		out, ok := s.Lenses[lens.Key]
		if !ok {
			continue
		}
		blocks = append(blocks, fmt.Sprintf("=== %s OUTPUT (%s) ===\n%s", lens.Label, lens.Key, out))
	}
	if len(blocks) == 0 {
		return "(no theory outputs yet)"
	}
	return strings.Join(blocks, "\n\n")
}

package pipelines

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/VedantShirgaonkar/Datathon-LastStraw/pkg/events"
	"github.com/VedantShirgaonkar/Datathon-LastStraw/pkg/inference/engine"
)

// Phase names shared by every specialization.
const (
	PhaseCollecting = "collecting"
	PhaseEvaluating = "evaluating"
	PhaseRefining   = "refining"
	PhaseDone       = "done"
)

// Verdicts an evaluator node can produce.
const (
	VerdictPass = "pass"
	VerdictFail = "fail"
)

// Evaluation is the structured judgment of an evaluator node: a discrete
// verdict plus, where applicable, a numeric quality score and the stated
// deficiencies the refine step feeds back to the model.
type Evaluation struct {
	Verdict       string  `json:"verdict"`
	Score         float64 `json:"score,omitempty"`
	Justification string  `json:"justification,omitempty"`
}

// Outcome is what every pipeline returns. Exhausted distinguishes
// retry-ceiling truncation from a clean pass, so callers can tell the two
// apart programmatically rather than by parsing the caveat text.
type Outcome struct {
	Answer    string `json:"answer"`
	Caveated  bool   `json:"caveated"`
	Exhausted bool   `json:"exhausted"`
	Retries   int    `json:"retries"`
}

// Node is one step of a pipeline run. Next is evaluated after Run succeeds
// and names the following node; an empty string ends the run. Refine marks
// the node as a loop-back target: every transition into it consumes one
// retry, and transitions past the ceiling are redirected to the runner's
// ceiling node instead.
type Node struct {
	Run    func(ctx context.Context) error
	Next   func() string
	Refine bool
}

// safety cap on total node executions, independent of the retry ceiling
const maxNodeSteps = 50

// Runner executes one pipeline run. It is created at pipeline entry and
// discarded at exit; the retry counter lives here, outside the nodes, so the
// bound is enforced structurally.
type Runner struct {
	Name        string
	MaxRetries  int
	CeilingNode string

	nodes map[string]Node
	entry string

	sink events.Sink
	meta events.EventMetadata

	retries   int
	exhausted bool
}

type RunnerOption func(*Runner)

func WithSink(sink events.Sink, meta events.EventMetadata) RunnerOption {
	return func(r *Runner) {
		r.sink = sink
		r.meta = meta
	}
}

func NewRunner(name string, maxRetries int, options ...RunnerOption) *Runner {
	r := &Runner{
		Name:       name,
		MaxRetries: maxRetries,
		nodes:      map[string]Node{},
		sink:       events.NullSink{},
	}
	for _, o := range options {
		o(r)
	}
	return r
}

func (r *Runner) AddNode(name string, n Node) {
	if r.entry == "" {
		r.entry = name
	}
	r.nodes[name] = n
}

// AtCeiling names the node runs are redirected to once the retry ceiling is
// hit; it renders the finalize-with-caveat answer.
func (r *Runner) AtCeiling(name string) {
	r.CeilingNode = name
}

func (r *Runner) Retries() int   { return r.retries }
func (r *Runner) Exhausted() bool { return r.exhausted }

// Run walks the graph from the entry node. Node errors abort the run; model
// failures inside nodes should be converted to fail verdicts via
// FailVerdictOnInference instead of being returned.
func (r *Runner) Run(ctx context.Context) error {
	current := r.entry
	for steps := 0; current != ""; steps++ {
		if steps >= maxNodeSteps {
			return errors.Errorf("pipeline %s exceeded %d node executions", r.Name, maxNodeSteps)
		}
		node, ok := r.nodes[current]
		if !ok {
			return errors.Errorf("pipeline %s references unknown node %s", r.Name, current)
		}

		start := time.Now()
		err := node.Run(ctx)
		elapsed := time.Since(start)
		r.sink.PublishBlind(events.NewStatusEvent(r.meta, r.Name+"."+current, "", elapsed.Milliseconds()))
		log.Debug().
			Str("pipeline", r.Name).
			Str("node", current).
			Dur("elapsed", elapsed).
			Int("retries", r.retries).
			Msg("pipeline node executed")
		if err != nil {
			return errors.Wrapf(err, "pipeline %s node %s", r.Name, current)
		}

		if node.Next == nil {
			return nil
		}
		next := node.Next()
		if next == "" {
			return nil
		}

		if target, ok := r.nodes[next]; ok && target.Refine {
			if r.retries >= r.MaxRetries {
				r.exhausted = true
				log.Debug().Str("pipeline", r.Name).Int("retries", r.retries).Msg("retry ceiling reached, forcing caveated finalize")
				next = r.CeilingNode
				if next == "" {
					return nil
				}
			} else {
				r.retries++
			}
		}
		current = next
	}
	return nil
}

// FailVerdictOnInference converts a model-call failure into an automatic
// fail verdict so the refine path handles it instead of crashing the run.
// Non-inference errors pass through unchanged.
func FailVerdictOnInference(err error, eval *Evaluation) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, engine.ErrInference) {
		*eval = Evaluation{Verdict: VerdictFail, Justification: "model call failed: " + err.Error()}
		return nil
	}
	return err
}

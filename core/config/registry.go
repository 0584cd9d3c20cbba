package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Registry is the static routing configuration: the closed set of known
// workflows, the trigger vocabulary, and the conversation signal map.
// Loaded once at startup and passed by reference into the router,
// extractor, and conversation manager. Never mutated afterwards.
type Registry struct {
	// Workflows is the closed set of launchable workflow names.
	Workflows []string `yaml:"workflows"`

	// RequireRunID lists workflows that are only accepted when the
	// triggering text also carries a prior run id (resume/fix flows).
	RequireRunID []string `yaml:"require_run_id"`

	// TagWorkflows maps an issue label/tag to the workflow it triggers.
	TagWorkflows map[string]string `yaml:"tag_workflows"`

	// DefaultWorkflow is dispatched when no explicit command is present
	// but TriggerKeyword appears in the event content. This is a loose
	// substring heuristic, kept as an explicit named policy.
	DefaultWorkflow string `yaml:"default_workflow"`
	TriggerKeyword  string `yaml:"trigger_keyword"`

	// QueueMax bounds the per-lane FIFO queue.
	QueueMax int `yaml:"queue_max"`

	// Signals maps a conversation phrase (exact or prefix, lowercase) to
	// an action tag. Empty means the built-in vocabulary.
	Signals map[string]string `yaml:"signals"`

	// Extract overrides the text-matching contract.
	Extract ExtractConfig `yaml:"extract"`
}

type ExtractConfig struct {
	CommandPrefix string   `yaml:"command_prefix"`
	RunIDMarker   string   `yaml:"run_id_marker"`
	BotSentinel   string   `yaml:"bot_sentinel"`
	BotAuthors    []string `yaml:"bot_authors"`
}

const DefaultQueueMax = 20

func defaultRegistry() Registry {
	return Registry{
		Workflows: []string{
			"icdev_sdlc",
			"icdev_build",
			"icdev_test",
			"icdev_compliance",
			"icdev_fix",
			"icdev_resume",
		},
		RequireRunID: []string{"icdev_fix", "icdev_resume"},
		TagWorkflows: map[string]string{
			"sdlc":       "icdev_sdlc",
			"compliance": "icdev_compliance",
		},
		DefaultWorkflow: "icdev_sdlc",
		TriggerKeyword:  "generate",
		QueueMax:        DefaultQueueMax,
		Extract: ExtractConfig{
			CommandPrefix: "icdev_",
			RunIDMarker:   "run_id",
			BotSentinel:   "[icdev-agent]",
			BotAuthors:    []string{"icdev-agent", "icdev-bot", "project_bot"},
		},
	}
}

// LoadRegistry reads the registry YAML at path, filling unset fields from
// the built-in defaults. An empty path returns the defaults unchanged.
func LoadRegistry(path string) (Registry, error) {
	reg := defaultRegistry()
	if path == "" {
		return reg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return Registry{}, fmt.Errorf("reading registry file: %w", err)
	}

	var loaded Registry
	if err := yaml.Unmarshal(data, &loaded); err != nil {
		return Registry{}, fmt.Errorf("parsing registry file: %w", err)
	}

	if len(loaded.Workflows) > 0 {
		reg.Workflows = loaded.Workflows
		reg.RequireRunID = loaded.RequireRunID
	}
	if len(loaded.TagWorkflows) > 0 {
		reg.TagWorkflows = loaded.TagWorkflows
	}
	if loaded.DefaultWorkflow != "" {
		reg.DefaultWorkflow = loaded.DefaultWorkflow
	}
	if loaded.TriggerKeyword != "" {
		reg.TriggerKeyword = loaded.TriggerKeyword
	}
	if loaded.QueueMax > 0 {
		reg.QueueMax = loaded.QueueMax
	}
	if len(loaded.Signals) > 0 {
		reg.Signals = loaded.Signals
	}
	if loaded.Extract.CommandPrefix != "" {
		reg.Extract = loaded.Extract
	}

	if err := reg.Validate(); err != nil {
		return Registry{}, err
	}
	return reg, nil
}

func (r Registry) Validate() error {
	if len(r.Workflows) == 0 {
		return fmt.Errorf("workflow registry is empty")
	}
	for _, w := range r.RequireRunID {
		if !r.Has(w) {
			return fmt.Errorf("require_run_id lists unknown workflow %q", w)
		}
	}
	if r.DefaultWorkflow != "" && !r.Has(r.DefaultWorkflow) {
		return fmt.Errorf("default workflow %q is not in the registry", r.DefaultWorkflow)
	}
	for tag, w := range r.TagWorkflows {
		if !r.Has(w) {
			return fmt.Errorf("tag %q maps to unknown workflow %q", tag, w)
		}
	}
	return nil
}

// Has reports whether workflow is in the closed registry.
func (r Registry) Has(workflow string) bool {
	for _, w := range r.Workflows {
		if strings.EqualFold(w, workflow) {
			return true
		}
	}
	return false
}

// NeedsRunID reports whether workflow is only valid with a prior run id.
func (r Registry) NeedsRunID(workflow string) bool {
	for _, w := range r.RequireRunID {
		if strings.EqualFold(w, workflow) {
			return true
		}
	}
	return false
}

// WorkflowForTag resolves an issue tag to its workflow, if mapped.
func (r Registry) WorkflowForTag(tag string) (string, bool) {
	w, ok := r.TagWorkflows[strings.ToLower(tag)]
	return w, ok
}

package extract

import (
	"fmt"
	"regexp"
	"strings"
)

// Config holds the fixed text-matching contract. Loaded once at startup
// and passed by reference; never mutated after construction.
type Config struct {
	// CommandPrefix is the workflow-family prefix, e.g. "icdev_". Any
	// word starting with it is treated as a workflow command candidate.
	CommandPrefix string
	// RunIDMarker introduces a run id token, e.g. "run_id".
	RunIDMarker string
	// BotSentinel marks agent-authored text; its presence anywhere in a
	// message short-circuits routing so the agent never replies to itself.
	BotSentinel string
	// BotAuthors is a small blocklist of known bot identities, matched
	// case-insensitively against the author field.
	BotAuthors []string
}

func DefaultConfig() Config {
	return Config{
		CommandPrefix: "icdev_",
		RunIDMarker:   "run_id",
		BotSentinel:   "[icdev-agent]",
		BotAuthors:    []string{"icdev-agent", "icdev-bot", "project_bot"},
	}
}

// Extractor pulls workflow commands, run ids, and bot-loop signals out of
// free text. All scans are case-insensitive, left-to-right, first match
// wins. Side-effect free.
type Extractor struct {
	commandRe  *regexp.Regexp
	runIDRe    *regexp.Regexp
	sentinel   string
	botAuthors map[string]struct{}
}

func New(cfg Config) (*Extractor, error) {
	if cfg.CommandPrefix == "" {
		return nil, fmt.Errorf("command prefix is required")
	}
	if cfg.RunIDMarker == "" {
		return nil, fmt.Errorf("run id marker is required")
	}

	commandRe, err := regexp.Compile(`(?i)\b` + regexp.QuoteMeta(cfg.CommandPrefix) + `\w+`)
	if err != nil {
		return nil, fmt.Errorf("compiling command pattern: %w", err)
	}
	// The marker must be followed by a colon or whitespace; "run_identifier"
	// is an ordinary word, not a marker.
	runIDRe, err := regexp.Compile(`(?i)\b` + regexp.QuoteMeta(cfg.RunIDMarker) + `(?:\s*:\s*|\s+)([\w-]+)`)
	if err != nil {
		return nil, fmt.Errorf("compiling run id pattern: %w", err)
	}

	bots := make(map[string]struct{}, len(cfg.BotAuthors))
	for _, a := range cfg.BotAuthors {
		bots[strings.ToLower(a)] = struct{}{}
	}

	return &Extractor{
		commandRe:  commandRe,
		runIDRe:    runIDRe,
		sentinel:   cfg.BotSentinel,
		botAuthors: bots,
	}, nil
}

// Command returns the first workflow command and the first run id found in
// text. The two scans are independent; either result may be empty. Empty
// input yields ("", "").
func (e *Extractor) Command(text string) (workflow, runID string) {
	if text == "" {
		return "", ""
	}

	if m := e.commandRe.FindString(text); m != "" {
		workflow = strings.ToLower(m)
	}

	if m := e.runIDRe.FindStringSubmatch(text); len(m) > 1 {
		runID = m[1]
	}

	return workflow, runID
}

// IsBot reports whether text carries the bot sentinel or author matches
// the bot blocklist. A true result must short-circuit routing.
func (e *Extractor) IsBot(text, author string) bool {
	if e.sentinel != "" && strings.Contains(text, e.sentinel) {
		return true
	}
	_, ok := e.botAuthors[strings.ToLower(author)]
	return ok
}

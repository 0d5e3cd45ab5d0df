// Package prompt holds the narrator prompt catalog. All prompt texts are
// embedded at build time; callers get filled strings, never file paths.
package prompt

import (
	"bytes"
	"embed"
	"fmt"
	"math/rand"
	"sort"
	"strings"
	"text/template"

	"github.com/arenabot/arenabot/internal/model"
)

//go:embed prompts/*.txt prompts/settings/*.txt
var promptFS embed.FS

// DefaultSettingID is used when a session names no setting or an unknown one.
const DefaultSettingID = "unpredictable-funny"

// Catalog is the loaded prompt set.
type Catalog struct {
	simpleBattle        string
	environmentCombiner string
	genericEnvironments []string
	customEnvironment   *template.Template
	language            *template.Template
	settings            map[string]string
}

// Load parses the embedded prompt files. A missing or malformed file is a
// packaging bug, so Load fails hard.
func Load() (*Catalog, error) {
	c := &Catalog{settings: make(map[string]string)}

	var err error
	if c.simpleBattle, err = read("prompts/core_simple_battle.txt"); err != nil {
		return nil, err
	}
	if c.environmentCombiner, err = read("prompts/environment_combiner.txt"); err != nil {
		return nil, err
	}
	for _, name := range []string{"prompts/generic_environment_0.txt", "prompts/generic_environment_1.txt"} {
		text, err := read(name)
		if err != nil {
			return nil, err
		}
		c.genericEnvironments = append(c.genericEnvironments, text)
	}

	if c.customEnvironment, err = parse("prompts/custom_environment.txt"); err != nil {
		return nil, err
	}
	if c.language, err = parse("prompts/language.txt"); err != nil {
		return nil, err
	}

	entries, err := promptFS.ReadDir("prompts/settings")
	if err != nil {
		return nil, fmt.Errorf("reading settings prompts: %w", err)
	}
	for _, e := range entries {
		id := strings.TrimSuffix(e.Name(), ".txt")
		text, err := read("prompts/settings/" + e.Name())
		if err != nil {
			return nil, err
		}
		c.settings[id] = text
	}
	if _, ok := c.settings[DefaultSettingID]; !ok {
		return nil, fmt.Errorf("default setting prompt %q missing", DefaultSettingID)
	}
	return c, nil
}

func read(name string) (string, error) {
	data, err := promptFS.ReadFile(name)
	if err != nil {
		return "", fmt.Errorf("reading prompt %s: %w", name, err)
	}
	return strings.TrimRight(string(data), "\n"), nil
}

func parse(name string) (*template.Template, error) {
	text, err := read(name)
	if err != nil {
		return nil, err
	}
	tmpl, err := template.New(name).Parse(text)
	if err != nil {
		return nil, fmt.Errorf("parsing prompt %s: %w", name, err)
	}
	return tmpl, nil
}

// SimpleBattle is the core narrator system prompt.
func (c *Catalog) SimpleBattle() string { return c.simpleBattle }

// EnvironmentCombiner is the system prompt that merges participant
// environment ideas into one description.
func (c *Catalog) EnvironmentCombiner() string { return c.environmentCombiner }

// GenericEnvironment picks one of the stock environment prompts at random.
func (c *Catalog) GenericEnvironment() string {
	return c.genericEnvironments[rand.Intn(len(c.genericEnvironments))]
}

// CustomEnvironment wraps a participant-written environment description in
// the narrator framing.
func (c *Catalog) CustomEnvironment(env string) string {
	return c.fill(c.customEnvironment, map[string]string{"Environment": env})
}

// Language renders the answer-in-this-language instruction. localeName is
// the human-readable language name, not the locale code.
func (c *Catalog) Language(localeName string) string {
	return c.fill(c.language, map[string]string{"Language": localeName})
}

func (c *Catalog) fill(tmpl *template.Template, data map[string]string) string {
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		// Templates are embedded and parsed at startup; execute can only
		// fail on a template bug.
		return fmt.Sprintf("ERROR: rendering %s: %v", tmpl.Name(), err)
	}
	return buf.String()
}

// Setting returns the named battle-setting prompt.
func (c *Catalog) Setting(id string) (string, bool) {
	text, ok := c.settings[id]
	return text, ok
}

// DefaultSetting returns the fallback setting ID.
func (c *Catalog) DefaultSetting() string { return DefaultSettingID }

// SettingIDs lists known settings, sorted, for command registration.
func (c *Catalog) SettingIDs() []string {
	ids := make([]string, 0, len(c.settings))
	for id := range c.settings {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// FighterBlock renders the collected fighters into the narrator context
// block, one section per participant.
func (c *Catalog) FighterBlock(fighters []model.Fighter) string {
	var b strings.Builder
	b.WriteString("## Fighters")
	for _, f := range fighters {
		strategy := f.Strategy
		if strategy == "" {
			strategy = "N/A"
		}
		fmt.Fprintf(&b, "\n### [%s]:\nNAME: %s\nDESCRIPTION: %s\nSTRATEGY: %s",
			f.Player.DisplayName, f.Name, f.Description, strategy)
	}
	return b.String()
}

const nonceAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789!#$%&*+-=?@^_~"

// Nonce returns a random string appended to otherwise-uniform prompts so
// provider-side response caching cannot replay an old battle.
func (c *Catalog) Nonce(length int) string {
	b := make([]byte, length)
	for i := range b {
		b[i] = nonceAlphabet[rand.Intn(len(nonceAlphabet))]
	}
	return string(b)
}

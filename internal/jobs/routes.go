package jobs

import (
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// Route is how the dispatcher runs one preset: the system prompt sent to
// the model, the log line announcing the preset's first step and the
// repository context to fetch ("tree", "file" or none). Note may reference
// {repo} and {path}.
type Route struct {
	Preset string `yaml:"preset"`
	System string `yaml:"system"`
	Note   string `yaml:"note"`
	Fetch  string `yaml:"fetch"`
}

type RouteSet struct {
	Routes []Route `yaml:"routes"`
}

const fallbackSystem = "You are DevBot. Answer the request as a helpful software engineering assistant."

func DefaultRoutes() []Route {
	return []Route{
		{
			Preset: "brainstorm",
			System: "You are DevBot. Assist with strategic planning and brainstorming. " +
				"Think step by step, propose improvements, and generate ideas.",
			Note: "📊 Starting brainstorm (no repo context)...",
		},
		{
			Preset: "structure",
			System: "You are DevBot. Summarize the repository structure and analyze " +
				"its architecture, highlighting key modules and responsibilities.",
			Note:  "📂 Fetching repo tree for {repo}...",
			Fetch: fetchTree,
		},
		{
			Preset: "file",
			System: "You are DevBot. Review the given file in detail, explain its logic, " +
				"and suggest improvements or refactors where useful.",
			Note:  "📂 Fetching file {path} from {repo}...",
			Fetch: fetchFile,
		},
		{
			Preset: "plan",
			System: "You are DevBot. Turn the request into a concrete implementation plan " +
				"with ordered steps, risks, and open questions.",
			Note: "🗺️ Drafting plan...",
		},
	}
}

// LoadRoutes reads a routes file. Entries override the defaults by preset.
func LoadRoutes(path string) ([]Route, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var rs RouteSet
	if err := yaml.Unmarshal(data, &rs); err != nil {
		return nil, err
	}
	merged := map[string]Route{}
	for _, r := range DefaultRoutes() {
		merged[r.Preset] = r
	}
	for _, r := range rs.Routes {
		if r.Preset == "" {
			continue
		}
		base := merged[r.Preset]
		if r.System == "" {
			r.System = base.System
		}
		if r.Note == "" {
			r.Note = base.Note
		}
		if r.Fetch == "" {
			r.Fetch = base.Fetch
		}
		merged[r.Preset] = r
	}
	out := make([]Route, 0, len(merged))
	for _, r := range merged {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Preset < out[j].Preset })
	return out, nil
}

func (r Route) note(input map[string]string) string {
	return strings.NewReplacer("{repo}", input["repo"], "{path}", input["path"]).Replace(r.Note)
}

// userPrompt lays out the run context for the model.
func userPrompt(input map[string]string) string {
	var b strings.Builder
	if repo := input["repo"]; repo != "" {
		b.WriteString("Repository: " + repo + "\n")
	}
	if path := input["path"]; path != "" {
		b.WriteString("File: " + path + "\n")
	}
	keys := make([]string, 0, len(input))
	for k := range input {
		if k != "repo" && k != "path" && k != "prompt" {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	for _, k := range keys {
		b.WriteString(k + ": " + input[k] + "\n")
	}
	if prompt := input["prompt"]; prompt != "" {
		if b.Len() > 0 {
			b.WriteString("\n")
		}
		b.WriteString(prompt)
	}
	return strings.TrimRight(b.String(), "\n")
}

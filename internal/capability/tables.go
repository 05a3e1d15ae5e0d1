package capability

import (
	"regexp"
	"sort"
	"strings"

	"modelhost/internal/catalog"
)

// Complexity is the processing cost class of a file type.
type Complexity int

const (
	ComplexityLow Complexity = iota
	ComplexityMedium
	ComplexityHigh
)

type extInfo struct {
	typ        catalog.CapabilityType
	complexity Complexity
}

// extensions is the static extension to capability table. Extensions not
// listed here are never supported.
var extensions = map[string]extInfo{}

func register(t catalog.CapabilityType, c Complexity, exts ...string) {
	for _, e := range exts {
		extensions[e] = extInfo{typ: t, complexity: c}
	}
}

func init() {
	register(catalog.CapText, ComplexityLow,
		".txt", ".md", ".markdown", ".json", ".csv", ".tsv", ".log", ".yaml", ".yml",
		".xml", ".html", ".htm", ".ini", ".toml",
		".go", ".py", ".js", ".ts", ".java", ".c", ".h", ".cpp", ".rs", ".rb", ".sh", ".sql")
	register(catalog.CapDocument, ComplexityMedium, ".pdf", ".docx", ".doc", ".odt", ".rtf", ".pptx", ".xlsx", ".epub")
	register(catalog.CapImage, ComplexityMedium, ".jpg", ".jpeg", ".png", ".gif", ".webp", ".bmp", ".tiff", ".tif", ".heic")
	register(catalog.CapAudio, ComplexityHigh, ".mp3", ".wav", ".m4a", ".flac", ".ogg", ".aac", ".opus")
	register(catalog.CapVideo, ComplexityHigh, ".mp4", ".mov", ".avi", ".mkv", ".webm")
}

// NormalizeExt lowercases ext and adds a leading dot.
func NormalizeExt(ext string) string {
	ext = strings.ToLower(strings.TrimSpace(ext))
	if ext != "" && !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}
	return ext
}

// TypeOf maps an extension to its capability type.
func TypeOf(ext string) (catalog.CapabilityType, bool) {
	info, ok := extensions[NormalizeExt(ext)]
	return info.typ, ok
}

// ExtensionsFor lists the known extensions of a capability type.
func ExtensionsFor(t catalog.CapabilityType) []string {
	var out []string
	for e, info := range extensions {
		if info.typ == t {
			out = append(out, e)
		}
	}
	sort.Strings(out)
	return out
}

// Rule matches remote model identifiers to a modality. A model gets the
// modality when some Allow pattern matches and no Deny pattern does.
type Rule struct {
	Provider string // empty matches every provider
	Modality catalog.CapabilityType
	Allow    []string
	Deny     []string

	allow []*regexp.Regexp
	deny  []*regexp.Regexp
}

func (r *Rule) compile() error {
	r.allow, r.deny = nil, nil
	for _, p := range r.Allow {
		re, err := regexp.Compile("(?i)" + p)
		if err != nil {
			return err
		}
		r.allow = append(r.allow, re)
	}
	for _, p := range r.Deny {
		re, err := regexp.Compile("(?i)" + p)
		if err != nil {
			return err
		}
		r.deny = append(r.deny, re)
	}
	return nil
}

func (r *Rule) matches(provider, model string) bool {
	if r.Provider != "" && !strings.EqualFold(r.Provider, provider) {
		return false
	}
	hit := false
	for _, re := range r.allow {
		if re.MatchString(model) {
			hit = true
			break
		}
	}
	if !hit {
		return false
	}
	for _, re := range r.deny {
		if re.MatchString(model) {
			return false
		}
	}
	return true
}

// DefaultRules lists vision/audio capable remote model families and the
// variants that are excluded from them.
func DefaultRules() []Rule {
	return []Rule{
		{Provider: "openai", Modality: catalog.CapImage,
			Allow: []string{`^gpt-4o`, `^gpt-4\.1`, `^gpt-4-turbo`, `^gpt-5`, `^o[134]`, `vision`},
			Deny:  []string{`^o1-mini`, `^o1-preview`, `^o3-mini`, `-audio-`, `-realtime`, `-transcribe`, `-tts`, `embedding`}},
		{Provider: "openai", Modality: catalog.CapAudio,
			Allow: []string{`^gpt-4o.*-audio`, `^gpt-4o.*-realtime`, `^gpt-4o.*-transcribe`}},
		{Provider: "anthropic", Modality: catalog.CapImage,
			Allow: []string{`^claude-3`, `^claude-(opus|sonnet|haiku)-4`, `^claude-[a-z]+-4`},
			Deny:  []string{`^claude-2`, `^claude-instant`}},
		{Provider: "google", Modality: catalog.CapImage,
			Allow: []string{`^gemini`},
			Deny:  []string{`^gemini-pro$`, `^gemini-1\.0-pro$`, `embedding`}},
		{Provider: "google", Modality: catalog.CapAudio,
			Allow: []string{`^gemini-(1\.5|2|2\.5)`}},
		{Provider: "google", Modality: catalog.CapVideo,
			Allow: []string{`^gemini-(1\.5|2|2\.5)`}},
		{Modality: catalog.CapImage,
			Allow: []string{`llava`, `bakllava`, `moondream`, `-vl\b`, `vl-`, `vision`, `minicpm-v`, `gemma-?3`, `pixtral`},
			Deny:  []string{`embed`, `gemma-?3-?1b`}},
	}
}

// contextHints gives a max context for well-known remote families.
var contextHints = []struct {
	re     *regexp.Regexp
	tokens int
}{
	{regexp.MustCompile(`(?i)^gemini-(1\.5|2)`), 1_000_000},
	{regexp.MustCompile(`(?i)^claude`), 200_000},
	{regexp.MustCompile(`(?i)^(gpt-4o|gpt-4\.1|gpt-4-turbo|gpt-5|o[134])`), 128_000},
	{regexp.MustCompile(`(?i)^gpt-3\.5`), 16_385},
}

func remoteContext(model string) int {
	for _, h := range contextHints {
		if h.re.MatchString(model) {
			return h.tokens
		}
	}
	return 0
}

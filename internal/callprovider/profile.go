package callprovider

import (
	"bytes"
	"fmt"
	"os"
	"sort"
	"strings"
	"text/template"

	"github.com/cloo-solutions/salesdojo/internal/domain"
	"gopkg.in/yaml.v3"
)

// Profile holds everything about the simulated customer that is not
// persona specific: the models behind the call and the prompt templates.
type Profile struct {
	Model                 ModelProfile       `yaml:"model"`
	Voice                 VoiceProfile       `yaml:"voice"`
	Transcriber           TranscriberProfile `yaml:"transcriber"`
	FirstMessages         map[string]string  `yaml:"first_messages"`
	DefaultFirstMessage   string             `yaml:"default_first_message"`
	EndCallMessage        string             `yaml:"end_call_message"`
	RecordingEnabled      bool               `yaml:"recording_enabled"`
	SilenceTimeoutSeconds int                `yaml:"silence_timeout_seconds"`
	MaxDurationSeconds    int                `yaml:"max_duration_seconds"`
	SystemPrompt          string             `yaml:"system_prompt"`
}

type ModelProfile struct {
	Provider    string  `yaml:"provider"`
	Model       string  `yaml:"model"`
	Temperature float64 `yaml:"temperature"`
}

type VoiceProfile struct {
	Provider string `yaml:"provider"`
	VoiceID  string `yaml:"voice_id"`
}

type TranscriberProfile struct {
	Provider string `yaml:"provider"`
	Model    string `yaml:"model"`
	Language string `yaml:"language"`
}

const defaultSystemPrompt = `Você é {{.Name}}, um(a) {{.Role}} em uma empresa.

BACKGROUND:
{{.Background}}

PERSONALIDADE:
{{.Personality}}

PRINCIPAIS DORES:
{{.PainPoints}}

OBJEÇÕES TÍPICAS:
{{.Objections}}

INSTRUÇÕES DE COMPORTAMENTO:
- Comporte-se como esta persona de forma realista e consistente
- Seja desafiador(a) mas justo(a) com o vendedor
- Levante objeções naturalmente durante a conversa
- Se o vendedor fizer boas perguntas de descoberta, revele informações gradualmente
- Fale em português brasileiro de forma natural
`

// DefaultProfile is used when no profile file is configured.
func DefaultProfile() *Profile {
	return &Profile{
		Model: ModelProfile{
			Provider:    "openai",
			Model:       "gpt-4o",
			Temperature: 0.8,
		},
		Voice: VoiceProfile{
			Provider: "11labs",
			VoiceID:  "EXAVITQu4vr4xnSDxMaL",
		},
		Transcriber: TranscriberProfile{
			Provider: "deepgram",
			Model:    "nova-2",
			Language: "pt-BR",
		},
		FirstMessages: map[string]string{
			string(domain.PersonaRoleDecisionMaker): "Olá, aqui é {{.Name}}. Vi que vocês entraram em contato. Como posso ajudar?",
			string(domain.PersonaRoleInfluencer):    "Oi, sou {{.Name}}. Recebi o contato de vocês. Do que se trata?",
			string(domain.PersonaRoleGatekeeper):    "Alô, {{.Name}} falando. Quem gostaria?",
			string(domain.PersonaRoleUser):          "Oi! Sou {{.Name}}. Tudo bem?",
		},
		DefaultFirstMessage:   "Olá, aqui é {{.Name}}. Podemos conversar?",
		EndCallMessage:        "Obrigado pela conversa. Até a próxima!",
		RecordingEnabled:      true,
		SilenceTimeoutSeconds: 30,
		MaxDurationSeconds:    600,
		SystemPrompt:          defaultSystemPrompt,
	}
}

// LoadProfile reads a YAML profile from path on top of DefaultProfile.
// An empty path returns the default profile.
func LoadProfile(path string) (*Profile, error) {
	p := DefaultProfile()
	if path == "" {
		return p, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read assistant profile: %w", err)
	}
	if err := yaml.Unmarshal(data, p); err != nil {
		return nil, fmt.Errorf("parse assistant profile %s: %w", path, err)
	}
	if err := p.Validate(); err != nil {
		return nil, fmt.Errorf("assistant profile %s: %w", path, err)
	}
	return p, nil
}

// Validate checks the fields a call cannot be created without and that
// every template parses.
func (p *Profile) Validate() error {
	switch {
	case p.Model.Model == "":
		return fmt.Errorf("model.model is required")
	case p.Voice.VoiceID == "":
		return fmt.Errorf("voice.voice_id is required")
	case p.MaxDurationSeconds <= 0:
		return fmt.Errorf("max_duration_seconds must be positive")
	case p.Model.Temperature < 0 || p.Model.Temperature > 2:
		return fmt.Errorf("model.temperature must be in [0,2]")
	}
	for _, tpl := range p.templates() {
		if _, err := template.New("check").Parse(tpl); err != nil {
			return fmt.Errorf("invalid template: %w", err)
		}
	}
	return nil
}

func (p *Profile) templates() []string {
	out := []string{p.SystemPrompt, p.DefaultFirstMessage}
	for _, m := range p.FirstMessages {
		out = append(out, m)
	}
	return out
}

// personaView is what the prompt templates see.
type personaView struct {
	Name        string
	Role        string
	Background  string
	Personality string
	PainPoints  string
	Objections  string
}

func viewOf(p *domain.Persona) personaView {
	v := personaView{
		Name:        p.Name,
		Role:        string(p.Role),
		Background:  p.Background,
		Personality: "Personalidade equilibrada",
		PainPoints:  bulletList(p.PainPoints),
		Objections:  bulletList(p.Objections),
	}
	if v.Name == "" {
		v.Name = "Cliente"
	}
	if len(p.PersonalityTraits) > 0 {
		keys := make([]string, 0, len(p.PersonalityTraits))
		for k := range p.PersonalityTraits {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		lines := make([]string, 0, len(keys))
		for _, k := range keys {
			lines = append(lines, fmt.Sprintf("- %s: %v", k, p.PersonalityTraits[k]))
		}
		v.Personality = strings.Join(lines, "\n")
	}
	return v
}

func bulletList(items []string) string {
	if len(items) == 0 {
		return "Nenhum específico"
	}
	lines := make([]string, len(items))
	for i, it := range items {
		lines[i] = "- " + it
	}
	return strings.Join(lines, "\n")
}

func render(tpl string, v personaView) (string, error) {
	t, err := template.New("prompt").Parse(tpl)
	if err != nil {
		return "", err
	}
	var b bytes.Buffer
	if err := t.Execute(&b, v); err != nil {
		return "", err
	}
	return b.String(), nil
}

// SystemPromptFor renders the instructions for persona.
func (p *Profile) SystemPromptFor(persona *domain.Persona) (string, error) {
	return render(p.SystemPrompt, viewOf(persona))
}

// FirstMessageFor renders the greeting for persona's role.
func (p *Profile) FirstMessageFor(persona *domain.Persona) (string, error) {
	tpl, ok := p.FirstMessages[string(persona.Role)]
	if !ok {
		tpl = p.DefaultFirstMessage
	}
	return render(tpl, viewOf(persona))
}

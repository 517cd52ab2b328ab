package inference

import (
	"strings"
	"time"
)

// Role identifies the author of a conversation turn.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Turn is one entry in the conversation history.
type Turn struct {
	Role      Role
	Text      string
	Timestamp time.Time
}

// Template renders a system persona, conversation history, and the new user
// input into the token stream a model family expects, and knows which stop
// sequences mark the model's end of turn.
//
// Templates are stateless and safe for concurrent use. The engine resolves
// the template once at model load from a family-keyed table — never by
// inspecting strings at generation time.
type Template interface {
	// Render formats the full prompt. turns excludes the system persona and
	// the new user input, which are passed separately.
	Render(system string, turns []Turn, user string) string

	// Stop returns the family's end-of-turn sequences.
	Stop() []string
}

// templateTable is the family → template strategy table.
var templateTable = map[Family]Template{
	FamilyQwen:    chatMLTemplate{},
	FamilyLlama:   llama3Template{},
	FamilyGemma:   gemmaTemplate{},
	FamilyGeneric: genericTemplate{},
}

// templateForFamily returns the template strategy for fam, falling back to
// the generic plain-text template.
func templateForFamily(fam Family) Template {
	if t, ok := templateTable[fam]; ok {
		return t
	}
	return genericTemplate{}
}

// ─── ChatML (Qwen) ────────────────────────────────────────────────────────────

type chatMLTemplate struct{}

func (chatMLTemplate) Render(system string, turns []Turn, user string) string {
	var sb strings.Builder
	writeChatML := func(role, text string) {
		sb.WriteString("<|im_start|>")
		sb.WriteString(role)
		sb.WriteString("\n")
		sb.WriteString(text)
		sb.WriteString("<|im_end|>\n")
	}
	if system != "" {
		writeChatML("system", system)
	}
	for _, t := range turns {
		writeChatML(string(t.Role), t.Text)
	}
	writeChatML("user", user)
	sb.WriteString("<|im_start|>assistant\n")
	return sb.String()
}

func (chatMLTemplate) Stop() []string {
	return []string{"<|im_end|>"}
}

// ─── Llama 3 ──────────────────────────────────────────────────────────────────

type llama3Template struct{}

func (llama3Template) Render(system string, turns []Turn, user string) string {
	var sb strings.Builder
	sb.WriteString("<|begin_of_text|>")
	writeHeader := func(role, text string) {
		sb.WriteString("<|start_header_id|>")
		sb.WriteString(role)
		sb.WriteString("<|end_header_id|>\n\n")
		sb.WriteString(text)
		sb.WriteString("<|eot_id|>")
	}
	if system != "" {
		writeHeader("system", system)
	}
	for _, t := range turns {
		writeHeader(string(t.Role), t.Text)
	}
	writeHeader("user", user)
	sb.WriteString("<|start_header_id|>assistant<|end_header_id|>\n\n")
	return sb.String()
}

func (llama3Template) Stop() []string {
	return []string{"<|eot_id|>"}
}

// ─── Gemma ────────────────────────────────────────────────────────────────────

// gemmaTemplate folds the system persona into the first user turn because the
// Gemma chat format has no system role.
type gemmaTemplate struct{}

func (gemmaTemplate) Render(system string, turns []Turn, user string) string {
	var sb strings.Builder
	systemPending := system

	writeTurn := func(role, text string) {
		if role == "assistant" {
			role = "model"
		}
		sb.WriteString("<start_of_turn>")
		sb.WriteString(role)
		sb.WriteString("\n")
		if role == "user" && systemPending != "" {
			sb.WriteString(systemPending)
			sb.WriteString("\n\n")
			systemPending = ""
		}
		sb.WriteString(text)
		sb.WriteString("<end_of_turn>\n")
	}
	for _, t := range turns {
		writeTurn(string(t.Role), t.Text)
	}
	writeTurn("user", user)
	sb.WriteString("<start_of_turn>model\n")
	return sb.String()
}

func (gemmaTemplate) Stop() []string {
	return []string{"<end_of_turn>"}
}

// ─── Generic plain text ───────────────────────────────────────────────────────

type genericTemplate struct{}

func (genericTemplate) Render(system string, turns []Turn, user string) string {
	var sb strings.Builder
	if system != "" {
		sb.WriteString(system)
		sb.WriteString("\n\n")
	}
	for _, t := range turns {
		switch t.Role {
		case RoleAssistant:
			sb.WriteString("Assistant: ")
		default:
			sb.WriteString("User: ")
		}
		sb.WriteString(t.Text)
		sb.WriteString("\n")
	}
	sb.WriteString("User: ")
	sb.WriteString(user)
	sb.WriteString("\nAssistant:")
	return sb.String()
}

func (genericTemplate) Stop() []string {
	return []string{"\nUser:"}
}

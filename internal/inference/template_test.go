package inference

import (
	"strings"
	"testing"
)

func TestChatMLRender(t *testing.T) {
	tmpl := templateForFamily(FamilyQwen)
	got := tmpl.Render("Be brief.", []Turn{
		{Role: RoleUser, Text: "Hi"},
		{Role: RoleAssistant, Text: "Hello!"},
	}, "What time is it?")

	want := "<|im_start|>system\nBe brief.<|im_end|>\n" +
		"<|im_start|>user\nHi<|im_end|>\n" +
		"<|im_start|>assistant\nHello!<|im_end|>\n" +
		"<|im_start|>user\nWhat time is it?<|im_end|>\n" +
		"<|im_start|>assistant\n"
	if got != want {
		t.Errorf("Render =\n%q\nwant\n%q", got, want)
	}
	if stop := tmpl.Stop(); len(stop) != 1 || stop[0] != "<|im_end|>" {
		t.Errorf("Stop = %v", stop)
	}
}

func TestLlama3Render(t *testing.T) {
	tmpl := templateForFamily(FamilyLlama)
	got := tmpl.Render("Be brief.", nil, "Hi")

	if !strings.HasPrefix(got, "<|begin_of_text|>") {
		t.Error("missing begin_of_text prefix")
	}
	if !strings.Contains(got, "<|start_header_id|>system<|end_header_id|>\n\nBe brief.<|eot_id|>") {
		t.Error("missing system header")
	}
	if !strings.HasSuffix(got, "<|start_header_id|>assistant<|end_header_id|>\n\n") {
		t.Errorf("missing assistant cue, got suffix %q", got[len(got)-40:])
	}
}

func TestGemmaFoldsSystemIntoFirstUserTurn(t *testing.T) {
	tmpl := templateForFamily(FamilyGemma)
	got := tmpl.Render("Be brief.", []Turn{
		{Role: RoleUser, Text: "Hi"},
		{Role: RoleAssistant, Text: "Hello!"},
	}, "Bye")

	// Gemma has no system role; the persona rides in the first user turn.
	if strings.Contains(got, "<start_of_turn>system") {
		t.Error("gemma template must not emit a system role")
	}
	if !strings.Contains(got, "<start_of_turn>user\nBe brief.\n\nHi<end_of_turn>") {
		t.Errorf("persona not folded into first user turn:\n%s", got)
	}
	// The assistant role renders as "model", and exactly once per turn.
	if strings.Count(got, "<start_of_turn>model") != 2 {
		t.Errorf("want two model turns (history + cue):\n%s", got)
	}
	if strings.Contains(got, "Be brief.\n\nBye") {
		t.Error("persona folded into a later turn")
	}
}

func TestGenericRender(t *testing.T) {
	tmpl := templateForFamily(FamilyGeneric)
	got := tmpl.Render("Persona.", []Turn{{Role: RoleUser, Text: "Hi"}}, "Bye")

	want := "Persona.\n\nUser: Hi\nUser: Bye\nAssistant:"
	if got != want {
		t.Errorf("Render = %q, want %q", got, want)
	}
}

func TestTemplateForUnknownFamilyFallsBack(t *testing.T) {
	tmpl := templateForFamily(Family("mystery"))
	if _, ok := tmpl.(genericTemplate); !ok {
		t.Errorf("templateForFamily = %T, want genericTemplate", tmpl)
	}
}

func TestEmptySystemOmitted(t *testing.T) {
	for _, fam := range []Family{FamilyQwen, FamilyLlama, FamilyGeneric} {
		got := templateForFamily(fam).Render("", nil, "Hi")
		if strings.Contains(got, "system") {
			t.Errorf("family %s: empty persona still rendered a system block:\n%s", fam, got)
		}
	}
}

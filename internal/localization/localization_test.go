package localization

import (
	"strings"
	"testing"
)

func mustLoad(t *testing.T) *Bundle {
	t.Helper()
	b, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	return b
}

func TestLoadLocales(t *testing.T) {
	b := mustLoad(t)

	if !b.Has("en") {
		t.Fatal("en locale missing")
	}
	if !b.Has("uk") {
		t.Fatal("uk locale missing")
	}
	if b.Has("xx") {
		t.Error("unknown locale reported as loaded")
	}

	found := false
	for _, code := range b.Locales() {
		if code == "en" {
			found = true
		}
	}
	if !found {
		t.Errorf("Locales() = %v, want en included", b.Locales())
	}
}

func TestTranslate(t *testing.T) {
	b := mustLoad(t)

	if got := b.T("en", "battle.actions.join"); got == "" || got == "battle.actions.join" {
		t.Fatalf("en join label = %q", got)
	}

	// uk carries its own translations.
	en := b.T("en", "battle.request.title")
	uk := b.T("uk", "battle.request.title")
	if uk == "" || uk == en {
		t.Errorf("uk title = %q, en title = %q, want distinct translations", uk, en)
	}
}

func TestTranslateInterpolation(t *testing.T) {
	b := mustLoad(t)

	got := b.T("en", "battle.request.countdown", "seconds", "42")
	if !strings.Contains(got, "42") {
		t.Fatalf("countdown message did not interpolate seconds: %q", got)
	}
	if strings.Contains(got, "{seconds}") {
		t.Fatalf("placeholder left in message: %q", got)
	}
}

func TestTranslateFallback(t *testing.T) {
	b := mustLoad(t)

	// Unknown locale falls back to the default one.
	if got, want := b.T("xx", "battle.actions.join"), b.T("en", "battle.actions.join"); got != want {
		t.Errorf("fallback lookup = %q, want %q", got, want)
	}

	// Unknown key comes back verbatim so the bug is visible in the UI.
	if got := b.T("en", "battle.no.such.key"); got != "battle.no.such.key" {
		t.Errorf("unknown key = %q", got)
	}
}

func TestName(t *testing.T) {
	b := mustLoad(t)

	if got := b.Name("en"); got != "English" {
		t.Errorf("en name = %q", got)
	}
	if got := b.Name("uk"); got != "Ukrainian" {
		t.Errorf("uk name = %q", got)
	}
}

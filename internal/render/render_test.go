package render

import (
	"testing"

	"github.com/obialo/tutornotify/internal/models"
	"github.com/stretchr/testify/assert"
)

func TestRender_SubstitutesKnownPlaceholders(t *testing.T) {
	text, unresolved := Render("Hello [Name], your balance is [Amount]", map[string]string{
		"Name": "Aisha",
	})

	assert.Equal(t, "Hello Aisha, your balance is [Amount]", text)
	assert.Equal(t, []string{"Amount"}, unresolved)
}

func TestRender_AllValuesPresent(t *testing.T) {
	text, unresolved := Render("Hi [Name], lesson at [Time]", map[string]string{
		"Name": "Tunde",
		"Time": "4pm",
	})

	assert.Equal(t, "Hi Tunde, lesson at 4pm", text)
	assert.Empty(t, unresolved)
}

func TestRender_Idempotent(t *testing.T) {
	values := map[string]string{"Name": "Aisha"}
	once, _ := Render("Hello [Name], your balance is [Amount]", values)
	twice, _ := Render(once, values)

	assert.Equal(t, once, twice)
}

func TestRender_NoPlaceholders(t *testing.T) {
	text, unresolved := Render("plain text", map[string]string{"Name": "x"})

	assert.Equal(t, "plain text", text)
	assert.Empty(t, unresolved)
}

func TestRender_UnresolvedSortedAndDeduplicated(t *testing.T) {
	_, unresolved := Render("[Zeta] [Alpha] [Zeta]", nil)

	assert.Equal(t, []string{"Alpha", "Zeta"}, unresolved)
}

func TestRender_IgnoresMalformedTokens(t *testing.T) {
	text, unresolved := Render("[not a token] [ok]", map[string]string{"ok": "yes"})

	assert.Equal(t, "[not a token] yes", text)
	assert.Empty(t, unresolved)
}

func TestRenderTemplate_MergesUnresolved(t *testing.T) {
	tmpl := models.Template{
		TitlePattern: "Welcome [Name]",
		BodyPattern:  "Your [Plan] starts on [Date]",
	}
	title, body, unresolved := RenderTemplate(tmpl, map[string]string{"Name": "Bisi"})

	assert.Equal(t, "Welcome Bisi", title)
	assert.Equal(t, "Your [Plan] starts on [Date]", body)
	assert.Equal(t, []string{"Date", "Plan"}, unresolved)
}

func TestMergeUnresolved_SortsAndDeduplicates(t *testing.T) {
	merged := MergeUnresolved([]string{"Name", "Amount"}, []string{"Amount", "Due"})

	assert.Equal(t, []string{"Amount", "Due", "Name"}, merged)
	assert.Empty(t, MergeUnresolved(nil, nil))
}

func TestPlaceholders_OrderOfFirstAppearance(t *testing.T) {
	assert.Equal(t, []string{"B", "A"}, Placeholders("[B] then [A] then [B]"))
	assert.Nil(t, Placeholders("nothing here"))
}

func TestHighlight(t *testing.T) {
	out := Highlight("Hello [Name]", "<mark>", "</mark>")
	assert.Equal(t, "Hello <mark>[Name]</mark>", out)
}

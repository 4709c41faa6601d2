package config

// Palette holds the colors of a UI theme
type Palette struct {
	Background string `json:"bg"`
	Card       string `json:"card"`
	Text       string `json:"text"`
	Muted      string `json:"muted"`
	Accent     string `json:"accent"`
}

const DefaultTheme = "Aurora Purple"

// Themes are shared by the web pages and the terminal console
var Themes = map[string]Palette{
	"Aurora Purple":    {Background: "#0f1724", Card: "#1f2340", Text: "#E6E7FF", Muted: "#cbd5ff", Accent: "#9B5CF6"},
	"Light Enterprise": {Background: "#FFFFFF", Card: "#F7FAFC", Text: "#0F1724", Muted: "#475569", Accent: "#0B74DE"},
	"Carbon Black":     {Background: "#0b0b0d", Card: "#151515", Text: "#F7F7F7", Muted: "#CCCCCC", Accent: "#D4AF37"},
}

// ThemeNames lists themes in display order
var ThemeNames = []string{"Aurora Purple", "Light Enterprise", "Carbon Black"}

// Theme returns the palette for name, falling back to the default theme
func Theme(name string) (string, Palette) {
	if p, ok := Themes[name]; ok {
		return name, p
	}
	return DefaultTheme, Themes[DefaultTheme]
}

// NextTheme cycles through ThemeNames
func NextTheme(current string) string {
	for i, n := range ThemeNames {
		if n == current {
			return ThemeNames[(i+1)%len(ThemeNames)]
		}
	}
	return ThemeNames[0]
}

package taxonomy

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCategorizeMatchesTableOrder(t *testing.T) {
	slugs := Categorize("web-helper", "Automates frontend testing for React apps", nil)
	assert.Equal(t, []string{"testing", "web", "productivity"}, slugs)
}

func TestCategorizeUsesTopics(t *testing.T) {
	slugs := Categorize("helper", "does things", []string{"kubernetes", "docker"})
	assert.Equal(t, []string{"devops"}, slugs)
}

func TestCategorizeNoMatch(t *testing.T) {
	assert.Empty(t, Categorize("mystery", "an unusual artifact", nil))
}

func TestCategorizeCaseInsensitive(t *testing.T) {
	slugs := Categorize("SQL-Wizard", "Generates SQL queries", nil)
	assert.Contains(t, slugs, "data")
}

func TestBySlug(t *testing.T) {
	cat, ok := BySlug("security")
	assert.True(t, ok)
	assert.Equal(t, "Security", cat.Label)

	_, ok = BySlug("nonexistent")
	assert.False(t, ok)
}

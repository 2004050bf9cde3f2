package challenge

import (
	"fmt"
	"strings"
	"testing"

	"github.com/goodtune/braintrap/internal/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGeneratorNeverRepeatsArchetype(t *testing.T) {
	g := NewGenerator(42)
	tiers := []storage.Difficulty{storage.DifficultyEasy, storage.DifficultyMedium, storage.DifficultyHard}

	var previous Archetype
	seen := make(map[Archetype]bool)
	for i := 0; i < 600; i++ {
		q := g.Generate(tiers[i%len(tiers)])
		require.NotEqual(t, previous, q.Archetype, "archetype repeated at iteration %d", i)
		previous = q.Archetype
		seen[q.Archetype] = true
	}
	assert.Len(t, seen, len(Archetypes))
}

func TestGeneratorIsDeterministicForSeed(t *testing.T) {
	a, b := NewGenerator(7), NewGenerator(7)
	for i := 0; i < 50; i++ {
		assert.Equal(t, a.Generate(storage.DifficultyMedium), b.Generate(storage.DifficultyMedium))
	}
}

func TestEveryTemplateYieldsUsableQuestion(t *testing.T) {
	g := NewGenerator(1)
	for _, tier := range []storage.Difficulty{storage.DifficultyEasy, storage.DifficultyMedium, storage.DifficultyHard} {
		set := templatesFor(tier)
		for _, archetype := range Archetypes {
			templates := set[archetype]
			require.NotEmpty(t, templates, "%s/%s has no templates", tier, archetype)
			for i, tmpl := range templates {
				for n := 0; n < 200; n++ {
					text, answer := tmpl(g.rng)
					assert.NotEmpty(t, strings.TrimSpace(text), "%s/%s#%d", tier, archetype, i)
					assert.GreaterOrEqual(t, answer, 0, "%s/%s#%d: %q", tier, archetype, i, text)
				}
			}
		}
	}
}

func TestGenerateNormalizesUnknownDifficulty(t *testing.T) {
	q := NewGenerator(3).Generate(storage.Difficulty("IMPOSSIBLE"))
	assert.Equal(t, storage.DifficultyEasy, q.Difficulty)
}

func TestKnownAnswers(t *testing.T) {
	// Arithmetic templates print their operands, so the answer can be
	// recomputed from the text.
	g := NewGenerator(99)
	for n := 0; n < 200; n++ {
		text, answer := easyTemplates[Arithmetic][0](g.rng)
		var a, b int
		_, err := fmt.Sscanf(text, "%d + %d", &a, &b)
		require.NoError(t, err)
		assert.Equal(t, a+b, answer)

		text, answer = mediumTemplates[Arithmetic][0](g.rng)
		_, err = fmt.Sscanf(text, "%d × %d", &a, &b)
		require.NoError(t, err)
		assert.Equal(t, a*b, answer)

		var c int
		text, answer = hardTemplates[Arithmetic][0](g.rng)
		_, err = fmt.Sscanf(text, "%d + %d × %d", &a, &b, &c)
		require.NoError(t, err)
		assert.Equal(t, a+b*c, answer)
	}
}

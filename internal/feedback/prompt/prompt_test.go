package prompt

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fairyhunter13/ielts-writing-coach/internal/domain"
)

func TestBuild_TwoMessages(t *testing.T) {
	msgs := Build("  My essay.  ", "", domain.ScoringSystemIELTS)
	require.Len(t, msgs, 2)
	assert.Equal(t, domain.RoleSystem, msgs[0].Role)
	assert.Equal(t, domain.RoleUser, msgs[1].Role)
	assert.Equal(t, "Essay:\nMy essay.", msgs[1].Content)
}

func TestBuild_SystemMessageListsHeadersInOrder(t *testing.T) {
	sys := Build("x", "", "IELTS")[0].Content
	last := -1
	for _, h := range []string{HeaderScore, HeaderExplanation, HeaderLineByLine, HeaderImproved, HeaderBand9} {
		idx := strings.Index(sys, "**"+h+"**")
		require.GreaterOrEqual(t, idx, 0, h)
		assert.Greater(t, idx, last, h)
		last = idx
	}
	assert.Contains(t, sys, "IELTS writing examiner")
	assert.NotContains(t, sys, "{{SYSTEM}}")
	for _, tok := range []string{"[mistake]{", "[+the+]", "[~back~]", "{numerous|a lot of}"} {
		assert.Contains(t, sys, tok)
	}
}

func TestBuild_TaskPromptPrefixesEssay(t *testing.T) {
	msgs := Build("Essay body.", "Some people think...", "")
	assert.Equal(t, "Task:\nSome people think...\n\nEssay:\nEssay body.", msgs[1].Content)
	assert.Contains(t, msgs[0].Content, "IELTS")
}

func TestEssayFrom(t *testing.T) {
	assert.Equal(t, "My essay.", EssayFrom(Build("My essay.", "Discuss cities.", "")))
	assert.Equal(t, "My essay.", EssayFrom(Build("  My essay.  ", "", "IELTS")))
	assert.Equal(t, "raw", EssayFrom([]domain.Message{{Role: domain.RoleUser, Content: "raw"}}))
	assert.Empty(t, EssayFrom(nil))
}

func TestEssayFrom_TaskContainingMarker(t *testing.T) {
	task := "Write about cities.\n\nEssay:\nStart with a definition of a city."
	msgs := Build("Cities are crowded.\nEssay:\nnot a header", task, "")
	assert.Equal(t, "Cities are crowded.\nEssay:\nnot a header", EssayFrom(msgs))
	assert.Contains(t, msgs[1].Content, "Start with a definition of a city.")

	msgs = Build("My essay.", "End your answer after the word Essay:", "")
	assert.Equal(t, "My essay.", EssayFrom(msgs))
}

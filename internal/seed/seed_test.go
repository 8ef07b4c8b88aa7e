package seed_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fairyhunter13/ielts-writing-coach/internal/domain"
	"github.com/fairyhunter13/ielts-writing-coach/internal/seed"
)

type repoStub struct {
	got []domain.SampleQuestion
	err error
}

func (r *repoStub) List(domain.Context, string) ([]domain.SampleQuestion, error) { return nil, nil }
func (r *repoStub) Get(domain.Context, string) (domain.SampleQuestion, error) {
	return domain.SampleQuestion{}, nil
}
func (r *repoStub) Upsert(_ domain.Context, qs []domain.SampleQuestion) (int, error) {
	r.got = qs
	return len(qs), r.err
}

func writeFile(t *testing.T, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "questions.yaml")
	require.NoError(t, os.WriteFile(p, []byte(body), 0o600))
	return p
}

func TestParse_MappingForm(t *testing.T) {
	qs, err := seed.Parse([]byte(`
questions:
  - id: " t2-cities "
    category: Task2
    title: Cities
    prompt: |
      Some people think cities are better places to live.
    minutes: 40
    min_words: 250
  - id: t1-chart
    category: task1
    prompt: Describe the chart.
    minutes: 20
    min_words: 150
`))
	require.NoError(t, err)
	require.Len(t, qs, 2)
	assert.Equal(t, "t2-cities", qs[0].ID)
	assert.Equal(t, "task2", qs[0].Category)
	assert.Equal(t, "Some people think cities are better places to live.", qs[0].Prompt)
	assert.Equal(t, 250, qs[0].MinWords)
	assert.Equal(t, 20, qs[1].Minutes)
}

func TestParse_BareList(t *testing.T) {
	qs, err := seed.Parse([]byte(`
- id: a
  prompt: first
- id: b
  prompt: second
`))
	require.NoError(t, err)
	assert.Len(t, qs, 2)
}

func TestParse_DuplicateKeepsLast(t *testing.T) {
	qs, err := seed.Parse([]byte(`
- id: a
  prompt: first
- id: b
  prompt: other
- id: a
  prompt: replaced
`))
	require.NoError(t, err)
	require.Len(t, qs, 2)
	assert.Equal(t, "replaced", qs[0].Prompt)
}

func TestParse_Invalid(t *testing.T) {
	cases := map[string]string{
		"empty":          ``,
		"not yaml":       "questions: [",
		"missing id":     "- prompt: p",
		"missing prompt": "- id: x",
		"negative":       "- id: x\n  prompt: p\n  minutes: -1",
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := seed.Parse([]byte(body))
			require.ErrorIs(t, err, domain.ErrInvalidArgument)
		})
	}
}

func TestLoadFile_PathRules(t *testing.T) {
	p := writeFile(t, "- id: a\n  prompt: p\n")

	_, err := seed.LoadFile(p, seed.Options{})
	require.ErrorIs(t, err, domain.ErrInvalidArgument, "temp dir is outside the working directory")

	qs, err := seed.LoadFile(p, seed.Options{AllowAbsPaths: true})
	require.NoError(t, err)
	assert.Len(t, qs, 1)

	_, err = seed.LoadFile(filepath.Join(filepath.Dir(p), "missing.yaml"), seed.Options{AllowAbsPaths: true})
	require.ErrorIs(t, err, domain.ErrNotFound)
}

func TestSeedFile(t *testing.T) {
	p := writeFile(t, "- id: a\n  prompt: p\n- id: b\n  prompt: q\n")
	repo := &repoStub{}
	n, err := seed.SeedFile(context.Background(), repo, p, seed.Options{AllowAbsPaths: true})
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Len(t, repo.got, 2)

	repo = &repoStub{err: errors.New("db down")}
	_, err = seed.SeedFile(context.Background(), repo, p, seed.Options{AllowAbsPaths: true})
	require.Error(t, err)
}

func TestDeployedSeedFileParses(t *testing.T) {
	qs, err := seed.LoadFile("../../deploy/questions.yaml", seed.Options{AllowAbsPaths: true})
	require.NoError(t, err)
	assert.NotEmpty(t, qs)
	for _, q := range qs {
		assert.Contains(t, []string{"task1", "task2"}, q.Category, q.ID)
		assert.Positive(t, q.MinWords, q.ID)
	}
}

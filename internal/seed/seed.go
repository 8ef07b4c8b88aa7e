// Package seed loads sample writing questions from a YAML file and upserts
// them into the question repository.
package seed

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/fairyhunter13/ielts-writing-coach/internal/domain"
)

type questionsYAML struct {
	Questions []domain.SampleQuestion `yaml:"questions"`
}

// Options constrain where seed files may be read from.
type Options struct {
	// AllowAbsPaths permits files outside the working directory.
	AllowAbsPaths bool
}

// LoadFile reads and validates the questions in path. Entries are trimmed,
// duplicates keep the last definition, and ordering follows the file.
func LoadFile(path string, opts Options) ([]domain.SampleQuestion, error) {
	abs, err := resolve(path, opts)
	if err != nil {
		return nil, err
	}
	b, err := os.ReadFile(abs)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("op=seed.LoadFile: %w: seed file not found: %s", domain.ErrNotFound, path)
		}
		return nil, fmt.Errorf("op=seed.LoadFile: %w", err)
	}
	qs, err := Parse(b)
	if err != nil {
		return nil, fmt.Errorf("op=seed.LoadFile: %s: %w", path, err)
	}
	return qs, nil
}

// Parse decodes a seed document. Both a `questions:` mapping and a bare
// list are accepted.
func Parse(b []byte) ([]domain.SampleQuestion, error) {
	var doc questionsYAML
	if err := yaml.Unmarshal(b, &doc); err != nil || len(doc.Questions) == 0 {
		var ls []domain.SampleQuestion
		if err2 := yaml.Unmarshal(b, &ls); err2 != nil {
			if err == nil {
				err = err2
			}
			return nil, fmt.Errorf("%w: yaml parse: %v", domain.ErrInvalidArgument, err)
		}
		doc.Questions = ls
	}
	if len(doc.Questions) == 0 {
		return nil, fmt.Errorf("%w: no questions to seed", domain.ErrInvalidArgument)
	}

	index := make(map[string]int, len(doc.Questions))
	out := make([]domain.SampleQuestion, 0, len(doc.Questions))
	for i, q := range doc.Questions {
		q.ID = strings.TrimSpace(q.ID)
		q.Category = strings.ToLower(strings.TrimSpace(q.Category))
		q.Title = strings.TrimSpace(q.Title)
		q.Prompt = strings.TrimSpace(q.Prompt)
		if q.ID == "" || q.Prompt == "" {
			return nil, fmt.Errorf("%w: question %d needs an id and a prompt", domain.ErrInvalidArgument, i+1)
		}
		if q.Minutes < 0 || q.MinWords < 0 {
			return nil, fmt.Errorf("%w: question %s has negative limits", domain.ErrInvalidArgument, q.ID)
		}
		if j, ok := index[q.ID]; ok {
			slog.Warn("duplicate question id in seed", slog.String("id", q.ID))
			out[j] = q
			continue
		}
		index[q.ID] = len(out)
		out = append(out, q)
	}
	return out, nil
}

// SeedFile loads path and upserts its questions, returning how many were written.
func SeedFile(ctx domain.Context, repo domain.QuestionRepository, path string, opts Options) (int, error) {
	qs, err := LoadFile(path, opts)
	if err != nil {
		return 0, err
	}
	n, err := repo.Upsert(ctx, qs)
	if err != nil {
		return 0, fmt.Errorf("op=seed.SeedFile: %w", err)
	}
	slog.Info("sample questions seeded", slog.String("file", path), slog.Int("count", n))
	return n, nil
}

// resolve keeps relative seed paths inside the working directory.
func resolve(path string, opts Options) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("op=seed.resolve: %w", err)
	}
	if opts.AllowAbsPaths {
		return abs, nil
	}
	wd, err := os.Getwd()
	if err != nil {
		return "", fmt.Errorf("op=seed.resolve: %w", err)
	}
	wd = filepath.Clean(wd)
	if abs != wd && !strings.HasPrefix(abs, wd+string(os.PathSeparator)) {
		return "", fmt.Errorf("op=seed.resolve: %w: disallowed path: %s", domain.ErrInvalidArgument, abs)
	}
	return abs, nil
}

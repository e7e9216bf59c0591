package collab

import (
	"context"
	"fmt"
	"strings"
)

// Artifact is the deliverable of the mvp-build stage.
type Artifact struct {
	Name        string   `json:"name"`
	Slug        string   `json:"slug"`
	Stack       []string `json:"stack"`
	RepoURL     string   `json:"repo_url"`
	DeployURL   string   `json:"deploy_url,omitempty"`
	Pages       int      `json:"pages"`
	TestsPassed bool     `json:"tests_passed"`
}

// BuildParams carries the idea to materialize.
type BuildParams struct {
	Idea       Idea `json:"idea"`
	AutoDeploy bool `json:"auto_deploy"`
}

// Builder scaffolds and deploys an MVP. A production deployment swaps this
// for source-control and deployment-provider clients.
type Builder struct{}

// Build emits a deterministic artifact for the idea.
func (b Builder) Build(ctx context.Context, p BuildParams) (Artifact, error) {
	if err := ctx.Err(); err != nil {
		return Artifact{}, err
	}
	if p.Idea.Name == "" {
		return Artifact{}, fmt.Errorf("build: idea name required")
	}
	slug := slugify(p.Idea.Name)
	a := Artifact{
		Name:        p.Idea.Name,
		Slug:        slug,
		Stack:       []string{"go", "sqlite", "htmx"},
		RepoURL:     "https://git.example.com/mvps/" + slug,
		Pages:       4,
		TestsPassed: true,
	}
	if p.AutoDeploy {
		a.DeployURL = "https://" + slug + ".apps.example.com"
	}
	return a, nil
}

// ArtifactFactors maps an artifact onto the mvp-build weight profile's keys.
func ArtifactFactors(a Artifact) map[string]float64 {
	deployed := 0.2
	if a.DeployURL != "" {
		deployed = 1.0
	}
	tests := 0.3
	if a.TestsPassed {
		tests = 1.0
	}
	return map[string]float64{
		"deployed":     deployed,
		"tests_passed": tests,
		"scaffold":     clamp01(float64(a.Pages) / 4),
	}
}

func slugify(name string) string {
	s := strings.ToLower(name)
	var b strings.Builder
	prevDash := false
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
			prevDash = false
		default:
			if !prevDash && b.Len() > 0 {
				b.WriteByte('-')
				prevDash = true
			}
		}
	}
	return strings.TrimSuffix(b.String(), "-")
}

package types

import "time"

// Artifact is the persisted output of a non-interactive turn.
type Artifact struct {
	ID        string     `yaml:"id"`
	Type      string     `yaml:"type"`
	Source    string     `yaml:"source_job"`
	Trust     TrustLevel `yaml:"trust_level"`
	Model     string     `yaml:"model"`
	CreatedAt time.Time  `yaml:"created_at"`
	Content   string     `yaml:"-"`
}

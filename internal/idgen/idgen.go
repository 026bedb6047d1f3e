// Package idgen generates the time-ordered job identifiers handed back
// by start_job and start_multi_job.
package idgen

import (
	"fmt"

	"github.com/google/uuid"
)

// Generator produces UUIDv7 job IDs: time-ordered, so job IDs sort
// lexicographically by creation time.
type Generator struct{}

// New creates a Generator.
func New() *Generator { return &Generator{} }

// NewJobID returns a UUIDv7 string suitable as a job_id.
func (Generator) NewJobID() (string, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return "", fmt.Errorf("idgen: generate uuid7: %w", err)
	}
	return id.String(), nil
}

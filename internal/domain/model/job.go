// Package model defines the core data types for the scenesmith job system.
package model

import (
	"fmt"
	"strings"
	"time"
)

// JobState represents the lifecycle state of a job.
//
//nolint:recvcheck // UnmarshalText needs pointer receiver, Valid needs value receiver
type JobState string

const (
	// JobStateQueued indicates a job is waiting for a worker slot.
	JobStateQueued JobState = "queued"
	// JobStateRunning indicates a job's stage sequence is executing.
	JobStateRunning JobState = "running"
	// JobStateCompleted indicates all stages finished successfully.
	JobStateCompleted JobState = "completed"
	// JobStateFailed indicates a stage failed, timed out, or was misconfigured.
	JobStateFailed JobState = "failed"
)

// Valid returns true if the JobState is valid.
func (s JobState) Valid() bool {
	return s == JobStateQueued || s == JobStateRunning || s == JobStateCompleted ||
		s == JobStateFailed
}

// Terminal returns true for states that no transition leaves.
func (s JobState) Terminal() bool {
	return s == JobStateCompleted || s == JobStateFailed
}

// UnmarshalText implements encoding.TextUnmarshaler to allow env and query parsing.
func (s *JobState) UnmarshalText(text []byte) error {
	v := JobState(strings.ToLower(strings.TrimSpace(string(text))))
	if !v.Valid() {
		return fmt.Errorf("invalid JobState: %q", v)
	}
	*s = v
	return nil
}

// ArtifactKind tags an artifact with its role in the pipeline.
type ArtifactKind string

const (
	// KindFloorplan is the uploaded floorplan image.
	KindFloorplan ArtifactKind = "floorplan"
	// KindPhoto is an uploaded room photograph.
	KindPhoto ArtifactKind = "photo"
	// KindSurfaces is the rectified surface crop set from preprocessing.
	KindSurfaces ArtifactKind = "surfaces"
	// KindEmbeddings is the per-surface feature embedding file.
	KindEmbeddings ArtifactKind = "embeddings"
	// KindTextures is the synthesized texture set for observed surfaces.
	KindTextures ArtifactKind = "textures"
	// KindPropagation is the texture assignment for unobserved surfaces.
	KindPropagation ArtifactKind = "propagation"
	// KindMaterials is the seam-corrected material library.
	KindMaterials ArtifactKind = "materials"
	// KindModel is the textured 3D model.
	KindModel ArtifactKind = "model"
	// KindSceneDescription is the scene metadata document.
	KindSceneDescription ArtifactKind = "scene-description"
	// KindVideo is the rendered walkthrough video.
	KindVideo ArtifactKind = "video"
)

// DeliverableKinds are the artifact kinds exposed as the completed deliverable set.
// Intermediate stage outputs are retained for diagnostics but never presented as
// deliverables.
func DeliverableKinds() []ArtifactKind {
	return []ArtifactKind{KindModel, KindMaterials, KindSceneDescription, KindVideo}
}

// ArtifactRef is a job-scoped, kind-tagged locator resolvable by the artifact store.
type ArtifactRef struct {
	JobID    string       `json:"job_id"`
	Kind     ArtifactKind `json:"kind"`
	Filename string       `json:"filename"`
}

// Validate checks that the reference is fully specified and uses a safe filename.
func (r ArtifactRef) Validate() error {
	if r.JobID == "" {
		return fmt.Errorf("artifact ref: job id is required")
	}
	if r.Kind == "" {
		return fmt.Errorf("artifact ref: kind is required")
	}
	if r.Filename == "" {
		return fmt.Errorf("artifact ref: filename is required")
	}
	if strings.ContainsAny(r.Filename, "/\\") || strings.Contains(r.Filename, "..") {
		return fmt.Errorf("artifact ref: unsafe filename %q", r.Filename)
	}
	return nil
}

// JobError records which stage failed and why. Populated only on failed jobs.
type JobError struct {
	Stage string `json:"stage"`
	Cause string `json:"cause"`
}

// Job is the canonical record of one processing request.
//
// A job is created at submission (queued), mutated only by the scheduler while
// running, and becomes immutable on entering a terminal state except for removal
// by the retention sweeper.
type Job struct {
	ID           string                       `json:"id"`
	State        JobState                     `json:"state"`
	CurrentStage string                       `json:"current_stage,omitempty"`
	Progress     int                          `json:"progress"`
	Message      string                       `json:"message"`
	InputRefs    []ArtifactRef                `json:"input_refs"`
	OutputRefs   map[ArtifactKind]ArtifactRef `json:"output_refs,omitempty"`
	Error        *JobError                    `json:"error,omitempty"`
	CreatedAt    time.Time                    `json:"created_at"`
	CompletedAt  *time.Time                   `json:"completed_at,omitempty"`
}

// Clone returns a deep copy so store callers can never alias internal state.
func (j *Job) Clone() *Job {
	if j == nil {
		return nil
	}
	out := *j
	if j.InputRefs != nil {
		out.InputRefs = make([]ArtifactRef, len(j.InputRefs))
		copy(out.InputRefs, j.InputRefs)
	}
	if j.OutputRefs != nil {
		out.OutputRefs = make(map[ArtifactKind]ArtifactRef, len(j.OutputRefs))
		for k, v := range j.OutputRefs {
			out.OutputRefs[k] = v
		}
	}
	if j.Error != nil {
		e := *j.Error
		out.Error = &e
	}
	if j.CompletedAt != nil {
		ts := *j.CompletedAt
		out.CompletedAt = &ts
	}
	return &out
}

// Status is the externally observable projection of a job record.
//
// Progress is passed through verbatim from the record; outputs appear only once
// the job completed, and only deliverable kinds are listed.
type Status struct {
	ID           string                       `json:"id"`
	State        JobState                     `json:"state"`
	CurrentStage string                       `json:"current_stage,omitempty"`
	Progress     int                          `json:"progress"`
	Message      string                       `json:"message"`
	Outputs      map[ArtifactKind]ArtifactRef `json:"outputs,omitempty"`
	Error        *JobError                    `json:"error,omitempty"`
	CreatedAt    time.Time                    `json:"created_at"`
	CompletedAt  *time.Time                   `json:"completed_at,omitempty"`
}

// SubmitResult is returned to the client after a successful submission.
type SubmitResult struct {
	ID    string   `json:"id"`
	State JobState `json:"state"`
}

// StageOutcome is what a stage executor reports on success: the artifacts it
// wrote and an optional human-readable detail message.
type StageOutcome struct {
	Outputs map[ArtifactKind]ArtifactRef
	Message string
}

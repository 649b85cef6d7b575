package dto

import "time"

// SubmitEnrollmentRequest carries the application form fields. Document
// handles are produced by the storage collaborator and passed alongside.
type SubmitEnrollmentRequest struct {
	Track          string `json:"track" form:"track" validate:"required"`
	Specialization string `json:"specialization" form:"specialization"`
	SchoolYear     string `json:"school_year" form:"schoolYear" validate:"required"`
	GradeLevel     *int   `json:"grade_level" form:"yearLevel"`
}

// ArchiveEnrollmentRequest carries the archival reason.
type ArchiveEnrollmentRequest struct {
	Reason string `json:"reason" validate:"required"`
}

// DocumentLinkResponse returns a signed download token for a document slot.
type DocumentLinkResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

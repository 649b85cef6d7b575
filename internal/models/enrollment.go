package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

// EnrollmentStatus represents the decision lifecycle of an application.
type EnrollmentStatus string

// Status transitions are monotonic: PENDING may move to APPROVED or
// REJECTED, never back.
const (
	EnrollmentStatusPending  EnrollmentStatus = "PENDING"
	EnrollmentStatusApproved EnrollmentStatus = "APPROVED"
	EnrollmentStatusRejected EnrollmentStatus = "REJECTED"
)

// EnrollmentTrack is the academic track applied for.
type EnrollmentTrack string

const (
	TrackJunior EnrollmentTrack = "junior"
	TrackSenior EnrollmentTrack = "senior"
)

// Valid reports whether the track is recognised.
func (t EnrollmentTrack) Valid() bool {
	return t == TrackJunior || t == TrackSenior
}

// DocumentSlot names the single-document slots on an application.
type DocumentSlot string

const (
	SlotReportCard       DocumentSlot = "reportCard"
	SlotGoodConductCert  DocumentSlot = "goodConductCert"
	SlotBirthCertificate DocumentSlot = "birthCertificate"
)

// MaxSupplementaryDocuments caps the supplementary handle list.
const MaxSupplementaryDocuments = 5

// ErrSupplementaryLimit is returned by AppendSupplementary beyond the cap.
var ErrSupplementaryLimit = fmt.Errorf("supplementary documents capped at %d", MaxSupplementaryDocuments)

// ErrUnknownSlot is returned by Attach for an unrecognised slot name.
var ErrUnknownSlot = fmt.Errorf("unknown document slot")

// EnrollmentDocuments associates opaque storage handles with an application.
// Stored as a JSONB column.
type EnrollmentDocuments struct {
	ReportCard       *string  `json:"report_card,omitempty"`
	GoodConductCert  *string  `json:"good_conduct_cert,omitempty"`
	BirthCertificate *string  `json:"birth_certificate,omitempty"`
	Supplementary    []string `json:"supplementary,omitempty"`
}

// Attach records a handle in the named single-document slot.
func (d *EnrollmentDocuments) Attach(slot DocumentSlot, handle string) error {
	switch slot {
	case SlotReportCard:
		d.ReportCard = &handle
	case SlotGoodConductCert:
		d.GoodConductCert = &handle
	case SlotBirthCertificate:
		d.BirthCertificate = &handle
	default:
		return ErrUnknownSlot
	}
	return nil
}

// AppendSupplementary adds a handle to the ordered supplementary list.
func (d *EnrollmentDocuments) AppendSupplementary(handle string) error {
	if len(d.Supplementary) >= MaxSupplementaryDocuments {
		return ErrSupplementaryLimit
	}
	d.Supplementary = append(d.Supplementary, handle)
	return nil
}

// Slot returns the handle stored in the named slot, if any.
func (d *EnrollmentDocuments) Slot(slot DocumentSlot) (string, bool) {
	var ref *string
	switch slot {
	case SlotReportCard:
		ref = d.ReportCard
	case SlotGoodConductCert:
		ref = d.GoodConductCert
	case SlotBirthCertificate:
		ref = d.BirthCertificate
	}
	if ref == nil {
		return "", false
	}
	return *ref, true
}

// Contains reports whether the handle is referenced anywhere on the record.
func (d *EnrollmentDocuments) Contains(handle string) bool {
	for _, slot := range []*string{d.ReportCard, d.GoodConductCert, d.BirthCertificate} {
		if slot != nil && *slot == handle {
			return true
		}
	}
	for _, extra := range d.Supplementary {
		if extra == handle {
			return true
		}
	}
	return false
}

// Value implements driver.Valuer for the JSONB documents column.
func (d EnrollmentDocuments) Value() (driver.Value, error) {
	return json.Marshal(d)
}

// Scan implements sql.Scanner for the JSONB documents column.
func (d *EnrollmentDocuments) Scan(src interface{}) error {
	switch v := src.(type) {
	case nil:
		*d = EnrollmentDocuments{}
		return nil
	case []byte:
		return json.Unmarshal(v, d)
	case string:
		return json.Unmarshal([]byte(v), d)
	default:
		return fmt.Errorf("unsupported documents column type %T", src)
	}
}

// EnrollmentRecord is the application artifact tracked from submission
// through decision and archival. Records are never physically deleted.
type EnrollmentRecord struct {
	ID             string              `db:"id" json:"id"`
	StudentRef     string              `db:"student_ref" json:"student_ref"`
	ApplicantName  string              `db:"applicant_name" json:"applicant_name"`
	StudentID      string              `db:"student_id" json:"student_id"`
	Track          EnrollmentTrack     `db:"track" json:"track"`
	Specialization *string             `db:"specialization" json:"specialization,omitempty"`
	Section        *string             `db:"section" json:"section,omitempty"`
	SchoolYear     string              `db:"school_year" json:"school_year"`
	GradeLevel     *int                `db:"grade_level" json:"grade_level,omitempty"`
	Status         EnrollmentStatus    `db:"status" json:"status"`
	Documents      EnrollmentDocuments `db:"documents" json:"documents"`
	Graduated      bool                `db:"graduated" json:"graduated"`
	Archived       bool                `db:"archived" json:"archived"`
	ArchiveReason  *string             `db:"archive_reason" json:"archive_reason,omitempty"`
	DecidedBy      *string             `db:"decided_by" json:"decided_by,omitempty"`
	DecidedAt      *time.Time          `db:"decided_at" json:"decided_at,omitempty"`
	CreatedAt      time.Time           `db:"created_at" json:"created_at"`
	UpdatedAt      time.Time           `db:"updated_at" json:"updated_at"`
}

// EnrollmentFilter provides filters for the registrar review queue.
type EnrollmentFilter struct {
	Status     EnrollmentStatus
	SchoolYear string
	Track      EnrollmentTrack
	Archived   *bool
	Page       int
	PageSize   int
}

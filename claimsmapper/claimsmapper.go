// Package claimsmapper implements the claim->attestation mapping
// IdentitySessionCore's HandleCallback delegates to per provider
// (spec.md §4.6 step 3): strict date-of-birth parsing, birthday-aware
// age computation, subject-id validation, and discard of dateOfBirth
// from the mapped result.
package claimsmapper

import (
	"regexp"
	"time"

	"github.com/tracepost-larvae/agecred/apperr"
	"github.com/tracepost-larvae/agecred/models"
	"github.com/tracepost-larvae/agecred/providerclient"
)

// MappedClaims is everything HandleCallback needs after mapping; note
// dateOfBirth never appears here — it is discarded by design.
type MappedClaims struct {
	ProviderID     string
	SubjectID      string
	IsAdult        bool
	VerifiedAt     time.Time
	AssuranceLevel models.AssuranceLevel
	ExpiresAt      *time.Time
}

// Mapper maps one provider's raw hub claims into a MappedClaims value.
type Mapper interface {
	Map(resp providerclient.SessionResponse) (MappedClaims, error)
}

var subjectIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,256}$`)

// DefaultMapper implements the age_over_18 mapping shared by every
// provider this platform registers: dateOfBirth -> isAdult, subject.id
// validated and passed through opaquely.
type DefaultMapper struct {
	ProviderID string
	NowFn      func() time.Time
}

func NewDefaultMapper(providerID string) *DefaultMapper {
	return &DefaultMapper{ProviderID: providerID, NowFn: time.Now}
}

func (m *DefaultMapper) Map(resp providerclient.SessionResponse) (MappedClaims, error) {
	now := m.now()

	dobRaw, ok := resp.Claims["dateOfBirth"]
	if !ok {
		return MappedClaims{}, apperr.New(apperr.MissingAttribute, "dateOfBirth claim is required")
	}
	dobStr, ok := dobRaw.(string)
	if !ok {
		return MappedClaims{}, apperr.New(apperr.InvalidDateFormat, "dateOfBirth must be a string")
	}
	dob, err := time.Parse("2006-01-02", dobStr)
	if err != nil {
		return MappedClaims{}, apperr.Wrap(apperr.InvalidDateFormat, "dateOfBirth must be strict ISO YYYY-MM-DD", err)
	}

	age := ageAt(dob, now)
	isAdult := age >= 18

	subjectID, err := extractSubjectID(resp.Claims)
	if err != nil {
		return MappedClaims{}, err
	}

	assurance := models.AssuranceUnknown
	if raw, ok := resp.Claims["assurance"].(string); ok {
		switch raw {
		case string(models.AssuranceSubstantial):
			assurance = models.AssuranceSubstantial
		case string(models.AssuranceHigh):
			assurance = models.AssuranceHigh
		}
	}

	return MappedClaims{
		ProviderID:     m.ProviderID,
		SubjectID:      subjectID,
		IsAdult:        isAdult,
		VerifiedAt:     now,
		AssuranceLevel: assurance,
	}, nil
}

func (m *DefaultMapper) now() time.Time {
	if m.NowFn != nil {
		return m.NowFn()
	}
	return time.Now()
}

// ageAt computes whole years between dob and today, adjusting for a
// birthday that hasn't been reached yet this year.
func ageAt(dob, today time.Time) int {
	age := today.Year() - dob.Year()
	anniversary := time.Date(today.Year(), dob.Month(), dob.Day(), 0, 0, 0, 0, time.UTC)
	if today.Before(anniversary) {
		age--
	}
	return age
}

func extractSubjectID(claims map[string]any) (string, error) {
	subjRaw, ok := claims["subject"]
	if !ok {
		return "", apperr.New(apperr.MissingSubjectID, "subject.id claim is required")
	}
	subj, ok := subjRaw.(map[string]any)
	if !ok {
		return "", apperr.New(apperr.MissingSubjectID, "subject claim must be an object")
	}
	idRaw, ok := subj["id"]
	if !ok {
		return "", apperr.New(apperr.MissingSubjectID, "subject.id claim is required")
	}
	id, ok := idRaw.(string)
	if !ok || id == "" {
		return "", apperr.New(apperr.MissingSubjectID, "subject.id claim is required")
	}
	if !ValidSubjectID(id) {
		return "", apperr.New(apperr.InvalidSubjectID, "subject.id must be URL-safe and at most 256 characters")
	}
	return id, nil
}

// ValidSubjectID reports whether id satisfies spec.md's subjectId
// invariant: URL-safe ([A-Za-z0-9_-]), length <= 256.
func ValidSubjectID(id string) bool {
	return subjectIDPattern.MatchString(id)
}

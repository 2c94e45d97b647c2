package verification

import (
	"context"

	"github.com/tracepost-larvae/agecred/apperr"
	"github.com/tracepost-larvae/agecred/models"
)

// booleanVerifier implements the age-boolean-v1 legacy fallback:
// steps 1-4 already ran generically in Core.Verify, so this verifier
// only checks the signed VC's claimed credential type and boolean
// flag, skipping the ZK binding/proof steps 5-8 entirely. Registered
// only when WithLegacyBooleanVerifier is passed to New — spec.md §9
// leaves retaining this path to the operator.
type booleanVerifier struct{}

const ageOver18CredentialType = "AgeOver18Credential"

func (booleanVerifier) Verify(ctx context.Context, req models.VerificationRequest, policy models.PolicyDefinition, vc models.VCClaims) (string, []string, error) {
	if vc.CredentialType != ageOver18CredentialType || !vc.AgeOver18 {
		return vc.Issuer, []string{string(apperr.MalformedPresentation)}, nil
	}
	return vc.Issuer, nil, nil
}

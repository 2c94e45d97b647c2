package verification

import (
	"context"

	"github.com/tracepost-larvae/agecred/apperr"
	"github.com/tracepost-larvae/agecred/models"
)

// zkpVerifier implements spec.md §4.8 steps 5-8 for the zkp-groth16-v1
// presentation type: commitment binding, replay binding, policy
// binding, and proof verification, in that order — each a distinct
// reason code so callers can tell which binding failed.
type zkpVerifier struct {
	proof ProofVerifier
}

// canonical publicSignals layout: [challengeHash, policyHash,
// subjectCommitment, sessionTag, ...auxiliary signals]
const (
	idxChallengeHash     = 0
	idxPolicyHash        = 1
	idxSubjectCommitment = 2
)

func (z *zkpVerifier) Verify(ctx context.Context, req models.VerificationRequest, policy models.PolicyDefinition, vc models.VCClaims) (string, []string, error) {
	signals := req.Presentation.PublicSignals

	if vc.SubjectCommitment != signals[idxSubjectCommitment] {
		return vc.Issuer, []string{string(apperr.BindingMismatch)}, nil
	}

	expectedChallengeHash, err := z.proof.Hash(req.Challenge)
	if err != nil {
		return vc.Issuer, nil, apperr.Wrap(apperr.ZKPServiceUnavailable, "hashing challenge", err)
	}
	if expectedChallengeHash != signals[idxChallengeHash] {
		return vc.Issuer, []string{string(apperr.ReplayDetected)}, nil
	}

	expectedPolicyHash, err := z.proof.HashPolicy(req.PolicyID)
	if err != nil {
		return vc.Issuer, nil, apperr.Wrap(apperr.ZKPServiceUnavailable, "hashing policy", err)
	}
	if expectedPolicyHash != signals[idxPolicyHash] {
		return vc.Issuer, []string{string(apperr.PolicyMismatch)}, nil
	}

	ok, err := z.proof.Verify(req.Presentation.Proof, signals)
	if err != nil {
		return vc.Issuer, nil, apperr.Wrap(apperr.ZKPServiceUnavailable, "verifying proof", err)
	}
	if !ok {
		return vc.Issuer, []string{string(apperr.ProofInvalid)}, nil
	}

	return vc.Issuer, nil, nil
}

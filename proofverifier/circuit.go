// Package proofverifier implements ProofVerifierClient: the
// zero-knowledge proof verification backend. Its one implementation is
// the in-process gnark/gnark-crypto backend; there is no out-of-process
// backend. It is grounded in the platform's ZKP service structure and in
// the gnark circuit idiom used for BLS aggregate-signature proofs
// elsewhere in the stack.
package proofverifier

import (
	"github.com/consensys/gnark/frontend"
)

// AgeOver18Circuit is the canonical circuit this platform verifies
// against: it binds a wallet secret to a challenge and a policy without
// revealing the secret. Public inputs are exactly the four values
// VerificationCore's binding checks compare against (challengeHash,
// policyHash, subjectCommitment, sessionTag) — the remaining entries of
// the ≥7-element publicSignals envelope are policy-specific auxiliary
// signals (e.g. an assurance-level flag) the circuit author may add
// without changing this binding core.
type AgeOver18Circuit struct {
	ChallengeHash     frontend.Variable `gnark:",public"`
	PolicyHash        frontend.Variable `gnark:",public"`
	SubjectCommitment frontend.Variable `gnark:",public"`
	SessionTag        frontend.Variable `gnark:",public"`

	Secret frontend.Variable
}

// Define implements the circuit constraints: the subject commitment and
// session tag must be consistent linear-combination commitments over
// the private secret and the public binding values — the same
// commitment style certenIO's BLS circuit uses for its pubkey
// commitment, generalized to bind secret+challenge+policy instead of
// a BLS public key.
func (c *AgeOver18Circuit) Define(api frontend.API) error {
	computedCommitment := commit(api, c.Secret, 7)
	api.AssertIsEqual(c.SubjectCommitment, computedCommitment)

	computedSessionTag := commit(api, api.Add(c.Secret, api.Mul(c.ChallengeHash, 11)), c.PolicyHash)
	api.AssertIsEqual(c.SessionTag, computedSessionTag)

	api.AssertIsDifferent(c.Secret, 0)
	return nil
}

// commit is the in-circuit linear-combination commitment shared by both
// assertions above: commit(x, r) = x + x*r (mirrors
// certenIO-certen-validator's computePubkeyCommitment fixed-coefficient
// approach rather than a full Poseidon/MiMC gadget).
func commit(api frontend.API, x, r frontend.Variable) frontend.Variable {
	return api.Add(x, api.Mul(x, r))
}

package proofverifier

import (
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/consensys/gnark-crypto/ecc"
	bn254mimc "github.com/consensys/gnark-crypto/ecc/bn254/fr/mimc"
	"github.com/consensys/gnark/backend/groth16"
	groth16bn254 "github.com/consensys/gnark/backend/groth16/bn254"
	"github.com/consensys/gnark/frontend"
	"github.com/consensys/gnark/frontend/cs/r1cs"

	"github.com/tracepost-larvae/agecred/apperr"
	"github.com/tracepost-larvae/agecred/models"
)

// InProcessBackend verifies Groth16 proofs in-process via
// gnark/gnark-crypto against a verifying key generated for
// AgeOver18Circuit. It also replays-protects recently-seen proofs, the
// same in-memory cache pattern the platform's ZKP service uses for its
// own replay defense.
type InProcessBackend struct {
	vk groth16.VerifyingKey
	pk groth16.ProvingKey // retained for test fixtures that mint proofs in-process

	mu          sync.Mutex
	recentProofs map[string]time.Time
	replayWindow time.Duration
}

// NewInProcessBackend runs a one-time (insecure, dev-only) Setup for
// AgeOver18Circuit. Production deployments load pk/vk produced by a
// real trusted-setup ceremony instead of calling Setup at process
// start; DESIGN.md records this as an open gap.
func NewInProcessBackend() (*InProcessBackend, error) {
	var circuit AgeOver18Circuit
	cs, err := frontend.Compile(ecc.BN254.ScalarField(), r1cs.NewBuilder, &circuit)
	if err != nil {
		return nil, apperr.Wrap(apperr.SystemError, "compiling circuit", err)
	}
	pk, vk, err := groth16.Setup(cs)
	if err != nil {
		return nil, apperr.Wrap(apperr.SystemError, "groth16 setup", err)
	}
	return &InProcessBackend{
		vk:           vk,
		pk:           pk,
		recentProofs: map[string]time.Time{},
		replayWindow: 5 * time.Minute,
	}, nil
}

// Verify implements ProofVerifierClient.Verify: parses proof, builds
// the public witness from publicSignals in the canonical order
// [challengeHash, policyHash, subjectCommitment, sessionTag], and calls
// groth16.Verify against the loaded verifying key.
func (b *InProcessBackend) Verify(proof models.Proof, publicSignals []string) (bool, error) {
	if len(publicSignals) < 4 {
		return false, apperr.New(apperr.MalformedPresentation, "public signals must carry at least the four canonical binding values")
	}

	gproof, err := decodeProof(proof)
	if err != nil {
		return false, err
	}

	fingerprint := proofFingerprint(proof)
	if b.seenRecently(fingerprint) {
		return false, apperr.New(apperr.ReplayDetected, "proof already verified within the replay window")
	}

	assignment := &AgeOver18Circuit{
		ChallengeHash:     publicSignals[0],
		PolicyHash:        publicSignals[1],
		SubjectCommitment: publicSignals[2],
		SessionTag:        publicSignals[3],
	}
	publicWitness, err := frontend.NewWitness(assignment, ecc.BN254.ScalarField(), frontend.PublicOnly())
	if err != nil {
		return false, apperr.Wrap(apperr.MalformedPresentation, "building public witness", err)
	}

	if err := groth16.Verify(gproof, b.vk, publicWitness); err != nil {
		return false, nil
	}
	b.markSeen(fingerprint)
	return true, nil
}

// Hash computes the SNARK-friendly hash bound into the circuit (native
// MiMC over BN254's scalar field, the same native package gnark/std's
// in-circuit MiMC gadget is built on, so prover and verifier agree
// exactly).
func (b *InProcessBackend) Hash(field string) (string, error) {
	h := bn254mimc.NewMiMC()
	h.Write([]byte(field))
	return fmt.Sprintf("%x", h.Sum(nil)), nil
}

// HashPolicy hashes a policyId the same way Hash does; kept as a
// distinct method because spec.md's ProofVerifierClient contract names
// it separately (policy hashing may incorporate circuit-specific
// domain separation in the future).
func (b *InProcessBackend) HashPolicy(policyID string) (string, error) {
	return b.Hash("policy:" + policyID)
}

func (b *InProcessBackend) seenRecently(fingerprint string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	t, ok := b.recentProofs[fingerprint]
	if !ok {
		return false
	}
	return time.Since(t) < b.replayWindow
}

func (b *InProcessBackend) markSeen(fingerprint string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.recentProofs[fingerprint] = time.Now()
	if len(b.recentProofs) > 10000 {
		cutoff := time.Now().Add(-b.replayWindow)
		for k, v := range b.recentProofs {
			if v.Before(cutoff) {
				delete(b.recentProofs, k)
			}
		}
	}
}

func proofFingerprint(p models.Proof) string {
	return p.PiA[0] + p.PiA[1] + p.PiC[0] + p.PiC[1]
}

// decodeProof assembles a gnark groth16.Proof from the wire
// {piA,piB,piC} triple. piA/piC carry [x, y, paddingOne]; piB carries
// [[x0,x1],[y0,y1],[pad0,pad1]] — this platform's own wire convention,
// not the circom/snarkjs big-endian-reversed layout.
func decodeProof(p models.Proof) (groth16.Proof, error) {
	proof := &groth16bn254.Proof{}

	ax, err := parseField(p.PiA[0])
	if err != nil {
		return nil, err
	}
	ay, err := parseField(p.PiA[1])
	if err != nil {
		return nil, err
	}
	proof.Ar.X.SetBigInt(ax)
	proof.Ar.Y.SetBigInt(ay)

	bx0, err := parseField(p.PiB[0][0])
	if err != nil {
		return nil, err
	}
	bx1, err := parseField(p.PiB[0][1])
	if err != nil {
		return nil, err
	}
	by0, err := parseField(p.PiB[1][0])
	if err != nil {
		return nil, err
	}
	by1, err := parseField(p.PiB[1][1])
	if err != nil {
		return nil, err
	}
	proof.Bs.X.A0.SetBigInt(bx0)
	proof.Bs.X.A1.SetBigInt(bx1)
	proof.Bs.Y.A0.SetBigInt(by0)
	proof.Bs.Y.A1.SetBigInt(by1)

	kx, err := parseField(p.PiC[0])
	if err != nil {
		return nil, err
	}
	ky, err := parseField(p.PiC[1])
	if err != nil {
		return nil, err
	}
	proof.Krs.X.SetBigInt(kx)
	proof.Krs.Y.SetBigInt(ky)

	return proof, nil
}

func parseField(s string) (*big.Int, error) {
	n, ok := new(big.Int).SetString(s, 0)
	if !ok {
		return nil, apperr.New(apperr.MalformedPresentation, "proof field element is not a valid integer literal")
	}
	return n, nil
}

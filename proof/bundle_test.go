// Copyright 2025 AxonFlow
// SPDX-License-Identifier: BUSL-1.1

package proof

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestSealer(t *testing.T) *Sealer {
	t.Helper()
	s, err := NewSealer("test-sealing-secret")
	require.NoError(t, err)
	return s
}

func testRequest() Request {
	return Request{
		PartnerID:    "partner-1",
		EnterpriseID: "ent-1",
		Model:        "gpt-4o",
		Prompt:       "Summarize the quarterly report",
		Timestamp:    time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
	}
}

func testVerdict() Verdict {
	return Verdict{
		Decision:   "allow",
		Reasons:    nil,
		PolicyIDs:  []string{"pol-1"},
		Confidence: 1.0,
	}
}

func TestSealThenVerify(t *testing.T) {
	s := newTestSealer(t)

	bundle, err := s.Seal(testRequest(), testVerdict(), &Response{Content: "Revenue grew 12%", Tokens: 48})
	require.NoError(t, err)

	assert.NotEmpty(t, bundle.BundleID)
	assert.NotEmpty(t, bundle.RequestHash)
	assert.NotEqual(t, noResponseSentinel, bundle.ResponseHash)
	assert.Equal(t, "HMAC-SHA256", bundle.Metadata.Algorithm)
	assert.Equal(t, "1.0", bundle.Metadata.Version)

	assert.True(t, s.Verify(bundle), "a freshly sealed bundle must verify")
}

func TestSealWithoutResponse(t *testing.T) {
	s := newTestSealer(t)

	bundle, err := s.Seal(testRequest(), Verdict{Decision: "block", Reasons: []string{"model blocked"}}, nil)
	require.NoError(t, err)

	assert.Equal(t, noResponseSentinel, bundle.ResponseHash)
	assert.True(t, s.Verify(bundle), "blocked requests still seal and verify")
}

func TestVerifyDetectsTampering(t *testing.T) {
	s := newTestSealer(t)

	flipLastChar := func(s string) string {
		if s[len(s)-1] == '0' {
			return s[:len(s)-1] + "1"
		}
		return s[:len(s)-1] + "0"
	}
	mutations := map[string]func(*Bundle){
		"request hash":  func(b *Bundle) { b.RequestHash = flipLastChar(b.RequestHash) },
		"response hash": func(b *Bundle) { b.ResponseHash = noResponseSentinel },
		"verdict hash":  func(b *Bundle) { b.PolicyEvaluationHash = b.RequestHash },
		"signature":     func(b *Bundle) { b.MACSignature = flipLastChar(b.MACSignature) },
	}

	for name, mutate := range mutations {
		bundle, err := s.Seal(testRequest(), testVerdict(), &Response{Content: "ok", Tokens: 1})
		require.NoError(t, err)
		require.True(t, s.Verify(bundle))

		mutate(bundle)
		assert.False(t, s.Verify(bundle), "mutating the %s must break verification", name)
	}
}

func TestVerifyRejectsForeignSecret(t *testing.T) {
	s := newTestSealer(t)
	bundle, err := s.Seal(testRequest(), testVerdict(), nil)
	require.NoError(t, err)

	other, err := NewSealer("different-secret")
	require.NoError(t, err)
	assert.False(t, other.Verify(bundle))
}

func TestSealIsDeterministicUpToIdentity(t *testing.T) {
	fixed := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	s, err := NewSealer("test-sealing-secret",
		WithClock(func() time.Time { return fixed }),
		WithIDGenerator(func() string { return "bundle-1" }))
	require.NoError(t, err)

	a, err := s.Seal(testRequest(), testVerdict(), nil)
	require.NoError(t, err)
	b, err := s.Seal(testRequest(), testVerdict(), nil)
	require.NoError(t, err)

	assert.Equal(t, a.RequestHash, b.RequestHash)
	assert.Equal(t, a.PolicyEvaluationHash, b.PolicyEvaluationHash)
	assert.Equal(t, a.MACSignature, b.MACSignature)
}

func TestNewSealerRequiresSecret(t *testing.T) {
	_, err := NewSealer("")
	assert.ErrorIs(t, err, ErrEmptySecret)
}

func TestSealAssetDeclaration(t *testing.T) {
	s := newTestSealer(t)

	tools := []ToolUsage{
		{ToolID: "tool-1", ToolName: "Midjourney", HowUsed: "hero image generation"},
		{ToolID: "tool-2", ToolName: "Copilot", HowUsed: "boilerplate code"},
	}
	validation := ToolValidation{Approved: true, AggregatedRisk: RiskMedium}

	bundle, err := s.SealAssetDeclaration("sha256:abcd1234", tools, validation, "decl-9")
	require.NoError(t, err)

	assert.Equal(t, "2.0", bundle.Metadata.Version)
	assert.Equal(t, "sha256:abcd1234", bundle.RequestHash)
	assert.Equal(t, assetResponseSentinel, bundle.ResponseHash)
	assert.Equal(t, []string{"tool-1", "tool-2"}, bundle.Metadata.ToolsDeclared)
	assert.Equal(t, "decl-9", bundle.Metadata.DeclarationID)
	assert.NotEmpty(t, bundle.Metadata.ToolDeclarationHash)

	assert.True(t, s.Verify(bundle), "asset bundles verify against their own hash composition")

	bundle.Metadata.ToolDeclarationHash = bundle.PolicyEvaluationHash
	assert.False(t, s.Verify(bundle))
}

// Copyright 2025 AxonFlow
// SPDX-License-Identifier: BUSL-1.1

// Package proof seals governance decisions into tamper-evident bundles.
// A bundle binds three SHA-256 content hashes with an HMAC-SHA256
// signature; any post-hoc edit to a sealed field breaks verification.
package proof

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// noResponseSentinel replaces the response hash when sealing happens
// before (or without) an upstream response, e.g. on a block.
const noResponseSentinel = "no-response"

// assetResponseSentinel marks asset-declaration bundles, which have no
// response leg at all.
const assetResponseSentinel = "asset-declaration"

const (
	algorithmHMACSHA256 = "HMAC-SHA256"

	// versionRequest is the bundle shape for governed requests;
	// versionAsset is the asset/tool-declaration shape.
	versionRequest = "1.0"
	versionAsset   = "2.0"
)

// ErrEmptySecret is returned when constructing a sealer without a key.
var ErrEmptySecret = errors.New("proof: sealing secret must not be empty")

// Metadata describes how a bundle was produced. The tool attestation
// fields are only present on asset-declaration bundles.
type Metadata struct {
	Algorithm           string   `json:"algorithm"`
	Version             string   `json:"version"`
	GenerationTimeMs    float64  `json:"generation_time_ms"`
	ToolDeclarationHash string   `json:"tool_declaration_hash,omitempty"`
	ToolsDeclared       []string `json:"tools_declared,omitempty"`
	AssetFileHash       string   `json:"asset_file_hash,omitempty"`
	DeclarationID       string   `json:"declaration_id,omitempty"`
}

// Bundle is a sealed, write-once audit artifact. The MAC signature
// binds the three hashes; Verify detects any mutation of them.
type Bundle struct {
	BundleID             string    `json:"bundle_id"`
	RequestHash          string    `json:"request_hash"`
	ResponseHash         string    `json:"response_hash"`
	PolicyEvaluationHash string    `json:"policy_evaluation_hash"`
	MACSignature         string    `json:"mac_signature"`
	Timestamp            time.Time `json:"timestamp"`
	Metadata             Metadata  `json:"metadata"`
}

// Request is the governed request's sealed characteristics.
type Request struct {
	PartnerID    string    `json:"partner_id"`
	EnterpriseID string    `json:"enterprise_id"`
	Model        string    `json:"model"`
	Prompt       string    `json:"prompt"`
	Timestamp    time.Time `json:"timestamp"`
}

// Response is the upstream response's sealed characteristics.
type Response struct {
	Content string `json:"content"`
	Tokens  int    `json:"tokens"`
}

// Verdict is the policy outcome's sealed characteristics.
type Verdict struct {
	Decision   string   `json:"decision"`
	Reasons    []string `json:"reasons"`
	PolicyIDs  []string `json:"policy_ids"`
	Confidence float64  `json:"confidence"`
}

// ToolUsage is one declared tool use on an asset.
type ToolUsage struct {
	ToolID   string `json:"tool_id"`
	ToolName string `json:"tool_name"`
	HowUsed  string `json:"how_used"`
}

// Sealer produces and verifies proof bundles with a process-held secret.
type Sealer struct {
	secret []byte
	now    func() time.Time
	newID  func() string
}

// SealerOption is a functional option for configuring a Sealer.
type SealerOption func(*Sealer)

// WithClock injects a clock for tests.
func WithClock(now func() time.Time) SealerOption {
	return func(s *Sealer) { s.now = now }
}

// WithIDGenerator injects a bundle id generator for tests.
func WithIDGenerator(newID func() string) SealerOption {
	return func(s *Sealer) { s.newID = newID }
}

// NewSealer creates a sealer. The secret is required; without it the
// MAC would provide no tamper evidence.
func NewSealer(secret string, opts ...SealerOption) (*Sealer, error) {
	if secret == "" {
		return nil, ErrEmptySecret
	}
	s := &Sealer{
		secret: []byte(secret),
		now:    time.Now,
		newID:  uuid.NewString,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Seal hashes the request, the policy verdict, and the response when
// present, then signs the composite. Bundles are sealed for every
// governed request, including blocked ones.
func (s *Sealer) Seal(req Request, verdict Verdict, resp *Response) (*Bundle, error) {
	start := s.now()

	requestHash, err := hashJSON(req)
	if err != nil {
		return nil, fmt.Errorf("hash request: %w", err)
	}

	responseHash := noResponseSentinel
	if resp != nil {
		responseHash, err = hashJSON(struct {
			Content   string    `json:"content"`
			Tokens    int       `json:"tokens"`
			Timestamp time.Time `json:"timestamp"`
		}{resp.Content, resp.Tokens, s.now().UTC()})
		if err != nil {
			return nil, fmt.Errorf("hash response: %w", err)
		}
	}

	verdictHash, err := hashJSON(verdict)
	if err != nil {
		return nil, fmt.Errorf("hash verdict: %w", err)
	}

	mac := s.sign(requestHash + "|" + responseHash + "|" + verdictHash)

	return &Bundle{
		BundleID:             s.newID(),
		RequestHash:          requestHash,
		ResponseHash:         responseHash,
		PolicyEvaluationHash: verdictHash,
		MACSignature:         mac,
		Timestamp:            s.now().UTC(),
		Metadata: Metadata{
			Algorithm:        algorithmHMACSHA256,
			Version:          versionRequest,
			GenerationTimeMs: float64(s.now().Sub(start).Microseconds()) / 1000,
		},
	}, nil
}

// SealAssetDeclaration seals an asset's file hash together with its
// declared tool usage and the registry validation outcome.
func (s *Sealer) SealAssetDeclaration(fileHash string, tools []ToolUsage, validation ToolValidation, declarationID string) (*Bundle, error) {
	start := s.now()

	declared := make([]struct {
		ToolID  string `json:"tool_id"`
		HowUsed string `json:"how_used"`
	}, len(tools))
	toolIDs := make([]string, len(tools))
	for i, t := range tools {
		declared[i].ToolID = t.ToolID
		declared[i].HowUsed = t.HowUsed
		toolIDs[i] = t.ToolID
	}

	toolDeclarationHash, err := hashJSON(declared)
	if err != nil {
		return nil, fmt.Errorf("hash tool declarations: %w", err)
	}
	validationHash, err := hashJSON(validation)
	if err != nil {
		return nil, fmt.Errorf("hash validation result: %w", err)
	}

	mac := s.sign(fileHash + "|" + toolDeclarationHash + "|" + validationHash)

	return &Bundle{
		BundleID:             s.newID(),
		RequestHash:          fileHash,
		ResponseHash:         assetResponseSentinel,
		PolicyEvaluationHash: validationHash,
		MACSignature:         mac,
		Timestamp:            s.now().UTC(),
		Metadata: Metadata{
			Algorithm:           algorithmHMACSHA256,
			Version:             versionAsset,
			GenerationTimeMs:    float64(s.now().Sub(start).Microseconds()) / 1000,
			ToolDeclarationHash: toolDeclarationHash,
			ToolsDeclared:       toolIDs,
			AssetFileHash:       fileHash,
			DeclarationID:       declarationID,
		},
	}, nil
}

// Verify recomputes the MAC from the bundle's stored hashes and compares
// it to the stored signature. It proves internal consistency of the
// bundle; it does not re-hash original content, which the bundle does
// not retain.
func (s *Sealer) Verify(b *Bundle) bool {
	if b == nil {
		return false
	}

	var data string
	switch b.Metadata.Version {
	case versionAsset:
		data = b.RequestHash + "|" + b.Metadata.ToolDeclarationHash + "|" + b.PolicyEvaluationHash
	default:
		data = b.RequestHash + "|" + b.ResponseHash + "|" + b.PolicyEvaluationHash
	}

	expected := s.sign(data)
	return hmac.Equal([]byte(expected), []byte(b.MACSignature))
}

func (s *Sealer) sign(data string) string {
	mac := hmac.New(sha256.New, s.secret)
	mac.Write([]byte(data))
	return hex.EncodeToString(mac.Sum(nil))
}

// hashJSON returns the hex SHA-256 of the value's JSON encoding. Struct
// field order keeps the encoding stable across runs.
func hashJSON(v interface{}) (string, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}

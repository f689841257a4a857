// Copyright 2025 AxonFlow
// SPDX-License-Identifier: BUSL-1.1

package gateway

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	"axonflow/governance/pipeline"
)

var errMissingToken = errors.New("authorization token required")

// principalFromRequest extracts the governed principal from the request's
// bearer token. Claims: principal_id (or sub), session_id, partner_id.
func (s *Server) principalFromRequest(r *http.Request) (pipeline.Principal, error) {
	header := r.Header.Get("Authorization")
	if header == "" {
		return pipeline.Principal{}, errMissingToken
	}
	tokenString := strings.TrimPrefix(header, "Bearer ")
	if tokenString == header {
		return pipeline.Principal{}, errors.New("authorization header must use the Bearer scheme")
	}

	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return s.jwtSecret, nil
	})
	if err != nil || !token.Valid {
		return pipeline.Principal{}, fmt.Errorf("invalid token: %w", err)
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return pipeline.Principal{}, errors.New("invalid token claims")
	}

	principalID := claimString(claims, "principal_id")
	if principalID == "" {
		principalID = claimString(claims, "sub")
	}
	if principalID == "" {
		return pipeline.Principal{}, errors.New("token missing principal identity")
	}

	return pipeline.Principal{
		ID:        principalID,
		SessionID: claimString(claims, "session_id"),
		PartnerID: claimString(claims, "partner_id"),
	}, nil
}

func claimString(claims jwt.MapClaims, key string) string {
	if val, ok := claims[key].(string); ok {
		return val
	}
	return ""
}

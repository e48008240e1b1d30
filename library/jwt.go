// Copyright 2025 Brian Wang <wangbuke@gmail.com>
// SPDX-License-Identifier: Apache-2.0

package library

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// jwtSign signs payload the way jsonwebtoken.sign does for the supported options:
// algorithm, expiresIn, notBefore, audience, issuer, subject, jwtid, header, noTimestamp.
func jwtSign(payload any, secret string, opts map[string]any) (string, error) {
	m, ok := payload.(map[string]any)
	if !ok {
		return "", fmt.Errorf("jwt payload must be an object")
	}
	claims := jwt.MapClaims{}
	for k, v := range m {
		claims[k] = v
	}

	now := time.Now()
	if noTs, _ := opts["noTimestamp"].(bool); !noTs {
		if _, set := claims["iat"]; !set {
			claims["iat"] = now.Unix()
		}
	}
	for opt, claim := range map[string]string{"expiresIn": "exp", "notBefore": "nbf"} {
		if v, set := opts[opt]; set && v != nil {
			d, err := parseSpan(v)
			if err != nil {
				return "", fmt.Errorf("invalid %s: %w", opt, err)
			}
			claims[claim] = now.Add(d).Unix()
		}
	}
	for opt, claim := range map[string]string{"audience": "aud", "issuer": "iss", "subject": "sub", "jwtid": "jti"} {
		if v, set := opts[opt]; set && v != nil {
			claims[claim] = v
		}
	}

	alg, _ := opts["algorithm"].(string)
	if alg == "" {
		alg = "HS256"
	}
	method := jwt.GetSigningMethod(alg)
	if method == nil {
		return "", fmt.Errorf("unsupported jwt algorithm %q", alg)
	}
	token := jwt.NewWithClaims(method, claims)
	if hdr, ok := opts["header"].(map[string]any); ok {
		for k, v := range hdr {
			token.Header[k] = v
		}
	}

	key, err := signingKey(method, secret)
	if err != nil {
		return "", err
	}
	return token.SignedString(key)
}

// jwtVerify checks the signature and registered claims and returns the payload.
func jwtVerify(token, key string, opts map[string]any) (map[string]any, error) {
	var parserOpts []jwt.ParserOption
	if algs, ok := opts["algorithms"].([]any); ok && len(algs) > 0 {
		names := make([]string, 0, len(algs))
		for _, a := range algs {
			names = append(names, fmt.Sprint(a))
		}
		parserOpts = append(parserOpts, jwt.WithValidMethods(names))
	}
	if aud, ok := opts["audience"].(string); ok && aud != "" {
		parserOpts = append(parserOpts, jwt.WithAudience(aud))
	}
	if iss, ok := opts["issuer"].(string); ok && iss != "" {
		parserOpts = append(parserOpts, jwt.WithIssuer(iss))
	}

	tok, err := jwt.Parse(token, func(t *jwt.Token) (any, error) {
		return verifyKey(t.Method, key)
	}, parserOpts...)
	if err != nil {
		return nil, err
	}
	claims, ok := tok.Claims.(jwt.MapClaims)
	if !ok {
		return nil, fmt.Errorf("unexpected jwt claims type %T", tok.Claims)
	}
	return claims, nil
}

// jwtDecode returns the header and payload without checking the signature.
func jwtDecode(token string) (map[string]any, error) {
	claims := jwt.MapClaims{}
	tok, _, err := jwt.NewParser().ParseUnverified(token, claims)
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"header":  tok.Header,
		"payload": map[string]any(claims),
	}, nil
}

func signingKey(method jwt.SigningMethod, secret string) (any, error) {
	switch method.(type) {
	case *jwt.SigningMethodHMAC:
		return []byte(secret), nil
	case *jwt.SigningMethodRSA, *jwt.SigningMethodRSAPSS:
		return jwt.ParseRSAPrivateKeyFromPEM([]byte(secret))
	case *jwt.SigningMethodECDSA:
		return jwt.ParseECPrivateKeyFromPEM([]byte(secret))
	case *jwt.SigningMethodEd25519:
		return jwt.ParseEdPrivateKeyFromPEM([]byte(secret))
	}
	return nil, fmt.Errorf("unsupported jwt algorithm %q", method.Alg())
}

func verifyKey(method jwt.SigningMethod, key string) (any, error) {
	switch method.(type) {
	case *jwt.SigningMethodHMAC:
		return []byte(key), nil
	case *jwt.SigningMethodRSA, *jwt.SigningMethodRSAPSS:
		return jwt.ParseRSAPublicKeyFromPEM([]byte(key))
	case *jwt.SigningMethodECDSA:
		return jwt.ParseECPublicKeyFromPEM([]byte(key))
	case *jwt.SigningMethodEd25519:
		return jwt.ParseEdPublicKeyFromPEM([]byte(key))
	}
	return nil, fmt.Errorf("unsupported jwt algorithm %q", method.Alg())
}

// parseSpan reads a duration given as seconds or as a string like "90s", "2h" or "7d".
func parseSpan(v any) (time.Duration, error) {
	switch t := v.(type) {
	case float64:
		return time.Duration(t * float64(time.Second)), nil
	case string:
		s := strings.ReplaceAll(strings.TrimSpace(t), " ", "")
		if strings.HasSuffix(s, "d") {
			days, err := strconv.Atoi(strings.TrimSuffix(s, "d"))
			if err != nil {
				return 0, err
			}
			return time.Duration(days) * 24 * time.Hour, nil
		}
		if secs, err := strconv.Atoi(s); err == nil {
			return time.Duration(secs) * time.Second, nil
		}
		return time.ParseDuration(s)
	}
	return 0, fmt.Errorf("unsupported duration %v", v)
}

package session

import (
	"encoding/base64"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"
)

func makeToken(t *testing.T, claims jwt.MapClaims) string {
	t.Helper()
	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("server-secret"))
	require.NoError(t, err)
	return tok
}

func TestDecodeToken(t *testing.T) {
	exp := time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC)
	tok := makeToken(t, jwt.MapClaims{
		"sub":       "ion",
		"driver_id": "D-7",
		"role":      "Șofer",
		"exp":       exp.Unix(),
		"extra":     map[string]any{"ignored": true},
	})

	c := DecodeToken(tok)
	require.NotNil(t, c)
	require.Equal(t, "ion", c.Sub)
	require.Equal(t, "D-7", c.DriverID)
	require.Equal(t, "Șofer", c.Role)
	require.True(t, c.Exp.Equal(exp))
}

func TestDecodeToken_ExpiredStillDecodes(t *testing.T) {
	tok := makeToken(t, jwt.MapClaims{"sub": "ion", "exp": time.Now().Add(-time.Hour).Unix()})
	require.NotNil(t, DecodeToken(tok))
}

func TestDecodeToken_Rejects(t *testing.T) {
	good := makeToken(t, jwt.MapClaims{"sub": "ion", "exp": time.Now().Add(time.Hour).Unix()})

	cases := map[string]string{
		"empty":        "",
		"one segment":  "abc",
		"not base64":   "eyJhbGciOiJIUzI1NiJ9.!!!not-base64!!!.sig",
		"not json":     "eyJhbGciOiJIUzI1NiJ9.bm90IGpzb24.sig",
		"missing sub":  makeToken(t, jwt.MapClaims{"exp": time.Now().Add(time.Hour).Unix()}),
		"missing exp":  makeToken(t, jwt.MapClaims{"sub": "ion"}),
		"bad payload":  strings.Replace(good, ".", ".%", 1),
		"two segments": good[:strings.LastIndex(good, ".")],
	}
	for name, tok := range cases {
		require.Nil(t, DecodeToken(tok), name)
	}
}

func TestDecodeToken_IgnoresHeader(t *testing.T) {
	exp := time.Now().Add(time.Hour).Unix()
	payload := strings.Split(makeToken(t, jwt.MapClaims{"sub": "ion", "role": "Dispecer", "exp": exp}), ".")[1]
	enc := base64.RawURLEncoding.EncodeToString

	headers := map[string]string{
		"garbage":     "%%not-a-header%%",
		"unknown alg": enc([]byte(`{"alg":"HS999","typ":"JWT"}`)),
		"alg none":    enc([]byte(`{"alg":"none"}`)),
	}
	for name, h := range headers {
		c := DecodeToken(h + "." + payload + ".sig")
		require.NotNil(t, c, name)
		require.Equal(t, "ion", c.Sub, name)
		require.Equal(t, "Dispecer", c.Role, name)
		require.Equal(t, exp, c.Exp.Unix(), name)
	}
}

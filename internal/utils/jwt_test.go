package utils

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewAccessTokenClaims(t *testing.T) {
	tok, err := NewAccessToken("s3cret", "rider-7", "CUSTOMER", 15*time.Minute)
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now().Add(15*time.Minute), tok.Exp, 5*time.Second)

	claims := jwt.MapClaims{}
	_, err = jwt.ParseWithClaims(tok.Token, claims, func(*jwt.Token) (interface{}, error) {
		return []byte("s3cret"), nil
	})
	require.NoError(t, err)
	sub, err := claims.GetSubject()
	require.NoError(t, err)
	assert.Equal(t, "rider-7", sub)
	assert.Equal(t, "CUSTOMER", claims["role"])
}

func TestNewAccessTokenRejectsBadInput(t *testing.T) {
	_, err := NewAccessToken("", "rider-7", "CUSTOMER", time.Minute)
	assert.Error(t, err)
	_, err = NewAccessToken("s3cret", "rider-7", "CUSTOMER", 0)
	assert.Error(t, err)
}

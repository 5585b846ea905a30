package auth

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMintVerify(t *testing.T) {
	token, err := Mint("s3cret", "agent-1", time.Hour, "run")
	require.NoError(t, err)

	p, err := JWT{Secret: "s3cret"}.Verify(token)
	require.NoError(t, err)
	assert.Equal(t, "agent-1", p.Subject)
	assert.True(t, p.HasScope("run"))
	assert.False(t, p.HasScope("admin"))

	_, err = JWT{Secret: "other"}.Verify(token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestExpiredToken(t *testing.T) {
	token, err := Mint("s3cret", "agent-1", time.Nanosecond)
	require.NoError(t, err)
	_, err = JWT{Secret: "s3cret"}.Verify(token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestMintRequiresSecretAndSubject(t *testing.T) {
	_, err := Mint("", "a", 0)
	assert.Error(t, err)
	_, err = Mint("x", "", 0)
	assert.Error(t, err)
}

func TestStaticAndChain(t *testing.T) {
	_, err := Static("abc").Verify("abd")
	assert.ErrorIs(t, err, ErrInvalidToken)
	_, err = Static("").Verify("")
	assert.ErrorIs(t, err, ErrInvalidToken)

	token, err := Mint("k", "sub", 0)
	require.NoError(t, err)
	chain := Chain{Static("abc"), JWT{Secret: "k"}}

	p, err := chain.Verify("abc")
	require.NoError(t, err)
	assert.Equal(t, "static", p.Source)
	p, err = chain.Verify(token)
	require.NoError(t, err)
	assert.Equal(t, "jwt", p.Source)
	_, err = chain.Verify("nope")
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestBearerToken(t *testing.T) {
	tok, ok := BearerToken("Bearer abc")
	assert.True(t, ok)
	assert.Equal(t, "abc", tok)
	_, ok = BearerToken("Basic abc")
	assert.False(t, ok)
	_, ok = BearerToken("bearer")
	assert.False(t, ok)
}

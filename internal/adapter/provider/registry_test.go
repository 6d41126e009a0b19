package provider

import (
	"testing"

	"payments-ledger/config"
	"payments-ledger/internal/core/domain"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRegistry_BuildsEnabledProviders(t *testing.T) {
	disabled := testConfig("http://stripe")
	disabled.Enabled = false

	r, err := NewRegistry(map[string]config.ProviderConfig{
		"paystack": testConfig("http://paystack"),
		"mtn_momo": testConfig("http://momo"),
		"stripe":   disabled,
	}, zerolog.Nop())
	require.NoError(t, err)

	_, ok := r.Get(domain.ProviderStripe)
	assert.False(t, ok)

	p, ok := r.Get(domain.ProviderMTNMoMo)
	require.True(t, ok)
	assert.Equal(t, domain.ProviderMTNMoMo, p.Name())

	all := r.All()
	require.Len(t, all, 2)
	assert.Equal(t, domain.ProviderMTNMoMo, all[0].Name())
	assert.Equal(t, domain.ProviderPaystack, all[1].Name())
}

func TestNewRegistry_Errors(t *testing.T) {
	_, err := NewRegistry(map[string]config.ProviderConfig{"payfast": testConfig("http://x")}, zerolog.Nop())
	assert.ErrorContains(t, err, `unknown provider "payfast"`)

	bad := testConfig("http://x")
	bad.PhonePattern = "["
	_, err = NewRegistry(map[string]config.ProviderConfig{"airtel": bad}, zerolog.Nop())
	assert.ErrorContains(t, err, "building provider airtel")
}

func TestNewStaticRegistry(t *testing.T) {
	ps, err := NewPaystack(testConfig("http://x"), zerolog.Nop())
	require.NoError(t, err)

	r := NewStaticRegistry(ps)
	got, ok := r.Get(domain.ProviderPaystack)
	require.True(t, ok)
	assert.Same(t, ps, got)
}

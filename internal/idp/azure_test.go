package idp

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewAzureProvider(t *testing.T) {
	p, err := NewAzureProvider("contoso.onmicrosoft.com", "client-id", "client-secret", "https://example.com/callback", nil, nil)
	require.NoError(t, err)

	assert.Equal(t, "azure", p.Type())
	assert.Equal(t, "https://login.microsoftonline.com/contoso.onmicrosoft.com/v2.0/.well-known/openid-configuration", p.discoveryURL)
	assert.False(t, p.resolved, "discovery runs on first use")
}

func TestNewAzureProvider_MissingTenantID(t *testing.T) {
	_, err := NewAzureProvider("", "client-id", "client-secret", "https://example.com/callback", nil, nil)

	require.Error(t, err)
	assert.Contains(t, err.Error(), "tenantId is required")
}

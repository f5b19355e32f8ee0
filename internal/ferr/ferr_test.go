package ferr

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestErrorMessages(t *testing.T) {
	assert.Equal(t, "inventory invalid: bad yaml", (&InventoryInvalid{Detail: "bad yaml"}).Error())
	assert.Equal(t, "policy denied: deny rule matched", (&PolicyDenied{Reason: "deny rule matched"}).Error())
	assert.Equal(t, "secret missing: db_password", (&SecretMissing{Name: "db_password"}).Error())
	assert.Equal(t, "bundle build failed: pip install failed", (&BundleBuildFailed{Detail: "pip install failed"}).Error())
	assert.Equal(t, "protocol error: duplicate id 3", (&ProtocolError{Detail: "duplicate id 3"}).Error())
	assert.Equal(t, "timeout: pkg.install on web1", (&Timeout{Module: "pkg.install", Host: "web1"}).Error())
	assert.Equal(t, "cancelled: pkg.install on web1", (&Cancelled{Module: "pkg.install", Host: "web1"}).Error())
	assert.Equal(t, "module failed: exit 1", (&ModuleFailed{Reason: "exit 1"}).Error())
}

func TestTransportLost_OmitsDetailWhenEmpty(t *testing.T) {
	assert.Equal(t, "transport lost: web1", (&TransportLost{Host: "web1"}).Error())
	assert.Equal(t, "transport lost: web1: broken pipe", (&TransportLost{Host: "web1", Detail: "broken pipe"}).Error())
}

func TestErrorsAsDiscriminates(t *testing.T) {
	var err error = &PolicyDenied{Reason: "no"}

	var denied *PolicyDenied
	assert.True(t, errors.As(err, &denied))
	assert.Equal(t, "no", denied.Reason)

	var missing *SecretMissing
	assert.False(t, errors.As(err, &missing))
}

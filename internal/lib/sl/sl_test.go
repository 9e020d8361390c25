package sl

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestErr(t *testing.T) {
	attr := Err(errors.New("boom"))
	assert.Equal(t, "error", attr.Key)
	assert.Equal(t, "boom", attr.Value.String())
}

func TestErr_Nil(t *testing.T) {
	attr := Err(nil)
	assert.Equal(t, "error", attr.Key)
	assert.Equal(t, "nil", attr.Value.String())
}

func TestTenant(t *testing.T) {
	attr := Tenant("uid-123")
	assert.Equal(t, "tenant_uid", attr.Key)
	assert.Equal(t, "uid-123", attr.Value.String())
}

package device

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidateID(t *testing.T) {
	valid := []string{"a", "devices.livingroom.power", "raw.device_x_y", "publish.cmnd.relay1"}
	for _, id := range valid {
		assert.NoError(t, ValidateID(id), id)
	}

	invalid := []string{"", ".a", "a.", "a..b", "a b", strings.Repeat("x", MaxIDLength+1)}
	for _, id := range invalid {
		assert.ErrorIs(t, ValidateID(id), ErrInvalidID, id)
	}
}

func TestValidateObject(t *testing.T) {
	assert.ErrorIs(t, ValidateObject(nil), ErrInvalidObject)
	assert.NoError(t, ValidateObject(&Object{ID: "a.b", Type: TypeChannel}))
	assert.ErrorIs(t, ValidateObject(&Object{ID: "a.b", Type: "enum"}), ErrInvalidObject)
	assert.ErrorIs(t, ValidateObject(&Object{ID: "a.b", Type: TypeState, Name: strings.Repeat("n", MaxNameLength+1)}), ErrInvalidObject)
}

func TestInTree(t *testing.T) {
	assert.True(t, InTree("a.b", ""))
	assert.True(t, InTree("a.b", "a"))
	assert.True(t, InTree("a", "a"))
	assert.False(t, InTree("ab", "a"))
	assert.False(t, InTree("a", "a.b"))
}

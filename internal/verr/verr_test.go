package verr

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewFormatsAndReportsKind(t *testing.T) {
	e := New(KindResource, 12, "unreleased reference %d", 7)
	assert.True(t, Is(e, KindResource))
	assert.False(t, Is(e, KindType))
	assert.Contains(t, e.Error(), "insn 12")
	assert.Contains(t, e.Error(), "unreleased reference 7")
}

func TestWrapPreservesCauseForErrorsIs(t *testing.T) {
	sentinel := errors.New("boom")
	e := Wrap(KindInternal, -1, sentinel)
	assert.True(t, errors.Is(e, sentinel))
	assert.True(t, Is(e, KindInternal))
}

func TestWrapNilIsNil(t *testing.T) {
	assert.Nil(t, Wrap(KindInternal, 0, nil))
}

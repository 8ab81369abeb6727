package printer

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/hay-kot/criterio"
	"github.com/stretchr/testify/assert"
)

func TestNew_BufferIsNotColored(t *testing.T) {
	var buf bytes.Buffer
	p := New(&buf)

	p.Successf("joined %s", "lounge")

	assert.Equal(t, Check+" joined lounge\n", buf.String())
}

func TestFatalError(t *testing.T) {
	var buf bytes.Buffer
	p := NewPlain(&buf)

	p.FatalError(errors.New("open gateway: 401 Unauthorized"))

	assert.Equal(t, "╭ Error\n│ open gateway: 401 Unauthorized\n╵\n", buf.String())
}

func TestFatalError_Nil(t *testing.T) {
	var buf bytes.Buffer
	NewPlain(&buf).FatalError(nil)
	assert.Empty(t, buf.String())
}

func TestFatalError_FieldErrors(t *testing.T) {
	var buf bytes.Buffer
	p := NewPlain(&buf)

	fields := criterio.FieldErrors{
		{Field: "library.dir", Err: errors.New("cannot be empty")},
		{Field: "stations[0].channel", Err: errors.New("is required")},
	}
	p.FatalError(fmt.Errorf("load config: invalid config: %w", fields))

	out := buf.String()
	assert.Contains(t, out, "╭ Validation Error\n")
	assert.Contains(t, out, "│ load config: invalid config\n")
	assert.Contains(t, out, "│ "+Cross+" library.dir: cannot be empty\n")
	assert.Contains(t, out, "│ "+Cross+" stations[0].channel: is required\n")
}

func TestItems(t *testing.T) {
	var buf bytes.Buffer
	p := NewPlain(&buf)

	p.CheckItem("ffmpeg", "6.1")
	p.WarnItem("library", "")
	p.FailItem("opus", "unavailable")

	assert.Equal(t, "  "+Check+" ffmpeg: 6.1\n  "+Dot+" library\n  "+Cross+" opus: unavailable\n", buf.String())
}

func TestCtx(t *testing.T) {
	var buf bytes.Buffer
	p := NewPlain(&buf)

	ctx := NewContext(context.Background(), p)
	assert.Same(t, p, Ctx(ctx))
	assert.NotNil(t, Ctx(context.Background()))
}

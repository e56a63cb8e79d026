package votemode

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCodecRoundTrip(t *testing.T) {
	t.Run("names", func(t *testing.T) {
		for _, m := range All() {
			code, err := Encode(m)
			require.NoError(t, err)

			back, err := Decode(code)
			require.NoError(t, err)
			assert.Equal(t, m, back)
		}
	})

	t.Run("codes", func(t *testing.T) {
		for _, c := range []Code{CodeSingle, CodeMultiple, CodeRanked} {
			m, err := Decode(c)
			require.NoError(t, err)

			back, err := Encode(m)
			require.NoError(t, err)
			assert.Equal(t, c, back)
		}
	})
}

func TestFixedEncoding(t *testing.T) {
	expected := map[Mode]Code{Single: 0, Multiple: 1, Ranked: 2}
	for m, c := range expected {
		got, err := Encode(m)
		require.NoError(t, err)
		assert.Equal(t, c, got, "mode %s", m)
	}
}

func TestUnknownInputs(t *testing.T) {
	for _, name := range []Mode{"", "approval", "SINGLE", "single "} {
		_, err := Encode(name)
		assert.ErrorIs(t, err, ErrUnknownModeName, "encode %q", name)
	}

	for c := 3; c <= 255; c++ {
		_, err := Decode(Code(c))
		assert.ErrorIs(t, err, ErrUnknownModeCode, "decode %d", c)
	}
}

func TestParse(t *testing.T) {
	tests := []struct {
		input   string
		want    Mode
		wantErr bool
	}{
		{input: "single", want: Single},
		{input: "MULTIPLE", want: Multiple},
		{input: " Ranked ", want: Ranked},
		{input: "election", want: Single},
		{input: "poll", want: Multiple},
		{input: "tournament", want: Ranked},
		{input: "approval", wantErr: true},
		{input: "", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := Parse(tt.input)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrUnknownModeName)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

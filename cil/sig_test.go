package cil

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testResolver(t *testing.T) (*File, *sigResolver) {
	t.Helper()
	f := openTestAssembly(t)
	md, err := f.Metadata()
	require.NoError(t, err)
	return f, &sigResolver{tables: md.Tables}
}

func TestMethodSig(t *testing.T) {
	f, res := testResolver(t)
	defer f.Close()

	sig, err := res.methodSig([]byte{0x20, 0x02, 0x01, 0x08, 0x0E})
	require.NoError(t, err)

	assert.True(t, sig.HasThis)
	assert.Equal(t, "void", sig.Return.Display)
	require.Len(t, sig.Params, 2)
	assert.Equal(t, "int", sig.Params[0].Display)
	assert.Equal(t, "string", sig.Params[1].Display)
}

func TestMethodSigEmpty(t *testing.T) {
	f, res := testResolver(t)
	defer f.Close()

	_, err := res.methodSig(nil)
	require.Error(t, err)
}

func TestLocalTypes(t *testing.T) {
	f, res := testResolver(t)
	defer f.Close()

	tests := []struct {
		name string
		blob []byte
		want []string
	}{
		{
			name: "primitives",
			blob: []byte{0x07, 0x02, 0x08, 0x0E},
			want: []string{"int", "string"},
		},
		{
			name: "array and byref",
			blob: []byte{0x07, 0x03, 0x1D, 0x0E, 0x10, 0x08, 0x0D},
			want: []string{"string[]", "ref int", "double"},
		},
		{
			name: "typedef element",
			// VALUETYPE with a TypeDefOrRef code for TypeDef row 1
			blob: []byte{0x07, 0x01, 0x11, 0x04},
			want: []string{"Demo.Calc"},
		},
		{
			name: "pinned local",
			blob: []byte{0x07, 0x01, 0x45, 0x08},
			want: []string{"int"},
		},
		{
			name: "truncated element pads with sentinel",
			blob: []byte{0x07, 0x02, 0x08, 0x1D},
			want: []string{"int", UnknownSentinel},
		},
		{
			name: "unknown element degrades in place",
			blob: []byte{0x07, 0x02, 0x17, 0x08},
			want: []string{"<unknown_type_0x17>", "int"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := res.localTypes(tt.blob)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestLocalTypesBadHeader(t *testing.T) {
	f, res := testResolver(t)
	defer f.Close()

	_, err := res.localTypes([]byte{0x06, 0x01, 0x08})
	require.Error(t, err)

	_, err = res.localTypes(nil)
	require.Error(t, err)
}

func TestFieldType(t *testing.T) {
	f, res := testResolver(t)
	defer f.Close()

	typ, err := res.fieldType([]byte{0x06, 0x08})
	require.NoError(t, err)
	assert.Equal(t, "int", typ)

	typ, err = res.fieldType([]byte{0x06, 0x1D, 0x1D, 0x0E})
	require.NoError(t, err)
	assert.Equal(t, "string[][]", typ)

	_, err = res.fieldType([]byte{0x07, 0x08})
	require.Error(t, err)
}

func TestReadTypeComposites(t *testing.T) {
	f, res := testResolver(t)
	defer f.Close()

	sig, err := res.methodSig([]byte{
		0x00, 0x03,
		0x01,       // void return
		0x0F, 0x08, // int*
		0x14, 0x08, 0x02, 0x00, 0x00, // int[,]
		0x1E, 0x01, // !!1
	})
	require.NoError(t, err)

	require.Len(t, sig.Params, 3)
	assert.Equal(t, "int*", sig.Params[0].Display)
	assert.Equal(t, "int[,]", sig.Params[1].Display)
	assert.Equal(t, "!!1", sig.Params[2].Display)
}

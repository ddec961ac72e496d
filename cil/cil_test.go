package cil

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInfo(t *testing.T) {
	f := openTestAssembly(t)
	defer f.Close()

	info, err := f.Info()
	require.NoError(t, err)

	assert.Equal(t, "demo", info.AssemblyName)
	assert.Equal(t, "1.2.3.4", info.AssemblyVersion)
	assert.Equal(t, "demo.dll", info.ModuleName)
	assert.Equal(t, "v4.0.30319", info.RuntimeVersion)
	assert.Equal(t, uint32(tokAdd), info.EntryPointToken)
	assert.Equal(t, uint32(2), info.TypeCount)
	assert.Equal(t, uint32(5), info.MethodCount)
}

func TestMethods(t *testing.T) {
	f := openTestAssembly(t)
	defer f.Close()

	var methods []MethodInfo
	for m := range f.Methods() {
		methods = append(methods, m)
	}
	require.Len(t, methods, 5)

	assert.Equal(t, uint32(tokAdd), methods[0].Token)
	assert.Equal(t, "Add", methods[0].Name)
	assert.Equal(t, "Demo.Calc", methods[0].TypeName)
	assert.Equal(t, "int Demo.Calc::Add(int, int)", methods[0].Signature)
	assert.True(t, methods[0].HasBody)

	assert.Equal(t, "int Demo.Calc::Mul()", methods[1].Signature)

	assert.Equal(t, "Compute", methods[2].Name)
	assert.False(t, methods[2].HasBody)

	assert.Equal(t, "ModTool.Decompiler.MethodPrivacyAttribute", methods[3].TypeName)
}

func TestMethodsEarlyStop(t *testing.T) {
	f := openTestAssembly(t)
	defer f.Close()

	count := 0
	for range f.Methods() {
		count++
		if count == 2 {
			break
		}
	}
	assert.Equal(t, 2, count)
}

func TestDecompileMethodTinyBody(t *testing.T) {
	f := openTestAssembly(t)
	defer f.Close()

	artifact, err := f.DecompileMethod(tokAdd, NopDecompiler{})
	require.NoError(t, err)

	assert.Equal(t, uint32(tokAdd), artifact.Token)
	assert.Equal(t, "Add", artifact.Name)
	assert.Equal(t, "int Demo.Calc::Add(int, int)", artifact.Signature)
	assert.Equal(t, []byte{0x02, 0x03, 0x58, 0x2A}, artifact.Bytecode)
	assert.False(t, artifact.CreatedAt.IsZero())
	assert.Empty(t, artifact.SourceMap)

	require.Len(t, artifact.Variables, 4)

	assert.Equal(t, VariableEntry{Name: "a", Type: "int", Index: 0}, artifact.Variables[0])
	assert.Equal(t, VariableEntry{Name: "b", Type: "int", Index: 1}, artifact.Variables[1])
	assert.Equal(t, VariableEntry{Name: "this.total", Type: "int", Index: -1}, artifact.Variables[2])
	// Tiny bodies carry no local signature: single placeholder entry
	assert.Equal(t, VariableEntry{
		Name: UnknownSentinel, Type: UnknownSentinel, IsLocal: true, Index: -1,
	}, artifact.Variables[3])
}

func TestDecompileMethodFatBody(t *testing.T) {
	f := openTestAssembly(t)
	defer f.Close()

	artifact, err := f.DecompileMethod(tokMul, NopDecompiler{})
	require.NoError(t, err)

	assert.Equal(t, []byte{0x16, 0x0A, 0x2A}, artifact.Bytecode)

	require.Len(t, artifact.Variables, 3)
	assert.Equal(t, VariableEntry{Name: "this.total", Type: "int", Index: -1}, artifact.Variables[0])
	assert.Equal(t, VariableEntry{
		Name: "<unknown_local_0>", Type: "int", IsLocal: true, Index: 0,
	}, artifact.Variables[1])
	assert.Equal(t, VariableEntry{
		Name: "<unknown_local_1>", Type: "string", IsLocal: true, Index: 1,
	}, artifact.Variables[2])
}

func TestDecompileMethodNoBody(t *testing.T) {
	f := openTestAssembly(t)
	defer f.Close()

	artifact, err := f.DecompileMethod(tokCompute, NopDecompiler{})
	require.NoError(t, err)

	assert.Empty(t, artifact.Bytecode)
	assert.Empty(t, artifact.SourceMap)

	require.Len(t, artifact.Variables, 2)
	assert.Equal(t, "this.total", artifact.Variables[0].Name)
	assert.Equal(t, VariableEntry{
		Name: UnknownSentinel, Type: UnknownSentinel, IsLocal: true, Index: -1,
	}, artifact.Variables[1])
}

func TestDecompileMethodSynthesizedParamNames(t *testing.T) {
	f := openTestAssembly(t)
	defer f.Close()

	// The two-argument constructor declares no Param records, so its
	// parameters are named positionally from the signature.
	artifact, err := f.DecompileMethod(tokCtorArgs, NopDecompiler{})
	require.NoError(t, err)

	require.Len(t, artifact.Variables, 3)
	assert.Equal(t, VariableEntry{Name: "arg0", Type: "int", Index: 0}, artifact.Variables[0])
	assert.Equal(t, VariableEntry{Name: "arg1", Type: "string", Index: 1}, artifact.Variables[1])
	assert.Equal(t, VariableEntry{
		Name: UnknownSentinel, Type: UnknownSentinel, IsLocal: true, Index: -1,
	}, artifact.Variables[2])
}

func TestDecompileMethodInvalidToken(t *testing.T) {
	f := openTestAssembly(t)
	defer f.Close()

	for _, token := range []uint32{0x06000009, 0x02000001, 0x06000000, 0} {
		_, err := f.DecompileMethod(token, NopDecompiler{})
		assert.ErrorIs(t, err, ErrInvalidToken, "token 0x%08X", token)
	}
}

// recordingDecompiler returns fixed source lines and captures the request.
type recordingDecompiler struct {
	req    *DecompileRequest
	result DecompileResult
}

func (d *recordingDecompiler) Decompile(req *DecompileRequest) (*DecompileResult, error) {
	d.req = req
	return &d.result, nil
}

func TestDecompileMethodSourceMap(t *testing.T) {
	f := openTestAssembly(t)
	defer f.Close()

	dec := &recordingDecompiler{result: DecompileResult{
		SourceCode: "int Add(int a, int b) { return a + b; }",
		Lines: []LineRange{
			{Line: 10, ILStart: 0, ILEnd: 1},
			{Line: 11, ILStart: 2, ILEnd: 3},
			{Line: 12, ILStart: 9, ILEnd: 9},
		},
	}}

	artifact, err := f.DecompileMethod(tokAdd, dec)
	require.NoError(t, err)

	require.NotNil(t, dec.req)
	assert.Equal(t, uint32(tokAdd), dec.req.Token)
	assert.Equal(t, "Add", dec.req.MethodName)
	assert.Equal(t, artifact.Bytecode, dec.req.Bytecode)

	assert.Equal(t, dec.result.SourceCode, artifact.SourceCode)

	require.Len(t, artifact.SourceMap, 3)
	assert.Equal(t, SourceMapEntry{Line: 10, Offset: 0, InstCount: 1}, artifact.SourceMap[0])
	assert.Equal(t, SourceMapEntry{Line: 11, Offset: 2, InstCount: 1}, artifact.SourceMap[1])
	// Past the last boundary: clamps to it with a zero hint
	assert.Equal(t, SourceMapEntry{Line: 12, Offset: 3, InstCount: 0}, artifact.SourceMap[2])
}

type failingDecompiler struct{}

func (failingDecompiler) Decompile(*DecompileRequest) (*DecompileResult, error) {
	return nil, errors.New("engine crashed")
}

func TestDecompileMethodEngineError(t *testing.T) {
	f := openTestAssembly(t)
	defer f.Close()

	_, err := f.DecompileMethod(tokAdd, failingDecompiler{})
	require.Error(t, err)
}

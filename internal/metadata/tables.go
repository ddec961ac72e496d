package metadata

import (
	"errors"
	"math/bits"

	"github.com/modtool/cil-go/internal/stream"
)

// Errors returned by the tables stream parser
var (
	ErrInvalidTables = errors.New("metadata: invalid #~ stream header")
	ErrTruncatedRows = errors.New("metadata: truncated table rows")
)

// heapSizes flag bits: a set bit widens the corresponding heap index from
// 2 to 4 bytes.
const (
	heapWideStrings = 0x01
	heapWideGUID    = 0x02
	heapWideBlob    = 0x04
)

// colKind classifies a table column for width computation and decoding.
type colKind uint8

const (
	colU16 colKind = iota
	colU32
	colString // #Strings heap index
	colGUID   // #GUID heap index
	colBlob   // #Blob heap index
	colIndex  // simple index into one table
	colCoded  // tagged index into a table group
)

// codedKind identifies a coded-index group (ECMA-335 II.24.2.6).
type codedKind uint8

const (
	codedTypeDefOrRef codedKind = iota
	codedHasConstant
	codedHasCustomAttribute
	codedHasFieldMarshal
	codedHasDeclSecurity
	codedMemberRefParent
	codedHasSemantics
	codedMethodDefOrRef
	codedMemberForwarded
	codedImplementation
	codedCustomAttributeType
	codedResolutionScope
	codedTypeOrMethodDef
)

// codedGroup describes the tag width and member tables of one coded-index
// group. A -1 slot is a tag value with no assigned table.
type codedGroup struct {
	tagBits uint8
	tables  []int8
}

var codedGroups = [...]codedGroup{
	codedTypeDefOrRef: {2, []int8{int8(TableTypeDef), int8(TableTypeRef), int8(TableTypeSpec)}},
	codedHasConstant:  {2, []int8{int8(TableField), int8(TableParam), int8(TableProperty)}},
	codedHasCustomAttribute: {5, []int8{
		int8(TableMethodDef), int8(TableField), int8(TableTypeRef), int8(TableTypeDef),
		int8(TableParam), int8(TableInterfaceImpl), int8(TableMemberRef), int8(TableModule),
		int8(TableDeclSecurity), int8(TableProperty), int8(TableEvent), int8(TableStandAloneSig),
		int8(TableModuleRef), int8(TableTypeSpec), int8(TableAssembly), int8(TableAssemblyRef),
		int8(TableFile), int8(TableExportedType), int8(TableManifestResource),
		int8(TableGenericParam), int8(TableGenericParamConstraint), int8(TableMethodSpec),
	}},
	codedHasFieldMarshal:     {1, []int8{int8(TableField), int8(TableParam)}},
	codedHasDeclSecurity:     {2, []int8{int8(TableTypeDef), int8(TableMethodDef), int8(TableAssembly)}},
	codedMemberRefParent:     {3, []int8{int8(TableTypeDef), int8(TableTypeRef), int8(TableModuleRef), int8(TableMethodDef), int8(TableTypeSpec)}},
	codedHasSemantics:        {1, []int8{int8(TableEvent), int8(TableProperty)}},
	codedMethodDefOrRef:      {1, []int8{int8(TableMethodDef), int8(TableMemberRef)}},
	codedMemberForwarded:     {1, []int8{int8(TableField), int8(TableMethodDef)}},
	codedImplementation:      {2, []int8{int8(TableFile), int8(TableAssemblyRef), int8(TableExportedType)}},
	codedCustomAttributeType: {3, []int8{-1, -1, int8(TableMethodDef), int8(TableMemberRef), -1}},
	codedResolutionScope:     {2, []int8{int8(TableModule), int8(TableModuleRef), int8(TableAssemblyRef), int8(TableTypeRef)}},
	codedTypeOrMethodDef:     {1, []int8{int8(TableTypeDef), int8(TableMethodDef)}},
}

// column is one schema entry. table is set for colIndex, coded for colCoded.
type column struct {
	kind  colKind
	table TableID
	coded codedKind
}

func u16() column             { return column{kind: colU16} }
func u32() column             { return column{kind: colU32} }
func str() column             { return column{kind: colString} }
func guid() column            { return column{kind: colGUID} }
func blob() column            { return column{kind: colBlob} }
func idx(t TableID) column    { return column{kind: colIndex, table: t} }
func coded(c codedKind) column { return column{kind: colCoded, coded: c} }

// schemas lists the physical column layout of every table (ECMA-335 II.22).
// All tables must be present: decoding any table requires knowing the row
// size of every table that precedes it in the stream.
var schemas = [numTables][]column{
	TableModule:                 {u16(), str(), guid(), guid(), guid()},
	TableTypeRef:                {coded(codedResolutionScope), str(), str()},
	TableTypeDef:                {u32(), str(), str(), coded(codedTypeDefOrRef), idx(TableField), idx(TableMethodDef)},
	TableFieldPtr:               {idx(TableField)},
	TableField:                  {u16(), str(), blob()},
	TableMethodPtr:              {idx(TableMethodDef)},
	TableMethodDef:              {u32(), u16(), u16(), str(), blob(), idx(TableParam)},
	TableParamPtr:               {idx(TableParam)},
	TableParam:                  {u16(), u16(), str()},
	TableInterfaceImpl:          {idx(TableTypeDef), coded(codedTypeDefOrRef)},
	TableMemberRef:              {coded(codedMemberRefParent), str(), blob()},
	TableConstant:               {u16(), coded(codedHasConstant), blob()},
	TableCustomAttribute:        {coded(codedHasCustomAttribute), coded(codedCustomAttributeType), blob()},
	TableFieldMarshal:           {coded(codedHasFieldMarshal), blob()},
	TableDeclSecurity:           {u16(), coded(codedHasDeclSecurity), blob()},
	TableClassLayout:            {u16(), u32(), idx(TableTypeDef)},
	TableFieldLayout:            {u32(), idx(TableField)},
	TableStandAloneSig:          {blob()},
	TableEventMap:               {idx(TableTypeDef), idx(TableEvent)},
	TableEventPtr:               {idx(TableEvent)},
	TableEvent:                  {u16(), str(), coded(codedTypeDefOrRef)},
	TablePropertyMap:            {idx(TableTypeDef), idx(TableProperty)},
	TablePropertyPtr:            {idx(TableProperty)},
	TableProperty:               {u16(), str(), blob()},
	TableMethodSemantics:        {u16(), idx(TableMethodDef), coded(codedHasSemantics)},
	TableMethodImpl:             {idx(TableTypeDef), coded(codedMethodDefOrRef), coded(codedMethodDefOrRef)},
	TableModuleRef:              {str()},
	TableTypeSpec:               {blob()},
	TableImplMap:                {u16(), coded(codedMemberForwarded), str(), idx(TableModuleRef)},
	TableFieldRVA:               {u32(), idx(TableField)},
	TableEncLog:                 {u32(), u32()},
	TableEncMap:                 {u32()},
	TableAssembly:               {u32(), u16(), u16(), u16(), u16(), u32(), blob(), str(), str()},
	TableAssemblyProcessor:      {u32()},
	TableAssemblyOS:             {u32(), u32(), u32()},
	TableAssemblyRef:            {u16(), u16(), u16(), u16(), u32(), blob(), str(), str(), blob()},
	TableAssemblyRefProcessor:   {u32(), idx(TableAssemblyRef)},
	TableAssemblyRefOS:          {u32(), u32(), u32(), idx(TableAssemblyRef)},
	TableFile:                   {u32(), str(), blob()},
	TableExportedType:           {u32(), u32(), str(), str(), coded(codedImplementation)},
	TableManifestResource:       {u32(), u32(), str(), coded(codedImplementation)},
	TableNestedClass:            {idx(TableTypeDef), idx(TableTypeDef)},
	TableGenericParam:           {u16(), u16(), coded(codedTypeOrMethodDef), str()},
	TableMethodSpec:             {coded(codedMethodDefOrRef), blob()},
	TableGenericParamConstraint: {idx(TableGenericParam), coded(codedTypeDefOrRef)},
}

// colInfo is the computed byte offset and width of one column for a
// specific image.
type colInfo struct {
	offset int
	width  int
}

// Tables is the decoded #~ stream: row counts, computed column layouts and
// the raw row bytes of every present table. Immutable after parsing.
type Tables struct {
	root *Root

	counts  [numTables]uint32
	layouts [numTables][]colInfo
	rowSize [numTables]int
	raw     [numTables][]byte

	wideStrings bool
	wideGUID    bool
	wideBlob    bool
}

// parseTables decodes the #~ stream header, computes per-image column
// widths, and slices out the raw rows of every present table.
func parseTables(data []byte, root *Root) (*Tables, error) {
	r := stream.NewReader(data)

	// Reserved, MajorVersion, MinorVersion
	if err := r.Skip(6); err != nil {
		return nil, ErrInvalidTables
	}
	heapSizes, err := r.ReadU8()
	if err != nil {
		return nil, ErrInvalidTables
	}
	// Reserved
	if err := r.Skip(1); err != nil {
		return nil, ErrInvalidTables
	}
	valid, err := r.ReadU64()
	if err != nil {
		return nil, ErrInvalidTables
	}
	// Sorted bitmask: irrelevant for sequential decoding
	if _, err := r.ReadU64(); err != nil {
		return nil, ErrInvalidTables
	}

	t := &Tables{
		root:        root,
		wideStrings: heapSizes&heapWideStrings != 0,
		wideGUID:    heapSizes&heapWideGUID != 0,
		wideBlob:    heapSizes&heapWideBlob != 0,
	}

	for i := 0; i < bits.Len64(valid); i++ {
		if valid&(1<<uint(i)) == 0 {
			continue
		}
		n, err := r.ReadU32()
		if err != nil {
			return nil, ErrInvalidTables
		}
		if i < numTables {
			t.counts[i] = n
		}
	}

	t.computeLayouts()

	for id := 0; id < numTables; id++ {
		if t.counts[id] == 0 {
			continue
		}
		size := t.rowSize[id] * int(t.counts[id])
		rows, err := r.ReadBytesRef(size)
		if err != nil {
			return nil, ErrTruncatedRows
		}
		t.raw[id] = rows
	}

	return t, nil
}

// computeLayouts resolves every column to a concrete offset and width for
// this image's row counts and heap sizes.
func (t *Tables) computeLayouts() {
	for id := 0; id < numTables; id++ {
		cols := schemas[id]
		layout := make([]colInfo, len(cols))
		offset := 0
		for i, c := range cols {
			w := t.columnWidth(c)
			layout[i] = colInfo{offset: offset, width: w}
			offset += w
		}
		t.layouts[id] = layout
		t.rowSize[id] = offset
	}
}

func (t *Tables) columnWidth(c column) int {
	switch c.kind {
	case colU16:
		return 2
	case colU32:
		return 4
	case colString:
		if t.wideStrings {
			return 4
		}
		return 2
	case colGUID:
		if t.wideGUID {
			return 4
		}
		return 2
	case colBlob:
		if t.wideBlob {
			return 4
		}
		return 2
	case colIndex:
		if t.counts[c.table] > 0xFFFF {
			return 4
		}
		return 2
	case colCoded:
		g := codedGroups[c.coded]
		max := uint32(0)
		for _, tid := range g.tables {
			if tid < 0 {
				continue
			}
			if t.counts[tid] > max {
				max = t.counts[tid]
			}
		}
		if max > 0xFFFF>>g.tagBits {
			return 4
		}
		return 2
	default:
		return 0
	}
}

// RowCount returns the number of rows in the given table.
func (t *Tables) RowCount(id TableID) uint32 {
	if int(id) >= numTables {
		return 0
	}
	return t.counts[id]
}

// value reads the raw value of one column in one row. RIDs are 1-based.
func (t *Tables) value(id TableID, rid uint32, col int) (uint32, error) {
	if rid == 0 || rid > t.counts[id] {
		return 0, ErrRowOutOfRange
	}
	info := t.layouts[id][col]
	base := int(rid-1)*t.rowSize[id] + info.offset
	row := t.raw[id]

	switch info.width {
	case 2:
		return uint32(row[base]) | uint32(row[base+1])<<8, nil
	case 4:
		return uint32(row[base]) | uint32(row[base+1])<<8 |
			uint32(row[base+2])<<16 | uint32(row[base+3])<<24, nil
	default:
		return 0, ErrInvalidTables
	}
}

// decodeCoded turns a raw coded-index value into a token.
func decodeCoded(kind codedKind, v uint32) (Token, error) {
	g := codedGroups[kind]
	tag := v & (1<<g.tagBits - 1)
	if int(tag) >= len(g.tables) || g.tables[tag] < 0 {
		return 0, ErrUnsupportedCode
	}
	return NewToken(TableID(g.tables[tag]), v>>g.tagBits), nil
}
